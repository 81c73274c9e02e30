package track_views

import (
	"fmt"
	"html/template"

	"trackworld/server/fastview"

	channerics "github.com/niceyeti/channerics/channels"
)

// VALUES_CELL_PX is the displayed size of a grid cell.
const VALUES_CELL_PX = 24

// ValuesGrid is a heatmap of the greedy action value per cell, with an arrow
// showing the greedy action.
type ValuesGrid struct {
	id      string
	updates <-chan []fastview.EleUpdate
}

func NewValuesGrid(
	done <-chan struct{},
	models <-chan TrackModel,
) *ValuesGrid {
	vg := &ValuesGrid{id: "valuesgrid"}
	vg.updates = channerics.Convert(done, models, vg.onUpdate)
	return vg
}

func (vg *ValuesGrid) Updates() <-chan []fastview.EleUpdate {
	return vg.updates
}

// onUpdate returns the updates for every cell's fill, value and arrow.
func (vg *ValuesGrid) onUpdate(model TrackModel) (ops []fastview.EleUpdate) {
	for _, col := range model.Cells {
		for _, cell := range col {
			ops = append(ops,
				fastview.SetAttr(cellId(cell, "value-cell"), "fill", cell.Fill),
				fastview.EleUpdate{
					EleId: cellId(cell, "value-text"),
					Ops: []fastview.Op{
						{Key: fastview.TEXT_CONTENT, Value: fmt.Sprintf("%.1f", cell.Max)},
						{Key: "title", Value: fmt.Sprintf("%.4f", cell.Max)},
					},
				},
				fastview.SetAttr(
					cellId(cell, "policy-arrow"),
					"transform",
					fmt.Sprintf("rotate(%d)", cell.PolicyArrowRotation)),
			)
		}
	}
	return
}

func cellId(cell Cell, kind string) string {
	return fmt.Sprintf("%d-%d-%s", cell.X, cell.Y, kind)
}

// Parse adds the heatmap svg to t.
func (vg *ValuesGrid) Parse(t *template.Template) (name string, err error) {
	name = vg.id
	_, err = t.Parse(
		`{{ define "` + name + `" }}
		<div id="` + vg.id + `-container" style="padding:20px; display:inline-block; vertical-align:top;">
			{{ $cell_px := ` + fmt.Sprint(VALUES_CELL_PX) + ` }}
			{{ $half := div $cell_px 2 }}
			<svg id="` + vg.id + `" xmlns="http://www.w3.org/2000/svg"
				width="{{ add (mult .Width $cell_px) 1 }}px"
				height="{{ add (mult .Height $cell_px) 1 }}px"
				style="shape-rendering: crispEdges; font-size: 7px;">
				{{ range $col := .Cells }}
					{{ range $cell := $col }}
					<g>
						<rect id="{{$cell.X}}-{{$cell.Y}}-value-cell"
							x="{{ mult $cell.X $cell_px }}"
							y="{{ mult $cell.Y $cell_px }}"
							width="{{ $cell_px }}"
							height="{{ $cell_px }}"
							fill="{{ $cell.Fill }}"
							stroke="black"
							stroke-width="0.5"/>
						<text id="{{$cell.X}}-{{$cell.Y}}-value-text"
							x="{{ add (mult $cell.X $cell_px) $half }}"
							y="{{ add (mult $cell.Y $cell_px) 7 }}"
							fill="white"
							text-anchor="middle"
							>{{ printf "%.1f" $cell.Max }}</text>
						<g transform="translate({{ add (mult $cell.X $cell_px) $half }}, {{ add (mult $cell.Y $cell_px) (add $half 4) }})">
							<text id="{{$cell.X}}-{{$cell.Y}}-policy-arrow"
								fill="white"
								dominant-baseline="central" text-anchor="middle"
								transform="rotate({{ $cell.PolicyArrowRotation }})"
								>&uarr;</text>
						</g>
					</g>
					{{ end }}
				{{ end }}
			</svg>
		</div>
		{{ end }}`)
	return
}
