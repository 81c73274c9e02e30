package track_views

import (
	"fmt"
	"html/template"

	"trackworld/server/fastview"

	channerics "github.com/niceyeti/channerics/channels"
)

// POSITIONS_CELL_PX is the displayed size of a grid cell.
const POSITIONS_CELL_PX = 12

// Positions shows the track's drivable cells, where the latest episode left
// the agent relative to the target, and that episode's stats.
type Positions struct {
	id      string
	updates <-chan []fastview.EleUpdate
}

func NewPositions(
	done <-chan struct{},
	models <-chan TrackModel,
) *Positions {
	pv := &Positions{id: "positions"}
	pv.updates = channerics.Convert(done, models, pv.onUpdate)
	return pv
}

func (pv *Positions) Updates() <-chan []fastview.EleUpdate {
	return pv.updates
}

func (pv *Positions) onUpdate(model TrackModel) []fastview.EleUpdate {
	return []fastview.EleUpdate{
		markerUpdate("agent-marker", model.Agent.X, model.Agent.Y),
		markerUpdate("target-marker", model.Target.X, model.Target.Y),
		fastview.SetText("episode-count", fmt.Sprint(model.EpisodeCount)),
		fastview.SetText("episode-steps", fmt.Sprint(model.Steps)),
		fastview.SetText("episode-return", model.Return),
		fastview.SetText("episode-outcome", model.Outcome),
	}
}

func markerUpdate(id string, x, y int) fastview.EleUpdate {
	return fastview.EleUpdate{
		EleId: id,
		Ops: []fastview.Op{
			{Key: "x", Value: fmt.Sprint(x * POSITIONS_CELL_PX)},
			{Key: "y", Value: fmt.Sprint(y * POSITIONS_CELL_PX)},
		},
	}
}

// Parse adds the positions svg and the stats table to t.
func (pv *Positions) Parse(t *template.Template) (name string, err error) {
	name = pv.id
	_, err = t.Parse(
		`{{ define "` + name + `" }}
		<div id="` + pv.id + `-container" style="padding:20px; display:inline-block; vertical-align:top;">
			{{ $cell_px := ` + fmt.Sprint(POSITIONS_CELL_PX) + ` }}
			<table style="font-family: monospace; margin-bottom: 10px;">
				<tr><td>episodes</td><td id="episode-count">{{ .EpisodeCount }}</td></tr>
				<tr><td>steps</td><td id="episode-steps">{{ .Steps }}</td></tr>
				<tr><td>return</td><td id="episode-return">{{ .Return }}</td></tr>
				<tr><td>outcome</td><td id="episode-outcome">{{ .Outcome }}</td></tr>
			</table>
			<svg id="` + pv.id + `" xmlns="http://www.w3.org/2000/svg"
				width="{{ mult .Width $cell_px }}px"
				height="{{ mult .Height $cell_px }}px"
				style="shape-rendering: crispEdges;">
				{{ range $col := .Cells }}
					{{ range $cell := $col }}
						{{ if not $cell.Blocked }}
						<rect x="{{ mult $cell.X $cell_px }}" y="{{ mult $cell.Y $cell_px }}"
							width="{{ $cell_px }}" height="{{ $cell_px }}" fill="rgb(70,70,70)"/>
						{{ end }}
					{{ end }}
				{{ end }}
				<rect id="target-marker"
					x="{{ mult .Target.X $cell_px }}" y="{{ mult .Target.Y $cell_px }}"
					width="{{ $cell_px }}" height="{{ $cell_px }}" fill="red"/>
				<rect id="agent-marker"
					x="{{ mult .Agent.X $cell_px }}" y="{{ mult .Agent.Y $cell_px }}"
					width="{{ $cell_px }}" height="{{ $cell_px }}" fill="blue"/>
			</svg>
		</div>
		{{ end }}`)
	return
}
