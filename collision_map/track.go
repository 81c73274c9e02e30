package collision_map

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
)

// Track cell types
const (
	WALL   = 'W'
	TRACK  = 'o'
	START  = '-'
	FINISH = '+'
)

// Cell colors used when rasterising an ascii track. Walls are pure white so
// that both the exact-white and the grayscale collision rules treat them as
// walls; every drivable cell is dark.
var (
	WallColor   = color.RGBA{255, 255, 255, 255}
	TrackColor  = color.RGBA{70, 70, 70, 255}
	StartColor  = color.RGBA{40, 40, 120, 255}
	FinishColor = color.RGBA{120, 40, 40, 255}
)

// The classical track and a smaller debug track for development. Row 0 is the
// top of the map, matching image coordinates.
var (
	DebugTrack []string = []string{
		"WWWWWWWW",
		"Wooooo+W",
		"Wooooo+W",
		"WooWWWWW",
		"WooWWWWW",
		"WooWWWWW",
		"WooWWWWW",
		"WooWWWWW",
		"W--WWWWW",
		"WWWWWWWW",
	}

	FullTrack []string = []string{
		"WWWWWWWWWWWWWWWWWW",
		"WWWWooooooooooooo+",
		"WWWoooooooooooooo+",
		"WWWoooooooooooooo+",
		"WWooooooooooooooo+",
		"Woooooooooooooooo+",
		"Woooooooooooooooo+",
		"WooooooooooWWWWWWW",
		"WoooooooooWWWWWWWW",
		"WoooooooooWWWWWWWW",
		"WoooooooooWWWWWWWW",
		"WoooooooooWWWWWWWW",
		"WoooooooooWWWWWWWW",
		"WoooooooooWWWWWWWW",
		"WoooooooooWWWWWWWW",
		"WWooooooooWWWWWWWW",
		"WWooooooooWWWWWWWW",
		"WWooooooooWWWWWWWW",
		"WWooooooooWWWWWWWW",
		"WWooooooooWWWWWWWW",
		"WWooooooooWWWWWWWW",
		"WWooooooooWWWWWWWW",
		"WWooooooooWWWWWWWW",
		"WWWoooooooWWWWWWWW",
		"WWWoooooooWWWWWWWW",
		"WWWoooooooWWWWWWWW",
		"WWWoooooooWWWWWWWW",
		"WWWoooooooWWWWWWWW",
		"WWWoooooooWWWWWWWW",
		"WWWoooooooWWWWWWWW",
		"WWWWooooooWWWWWWWW",
		"WWWWooooooWWWWWWWW",
		"WWWW------WWWWWWWW",
	}
)

// FromTrack rasterises an ascii track into a map where every track character
// becomes a cellSize x cellSize block of its cell color. All rows must have the
// same width; unknown characters are an error.
func FromTrack(track []string, cellSize int) (*ImageMap, error) {
	if len(track) == 0 || len(track[0]) == 0 {
		return nil, fmt.Errorf("%w: empty track", ErrResourceLoad)
	}
	if cellSize <= 0 {
		return nil, fmt.Errorf("%w: cell size %d", ErrResourceLoad, cellSize)
	}

	width := len(track[0])
	img := image.NewRGBA(image.Rect(0, 0, width*cellSize, len(track)*cellSize))
	for y, row := range track {
		if len(row) != width {
			return nil, fmt.Errorf("%w: row %d has width %d, want %d", ErrResourceLoad, y, len(row), width)
		}
		for x, cellType := range row {
			fill, ok := cellColor(cellType)
			if !ok {
				return nil, fmt.Errorf("%w: unknown cell type %q at (%d,%d)", ErrResourceLoad, cellType, x, y)
			}
			rect := image.Rect(x*cellSize, y*cellSize, (x+1)*cellSize, (y+1)*cellSize)
			draw.Draw(img, rect, &image.Uniform{C: fill}, image.Point{}, draw.Src)
		}
	}
	return &ImageMap{img: img}, nil
}

// Locate returns the grid coordinates of every cell of the given type.
func Locate(track []string, cellType rune) (cells []image.Point) {
	for y, row := range track {
		for x, c := range row {
			if c == cellType {
				cells = append(cells, image.Pt(x, y))
			}
		}
	}
	return
}

func cellColor(cellType rune) (fill color.RGBA, ok bool) {
	ok = true
	switch cellType {
	case WALL:
		fill = WallColor
	case TRACK:
		fill = TrackColor
	case START:
		fill = StartColor
	case FINISH:
		fill = FinishColor
	default:
		ok = false
	}
	return
}
