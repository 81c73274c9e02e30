package grid_world

import (
	"fmt"
	"image/color"
)

// Footprint is the four corner points of the agent's unit cell, used only for
// collision sampling.
type Footprint [4]Position

// FootprintOf returns the corners of the cell at p: top-left, top-right,
// bottom-left, bottom-right.
func FootprintOf(p Position) Footprint {
	return Footprint{
		p,
		{X: p.X + 1, Y: p.Y},
		{X: p.X, Y: p.Y + 1},
		{X: p.X + 1, Y: p.Y + 1},
	}
}

// CollisionRule decides whether a sampled pixel is a wall.
type CollisionRule int

const (
	// WHITE_EXACT: a pixel is a wall iff it is exactly (255,255,255).
	WHITE_EXACT CollisionRule = iota
	// GRAYSCALE: a pixel is a wall iff its unweighted channel mean is at least the threshold.
	GRAYSCALE
)

// DEFAULT_GRAY_THRESHOLD is the channel mean above which pixels count as track markings.
const DEFAULT_GRAY_THRESHOLD = 110

func (rule CollisionRule) String() string {
	switch rule {
	case WHITE_EXACT:
		return "white"
	case GRAYSCALE:
		return "grayscale"
	}
	return fmt.Sprintf("CollisionRule(%d)", int(rule))
}

// IsWall applies the rule to a single pixel. Alpha is ignored.
func (rule CollisionRule) IsWall(c color.RGBA, threshold float64) bool {
	switch rule {
	case WHITE_EXACT:
		return c.R == 255 && c.G == 255 && c.B == 255
	case GRAYSCALE:
		return (float64(c.R)+float64(c.G)+float64(c.B))/3 >= threshold
	}
	return false
}

// BoundsPolicy defines how samples outside the map are treated.
type BoundsPolicy int

const (
	// COLLIDE treats any out-of-map sample as a wall.
	COLLIDE BoundsPolicy = iota
	// CLAMP samples the nearest in-map pixel instead.
	CLAMP
)

func (bp BoundsPolicy) String() string {
	switch bp {
	case COLLIDE:
		return "collide"
	case CLAMP:
		return "clamp"
	}
	return fmt.Sprintf("BoundsPolicy(%d)", int(bp))
}

// collides samples the map at each corner of fp, scaled to pixels by the cell
// size, and stops at the first wall.
func (gw *GridWorld) collides(fp Footprint) bool {
	for _, corner := range fp {
		if gw.isWall(corner.X*gw.cellSize, corner.Y*gw.cellSize) {
			return true
		}
	}
	return false
}

func (gw *GridWorld) isWall(px, py int) bool {
	if gw.bounds == CLAMP {
		width, height := gw.cmap.Bounds()
		px = clamp(px, 0, width-1)
		py = clamp(py, 0, height-1)
	}

	c, ok := gw.cmap.SampleColor(px, py)
	if !ok {
		return true
	}
	return gw.variant.Collision.IsWall(c, gw.variant.GrayThreshold)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
