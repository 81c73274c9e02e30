// render draws environment frames: the track background with the target and
// the agent painted over it as filled rectangles. It holds no simulation state.
package render

import (
	"image"
	"image/color"
	"image/draw"
	"time"

	channerics "github.com/niceyeti/channerics/channels"
)

var (
	TargetColor = color.RGBA{255, 0, 0, 255}
	AgentColor  = color.RGBA{0, 0, 255, 255}
)

// DEFAULT_FPS is the human render rate.
const DEFAULT_FPS = 4

// Canvas draws frames over a fixed background. The background is copied
// per frame and never modified.
type Canvas struct {
	background *image.RGBA
}

func NewCanvas(background *image.RGBA) *Canvas {
	return &Canvas{background: background}
}

// Draw returns a new frame with the target drawn first and the agent over it.
func (c *Canvas) Draw(target, agent image.Rectangle) *image.RGBA {
	frame := image.NewRGBA(c.background.Bounds())
	copy(frame.Pix, c.background.Pix)
	draw.Draw(frame, target.Intersect(frame.Bounds()), &image.Uniform{C: TargetColor}, image.Point{}, draw.Src)
	draw.Draw(frame, agent.Intersect(frame.Bounds()), &image.Uniform{C: AgentColor}, image.Point{}, draw.Src)
	return frame
}

// RGBArray flattens a frame to a row-major height x width x 3 byte buffer,
// dropping alpha.
func RGBArray(frame *image.RGBA) []uint8 {
	b := frame.Bounds()
	out := make([]uint8, 0, b.Dx()*b.Dy()*3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := frame.RGBAAt(x, y)
			out = append(out, c.R, c.G, c.B)
		}
	}
	return out
}

// Presenter receives frames in human render mode. Present must not block for
// long, since it is called synchronously from the environment.
type Presenter interface {
	Present(frame *image.RGBA)
}

// PresenterFunc adapts a func to a Presenter.
type PresenterFunc func(*image.RGBA)

func (fn PresenterFunc) Present(frame *image.RGBA) { fn(frame) }

// Pacer throttles callers to a fixed frame rate.
type Pacer struct {
	done  chan struct{}
	ticks <-chan time.Time
}

func NewPacer(fps int) *Pacer {
	done := make(chan struct{})
	return &Pacer{
		done:  done,
		ticks: channerics.NewTicker(done, time.Second/time.Duration(fps)),
	}
}

// Wait blocks until the next frame is due, or returns immediately once stopped.
func (p *Pacer) Wait() {
	select {
	case <-p.ticks:
	case <-p.done:
	}
}

// Stop releases the pacer's ticker. It must be called once.
func (p *Pacer) Stop() {
	close(p.done)
}
