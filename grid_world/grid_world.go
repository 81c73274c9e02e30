// grid_world implements the track navigation environment: an agent moves one
// cell at a time over a grid laid on a background image, is blocked by wall
// pixels, and is rewarded for reaching a fixed target cell.
package grid_world

import (
	"errors"
	"fmt"
	"image"
	"strconv"
	"strings"

	"trackworld/collision_map"
	"trackworld/render"
)

// Position is a location in grid cells, not pixels.
type Position struct {
	X, Y int
}

func (p Position) Add(d Direction) Position {
	return Position{X: p.X + d.X, Y: p.Y + d.Y}
}

func (p Position) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}

// Direction is a unit displacement in grid cells.
type Direction struct {
	X, Y int
}

// Action is a discrete agent action in {0,1,2,3}.
type Action int

const (
	RIGHT Action = iota
	UP
	LEFT
	DOWN
	NUM_ACTIONS = 4
)

// Note that UP is +y, which is toward larger pixel rows of the map.
var actionToDirection = [NUM_ACTIONS]Direction{
	RIGHT: {X: 1, Y: 0},
	UP:    {X: 0, Y: 1},
	LEFT:  {X: -1, Y: 0},
	DOWN:  {X: 0, Y: -1},
}

// Direction returns the unit vector for a valid action.
func (a Action) Direction() (Direction, error) {
	if !a.Valid() {
		return Direction{}, fmt.Errorf("%w: %d", ErrInvalidAction, int(a))
	}
	return actionToDirection[a], nil
}

func (a Action) Valid() bool {
	return a >= 0 && a < NUM_ACTIONS
}

var actionNames = [NUM_ACTIONS]string{
	RIGHT: "right",
	UP:    "up",
	LEFT:  "left",
	DOWN:  "down",
}

func (a Action) String() string {
	if !a.Valid() {
		return fmt.Sprintf("Action(%d)", int(a))
	}
	return actionNames[a]
}

// ParseAction accepts an action name or its number.
func ParseAction(s string) (Action, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for a, name := range actionNames {
		if s == name {
			return Action(a), nil
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil || !Action(n).Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAction, s)
	}
	return Action(n), nil
}

var (
	// ErrInvalidAction is returned by Step for actions outside {0,1,2,3}.
	ErrInvalidAction = errors.New("invalid action")
	// ErrInvalidConfig is returned when an environment config cannot describe a valid world.
	ErrInvalidConfig = errors.New("invalid environment config")
	// ErrResourceLoad aliases the map loading error so callers need only this package.
	ErrResourceLoad = collision_map.ErrResourceLoad
)

// Observation is what the agent sees after reset and after every step.
type Observation struct {
	Agent  Position `json:"agent"`
	Target Position `json:"target"`
}

// Info carries diagnostics that are not part of the observation.
type Info struct {
	// Distance between agent and target per the variant's metric.
	Distance float64 `json:"distance"`
	// Collided reports that the attempted move was rejected by a wall.
	Collided bool `json:"collided"`
	// Steps counts the valid steps taken since the last Reset.
	Steps int `json:"steps"`
}

// StepResult is the outcome of a single Step.
type StepResult struct {
	Observation Observation
	Reward      float64
	Terminated  bool
	// Truncated is always false from GridWorld; see TimeLimit.
	Truncated bool
	Info      Info
}

// Environment is the interface consumed by training loops.
type Environment interface {
	Reset() (Observation, Info)
	Step(action Action) (StepResult, error)
	Render() (*image.RGBA, error)
	Close() error
}

// GridWorld is a single environment instance. Its Map is read-only and may be
// shared with other instances; everything else is owned by the instance, which
// must not be used concurrently.
type GridWorld struct {
	cmap     collision_map.Map
	variant  Variant
	bounds   BoundsPolicy
	cellSize int
	// map extents in cells
	widthCells, heightCells int
	start, goal             Position

	agent  Position
	target Position
	steps  int

	renderMode RenderMode
	canvas     *render.Canvas
	presenter  render.Presenter
	pacer      *render.Pacer
}

// Option configures optional collaborators of a GridWorld.
type Option func(*GridWorld)

// WithRendering sets the render mode, the canvas frames are drawn on, and for
// HUMAN mode the presenter that receives frames at fps frames per second.
func WithRendering(mode RenderMode, canvas *render.Canvas, presenter render.Presenter, fps int) Option {
	return func(gw *GridWorld) {
		gw.renderMode = mode
		gw.canvas = canvas
		gw.presenter = presenter
		if mode == HUMAN && fps > 0 {
			gw.pacer = render.NewPacer(fps)
		}
	}
}

// New builds an environment over cmap. The start and target pixel anchors are
// converted to cells by integer division with the cell size.
func New(
	cmap collision_map.Map,
	cellSize int,
	startPx, targetPx image.Point,
	variant Variant,
	bounds BoundsPolicy,
	opts ...Option,
) (*GridWorld, error) {
	if cmap == nil {
		return nil, fmt.Errorf("%w: nil collision map", ErrInvalidConfig)
	}
	if cellSize <= 0 {
		return nil, fmt.Errorf("%w: cell size must be positive, got %d", ErrInvalidConfig, cellSize)
	}
	if err := variant.validate(); err != nil {
		return nil, err
	}

	width, height := cmap.Bounds()
	gw := &GridWorld{
		cmap:        cmap,
		variant:     variant,
		bounds:      bounds,
		cellSize:    cellSize,
		widthCells:  width / cellSize,
		heightCells: height / cellSize,
		start:       Position{X: startPx.X / cellSize, Y: startPx.Y / cellSize},
		goal:        Position{X: targetPx.X / cellSize, Y: targetPx.Y / cellSize},
	}
	for _, p := range []Position{gw.start, gw.goal} {
		if !gw.inGrid(p) {
			return nil, fmt.Errorf("%w: %v lies outside the %dx%d cell grid", ErrInvalidConfig, p, gw.widthCells, gw.heightCells)
		}
	}
	for _, opt := range opts {
		opt(gw)
	}
	if gw.renderMode != NONE && gw.canvas == nil {
		return nil, fmt.Errorf("%w: render mode %s requires a canvas", ErrInvalidConfig, gw.renderMode)
	}

	gw.agent, gw.target = gw.start, gw.goal
	return gw, nil
}

// Reset puts the agent and target back on their configured cells. It is
// deterministic: consecutive calls yield identical results.
func (gw *GridWorld) Reset() (Observation, Info) {
	gw.agent = gw.start
	gw.target = gw.goal
	gw.steps = 0

	if gw.renderMode == HUMAN {
		gw.present()
	}
	return gw.observe(), gw.info(false)
}

// Step moves the agent one cell in the action's direction unless the agent's
// footprint at the new cell would sample a wall pixel, in which case the agent
// stays put and the variant decides the reward.
func (gw *GridWorld) Step(action Action) (result StepResult, err error) {
	var dir Direction
	if dir, err = action.Direction(); err != nil {
		return
	}
	gw.steps++

	prevDist := gw.variant.Metric.Distance(gw.agent, gw.target)
	candidate := gw.agent.Add(dir)

	if gw.collides(FootprintOf(candidate)) {
		result = StepResult{
			Observation: gw.observe(),
			Reward:      gw.variant.Rewards.Collision,
			Info:        gw.info(true),
		}
		if gw.variant.CollisionEndsStep {
			gw.afterStep()
			return
		}
		// Otherwise the rejected move is treated as an ordinary transition from
		// the unchanged position, which can only be terminal if already there.
		if result.Terminated = gw.agent == gw.target; result.Terminated {
			result.Reward = gw.variant.Rewards.Terminal
		}
		gw.afterStep()
		return
	}

	gw.agent = candidate
	result = StepResult{
		Observation: gw.observe(),
		Terminated:  gw.agent == gw.target,
		Info:        gw.info(false),
	}
	switch {
	case result.Terminated:
		result.Reward = gw.variant.Rewards.Terminal
	case gw.variant.Rewards.Shaped:
		result.Reward = Shaping(prevDist, result.Info.Distance)
	default:
		result.Reward = gw.variant.Rewards.Step
	}

	gw.afterStep()
	return
}

// Render returns the current frame in RGB_ARRAY mode, and nil otherwise.
func (gw *GridWorld) Render() (*image.RGBA, error) {
	if gw.renderMode != RGB_ARRAY {
		return nil, nil
	}
	return gw.frame(), nil
}

// Close releases the render pacer, if any.
func (gw *GridWorld) Close() error {
	if gw.pacer != nil {
		gw.pacer.Stop()
		gw.pacer = nil
	}
	return nil
}

// Agent returns the agent's current cell.
func (gw *GridWorld) Agent() Position { return gw.agent }

// Target returns the target cell.
func (gw *GridWorld) Target() Position { return gw.target }

// GridSize returns the map extents in cells.
func (gw *GridWorld) GridSize() (width, height int) { return gw.widthCells, gw.heightCells }

// CellSize returns the number of pixels per grid cell.
func (gw *GridWorld) CellSize() int { return gw.cellSize }

// Variant returns the reward/collision variant in use.
func (gw *GridWorld) Variant() Variant { return gw.variant }

// Blocked reports whether an agent placed at p would collide, without moving it.
func (gw *GridWorld) Blocked(p Position) bool {
	return gw.collides(FootprintOf(p))
}

func (gw *GridWorld) afterStep() {
	if gw.renderMode == HUMAN {
		gw.present()
	}
}

func (gw *GridWorld) observe() Observation {
	return Observation{Agent: gw.agent, Target: gw.target}
}

func (gw *GridWorld) info(collided bool) Info {
	return Info{
		Distance: gw.variant.Metric.Distance(gw.agent, gw.target),
		Collided: collided,
		Steps:    gw.steps,
	}
}

func (gw *GridWorld) inGrid(p Position) bool {
	return p.X >= 0 && p.X < gw.widthCells && p.Y >= 0 && p.Y < gw.heightCells
}

// frame draws the target and then the agent as cell-sized rectangles.
func (gw *GridWorld) frame() *image.RGBA {
	return gw.canvas.Draw(cellRect(gw.target, gw.cellSize), cellRect(gw.agent, gw.cellSize))
}

func cellRect(p Position, cellSize int) image.Rectangle {
	origin := image.Pt(p.X*cellSize, p.Y*cellSize)
	return image.Rectangle{Min: origin, Max: origin.Add(image.Pt(cellSize, cellSize))}
}

func (gw *GridWorld) present() {
	if gw.presenter != nil {
		gw.presenter.Present(gw.frame())
	}
	if gw.pacer != nil {
		gw.pacer.Wait()
	}
}
