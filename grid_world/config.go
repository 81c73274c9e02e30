package grid_world

import (
	"fmt"
	"image"

	"trackworld/collision_map"
	"trackworld/render"
)

// RenderMode selects what Render and the human presenter do.
type RenderMode int

const (
	NONE RenderMode = iota
	HUMAN
	RGB_ARRAY
)

func (rm RenderMode) String() string {
	switch rm {
	case NONE:
		return "none"
	case HUMAN:
		return "human"
	case RGB_ARRAY:
		return "rgb_array"
	}
	return fmt.Sprintf("RenderMode(%d)", int(rm))
}

func parseRenderMode(s string) (RenderMode, error) {
	switch s {
	case "", "none":
		return NONE, nil
	case "human":
		return HUMAN, nil
	case "rgb_array":
		return RGB_ARRAY, nil
	}
	return NONE, fmt.Errorf("%w: unknown render mode %q", ErrInvalidConfig, s)
}

func parseBounds(s string) (BoundsPolicy, error) {
	switch s {
	case "", "collide":
		return COLLIDE, nil
	case "clamp":
		return CLAMP, nil
	}
	return COLLIDE, fmt.Errorf("%w: unknown bounds policy %q", ErrInvalidConfig, s)
}

// Track describes a map asset and where the agent and target sit on it.
// Image tracks are anchored in pixels; ascii tracks are anchored in cells
// since their pixel size follows the cell size.
type Track struct {
	Name    string
	MapPath string
	// Width and Height are the expected pixel extents of MapPath.
	Width, Height         int
	CellSize              int
	StartPx, TargetPx     image.Point
	Ascii                 []string
	StartCell, TargetCell Position
	Variant               string
}

// Track names.
const (
	STRAIGHT = "straight"
	TURNS    = "turns"
	DEBUG    = "debug"
)

var tracks = map[string]Track{
	STRAIGHT: {
		Name:     STRAIGHT,
		MapPath:  "./assets/straat_padded.png",
		Width:    401,
		Height:   1172,
		CellSize: 30,
		StartPx:  image.Pt(90, 990),
		TargetPx: image.Pt(240, 120),
		Variant:  SPARSE,
	},
	TURNS: {
		Name:     TURNS,
		MapPath:  "./assets/track_turns.png",
		Width:    1000,
		Height:   600,
		CellSize: 20,
		StartPx:  image.Pt(60, 500),
		TargetPx: image.Pt(900, 80),
		Variant:  SHAPED,
	},
	DEBUG: {
		Name:       DEBUG,
		Ascii:      collision_map.DebugTrack,
		CellSize:   10,
		StartCell:  Position{X: 1, Y: 7},
		TargetCell: Position{X: 5, Y: 1},
		Variant:    SHAPED,
	},
}

// TrackByName returns a built-in track.
func TrackByName(name string) (Track, error) {
	if track, ok := tracks[name]; ok {
		return track, nil
	}
	return Track{}, fmt.Errorf("%w: unknown track %q", ErrInvalidConfig, name)
}

// RewardOverrides replaces individual fields of a variant's reward scheme.
type RewardOverrides struct {
	Terminal  *float64 `yaml:"terminal"`
	Step      *float64 `yaml:"step"`
	Collision *float64 `yaml:"collision"`
}

// EnvConfig is the environment section of the app config. Zero fields fall
// back to the track's defaults. Keys are lowercase since viper folds the case
// of everything it reads.
type EnvConfig struct {
	Track           string          `yaml:"track"`
	MapPath         string          `yaml:"mappath"`
	Variant         string          `yaml:"variant"`
	CellSize        int             `yaml:"cellsize"`
	Bounds          string          `yaml:"bounds"`
	GrayThreshold   float64         `yaml:"graythreshold"`
	Rewards         RewardOverrides `yaml:"rewards"`
	MaxEpisodeSteps int             `yaml:"maxepisodesteps"`
	RenderMode      string          `yaml:"rendermode"`
	RenderFPS       int             `yaml:"renderfps"`
}

// DEFAULT_MAX_EPISODE_STEPS bounds episodes when the config does not.
const DEFAULT_MAX_EPISODE_STEPS = 300

func DefaultEnvConfig() EnvConfig {
	return EnvConfig{
		Track:           STRAIGHT,
		MaxEpisodeSteps: DEFAULT_MAX_EPISODE_STEPS,
		RenderFPS:       render.DEFAULT_FPS,
	}
}

// World is a resolved config plus its decoded map. The map is loaded once and
// shared by every environment built from the World.
type World struct {
	Track    Track
	Map      *collision_map.ImageMap
	CellSize int
	Variant  Variant
	Bounds   BoundsPolicy

	startPx, targetPx image.Point
	maxSteps          int
	renderMode        RenderMode
	renderFPS         int
}

// Load resolves the config against its track and decodes the map.
func (cfg EnvConfig) Load() (*World, error) {
	trackName := cfg.Track
	if trackName == "" {
		trackName = STRAIGHT
	}
	track, err := TrackByName(trackName)
	if err != nil {
		return nil, err
	}

	w := &World{
		Track:     track,
		CellSize:  track.CellSize,
		maxSteps:  cfg.MaxEpisodeSteps,
		renderFPS: cfg.RenderFPS,
	}
	if cfg.CellSize != 0 {
		w.CellSize = cfg.CellSize
	}
	if w.CellSize <= 0 {
		return nil, fmt.Errorf("%w: cell size must be positive, got %d", ErrInvalidConfig, w.CellSize)
	}
	if w.maxSteps == 0 {
		w.maxSteps = DEFAULT_MAX_EPISODE_STEPS
	}
	if w.renderFPS <= 0 {
		w.renderFPS = render.DEFAULT_FPS
	}
	if w.Bounds, err = parseBounds(cfg.Bounds); err != nil {
		return nil, err
	}
	if w.renderMode, err = parseRenderMode(cfg.RenderMode); err != nil {
		return nil, err
	}
	if w.Variant, err = cfg.variant(track); err != nil {
		return nil, err
	}
	if err = w.Variant.validate(); err != nil {
		return nil, err
	}

	if track.Ascii != nil {
		if w.Map, err = collision_map.FromTrack(track.Ascii, w.CellSize); err != nil {
			return nil, err
		}
		w.startPx = image.Pt(track.StartCell.X*w.CellSize, track.StartCell.Y*w.CellSize)
		w.targetPx = image.Pt(track.TargetCell.X*w.CellSize, track.TargetCell.Y*w.CellSize)
		return w, nil
	}

	path := track.MapPath
	if cfg.MapPath != "" {
		path = cfg.MapPath
	}
	if w.Map, err = collision_map.Load(path); err != nil {
		return nil, err
	}
	if width, height := w.Map.Bounds(); width != track.Width || height != track.Height {
		return nil, fmt.Errorf("%w: %s is %dx%d, track %q expects %dx%d",
			ErrResourceLoad, path, width, height, track.Name, track.Width, track.Height)
	}
	w.startPx, w.targetPx = track.StartPx, track.TargetPx
	return w, nil
}

func (cfg EnvConfig) variant(track Track) (v Variant, err error) {
	name := cfg.Variant
	if name == "" {
		name = track.Variant
	}
	if v, err = VariantByName(name); err != nil {
		return
	}
	if cfg.GrayThreshold != 0 {
		v.GrayThreshold = cfg.GrayThreshold
	}
	if cfg.Rewards.Terminal != nil {
		v.Rewards.Terminal = *cfg.Rewards.Terminal
	}
	if cfg.Rewards.Step != nil {
		v.Rewards.Step = *cfg.Rewards.Step
	}
	if cfg.Rewards.Collision != nil {
		v.Rewards.Collision = *cfg.Rewards.Collision
	}
	return
}

// NewGridWorld builds a bare environment over the shared map. In human render
// mode frames go to presenter, which may be nil.
func (w *World) NewGridWorld(presenter render.Presenter) (*GridWorld, error) {
	var opts []Option
	if w.renderMode != NONE {
		opts = append(opts, WithRendering(
			w.renderMode,
			render.NewCanvas(w.Map.Image()),
			presenter,
			w.renderFPS))
	}
	return New(w.Map, w.CellSize, w.startPx, w.targetPx, w.Variant, w.Bounds, opts...)
}

// NewEnv builds an environment wrapped in the configured episode time limit.
func (w *World) NewEnv(presenter render.Presenter) (*TimeLimit, error) {
	gw, err := w.NewGridWorld(presenter)
	if err != nil {
		return nil, err
	}
	return NewTimeLimit(gw, w.maxSteps), nil
}

// GridSize returns the map extents in cells.
func (w *World) GridSize() (width, height int) {
	pw, ph := w.Map.Bounds()
	return pw / w.CellSize, ph / w.CellSize
}

// RenderMode returns the configured render mode.
func (w *World) RenderMode() RenderMode {
	return w.renderMode
}

// MaxEpisodeSteps returns the configured episode time limit.
func (w *World) MaxEpisodeSteps() int {
	return w.maxSteps
}

// Headless returns a copy of the world that builds environments without
// rendering, sharing the same map.
func (w *World) Headless() *World {
	cp := *w
	cp.renderMode = NONE
	return &cp
}

// Frame draws a frame of the map with the agent and target at the given cells,
// the same way an rgb_array environment renders.
func (w *World) Frame(agent, target Position) *image.RGBA {
	return render.NewCanvas(w.Map.Image()).Draw(cellRect(target, w.CellSize), cellRect(agent, w.CellSize))
}

// StartAndTarget returns the cells the agent and target occupy after Reset.
func (w *World) StartAndTarget() (start, target Position) {
	start = Position{X: w.startPx.X / w.CellSize, Y: w.startPx.Y / w.CellSize}
	target = Position{X: w.targetPx.X / w.CellSize, Y: w.targetPx.Y / w.CellSize}
	return
}
