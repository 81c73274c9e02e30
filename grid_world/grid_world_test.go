package grid_world

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"trackworld/collision_map"
	"trackworld/render"

	. "github.com/smartystreets/goconvey/convey"
)

const testCellSize = 10

// openTrack is a 10x10 cell track with no walls at all.
var openTrack = []string{
	"oooooooooo",
	"oooooooooo",
	"oooooooooo",
	"oooooooooo",
	"oooooooooo",
	"oooooooooo",
	"oooooooooo",
	"oooooooooo",
	"oooooooooo",
	"oooooooooo",
}

func newTrackWorld(track []string, start, target Position, variant Variant, bounds BoundsPolicy, opts ...Option) *GridWorld {
	cmap, err := collision_map.FromTrack(track, testCellSize)
	So(err, ShouldBeNil)
	gw, err := New(
		cmap,
		testCellSize,
		image.Pt(start.X*testCellSize, start.Y*testCellSize),
		image.Pt(target.X*testCellSize, target.Y*testCellSize),
		variant,
		bounds,
		opts...)
	So(err, ShouldBeNil)
	return gw
}

// pixelMap is a map whose color is computed per pixel.
type pixelMap struct {
	width, height int
	at            func(x, y int) color.RGBA
}

func (pm *pixelMap) Bounds() (int, int) { return pm.width, pm.height }

func (pm *pixelMap) SampleColor(x, y int) (color.RGBA, bool) {
	if x < 0 || y < 0 || x >= pm.width || y >= pm.height {
		return color.RGBA{}, false
	}
	return pm.at(x, y), true
}

// singlePixelMap is dark everywhere except at (px, py), which is c.
func singlePixelMap(px, py int, c color.RGBA) *pixelMap {
	return &pixelMap{
		width:  100,
		height: 100,
		at: func(x, y int) color.RGBA {
			if x == px && y == py {
				return c
			}
			return color.RGBA{0, 0, 0, 255}
		},
	}
}

func TestStep(t *testing.T) {
	Convey("Given an environment without walls", t, func() {
		for _, variant := range []Variant{SparseVariant(), ShapedVariant()} {
			gw := newTrackWorld(openTrack, Position{4, 4}, Position{8, 8}, variant, COLLIDE)

			Convey("Each action moves the agent by exactly its unit vector: "+variant.Name, func() {
				expected := map[Action]Position{
					RIGHT: {5, 4},
					UP:    {4, 5},
					LEFT:  {3, 4},
					DOWN:  {4, 3},
				}
				for action, want := range expected {
					gw.Reset()
					result, err := gw.Step(action)
					So(err, ShouldBeNil)
					So(result.Observation.Agent, ShouldResemble, want)
					So(gw.Agent(), ShouldResemble, want)
					So(result.Info.Collided, ShouldBeFalse)
					So(result.Truncated, ShouldBeFalse)
				}
			})
		}
	})

	Convey("Given invalid actions", t, func() {
		gw := newTrackWorld(openTrack, Position{4, 4}, Position{8, 8}, ShapedVariant(), COLLIDE)
		for _, action := range []Action{-1, 4, 100} {
			_, err := gw.Step(action)
			So(errors.Is(err, ErrInvalidAction), ShouldBeTrue)
			So(gw.Agent(), ShouldResemble, Position{4, 4})
		}
	})

	Convey("Given the agent one step away from the target", t, func() {
		Convey("The shaped variant pays the terminal reward on arrival", func() {
			gw := newTrackWorld(openTrack, Position{4, 4}, Position{5, 4}, ShapedVariant(), COLLIDE)
			result, err := gw.Step(RIGHT)
			So(err, ShouldBeNil)
			So(result.Terminated, ShouldBeTrue)
			So(result.Reward, ShouldEqual, 2500)
			So(result.Info.Distance, ShouldEqual, 0)
		})

		Convey("The sparse variant pays its small terminal reward on arrival", func() {
			gw := newTrackWorld(openTrack, Position{4, 4}, Position{5, 4}, SparseVariant(), COLLIDE)
			result, err := gw.Step(RIGHT)
			So(err, ShouldBeNil)
			So(result.Terminated, ShouldBeTrue)
			So(result.Reward, ShouldEqual, 1)
		})

		Convey("Moving past the target on one axis only is not terminal", func() {
			gw := newTrackWorld(openTrack, Position{4, 4}, Position{5, 4}, ShapedVariant(), COLLIDE)
			result, err := gw.Step(UP)
			So(err, ShouldBeNil)
			So(result.Terminated, ShouldBeFalse)
			So(result.Observation.Agent.X, ShouldNotEqual, result.Observation.Target.X)
		})
	})

	Convey("Given the shaped variant", t, func() {
		gw := newTrackWorld(openTrack, Position{4, 4}, Position{4, 8}, ShapedVariant(), COLLIDE)

		Convey("Moving closer is rewarded", func() {
			result, err := gw.Step(UP)
			So(err, ShouldBeNil)
			So(result.Reward, ShouldBeGreaterThan, 0)
			So(result.Reward, ShouldAlmostEqual, 1.0)
		})

		Convey("Moving away is penalised", func() {
			result, err := gw.Step(DOWN)
			So(err, ShouldBeNil)
			So(result.Reward, ShouldBeLessThan, 0)
		})

		Convey("Moving sideways is penalised by the Euclidean increase", func() {
			result, err := gw.Step(RIGHT)
			So(err, ShouldBeNil)
			So(result.Reward, ShouldBeLessThan, 0)
			So(result.Info.Distance, ShouldAlmostEqual, 4.1231056, 1e-6)
		})

		Convey("A move onto the target from the side pays the terminal reward, not the shaping", func() {
			side := newTrackWorld(openTrack, Position{5, 4}, Position{4, 4}, ShapedVariant(), COLLIDE)
			result, err := side.Step(LEFT)
			So(err, ShouldBeNil)
			So(result.Terminated, ShouldBeTrue)
			So(result.Reward, ShouldEqual, 2500)
		})
	})

	Convey("Given the sparse variant", t, func() {
		gw := newTrackWorld(openTrack, Position{4, 4}, Position{4, 8}, SparseVariant(), COLLIDE)

		Convey("Every non-terminal move costs the same whatever its direction", func() {
			for _, action := range []Action{UP, DOWN, LEFT, RIGHT} {
				result, err := gw.Step(action)
				So(err, ShouldBeNil)
				So(result.Reward, ShouldEqual, -0.1)
			}
		})

		Convey("Distance is Manhattan", func() {
			result, err := gw.Step(RIGHT)
			So(err, ShouldBeNil)
			So(result.Info.Distance, ShouldEqual, 5)
		})
	})
}

func TestShaping(t *testing.T) {
	Convey("Shaping has the sign of the distance change", t, func() {
		So(Shaping(5, 4), ShouldBeGreaterThan, 0)
		So(Shaping(4, 5), ShouldBeLessThan, 0)
		So(Shaping(3, 3), ShouldEqual, 0)
	})

	Convey("Metrics", t, func() {
		a, b := Position{1, 2}, Position{4, 6}
		So(MANHATTAN.Distance(a, b), ShouldEqual, 7)
		So(EUCLIDEAN.Distance(a, b), ShouldEqual, 5)
		So(EUCLIDEAN.Distance(a, a), ShouldEqual, 0)
	})
}

func TestCollision(t *testing.T) {
	// The agent starts at (2,2); stepping RIGHT samples the corners (3,2), (4,2),
	// (3,3) and (4,3), i.e. pixels (30,20), (40,20), (30,30) and (40,30).
	start := image.Pt(20, 20)
	target := image.Pt(80, 80)
	corners := []image.Point{{30, 20}, {40, 20}, {30, 30}, {40, 30}}

	stepOnto := func(cmap collision_map.Map, variant Variant) StepResult {
		gw, err := New(cmap, testCellSize, start, target, variant, COLLIDE)
		So(err, ShouldBeNil)
		result, err := gw.Step(RIGHT)
		So(err, ShouldBeNil)
		return result
	}

	Convey("Given the exact-white rule", t, func() {
		Convey("A pure white corner is always a collision", func() {
			for _, corner := range corners {
				result := stepOnto(singlePixelMap(corner.X, corner.Y, color.RGBA{255, 255, 255, 255}), SparseVariant())
				So(result.Info.Collided, ShouldBeTrue)
				So(result.Observation.Agent, ShouldResemble, Position{2, 2})
			}
		})

		Convey("Nearly white is not a collision", func() {
			result := stepOnto(singlePixelMap(30, 20, color.RGBA{254, 255, 255, 255}), SparseVariant())
			So(result.Info.Collided, ShouldBeFalse)
			So(result.Observation.Agent, ShouldResemble, Position{3, 2})
		})

		Convey("White pixels off the corners are ignored", func() {
			result := stepOnto(singlePixelMap(31, 21, color.RGBA{255, 255, 255, 255}), SparseVariant())
			So(result.Info.Collided, ShouldBeFalse)
		})
	})

	Convey("Given the grayscale rule", t, func() {
		Convey("A corner whose channel mean reaches the threshold is a collision", func() {
			for _, c := range []color.RGBA{
				{110, 110, 110, 255},
				{0, 150, 180, 255},
				{180, 150, 0, 255},
				{255, 255, 255, 255},
			} {
				for _, corner := range corners {
					result := stepOnto(singlePixelMap(corner.X, corner.Y, c), ShapedVariant())
					So(result.Info.Collided, ShouldBeTrue)
				}
			}
		})

		Convey("A corner darker than the threshold is never a collision", func() {
			for _, c := range []color.RGBA{
				{110, 110, 109, 255},
				{0, 0, 0, 255},
				{0, 150, 179, 255},
			} {
				for _, corner := range corners {
					result := stepOnto(singlePixelMap(corner.X, corner.Y, c), ShapedVariant())
					So(result.Info.Collided, ShouldBeFalse)
				}
			}
		})
	})

	Convey("Given a move onto a wall of the debug track", t, func() {
		start, target := Position{1, 7}, Position{5, 1}

		Convey("The shaped variant keeps the agent in place and pays the collision penalty", func() {
			gw := newTrackWorld(collision_map.DebugTrack, start, target, ShapedVariant(), COLLIDE)
			result, err := gw.Step(LEFT)
			So(err, ShouldBeNil)
			So(gw.Agent(), ShouldResemble, start)
			So(result.Observation.Agent, ShouldResemble, start)
			So(result.Reward, ShouldEqual, -500)
			So(result.Terminated, ShouldBeFalse)
			So(result.Info.Collided, ShouldBeTrue)
		})

		Convey("The sparse variant keeps the agent in place and pays the step cost", func() {
			gw := newTrackWorld(collision_map.DebugTrack, start, target, SparseVariant(), COLLIDE)
			result, err := gw.Step(LEFT)
			So(err, ShouldBeNil)
			So(gw.Agent(), ShouldResemble, start)
			So(result.Reward, ShouldEqual, -0.1)
			So(result.Terminated, ShouldBeFalse)
			So(result.Info.Collided, ShouldBeTrue)
		})

		Convey("The sparse collision reward is configurable", func() {
			variant := SparseVariant()
			variant.Rewards.Collision = -1
			gw := newTrackWorld(collision_map.DebugTrack, start, target, variant, COLLIDE)
			result, err := gw.Step(LEFT)
			So(err, ShouldBeNil)
			So(result.Reward, ShouldEqual, -1)
		})

		Convey("Blocked reports walls without moving the agent", func() {
			gw := newTrackWorld(collision_map.DebugTrack, start, target, ShapedVariant(), COLLIDE)
			So(gw.Blocked(Position{0, 7}), ShouldBeTrue)
			So(gw.Blocked(Position{1, 6}), ShouldBeFalse)
			So(gw.Agent(), ShouldResemble, start)
		})
	})

	Convey("Given samples beyond the map edge", t, func() {
		track := []string{"ooo", "ooo", "ooo"}

		Convey("The collide policy treats them as walls", func() {
			gw := newTrackWorld(track, Position{1, 1}, Position{0, 0}, ShapedVariant(), COLLIDE)
			result, err := gw.Step(RIGHT)
			So(err, ShouldBeNil)
			So(result.Info.Collided, ShouldBeTrue)
			So(gw.Agent(), ShouldResemble, Position{1, 1})
		})

		Convey("The clamp policy samples the nearest edge pixel", func() {
			gw := newTrackWorld(track, Position{1, 1}, Position{0, 0}, ShapedVariant(), CLAMP)
			result, err := gw.Step(RIGHT)
			So(err, ShouldBeNil)
			So(result.Info.Collided, ShouldBeFalse)
			So(gw.Agent(), ShouldResemble, Position{2, 1})
		})

		Convey("Negative coordinates are handled the same way", func() {
			gw := newTrackWorld(track, Position{0, 0}, Position{1, 1}, ShapedVariant(), COLLIDE)
			result, err := gw.Step(LEFT)
			So(err, ShouldBeNil)
			So(result.Info.Collided, ShouldBeTrue)
		})
	})
}

func TestScenarios(t *testing.T) {
	Convey("Given the debug track and a direct collision-free path", t, func() {
		start, target := Position{1, 7}, Position{5, 1}
		path := []Action{DOWN, DOWN, DOWN, DOWN, DOWN, DOWN, RIGHT, RIGHT, RIGHT, RIGHT}
		So(len(path), ShouldEqual, int(MANHATTAN.Distance(start, target)))

		for _, variant := range []Variant{ShapedVariant(), SparseVariant()} {
			Convey("The episode terminates on the last step with the terminal reward: "+variant.Name, func() {
				gw := newTrackWorld(collision_map.DebugTrack, start, target, variant, COLLIDE)
				for i, action := range path {
					result, err := gw.Step(action)
					So(err, ShouldBeNil)
					So(result.Info.Collided, ShouldBeFalse)
					if i < len(path)-1 {
						So(result.Terminated, ShouldBeFalse)
						continue
					}
					So(result.Terminated, ShouldBeTrue)
					So(result.Reward, ShouldEqual, variant.Rewards.Terminal)
					So(result.Reward, ShouldBeGreaterThan, 0)
				}
			})
		}
	})

	Convey("Given any state", t, func() {
		gw := newTrackWorld(openTrack, Position{2, 3}, Position{7, 7}, ShapedVariant(), COLLIDE)
		for _, action := range []Action{RIGHT, RIGHT, UP} {
			_, err := gw.Step(action)
			So(err, ShouldBeNil)
		}

		Convey("Reset is idempotent", func() {
			obs1, info1 := gw.Reset()
			obs2, info2 := gw.Reset()
			So(obs1, ShouldResemble, obs2)
			So(info1, ShouldResemble, info2)
			So(obs1.Agent, ShouldResemble, Position{2, 3})
			So(obs1.Target, ShouldResemble, Position{7, 7})
			So(info1.Distance, ShouldAlmostEqual, EUCLIDEAN.Distance(Position{2, 3}, Position{7, 7}))
			So(info1.Steps, ShouldEqual, 0)
		})

		Convey("Info counts the valid steps since reset", func() {
			result, err := gw.Step(LEFT)
			So(err, ShouldBeNil)
			So(result.Info.Steps, ShouldEqual, 4)

			_, err = gw.Step(Action(9))
			So(err, ShouldNotBeNil)
			result, err = gw.Step(DOWN)
			So(err, ShouldBeNil)
			So(result.Info.Steps, ShouldEqual, 5)

			_, info := gw.Reset()
			So(info.Steps, ShouldEqual, 0)
		})
	})

	Convey("Given identical action sequences with and without rendering", t, func() {
		actions := []Action{DOWN, DOWN, LEFT, RIGHT, RIGHT, DOWN, UP, DOWN, DOWN, DOWN, RIGHT, RIGHT, RIGHT, RIGHT}
		start, target := Position{1, 7}, Position{5, 1}

		run := func(gw *GridWorld) (results []StepResult) {
			gw.Reset()
			for _, action := range actions {
				result, err := gw.Step(action)
				So(err, ShouldBeNil)
				results = append(results, result)
			}
			return
		}

		plain := newTrackWorld(collision_map.DebugTrack, start, target, ShapedVariant(), COLLIDE)

		cmap, err := collision_map.FromTrack(collision_map.DebugTrack, testCellSize)
		So(err, ShouldBeNil)
		frames := 0
		presenter := render.PresenterFunc(func(*image.RGBA) { frames++ })
		rendered := newTrackWorld(
			collision_map.DebugTrack, start, target, ShapedVariant(), COLLIDE,
			WithRendering(HUMAN, render.NewCanvas(cmap.Image()), presenter, 0))

		Convey("The trajectories are identical", func() {
			So(run(rendered), ShouldResemble, run(plain))
			So(frames, ShouldEqual, len(actions)+1)
		})
	})
}

func TestRender(t *testing.T) {
	Convey("Given an rgb_array environment", t, func() {
		cmap, err := collision_map.FromTrack(openTrack, testCellSize)
		So(err, ShouldBeNil)
		gw, err := New(cmap, testCellSize, image.Pt(20, 30), image.Pt(70, 80), ShapedVariant(), COLLIDE,
			WithRendering(RGB_ARRAY, render.NewCanvas(cmap.Image()), nil, render.DEFAULT_FPS))
		So(err, ShouldBeNil)
		gw.Reset()

		Convey("The frame shows the agent and the target over the map", func() {
			frame, err := gw.Render()
			So(err, ShouldBeNil)
			So(frame.Bounds(), ShouldResemble, image.Rect(0, 0, 100, 100))
			So(frame.RGBAAt(25, 35), ShouldResemble, render.AgentColor)
			So(frame.RGBAAt(75, 85), ShouldResemble, render.TargetColor)
			So(frame.RGBAAt(50, 50), ShouldResemble, collision_map.TrackColor)

			_, err = gw.Step(RIGHT)
			So(err, ShouldBeNil)
			frame, _ = gw.Render()
			So(frame.RGBAAt(35, 35), ShouldResemble, render.AgentColor)
			So(frame.RGBAAt(25, 35), ShouldResemble, collision_map.TrackColor)
		})

		Convey("Rendering does not touch the collision map", func() {
			_, _ = gw.Render()
			c, _ := cmap.SampleColor(25, 35)
			So(c, ShouldResemble, collision_map.TrackColor)
		})
	})

	Convey("Given an environment without rendering", t, func() {
		gw := newTrackWorld(openTrack, Position{1, 1}, Position{2, 2}, ShapedVariant(), COLLIDE)
		frame, err := gw.Render()
		So(err, ShouldBeNil)
		So(frame, ShouldBeNil)
		So(gw.Close(), ShouldBeNil)
	})

	Convey("Rendering without a canvas is a config error", t, func() {
		cmap, err := collision_map.FromTrack(openTrack, testCellSize)
		So(err, ShouldBeNil)
		_, err = New(cmap, testCellSize, image.Pt(0, 0), image.Pt(10, 10), ShapedVariant(), COLLIDE,
			WithRendering(RGB_ARRAY, nil, nil, 0))
		So(errors.Is(err, ErrInvalidConfig), ShouldBeTrue)
	})
}

func TestNew(t *testing.T) {
	Convey("When constructing an environment", t, func() {
		cmap, err := collision_map.FromTrack(openTrack, testCellSize)
		So(err, ShouldBeNil)

		Convey("Anchors are converted to cells by integer division", func() {
			gw, err := New(cmap, testCellSize, image.Pt(29, 39), image.Pt(99, 0), ShapedVariant(), COLLIDE)
			So(err, ShouldBeNil)
			So(gw.Agent(), ShouldResemble, Position{2, 3})
			So(gw.Target(), ShouldResemble, Position{9, 0})
			w, h := gw.GridSize()
			So(w, ShouldEqual, 10)
			So(h, ShouldEqual, 10)
		})

		Convey("Anchors outside the grid are rejected", func() {
			_, err := New(cmap, testCellSize, image.Pt(100, 0), image.Pt(0, 0), ShapedVariant(), COLLIDE)
			So(errors.Is(err, ErrInvalidConfig), ShouldBeTrue)
			_, err = New(cmap, testCellSize, image.Pt(0, 0), image.Pt(0, -10), ShapedVariant(), COLLIDE)
			So(errors.Is(err, ErrInvalidConfig), ShouldBeTrue)
		})

		Convey("Bad cell sizes, maps and variants are rejected", func() {
			_, err := New(cmap, 0, image.Pt(0, 0), image.Pt(0, 0), ShapedVariant(), COLLIDE)
			So(errors.Is(err, ErrInvalidConfig), ShouldBeTrue)
			_, err = New(nil, testCellSize, image.Pt(0, 0), image.Pt(0, 0), ShapedVariant(), COLLIDE)
			So(errors.Is(err, ErrInvalidConfig), ShouldBeTrue)
			bad := ShapedVariant()
			bad.GrayThreshold = 300
			_, err = New(cmap, testCellSize, image.Pt(0, 0), image.Pt(0, 0), bad, COLLIDE)
			So(errors.Is(err, ErrInvalidConfig), ShouldBeTrue)
		})
	})
}

func TestParseAction(t *testing.T) {
	Convey("Actions parse from names and numbers", t, func() {
		for _, tc := range []struct {
			in   string
			want Action
		}{
			{"right", RIGHT},
			{" Up ", UP},
			{"LEFT", LEFT},
			{"down", DOWN},
			{"0", RIGHT},
			{"3", DOWN},
		} {
			a, err := ParseAction(tc.in)
			So(err, ShouldBeNil)
			So(a, ShouldEqual, tc.want)
		}
		So(DOWN.String(), ShouldEqual, "down")
		So(Action(7).String(), ShouldEqual, "Action(7)")
	})

	Convey("Anything else is an invalid action", t, func() {
		for _, in := range []string{"4", "-1", "forward", ""} {
			_, err := ParseAction(in)
			So(errors.Is(err, ErrInvalidAction), ShouldBeTrue)
		}
	})
}
