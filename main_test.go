package main

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"trackworld/episode_store"
	"trackworld/grid_world"
	"trackworld/reinforcement"
	"trackworld/render"
	"trackworld/server/track_views"

	. "github.com/smartystreets/goconvey/convey"
)

func debugConfig() grid_world.EnvConfig {
	cfg := grid_world.DefaultEnvConfig()
	cfg.Track = grid_world.DEBUG
	return cfg
}

// The shortest route on the debug track: up the left lane, then along the top row.
func debugRoute() []grid_world.Action {
	route := []grid_world.Action{}
	for i := 0; i < 6; i++ {
		route = append(route, grid_world.DOWN)
	}
	for i := 0; i < 4; i++ {
		route = append(route, grid_world.RIGHT)
	}
	return route
}

func TestParseActions(t *testing.T) {
	Convey("Actions may be given as names or numbers, spaced or comma separated", t, func() {
		actions, err := parseActions([]string{"down,3", "Right", "1,", "left"})
		So(err, ShouldBeNil)
		So(actions, ShouldResemble, []grid_world.Action{
			grid_world.DOWN, grid_world.DOWN, grid_world.RIGHT, grid_world.UP, grid_world.LEFT,
		})
	})

	Convey("Unknown actions are rejected", t, func() {
		_, err := parseActions([]string{"down,sideways"})
		So(errors.Is(err, grid_world.ErrInvalidAction), ShouldBeTrue)
	})
}

func TestPlay(t *testing.T) {
	Convey("Given an environment on the debug track", t, func() {
		world, err := debugConfig().Load()
		So(err, ShouldBeNil)
		env, err := world.NewEnv(nil)
		So(err, ShouldBeNil)
		defer env.Close()
		var out bytes.Buffer

		Convey("Driving the shortest route terminates and ignores the remaining actions", func() {
			actions := append(debugRoute(), grid_world.LEFT, grid_world.LEFT)
			So(play(&out, env, actions), ShouldBeNil)

			lines := strings.Split(strings.TrimSpace(out.String()), "\n")
			So(len(lines), ShouldEqual, 12)
			So(lines[0], ShouldStartWith, "reset: agent (1,7) target (5,1)")
			So(lines[10], ShouldContainSubstring, "agent (5,1)")
			So(lines[10], ShouldContainSubstring, "terminated true")
			So(lines[11], ShouldStartWith, "return ")
		})

		Convey("Driving into a wall reports the collision", func() {
			So(play(&out, env, []grid_world.Action{grid_world.LEFT}), ShouldBeNil)
			So(out.String(), ShouldContainSubstring, "agent (1,7) reward -500.00")
			So(out.String(), ShouldContainSubstring, "collided true")
		})
	})
}

func TestPlayFrames(t *testing.T) {
	Convey("Given a human render world presenting to a png sequence", t, func() {
		cfg := debugConfig()
		cfg.RenderMode = grid_world.HUMAN.String()
		cfg.RenderFPS = 100
		world, err := cfg.Load()
		So(err, ShouldBeNil)
		So(world.RenderMode(), ShouldEqual, grid_world.HUMAN)

		dir := filepath.Join(t.TempDir(), "frames")
		frames, err := newPNGSequence(dir)
		So(err, ShouldBeNil)
		env, err := world.NewEnv(frames)
		So(err, ShouldBeNil)
		defer env.Close()

		Convey("Reset and every step present one frame", func() {
			var out bytes.Buffer
			So(play(&out, env, []grid_world.Action{grid_world.DOWN, grid_world.DOWN}), ShouldBeNil)
			So(frames.err, ShouldBeNil)
			So(frames.count, ShouldEqual, 3)

			entries, err := os.ReadDir(dir)
			So(err, ShouldBeNil)
			So(len(entries), ShouldEqual, 3)

			f, err := os.Open(filepath.Join(dir, "frame-0002.png"))
			So(err, ShouldBeNil)
			defer f.Close()
			img, err := png.Decode(f)
			So(err, ShouldBeNil)
			So(color.RGBAModel.Convert(img.At(15, 55)), ShouldResemble, render.AgentColor)
			So(color.RGBAModel.Convert(img.At(15, 75)), ShouldNotResemble, render.AgentColor)
		})
	})

	Convey("A sequence that cannot be written keeps its first error", t, func() {
		frames, err := newPNGSequence(t.TempDir())
		So(err, ShouldBeNil)
		frames.dir = filepath.Join(frames.dir, "missing")
		frames.Present(image.NewRGBA(image.Rect(0, 0, 2, 2)))
		So(frames.err, ShouldNotBeNil)
		So(frames.count, ShouldEqual, 0)
	})
}

func TestWriteFrame(t *testing.T) {
	Convey("Given the debug track in rgb_array mode", t, func() {
		cfg := debugConfig()
		cfg.RenderMode = grid_world.RGB_ARRAY.String()
		world, err := cfg.Load()
		So(err, ShouldBeNil)
		var out bytes.Buffer

		Convey("The png frame shows the agent after the given actions", func() {
			down := []grid_world.Action{grid_world.DOWN, grid_world.DOWN}
			So(writeFrame(&out, world, down, "png"), ShouldBeNil)
			img, err := png.Decode(&out)
			So(err, ShouldBeNil)
			So(img.Bounds().Dx(), ShouldEqual, 80)
			So(img.Bounds().Dy(), ShouldEqual, 100)
			So(color.RGBAModel.Convert(img.At(15, 55)), ShouldResemble, render.AgentColor)
			So(color.RGBAModel.Convert(img.At(55, 15)), ShouldResemble, render.TargetColor)
			So(color.RGBAModel.Convert(img.At(15, 75)), ShouldNotResemble, render.AgentColor)
		})

		Convey("The rgb frame is the raw height*width*3 array", func() {
			So(writeFrame(&out, world, nil, "rgb"), ShouldBeNil)
			So(out.Len(), ShouldEqual, 100*80*3)
			// The agent's start cell (1,7) covers pixel (15,75).
			offset := (75*80 + 15) * 3
			So(out.Bytes()[offset:offset+3], ShouldResemble, []byte{
				render.AgentColor.R, render.AgentColor.G, render.AgentColor.B,
			})
		})

		Convey("A headless world has no frame to write", func() {
			So(writeFrame(&out, world.Headless(), nil, "png"), ShouldNotBeNil)
		})
	})
}

func TestShowPolicy(t *testing.T) {
	Convey("The policy is printed one map row per line, from the top", t, func() {
		policy := [][]grid_world.Action{
			{grid_world.RIGHT, grid_world.RIGHT},
			{grid_world.RIGHT, grid_world.DOWN},
			{grid_world.UP, grid_world.LEFT},
		}
		blocked := [][]bool{
			{true, false},
			{false, false},
			{false, false},
		}
		var out bytes.Buffer
		showPolicy(&out, policy, blocked, grid_world.Position{X: 0, Y: 1}, grid_world.Position{X: 2, Y: 1})
		So(out.String(), ShouldEqual, " - > v\n S ^ T\n")
	})

	Convey("An empty policy prints nothing", t, func() {
		var out bytes.Buffer
		showPolicy(&out, nil, nil, grid_world.Position{}, grid_world.Position{})
		So(out.Len(), ShouldEqual, 0)
	})
}

func TestProgressReporter(t *testing.T) {
	Convey("Given a reporter over a fresh run", t, func() {
		store, err := episode_store.Open(filepath.Join(t.TempDir(), "episodes.db"))
		So(err, ShouldBeNil)
		defer store.Close()
		run, err := store.NewRun(grid_world.DEBUG, grid_world.SHAPED)
		So(err, ShouldBeNil)

		world, err := debugConfig().Load()
		So(err, ShouldBeNil)
		base, err := track_views.NewSnapshot(world)
		So(err, ShouldBeNil)
		reporter := newProgressReporter(store, run.ID, base, nil, 0)
		q := reinforcement.NewQTable(8, 10, 0)

		progress := func(n int, terminated bool) reinforcement.Progress {
			return reinforcement.Progress{
				EpisodeCount: n,
				Q:            q,
				Episode: &reinforcement.Episode{
					Steps: []reinforcement.Step{
						{State: grid_world.Position{X: 1, Y: 7}, Action: grid_world.DOWN, Reward: 1, Successor: grid_world.Position{X: 1, Y: 6}},
						{State: grid_world.Position{X: 1, Y: 6}, Action: grid_world.LEFT, Reward: -500, Successor: grid_world.Position{X: 1, Y: 6}, Collided: true},
					},
					Terminated: terminated,
					Truncated:  !terminated,
					Worker:     n % 2,
				},
			}
		}

		Convey("Episodes are buffered until flushed", func() {
			for i := 1; i <= 3; i++ {
				reporter.OnEpisode(context.Background(), progress(i, i == 3))
			}
			summary, err := store.Summarize(run.ID)
			So(err, ShouldBeNil)
			So(summary.Episodes, ShouldEqual, 0)

			So(reporter.Flush(), ShouldBeNil)
			summary, err = store.Summarize(run.ID)
			So(err, ShouldBeNil)
			So(summary.Episodes, ShouldEqual, 3)
			So(summary.Successes, ShouldEqual, 1)
			So(summary.MeanReturn, ShouldEqual, -499)

			recent, err := store.Recent(run.ID, 1)
			So(err, ShouldBeNil)
			So(recent[0].Episode, ShouldEqual, 3)
			So(recent[0].Collisions, ShouldEqual, 1)
			So(recent[0].Steps, ShouldEqual, 2)

			var out bytes.Buffer
			printSummary(&out, summary)
			printEpisodes(&out, recent)
			So(out.String(), ShouldContainSubstring, run.ID)
			So(out.String(), ShouldContainSubstring, "33.3%")
			So(out.String(), ShouldContainSubstring, "terminated")
		})

		Convey("A full batch is written without an explicit flush", func() {
			for i := 1; i <= recordBatchSize; i++ {
				reporter.OnEpisode(context.Background(), progress(i, false))
			}
			summary, err := store.Summarize(run.ID)
			So(err, ShouldBeNil)
			So(summary.Episodes, ShouldEqual, recordBatchSize)
		})

		Convey("Snapshots place the agent where the episode ended", func() {
			s := reporter.snapshot(progress(7, false))
			So(s.EpisodeCount, ShouldEqual, 7)
			So(s.Agent, ShouldResemble, grid_world.Position{X: 1, Y: 6})
			So(s.Target, ShouldResemble, grid_world.Position{X: 5, Y: 1})
			So(s.Steps, ShouldEqual, 2)
			So(s.Return, ShouldEqual, -499)
			So(s.Outcome, ShouldEqual, "truncated")
			So(s.Blocked, ShouldResemble, base.Blocked)
		})
	})
}

func TestLoadConfig(t *testing.T) {
	Convey("Given a config path that does not exist", t, func() {
		saved := flagConfig
		defer func() { flagConfig = saved }()
		flagConfig = filepath.Join(t.TempDir(), "missing.yaml")

		Convey("The defaults are used", func() {
			config, err := loadConfig()
			So(err, ShouldBeNil)
			So(config, ShouldResemble, reinforcement.DefaultConfig())
		})
	})

	Convey("Given the shipped config", t, func() {
		saved := flagConfig
		defer func() { flagConfig = saved }()
		flagConfig = "./config.yaml"

		Convey("It decodes", func() {
			config, err := loadConfig()
			So(err, ShouldBeNil)
			So(config.Environment.Track, ShouldEqual, grid_world.DEBUG)
			So(len(config.Training.HyperParams), ShouldEqual, 3)
		})
	})

	Convey("Given a working directory without track assets", t, func() {
		wd, err := os.Getwd()
		So(err, ShouldBeNil)
		So(os.Chdir(t.TempDir()), ShouldBeNil)
		defer os.Chdir(wd)

		Convey("Image tracks fall back to the debug track", func() {
			cfg := grid_world.DefaultEnvConfig()
			cfg.Track = grid_world.TURNS
			world, err := loadWorld(cfg)
			So(err, ShouldBeNil)
			So(world.Track.Name, ShouldEqual, grid_world.DEBUG)
			So(world.CellSize, ShouldEqual, 10)
		})

		Convey("An explicit map path is never replaced", func() {
			cfg := grid_world.DefaultEnvConfig()
			cfg.MapPath = "./nowhere.png"
			_, err := loadWorld(cfg)
			So(errors.Is(err, grid_world.ErrResourceLoad), ShouldBeTrue)
		})
	})
}
