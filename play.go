package main

import (
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"trackworld/grid_world"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var flagFrames string

var playCmd = &cobra.Command{
	Use:   "play <action>...",
	Short: "Step the environment by hand",
	Long: `Play resets the configured environment and applies the given actions in
order, printing every transition. Actions are names (right, up, left, down) or
numbers 0-3, separated by spaces or commas. Play stops early when the episode
ends.

With --frames, or when the configured render mode is human, every frame is
presented at the configured fps and saved as a numbered png in the frames
directory.

Examples:
  trackworld play down down right
  trackworld play 3,3,3,0 --track debug
  trackworld play down,down,right --frames ./frames`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPlay,
}

func init() {
	playCmd.Flags().StringVar(&flagTrack, "track", "", "Override the configured track (straight, turns, debug)")
	playCmd.Flags().StringVar(&flagFrames, "frames", "", "Render in human mode, saving frames to this directory")
}

const defaultFramesDir = "./frames"

func runPlay(cmd *cobra.Command, args []string) error {
	actions, err := parseActions(args)
	if err != nil {
		return err
	}
	config, err := loadConfig()
	if err != nil {
		return err
	}
	if flagTrack != "" {
		config.Environment.Track = flagTrack
	}
	if flagFrames != "" {
		config.Environment.RenderMode = grid_world.HUMAN.String()
	}
	world, err := loadWorld(config.Environment)
	if err != nil {
		return err
	}

	var frames *pngSequence
	if world.RenderMode() == grid_world.HUMAN {
		dir := flagFrames
		if dir == "" {
			dir = defaultFramesDir
		}
		if frames, err = newPNGSequence(dir); err != nil {
			return err
		}
	} else {
		world = world.Headless()
	}

	var env *grid_world.TimeLimit
	if frames != nil {
		env, err = world.NewEnv(frames)
	} else {
		env, err = world.NewEnv(nil)
	}
	if err != nil {
		return err
	}
	defer env.Close()

	if err = play(cmd.OutOrStdout(), env, actions); err != nil {
		return err
	}
	if frames != nil {
		if frames.err != nil {
			return frames.err
		}
		log.Info("frames written", "dir", frames.dir, "count", frames.count)
	}
	return nil
}

// pngSequence presents frames by saving each one as the next numbered png in
// dir. The first write error stops the sequence and is kept in err.
type pngSequence struct {
	dir   string
	count int
	err   error
}

func newPNGSequence(dir string) (*pngSequence, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("frames dir: %w", err)
	}
	return &pngSequence{dir: dir}, nil
}

func (seq *pngSequence) Present(frame *image.RGBA) {
	if seq.err != nil {
		return
	}
	path := filepath.Join(seq.dir, fmt.Sprintf("frame-%04d.png", seq.count))
	if seq.err = writePNG(path, frame); seq.err != nil {
		log.Error("present frame", "path", path, "err", seq.err)
		return
	}
	seq.count++
}

func writePNG(path string, frame image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err = png.Encode(f, frame); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func parseActions(args []string) ([]grid_world.Action, error) {
	var actions []grid_world.Action
	for _, arg := range args {
		for _, field := range strings.Split(arg, ",") {
			if strings.TrimSpace(field) == "" {
				continue
			}
			action, err := grid_world.ParseAction(field)
			if err != nil {
				return nil, err
			}
			actions = append(actions, action)
		}
	}
	return actions, nil
}

// play resets env, applies actions until the episode ends and prints each transition.
func play(w io.Writer, env grid_world.Environment, actions []grid_world.Action) error {
	obs, info := env.Reset()
	fmt.Fprintf(w, "reset: agent %v target %v distance %.2f\n", obs.Agent, obs.Target, info.Distance)

	total := 0.0
	for i, action := range actions {
		result, err := env.Step(action)
		if err != nil {
			return err
		}
		total += result.Reward
		fmt.Fprintf(w, "%3d %-5s agent %v reward %.2f distance %.2f collided %t terminated %t truncated %t\n",
			i+1, action, result.Observation.Agent, result.Reward, result.Info.Distance,
			result.Info.Collided, result.Terminated, result.Truncated)
		if result.Terminated || result.Truncated {
			break
		}
	}
	fmt.Fprintf(w, "return %.2f\n", total)
	return nil
}
