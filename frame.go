package main

import (
	"fmt"
	"image/png"
	"io"
	"os"

	"trackworld/grid_world"
	"trackworld/render"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	flagOut    string
	flagFormat string
)

var frameCmd = &cobra.Command{
	Use:   "frame [action]...",
	Short: "Write a rendered frame of the track",
	Long: `Frame resets the configured environment in rgb_array mode, applies the
optional actions and writes the rendered frame: the map with the target drawn in
red and the agent in blue. The png format is an image; the rgb format is the raw
height*width*3 byte array, rows from the top of the image.

Examples:
  trackworld frame --out start.png
  trackworld frame down down --track debug --format rgb --out frame.rgb`,
	RunE: runFrame,
}

func init() {
	frameCmd.Flags().StringVar(&flagOut, "out", "frame.png", "Output file, or - for stdout")
	frameCmd.Flags().StringVar(&flagFormat, "format", "png", "Output format (png, rgb)")
	frameCmd.Flags().StringVar(&flagTrack, "track", "", "Override the configured track (straight, turns, debug)")
}

func runFrame(cmd *cobra.Command, args []string) error {
	if flagFormat != "png" && flagFormat != "rgb" {
		return fmt.Errorf("unknown frame format %q", flagFormat)
	}
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
	config.Environment.RenderMode = grid_world.RGB_ARRAY.String()
	world, err := loadWorld(config.Environment)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if flagOut != "-" {
		f, err := os.Create(flagOut)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	if err := writeFrame(out, world, actions, flagFormat); err != nil {
		return err
	}
	if flagOut != "-" {
		log.Info("frame written", "path", flagOut, "format", flagFormat)
	}
	return nil
}

// writeFrame renders the frame reached by applying actions from reset.
func writeFrame(w io.Writer, world *grid_world.World, actions []grid_world.Action, format string) error {
	gw, err := world.NewGridWorld(nil)
	if err != nil {
		return err
	}
	defer gw.Close()

	gw.Reset()
	for _, action := range actions {
		result, err := gw.Step(action)
		if err != nil {
			return err
		}
		if result.Terminated {
			break
		}
	}

	frame, err := gw.Render()
	if err != nil {
		return err
	}
	if frame == nil {
		return fmt.Errorf("environment is not in %s render mode", grid_world.RGB_ARRAY)
	}
	if format == "rgb" {
		_, err = w.Write(render.RGBArray(frame))
		return err
	}
	return png.Encode(w, frame)
}
