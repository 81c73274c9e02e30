/*
Trackworld trains a tabular agent to drive a cell-sized car from a start cell
to a target cell over a track image, where wall pixels block movement. The
environment follows the usual reset/step protocol; training is alpha
Monte-Carlo with concurrent agents, and progress is shown live in a single
page served over websocket.

Usage:

	trackworld train            train on the configured track and serve the live view
	trackworld play <actions>   step the environment by hand and print every transition
	trackworld frame            write a rendered frame of the track as png
	trackworld episodes <run>   summarize a recorded training run
*/
package main

import (
	"errors"
	"fmt"
	"os"

	"trackworld/grid_world"
	"trackworld/reinforcement"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	flagConfig   string
	flagLogLevel string
	flagDBPath   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "trackworld",
	Short:         "Grid navigation over a track image, and a tabular agent to learn it",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := log.ParseLevel(flagLogLevel)
		if err != nil {
			return err
		}
		log.SetLevel(level)
		log.SetReportTimestamp(true)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "./config.yaml", "Path to the app config")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&flagDBPath, "db", "./trackworld.db", "Path to the episode database")

	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(frameCmd)
	rootCmd.AddCommand(episodesCmd)
}

// loadConfig reads the config file, falling back to the defaults when it does not exist.
func loadConfig() (*reinforcement.Config, error) {
	if _, err := os.Stat(flagConfig); os.IsNotExist(err) {
		log.Warn("config not found, using defaults", "path", flagConfig)
		return reinforcement.DefaultConfig(), nil
	}
	return reinforcement.FromYaml(flagConfig)
}

// loadWorld loads the configured environment. When an image track's asset
// cannot be read, it falls back to the in-memory debug track so the commands
// still work outside the repo root.
func loadWorld(cfg grid_world.EnvConfig) (*grid_world.World, error) {
	world, err := cfg.Load()
	if errors.Is(err, grid_world.ErrResourceLoad) && cfg.MapPath == "" {
		log.Warn("track asset unavailable, using the debug track", "track", cfg.Track, "err", err)
		cfg.Track = grid_world.DEBUG
		cfg.CellSize = 0
		return cfg.Load()
	}
	return world, err
}
