package main

import (
	"trackworld/episode_store"

	"github.com/spf13/cobra"
)

var flagLimit int

var episodesCmd = &cobra.Command{
	Use:   "episodes <run-id>",
	Short: "Summarize a recorded training run",
	Long: `Episodes prints the summary of a training run recorded in the episode
database, followed by its latest episodes.

Examples:
  trackworld episodes 0b7c5a4e-9d2f-4c1e-8f7a-3e6d2b1a9c80 --limit 5`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := episode_store.Open(flagDBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		summary, err := store.Summarize(args[0])
		if err != nil {
			return err
		}
		recent, err := store.Recent(args[0], flagLimit)
		if err != nil {
			return err
		}
		printSummary(cmd.OutOrStdout(), summary)
		printEpisodes(cmd.OutOrStdout(), recent)
		return nil
	},
}

func init() {
	episodesCmd.Flags().IntVar(&flagLimit, "limit", 20, "Number of latest episodes to list")
}
