package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"trackworld/episode_store"
	"trackworld/grid_world"
)

// Arrows as seen on the map: grid y grows with pixel rows, so UP points down the screen.
var policyGlyphs = [grid_world.NUM_ACTIONS]byte{
	grid_world.RIGHT: '>',
	grid_world.UP:    'v',
	grid_world.LEFT:  '<',
	grid_world.DOWN:  '^',
}

// showPolicy prints the greedy action of every drivable cell, one map row per
// line from the top of the image. Blocked cells print as '-', and the start
// and target cells as 'S' and 'T'.
func showPolicy(w io.Writer, policy [][]grid_world.Action, blocked [][]bool, start, target grid_world.Position) {
	if len(policy) == 0 {
		return
	}
	for y := range policy[0] {
		line := make([]byte, 0, 2*len(policy))
		for x := range policy {
			p := grid_world.Position{X: x, Y: y}
			var glyph byte
			switch {
			case p == target:
				glyph = 'T'
			case p == start:
				glyph = 'S'
			case x < len(blocked) && y < len(blocked[x]) && blocked[x][y]:
				glyph = '-'
			case policy[x][y].Valid():
				glyph = policyGlyphs[policy[x][y]]
			default:
				glyph = '?'
			}
			line = append(line, ' ', glyph)
		}
		fmt.Fprintf(w, "%s\n", line)
	}
}

func printSummary(w io.Writer, summary *episode_store.Summary) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "run\t%s\n", summary.Run.ID)
	fmt.Fprintf(tw, "track\t%s (%s)\n", summary.Run.Track, summary.Run.Variant)
	fmt.Fprintf(tw, "started\t%s\n", summary.Run.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(tw, "episodes\t%d\n", summary.Episodes)
	if summary.Episodes > 0 {
		fmt.Fprintf(tw, "success rate\t%.1f%%\n", 100*summary.SuccessRate())
		fmt.Fprintf(tw, "mean return\t%.2f\n", summary.MeanReturn)
		fmt.Fprintf(tw, "best return\t%.2f\n", summary.BestReturn)
		fmt.Fprintf(tw, "mean steps\t%.1f\n", summary.MeanSteps)
	}
	tw.Flush()
	fmt.Fprintln(w)
}

func printEpisodes(w io.Writer, records []episode_store.EpisodeRecord) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "episode\tworker\tsteps\treturn\tcollisions\toutcome\t")
	for _, rec := range records {
		result := "truncated"
		if rec.Terminated {
			result = "terminated"
		}
		fmt.Fprintf(tw, "%d\t%d\t%d\t%.2f\t%d\t%s\t\n",
			rec.Episode, rec.Worker, rec.Steps, rec.Return, rec.Collisions, result)
	}
	tw.Flush()
}
