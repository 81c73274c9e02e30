package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"trackworld/episode_store"
	"trackworld/grid_world"
	"trackworld/reinforcement"
	"trackworld/server"
	"trackworld/server/track_views"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	flagAddr         string
	flagServe        bool
	flagPublishEvery int
	flagTrack        string
	flagWorkers      int
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train an agent on the configured track",
	Long: `Train runs alpha Monte-Carlo control on the configured track until the
training deadline passes or the process is interrupted. Every episode is
recorded in the episode database under a new run id. Unless --serve=false, the
live view is served on --addr during training and afterwards until interrupted.

Examples:
  trackworld train
  trackworld train --track debug --serve=false
  trackworld train --addr :9090 --workers 4`,
	Args: cobra.NoArgs,
	RunE: runTrain,
}

func init() {
	trainCmd.Flags().StringVar(&flagAddr, "addr", ":8080", "Address of the live view")
	trainCmd.Flags().BoolVar(&flagServe, "serve", true, "Serve the live view")
	trainCmd.Flags().IntVar(&flagPublishEvery, "publish-every", 200, "Publish a snapshot to the live view every n episodes")
	trainCmd.Flags().StringVar(&flagTrack, "track", "", "Override the configured track (straight, turns, debug)")
	trainCmd.Flags().IntVar(&flagWorkers, "workers", 0, "Override the configured number of agents")
}

func runTrain(cmd *cobra.Command, _ []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}
	if flagTrack != "" {
		config.Environment.Track = flagTrack
	}
	if flagWorkers > 0 {
		config.Training.Workers = flagWorkers
	}

	world, err := loadWorld(config.Environment)
	if err != nil {
		return err
	}

	store, err := episode_store.Open(flagDBPath)
	if err != nil {
		return err
	}
	defer store.Close()
	run, err := store.NewRun(world.Track.Name, world.Variant.Name)
	if err != nil {
		return err
	}
	log.Info("training run created", "run", run.ID, "track", run.Track, "variant", run.Variant)

	appCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	group, groupCtx := errgroup.WithContext(appCtx)

	initial, err := track_views.NewSnapshot(world)
	if err != nil {
		return err
	}
	var srv *server.Server
	if flagServe {
		if srv, err = server.NewServer(groupCtx, flagAddr, world, initial, server.WithHistory(store, run.ID)); err != nil {
			return err
		}
		group.Go(func() error {
			return srv.Serve(groupCtx)
		})
	}

	trainCtx, cancel, err := config.Training.WithTrainingDeadline(groupCtx)
	if err != nil {
		return err
	}
	defer cancel()

	group.Go(func() error {
		trainer := reinforcement.NewTrainer(world, &config.Training)
		reporter := newProgressReporter(store, run.ID, initial, srv, flagPublishEvery)
		count, trainErr := trainer.Train(trainCtx, reporter.OnEpisode)
		if err := reporter.Flush(); err != nil {
			log.Error("flush episodes", "err", err)
		}
		if trainErr != nil {
			return trainErr
		}

		if err := report(cmd.OutOrStdout(), store, run.ID, trainer, world, initial.Blocked); err != nil {
			return err
		}
		if srv != nil {
			log.Info("training finished, serving until interrupted", "episodes", count, "addr", flagAddr)
		}
		return nil
	})

	return group.Wait()
}

// progressReporter records every episode and periodically publishes a
// snapshot to the live view. It runs on the estimator's goroutine.
type progressReporter struct {
	store        *episode_store.Store
	runID        string
	base         track_views.Snapshot
	srv          *server.Server
	publishEvery int
	pending      []episode_store.EpisodeRecord
}

const (
	recordBatchSize = 256
	logEvery        = 1000
)

func newProgressReporter(
	store *episode_store.Store,
	runID string,
	base track_views.Snapshot,
	srv *server.Server,
	publishEvery int,
) *progressReporter {
	if publishEvery <= 0 {
		publishEvery = 1
	}
	return &progressReporter{
		store:        store,
		runID:        runID,
		base:         base,
		srv:          srv,
		publishEvery: publishEvery,
		pending:      make([]episode_store.EpisodeRecord, 0, recordBatchSize),
	}
}

// OnEpisode is the trainer's progress callback.
func (pr *progressReporter) OnEpisode(_ context.Context, p reinforcement.Progress) {
	ep := p.Episode
	pr.pending = append(pr.pending, episode_store.EpisodeRecord{
		RunID:      pr.runID,
		Episode:    p.EpisodeCount,
		Worker:     ep.Worker,
		Steps:      len(ep.Steps),
		Return:     ep.Return(),
		Terminated: ep.Terminated,
		Truncated:  ep.Truncated,
		Collisions: ep.Collisions(),
	})
	if len(pr.pending) >= recordBatchSize {
		if err := pr.Flush(); err != nil {
			log.Error("record episodes", "err", err)
		}
	}

	if pr.srv != nil && (p.EpisodeCount == 1 || p.EpisodeCount%pr.publishEvery == 0) {
		pr.srv.Publish(pr.snapshot(p))
	}
	if p.EpisodeCount%logEvery == 0 {
		log.Info("progress",
			"episodes", p.EpisodeCount,
			"steps", len(ep.Steps),
			"return", fmt.Sprintf("%.2f", ep.Return()),
			"outcome", outcome(ep))
	}
}

// Flush writes the pending records.
func (pr *progressReporter) Flush() error {
	if err := pr.store.RecordBatch(pr.pending); err != nil {
		return err
	}
	pr.pending = pr.pending[:0]
	return nil
}

func (pr *progressReporter) snapshot(p reinforcement.Progress) track_views.Snapshot {
	s := pr.base
	s.EpisodeCount = p.EpisodeCount
	s.Values = p.Q.MaxValues()
	s.Policy = p.Q.Policy()
	if n := len(p.Episode.Steps); n > 0 {
		s.Agent = p.Episode.Steps[n-1].Successor
	}
	s.Steps = len(p.Episode.Steps)
	s.Return = p.Episode.Return()
	s.Outcome = outcome(p.Episode)
	return s
}

func outcome(ep *reinforcement.Episode) string {
	switch {
	case ep.Terminated:
		return "terminated"
	case ep.Truncated:
		return "truncated"
	}
	return ""
}

// report prints the run summary, the learned greedy route and policy.
func report(
	w io.Writer,
	store *episode_store.Store,
	runID string,
	trainer *reinforcement.Trainer,
	world *grid_world.World,
	blocked [][]bool,
) error {
	summary, err := store.Summarize(runID)
	if err != nil {
		return err
	}
	printSummary(w, summary)

	greedy, err := trainer.Greedy(world.MaxEpisodeSteps())
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "greedy route: %d steps, return %.2f, %s\n\n",
		len(greedy.Steps), greedy.Return(), outcome(greedy))

	start, target := world.StartAndTarget()
	showPolicy(w, trainer.Q.Policy(), blocked, start, target)
	return nil
}
