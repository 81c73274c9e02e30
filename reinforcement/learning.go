package reinforcement

/*
Alpha Monte-Carlo control on the track environment. A fixed number of agents
generate episodes concurrently, each driving its own environment over the
world's shared collision map, and send them to a single estimator which
updates Q(s,a). Coordination is the same as for the racetrack: the agents read
Q while the estimator writes it, which is tolerated since the values are
atomic and the estimator is the only writer. An episode generated against
slightly stale values is still a valid (if marginally off-policy) sample.
*/

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"time"

	. "trackworld/grid_world"

	"github.com/charmbracelet/log"
	channerics "github.com/niceyeti/channerics/channels"
)

var logger = log.WithPrefix("reinforcement")

// Step is a single SARSA time step of an agent: do action a in
// state s, observe reward r and successor s'.
type Step struct {
	State     Position
	Action    Action
	Reward    float64
	Successor Position
	Collided  bool
}

// Episode is a sequence of Steps plus how it ended.
type Episode struct {
	Steps      []Step
	Terminated bool
	Truncated  bool
	Worker     int
}

// Return sums the undiscounted rewards of the episode.
func (ep *Episode) Return() (total float64) {
	for _, step := range ep.Steps {
		total += step.Reward
	}
	return
}

// Collisions counts the steps rejected by a wall.
func (ep *Episode) Collisions() (n int) {
	for _, step := range ep.Steps {
		if step.Collided {
			n++
		}
	}
	return
}

// Progress describes a processed episode.
type Progress struct {
	EpisodeCount int
	Episode      *Episode
	Q            *QTable
}

// ProgressFunc is a callback by which the training method can lend progress details,
// while exercising some level of control over its cancellation to prevent blocking.
// ProgressFunc is synchronous/blocking and should be defined to complete quickly.
type ProgressFunc func(context.Context, Progress)

// ErrNoProgress is returned when every agent failed before producing an episode.
var ErrNoProgress = errors.New("training produced no episodes")

// Trainer owns the shared Q-table and the world the agents act in.
type Trainer struct {
	world   *World
	config  *TrainingConfig
	Q       *QTable
	epsilon float64
	eta     float64
	gamma   float64
}

func NewTrainer(world *World, config *TrainingConfig) *Trainer {
	width, height := world.GridSize()
	return &Trainer{
		// Agents never render; rendering must not influence trajectories.
		world:  world.Headless(),
		config: config,
		Q:      NewQTable(width, height, 0),
		// Epsilon: the agent exploration/exploitation policy param.
		epsilon: config.GetHyperParamOrDefault("epsilon", 0.1),
		// Eta: the learning rate
		eta: config.GetHyperParamOrDefault("eta", 0.05),
		// Gamma: the look-ahead parameter, or how much to value future rewards.
		gamma: config.GetHyperParamOrDefault("gamma", 0.99),
	}
}

// Train runs the agents and the estimator until ctx is done, calling
// progressFn after every processed episode. It blocks until all agents have
// stopped and returns the number of processed episodes.
func (tr *Trainer) Train(ctx context.Context, progressFn ProgressFunc) (episodeCount int, err error) {
	nworkers := tr.config.Workers
	if nworkers <= 0 {
		nworkers = runtime.NumCPU()
	}
	seed := tr.config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	workers := make([]<-chan *Episode, 0, nworkers)
	for i := 0; i < nworkers; i++ {
		env, envErr := tr.world.NewEnv(nil)
		if envErr != nil {
			return 0, fmt.Errorf("agent %d: %w", i, envErr)
		}
		rng := rand.New(rand.NewSource(seed + int64(i)))
		workers = append(workers, tr.agentWorker(ctx.Done(), i, env, rng))
	}
	logger.Info("training started",
		"workers", nworkers,
		"epsilon", tr.epsilon,
		"eta", tr.eta,
		"gamma", tr.gamma,
		"variant", tr.world.Variant.Name)

	// Fan in the workers to a single channel; the estimator is the only writer of Q.
	episodes := channerics.Merge(ctx.Done(), workers...)
	for episode := range episodes {
		tr.Estimate(episode)
		episodeCount++
		if progressFn != nil {
			progressFn(ctx, Progress{
				EpisodeCount: episodeCount,
				Episode:      episode,
				Q:            tr.Q,
			})
		}
	}

	logger.Info("training stopped", "episodes", episodeCount, "reason", context.Cause(ctx))
	if episodeCount == 0 {
		err = ErrNoProgress
	}
	return
}

// agentWorker generates and sends episodes until done is closed.
func (tr *Trainer) agentWorker(
	done <-chan struct{},
	id int,
	env Environment,
	rng *rand.Rand,
) <-chan *Episode {
	episodes := make(chan *Episode)
	go func() {
		defer close(episodes)
		defer env.Close()

		for {
			// done-guard
			select {
			case <-done:
				return
			default:
			}

			episode, err := tr.RunEpisode(env, rng)
			if err != nil {
				logger.Error("episode aborted", "worker", id, "err", err)
				return
			}
			episode.Worker = id

			select {
			case episodes <- episode:
			case <-done:
				return
			}
		}
	}()
	return episodes
}

// RunEpisode plays one epsilon-greedy episode from reset until the
// environment terminates or truncates it. env must be time limited.
func (tr *Trainer) RunEpisode(env Environment, rng *rand.Rand) (*Episode, error) {
	episode := &Episode{}
	obs, _ := env.Reset()
	for {
		action := tr.policy(obs.Agent, rng)
		result, err := env.Step(action)
		if err != nil {
			return nil, err
		}
		episode.Steps = append(episode.Steps, Step{
			State:     obs.Agent,
			Action:    action,
			Reward:    result.Reward,
			Successor: result.Observation.Agent,
			Collided:  result.Info.Collided,
		})
		obs = result.Observation

		if result.Terminated || result.Truncated {
			episode.Terminated = result.Terminated
			episode.Truncated = result.Truncated && !result.Terminated
			return episode, nil
		}
	}
}

// policy is epsilon-greedy over the shared Q-table.
func (tr *Trainer) policy(p Position, rng *rand.Rand) Action {
	if rng.Float64() < tr.epsilon {
		// Exploration: do something random
		return Action(rng.Intn(NUM_ACTIONS))
	}
	action, _ := tr.Q.Greedy(p, rng)
	return action
}

// Estimate propagates discounted returns backward through the episode and
// moves each visited Q(s,a) toward its return. This is every-visit MC.
func (tr *Trainer) Estimate(episode *Episode) {
	steps := episode.Steps
	ret := 0.0
	for t := len(steps) - 1; t >= 0; t-- {
		step := steps[t]
		ret = step.Reward + tr.gamma*ret
		val := tr.Q.Get(step.State, step.Action)
		tr.Q.Set(step.State, step.Action, val+tr.eta*(ret-val))
	}
}

// Greedy follows the greedy policy from reset for at most maxSteps steps and
// returns the episode, e.g. to show the learned route.
func (tr *Trainer) Greedy(maxSteps int) (*Episode, error) {
	gw, err := tr.world.NewGridWorld(nil)
	if err != nil {
		return nil, err
	}
	defer gw.Close()

	greedy := &Trainer{world: tr.world, Q: tr.Q, epsilon: 0}
	return greedy.RunEpisode(NewTimeLimit(gw, maxSteps), rand.New(rand.NewSource(1)))
}
