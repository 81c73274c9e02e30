package reinforcement

import (
	"math"
	"math/rand"

	"trackworld/atomic_float"
	. "trackworld/grid_world"
)

// QTable holds action values per agent cell, indexed [x][y][action]. The
// target is fixed per world, so the agent cell alone identifies the state.
// Values are atomic so that workers may read while the estimator writes.
type QTable struct {
	width, height int
	values        [][][NUM_ACTIONS]*atomic_float.AtomicFloat64
}

func NewQTable(width, height int, initVal float64) *QTable {
	q := &QTable{
		width:  width,
		height: height,
		values: make([][][NUM_ACTIONS]*atomic_float.AtomicFloat64, width),
	}
	for x := range q.values {
		q.values[x] = make([][NUM_ACTIONS]*atomic_float.AtomicFloat64, height)
		for y := range q.values[x] {
			for a := range q.values[x][y] {
				q.values[x][y][a] = atomic_float.NewAtomicFloat64(initVal)
			}
		}
	}
	return q
}

// cell returns the action values of p. Positions outside the grid (only
// reachable with the clamp bounds policy) share the nearest edge cell.
func (q *QTable) cell(p Position) *[NUM_ACTIONS]*atomic_float.AtomicFloat64 {
	x := int(math.Max(math.Min(float64(p.X), float64(q.width-1)), 0))
	y := int(math.Max(math.Min(float64(p.Y), float64(q.height-1)), 0))
	return &q.values[x][y]
}

func (q *QTable) Get(p Position, a Action) float64 {
	return q.cell(p)[a].AtomicRead()
}

func (q *QTable) Set(p Position, a Action, val float64) {
	q.cell(p)[a].AtomicSet(val)
}

// Greedy returns the max-valued action at p, breaking ties at random.
func (q *QTable) Greedy(p Position, rng *rand.Rand) (best Action, maxVal float64) {
	maxVal = -math.MaxFloat64
	ties := 0
	for a, val := range q.cell(p) {
		v := val.AtomicRead()
		switch {
		case v > maxVal:
			best, maxVal, ties = Action(a), v, 1
		case v == maxVal:
			// Reservoir sampling over the tied actions.
			ties++
			if rng.Intn(ties) == 0 {
				best = Action(a)
			}
		}
	}
	return
}

// MaxValues projects the table to the best action value per cell, indexed [x][y].
func (q *QTable) MaxValues() [][]float64 {
	out := make([][]float64, q.width)
	for x := range q.values {
		out[x] = make([]float64, q.height)
		for y := range q.values[x] {
			maxVal := -math.MaxFloat64
			for _, val := range q.values[x][y] {
				maxVal = math.Max(maxVal, val.AtomicRead())
			}
			out[x][y] = maxVal
		}
	}
	return out
}

// Policy projects the table to the greedy action per cell, lowest action on ties.
func (q *QTable) Policy() [][]Action {
	out := make([][]Action, q.width)
	for x := range q.values {
		out[x] = make([]Action, q.height)
		for y := range q.values[x] {
			best, maxVal := Action(0), -math.MaxFloat64
			for a, val := range q.values[x][y] {
				if v := val.AtomicRead(); v > maxVal {
					best, maxVal = Action(a), v
				}
			}
			out[x][y] = best
		}
	}
	return out
}

// Size returns the table extents in cells.
func (q *QTable) Size() (width, height int) {
	return q.width, q.height
}
