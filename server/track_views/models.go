// track_views contains the views of a training run on a track, derived from
// the TrackModel view-model.
package track_views

import (
	"fmt"
	"math"

	"trackworld/grid_world"
)

// Snapshot is the training state published to the views: the greedy value
// and policy projections of Q, plus where the latest episode ended.
type Snapshot struct {
	EpisodeCount int
	// Values and Policy are indexed [x][y].
	Values [][]float64
	Policy [][]grid_world.Action
	// Blocked marks the cells the agent cannot occupy; it does not change during a run.
	Blocked [][]bool
	Agent   grid_world.Position
	Target  grid_world.Position
	Steps   int
	Return  float64
	// Outcome is "terminated", "truncated" or empty before the first episode.
	Outcome string
}

// Cell is a grid cell as displayed. Grid rows grow with pixel rows, so cell
// coordinates are svg coordinates.
type Cell struct {
	X, Y                int
	Max                 float64
	PolicyArrowRotation int
	Fill                string
	Blocked             bool
}

// TrackModel is the view-model shared by the track views.
type TrackModel struct {
	// Cells are indexed [x][y].
	Cells         [][]Cell
	Width, Height int
	Agent, Target grid_world.Position
	EpisodeCount  int
	Steps         int
	Return        string
	Outcome       string
}

// Convert projects a snapshot to the view-model.
func Convert(s Snapshot) TrackModel {
	width := len(s.Values)
	height := 0
	if width > 0 {
		height = len(s.Values[0])
	}

	minVal, maxVal := math.MaxFloat64, -math.MaxFloat64
	for x := range s.Values {
		for y, val := range s.Values[x] {
			if isBlocked(s.Blocked, x, y) {
				continue
			}
			minVal = math.Min(minVal, val)
			maxVal = math.Max(maxVal, val)
		}
	}

	cells := make([][]Cell, width)
	for x := range cells {
		cells[x] = make([]Cell, height)
		for y := range cells[x] {
			blocked := isBlocked(s.Blocked, x, y)
			cell := Cell{
				X:       x,
				Y:       y,
				Max:     s.Values[x][y],
				Blocked: blocked,
				Fill:    getRGBFill(s.Values[x][y], minVal, maxVal),
			}
			if blocked {
				cell.Fill = WALL_FILL
			}
			if x < len(s.Policy) && y < len(s.Policy[x]) {
				cell.PolicyArrowRotation = getDegrees(s.Policy[x][y])
			}
			cells[x][y] = cell
		}
	}

	return TrackModel{
		Cells:        cells,
		Width:        width,
		Height:       height,
		Agent:        s.Agent,
		Target:       s.Target,
		EpisodeCount: s.EpisodeCount,
		Steps:        s.Steps,
		Return:       fmt.Sprintf("%.2f", s.Return),
		Outcome:      s.Outcome,
	}
}

// WALL_FILL is the fill of cells the agent cannot occupy.
const WALL_FILL = "lightgray"

func isBlocked(blocked [][]bool, x, y int) bool {
	return x < len(blocked) && y < len(blocked[x]) && blocked[x][y]
}

// getDegrees converts an action to the rotation passed to svg's rotate() for
// an upward arrow. Rotation is clockwise from svg's -y axis, and the grid's
// +y is svg's +y.
func getDegrees(action grid_world.Action) int {
	dir, err := action.Direction()
	if err != nil {
		return 0
	}
	rad := math.Atan2(float64(dir.X), float64(-dir.Y))
	return int(math.Round(rad * 180 / math.Pi))
}

// getRGBFill shades val from blue (minVal) to red (maxVal).
func getRGBFill(val, minVal, maxVal float64) string {
	redPct := 0
	if span := maxVal - minVal; span > 0 && !math.IsInf(span, 0) {
		redPct = int(100 * (val - minVal) / span)
	}
	redPct = int(math.Max(0, math.Min(100, float64(redPct))))
	return fmt.Sprintf("rgb(%d%%,0%%,%d%%)", redPct, 100-redPct)
}

// NewSnapshot returns the snapshot of a world before training: zero values,
// the agent on its start cell and the blocked cells of the track.
func NewSnapshot(world *grid_world.World) (Snapshot, error) {
	gw, err := world.Headless().NewGridWorld(nil)
	if err != nil {
		return Snapshot{}, err
	}
	defer gw.Close()

	width, height := gw.GridSize()
	s := Snapshot{
		Values:  make([][]float64, width),
		Policy:  make([][]grid_world.Action, width),
		Blocked: make([][]bool, width),
	}
	for x := 0; x < width; x++ {
		s.Values[x] = make([]float64, height)
		s.Policy[x] = make([]grid_world.Action, height)
		s.Blocked[x] = make([]bool, height)
		for y := 0; y < height; y++ {
			s.Blocked[x][y] = gw.Blocked(grid_world.Position{X: x, Y: y})
		}
	}
	s.Agent, s.Target = world.StartAndTarget()
	return s, nil
}
