package grid_world

import (
	"fmt"
	"math"
)

// Metric measures the distance between two grid positions.
type Metric int

const (
	MANHATTAN Metric = iota
	EUCLIDEAN
)

func (m Metric) Distance(a, b Position) float64 {
	dx := float64(a.X - b.X)
	dy := float64(a.Y - b.Y)
	if m == EUCLIDEAN {
		return math.Hypot(dx, dy)
	}
	return math.Abs(dx) + math.Abs(dy)
}

func (m Metric) String() string {
	switch m {
	case MANHATTAN:
		return "manhattan"
	case EUCLIDEAN:
		return "euclidean"
	}
	return fmt.Sprintf("Metric(%d)", int(m))
}

// Shaping is the potential-based reward for moving from a cell at distance
// prev to one at distance cur: positive when closing in, negative when
// backing off, zero otherwise.
func Shaping(prev, cur float64) float64 {
	return prev - cur
}

// Rewards is a reward scheme.
type Rewards struct {
	// Terminal is paid on the step that reaches the target.
	Terminal float64
	// Step is paid for a non-terminal move when Shaped is false.
	Step float64
	// Collision is paid when a move is rejected by a wall.
	Collision float64
	// Shaped pays the decrease in distance for non-terminal moves instead of Step.
	Shaped bool
}

// Variant bundles the collision rule, distance metric and reward scheme. The
// two built-in variants are not interchangeable: their reward scales differ by
// orders of magnitude and they react to collisions differently.
type Variant struct {
	Name          string
	Collision     CollisionRule
	GrayThreshold float64
	Metric        Metric
	Rewards       Rewards
	// CollisionEndsStep returns immediately with the collision reward. When
	// false, a rejected move continues as a normal transition from the old cell.
	CollisionEndsStep bool
}

// Built-in variant names.
const (
	SPARSE = "sparse"
	SHAPED = "shaped"
)

// SparseVariant is the exact-white, Manhattan, binary reward scheme. By default a
// rejected move pays the same as a normal step; set Rewards.Collision to tell
// them apart.
func SparseVariant() Variant {
	return Variant{
		Name:      SPARSE,
		Collision: WHITE_EXACT,
		Metric:    MANHATTAN,
		Rewards: Rewards{
			Terminal:  1,
			Step:      -0.1,
			Collision: -0.1,
		},
	}
}

// ShapedVariant is the canonical scheme: grayscale walls, Euclidean
// distance shaping, a fixed collision penalty and a large terminal reward.
func ShapedVariant() Variant {
	return Variant{
		Name:          SHAPED,
		Collision:     GRAYSCALE,
		GrayThreshold: DEFAULT_GRAY_THRESHOLD,
		Metric:        EUCLIDEAN,
		Rewards: Rewards{
			Terminal:  2500,
			Collision: -500,
			Shaped:    true,
		},
		CollisionEndsStep: true,
	}
}

// VariantByName returns a built-in variant.
func VariantByName(name string) (Variant, error) {
	switch name {
	case SPARSE:
		return SparseVariant(), nil
	case SHAPED, "":
		return ShapedVariant(), nil
	}
	return Variant{}, fmt.Errorf("%w: unknown variant %q", ErrInvalidConfig, name)
}

func (v Variant) validate() error {
	if v.Collision != WHITE_EXACT && v.Collision != GRAYSCALE {
		return fmt.Errorf("%w: variant %q has unknown collision rule %v", ErrInvalidConfig, v.Name, v.Collision)
	}
	if v.Collision == GRAYSCALE && (v.GrayThreshold < 0 || v.GrayThreshold > 255) {
		return fmt.Errorf("%w: gray threshold %v outside [0,255]", ErrInvalidConfig, v.GrayThreshold)
	}
	if v.Metric != MANHATTAN && v.Metric != EUCLIDEAN {
		return fmt.Errorf("%w: variant %q has unknown metric %v", ErrInvalidConfig, v.Name, v.Metric)
	}
	return nil
}
