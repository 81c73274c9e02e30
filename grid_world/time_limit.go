package grid_world

// TimeLimit truncates episodes after a fixed number of steps. GridWorld never
// truncates on its own; episode length is a concern of the caller.
type TimeLimit struct {
	Environment
	maxSteps int
	elapsed  int
}

func NewTimeLimit(env Environment, maxSteps int) *TimeLimit {
	return &TimeLimit{
		Environment: env,
		maxSteps:    maxSteps,
	}
}

func (tl *TimeLimit) Reset() (Observation, Info) {
	tl.elapsed = 0
	return tl.Environment.Reset()
}

// Step forwards to the wrapped environment and flags the result as truncated
// once the step budget is spent. Invalid actions do not consume budget.
func (tl *TimeLimit) Step(action Action) (StepResult, error) {
	result, err := tl.Environment.Step(action)
	if err != nil {
		return result, err
	}
	tl.elapsed++
	if tl.elapsed >= tl.maxSteps {
		result.Truncated = true
	}
	return result, nil
}

// Elapsed returns the number of steps taken since the last Reset.
func (tl *TimeLimit) Elapsed() int {
	return tl.elapsed
}
