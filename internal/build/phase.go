package build

// Phase is a state of one build cycle.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseDispatching
	PhaseAwaitingPipelines
	PhaseApplyingOutputs
	PhaseRunningHooks
	PhaseStaging
	PhasePublishing
	PhaseDone
	PhaseErrored
)

var phaseNames = [...]string{
	PhaseInit:              "init",
	PhaseDispatching:       "dispatching",
	PhaseAwaitingPipelines: "awaiting_pipelines",
	PhaseApplyingOutputs:   "applying_outputs",
	PhaseRunningHooks:      "running_hooks",
	PhaseStaging:           "staging",
	PhasePublishing:        "publishing",
	PhaseDone:              "done",
	PhaseErrored:           "errored",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}

	return phaseNames[p]
}

// Terminal reports whether no transition leaves p.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseErrored
}
