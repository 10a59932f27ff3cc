package harness

// TraceEvent is one recorded transmission (or packet part) together with
// the checksum journaled live for it. Checksum is empty when the delivery
// failed.
type TraceEvent struct {
	Seq        uint64 `json:"seq"`
	Type       string `json:"type"`
	Scope      string `json:"scope,omitempty"`
	Instigator string `json:"instigator"`
	Checksum   string `json:"checksum,omitempty"`
}

// StepResult is what happened at one step.
type StepResult struct {
	Index   int    `json:"index"`
	Action  string `json:"action"`
	Outcome string `json:"outcome,omitempty"`
	// SeqBefore and SeqAfter are the last accepted sequence numbers around
	// the step.
	SeqBefore uint64 `json:"seq_before"`
	SeqAfter  uint64 `json:"seq_after"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	Trace  []TraceEvent `json:"trace"`
	Steps  []StepResult `json:"steps"`
	Errors []string     `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Steps:  []StepResult{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Dropped counts the submit steps whose transmission was dropped.
func (r *Result) Dropped() int {
	n := 0
	for _, s := range r.Steps {
		if s.Outcome == OutcomeDropped {
			n++
		}
	}
	return n
}
