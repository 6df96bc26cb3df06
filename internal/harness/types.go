package harness

import "github.com/roach88/grove/internal/ir"

// StepTrace records what one scenario step did.
type StepTrace struct {
	Index  int       `json:"index"`
	Op     string    `json:"op"`
	Node   ir.NodeID `json:"node,omitempty"`
	Detail string    `json:"detail,omitempty"`
	Error  string    `json:"error,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step behaved as scripted and every
	// expectation held.
	Pass bool `json:"pass"`

	Steps  []StepTrace `json:"steps"`
	Errors []string    `json:"errors,omitempty"`

	// Tree is the final snapshot, taken before the runtime stops.
	Tree ir.TreeStateRecord `json:"tree"`

	// Notifications counts change notifications observed during the run.
	Notifications int `json:"notifications"`

	// Codes holds the error codes of failed writes, in order.
	Codes []string `json:"codes,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Steps:  []StepTrace{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddStep appends a step trace.
func (r *Result) AddStep(s StepTrace) {
	r.Steps = append(r.Steps, s)
}
