// Package workflow turns multi-domain requests into dependency-ordered plans
// and executes them group by group.
package workflow

// Status is the lifecycle state of a step.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// Step is one domain operation of a plan.
type Step struct {
	StepID       string         `json:"step_id"`
	AgentType    string         `json:"agent_type"`
	Action       string         `json:"action"`
	Parameters   map[string]any `json:"parameters"`
	Dependencies []string       `json:"dependencies"`
	Status       Status         `json:"status"`
}

type Plan struct {
	RequestID      string     `json:"request_id"`
	OriginalQuery  string     `json:"original_query"`
	Steps          []Step     `json:"steps"`
	ExecutionOrder []string   `json:"execution_order"`
	ParallelGroups [][]string `json:"parallel_groups"`
}

// Result is the recorded outcome of an attempted step.
type Result struct {
	StepID       string `json:"step_id"`
	Success      bool   `json:"success"`
	Result       any    `json:"result,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	Status       Status `json:"status"`
}

// Compile validates the dependency graph and fills ExecutionOrder and
// ParallelGroups. Steps without a status become pending.
func (p *Plan) Compile() error {
	for i := range p.Steps {
		s := &p.Steps[i]
		if s.Status == "" {
			s.Status = StatusPending
		}
		if s.Dependencies == nil {
			s.Dependencies = []string{}
		}
		if s.Parameters == nil {
			s.Parameters = map[string]any{}
		}
	}

	ord, err := Schedule(p.Steps)
	if err != nil {
		return err
	}
	p.ExecutionOrder = ord.ExecutionOrder
	p.ParallelGroups = ord.ParallelGroups
	return nil
}

// Compiled reports whether the plan carries a schedule for every step.
func (p *Plan) Compiled() bool {
	if len(p.ExecutionOrder) != len(p.Steps) {
		return false
	}
	n := 0
	for _, g := range p.ParallelGroups {
		n += len(g)
	}
	return n == len(p.Steps)
}

// Step returns the step with the given id.
func (p *Plan) Step(id string) (Step, bool) {
	for _, s := range p.Steps {
		if s.StepID == id {
			return s, true
		}
	}
	return Step{}, false
}
