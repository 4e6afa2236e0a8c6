package workflow

import "fmt"

// Ordering is the schedule of a plan.
type Ordering struct {
	ExecutionOrder []string
	ParallelGroups [][]string
}

// Schedule validates the dependency graph of steps and computes a stable
// topological order plus the groups of mutually independent steps. Among
// ready steps, declaration order wins.
func Schedule(steps []Step) (*Ordering, error) {
	index := make(map[string]int, len(steps))
	for i, s := range steps {
		if s.StepID == "" {
			return nil, &DuplicateStepError{}
		}
		if _, dup := index[s.StepID]; dup {
			return nil, &DuplicateStepError{StepID: s.StepID}
		}
		index[s.StepID] = i
	}

	deps := make([][]int, len(steps))
	for i, s := range steps {
		seen := make(map[int]bool, len(s.Dependencies))
		for _, d := range s.Dependencies {
			j, ok := index[d]
			if !ok {
				return nil, &DanglingDependencyError{StepID: s.StepID, Dependency: d}
			}
			if seen[j] {
				continue
			}
			seen[j] = true
			deps[i] = append(deps[i], j)
		}
	}

	if cycle := findCycle(steps, deps); cycle != nil {
		return nil, &CyclicDependencyError{Cycle: cycle}
	}

	order, err := topoSort(steps, deps)
	if err != nil {
		return nil, err
	}
	groups, err := parallelGroups(steps, deps)
	if err != nil {
		return nil, err
	}
	return &Ordering{ExecutionOrder: order, ParallelGroups: groups}, nil
}

// findCycle runs a colouring DFS over dependency edges in declaration order
// and returns the first cycle found.
func findCycle(steps []Step, deps [][]int) []string {
	const (
		white = iota
		gray
		black
	)
	color := make([]int, len(steps))
	var stack []int

	var visit func(i int) []string
	visit = func(i int) []string {
		color[i] = gray
		stack = append(stack, i)
		for _, j := range deps[i] {
			switch color[j] {
			case gray:
				var cycle []string
				for k := len(stack) - 1; k >= 0; k-- {
					if stack[k] == j {
						for _, n := range stack[k:] {
							cycle = append(cycle, steps[n].StepID)
						}
						break
					}
				}
				return append(cycle, steps[j].StepID)
			case white:
				if c := visit(j); c != nil {
					return c
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[i] = black
		return nil
	}

	for i := range steps {
		if color[i] == white {
			if c := visit(i); c != nil {
				return c
			}
		}
	}
	return nil
}

func topoSort(steps []Step, deps [][]int) ([]string, error) {
	remaining := make([]int, len(steps))
	dependents := make([][]int, len(steps))
	for i, ds := range deps {
		remaining[i] = len(ds)
		for _, j := range ds {
			dependents[j] = append(dependents[j], i)
		}
	}

	done := make([]bool, len(steps))
	order := make([]string, 0, len(steps))
	for len(order) < len(steps) {
		next := -1
		for i := range steps {
			if !done[i] && remaining[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			return nil, fmt.Errorf("topological sort: %w", ErrSchedulingStalled)
		}
		done[next] = true
		order = append(order, steps[next].StepID)
		for _, d := range dependents[next] {
			remaining[d]--
		}
	}
	return order, nil
}

func parallelGroups(steps []Step, deps [][]int) ([][]string, error) {
	groupOf := make([]int, len(steps))
	for i := range groupOf {
		groupOf[i] = -1
	}

	groups := [][]string{}
	grouped := 0
	for k := 0; grouped < len(steps); k++ {
		var members []int
		for i := range steps {
			if groupOf[i] >= 0 {
				continue
			}
			ready := true
			for _, j := range deps[i] {
				if groupOf[j] < 0 {
					ready = false
					break
				}
			}
			if ready {
				members = append(members, i)
			}
		}
		if len(members) == 0 {
			return nil, fmt.Errorf("group %d: %w", k, ErrSchedulingStalled)
		}

		group := make([]string, len(members))
		for n, i := range members {
			groupOf[i] = k
			group[n] = steps[i].StepID
		}
		groups = append(groups, group)
		grouped += len(members)
	}
	return groups, nil
}
