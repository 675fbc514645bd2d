package task

import (
	"fmt"
	"strings"
)

// NextReady returns the first pending task, in stored order, whose
// dependencies are all done. Stored order is the only tie-break.
func NextReady(tasks []Task) (*Task, bool) {
	status := make(map[string]Status, len(tasks))
	for _, t := range tasks {
		status[t.ID] = t.Status
	}
	for i := range tasks {
		t := &tasks[i]
		if t.Status != StatusPending {
			continue
		}
		ready := true
		for _, dep := range t.Dependencies {
			if status[dep] != StatusDone {
				ready = false
				break
			}
		}
		if ready {
			return t, true
		}
	}
	return nil, false
}

// DependencyError describes a broken dependency graph.
type DependencyError struct {
	Unknown map[string][]string // task ID -> unknown dependency IDs
	Cycle   []string
}

func (e *DependencyError) Error() string {
	var parts []string
	for id, deps := range e.Unknown {
		parts = append(parts, fmt.Sprintf("%s depends on unknown %s", id, strings.Join(deps, ", ")))
	}
	if len(e.Cycle) > 0 {
		parts = append(parts, "dependency cycle: "+strings.Join(e.Cycle, " -> "))
	}
	return strings.Join(parts, "; ")
}

// ValidateDependencies reports unknown dependency IDs and the first cycle
// found, or nil when the graph is a DAG.
func ValidateDependencies(tasks []Task) error {
	byID := make(map[string]*Task, len(tasks))
	for i := range tasks {
		byID[tasks[i].ID] = &tasks[i]
	}

	depErr := &DependencyError{Unknown: make(map[string][]string)}
	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			if _, ok := byID[dep]; !ok {
				depErr.Unknown[t.ID] = append(depErr.Unknown[t.ID], dep)
			}
		}
	}

	const (
		unvisited = iota
		visiting
		visited
	)
	state := make(map[string]int, len(tasks))
	var stack []string

	var visit func(id string) bool
	visit = func(id string) bool {
		state[id] = visiting
		stack = append(stack, id)
		for _, dep := range byID[id].Dependencies {
			if _, ok := byID[dep]; !ok {
				continue
			}
			switch state[dep] {
			case visiting:
				for i, s := range stack {
					if s == dep {
						depErr.Cycle = append(append([]string(nil), stack[i:]...), dep)
						break
					}
				}
				return true
			case unvisited:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = visited
		return false
	}

	for _, t := range tasks {
		if state[t.ID] == unvisited && visit(t.ID) {
			break
		}
	}

	if len(depErr.Unknown) == 0 && len(depErr.Cycle) == 0 {
		return nil
	}
	return depErr
}
