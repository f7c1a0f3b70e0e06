// Package pipeline implements dependency resolution and batch execution of a
// declared pipeline.
package pipeline

import (
	"lakerun/internal/domain"
)

// ResolveExecutionOrder computes a topological ordering of the declared
// tables using Kahn's algorithm. Returns levels of table names where each
// level can execute in parallel. External sources (landing zones, references)
// are not graph nodes; only "reads from" edges between tables count.
func ResolveExecutionOrder(def *domain.PipelineDefinition) ([][]string, error) {
	if len(def.Tables) == 0 {
		return nil, nil
	}

	inDegree := make(map[string]int, len(def.Tables))
	dependents := make(map[string][]string) // upstream name → downstream names

	for _, t := range def.Tables {
		inDegree[t.Name] = 0
	}

	for _, t := range def.Tables {
		for _, dep := range t.Inputs {
			if _, ok := inDegree[dep]; !ok {
				return nil, &domain.UnknownDependencyError{Table: t.Name, Upstream: dep}
			}
			if dep == t.Name {
				return nil, &domain.CyclicDependencyError{Pipeline: def.Name}
			}
			dependents[dep] = append(dependents[dep], t.Name)
			inDegree[t.Name]++
		}
	}

	var levels [][]string
	var queue []string
	for _, t := range def.Tables {
		if inDegree[t.Name] == 0 {
			queue = append(queue, t.Name)
		}
	}

	processed := 0
	for len(queue) > 0 {
		level := make([]string, len(queue))
		copy(level, queue)
		levels = append(levels, level)
		processed += len(level)

		var next []string
		for _, name := range queue {
			for _, dep := range dependents[name] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		queue = next
	}

	if processed != len(def.Tables) {
		return nil, &domain.CyclicDependencyError{Pipeline: def.Name}
	}
	return levels, nil
}
