package catalog

import (
	"fmt"
	"strings"

	"github.com/djamelji/leezr-sub000/internal/model"
)

// validate enforces the structural invariants of a catalog: every phase is
// a fetch phase, dependencies reference declared keys in the same or an
// earlier phase, no self-references, and the dependency graph is acyclic.
func validate(resources []Resource, byKey map[string]Resource) error {
	for _, r := range resources {
		order := model.PhaseOrder(r.Phase)
		if order < 0 {
			return fmt.Errorf("catalog: resource %q declared in non-fetch phase %q", r.Key, r.Phase)
		}
		if r.Store == "" || r.Action == "" {
			return fmt.Errorf("catalog: resource %q missing store/action reference", r.Key)
		}
		if r.TTL < 0 {
			return fmt.Errorf("catalog: resource %q has negative TTL", r.Key)
		}

		for _, dep := range r.DependsOn {
			if dep == r.Key {
				return fmt.Errorf("catalog: resource %q depends on itself", r.Key)
			}
			target, ok := byKey[dep]
			if !ok {
				return fmt.Errorf("catalog: resource %q depends on unknown key %q", r.Key, dep)
			}
			if model.PhaseOrder(target.Phase) > order {
				return fmt.Errorf("catalog: resource %q (%s phase) depends on %q declared in later phase %s",
					r.Key, r.Phase, dep, target.Phase)
			}
		}
	}

	return checkAcyclic(resources)
}

// checkAcyclic runs Kahn's algorithm over the dependency graph. On cycle
// detection it locates the cycle path via DFS so the error names the
// offending keys.
func checkAcyclic(resources []Resource) error {
	inDegree := make(map[string]int, len(resources))
	forward := make(map[string][]string) // dependency → dependents
	edges := make(map[string][]string, len(resources))
	for _, r := range resources {
		inDegree[r.Key] = 0
		edges[r.Key] = r.DependsOn
	}
	for _, r := range resources {
		for _, dep := range r.DependsOn {
			inDegree[r.Key]++
			forward[dep] = append(forward[dep], r.Key)
		}
	}

	var queue []string
	for _, r := range resources {
		if inDegree[r.Key] == 0 {
			queue = append(queue, r.Key)
		}
	}

	visited := 0
	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		visited++

		for _, dependent := range forward[key] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if visited == len(resources) {
		return nil
	}

	cycle := findCyclePath(resources, edges, inDegree)
	return fmt.Errorf("catalog: dependency cycle: %s", strings.Join(cycle, " -> "))
}

// findCyclePath reconstructs one cycle among keys with non-zero in-degree.
func findCyclePath(resources []Resource, edges map[string][]string, inDegree map[string]int) []string {
	const (
		white = 0 // unvisited
		gray  = 1 // in current path
		black = 2 // finished
	)

	color := make(map[string]int)
	parent := make(map[string]string)

	var cyclePath []string

	var dfs func(key string) bool
	dfs = func(key string) bool {
		color[key] = gray
		for _, dep := range edges[key] {
			if color[dep] == gray {
				cyclePath = []string{dep}
				current := key
				for current != dep {
					cyclePath = append(cyclePath, current)
					current = parent[current]
				}
				cyclePath = append(cyclePath, dep)
				for i, j := 0, len(cyclePath)-1; i < j; i, j = i+1, j-1 {
					cyclePath[i], cyclePath[j] = cyclePath[j], cyclePath[i]
				}
				return true
			}
			if color[dep] == white {
				parent[dep] = key
				if dfs(dep) {
					return true
				}
			}
		}
		color[key] = black
		return false
	}

	for _, r := range resources {
		if inDegree[r.Key] > 0 && color[r.Key] == white {
			if dfs(r.Key) {
				return cyclePath
			}
		}
	}
	return []string{"(cycle detected)"}
}
