// Package graph models addon dependencies as a directed graph. It answers
// transitive reachability queries in both directions and produces a
// dependency-first ordering with cycle detection.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrCycle is returned when an ordering is requested over a cycle.
var ErrCycle = errors.New("cycle detected")

// ErrNodeNotFound is returned when an operation references a non-existent node.
var ErrNodeNotFound = errors.New("node not found")

// ErrDuplicateNode is returned when adding a node that already exists.
var ErrDuplicateNode = errors.New("duplicate node")

// ErrSelfEdge is returned when an edge would create a self-loop.
var ErrSelfEdge = errors.New("self-referencing edge")

// Graph is a dependency graph. Edges point from a node to its
// dependencies: if A depends on B, there is an edge from A to B.
// Cycles are accepted on insert since the data comes from a remote
// catalog; they are reported when an ordering is requested.
type Graph struct {
	// order is the catalog display position, used as tiebreaker.
	order map[string]int
	// adjacency maps nodeID → set of dependency IDs (forward edges).
	adjacency map[string]map[string]bool
	// reverse maps nodeID → set of dependent IDs (backward edges).
	reverse map[string]map[string]bool
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		order:     make(map[string]int),
		adjacency: make(map[string]map[string]bool),
		reverse:   make(map[string]map[string]bool),
	}
}

// AddNode adds a node at the given display position.
func (g *Graph) AddNode(id string, order int) error {
	if _, exists := g.order[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, id)
	}
	g.order[id] = order
	g.adjacency[id] = make(map[string]bool)
	g.reverse[id] = make(map[string]bool)
	return nil
}

// AddEdge records that from depends on to. Both nodes must exist.
func (g *Graph) AddEdge(from, to string) error {
	if from == to {
		return fmt.Errorf("%w: %s", ErrSelfEdge, from)
	}
	if _, ok := g.order[from]; !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, from)
	}
	if _, ok := g.order[to]; !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, to)
	}
	g.adjacency[from][to] = true
	g.reverse[to][from] = true
	return nil
}

// Has reports whether id is a node of the graph.
func (g *Graph) Has(id string) bool {
	_, ok := g.order[id]
	return ok
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.order)
}

// DirectDependencies returns the immediate dependencies of id in display order.
func (g *Graph) DirectDependencies(id string) []string {
	return g.byOrder(g.adjacency[id])
}

// Dependencies returns everything id transitively depends on, in display
// order. The node itself is excluded even when it sits on a cycle.
func (g *Graph) Dependencies(id string) []string {
	if !g.Has(id) {
		return nil
	}
	visited := make(map[string]bool)
	g.walk(id, g.adjacency, visited)
	delete(visited, id)
	return g.byOrder(visited)
}

// Dependents returns everything that transitively depends on id, in
// display order.
func (g *Graph) Dependents(id string) []string {
	if !g.Has(id) {
		return nil
	}
	visited := make(map[string]bool)
	g.walk(id, g.reverse, visited)
	delete(visited, id)
	return g.byOrder(visited)
}

// Reaches reports whether src transitively depends on dst.
func (g *Graph) Reaches(src, dst string) bool {
	if src == dst {
		return false
	}
	visited := make(map[string]bool)
	queue := []string{src}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for dep := range g.adjacency[cur] {
			if dep == dst {
				return true
			}
			if !visited[dep] {
				visited[dep] = true
				queue = append(queue, dep)
			}
		}
	}
	return false
}

// TopologicalSort orders ids and their transitive dependencies so that
// dependencies come before dependents. Among nodes that are ready at the
// same time the lower display position comes first. Returns ErrCycle
// naming the nodes that could not be ordered.
func (g *Graph) TopologicalSort(ids []string) ([]string, error) {
	subset := make(map[string]bool)
	for _, id := range ids {
		if !g.Has(id) {
			return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
		}
		subset[id] = true
		for _, dep := range g.Dependencies(id) {
			subset[dep] = true
		}
	}

	inDegree := make(map[string]int, len(subset))
	for id := range subset {
		inDegree[id] = len(g.adjacency[id])
	}

	var ready []string
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}

	sorted := make([]string, 0, len(subset))
	for len(ready) > 0 {
		// Keep the ready set ordered by display position so ties resolve
		// the same way no matter when a node became ready.
		g.sortByOrder(ready)
		id := ready[0]
		ready = ready[1:]
		sorted = append(sorted, id)

		for dependent := range g.reverse[id] {
			if !subset[dependent] {
				continue
			}
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(sorted) != len(subset) {
		var stuck []string
		for id, deg := range inDegree {
			if deg > 0 {
				stuck = append(stuck, id)
			}
		}
		g.sortByOrder(stuck)
		return nil, fmt.Errorf("%w: could not order %s", ErrCycle, strings.Join(stuck, ", "))
	}
	return sorted, nil
}

// walk collects every node reachable from id over edges.
func (g *Graph) walk(id string, edges map[string]map[string]bool, visited map[string]bool) {
	for next := range edges[id] {
		if !visited[next] {
			visited[next] = true
			g.walk(next, edges, visited)
		}
	}
}

// byOrder returns the keys of set sorted by display position.
func (g *Graph) byOrder(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	g.sortByOrder(ids)
	return ids
}

// sortByOrder sorts ids in place by display position, then by ID.
func (g *Graph) sortByOrder(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		oi, oj := g.order[ids[i]], g.order[ids[j]]
		if oi != oj {
			return oi < oj
		}
		return ids[i] < ids[j]
	})
}
