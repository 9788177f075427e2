// Package graph computes dependency-ordered start and teardown sequences
// for declared services. Pure functions and in-memory state only.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrDuplicateService is returned when a service identifier is added twice.
	ErrDuplicateService = errors.New("service already declared")

	// ErrUnknownService is returned when a dependency edge references an
	// identifier that was never added.
	ErrUnknownService = errors.New("unknown service")
)

// CyclicDependencyError reports a dependency cycle, naming every service
// that participates in it.
type CyclicDependencyError struct {
	Members []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic dependency between services: %s", strings.Join(e.Members, ", "))
}

// =============================================================================
// ServiceGraph
// =============================================================================

// ServiceGraph holds declared services and their depends_on edges.
// Declaration order is remembered and used as the tie-break between
// services with no ordering constraint, so start order is deterministic.
type ServiceGraph struct {
	order []string            // declaration order
	nodes map[string]struct{} // declared identifiers
	deps  map[string][]string // service -> services it depends on
}

// New creates an empty ServiceGraph.
func New() *ServiceGraph {
	return &ServiceGraph{
		nodes: make(map[string]struct{}),
		deps:  make(map[string][]string),
	}
}

// AddService declares a service identifier. Identifiers are unique.
func (g *ServiceGraph) AddService(id string) error {
	if _, ok := g.nodes[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateService, id)
	}
	g.nodes[id] = struct{}{}
	g.order = append(g.order, id)
	return nil
}

// AddDependency records that from depends on to: to must start before from.
func (g *ServiceGraph) AddDependency(from, to string) error {
	if _, ok := g.nodes[from]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownService, from)
	}
	if _, ok := g.nodes[to]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownService, to)
	}
	g.deps[from] = append(g.deps[from], to)
	return nil
}

// StartOrder returns the service identifiers in a valid start order:
// every dependency comes before its dependents. Services with no ordering
// constraint between them keep declaration order. Fails with
// CyclicDependencyError when the edges contain a cycle.
func (g *ServiceGraph) StartOrder() ([]string, error) {
	layers, err := g.StartLayers()
	if err != nil {
		return nil, err
	}
	var order []string
	for _, layer := range layers {
		order = append(order, layer...)
	}
	return order, nil
}

// TeardownOrder returns the exact reverse of StartOrder.
func (g *ServiceGraph) TeardownOrder() ([]string, error) {
	order, err := g.StartOrder()
	if err != nil {
		return nil, err
	}
	reversed := make([]string, len(order))
	for i, id := range order {
		reversed[len(order)-1-i] = id
	}
	return reversed, nil
}

// StartLayers groups the start order into topological layers. Services in
// one layer have no ordering constraint between them and may start
// concurrently; layer N+1 must not start before layer N has started.
func (g *ServiceGraph) StartLayers() ([][]string, error) {
	inDegree := make(map[string]int, len(g.nodes))
	dependents := make(map[string][]string)
	for id := range g.nodes {
		inDegree[id] = 0
	}
	for from, tos := range g.deps {
		for _, to := range tos {
			inDegree[from]++
			dependents[to] = append(dependents[to], from)
		}
	}

	// Kahn's algorithm, peeling one layer per round. Within a layer the
	// declaration order is kept.
	var layers [][]string
	done := 0
	ready := func() []string {
		var layer []string
		for _, id := range g.order {
			if deg, ok := inDegree[id]; ok && deg == 0 {
				layer = append(layer, id)
			}
		}
		return layer
	}

	for done < len(g.nodes) {
		layer := ready()
		if len(layer) == 0 {
			return nil, &CyclicDependencyError{Members: FindCycle(g.deps, g.order)}
		}
		for _, id := range layer {
			delete(inDegree, id)
			done++
			for _, dep := range dependents[id] {
				if _, ok := inDegree[dep]; ok {
					inDegree[dep]--
				}
			}
		}
		layers = append(layers, layer)
	}

	return layers, nil
}

// Dependents returns the services that directly depend on id.
func (g *ServiceGraph) Dependents(id string) []string {
	var out []string
	for from, tos := range g.deps {
		for _, to := range tos {
			if to == id {
				out = append(out, from)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// HasDependents reports whether any service depends on id.
func (g *ServiceGraph) HasDependents(id string) bool {
	for _, tos := range g.deps {
		for _, to := range tos {
			if to == id {
				return true
			}
		}
	}
	return false
}

// =============================================================================
// Cycle Identification
// =============================================================================

// FindCycle names the services that participate in a dependency cycle.
// deps maps a service to the services it depends on; order fixes the
// output ordering (unknown identifiers sort last, by name).
//
// The set is found by trimming: first every node whose dependencies all
// resolve (Kahn residue), then every residual node nothing residual depends
// on. What remains is exactly the cycle membership.
func FindCycle(deps map[string][]string, order []string) []string {
	inDegree := make(map[string]int)
	dependents := make(map[string][]string)
	nodes := make(map[string]struct{})
	for from, tos := range deps {
		nodes[from] = struct{}{}
		for _, to := range tos {
			nodes[to] = struct{}{}
		}
	}
	for n := range nodes {
		inDegree[n] = 0
	}
	for from, tos := range deps {
		for _, to := range tos {
			inDegree[from]++
			dependents[to] = append(dependents[to], from)
		}
	}

	var queue []string
	for n, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, n)
		}
	}
	remaining := make(map[string]struct{}, len(nodes))
	for n := range nodes {
		remaining[n] = struct{}{}
	}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		delete(remaining, n)
		for _, dep := range dependents[n] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	// Residual nodes are cycle members plus their transitive dependents.
	// A dependent of a cycle has no residual node depending on it, so
	// repeatedly shaving leaf dependents leaves only the cycles.
	for {
		trimmed := false
		for n := range remaining {
			hasResidualDependent := false
			for _, dep := range dependents[n] {
				if _, ok := remaining[dep]; ok {
					hasResidualDependent = true
					break
				}
			}
			if !hasResidualDependent {
				delete(remaining, n)
				trimmed = true
			}
		}
		if !trimmed {
			break
		}
	}

	pos := make(map[string]int, len(order))
	for i, n := range order {
		pos[n] = i
	}
	members := make([]string, 0, len(remaining))
	for n := range remaining {
		members = append(members, n)
	}
	sort.Slice(members, func(i, j int) bool {
		pi, iok := pos[members[i]]
		pj, jok := pos[members[j]]
		if iok && jok {
			return pi < pj
		}
		if iok != jok {
			return iok
		}
		return members[i] < members[j]
	})
	return members
}
