// Package graph holds the in-memory automation dependency graph for one
// mounted dashboard session.
package graph

import (
	"fmt"
	"sync"

	"github.com/cadencehq/cadence/pkg/models"
)

// Edge is one derived dependency relationship, directed dependency -> dependent.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Graph is the single source of truth for durable node fields within a
// session. It is rebuilt from scratch on every full snapshot reload; transient
// execution state lives outside it and survives reloads by code key.
//
// A graph is safe for concurrent use: the reconciler loop and request
// handlers share one instance. Durable-field and position writes go through
// ApplyReport, SetPosition and ClearPositions under an internal lock, and
// Node/Nodes return copies so readers never observe a write in progress.
// The topology (order, dependencies, dependents, warnings) is immutable
// after Load.
type Graph struct {
	mu         sync.RWMutex
	nodes      map[string]*models.Automation
	order      []string
	dependents map[string][]string
	warnings   []string
}

// Load builds a graph from a backend snapshot. Dependencies referencing
// unknown codes are dropped from the node and reported via Warnings; this is
// recoverable, not fatal.
func Load(nodes []*models.Automation) *Graph {
	g := &Graph{
		nodes:      make(map[string]*models.Automation, len(nodes)),
		order:      make([]string, 0, len(nodes)),
		dependents: make(map[string][]string),
	}

	for _, node := range nodes {
		if node == nil || node.Code == "" {
			g.warnings = append(g.warnings, "skipped automation without a code")

			continue
		}

		if _, exists := g.nodes[node.Code]; exists {
			g.warnings = append(g.warnings, fmt.Sprintf("duplicate automation code %q, keeping first", node.Code))

			continue
		}

		g.nodes[node.Code] = node
		g.order = append(g.order, node.Code)
	}

	for _, code := range g.order {
		node := g.nodes[code]
		kept := node.Dependencies[:0]

		for _, dep := range node.Dependencies {
			if _, exists := g.nodes[dep]; !exists {
				g.warnings = append(g.warnings, fmt.Sprintf("automation %q depends on unknown code %q", code, dep))

				continue
			}

			kept = append(kept, dep)
			g.dependents[dep] = append(g.dependents[dep], code)
		}

		node.Dependencies = kept
	}

	return g
}

// Node returns a copy of the automation for a code, or nil.
func (g *Graph) Node(code string) *models.Automation {
	g.mu.RLock()
	defer g.mu.RUnlock()

	node, exists := g.nodes[code]
	if !exists {
		return nil
	}

	copied := *node

	return &copied
}

// Nodes returns copies of all automations in load order.
func (g *Graph) Nodes() []*models.Automation {
	g.mu.RLock()
	defer g.mu.RUnlock()

	nodes := make([]*models.Automation, 0, len(g.order))

	for _, code := range g.order {
		copied := *g.nodes[code]
		nodes = append(nodes, &copied)
	}

	return nodes
}

// Codes returns all automation codes in load order.
func (g *Graph) Codes() []string {
	codes := make([]string, len(g.order))
	copy(codes, g.order)

	return codes
}

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int {
	return len(g.order)
}

// Dependents returns the codes that directly depend on the given code, i.e.
// the inverse of Dependencies. This is the adjacency used by cascades.
func (g *Graph) Dependents(code string) []string {
	return g.dependents[code]
}

// Edges derives the edge list from the dependency declarations.
func (g *Graph) Edges() []Edge {
	var edges []Edge

	for _, code := range g.order {
		for _, dep := range g.nodes[code].Dependencies {
			edges = append(edges, Edge{From: dep, To: code})
		}
	}

	return edges
}

// Walk visits the dependents of code breadth-first. The visited set guards
// against cyclic upstream data: a node is visited at most once per walk, so
// traversal terminates even if the declared dependencies contain a cycle.
// Returning false from visit stops descending past that node.
func (g *Graph) Walk(code string, visit func(code string) bool) {
	visited := map[string]bool{code: true}
	queue := append([]string(nil), g.dependents[code]...)

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if visited[current] {
			continue
		}

		visited[current] = true

		if !visit(current) {
			continue
		}

		queue = append(queue, g.dependents[current]...)
	}
}

// ApplyReport merges the durable fields of a status report into the graph.
// Only fields actually present in the report are overwritten; transient
// execution state and positions are never touched on this path. Reports for
// unknown codes are ignored.
func (g *Graph) ApplyReport(report models.StatusReport) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	node, exists := g.nodes[report.Code]
	if !exists {
		return false
	}

	if report.Status != nil {
		node.Status = *report.Status
	}

	if report.StatusLabel != nil {
		node.StatusLabel = *report.StatusLabel
	}

	if report.Connected != nil {
		node.Connected = *report.Connected
	}

	if report.LastRun != nil {
		node.LastRun = report.LastRun
	}

	return true
}

// SetPosition records a manual position override for a node.
func (g *Graph) SetPosition(code string, position models.Position) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	node, exists := g.nodes[code]
	if !exists {
		return false
	}

	p := position
	node.Position = &p

	return true
}

// ClearPositions removes all manual overrides so every node falls back to the
// computed layout.
func (g *Graph) ClearPositions() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, node := range g.nodes {
		node.Position = nil
	}
}

// Warnings returns the recoverable problems found while loading the snapshot.
func (g *Graph) Warnings() []string {
	return g.warnings
}
