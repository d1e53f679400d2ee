// Package layout computes left-to-right layered positions for the automation
// graph. Layout is purely cosmetic and never affects execution semantics.
package layout

import (
	"sort"

	"github.com/cadencehq/cadence/pkg/graph"
	"github.com/cadencehq/cadence/pkg/models"
)

// Fixed node box dimensions and gaps used for spacing.
const (
	NodeWidth  = 260.0
	NodeHeight = 140.0
	ColumnGap  = 120.0
	RowGap     = 60.0
)

// Compute assigns every node a position from the dependency structure alone:
// nodes are layered so each dependency sits on a strictly lower rank than its
// dependents, and nodes within a rank are ordered by the median position of
// their dependencies to keep edge crossings down. Manual overrides are not
// consulted here.
func Compute(g *graph.Graph) map[string]models.Position {
	ranks := assignRanks(g)
	columns := orderColumns(g, ranks)

	positions := make(map[string]models.Position, g.Len())

	for rank, column := range columns {
		for row, code := range column {
			positions[code] = models.Position{
				X: float64(rank) * (NodeWidth + ColumnGap),
				Y: float64(row) * (NodeHeight + RowGap),
			}
		}
	}

	return positions
}

// Arrange resolves the effective position of every node: a manual override
// always wins, everything else falls back to the computed layout.
func Arrange(g *graph.Graph) map[string]models.Position {
	positions := Compute(g)

	for _, node := range g.Nodes() {
		if node.Position != nil {
			positions[node.Code] = *node.Position
		}
	}

	return positions
}

// AutoArrange recomputes the layout for the whole graph and replaces every
// manual override with the computed position. Destructive on purpose.
func AutoArrange(g *graph.Graph) map[string]models.Position {
	positions := Compute(g)

	for _, node := range g.Nodes() {
		g.SetPosition(node.Code, positions[node.Code])
	}

	return positions
}

// Reset clears all manual overrides so the computed layout applies everywhere.
func Reset(g *graph.Graph) map[string]models.Position {
	g.ClearPositions()

	return Compute(g)
}

// InferEdges returns the edge list to draw. When the node set carries
// structured dependencies those win; otherwise edges are inferred from
// left-to-right ordering by x-position, chaining each node to the next.
func InferEdges(g *graph.Graph) []graph.Edge {
	if edges := g.Edges(); len(edges) > 0 {
		return edges
	}

	positioned := make([]*models.Automation, 0, g.Len())

	for _, node := range g.Nodes() {
		if node.Position != nil {
			positioned = append(positioned, node)
		}
	}

	if len(positioned) < 2 {
		return nil
	}

	sort.SliceStable(positioned, func(i, j int) bool {
		return positioned[i].Position.X < positioned[j].Position.X
	})

	edges := make([]graph.Edge, 0, len(positioned)-1)
	for i := 1; i < len(positioned); i++ {
		edges = append(edges, graph.Edge{From: positioned[i-1].Code, To: positioned[i].Code})
	}

	return edges
}

// assignRanks layers the graph so every dependency has a strictly lower rank
// than its dependents. Nodes trapped in a dependency cycle never settle, so
// after the relaxation stalls they are parked on one trailing rank rather
// than rejected.
func assignRanks(g *graph.Graph) map[string]int {
	ranks := make(map[string]int, g.Len())
	pending := make(map[string]bool, g.Len())

	for _, code := range g.Codes() {
		pending[code] = true
	}

	for len(pending) > 0 {
		progressed := false

		for code := range pending {
			node := g.Node(code)
			rank := 0
			ready := true

			for _, dep := range node.Dependencies {
				depRank, ok := ranks[dep]
				if !ok {
					ready = false

					break
				}

				if depRank+1 > rank {
					rank = depRank + 1
				}
			}

			if !ready {
				continue
			}

			ranks[code] = rank
			delete(pending, code)

			progressed = true
		}

		if !progressed {
			break
		}
	}

	if len(pending) > 0 {
		trailing := 0
		for _, rank := range ranks {
			if rank+1 > trailing {
				trailing = rank + 1
			}
		}

		for code := range pending {
			ranks[code] = trailing
		}
	}

	return ranks
}

// orderColumns groups codes per rank and sorts each column by the median row
// of its dependencies in the previous columns, a single-pass variant of the
// classic crossing-reduction heuristic. Load order breaks ties.
func orderColumns(g *graph.Graph, ranks map[string]int) [][]string {
	maxRank := 0
	for _, rank := range ranks {
		if rank > maxRank {
			maxRank = rank
		}
	}

	columns := make([][]string, maxRank+1)
	for _, code := range g.Codes() {
		rank := ranks[code]
		columns[rank] = append(columns[rank], code)
	}

	rows := make(map[string]int, g.Len())
	for _, column := range columns {
		for row, code := range column {
			rows[code] = row
		}
	}

	for rank := 1; rank <= maxRank; rank++ {
		column := columns[rank]

		sort.SliceStable(column, func(i, j int) bool {
			return medianDependencyRow(g, rows, column[i]) < medianDependencyRow(g, rows, column[j])
		})

		for row, code := range column {
			rows[code] = row
		}
	}

	return columns
}

func medianDependencyRow(g *graph.Graph, rows map[string]int, code string) float64 {
	deps := g.Node(code).Dependencies
	if len(deps) == 0 {
		return float64(rows[code])
	}

	depRows := make([]int, 0, len(deps))
	for _, dep := range deps {
		depRows = append(depRows, rows[dep])
	}

	sort.Ints(depRows)

	mid := len(depRows) / 2
	if len(depRows)%2 == 1 {
		return float64(depRows[mid])
	}

	return float64(depRows[mid-1]+depRows[mid]) / 2
}
