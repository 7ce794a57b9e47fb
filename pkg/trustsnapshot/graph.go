package trustsnapshot

import "sort"

// EdgeType is the closed set of relationship edges the
// vouch/collaboration graph carries.
type EdgeType string

const (
	EdgeVouch           EdgeType = "VOUCH"
	EdgeCollabInternal  EdgeType = "COLLAB_INTERNAL"
	EdgeCollabExternal  EdgeType = "COLLAB_EXTERNAL"
)

// Edge is one directed relationship between two agents.
type Edge struct {
	Source string
	Type   EdgeType
	Target string
	Weight float64
}

// Graph is the agent relationship graph modeled as a node array with
// integer indices and a separate edge list sorted by (source, type,
// target), giving deterministic iteration, cheap replay, and easy
// cycle prevention via a visited set.
type Graph struct {
	nodes    []string
	index    map[string]int
	edges    []Edge
	outbound map[string][]Edge // source -> edges, sorted
}

// NewGraph builds a Graph from an unordered edge list, sorting edges by
// (source, type, target) for deterministic iteration.
func NewGraph(edges []Edge) *Graph {
	g := &Graph{index: make(map[string]int), outbound: make(map[string][]Edge)}
	for _, e := range edges {
		g.addNode(e.Source)
		g.addNode(e.Target)
	}
	sorted := make([]Edge, len(edges))
	copy(sorted, edges)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Source != sorted[j].Source {
			return sorted[i].Source < sorted[j].Source
		}
		if sorted[i].Type != sorted[j].Type {
			return sorted[i].Type < sorted[j].Type
		}
		return sorted[i].Target < sorted[j].Target
	})
	g.edges = sorted
	for _, e := range sorted {
		g.outbound[e.Source] = append(g.outbound[e.Source], e)
	}
	return g
}

func (g *Graph) addNode(id string) {
	if _, ok := g.index[id]; !ok {
		g.index[id] = len(g.nodes)
		g.nodes = append(g.nodes, id)
	}
}

// InboundVouches returns every VOUCH edge targeting agentID, sorted by
// source for deterministic iteration.
func (g *Graph) InboundVouches(agentID string) []Edge {
	var out []Edge
	for _, e := range g.edges {
		if e.Target == agentID && e.Type == EdgeVouch {
			out = append(out, e)
		}
	}
	return out
}

// CollabCounts returns the internal- and external-collaboration edge
// counts originating from agentID, the inputs to the isolation index
// I = internal_collabs / (internal_collabs + external_collabs + 1).
func (g *Graph) CollabCounts(agentID string) (internal, external int) {
	for _, e := range g.outbound[agentID] {
		switch e.Type {
		case EdgeCollabInternal:
			internal++
		case EdgeCollabExternal:
			external++
		}
	}
	return
}

// networkBonus computes the ≤3-hop decayed vouch-reachability bonus:
// a ≤1.1x bonus for well-connected agents,
// reachable via inbound vouches from high-standing agents within 3 hops,
// decayed 0.2 per hop, cycles broken by a visited set. standingOf resolves
// an agent's raw standing for the "high-standing" qualification
// (threshold: standing >= highStandingThreshold, which Compute sets to the
// policy's theta2, the "dominant" phase boundary).
func networkBonus(g *Graph, agentID string, standingOf func(string) float64, highStandingThreshold float64) float64 {
	const maxHops = 3
	const hopDecay = 0.2

	visited := map[string]bool{agentID: true}
	frontier := []string{agentID}
	var bonus float64

	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		var next []string
		decay := 1.0 - hopDecay*float64(hop-1)
		if decay < 0 {
			decay = 0
		}
		for _, id := range frontier {
			for _, edge := range g.InboundVouches(id) {
				if visited[edge.Source] {
					continue
				}
				visited[edge.Source] = true
				if standingOf(edge.Source) >= highStandingThreshold {
					bonus += 0.1 * decay
				}
				next = append(next, edge.Source)
			}
		}
		frontier = next
	}

	if bonus > 0.1 {
		bonus = 0.1
	}
	return 1.0 + bonus // capped at 1.1x by construction
}
