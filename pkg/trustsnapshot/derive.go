package trustsnapshot

import (
	"time"

	"github.com/truthmesh/core/pkg/signal"
)

// DeriveContext reconstructs the graph, activity, grounding-relief, and
// isolation-flag inputs Compute needs from a replayed signal prefix. Only
// signals with time <= snapshotTime contribute, so the derived context is
// deterministic for a given snapshotTime regardless of later arrivals.
//
// Edge reconstruction: VOUCH signals become VOUCH edges (agent -> object);
// MEMBER_OF signals place agents into squads, and observed co-membership
// becomes COLLAB_INTERNAL edges while cross-squad collaboration recorded
// in a VOUCH's payload ("external": true) becomes COLLAB_EXTERNAL.
func DeriveContext(signals []signal.Signal, snapshotTime time.Time) (graph *Graph, activity map[string]ActivityLevel, grounding map[string]bool, isolated map[string]bool) {
	activity = make(map[string]ActivityLevel)
	grounding = make(map[string]bool)
	isolated = make(map[string]bool)

	var edges []Edge
	squadOf := make(map[string]string)
	recentCutoff := snapshotTime.Add(-7 * 24 * time.Hour)

	for _, s := range signals {
		if s.Time.After(snapshotTime) {
			continue
		}

		if !s.Time.Before(recentCutoff) {
			lvl := activity[s.AgentID]
			lvl.RecentSignalCount++
			if lvl.ExpectedCount == 0 {
				lvl.ExpectedCount = 7
			}
			activity[s.AgentID] = lvl
		}

		switch s.SignalType {
		case signal.TypeVouch:
			edgeType := EdgeCollabInternal
			if ext, ok := s.Payload["external"].(bool); ok && ext {
				edgeType = EdgeCollabExternal
			}
			edges = append(edges, Edge{Source: s.AgentID, Type: EdgeVouch, Target: s.ObjectID, Weight: 1})
			edges = append(edges, Edge{Source: s.AgentID, Type: edgeType, Target: s.ObjectID, Weight: 1})
		case signal.TypeMemberOf:
			squadOf[s.AgentID] = s.ObjectID
		case signal.TypeIsolationFlag:
			isolated[s.ObjectID] = true
		case signal.TypeTruthVerified:
			// Agreement with a calibrated sensor or authority grounds the
			// agents the verification attributes, attenuating isolation.
			if src, ok := s.Payload["grounded_by"].(string); ok && src != "" {
				for _, id := range attributedAgents(s) {
					grounding[id] = true
				}
			}
		}
	}

	// Co-membership in a squad is internal collaboration even without an
	// explicit vouch between the members.
	members := make(map[string][]string)
	for agent, squad := range squadOf {
		members[squad] = append(members[squad], agent)
	}
	for _, group := range members {
		for _, a := range group {
			for _, b := range group {
				if a != b {
					edges = append(edges, Edge{Source: a, Type: EdgeCollabInternal, Target: b, Weight: 1})
				}
			}
		}
	}

	return NewGraph(edges), activity, grounding, isolated
}

func attributedAgents(s signal.Signal) []string {
	raw, ok := s.Payload["contributors"].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if m, ok := v.(map[string]interface{}); ok {
			if id, ok := m["agent_id"].(string); ok {
				out = append(out, id)
			}
		}
	}
	return out
}
