// Package query provides pure, non-mutating views over analysis
// graphs: predicate filtering and single-pass aggregate statistics.
package query

import (
	"time"

	"github.com/aegisshield/pattern-engine/internal/graph"
)

// Predicate selects the entities and relationships a filtered view
// keeps. Kind-specific criteria only constrain entities of that kind;
// an empty criterion imposes nothing.
type Predicate struct {
	EntityKinds  []graph.EntityKind `json:"entity_kinds,omitempty"`
	AccountTypes []string           `json:"account_types,omitempty"`
	EventTypes   []string           `json:"event_types,omitempty"`
	Significance []int              `json:"significance,omitempty"`
	MinAmount    float64            `json:"min_amount,omitempty"`
	TimeRange    *graph.TimeRange   `json:"time_range,omitempty"`
}

// FilterGraph returns a new graph containing the entities matching
// the predicate and the relationships whose both endpoints survive
// the node filter. The input graph is never modified; entity and
// relationship records are shared, not copied, since they are
// immutable after transform.
func FilterGraph(g *graph.Graph, pred Predicate) *graph.Graph {
	out := graph.New()

	for _, e := range g.Entities() {
		if pred.matchesEntity(e) {
			// ids are unique in the source graph, AddEntity cannot fail
			_ = out.AddEntity(e)
		}
	}

	for _, r := range g.Relationships() {
		if !out.HasEntity(r.Source) || !out.HasEntity(r.Target) {
			continue
		}
		if !pred.matchesRelationship(r) {
			continue
		}
		_ = out.AddRelationship(r)
	}

	return out
}

func (p Predicate) matchesEntity(e *graph.Entity) bool {
	if len(p.EntityKinds) > 0 && !containsKind(p.EntityKinds, e.Kind) {
		return false
	}

	switch e.Kind {
	case graph.EntityKindAccount:
		if len(p.AccountTypes) > 0 && !containsString(p.AccountTypes, e.Account.Type) {
			return false
		}
	case graph.EntityKindEvent:
		if len(p.EventTypes) > 0 && !containsString(p.EventTypes, e.Event.Type) {
			return false
		}
		if len(p.Significance) > 0 && !containsInt(p.Significance, e.Event.Significance) {
			return false
		}
		if p.TimeRange != nil && !within(e.Event.Timestamp, *p.TimeRange) {
			return false
		}
	}

	return true
}

func (p Predicate) matchesRelationship(r *graph.Relationship) bool {
	if p.MinAmount > 0 && r.Kind == graph.RelationshipKindTransaction && r.Weight < p.MinAmount {
		return false
	}
	if p.TimeRange != nil && r.Timestamp != nil && !within(*r.Timestamp, *p.TimeRange) {
		return false
	}
	return true
}

func within(t time.Time, tr graph.TimeRange) bool {
	return !t.Before(tr.Start) && !t.After(tr.End)
}

func containsKind(set []graph.EntityKind, k graph.EntityKind) bool {
	for _, v := range set {
		if v == k {
			return true
		}
	}
	return false
}

func containsString(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func containsInt(set []int, n int) bool {
	for _, v := range set {
		if v == n {
			return true
		}
	}
	return false
}
