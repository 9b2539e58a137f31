package transform

import (
	"fmt"
	"sort"

	"github.com/aegisshield/pattern-engine/internal/graph"
)

// MergeTimelines combines per-subject timeline graphs into one case
// graph. Location nodes shared across subjects are unified (visit
// counts sum); event, subject and movement records are disjoint by
// construction. Subjects observed at the same location are wired with
// a colocation edge per location and subject pair.
func MergeTimelines(graphs ...*graph.Graph) (*graph.Graph, error) {
	merged := graph.New()

	for _, g := range graphs {
		for _, e := range g.Entities() {
			if e.Kind == graph.EntityKindLocation {
				if existing, ok := merged.Entity(e.ID); ok {
					existing.Location.VisitCount += e.Location.VisitCount
					continue
				}
				clone := *e
				attrs := *e.Location
				clone.Location = &attrs
				if err := merged.AddEntity(&clone); err != nil {
					return nil, err
				}
				continue
			}
			if err := merged.AddEntity(e); err != nil {
				return nil, fmt.Errorf("merging timelines: %w", err)
			}
		}
		for _, r := range g.Relationships() {
			if err := merged.AddRelationship(r); err != nil {
				return nil, err
			}
		}
	}

	if err := wireCoLocations(merged); err != nil {
		return nil, err
	}

	return merged, nil
}

// wireCoLocations links every pair of subjects recorded at the same
// location with one shared colocation edge.
func wireCoLocations(g *graph.Graph) error {
	subjectsByLocation := make(map[string]map[string]struct{})
	for _, e := range g.Entities() {
		if e.Kind != graph.EntityKindEvent {
			continue
		}
		ev := e.Event
		if ev.LocationName == "" || ev.SubjectID == "" {
			continue
		}
		set, ok := subjectsByLocation[ev.LocationName]
		if !ok {
			set = make(map[string]struct{})
			subjectsByLocation[ev.LocationName] = set
		}
		set[ev.SubjectID] = struct{}{}
	}

	locations := make([]string, 0, len(subjectsByLocation))
	for loc := range subjectsByLocation {
		locations = append(locations, loc)
	}
	sort.Strings(locations)

	for _, loc := range locations {
		set := subjectsByLocation[loc]
		if len(set) < 2 {
			continue
		}
		subjects := make([]string, 0, len(set))
		for s := range set {
			subjects = append(subjects, s)
		}
		sort.Strings(subjects)

		for i := 0; i < len(subjects); i++ {
			for j := i + 1; j < len(subjects); j++ {
				edge := &graph.Relationship{
					ID:     fmt.Sprintf("colocation:%s:%s:%s", loc, subjects[i], subjects[j]),
					Source: subjects[i],
					Target: subjects[j],
					Kind:   graph.RelationshipKindCoLocation,
					Weight: 1,
					Link:   &graph.LinkAttributes{Confidence: 1},
				}
				if err := g.AddRelationship(edge); err != nil {
					return err
				}
			}
		}
	}

	return nil
}
