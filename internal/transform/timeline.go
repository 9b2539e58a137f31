package transform

import (
	"fmt"
	"sort"
	"time"

	"github.com/aegisshield/pattern-engine/internal/graph"
)

// TimelineEvent is a raw subject/location timeline record. Input
// batches are not required to be chronologically ordered.
type TimelineEvent struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Type         string         `json:"type"`
	Timestamp    time.Time      `json:"timestamp"`
	Significance int            `json:"significance"`
	Location     *EventLocation `json:"location,omitempty"`
	Participants []string       `json:"participants,omitempty"`
}

// EventLocation names where an event took place.
type EventLocation struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
}

// LocationEntityID derives the stable entity id for a location name.
func LocationEntityID(name string) string {
	return "location:" + name
}

func movementEdgeID(subjectID, from, to string) string {
	return fmt.Sprintf("movement:%s:%s:%s", subjectID, from, to)
}

// Timeline builds a timeline graph for one subject: one entity per
// event, one entity per distinct location name carrying a running
// visit count, a subject entity, and movement edges between the
// locations of consecutive events when they differ. Repeated
// transitions over the same ordered location pair increment the
// frequency of a single shared edge instead of duplicating it.
func Timeline(events []TimelineEvent, subjectID string) (*graph.Graph, error) {
	g := graph.New()

	if err := g.AddEntity(&graph.Entity{
		ID:      subjectID,
		Kind:    graph.EntityKindSubject,
		Subject: &graph.SubjectAttributes{},
	}); err != nil {
		return nil, fmt.Errorf("subject %s: %w", subjectID, err)
	}

	sorted := make([]TimelineEvent, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	locations := make(map[string]*graph.Entity)
	for _, ev := range sorted {
		e := &graph.Entity{
			ID:   ev.ID,
			Kind: graph.EntityKindEvent,
			Event: &graph.EventAttributes{
				Title:        ev.Title,
				Type:         ev.Type,
				Timestamp:    ev.Timestamp,
				Significance: ev.Significance,
				SubjectID:    subjectID,
				Participants: ev.Participants,
			},
		}
		if ev.Location != nil {
			e.Event.LocationName = ev.Location.Name
		}
		if err := g.AddEntity(e); err != nil {
			return nil, fmt.Errorf("event %s: %w", ev.ID, err)
		}

		if ev.Location == nil {
			continue
		}

		loc, seen := locations[ev.Location.Name]
		if !seen {
			loc = &graph.Entity{
				ID:   LocationEntityID(ev.Location.Name),
				Kind: graph.EntityKindLocation,
				Location: &graph.LocationAttributes{
					Name:      ev.Location.Name,
					Latitude:  ev.Location.Latitude,
					Longitude: ev.Location.Longitude,
				},
			}
			if err := g.AddEntity(loc); err != nil {
				return nil, fmt.Errorf("location %s: %w", ev.Location.Name, err)
			}
			locations[ev.Location.Name] = loc
		}
		loc.Location.VisitCount++
	}

	if err := wireMovements(g, sorted, subjectID); err != nil {
		return nil, err
	}

	return g, nil
}

// wireMovements links consecutive located events of the subject's
// chronological sequence. Events without a location do not break the
// chain; they are skipped.
func wireMovements(g *graph.Graph, sorted []TimelineEvent, subjectID string) error {
	edges := make(map[string]*graph.Relationship)

	var prev *EventLocation
	var prevTime time.Time
	for i := range sorted {
		cur := sorted[i].Location
		if cur == nil {
			continue
		}
		if prev == nil || prev.Name == cur.Name {
			prev = cur
			prevTime = sorted[i].Timestamp
			continue
		}

		id := movementEdgeID(subjectID, prev.Name, cur.Name)
		if edge, ok := edges[id]; ok {
			edge.Movement.Frequency++
			edge.Weight = float64(edge.Movement.Frequency)
		} else {
			ts := prevTime
			edge = &graph.Relationship{
				ID:        id,
				Source:    LocationEntityID(prev.Name),
				Target:    LocationEntityID(cur.Name),
				Kind:      graph.RelationshipKindMovement,
				Weight:    1,
				Timestamp: &ts,
				Movement: &graph.MovementAttributes{
					SubjectID: subjectID,
					Frequency: 1,
				},
			}
			if err := g.AddRelationship(edge); err != nil {
				return err
			}
			edges[id] = edge
		}

		prev = cur
		prevTime = sorted[i].Timestamp
	}

	return nil
}
