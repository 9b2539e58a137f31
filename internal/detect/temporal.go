package detect

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/aegisshield/pattern-engine/internal/config"
	"github.com/aegisshield/pattern-engine/internal/graph"
)

// TemporalInferencer classifies the relationship between adjacent
// timeline events of a subject as causal, concurrent or temporal.
// Only adjacent-in-time pairs are linked, producing a chain of N-1
// edges for N events; non-adjacent structure is left to the
// co-location detector.
type TemporalInferencer struct {
	cfg    config.TemporalConfig
	logger *slog.Logger
}

// NewTemporalInferencer validates the classification windows.
func NewTemporalInferencer(cfg config.TemporalConfig, logger *slog.Logger) (*TemporalInferencer, error) {
	if cfg.ConcurrentWindow <= 0 {
		return nil, &graph.InvalidThresholdError{
			Detector:  "temporal",
			Parameter: "concurrent_window",
			Value:     cfg.ConcurrentWindow.String(),
		}
	}
	if cfg.CausalBoostWindow <= 0 {
		return nil, &graph.InvalidThresholdError{
			Detector:  "temporal",
			Parameter: "causal_boost_window",
			Value:     cfg.CausalBoostWindow.String(),
		}
	}
	return &TemporalInferencer{cfg: cfg, logger: logger}, nil
}

// Annotate infers relationship edges between each subject's adjacent
// events and adds them to the graph. It is called while the timeline
// graph is still being assembled, before any detector runs. Returns
// the number of edges added.
func (t *TemporalInferencer) Annotate(ctx context.Context, g *graph.Graph) (int, error) {
	bySubject := make(map[string][]*graph.Entity)
	for _, e := range g.Entities() {
		if e.Kind == graph.EntityKindEvent && e.Event.SubjectID != "" {
			bySubject[e.Event.SubjectID] = append(bySubject[e.Event.SubjectID], e)
		}
	}

	subjects := make([]string, 0, len(bySubject))
	for s := range bySubject {
		subjects = append(subjects, s)
	}
	sort.Strings(subjects)

	added := 0
	for _, subject := range subjects {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("temporal inference: %w", graph.ErrCancelled)
		}

		events := bySubject[subject]
		sort.Slice(events, func(i, j int) bool {
			return events[i].Event.Timestamp.Before(events[j].Event.Timestamp)
		})

		for i := 0; i+1 < len(events); i++ {
			edge := t.classify(events[i], events[i+1])
			if err := g.AddRelationship(edge); err != nil {
				return 0, err
			}
			added++
		}
	}

	return added, nil
}

// classify builds the inferred edge for one adjacent event pair.
// Shared location wins over proximity in time: repeated presence at
// the same place is the stronger causality signal.
func (t *TemporalInferencer) classify(a, b *graph.Entity) *graph.Relationship {
	delta := b.Event.Timestamp.Sub(a.Event.Timestamp)
	ts := b.Event.Timestamp

	kind, confidence := t.classifyDelta(a.Event, b.Event, delta)

	return &graph.Relationship{
		ID:        fmt.Sprintf("link:%s:%s", a.ID, b.ID),
		Source:    a.ID,
		Target:    b.ID,
		Kind:      kind,
		Weight:    confidence,
		Timestamp: &ts,
		Link:      &graph.LinkAttributes{Confidence: confidence},
	}
}

func (t *TemporalInferencer) classifyDelta(a, b *graph.EventAttributes, delta time.Duration) (graph.RelationshipKind, float64) {
	if a.LocationName != "" && a.LocationName == b.LocationName {
		if delta <= t.cfg.CausalBoostWindow {
			return graph.RelationshipKindCausal, 0.85
		}
		return graph.RelationshipKindCausal, 0.7
	}

	if delta <= t.cfg.ConcurrentWindow {
		// 1.0 at zero delta, decreasing linearly to 0.8 at the boundary.
		frac := float64(delta) / float64(t.cfg.ConcurrentWindow)
		return graph.RelationshipKindConcurrent, 1.0 - 0.2*frac
	}

	confidence := float64(t.cfg.ConcurrentWindow) / float64(delta)
	if confidence < 0.3 {
		confidence = 0.3
	}
	return graph.RelationshipKindTemporal, confidence
}
