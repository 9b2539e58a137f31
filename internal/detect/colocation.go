package detect

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/aegisshield/pattern-engine/internal/config"
	"github.com/aegisshield/pattern-engine/internal/graph"
)

// CoLocationDetector flags locations visited by two or more distinct
// subjects. By default any shared location counts, however far apart
// in time the visits are; max_gap bounds the gap when configured.
type CoLocationDetector struct {
	cfg    config.CoLocationConfig
	logger *slog.Logger
}

// NewCoLocationDetector validates the subject threshold.
func NewCoLocationDetector(cfg config.CoLocationConfig, logger *slog.Logger) (*CoLocationDetector, error) {
	if cfg.MinSubjects < 2 {
		return nil, &graph.InvalidThresholdError{
			Detector:  "colocation",
			Parameter: "min_subjects",
			Value:     fmt.Sprintf("%d", cfg.MinSubjects),
		}
	}
	if cfg.MaxGap < 0 {
		return nil, &graph.InvalidThresholdError{
			Detector:  "colocation",
			Parameter: "max_gap",
			Value:     cfg.MaxGap.String(),
		}
	}
	return &CoLocationDetector{cfg: cfg, logger: logger}, nil
}

// Name implements Detector.
func (d *CoLocationDetector) Name() string {
	return "colocation"
}

type visit struct {
	subject string
	at      time.Time
}

// Detect builds a per-location map of subject presence timestamps and
// reports every location shared by at least min_subjects distinct
// subjects. The context is checked once per location.
func (d *CoLocationDetector) Detect(ctx context.Context, g *graph.Graph) ([]*graph.Pattern, error) {
	visits := make(map[string][]visit)
	for _, e := range g.Entities() {
		if e.Kind != graph.EntityKindEvent {
			continue
		}
		ev := e.Event
		if ev.LocationName == "" || ev.SubjectID == "" {
			continue
		}
		visits[ev.LocationName] = append(visits[ev.LocationName], visit{subject: ev.SubjectID, at: ev.Timestamp})
	}

	locations := make([]string, 0, len(visits))
	for loc := range visits {
		locations = append(locations, loc)
	}
	sort.Strings(locations)

	var patterns []*graph.Pattern
	for _, loc := range locations {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("colocation scan: %w", graph.ErrCancelled)
		}
		if p := d.scanLocation(g, loc, visits[loc]); p != nil {
			patterns = append(patterns, p)
		}
	}

	return patterns, nil
}

func (d *CoLocationDetector) scanLocation(g *graph.Graph, location string, vs []visit) *graph.Pattern {
	sort.Slice(vs, func(i, j int) bool { return vs[i].at.Before(vs[j].at) })

	involved := d.involvedSubjects(vs)
	if len(involved) < d.cfg.MinSubjects {
		return nil
	}

	subjects := make([]string, 0, len(involved))
	for s := range involved {
		subjects = append(subjects, s)
	}
	sort.Strings(subjects)

	var start, end time.Time
	for _, v := range vs {
		if _, ok := involved[v.subject]; !ok {
			continue
		}
		if start.IsZero() || v.at.Before(start) {
			start = v.at
		}
		if v.at.After(end) {
			end = v.at
		}
	}

	return &graph.Pattern{
		ID:            uuid.New().String(),
		Type:          graph.PatternTypeCoLocation,
		Entities:      subjects,
		Relationships: coLocationEdges(g, location, subjects),
		Severity:      coLocationSeverity(len(subjects)),
		Window:        graph.TimeRange{Start: start, End: end},
		Description:   fmt.Sprintf("%d subjects recorded at %s", len(subjects), location),
		DetectedAt:    time.Now().UTC(),
	}
}

// involvedSubjects returns the distinct subjects that qualify. With no
// gap bound, every visitor qualifies. With a bound, only subjects
// appearing inside some max_gap-wide interval that contains at least
// min_subjects distinct subjects do.
func (d *CoLocationDetector) involvedSubjects(vs []visit) map[string]struct{} {
	involved := make(map[string]struct{})

	if d.cfg.MaxGap == 0 {
		for _, v := range vs {
			involved[v.subject] = struct{}{}
		}
		return involved
	}

	for i := range vs {
		window := make(map[string]struct{})
		for j := i; j < len(vs) && vs[j].at.Sub(vs[i].at) <= d.cfg.MaxGap; j++ {
			window[vs[j].subject] = struct{}{}
		}
		if len(window) >= d.cfg.MinSubjects {
			for s := range window {
				involved[s] = struct{}{}
			}
		}
	}
	return involved
}

// coLocationEdges collects the colocation edges the merge step wired
// between the involved subjects, when the graph carries them. Graphs
// built outside the merge path may not have any.
func coLocationEdges(g *graph.Graph, location string, subjects []string) []string {
	var ids []string
	for i := 0; i < len(subjects); i++ {
		for j := i + 1; j < len(subjects); j++ {
			id := fmt.Sprintf("colocation:%s:%s:%s", location, subjects[i], subjects[j])
			if _, ok := g.Relationship(id); ok {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

func coLocationSeverity(subjects int) graph.Severity {
	switch {
	case subjects >= 4:
		return graph.SeverityHigh
	case subjects >= 3:
		return graph.SeverityMedium
	default:
		return graph.SeverityLow
	}
}
