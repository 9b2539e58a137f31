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

// LayeringDetector flags rapid fan-out: one source account spraying
// funds to many distinct destinations inside a short time window.
type LayeringDetector struct {
	cfg    config.LayeringConfig
	logger *slog.Logger
}

// NewLayeringDetector validates the window and fan-out threshold.
func NewLayeringDetector(cfg config.LayeringConfig, logger *slog.Logger) (*LayeringDetector, error) {
	if cfg.Window <= 0 {
		return nil, &graph.InvalidThresholdError{
			Detector:  "layering",
			Parameter: "window",
			Value:     cfg.Window.String(),
		}
	}
	if cfg.FanOut <= 0 {
		return nil, &graph.InvalidThresholdError{
			Detector:  "layering",
			Parameter: "fan_out",
			Value:     fmt.Sprintf("%d", cfg.FanOut),
		}
	}
	return &LayeringDetector{cfg: cfg, logger: logger}, nil
}

// Name implements Detector.
func (d *LayeringDetector) Name() string {
	return "layering"
}

// Detect slides the configured window over each source account's
// timestamp-sorted transactions and counts distinct destinations.
// Overlapping qualifying windows merge into a single pattern so the
// same burst is never reported twice. The context is checked once per
// source account.
func (d *LayeringDetector) Detect(ctx context.Context, g *graph.Graph) ([]*graph.Pattern, error) {
	bySource := make(map[string][]*graph.Relationship)
	for _, r := range g.Relationships() {
		if r.Kind != graph.RelationshipKindTransaction || r.Timestamp == nil {
			continue
		}
		bySource[r.Source] = append(bySource[r.Source], r)
	}

	sources := make([]string, 0, len(bySource))
	for src := range bySource {
		sources = append(sources, src)
	}
	sort.Strings(sources)

	var patterns []*graph.Pattern
	for _, src := range sources {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("layering scan: %w", graph.ErrCancelled)
		}

		txs := bySource[src]
		sort.Slice(txs, func(i, j int) bool {
			return txs[i].Timestamp.Before(*txs[j].Timestamp)
		})

		patterns = append(patterns, d.scanSource(src, txs)...)
	}

	return patterns, nil
}

type windowRun struct {
	first, last int // inclusive transaction index range
	peak        int // max distinct destinations in any single window
}

func (d *LayeringDetector) scanSource(source string, txs []*graph.Relationship) []*graph.Pattern {
	var runs []windowRun

	for i := range txs {
		end := txs[i].Timestamp.Add(d.cfg.Window)
		j := i
		distinct := make(map[string]struct{})
		for j < len(txs) && !txs[j].Timestamp.After(end) {
			distinct[txs[j].Target] = struct{}{}
			j++
		}
		if len(distinct) < d.cfg.FanOut {
			continue
		}

		if n := len(runs); n > 0 && i <= runs[n-1].last {
			if j-1 > runs[n-1].last {
				runs[n-1].last = j - 1
			}
			if len(distinct) > runs[n-1].peak {
				runs[n-1].peak = len(distinct)
			}
		} else {
			runs = append(runs, windowRun{first: i, last: j - 1, peak: len(distinct)})
		}
	}

	patterns := make([]*graph.Pattern, 0, len(runs))
	for _, run := range runs {
		patterns = append(patterns, d.buildPattern(source, txs[run.first:run.last+1], run.peak))
	}
	return patterns
}

func (d *LayeringDetector) buildPattern(source string, txs []*graph.Relationship, peak int) *graph.Pattern {
	entities := []string{source}
	seen := map[string]struct{}{source: {}}
	relIDs := make([]string, 0, len(txs))
	for _, t := range txs {
		relIDs = append(relIDs, t.ID)
		if _, ok := seen[t.Target]; !ok {
			seen[t.Target] = struct{}{}
			entities = append(entities, t.Target)
		}
	}

	return &graph.Pattern{
		ID:            uuid.New().String(),
		Type:          graph.PatternTypeLayering,
		Entities:      entities,
		Relationships: relIDs,
		Severity:      layeringSeverity(peak),
		Window: graph.TimeRange{
			Start: *txs[0].Timestamp,
			End:   *txs[len(txs)-1].Timestamp,
		},
		Description: fmt.Sprintf("fan-out from %s to %d destinations within %s", source, peak, d.cfg.Window),
		DetectedAt:  time.Now().UTC(),
	}
}

func layeringSeverity(distinctDestinations int) graph.Severity {
	switch {
	case distinctDestinations >= 10:
		return graph.SeverityHigh
	case distinctDestinations >= 6:
		return graph.SeverityMedium
	default:
		return graph.SeverityLow
	}
}
