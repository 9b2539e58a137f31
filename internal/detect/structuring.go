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

// StructuringDetector flags repeated transfers banded just below the
// regulatory reporting threshold between the same account pair. The
// banding itself is the signal, so any qualifying pattern is reported
// as high severity regardless of count.
type StructuringDetector struct {
	cfg    config.StructuringConfig
	logger *slog.Logger
}

// NewStructuringDetector validates the threshold, band and window.
func NewStructuringDetector(cfg config.StructuringConfig, logger *slog.Logger) (*StructuringDetector, error) {
	if cfg.ReportingThreshold <= 0 {
		return nil, &graph.InvalidThresholdError{
			Detector:  "structuring",
			Parameter: "reporting_threshold",
			Value:     fmt.Sprintf("%g", cfg.ReportingThreshold),
		}
	}
	if cfg.BandLow <= 0 || cfg.BandHigh <= cfg.BandLow || cfg.BandHigh >= 1 {
		return nil, &graph.InvalidThresholdError{
			Detector:  "structuring",
			Parameter: "band",
			Value:     fmt.Sprintf("[%g, %g]", cfg.BandLow, cfg.BandHigh),
		}
	}
	if cfg.Window <= 0 {
		return nil, &graph.InvalidThresholdError{
			Detector:  "structuring",
			Parameter: "window",
			Value:     cfg.Window.String(),
		}
	}
	if cfg.MinCount <= 0 {
		return nil, &graph.InvalidThresholdError{
			Detector:  "structuring",
			Parameter: "min_count",
			Value:     fmt.Sprintf("%d", cfg.MinCount),
		}
	}
	return &StructuringDetector{cfg: cfg, logger: logger}, nil
}

// Name implements Detector.
func (d *StructuringDetector) Name() string {
	return "structuring"
}

// Detect groups banded transactions by (source, destination) pair and
// reports every pair with at least min_count banded transfers inside
// the rolling window. The context is checked once per pair.
func (d *StructuringDetector) Detect(ctx context.Context, g *graph.Graph) ([]*graph.Pattern, error) {
	lo := d.cfg.BandLow * d.cfg.ReportingThreshold
	hi := d.cfg.BandHigh * d.cfg.ReportingThreshold

	byPair := make(map[[2]string][]*graph.Relationship)
	for _, r := range g.Relationships() {
		if r.Kind != graph.RelationshipKindTransaction || r.Timestamp == nil {
			continue
		}
		if r.Weight < lo || r.Weight > hi {
			continue
		}
		key := [2]string{r.Source, r.Target}
		byPair[key] = append(byPair[key], r)
	}

	pairs := make([][2]string, 0, len(byPair))
	for pair := range byPair {
		pairs = append(pairs, pair)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i][0] != pairs[j][0] {
			return pairs[i][0] < pairs[j][0]
		}
		return pairs[i][1] < pairs[j][1]
	})

	var patterns []*graph.Pattern
	for _, pair := range pairs {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("structuring scan: %w", graph.ErrCancelled)
		}

		txs := byPair[pair]
		sort.Slice(txs, func(i, j int) bool {
			return txs[i].Timestamp.Before(*txs[j].Timestamp)
		})

		patterns = append(patterns, d.scanPair(pair[0], pair[1], txs)...)
	}

	return patterns, nil
}

func (d *StructuringDetector) scanPair(source, target string, txs []*graph.Relationship) []*graph.Pattern {
	var runs []windowRun

	for i := range txs {
		end := txs[i].Timestamp.Add(d.cfg.Window)
		j := i
		for j < len(txs) && !txs[j].Timestamp.After(end) {
			j++
		}
		count := j - i
		if count < d.cfg.MinCount {
			continue
		}

		if n := len(runs); n > 0 && i <= runs[n-1].last {
			if j-1 > runs[n-1].last {
				runs[n-1].last = j - 1
			}
			if count > runs[n-1].peak {
				runs[n-1].peak = count
			}
		} else {
			runs = append(runs, windowRun{first: i, last: j - 1, peak: count})
		}
	}

	patterns := make([]*graph.Pattern, 0, len(runs))
	for _, run := range runs {
		window := txs[run.first : run.last+1]
		relIDs := make([]string, 0, len(window))
		for _, t := range window {
			relIDs = append(relIDs, t.ID)
		}

		patterns = append(patterns, &graph.Pattern{
			ID:            uuid.New().String(),
			Type:          graph.PatternTypeStructuring,
			Entities:      []string{source, target},
			Relationships: relIDs,
			Severity:      graph.SeverityHigh,
			Window: graph.TimeRange{
				Start: *window[0].Timestamp,
				End:   *window[len(window)-1].Timestamp,
			},
			Description: fmt.Sprintf("%d transfers from %s to %s banded below %.0f", len(window), source, target, d.cfg.ReportingThreshold),
			DetectedAt:  time.Now().UTC(),
		})
	}
	return patterns
}
