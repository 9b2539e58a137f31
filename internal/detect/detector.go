// Package detect implements the suspicious-pattern detectors. Each
// detector is constructed once with validated thresholds and is safe
// for concurrent use across independent graphs: detection never
// mutates the input graph or any shared state.
package detect

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aegisshield/pattern-engine/internal/config"
	"github.com/aegisshield/pattern-engine/internal/graph"
	"github.com/aegisshield/pattern-engine/internal/metrics"
)

// Detector finds one class of suspicious pattern in a graph.
type Detector interface {
	Name() string
	Detect(ctx context.Context, g *graph.Graph) ([]*graph.Pattern, error)
}

// Registry holds the constructed detectors and dispatches detection
// requests. Construct one registry per configuration; it carries no
// per-run state, so a single registry serves concurrent cases.
type Registry struct {
	detectors map[string]Detector
	order     []string
	metrics   *metrics.Collector
	logger    *slog.Logger
}

// NewRegistry constructs all pattern detectors from configuration.
// Threshold validation happens here, not at detection time.
func NewRegistry(cfg config.DetectorsConfig, collector *metrics.Collector, logger *slog.Logger) (*Registry, error) {
	circular, err := NewCircularDetector(cfg.Circular, logger)
	if err != nil {
		return nil, err
	}
	layering, err := NewLayeringDetector(cfg.Layering, logger)
	if err != nil {
		return nil, err
	}
	structuring, err := NewStructuringDetector(cfg.Structuring, logger)
	if err != nil {
		return nil, err
	}
	colocation, err := NewCoLocationDetector(cfg.CoLocation, logger)
	if err != nil {
		return nil, err
	}

	r := &Registry{
		detectors: make(map[string]Detector),
		metrics:   collector,
		logger:    logger,
	}
	for _, d := range []Detector{circular, layering, structuring, colocation} {
		r.detectors[d.Name()] = d
		r.order = append(r.order, d.Name())
	}
	return r, nil
}

// Names returns the registered detector names in registration order.
func (r *Registry) Names() []string {
	return r.order
}

// Detector returns the named detector.
func (r *Registry) Detector(name string) (Detector, bool) {
	d, ok := r.detectors[name]
	return d, ok
}

// DetectPatterns runs the requested detectors over the graph and
// aggregates their findings. An empty detector set runs every
// registered detector. A cancelled context discards all partial
// output and returns ErrCancelled.
func (r *Registry) DetectPatterns(ctx context.Context, g *graph.Graph, detectorSet []string) ([]*graph.Pattern, error) {
	names := detectorSet
	if len(names) == 0 {
		names = r.order
	}

	var patterns []*graph.Pattern
	for _, name := range names {
		d, ok := r.detectors[name]
		if !ok {
			return nil, fmt.Errorf("unknown detector: %s", name)
		}

		timer := r.metrics.NewTimer()
		found, err := d.Detect(ctx, g)
		if err != nil {
			return nil, fmt.Errorf("detector %s: %w", name, err)
		}
		r.metrics.RecordDetectorDuration(name, timer.Duration())

		r.logger.Info("detector completed",
			"detector", name,
			"patterns_found", len(found))

		patterns = append(patterns, found...)
	}

	return patterns, nil
}
