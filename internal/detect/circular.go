package detect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	dgraph "github.com/dominikbraun/graph"
	"github.com/google/uuid"
	ybgraph "github.com/yourbasic/graph"

	"github.com/aegisshield/pattern-engine/internal/config"
	"github.com/aegisshield/pattern-engine/internal/graph"
)

// CircularDetector enumerates simple directed transaction cycles.
// Every cycle is reported exactly once, rotated so it starts at its
// lexicographically smallest account id: the DFS from a start vertex
// only visits ids greater than the start, so a cycle can only be
// discovered from its smallest member.
type CircularDetector struct {
	cfg    config.CircularConfig
	logger *slog.Logger
}

// NewCircularDetector validates the cycle-search bounds.
func NewCircularDetector(cfg config.CircularConfig, logger *slog.Logger) (*CircularDetector, error) {
	if cfg.MinCycleLength < 3 {
		return nil, &graph.InvalidThresholdError{
			Detector:  "circular",
			Parameter: "min_cycle_length",
			Value:     fmt.Sprintf("%d", cfg.MinCycleLength),
		}
	}
	if cfg.MaxCycleLength < cfg.MinCycleLength {
		return nil, &graph.InvalidThresholdError{
			Detector:  "circular",
			Parameter: "max_cycle_length",
			Value:     fmt.Sprintf("%d", cfg.MaxCycleLength),
		}
	}
	if cfg.DriftTolerance <= 0 {
		return nil, &graph.InvalidThresholdError{
			Detector:  "circular",
			Parameter: "drift_tolerance",
			Value:     fmt.Sprintf("%g", cfg.DriftTolerance),
		}
	}
	return &CircularDetector{cfg: cfg, logger: logger}, nil
}

// Name implements Detector.
func (d *CircularDetector) Name() string {
	return "circular"
}

// Detect enumerates simple cycles of length >= min_cycle_length over
// the transaction edges. The search is restricted to strongly
// connected components large enough to contain a qualifying cycle,
// and checks the context once per start vertex.
func (d *CircularDetector) Detect(ctx context.Context, g *graph.Graph) ([]*graph.Pattern, error) {
	ids, hops := transactionAdjacency(g)
	if len(ids) < d.cfg.MinCycleLength {
		return nil, nil
	}

	// Directed adjacency, deduplicated per ordered account pair.
	dg := dgraph.New(dgraph.StringHash, dgraph.Directed())
	for _, id := range ids {
		if err := dg.AddVertex(id); err != nil && !errors.Is(err, dgraph.ErrVertexAlreadyExists) {
			return nil, err
		}
	}
	for src, targets := range hops {
		for dst := range targets {
			if err := dg.AddEdge(src, dst); err != nil && !errors.Is(err, dgraph.ErrEdgeAlreadyExists) {
				return nil, err
			}
		}
	}
	adjacency, err := dg.AdjacencyMap()
	if err != nil {
		return nil, fmt.Errorf("building adjacency map: %w", err)
	}

	components := strongComponents(ids, adjacency)

	search := &cycleSearch{
		detector:  d,
		graph:     g,
		adjacency: adjacency,
		hops:      hops,
		component: components,
		seen:      make(map[string]struct{}),
	}

	var patterns []*graph.Pattern
	for _, start := range ids {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("circular flow scan: %w", graph.ErrCancelled)
		}
		if components[start].size < d.cfg.MinCycleLength {
			continue
		}
		search.path = []string{start}
		search.onStack = map[string]struct{}{start: {}}
		found := search.run(start, start)
		patterns = append(patterns, found...)
	}

	return patterns, nil
}

type component struct {
	id   int
	size int
}

// strongComponents partitions the account vertices into strongly
// connected components. A simple cycle lies entirely within one
// component, so components smaller than the minimum cycle length are
// skipped by the search.
func strongComponents(ids []string, adjacency map[string]map[string]dgraph.Edge[string]) map[string]component {
	index := make(map[string]int, len(ids))
	for i, id := range ids {
		index[id] = i
	}

	yb := ybgraph.New(len(ids))
	for src, targets := range adjacency {
		for dst := range targets {
			yb.Add(index[src], index[dst])
		}
	}

	result := make(map[string]component, len(ids))
	for compID, members := range ybgraph.StrongComponents(yb) {
		for _, m := range members {
			result[ids[m]] = component{id: compID, size: len(members)}
		}
	}
	return result
}

type cycleSearch struct {
	detector  *CircularDetector
	graph     *graph.Graph
	adjacency map[string]map[string]dgraph.Edge[string]
	hops      map[string]map[string]*graph.Relationship
	component map[string]component
	path      []string
	onStack   map[string]struct{}
	seen      map[string]struct{}
}

// run extends the current path from vertex v, recording a cycle every
// time an edge closes back to the start with sufficient length.
func (s *cycleSearch) run(start, v string) []*graph.Pattern {
	var patterns []*graph.Pattern

	neighbors := make([]string, 0, len(s.adjacency[v]))
	for w := range s.adjacency[v] {
		neighbors = append(neighbors, w)
	}
	sort.Strings(neighbors)

	for _, w := range neighbors {
		if w == start && len(s.path) >= s.detector.cfg.MinCycleLength {
			if p := s.record(); p != nil {
				patterns = append(patterns, p)
			}
			continue
		}
		// Only visit ids greater than the start so each cycle is
		// found once, already in canonical rotation.
		if w <= start {
			continue
		}
		if _, ok := s.onStack[w]; ok {
			continue
		}
		if s.component[w].id != s.component[start].id {
			continue
		}
		if len(s.path) >= s.detector.cfg.MaxCycleLength {
			continue
		}

		s.path = append(s.path, w)
		s.onStack[w] = struct{}{}
		patterns = append(patterns, s.run(start, w)...)
		delete(s.onStack, w)
		s.path = s.path[:len(s.path)-1]
	}

	return patterns
}

func (s *cycleSearch) record() *graph.Pattern {
	key := strings.Join(s.path, ">")
	if _, dup := s.seen[key]; dup {
		return nil
	}
	s.seen[key] = struct{}{}

	cycle := make([]string, len(s.path))
	copy(cycle, s.path)

	var (
		relIDs  []string
		total   float64
		flagged bool
		first   *graph.Relationship
		last    *graph.Relationship
		start   time.Time
		end     time.Time
	)
	for i := range cycle {
		src := cycle[i]
		dst := cycle[(i+1)%len(cycle)]
		hop := s.hops[src][dst]
		relIDs = append(relIDs, hop.ID)
		total += hop.Weight
		if hop.Transaction != nil && hop.Transaction.Flagged {
			flagged = true
		}
		if hop.Timestamp != nil {
			if start.IsZero() || hop.Timestamp.Before(start) {
				start = *hop.Timestamp
			}
			if hop.Timestamp.After(end) {
				end = *hop.Timestamp
			}
		}
		if i == 0 {
			first = hop
		}
		last = hop
	}

	return &graph.Pattern{
		ID:            uuid.New().String(),
		Type:          graph.PatternTypeCircular,
		Entities:      cycle,
		Relationships: relIDs,
		Severity:      s.severity(len(cycle), flagged, first, last),
		Window:        graph.TimeRange{Start: start, End: end},
		Description:   fmt.Sprintf("circular flow through %d accounts totaling %.2f", len(cycle), total),
		DetectedAt:    time.Now().UTC(),
	}
}

// severity: high for long or flagged cycles, medium for tight
// three-hop round trips where the amount barely drifts, low otherwise.
func (s *cycleSearch) severity(length int, flagged bool, first, last *graph.Relationship) graph.Severity {
	if length >= 4 || flagged {
		return graph.SeverityHigh
	}
	if first != nil && last != nil && first.Weight > 0 {
		drift := math.Abs(last.Weight-first.Weight) / first.Weight
		if drift < s.detector.cfg.DriftTolerance {
			return graph.SeverityMedium
		}
	}
	return graph.SeverityLow
}

// transactionAdjacency extracts the account vertices and one
// representative transaction per ordered account pair (the earliest
// by timestamp, for deterministic reporting of multi-edges).
func transactionAdjacency(g *graph.Graph) ([]string, map[string]map[string]*graph.Relationship) {
	var ids []string
	for _, e := range g.Entities() {
		if e.Kind == graph.EntityKindAccount {
			ids = append(ids, e.ID)
		}
	}
	sort.Strings(ids)

	hops := make(map[string]map[string]*graph.Relationship)
	for _, r := range g.Relationships() {
		if r.Kind != graph.RelationshipKindTransaction {
			continue
		}
		targets, ok := hops[r.Source]
		if !ok {
			targets = make(map[string]*graph.Relationship)
			hops[r.Source] = targets
		}
		existing, ok := targets[r.Target]
		if !ok || earlier(r, existing) {
			targets[r.Target] = r
		}
	}
	return ids, hops
}

func earlier(a, b *graph.Relationship) bool {
	if a.Timestamp == nil || b.Timestamp == nil {
		return false
	}
	return a.Timestamp.Before(*b.Timestamp)
}
