// Package engine orchestrates case analysis: transforms raw batches
// into graphs, runs the pattern detectors, and publishes results.
// Every analysis is a pure function of its input batch, so cases run
// concurrently without locking; a semaphore bounds the parallelism.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aegisshield/pattern-engine/internal/config"
	"github.com/aegisshield/pattern-engine/internal/detect"
	"github.com/aegisshield/pattern-engine/internal/graph"
	"github.com/aegisshield/pattern-engine/internal/metrics"
	"github.com/aegisshield/pattern-engine/internal/transform"
)

// Publisher emits analysis events to downstream consumers. The Kafka
// producer implements it; a nil Publisher disables publication.
type Publisher interface {
	PublishPatternsDetected(ctx context.Context, caseID string, patterns []*graph.Pattern) error
	PublishAnalysisCompleted(ctx context.Context, result *CaseResult) error
}

// CaseRequest is one investigative case: a transaction batch plus
// per-subject timeline batches. An empty Detectors set runs every
// registered detector.
type CaseRequest struct {
	CaseID       string                               `json:"case_id"`
	Accounts     []transform.Account                  `json:"accounts,omitempty"`
	Transactions []transform.Transaction              `json:"transactions,omitempty"`
	Timelines    map[string][]transform.TimelineEvent `json:"timelines,omitempty"`
	Detectors    []string                             `json:"detectors,omitempty"`
}

// CaseResult is the annotated output of one case analysis.
type CaseResult struct {
	JobID            string           `json:"job_id"`
	CaseID           string           `json:"case_id"`
	TransactionGraph *graph.Graph     `json:"transaction_graph,omitempty"`
	TimelineGraph    *graph.Graph     `json:"timeline_graph,omitempty"`
	Patterns         []*graph.Pattern `json:"patterns"`
	StartedAt        time.Time        `json:"started_at"`
	CompletedAt      time.Time        `json:"completed_at"`
	Duration         time.Duration    `json:"duration"`
}

// Engine runs case analyses with bounded concurrency.
type Engine struct {
	registry   *detect.Registry
	inferencer *detect.TemporalInferencer
	publisher  Publisher
	config     config.Config
	metrics    *metrics.Collector
	logger     *slog.Logger

	activeAnalyses sync.Map
	semaphore      chan struct{}
}

// New creates an engine. publisher may be nil.
func New(
	registry *detect.Registry,
	inferencer *detect.TemporalInferencer,
	publisher Publisher,
	cfg config.Config,
	collector *metrics.Collector,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		registry:   registry,
		inferencer: inferencer,
		publisher:  publisher,
		config:     cfg,
		metrics:    collector,
		logger:     logger,
		semaphore:  make(chan struct{}, cfg.Engine.MaxConcurrentAnalyses),
	}
}

// Registry exposes the detector registry for direct detection calls.
func (e *Engine) Registry() *detect.Registry {
	return e.registry
}

// ActiveJobs returns the job ids of analyses currently running.
func (e *Engine) ActiveJobs() []string {
	var jobs []string
	e.activeAnalyses.Range(func(key, _ any) bool {
		jobs = append(jobs, key.(string))
		return true
	})
	return jobs
}

// AnalyzeCase transforms the case batches, runs the requested
// detectors over the resulting graphs and publishes the findings.
// All-or-nothing: any transform or detection error fails the case.
func (e *Engine) AnalyzeCase(ctx context.Context, req *CaseRequest) (*CaseResult, error) {
	select {
	case e.semaphore <- struct{}{}:
		defer func() { <-e.semaphore }()
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for analysis slot: %w", graph.ErrCancelled)
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.Engine.AnalysisTimeout)
	defer cancel()

	jobID := uuid.New().String()
	startedAt := time.Now()

	e.logger.Info("starting case analysis",
		"job_id", jobID,
		"case_id", req.CaseID,
		"accounts", len(req.Accounts),
		"transactions", len(req.Transactions),
		"timelines", len(req.Timelines))

	e.activeAnalyses.Store(jobID, req.CaseID)
	defer e.activeAnalyses.Delete(jobID)

	e.metrics.CaseStarted()
	status := "failed"
	defer func() {
		e.metrics.CaseCompleted(status, time.Since(startedAt))
	}()

	result := &CaseResult{
		JobID:     jobID,
		CaseID:    req.CaseID,
		StartedAt: startedAt,
	}

	if len(req.Accounts) > 0 || len(req.Transactions) > 0 {
		g, err := transform.Accounts(req.Accounts, req.Transactions)
		if err != nil {
			return nil, fmt.Errorf("transforming accounts: %w", err)
		}
		result.TransactionGraph = g
		e.metrics.RecordGraphSize(g.EntityCount(), g.RelationshipCount())
	}

	if len(req.Timelines) > 0 {
		g, err := e.buildTimelineGraph(ctx, req.Timelines)
		if err != nil {
			return nil, err
		}
		result.TimelineGraph = g
		e.metrics.RecordGraphSize(g.EntityCount(), g.RelationshipCount())
	}

	for _, g := range []*graph.Graph{result.TransactionGraph, result.TimelineGraph} {
		if g == nil {
			continue
		}
		patterns, err := e.registry.DetectPatterns(ctx, g, req.Detectors)
		if err != nil {
			return nil, err
		}
		result.Patterns = append(result.Patterns, patterns...)
	}

	for _, p := range result.Patterns {
		e.metrics.RecordPattern(p)
	}

	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(startedAt)
	status = "completed"

	e.publish(ctx, req.CaseID, result)

	e.logger.Info("case analysis completed",
		"job_id", jobID,
		"case_id", req.CaseID,
		"patterns_found", len(result.Patterns),
		"duration_ms", result.Duration.Milliseconds())

	return result, nil
}

// buildTimelineGraph transforms each subject's events, annotates the
// inferred temporal links and merges the per-subject graphs into one
// case graph.
func (e *Engine) buildTimelineGraph(ctx context.Context, timelines map[string][]transform.TimelineEvent) (*graph.Graph, error) {
	graphs := make([]*graph.Graph, 0, len(timelines))
	for subjectID, events := range timelines {
		g, err := transform.Timeline(events, subjectID)
		if err != nil {
			return nil, fmt.Errorf("transforming timeline for %s: %w", subjectID, err)
		}
		graphs = append(graphs, g)
	}

	merged, err := transform.MergeTimelines(graphs...)
	if err != nil {
		return nil, err
	}

	if _, err := e.inferencer.Annotate(ctx, merged); err != nil {
		return nil, err
	}

	return merged, nil
}

func (e *Engine) publish(ctx context.Context, caseID string, result *CaseResult) {
	if e.publisher == nil {
		return
	}
	if len(result.Patterns) > 0 {
		if err := e.publisher.PublishPatternsDetected(ctx, caseID, result.Patterns); err != nil {
			e.logger.Warn("failed to publish patterns", "case_id", caseID, "error", err)
		}
	}
	if err := e.publisher.PublishAnalysisCompleted(ctx, result); err != nil {
		e.logger.Warn("failed to publish analysis event", "case_id", caseID, "error", err)
	}
}
