package handlers

import (
	"github.com/aegisshield/pattern-engine/internal/graph"
	"github.com/aegisshield/pattern-engine/internal/query"
	"github.com/aegisshield/pattern-engine/internal/transform"
)

// TransformAccountsRequest carries a raw transaction batch.
type TransformAccountsRequest struct {
	Accounts     []transform.Account     `json:"accounts"`
	Transactions []transform.Transaction `json:"transactions"`
}

// TransformTimelineRequest carries one subject's event history.
type TransformTimelineRequest struct {
	SubjectID string                    `json:"subject_id"`
	Events    []transform.TimelineEvent `json:"events"`
}

// DetectPatternsRequest runs detectors over a previously built graph.
// An empty detector set runs all registered detectors.
type DetectPatternsRequest struct {
	Graph     *graph.Graph `json:"graph"`
	Detectors []string     `json:"detectors,omitempty"`
}

// DetectPatternsResponse lists the findings of one detection run.
type DetectPatternsResponse struct {
	Patterns []*graph.Pattern `json:"patterns"`
	Count    int              `json:"count"`
}

// FilterGraphRequest applies a predicate to a graph.
type FilterGraphRequest struct {
	Graph     *graph.Graph    `json:"graph"`
	Predicate query.Predicate `json:"predicate"`
}

// GraphStatsRequest computes aggregate statistics for a graph.
type GraphStatsRequest struct {
	Graph *graph.Graph `json:"graph"`
}

// ActiveJobsResponse lists analyses currently running.
type ActiveJobsResponse struct {
	Jobs  []string `json:"jobs"`
	Count int      `json:"count"`
}
