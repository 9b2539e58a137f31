package graph

import "time"

// PatternType identifies the suspicious structure a detector found.
type PatternType string

const (
	PatternTypeCircular    PatternType = "circular"
	PatternTypeLayering    PatternType = "layering"
	PatternTypeStructuring PatternType = "structuring"
	PatternTypeCoLocation  PatternType = "colocation"
)

// Severity is the ordinal risk classification attached to a pattern.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// TimeRange is the interval over which a pattern was observed.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Pattern is a detected suspicious structure. Entity order matters:
// cycle order for circular patterns, sequence order for layering.
// Patterns are derived, read-only and recomputed whenever the
// underlying graph changes.
type Pattern struct {
	ID            string      `json:"id"`
	Type          PatternType `json:"type"`
	Entities      []string    `json:"entities"`
	Relationships []string    `json:"relationships"`
	Severity      Severity    `json:"severity"`
	Window        TimeRange   `json:"window"`
	Description   string      `json:"description,omitempty"`
	DetectedAt    time.Time   `json:"detected_at"`
}
