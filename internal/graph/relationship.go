package graph

import (
	"encoding/json"
	"fmt"
	"time"
)

// RelationshipKind distinguishes the edge types the engine produces.
type RelationshipKind string

const (
	RelationshipKindTransaction RelationshipKind = "transaction"
	RelationshipKindCausal      RelationshipKind = "causal"
	RelationshipKindTemporal    RelationshipKind = "temporal"
	RelationshipKindConcurrent  RelationshipKind = "concurrent"
	RelationshipKindMovement    RelationshipKind = "movement"
	RelationshipKindCoLocation  RelationshipKind = "colocation"
)

// Relationship is a directed, weighted graph edge between two entity
// ids. Weight carries an amount for transactions, a confidence for
// inferred timeline links and a visit frequency for movements.
type Relationship struct {
	ID        string
	Source    string
	Target    string
	Kind      RelationshipKind
	Weight    float64
	Timestamp *time.Time

	Transaction *TransactionAttributes
	Link        *LinkAttributes
	Movement    *MovementAttributes
}

// TransactionAttributes describes a money-transfer edge.
type TransactionAttributes struct {
	Currency   string `json:"currency"`
	Flagged    bool   `json:"flagged,omitempty"`
	FlagReason string `json:"flag_reason,omitempty"`
}

// LinkAttributes describes an inferred causal/temporal/concurrent edge
// between timeline events.
type LinkAttributes struct {
	Confidence float64 `json:"confidence"`
}

// MovementAttributes describes a subject moving between two locations.
// Frequency counts repeated transitions over the same ordered pair.
type MovementAttributes struct {
	SubjectID string `json:"subject_id"`
	Frequency int    `json:"frequency"`
}

type relationshipEnvelope struct {
	ID         string           `json:"id"`
	Source     string           `json:"source"`
	Target     string           `json:"target"`
	Kind       RelationshipKind `json:"kind"`
	Weight     float64          `json:"weight"`
	Timestamp  *time.Time       `json:"timestamp,omitempty"`
	Attributes json.RawMessage  `json:"attributes,omitempty"`
}

// MarshalJSON encodes the relationship as
// {id, source, target, kind, weight, timestamp?, attributes}.
func (r *Relationship) MarshalJSON() ([]byte, error) {
	var attrs interface{}
	switch r.Kind {
	case RelationshipKindTransaction:
		attrs = r.Transaction
	case RelationshipKindCausal, RelationshipKindTemporal, RelationshipKindConcurrent, RelationshipKindCoLocation:
		attrs = r.Link
	case RelationshipKindMovement:
		attrs = r.Movement
	default:
		return nil, fmt.Errorf("unknown relationship kind: %s", r.Kind)
	}

	raw, err := json.Marshal(attrs)
	if err != nil {
		return nil, err
	}

	return json.Marshal(relationshipEnvelope{
		ID:         r.ID,
		Source:     r.Source,
		Target:     r.Target,
		Kind:       r.Kind,
		Weight:     r.Weight,
		Timestamp:  r.Timestamp,
		Attributes: raw,
	})
}

// UnmarshalJSON decodes the relationship envelope into the
// kind-specific attribute struct.
func (r *Relationship) UnmarshalJSON(data []byte) error {
	var env relationshipEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	r.ID = env.ID
	r.Source = env.Source
	r.Target = env.Target
	r.Kind = env.Kind
	r.Weight = env.Weight
	r.Timestamp = env.Timestamp

	if len(env.Attributes) == 0 {
		return fmt.Errorf("relationship %s: missing attributes", env.ID)
	}

	switch env.Kind {
	case RelationshipKindTransaction:
		r.Transaction = &TransactionAttributes{}
		return json.Unmarshal(env.Attributes, r.Transaction)
	case RelationshipKindCausal, RelationshipKindTemporal, RelationshipKindConcurrent, RelationshipKindCoLocation:
		r.Link = &LinkAttributes{}
		return json.Unmarshal(env.Attributes, r.Link)
	case RelationshipKindMovement:
		r.Movement = &MovementAttributes{}
		return json.Unmarshal(env.Attributes, r.Movement)
	default:
		return fmt.Errorf("unknown relationship kind: %s", env.Kind)
	}
}
