package graph

import (
	"encoding/json"
	"fmt"
	"time"
)

// EntityKind distinguishes the node types the engine understands.
type EntityKind string

const (
	EntityKindAccount  EntityKind = "account"
	EntityKindEvent    EntityKind = "event"
	EntityKindLocation EntityKind = "location"
	EntityKindSubject  EntityKind = "subject"
)

// Entity is a graph node. Exactly one of the kind-specific attribute
// structs is set, matching Kind.
type Entity struct {
	ID   string
	Kind EntityKind

	Account  *AccountAttributes
	Event    *EventAttributes
	Location *LocationAttributes
	Subject  *SubjectAttributes
}

// AccountAttributes describes a financial account node.
type AccountAttributes struct {
	Name      string  `json:"name"`
	Type      string  `json:"type"`
	RiskScore float64 `json:"risk_score"`
	Country   string  `json:"country,omitempty"`
}

// EventAttributes describes a timeline event node.
type EventAttributes struct {
	Title        string    `json:"title"`
	Type         string    `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
	Significance int       `json:"significance"`
	SubjectID    string    `json:"subject_id,omitempty"`
	Participants []string  `json:"participants,omitempty"`
	LocationName string    `json:"location_name,omitempty"`
}

// LocationAttributes describes a location node. VisitCount is the
// running number of events observed at this location.
type LocationAttributes struct {
	Name       string  `json:"name"`
	Latitude   float64 `json:"latitude,omitempty"`
	Longitude  float64 `json:"longitude,omitempty"`
	VisitCount int     `json:"visit_count"`
}

// SubjectAttributes describes a tracked subject node.
type SubjectAttributes struct {
	Name string `json:"name,omitempty"`
}

type entityEnvelope struct {
	ID         string          `json:"id"`
	Kind       EntityKind      `json:"kind"`
	Attributes json.RawMessage `json:"attributes,omitempty"`
}

// MarshalJSON encodes the entity as {id, kind, attributes} with the
// attribute payload taken from the kind-specific struct.
func (e *Entity) MarshalJSON() ([]byte, error) {
	var attrs interface{}
	switch e.Kind {
	case EntityKindAccount:
		attrs = e.Account
	case EntityKindEvent:
		attrs = e.Event
	case EntityKindLocation:
		attrs = e.Location
	case EntityKindSubject:
		attrs = e.Subject
	default:
		return nil, fmt.Errorf("unknown entity kind: %s", e.Kind)
	}

	raw, err := json.Marshal(attrs)
	if err != nil {
		return nil, err
	}

	return json.Marshal(entityEnvelope{
		ID:         e.ID,
		Kind:       e.Kind,
		Attributes: raw,
	})
}

// UnmarshalJSON decodes the {id, kind, attributes} envelope into the
// kind-specific attribute struct.
func (e *Entity) UnmarshalJSON(data []byte) error {
	var env entityEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	e.ID = env.ID
	e.Kind = env.Kind

	// Consumers dereference the kind-tagged struct unconditionally, so
	// an envelope without a payload is malformed, not a partial record.
	if len(env.Attributes) == 0 {
		return fmt.Errorf("entity %s: missing attributes", env.ID)
	}

	switch env.Kind {
	case EntityKindAccount:
		e.Account = &AccountAttributes{}
		return json.Unmarshal(env.Attributes, e.Account)
	case EntityKindEvent:
		e.Event = &EventAttributes{}
		return json.Unmarshal(env.Attributes, e.Event)
	case EntityKindLocation:
		e.Location = &LocationAttributes{}
		return json.Unmarshal(env.Attributes, e.Location)
	case EntityKindSubject:
		e.Subject = &SubjectAttributes{}
		return json.Unmarshal(env.Attributes, e.Subject)
	default:
		return fmt.Errorf("unknown entity kind: %s", env.Kind)
	}
}
