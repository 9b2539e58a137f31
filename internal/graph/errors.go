package graph

import (
	"errors"
	"fmt"
)

// ErrCancelled is returned when a long-running scan is cancelled via
// its context. Partial results are discarded, never returned.
var ErrCancelled = errors.New("analysis cancelled")

// ErrDuplicateEntity is returned when an entity id is inserted twice.
var ErrDuplicateEntity = errors.New("duplicate entity id")

// DanglingReferenceError reports a relationship referencing an entity
// id that does not exist in the graph. It is fatal to the transform
// call that produced it: no partial graph is returned.
type DanglingReferenceError struct {
	RelationshipID string
	EntityID       string
}

func (e *DanglingReferenceError) Error() string {
	return fmt.Sprintf("relationship %s references unknown entity %s", e.RelationshipID, e.EntityID)
}

// InvalidThresholdError reports a detector configured with a
// non-positive window or threshold. It is raised at detector
// construction, never at detection time.
type InvalidThresholdError struct {
	Detector  string
	Parameter string
	Value     string
}

func (e *InvalidThresholdError) Error() string {
	return fmt.Sprintf("%s: invalid %s: %s", e.Detector, e.Parameter, e.Value)
}
