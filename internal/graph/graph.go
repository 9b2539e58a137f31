package graph

import (
	"encoding/json"
	"fmt"
)

// Graph is an insertion-ordered collection of entities and
// relationships. Entity ids are unique; every relationship endpoint
// must reference an existing entity. Graphs are built once per
// transform pass and never mutated afterwards.
type Graph struct {
	entities      []*Entity
	relationships []*Relationship
	entityByID    map[string]*Entity
	relByID       map[string]*Relationship
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		entityByID: make(map[string]*Entity),
		relByID:    make(map[string]*Relationship),
	}
}

// AddEntity inserts a node. Duplicate ids are rejected.
func (g *Graph) AddEntity(e *Entity) error {
	if e.ID == "" {
		return fmt.Errorf("entity id is required")
	}
	if _, exists := g.entityByID[e.ID]; exists {
		return fmt.Errorf("entity %s: %w", e.ID, ErrDuplicateEntity)
	}
	g.entities = append(g.entities, e)
	g.entityByID[e.ID] = e
	return nil
}

// AddRelationship inserts an edge. Both endpoints must already exist,
// otherwise a DanglingReferenceError is returned.
func (g *Graph) AddRelationship(r *Relationship) error {
	if _, ok := g.entityByID[r.Source]; !ok {
		return &DanglingReferenceError{RelationshipID: r.ID, EntityID: r.Source}
	}
	if _, ok := g.entityByID[r.Target]; !ok {
		return &DanglingReferenceError{RelationshipID: r.ID, EntityID: r.Target}
	}
	g.relationships = append(g.relationships, r)
	g.relByID[r.ID] = r
	return nil
}

// Entity returns the node with the given id.
func (g *Graph) Entity(id string) (*Entity, bool) {
	e, ok := g.entityByID[id]
	return e, ok
}

// Relationship returns the edge with the given id.
func (g *Graph) Relationship(id string) (*Relationship, bool) {
	r, ok := g.relByID[id]
	return r, ok
}

// HasEntity reports whether a node with the given id exists.
func (g *Graph) HasEntity(id string) bool {
	_, ok := g.entityByID[id]
	return ok
}

// Entities returns the nodes in insertion order.
func (g *Graph) Entities() []*Entity {
	return g.entities
}

// Relationships returns the edges in insertion order.
func (g *Graph) Relationships() []*Relationship {
	return g.relationships
}

// EntityCount returns the number of nodes.
func (g *Graph) EntityCount() int {
	return len(g.entities)
}

// RelationshipCount returns the number of edges.
func (g *Graph) RelationshipCount() int {
	return len(g.relationships)
}

type graphEnvelope struct {
	Entities      []*Entity       `json:"entities"`
	Relationships []*Relationship `json:"relationships"`
}

// MarshalJSON encodes the graph as {entities, relationships}.
func (g *Graph) MarshalJSON() ([]byte, error) {
	return json.Marshal(graphEnvelope{
		Entities:      g.entities,
		Relationships: g.relationships,
	})
}

// UnmarshalJSON rebuilds a graph from its envelope, re-validating the
// referential invariant.
func (g *Graph) UnmarshalJSON(data []byte) error {
	var env graphEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	rebuilt := New()
	for _, e := range env.Entities {
		if err := rebuilt.AddEntity(e); err != nil {
			return err
		}
	}
	for _, r := range env.Relationships {
		if err := rebuilt.AddRelationship(r); err != nil {
			return err
		}
	}

	*g = *rebuilt
	return nil
}
