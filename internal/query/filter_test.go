package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegisshield/pattern-engine/internal/graph"
	"github.com/aegisshield/pattern-engine/internal/transform"
)

func fixtureGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g, err := transform.Accounts(
		[]transform.Account{
			{ID: "acct-a", Name: "Alpha", Type: "checking", RiskScore: 10},
			{ID: "acct-b", Name: "Beta", Type: "savings", RiskScore: 90},
			{ID: "acct-c", Name: "Gamma", Type: "checking", RiskScore: 40},
		},
		[]transform.Transaction{
			{ID: "tx-1", From: "acct-a", To: "acct-b", Amount: 100, Currency: "USD", Timestamp: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)},
			{ID: "tx-2", From: "acct-b", To: "acct-c", Amount: 5000, Currency: "USD", Timestamp: time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC), Flagged: true},
			{ID: "tx-3", From: "acct-a", To: "acct-c", Amount: 250, Currency: "USD", Timestamp: time.Date(2024, 4, 3, 0, 0, 0, 0, time.UTC)},
		},
	)
	require.NoError(t, err)
	return g
}

func TestFilterGraph(t *testing.T) {
	t.Run("keeping a single node drops every edge", func(t *testing.T) {
		g := fixtureGraph(t)

		filtered := FilterGraph(g, Predicate{AccountTypes: []string{"savings"}})

		assert.Equal(t, 1, filtered.EntityCount())
		assert.Equal(t, 0, filtered.RelationshipCount(), "no edge survives with one endpoint")
		assert.True(t, filtered.HasEntity("acct-b"))
	})

	t.Run("edges survive only when both endpoints survive", func(t *testing.T) {
		g := fixtureGraph(t)

		filtered := FilterGraph(g, Predicate{AccountTypes: []string{"checking"}})

		assert.Equal(t, 2, filtered.EntityCount())
		assert.Equal(t, 1, filtered.RelationshipCount())
		_, ok := filtered.Relationship("tx-3")
		assert.True(t, ok)
	})

	t.Run("min amount constrains transaction edges", func(t *testing.T) {
		g := fixtureGraph(t)

		filtered := FilterGraph(g, Predicate{MinAmount: 1000})

		assert.Equal(t, 3, filtered.EntityCount())
		assert.Equal(t, 1, filtered.RelationshipCount())
		_, ok := filtered.Relationship("tx-2")
		assert.True(t, ok)
	})

	t.Run("time range constrains timestamped edges", func(t *testing.T) {
		g := fixtureGraph(t)

		filtered := FilterGraph(g, Predicate{TimeRange: &graph.TimeRange{
			Start: time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2024, 4, 3, 0, 0, 0, 0, time.UTC),
		}})

		assert.Equal(t, 2, filtered.RelationshipCount())
	})

	t.Run("empty predicate keeps everything", func(t *testing.T) {
		g := fixtureGraph(t)

		filtered := FilterGraph(g, Predicate{})

		assert.Equal(t, g.EntityCount(), filtered.EntityCount())
		assert.Equal(t, g.RelationshipCount(), filtered.RelationshipCount())
	})

	t.Run("input graph is never modified", func(t *testing.T) {
		g := fixtureGraph(t)

		_ = FilterGraph(g, Predicate{AccountTypes: []string{"savings"}})

		assert.Equal(t, 3, g.EntityCount())
		assert.Equal(t, 3, g.RelationshipCount())
	})

	t.Run("kind-specific criteria ignore other kinds", func(t *testing.T) {
		g := fixtureGraph(t)

		// Event criteria must not drop account entities.
		filtered := FilterGraph(g, Predicate{EventTypes: []string{"sighting"}})
		assert.Equal(t, 3, filtered.EntityCount())
	})
}

func TestStats(t *testing.T) {
	g := fixtureGraph(t)

	s := Stats(g)

	assert.Equal(t, 3, s.EntityCount)
	assert.Equal(t, 3, s.RelationshipCount)
	assert.Equal(t, 5350.0, s.TotalTransactionVolume)
	assert.Equal(t, 1, s.FlaggedTransactionCount)
	assert.Equal(t, 1, s.HighRiskEntityCount)
	assert.InDelta(t, 5350.0/3.0, s.AverageTransactionSize, 1e-9)
	assert.Equal(t, 3, s.EntitiesByKind[graph.EntityKindAccount])
	assert.Equal(t, 3, s.RelationshipsByKind[graph.RelationshipKindTransaction])
}

func TestStats_EmptyGraph(t *testing.T) {
	s := Stats(graph.New())

	assert.Equal(t, 0, s.EntityCount)
	assert.Equal(t, 0.0, s.AverageTransactionSize, "no division by zero")
}
