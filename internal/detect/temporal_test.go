package detect

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegisshield/pattern-engine/internal/config"
	"github.com/aegisshield/pattern-engine/internal/graph"
	"github.com/aegisshield/pattern-engine/internal/transform"
)

func temporalConfig() config.TemporalConfig {
	return config.TemporalConfig{
		ConcurrentWindow:  time.Hour,
		CausalBoostWindow: 6 * time.Hour,
	}
}

func timelineGraph(t *testing.T, subjectID string, events []transform.TimelineEvent) *graph.Graph {
	t.Helper()
	g, err := transform.Timeline(events, subjectID)
	require.NoError(t, err)
	return g
}

func inferredEdge(t *testing.T, g *graph.Graph, a, b string) *graph.Relationship {
	t.Helper()
	edge, ok := g.Relationship("link:" + a + ":" + b)
	require.True(t, ok, "expected inferred edge between %s and %s", a, b)
	return edge
}

func TestTemporalInferencer_Annotate(t *testing.T) {
	base := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	plaza := &transform.EventLocation{Name: "Plaza"}
	station := &transform.EventLocation{Name: "Station"}

	t.Run("events thirty minutes apart link as concurrent with high confidence", func(t *testing.T) {
		g := timelineGraph(t, "subject-1", []transform.TimelineEvent{
			{ID: "ev-1", Timestamp: base, Location: plaza},
			{ID: "ev-2", Timestamp: base.Add(30 * time.Minute), Location: station},
		})

		inf, err := NewTemporalInferencer(temporalConfig(), testLogger())
		require.NoError(t, err)

		added, err := inf.Annotate(context.Background(), g)
		require.NoError(t, err)
		assert.Equal(t, 1, added)

		edge := inferredEdge(t, g, "ev-1", "ev-2")
		assert.Equal(t, graph.RelationshipKindConcurrent, edge.Kind)
		assert.GreaterOrEqual(t, edge.Link.Confidence, 0.8)
		assert.InDelta(t, 0.9, edge.Link.Confidence, 1e-9)
	})

	t.Run("shared location wins over proximity in time", func(t *testing.T) {
		g := timelineGraph(t, "subject-1", []transform.TimelineEvent{
			{ID: "ev-1", Timestamp: base, Location: plaza},
			{ID: "ev-2", Timestamp: base.Add(30 * time.Minute), Location: plaza},
		})

		inf, err := NewTemporalInferencer(temporalConfig(), testLogger())
		require.NoError(t, err)

		_, err = inf.Annotate(context.Background(), g)
		require.NoError(t, err)

		edge := inferredEdge(t, g, "ev-1", "ev-2")
		assert.Equal(t, graph.RelationshipKindCausal, edge.Kind)
		assert.InDelta(t, 0.85, edge.Link.Confidence, 1e-9)
	})

	t.Run("same location beyond the boost window is weaker causal", func(t *testing.T) {
		g := timelineGraph(t, "subject-1", []transform.TimelineEvent{
			{ID: "ev-1", Timestamp: base, Location: plaza},
			{ID: "ev-2", Timestamp: base.Add(10 * time.Hour), Location: plaza},
		})

		inf, err := NewTemporalInferencer(temporalConfig(), testLogger())
		require.NoError(t, err)

		_, err = inf.Annotate(context.Background(), g)
		require.NoError(t, err)

		edge := inferredEdge(t, g, "ev-1", "ev-2")
		assert.Equal(t, graph.RelationshipKindCausal, edge.Kind)
		assert.InDelta(t, 0.7, edge.Link.Confidence, 1e-9)
	})

	t.Run("distant events link as temporal with decaying confidence", func(t *testing.T) {
		g := timelineGraph(t, "subject-1", []transform.TimelineEvent{
			{ID: "ev-1", Timestamp: base, Location: plaza},
			{ID: "ev-2", Timestamp: base.Add(3 * time.Hour), Location: station},
		})

		inf, err := NewTemporalInferencer(temporalConfig(), testLogger())
		require.NoError(t, err)

		_, err = inf.Annotate(context.Background(), g)
		require.NoError(t, err)

		edge := inferredEdge(t, g, "ev-1", "ev-2")
		assert.Equal(t, graph.RelationshipKindTemporal, edge.Kind)
		assert.InDelta(t, 1.0/3.0, edge.Link.Confidence, 1e-9)
	})

	t.Run("confidence never drops below the floor", func(t *testing.T) {
		g := timelineGraph(t, "subject-1", []transform.TimelineEvent{
			{ID: "ev-1", Timestamp: base, Location: plaza},
			{ID: "ev-2", Timestamp: base.Add(30 * 24 * time.Hour), Location: station},
		})

		inf, err := NewTemporalInferencer(temporalConfig(), testLogger())
		require.NoError(t, err)

		_, err = inf.Annotate(context.Background(), g)
		require.NoError(t, err)

		edge := inferredEdge(t, g, "ev-1", "ev-2")
		assert.InDelta(t, 0.3, edge.Link.Confidence, 1e-9)
	})

	t.Run("only adjacent pairs are linked", func(t *testing.T) {
		g := timelineGraph(t, "subject-1", []transform.TimelineEvent{
			{ID: "ev-1", Timestamp: base},
			{ID: "ev-2", Timestamp: base.Add(time.Hour)},
			{ID: "ev-3", Timestamp: base.Add(2 * time.Hour)},
		})

		inf, err := NewTemporalInferencer(temporalConfig(), testLogger())
		require.NoError(t, err)

		added, err := inf.Annotate(context.Background(), g)
		require.NoError(t, err)
		assert.Equal(t, 2, added, "N events produce N-1 links")

		_, skip := g.Relationship("link:ev-1:ev-3")
		assert.False(t, skip)
	})

	t.Run("subjects are chained independently", func(t *testing.T) {
		g1 := timelineGraph(t, "subject-1", []transform.TimelineEvent{
			{ID: "ev-a1", Timestamp: base},
			{ID: "ev-a2", Timestamp: base.Add(time.Hour)},
		})
		g2 := timelineGraph(t, "subject-2", []transform.TimelineEvent{
			{ID: "ev-b1", Timestamp: base.Add(30 * time.Minute)},
		})
		merged, err := transform.MergeTimelines(g1, g2)
		require.NoError(t, err)

		inf, err := NewTemporalInferencer(temporalConfig(), testLogger())
		require.NoError(t, err)

		added, err := inf.Annotate(context.Background(), merged)
		require.NoError(t, err)
		assert.Equal(t, 1, added, "no cross-subject links")
	})

	t.Run("cancelled context returns ErrCancelled", func(t *testing.T) {
		g := timelineGraph(t, "subject-1", []transform.TimelineEvent{
			{ID: "ev-1", Timestamp: base},
			{ID: "ev-2", Timestamp: base.Add(time.Hour)},
		})

		inf, err := NewTemporalInferencer(temporalConfig(), testLogger())
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err = inf.Annotate(ctx, g)
		assert.True(t, errors.Is(err, graph.ErrCancelled))
	})
}
