package detect

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegisshield/pattern-engine/internal/config"
	"github.com/aegisshield/pattern-engine/internal/graph"
	"github.com/aegisshield/pattern-engine/internal/transform"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func txTime(day, hour int) time.Time {
	return time.Date(2024, 6, day, hour, 0, 0, 0, time.UTC)
}

func transactionGraph(t *testing.T, accountIDs []string, txs []transform.Transaction) *graph.Graph {
	t.Helper()
	accounts := make([]transform.Account, 0, len(accountIDs))
	for _, id := range accountIDs {
		accounts = append(accounts, transform.Account{ID: id, Name: id, Type: "checking"})
	}
	g, err := transform.Accounts(accounts, txs)
	require.NoError(t, err)
	return g
}

func circularConfig() config.CircularConfig {
	return config.CircularConfig{
		MinCycleLength: 3,
		MaxCycleLength: 10,
		DriftTolerance: 0.10,
	}
}

func TestCircularDetector_Detect(t *testing.T) {
	t.Run("finds a three-hop round trip with small drift as medium", func(t *testing.T) {
		g := transactionGraph(t, []string{"acct-a", "acct-b", "acct-c"}, []transform.Transaction{
			{ID: "tx-1", From: "acct-a", To: "acct-b", Amount: 5000, Timestamp: txTime(1, 9)},
			{ID: "tx-2", From: "acct-b", To: "acct-c", Amount: 4900, Timestamp: txTime(1, 10)},
			{ID: "tx-3", From: "acct-c", To: "acct-a", Amount: 4800, Timestamp: txTime(1, 11)},
		})

		d, err := NewCircularDetector(circularConfig(), testLogger())
		require.NoError(t, err)

		patterns, err := d.Detect(context.Background(), g)
		require.NoError(t, err)
		require.Len(t, patterns, 1)

		p := patterns[0]
		assert.Equal(t, graph.PatternTypeCircular, p.Type)
		assert.Equal(t, []string{"acct-a", "acct-b", "acct-c"}, p.Entities)
		assert.Equal(t, []string{"tx-1", "tx-2", "tx-3"}, p.Relationships)
		assert.Equal(t, graph.SeverityMedium, p.Severity)
		assert.True(t, p.Window.Start.Equal(txTime(1, 9)))
		assert.True(t, p.Window.End.Equal(txTime(1, 11)))
	})

	t.Run("reports each cycle once in canonical rotation", func(t *testing.T) {
		// The same cycle is reachable from every member; only the
		// rotation starting at the smallest id may be reported.
		g := transactionGraph(t, []string{"acct-a", "acct-b", "acct-c", "acct-d"}, []transform.Transaction{
			{ID: "tx-1", From: "acct-b", To: "acct-c", Amount: 100, Timestamp: txTime(1, 9)},
			{ID: "tx-2", From: "acct-c", To: "acct-d", Amount: 100, Timestamp: txTime(1, 10)},
			{ID: "tx-3", From: "acct-d", To: "acct-b", Amount: 100, Timestamp: txTime(1, 11)},
		})

		d, err := NewCircularDetector(circularConfig(), testLogger())
		require.NoError(t, err)

		patterns, err := d.Detect(context.Background(), g)
		require.NoError(t, err)
		require.Len(t, patterns, 1)
		assert.Equal(t, []string{"acct-b", "acct-c", "acct-d"}, patterns[0].Entities)
	})

	t.Run("grades cycles of four or more accounts high", func(t *testing.T) {
		g := transactionGraph(t, []string{"acct-a", "acct-b", "acct-c", "acct-d"}, []transform.Transaction{
			{ID: "tx-1", From: "acct-a", To: "acct-b", Amount: 100, Timestamp: txTime(1, 9)},
			{ID: "tx-2", From: "acct-b", To: "acct-c", Amount: 100, Timestamp: txTime(1, 10)},
			{ID: "tx-3", From: "acct-c", To: "acct-d", Amount: 100, Timestamp: txTime(1, 11)},
			{ID: "tx-4", From: "acct-d", To: "acct-a", Amount: 100, Timestamp: txTime(1, 12)},
		})

		d, err := NewCircularDetector(circularConfig(), testLogger())
		require.NoError(t, err)

		patterns, err := d.Detect(context.Background(), g)
		require.NoError(t, err)
		require.Len(t, patterns, 1)
		assert.Equal(t, graph.SeverityHigh, patterns[0].Severity)
	})

	t.Run("grades flagged three-hop cycles high", func(t *testing.T) {
		g := transactionGraph(t, []string{"acct-a", "acct-b", "acct-c"}, []transform.Transaction{
			{ID: "tx-1", From: "acct-a", To: "acct-b", Amount: 5000, Timestamp: txTime(1, 9), Flagged: true},
			{ID: "tx-2", From: "acct-b", To: "acct-c", Amount: 4900, Timestamp: txTime(1, 10)},
			{ID: "tx-3", From: "acct-c", To: "acct-a", Amount: 4800, Timestamp: txTime(1, 11)},
		})

		d, err := NewCircularDetector(circularConfig(), testLogger())
		require.NoError(t, err)

		patterns, err := d.Detect(context.Background(), g)
		require.NoError(t, err)
		require.Len(t, patterns, 1)
		assert.Equal(t, graph.SeverityHigh, patterns[0].Severity)
	})

	t.Run("grades large drift three-hop cycles low", func(t *testing.T) {
		g := transactionGraph(t, []string{"acct-a", "acct-b", "acct-c"}, []transform.Transaction{
			{ID: "tx-1", From: "acct-a", To: "acct-b", Amount: 5000, Timestamp: txTime(1, 9)},
			{ID: "tx-2", From: "acct-b", To: "acct-c", Amount: 3000, Timestamp: txTime(1, 10)},
			{ID: "tx-3", From: "acct-c", To: "acct-a", Amount: 2000, Timestamp: txTime(1, 11)},
		})

		d, err := NewCircularDetector(circularConfig(), testLogger())
		require.NoError(t, err)

		patterns, err := d.Detect(context.Background(), g)
		require.NoError(t, err)
		require.Len(t, patterns, 1)
		assert.Equal(t, graph.SeverityLow, patterns[0].Severity)
	})

	t.Run("ignores acyclic flows and two-hop ping-pong", func(t *testing.T) {
		g := transactionGraph(t, []string{"acct-a", "acct-b", "acct-c"}, []transform.Transaction{
			{ID: "tx-1", From: "acct-a", To: "acct-b", Amount: 100, Timestamp: txTime(1, 9)},
			{ID: "tx-2", From: "acct-b", To: "acct-a", Amount: 100, Timestamp: txTime(1, 10)},
			{ID: "tx-3", From: "acct-b", To: "acct-c", Amount: 100, Timestamp: txTime(1, 11)},
		})

		d, err := NewCircularDetector(circularConfig(), testLogger())
		require.NoError(t, err)

		patterns, err := d.Detect(context.Background(), g)
		require.NoError(t, err)
		assert.Empty(t, patterns)
	})

	t.Run("parallel transactions between a pair yield one cycle", func(t *testing.T) {
		g := transactionGraph(t, []string{"acct-a", "acct-b", "acct-c"}, []transform.Transaction{
			{ID: "tx-1", From: "acct-a", To: "acct-b", Amount: 100, Timestamp: txTime(1, 9)},
			{ID: "tx-1b", From: "acct-a", To: "acct-b", Amount: 200, Timestamp: txTime(2, 9)},
			{ID: "tx-2", From: "acct-b", To: "acct-c", Amount: 100, Timestamp: txTime(1, 10)},
			{ID: "tx-3", From: "acct-c", To: "acct-a", Amount: 100, Timestamp: txTime(1, 11)},
		})

		d, err := NewCircularDetector(circularConfig(), testLogger())
		require.NoError(t, err)

		patterns, err := d.Detect(context.Background(), g)
		require.NoError(t, err)
		require.Len(t, patterns, 1)
		// The earliest transaction represents the multi-edge.
		assert.Contains(t, patterns[0].Relationships, "tx-1")
		assert.NotContains(t, patterns[0].Relationships, "tx-1b")
	})

	t.Run("cancelled context discards partial output", func(t *testing.T) {
		g := transactionGraph(t, []string{"acct-a", "acct-b", "acct-c"}, []transform.Transaction{
			{ID: "tx-1", From: "acct-a", To: "acct-b", Amount: 100, Timestamp: txTime(1, 9)},
			{ID: "tx-2", From: "acct-b", To: "acct-c", Amount: 100, Timestamp: txTime(1, 10)},
			{ID: "tx-3", From: "acct-c", To: "acct-a", Amount: 100, Timestamp: txTime(1, 11)},
		})

		d, err := NewCircularDetector(circularConfig(), testLogger())
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		patterns, err := d.Detect(ctx, g)
		require.Error(t, err)
		assert.True(t, errors.Is(err, graph.ErrCancelled))
		assert.Nil(t, patterns)
	})
}

func TestNewCircularDetector_Validation(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.CircularConfig
	}{
		{"min below three", config.CircularConfig{MinCycleLength: 2, MaxCycleLength: 10, DriftTolerance: 0.1}},
		{"max below min", config.CircularConfig{MinCycleLength: 5, MaxCycleLength: 4, DriftTolerance: 0.1}},
		{"zero drift tolerance", config.CircularConfig{MinCycleLength: 3, MaxCycleLength: 10}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewCircularDetector(tc.cfg, testLogger())
			require.Error(t, err)

			var invalid *graph.InvalidThresholdError
			assert.True(t, errors.As(err, &invalid))
		})
	}
}
