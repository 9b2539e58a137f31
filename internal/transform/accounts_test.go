package transform

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegisshield/pattern-engine/internal/graph"
)

func TestAccounts(t *testing.T) {
	accounts := []Account{
		{ID: "acct-a", Name: "Alpha Holdings", Type: "business", RiskScore: 20},
		{ID: "acct-b", Name: "Beta LLC", Type: "business", RiskScore: 85},
	}
	transactions := []Transaction{
		{
			ID:        "tx-1",
			From:      "acct-a",
			To:        "acct-b",
			Amount:    1200.50,
			Currency:  "USD",
			Timestamp: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
			Flagged:   true,
		},
	}

	t.Run("builds one node per account and one edge per transaction", func(t *testing.T) {
		g, err := Accounts(accounts, transactions)
		require.NoError(t, err)

		assert.Equal(t, 2, g.EntityCount())
		assert.Equal(t, 1, g.RelationshipCount())

		e, ok := g.Entity("acct-b")
		require.True(t, ok)
		assert.Equal(t, graph.EntityKindAccount, e.Kind)
		assert.Equal(t, 85.0, e.Account.RiskScore)

		r, ok := g.Relationship("tx-1")
		require.True(t, ok)
		assert.Equal(t, graph.RelationshipKindTransaction, r.Kind)
		assert.Equal(t, 1200.50, r.Weight)
		assert.True(t, r.Transaction.Flagged)
	})

	t.Run("is deterministic over the same batch", func(t *testing.T) {
		first, err := Accounts(accounts, transactions)
		require.NoError(t, err)
		second, err := Accounts(accounts, transactions)
		require.NoError(t, err)

		assert.Equal(t, first.EntityCount(), second.EntityCount())
		for i, e := range first.Entities() {
			assert.Equal(t, e.ID, second.Entities()[i].ID)
		}
		for i, r := range first.Relationships() {
			assert.Equal(t, r.ID, second.Relationships()[i].ID)
		}
	})

	t.Run("fails whole transform on unknown account", func(t *testing.T) {
		bad := append(transactions, Transaction{
			ID:   "tx-2",
			From: "acct-a",
			To:   "acct-ghost",
		})

		g, err := Accounts(accounts, bad)
		require.Error(t, err)
		assert.Nil(t, g, "no partial graph on failure")

		var dangling *graph.DanglingReferenceError
		require.True(t, errors.As(err, &dangling))
		assert.Equal(t, "tx-2", dangling.RelationshipID)
		assert.Equal(t, "acct-ghost", dangling.EntityID)
	})

	t.Run("input ordering of transactions does not matter", func(t *testing.T) {
		reversed := []Transaction{
			{ID: "tx-2", From: "acct-b", To: "acct-a", Amount: 10, Timestamp: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)},
			{ID: "tx-1", From: "acct-a", To: "acct-b", Amount: 20, Timestamp: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		}
		g, err := Accounts(accounts, reversed)
		require.NoError(t, err)
		assert.Equal(t, 2, g.RelationshipCount())
	})
}
