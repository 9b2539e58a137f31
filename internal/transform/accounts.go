// Package transform maps raw financial and timeline records into
// analysis graphs. Each transform is a pure function over an immutable
// input batch: re-running it on the same input produces an identical
// graph (entity ids are taken from the source records).
package transform

import (
	"fmt"
	"time"

	"github.com/aegisshield/pattern-engine/internal/graph"
)

// Account is a raw financial account record.
type Account struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Type      string  `json:"type"`
	RiskScore float64 `json:"risk_score"`
	Country   string  `json:"country,omitempty"`
}

// Transaction is a raw money-transfer record between two accounts.
type Transaction struct {
	ID         string    `json:"id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Amount     float64   `json:"amount"`
	Currency   string    `json:"currency"`
	Timestamp  time.Time `json:"timestamp"`
	Flagged    bool      `json:"flagged,omitempty"`
	FlagReason string    `json:"flag_reason,omitempty"`
}

// Accounts builds a transaction graph: one entity per account, one
// directed edge per transaction with weight = amount. All account
// nodes are materialized before any edge is wired, so account and
// transaction ordering in the input does not matter. A transaction
// referencing an absent account fails the whole transform with a
// DanglingReferenceError; no partial graph is returned.
func Accounts(accounts []Account, transactions []Transaction) (*graph.Graph, error) {
	g := graph.New()

	for _, a := range accounts {
		e := &graph.Entity{
			ID:   a.ID,
			Kind: graph.EntityKindAccount,
			Account: &graph.AccountAttributes{
				Name:      a.Name,
				Type:      a.Type,
				RiskScore: a.RiskScore,
				Country:   a.Country,
			},
		}
		if err := g.AddEntity(e); err != nil {
			return nil, fmt.Errorf("account %s: %w", a.ID, err)
		}
	}

	for _, t := range transactions {
		ts := t.Timestamp
		r := &graph.Relationship{
			ID:        t.ID,
			Source:    t.From,
			Target:    t.To,
			Kind:      graph.RelationshipKindTransaction,
			Weight:    t.Amount,
			Timestamp: &ts,
			Transaction: &graph.TransactionAttributes{
				Currency:   t.Currency,
				Flagged:    t.Flagged,
				FlagReason: t.FlagReason,
			},
		}
		if err := g.AddRelationship(r); err != nil {
			return nil, err
		}
	}

	return g, nil
}
