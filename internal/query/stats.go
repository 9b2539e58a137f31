package query

import "github.com/aegisshield/pattern-engine/internal/graph"

// highRiskScore is the risk score above which an account counts as
// high risk.
const highRiskScore = 70

// GraphStats summarizes a graph for dashboard consumption.
type GraphStats struct {
	EntityCount             int                            `json:"entity_count"`
	RelationshipCount       int                            `json:"relationship_count"`
	TotalTransactionVolume  float64                        `json:"total_transaction_volume"`
	FlaggedTransactionCount int                            `json:"flagged_transaction_count"`
	HighRiskEntityCount     int                            `json:"high_risk_entity_count"`
	AverageTransactionSize  float64                        `json:"average_transaction_size"`
	EntitiesByKind          map[graph.EntityKind]int       `json:"entities_by_kind"`
	RelationshipsByKind     map[graph.RelationshipKind]int `json:"relationships_by_kind"`
}

// Stats computes the aggregate statistics in a single pass over the
// graph. Expected graph sizes (thousands of nodes) need no caching.
func Stats(g *graph.Graph) *GraphStats {
	s := &GraphStats{
		EntityCount:         g.EntityCount(),
		RelationshipCount:   g.RelationshipCount(),
		EntitiesByKind:      make(map[graph.EntityKind]int),
		RelationshipsByKind: make(map[graph.RelationshipKind]int),
	}

	for _, e := range g.Entities() {
		s.EntitiesByKind[e.Kind]++
		if e.Kind == graph.EntityKindAccount && e.Account.RiskScore > highRiskScore {
			s.HighRiskEntityCount++
		}
	}

	transactions := 0
	for _, r := range g.Relationships() {
		s.RelationshipsByKind[r.Kind]++
		if r.Kind != graph.RelationshipKindTransaction {
			continue
		}
		transactions++
		s.TotalTransactionVolume += r.Weight
		if r.Transaction != nil && r.Transaction.Flagged {
			s.FlaggedTransactionCount++
		}
	}

	if transactions > 0 {
		s.AverageTransactionSize = s.TotalTransactionVolume / float64(transactions)
	}

	return s
}
