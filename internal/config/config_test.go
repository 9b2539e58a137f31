package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	require.NoError(t, Validate(&cfg))

	assert.Equal(t, 8084, cfg.Server.HTTPPort)
	assert.Equal(t, 4, cfg.Engine.MaxConcurrentAnalyses)
	assert.Equal(t, 5*time.Minute, cfg.Engine.AnalysisTimeout)
	assert.Equal(t, 3, cfg.Detectors.Circular.MinCycleLength)
	assert.Equal(t, 10000.0, cfg.Detectors.Structuring.ReportingThreshold)
	assert.Equal(t, "cases.submitted", cfg.Kafka.Topics.CasesSubmitted)
}

func TestValidate(t *testing.T) {
	t.Run("rejects invalid port", func(t *testing.T) {
		cfg := Default()
		cfg.Server.HTTPPort = 0
		assert.Error(t, Validate(&cfg))
	})

	t.Run("requires brokers when kafka is enabled", func(t *testing.T) {
		cfg := Default()
		cfg.Kafka.Enabled = true
		cfg.Kafka.Brokers = nil
		assert.Error(t, Validate(&cfg))
	})

	t.Run("requires group id when kafka is enabled", func(t *testing.T) {
		cfg := Default()
		cfg.Kafka.Enabled = true
		cfg.Kafka.GroupID = ""
		assert.Error(t, Validate(&cfg))
	})

	t.Run("rejects non-positive concurrency", func(t *testing.T) {
		cfg := Default()
		cfg.Engine.MaxConcurrentAnalyses = 0
		assert.Error(t, Validate(&cfg))
	})

	t.Run("rejects non-positive timeout", func(t *testing.T) {
		cfg := Default()
		cfg.Engine.AnalysisTimeout = 0
		assert.Error(t, Validate(&cfg))
	})
}
