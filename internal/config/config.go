package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	Environment string          `mapstructure:"environment"`
	Server      ServerConfig    `mapstructure:"server"`
	Kafka       KafkaConfig     `mapstructure:"kafka"`
	Engine      EngineConfig    `mapstructure:"engine"`
	Detectors   DetectorsConfig `mapstructure:"detectors"`
	Logging     LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	HTTPPort     int `mapstructure:"http_port"`
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
	IdleTimeout  int `mapstructure:"idle_timeout"`
}

// KafkaConfig holds Kafka configuration
type KafkaConfig struct {
	Enabled bool        `mapstructure:"enabled"`
	Brokers []string    `mapstructure:"brokers"`
	GroupID string      `mapstructure:"group_id"`
	Topics  KafkaTopics `mapstructure:"topics"`
	SASL    KafkaSASL   `mapstructure:"sasl"`
}

// KafkaTopics names the topics the engine consumes and produces
type KafkaTopics struct {
	CasesSubmitted    string `mapstructure:"cases_submitted"`
	PatternsDetected  string `mapstructure:"patterns_detected"`
	AnalysisCompleted string `mapstructure:"analysis_completed"`
}

// KafkaSASL holds Kafka authentication settings
type KafkaSASL struct {
	Enabled  bool   `mapstructure:"enabled"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// EngineConfig holds case-orchestration configuration
type EngineConfig struct {
	MaxConcurrentAnalyses int           `mapstructure:"max_concurrent_analyses"`
	AnalysisTimeout       time.Duration `mapstructure:"analysis_timeout"`
}

// DetectorsConfig holds per-detector thresholds
type DetectorsConfig struct {
	Circular    CircularConfig    `mapstructure:"circular"`
	Layering    LayeringConfig    `mapstructure:"layering"`
	Structuring StructuringConfig `mapstructure:"structuring"`
	Temporal    TemporalConfig    `mapstructure:"temporal"`
	CoLocation  CoLocationConfig  `mapstructure:"colocation"`
}

// CircularConfig bounds the simple-cycle search
type CircularConfig struct {
	MinCycleLength int     `mapstructure:"min_cycle_length"`
	MaxCycleLength int     `mapstructure:"max_cycle_length"`
	DriftTolerance float64 `mapstructure:"drift_tolerance"`
}

// LayeringConfig controls the fan-out window scan
type LayeringConfig struct {
	Window time.Duration `mapstructure:"window"`
	FanOut int           `mapstructure:"fan_out"`
}

// StructuringConfig controls sub-threshold banding detection
type StructuringConfig struct {
	ReportingThreshold float64       `mapstructure:"reporting_threshold"`
	BandLow            float64       `mapstructure:"band_low"`
	BandHigh           float64       `mapstructure:"band_high"`
	Window             time.Duration `mapstructure:"window"`
	MinCount           int           `mapstructure:"min_count"`
}

// TemporalConfig controls relationship inference between events
type TemporalConfig struct {
	ConcurrentWindow  time.Duration `mapstructure:"concurrent_window"`
	CausalBoostWindow time.Duration `mapstructure:"causal_boost_window"`
}

// CoLocationConfig controls cross-subject co-location detection.
// MaxGap of zero reproduces the unbounded reference behavior.
type CoLocationConfig struct {
	MinSubjects int           `mapstructure:"min_subjects"`
	MaxGap      time.Duration `mapstructure:"max_gap"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/pattern-engine")

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("PATTERN_ENGINE")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns the built-in configuration, used by tests and by
// callers embedding the engine as a library.
func Default() Config {
	return Config{
		Environment: "development",
		Server: ServerConfig{
			HTTPPort:     8084,
			ReadTimeout:  30,
			WriteTimeout: 30,
			IdleTimeout:  120,
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			GroupID: "pattern-engine",
			Topics: KafkaTopics{
				CasesSubmitted:    "cases.submitted",
				PatternsDetected:  "patterns.detected",
				AnalysisCompleted: "analysis.completed",
			},
		},
		Engine: EngineConfig{
			MaxConcurrentAnalyses: 4,
			AnalysisTimeout:       5 * time.Minute,
		},
		Detectors: DetectorsConfig{
			Circular: CircularConfig{
				MinCycleLength: 3,
				MaxCycleLength: 10,
				DriftTolerance: 0.10,
			},
			Layering: LayeringConfig{
				Window: time.Hour,
				FanOut: 5,
			},
			Structuring: StructuringConfig{
				ReportingThreshold: 10000,
				BandLow:            0.90,
				BandHigh:           0.999,
				Window:             72 * time.Hour,
				MinCount:           3,
			},
			Temporal: TemporalConfig{
				ConcurrentWindow:  time.Hour,
				CausalBoostWindow: 6 * time.Hour,
			},
			CoLocation: CoLocationConfig{
				MinSubjects: 2,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func setDefaults() {
	d := Default()

	viper.SetDefault("environment", d.Environment)

	viper.SetDefault("server.http_port", d.Server.HTTPPort)
	viper.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	viper.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	viper.SetDefault("server.idle_timeout", d.Server.IdleTimeout)

	viper.SetDefault("kafka.enabled", false)
	viper.SetDefault("kafka.brokers", d.Kafka.Brokers)
	viper.SetDefault("kafka.group_id", d.Kafka.GroupID)
	viper.SetDefault("kafka.topics.cases_submitted", d.Kafka.Topics.CasesSubmitted)
	viper.SetDefault("kafka.topics.patterns_detected", d.Kafka.Topics.PatternsDetected)
	viper.SetDefault("kafka.topics.analysis_completed", d.Kafka.Topics.AnalysisCompleted)

	viper.SetDefault("engine.max_concurrent_analyses", d.Engine.MaxConcurrentAnalyses)
	viper.SetDefault("engine.analysis_timeout", "5m")

	viper.SetDefault("detectors.circular.min_cycle_length", d.Detectors.Circular.MinCycleLength)
	viper.SetDefault("detectors.circular.max_cycle_length", d.Detectors.Circular.MaxCycleLength)
	viper.SetDefault("detectors.circular.drift_tolerance", d.Detectors.Circular.DriftTolerance)
	viper.SetDefault("detectors.layering.window", "1h")
	viper.SetDefault("detectors.layering.fan_out", d.Detectors.Layering.FanOut)
	viper.SetDefault("detectors.structuring.reporting_threshold", d.Detectors.Structuring.ReportingThreshold)
	viper.SetDefault("detectors.structuring.band_low", d.Detectors.Structuring.BandLow)
	viper.SetDefault("detectors.structuring.band_high", d.Detectors.Structuring.BandHigh)
	viper.SetDefault("detectors.structuring.window", "72h")
	viper.SetDefault("detectors.structuring.min_count", d.Detectors.Structuring.MinCount)
	viper.SetDefault("detectors.temporal.concurrent_window", "1h")
	viper.SetDefault("detectors.temporal.causal_boost_window", "6h")
	viper.SetDefault("detectors.colocation.min_subjects", d.Detectors.CoLocation.MinSubjects)
	viper.SetDefault("detectors.colocation.max_gap", "0s")

	viper.SetDefault("logging.level", d.Logging.Level)
	viper.SetDefault("logging.format", d.Logging.Format)
}

// Validate rejects configurations the engine cannot run with.
// Detector-level threshold validation happens again at detector
// construction; this catches misconfiguration before wiring starts.
func Validate(config *Config) error {
	if config.Server.HTTPPort <= 0 || config.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", config.Server.HTTPPort)
	}

	if config.Kafka.Enabled {
		if len(config.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers are required")
		}
		if config.Kafka.GroupID == "" {
			return fmt.Errorf("kafka group id is required")
		}
	}

	if config.Engine.MaxConcurrentAnalyses <= 0 {
		return fmt.Errorf("max_concurrent_analyses must be positive")
	}

	if config.Engine.AnalysisTimeout <= 0 {
		return fmt.Errorf("analysis_timeout must be positive")
	}

	return nil
}
