// Package kafka connects the engine to the event bus: a consumer
// group ingesting submitted cases and a producer publishing detection
// results.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/aegisshield/pattern-engine/internal/config"
	"github.com/aegisshield/pattern-engine/internal/engine"
	"github.com/aegisshield/pattern-engine/internal/graph"
	"github.com/aegisshield/pattern-engine/internal/metrics"
)

// Consumer handles Kafka message consumption
type Consumer struct {
	consumer sarama.ConsumerGroup
	engine   *engine.Engine
	config   config.Config
	metrics  *metrics.Collector
	logger   *slog.Logger
	topics   []string
	ctx      context.Context
	cancel   context.CancelFunc
}

// Producer handles Kafka message production
type Producer struct {
	producer sarama.SyncProducer
	config   config.Config
	metrics  *metrics.Collector
	logger   *slog.Logger
}

// NewConsumer creates a consumer group subscribed to the case
// submission topic.
func NewConsumer(
	eng *engine.Engine,
	cfg config.Config,
	collector *metrics.Collector,
	logger *slog.Logger,
) (*Consumer, error) {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	kafkaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	kafkaConfig.Consumer.Group.Session.Timeout = 10 * time.Second
	kafkaConfig.Consumer.Group.Heartbeat.Interval = 3 * time.Second
	kafkaConfig.Consumer.Return.Errors = true

	configureSASL(kafkaConfig, cfg)

	consumer, err := sarama.NewConsumerGroup(cfg.Kafka.Brokers, cfg.Kafka.GroupID, kafkaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		consumer: consumer,
		engine:   eng,
		config:   cfg,
		metrics:  collector,
		logger:   logger,
		topics:   []string{cfg.Kafka.Topics.CasesSubmitted},
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// NewProducer creates a synchronous producer for detection events.
func NewProducer(cfg config.Config, collector *metrics.Collector, logger *slog.Logger) (*Producer, error) {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll
	kafkaConfig.Producer.Retry.Max = 5
	kafkaConfig.Producer.Return.Successes = true
	kafkaConfig.Producer.Partitioner = sarama.NewRandomPartitioner

	configureSASL(kafkaConfig, cfg)

	producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}

	return &Producer{
		producer: producer,
		config:   cfg,
		metrics:  collector,
		logger:   logger,
	}, nil
}

func configureSASL(kafkaConfig *sarama.Config, cfg config.Config) {
	if !cfg.Kafka.SASL.Enabled {
		return
	}
	kafkaConfig.Net.SASL.Enable = true
	kafkaConfig.Net.SASL.Mechanism = sarama.SASLTypePlaintext
	kafkaConfig.Net.SASL.User = cfg.Kafka.SASL.Username
	kafkaConfig.Net.SASL.Password = cfg.Kafka.SASL.Password
}

// Start begins consuming messages
func (c *Consumer) Start() error {
	c.logger.Info("Starting Kafka consumer",
		"topics", c.topics,
		"group_id", c.config.Kafka.GroupID)

	go func() {
		for {
			select {
			case <-c.ctx.Done():
				return
			default:
				if err := c.consumer.Consume(c.ctx, c.topics, c); err != nil {
					c.logger.Error("Error consuming from Kafka", "error", err)
					time.Sleep(5 * time.Second) // Wait before retrying
				}
			}
		}
	}()

	go func() {
		for {
			select {
			case err := <-c.consumer.Errors():
				c.metrics.RecordKafkaError("consume")
				c.logger.Error("Kafka consumer error", "error", err)
			case <-c.ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("Stopping Kafka consumer")
	c.cancel()
	return c.consumer.Close()
}

// Setup implements sarama.ConsumerGroupHandler
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	c.logger.Info("Kafka consumer group session setup")
	return nil
}

// Cleanup implements sarama.ConsumerGroupHandler
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	c.logger.Info("Kafka consumer group session cleanup")
	return nil
}

// ConsumeClaim implements sarama.ConsumerGroupHandler
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}

			if err := c.handleMessage(message); err != nil {
				c.metrics.RecordKafkaError("handle")
				c.logger.Error("Failed to handle message",
					"topic", message.Topic,
					"partition", message.Partition,
					"offset", message.Offset,
					"error", err)
			} else {
				session.MarkMessage(message, "")
			}

		case <-session.Context().Done():
			return nil
		}
	}
}

func (c *Consumer) handleMessage(message *sarama.ConsumerMessage) error {
	c.metrics.RecordKafkaConsumed(message.Topic)
	c.logger.Debug("Received Kafka message",
		"topic", message.Topic,
		"partition", message.Partition,
		"offset", message.Offset)

	switch message.Topic {
	case c.config.Kafka.Topics.CasesSubmitted:
		return c.handleCaseSubmitted(message)
	default:
		c.logger.Warn("Unknown topic", "topic", message.Topic)
		return nil
	}
}

// handleCaseSubmitted runs the analysis for a submitted case. The
// engine bounds its own concurrency and publishes the results, so the
// consumer only decodes and dispatches.
func (c *Consumer) handleCaseSubmitted(message *sarama.ConsumerMessage) error {
	var event CaseSubmittedEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal case submitted event: %w", err)
	}

	c.logger.Info("Processing submitted case",
		"case_id", event.Case.CaseID,
		"submitted_by", event.SubmittedBy)

	if _, err := c.engine.AnalyzeCase(c.ctx, &event.Case); err != nil {
		return fmt.Errorf("failed to analyze case %s: %w", event.Case.CaseID, err)
	}

	return nil
}

// PublishPatternsDetected publishes one event per detected pattern.
func (p *Producer) PublishPatternsDetected(ctx context.Context, caseID string, patterns []*graph.Pattern) error {
	for _, pattern := range patterns {
		event := PatternDetectedEvent{
			CaseID:      caseID,
			PatternID:   pattern.ID,
			PatternType: string(pattern.Type),
			Severity:    string(pattern.Severity),
			EntityIDs:   pattern.Entities,
			Window:      pattern.Window,
			Description: pattern.Description,
			DetectedAt:  pattern.DetectedAt,
		}
		if err := p.publishEvent(p.config.Kafka.Topics.PatternsDetected, event); err != nil {
			return err
		}
	}
	return nil
}

// PublishAnalysisCompleted publishes a case completion event.
func (p *Producer) PublishAnalysisCompleted(ctx context.Context, result *engine.CaseResult) error {
	event := AnalysisCompletedEvent{
		JobID:        result.JobID,
		CaseID:       result.CaseID,
		Status:       "completed",
		PatternCount: len(result.Patterns),
		CompletedAt:  result.CompletedAt,
		Duration:     result.Duration,
	}
	if result.TransactionGraph != nil {
		event.EntityCount += result.TransactionGraph.EntityCount()
	}
	if result.TimelineGraph != nil {
		event.EntityCount += result.TimelineGraph.EntityCount()
	}
	return p.publishEvent(p.config.Kafka.Topics.AnalysisCompleted, event)
}

func (p *Producer) publishEvent(topic string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.StringEncoder(data),
		Headers: []sarama.RecordHeader{
			{
				Key:   []byte("content-type"),
				Value: []byte("application/json"),
			},
			{
				Key:   []byte("timestamp"),
				Value: []byte(fmt.Sprintf("%d", time.Now().Unix())),
			},
		},
	}

	partition, offset, err := p.producer.SendMessage(message)
	if err != nil {
		p.metrics.RecordKafkaError("produce")
		return fmt.Errorf("failed to send message to topic %s: %w", topic, err)
	}

	p.metrics.RecordKafkaProduced(topic)
	p.logger.Debug("Published event to Kafka",
		"topic", topic,
		"partition", partition,
		"offset", offset)

	return nil
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.producer.Close()
}

// Event types

// CaseSubmittedEvent wraps a case submitted for analysis.
type CaseSubmittedEvent struct {
	Case        engine.CaseRequest `json:"case"`
	SubmittedAt time.Time          `json:"submitted_at"`
	SubmittedBy string             `json:"submitted_by"`
}

// PatternDetectedEvent represents one detected pattern.
type PatternDetectedEvent struct {
	CaseID      string          `json:"case_id"`
	PatternID   string          `json:"pattern_id"`
	PatternType string          `json:"pattern_type"`
	Severity    string          `json:"severity"`
	EntityIDs   []string        `json:"entity_ids"`
	Window      graph.TimeRange `json:"window"`
	Description string          `json:"description"`
	DetectedAt  time.Time       `json:"detected_at"`
}

// AnalysisCompletedEvent represents case analysis completion.
type AnalysisCompletedEvent struct {
	JobID        string        `json:"job_id"`
	CaseID       string        `json:"case_id"`
	Status       string        `json:"status"`
	EntityCount  int           `json:"entity_count"`
	PatternCount int           `json:"pattern_count"`
	CompletedAt  time.Time     `json:"completed_at"`
	Duration     time.Duration `json:"duration"`
}
