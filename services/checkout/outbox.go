package main

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher entrega eventos do outbox ao broker
type EventPublisher interface {
	Publish(ctx context.Context, event OutboxEvent) error
	Close() error
}

// KafkaPublisher publica eventos de pedido num tópico Kafka, particionados pelo ID do pedido
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(topic string, brokers ...string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll,
	}}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event OutboxEvent) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.AggregateID),
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.ID)},
			{Key: "event_type", Value: []byte(event.EventType)},
		},
		Time: event.CreatedAt,
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// OutboxPoller lê eventos não publicados e os envia ao broker (entrega at-least-once)
type OutboxPoller struct {
	repo      OutboxRepository
	publisher EventPublisher
	interval  time.Duration
	batchSize int
	logger    *zap.Logger
}

func NewOutboxPoller(repo OutboxRepository, publisher EventPublisher, cfg OutboxConfig, logger *zap.Logger) *OutboxPoller {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	return &OutboxPoller{
		repo:      repo,
		publisher: publisher,
		interval:  interval,
		batchSize: batchSize,
		logger:    orNop(logger),
	}
}

// Run processa o outbox até o contexto ser cancelado
func (p *OutboxPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.processUnpublishedEvents(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// processUnpublishedEvents retorna quantos eventos foram publicados
func (p *OutboxPoller) processUnpublishedEvents(ctx context.Context) int {
	events, err := p.repo.GetUnprocessedEvents(ctx, p.batchSize)
	if err != nil {
		p.logger.Error("❌ [OUTBOX] failed to fetch events", zap.Error(err))
		return 0
	}

	published := 0
	for _, event := range events {
		if err := p.publisher.Publish(ctx, event); err != nil {
			// ordem por pedido: para no primeiro erro e tenta de novo no próximo tick
			p.logger.Warn("❌ [OUTBOX] failed to publish event",
				zap.String("event_id", event.ID), zap.String("event_type", event.EventType), zap.Error(err))
			return published
		}
		if err := p.repo.MarkEventAsProcessed(ctx, event.ID); err != nil {
			p.logger.Error("❌ [OUTBOX] failed to mark event as processed",
				zap.String("event_id", event.ID), zap.Error(err))
			return published
		}
		published++
	}

	if published > 0 {
		p.logger.Debug("📤 [OUTBOX] events published", zap.Int("count", published))
	}
	return published
}
