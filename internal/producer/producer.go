package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/marminbh/partner-sync-svc/internal/models"
)

// confirmPublisher is the slice of the AMQP connection the producer
// needs; tests substitute a fake.
type confirmPublisher interface {
	PublishWithConfirm(ctx context.Context, exchange, routingKey string, body []byte) (uint64, error)
}

// Producer publishes normalized records to the partner push channels.
// Publish only returns nil once the broker confirmed the message;
// callers must treat any error as "not delivered", because only a
// confirmed publish may advance a watermark.
type Producer struct {
	conn     confirmPublisher
	db       *gorm.DB
	logger   *zap.Logger
	exchange string
	prefix   string
	timeout  time.Duration
}

// New creates a Producer publishing to exchange with routing keys of
// the form "<prefix>.<topic>".
func New(conn confirmPublisher, db *gorm.DB, logger *zap.Logger, exchange, prefix string, timeout time.Duration) *Producer {
	return &Producer{
		conn:     conn,
		db:       db,
		logger:   logger,
		exchange: exchange,
		prefix:   prefix,
		timeout:  timeout,
	}
}

// Publish sends one normalized record for a topic and waits for the
// broker confirm, bounded by the configured timeout. Both outcomes are
// recorded on the append-only push audit trail.
func (p *Producer) Publish(ctx context.Context, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal push payload: %w", err)
	}

	routingKey := p.prefix + "." + topic

	pubCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	deliveryTag, err := p.conn.PublishWithConfirm(pubCtx, p.exchange, routingKey, body)
	if err != nil {
		p.recordFailure(topic, routingKey, body, err)
		return fmt.Errorf("push for topic %s not confirmed: %w", topic, err)
	}

	p.recordSuccess(topic, routingKey, body, deliveryTag)
	return nil
}

func (p *Producer) recordSuccess(topic, routingKey string, body []byte, deliveryTag uint64) {
	p.logger.Named("push."+topic).Info("Push confirmed",
		zap.String("topic", topic),
		zap.String("exchange", p.exchange),
		zap.String("routing_key", routingKey),
		zap.Uint64("delivery_tag", deliveryTag),
	)

	record := models.PushAuditRecord{
		ID:          uuid.New(),
		Topic:       topic,
		RoutingKey:  routingKey,
		Payload:     string(body),
		Status:      models.PushStatusConfirmed,
		DeliveryTag: deliveryTag,
		CreatedAt:   time.Now().UTC(),
	}
	if err := p.db.Create(&record).Error; err != nil {
		// The push itself succeeded; a lost audit row must not fail it.
		p.logger.Error("Failed to write push audit record",
			zap.String("topic", topic),
			zap.Error(err),
		)
	}
}

func (p *Producer) recordFailure(topic, routingKey string, body []byte, pushErr error) {
	p.logger.Named("push."+topic).Error("Push failed",
		zap.String("topic", topic),
		zap.String("exchange", p.exchange),
		zap.String("routing_key", routingKey),
		zap.Error(pushErr),
	)

	detail := pushErr.Error()
	record := models.PushAuditRecord{
		ID:         uuid.New(),
		Topic:      topic,
		RoutingKey: routingKey,
		Payload:    string(body),
		Status:     models.PushStatusFailed,
		Error:      &detail,
		CreatedAt:  time.Now().UTC(),
	}
	if err := p.db.Create(&record).Error; err != nil {
		p.logger.Error("Failed to write push audit record",
			zap.String("topic", topic),
			zap.Error(err),
		)
	}
}
