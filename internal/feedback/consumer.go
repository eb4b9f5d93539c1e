package feedback

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/marminbh/partner-sync-svc/internal/consumer"
	"github.com/marminbh/partner-sync-svc/internal/rabbitmq"
)

// The feedback categories the partner sends back. Each has its own
// queue ("<prefix>.<category>") and its own named audit stream so
// operators can isolate issues per category.
const (
	CategoryTaskCompletion     = "task.completion"
	CategoryTaskScore          = "task.score"
	CategoryFaultReport        = "fault.report"
	CategoryRecommendedTask    = "recommended.task"
	CategoryRotationCompletion = "rotation.completion"
	CategoryRotationScore      = "rotation.score"
	CategoryFaultAnalysis      = "fault.analysis"
	CategoryHaltCompletion     = "halt.completion"
)

// Categories returns all feedback categories in a stable order.
func Categories() []string {
	return []string{
		CategoryTaskCompletion,
		CategoryTaskScore,
		CategoryFaultReport,
		CategoryRecommendedTask,
		CategoryRotationCompletion,
		CategoryRotationScore,
		CategoryFaultAnalysis,
		CategoryHaltCompletion,
	}
}

// Consumer subscribes to every feedback queue and runs one consumption
// loop per category, decoupled from the sync scheduler.
type Consumer struct {
	conn     *rabbitmq.Connection
	db       *gorm.DB
	hub      *Hub
	logger   *zap.Logger
	prefix   string
	name     string
	prefetch int
	ctx      context.Context
	cancel   context.CancelFunc
	started  atomic.Bool
}

// NewConsumer creates a Consumer. prefix namespaces the queue names;
// name becomes the consumer-tag prefix.
func NewConsumer(conn *rabbitmq.Connection, db *gorm.DB, hub *Hub, logger *zap.Logger, prefix, name string, prefetch int) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		conn:     conn,
		db:       db,
		hub:      hub,
		logger:   logger,
		prefix:   prefix,
		name:     name,
		prefetch: prefetch,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (c *Consumer) queueName(category string) string {
	return c.prefix + "." + category
}

func (c *Consumer) consumerTag(category string) string {
	return fmt.Sprintf("%s-feedback-%s", c.name, category)
}

// Start registers a consumer on every feedback queue. Assumes the
// queues already exist; fails if they don't.
func (c *Consumer) Start() error {
	if err := c.conn.SetQoS(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	for _, category := range Categories() {
		if err := c.startConsuming(category); err != nil {
			return err
		}
	}

	c.started.Store(true)
	c.logger.Info("Feedback consumer started",
		zap.Int("categories", len(Categories())),
		zap.String("queue_prefix", c.prefix),
	)
	return nil
}

// startConsuming registers the consumer for one category's queue and
// launches its processing loop.
func (c *Consumer) startConsuming(category string) error {
	queue := c.queueName(category)
	messages, err := c.conn.ConsumeMessages(
		queue,
		c.consumerTag(category),
		false, // autoAck (we'll manually ACK)
		false, // exclusive
		false, // noLocal
		false, // noWait
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming from queue %s (queue may not exist): %w", queue, err)
	}

	go c.processMessages(category, messages)
	return nil
}

// Stop gracefully stops all consumption loops.
func (c *Consumer) Stop() {
	c.logger.Info("Stopping feedback consumer")
	c.started.Store(false)
	c.cancel()

	ch := c.conn.GetChannel()
	if ch != nil {
		for _, category := range Categories() {
			if err := ch.Cancel(c.consumerTag(category), false); err != nil {
				c.logger.Error("Failed to cancel feedback consumer",
					zap.String("category", category),
					zap.Error(err),
				)
			}
		}
	}

	c.logger.Info("Feedback consumer stopped")
}

// processMessages is one category's consumption loop. A closed channel
// means the connection dropped; the loop waits for the automatic
// reconnect and re-registers itself.
func (c *Consumer) processMessages(category string, messages <-chan amqp.Delivery) {
	queue := c.queueName(category)
	handler := newCategoryHandler(c.db, c.hub, c.logger, category)

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Info("Feedback consumer context cancelled, stopping loop",
				zap.String("category", category),
			)
			return
		case msg, ok := <-messages:
			if !ok {
				c.logger.Warn("Feedback channel closed, attempting to restart consumer...",
					zap.String("queue", queue),
				)
				for c.started.Load() {
					select {
					case <-c.ctx.Done():
						return
					default:
					}

					time.Sleep(2 * time.Second)

					if !c.conn.IsHealthy() {
						continue
					}
					if err := c.startConsuming(category); err != nil {
						c.logger.Error("Failed to restart feedback consumer, will retry",
							zap.String("queue", queue),
							zap.Error(err),
						)
						time.Sleep(5 * time.Second)
						continue
					}

					c.logger.Info("Feedback consumer restarted after channel close",
						zap.String("queue", queue),
					)
					return
				}
				return
			}
			consumer.ProcessMessage(c.logger, queue, msg, handler)
		}
	}
}
