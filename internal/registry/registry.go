package registry

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/marminbh/partner-sync-svc/internal/models"
)

var (
	// ErrTopicNotFound is returned when no configuration row exists for a topic.
	ErrTopicNotFound = errors.New("topic not found")
	// ErrInvalidCron is returned when a cron expression cannot be parsed.
	ErrInvalidCron = errors.New("invalid cron expression")
	// ErrStaleWatermark is returned when a watermark update would move the
	// watermark backwards. Use ResetWatermark for the administrative override.
	ErrStaleWatermark = errors.New("stale watermark")
)

// cronParser accepts standard 5-field expressions plus an optional
// leading seconds field, matching what operators configure upstream.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseCron validates and parses a cron expression.
func ParseCron(expr string) (cron.Schedule, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidCron, expr, err)
	}
	return schedule, nil
}

// Reconciler is notified after every successful configuration mutation
// so trigger state never drifts from stored state. The scheduler
// implements it.
type Reconciler interface {
	Reload() error
}

// Registry owns the persisted TopicConfig rows. All watermark movement
// goes through here; the compare-and-set update keeps the monotonic
// invariant even if two writers race.
type Registry struct {
	db         *gorm.DB
	logger     *zap.Logger
	reconciler Reconciler
}

// New creates a Registry. The reconciler is attached later via
// SetReconciler because the scheduler needs the registry to exist first.
func New(db *gorm.DB, logger *zap.Logger) *Registry {
	return &Registry{db: db, logger: logger}
}

// SetReconciler attaches the scheduler that should be notified on
// configuration changes.
func (r *Registry) SetReconciler(rec Reconciler) {
	r.reconciler = rec
}

// Get returns the configuration for one topic.
func (r *Registry) Get(topic string) (*models.TopicConfig, error) {
	var cfg models.TopicConfig
	err := r.db.Where("topic = ?", topic).First(&cfg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTopicNotFound, topic)
		}
		return nil, fmt.Errorf("failed to load topic config: %w", err)
	}
	return &cfg, nil
}

// List returns all topic configurations ordered by topic.
func (r *Registry) List() ([]models.TopicConfig, error) {
	var configs []models.TopicConfig
	if err := r.db.Order("topic").Find(&configs).Error; err != nil {
		return nil, fmt.Errorf("failed to list topic configs: %w", err)
	}
	return configs, nil
}

// SetEnabled enables or disables a topic and triggers scheduler
// reconciliation before returning.
func (r *Registry) SetEnabled(topic string, enabled bool) error {
	res := r.db.Model(&models.TopicConfig{}).
		Where("topic = ?", topic).
		Updates(map[string]interface{}{
			"enabled":    enabled,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update enabled flag: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrTopicNotFound, topic)
	}

	r.logger.Info("Topic enabled flag updated",
		zap.String("topic", topic),
		zap.Bool("enabled", enabled),
	)
	return r.notify()
}

// SetCron validates and stores a new cron expression for a topic and
// triggers scheduler reconciliation before returning.
func (r *Registry) SetCron(topic, cronExpr string) error {
	if _, err := ParseCron(cronExpr); err != nil {
		return err
	}

	res := r.db.Model(&models.TopicConfig{}).
		Where("topic = ?", topic).
		Updates(map[string]interface{}{
			"cron_expression": cronExpr,
			"updated_at":      time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update cron expression: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrTopicNotFound, topic)
	}

	r.logger.Info("Topic cron expression updated",
		zap.String("topic", topic),
		zap.String("cron", cronExpr),
	)
	return r.notify()
}

// SetWatermark advances the watermark for a topic. The update is a
// compare-and-set: it only applies while the stored watermark is not
// ahead of the new value, so the watermark never moves backwards.
func (r *Registry) SetWatermark(topic string, watermark time.Time) error {
	res := r.db.Model(&models.TopicConfig{}).
		Where("topic = ? AND watermark <= ?", topic, watermark).
		Updates(map[string]interface{}{
			"watermark":  watermark,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update watermark: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Either the topic does not exist or the stored watermark is
		// already ahead; look it up to tell the two apart.
		if _, err := r.Get(topic); err != nil {
			return err
		}
		return fmt.Errorf("%w: topic %s already past %s", ErrStaleWatermark, topic, watermark.UTC().Format(time.RFC3339))
	}

	r.logger.Info("Topic watermark advanced",
		zap.String("topic", topic),
		zap.Time("watermark", watermark),
	)
	return r.notify()
}

// ResetWatermark is the administrative override that bypasses the
// monotonicity check. Every use is logged at warn level.
func (r *Registry) ResetWatermark(topic string, watermark time.Time) error {
	res := r.db.Model(&models.TopicConfig{}).
		Where("topic = ?", topic).
		Updates(map[string]interface{}{
			"watermark":  watermark,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to reset watermark: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrTopicNotFound, topic)
	}

	r.logger.Warn("Topic watermark reset (monotonicity check bypassed)",
		zap.String("topic", topic),
		zap.Time("watermark", watermark),
	)
	return r.notify()
}

// notify tells the scheduler to reconcile its trigger set. Mutations
// must never be silently unobserved, so a reload failure surfaces to
// the mutation caller.
func (r *Registry) notify() error {
	if r.reconciler == nil {
		return nil
	}
	if err := r.reconciler.Reload(); err != nil {
		return fmt.Errorf("scheduler reconciliation failed: %w", err)
	}
	return nil
}
