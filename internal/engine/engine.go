package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/marminbh/partner-sync-svc/internal/models"
	"github.com/marminbh/partner-sync-svc/internal/signing"
)

// ErrRunInProgress means a compensation run for the topic is already
// executing. Scheduled fires treat it as a skip; runs never queue up.
var ErrRunInProgress = errors.New("compensation run already in progress")

// Querier serves one page of changes for a topic. Implemented by the
// query router.
type Querier interface {
	Query(req models.SyncRequest) (*models.SyncPage, error)
}

// Pusher delivers one normalized record and returns nil only once
// delivery is confirmed. Implemented by the push producer.
type Pusher interface {
	Publish(ctx context.Context, topic string, payload map[string]any) error
}

// Signer produces the signed request envelope attached to every pushed
// record. Implemented by the signing client.
type Signer interface {
	Sign(baseURL string, extra map[string]string, topic string) (*signing.SignedURI, error)
}

// WatermarkStore is the registry slice the engine needs.
type WatermarkStore interface {
	Get(topic string) (*models.TopicConfig, error)
	SetWatermark(topic string, watermark time.Time) error
}

// CompensationResult summarizes one sweep.
type CompensationResult struct {
	Topic          string    `json:"topic"`
	ItemsPushed    int       `json:"itemsPushed"`
	PagesProcessed int       `json:"pagesProcessed"`
	Completed      bool      `json:"completed"`
	Watermark      time.Time `json:"watermark"`
}

// Engine runs catch-up sweeps: everything changed since a topic's
// watermark is queried page by page, signed, and pushed; the watermark
// advances only after the final page delivered in full.
type Engine struct {
	registry WatermarkStore
	router   Querier
	signer   Signer
	pusher   Pusher
	logger   *zap.Logger
	baseURL  string
	pageSize int
	locks    sync.Map // topic -> *sync.Mutex
}

// New creates an Engine. baseURL is the partner endpoint every signed
// envelope points at; pageSize bounds each sweep page.
func New(registry WatermarkStore, router Querier, signer Signer, pusher Pusher, logger *zap.Logger, baseURL string, pageSize int) *Engine {
	return &Engine{
		registry: registry,
		router:   router,
		signer:   signer,
		pusher:   pusher,
		logger:   logger,
		baseURL:  baseURL,
		pageSize: pageSize,
	}
}

func (e *Engine) lockFor(topic string) *sync.Mutex {
	mu, _ := e.locks.LoadOrStore(topic, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Compensate runs one sweep for a topic. At most one run per topic is
// in flight at any time; a second caller gets ErrRunInProgress
// immediately instead of waiting. Runs for different topics are
// independent.
func (e *Engine) Compensate(ctx context.Context, topic string) (*CompensationResult, error) {
	mu := e.lockFor(topic)
	if !mu.TryLock() {
		return nil, fmt.Errorf("%w: %s", ErrRunInProgress, topic)
	}
	defer mu.Unlock()

	return e.sweep(ctx, topic)
}

// TriggerAsync fires a compensation run out-of-band and returns
// immediately. Used by the manual-trigger endpoint and the scheduler.
func (e *Engine) TriggerAsync(topic string) {
	go func() {
		result, err := e.Compensate(context.Background(), topic)
		if err != nil {
			if errors.Is(err, ErrRunInProgress) {
				e.logger.Info("Compensation fire skipped, previous run still active",
					zap.String("topic", topic),
				)
				return
			}
			e.logger.Error("Compensation run failed",
				zap.String("topic", topic),
				zap.Error(err),
			)
			return
		}
		e.logger.Info("Compensation run finished",
			zap.String("topic", topic),
			zap.Int("items_pushed", result.ItemsPushed),
			zap.Int("pages_processed", result.PagesProcessed),
			zap.Time("watermark", result.Watermark),
		)
	}()
}

// sweep is the compensation body. Any page that fails to push in full
// halts the sweep with the watermark untouched; the next run resumes
// from the same point. The partner deduplicates on natural keys, so
// re-pushing the same records is safe.
func (e *Engine) sweep(ctx context.Context, topic string) (*CompensationResult, error) {
	cfg, err := e.registry.Get(topic)
	if err != nil {
		return nil, err
	}

	result := &CompensationResult{
		Topic:     topic,
		Watermark: cfg.Watermark,
	}

	e.logger.Info("Compensation sweep started",
		zap.String("topic", topic),
		zap.Time("watermark", cfg.Watermark),
	)

	var maxPushed time.Time
	for pageNum := 1; ; pageNum++ {
		page, err := e.router.Query(models.SyncRequest{
			Topic:    topic,
			Since:    cfg.Watermark,
			PageNum:  pageNum,
			PageSize: e.pageSize,
		})
		if err != nil {
			return result, fmt.Errorf("sweep halted at page %d: %w", pageNum, err)
		}

		for _, item := range page.Items {
			envelope, err := e.buildEnvelope(topic, item)
			if err != nil {
				return result, fmt.Errorf("sweep halted at page %d: %w", pageNum, err)
			}
			if err := e.pusher.Publish(ctx, topic, envelope); err != nil {
				return result, fmt.Errorf("sweep halted at page %d: %w", pageNum, err)
			}
			result.ItemsPushed++
			if ts, ok := itemTimestamp(item); ok && ts.After(maxPushed) {
				maxPushed = ts
			}
		}
		result.PagesProcessed++

		e.logger.Info("Compensation page pushed",
			zap.String("topic", topic),
			zap.Int("page_num", pageNum),
			zap.Int("items", len(page.Items)),
			zap.Int64("total", page.Total),
		)

		// Fewer items than the page size means this was the final page.
		if len(page.Items) < e.pageSize {
			break
		}
	}

	// The watermark advances to the newest change actually pushed, not
	// to "now": records changing between query and push stay eligible
	// for the next sweep.
	if result.ItemsPushed > 0 && maxPushed.After(cfg.Watermark) {
		if err := e.registry.SetWatermark(topic, maxPushed); err != nil {
			return result, fmt.Errorf("failed to advance watermark: %w", err)
		}
		result.Watermark = maxPushed
	}

	result.Completed = true
	return result, nil
}

// buildEnvelope wraps one normalized record with the signed request
// parameters the partner verifies on receipt.
func (e *Engine) buildEnvelope(topic string, item map[string]any) (map[string]any, error) {
	signed, err := e.signer.Sign(e.baseURL, map[string]string{"topic": topic}, topic)
	if err != nil {
		return nil, fmt.Errorf("failed to sign push for topic %s: %w", topic, err)
	}
	return map[string]any{
		"topic":  topic,
		"record": item,
		"sign":   signed.Params,
	}, nil
}

// itemTimestamp extracts the change timestamp every transform writes
// into the wire record.
func itemTimestamp(item map[string]any) (time.Time, bool) {
	raw, ok := item["updateTime"].(string)
	if !ok {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
