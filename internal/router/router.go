package router

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/marminbh/partner-sync-svc/internal/models"
)

// Topics the router can serve. The partner is configured with the same
// names; a topic missing from this table is a caller error.
const (
	TopicMaintenanceTask = "maintenance.task"
	TopicRotationTask    = "rotation.task"
	TopicFaultReport     = "fault.report"
	TopicHaltTask        = "halt.task"
)

var (
	// ErrUnsupportedTopic is returned for topics not in the dispatch table.
	ErrUnsupportedTopic = errors.New("unsupported topic")
	// ErrInvalidParameters is returned for malformed pagination or filters.
	ErrInvalidParameters = errors.New("invalid query parameters")
)

// Handler pairs a data-access query with the filter keys it accepts.
// The transform to the partner wire shape lives inside the query func.
type Handler struct {
	Filters map[string]FilterBuilder
	Query   func(db *gorm.DB, req models.SyncRequest, preds []Predicate) (*models.SyncPage, error)
}

// Router dispatches topic-qualified queries to the matching handler.
// The dispatch table is static: it is built once at construction and
// never mutated, so concurrent queries need no locking.
type Router struct {
	db       *gorm.DB
	logger   *zap.Logger
	handlers map[string]Handler
}

// New builds the router with its full topic table.
func New(db *gorm.DB, logger *zap.Logger) *Router {
	return &Router{
		db:     db,
		logger: logger,
		handlers: map[string]Handler{
			TopicMaintenanceTask: maintenanceTaskHandler(),
			TopicRotationTask:    rotationTaskHandler(),
			TopicFaultReport:     faultReportHandler(),
			TopicHaltTask:        haltTaskHandler(),
		},
	}
}

// Topics returns the supported topic names, sorted.
func (r *Router) Topics() []string {
	topics := make([]string, 0, len(r.handlers))
	for topic := range r.handlers {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// Supports reports whether the router has a handler for topic.
func (r *Router) Supports(topic string) bool {
	_, ok := r.handlers[topic]
	return ok
}

// Query runs one page of a topic-qualified incremental query and
// returns the normalized result. Validation happens before any data
// access: an unsupported topic or bad parameters never reach the store.
func (r *Router) Query(req models.SyncRequest) (*models.SyncPage, error) {
	handler, ok := r.handlers[req.Topic]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedTopic, req.Topic)
	}

	if req.PageNum < 1 {
		return nil, fmt.Errorf("%w: pageNum must be >= 1, got %d", ErrInvalidParameters, req.PageNum)
	}
	if req.PageSize < 1 {
		return nil, fmt.Errorf("%w: pageSize must be >= 1, got %d", ErrInvalidParameters, req.PageSize)
	}

	preds := []Predicate{ChangedAfter("updated_at", req.Since)}
	for key, value := range req.Filters {
		build, ok := handler.Filters[key]
		if !ok {
			return nil, fmt.Errorf("%w: unknown filter %q for topic %s", ErrInvalidParameters, key, req.Topic)
		}
		preds = append(preds, build(value))
	}

	page, err := handler.Query(r.db, req, preds)
	if err != nil {
		return nil, fmt.Errorf("query for topic %s failed: %w", req.Topic, err)
	}

	r.logger.Debug("Sync query served",
		zap.String("topic", req.Topic),
		zap.Time("since", req.Since),
		zap.Int("page_num", req.PageNum),
		zap.Int("items", len(page.Items)),
		zap.Int64("total", page.Total),
	)
	return page, nil
}
