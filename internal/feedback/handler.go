package feedback

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/marminbh/partner-sync-svc/internal/models"
)

// categoryHandler processes one category's batch messages: parse the
// JSON array, persist every record to the audit trail, forward to the
// live-log hub. A batch that fails to parse is quarantined by logging
// the raw payload and rejecting the message; the loop keeps going.
type categoryHandler struct {
	db       *gorm.DB
	hub      *Hub
	logger   *zap.Logger
	audit    *zap.Logger
	category string
}

func newCategoryHandler(db *gorm.DB, hub *Hub, logger *zap.Logger, category string) *categoryHandler {
	return &categoryHandler{
		db:       db,
		hub:      hub,
		logger:   logger,
		audit:    logger.Named("feedback." + category),
		category: category,
	}
}

// HandleBatch implements consumer.BatchHandler.
func (h *categoryHandler) HandleBatch(body []byte) error {
	var records []json.RawMessage
	if err := json.Unmarshal(body, &records); err != nil {
		// Keep the raw payload so the batch can be replayed once the
		// producer-side bug is fixed.
		h.logger.Error("Failed to parse feedback batch, quarantining",
			zap.String("category", h.category),
			zap.ByteString("raw_payload", body),
			zap.Error(err),
		)
		return fmt.Errorf("failed to parse feedback batch for %s: %w", h.category, err)
	}

	now := time.Now().UTC()
	for _, raw := range records {
		record := models.FeedbackRecord{
			ID:         uuid.New(),
			Category:   h.category,
			Payload:    string(raw),
			ReceivedAt: now,
		}

		if err := h.db.Create(&record).Error; err != nil {
			return fmt.Errorf("failed to persist feedback record for %s: %w", h.category, err)
		}

		h.audit.Info("Feedback received",
			zap.String("category", h.category),
			zap.String("payload", record.Payload),
		)
		h.hub.Broadcast(record)
	}

	h.logger.Debug("Feedback batch processed",
		zap.String("category", h.category),
		zap.Int("records", len(records)),
	)
	return nil
}
