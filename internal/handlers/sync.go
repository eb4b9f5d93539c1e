package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/marminbh/partner-sync-svc/internal/engine"
	"github.com/marminbh/partner-sync-svc/internal/models"
	"github.com/marminbh/partner-sync-svc/internal/registry"
	"github.com/marminbh/partner-sync-svc/internal/router"
)

// SyncHandler exposes the synchronous query path (partner pulls) and
// the configuration/compensation management endpoints.
type SyncHandler struct {
	Registry *registry.Registry
	Router   *router.Router
	Engine   *engine.Engine
	Logger   *zap.Logger
}

// NewSyncHandler creates a sync handler with dependencies.
func NewSyncHandler(reg *registry.Registry, rt *router.Router, eng *engine.Engine, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{
		Registry: reg,
		Router:   rt,
		Engine:   eng,
		Logger:   logger,
	}
}

// Query handles POST /sync/query. The response is either a complete
// page or an explicit error, never a partial result.
func (h *SyncHandler) Query(c *fiber.Ctx) error {
	var req models.SyncRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body: " + err.Error(),
		})
	}
	if req.Topic == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "topic is required",
		})
	}

	page, err := h.Router.Query(req)
	if err != nil {
		if errors.Is(err, router.ErrUnsupportedTopic) || errors.Is(err, router.ErrInvalidParameters) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		h.Logger.Error("Sync query failed",
			zap.String("topic", req.Topic),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(page)
}

// ListConfig handles GET /sync/config.
func (h *SyncHandler) ListConfig(c *fiber.Ctx) error {
	configs, err := h.Registry.List()
	if err != nil {
		h.Logger.Error("Failed to list topic configs", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(configs)
}

// SetStatus handles POST /sync/config/status.
func (h *SyncHandler) SetStatus(c *fiber.Ctx) error {
	var req struct {
		Topic   string `json:"topic"`
		Enabled bool   `json:"enabled"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body: " + err.Error(),
		})
	}
	if req.Topic == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "topic is required",
		})
	}

	if err := h.Registry.SetEnabled(req.Topic, req.Enabled); err != nil {
		return h.registryError(c, req.Topic, err)
	}
	return c.JSON(fiber.Map{"topic": req.Topic, "enabled": req.Enabled})
}

// SetCron handles POST /sync/config/cron.
func (h *SyncHandler) SetCron(c *fiber.Ctx) error {
	var req struct {
		Topic string `json:"topic"`
		Cron  string `json:"cron"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body: " + err.Error(),
		})
	}
	if req.Topic == "" || req.Cron == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "topic and cron are required",
		})
	}

	if err := h.Registry.SetCron(req.Topic, req.Cron); err != nil {
		if errors.Is(err, registry.ErrInvalidCron) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return h.registryError(c, req.Topic, err)
	}
	return c.JSON(fiber.Map{"topic": req.Topic, "cron": req.Cron})
}

// ResetWatermark handles POST /sync/config/watermark-reset, the
// administrative override that bypasses the monotonicity check.
func (h *SyncHandler) ResetWatermark(c *fiber.Ctx) error {
	var req struct {
		Topic string    `json:"topic"`
		Time  time.Time `json:"time"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body: " + err.Error(),
		})
	}
	if req.Topic == "" || req.Time.IsZero() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "topic and time are required",
		})
	}

	if err := h.Registry.ResetWatermark(req.Topic, req.Time); err != nil {
		return h.registryError(c, req.Topic, err)
	}
	return c.JSON(fiber.Map{"topic": req.Topic, "watermark": req.Time})
}

// Compensate handles POST /sync/compensate: fires one out-of-band run
// and responds immediately with accepted, not completed.
func (h *SyncHandler) Compensate(c *fiber.Ctx) error {
	var req struct {
		Topic string `json:"topic"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body: " + err.Error(),
		})
	}
	if !h.Router.Supports(req.Topic) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "unsupported topic: " + req.Topic,
		})
	}

	h.Engine.TriggerAsync(req.Topic)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"topic":    req.Topic,
		"accepted": true,
	})
}

func (h *SyncHandler) registryError(c *fiber.Ctx, topic string, err error) error {
	if errors.Is(err, registry.ErrTopicNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	h.Logger.Error("Topic config mutation failed",
		zap.String("topic", topic),
		zap.Error(err),
	)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": err.Error(),
	})
}
