package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/marminbh/partner-sync-svc/internal/config"
	"github.com/marminbh/partner-sync-svc/internal/engine"
	"github.com/marminbh/partner-sync-svc/internal/models"
	"github.com/marminbh/partner-sync-svc/internal/registry"
	"github.com/marminbh/partner-sync-svc/internal/router"
	"github.com/marminbh/partner-sync-svc/internal/signing"
)

type discardPusher struct{}

func (discardPusher) Publish(context.Context, string, map[string]any) error { return nil }

func newTestApp(t *testing.T) (*fiber.App, *gorm.DB) {
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err, "failed to open sqlite")
	require.NoError(t, db.AutoMigrate(
		&models.TopicConfig{},
		&models.MaintenanceTask{},
		&models.RotationTask{},
		&models.FaultReport{},
		&models.HaltTask{},
	), "failed to migrate")

	require.NoError(t, db.Create(&models.TopicConfig{
		Topic:          router.TopicMaintenanceTask,
		CronExpression: "0 */10 * * * *",
		Enabled:        false,
		Watermark:      time.Unix(0, 0).UTC(),
	}).Error)

	log := zap.NewNop()
	reg := registry.New(db, log)
	rt := router.New(db, log)

	signer, err := signing.NewClient(&config.PartnerConfig{
		APIID:   "EAM01",
		Secret:  "s3cret",
		Version: "1.0",
	}, log)
	require.NoError(t, err)

	eng := engine.New(reg, rt, signer, discardPusher{}, log, "https://partner.example.com/receive", 100)

	app := fiber.New()
	handler := NewSyncHandler(reg, rt, eng, log)
	app.Post("/sync/query", handler.Query)
	app.Get("/sync/config", handler.ListConfig)
	app.Post("/sync/config/status", handler.SetStatus)
	app.Post("/sync/config/cron", handler.SetCron)
	app.Post("/sync/config/watermark-reset", handler.ResetWatermark)
	app.Post("/sync/compensate", handler.Compensate)
	return app, db
}

func postJSON(t *testing.T, app *fiber.App, path string, body any) (int, []byte) {
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(fiber.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func TestQueryEndpoint(t *testing.T) {
	app, db := newTestApp(t)

	task := models.MaintenanceTask{
		TaskCode:    "MT-001",
		EquipmentNo: "EQ-1",
		Title:       "Check EQ-1",
		Status:      "open",
	}
	require.NoError(t, db.Create(&task).Error)

	status, body := postJSON(t, app, "/sync/query", models.SyncRequest{
		Topic:    router.TopicMaintenanceTask,
		Since:    time.Unix(0, 0).UTC(),
		PageNum:  1,
		PageSize: 10,
	})
	require.Equal(t, fiber.StatusOK, status, "body: %s", body)

	var page models.SyncPage
	require.NoError(t, json.Unmarshal(body, &page))
	require.Len(t, page.Items, 1)
	require.Equal(t, "MT-001", page.Items[0]["taskCode"])
}

func TestQueryEndpointRejectsUnsupportedTopic(t *testing.T) {
	app, _ := newTestApp(t)

	status, _ := postJSON(t, app, "/sync/query", models.SyncRequest{
		Topic:    "unknown.topic",
		PageNum:  1,
		PageSize: 10,
	})
	require.Equal(t, fiber.StatusBadRequest, status)

	status, _ = postJSON(t, app, "/sync/query", models.SyncRequest{
		Topic:    router.TopicMaintenanceTask,
		PageNum:  0,
		PageSize: 10,
	})
	require.Equal(t, fiber.StatusBadRequest, status)
}

func TestConfigEndpoints(t *testing.T) {
	app, _ := newTestApp(t)

	req := httptest.NewRequest(fiber.MethodGet, "/sync/config", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var configs []models.TopicConfig
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&configs))
	require.Len(t, configs, 1)

	status, _ := postJSON(t, app, "/sync/config/status", fiber.Map{
		"topic":   router.TopicMaintenanceTask,
		"enabled": true,
	})
	require.Equal(t, fiber.StatusOK, status)

	status, _ = postJSON(t, app, "/sync/config/status", fiber.Map{
		"topic":   "unknown.topic",
		"enabled": true,
	})
	require.Equal(t, fiber.StatusNotFound, status)

	status, _ = postJSON(t, app, "/sync/config/cron", fiber.Map{
		"topic": router.TopicMaintenanceTask,
		"cron":  "not a cron",
	})
	require.Equal(t, fiber.StatusBadRequest, status)

	status, _ = postJSON(t, app, "/sync/config/cron", fiber.Map{
		"topic": router.TopicMaintenanceTask,
		"cron":  "0 */15 * * * *",
	})
	require.Equal(t, fiber.StatusOK, status)
}

func TestWatermarkResetEndpoint(t *testing.T) {
	app, db := newTestApp(t)

	target := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	status, _ := postJSON(t, app, "/sync/config/watermark-reset", fiber.Map{
		"topic": router.TopicMaintenanceTask,
		"time":  target,
	})
	require.Equal(t, fiber.StatusOK, status)

	var cfg models.TopicConfig
	require.NoError(t, db.Where("topic = ?", router.TopicMaintenanceTask).First(&cfg).Error)
	require.True(t, cfg.Watermark.Equal(target))
}

func TestCompensateEndpoint(t *testing.T) {
	app, _ := newTestApp(t)

	status, body := postJSON(t, app, "/sync/compensate", fiber.Map{
		"topic": router.TopicMaintenanceTask,
	})
	require.Equal(t, fiber.StatusAccepted, status)

	var out map[string]any
	require.NoError(t, json.Unmarshal(body, &out))
	require.Equal(t, true, out["accepted"])

	status, _ = postJSON(t, app, "/sync/compensate", fiber.Map{
		"topic": "unknown.topic",
	})
	require.Equal(t, fiber.StatusBadRequest, status)
}
