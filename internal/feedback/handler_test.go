package feedback

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/marminbh/partner-sync-svc/internal/models"
)

func newTestHandler(t *testing.T, category string) (*categoryHandler, *gorm.DB, *Hub) {
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err, "failed to open sqlite")
	require.NoError(t, db.AutoMigrate(&models.FeedbackRecord{}), "failed to migrate")

	hub := NewHub()
	return newCategoryHandler(db, hub, zap.NewNop(), category), db, hub
}

func TestHandleBatchPersistsAndBroadcasts(t *testing.T) {
	handler, db, hub := newTestHandler(t, CategoryTaskScore)

	live, unsubscribe := hub.Subscribe(8)
	defer unsubscribe()

	batch := []byte(`[{"taskCode":"MT-001","score":95},{"taskCode":"MT-002","score":80}]`)
	require.NoError(t, handler.HandleBatch(batch))

	var stored []models.FeedbackRecord
	require.NoError(t, db.Order("payload").Find(&stored).Error)
	require.Len(t, stored, 2)
	for _, record := range stored {
		require.Equal(t, CategoryTaskScore, record.Category)
		require.NotEmpty(t, record.Payload)
	}

	first := <-live
	second := <-live
	require.Equal(t, CategoryTaskScore, first.Category)
	require.Equal(t, CategoryTaskScore, second.Category)
}

func TestHandleBatchQuarantinesMalformedPayload(t *testing.T) {
	handler, db, _ := newTestHandler(t, CategoryFaultAnalysis)

	err := handler.HandleBatch([]byte(`{"not":"an array`))
	require.Error(t, err, "malformed batch must be rejected")

	var count int64
	require.NoError(t, db.Model(&models.FeedbackRecord{}).Count(&count).Error)
	require.Zero(t, count, "nothing from a malformed batch is persisted")

	// The loop keeps going: a following good batch still lands.
	require.NoError(t, handler.HandleBatch([]byte(`[{"reportCode":"FR-001"}]`)))
	require.NoError(t, db.Model(&models.FeedbackRecord{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestHubDropsSlowSubscribers(t *testing.T) {
	hub := NewHub()

	slow, unsubscribeSlow := hub.Subscribe(1)
	defer unsubscribeSlow()
	fast, unsubscribeFast := hub.Subscribe(8)
	defer unsubscribeFast()

	for i := 0; i < 4; i++ {
		hub.Broadcast(models.FeedbackRecord{Category: CategoryTaskCompletion})
	}

	require.Len(t, fast, 4, "fast subscriber sees everything")
	require.Len(t, slow, 1, "slow subscriber drops overflow without blocking")
}

func TestCategoriesAreStable(t *testing.T) {
	require.Len(t, Categories(), 8)
	require.Equal(t, CategoryTaskCompletion, Categories()[0])
}
