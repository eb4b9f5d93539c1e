package producer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/marminbh/partner-sync-svc/internal/models"
)

type fakeConfirmPublisher struct {
	routingKeys []string
	err         error
}

func (f *fakeConfirmPublisher) PublishWithConfirm(_ context.Context, _, routingKey string, _ []byte) (uint64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.routingKeys = append(f.routingKeys, routingKey)
	return uint64(len(f.routingKeys)), nil
}

func newTestProducer(t *testing.T, conn *fakeConfirmPublisher) (*Producer, *gorm.DB) {
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err, "failed to open sqlite")
	require.NoError(t, db.AutoMigrate(&models.PushAuditRecord{}), "failed to migrate")

	return New(conn, db, zap.NewNop(), "partner.push", "partner.push", time.Second), db
}

func TestPublishConfirmedWritesSuccessAudit(t *testing.T) {
	conn := &fakeConfirmPublisher{}
	producer, db := newTestProducer(t, conn)

	payload := map[string]any{"taskCode": "MT-001"}
	require.NoError(t, producer.Publish(context.Background(), "maintenance.task", payload))
	require.NoError(t, producer.Publish(context.Background(), "maintenance.task", payload))

	require.Equal(t, []string{"partner.push.maintenance.task", "partner.push.maintenance.task"}, conn.routingKeys)

	var records []models.PushAuditRecord
	require.NoError(t, db.Order("delivery_tag").Find(&records).Error)
	require.Len(t, records, 2)
	for _, record := range records {
		require.Equal(t, models.PushStatusConfirmed, record.Status)
		require.Equal(t, "maintenance.task", record.Topic)
		require.Nil(t, record.Error)
		require.Contains(t, record.Payload, "MT-001")
	}
}

func TestPublishFailureWritesFailureAudit(t *testing.T) {
	conn := &fakeConfirmPublisher{err: errors.New("broker nack")}
	producer, db := newTestProducer(t, conn)

	err := producer.Publish(context.Background(), "fault.report", map[string]any{"reportCode": "FR-001"})
	require.Error(t, err, "unconfirmed publish must surface as failure")

	var records []models.PushAuditRecord
	require.NoError(t, db.Find(&records).Error)
	require.Len(t, records, 1)
	require.Equal(t, models.PushStatusFailed, records[0].Status)
	require.NotNil(t, records[0].Error)
	require.Contains(t, *records[0].Error, "broker nack")
}
