package models

import (
	"time"
)

// TopicConfig is the persisted per-topic synchronization state. One row
// per topic; the watermark marks the last instant confirmed pushed to
// the partner and only ever moves forward (outside the admin reset path).
type TopicConfig struct {
	ID             int64     `gorm:"primary_key;autoIncrement" json:"id"`
	Topic          string    `gorm:"uniqueIndex;not null" json:"topic"`
	CronExpression string    `gorm:"not null" json:"cron_expression"`
	Enabled        bool      `gorm:"not null;default:false" json:"enabled"`
	Watermark      time.Time `gorm:"not null" json:"watermark"`
	CreatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (TopicConfig) TableName() string {
	return "sync_topic_config"
}
