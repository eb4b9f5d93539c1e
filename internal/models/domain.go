package models

import (
	"time"
)

// The four synchronized record kinds. Each carries a natural key code
// (the partner deduplicates on it), a status, and an UpdatedAt column
// that the watermark sweep filters on.

type MaintenanceTask struct {
	ID          int64      `gorm:"primary_key;autoIncrement" json:"id"`
	TaskCode    string     `gorm:"uniqueIndex;not null" json:"task_code"`
	EquipmentNo string     `gorm:"not null" json:"equipment_no"`
	Title       string     `gorm:"not null" json:"title"`
	Content     string     `json:"content"`
	Assignee    string     `json:"assignee"`
	Status      string     `gorm:"not null;default:'open'" json:"status"`
	PlannedAt   time.Time  `json:"planned_at"`
	FinishedAt  *time.Time `json:"finished_at"`
	CreatedAt   time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"updated_at"`
}

func (MaintenanceTask) TableName() string {
	return "maintenance_tasks"
}

type RotationTask struct {
	ID          int64     `gorm:"primary_key;autoIncrement" json:"id"`
	TaskCode    string    `gorm:"uniqueIndex;not null" json:"task_code"`
	EquipmentNo string    `gorm:"not null" json:"equipment_no"`
	Route       string    `gorm:"not null" json:"route"`
	Shift       string    `json:"shift"`
	Assignee    string    `json:"assignee"`
	Status      string    `gorm:"not null;default:'open'" json:"status"`
	PlannedAt   time.Time `json:"planned_at"`
	CreatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"updated_at"`
}

func (RotationTask) TableName() string {
	return "rotation_tasks"
}

type FaultReport struct {
	ID          int64     `gorm:"primary_key;autoIncrement" json:"id"`
	ReportCode  string    `gorm:"uniqueIndex;not null" json:"report_code"`
	EquipmentNo string    `gorm:"not null" json:"equipment_no"`
	FaultType   string    `json:"fault_type"`
	Severity    string    `json:"severity"`
	Description string    `json:"description"`
	Reporter    string    `json:"reporter"`
	Status      string    `gorm:"not null;default:'reported'" json:"status"`
	ReportedAt  time.Time `json:"reported_at"`
	CreatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"updated_at"`
}

func (FaultReport) TableName() string {
	return "fault_reports"
}

type HaltTask struct {
	ID          int64      `gorm:"primary_key;autoIncrement" json:"id"`
	TaskCode    string     `gorm:"uniqueIndex;not null" json:"task_code"`
	EquipmentNo string     `gorm:"not null" json:"equipment_no"`
	Reason      string     `json:"reason"`
	Assignee    string     `json:"assignee"`
	Status      string     `gorm:"not null;default:'planned'" json:"status"`
	HaltFrom    time.Time  `json:"halt_from"`
	HaltUntil   *time.Time `json:"halt_until"`
	CreatedAt   time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"updated_at"`
}

func (HaltTask) TableName() string {
	return "halt_tasks"
}
