package router

import (
	"time"

	"gorm.io/gorm"

	"github.com/marminbh/partner-sync-svc/internal/models"
)

// queryPage runs the shared count + fetch + transform sequence for one
// record type. Total and TotalPages come from the store at execution
// time; they can drift between pages of the same sweep if the data
// changes underneath, which callers are required to tolerate.
func queryPage[T any](
	db *gorm.DB,
	req models.SyncRequest,
	preds []Predicate,
	transform func(T) map[string]any,
) (*models.SyncPage, error) {
	var model T

	var total int64
	if err := Apply(db.Model(&model), preds).Count(&total).Error; err != nil {
		return nil, err
	}

	var rows []T
	err := Apply(db.Model(&model), preds).
		Order("updated_at ASC, id ASC").
		Limit(req.PageSize).
		Offset((req.PageNum - 1) * req.PageSize).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		items = append(items, transform(row))
	}

	return &models.SyncPage{
		Items:      items,
		PageNum:    req.PageNum,
		PageSize:   req.PageSize,
		Total:      total,
		TotalPages: models.TotalPagesFor(total, req.PageSize),
	}, nil
}

func wireTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func wireTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := wireTime(*t)
	return &s
}

func maintenanceTaskHandler() Handler {
	return Handler{
		Filters: map[string]FilterBuilder{
			"equipmentNo": func(v string) Predicate { return Eq("equipment_no", v) },
			"status":      func(v string) Predicate { return Eq("status", v) },
			"assignee":    func(v string) Predicate { return Eq("assignee", v) },
			"title":       func(v string) Predicate { return Contains("title", v) },
		},
		Query: func(db *gorm.DB, req models.SyncRequest, preds []Predicate) (*models.SyncPage, error) {
			return queryPage(db, req, preds, func(t models.MaintenanceTask) map[string]any {
				return map[string]any{
					"taskCode":    t.TaskCode,
					"equipmentNo": t.EquipmentNo,
					"title":       t.Title,
					"content":     t.Content,
					"assignee":    t.Assignee,
					"status":      t.Status,
					"plannedAt":   wireTime(t.PlannedAt),
					"finishedAt":  wireTimePtr(t.FinishedAt),
					"updateTime":  wireTime(t.UpdatedAt),
				}
			})
		},
	}
}

func rotationTaskHandler() Handler {
	return Handler{
		Filters: map[string]FilterBuilder{
			"equipmentNo": func(v string) Predicate { return Eq("equipment_no", v) },
			"status":      func(v string) Predicate { return Eq("status", v) },
			"shift":       func(v string) Predicate { return Eq("shift", v) },
			"route":       func(v string) Predicate { return Contains("route", v) },
		},
		Query: func(db *gorm.DB, req models.SyncRequest, preds []Predicate) (*models.SyncPage, error) {
			return queryPage(db, req, preds, func(t models.RotationTask) map[string]any {
				return map[string]any{
					"taskCode":    t.TaskCode,
					"equipmentNo": t.EquipmentNo,
					"route":       t.Route,
					"shift":       t.Shift,
					"assignee":    t.Assignee,
					"status":      t.Status,
					"plannedAt":   wireTime(t.PlannedAt),
					"updateTime":  wireTime(t.UpdatedAt),
				}
			})
		},
	}
}

func faultReportHandler() Handler {
	return Handler{
		Filters: map[string]FilterBuilder{
			"equipmentNo": func(v string) Predicate { return Eq("equipment_no", v) },
			"status":      func(v string) Predicate { return Eq("status", v) },
			"faultType":   func(v string) Predicate { return Eq("fault_type", v) },
			"severity":    func(v string) Predicate { return Eq("severity", v) },
		},
		Query: func(db *gorm.DB, req models.SyncRequest, preds []Predicate) (*models.SyncPage, error) {
			return queryPage(db, req, preds, func(r models.FaultReport) map[string]any {
				return map[string]any{
					"reportCode":  r.ReportCode,
					"equipmentNo": r.EquipmentNo,
					"faultType":   r.FaultType,
					"severity":    r.Severity,
					"description": r.Description,
					"reporter":    r.Reporter,
					"status":      r.Status,
					"reportedAt":  wireTime(r.ReportedAt),
					"updateTime":  wireTime(r.UpdatedAt),
				}
			})
		},
	}
}

func haltTaskHandler() Handler {
	return Handler{
		Filters: map[string]FilterBuilder{
			"equipmentNo": func(v string) Predicate { return Eq("equipment_no", v) },
			"status":      func(v string) Predicate { return Eq("status", v) },
		},
		Query: func(db *gorm.DB, req models.SyncRequest, preds []Predicate) (*models.SyncPage, error) {
			return queryPage(db, req, preds, func(t models.HaltTask) map[string]any {
				return map[string]any{
					"taskCode":    t.TaskCode,
					"equipmentNo": t.EquipmentNo,
					"reason":      t.Reason,
					"assignee":    t.Assignee,
					"status":      t.Status,
					"haltFrom":    wireTime(t.HaltFrom),
					"haltUntil":   wireTimePtr(t.HaltUntil),
					"updateTime":  wireTime(t.UpdatedAt),
				}
			})
		},
	}
}
