package models

import (
	"time"
)

// SyncRequest is an immutable query descriptor for one page of one
// topic. Since is an exclusive lower bound on the record change time.
// Filters is an open key/value bag for topic-specific predicates.
type SyncRequest struct {
	Topic    string            `json:"topic"`
	Since    time.Time         `json:"since"`
	PageNum  int               `json:"pageNum"`
	PageSize int               `json:"pageSize"`
	Filters  map[string]string `json:"filters,omitempty"`
}

// SyncPage is the result of one query. Items are normalized wire
// records in the shape the partner expects. Total and TotalPages are
// computed by the store at query time and are not guaranteed stable
// across pages if the underlying data changes mid-sweep.
type SyncPage struct {
	Items      []map[string]any `json:"items"`
	PageNum    int              `json:"pageNum"`
	PageSize   int              `json:"pageSize"`
	Total      int64            `json:"total"`
	TotalPages int64            `json:"totalPages"`
}

// TotalPagesFor computes the page count for a total row count at the
// given page size.
func TotalPagesFor(total int64, pageSize int) int64 {
	if pageSize <= 0 {
		return 0
	}
	pages := total / int64(pageSize)
	if total%int64(pageSize) != 0 {
		pages++
	}
	return pages
}
