package router

import (
	"time"

	"gorm.io/gorm"
)

// Predicate is one typed WHERE condition. Predicates are composed from
// a fixed per-topic table of filter builders, so no query fragment is
// ever assembled from caller-supplied strings.
type Predicate struct {
	expr string
	args []interface{}
}

// Apply adds the predicate set to a GORM query.
func Apply(db *gorm.DB, preds []Predicate) *gorm.DB {
	for _, p := range preds {
		db = db.Where(p.expr, p.args...)
	}
	return db
}

// Eq matches rows where column equals value.
func Eq(column string, value interface{}) Predicate {
	return Predicate{expr: column + " = ?", args: []interface{}{value}}
}

// Contains matches rows where column contains value as a substring.
func Contains(column, value string) Predicate {
	return Predicate{expr: column + " LIKE ?", args: []interface{}{"%" + value + "%"}}
}

// ChangedAfter is the watermark bound: strictly greater than, so the
// boundary record of the previous sweep is not re-delivered.
func ChangedAfter(column string, t time.Time) Predicate {
	return Predicate{expr: column + " > ?", args: []interface{}{t}}
}

// FilterBuilder turns one filter value from the request's open
// key/value bag into a typed predicate. The per-topic builder tables
// are fixed at construction time; unknown keys are rejected before any
// data access happens.
type FilterBuilder func(value string) Predicate
