package repo

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Generic-row accessors. The dbclient returns rows as map[string]any with
// driver-dependent value types; these helpers normalize the handful of shapes
// the pure-Go SQLite driver produces.

func colString(row map[string]any, col string) string {
	switch v := row[col].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}

func colInt64(row map[string]any, col string) int64 {
	switch v := row[col].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func colFloat64(row map[string]any, col string) float64 {
	switch v := row[col].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	default:
		return 0
	}
}

func colBool(row map[string]any, col string) bool {
	switch v := row[col].(type) {
	case bool:
		return v
	case int64:
		return v != 0
	case int:
		return v != 0
	default:
		return false
	}
}

// sqliteTimeLayouts covers the formats the driver and GORM emit for DATETIME
// columns.
var sqliteTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func colTime(row map[string]any, col string) time.Time {
	switch v := row[col].(type) {
	case time.Time:
		return v
	case string:
		for _, layout := range sqliteTimeLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}

func colTimePtr(row map[string]any, col string) *time.Time {
	if row[col] == nil {
		return nil
	}
	t := colTime(row, col)
	if t.IsZero() {
		return nil
	}
	return &t
}
