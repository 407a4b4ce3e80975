// Package partition keeps the monthly partitions of the click and view
// tables ahead of the writes that target them.
package partition

import (
	"fmt"
	"time"
)

const (
	TableClicks = "click_events"
	TableViews  = "view_events"
)

// Tables lists every time-partitioned table.
var Tables = []string{TableClicks, TableViews}

// Partition is one calendar-month slice of a time-ordered table. It covers
// [RangeStart, RangeEnd).
type Partition struct {
	Table      string    `json:"table"`
	RangeStart time.Time `json:"range_start"`
	RangeEnd   time.Time `json:"range_end"`
}

// MonthOf returns the first instant of t's month in UTC.
func MonthOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func NextMonth(t time.Time) time.Time {
	return MonthOf(t).AddDate(0, 1, 0)
}

// MonthKey formats the month of t as YYYY-MM.
func MonthKey(t time.Time) string {
	return MonthOf(t).Format("2006-01")
}

func For(table string, t time.Time) Partition {
	start := MonthOf(t)
	return Partition{Table: table, RangeStart: start, RangeEnd: start.AddDate(0, 1, 0)}
}

// Name is the physical table name, e.g. click_events_y2026m10.
func (p Partition) Name() string {
	return fmt.Sprintf("%s_y%04dm%02d", p.Table, p.RangeStart.Year(), int(p.RangeStart.Month()))
}

func (p Partition) String() string {
	return p.Name()
}
