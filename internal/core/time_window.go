package core

import (
	"fmt"
	"time"

	"github.com/samber/lo"
)

// DayLayout is the calendar-day format used by the export.
const DayLayout = "2006-01-02"

// DateRange represents a named reporting window ending at the report's last day.
type DateRange string

const (
	DateRangeAll DateRange = "all"
	DateRange7d  DateRange = "7d"
	DateRange14d DateRange = "14d"
	DateRange28d DateRange = "28d"
)

var ValidDateRanges = []DateRange{
	DateRangeAll,
	DateRange7d,
	DateRange14d,
	DateRange28d,
}

// Days returns the window size in days, 0 for "all".
func (r DateRange) Days() int {
	switch r {
	case DateRange7d:
		return 7
	case DateRange14d:
		return 14
	case DateRange28d:
		return 28
	default:
		return 0
	}
}

func (r DateRange) Label() string {
	switch r {
	case DateRange7d:
		return "Last 7 Days"
	case DateRange14d:
		return "Last 14 Days"
	case DateRange28d:
		return "Last 28 Days"
	default:
		return "All Data"
	}
}

func ParseDateRange(s string) (DateRange, error) {
	if s == "" {
		return DateRangeAll, nil
	}
	for _, r := range ValidDateRanges {
		if string(r) == s {
			return r, nil
		}
	}
	return DateRangeAll, fmt.Errorf("unknown date range %q (want one of all, 7d, 14d, 28d)", s)
}

// StartDay returns the inclusive first day of the window ending at endDay.
func (r DateRange) StartDay(endDay string) (string, error) {
	end, err := time.Parse(DayLayout, endDay)
	if err != nil {
		return "", fmt.Errorf("parse report end day %q: %w", endDay, err)
	}
	days := r.Days()
	if days <= 0 {
		return "", nil
	}
	return end.AddDate(0, 0, -(days - 1)).Format(DayLayout), nil
}

// ReportEndDay returns the latest day covered by the records, preferring the
// export's report_end_day when present.
func ReportEndDay(records []UsageRecord) string {
	end := ""
	for _, r := range records {
		if r.ReportEndDay > end {
			end = r.ReportEndDay
		}
		if r.Day > end {
			end = r.Day
		}
	}
	return end
}

// FilterByDateRange keeps records whose day falls in [start, endDay].
// DateRangeAll returns the input slice unchanged.
func FilterByDateRange(records []UsageRecord, r DateRange, endDay string) ([]UsageRecord, error) {
	if r == DateRangeAll || r.Days() == 0 {
		return records, nil
	}
	start, err := r.StartDay(endDay)
	if err != nil {
		return nil, err
	}
	return lo.Filter(records, func(rec UsageRecord, _ int) bool {
		return rec.Day >= start && rec.Day <= endDay
	}), nil
}
