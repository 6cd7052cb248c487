package leaderboard

import (
	"fmt"
	"time"
)

// Period is a leaderboard time window ending today.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// DefaultPeriod is used when no period is requested.
const DefaultPeriod = PeriodWeek

// ParsePeriod validates s. An empty string yields DefaultPeriod.
func ParsePeriod(s string) (Period, error) {
	switch p := Period(s); p {
	case "":
		return DefaultPeriod, nil
	case PeriodDay, PeriodWeek, PeriodMonth:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
}

// lookbackDays is how many days before today the period starts. A week
// spans 8 calendar dates and a month 31, both ending today.
func (p Period) lookbackDays() int {
	switch p {
	case PeriodDay:
		return 0
	case PeriodMonth:
		return 30
	default:
		return 7
	}
}

// Window returns the inclusive calendar-date range of p relative to today.
func (p Period) Window(today time.Time) (from, to time.Time) {
	return today.AddDate(0, 0, -p.lookbackDays()), today
}
