// Package schedule parses the descriptors that drive recurring job
// submissions. A descriptor is stored as JSON with a kind of cron, interval
// or once; bare cron expressions are accepted on input and wrapped.
package schedule

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

const (
	KindCron     = "cron"
	KindInterval = "interval"
	KindOnce     = "once"
)

// Schedule is the parsed form of one descriptor. Exactly one of the
// kind-specific fields is meaningful.
type Schedule struct {
	Kind       string `json:"kind"`
	CronExpr   string `json:"cron_expr,omitempty"`
	IntervalMs int64  `json:"interval_ms,omitempty"`
	AtMs       int64  `json:"at_ms,omitempty"`
}

func Parse(raw string) (*Schedule, error) {
	var s Schedule
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("parse schedule: %w", err)
	}
	return &s, nil
}

// Validate checks the kind-specific field the descriptor relies on.
func (s *Schedule) Validate() error {
	switch s.Kind {
	case KindCron:
		if !gronx.New().IsValid(s.CronExpr) {
			return fmt.Errorf("invalid cron expression: %s", s.CronExpr)
		}
	case KindInterval:
		if s.IntervalMs <= 0 {
			return fmt.Errorf("interval_ms must be positive")
		}
	case KindOnce:
		if s.AtMs <= 0 {
			return fmt.Errorf("at_ms must be positive")
		}
	default:
		return fmt.Errorf("unknown schedule kind: %s", s.Kind)
	}
	return nil
}

// Normalize turns user input into a stored descriptor. JSON descriptors are
// validated and passed through; anything else must be a cron expression and
// is wrapped.
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)

	var s Schedule
	if err := json.Unmarshal([]byte(raw), &s); err == nil && s.Kind != "" {
		if err := s.Validate(); err != nil {
			return "", err
		}
		return raw, nil
	}

	if !gronx.New().IsValid(raw) {
		return "", fmt.Errorf("invalid schedule: not a descriptor or cron expression: %s", raw)
	}
	wrapped, err := json.Marshal(Schedule{Kind: KindCron, CronExpr: raw})
	if err != nil {
		return "", err
	}
	return string(wrapped), nil
}

// NextRun returns the first run strictly after now, or nil when the
// descriptor is invalid or will never fire again.
func NextRun(raw string, now time.Time) *time.Time {
	s, err := Parse(raw)
	if err != nil {
		return nil
	}

	var next time.Time
	switch s.Kind {
	case KindCron:
		next, err = gronx.NextTickAfter(s.CronExpr, now, false)
		if err != nil {
			return nil
		}
	case KindInterval:
		next = now.Add(time.Duration(s.IntervalMs) * time.Millisecond)
	case KindOnce:
		next = time.UnixMilli(s.AtMs)
		if !next.After(now) {
			return nil
		}
	default:
		return nil
	}
	return &next
}

// Describe renders a descriptor for listings. Unparseable input is returned
// as is.
func Describe(raw string) string {
	s, err := Parse(raw)
	if err != nil {
		return raw
	}

	switch s.Kind {
	case KindCron:
		return "cron " + s.CronExpr
	case KindInterval:
		d := time.Duration(s.IntervalMs) * time.Millisecond
		switch {
		case d >= time.Hour && d%time.Hour == 0:
			if h := int(d.Hours()); h > 1 {
				return fmt.Sprintf("every %d hours", h)
			}
			return "every hour"
		case d >= time.Minute && d%time.Minute == 0:
			if m := int(d.Minutes()); m > 1 {
				return fmt.Sprintf("every %d minutes", m)
			}
			return "every minute"
		default:
			return "every " + d.String()
		}
	case KindOnce:
		return "once at " + time.UnixMilli(s.AtMs).Format("Jan 2 15:04")
	default:
		return raw
	}
}
