package schedule

import (
	"fmt"
	"testing"
	"time"
)

func TestParseCron(t *testing.T) {
	s, err := Parse(`{"kind":"cron","cron_expr":"0 9 * * *"}`)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if s.Kind != KindCron {
		t.Errorf("expected kind cron, got %q", s.Kind)
	}
	if s.CronExpr != "0 9 * * *" {
		t.Errorf("expected cron expr '0 9 * * *', got %q", s.CronExpr)
	}
}

func TestNextRunCron(t *testing.T) {
	now := time.Date(2026, 3, 10, 8, 30, 0, 0, time.UTC)
	next := NextRun(`{"kind":"cron","cron_expr":"0 9 * * *"}`, now)
	if next == nil {
		t.Fatal("expected next run time, got nil")
	}
	want := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("expected %v, got %v", want, next)
	}
}

func TestNextRunInterval(t *testing.T) {
	now := time.Date(2026, 3, 10, 8, 30, 0, 0, time.UTC)
	next := NextRun(`{"kind":"interval","interval_ms":60000}`, now)
	if next == nil {
		t.Fatal("expected next run time, got nil")
	}
	if !next.Equal(now.Add(time.Minute)) {
		t.Errorf("expected one minute after now, got %v", next)
	}
}

func TestNextRunOnce(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour).UnixMilli()
	next := NextRun(fmt.Sprintf(`{"kind":"once","at_ms":%d}`, future), now)
	if next == nil {
		t.Fatal("expected next run time, got nil")
	}

	past := now.Add(-time.Hour).UnixMilli()
	next = NextRun(fmt.Sprintf(`{"kind":"once","at_ms":%d}`, past), now)
	if next != nil {
		t.Error("expected nil for a once schedule in the past")
	}
}

func TestNextRunInvalid(t *testing.T) {
	if next := NextRun(`invalid json`, time.Now()); next != nil {
		t.Error("expected nil for invalid descriptor")
	}
	if next := NextRun(`{"kind":"unknown"}`, time.Now()); next != nil {
		t.Error("expected nil for unknown kind")
	}
}

func TestNormalizePlainCron(t *testing.T) {
	result, err := Normalize("*/5 * * * *")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s, err := Parse(result)
	if err != nil {
		t.Fatalf("result not a descriptor: %v", err)
	}
	if s.Kind != KindCron || s.CronExpr != "*/5 * * * *" {
		t.Errorf("unexpected result: %+v", s)
	}
}

func TestNormalizePassthrough(t *testing.T) {
	for _, input := range []string{
		`{"kind":"cron","cron_expr":"0 9 * * *"}`,
		`{"kind":"interval","interval_ms":300000}`,
	} {
		result, err := Normalize(input)
		if err != nil {
			t.Fatalf("unexpected error for %s: %v", input, err)
		}
		if result != input {
			t.Errorf("expected passthrough, got %q", result)
		}
	}
}

func TestNormalizeTrimsWhitespace(t *testing.T) {
	result, err := Normalize("  0 9 * * *  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s, err := Parse(result)
	if err != nil {
		t.Fatalf("result not a descriptor: %v", err)
	}
	if s.CronExpr != "0 9 * * *" {
		t.Errorf("expected trimmed cron, got %q", s.CronExpr)
	}
}

func TestNormalizeRejectsBadInput(t *testing.T) {
	for _, input := range []string{
		"not a cron",
		`{"kind":"cron","cron_expr":"bad"}`,
		`{"kind":"interval","interval_ms":0}`,
		`{"kind":"once","at_ms":-5}`,
		`{"kind":"bogus"}`,
	} {
		if _, err := Normalize(input); err == nil {
			t.Errorf("expected error for %q", input)
		}
	}
}

func TestDescribe(t *testing.T) {
	cases := map[string]string{
		`{"kind":"cron","cron_expr":"0 9 * * *"}`:   "cron 0 9 * * *",
		`{"kind":"interval","interval_ms":3600000}`: "every hour",
		`{"kind":"interval","interval_ms":7200000}`: "every 2 hours",
		`{"kind":"interval","interval_ms":300000}`:  "every 5 minutes",
		`{"kind":"interval","interval_ms":1500}`:    "every 1.5s",
		"garbage": "garbage",
	}
	for raw, want := range cases {
		if got := Describe(raw); got != want {
			t.Errorf("Describe(%s): expected %q, got %q", raw, want, got)
		}
	}
}
