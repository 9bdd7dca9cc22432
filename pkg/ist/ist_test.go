package ist

import (
	"testing"
	"time"
)

func TestParseConvertsToUTC(t *testing.T) {
	got, err := Parse("2026-03-10", "18:30")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	want := time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got.UTC())
	}
}

func TestSameMinuteIgnoresSeconds(t *testing.T) {
	if !SameMinute("2026-03-10", "18:30:00", "2026-03-10", "18:30") {
		t.Fatalf("expected equal")
	}
	if !SameMinute("2026-03-10", "18:30:59", "2026-03-10", "18:30:01") {
		t.Fatalf("seconds should be ignored")
	}
	if SameMinute("2026-03-10", "18:30", "2026-03-11", "18:30") {
		t.Fatalf("different dates must differ")
	}
	if SameMinute("2026-03-10", "18:30", "2026-03-10", "18:31") {
		t.Fatalf("different minutes must differ")
	}
}

func TestDisplay(t *testing.T) {
	at, _ := Parse("2026-03-10", "18:05:00")
	if got := DisplayDate(at); got != "Tuesday, 10 March 2026" {
		t.Fatalf("unexpected date %q", got)
	}
	if got := DisplayTime(at); got != "6:05 PM" {
		t.Fatalf("unexpected time %q", got)
	}
}

func TestNormalizeTimeRejectsGarbage(t *testing.T) {
	if _, err := NormalizeTime("25:99"); err == nil {
		t.Fatalf("expected error")
	}
}
