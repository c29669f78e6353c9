package pipeline

import (
	"testing"
	"time"
)

func TestScheduleNext(t *testing.T) {
	base := time.Date(2026, 1, 15, 2, 59, 30, 0, time.UTC) // Thursday
	cases := []struct {
		expr string
		want time.Time
	}{
		{"0 3 * * *", time.Date(2026, 1, 15, 3, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2026, 1, 15, 3, 0, 0, 0, time.UTC)},
		{"30 1 * * *", time.Date(2026, 1, 16, 1, 30, 0, 0, time.UTC)},
		{"0 0 1 * *", time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)},
		{"0 9 * * 1-5", time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)},
		{"0 9 * * 0,6", time.Date(2026, 1, 17, 9, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			s, err := ParseCron(tc.expr)
			if err != nil {
				t.Fatalf("ParseCron: %v", err)
			}
			got, err := s.Next(base)
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			if !got.Equal(tc.want) {
				t.Fatalf("Next = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestScheduleNextIsStrictlyAfter(t *testing.T) {
	s, err := ParseCron("0 3 * * *")
	if err != nil {
		t.Fatal(err)
	}
	at := time.Date(2026, 1, 15, 3, 0, 0, 0, time.UTC)
	got, _ := s.Next(at)
	if !got.Equal(at.Add(24 * time.Hour)) {
		t.Fatalf("Next = %v", got)
	}
}

func TestParseCronRejects(t *testing.T) {
	for _, expr := range []string{"", "0 3 * *", "60 * * * *", "* 24 * * *", "*/0 * * * *", "5-1 * * * *", "a * * * *"} {
		if _, err := ParseCron(expr); err == nil {
			t.Errorf("ParseCron(%q) succeeded", expr)
		}
	}
}

func TestScheduleNoMatch(t *testing.T) {
	s, err := ParseCron("0 0 31 2 *")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Next(time.Now()); err == nil {
		t.Fatal("Feb 31 matched")
	}
}
