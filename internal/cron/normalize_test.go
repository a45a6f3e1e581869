package cron

import "testing"

func TestParseNaturalLanguageSchedule(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"every day at 14:00", "0 14 * * *"},
		{"Every Day At 09:05", "5 9 * * *"},
		{"daily at 07:30", "30 7 * * *"},
		{"monday at 9:00", "0 9 * * 1"},
		{"Friday at 17:45", "45 17 * * 5"},
		{"every 15 minutes", "*/15 * * * *"},
		{"every 2 hours", "0 */2 * * *"},
		{"hourly", "0 * * * *"},
	}
	for _, tc := range cases {
		got, ok := parseNaturalLanguageSchedule(tc.in)
		if !ok {
			t.Errorf("parseNaturalLanguageSchedule(%q) did not match, want %q", tc.in, tc.want)
			continue
		}
		if got != tc.want {
			t.Errorf("parseNaturalLanguageSchedule(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseNaturalLanguageScheduleNoMatchPassesThrough(t *testing.T) {
	literal := "*/5 * * * *"
	got, ok := parseNaturalLanguageSchedule(literal)
	if ok {
		t.Fatalf("expected no natural-language match for a literal cron expression")
	}
	if got != literal {
		t.Errorf("got = %q, want literal passed through unchanged", got)
	}
}

func TestParseNaturalLanguageScheduleGarbagePassesThrough(t *testing.T) {
	_, ok := parseNaturalLanguageSchedule("whenever I feel like it")
	if ok {
		t.Fatalf("expected no match for unparseable phrase")
	}
}
