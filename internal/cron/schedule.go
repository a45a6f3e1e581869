package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	robfigcron "github.com/robfig/cron/v3"
)

// fieldBounds are the valid ranges for the five cron fields, in the order
// they're matched: minute, hour, day-of-month, month, weekday.
var fieldBounds = [5][2]int{
	{0, 59}, // minute
	{0, 23}, // hour
	{1, 31}, // day of month
	{1, 12}, // month
	{0, 6},  // weekday, 0 = Sunday
}

// validatingParser is used only to reject malformed expressions up front;
// the actual fire decision is made by cronFieldsMatch, not by this parser's
// Next() computation.
var validatingParser = robfigcron.NewParser(
	robfigcron.Minute | robfigcron.Hour | robfigcron.Dom | robfigcron.Month | robfigcron.Dow,
)

// NewCronFields validates a five-field cron expression (minute hour dom
// month weekday), applying the spec's natural-language pre-parse first.
func NewCronFields(expr string) (string, error) {
	expr = strings.TrimSpace(expr)
	if resolved, ok := parseNaturalLanguageSchedule(expr); ok {
		expr = resolved
	}
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return "", fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}
	for i, field := range fields {
		if err := validateField(field, fieldBounds[i][0], fieldBounds[i][1]); err != nil {
			return "", fmt.Errorf("field %d (%s): %w", i, field, err)
		}
	}
	// Also run the expression through the robfig parser as a second opinion;
	// it understands the same grammar and catches anything validateField
	// missed (e.g. overlapping step/range combinations).
	if _, err := validatingParser.Parse(expr); err != nil {
		return "", fmt.Errorf("invalid cron expression: %w", err)
	}
	return expr, nil
}

func validateField(field string, min, max int) error {
	if field == "*" {
		return nil
	}
	for _, part := range strings.Split(field, ",") {
		if err := validatePart(part, min, max); err != nil {
			return err
		}
	}
	return nil
}

func validatePart(part string, min, max int) error {
	base, step := part, 0
	if idx := strings.Index(part, "/"); idx >= 0 {
		base = part[:idx]
		n, err := strconv.Atoi(part[idx+1:])
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid step %q", part[idx+1:])
		}
		step = n
	}
	_ = step
	if base == "*" {
		return nil
	}
	if idx := strings.Index(base, "-"); idx >= 0 {
		lo, err1 := strconv.Atoi(base[:idx])
		hi, err2 := strconv.Atoi(base[idx+1:])
		if err1 != nil || err2 != nil || lo < min || hi > max || lo > hi {
			return fmt.Errorf("invalid range %q", base)
		}
		return nil
	}
	n, err := strconv.Atoi(base)
	if err != nil || n < min || n > max {
		return fmt.Errorf("invalid value %q (want %d-%d)", base, min, max)
	}
	return nil
}

// cronFieldsMatch reports whether the five-field expr matches the given
// instant, projected into loc. Supports *, integer, range a-b, list a,b,c,
// and step */n per field.
func cronFieldsMatch(expr string, at time.Time) bool {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return false
	}
	weekday := int(at.Weekday())
	values := [5]int{at.Minute(), at.Hour(), at.Day(), int(at.Month()), weekday}
	for i, field := range fields {
		if !fieldMatches(field, values[i], fieldBounds[i][0], fieldBounds[i][1]) {
			return false
		}
	}
	return true
}

func fieldMatches(field string, value, min, max int) bool {
	if field == "*" {
		return true
	}
	for _, part := range strings.Split(field, ",") {
		if partMatches(part, value, min, max) {
			return true
		}
	}
	return false
}

func partMatches(part string, value, min, max int) bool {
	base := part
	step := 1
	if idx := strings.Index(part, "/"); idx >= 0 {
		base = part[:idx]
		n, err := strconv.Atoi(part[idx+1:])
		if err != nil || n <= 0 {
			return false
		}
		step = n
	}

	lo, hi := min, max
	switch {
	case base == "*":
		// lo/hi already span the full range
	case strings.Contains(base, "-"):
		segs := strings.SplitN(base, "-", 2)
		l, err1 := strconv.Atoi(segs[0])
		h, err2 := strconv.Atoi(segs[1])
		if err1 != nil || err2 != nil {
			return false
		}
		lo, hi = l, h
	default:
		n, err := strconv.Atoi(base)
		if err != nil {
			return false
		}
		lo, hi = n, n
	}

	if value < lo || value > hi {
		return false
	}
	return (value-lo)%step == 0
}

// loadLocation resolves tz, degrading to local time on empty or invalid zones.
func loadLocation(tz string) *time.Location {
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local
	}
	return loc
}

// parseAbsoluteTime parses the timestamps the scheduler accepts for
// TaskAbsolute triggers: RFC3339 or a bare "2006-01-02 15:04" in tz.
func parseAbsoluteTime(value, tz string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("timestamp required")
	}
	if parsed, err := time.Parse(time.RFC3339, value); err == nil {
		return parsed, nil
	}
	loc := loadLocation(tz)
	if parsed, err := time.ParseInLocation("2006-01-02 15:04", value, loc); err == nil {
		return parsed, nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}
