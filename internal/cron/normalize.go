package cron

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var weekdayNames = map[string]int{
	"sunday": 0, "sun": 0,
	"monday": 1, "mon": 1,
	"tuesday": 2, "tue": 2, "tues": 2,
	"wednesday": 3, "wed": 3,
	"thursday": 4, "thu": 4, "thur": 4, "thurs": 4,
	"friday": 5, "fri": 5,
	"saturday": 6, "sat": 6,
}

var (
	everyDayAtRe  = regexp.MustCompile(`^every\s+day\s+at\s+(\d{1,2}):(\d{2})$`)
	weekdayAtRe   = regexp.MustCompile(`^(\w+)\s+at\s+(\d{1,2}):(\d{2})$`)
	everyNMinsRe  = regexp.MustCompile(`^every\s+(\d+)\s+minutes?$`)
	everyNHoursRe = regexp.MustCompile(`^every\s+(\d+)\s+hours?$`)
	dailyAtRe     = regexp.MustCompile(`^daily\s+at\s+(\d{1,2}):(\d{2})$`)
	hourlyRe      = regexp.MustCompile(`^hourly$`)
)

// parseNaturalLanguageSchedule translates a handful of common free-text
// schedule phrasings into a five-field cron expression. The literal input is
// returned unchanged (ok=false) when no pattern matches, so callers fall
// through to normal cron validation rather than treating it as an error.
func parseNaturalLanguageSchedule(s string) (string, bool) {
	text := strings.ToLower(strings.TrimSpace(s))
	if text == "" {
		return s, false
	}

	if m := everyDayAtRe.FindStringSubmatch(text); m != nil {
		if expr, ok := hourMinuteExpr(m[1], m[2], "*"); ok {
			return expr, true
		}
	}
	if m := dailyAtRe.FindStringSubmatch(text); m != nil {
		if expr, ok := hourMinuteExpr(m[1], m[2], "*"); ok {
			return expr, true
		}
	}
	if hourlyRe.MatchString(text) {
		return "0 * * * *", true
	}
	if m := everyNMinsRe.FindStringSubmatch(text); m != nil {
		return fmt.Sprintf("*/%s * * * *", m[1]), true
	}
	if m := everyNHoursRe.FindStringSubmatch(text); m != nil {
		return fmt.Sprintf("0 */%s * * *", m[1]), true
	}
	if m := weekdayAtRe.FindStringSubmatch(text); m != nil {
		if dow, ok := weekdayNames[m[1]]; ok {
			if expr, ok := hourMinuteExpr(m[2], m[3], strconv.Itoa(dow)); ok {
				return expr, true
			}
		}
	}
	return s, false
}

func hourMinuteExpr(hourStr, minuteStr, dow string) (string, bool) {
	hour, err := strconv.Atoi(hourStr)
	if err != nil || hour < 0 || hour > 23 {
		return "", false
	}
	minute, err := strconv.Atoi(minuteStr)
	if err != nil || minute < 0 || minute > 59 {
		return "", false
	}
	return fmt.Sprintf("%d %d * * %s", minute, hour, dow), true
}
