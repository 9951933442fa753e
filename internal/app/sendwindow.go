package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sayasufi/timekeeper-tg/internal/domain/user"
)

// defaultWorkStart is used when postponing to the next allowed work day and
// the user has no configured work-hours start.
const defaultWorkStart = "09:00"

// minuteOfDay is a local time-of-day in minutes since midnight [0, 1440).
type minuteOfDay int

func parseHHMM(value string) (minuteOfDay, error) {
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid HH:MM value %q", value)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid HH:MM value %q: %w", value, err)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid HH:MM value %q: %w", value, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid HH:MM value %q", value)
	}
	return minuteOfDay(hour*60 + minute), nil
}

// inWindow reports whether current falls inside [start, end), where a window
// with start > end wraps past midnight (e.g. quiet hours 22:00-08:00).
func inWindow(current, start, end minuteOfDay) bool {
	if start <= end {
		return current >= start && current < end
	}
	return current >= start || current < end
}

func atMinute(day time.Time, m minuteOfDay, loc *time.Location) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), int(m)/60, int(m)%60, 0, 0, loc)
}

// nextAllowedTime computes the earliest instant at or after nowUTC at which the
// user may be messaged. It returns (postponeUntil, true) when sending is
// currently blocked by quiet hours, work hours or work days, and (zero, false)
// when the message may go out right away. The result is UTC.
//
// Misconfigured HH:MM values disable the window they belong to rather than
// blocking delivery.
func nextAllowedTime(u *user.User, nowUTC time.Time) (time.Time, bool) {
	loc := u.Location()
	localNow := nowUTC.In(loc)
	current := minuteOfDay(localNow.Hour()*60 + localNow.Minute())

	// Quiet hours win over everything: inside the window, postpone to its end,
	// rolling to the next day when the window wraps past midnight and we are
	// on the evening side of it.
	if u.QuietHoursStart.Valid && u.QuietHoursEnd.Valid {
		quietStart, errStart := parseHHMM(u.QuietHoursStart.String)
		quietEnd, errEnd := parseHHMM(u.QuietHoursEnd.String)
		if errStart == nil && errEnd == nil && inWindow(current, quietStart, quietEnd) {
			day := localNow
			if quietStart > quietEnd && current >= quietStart {
				day = day.AddDate(0, 0, 1)
			}
			return atMinute(day, quietEnd, loc).UTC(), true
		}
	}

	// Outside work hours: postpone to the next work-hours start.
	if u.WorkHoursStart.Valid && u.WorkHoursEnd.Valid {
		workStart, errStart := parseHHMM(u.WorkHoursStart.String)
		workEnd, errEnd := parseHHMM(u.WorkHoursEnd.String)
		if errStart == nil && errEnd == nil && !inWindow(current, workStart, workEnd) {
			day := localNow
			if current >= workEnd {
				day = day.AddDate(0, 0, 1)
			}
			return atMinute(day, workStart, loc).UTC(), true
		}
	}

	// Disallowed weekday: postpone to the next allowed day at the work-hours
	// start (or 09:00 local when none is configured).
	if len(u.WorkDays) > 0 && !containsISOWeekday(u.WorkDays, isoWeekday(localNow)) {
		start := defaultWorkStart
		if u.WorkHoursStart.Valid {
			start = u.WorkHoursStart.String
		}
		startMinute, err := parseHHMM(start)
		if err != nil {
			startMinute, _ = parseHHMM(defaultWorkStart)
		}
		for offset := 1; offset <= 7; offset++ {
			day := localNow.AddDate(0, 0, offset)
			if containsISOWeekday(u.WorkDays, isoWeekday(day)) {
				return atMinute(day, startMinute, loc).UTC(), true
			}
		}
	}

	return time.Time{}, false
}

// isoWeekday returns Monday=1 .. Sunday=7.
func isoWeekday(t time.Time) int64 {
	wd := int64(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

func containsISOWeekday(days []int64, day int64) bool {
	for _, d := range days {
		if d == day {
			return true
		}
	}
	return false
}
