package pto

import (
	"time"
)

// DateLayout is the calendar-date format used on requests and schedules.
const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD date in UTC.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

// FormatDate renders t as YYYY-MM-DD.
func FormatDate(t time.Time) string { return t.Format(DateLayout) }

func IsWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// Weekdays returns every Monday-to-Friday date in [start, end].
func Weekdays(start, end time.Time) []time.Time {
	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if !IsWeekend(d) {
			days = append(days, d)
		}
	}
	return days
}

// WorkdaySchedules builds one schedule entry per weekday in [start, end].
func WorkdaySchedules(start, end string, st ScheduleType, lt LeaveType) ([]ScheduleInput, error) {
	s, err := ParseDate(start)
	if err != nil {
		return nil, invalid("start_date", "not a date: %q", start)
	}
	e, err := ParseDate(end)
	if err != nil {
		return nil, invalid("end_date", "not a date: %q", end)
	}
	if s.After(e) {
		return nil, invalid("start_date", "start date %s is after end date %s", start, end)
	}
	var out []ScheduleInput
	for _, d := range Weekdays(s, e) {
		out = append(out, ScheduleInput{Date: FormatDate(d), ScheduleType: st, LeaveType: lt})
	}
	return out, nil
}
