package pipeline

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// cronField matches one field of a cron expression. A nil set is "*".
type cronField struct {
	set map[int]bool
}

func (f cronField) matches(v int) bool {
	return f.set == nil || f.set[v]
}

// parseCronField accepts "*", "*/n", "a", "a-b", "a-b/n" and comma lists of
// those, within [lo, hi].
func parseCronField(field string, lo, hi int) (cronField, error) {
	if field == "*" {
		return cronField{}, nil
	}

	set := make(map[int]bool)
	for _, part := range strings.Split(field, ",") {
		part = strings.TrimSpace(part)
		step := 1
		if i := strings.IndexByte(part, '/'); i >= 0 {
			n, err := strconv.Atoi(part[i+1:])
			if err != nil || n <= 0 {
				return cronField{}, fmt.Errorf("invalid step in %q", part)
			}
			step = n
			part = part[:i]
		}

		from, to := lo, hi
		switch {
		case part == "*":
		case strings.Contains(part, "-"):
			bounds := strings.SplitN(part, "-", 2)
			a, errA := strconv.Atoi(bounds[0])
			b, errB := strconv.Atoi(bounds[1])
			if errA != nil || errB != nil || a > b {
				return cronField{}, fmt.Errorf("invalid range %q", part)
			}
			from, to = a, b
		default:
			v, err := strconv.Atoi(part)
			if err != nil {
				return cronField{}, fmt.Errorf("invalid value %q", part)
			}
			from, to = v, v
		}
		if from < lo || to > hi {
			return cronField{}, fmt.Errorf("%q out of range [%d, %d]", part, lo, hi)
		}
		for v := from; v <= to; v += step {
			set[v] = true
		}
	}
	return cronField{set: set}, nil
}

// Schedule is a parsed "minute hour day-of-month month day-of-week"
// expression, evaluated in UTC.
type Schedule struct {
	minute, hour, dom, month, dow cronField
}

// ParseCron parses a standard 5-field cron expression.
func ParseCron(expr string) (Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return Schedule{}, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}

	specs := []struct {
		name   string
		lo, hi int
	}{
		{"minute", 0, 59},
		{"hour", 0, 23},
		{"day-of-month", 1, 31},
		{"month", 1, 12},
		{"day-of-week", 0, 6},
	}
	parsed := make([]cronField, len(specs))
	for i, spec := range specs {
		f, err := parseCronField(fields[i], spec.lo, spec.hi)
		if err != nil {
			return Schedule{}, fmt.Errorf("parsing %s field: %w", spec.name, err)
		}
		parsed[i] = f
	}
	return Schedule{
		minute: parsed[0],
		hour:   parsed[1],
		dom:    parsed[2],
		month:  parsed[3],
		dow:    parsed[4],
	}, nil
}

func (s Schedule) matches(t time.Time) bool {
	return s.minute.matches(t.Minute()) &&
		s.hour.matches(t.Hour()) &&
		s.dom.matches(t.Day()) &&
		s.month.matches(int(t.Month())) &&
		s.dow.matches(int(t.Weekday()))
}

// Next returns the first matching minute strictly after the given time,
// searching at most one year ahead.
func (s Schedule) Next(after time.Time) (time.Time, error) {
	candidate := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(366 * 24 * time.Hour)

	for candidate.Before(limit) {
		if s.matches(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, fmt.Errorf("no matching time within one year")
}
