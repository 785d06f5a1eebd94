package scheduler

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
	"time"
)

// CronSchedule is a parsed five-field cron expression:
// minute hour day-of-month month day-of-week.
//
//	"0 3 * * *"     every day at 03:00
//	"30 22 * * 1-5" weekdays at 22:30
//	"0 */6 * * *"   every six hours
//
// Each field accepts *, n, n-m, */s, n-m/s and comma-separated lists of
// those. Day-of-week 7 is an alias for Sunday.
type CronSchedule struct {
	raw      string
	minute   uint64
	hour     uint64
	dom      uint64
	month    uint64
	dow      uint64
	location *time.Location
}

type cronField struct {
	name     string
	min, max int
}

var cronFields = [5]cronField{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 7},
}

// ParseCron parses expr. Activations are computed in loc (UTC when nil).
func ParseCron(expr string, loc *time.Location) (*CronSchedule, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return nil, fmt.Errorf("cron %q: expected 5 fields, got %d", expr, len(parts))
	}
	if loc == nil {
		loc = time.UTC
	}

	var sets [5]uint64
	for i, f := range cronFields {
		set, err := parseCronField(parts[i], f)
		if err != nil {
			return nil, fmt.Errorf("cron %q: %s: %w", expr, f.name, err)
		}
		sets[i] = set
	}
	// 7 and 0 both mean Sunday
	if sets[4]&(1<<7) != 0 {
		sets[4] = sets[4]&^(1<<7) | 1
	}

	return &CronSchedule{
		raw:      expr,
		minute:   sets[0],
		hour:     sets[1],
		dom:      sets[2],
		month:    sets[3],
		dow:      sets[4],
		location: loc,
	}, nil
}

// MustParseCron is ParseCron for static expressions.
func MustParseCron(expr string, loc *time.Location) *CronSchedule {
	s, err := ParseCron(expr, loc)
	if err != nil {
		panic(err)
	}
	return s
}

func parseCronField(field string, f cronField) (uint64, error) {
	var set uint64
	for _, item := range strings.Split(field, ",") {
		lo, hi, step := f.min, f.max, 1

		rng := item
		i := strings.IndexByte(item, '/')
		if i >= 0 {
			s, err := strconv.Atoi(item[i+1:])
			if err != nil || s < 1 {
				return 0, fmt.Errorf("invalid step %q", item)
			}
			step = s
			rng = item[:i]
		}

		switch {
		case rng == "*":
		case strings.Contains(rng, "-"):
			a, b, _ := strings.Cut(rng, "-")
			var err error
			if lo, err = strconv.Atoi(a); err != nil {
				return 0, fmt.Errorf("invalid range %q", item)
			}
			if hi, err = strconv.Atoi(b); err != nil {
				return 0, fmt.Errorf("invalid range %q", item)
			}
		default:
			v, err := strconv.Atoi(rng)
			if err != nil {
				return 0, fmt.Errorf("invalid value %q", item)
			}
			lo = v
			if i < 0 {
				hi = v
			}
		}

		if lo < f.min || hi > f.max || lo > hi {
			return 0, fmt.Errorf("%q outside [%d-%d]", item, f.min, f.max)
		}
		for v := lo; v <= hi; v += step {
			set |= 1 << uint(v)
		}
	}
	return set, nil
}

// Next returns the first matching minute strictly after t, or the zero time
// if nothing matches within five years (e.g. "0 0 31 2 *").
func (c *CronSchedule) Next(t time.Time) time.Time {
	t = t.In(c.location).Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(5, 0, 0)

	for t.Before(limit) {
		if !has(c.month, int(t.Month())) {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, c.location)
			continue
		}
		if !c.dayMatches(t) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, c.location)
			continue
		}
		if !has(c.hour, t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, c.location)
			continue
		}
		if !has(c.minute, t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}
		return t
	}
	return time.Time{}
}

// dayMatches applies the classic rule: when both day fields are restricted,
// either may match.
func (c *CronSchedule) dayMatches(t time.Time) bool {
	domAny := bits.OnesCount64(c.dom) == 31
	dowAny := bits.OnesCount64(c.dow) == 7
	dom, dow := has(c.dom, t.Day()), has(c.dow, int(t.Weekday()))
	switch {
	case domAny && dowAny:
		return true
	case domAny:
		return dow
	case dowAny:
		return dom
	default:
		return dom || dow
	}
}

func has(set uint64, v int) bool {
	return set&(1<<uint(v)) != 0
}

func (c *CronSchedule) String() string {
	return c.raw
}
