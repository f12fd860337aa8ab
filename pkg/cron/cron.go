package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// searchHorizon bounds Next: an expression that never matches within two
// years of the reference time is considered unsatisfiable.
const searchHorizon = 2 * 365 * 24 * time.Hour

// fieldSpec describes the value range of one cron field.
type fieldSpec struct {
	name     string
	min, max int
}

var fieldSpecs = [5]fieldSpec{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day of month", 1, 31},
	{"month", 1, 12},
	{"day of week", 0, 7}, // 7 is folded into 0 (Sunday)
}

// Expression is a parsed five-field cron expression
// (minute hour day-of-month month day-of-week).
//
// Supported field syntax: "*", literal values, ranges "A-B", steps "*/N" and
// "A-B/N", and comma-separated lists of the above. Day-of-month and
// day-of-week follow classic cron semantics: when both are restricted a time
// matches if either of them matches.
type Expression struct {
	raw string

	minute uint64
	hour   uint64
	dom    uint64
	month  uint64
	dow    uint64

	domRestricted bool
	dowRestricted bool
}

// Parse parses a five-field cron expression.
func Parse(expr string) (*Expression, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("%w: expected 5 fields, got %d in %q", ErrInvalidExpression, len(fields), expr)
	}

	e := &Expression{raw: expr}
	masks := [5]*uint64{&e.minute, &e.hour, &e.dom, &e.month, &e.dow}
	for i, field := range fields {
		mask, wildcard, err := parseField(field, fieldSpecs[i])
		if err != nil {
			return nil, fmt.Errorf("%w: %s field %q: %v", ErrInvalidExpression, fieldSpecs[i].name, field, err)
		}
		*masks[i] = mask
		switch i {
		case 2:
			e.domRestricted = !wildcard
		case 4:
			e.dowRestricted = !wildcard
		}
	}

	// Fold day-of-week 7 into 0 so matching only ever checks 0-6.
	if e.dow&(1<<7) != 0 {
		e.dow |= 1
		e.dow &^= 1 << 7
	}
	return e, nil
}

// MustParse is Parse that panics on error, for statically known expressions.
func MustParse(expr string) *Expression {
	e, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return e
}

// String returns the original expression text.
func (e *Expression) String() string {
	return e.raw
}

// Next returns the first time strictly after the given one that matches the
// expression, in the same location. Returns ErrNoUpcomingRun when nothing
// matches within the search horizon.
func (e *Expression) Next(after time.Time) (time.Time, error) {
	t := after.Truncate(time.Minute).Add(time.Minute)
	deadline := after.Add(searchHorizon)

	for !t.After(deadline) {
		if e.month&(1<<uint(t.Month())) == 0 {
			// Skip to the first minute of the next month.
			t = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).AddDate(0, 1, 0)
			continue
		}
		if !e.dayMatches(t) {
			// Skip to next midnight.
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()).AddDate(0, 0, 1)
			continue
		}
		if e.hour&(1<<uint(t.Hour())) == 0 {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location()).Add(time.Hour)
			continue
		}
		if e.minute&(1<<uint(t.Minute())) == 0 {
			t = t.Add(time.Minute)
			continue
		}
		return t, nil
	}
	return time.Time{}, ErrNoUpcomingRun
}

// Matches reports whether the given time, truncated to the minute, satisfies
// the expression.
func (e *Expression) Matches(t time.Time) bool {
	return e.minute&(1<<uint(t.Minute())) != 0 &&
		e.hour&(1<<uint(t.Hour())) != 0 &&
		e.month&(1<<uint(t.Month())) != 0 &&
		e.dayMatches(t)
}

func (e *Expression) dayMatches(t time.Time) bool {
	domOK := e.dom&(1<<uint(t.Day())) != 0
	dowOK := e.dow&(1<<uint(t.Weekday())) != 0
	switch {
	case e.domRestricted && e.dowRestricted:
		return domOK || dowOK
	case e.domRestricted:
		return domOK
	case e.dowRestricted:
		return dowOK
	default:
		return true
	}
}

// parseField parses one comma-separated field into a bitmask and reports
// whether the field is an unrestricted wildcard.
func parseField(field string, spec fieldSpec) (uint64, bool, error) {
	if field == "*" {
		return rangeMask(spec.min, spec.max, 1), true, nil
	}

	var mask uint64
	for _, term := range strings.Split(field, ",") {
		m, err := parseTerm(term, spec)
		if err != nil {
			return 0, false, err
		}
		mask |= m
	}
	if mask == 0 {
		return 0, false, fmt.Errorf("empty field")
	}
	return mask, false, nil
}

// parseTerm handles a single term: "*", "*/N", "A", "A-B", or "A-B/N".
func parseTerm(term string, spec fieldSpec) (uint64, error) {
	base := term
	step := 1
	if slash := strings.IndexByte(term, '/'); slash >= 0 {
		base = term[:slash]
		n, err := strconv.Atoi(term[slash+1:])
		if err != nil || n < 1 {
			return 0, fmt.Errorf("bad step %q", term[slash+1:])
		}
		step = n
	}

	lo, hi := spec.min, spec.max
	switch {
	case base == "*":
		// full range
	case strings.Contains(base, "-"):
		parts := strings.SplitN(base, "-", 2)
		var err error
		if lo, err = parseValue(parts[0], spec); err != nil {
			return 0, err
		}
		if hi, err = parseValue(parts[1], spec); err != nil {
			return 0, err
		}
		if lo > hi {
			return 0, fmt.Errorf("inverted range %q", base)
		}
	default:
		v, err := parseValue(base, spec)
		if err != nil {
			return 0, err
		}
		lo, hi = v, v
	}
	return rangeMask(lo, hi, step), nil
}

func parseValue(s string, spec fieldSpec) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	if v < spec.min || v > spec.max {
		return 0, fmt.Errorf("value %d out of range %d-%d", v, spec.min, spec.max)
	}
	return v, nil
}

func rangeMask(lo, hi, step int) uint64 {
	var mask uint64
	for v := lo; v <= hi; v += step {
		mask |= 1 << uint(v)
	}
	return mask
}
