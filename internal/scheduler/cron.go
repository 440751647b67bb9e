package scheduler

import (
	"strconv"
	"strings"
	"time"

	"github.com/dmscode/dmsflow/pkg/schema"
)

// cronField bounds, in field order: minute, hour, day-of-month, month, weekday.
var cronBounds = [5]struct {
	name     string
	min, max int
}{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"weekday", 0, 6},
}

// fieldMatcher reports whether a single calendar component matches.
type fieldMatcher func(v int) bool

// CronExpr is a parsed 5-field cron expression.
// Steps (*/n) match when the value is divisible by n, so "*/5" in the
// day-of-month field matches 5, 10, 15 and not 1, 6, 11.
type CronExpr struct {
	raw    string
	fields [5]fieldMatcher
}

// String returns the expression as it was parsed.
func (c *CronExpr) String() string { return c.raw }

// ParseCron parses a whitespace-separated minute/hour/dom/month/weekday expression.
func ParseCron(expr string) (*CronExpr, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidExpression,
			"cron expression %q: expected 5 fields, got %d", expr, len(parts))
	}

	c := &CronExpr{raw: expr}
	for i, part := range parts {
		m, err := parseCronField(part, cronBounds[i].min, cronBounds[i].max)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeInvalidExpression,
				"cron expression %q: %s field %q: %s", expr, cronBounds[i].name, part, err.Error())
		}
		c.fields[i] = m
	}
	return c, nil
}

// Matches reports whether t satisfies all five fields. Weekday 0 is Sunday.
func (c *CronExpr) Matches(t time.Time) bool {
	values := [5]int{t.Minute(), t.Hour(), t.Day(), int(t.Month()), int(t.Weekday())}
	for i, m := range c.fields {
		if !m(values[i]) {
			return false
		}
	}
	return true
}

func parseCronField(field string, lo, hi int) (fieldMatcher, error) {
	if field == "*" {
		return func(int) bool { return true }, nil
	}

	if strings.HasPrefix(field, "*/") {
		n, err := strconv.Atoi(field[2:])
		if err != nil || n <= 0 {
			return nil, errInvalidStep
		}
		return func(v int) bool { return v%n == 0 }, nil
	}

	var matchers []fieldMatcher
	for _, item := range strings.Split(field, ",") {
		m, err := parseCronItem(item, lo, hi)
		if err != nil {
			return nil, err
		}
		matchers = append(matchers, m)
	}
	return func(v int) bool {
		for _, m := range matchers {
			if m(v) {
				return true
			}
		}
		return false
	}, nil
}

func parseCronItem(item string, lo, hi int) (fieldMatcher, error) {
	if item == "" {
		return nil, errEmptyItem
	}
	if a, b, ok := strings.Cut(item, "-"); ok {
		from, err := parseCronValue(a, lo, hi)
		if err != nil {
			return nil, err
		}
		to, err := parseCronValue(b, lo, hi)
		if err != nil {
			return nil, err
		}
		if from > to {
			return nil, errInvertedRange
		}
		return func(v int) bool { return v >= from && v <= to }, nil
	}
	n, err := parseCronValue(item, lo, hi)
	if err != nil {
		return nil, err
	}
	return func(v int) bool { return v == n }, nil
}

func parseCronValue(s string, lo, hi int) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errNotNumber
	}
	if n < lo || n > hi {
		return 0, errOutOfRange
	}
	return n, nil
}

type cronErr string

func (e cronErr) Error() string { return string(e) }

const (
	errInvalidStep   cronErr = "step must be a positive integer"
	errEmptyItem     cronErr = "empty list item"
	errInvertedRange cronErr = "range start exceeds end"
	errNotNumber     cronErr = "not a number"
	errOutOfRange    cronErr = "value out of range"
)
