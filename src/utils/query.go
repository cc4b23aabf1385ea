package utils

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Query reads typed values out of a request's query string. Parse failures
// are collected and reported together by Err.
type Query struct {
	values url.Values
	errs   []error
}

func NewQuery(values url.Values) *Query {
	return &Query{values: values}
}

func (q *Query) raw(key string) (string, bool) {
	v := strings.TrimSpace(q.values.Get(key))
	return v, v != ""
}

func (q *Query) fail(key, want, got string) {
	q.errs = append(q.errs, fmt.Errorf("query %q: expected %s, got %q", key, want, got))
}

func (q *Query) String(key, fallback string) string {
	if v, ok := q.raw(key); ok {
		return v
	}
	return fallback
}

func (q *Query) Bool(key string) *bool {
	v, ok := q.raw(key)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		q.fail(key, "a boolean", v)
		return nil
	}
	return &b
}

func (q *Query) Int(key string, fallback, min, max int) int {
	v, ok := q.raw(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < min || n > max {
		q.fail(key, fmt.Sprintf("an integer in [%d, %d]", min, max), v)
		return fallback
	}
	return n
}

func (q *Query) Uint(key string) *uint {
	v, ok := q.raw(key)
	if !ok {
		return nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		q.fail(key, "a positive integer", v)
		return nil
	}
	u := uint(n)
	return &u
}

// Date accepts YYYY-MM-DD.
func (q *Query) Date(key string) *time.Time {
	v, ok := q.raw(key)
	if !ok {
		return nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		q.fail(key, "a date (YYYY-MM-DD)", v)
		return nil
	}
	return &t
}

func (q *Query) Enum(key string, allowed ...string) string {
	v, ok := q.raw(key)
	if !ok {
		return ""
	}
	if !slices.Contains(allowed, v) {
		q.fail(key, "one of "+strings.Join(allowed, ", "), v)
		return ""
	}
	return v
}

func (q *Query) Err() error {
	return errors.Join(q.errs...)
}
