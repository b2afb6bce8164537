// Package listutil parses and normalises limit/offset paging for list endpoints.
package listutil

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
)

const (
	// DefaultLimit is used when no limit is given.
	DefaultLimit = 50
	// MaxLimit caps a single page.
	MaxLimit = 100
)

// ErrNegativeOffset is returned for an offset below zero.
var ErrNegativeOffset = errors.New("offset must be >= 0")

// Window is one page of an ordered list.
type Window struct {
	Limit  int
	Offset int
}

// NewWindow normalises a requested page: a zero limit becomes DefaultLimit and the
// limit is clamped to 1..MaxLimit.
// PRE: none
// POST: returns a Window with 1 <= Limit <= MaxLimit, or ErrNegativeOffset
func NewWindow(limit, offset int) (Window, error) {
	if offset < 0 {
		return Window{}, ErrNegativeOffset
	}
	switch {
	case limit == 0:
		limit = DefaultLimit
	case limit < 1:
		limit = 1
	case limit > MaxLimit:
		limit = MaxLimit
	}
	return Window{Limit: limit, Offset: offset}, nil
}

// ParseWindow extracts limit and offset from URL query values.
// PRE: none
// POST: returns a normalised Window; malformed numbers are errors
func ParseWindow(q url.Values) (Window, error) {
	limit, err := intParam(q, "limit")
	if err != nil {
		return Window{}, err
	}
	offset, err := intParam(q, "offset")
	if err != nil {
		return Window{}, err
	}
	return NewWindow(limit, offset)
}

func intParam(q url.Values, key string) (int, error) {
	raw := q.Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}
