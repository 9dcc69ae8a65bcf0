// Package utils holds small helpers shared by the HTTP and service layers
// that carry no domain knowledge of their own.
package utils

import "strconv"

// Paging bounds for history endpoints.
const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Window is a 1-based page of a history listing.
type Window struct {
	Page int
	Size int
}

// NewWindow bounds page to >= 1 and size to [1, MaxPageSize]. A size of zero
// or less selects DefaultPageSize.
func NewWindow(page, size int) Window {
	if page < 1 {
		page = 1
	}
	switch {
	case size <= 0:
		size = DefaultPageSize
	case size > MaxPageSize:
		size = MaxPageSize
	}
	return Window{Page: page, Size: size}
}

// ParseWindow builds a Window from raw query values. Unparseable values fall
// back to the defaults; an explicit page_size below one is raised to one.
func ParseWindow(page, size string) Window {
	p := AtoiDefault(page, 1)
	s := AtoiDefault(size, DefaultPageSize)
	if s < 1 {
		s = 1
	}
	return NewWindow(p, s)
}

// Offset is the number of rows preceding the window.
func (w Window) Offset() int { return (w.Page - 1) * w.Size }

// TotalPages is the number of windows of this size needed to cover total.
func (w Window) TotalPages(total int64) int {
	if total <= 0 {
		return 0
	}
	return int((total + int64(w.Size) - 1) / int64(w.Size))
}

// HasNext reports whether another window follows this one.
func (w Window) HasNext(total int64) bool { return w.Page < w.TotalPages(total) }

// AtoiDefault returns def when s is empty or not a base-10 int.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}
