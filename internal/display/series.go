// Package display feeds resolved round trips to whatever renders them.
//
// The driver keeps a Series of the most recent points for local
// inspection and hands every point to one or more Sinks.
package display

import (
	"sync"

	"github.com/luciancaetano/wsrtt/internal/latency"
)

// DefaultSeriesLength is the number of points a chart keeps on screen.
const DefaultSeriesLength = 200

// Series is a fixed-size ring of points. It is safe for concurrent use.
type Series struct {
	mu     sync.Mutex
	points []latency.Point
	next   int
	full   bool
}

// NewSeries creates a ring holding at most length points. A non-positive
// length selects DefaultSeriesLength.
func NewSeries(length int) *Series {
	if length <= 0 {
		length = DefaultSeriesLength
	}
	return &Series{points: make([]latency.Point, length)}
}

// Add appends p, evicting the oldest point when the ring is full.
func (s *Series) Add(p latency.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.points[s.next] = p
	s.next = (s.next + 1) % len(s.points)
	if s.next == 0 {
		s.full = true
	}
}

// Len returns the number of points held.
func (s *Series) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		return len(s.points)
	}
	return s.next
}

// Points returns a copy of the held points, oldest first.
func (s *Series) Points() []latency.Point {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.full {
		out := make([]latency.Point, s.next)
		copy(out, s.points[:s.next])
		return out
	}
	out := make([]latency.Point, 0, len(s.points))
	out = append(out, s.points[s.next:]...)
	return append(out, s.points[:s.next]...)
}

// Reset drops every point.
func (s *Series) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.points)
	s.next = 0
	s.full = false
}
