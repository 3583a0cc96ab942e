// Package latency correlates driver requests with their echoed responses
// and keeps running round-trip statistics.
package latency

import (
	"math"
	"sync"
	"time"
)

// Point is one resolved round trip. Seq is the received-sample number,
// starting at 1.
type Point struct {
	Seq     int64         `json:"seq"`
	ID      string        `json:"id"`
	Latency time.Duration `json:"latency"`
}

// Metrics is a snapshot of the running aggregates. Latencies are zero until
// the first sample is recorded.
type Metrics struct {
	MsgRx      int64         `json:"msgRx"`
	MsgTx      int64         `json:"msgTx"`
	CharRx     int64         `json:"charRx"`
	CharTx     int64         `json:"charTx"`
	MinLatency time.Duration `json:"minLatency"`
	MaxLatency time.Duration `json:"maxLatency"`
	AvgLatency time.Duration `json:"avgLatency"`
}

// Options configures a Tracker.
type Options struct {
	// CorrectedAverage replaces the legacy recurrence, which halves the
	// first sample, with the arithmetic running mean.
	CorrectedAverage bool
}

// Tracker is safe for concurrent use. Requests that never get a response
// stay pending forever; Pending reports how many there are.
type Tracker struct {
	mu        sync.Mutex
	corrected bool

	pending map[string]time.Time
	samples int64
	avg     float64 // nanoseconds
	min     time.Duration
	max     time.Duration
	m       Metrics
}

// New creates an empty tracker.
func New(opts Options) *Tracker {
	t := &Tracker{corrected: opts.CorrectedAverage}
	t.resetLocked()
	return t
}

// Reset clears counters, aggregates and the pending requests.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked()
}

func (t *Tracker) resetLocked() {
	t.pending = make(map[string]time.Time)
	t.samples = 0
	t.avg = 0
	t.min = time.Duration(math.MaxInt64)
	t.max = time.Duration(math.MinInt64)
	t.m = Metrics{}
}

// OnSend records a request sent at the given time. chars is the length of
// the serialized frame.
func (t *Tracker) OnSend(id string, chars int, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pending[id] = at
	t.m.MsgTx++
	t.m.CharTx += int64(chars)
}

// OnReceive counts a response and, when id matches a pending request,
// resolves it. Unknown ids are counted but produce no point.
func (t *Tracker) OnReceive(id string, chars int, at time.Time) (Point, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.m.MsgRx++
	t.m.CharRx += int64(chars)

	sent, ok := t.pending[id]
	if !ok {
		return Point{}, false
	}
	delete(t.pending, id)

	latency := at.Sub(sent)
	if latency < t.min {
		t.min = latency
	}
	if latency > t.max {
		t.max = latency
	}

	n := float64(t.samples)
	t.samples++
	if t.corrected {
		t.avg += (float64(latency) - t.avg) / float64(t.samples)
	} else {
		// Legacy recurrence: the counter is bumped before it is used as the
		// weight, so the first sample is halved.
		n++
		t.avg = (t.avg*n + float64(latency)) / (n + 1)
	}

	return Point{Seq: t.samples, ID: id, Latency: latency}, true
}

// Pending returns the number of requests still waiting for a response.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Snapshot returns the current aggregates.
func (t *Tracker) Snapshot() Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	m := t.m
	if t.samples > 0 {
		m.MinLatency = t.min
		m.MaxLatency = t.max
		m.AvgLatency = time.Duration(t.avg)
	}
	return m
}
