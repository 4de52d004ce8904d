// Package stats aggregates per-request outcomes of a load run.
package stats

import (
	"sync/atomic"
	"time"
)

// Stats holds real-time aggregated metrics. Counters are updated atomically
// and may be read while a run is in progress.
type Stats struct {
	Requests uint64 // responses received, any status
	Success  uint64 // 2xx responses
	Non2xx   uint64
	Errors   uint64 // transport failures, timeouts included
	Timeouts uint64
	Bytes    uint64

	// Response latency (microseconds), responses only.
	Latency *SafeHistogram
}

func NewStats() *Stats {
	return &Stats{Latency: NewSafeHistogram()}
}

// AddResponse records a response that came back from the target.
func (s *Stats) AddResponse(status int, bytes int64, latency time.Duration) {
	atomic.AddUint64(&s.Requests, 1)
	if status >= 200 && status < 300 {
		atomic.AddUint64(&s.Success, 1)
	} else {
		atomic.AddUint64(&s.Non2xx, 1)
	}
	if bytes > 0 {
		atomic.AddUint64(&s.Bytes, uint64(bytes))
	}
	s.Latency.RecordValue(latency.Microseconds())
}

// AddError records a request that produced no response.
func (s *Stats) AddError(timeout bool) {
	atomic.AddUint64(&s.Errors, 1)
	if timeout {
		atomic.AddUint64(&s.Timeouts, 1)
	}
}

// Responded reports whether the target has answered at least once.
func (s *Stats) Responded() bool {
	return atomic.LoadUint64(&s.Requests) > 0
}

// ErrorRate is the percentage of attempts that failed or got a non-2xx answer.
func (s *Stats) ErrorRate() float64 {
	reqs := atomic.LoadUint64(&s.Requests) + atomic.LoadUint64(&s.Errors)
	if reqs == 0 {
		return 0
	}
	fails := atomic.LoadUint64(&s.Errors) + atomic.LoadUint64(&s.Non2xx)
	return (float64(fails) / float64(reqs)) * 100
}

// Snapshot is a point-in-time copy of the aggregates. Latencies are in
// milliseconds.
type Snapshot struct {
	Requests uint64
	Success  uint64
	Non2xx   uint64
	Errors   uint64
	Timeouts uint64
	Bytes    uint64

	// ErrorRate is a percentage, see Stats.ErrorRate.
	ErrorRate float64

	MinMs  float64
	MaxMs  float64
	MeanMs float64
	P50Ms  float64
	P90Ms  float64
	P99Ms  float64
}

func (s *Stats) Snapshot() Snapshot {
	snap := Snapshot{
		Requests: atomic.LoadUint64(&s.Requests),
		Success:  atomic.LoadUint64(&s.Success),
		Non2xx:   atomic.LoadUint64(&s.Non2xx),
		Errors:   atomic.LoadUint64(&s.Errors),
		Timeouts: atomic.LoadUint64(&s.Timeouts),
		Bytes:    atomic.LoadUint64(&s.Bytes),
	}
	snap.ErrorRate = s.ErrorRate()
	if s.Latency.TotalCount() == 0 {
		return snap
	}
	snap.MinMs = usToMs(float64(s.Latency.Min()))
	snap.MaxMs = usToMs(float64(s.Latency.Max()))
	snap.MeanMs = usToMs(s.Latency.Mean())
	snap.P50Ms = usToMs(float64(s.Latency.ValueAtQuantile(50)))
	snap.P90Ms = usToMs(float64(s.Latency.ValueAtQuantile(90)))
	snap.P99Ms = usToMs(float64(s.Latency.ValueAtQuantile(99)))
	return snap
}

func usToMs(v float64) float64 { return v / 1000.0 }
