// Package runner is a closed-loop HTTP load generator whose concurrency can
// be raised while it runs.
package runner

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"loadpilot/internal/metrics"
	"loadpilot/internal/stats"
)

var (
	// ErrTargetUnreachable is reported when connecting fails before the
	// target has answered a single request.
	ErrTargetUnreachable = errors.New("target unreachable")
	ErrAlreadyStarted    = errors.New("runner already started")
)

const defaultTimeout = 10 * time.Second

type Runner struct {
	Cfg     Config
	Stats   *stats.Stats
	Client  *http.Client
	Metrics *metrics.Collector

	limiter     *rate.Limiter
	concurrency atomic.Int64
	inflight    int64
	startedAt   atomic.Pointer[time.Time]
	started     atomic.Bool

	control  chan int
	fatal    chan error
	stop     chan struct{}
	stopOnce sync.Once
	finished chan struct{}
	done     chan Outcome
}

func NewRunner(cfg Config, m *metrics.Collector) *Runner {
	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 2000
	t.MaxConnsPerHost = 2000
	t.MaxIdleConnsPerHost = 2000
	if cfg.Insecure {
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	r := &Runner{
		Cfg:   cfg,
		Stats: stats.NewStats(),
		Client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: t,
		},
		Metrics:  m,
		control:  make(chan int),
		fatal:    make(chan error, 1),
		stop:     make(chan struct{}),
		finished: make(chan struct{}),
		done:     make(chan Outcome, 1),
	}
	if cfg.MaxRPS > 0 {
		burst := int(cfg.MaxRPS)
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(cfg.MaxRPS), burst)
	}
	return r
}

// Start launches Cfg.Connections workers and returns immediately. The run
// ends when Cfg.Duration elapses, Stop is called, ctx is cancelled or the
// target turns out to be unreachable; exactly one Outcome is then sent on
// Done.
func (r *Runner) Start(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	now := time.Now()
	r.startedAt.Store(&now)
	go r.supervise(ctx, now)
	return nil
}

// SetConcurrency asks the supervisor to grow the worker pool to n. Values at
// or below the current concurrency are ignored. It is a no-op once the run
// has finished.
func (r *Runner) SetConcurrency(n int) {
	select {
	case r.control <- n:
	case <-r.finished:
	}
}

// Concurrency is the number of workers currently started.
func (r *Runner) Concurrency() int {
	return int(r.concurrency.Load())
}

func (r *Runner) Done() <-chan Outcome {
	return r.done
}

// Stop ends the run early. In-flight requests still complete.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// StartedAt is the zero time until Start is called.
func (r *Runner) StartedAt() time.Time {
	if t := r.startedAt.Load(); t != nil {
		return *t
	}
	return time.Time{}
}

// Snapshot reads the live aggregates.
func (r *Runner) Snapshot() stats.Snapshot {
	return r.Stats.Snapshot()
}

// Inflight is the number of requests currently awaiting a response.
func (r *Runner) Inflight() int64 {
	return atomic.LoadInt64(&r.inflight)
}

func (r *Runner) supervise(ctx context.Context, start time.Time) {
	runCtx, cancel := context.WithTimeout(ctx, r.Cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	grow := func(n int) {
		for r.Concurrency() < n {
			r.concurrency.Add(1)
			wg.Add(1)
			go r.worker(runCtx, &wg)
		}
		r.Metrics.SetConcurrency(r.Concurrency())
	}
	grow(r.Cfg.Connections)

	var runErr error
loop:
	for {
		select {
		case n := <-r.control:
			if n > r.Concurrency() {
				grow(n)
			}
		case err := <-r.fatal:
			runErr = err
			break loop
		case <-r.stop:
			break loop
		case <-runCtx.Done():
			if ctx.Err() != nil {
				runErr = errors.Wrap(ctx.Err(), "run interrupted")
			}
			break loop
		}
	}

	close(r.finished)
	cancel()
	wg.Wait()

	r.done <- Outcome{
		Stats:     r.Stats.Snapshot(),
		StartedAt: start,
		Elapsed:   time.Since(start),
		Err:       runErr,
	}
}

func (r *Runner) worker(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	for ctx.Err() == nil {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return
			}
		}
		r.executeRequest()
	}
}

// executeRequest is not bound to the run context: a request already on the
// wire completes and is counted. Client.Timeout bounds it.
func (r *Runner) executeRequest() {
	atomic.AddInt64(&r.inflight, 1)
	defer atomic.AddInt64(&r.inflight, -1)

	req, err := http.NewRequest(r.Cfg.Method, r.Cfg.URL, nil)
	if err != nil {
		r.fail(errors.Wrap(err, "build request"))
		return
	}

	start := time.Now()
	resp, err := r.Client.Do(req)
	if err != nil {
		timeout := isTimeout(err)
		r.Stats.AddError(timeout)
		r.Metrics.ObserveError(timeout)
		if isDialError(err) && !r.Stats.Responded() {
			r.fail(errors.Wrapf(ErrTargetUnreachable, "%s: %v", r.Cfg.URL, err))
		}
		return
	}

	n, _ := io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	latency := time.Since(start)

	r.Stats.AddResponse(resp.StatusCode, n, latency)
	r.Metrics.ObserveResponse(resp.StatusCode, latency)
}

func (r *Runner) fail(err error) {
	select {
	case r.fatal <- err:
	default:
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isDialError(err error) bool {
	var oe *net.OpError
	return errors.As(err, &oe) && oe.Op == "dial"
}
