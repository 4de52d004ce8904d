package driver

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// DefaultRampInterval is how often a stress run adds connections.
const DefaultRampInterval = 10 * time.Second

type State int

const (
	Idle State = iota
	Ramping
	Saturated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Ramping:
		return "ramping"
	case Saturated:
		return "saturated"
	default:
		return "unknown"
	}
}

// RampScheduler grows the concurrency of a running generator from 1 to
// Target in fixed steps, one step per Interval. Values only ever increase.
type RampScheduler struct {
	Target   int
	Duration time.Duration
	Interval time.Duration

	clock clockwork.Clock
	log   *zap.Logger

	mu    sync.Mutex
	state State
	last  int
}

func NewRampScheduler(target int, duration, interval time.Duration, clock clockwork.Clock, log *zap.Logger) *RampScheduler {
	if interval <= 0 {
		interval = DefaultRampInterval
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RampScheduler{
		Target:   target,
		Duration: duration,
		Interval: interval,
		clock:    clock,
		log:      log,
	}
}

// Plan returns the number of steps (Duration/Interval, at least one) and the
// increment per step, ceil(Target/steps), at least one.
func (s *RampScheduler) Plan() (steps, stepSize int) {
	steps = int(s.Duration / s.Interval)
	if steps < 1 {
		steps = 1
	}
	stepSize = int(math.Ceil(float64(s.target()) / float64(steps)))
	if stepSize < 1 {
		stepSize = 1
	}
	return steps, stepSize
}

func (s *RampScheduler) target() int {
	if s.Target < 1 {
		return 1
	}
	return s.Target
}

// Sequence is the concurrency applied at start and after each tick: 1,
// 1+stepSize, ... while within Target. When the last step falls short of
// Target it is raised to Target, or Target is appended if there is a spare
// step, so the final adjustment lands before Duration ends.
func (s *RampScheduler) Sequence() []int {
	steps, stepSize := s.Plan()
	target := s.target()

	var seq []int
	current := 1
	for ; current <= target; current += stepSize {
		seq = append(seq, current)
	}
	if last := len(seq) - 1; seq[last] < target {
		if len(seq) < steps || last == 0 {
			seq = append(seq, target)
		} else {
			seq[last] = target
		}
	}
	return seq
}

func (s *RampScheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Current is the last value applied, zero before Run.
func (s *RampScheduler) Current() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Run applies the first value immediately and one more per tick until the
// target is reached or ctx is done. It returns nil in both cases.
func (s *RampScheduler) Run(ctx context.Context, set func(n int)) error {
	seq := s.Sequence()
	steps, stepSize := s.Plan()
	s.log.Info("ramping connections",
		zap.Int("target", s.target()),
		zap.Int("steps", steps),
		zap.Int("stepSize", stepSize),
		zap.Duration("interval", s.Interval),
	)

	s.setState(Ramping)
	s.apply(seq[0], set)
	seq = seq[1:]
	if len(seq) == 0 {
		s.setState(Saturated)
		return nil
	}

	ticker := s.clock.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			s.apply(seq[0], set)
			seq = seq[1:]
			if len(seq) == 0 {
				s.setState(Saturated)
				s.log.Info("ramp saturated", zap.Int("connections", s.Current()))
				return nil
			}
		}
	}
}

func (s *RampScheduler) apply(n int, set func(int)) {
	set(n)
	s.mu.Lock()
	s.last = n
	s.mu.Unlock()
	s.log.Debug("connections set", zap.Int("connections", n))
}

func (s *RampScheduler) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}
