package workers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/usdtpay/settlement/internal/observability"
)

var errTickPanic = errors.New("tick panicked")

// TickFunc is one pass of a polling worker.
type TickFunc func(ctx context.Context) error

// Scheduler runs a TickFunc on a fixed interval. A tick that fires while the
// previous one is still running is skipped, never queued.
type Scheduler struct {
	name     string
	interval time.Duration
	timeout  time.Duration
	tick     TickFunc
	logger   zerolog.Logger
	metrics  *observability.Metrics

	running atomic.Bool
	wg      sync.WaitGroup
}

func NewScheduler(name string, interval, timeout time.Duration, tick TickFunc, logger zerolog.Logger, metrics *observability.Metrics) *Scheduler {
	if timeout <= 0 {
		timeout = interval
	}
	return &Scheduler{
		name:     name,
		interval: interval,
		timeout:  timeout,
		tick:     tick,
		logger:   logger,
		metrics:  metrics,
	}
}

// Run blocks until ctx is cancelled, then waits for the in-flight tick.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info().Dur("interval", s.interval).Msg("worker started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.spawn(ctx)
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.logger.Info().Msg("worker stopped")
			return
		case <-ticker.C:
			s.spawn(ctx)
		}
	}
}

func (s *Scheduler) spawn(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.skip()
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		s.runTick(ctx)
	}()
}

// TryTick runs one tick synchronously unless one is already running.
func (s *Scheduler) TryTick(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		s.skip()
		return false
	}
	defer s.running.Store(false)
	s.runTick(ctx)
	return true
}

func (s *Scheduler) skip() {
	s.metrics.TickSkipped(s.name)
	s.logger.Debug().Msg("previous tick still running, skipping")
}

func (s *Scheduler) runTick(ctx context.Context) {
	tickCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("tick panicked")
			s.metrics.TickDone(s.name, time.Since(start).Seconds(), errTickPanic)
		}
	}()

	err := s.tick(tickCtx)
	s.metrics.TickDone(s.name, time.Since(start).Seconds(), err)
	if err != nil {
		s.logger.Error().Err(err).Msg("tick failed")
	}
}
