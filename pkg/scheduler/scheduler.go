package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Monitor defines the interface for any periodic job that can be scheduled.
type Monitor interface {
	Name() string
	Run(ctx context.Context)
}

type job struct {
	monitor  Monitor
	interval time.Duration
	maxRuns  int
}

// Scheduler runs each registered monitor in its own goroutine. A monitor
// sleeps for its interval before every run, and its runs never overlap.
type Scheduler struct {
	mu      sync.Mutex
	jobs    []job
	started bool
	wg      sync.WaitGroup
	done    chan struct{}
}

// NewScheduler creates and returns a new Scheduler instance.
func NewScheduler() *Scheduler {
	return &Scheduler{done: make(chan struct{})}
}

// RegisterMonitor adds a monitor. maxRuns limits how many times it runs;
// zero means until shutdown.
func (s *Scheduler) RegisterMonitor(m Monitor, interval time.Duration, maxRuns int) error {
	if interval <= 0 {
		return fmt.Errorf("monitor '%s': interval must be positive, got %s", m.Name(), interval)
	}
	if maxRuns < 0 {
		return fmt.Errorf("monitor '%s': run limit must not be negative, got %d", m.Name(), maxRuns)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("monitor '%s': scheduler already started", m.Name())
	}
	s.jobs = append(s.jobs, job{monitor: m, interval: interval, maxRuns: maxRuns})
	log.Info().Msgf("Monitor '%s' registered.", m.Name())
	return nil
}

// Start launches all registered monitors. Done is closed once every monitor
// has stopped, either at its run limit or when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.started = true
	jobs := append([]job(nil), s.jobs...)
	s.mu.Unlock()

	log.Info().Msg("Scheduler starting...")
	for _, j := range jobs {
		log.Info().Msgf("Starting monitor '%s' with interval %s", j.monitor.Name(), j.interval)
		s.wg.Add(1)
		go s.runMonitor(ctx, j)
	}

	go func() {
		s.wg.Wait()
		close(s.done)
	}()
}

// Done is closed when every monitor has stopped.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until every monitor has stopped.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) runMonitor(ctx context.Context, j job) {
	defer s.wg.Done()

	timer := time.NewTimer(j.interval)
	defer timer.Stop()

	for runs := 0; j.maxRuns == 0 || runs < j.maxRuns; runs++ {
		select {
		case <-timer.C:
		case <-ctx.Done():
			log.Info().Msgf("Monitor '%s' received shutdown signal.", j.monitor.Name())
			return
		}

		log.Debug().Msgf("Running monitor '%s'.", j.monitor.Name())
		j.monitor.Run(ctx)
		timer.Reset(j.interval)
	}
	log.Info().Msgf("Monitor '%s' reached its run limit of %d.", j.monitor.Name(), j.maxRuns)
}
