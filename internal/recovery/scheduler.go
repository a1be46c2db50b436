package recovery

import (
	"context"
	"sync"
	"time"

	"github.com/jwlin/recallbox/internal/logging"
	"github.com/jwlin/recallbox/internal/models"
)

// SchedulerOptions configures the automatic backup loop.
type SchedulerOptions struct {
	// Interval between scheduled points.
	Interval time.Duration

	// OnStartup takes a point as soon as the scheduler starts.
	OnStartup bool

	// OnShutdown takes a final point when the scheduler stops.
	OnShutdown bool
}

// Scheduler takes periodic recovery points in the background.
type Scheduler struct {
	manager *Manager
	opts    SchedulerOptions

	mu      sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewScheduler creates a Scheduler over the manager.
func NewScheduler(m *Manager, opts SchedulerOptions) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	return &Scheduler{manager: m, opts: opts}
}

// Start launches the loop. Starting a running scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})

	if s.opts.OnStartup {
		s.takePoint(models.PointAuto, "automatic backup on startup")
	}

	s.wg.Add(1)
	go s.loop(s.stopCh)

	logging.Info("Backup scheduler started",
		map[string]interface{}{"interval": s.opts.Interval.String()})
}

// Stop halts the loop, taking the shutdown point if configured.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()

	if s.opts.OnShutdown {
		s.takePoint(models.PointAuto, "automatic backup on shutdown")
	}
	logging.Info("Backup scheduler stopped", nil)
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(stopCh chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.takePoint(models.PointScheduled, "scheduled automatic backup")
		case <-stopCh:
			return
		}
	}
}

func (s *Scheduler) takePoint(typ models.PointType, description string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if _, err := s.manager.CreateRecoveryPoint(ctx, typ, description, CreateOptions{}); err != nil {
		logging.Warn("Automatic backup failed",
			map[string]interface{}{"error": err.Error()})
	}
}
