package sync

import (
	"context"
	"sync"
	"time"

	"github.com/jwlin/recallbox/internal/logging"
)

// Scheduler triggers periodic sync passes while auto sync is enabled.
type Scheduler struct {
	coordinator *Coordinator
	interval    time.Duration

	mu      sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewScheduler creates a Scheduler over the coordinator.
func NewScheduler(c *Coordinator, interval time.Duration) *Scheduler {
	return &Scheduler{coordinator: c, interval: interval}
}

// Start launches the background loop. Calling Start on a running scheduler
// is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})

	s.wg.Add(1)
	go s.loop(s.stopCh)

	logging.Info("Sync scheduler started",
		map[string]interface{}{"interval": s.interval.String()})
}

// Stop halts the loop and waits for an in-flight pass to finish.
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
	logging.Info("Sync scheduler stopped", nil)
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(stopCh chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.interval)
			if _, err := s.coordinator.Sync(ctx); err != nil {
				logging.Warn("Scheduled sync failed",
					map[string]interface{}{"error": err.Error()})
			}
			cancel()
		case <-stopCh:
			return
		}
	}
}
