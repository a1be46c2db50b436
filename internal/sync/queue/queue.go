// Package queue provides the pending-operation queue feeding the sync
// coordinator. Local mutations are enqueued as they happen; the coordinator
// drains ready items each pass and failed items come back with exponential
// backoff until their retry budget runs out.
package queue

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jwlin/recallbox/internal/logging"
	"github.com/jwlin/recallbox/internal/models"
)

// Status represents the lifecycle state of a queued operation.
type Status string

const (
	StatusPending  Status = "pending"
	StatusInFlight Status = "in_flight"
	StatusFailed   Status = "failed"
)

// DefaultMaxRetries bounds per-operation retry attempts across passes.
const DefaultMaxRetries = 3

// Item wraps a SyncOperation with queue bookkeeping.
type Item struct {
	Op          *models.SyncOperation
	Status      Status
	MaxRetries  int
	NextRetryAt int64 // epoch milliseconds
	LastError   string
	CreatedAt   int64
	UpdatedAt   int64
}

// PendingQueue holds local operations awaiting upload.
type PendingQueue struct {
	mu      sync.RWMutex
	items   map[string]*Item
	maxSize int
}

// NewPendingQueue creates a PendingQueue bounded at maxSize items.
func NewPendingQueue(maxSize int) *PendingQueue {
	return &PendingQueue{
		items:   make(map[string]*Item),
		maxSize: maxSize,
	}
}

// Enqueue adds an operation to the queue.
func (q *PendingQueue) Enqueue(op *models.SyncOperation) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.maxSize {
		return fmt.Errorf("queue is full (max size: %d)", q.maxSize)
	}

	now := time.Now().UnixMilli()
	q.items[string(op.ID)] = &Item{
		Op:          op,
		Status:      StatusPending,
		MaxRetries:  DefaultMaxRetries,
		NextRetryAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	logging.Debug("Enqueued pending operation",
		map[string]interface{}{
			"op_id":       op.ID,
			"kind":        op.Kind,
			"entity_type": op.EntityType,
			"entity_id":   op.EntityID,
		})

	return nil
}

// Pending returns a stable snapshot of ready operations ordered by
// (priority desc, timestamp asc). Items still backing off are excluded.
func (q *PendingQueue) Pending() []*models.SyncOperation {
	q.mu.RLock()
	defer q.mu.RUnlock()

	now := time.Now().UnixMilli()
	var ops []*models.SyncOperation
	for _, item := range q.items {
		if item.Status == StatusPending && item.NextRetryAt <= now {
			op := *item.Op
			ops = append(ops, &op)
		}
	}

	sort.SliceStable(ops, func(i, j int) bool {
		if ops[i].Priority.Rank() != ops[j].Priority.Rank() {
			return ops[i].Priority.Rank() > ops[j].Priority.Rank()
		}
		return ops[i].Timestamp < ops[j].Timestamp
	})

	return ops
}

// MarkInFlight flags an operation as being uploaded right now. In-flight
// operations are excluded from Pending until Complete or Fail settles them.
func (q *PendingQueue) MarkInFlight(id models.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[string(id)]
	if !ok {
		return fmt.Errorf("operation %s not found", id)
	}
	item.Status = StatusInFlight
	item.UpdatedAt = time.Now().UnixMilli()
	return nil
}

// Complete removes a successfully uploaded operation.
func (q *PendingQueue) Complete(id models.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.items[string(id)]; !ok {
		return fmt.Errorf("operation %s not found", id)
	}
	delete(q.items, string(id))
	return nil
}

// Fail records a transient failure and schedules a retry, or parks the
// operation as failed once its retry budget is exhausted. Either way the
// operation is never silently dropped.
func (q *PendingQueue) Fail(id models.UUID, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[string(id)]
	if !ok {
		return fmt.Errorf("operation %s not found", id)
	}

	now := time.Now().UnixMilli()
	item.Op.RetryCount++
	item.LastError = cause.Error()
	item.UpdatedAt = now

	if item.Op.RetryCount >= item.MaxRetries {
		item.Status = StatusFailed
		logging.Warn("Operation failed permanently",
			map[string]interface{}{
				"op_id":   item.Op.ID,
				"retries": item.Op.RetryCount,
				"error":   cause.Error(),
			})
		return fmt.Errorf("max retries (%d) reached: %w", item.MaxRetries, cause)
	}

	backoffSeconds := calculateBackoff(item.Op.RetryCount)
	item.NextRetryAt = now + backoffSeconds*1000
	item.Status = StatusPending

	logging.Info("Operation scheduled for retry",
		map[string]interface{}{
			"op_id":           item.Op.ID,
			"retry":           item.Op.RetryCount,
			"max_retries":     item.MaxRetries,
			"backoff_seconds": backoffSeconds,
		})

	return nil
}

// calculateBackoff calculates exponential backoff delay in seconds.
// Formula: 2^retry_count * 60, capped at 3600 seconds (1 hour).
func calculateBackoff(retryCount int) int64 {
	backoff := int64(1) << uint(retryCount)
	backoff = backoff * 60

	maxBackoff := int64(3600)
	if backoff > maxBackoff {
		backoff = maxBackoff
	}

	return backoff
}

// Remove drops an operation regardless of state.
func (q *PendingQueue) Remove(id models.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.items[string(id)]; !ok {
		return fmt.Errorf("operation %s not found", id)
	}
	delete(q.items, string(id))
	return nil
}

// RetryAll resets all permanently failed operations to pending.
func (q *PendingQueue) RetryAll() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().UnixMilli()
	count := 0
	for _, item := range q.items {
		if item.Status == StatusFailed {
			item.Status = StatusPending
			item.Op.RetryCount = 0
			item.NextRetryAt = now
			item.LastError = ""
			item.UpdatedAt = now
			count++
		}
	}

	if count > 0 {
		logging.Info("Reset failed operations for retry",
			map[string]interface{}{"count": count})
	}

	return count
}

// Size returns the number of queued operations in any state.
func (q *PendingQueue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items)
}

// Clear removes all operations.
func (q *PendingQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = make(map[string]*Item)
}

// Stats returns per-status counts.
func (q *PendingQueue) Stats() map[string]int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	stats := map[string]int{
		"total":     0,
		"pending":   0,
		"in_flight": 0,
		"failed":    0,
	}

	for _, item := range q.items {
		stats["total"]++
		switch item.Status {
		case StatusPending:
			stats["pending"]++
		case StatusInFlight:
			stats["in_flight"]++
		case StatusFailed:
			stats["failed"]++
		}
	}

	return stats
}
