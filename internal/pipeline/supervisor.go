package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/support-rag/backend/internal/metrics"
	"github.com/support-rag/backend/pkg/logger"
)

// Supervisor runs detached background tasks. Task failures and panics are
// logged and counted; they never reach the request that spawned the task.
type Supervisor struct {
	sem     *semaphore.Weighted
	timeout time.Duration

	base   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewSupervisor(workers int, timeout time.Duration) *Supervisor {
	if workers <= 0 {
		workers = 16
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	base, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		sem:     semaphore.NewWeighted(int64(workers)),
		timeout: timeout,
		base:    base,
		cancel:  cancel,
	}
}

// Go starts task unless the supervisor is saturated or shut down, in which
// case the task is dropped and false is returned.
func (s *Supervisor) Go(name string, task func(ctx context.Context) error) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		logger.Warn("Background task rejected after shutdown", zap.String("task", name))
		metrics.BackgroundTasks.WithLabelValues(name, "rejected").Inc()
		return false
	}
	if !s.sem.TryAcquire(1) {
		s.mu.Unlock()
		logger.Warn("Background task dropped, no free worker", zap.String("task", name))
		metrics.BackgroundTasks.WithLabelValues(name, "dropped").Inc()
		return false
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer s.sem.Release(1)

		ctx, cancel := context.WithTimeout(s.base, s.timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				logger.Error("Background task panicked",
					zap.String("task", name),
					zap.String("panic", fmt.Sprint(r)),
				)
				metrics.BackgroundTasks.WithLabelValues(name, "panic").Inc()
			}
		}()

		if err := task(ctx); err != nil {
			logger.Warn("Background task failed", zap.String("task", name), zap.Error(err))
			metrics.BackgroundTasks.WithLabelValues(name, "error").Inc()
			return
		}
		metrics.BackgroundTasks.WithLabelValues(name, "ok").Inc()
	}()
	return true
}

// Wait blocks until every running task has returned.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// Shutdown stops accepting tasks and waits for the running ones. If ctx ends
// first the remaining tasks are cancelled.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		return fmt.Errorf("background tasks did not finish: %w", ctx.Err())
	}
}
