package model

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Limiter bounds the number of model calls in flight across every model it
// wraps and counts the calls made.
type Limiter struct {
	max   int
	sem   *semaphore.Weighted
	calls atomic.Int64
}

// NewLimiter creates a limiter. If max <= 0, calls are only counted.
func NewLimiter(max int) *Limiter {
	l := &Limiter{max: max}
	if max > 0 {
		l.sem = semaphore.NewWeighted(int64(max))
	}

	return l
}

// Wrap returns m with its calls gated by the limiter.
func (l *Limiter) Wrap(m Model) Model {
	return &limitedModel{Model: m, limiter: l}
}

// Count returns the number of calls admitted so far.
func (l *Limiter) Count() int {
	return int(l.calls.Load())
}

// Max returns the configured bound, 0 when unlimited.
func (l *Limiter) Max() int {
	if l.max < 0 {
		return 0
	}

	return l.max
}

func (l *Limiter) acquire(ctx context.Context) error {
	if l.sem != nil {
		if err := l.sem.Acquire(ctx, 1); err != nil {
			return err
		}
	}

	l.calls.Add(1)

	return nil
}

func (l *Limiter) release() {
	if l.sem != nil {
		l.sem.Release(1)
	}
}

type limitedModel struct {
	Model
	limiter *Limiter
}

func (m *limitedModel) Generate(ctx context.Context, req Request) (Response, error) {
	if err := m.limiter.acquire(ctx); err != nil {
		return Response{}, err
	}
	defer m.limiter.release()

	return m.Model.Generate(ctx, req)
}
