package model

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingModel struct {
	entered chan struct{}
	release chan struct{}
}

func (m *blockingModel) Generate(ctx context.Context, _ Request) (Response, error) {
	m.entered <- struct{}{}

	select {
	case <-m.release:
		return Response{Text: "ok"}, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

func (m *blockingModel) Info() Info { return Info{Name: "blocking", Provider: "mock"} }

func TestLimiter_BoundsConcurrentCalls(t *testing.T) {
	inner := &blockingModel{entered: make(chan struct{}, 2), release: make(chan struct{})}
	l := NewLimiter(1)
	m := l.Wrap(inner)

	assert.Equal(t, "blocking", m.Info().Name)

	done := make(chan error, 1)

	go func() {
		_, err := m.Generate(context.Background(), userRequest("first"))
		done <- err
	}()

	<-inner.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := m.Generate(ctx, userRequest("second"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, inner.entered, 0)

	close(inner.release)
	require.NoError(t, <-done)

	resp, err := m.Generate(context.Background(), userRequest("third"))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, 2, l.Count())
}

func TestLimiter_Unlimited(t *testing.T) {
	l := NewLimiter(0)
	m := l.Wrap(NewMockModel("mock", "mock"))

	for range 3 {
		_, err := m.Generate(context.Background(), userRequest("x"))
		require.NoError(t, err)
	}

	assert.Equal(t, 3, l.Count())
	assert.Equal(t, 0, l.Max())
}
