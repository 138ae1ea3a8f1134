package learning

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/agentjj/internal/config"
	"github.com/fyrsmithlabs/agentjj/internal/embed"
)

func TestNewQdrantStoreValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := NewQdrantStore(config.QdrantConfig{Host: "localhost", Port: 6334}, nil)
	require.ErrorIs(t, err, ErrInvalidConfig, "missing embedder")

	_, err = NewQdrantStore(config.QdrantConfig{Port: 6334}, embed.NewHashProvider(0))
	require.ErrorIs(t, err, ErrInvalidConfig, "missing host")

	_, err = NewQdrantStore(config.QdrantConfig{Host: "localhost", Port: -1}, embed.NewHashProvider(0))
	require.ErrorIs(t, err, ErrInvalidConfig, "bad port")
}

func TestPointIDStable(t *testing.T) {
	t.Parallel()

	a := pointID("op-123")
	assert.Equal(t, a, pointID("op-123"), "same operation, same point")
	assert.NotEqual(t, a, pointID("op-124"))

	u, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(5), u.Version())
}

func TestTransientError(t *testing.T) {
	t.Parallel()

	assert.True(t, transientError(status.Error(grpccodes.Unavailable, "down")))
	assert.True(t, transientError(status.Error(grpccodes.DeadlineExceeded, "slow")))
	assert.True(t, transientError(status.Error(grpccodes.Aborted, "contended")))
	assert.True(t, transientError(status.Error(grpccodes.ResourceExhausted, "throttled")))

	assert.False(t, transientError(status.Error(grpccodes.InvalidArgument, "bad vector")))
	assert.False(t, transientError(status.Error(grpccodes.NotFound, "no collection")))
	assert.False(t, transientError(errors.New("not a grpc error")))
}

func TestQdrantRetryStopsOnNonTransientError(t *testing.T) {
	t.Parallel()

	s := &QdrantStore{}
	calls := 0
	err := s.retry(context.Background(), "upsert", func() error {
		calls++
		return status.Error(grpccodes.InvalidArgument, "bad")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "no retry on permanent failure")
}

func TestQdrantRetryHonorsContext(t *testing.T) {
	t.Parallel()

	s := &QdrantStore{}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	calls := 0
	err := s.retry(ctx, "upsert", func() error {
		calls++
		return status.Error(grpccodes.Unavailable, "down")
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, calls, "context fires before the first backoff ends")
}

func TestQdrantBreaker(t *testing.T) {
	t.Parallel()

	s := &QdrantStore{}
	for i := 0; i < qdrantBreakerThreshold; i++ {
		assert.False(t, s.breakerOpen(), "failure %d", i)
		s.breakerRecord()
	}
	assert.True(t, s.breakerOpen())

	// The breaker half-opens once the cooldown has passed.
	s.breaker.mu.Lock()
	s.breaker.lastFail = time.Now().Add(-qdrantBreakerCooldown - time.Second)
	s.breaker.mu.Unlock()
	assert.False(t, s.breakerOpen())

	s.breakerRecord()
	assert.False(t, s.breakerOpen(), "one failure after cooldown does not trip it")
}
