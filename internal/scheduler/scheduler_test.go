package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cmipcat/internal/domain"
)

var quiet = slog.New(slog.DiscardHandler)

func TestNew_InvalidSpec(t *testing.T) {
	_, err := New("every tuesday", func(context.Context) error { return nil }, quiet)
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Message, "every tuesday")
}

func TestNew_Descriptors(t *testing.T) {
	for _, spec := range []string{"@daily", "@every 1h", "0 3 * * *"} {
		_, err := New(spec, func(context.Context) error { return nil }, quiet)
		assert.NoError(t, err, spec)
	}
}

func TestRunNow_RecordsOutcome(t *testing.T) {
	boom := errors.New("archive offline")
	s, err := New("@daily", func(context.Context) error { return boom }, quiet)
	require.NoError(t, err)

	assert.ErrorIs(t, s.RunNow(context.Background()), boom)
	assert.Equal(t, 1, s.Runs())
	assert.ErrorIs(t, s.Last().Err, boom)
	assert.False(t, s.Last().Started.IsZero())
}

func TestScheduler_Fires(t *testing.T) {
	var n atomic.Int32
	s, err := New("@every 1s", func(context.Context) error {
		n.Add(1)
		return nil
	}, quiet)
	require.NoError(t, err)

	s.Start(context.Background())
	assert.False(t, s.Next().IsZero())
	require.Eventually(t, func() bool { return n.Load() >= 1 }, 5*time.Second, 20*time.Millisecond)
	s.Stop()
	assert.GreaterOrEqual(t, s.Runs(), 1)
}

func TestScheduler_SkipsWhileRunning(t *testing.T) {
	var active, peak, started atomic.Int32
	release := make(chan struct{})
	s, err := New("@every 1s", func(context.Context) error {
		started.Add(1)
		if cur := active.Add(1); cur > peak.Load() {
			peak.Store(cur)
		}
		<-release
		active.Add(-1)
		return nil
	}, quiet)
	require.NoError(t, err)

	s.Start(context.Background())
	require.Eventually(t, func() bool { return started.Load() == 1 }, 5*time.Second, 20*time.Millisecond)
	// Let at least one more tick land on the blocked run.
	time.Sleep(1500 * time.Millisecond)
	close(release)
	s.Stop()

	assert.Equal(t, int32(1), peak.Load())
}

func TestScheduler_CancelledContextSkipsTicks(t *testing.T) {
	var n atomic.Int32
	s, err := New("@every 1s", func(context.Context) error {
		n.Add(1)
		return nil
	}, quiet)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Start(ctx)
	time.Sleep(1200 * time.Millisecond)
	s.Stop()
	assert.Equal(t, int32(0), n.Load())
}
