package engine

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turkcell/bt-go-lib/internal/cache"
	"github.com/turkcell/bt-go-lib/internal/config"
	"github.com/turkcell/bt-go-lib/internal/logging"
)

func enabledOptions() config.Options {
	opts := config.Default()
	opts.Enabled = true
	opts.APIURL = "https://pam.example.com/BeyondTrust/api/public/v3"
	opts.APIKey = "key"
	opts.RefreshInterval = 0
	return opts
}

func staticRun(data map[string]string) runFunc {
	return func(context.Context) (map[string]string, error) {
		return data, nil
	}
}

func TestStartDisabledStaysIdle(t *testing.T) {
	t.Parallel()

	calls := 0
	opts := config.Default()
	opts.Enabled = false
	e := newWithRun(opts, cache.New(), logging.Discard(), func(context.Context) (map[string]string, error) {
		calls++
		return nil, nil
	})

	require.NoError(t, e.Start())
	assert.Zero(t, calls)
	assert.Zero(t, e.Snapshot().Len())
}

func TestStartInvalidConfigFails(t *testing.T) {
	t.Parallel()

	opts := config.Default()
	opts.Enabled = true
	opts.APIURL = ""

	e := newWithRun(opts, cache.New(), logging.Discard(), staticRun(nil))
	assert.Error(t, e.Start())
}

func TestStartWithoutAPIKeyStaysIdle(t *testing.T) {
	t.Parallel()

	calls := 0
	opts := enabledOptions()
	opts.APIKey = ""
	e := newWithRun(opts, cache.New(), logging.Discard(), func(context.Context) (map[string]string, error) {
		calls++
		return nil, nil
	})

	require.NoError(t, e.Start())
	assert.Zero(t, calls)
	assert.Zero(t, e.Snapshot().Len())
}

func TestStartPublishesFirstSnapshot(t *testing.T) {
	t.Parallel()

	e := newWithRun(enabledOptions(), cache.New(), logging.Discard(), staticRun(map[string]string{
		"bt.acc.S1.A1": "Pass1",
	}))
	require.NoError(t, e.Start())
	defer e.Stop()

	value, ok := e.Snapshot().Get("BT.ACC.s1.a1")
	require.True(t, ok)
	assert.Equal(t, "Pass1", value)
}

func TestFailedRefreshKeepsPreviousSnapshot(t *testing.T) {
	t.Parallel()

	var fail atomic.Bool
	e := newWithRun(enabledOptions(), cache.New(), logging.Discard(), func(context.Context) (map[string]string, error) {
		if fail.Load() {
			return nil, errors.New("listing failed")
		}
		return map[string]string{"bt.acc.S1.A1": "Pass1"}, nil
	})
	require.NoError(t, e.Start())
	defer e.Stop()

	fail.Store(true)
	e.refresh(context.Background())

	value, ok := e.Snapshot().Get("bt.acc.s1.a1")
	require.True(t, ok)
	assert.Equal(t, "Pass1", value)
}

func TestEmptyRefreshKeepsPreviousSnapshot(t *testing.T) {
	t.Parallel()

	var empty atomic.Bool
	e := newWithRun(enabledOptions(), cache.New(), logging.Discard(), func(context.Context) (map[string]string, error) {
		if empty.Load() {
			return map[string]string{}, nil
		}
		return map[string]string{"bt.acc.S1.A1": "Pass1"}, nil
	})
	require.NoError(t, e.Start())
	defer e.Stop()

	empty.Store(true)
	e.refresh(context.Background())

	assert.Equal(t, 1, e.Snapshot().Len())
}

func TestFailureLogRedactsCredentials(t *testing.T) {
	t.Parallel()

	opts := enabledOptions()
	opts.APIKey = "verysecretkey123"

	var buf bytes.Buffer
	e := newWithRun(opts, cache.New(), logging.NewWithWriter(&buf, false), func(context.Context) (map[string]string, error) {
		return nil, errors.New("POST /Requests with key verysecretkey123: connection reset")
	})
	e.refresh(context.Background())

	out := buf.String()
	assert.NotContains(t, out, "verysecretkey123")
	assert.Contains(t, out, "[REDACTED]")
	assert.Contains(t, out, "transient")
}

func TestRefreshSingleFlight(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	var runs atomic.Int32

	e := newWithRun(enabledOptions(), cache.New(), logging.Discard(), func(context.Context) (map[string]string, error) {
		runs.Add(1)
		close(started)
		<-release
		return map[string]string{"bt.k": "v"}, nil
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.refresh(context.Background())
	}()
	<-started

	// Overlapping trigger is dropped, not queued.
	e.refresh(context.Background())
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), runs.Load())
}

func TestSubscribeSignalsOnPublish(t *testing.T) {
	t.Parallel()

	e := newWithRun(enabledOptions(), cache.New(), logging.Discard(), staticRun(map[string]string{"bt.k": "v"}))
	ch := e.Subscribe()

	require.NoError(t, e.Start())
	defer e.Stop()

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected a publish signal")
	}

	// Two publishes with no reader in between coalesce into one signal.
	e.refresh(context.Background())
	e.refresh(context.Background())
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected a coalesced publish signal")
	}
}

func TestStopIsIdempotentWhenNeverStarted(t *testing.T) {
	t.Parallel()

	e := New(config.Default(), cache.New(), logging.Discard())
	e.Stop()
	e.Stop()
}

func TestStopCancelsRefreshLoop(t *testing.T) {
	t.Parallel()

	opts := enabledOptions()
	opts.RefreshInterval = 10 * time.Millisecond

	var runs atomic.Int32
	e := newWithRun(opts, cache.New(), logging.Discard(), func(context.Context) (map[string]string, error) {
		runs.Add(1)
		return map[string]string{"bt.k": "v"}, nil
	})
	require.NoError(t, e.Start())

	require.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, time.Millisecond)
	e.Stop()

	after := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, runs.Load())
}
