package notify

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/cryptostore/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive[T any](t *testing.T, c <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-c:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

func TestChange_Affects(t *testing.T) {
	c := Change{Entity: EntityDevices, UserIDs: []string{"@a"}}

	assert.True(t, c.Affects(EntityDevices, nil))
	assert.True(t, c.Affects(EntityDevices, []string{"@b", "@a"}))
	assert.False(t, c.Affects(EntityDevices, []string{"@b"}))
	assert.False(t, c.Affects(EntityCrossSigning, nil))
	assert.True(t, Change{Entity: EntityAll}.Affects(EntityCrossSigning, []string{"@b"}))
	assert.True(t, Change{Entity: EntityDevices}.Affects(EntityDevices, []string{"@b"}))
}

func TestSubscribe_InitialValueThenUpdates(t *testing.T) {
	n := New(logging.Discard())
	defer n.Close()

	var version atomic.Int32
	sub := Subscribe(context.Background(), n,
		func(c Change) bool { return c.Affects(EntityDevices, []string{"@a"}) },
		func(ctx context.Context) (int32, error) { return version.Load(), nil },
	)
	defer sub.Close()

	assert.EqualValues(t, 0, receive(t, sub.C))

	version.Store(1)
	n.Publish(Change{Entity: EntityDevices, UserIDs: []string{"@a"}})
	assert.EqualValues(t, 1, receive(t, sub.C))

	// unrelated user: no recomputation expected
	version.Store(2)
	n.Publish(Change{Entity: EntityDevices, UserIDs: []string{"@z"}})
	select {
	case v := <-sub.C:
		t.Fatalf("unexpected value %d", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublish_DoesNotBlockOnSlowReader(t *testing.T) {
	n := New(logging.Discard())
	defer n.Close()

	var version atomic.Int32
	sub := Subscribe(context.Background(), n,
		func(Change) bool { return true },
		func(ctx context.Context) (int32, error) { return version.Load(), nil },
	)
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for i := 1; i <= 100; i++ {
			version.Store(int32(i))
			n.Publish(Change{Entity: EntityDevices})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked by reader")
	}

	// the reader eventually observes the final state
	deadline := time.After(2 * time.Second)
	for {
		select {
		case v := <-sub.C:
			if v == 100 {
				return
			}
		case <-deadline:
			t.Fatal("latest value never delivered")
		}
	}
}

func TestSubscription_ClosePathsCloseChannel(t *testing.T) {
	query := func(ctx context.Context) (string, error) { return "v", nil }
	all := func(Change) bool { return true }

	t.Run("explicit close", func(t *testing.T) {
		n := New(logging.Discard())
		defer n.Close()
		sub := Subscribe(context.Background(), n, all, query)
		receive(t, sub.C)
		sub.Close()
		sub.Close()
		_, ok := <-sub.C
		assert.False(t, ok)
	})

	t.Run("context cancel", func(t *testing.T) {
		n := New(logging.Discard())
		defer n.Close()
		ctx, cancel := context.WithCancel(context.Background())
		sub := Subscribe(ctx, n, all, query)
		receive(t, sub.C)
		cancel()
		_, ok := <-sub.C
		assert.False(t, ok)
	})

	t.Run("notifier close", func(t *testing.T) {
		n := New(logging.Discard())
		sub := Subscribe(context.Background(), n, all, query)
		receive(t, sub.C)
		n.Close()
		_, ok := <-sub.C
		assert.False(t, ok)

		late := Subscribe(context.Background(), n, all, query)
		_, ok = <-late.C
		assert.False(t, ok, "subscribing after close yields a closed channel")
	})
}

func TestSubscribe_QueryErrorSkipsValue(t *testing.T) {
	n := New(logging.Discard())
	defer n.Close()

	var fail atomic.Bool
	fail.Store(true)
	sub := Subscribe(context.Background(), n,
		func(Change) bool { return true },
		func(ctx context.Context) (string, error) {
			if fail.Load() {
				return "", errors.New("db gone")
			}
			return "ok", nil
		},
	)
	defer sub.Close()

	fail.Store(false)
	n.Publish(Change{Entity: EntityDevices})
	assert.Equal(t, "ok", receive(t, sub.C))
}
