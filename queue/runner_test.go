package queue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	"github.com/commercegroup/stocksync/common"
)

func newRunnerEnv(t *testing.T, ctx context.Context) (*Runner, *Producer) {
	t.Helper()

	nc := common.NewInProcessNATSServer(t)
	t.Cleanup(nc.Close)

	js, err := jetstream.New(nc)
	require.NoError(t, err)

	_, err = js.CreateStream(ctx, common.JobsStreamConfig)
	require.NoError(t, err)

	kv, err := common.KeyValueBucket(ctx, js, common.QueueStatusBucket)
	require.NoError(t, err)

	r := NewRunner(js, kv)
	r.RetryBase = 50 * time.Millisecond
	return r, NewProducer(js)
}

func TestRunnerProcessesJob(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	r, p := newRunnerEnv(t, ctx)

	done := make(chan []byte, 1)
	r.Register(KindSendOrder, func(ctx context.Context, data []byte, attempt int) Result {
		done <- data
		return Ack()
	})
	require.NoError(t, r.Start(ctx))

	require.NoError(t, p.EnqueueSendOrder(ctx, "o1"))

	select {
	case data := <-done:
		require.JSONEq(t, `{"order_id":"o1"}`, string(data))
	case <-ctx.Done():
		t.Fatal("job was never processed")
	}
}

func TestRunnerRetriesUntilSuccess(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	r, p := newRunnerEnv(t, ctx)

	var attempts atomic.Int32
	r.Register(KindUpdateStock, func(ctx context.Context, data []byte, attempt int) Result {
		if attempts.Add(1) < 3 {
			return Retry("not yet")
		}
		return Ack()
	})
	require.NoError(t, r.Start(ctx))

	require.NoError(t, p.EnqueueUpdateStock(ctx, "w1", 7))

	require.Eventually(t, func() bool { return attempts.Load() == 3 }, 5*time.Second, 20*time.Millisecond)
}

func TestRunnerDropsAfterMaxAttempts(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	r, p := newRunnerEnv(t, ctx)
	r.MaxAttempts = 2

	var attempts atomic.Int32
	r.Register(KindUpdateStock, func(ctx context.Context, data []byte, attempt int) Result {
		attempts.Add(1)
		return Retry("always failing")
	})
	require.NoError(t, r.Start(ctx))

	require.NoError(t, p.EnqueueUpdateStock(ctx, "w1", 7))

	require.Eventually(t, func() bool { return attempts.Load() == 2 }, 5*time.Second, 20*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	require.Equal(t, int32(2), attempts.Load())
}

func TestRunnerSuspendAndResume(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	r, p := newRunnerEnv(t, ctx)

	var fixed atomic.Bool
	var acked atomic.Int32
	r.Register(KindSendOrder, func(ctx context.Context, data []byte, attempt int) Result {
		if !fixed.Load() {
			return Suspend("missing client key")
		}
		acked.Add(1)
		return Ack()
	})
	require.NoError(t, r.Start(ctx))

	require.NoError(t, p.EnqueueSendOrder(ctx, "o1"))

	require.Eventually(t, func() bool {
		suspended, _, err := r.Suspended(ctx)
		require.NoError(t, err)
		return suspended
	}, 5*time.Second, 20*time.Millisecond)

	_, reason, err := r.Suspended(ctx)
	require.NoError(t, err)
	require.Equal(t, "missing client key", reason)

	// A second job enqueued while suspended must wait for the resume.
	require.NoError(t, p.EnqueueSendOrder(ctx, "o2"))
	time.Sleep(300 * time.Millisecond)
	require.Zero(t, acked.Load())

	fixed.Store(true)
	require.NoError(t, r.Resume(ctx))

	require.Eventually(t, func() bool { return acked.Load() == 2 }, 5*time.Second, 20*time.Millisecond)

	suspended, _, err := r.Suspended(ctx)
	require.NoError(t, err)
	require.False(t, suspended)
}

func TestRunnerStaysHaltedAcrossStart(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	r, p := newRunnerEnv(t, ctx)

	var handled atomic.Int32
	r.Register(KindSendOrder, func(ctx context.Context, data []byte, attempt int) Result {
		handled.Add(1)
		return Ack()
	})

	// A marker left over from a previous run keeps the queue down.
	_, err := r.status.Put(ctx, suspendKey, []byte("previous failure"))
	require.NoError(t, err)

	require.NoError(t, r.Start(ctx))
	require.NoError(t, p.EnqueueSendOrder(ctx, "o1"))

	time.Sleep(300 * time.Millisecond)
	require.Zero(t, handled.Load())

	require.NoError(t, r.Resume(ctx))
	require.Eventually(t, func() bool { return handled.Load() == 1 }, 5*time.Second, 20*time.Millisecond)
}
