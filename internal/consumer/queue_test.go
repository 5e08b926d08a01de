package consumer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/nsqwire/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueuePopsInPushOrder(t *testing.T) {
	testlog.Start(t)
	q := NewQueue()
	errA, errB := errors.New("a"), errors.New("b")
	q.Push(Delivery{Err: errA})
	q.Push(Delivery{Err: errB})
	assert.Equal(t, 2, q.Len())

	d, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Same(t, errA, d.Err)
	d, err = q.Pop(context.Background())
	require.NoError(t, err)
	assert.Same(t, errB, d.Err)
	assert.Equal(t, 0, q.Len())
}

func TestQueuePopWaitsForPush(t *testing.T) {
	testlog.Start(t)
	q := NewQueue()
	want := errors.New("late")
	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Push(Delivery{Err: want})
	}()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	d, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Same(t, want, d.Err)
}

func TestQueuePopHonorsContext(t *testing.T) {
	testlog.Start(t)
	q := NewQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueCloseDrainsThenFails(t *testing.T) {
	testlog.Start(t)
	q := NewQueue()
	q.Push(Delivery{Err: errors.New("queued")})
	q.Close()
	q.Close()

	_, err := q.Pop(context.Background())
	require.NoError(t, err)
	_, err = q.Pop(context.Background())
	assert.ErrorIs(t, err, ErrQueueClosed)
}
