package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type outcome struct {
	id       string
	attempts int
	err      error
}

func runWorker(t *testing.T, w *Worker, q *InMemory, msgs []Message, want int) []outcome {
	t.Helper()
	var (
		mu   sync.Mutex
		outs []outcome
		done = make(chan struct{}, want)
	)
	w.OnSuccess = func(msg Message, attempts int) {
		mu.Lock()
		outs = append(outs, outcome{id: msg.ID, attempts: attempts})
		mu.Unlock()
		done <- struct{}{}
	}
	w.OnFailure = func(msg Message, err error) {
		mu.Lock()
		outs = append(outs, outcome{id: msg.ID, err: err})
		mu.Unlock()
		done <- struct{}{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, m := range msgs {
		require.NoError(t, q.Publish(ctx, m))
	}
	go func() { _ = w.Run(ctx) }()

	for i := 0; i < want; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("worker did not finish")
		}
	}
	mu.Lock()
	defer mu.Unlock()
	return outs
}

func TestWorker_RetriesWithExponentialBackoff(t *testing.T) {
	q := NewInMemory(4)
	w := NewWorker(q, 1)
	var waits []time.Duration
	w.wait = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	calls := 0
	w.Handle("otp-email", func(context.Context, Message) error {
		calls++
		if calls < 3 {
			return errors.New("smtp unavailable")
		}
		return nil
	})

	msg, _ := NewMessage("otp-email", map[string]string{"email": "a@example.com"}, Options{Attempts: 3, Backoff: 2 * time.Second})
	outs := runWorker(t, w, q, []Message{msg}, 1)

	require.Len(t, outs, 1)
	assert.NoError(t, outs[0].err)
	assert.Equal(t, 3, outs[0].attempts)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, waits)
}

func TestWorker_ReportsFailureAfterBoundedAttempts(t *testing.T) {
	q := NewInMemory(4)
	w := NewWorker(q, 2)
	w.wait = func(context.Context, time.Duration) error { return nil }

	var mu sync.Mutex
	calls := 0
	w.Handle("otp-email", func(context.Context, Message) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return errors.New("rejected")
	})

	msg, _ := NewMessage("otp-email", nil, Options{Attempts: 3})
	unknown, _ := NewMessage("mystery", nil, Options{Attempts: 5})
	outs := runWorker(t, w, q, []Message{msg, unknown}, 2)

	require.Len(t, outs, 2)
	for _, o := range outs {
		assert.Error(t, o.err)
	}
	mu.Lock()
	assert.Equal(t, 3, calls)
	mu.Unlock()
}
