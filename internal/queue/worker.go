package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Handler processes one message. A returned error triggers a retry until the
// message's attempts are exhausted.
type Handler func(ctx context.Context, msg Message) error

// Worker consumes a queue with a fixed pool of goroutines.
type Worker struct {
	q           Queue
	concurrency int
	handlers    map[string]Handler

	// OnSuccess and OnFailure are delivery callbacks; either may be nil.
	OnSuccess func(msg Message, attempts int)
	OnFailure func(msg Message, err error)

	wait func(ctx context.Context, d time.Duration) error
}

// NewWorker creates a worker pool of the given size.
func NewWorker(q Queue, concurrency int) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Worker{
		q:           q,
		concurrency: concurrency,
		handlers:    make(map[string]Handler),
		wait:        sleep,
	}
}

// Handle registers h for messages of type typ.
func (w *Worker) Handle(typ string, h Handler) {
	w.handlers[typ] = h
}

// Run consumes until ctx is cancelled and in-flight messages finish.
func (w *Worker) Run(ctx context.Context) error {
	messages, err := w.q.Consume(ctx)
	if err != nil {
		return err
	}
	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range messages {
				w.process(ctx, msg)
			}
		}()
	}
	wg.Wait()
	return nil
}

func (w *Worker) process(ctx context.Context, msg Message) {
	h, ok := w.handlers[msg.Type]
	if !ok {
		w.fail(msg, fmt.Errorf("no handler for message type %q", msg.Type))
		return
	}
	limit := msg.MaxAttempts
	if limit <= 0 {
		limit = 1
	}
	var err error
	for attempt := 1; attempt <= limit; attempt++ {
		if err = h(ctx, msg); err == nil {
			if w.OnSuccess != nil {
				w.OnSuccess(msg, attempt)
			}
			return
		}
		if attempt == limit {
			break
		}
		if werr := w.wait(ctx, Backoff(msg.Backoff, attempt)); werr != nil {
			err = werr
			break
		}
	}
	w.fail(msg, err)
}

func (w *Worker) fail(msg Message, err error) {
	if w.OnFailure != nil {
		w.OnFailure(msg, err)
	}
}

// Backoff returns the exponential delay before retry number attempt+1.
func Backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 || attempt <= 0 {
		return 0
	}
	return base << (attempt - 1)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
