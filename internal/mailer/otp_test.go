package mailer

import (
	"context"
	"testing"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bootcamptracker/internal/queue"
)

func TestRenderOTP(t *testing.T) {
	msg, err := RenderOTP("Bootcamp Tracker", 5*time.Minute, OTPJob{Email: "a@example.com", OTP: "482913"})
	require.NoError(t, err)

	assert.Equal(t, "a@example.com", msg.To)
	assert.Equal(t, "Your OTP Code - Bootcamp Tracker", msg.Subject)
	assert.Contains(t, msg.HTML, "482913")
	assert.Contains(t, msg.Text, "expire in 5 minutes")
}

func TestDispatcher_EnqueueAndDeliver(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := queue.NewInMemory(1)
	d := NewDispatcher(q, queue.Options{Attempts: 3, Backoff: 2 * time.Second})
	require.NoError(t, d.EnqueueOTP(ctx, "a@example.com", "123456"))

	ch, err := q.Consume(ctx)
	require.NoError(t, err)
	var msg queue.Message
	select {
	case msg = <-ch:
	case <-time.After(time.Second):
		t.Fatal("no message")
	}
	assert.Equal(t, JobOTPEmail, msg.Type)
	assert.Equal(t, 3, msg.MaxAttempts)

	console := NewConsoleSender(log.New("test"))
	require.NoError(t, OTPHandler(console, "Tracker", 5*time.Minute)(ctx, msg))

	sent := console.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "a@example.com", sent[0].To)
	assert.Contains(t, sent[0].Text, "123456")
}

func TestOTPHandler_RejectsMalformedBody(t *testing.T) {
	h := OTPHandler(NewConsoleSender(log.New("test")), "Tracker", time.Minute)
	err := h(context.Background(), queue.Message{Type: JobOTPEmail, Body: []byte("not json")})
	assert.Error(t, err)
}
