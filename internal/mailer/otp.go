package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"time"

	"bootcamptracker/internal/queue"
)

// JobOTPEmail is the queue message type for OTP deliveries.
const JobOTPEmail = "otp-email"

// OTPJob is the payload of an OTP delivery job.
type OTPJob struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

var otpHTML = template.Must(template.New("otp").Parse(`<!DOCTYPE html>
<html><body style="font-family: Arial, sans-serif; color: #333;">
<h2>OTP Verification</h2>
<p>Use the code below to complete your sign in to {{.App}}:</p>
<p style="font-size: 32px; font-weight: bold; letter-spacing: 5px;">{{.Code}}</p>
<p><strong>This code will expire in {{.Minutes}} minutes.</strong></p>
<p style="color: #e74c3c;">If you didn't request this code, please ignore this email.</p>
</body></html>`))

// RenderOTP builds the OTP email for job.
func RenderOTP(appName string, expiry time.Duration, job OTPJob) (Message, error) {
	minutes := int(expiry.Minutes())
	var html bytes.Buffer
	err := otpHTML.Execute(&html, struct {
		App     string
		Code    string
		Minutes int
	}{appName, job.OTP, minutes})
	if err != nil {
		return Message{}, err
	}
	return Message{
		To:      job.Email,
		Subject: "Your OTP Code - " + appName,
		HTML:    html.String(),
		Text: fmt.Sprintf("Your OTP code is: %s\n\nThis code will expire in %d minutes.\n\nIf you didn't request this code, please ignore this email.",
			job.OTP, minutes),
	}, nil
}

// Dispatcher enqueues OTP emails for asynchronous delivery.
type Dispatcher struct {
	q    queue.Queue
	opts queue.Options
}

// NewDispatcher creates a dispatcher publishing to q with the given retry policy.
func NewDispatcher(q queue.Queue, opts queue.Options) *Dispatcher {
	return &Dispatcher{q: q, opts: opts}
}

// EnqueueOTP publishes an OTP delivery job.
func (d *Dispatcher) EnqueueOTP(ctx context.Context, email, code string) error {
	msg, err := queue.NewMessage(JobOTPEmail, OTPJob{Email: email, OTP: code}, d.opts)
	if err != nil {
		return err
	}
	return d.q.Publish(ctx, msg)
}

// OTPHandler returns the worker handler delivering OTP jobs through sender.
func OTPHandler(sender Sender, appName string, expiry time.Duration) queue.Handler {
	return func(ctx context.Context, msg queue.Message) error {
		var job OTPJob
		if err := json.Unmarshal(msg.Body, &job); err != nil {
			return err
		}
		rendered, err := RenderOTP(appName, expiry, job)
		if err != nil {
			return err
		}
		return sender.Send(ctx, rendered)
	}
}
