package otp

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"bootcamptracker/internal/user"
)

// Session is the cache-resident state of one outstanding OTP.
type Session struct {
	HashedOTP    string
	Attempts     int
	ResendCount  int
	LastResendAt int64 // epoch millis
}

// SessionStore keeps OTP sessions keyed by email with automatic expiry.
type SessionStore interface {
	// Load returns nil when no live session exists.
	Load(ctx context.Context, email string) (*Session, error)
	// Save overwrites any session for email and sets its TTL.
	Save(ctx context.Context, email string, s Session, ttl time.Duration) error
	// IncrAttempts atomically bumps the attempt counter without touching the
	// TTL. ok is false when the session no longer exists.
	IncrAttempts(ctx context.Context, email string) (attempts int, ok bool, err error)
	// Consume deletes the session and reports whether this call removed it.
	Consume(ctx context.Context, email string) (bool, error)
}

// Key returns the cache key of the OTP session for email.
func Key(email string) string {
	return "otp:" + user.NormalizeEmail(email)
}

const (
	fieldHash        = "hashed_otp"
	fieldAttempts    = "attempts"
	fieldResendCount = "resend_count"
	fieldLastResend  = "last_resend_at"
)

// incrIfExists never recreates an expired session: a bare HINCRBY would
// produce a key without TTL.
var incrIfExists = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return redis.call('HINCRBY', KEYS[1], ARGV[1], 1)
end
return -1
`)

// RedisSessions stores sessions as Redis hashes.
type RedisSessions struct {
	client *redis.Client
}

// NewRedisSessions creates a Redis-backed session store.
func NewRedisSessions(client *redis.Client) *RedisSessions {
	return &RedisSessions{client: client}
}

var _ SessionStore = (*RedisSessions)(nil)

func (r *RedisSessions) Load(ctx context.Context, email string) (*Session, error) {
	vals, err := r.client.HGetAll(ctx, Key(email)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 || vals[fieldHash] == "" {
		return nil, nil
	}
	s := &Session{HashedOTP: vals[fieldHash]}
	s.Attempts, _ = strconv.Atoi(vals[fieldAttempts])
	s.ResendCount, _ = strconv.Atoi(vals[fieldResendCount])
	s.LastResendAt, _ = strconv.ParseInt(vals[fieldLastResend], 10, 64)
	return s, nil
}

func (r *RedisSessions) Save(ctx context.Context, email string, s Session, ttl time.Duration) error {
	key := Key(email)
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		p.HSet(ctx, key,
			fieldHash, s.HashedOTP,
			fieldAttempts, s.Attempts,
			fieldResendCount, s.ResendCount,
			fieldLastResend, s.LastResendAt,
		)
		p.PExpire(ctx, key, ttl)
		return nil
	})
	return err
}

func (r *RedisSessions) IncrAttempts(ctx context.Context, email string) (int, bool, error) {
	n, err := incrIfExists.Run(ctx, r.client, []string{Key(email)}, fieldAttempts).Int()
	if err != nil {
		return 0, false, err
	}
	if n < 0 {
		return 0, false, nil
	}
	return n, true, nil
}

func (r *RedisSessions) Consume(ctx context.Context, email string) (bool, error) {
	n, err := r.client.Del(ctx, Key(email)).Result()
	return n > 0, err
}
