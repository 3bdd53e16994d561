package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/labstack/gommon/log"
	"golang.org/x/crypto/bcrypt"

	"bootcamptracker/internal/apperr"
	"bootcamptracker/internal/auth"
	"bootcamptracker/internal/cache"
	"bootcamptracker/internal/clock"
	"bootcamptracker/internal/metrics"
	"bootcamptracker/internal/user"
)

// Config is the OTP policy.
type Config struct {
	Expiry         time.Duration
	MaxAttempts    int
	ResendCooldown time.Duration
	MaxResend      int
	HashCost       int
	UserCacheTTL   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Expiry <= 0 {
		c.Expiry = 5 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.ResendCooldown < 0 {
		c.ResendCooldown = 0
	}
	if c.MaxResend <= 0 {
		c.MaxResend = 3
	}
	if c.HashCost == 0 {
		c.HashCost = 8
	}
	if c.UserCacheTTL <= 0 {
		c.UserCacheTTL = time.Hour
	}
	return c
}

// Mailer delivers the plaintext code out of band.
type Mailer interface {
	EnqueueOTP(ctx context.Context, email, code string) error
}

// TokenIssuer signs session tokens.
type TokenIssuer interface {
	Issue(userID, email, role string) (auth.Token, error)
}

// UserCache caches resolved users between logins.
type UserCache interface {
	GetJSON(ctx context.Context, key string, dst any) error
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
}

// AuthResult is returned on successful verification.
type AuthResult struct {
	AccessToken string      `json:"accessToken"`
	ExpiresAt   time.Time   `json:"expiresAt"`
	User        user.Public `json:"user"`
}

// Service issues and verifies email one-time passwords.
type Service struct {
	cfg      Config
	sessions SessionStore
	users    user.Directory
	mailer   Mailer
	tokens   TokenIssuer
	cache    UserCache
	clock    clock.Clock
	log      *log.Logger

	generate func() (string, error)
	compare  func(hash, code []byte) error
}

// NewService wires the OTP flow.
func NewService(cfg Config, sessions SessionStore, users user.Directory, mailer Mailer, tokens TokenIssuer, userCache UserCache, clk clock.Clock, logger *log.Logger) *Service {
	return &Service{
		cfg:      cfg.withDefaults(),
		sessions: sessions,
		users:    users,
		mailer:   mailer,
		tokens:   tokens,
		cache:    userCache,
		clock:    clk,
		log:      logger,
		generate: generateCode,
		compare:  bcrypt.CompareHashAndPassword,
	}
}

// Request issues a new code for a known account and queues it for delivery.
func (s *Service) Request(ctx context.Context, email string) (string, error) {
	email = user.NormalizeEmail(email)
	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return "", apperr.Internal("Failed to look up user", err)
	}
	if u == nil {
		metrics.OTPRequests.WithLabelValues(metrics.Rejected).Inc()
		return "", apperr.NotFound("User not found")
	}

	existing, err := s.sessions.Load(ctx, email)
	if err != nil {
		return "", apperr.Internal("Failed to read OTP session", err)
	}
	now := s.clock.Now()
	resendCount := 0
	if existing != nil {
		elapsed := now.Sub(time.UnixMilli(existing.LastResendAt))
		if elapsed < s.cfg.ResendCooldown {
			remaining := int(math.Ceil((s.cfg.ResendCooldown - elapsed).Seconds()))
			metrics.OTPRequests.WithLabelValues(metrics.Rejected).Inc()
			return "", apperr.TooManyRequests(fmt.Sprintf("Please wait %d seconds before requesting a new OTP", remaining))
		}
		if existing.ResendCount >= s.cfg.MaxResend {
			metrics.OTPRequests.WithLabelValues(metrics.Rejected).Inc()
			return "", apperr.TooManyRequests("Maximum resend attempts reached. Please try again later.")
		}
		resendCount = existing.ResendCount + 1
	}

	code, err := s.generate()
	if err != nil {
		return "", apperr.Internal("Failed to generate OTP", err)
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(code), s.cfg.HashCost)
	if err != nil {
		return "", apperr.Internal("Failed to generate OTP", err)
	}

	session := Session{
		HashedOTP:    string(hashed),
		ResendCount:  resendCount,
		LastResendAt: now.UnixMilli(),
	}
	if err := s.sessions.Save(ctx, email, session, s.cfg.Expiry); err != nil {
		return "", apperr.Internal("Failed to store OTP session", err)
	}

	if err := s.mailer.EnqueueOTP(ctx, email, code); err != nil {
		if _, derr := s.sessions.Consume(ctx, email); derr != nil {
			s.log.Errorf("rollback otp session %s: %v", email, derr)
		}
		metrics.OTPRequests.WithLabelValues(metrics.Failed).Inc()
		return "", apperr.Internal("Failed to queue OTP email. Please try again.", err)
	}

	metrics.OTPRequests.WithLabelValues(metrics.OK).Inc()
	s.log.Infof("otp issued for %s (resend %d)", email, resendCount)
	return "OTP sent successfully to your email", nil
}

// Verify checks code against the outstanding session and, on success,
// consumes it and returns a signed access token.
func (s *Service) Verify(ctx context.Context, email, code string) (*AuthResult, error) {
	email = user.NormalizeEmail(email)
	if email == "" || code == "" {
		return nil, apperr.BadRequest("Email and OTP are required")
	}
	registered, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, apperr.Internal("Failed to look up user", err)
	}
	if registered == nil {
		metrics.OTPVerifications.WithLabelValues(metrics.Rejected).Inc()
		return nil, apperr.NotFound("User not found")
	}

	session, err := s.sessions.Load(ctx, email)
	if err != nil {
		return nil, apperr.Internal("Failed to read OTP session", err)
	}
	if session == nil {
		metrics.OTPVerifications.WithLabelValues(metrics.Rejected).Inc()
		return nil, errExpired()
	}

	// reserve the attempt before comparing so concurrent guesses cannot
	// exceed the limit
	attempts, live, err := s.sessions.IncrAttempts(ctx, email)
	if err != nil {
		return nil, apperr.Internal("Failed to record OTP attempt", err)
	}
	if !live {
		metrics.OTPVerifications.WithLabelValues(metrics.Rejected).Inc()
		return nil, errExpired()
	}
	if attempts > s.cfg.MaxAttempts {
		if _, err := s.sessions.Consume(ctx, email); err != nil {
			s.log.Errorf("drop locked otp session %s: %v", email, err)
		}
		metrics.OTPVerifications.WithLabelValues(metrics.Rejected).Inc()
		return nil, apperr.TooManyRequests("Maximum verification attempts exceeded. Please request a new OTP.")
	}

	if s.compare([]byte(session.HashedOTP), []byte(code)) != nil {
		metrics.OTPVerifications.WithLabelValues(metrics.Rejected).Inc()
		return nil, apperr.BadRequest(fmt.Sprintf("Invalid OTP. %d attempts remaining.", s.cfg.MaxAttempts-attempts))
	}

	consumed, err := s.sessions.Consume(ctx, email)
	if err != nil {
		return nil, apperr.Internal("Failed to consume OTP session", err)
	}
	if !consumed {
		// a concurrent verify already used this code
		metrics.OTPVerifications.WithLabelValues(metrics.Rejected).Inc()
		return nil, errExpired()
	}

	u, err := s.resolveUser(ctx, email)
	if err != nil {
		return nil, err
	}
	pub := u.Public()
	tok, err := s.tokens.Issue(pub.ID, pub.Email, string(pub.Role))
	if err != nil {
		return nil, apperr.Internal("Failed to issue token", err)
	}

	metrics.OTPVerifications.WithLabelValues(metrics.OK).Inc()
	s.log.Infof("otp verified for %s", email)
	return &AuthResult{AccessToken: tok.AccessToken, ExpiresAt: tok.ExpiresAt, User: pub}, nil
}

// resolveUser returns the cached user, falling back to the directory and
// creating a STUDENT account when the record vanished since the request.
func (s *Service) resolveUser(ctx context.Context, email string) (*user.User, error) {
	key := user.CacheKey(email)
	var cached user.User
	err := s.cache.GetJSON(ctx, key, &cached)
	if err == nil && cached.ID != "" {
		return &cached, nil
	}
	if err != nil && !errors.Is(err, cache.ErrMiss) {
		s.log.Warnf("read cached user %s: %v", email, err)
	}

	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, apperr.Internal("Failed to look up user", err)
	}
	if u == nil {
		u = &user.User{Email: email, Role: user.RoleStudent}
		if err := s.users.Create(ctx, u); err != nil {
			return nil, apperr.Internal("Failed to create user", err)
		}
		s.log.Infof("created account for %s on first login", email)
	}
	if err := s.cache.SetJSON(ctx, key, u, s.cfg.UserCacheTTL); err != nil {
		s.log.Warnf("cache user %s: %v", email, err)
	}
	return u, nil
}

func errExpired() error {
	return apperr.BadRequest("OTP expired or not found. Please request a new one.")
}

// generateCode returns a uniformly random code in [100000, 999999].
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
