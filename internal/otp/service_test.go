package otp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/gommon/log"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"bootcamptracker/internal/apperr"
	"bootcamptracker/internal/auth"
	"bootcamptracker/internal/cache"
	"bootcamptracker/internal/clock"
	"bootcamptracker/internal/user"
)

type fakeMailer struct {
	mu        sync.Mutex
	codes     map[string][]string
	EnqueueFn func(ctx context.Context, email, code string) error
}

func (m *fakeMailer) EnqueueOTP(ctx context.Context, email, code string) error {
	if m.EnqueueFn != nil {
		if err := m.EnqueueFn(ctx, email, code); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[email] = append(m.codes[email], code)
	return nil
}

func (m *fakeMailer) last(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	codes := m.codes[email]
	if len(codes) == 0 {
		return ""
	}
	return codes[len(codes)-1]
}

type fixture struct {
	svc    *Service
	mr     *miniredis.Miniredis
	mailer *fakeMailer
	users  *user.Memory
	clock  *clock.Manual
	issuer *auth.Issuer
}

const testEmail = "student@example.com"

func setup(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	users := user.NewMemory(user.User{Email: testEmail, Role: user.RoleStudent})
	mailer := &fakeMailer{codes: make(map[string][]string)}
	clk := clock.Fixed(time.Date(2024, 6, 1, 4, 0, 0, 0, time.UTC))
	issuer := auth.NewIssuer("secret", "tracker", 7*24*time.Hour)

	cfg := Config{
		Expiry:         5 * time.Minute,
		MaxAttempts:    5,
		ResendCooldown: 60 * time.Second,
		MaxResend:      3,
		HashCost:       bcrypt.MinCost,
	}
	logger := log.New("otp-test")
	svc := NewService(cfg, NewRedisSessions(client), users, mailer, issuer, cache.New(client, logger), clk, logger)
	return &fixture{svc: svc, mr: mr, mailer: mailer, users: users, clock: clk, issuer: issuer}
}

func TestRequest_UnknownUser(t *testing.T) {
	f := setup(t)
	_, err := f.svc.Request(context.Background(), "nobody@example.com")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.False(t, f.mr.Exists(Key("nobody@example.com")))
}

func TestRequest_StoresHashedSessionWithTTL(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	msg, err := f.svc.Request(ctx, "Student@Example.com")
	require.NoError(t, err)
	assert.Equal(t, "OTP sent successfully to your email", msg)

	code := f.mailer.last(testEmail)
	require.Len(t, code, 6)
	assert.GreaterOrEqual(t, code, "100000")
	assert.NotContains(t, msg, code)

	key := Key(testEmail)
	require.True(t, f.mr.Exists(key))
	assert.Equal(t, 5*time.Minute, f.mr.TTL(key))
	assert.NotEqual(t, code, f.mr.HGet(key, fieldHash))
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(f.mr.HGet(key, fieldHash)), []byte(code)))
	assert.Equal(t, "0", f.mr.HGet(key, fieldAttempts))
	assert.Equal(t, "0", f.mr.HGet(key, fieldResendCount))
}

func TestRequest_CooldownAndResendLimit(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.Request(ctx, testEmail)
	require.NoError(t, err)

	f.clock.Advance(20 * time.Second)
	_, err = f.svc.Request(ctx, testEmail)
	require.Error(t, err)
	assert.Equal(t, apperr.KindTooManyRequests, apperr.KindOf(err))
	assert.Equal(t, "Please wait 40 seconds before requesting a new OTP", apperr.MessageOf(err))

	// resendCount goes 1, 2, 3 across three more sends
	for i := 1; i <= 3; i++ {
		f.clock.Advance(61 * time.Second)
		_, err = f.svc.Request(ctx, testEmail)
		require.NoError(t, err, "resend %d", i)
		assert.Equal(t, fmt.Sprint(i), f.mr.HGet(Key(testEmail), fieldResendCount))
	}

	f.clock.Advance(61 * time.Second)
	_, err = f.svc.Request(ctx, testEmail)
	assert.Equal(t, apperr.KindTooManyRequests, apperr.KindOf(err))
	assert.Contains(t, apperr.MessageOf(err), "Maximum resend attempts")
	assert.Len(t, f.mailer.codes[testEmail], 4)

	// a fresh session after expiry resets the counters
	f.mr.FastForward(6 * time.Minute)
	f.clock.Advance(6 * time.Minute)
	_, err = f.svc.Request(ctx, testEmail)
	require.NoError(t, err)
	assert.Equal(t, "0", f.mr.HGet(Key(testEmail), fieldResendCount))
}

func TestRequest_EnqueueFailureRollsBackSession(t *testing.T) {
	f := setup(t)
	f.mailer.EnqueueFn = func(context.Context, string, string) error { return errors.New("queue unavailable") }

	_, err := f.svc.Request(context.Background(), testEmail)
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	assert.False(t, f.mr.Exists(Key(testEmail)), "session whose code was never sent must not survive")
}

func TestVerify_RoundTripConsumesOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.Request(ctx, testEmail)
	require.NoError(t, err)
	code := f.mailer.last(testEmail)

	res, err := f.svc.Verify(ctx, testEmail, code)
	require.NoError(t, err)
	assert.Equal(t, testEmail, res.User.Email)
	assert.Equal(t, user.RoleStudent, res.User.Role)
	assert.False(t, f.mr.Exists(Key(testEmail)))

	claims, err := f.issuer.Parse(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, claims.UserID)
	assert.Equal(t, testEmail, claims.Email)
	assert.Equal(t, "STUDENT", claims.Role)
	assert.True(t, f.mr.Exists(user.CacheKey(testEmail)))

	_, err = f.svc.Verify(ctx, testEmail, code)
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))
	assert.Contains(t, apperr.MessageOf(err), "expired or not found")
}

func TestVerify_WrongCodePreservesTTLAndCountsDown(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.Request(ctx, testEmail)
	require.NoError(t, err)
	f.mr.FastForward(2 * time.Minute)

	_, err = f.svc.Verify(ctx, testEmail, wrongCode(f.mailer.last(testEmail)))
	require.Error(t, err)
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))
	assert.Equal(t, "Invalid OTP. 4 attempts remaining.", apperr.MessageOf(err))
	assert.Equal(t, 3*time.Minute, f.mr.TTL(Key(testEmail)), "TTL must not be reset by a failed attempt")
	assert.Equal(t, "1", f.mr.HGet(Key(testEmail), fieldAttempts))
}

func TestVerify_SucceedsOnLastAllowedAttempt(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.Request(ctx, testEmail)
	require.NoError(t, err)
	code := f.mailer.last(testEmail)

	for i := 0; i < 4; i++ {
		_, err := f.svc.Verify(ctx, testEmail, wrongCode(code))
		require.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))
	}
	_, err = f.svc.Verify(ctx, testEmail, code)
	assert.NoError(t, err)
}

func TestVerify_LocksAfterMaxAttempts(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.Request(ctx, testEmail)
	require.NoError(t, err)
	code := f.mailer.last(testEmail)

	for i := 0; i < 5; i++ {
		_, err := f.svc.Verify(ctx, testEmail, wrongCode(code))
		require.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))
	}
	_, err = f.svc.Verify(ctx, testEmail, code)
	assert.Equal(t, apperr.KindTooManyRequests, apperr.KindOf(err))
	assert.False(t, f.mr.Exists(Key(testEmail)))

	_, err = f.svc.Verify(ctx, testEmail, code)
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err), "a new request is required")
}

func TestVerify_ConcurrentWrongGuessesAreAllCounted(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.Request(ctx, testEmail)
	require.NoError(t, err)
	bad := wrongCode(f.mailer.last(testEmail))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.svc.Verify(ctx, testEmail, bad)
		}()
	}
	wg.Wait()
	assert.Equal(t, "4", f.mr.HGet(Key(testEmail), fieldAttempts))
}

func TestVerify_ConcurrentGuessesNeverExceedLimit(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.Request(ctx, testEmail)
	require.NoError(t, err)
	bad := wrongCode(f.mailer.last(testEmail))

	var compared atomic.Int32
	f.svc.compare = func(hash, code []byte) error {
		compared.Add(1)
		return bcrypt.CompareHashAndPassword(hash, code)
	}

	for i := 0; i < 4; i++ {
		_, err := f.svc.Verify(ctx, testEmail, bad)
		require.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		invalid int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Verify(ctx, testEmail, bad)
			if apperr.KindOf(err) == apperr.KindBadRequest && strings.HasPrefix(apperr.MessageOf(err), "Invalid OTP") {
				mu.Lock()
				invalid++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), compared.Load(), "at most MaxAttempts comparisons per session")
	assert.Equal(t, 1, invalid)
	assert.False(t, f.mr.Exists(Key(testEmail)), "the session is locked out")
}

func TestVerify_ExpiredSession(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.Request(ctx, testEmail)
	require.NoError(t, err)
	f.mr.FastForward(5*time.Minute + time.Second)

	_, err = f.svc.Verify(ctx, testEmail, f.mailer.last(testEmail))
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))

	_, err = f.svc.Verify(ctx, "nobody@example.com", "123456")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestVerify_CreatesUserWhenRecordVanished(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.Request(ctx, testEmail)
	require.NoError(t, err)
	code := f.mailer.last(testEmail)

	// the account is looked up at the start of Verify and gone by resolution
	original, _ := f.users.FindByEmail(ctx, testEmail)
	flaky := &vanishingDirectory{Directory: f.users, onSecondLookup: func() { f.users.Delete(original.ID) }}
	f.svc.users = flaky

	res, err := f.svc.Verify(ctx, testEmail, code)
	require.NoError(t, err)
	assert.NotEqual(t, original.ID, res.User.ID)
	assert.Equal(t, user.RoleStudent, res.User.Role)
}

func TestGenerateCode_Range(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := generateCode()
		require.NoError(t, err)
		require.Len(t, code, 6)
		assert.True(t, code >= "100000" && code <= "999999", code)
	}
}

type vanishingDirectory struct {
	user.Directory
	lookups        int
	onSecondLookup func()
}

func (v *vanishingDirectory) FindByEmail(ctx context.Context, email string) (*user.User, error) {
	v.lookups++
	if v.lookups == 2 {
		v.onSecondLookup()
	}
	return v.Directory.FindByEmail(ctx, email)
}

func wrongCode(code string) string {
	if code == "111111" {
		return "222222"
	}
	return "111111"
}
