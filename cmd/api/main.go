package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bootcamptracker/internal/app"
	"bootcamptracker/internal/auth"
	"bootcamptracker/internal/config"
	"bootcamptracker/internal/handler"
	"bootcamptracker/internal/httpmiddleware"
	"bootcamptracker/internal/logging"
	"bootcamptracker/internal/mailer"
	"bootcamptracker/internal/metrics"
	"bootcamptracker/internal/otp"
	"bootcamptracker/internal/queue"
	"bootcamptracker/internal/user"
)

func main() {
	cfg := config.Load()
	logging.SetDebug(!cfg.Production())
	logger := logging.New("api")

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		logger.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	logger := logging.New("api")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	// the in-memory queue only reaches workers in this process
	if cfg.QueueBackend == "memory" {
		go func() {
			if err := deps.EmailWorker(logging.New("email")).Run(ctx); err != nil && ctx.Err() == nil {
				logger.Errorf("email worker stopped: %v", err)
			}
		}()
	}

	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTExpiresIn)
	dispatcher := mailer.NewDispatcher(deps.Queue, queue.Options{Attempts: cfg.EmailAttempts, Backoff: cfg.EmailBackoff})
	otpSvc := otp.NewService(otp.Config{
		Expiry:         cfg.OTP.Expiry,
		MaxAttempts:    cfg.OTP.MaxAttempts,
		ResendCooldown: cfg.OTP.ResendCooldown,
		MaxResend:      cfg.OTP.MaxResend,
		HashCost:       cfg.BcryptRounds,
	}, otp.NewRedisSessions(deps.Redis.Client), deps.Users, dispatcher, issuer, deps.Cache, deps.Clock, logging.New("otp"))
	userSvc := user.NewService(deps.Users, deps.Cache, logging.New("users"))

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(httpmiddleware.CORS(cfg.CORSOrigins))
	r.Use(securityHeaders())
	r.Use(metrics.Middleware())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := deps.Redis.Healthy(c.Request.Context())
		dbHealthy := deps.StoreHealthy(c.Request.Context())
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	otpLimiter := httpmiddleware.NewSimpleTokenBucket(cfg.OTPRateLimitPerMin, cfg.OTPRateLimitPerMin).
		WithMessage("Too many OTP requests, please try again later.")
	handler.New(otpSvc, userSvc, deps.Attendance, logging.New("http")).
		Register(r.Group("/api/v1"), handler.Guards{
			Authenticate: auth.Authenticate(issuer),
			OTPLimit:     otpLimiter.PerRoute(),
		})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Infof("starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server...")
	cancel()

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server forced shutdown: %v", err)
	}

	logger.Info("server exited")
	return nil
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
