// Package app builds the shared dependency graph used by the api, worker and
// admin commands.
package app

import (
	"context"

	"github.com/labstack/gommon/log"
	"github.com/pkg/errors"

	"bootcamptracker/internal/attendance"
	"bootcamptracker/internal/cache"
	"bootcamptracker/internal/clock"
	"bootcamptracker/internal/config"
	"bootcamptracker/internal/logging"
	"bootcamptracker/internal/mailer"
	"bootcamptracker/internal/metrics"
	"bootcamptracker/internal/queue"
	"bootcamptracker/internal/store"
	"bootcamptracker/internal/user"
)

// Deps holds connections and the services built on them.
type Deps struct {
	Config     config.App
	DB         *store.DB
	Redis      *store.Redis
	Cache      *cache.Store
	Clock      clock.Clock
	Users      user.Directory
	Queue      queue.Queue
	Attendance *attendance.Service
}

// Build connects to Redis and the configured store and wires the attendance
// service. With STORE_BACKEND=memory users and attendance live in process,
// seeded with the default staff accounts, and Postgres is never contacted.
func Build(ctx context.Context, cfg config.App) (*Deps, error) {
	var (
		db     *store.DB
		users  user.Directory
		window attendance.WindowStore
		ledger attendance.Ledger
	)
	if cfg.StoreBackend == "memory" {
		dir := user.NewMemory()
		seed := append(append([]user.User{}, user.DefaultSuperAdmins...), user.DefaultAdmins...)
		if _, err := user.Seed(ctx, dir, logging.New("seed"), seed...); err != nil {
			return nil, err
		}
		users, window, ledger = dir, &attendance.MemoryWindow{}, attendance.NewMemory()
	} else {
		var err error
		db, err = store.NewDB(cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "connect postgres")
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		users = user.NewRepository(db.Client)
		window = attendance.NewWindowRepository(db.Client)
		ledger = attendance.NewRepository(db.Client)
	}
	rdb := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	c := cache.New(rdb.Client, logging.New("cache"))
	clk := clock.New()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(rdb.Client, cfg.EmailQueueKey)
	}

	att := attendance.NewService(window, ledger, users, c, clk, cfg.ListCacheTTL, logging.New("attendance"))
	return &Deps{Config: cfg, DB: db, Redis: rdb, Cache: c, Clock: clk, Users: users, Queue: q, Attendance: att}, nil
}

// Close releases connections.
func (d *Deps) Close() {
	_ = d.Redis.Close()
	_ = d.DB.Close()
}

// StoreHealthy reports whether the persistent store is reachable. The
// in-process store is always healthy.
func (d *Deps) StoreHealthy(ctx context.Context) bool {
	if d.DB == nil {
		return true
	}
	return d.DB.Healthy(ctx)
}

// Sender returns the mail transport selected by MAIL_BACKEND.
func Sender(cfg config.App, logger *log.Logger) mailer.Sender {
	switch cfg.MailBackend {
	case "smtp":
		return mailer.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom)
	case "sendgrid":
		return mailer.NewSendGridSender(cfg.SendGridAPIKey, cfg.AppName, cfg.SMTPFrom)
	default:
		return mailer.NewConsoleSender(logger)
	}
}

// EmailWorker returns a worker delivering OTP emails from the queue.
func (d *Deps) EmailWorker(logger *log.Logger) *queue.Worker {
	w := queue.NewWorker(d.Queue, d.Config.EmailWorkers)
	w.Handle(mailer.JobOTPEmail, mailer.OTPHandler(Sender(d.Config, logger), d.Config.AppName, d.Config.OTP.Expiry))
	w.OnSuccess = func(msg queue.Message, attempts int) {
		metrics.EmailJobs.WithLabelValues(metrics.OK).Inc()
		logger.Infof("email job %s completed after %d attempt(s)", msg.ID, attempts)
	}
	w.OnFailure = func(msg queue.Message, err error) {
		metrics.EmailJobs.WithLabelValues(metrics.Failed).Inc()
		logger.Errorf("email job %s failed: %v", msg.ID, err)
	}
	return w
}
