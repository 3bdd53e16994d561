package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"bootcamptracker/internal/app"
	"bootcamptracker/internal/clock"
	"bootcamptracker/internal/config"
	"bootcamptracker/internal/logging"
)

// Worker delivers queued emails and runs the nightly absence sweep.
func main() {
	cfg := config.Load()
	logging.SetDebug(!cfg.Production())
	logger := logging.New("worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	deps, err := app.Build(ctx, cfg)
	if err != nil {
		logger.Fatalf("startup failed: %v", err)
	}
	defer deps.Close()

	sweepLog := logging.New("sweep")
	sched := cron.New(
		cron.WithLocation(clock.Zone),
		cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{})),
	)
	if _, err := sched.AddFunc(cfg.SweepSchedule, func() {
		runCtx, done := context.WithTimeout(ctx, 5*time.Minute)
		defer done()
		res, err := deps.Attendance.SweepAbsences(runCtx, nil)
		if err != nil {
			sweepLog.Errorf("absence sweep failed: %v", err)
			return
		}
		sweepLog.Infof("absence sweep marked %d of %d students absent", res.StudentsMarkedAbsent, res.TotalStudents)
	}); err != nil {
		logger.Fatalf("invalid sweep schedule %q: %v", cfg.SweepSchedule, err)
	}
	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	logger.Infof("worker started with %d email workers, sweep schedule %q", cfg.EmailWorkers, cfg.SweepSchedule)
	if err := deps.EmailWorker(logging.New("email")).Run(ctx); err != nil && ctx.Err() == nil {
		logger.Errorf("email worker stopped: %v", err)
	}
	logger.Info("worker stopped")
}

// cronLogger routes scheduler diagnostics through the worker's logger.
type cronLogger struct{}

var cronLog = logging.New("cron")

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	cronLog.Debugj(kv(msg, keysAndValues))
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := kv(msg, keysAndValues)
	fields["error"] = err.Error()
	cronLog.Errorj(fields)
}

func kv(msg string, keysAndValues []interface{}) map[string]interface{} {
	fields := map[string]interface{}{"msg": msg}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if k, ok := keysAndValues[i].(string); ok {
			fields[k] = keysAndValues[i+1]
		}
	}
	return fields
}
