package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_otp_requests_total",
		Help: "OTP issuance attempts by outcome.",
	}, []string{"outcome"})

	OTPVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_otp_verifications_total",
		Help: "OTP verification attempts by outcome.",
	}, []string{"outcome"})

	AttendanceSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_attendance_submissions_total",
		Help: "Attendance submissions by outcome.",
	}, []string{"outcome"})

	AbsencesMarked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracker_absences_marked_total",
		Help: "ABSENT records inserted by the sweep.",
	})

	WindowOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tracker_attendance_window_open",
		Help: "1 while the attendance window is open.",
	})

	EmailJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_email_jobs_total",
		Help: "Email delivery jobs by outcome.",
	}, []string{"outcome"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tracker_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// Outcome labels.
const (
	OK       = "ok"
	Rejected = "rejected"
	Failed   = "failed"
)

// Middleware records request latency per matched route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpDuration.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
