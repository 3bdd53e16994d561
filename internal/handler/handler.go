package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/labstack/gommon/log"

	"bootcamptracker/internal/attendance"
	"bootcamptracker/internal/auth"
	"bootcamptracker/internal/otp"
	"bootcamptracker/internal/user"
)

// OTPService issues and verifies login codes.
type OTPService interface {
	Request(ctx context.Context, email string) (string, error)
	Verify(ctx context.Context, email, code string) (*otp.AuthResult, error)
}

// UserService manages accounts.
type UserService interface {
	Register(ctx context.Context, in user.RegisterInput) (*user.User, error)
	Get(ctx context.Context, id string) (*user.User, error)
	UpdateRole(ctx context.Context, id string, role user.Role) (*user.User, error)
}

// AttendanceService exposes the window and ledger.
type AttendanceService interface {
	OpenWindow(ctx context.Context, adminID string, code *string) (attendance.Window, error)
	CloseWindow(ctx context.Context) (attendance.Window, error)
	WindowStatus(ctx context.Context) (attendance.Window, error)
	Submit(ctx context.Context, in attendance.SubmitInput) (*attendance.Record, error)
	SweepAbsences(ctx context.Context, target *time.Time) (attendance.SweepResult, error)
	StatsFor(ctx context.Context, studentID string) (attendance.StudentAttendance, error)
	List(ctx context.Context, filter attendance.ListFilter) ([]attendance.StudentAttendance, error)
	UpdateRecord(ctx context.Context, id string, p attendance.Patch) (*attendance.Record, error)
	DeleteRecord(ctx context.Context, id string) error
}

// Handler serves the /api/v1 routes.
type Handler struct {
	otp        OTPService
	users      UserService
	attendance AttendanceService
	log        *log.Logger
}

// New creates a Handler.
func New(otpSvc OTPService, users UserService, att AttendanceService, logger *log.Logger) *Handler {
	return &Handler{otp: otpSvc, users: users, attendance: att, log: logger}
}

// Guards are the middlewares the routes depend on.
type Guards struct {
	Authenticate gin.HandlerFunc
	OTPLimit     gin.HandlerFunc
}

var (
	admins = []string{string(user.RoleAdmin), string(user.RoleSuperAdmin)}
	staff  = []string{string(user.RoleAdmin), string(user.RoleSuperAdmin), string(user.RoleSRM)}
)

// Register mounts every route under rg.
func (h *Handler) Register(rg *gin.RouterGroup, g Guards) {
	limit := g.OTPLimit
	if limit == nil {
		limit = func(c *gin.Context) { c.Next() }
	}

	authRoutes := rg.Group("/auth")
	authRoutes.POST("/request-otp", limit, h.requestOTP)
	authRoutes.POST("/verify-otp", limit, h.verifyOTP)

	users := rg.Group("/users", g.Authenticate)
	users.GET("/me", h.me)
	users.POST("", auth.RequireRoles(admins...), h.registerUser)
	users.PATCH("/:id/role", auth.RequireRoles(string(user.RoleSuperAdmin)), h.updateRole)

	att := rg.Group("/attendance", g.Authenticate)
	att.POST("/open-window", auth.RequireRoles(admins...), h.openWindow)
	att.POST("/close-window", auth.RequireRoles(admins...), h.closeWindow)
	att.GET("/window-status", h.windowStatus)
	att.POST("/create-attendance", h.createAttendance)
	att.POST("/mark-absent", auth.RequireRoles(admins...), h.markAbsent)
	att.GET("", auth.RequireRoles(staff...), h.listAttendance)
	att.GET("/:studentId", h.studentAttendance)
	att.PATCH("/records/:id", auth.RequireRoles(staff...), h.updateRecord)
	att.DELETE("/records/:id", auth.RequireRoles(staff...), h.deleteRecord)
}

func isStaff(role string) bool {
	return user.Role(role).Staff()
}
