package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"bootcamptracker/internal/attendance"
	"bootcamptracker/internal/auth"
	"bootcamptracker/internal/user"
)

func (h *Handler) openWindow(c *gin.Context) {
	var req struct {
		VerificationCode *string `json:"verificationCode"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request body")
			return
		}
	}
	claims, _ := auth.ClaimsFrom(c)
	w, err := h.attendance.OpenWindow(c.Request.Context(), claims.UserID, req.VerificationCode)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	ok(c, http.StatusOK, "Attendance window opened successfully", w)
}

func (h *Handler) closeWindow(c *gin.Context) {
	w, err := h.attendance.CloseWindow(c.Request.Context())
	if err != nil {
		fail(c, h.log, err)
		return
	}
	ok(c, http.StatusOK, "Attendance window closed successfully", w)
}

func (h *Handler) windowStatus(c *gin.Context) {
	w, err := h.attendance.WindowStatus(c.Request.Context())
	if err != nil {
		fail(c, h.log, err)
		return
	}
	claims, _ := auth.ClaimsFrom(c)
	if !isStaff(claims.Role) {
		w = w.Redacted()
	}
	ok(c, http.StatusOK, "Attendance window status fetched successfully", gin.H{"state": w.State(), "window": w})
}

func (h *Handler) createAttendance(c *gin.Context) {
	var req struct {
		StudentID        string  `json:"studentId"`
		Status           string  `json:"status"`
		Mission          int     `json:"mission"`
		Module           int     `json:"module"`
		Note             *string `json:"note"`
		VerificationCode *string `json:"verificationCode"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	claims, _ := auth.ClaimsFrom(c)
	if req.StudentID == "" {
		req.StudentID = claims.UserID
	}
	if claims.Role == string(user.RoleStudent) && req.StudentID != claims.UserID {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "message": "Students can only submit their own attendance"})
		return
	}
	rec, err := h.attendance.Submit(c.Request.Context(), attendance.SubmitInput{
		StudentID:        req.StudentID,
		Status:           attendance.Status(req.Status),
		Mission:          req.Mission,
		Module:           req.Module,
		Note:             req.Note,
		VerificationCode: req.VerificationCode,
	})
	if err != nil {
		fail(c, h.log, err)
		return
	}
	ok(c, http.StatusCreated, "Attendance created successfully", rec)
}

func (h *Handler) markAbsent(c *gin.Context) {
	var req struct {
		Date string `json:"date"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request body")
			return
		}
	}
	var target *time.Time
	if req.Date != "" {
		t, err := parseDate(req.Date)
		if err != nil {
			badRequest(c, "date must be YYYY-MM-DD or RFC3339")
			return
		}
		target = &t
	}
	res, err := h.attendance.SweepAbsences(c.Request.Context(), target)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	ok(c, http.StatusOK, "Absent students marked successfully", res)
}

func (h *Handler) listAttendance(c *gin.Context) {
	list, err := h.attendance.List(c.Request.Context(), attendance.ListFilter{
		SearchTerm:   c.Query("searchTerm"),
		AbsentFilter: attendance.AbsentFilter(c.Query("absentFilter")),
	})
	if err != nil {
		fail(c, h.log, err)
		return
	}
	ok(c, http.StatusOK, "Attendance fetched successfully", list)
}

func (h *Handler) studentAttendance(c *gin.Context) {
	studentID := c.Param("studentId")
	claims, _ := auth.ClaimsFrom(c)
	if !isStaff(claims.Role) && claims.UserID != studentID {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "message": "You can only view your own attendance"})
		return
	}
	stats, err := h.attendance.StatsFor(c.Request.Context(), studentID)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	ok(c, http.StatusOK, "Attendance fetched successfully", stats)
}

func (h *Handler) updateRecord(c *gin.Context) {
	var req struct {
		Status  *string `json:"status"`
		Mission *int    `json:"mission"`
		Module  *int    `json:"module"`
		Note    *string `json:"note"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	p := attendance.Patch{Mission: req.Mission, Module: req.Module, Note: req.Note}
	if req.Status != nil {
		s := attendance.Status(*req.Status)
		p.Status = &s
	}
	rec, err := h.attendance.UpdateRecord(c.Request.Context(), c.Param("id"), p)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	ok(c, http.StatusOK, "Attendance updated successfully", rec)
}

func (h *Handler) deleteRecord(c *gin.Context) {
	if err := h.attendance.DeleteRecord(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, h.log, err)
		return
	}
	ok(c, http.StatusOK, "Attendance deleted successfully", nil)
}
