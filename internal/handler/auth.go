package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bootcamptracker/internal/auth"
	"bootcamptracker/internal/user"
)

func (h *Handler) requestOTP(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "A valid email is required")
		return
	}
	msg, err := h.otp.Request(c.Request.Context(), req.Email)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	ok(c, http.StatusOK, msg, nil)
}

func (h *Handler) verifyOTP(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
		OTP   string `json:"otp" binding:"required,len=6,numeric"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Email and a 6-digit OTP are required")
		return
	}
	res, err := h.otp.Verify(c.Request.Context(), req.Email, req.OTP)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	ok(c, http.StatusOK, "OTP verified successfully", res)
}

func (h *Handler) me(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	u, err := h.users.Get(c.Request.Context(), claims.UserID)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	ok(c, http.StatusOK, "User fetched successfully", u.Public())
}

func (h *Handler) registerUser(c *gin.Context) {
	var req struct {
		Email           string  `json:"email" binding:"required,email"`
		Phone           *string `json:"phone"`
		Name            *string `json:"name"`
		DiscordUsername *string `json:"discordUsername"`
		Role            string  `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "A valid email is required")
		return
	}
	claims, _ := auth.ClaimsFrom(c)
	role := user.Role(req.Role)
	// only super admins may create other admins
	if (role == user.RoleAdmin || role == user.RoleSuperAdmin) && claims.Role != string(user.RoleSuperAdmin) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "message": "Only a super admin can create admin accounts"})
		return
	}
	u, err := h.users.Register(c.Request.Context(), user.RegisterInput{
		Email:           req.Email,
		Phone:           req.Phone,
		Name:            req.Name,
		DiscordUsername: req.DiscordUsername,
		Role:            role,
	})
	if err != nil {
		fail(c, h.log, err)
		return
	}
	ok(c, http.StatusCreated, "User created successfully", u.Public())
}

func (h *Handler) updateRole(c *gin.Context) {
	var req struct {
		Role string `json:"role" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "role is required")
		return
	}
	u, err := h.users.UpdateRole(c.Request.Context(), c.Param("id"), user.Role(req.Role))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	ok(c, http.StatusOK, "User role updated successfully", u.Public())
}
