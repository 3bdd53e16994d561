package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/labstack/gommon/log"

	"bootcamptracker/internal/apperr"
	"bootcamptracker/internal/clock"
)

func ok(c *gin.Context, status int, message string, data any) {
	c.JSON(status, gin.H{"success": true, "message": message, "data": data})
}

// fail renders err with the status mapped from its kind. Internal errors are
// logged and reported with a generic message.
func fail(c *gin.Context, logger *log.Logger, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal {
		logger.Errorf("%s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.AbortWithStatusJSON(kind.Status(), gin.H{"success": false, "message": apperr.MessageOf(err)})
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "message": message})
}

// parseDate accepts a local calendar date (2006-01-02, interpreted in UTC+6)
// or an RFC3339 instant.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation("2006-01-02", s, clock.Zone); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
