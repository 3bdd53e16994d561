package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		kind   Kind
		status int
	}{
		{"not found", NotFound("User not found"), KindNotFound, http.StatusNotFound},
		{"forbidden", Forbidden("closed"), KindForbidden, http.StatusForbidden},
		{"bad request", BadRequest("dup"), KindBadRequest, http.StatusBadRequest},
		{"too many", TooManyRequests("wait"), KindTooManyRequests, http.StatusTooManyRequests},
		{"unauthorized", Unauthorized("no token"), KindUnauthorized, http.StatusUnauthorized},
		{"internal", Internal("boom", errors.New("redis down")), KindInternal, http.StatusInternalServerError},
		{"wrapped", fmt.Errorf("ctx: %w", Forbidden("closed")), KindForbidden, http.StatusForbidden},
		{"untyped", errors.New("plain"), KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, KindOf(tt.err))
			assert.Equal(t, tt.status, KindOf(tt.err).Status())
		})
	}
}

func TestMessageOf_HidesUntypedErrors(t *testing.T) {
	assert.Equal(t, "internal server error", MessageOf(errors.New("pq: connection refused")))
	assert.Equal(t, "Failed to queue OTP email", MessageOf(Internal("Failed to queue OTP email", errors.New("x"))))
	assert.Equal(t, "Failed to queue OTP email: x", Internal("Failed to queue OTP email", errors.New("x")).Error())
}
