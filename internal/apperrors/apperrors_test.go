package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindStatus(t *testing.T) {
	tests := []struct {
		kind   Kind
		status int
		code   string
	}{
		{KindIdentityUnavailable, http.StatusBadRequest, "identity_unavailable"},
		{KindTokenInvalid, http.StatusUnauthorized, "invalid_token"},
		{KindTokenExpired, http.StatusUnauthorized, "token_expired"},
		{KindStateMismatch, http.StatusBadRequest, "state_mismatch"},
		{KindCodeInvalid, http.StatusBadRequest, "invalid_code"},
		{KindRedirectMismatch, http.StatusBadRequest, "redirect_mismatch"},
		{KindQuotaExceeded, http.StatusBadRequest, "quota_exceeded"},
		{KindUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{KindForbidden, http.StatusForbidden, "forbidden"},
		{KindNotFoundMasked, http.StatusNotFound, "not_found"},
		{KindInternal, http.StatusInternalServerError, "internal_error"},
		{Kind(999), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.kind.Status())
			assert.Equal(t, tt.code, tt.kind.Code())
		})
	}
}

func TestAs(t *testing.T) {
	cause := errors.New("connection reset")
	wrapped := fmt.Errorf("resolve: %w", Wrap(KindIdentityUnavailable, "bad response from identity provider", cause))

	appErr := As(wrapped)
	assert.Equal(t, KindIdentityUnavailable, appErr.Kind)
	assert.ErrorIs(t, wrapped, cause)
	assert.True(t, IsKind(wrapped, KindIdentityUnavailable))

	plain := As(errors.New("boom"))
	assert.Equal(t, KindInternal, plain.Kind)
	assert.Nil(t, As(nil))
}

func TestErrorIs(t *testing.T) {
	err := fmt.Errorf("take: %w", New(KindCodeInvalid, "invalid or expired code"))
	assert.ErrorIs(t, err, &Error{Kind: KindCodeInvalid})
	assert.NotErrorIs(t, err, &Error{Kind: KindRedirectMismatch})
}
