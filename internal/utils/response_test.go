package utils

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pepkit/pephub-sub000/internal/apperrors"
)

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestWriteAppError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		status    int
		code      string
		challenge bool
	}{
		{"unauthorized", apperrors.New(apperrors.KindUnauthorized, "authentication required"), 401, "unauthorized", true},
		{"expired", apperrors.New(apperrors.KindTokenExpired, "token expired"), 401, "token_expired", true},
		{"masked", apperrors.New(apperrors.KindNotFoundMasked, "project not found"), 404, "not_found", false},
		{"quota", apperrors.New(apperrors.KindQuotaExceeded, "too many keys"), 400, "quota_exceeded", false},
		{"unknown", errors.New("db exploded"), 500, "internal_error", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteAppError(rec, httptest.NewRequest(http.MethodGet, "/x", nil), tt.err)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			body := decodeBody(t, rec)
			assert.Equal(t, tt.code, body["error"])
			assert.NotContains(t, body["error_description"], "db exploded")

			challenge := rec.Header().Get("WWW-Authenticate")
			if tt.challenge {
				assert.True(t, strings.HasPrefix(challenge, `Bearer realm="pephub"`), challenge)
			} else {
				assert.Empty(t, challenge)
			}
		})
	}
}

func TestWriteJSONStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSONStatus(rec, http.StatusCreated, map[string]int{"n": 1})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"n":1}`, rec.Body.String())
}

func TestDecodeJSON(t *testing.T) {
	var v struct {
		Code string `json:"code"`
	}
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"code":"abc"}`))
	require.NoError(t, DecodeJSON(r, &v))
	assert.Equal(t, "abc", v.Code)

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"code":"abc","extra":1}`))
	assert.True(t, apperrors.IsKind(DecodeJSON(r, &v), apperrors.KindInvalid))

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`not json`))
	assert.True(t, apperrors.IsKind(DecodeJSON(r, &v), apperrors.KindInvalid))
}
