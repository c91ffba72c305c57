package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/wahub/wahub/internal/errors"
)

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, map[string]string{"hello": "world"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "world", body["hello"])
}

func TestWriteErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   apperrors.ErrorCode
	}{
		{"validation", apperrors.ValidationError("bad"), http.StatusBadRequest, apperrors.ErrCodeValidation},
		{"invalid jid", apperrors.InvalidJID("nope"), http.StatusBadRequest, apperrors.ErrCodeInvalidJID},
		{"unauthorized", apperrors.Unauthorized("no key"), http.StatusUnauthorized, apperrors.ErrCodeUnauthorized},
		{"forbidden", apperrors.Forbidden("not yours"), http.StatusForbidden, apperrors.ErrCodeForbidden},
		{"not found", apperrors.NotFound("session"), http.StatusNotFound, apperrors.ErrCodeNotFound},
		{"already exists", apperrors.AlreadyExists("session"), http.StatusConflict, apperrors.ErrCodeAlreadyExists},
		{"logged out", apperrors.LoggedOut("s1"), http.StatusConflict, apperrors.ErrCodeLoggedOut},
		{"not connected", apperrors.NotConnected("s1"), http.StatusUnprocessableEntity, apperrors.ErrCodeNotConnected},
		{"limit", apperrors.LimitExceeded("too many"), http.StatusTooManyRequests, apperrors.ErrCodeLimitExceeded},
		{"webhook", apperrors.WebhookFailed("refused"), http.StatusBadGateway, apperrors.ErrCodeWebhookFailed},
		{"store busy", apperrors.StoreBusy(errors.New("locked")), http.StatusServiceUnavailable, apperrors.ErrCodeStoreBusy},
		{"send timeout", apperrors.SendTimeout(), http.StatusGatewayTimeout, apperrors.ErrCodeSendTimeout},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, apperrors.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, tt.err)

			assert.Equal(t, tt.status, rec.Code)

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Code)
			assert.NotEmpty(t, body.Error)
		})
	}
}
