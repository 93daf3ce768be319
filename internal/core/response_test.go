package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saaskit/internal/types"
)

func requestWithID(method, body string) *http.Request {
	r := httptest.NewRequest(method, "/v1/test", strings.NewReader(body))
	return r.WithContext(types.WithRequestID(r.Context(), "req_test"))
}

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) APIErrorResponse {
	t.Helper()
	var resp APIErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestJSON_WritesEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()

	JSON(rec, requestWithID(http.MethodGet, ""), http.StatusCreated, APIResponse{
		Data: map[string]string{"id": "act_1"},
	})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"data":{"id":"act_1"}}`, rec.Body.String())
}

func TestError_AppErrorPicksStatus(t *testing.T) {
	tests := []struct {
		code       types.ErrorCode
		wantStatus int
	}{
		{types.ErrCodeNotFoundAction, http.StatusNotFound},
		{types.ErrCodeAuthKeyInvalid, http.StatusUnauthorized},
		{types.ErrCodeValidationPayload, http.StatusBadRequest},
		{types.ErrCodeConflictActionState, http.StatusConflict},
		{types.ErrCodeInternalDB, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			rec := httptest.NewRecorder()

			Error(rec, requestWithID(http.MethodGet, ""),
				types.NewAppError(tt.code, "it went wrong", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			resp := decodeErrorBody(t, rec)
			assert.Equal(t, string(tt.code), resp.Error.Code)
			assert.Equal(t, "it went wrong", resp.Error.Message)
			assert.Equal(t, "req_test", resp.Error.RequestID)
		})
	}
}

func TestError_WrappedAppErrorUnwrapped(t *testing.T) {
	rec := httptest.NewRecorder()
	wrapped := fmt.Errorf("handler: %w",
		types.NewAppError(types.ErrCodeNotFoundTeam, "team not found", nil))

	Error(rec, requestWithID(http.MethodGet, ""), wrapped)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(types.ErrCodeNotFoundTeam), decodeErrorBody(t, rec).Error.Code)
}

func TestError_GenericErrorNeverLeaks(t *testing.T) {
	rec := httptest.NewRecorder()

	Error(rec, requestWithID(http.MethodGet, ""), errors.New("pq: secret dsn in here"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeErrorBody(t, rec)
	assert.Equal(t, string(types.ErrCodeInternalUnexpected), resp.Error.Code)
	assert.Equal(t, "an unexpected error occurred", resp.Error.Message)
	assert.NotContains(t, rec.Body.String(), "dsn")
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	t.Run("valid body", func(t *testing.T) {
		var dst payload
		err := DecodeJSON(httptest.NewRecorder(),
			requestWithID(http.MethodPost, `{"name":"a","count":2}`), &dst)

		require.NoError(t, err)
		assert.Equal(t, payload{Name: "a", Count: 2}, dst)
	})

	t.Run("unknown field", func(t *testing.T) {
		var dst payload
		err := DecodeJSON(httptest.NewRecorder(),
			requestWithID(http.MethodPost, `{"name":"a","bogus":true}`), &dst)

		var appErr *types.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, errCodeValidationInvalidJSON, appErr.Code)
		assert.Contains(t, appErr.Message, "unknown field")
	})

	t.Run("empty body", func(t *testing.T) {
		var dst payload
		err := DecodeJSON(httptest.NewRecorder(),
			requestWithID(http.MethodPost, ""), &dst)

		var appErr *types.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, "request body must not be empty", appErr.Message)
	})

	t.Run("malformed JSON", func(t *testing.T) {
		var dst payload
		err := DecodeJSON(httptest.NewRecorder(),
			requestWithID(http.MethodPost, `{"name":`), &dst)

		var appErr *types.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, errCodeValidationInvalidJSON, appErr.Code)
	})

	t.Run("type mismatch names the field", func(t *testing.T) {
		var dst payload
		err := DecodeJSON(httptest.NewRecorder(),
			requestWithID(http.MethodPost, `{"count":"two"}`), &dst)

		var appErr *types.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, "count", appErr.Details["field"])
	})

	t.Run("multiple JSON values rejected", func(t *testing.T) {
		var dst payload
		err := DecodeJSON(httptest.NewRecorder(),
			requestWithID(http.MethodPost, `{"name":"a"}{"name":"b"}`), &dst)

		var appErr *types.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Contains(t, appErr.Message, "single JSON")
	})
}
