package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/scoreflow/internal/ctxkeys"
	"github.com/BaSui01/scoreflow/types"
)

// =============================================================================
// 🧪 Common 函数测试
// =============================================================================

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusAccepted, []int{1, 2, 3})

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.JSONEq(t, "[1,2,3]", w.Body.String())
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccess(w, map[string]string{"key": "value"})

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)
	assert.NotNil(t, resp.Data)
	assert.Nil(t, resp.Error)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestWriteError(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name           string
		err            *types.Error
		expectedStatus int
		retryAfter     string
	}{
		{
			name:           "invalid request",
			err:            types.NewError(types.ErrInvalidRequest, "pairs is required"),
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "saturated pool is retryable",
			err:            types.NewError(types.ErrPoolSaturated, "queue full").WithRetryable(true),
			expectedStatus: http.StatusServiceUnavailable,
			retryAfter:     "1",
		},
		{
			name:           "inference failure",
			err:            types.InferenceFailed("model", errors.New("boom")),
			expectedStatus: http.StatusBadGateway,
		},
		{
			name:           "explicit status wins",
			err:            types.NewError(types.ErrInvalidRequest, "too big").WithHTTPStatus(http.StatusRequestEntityTooLarge),
			expectedStatus: http.StatusRequestEntityTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.err, logger)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Equal(t, tt.retryAfter, w.Header().Get("Retry-After"))

			resp := decodeResponse(t, w)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(tt.err.Code), resp.Error.Code)
			assert.NotEmpty(t, resp.Error.Message)
		})
	}
}

func TestWriteError_CauseAndStage(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, types.InferenceFailed("tokenizer", errors.New("bad utf8")), zap.NewNop())

	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "tokenizer", resp.Error.Stage)
	assert.Contains(t, resp.Error.Details, "bad utf8")
}

func TestWriteRequestError_IncludesRequestID(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/api/v1/score", nil)
	r = r.WithContext(ctxkeys.WithRequestID(r.Context(), "req-42"))
	w := httptest.NewRecorder()

	WriteRequestError(w, r, types.NewError(types.ErrInvalidRequest, "nope"), zap.NewNop())

	resp := decodeResponse(t, w)
	assert.Equal(t, "req-42", resp.RequestID)
}

func TestToAPIError(t *testing.T) {
	typed := types.NewError(types.ErrPoolStopped, "stopped")
	assert.Same(t, typed, ToAPIError(typed))
	assert.Same(t, typed, ToAPIError(fmt.Errorf("wrapped: %w", typed)))

	deadline := ToAPIError(context.DeadlineExceeded)
	assert.Equal(t, types.ErrServiceUnavailable, deadline.Code)
	assert.True(t, deadline.Retryable)

	cancelled := ToAPIError(context.Canceled)
	assert.Equal(t, types.ErrServiceUnavailable, cancelled.Code)
	assert.False(t, cancelled.Retryable)

	other := ToAPIError(errors.New("disk on fire"))
	assert.Equal(t, types.ErrInternalError, other.Code)
	assert.Contains(t, other.Cause.Error(), "disk on fire")
}

func TestDecodeJSONBody(t *testing.T) {
	logger := zap.NewNop()

	type payload struct {
		Name  string `json:"name"`
		Value int    `json:"value"`
	}

	tests := []struct {
		name       string
		body       string
		maxBytes   int64
		wantStatus int
	}{
		{name: "valid JSON", body: `{"name":"test","value":123}`},
		{name: "invalid JSON", body: `{"name":"test",}`, wantStatus: http.StatusBadRequest},
		{name: "unknown field", body: `{"name":"test","unknown":"field"}`, wantStatus: http.StatusBadRequest},
		{name: "empty body", body: "", wantStatus: http.StatusBadRequest},
		{
			name:       "oversized body",
			body:       `{"name":"` + strings.Repeat("x", 2048) + `"}`,
			maxBytes:   1024,
			wantStatus: http.StatusRequestEntityTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/test", nil)
			if tt.body != "" {
				r = httptest.NewRequest(http.MethodPost, "/test", bytes.NewBufferString(tt.body))
			}

			var result payload
			err := DecodeJSONBody(w, r, &result, tt.maxBytes, logger)

			if tt.wantStatus == 0 {
				require.NoError(t, err)
				assert.Equal(t, "test", result.Name)
				assert.Equal(t, 123, result.Value)
				return
			}
			assert.Error(t, err)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestValidateContentType(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		contentType string
		want        bool
	}{
		{"application/json", true},
		{"application/json; charset=utf-8", true},
		{"Application/JSON;  charset=UTF-8", true},
		{"text/plain", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/test", nil)
			r.Header.Set("Content-Type", tt.contentType)

			assert.Equal(t, tt.want, ValidateContentType(w, r, logger))
			if !tt.want {
				assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
			}
		})
	}
}

func TestRequireMethod(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/score", nil)

	assert.False(t, RequireMethod(w, r, http.MethodPost, zap.NewNop()))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, http.MethodPost, w.Header().Get("Allow"))

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/api/v1/score", nil)
	assert.True(t, RequireMethod(w, r, http.MethodPost, zap.NewNop()))
}

func TestResponseWriter(t *testing.T) {
	w := httptest.NewRecorder()
	rw := NewResponseWriter(w)

	// 初始状态
	assert.Equal(t, http.StatusOK, rw.StatusCode)
	assert.False(t, rw.Written)

	rw.WriteHeader(http.StatusCreated)
	assert.Equal(t, http.StatusCreated, rw.StatusCode)
	assert.True(t, rw.Written)

	// 再次写入应该被忽略
	rw.WriteHeader(http.StatusBadRequest)
	assert.Equal(t, http.StatusCreated, rw.StatusCode)

	n, err := rw.Write([]byte("test"))
	assert.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, int64(4), rw.BytesWritten)
}

func TestMapErrorCodeToHTTPStatus(t *testing.T) {
	tests := []struct {
		code       types.ErrorCode
		wantStatus int
	}{
		{types.ErrInvalidRequest, http.StatusBadRequest},
		{types.ErrUnauthorized, http.StatusUnauthorized},
		{types.ErrRateLimited, http.StatusTooManyRequests},
		{types.ErrStartupTimeout, http.StatusServiceUnavailable},
		{types.ErrPoolSaturated, http.StatusServiceUnavailable},
		{types.ErrPoolStopped, http.StatusServiceUnavailable},
		{types.ErrFormerClosed, http.StatusServiceUnavailable},
		{types.ErrBackendUnavailable, http.StatusServiceUnavailable},
		{types.ErrInferenceFailed, http.StatusBadGateway},
		{types.ErrTokenizerError, http.StatusInternalServerError},
		{types.ErrInternalError, http.StatusInternalServerError},
		{"UNKNOWN_CODE", http.StatusInternalServerError}, // 默认
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.wantStatus, mapErrorCodeToHTTPStatus(tt.code))
		})
	}
}
