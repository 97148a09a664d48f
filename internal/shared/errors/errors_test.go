package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_StatusMapping(t *testing.T) {
	tests := []struct {
		err    *Error
		status int
	}{
		{InvalidRegistration("name"), http.StatusBadRequest},
		{ReservedName("register"), http.StatusBadRequest},
		{NoRoute("GET /x/y"), http.StatusNotFound},
		{UpstreamTimeout("5s"), http.StatusGatewayTimeout},
		{UpstreamUnreachable("connection refused"), http.StatusBadGateway},
		{UpstreamMalformed("too large"), http.StatusBadGateway},
		{Internal("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.err.Code), func(t *testing.T) {
			assert.Equal(t, tt.status, tt.err.HTTPStatusCode())
		})
	}
}

func TestError_WrappingAndIs(t *testing.T) {
	base := fmt.Errorf("socket closed")
	err := UpstreamUnreachable("x").Wrap(base)

	assert.ErrorIs(t, err, base)
	assert.True(t, IsCode(err, CodeUpstreamUnreachable))
	assert.False(t, IsCode(err, CodeUpstreamTimeout))
	assert.Equal(t, CodeUpstreamUnreachable, GetCode(err))
	assert.Equal(t, CodeInternal, GetCode(fmt.Errorf("plain")))
	assert.Contains(t, err.Error(), "socket closed")
}

func TestWriteHTTP(t *testing.T) {
	t.Run("typed error", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteHTTP(w, UpstreamTimeout("2s"))

		assert.Equal(t, http.StatusGatewayTimeout, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "Upstream timeout", body["error"])
		assert.Equal(t, "UPSTREAM_TIMEOUT", body["code"])
		assert.Equal(t, "2s", body["details"])
	})

	t.Run("plain error is masked as INTERNAL", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteHTTP(w, fmt.Errorf("sensitive detail"))

		assert.Equal(t, http.StatusInternalServerError, w.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "INTERNAL", body["code"])
		assert.NotContains(t, body["error"], "sensitive")
	})
}

func TestError_WithDetails(t *testing.T) {
	e := New(CodeNoRoute, "No route")
	d := e.WithDetails("POST /a/b")

	assert.Empty(t, e.Details)
	assert.Equal(t, "POST /a/b", d.Details)
	assert.Equal(t, e.Code, d.Code)
}
