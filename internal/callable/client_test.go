package callable

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"attendance.client/internal/ports"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

type recordedCall struct {
	path   string
	auth   string
	body   map[string]any
	hasReq bool
}

func newBackend(t *testing.T, status int, response string) (*httptest.Server, <-chan recordedCall) {
	t.Helper()
	calls := make(chan recordedCall, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedCall{
			path:   r.URL.Path,
			auth:   r.Header.Get("Authorization"),
			hasReq: r.Header.Get("X-Request-Id") != "",
		}
		_ = json.NewDecoder(r.Body).Decode(&rec.body)
		calls <- rec
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv, calls
}

func TestCallSuccess(t *testing.T) {
	srv, calls := newBackend(t, http.StatusOK, `{"result":{}}`)
	c := NewHTTPClient(srv.URL, time.Second, staticToken("tok"))

	err := c.Call(context.Background(), "recordAttendance", map[string]string{"type": "clock_in", "companyId": "C1"})

	require.NoError(t, err)
	rec := <-calls
	assert.Equal(t, "/recordAttendance", rec.path)
	assert.Equal(t, "Bearer tok", rec.auth)
	assert.True(t, rec.hasReq)
	assert.Equal(t, map[string]any{"type": "clock_in", "companyId": "C1"}, rec.body["data"])
}

func TestCallWithoutData(t *testing.T) {
	srv, calls := newBackend(t, http.StatusOK, `{"result":null}`)
	c := NewHTTPClient(srv.URL+"/", time.Second, staticToken(""))

	require.NoError(t, c.Call(context.Background(), "deleteAccountAndCompany", nil))
	rec := <-calls

	assert.Equal(t, "/deleteAccountAndCompany", rec.path)
	assert.Empty(t, rec.auth)
	assert.Contains(t, rec.body, "data")
	assert.Nil(t, rec.body["data"])
}

func TestCallRemoteError(t *testing.T) {
	srv, _ := newBackend(t, http.StatusNotFound, `{"error":{"status":"NOT_FOUND","message":"invite code not found"}}`)
	c := NewHTTPClient(srv.URL, time.Second, staticToken("tok"))

	err := c.Call(context.Background(), "joinCompany", map[string]string{"inviteCode": "ABCDEF"})

	var callErr *ports.CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, "NOT_FOUND", callErr.Status)
	assert.Equal(t, "invite code not found", callErr.Message)
	assert.Equal(t, http.StatusNotFound, callErr.HTTPCode)
}

func TestCallRemoteErrorWithoutMessage(t *testing.T) {
	srv, _ := newBackend(t, http.StatusInternalServerError, `oops`)
	c := NewHTTPClient(srv.URL, time.Second, staticToken("tok"))

	err := c.Call(context.Background(), "createCompany", nil)

	var callErr *ports.CallError
	require.ErrorAs(t, err, &callErr)
	assert.Empty(t, callErr.Message)
	assert.Equal(t, "Internal Server Error", callErr.Status)
}

func TestCircuitBreakerOpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	c := NewHTTPClient(srv.URL, time.Second, staticToken("tok"))

	for i := 0; i < 10; i++ {
		_ = c.Call(context.Background(), "recordAttendance", nil)
	}
	err := c.Call(context.Background(), "recordAttendance", nil)

	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(10), calls.Load())
}

func TestCircuitBreakerIgnoresClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)
	c := NewHTTPClient(srv.URL, time.Second, staticToken("tok"))

	for i := 0; i < 12; i++ {
		_ = c.Call(context.Background(), "joinCompany", nil)
	}

	assert.Equal(t, int32(12), calls.Load())
}
