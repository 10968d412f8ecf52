package platforms

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetJSONDecodesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"octocat"}`))
	}))
	defer srv.Close()

	var out struct {
		Name string `json:"name"`
	}
	client := NewClient(srv.URL, 5*time.Second)
	err := getJSON(context.Background(), client, "github", "tok-123", "/user", map[string]string{"limit": "50"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "octocat", out.Name)
}

func TestGetJSONUnauthorizedIsTokenExpired(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	err := getJSON(context.Background(), client, "spotify", "stale", "/v1/me", nil, nil)
	require.Error(t, err)
	assert.True(t, IsTokenExpired(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "auth failures must not be retried")
}

func TestGetJSONRateLimitedCarriesRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	err := getJSON(context.Background(), client, "spotify", "tok", "/v1/me", nil, nil)
	require.Error(t, err)
	rl, ok := IsRateLimited(err)
	require.True(t, ok)
	assert.Equal(t, 7*time.Second, rl.RetryAfter)
}

func TestGetJSONRateLimitedDefaultsRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	err := getJSON(context.Background(), client, "discord", "tok", "/users/@me", nil, nil)
	rl, ok := IsRateLimited(err)
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, rl.RetryAfter)
}

func TestGetJSONForbiddenIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	err := getJSON(context.Background(), client, "youtube", "tok", "/subscriptions", nil, nil)
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestGetJSONRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	err := getJSON(context.Background(), client, "github", "tok", "/user/repos", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGetJSONHonorsContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	client := NewClient(srv.URL, 5*time.Second)
	start := time.Now()
	err := getJSON(ctx, client, "github", "tok", "/user", nil, nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second, "cancelled context must stop the retry loop")
}
