package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastSettings(baseURL string) Settings {
	s := DefaultSettings()
	s.BaseURL = baseURL
	s.TotalAttempts = 3
	s.BackoffFactor = time.Millisecond
	s.BackoffMax = 5 * time.Millisecond
	s.FailureThreshold = 10
	return s
}

func TestClientRetriesThenSucceeds(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := NewResilientClient("test", fastSettings(server.URL), nil, zap.NewNop())

	body, err := client.Get(context.Background(), "/items", nil)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(body))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClientHonorsRetryAfter(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := NewResilientClient("test", fastSettings(server.URL), nil, zap.NewNop())

	start := time.Now()
	body, err := client.Get(context.Background(), "/items", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	// Retry-After: 0 overrides the backoff, so the retry is immediate.
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestClientExhaustsRetriesReturnsAPIError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewResilientClient("test", fastSettings(server.URL), nil, zap.NewNop())

	_, err := client.Get(context.Background(), "/items", nil)
	require.Error(t, err)

	status, ok := StatusCode(err)
	assert.True(t, ok)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewResilientClient("test", fastSettings(server.URL), nil, zap.NewNop())

	_, err := client.Get(context.Background(), "/items", nil)
	require.Error(t, err)

	status, ok := StatusCode(err)
	assert.True(t, ok)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClientNeverRetriesUnsafeMethods(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewResilientClient("test", fastSettings(server.URL), nil, zap.NewNop())

	_, err := client.Do(context.Background(), http.MethodPost, "/items", nil, []byte(`{}`))
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClientCircuitOpensAndFailsFast(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	settings := fastSettings(server.URL)
	settings.TotalAttempts = 1
	settings.FailureThreshold = 2
	settings.OpenTimeout = time.Hour

	client := NewResilientClient("test", settings, nil, zap.NewNop())

	for i := 0; i < 2; i++ {
		_, err := client.Do(context.Background(), http.MethodGet, "/items", nil, nil)
		require.Error(t, err)
	}
	assert.Equal(t, StateOpen, client.BreakerState())

	// With the circuit open the network is not touched at all.
	before := atomic.LoadInt32(&calls)
	_, err := client.Get(context.Background(), "/items", nil)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, before, atomic.LoadInt32(&calls))
}

func TestClientHalfOpenProbeRecovers(t *testing.T) {
	var fail int32 = 1
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.LoadInt32(&fail) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	settings := fastSettings(server.URL)
	settings.TotalAttempts = 1
	settings.FailureThreshold = 1
	settings.OpenTimeout = 10 * time.Millisecond

	client := NewResilientClient("test", settings, nil, zap.NewNop())

	_, err := client.Get(context.Background(), "/items", nil)
	require.Error(t, err)
	assert.Equal(t, StateOpen, client.BreakerState())

	atomic.StoreInt32(&fail, 0)
	time.Sleep(20 * time.Millisecond)

	body, err := client.Get(context.Background(), "/items", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, StateClosed, client.BreakerState())
}

func TestClientSendsMergedHeaders(t *testing.T) {
	var gotUA, gotAccept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	settings := fastSettings(server.URL)
	settings.Headers["User-Agent"] = "bioacq/1.0"

	client := NewResilientClient("test", settings, nil, zap.NewNop())

	_, err := client.Get(context.Background(), "/items", url.Values{"limit": {"25"}})
	require.NoError(t, err)
	assert.Equal(t, "bioacq/1.0", gotUA)
	assert.Equal(t, "application/json", gotAccept)
}

func TestClientBuildsQueryURL(t *testing.T) {
	var gotPath, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("cursor")
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := NewResilientClient("test", fastSettings(server.URL+"/api/v1"), nil, zap.NewNop())

	_, err := client.Get(context.Background(), "works", url.Values{"cursor": {"abc*"}})
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/works", gotPath)
	assert.Equal(t, "abc*", gotQuery)
}
