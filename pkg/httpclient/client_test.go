package httpclient

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(c *Config) {}, false},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }, true},
		{"negative retries", func(c *Config) { c.RetryAttempts = -1 }, true},
		{"backoff required with retries", func(c *Config) { c.RetryBackoff = 0 }, true},
		{"max backoff below base", func(c *Config) { c.MaxBackoff = time.Millisecond }, true},
		{"empty user agent", func(c *Config) { c.UserAgent = "" }, true},
		{"no retries allows zero backoff", func(c *Config) {
			c.RetryAttempts = 0
			c.RetryBackoff = 0
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRetryTransport_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.RetryAttempts = 3
	cfg.RetryBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond

	client, err := New(cfg)
	require.NoError(t, err)

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetryTransport_DoesNotRetryPOST(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.RetryAttempts = 3
	cfg.RetryBackoff = time.Millisecond

	client, err := New(cfg)
	require.NoError(t, err)

	resp, err := client.Post(srv.URL, "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, int32(1), calls.Load())
}

func TestRetryTransport_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.RetryAttempts = 3
	cfg.RetryBackoff = time.Millisecond

	client, err := New(cfg)
	require.NoError(t, err)

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSanitizeURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			"redacts api key",
			"https://api.example.com/search?q=podcasts&api_key=supersecret",
			"api_key=%5BREDACTED%5D",
		},
		{
			"redacts token variants",
			"https://api.example.com/v1?access_token=abc",
			"access_token=%5BREDACTED%5D",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(tt.in)
			require.NoError(t, err)
			got := sanitizeURL(u)
			assert.Contains(t, got, tt.want)
			assert.NotContains(t, got, "supersecret")
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	rt := &retryTransport{}

	resp := &http.Response{Header: http.Header{}}
	assert.Equal(t, time.Duration(0), rt.parseRetryAfter(resp))

	resp.Header.Set("Retry-After", "2")
	assert.Equal(t, 2*time.Second, rt.parseRetryAfter(resp))

	resp.Header.Set("Retry-After", "garbage")
	assert.Equal(t, time.Duration(0), rt.parseRetryAfter(resp))
}
