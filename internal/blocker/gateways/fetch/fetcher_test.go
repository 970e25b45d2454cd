package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPFetcher_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("||ads.example^\n"))
	}))
	defer srv.Close()

	body, err := NewHTTPFetcher(Options{}).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "||ads.example^\n", string(body))
}

func TestHTTPFetcher_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		max     int64
		check   func(t *testing.T, err error)
	}{
		{
			name:    "non-200",
			handler: func(w http.ResponseWriter, r *http.Request) { http.Error(w, "nope", http.StatusNotFound) },
			check:   func(t *testing.T, err error) { assert.Contains(t, err.Error(), "unexpected status 404") },
		},
		{
			name:    "empty body",
			handler: func(w http.ResponseWriter, r *http.Request) {},
			check:   func(t *testing.T, err error) { assert.True(t, errors.Is(err, ErrEmptyBody)) },
		},
		{
			name: "too large",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(strings.Repeat("x", 64)))
			},
			max:   16,
			check: func(t *testing.T, err error) { assert.Contains(t, err.Error(), "exceeds 16 bytes") },
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()
			_, err := NewHTTPFetcher(Options{MaxBytes: tc.max}).Fetch(context.Background(), srv.URL)
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

func TestHTTPFetcher_ExactLimitAccepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 16)))
	}))
	defer srv.Close()
	body, err := NewHTTPFetcher(Options{MaxBytes: 16}).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Len(t, body, 16)
}

func TestHTTPFetcher_ContextCanceled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := NewHTTPFetcher(Options{}).Fetch(ctx, srv.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestHTTPFetcher_BadURL(t *testing.T) {
	_, err := NewHTTPFetcher(Options{}).Fetch(context.Background(), "://bad")
	assert.Error(t, err)
}
