package crm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastClient shrinks the backoff so retry tests run quickly.
func fastClient() *Client {
	c := NewClient(time.Second)
	c.backoff = time.Millisecond
	return c
}

func TestDoJSONRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id": "123"}`)
	}))
	defer srv.Close()

	var out struct {
		ID string `json:"id"`
	}
	err := fastClient().DoJSON(context.Background(), ProviderZoho, http.MethodGet, srv.URL, nil, nil, &out)
	require.NoError(t, err)
	assert.Equal(t, "123", out.ID)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDoJSONRetriesRateLimit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	err := fastClient().DoJSON(context.Background(), ProviderHubSpot, http.MethodGet, srv.URL, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestDoJSONDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"message": "INVALID_DATA"}`)
	}))
	defer srv.Close()

	err := fastClient().DoJSON(context.Background(), ProviderZoho, http.MethodPost, srv.URL, nil, map[string]string{"a": "b"}, nil)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.False(t, apiErr.IsRetryable())
	assert.Contains(t, apiErr.Body, "INVALID_DATA")
	// Permanent failures are returned immediately
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDoJSONGivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := fastClient()
	err := c.DoJSON(context.Background(), ProviderZoho, http.MethodGet, srv.URL, nil, nil, nil)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsRetryable())
	assert.Equal(t, int32(c.maxRetries+1), atomic.LoadInt32(&calls))
}

func TestDoJSONSetsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Zoho-oauthtoken tok", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	headers := map[string]string{"Authorization": "Zoho-oauthtoken tok"}
	err := fastClient().DoJSON(context.Background(), ProviderZoho, http.MethodPost, srv.URL, headers, map[string]string{"a": "b"}, nil)
	require.NoError(t, err)
}
