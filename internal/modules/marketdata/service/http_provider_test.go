package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paper_bot/internal/modules/config"
)

func providerConfig(baseURL string, retries int) *config.Config {
	cfg := &config.Config{}
	cfg.Provider.BaseURL = baseURL
	cfg.Provider.TimeoutSec = 1
	cfg.Provider.Retries = retries
	return cfg
}

// dropFirst kills the connection for the first n requests, then serves body.
func dropFirst(n int64, body string, hits *atomic.Int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= n {
			hj, ok := w.(http.Hijacker)
			if !ok {
				panic("hijack unsupported")
			}
			conn, _, err := hj.Hijack()
			if err != nil {
				panic(err)
			}
			conn.Close()
			return
		}
		w.Write([]byte(body))
	}
}

func TestLastPriceRetriesTransportError(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	srv := httptest.NewServer(dropFirst(1, `{"code":"EURUSD","price":1.0842}`, &hits))
	defer srv.Close()

	p := NewHTTPProvider(providerConfig(srv.URL, 2))
	price, ok, err := p.LastPrice(context.Background(), "EURUSD")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1.0842, price)
	assert.Equal(t, int64(2), hits.Load())
}

func TestGetRetriesAreBounded(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	srv := httptest.NewServer(dropFirst(100, "", &hits))
	defer srv.Close()

	p := NewHTTPProvider(providerConfig(srv.URL, 1))
	_, _, err := p.LastPrice(context.Background(), "EURUSD")
	require.Error(t, err)
	assert.Equal(t, int64(2), hits.Load())
}

func TestGetDoesNotRetryHTTPStatus(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewHTTPProvider(providerConfig(srv.URL, 3))
	_, _, err := p.LastPrice(context.Background(), "EURUSD")
	require.Error(t, err)
	assert.Equal(t, int64(1), hits.Load())
}
