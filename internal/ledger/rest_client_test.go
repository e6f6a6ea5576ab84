package ledger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"gains-sandbox-go/internal/config"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// setupTestServer creates a new test server and a RestClient configured to use it.
func setupTestServer(handler http.Handler) (*RestClient, *httptest.Server) {
	server := httptest.NewServer(handler)

	rc := &RestClient{
		client:    resty.New().SetBaseURL(server.URL),
		apiKey:    "test_api_key",
		secretKey: "test_secret_key",
		logger:    zap.NewNop(),
		limiter:   rate.NewLimiter(rate.Inf, 1), // Allow all requests in tests
		backoff:   time.Millisecond,
	}

	return rc, server
}

const tradesBody = `[
	{"id":"b1","asset":"BTC","quantity":"1","priceUsd":"30000","feeUsd":"5","executedAt":"2024-01-01T00:00:00Z"},
	{"id":"s1","asset":"BTC","quantity":"-1","priceUsd":"40000","feeUsd":"2","executedAt":"2024-06-01T00:00:00Z"}
]`

func TestTradesForUser(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/users/u1/trades", r.URL.Path)
			assert.Equal(t, "test_api_key", r.Header.Get(apiKeyHeader))
			assert.NotEmpty(t, r.URL.Query().Get("signature"))
			assert.Equal(t, "asc", r.URL.Query().Get("order"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(tradesBody))
		})

		rc, server := setupTestServer(handler)
		defer server.Close()

		trades, err := rc.TradesForUser(context.Background(), "u1")

		assert.NoError(t, err)
		assert.Len(t, trades, 2)
		assert.Equal(t, "b1", trades[0].ID)
		assert.Equal(t, "u1", trades[0].UserID)
		assert.Equal(t, "30000", trades[0].PriceUSD.String())
		assert.True(t, trades[1].IsDisposal())
		assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), trades[1].ExecutedAt.UTC())
	})

	t.Run("RetriesServerErrors", func(t *testing.T) {
		var calls atomic.Int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(tradesBody))
		})

		rc, server := setupTestServer(handler)
		defer server.Close()

		trades, err := rc.TradesForUser(context.Background(), "u1")

		assert.NoError(t, err)
		assert.Len(t, trades, 2)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("GivesUpAfterMaxRetries", func(t *testing.T) {
		var calls atomic.Int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		})

		rc, server := setupTestServer(handler)
		defer server.Close()

		trades, err := rc.TradesForUser(context.Background(), "u1")

		assert.Error(t, err)
		assert.Nil(t, trades)
		assert.Contains(t, err.Error(), "failed to get trades")
		assert.Contains(t, err.Error(), "request failed after 3 attempts")
		assert.Equal(t, int32(maxRetries), calls.Load())
	})

	t.Run("ClientErrorNotRetried", func(t *testing.T) {
		var calls atomic.Int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"msg":"bad signature"}`))
		})

		rc, server := setupTestServer(handler)
		defer server.Close()

		_, err := rc.TradesForUser(context.Background(), "u1")

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "bad signature")
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestNew(t *testing.T) {
	t.Run("Rest", func(t *testing.T) {
		l, err := New(config.Ledger{Source: "rest", BaseURL: "http://ledger.local", RateLimit: 5, RateLimitBurst: 1}, nil, zap.NewNop())
		assert.NoError(t, err)
		assert.IsType(t, &RestClient{}, l)
	})

	t.Run("RestWithoutURL", func(t *testing.T) {
		_, err := New(config.Ledger{Source: "rest"}, nil, zap.NewNop())
		assert.Error(t, err)
	})

	t.Run("Unknown", func(t *testing.T) {
		_, err := New(config.Ledger{Source: "csv"}, nil, zap.NewNop())
		assert.Error(t, err)
	})
}
