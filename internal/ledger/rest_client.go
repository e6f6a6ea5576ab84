package ledger

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"gains-sandbox-go/internal/config"
	"gains-sandbox-go/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	apiKeyHeader = "X-LEDGER-APIKEY"
	recvWindow   = "5000" // How long a request is valid in milliseconds
	maxRetries   = 3
)

// RestClient reads trades from a remote ledger service.
// It implements the Ledger interface.
type RestClient struct {
	client    *resty.Client
	apiKey    string
	secretKey string
	logger    *zap.Logger
	limiter   *rate.Limiter
	backoff   time.Duration
}

// ensure RestClient implements the interface
var _ Ledger = (*RestClient)(nil)

// NewRestClient creates a new ledger REST client.
func NewRestClient(cfg *config.Ledger, logger *zap.Logger) *RestClient {
	client := resty.New().SetBaseURL(cfg.BaseURL)
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}

	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &RestClient{
		client:    client,
		apiKey:    cfg.ApiKey,
		secretKey: cfg.SecretKey,
		logger:    logger.Named("ledger-client"),
		limiter:   limiter,
		backoff:   time.Second,
	}
}

// sign creates a HMAC-SHA256 signature for the request.
func (c *RestClient) sign(data string) string {
	h := hmac.New(sha256.New, []byte(c.secretKey))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// TradesForUser fetches the user's full trade history.
func (c *RestClient) TradesForUser(ctx context.Context, userID string) ([]models.Trade, error) {
	params := url.Values{}
	params.Set("order", "asc")
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", recvWindow)
	params.Set("signature", c.sign(params.Encode()))

	path := "/users/" + url.PathEscape(userID) + "/trades"
	newRequest := func() *resty.Request {
		return c.client.R().
			SetContext(ctx).
			SetHeader(apiKeyHeader, c.apiKey).
			SetQueryParamsFromValues(params).
			SetResult(&[]models.Trade{})
	}

	resp, err := c.doRequest(ctx, http.MethodGet, path, newRequest)
	if err != nil {
		return nil, fmt.Errorf("failed to get trades for user %s: %w", userID, err)
	}

	trades := *resp.Result().(*[]models.Trade)
	for i := range trades {
		if trades[i].UserID == "" {
			trades[i].UserID = userID
		}
	}
	return trades, nil
}

// doRequest handles the actual request execution with rate limiting and retry logic.
func (c *RestClient) doRequest(ctx context.Context, method, path string, newRequest func() *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error

	for i := 0; i < maxRetries; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("path", path))
		resp, err = newRequest().Execute(method, path)

		if err == nil && !resp.IsError() {
			return resp, nil
		}

		// Analyze error and decide whether to retry
		shouldRetry := false
		var retryAfter time.Duration

		if err == nil {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests {
				shouldRetry = true
				if seconds, convErr := strconv.Atoi(resp.Header().Get("Retry-After")); convErr == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 {
				shouldRetry = true
			}
			if !shouldRetry {
				return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
			}
			err = fmt.Errorf("request failed with status %s", resp.Status())
		}
		// Network and other client-side errors are always retried.

		if i == maxRetries-1 {
			break
		}

		if retryAfter == 0 {
			// Exponential backoff: 1x, 2x, 4x
			retryAfter = time.Duration(math.Pow(2, float64(i))) * c.backoff
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}
