// Package identity exchanges the workload access token carried on an
// invocation for a provider-scoped credential. The runtime publishes the
// token on the request context; handlers hand that context to this client.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/theumbrella1/agentcore/pkg/runtime"
)

// ErrNoWorkloadToken is returned when the invocation did not carry a
// workload access token header.
var ErrNoWorkloadToken = errors.New("no workload access token in request context")

// Token is a provider credential returned by the identity service.
type Token struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   int64  `json:"expires_at"`
}

// Options configures a Client.
type Options struct {
	// BaseURL of the identity service. Required.
	BaseURL string

	// Timeout for a single exchange call. Defaults to 10 seconds.
	Timeout time.Duration

	// MaxRetries bounds attempts for retryable failures. Defaults to 3.
	MaxRetries int

	// RetryDelay is the base delay between attempts, scaled linearly.
	// Defaults to 500 milliseconds.
	RetryDelay time.Duration

	Logger zerolog.Logger
}

// Client calls the identity service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
	logger     zerolog.Logger
}

// NewClient creates an identity client.
func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 500 * time.Millisecond
	}

	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: &http.Client{Timeout: opts.Timeout},
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		logger:     opts.Logger,
	}, nil
}

type exchangeRequest struct {
	WorkloadToken string `json:"workload_token"`
	Provider      string `json:"provider"`
}

// Exchange trades the workload token on ctx for a credential scoped to the
// named provider. Server errors are retried with a linear backoff; client
// errors fail immediately.
func (c *Client) Exchange(ctx context.Context, provider string) (*Token, error) {
	workloadToken := runtime.AccessTokenFromContext(ctx)
	if workloadToken == "" {
		return nil, ErrNoWorkloadToken
	}

	body, err := json.Marshal(exchangeRequest{
		WorkloadToken: workloadToken,
		Provider:      provider,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn().
				Int("attempt", attempt+1).
				Int("maxRetries", c.maxRetries).
				Str("provider", provider).
				Err(lastErr).
				Msg("Retrying token exchange")

			select {
			case <-time.After(time.Duration(attempt) * c.retryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		token, retryable, err := c.exchange(ctx, body)
		if err == nil {
			return token, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}

	return nil, fmt.Errorf("token exchange failed after %d attempts: %w", c.maxRetries, lastErr)
}

func (c *Client) exchange(ctx context.Context, body []byte) (*Token, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth2/token", bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("failed to call identity service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		retryable := resp.StatusCode >= http.StatusInternalServerError
		return nil, retryable, fmt.Errorf("identity service error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var token Token
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, false, fmt.Errorf("failed to decode response: %w", err)
	}

	return &token, false, nil
}
