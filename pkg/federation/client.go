package federation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/openintent-protocol/openintent/pkg/models"
)

// receivePath is where peers accept envelopes, relative to their base URL.
const receivePath = "/api/v1/federation/receive"

// Client delivers signed envelopes and callbacks to peer servers. Non-2xx
// responses and transport errors are retried with exponential backoff
// (1s, 2s, 4s, ...) up to maxRetries additional attempts.
type Client struct {
	http          *http.Client
	identity      *Identity
	maxRetries    int
	retryInterval time.Duration
	logger        *slog.Logger
}

// NewClient creates a delivery client signing with identity. timeout bounds
// each individual attempt.
func NewClient(identity *Identity, timeout time.Duration, maxRetries int) *Client {
	return &Client{
		http:          &http.Client{Timeout: timeout},
		identity:      identity,
		maxRetries:    maxRetries,
		retryInterval: time.Second,
		logger:        slog.Default(),
	}
}

// SendEnvelope signs env and POSTs it to the target server's receive
// endpoint. It returns the number of attempts made.
func (c *Client) SendEnvelope(ctx context.Context, targetServer string, env *models.FederationEnvelope) (int, error) {
	if err := SignEnvelope(c.identity, env); err != nil {
		return 0, err
	}
	return c.post(ctx, strings.TrimSuffix(targetServer, "/")+receivePath, env)
}

// SendCallback signs cb and POSTs it to the source's callback endpoint.
func (c *Client) SendCallback(ctx context.Context, callbackURL string, cb *models.FederationCallback) (int, error) {
	if err := SignCallback(c.identity, cb); err != nil {
		return 0, err
	}
	return c.post(ctx, callbackURL, cb)
}

func (c *Client) post(ctx context.Context, url string, body any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("encode payload: %w", err)
	}

	attempts := 0
	operation := func() error {
		attempts++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("post %s: %w", url, err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("peer returned HTTP %d for %s", resp.StatusCode, url)
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryInterval
	policy.RandomizationFactor = 0
	policy.Multiplier = 2

	err = backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.maxRetries)), ctx))
	if err != nil {
		c.logger.Warn("Federation delivery failed", "url", url, "attempts", attempts, "error", err)
	}
	return attempts, err
}
