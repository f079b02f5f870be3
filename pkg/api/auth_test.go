package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"

	"github.com/openintent-protocol/openintent/pkg/config"
)

func TestExtractActor(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		expected string
	}{
		{
			name:     "no header returns default",
			header:   "",
			expected: "api-client",
		},
		{
			name:     "X-Agent-ID is the actor",
			header:   "agent-smith",
			expected: "agent-smith",
		},
		{
			name:     "whitespace-only header returns default",
			header:   "   ",
			expected: "api-client",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("X-Agent-ID", tt.header)
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			assert.Equal(t, tt.expected, extractActor(c))
		})
	}
}

func TestAuthExempt(t *testing.T) {
	exempt := []string{
		"/health",
		"/.well-known/openintent.json",
		"/.well-known/openintent-federation.json",
		"/.well-known/did.json",
		"/api/v1/federation/receive",
		"/api/v1/federation/callbacks",
	}
	for _, path := range exempt {
		assert.True(t, authExempt(path), path)
	}

	protected := []string{
		"/api/v1/intents",
		"/api/v1/federation/dispatch",
		"/api/v1/federation/peers",
		"/api/v1/subscribe/intents/abc",
	}
	for _, path := range protected {
		assert.False(t, authExempt(path), path)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.APIKeys = []string{"test-key"}
	})

	t.Run("missing key is a 401", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/api/v1/intents", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "missing or unknown API key")
	})

	t.Run("wrong key is a 401", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/api/v1/intents",
			map[string]string{"X-API-Key": "nope"}, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid key passes", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/api/v1/intents",
			map[string]string{"X-API-Key": "test-key"}, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("health and discovery stay open", func(t *testing.T) {
		for _, path := range []string{"/health", "/.well-known/openintent.json"} {
			rec := doJSON(t, s, http.MethodGet, path, nil, nil)
			assert.Equal(t, http.StatusOK, rec.Code, path)
		}
	})

	t.Run("federation ingress authenticates by signature, not key", func(t *testing.T) {
		// Federation is disabled on this server, so the exempt route reaches
		// the handler and answers 503 rather than 401.
		rec := doJSON(t, s, http.MethodPost, "/api/v1/federation/receive", nil, map[string]any{})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("federation dispatch still needs the key", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/federation/dispatch", nil, map[string]any{})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestAPIKeyAuthDisabledWithoutKeys(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/intents", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
