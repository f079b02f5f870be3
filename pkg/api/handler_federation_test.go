package api

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openintent-protocol/openintent/pkg/config"
	"github.com/openintent-protocol/openintent/pkg/federation"
	"github.com/openintent-protocol/openintent/pkg/models"
)

// newFederatedServer enables federation with the shared dev secret and an
// open trust policy.
func newFederatedServer(t *testing.T) *Server {
	t.Helper()
	return newTestServer(t, func(cfg *config.Config) {
		cfg.FederationSecret = "shared-dev-secret"
	})
}

func peerEnvelope(t *testing.T, dispatchID string) models.FederationEnvelope {
	t.Helper()
	env := models.FederationEnvelope{
		DispatchID:   dispatchID,
		SourceServer: "http://127.0.0.1:9",
		TargetServer: "http://203.0.113.1:8080",
		IntentID:     "intent-on-peer",
		IntentTitle:  "Delegated work",
		CreatedAt:    time.Now().UTC(),
	}
	peer := federation.NewHMACIdentity("did:web:peer.test", "shared-dev-secret")
	require.NoError(t, federation.SignEnvelope(peer, &env))
	return env
}

func TestFederationRoutesDisabled(t *testing.T) {
	s := newTestServer(t)

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/v1/federation/dispatch"},
		{http.MethodPost, "/api/v1/federation/receive"},
		{http.MethodPost, "/api/v1/federation/callbacks"},
		{http.MethodGet, "/api/v1/federation/dispatches/d-1"},
		{http.MethodGet, "/api/v1/intents/i-1/dispatches"},
		{http.MethodPost, "/api/v1/federation/peers"},
		{http.MethodGet, "/api/v1/federation/peers"},
	}

	for _, r := range routes {
		rec := doJSON(t, s, r.method, r.path, nil, map[string]any{})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "%s %s", r.method, r.path)
		assert.Contains(t, rec.Body.String(), "federation is not configured")
	}
}

func TestFederationReceiveOverHTTP(t *testing.T) {
	s := newFederatedServer(t)

	env := peerEnvelope(t, "disp-http-1")
	rec := doJSON(t, s, http.MethodPost, "/api/v1/federation/receive", nil, env)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp models.ReceiveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Accepted)
	assert.Equal(t, "disp-http-1", resp.DispatchID)
	require.NotEmpty(t, resp.LocalIntentID)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/intents/"+resp.LocalIntentID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	local := decodeIntent(t, rec)
	assert.Equal(t, "Delegated work", local.Title)
	assert.Equal(t, models.StatusActive, local.Status)
}

func TestFederationReceiveRejectsTampering(t *testing.T) {
	s := newFederatedServer(t)

	env := peerEnvelope(t, "disp-http-2")
	env.IntentTitle = "Altered after signing"

	rec := doJSON(t, s, http.MethodPost, "/api/v1/federation/receive", nil, env)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "signature")
}

func TestFederationDispatchValidationOverHTTP(t *testing.T) {
	s := newFederatedServer(t)
	intent := mustCreateIntent(t, s, "planner-1", "outbound work")

	t.Run("loopback target is a 400", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/federation/dispatch",
			map[string]string{"X-Agent-ID": "planner-1"},
			models.DispatchIntentRequest{IntentID: intent.ID, TargetServer: "http://127.0.0.1:9"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "target_server")
	})

	t.Run("unknown intent is a 404", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/federation/dispatch",
			map[string]string{"X-Agent-ID": "planner-1"},
			models.DispatchIntentRequest{IntentID: "missing", TargetServer: "http://203.0.113.9:8080"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestFederationPeersOverHTTP(t *testing.T) {
	s := newFederatedServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/federation/peers", nil,
		models.RegisterPeerRequest{ServerURL: "http://203.0.113.9:8080", ServerDID: "did:web:peer.test"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var peer models.PeerInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &peer))
	assert.Equal(t, "http://203.0.113.9:8080", peer.ServerURL)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/federation/peers", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var peers []*models.PeerInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &peers))
	require.Len(t, peers, 1)
	assert.Equal(t, "did:web:peer.test", peers[0].ServerDID)
}
