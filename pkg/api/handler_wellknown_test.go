package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openintent-protocol/openintent/pkg/config"
	"github.com/openintent-protocol/openintent/pkg/federation"
)

func TestProtocolDocument(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/.well-known/openintent.json", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var doc ProtocolDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "openintent", doc.Protocol)
	assert.Equal(t, "1.0", doc.Version)
	assert.Equal(t, "http://203.0.113.1:8080/openapi.json", doc.OpenAPIURL)
	assert.Contains(t, doc.Capabilities, "intents")
	assert.Contains(t, doc.Capabilities, "sse")
	assert.Contains(t, doc.Capabilities, "federation")

	require.Len(t, doc.RFCURLs, len(protocolRFCs))
	for _, u := range doc.RFCURLs {
		assert.True(t, strings.HasPrefix(u, rfcBaseURL), u)
	}
}

func TestCompatDocument(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/.well-known/openintent-compat.json", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var doc CompatDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "openintent", doc.Protocol)
	require.Len(t, doc.RFCs, len(protocolRFCs))
	for _, rfc := range protocolRFCs {
		assert.True(t, doc.RFCs[rfc], rfc)
	}
}

func TestFederationManifestEndpoint(t *testing.T) {
	t.Run("404 when federation is not configured", func(t *testing.T) {
		s := newTestServer(t)
		rec := doJSON(t, s, http.MethodGet, "/.well-known/openintent-federation.json", nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("publishes identity and endpoints", func(t *testing.T) {
		s := newTestServer(t, func(cfg *config.Config) {
			cfg.FederationSecret = "shared-dev-secret"
		})
		rec := doJSON(t, s, http.MethodGet, "/.well-known/openintent-federation.json", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var m federation.Manifest
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
		assert.Equal(t, "did:web:203.0.113.1%3A8080", m.ServerDID)
		assert.Equal(t, "hmac-sha256", m.SigAlg)
		assert.Equal(t, "open", m.TrustPolicy)
		assert.Equal(t, "http://203.0.113.1:8080/api/v1/federation/receive", m.ReceiveURL)
		assert.Equal(t, "http://203.0.113.1:8080/api/v1/federation/callbacks", m.CallbackURL)
	})
}

func TestDIDDocument(t *testing.T) {
	t.Run("hmac identity publishes no verification method", func(t *testing.T) {
		s := newTestServer(t, func(cfg *config.Config) {
			cfg.FederationSecret = "shared-dev-secret"
		})
		rec := doJSON(t, s, http.MethodGet, "/.well-known/did.json", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var doc map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
		assert.Equal(t, "did:web:203.0.113.1%3A8080", doc["id"])
		assert.NotContains(t, doc, "verificationMethod")
	})

	t.Run("ed25519 identity publishes its public key", func(t *testing.T) {
		id, err := federation.LoadOrGenerate(filepath.Join(t.TempDir(), "key"), "did:web:ed.test")
		require.NoError(t, err)
		s := &Server{cfg: config.Config{ServerDID: "did:web:ed.test"}, identity: id}

		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/.well-known/did.json", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		require.NoError(t, s.didDocumentHandler(c))

		var doc map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
		assert.Equal(t, "did:web:ed.test", doc["id"])

		methods, ok := doc["verificationMethod"].([]any)
		require.True(t, ok, "expected a verificationMethod list, got %T", doc["verificationMethod"])
		require.Len(t, methods, 1)
		method := methods[0].(map[string]any)
		assert.Equal(t, "did:web:ed.test#key-1", method["id"])
		assert.Equal(t, "Ed25519VerificationKey2020", method["type"])
		assert.Equal(t, id.PublicKeyHex(), method["publicKeyHex"])
	})
}
