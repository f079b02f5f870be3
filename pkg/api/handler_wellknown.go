package api

import (
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/openintent-protocol/openintent/pkg/federation"
	"github.com/openintent-protocol/openintent/pkg/models"
)

// protocolVersion is the protocol revision this server speaks.
const protocolVersion = "1.0"

// rfcBaseURL is where the protocol documents live.
const rfcBaseURL = "https://openintent-protocol.github.io/rfcs/"

// protocolRFCs lists the protocol documents this build implements. The
// compat document reports one conformance flag per entry.
var protocolRFCs = []string{
	"OI-CORE",
	"OI-EVENTS",
	"OI-GRAPH",
	"OI-LEASES",
	"OI-GOVERNANCE",
	"OI-ACL",
	"OI-PORTFOLIOS",
	"OI-CHANNELS",
	"OI-SUBSCRIPTIONS",
	"OI-FEDERATION",
}

// protocolDocumentHandler handles GET /.well-known/openintent.json.
func (s *Server) protocolDocumentHandler(c *echo.Context) error {
	urls := make([]string, len(protocolRFCs))
	for i, rfc := range protocolRFCs {
		urls[i] = rfcBaseURL + rfc
	}
	return c.JSON(http.StatusOK, &ProtocolDocument{
		Protocol: "openintent",
		Version:  protocolVersion,
		RFCURLs:  urls,
		Capabilities: []string{
			"intents", "events", "graph", "leases", "governance", "acl",
			"portfolios", "channels", "subscriptions", "sse", "federation",
		},
		OpenAPIURL: s.cfg.PublicURL + "/openapi.json",
	})
}

// compatDocumentHandler handles GET /.well-known/openintent-compat.json.
func (s *Server) compatDocumentHandler(c *echo.Context) error {
	rfcs := make(map[string]bool, len(protocolRFCs))
	for _, rfc := range protocolRFCs {
		rfcs[rfc] = true
	}
	return c.JSON(http.StatusOK, &CompatDocument{
		Protocol: "openintent",
		Version:  protocolVersion,
		RFCs:     rfcs,
	})
}

// federationManifestHandler handles GET
// /.well-known/openintent-federation.json: the identity and trust policy a
// peer needs before dispatching to us.
func (s *Server) federationManifestHandler(c *echo.Context) error {
	if s.identity == nil {
		return echo.NewHTTPError(http.StatusNotFound, "federation is not configured")
	}
	manifest := federation.NewManifest(s.identity, s.cfg.PublicURL, models.TrustPolicy(s.cfg.TrustPolicy))
	return c.JSON(http.StatusOK, manifest)
}

// didDocumentHandler handles GET /.well-known/did.json. The verification
// method is only present for an Ed25519 identity; the HMAC dev fallback has
// no public key to publish.
func (s *Server) didDocumentHandler(c *echo.Context) error {
	did := s.cfg.ServerDID
	doc := map[string]any{
		"@context": []string{"https://www.w3.org/ns/did/v1"},
		"id":       did,
	}
	if s.identity != nil && s.identity.Alg() == models.SigAlgEd25519 {
		doc["verificationMethod"] = []map[string]any{{
			"id":           did + "#key-1",
			"type":         "Ed25519VerificationKey2020",
			"controller":   did,
			"publicKeyHex": s.identity.PublicKeyHex(),
		}}
	}
	return c.JSON(http.StatusOK, doc)
}
