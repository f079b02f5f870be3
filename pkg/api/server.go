// Package api is the HTTP surface of the server: REST handlers for intents
// and their sub-resources, SSE streaming, discovery documents and the
// federation ingress, built on echo.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/openintent-protocol/openintent/pkg/config"
	"github.com/openintent-protocol/openintent/pkg/database"
	"github.com/openintent-protocol/openintent/pkg/events"
	"github.com/openintent-protocol/openintent/pkg/federation"
	"github.com/openintent-protocol/openintent/pkg/services"
)

// Server wires the echo router to the service layer and owns the underlying
// http.Server lifecycle.
type Server struct {
	cfg      config.Config
	echo     *echo.Echo
	http     *http.Server
	db       *database.Client
	services *services.Services
	hub      *events.Hub
	identity *federation.Identity
}

// NewServer builds the router with all middleware and routes registered.
// identity may be nil when federation is disabled; the federation routes
// then answer 503.
func NewServer(cfg config.Config, db *database.Client, svcs *services.Services, hub *events.Hub, identity *federation.Identity) *Server {
	e := echo.New()

	s := &Server{
		cfg:      cfg,
		echo:     e,
		db:       db,
		services: svcs,
		hub:      hub,
		identity: identity,
	}
	s.http = &http.Server{
		Handler: e,
		// No WriteTimeout: SSE streams stay open indefinitely.
		ReadHeaderTimeout: 10 * time.Second,
	}

	e.Use(securityHeaders())
	e.Use(requestLogger())
	e.Use(s.apiKeyAuth())

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	e := s.echo

	// Health and discovery.
	e.GET("/health", s.healthHandler)
	e.GET("/.well-known/openintent.json", s.protocolDocumentHandler)
	e.GET("/.well-known/openintent-compat.json", s.compatDocumentHandler)
	e.GET("/.well-known/openintent-federation.json", s.federationManifestHandler)
	e.GET("/.well-known/did.json", s.didDocumentHandler)

	// Intent lifecycle.
	e.POST("/api/v1/intents", s.createIntentHandler)
	e.GET("/api/v1/intents", s.listIntentsHandler)
	e.GET("/api/v1/intents/:id", s.getIntentHandler)
	e.POST("/api/v1/intents/:id/state", s.patchStateHandler)
	e.POST("/api/v1/intents/:id/status", s.setStatusHandler)
	e.POST("/api/v1/intents/:id/children", s.createChildHandler)

	// Graph views.
	e.GET("/api/v1/intents/:id/children", s.graphViewHandler(s.services.Graph.Children))
	e.GET("/api/v1/intents/:id/descendants", s.graphViewHandler(s.services.Graph.Descendants))
	e.GET("/api/v1/intents/:id/ancestors", s.graphViewHandler(s.services.Graph.Ancestors))
	e.GET("/api/v1/intents/:id/dependencies", s.graphViewHandler(s.services.Graph.Dependencies))
	e.GET("/api/v1/intents/:id/dependents", s.graphViewHandler(s.services.Graph.Dependents))
	e.GET("/api/v1/intents/:id/ready", s.graphViewHandler(s.services.Graph.Ready))
	e.GET("/api/v1/intents/:id/blocked", s.graphViewHandler(s.services.Graph.Blocked))
	e.GET("/api/v1/intents/:id/graph", s.intentGraphHandler)
	e.POST("/api/v1/intents/:id/dependencies", s.addDependencyHandler)
	e.DELETE("/api/v1/intents/:id/dependencies/:dep", s.removeDependencyHandler)

	// Event log.
	e.GET("/api/v1/intents/:id/events", s.listEventsHandler)
	e.POST("/api/v1/intents/:id/events", s.appendEventHandler)

	// Agent assignments.
	e.GET("/api/v1/intents/:id/agents", s.listAgentsHandler)
	e.POST("/api/v1/intents/:id/agents", s.assignAgentHandler)
	e.DELETE("/api/v1/intents/:id/agents/:agent", s.unassignAgentHandler)

	// Leases.
	e.GET("/api/v1/intents/:id/leases", s.listLeasesHandler)
	e.POST("/api/v1/intents/:id/leases", s.acquireLeaseHandler)
	e.PATCH("/api/v1/intents/:id/leases/:lease", s.renewLeaseHandler)
	e.DELETE("/api/v1/intents/:id/leases/:lease", s.releaseLeaseHandler)

	// Governance.
	e.GET("/api/v1/intents/:id/governance", s.getPolicyHandler)
	e.PUT("/api/v1/intents/:id/governance", s.putPolicyHandler)
	e.POST("/api/v1/intents/:id/approvals", s.createApprovalHandler)
	e.GET("/api/v1/intents/:id/approvals", s.listApprovalsHandler)
	e.POST("/api/v1/intents/:id/approvals/:approval/approve", s.approveApprovalHandler)
	e.POST("/api/v1/intents/:id/approvals/:approval/deny", s.denyApprovalHandler)

	// Access control.
	e.GET("/api/v1/intents/:id/acl", s.getACLHandler)
	e.PUT("/api/v1/intents/:id/acl", s.putACLHandler)
	e.POST("/api/v1/intents/:id/acl/entries", s.grantACLHandler)
	e.DELETE("/api/v1/intents/:id/acl/entries/:entry", s.revokeACLHandler)
	e.POST("/api/v1/intents/:id/access-requests", s.createAccessRequestHandler)
	e.GET("/api/v1/intents/:id/access-requests", s.listAccessRequestsHandler)
	e.POST("/api/v1/intents/:id/access-requests/:request/approve", s.approveAccessRequestHandler)
	e.POST("/api/v1/intents/:id/access-requests/:request/deny", s.denyAccessRequestHandler)

	// Work records.
	e.POST("/api/v1/intents/:id/attachments", s.addAttachmentHandler)
	e.GET("/api/v1/intents/:id/attachments", s.listAttachmentsHandler)
	e.POST("/api/v1/intents/:id/costs", s.recordCostHandler)
	e.GET("/api/v1/intents/:id/costs", s.listCostsHandler)
	e.POST("/api/v1/intents/:id/failures", s.recordFailureHandler)
	e.GET("/api/v1/intents/:id/failures", s.listFailuresHandler)
	e.PUT("/api/v1/intents/:id/retry-policy", s.putRetryPolicyHandler)
	e.GET("/api/v1/intents/:id/retry-policy", s.getRetryPolicyHandler)

	// Portfolios.
	e.POST("/api/v1/portfolios", s.createPortfolioHandler)
	e.GET("/api/v1/portfolios", s.listPortfoliosHandler)
	e.GET("/api/v1/portfolios/:id", s.getPortfolioHandler)
	e.PATCH("/api/v1/portfolios/:id", s.updatePortfolioHandler)
	e.DELETE("/api/v1/portfolios/:id", s.deletePortfolioHandler)
	e.POST("/api/v1/portfolios/:id/intents", s.addPortfolioIntentHandler)
	e.GET("/api/v1/portfolios/:id/intents", s.portfolioIntentsHandler)
	e.DELETE("/api/v1/portfolios/:id/intents/:intent", s.removePortfolioIntentHandler)

	// Channels and messaging.
	e.POST("/api/v1/intents/:id/channels", s.createChannelHandler)
	e.GET("/api/v1/intents/:id/channels", s.listChannelsHandler)
	e.GET("/api/v1/channels/:id", s.getChannelHandler)
	e.POST("/api/v1/channels/:id/close", s.closeChannelHandler)
	e.POST("/api/v1/channels/:id/messages", s.sendMessageHandler)
	e.GET("/api/v1/channels/:id/messages", s.listMessagesHandler)
	e.POST("/api/v1/channels/:id/messages/:message/reply", s.replyMessageHandler)

	// Durable subscriptions.
	e.POST("/api/v1/intents/:id/subscriptions", s.createSubscriptionHandler)
	e.GET("/api/v1/intents/:id/subscriptions", s.listSubscriptionsHandler)
	e.DELETE("/api/v1/intents/:id/subscriptions/:subscription", s.deleteSubscriptionHandler)

	// SSE streams.
	e.GET("/api/v1/subscribe/intents/:id", s.subscribeIntentHandler)
	e.GET("/api/v1/subscribe/portfolios/:id", s.subscribePortfolioHandler)
	e.GET("/api/v1/subscribe/agents/:id", s.subscribeAgentHandler)

	// Federation.
	e.POST("/api/v1/federation/dispatch", s.dispatchIntentHandler)
	e.POST("/api/v1/federation/receive", s.receiveEnvelopeHandler)
	e.POST("/api/v1/federation/callbacks", s.federationCallbackHandler)
	e.GET("/api/v1/federation/dispatches/:id", s.getDispatchHandler)
	e.GET("/api/v1/intents/:id/dispatches", s.listDispatchesHandler)
	e.POST("/api/v1/federation/peers", s.registerPeerHandler)
	e.GET("/api/v1/federation/peers", s.listPeersHandler)
}

// Start begins serving on addr and blocks until the listener closes.
func (s *Server) Start(addr string) error {
	s.http.Addr = addr
	return s.http.ListenAndServe()
}

// Shutdown stops accepting connections and drains in-flight requests until
// ctx expires. Open SSE streams end when their clients observe the close.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
