package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/time/rate"

	"github.com/openintent-protocol/openintent/pkg/database"
	"github.com/openintent-protocol/openintent/pkg/events"
	"github.com/openintent-protocol/openintent/pkg/federation"
	"github.com/openintent-protocol/openintent/pkg/models"
)

// callbacksPath is where this server ingests callbacks, relative to its
// public URL. Outbound envelopes default their callback_url to it.
const callbacksPath = "/api/v1/federation/callbacks"

// FederationOptions configures identity, trust and delivery behavior.
type FederationOptions struct {
	Identity   *federation.Identity
	PublicURL  string
	Trust      models.TrustPolicy
	Allowlist  []string
	Timeout    time.Duration
	MaxRetries int
	RateLimit  int    // inbound envelopes per second per source
	HMACSecret string // dev fallback shared secret for peer verification
}

// FederationService owns cross-server dispatch, receive and callbacks.
// Outbound deliveries run in the background with retries; the dispatch row
// records the outcome. Inbound envelopes authenticate by signature and
// trust policy, not by API key, and deduplicate on
// (source_server, idempotency_key) so redelivery is side-effect free.
type FederationService struct {
	db     *database.Client
	events *EventService
	acl    *ACLService
	client *federation.Client
	keys   *federation.KeyDirectory
	opts   FederationOptions

	// deliverBudget bounds one background delivery including all retries.
	deliverBudget time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewFederationService creates a FederationService signing as opts.Identity.
func NewFederationService(db *database.Client, eventSvc *EventService, aclSvc *ACLService, opts FederationOptions) *FederationService {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	// Worst case: every attempt runs to its timeout plus the backoff sleeps
	// between attempts (1+2+4+... seconds).
	budget := opts.Timeout*time.Duration(opts.MaxRetries+1) + time.Second*time.Duration(1<<uint(opts.MaxRetries+1))
	return &FederationService{
		db:            db,
		events:        eventSvc,
		acl:           aclSvc,
		client:        federation.NewClient(opts.Identity, opts.Timeout, opts.MaxRetries),
		keys:          federation.NewKeyDirectory(opts.Timeout, opts.HMACSecret),
		opts:          opts,
		deliverBudget: budget,
		limiters:      make(map[string]*rate.Limiter),
	}
}

// Identity returns the signing identity, for the well-known documents.
func (s *FederationService) Identity() *federation.Identity {
	return s.opts.Identity
}

// Dispatch records an outbound delegation of an intent and delivers the
// signed envelope to the target server in the background. The caller needs
// write permission on the intent. The returned dispatch is "active"; it
// moves to delivered or failed once delivery settles.
func (s *FederationService) Dispatch(ctx context.Context, req models.DispatchIntentRequest, actor string) (*models.DispatchResponse, error) {
	if req.IntentID == "" {
		return nil, NewValidationError("intent_id", "required")
	}
	if req.TargetServer == "" {
		return nil, NewValidationError("target_server", "required")
	}
	if err := federation.CheckURL(req.TargetServer); err != nil {
		return nil, NewValidationError("target_server", err.Error())
	}
	callbackURL := req.CallbackURL
	if callbackURL == "" {
		callbackURL = strings.TrimSuffix(s.opts.PublicURL, "/") + callbacksPath
	} else if err := federation.CheckURL(callbackURL); err != nil {
		return nil, NewValidationError("callback_url", err.Error())
	}
	if req.DelegationScope != nil && req.DelegationScope.MaxDelegationDepth < 0 {
		return nil, NewValidationError("delegation_scope.max_delegation_depth", "must not be negative")
	}

	intent, err := getIntentDB(ctx, s.db, req.IntentID)
	if err != nil {
		return nil, err
	}
	if err := s.acl.Require(ctx, intent, actor, models.PermissionWrite); err != nil {
		return nil, err
	}

	ts := now()
	dispatchID := newID()
	env := &models.FederationEnvelope{
		DispatchID:        dispatchID,
		SourceServer:      s.opts.PublicURL,
		TargetServer:      req.TargetServer,
		IntentID:          intent.ID,
		IntentTitle:       intent.Title,
		IntentDescription: intent.Description,
		IntentState:       intent.State.Clone(),
		IntentConstraints: intent.Constraints.Clone(),
		AgentID:           req.AgentID,
		DelegationScope:   req.DelegationScope,
		FederationPolicy:  req.FederationPolicy,
		TraceContext:      req.TraceContext,
		CallbackURL:       callbackURL,
		IdempotencyKey:    dispatchID,
		CreatedAt:         ts,
	}
	dispatch := &models.FederationDispatch{
		ID:           dispatchID,
		IntentID:     intent.ID,
		TargetServer: req.TargetServer,
		CallbackURL:  callbackURL,
		Status:       models.DispatchActive,
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}

	var ev *models.IntentEvent
	err = inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(
			`INSERT INTO federation_dispatches (id, intent_id, target_server, callback_url,
			                                    status, attempts, last_error, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, 0, '', ?, ?)`),
			dispatch.ID, dispatch.IntentID, dispatch.TargetServer, dispatch.CallbackURL,
			dispatch.Status, dispatch.CreatedAt, dispatch.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert dispatch: %w", err)
		}
		ev, err = s.events.Log(ctx, tx, intent.ID, events.TypeIntentDispatched, actor, models.JSONMap{
			"dispatch_id":   dispatchID,
			"target_server": req.TargetServer,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.events.Emit(ctx, ev)

	go s.deliver(dispatch, env)

	return &models.DispatchResponse{
		DispatchID:   dispatchID,
		IntentID:     intent.ID,
		TargetServer: req.TargetServer,
		Status:       models.DispatchActive,
	}, nil
}

// deliver pushes one envelope with retries and records the outcome. It runs
// detached from the originating request.
func (s *FederationService) deliver(dispatch *models.FederationDispatch, env *models.FederationEnvelope) {
	ctx, cancel := context.WithTimeout(context.Background(), s.deliverBudget)
	defer cancel()

	attempts, sendErr := s.client.SendEnvelope(ctx, dispatch.TargetServer, env)
	status := models.DispatchDelivered
	lastError := ""
	if sendErr != nil {
		status = models.DispatchFailed
		lastError = sendErr.Error()
	}

	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE federation_dispatches SET status = ?, attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`),
		status, attempts, lastError, now(), dispatch.ID)
	if err != nil {
		slog.Error("Failed to record dispatch outcome",
			"dispatch_id", dispatch.ID, "status", status, "error", err)
	}
	if sendErr == nil {
		return
	}

	var ev *models.IntentEvent
	err = inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var e error
		ev, e = s.events.Log(ctx, tx, dispatch.IntentID, events.TypeDispatchFailed, "system", models.JSONMap{
			"dispatch_id":   dispatch.ID,
			"target_server": dispatch.TargetServer,
			"attempts":      attempts,
			"error":         lastError,
		})
		return e
	})
	if err != nil {
		slog.Error("Failed to log dispatch failure", "dispatch_id", dispatch.ID, "error", err)
		return
	}
	s.events.Emit(ctx, ev)
}

// GetDispatch loads one outbound dispatch row.
func (s *FederationService) GetDispatch(ctx context.Context, dispatchID string) (*models.FederationDispatch, error) {
	var dispatch models.FederationDispatch
	err := s.db.GetContext(ctx, &dispatch, s.db.Rebind(
		`SELECT * FROM federation_dispatches WHERE id = ?`), dispatchID)
	if isNoRows(err) {
		return nil, fmt.Errorf("dispatch %s: %w", dispatchID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load dispatch: %w", err)
	}
	return &dispatch, nil
}

// ListDispatches lists outbound dispatches for one intent.
func (s *FederationService) ListDispatches(ctx context.Context, intentID string) ([]*models.FederationDispatch, error) {
	if err := intentExistsDB(ctx, s.db, intentID); err != nil {
		return nil, err
	}
	dispatches := []*models.FederationDispatch{}
	err := s.db.SelectContext(ctx, &dispatches, s.db.Rebind(
		`SELECT * FROM federation_dispatches WHERE intent_id = ? ORDER BY created_at`), intentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list dispatches: %w", err)
	}
	return dispatches, nil
}

// Receive accepts one inbound envelope: rate limit, trust policy, signature,
// budget, then idempotent intent creation. Replays of the same
// (source_server, idempotency_key) return the originally created intent id
// with no new side effects.
func (s *FederationService) Receive(ctx context.Context, env models.FederationEnvelope) (*models.ReceiveResponse, error) {
	if err := env.Validate(); err != nil {
		return nil, NewValidationError("envelope", err.Error())
	}
	if !s.allow(env.SourceServer) {
		return nil, fmt.Errorf("source %s: %w", env.SourceServer, ErrRateLimited)
	}

	peer, err := s.peerByURL(ctx, env.SourceServer)
	if err != nil {
		return nil, err
	}
	var peerDID, registeredKey string
	if peer != nil {
		peerDID = peer.ServerDID
		registeredKey = peer.PublicKey
	}
	if err := federation.Trusted(s.opts.Trust, env.SourceServer, peerDID, s.opts.Allowlist, peer); err != nil {
		return nil, err
	}

	key, err := s.keys.KeyFor(ctx, env.SourceServer, registeredKey)
	if err != nil {
		return nil, fmt.Errorf("%w: no verification key for %s", federation.ErrBadSignature, env.SourceServer)
	}
	if err := federation.VerifyEnvelope(env, key); err != nil {
		return nil, err
	}
	if err := checkDispatchBudget(env.FederationPolicy); err != nil {
		return nil, err
	}

	if receipt, err := s.receiptFor(ctx, env.SourceServer, env.Key()); err != nil {
		return nil, err
	} else if receipt != nil {
		return &models.ReceiveResponse{
			DispatchID:    env.DispatchID,
			Accepted:      true,
			LocalIntentID: receipt.LocalIntentID,
		}, nil
	}

	resp, evs, err := s.acceptEnvelope(ctx, &env)
	if err != nil {
		// A concurrent delivery of the same envelope may have won the
		// receipt's unique constraint; answer with its intent.
		if receipt, rerr := s.receiptFor(ctx, env.SourceServer, env.Key()); rerr == nil && receipt != nil {
			return &models.ReceiveResponse{
				DispatchID:    env.DispatchID,
				Accepted:      true,
				LocalIntentID: receipt.LocalIntentID,
			}, nil
		}
		return nil, err
	}
	s.events.Emit(ctx, evs...)
	if peer != nil {
		s.touchPeer(ctx, peer.ID)
	}
	return resp, nil
}

// acceptEnvelope creates the local intent, its receipt and both lifecycle
// events in one transaction.
func (s *FederationService) acceptEnvelope(ctx context.Context, env *models.FederationEnvelope) (*models.ReceiveResponse, []*models.IntentEvent, error) {
	actor := env.AgentID
	if actor == "" {
		actor = env.SourceServer
	}

	constraints := env.IntentConstraints.Clone()
	meta := models.JSONMap{
		"dispatch_id":   env.DispatchID,
		"source_server": env.SourceServer,
	}
	if env.CallbackURL != "" {
		meta["callback_url"] = env.CallbackURL
	}
	if env.DelegationScope != nil {
		meta["delegation_scope"] = map[string]any{
			"permissions":          []string(env.DelegationScope.Permissions),
			"denied_operations":    []string(env.DelegationScope.DeniedOperations),
			"max_delegation_depth": env.DelegationScope.MaxDelegationDepth,
		}
	}
	if env.FederationPolicy != nil && env.FederationPolicy.Budget != nil {
		meta["budget"] = map[string]any(env.FederationPolicy.Budget)
	}
	constraints["federation"] = map[string]any(meta)

	ts := now()
	intent := &models.Intent{
		ID:               newID(),
		Title:            env.IntentTitle,
		Description:      env.IntentDescription,
		CreatedBy:        actor,
		DependsOn:        models.StringList{},
		Constraints:      constraints,
		State:            env.IntentState.Clone(),
		Status:           models.StatusActive,
		Confidence:       1.0,
		Version:          1,
		GovernancePolicy: models.JSONMap{},
		CreatedAt:        ts,
		UpdatedAt:        ts,
	}

	var created, received *models.IntentEvent
	err := inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(
			`INSERT INTO federation_receipts (id, dispatch_id, source_server, idempotency_key,
			                                  local_intent_id, callback_url, received_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`),
			newID(), env.DispatchID, env.SourceServer, env.Key(), intent.ID, env.CallbackURL, ts)
		if err != nil {
			return fmt.Errorf("failed to insert receipt: %w", err)
		}

		_, err = tx.ExecContext(ctx, tx.Rebind(
			`INSERT INTO intents (id, title, description, created_by, parent_intent_id, depends_on,
			                      constraints, state, status, confidence, version, governance_policy,
			                      created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			intent.ID, intent.Title, intent.Description, intent.CreatedBy, nil,
			intent.DependsOn, intent.Constraints, intent.State, intent.Status,
			intent.Confidence, intent.Version, intent.GovernancePolicy,
			intent.CreatedAt, intent.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert intent: %w", err)
		}

		created, err = s.events.Log(ctx, tx, intent.ID, events.TypeIntentCreated, actor, models.JSONMap{
			"title":  intent.Title,
			"status": string(intent.Status),
		})
		if err != nil {
			return err
		}
		received, err = s.events.Log(ctx, tx, intent.ID, events.TypeIntentReceived, actor, models.JSONMap{
			"dispatch_id":   env.DispatchID,
			"source_server": env.SourceServer,
		})
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	return &models.ReceiveResponse{
		DispatchID:    env.DispatchID,
		Accepted:      true,
		LocalIntentID: intent.ID,
	}, []*models.IntentEvent{created, received}, nil
}

// IngestCallback applies one inbound progress callback to its dispatch.
// Redelivery of the same (dispatch_id, idempotency_key) is a no-op.
func (s *FederationService) IngestCallback(ctx context.Context, cb models.FederationCallback) error {
	if cb.DispatchID == "" {
		return NewValidationError("dispatch_id", "required")
	}
	if err := models.CallbackEventValidator(cb.EventType); err != nil {
		return NewValidationError("event_type", err.Error())
	}

	dispatch, err := s.GetDispatch(ctx, cb.DispatchID)
	if err != nil {
		return err
	}

	// The legitimate sender is the server the dispatch went to.
	source := cb.SourceServer
	if source == "" {
		source = dispatch.TargetServer
	}
	peer, err := s.peerByURL(ctx, source)
	if err != nil {
		return err
	}
	var registeredKey string
	if peer != nil {
		registeredKey = peer.PublicKey
	}
	key, err := s.keys.KeyFor(ctx, source, registeredKey)
	if err != nil {
		return fmt.Errorf("%w: no verification key for %s", federation.ErrBadSignature, source)
	}
	if err := federation.VerifyCallback(cb, key); err != nil {
		return err
	}

	ikey := cb.IdempotencyKey
	if ikey == "" {
		ikey = fmt.Sprintf("%s:%s:%d", cb.DispatchID, cb.EventType, cb.Timestamp.UnixNano())
	}

	ts := now()
	applied := false
	var ev *models.IntentEvent
	err = inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var one int
		err := tx.QueryRowxContext(ctx, tx.Rebind(
			`SELECT 1 FROM callback_receipts WHERE dispatch_id = ? AND idempotency_key = ?`),
			cb.DispatchID, ikey).Scan(&one)
		if err == nil {
			return nil // replay
		}
		if !isNoRows(err) {
			return err
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(
			`INSERT INTO callback_receipts (id, dispatch_id, idempotency_key, received_at)
			 VALUES (?, ?, ?, ?)`),
			newID(), cb.DispatchID, ikey, ts); err != nil {
			return fmt.Errorf("failed to insert callback receipt: %w", err)
		}
		applied = true

		// A callback proves the envelope arrived; terminal callbacks settle
		// the dispatch.
		status := dispatch.Status
		if status == models.DispatchActive {
			status = models.DispatchDelivered
		}
		if cb.EventType == models.CallbackFailed {
			status = models.DispatchFailed
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(
			`UPDATE federation_dispatches SET status = ?, updated_at = ? WHERE id = ?`),
			status, ts, cb.DispatchID); err != nil {
			return fmt.Errorf("failed to update dispatch: %w", err)
		}

		payload := models.JSONMap{
			"dispatch_id": cb.DispatchID,
			"event_type":  string(cb.EventType),
		}
		if len(cb.StateDelta) > 0 {
			payload["state_delta"] = map[string]any(cb.StateDelta)
		}
		if len(cb.Attestation) > 0 {
			payload["attestation"] = map[string]any(cb.Attestation)
		}
		if cb.TraceID != "" {
			payload["trace_id"] = cb.TraceID
		}
		var e error
		ev, e = s.events.Log(ctx, tx, dispatch.IntentID, events.TypeCallbackReceived, source, payload)
		return e
	})
	if err != nil {
		// Concurrent redelivery can lose the unique-constraint race after
		// passing the existence check; treat the settled receipt as success.
		var one int
		cerr := s.db.GetContext(ctx, &one, s.db.Rebind(
			`SELECT 1 FROM callback_receipts WHERE dispatch_id = ? AND idempotency_key = ?`),
			cb.DispatchID, ikey)
		if cerr == nil {
			return nil
		}
		return err
	}
	if applied {
		s.events.Emit(ctx, ev)
	}
	return nil
}

// NotifyEvent sends progress callbacks to the source of a federated intent.
// Only intents created through Receive carry the federation metadata that
// routes these; everything else returns immediately. Delivery failures are
// logged and dropped — the source can poll its dispatch row.
func (s *FederationService) NotifyEvent(ev *models.IntentEvent) {
	switch ev.EventType {
	case events.TypeStatusChanged, events.TypeStatePatched:
	default:
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.deliverBudget)
	defer cancel()

	intent, err := getIntentDB(ctx, s.db, ev.IntentID)
	if err != nil {
		return
	}
	meta, ok := intent.Constraints["federation"].(map[string]any)
	if !ok {
		return
	}
	dispatchID, _ := meta["dispatch_id"].(string)
	callbackURL, _ := meta["callback_url"].(string)
	if dispatchID == "" || callbackURL == "" {
		return
	}

	cb := &models.FederationCallback{
		DispatchID:     dispatchID,
		EventType:      models.CallbackStatusChanged,
		SourceServer:   s.opts.PublicURL,
		IdempotencyKey: fmt.Sprintf("%s:%d", dispatchID, ev.ID),
		Timestamp:      now(),
	}
	switch ev.EventType {
	case events.TypeStatePatched:
		cb.EventType = models.CallbackStateDelta
		cb.StateDelta = ev.Payload
	case events.TypeStatusChanged:
		switch status, _ := ev.Payload["to"].(string); models.IntentStatus(status) {
		case models.StatusCompleted:
			cb.EventType = models.CallbackCompleted
		case models.StatusAbandoned:
			cb.EventType = models.CallbackFailed
		}
	}

	if _, err := s.client.SendCallback(ctx, callbackURL, cb); err != nil {
		slog.Warn("Federation callback delivery failed",
			"dispatch_id", dispatchID, "callback_url", callbackURL, "error", err)
	}
}

// RegisterPeer upserts a peer by server URL. Cached verification keys for
// the URL are forgotten so the next envelope re-resolves them.
func (s *FederationService) RegisterPeer(ctx context.Context, req models.RegisterPeerRequest) (*models.PeerInfo, error) {
	if req.ServerURL == "" {
		return nil, NewValidationError("server_url", "required")
	}
	if err := federation.CheckURL(req.ServerURL); err != nil {
		return nil, NewValidationError("server_url", err.Error())
	}
	trust := req.TrustPolicy
	if trust == "" {
		trust = models.TrustAllowlist
	}
	if err := models.TrustPolicyValidator(trust); err != nil {
		return nil, NewValidationError("trust_policy", err.Error())
	}
	if req.PublicKey != "" {
		if _, err := federation.DecodePublicKey(req.PublicKey); err != nil {
			return nil, NewValidationError("public_key", err.Error())
		}
	}

	serverURL := strings.TrimSuffix(req.ServerURL, "/")
	ts := now()
	peer := &models.PeerInfo{
		ID:           newID(),
		ServerURL:    serverURL,
		ServerDID:    req.ServerDID,
		Relationship: req.Relationship,
		TrustPolicy:  trust,
		PublicKey:    req.PublicKey,
		CreatedAt:    ts,
	}

	err := inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var existing models.PeerInfo
		err := tx.GetContext(ctx, &existing, tx.Rebind(
			`SELECT * FROM federation_peers WHERE server_url = ?`), serverURL)
		if err == nil {
			peer.ID = existing.ID
			peer.CreatedAt = existing.CreatedAt
			peer.LastSeenAt = existing.LastSeenAt
			_, err = tx.ExecContext(ctx, tx.Rebind(
				`UPDATE federation_peers SET server_did = ?, relationship = ?, trust_policy = ?, public_key = ?
				 WHERE id = ?`),
				peer.ServerDID, peer.Relationship, peer.TrustPolicy, peer.PublicKey, peer.ID)
			return err
		}
		if !isNoRows(err) {
			return err
		}
		_, err = tx.ExecContext(ctx, tx.Rebind(
			`INSERT INTO federation_peers (id, server_url, server_did, relationship, trust_policy,
			                               public_key, last_seen_at, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, NULL, ?)`),
			peer.ID, peer.ServerURL, peer.ServerDID, peer.Relationship, peer.TrustPolicy,
			peer.PublicKey, peer.CreatedAt)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register peer: %w", err)
	}

	s.keys.Forget(serverURL)
	return peer, nil
}

// ListPeers lists all registered peers.
func (s *FederationService) ListPeers(ctx context.Context) ([]*models.PeerInfo, error) {
	peers := []*models.PeerInfo{}
	err := s.db.SelectContext(ctx, &peers,
		`SELECT * FROM federation_peers ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list peers: %w", err)
	}
	return peers, nil
}

// peerByURL loads a registered peer, nil when the source is unknown.
func (s *FederationService) peerByURL(ctx context.Context, serverURL string) (*models.PeerInfo, error) {
	var peer models.PeerInfo
	err := s.db.GetContext(ctx, &peer, s.db.Rebind(
		`SELECT * FROM federation_peers WHERE server_url = ?`),
		strings.TrimSuffix(serverURL, "/"))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load peer: %w", err)
	}
	return &peer, nil
}

func (s *FederationService) touchPeer(ctx context.Context, peerID string) {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE federation_peers SET last_seen_at = ? WHERE id = ?`), now(), peerID)
	if err != nil {
		slog.Warn("Failed to update peer last_seen_at", "peer_id", peerID, "error", err)
	}
}

// allow applies the per-source inbound rate limit.
func (s *FederationService) allow(source string) bool {
	if s.opts.RateLimit <= 0 {
		return true
	}
	s.mu.Lock()
	lim, ok := s.limiters[source]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(s.opts.RateLimit), s.opts.RateLimit)
		s.limiters[source] = lim
	}
	s.mu.Unlock()
	return lim.Allow()
}

// checkDispatchBudget rejects envelopes whose declared budget buys no work.
// An absent budget is unconstrained; a present key with a zero or negative
// value is an exhausted grant.
func checkDispatchBudget(p *models.FederationPolicy) error {
	if p == nil || p.Budget == nil {
		return nil
	}
	for _, key := range []string{"max_llm_tokens", "cost_ceiling_usd"} {
		v, ok := p.Budget[key]
		if !ok {
			continue
		}
		f, ok := budgetValue(v)
		if !ok {
			return NewValidationError("federation_policy.budget", key+" must be a number")
		}
		if f <= 0 {
			return NewValidationError("federation_policy.budget", key+" must be positive")
		}
	}
	return nil
}

func budgetValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// receiptFor loads the receipt for (source, key), nil when unseen.
func (s *FederationService) receiptFor(ctx context.Context, source, key string) (*models.FederationReceipt, error) {
	var receipt models.FederationReceipt
	err := s.db.GetContext(ctx, &receipt, s.db.Rebind(
		`SELECT * FROM federation_receipts WHERE source_server = ? AND idempotency_key = ?`),
		source, key)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load receipt: %w", err)
	}
	return &receipt, nil
}
