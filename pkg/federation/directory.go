package federation

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/openintent-protocol/openintent/pkg/models"
)

// manifestPath is the well-known location of a server's federation manifest.
const manifestPath = "/.well-known/openintent-federation.json"

// Manifest is the federation discovery document a server publishes at
// /.well-known/openintent-federation.json.
type Manifest struct {
	ServerDID   string `json:"server_did"`
	ServerURL   string `json:"server_url"`
	PublicKey   string `json:"public_key,omitempty"`
	SigAlg      string `json:"sig_alg"`
	TrustPolicy string `json:"trust_policy"`
	ReceiveURL  string `json:"receive_url"`
	CallbackURL string `json:"callback_url"`
}

// NewManifest builds this server's manifest from its identity.
func NewManifest(id *Identity, publicURL string, policy models.TrustPolicy) Manifest {
	base := strings.TrimSuffix(publicURL, "/")
	return Manifest{
		ServerDID:   id.DID,
		ServerURL:   publicURL,
		PublicKey:   id.PublicKeyHex(),
		SigAlg:      id.Alg(),
		TrustPolicy: string(policy),
		ReceiveURL:  base + receivePath,
		CallbackURL: base + "/api/v1/federation/callbacks",
	}
}

// KeyDirectory resolves and caches peer verification keys. Keys registered
// alongside a peer take precedence; otherwise the peer's manifest is
// fetched once and cached for the life of the process.
type KeyDirectory struct {
	http   *http.Client
	secret []byte

	mu    sync.RWMutex
	cache map[string]ed25519.PublicKey
}

// NewKeyDirectory creates a directory. hmacSecret, when non-empty, makes
// every resolved key also carry the shared development secret.
func NewKeyDirectory(timeout time.Duration, hmacSecret string) *KeyDirectory {
	d := &KeyDirectory{
		http:  &http.Client{Timeout: timeout},
		cache: map[string]ed25519.PublicKey{},
	}
	if hmacSecret != "" {
		d.secret = []byte(hmacSecret)
	}
	return d
}

// KeyFor returns the verification key for the peer at serverURL.
// registeredKey is the hex public key stored with the peer registration,
// empty when unknown.
func (d *KeyDirectory) KeyFor(ctx context.Context, serverURL, registeredKey string) (PeerKey, error) {
	key := PeerKey{Secret: d.secret}

	if registeredKey != "" {
		pub, err := DecodePublicKey(registeredKey)
		if err != nil {
			return PeerKey{}, fmt.Errorf("registered key for %s: %w", serverURL, err)
		}
		key.Ed25519 = pub
		return key, nil
	}

	d.mu.RLock()
	pub, ok := d.cache[serverURL]
	d.mu.RUnlock()
	if ok {
		key.Ed25519 = pub
		return key, nil
	}

	pub, err := d.fetch(ctx, serverURL)
	if err != nil {
		if len(d.secret) > 0 {
			return key, nil
		}
		return PeerKey{}, err
	}

	d.mu.Lock()
	d.cache[serverURL] = pub
	d.mu.Unlock()
	key.Ed25519 = pub
	return key, nil
}

// Forget drops the cached key for serverURL, forcing a refetch. Used when a
// peer rotates keys.
func (d *KeyDirectory) Forget(serverURL string) {
	d.mu.Lock()
	delete(d.cache, serverURL)
	d.mu.Unlock()
}

func (d *KeyDirectory) fetch(ctx context.Context, serverURL string) (ed25519.PublicKey, error) {
	manifestURL := strings.TrimSuffix(serverURL, "/") + manifestPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch peer manifest from %s: %w", manifestURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("peer manifest at %s returned HTTP %d", manifestURL, resp.StatusCode)
	}

	var m Manifest
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode peer manifest: %w", err)
	}
	if m.PublicKey == "" {
		return nil, fmt.Errorf("peer manifest at %s carries no public key", manifestURL)
	}
	return DecodePublicKey(m.PublicKey)
}

// DecodePublicKey parses a hex-encoded Ed25519 public key.
func DecodePublicKey(hexKey string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("public key is not valid hex: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}
