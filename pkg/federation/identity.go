// Package federation implements cross-server intent delegation: server
// identity, canonical envelope signing, trust evaluation, SSRF guarding,
// and signed delivery with retries. The relational bookkeeping (dispatch
// rows, receipts, peers) lives in the services layer; this package holds
// the protocol primitives.
package federation

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/openintent-protocol/openintent/pkg/models"
)

// Identity is the server's signing identity. Ed25519 is the native mode;
// the symmetric secret enables the development-only HMAC fallback, which
// interoperates only with peers sharing the same secret.
type Identity struct {
	DID    string
	priv   ed25519.PrivateKey
	pub    ed25519.PublicKey
	secret []byte
}

// LoadOrGenerate returns the server's Ed25519 identity. The key file holds
// the hex-encoded 32-byte seed; when it does not exist, a fresh keypair is
// generated and persisted there with mode 0600.
func LoadOrGenerate(path, did string) (*Identity, error) {
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		seed, err := hex.DecodeString(strings.TrimSpace(string(raw)))
		if err != nil {
			return nil, fmt.Errorf("decode key file %s: %w", path, err)
		}
		if len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("key file %s: expected %d-byte seed, got %d bytes", path, ed25519.SeedSize, len(seed))
		}
		priv := ed25519.NewKeyFromSeed(seed)
		return &Identity{DID: did, priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil

	case errors.Is(err, os.ErrNotExist):
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate federation key: %w", err)
		}
		seedHex := hex.EncodeToString(priv.Seed())
		if err := os.WriteFile(path, []byte(seedHex+"\n"), 0o600); err != nil {
			return nil, fmt.Errorf("persist federation key to %s: %w", path, err)
		}
		slog.Info("Generated federation signing key", "path", path, "did", did)
		return &Identity{DID: did, priv: priv, pub: pub}, nil

	default:
		return nil, fmt.Errorf("read key file %s: %w", path, err)
	}
}

// NewHMACIdentity builds the development-only symmetric identity.
func NewHMACIdentity(did, secret string) *Identity {
	return &Identity{DID: did, secret: []byte(secret)}
}

// Alg returns the signature algorithm identifier this identity signs with.
func (id *Identity) Alg() string {
	if len(id.secret) > 0 {
		return models.SigAlgHMAC256
	}
	return models.SigAlgEd25519
}

// PublicKeyHex returns the hex-encoded Ed25519 public key, or the empty
// string in HMAC mode.
func (id *Identity) PublicKeyHex() string {
	if len(id.pub) == 0 {
		return ""
	}
	return hex.EncodeToString(id.pub)
}

// Verifier returns the key material that verifies this identity's own
// signatures.
func (id *Identity) Verifier() PeerKey {
	return PeerKey{Ed25519: id.pub, Secret: id.secret}
}

func (id *Identity) sign(data []byte) string {
	if len(id.secret) > 0 {
		mac := hmac.New(sha256.New, id.secret)
		mac.Write(data)
		return hex.EncodeToString(mac.Sum(nil))
	}
	return hex.EncodeToString(ed25519.Sign(id.priv, data))
}
