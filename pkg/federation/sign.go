package federation

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/openintent-protocol/openintent/pkg/models"
)

// ErrBadSignature is returned when an envelope or callback fails
// verification: missing, malformed, or not matching the source's key.
var ErrBadSignature = errors.New("signature verification failed")

// PeerKey bundles the key material available to verify one peer. Ed25519 is
// used for native signatures, Secret for the HMAC development fallback.
type PeerKey struct {
	Ed25519 ed25519.PublicKey
	Secret  []byte
}

// canonicalize serializes v to RFC 8785 canonical JSON: keys sorted, no
// insignificant whitespace, numbers normalized. Both sides of a federation
// exchange must produce identical bytes for the same envelope.
func canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}
	return out, nil
}

// SignEnvelope signs env in place: SigAlg is set to the identity's
// algorithm and Signature to the hex signature over the canonical form with
// the signature field excluded.
func SignEnvelope(id *Identity, env *models.FederationEnvelope) error {
	env.Signature = ""
	env.SigAlg = id.Alg()
	data, err := canonicalize(env)
	if err != nil {
		return err
	}
	env.Signature = id.sign(data)
	return nil
}

// VerifyEnvelope checks env's signature against the source's key. The
// envelope is taken by value so clearing the signature for canonicalization
// never mutates the caller's copy.
func VerifyEnvelope(env models.FederationEnvelope, key PeerKey) error {
	sig := env.Signature
	env.Signature = ""
	data, err := canonicalize(&env)
	if err != nil {
		return err
	}
	return verify(env.SigAlg, data, sig, key)
}

// SignCallback signs cb in place, same scheme as SignEnvelope.
func SignCallback(id *Identity, cb *models.FederationCallback) error {
	cb.Signature = ""
	cb.SigAlg = id.Alg()
	data, err := canonicalize(cb)
	if err != nil {
		return err
	}
	cb.Signature = id.sign(data)
	return nil
}

// VerifyCallback checks cb's signature against the sender's key.
func VerifyCallback(cb models.FederationCallback, key PeerKey) error {
	sig := cb.Signature
	cb.Signature = ""
	data, err := canonicalize(&cb)
	if err != nil {
		return err
	}
	return verify(cb.SigAlg, data, sig, key)
}

func verify(alg string, data []byte, sigHex string, key PeerKey) error {
	if sigHex == "" {
		return fmt.Errorf("%w: payload is unsigned", ErrBadSignature)
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return fmt.Errorf("%w: signature is not valid hex", ErrBadSignature)
	}

	switch alg {
	case models.SigAlgEd25519, "":
		if len(key.Ed25519) != ed25519.PublicKeySize {
			return fmt.Errorf("%w: no public key known for source", ErrBadSignature)
		}
		if !ed25519.Verify(key.Ed25519, data, sig) {
			return ErrBadSignature
		}
	case models.SigAlgHMAC256:
		if len(key.Secret) == 0 {
			return fmt.Errorf("%w: hmac payload but no shared secret configured", ErrBadSignature)
		}
		mac := hmac.New(sha256.New, key.Secret)
		mac.Write(data)
		if !hmac.Equal(mac.Sum(nil), sig) {
			return ErrBadSignature
		}
	default:
		return fmt.Errorf("%w: unsupported sig_alg %q", ErrBadSignature, alg)
	}
	return nil
}
