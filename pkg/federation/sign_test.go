package federation

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openintent-protocol/openintent/pkg/models"
)

func testIdentity(t *testing.T) *Identity {
	t.Helper()
	id, err := LoadOrGenerate(filepath.Join(t.TempDir(), "key"), "did:web:signer.test")
	require.NoError(t, err)
	return id
}

func sampleEnvelope() models.FederationEnvelope {
	return models.FederationEnvelope{
		DispatchID:   "d1",
		SourceServer: "https://203.0.113.5:8443",
		TargetServer: "https://203.0.113.6:8443",
		IntentID:     "i1",
		IntentTitle:  "Delegated work",
		IntentState:  models.JSONMap{"phase": "pending", "budget": 3.5},
		CreatedAt:    time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
	}
}

func TestSignAndVerifyEnvelope(t *testing.T) {
	id := testIdentity(t)

	env := sampleEnvelope()
	require.NoError(t, SignEnvelope(id, &env))
	assert.Equal(t, models.SigAlgEd25519, env.SigAlg)
	require.NotEmpty(t, env.Signature)

	assert.NoError(t, VerifyEnvelope(env, id.Verifier()))

	// Canonicalization is deterministic, so re-signing reproduces the
	// signature byte for byte.
	again := sampleEnvelope()
	require.NoError(t, SignEnvelope(id, &again))
	assert.Equal(t, env.Signature, again.Signature)
}

func TestVerifyEnvelopeRejectsTampering(t *testing.T) {
	id := testIdentity(t)
	env := sampleEnvelope()
	require.NoError(t, SignEnvelope(id, &env))

	env.IntentTitle = "Something else entirely"
	assert.ErrorIs(t, VerifyEnvelope(env, id.Verifier()), ErrBadSignature)
}

func TestVerifyEnvelopeRejectsWrongKey(t *testing.T) {
	signer := testIdentity(t)
	other := testIdentity(t)
	env := sampleEnvelope()
	require.NoError(t, SignEnvelope(signer, &env))

	assert.ErrorIs(t, VerifyEnvelope(env, other.Verifier()), ErrBadSignature)
}

func TestVerifyEnvelopeRejectsMalformedSignatures(t *testing.T) {
	id := testIdentity(t)

	t.Run("unsigned", func(t *testing.T) {
		env := sampleEnvelope()
		err := VerifyEnvelope(env, id.Verifier())
		require.ErrorIs(t, err, ErrBadSignature)
		assert.Contains(t, err.Error(), "unsigned")
	})

	t.Run("not hex", func(t *testing.T) {
		env := sampleEnvelope()
		require.NoError(t, SignEnvelope(id, &env))
		env.Signature = "zz" + env.Signature[2:]
		err := VerifyEnvelope(env, id.Verifier())
		require.ErrorIs(t, err, ErrBadSignature)
		assert.Contains(t, err.Error(), "not valid hex")
	})

	t.Run("unsupported algorithm", func(t *testing.T) {
		env := sampleEnvelope()
		require.NoError(t, SignEnvelope(id, &env))
		env.SigAlg = "rsa-pss"
		err := VerifyEnvelope(env, id.Verifier())
		require.ErrorIs(t, err, ErrBadSignature)
		assert.Contains(t, err.Error(), `unsupported sig_alg "rsa-pss"`)
	})
}

func TestSignAndVerifyEnvelopeHMAC(t *testing.T) {
	id := NewHMACIdentity("did:web:dev.test", "shared")

	env := sampleEnvelope()
	require.NoError(t, SignEnvelope(id, &env))
	assert.Equal(t, models.SigAlgHMAC256, env.SigAlg)

	assert.NoError(t, VerifyEnvelope(env, PeerKey{Secret: []byte("shared")}))
	assert.ErrorIs(t, VerifyEnvelope(env, PeerKey{Secret: []byte("different")}), ErrBadSignature)

	err := VerifyEnvelope(env, PeerKey{})
	require.ErrorIs(t, err, ErrBadSignature)
	assert.Contains(t, err.Error(), "no shared secret configured")
}

func TestSignAndVerifyCallback(t *testing.T) {
	id := testIdentity(t)

	cb := models.FederationCallback{
		DispatchID: "d1",
		EventType:  models.CallbackCompleted,
		StateDelta: models.JSONMap{"phase": "done"},
		Timestamp:  time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}
	require.NoError(t, SignCallback(id, &cb))
	assert.Equal(t, models.SigAlgEd25519, cb.SigAlg)

	assert.NoError(t, VerifyCallback(cb, id.Verifier()))

	cb.EventType = models.CallbackFailed
	assert.ErrorIs(t, VerifyCallback(cb, id.Verifier()), ErrBadSignature)
}
