package federation

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openintent-protocol/openintent/pkg/models"
)

func TestDelegationTokenRoundTrip(t *testing.T) {
	id := NewHMACIdentity("did:web:dev.test", "shared")
	parent := models.DelegationScope{
		Permissions:        models.StringList{"read", "patch_state", "set_status"},
		MaxDelegationDepth: 3,
	}
	requested := models.DelegationScope{
		Permissions:        models.StringList{"patch_state", "delegate"},
		MaxDelegationDepth: 5,
	}

	token, err := BuildDelegationToken(id, parent, requested, "disp-1", "did:web:peer.test")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := VerifyDelegationToken(token, id.Verifier())
	require.NoError(t, err)
	assert.Equal(t, "disp-1", claims.DispatchID)
	assert.Equal(t, "did:web:dev.test", claims.Issuer)
	assert.Contains(t, claims.Audience, "did:web:peer.test")
	assert.Equal(t, models.StringList{"patch_state"}, claims.Scope.Permissions, "attenuated to the intersection")
	assert.Equal(t, 2, claims.Scope.MaxDelegationDepth, "depth decrements on every hop")
}

func TestDelegationTokenEd25519(t *testing.T) {
	id := testIdentity(t)
	parent := models.DelegationScope{Permissions: models.StringList{"read"}, MaxDelegationDepth: 1}

	token, err := BuildDelegationToken(id, parent, parent, "disp-2", "did:web:peer.test")
	require.NoError(t, err)

	claims, err := VerifyDelegationToken(token, id.Verifier())
	require.NoError(t, err)
	assert.Equal(t, 0, claims.Scope.MaxDelegationDepth)

	_, err = VerifyDelegationToken(token, PeerKey{Secret: []byte("irrelevant")})
	assert.Error(t, err, "ed25519 token does not verify without the public key")
}

func TestDelegationTokenExhausted(t *testing.T) {
	id := NewHMACIdentity("did:web:dev.test", "shared")
	spent := models.DelegationScope{Permissions: models.StringList{"read"}, MaxDelegationDepth: 0}

	_, err := BuildDelegationToken(id, spent, spent, "disp-3", "did:web:peer.test")
	assert.ErrorIs(t, err, ErrDelegationExhausted)
}

func TestDelegationTokenWrongSecret(t *testing.T) {
	id := NewHMACIdentity("did:web:dev.test", "shared")
	parent := models.DelegationScope{Permissions: models.StringList{"read"}, MaxDelegationDepth: 2}

	token, err := BuildDelegationToken(id, parent, parent, "disp-4", "did:web:peer.test")
	require.NoError(t, err)

	_, err = VerifyDelegationToken(token, PeerKey{Secret: []byte("different")})
	assert.Error(t, err)
}

func TestDelegationTokenExpired(t *testing.T) {
	id := NewHMACIdentity("did:web:dev.test", "shared")
	past := time.Now().UTC().Add(-time.Minute)
	parent := models.DelegationScope{
		Permissions:        models.StringList{"read"},
		MaxDelegationDepth: 2,
		ExpiresAt:          &past,
	}

	token, err := BuildDelegationToken(id, parent, parent, "disp-5", "did:web:peer.test")
	require.NoError(t, err)

	_, err = VerifyDelegationToken(token, id.Verifier())
	require.Error(t, err)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}
