package federation

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/openintent-protocol/openintent/pkg/models"
)

// ErrDelegationExhausted is returned when a chain has no remaining depth.
var ErrDelegationExhausted = errors.New("delegation depth exhausted")

// DelegationClaims is the claim set of a delegation token: the attenuated
// scope bound to one dispatch, issued by the delegating server's DID.
type DelegationClaims struct {
	jwt.RegisteredClaims
	DispatchID string                 `json:"dispatch_id"`
	Scope      models.DelegationScope `json:"scope"`
}

// BuildDelegationToken mints a token proving that requested was attenuated
// from parent. The resulting scope is never wider than the parent's and its
// depth decrements by one; a parent with no remaining depth cannot
// re-delegate at all.
func BuildDelegationToken(id *Identity, parent, requested models.DelegationScope, dispatchID, audience string) (string, error) {
	if parent.MaxDelegationDepth <= 0 {
		return "", ErrDelegationExhausted
	}
	scope := parent.Attenuate(requested)

	now := time.Now().UTC()
	claims := DelegationClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       dispatchID,
			Subject:  dispatchID,
			Issuer:   id.DID,
			Audience: jwt.ClaimStrings{audience},
			IssuedAt: jwt.NewNumericDate(now),
		},
		DispatchID: dispatchID,
		Scope:      scope,
	}
	if scope.ExpiresAt != nil {
		claims.ExpiresAt = jwt.NewNumericDate(*scope.ExpiresAt)
	}

	if len(id.secret) > 0 {
		return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(id.secret)
	}
	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(id.priv)
}

// VerifyDelegationToken parses tokenString against the issuer's key and
// rejects expired tokens and exhausted chains.
func VerifyDelegationToken(tokenString string, key PeerKey) (*DelegationClaims, error) {
	claims := &DelegationClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		switch t.Method.(type) {
		case *jwt.SigningMethodEd25519:
			if len(key.Ed25519) != ed25519.PublicKeySize {
				return nil, errors.New("no public key known for issuer")
			}
			return key.Ed25519, nil
		case *jwt.SigningMethodHMAC:
			if len(key.Secret) == 0 {
				return nil, errors.New("no shared secret configured")
			}
			return key.Secret, nil
		default:
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
	})
	if err != nil {
		return nil, fmt.Errorf("parse delegation token: %w", err)
	}
	if !token.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	if claims.Scope.MaxDelegationDepth < 0 {
		return nil, ErrDelegationExhausted
	}
	return claims, nil
}
