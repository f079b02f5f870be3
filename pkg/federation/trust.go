package federation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/openintent-protocol/openintent/pkg/models"
)

// ErrUntrusted is returned when the trust policy rejects an inbound source.
var ErrUntrusted = errors.New("source not trusted")

// Trusted decides whether source may deliver envelopes under policy.
// allowlist entries and registered peers match by server URL or DID. A nil
// peer means the source is not registered.
func Trusted(policy models.TrustPolicy, source, sourceDID string, allowlist []string, peer *models.PeerInfo) error {
	switch policy {
	case models.TrustOpen:
		return nil
	case models.TrustTrustless:
		return fmt.Errorf("%w: this server does not accept inbound dispatches", ErrUntrusted)
	case models.TrustAllowlist, "":
		for _, entry := range allowlist {
			if matchesPeer(entry, source, sourceDID) {
				return nil
			}
		}
		if peer != nil {
			if peer.TrustPolicy == models.TrustTrustless {
				return fmt.Errorf("%w: peer %s is registered as trustless", ErrUntrusted, source)
			}
			return nil
		}
		return fmt.Errorf("%w: %s is not an allowed peer", ErrUntrusted, source)
	default:
		return fmt.Errorf("%w: unknown trust policy %q", ErrUntrusted, policy)
	}
}

// matchesPeer compares an allowlist entry against the source's URL and DID,
// ignoring trailing slashes on URLs.
func matchesPeer(entry, source, sourceDID string) bool {
	entry = strings.TrimSuffix(entry, "/")
	if entry == "" {
		return false
	}
	if entry == strings.TrimSuffix(source, "/") {
		return true
	}
	return sourceDID != "" && entry == sourceDID
}
