package emergency

import (
	"crypto/sha256"
	"encoding/hex"
)

// StableID is a reconnection-persistent identity derived from a user-supplied
// display name and device token. It is distinct from the transient handle a
// connection gets on every dial, which is what lets user state survive socket
// churn without server-side accounts.
//
// The value is the first 12 hex characters (48 bits) of a SHA-256 digest.
// That is a convenience key for a small trusted deployment, not a security
// boundary: it is neither collision-resistant at scale nor authenticated.
type StableID string

// stableIDLength is the number of hex characters kept from the digest.
const stableIDLength = 12

// missingTokenSentinel replaces an absent device token before hashing so two
// distinct users without tokens do not collide on the empty string.
const missingTokenSentinel = "no-token"

// ResolveIdentity derives the stable identity for a (name, token) pair.
// It is deterministic and total: identical inputs always yield the same value.
func ResolveIdentity(name, token string) StableID {
	if token == "" {
		token = missingTokenSentinel
	}

	digest := sha256.Sum256([]byte(name + ":" + token))

	return StableID(hex.EncodeToString(digest[:])[:stableIDLength])
}
