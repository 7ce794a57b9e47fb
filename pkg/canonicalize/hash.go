package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
)

// CanonicalHashBytes returns the lowercase 64-char SHA-256 hex digest of
// already-canonical bytes.
func CanonicalHashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// ExcludeFields returns a shallow copy of a canonical map with the
// named top-level fields removed, for exclude-then-hash projections.
// pkg/compiler builds its semantic_hash and state_hash projections field
// by field and does not call this helper.
func ExcludeFields(m map[string]interface{}, fields ...string) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	excluded := make(map[string]bool, len(fields))
	for _, f := range fields {
		excluded[f] = true
	}
	for k, v := range m {
		if excluded[k] {
			continue
		}
		out[k] = v
	}
	return out
}
