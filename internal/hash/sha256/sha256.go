// Package sha256 derives stable cache keys from collection requests.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/keyword-rank-collector/internal/ranking"
)

const keyPrefix = "rankcollector:response:v1:"

// Hasher computes hex SHA-256 digests.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (*Hasher) Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// RequestKey returns the cache key for req. Requests must already carry their
// effective mode and limits so equivalent requests share a key.
func (h *Hasher) RequestKey(req ranking.Request) (string, error) {
	// Struct field order makes the encoding canonical.
	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	return keyPrefix + h.Hash(data), nil
}
