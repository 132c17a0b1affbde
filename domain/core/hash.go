package core

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"sort"
	"strings"
)

// Hash represents a cryptographic hash
type Hash string

// NewHash creates a new hash from data
func NewHash(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// String returns the string representation
func (h Hash) String() string {
	return string(h)
}

// IsEmpty checks if the hash is empty
func (h Hash) IsEmpty() bool {
	return h == ""
}

// Short returns the leading 12 hex digits for display
func (h Hash) Short() string {
	if len(h) <= 12 {
		return string(h)
	}
	return string(h[:12])
}

// CohortHash fingerprints a participant set together with the filters that selected it
type CohortHash Hash

func (h CohortHash) String() string { return Hash(h).String() }
func (h CohortHash) Short() string  { return Hash(h).Short() }

// ComputeCohortHash is independent of the order of participantIDs and filters
func ComputeCohortHash(participantIDs []string, filters map[string]string) CohortHash {
	ids := slices.Clone(participantIDs)
	sort.Strings(ids)

	var data strings.Builder
	for _, id := range ids {
		data.WriteString(id)
		data.WriteByte(0)
	}

	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		data.WriteByte(1)
		data.WriteString(key)
		data.WriteByte('=')
		data.WriteString(filters[key])
	}

	return CohortHash(NewHash([]byte(data.String())))
}
