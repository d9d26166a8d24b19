package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Marshal serializes a canonical list in its hashing form: entries sorted
// by index ascending, keys in fixed lexicographic order. The input slice
// is not mutated.
func Marshal(list []Canonical) ([]byte, error) {
	ordered := make([]Canonical, len(list))
	copy(ordered, list)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Index < ordered[j].Index
	})
	payload, err := json.Marshal(ordered)
	if err != nil {
		return nil, fmt.Errorf("marshal canonical list: %w", err)
	}
	return payload, nil
}

// Unmarshal restores a canonical list from a stored snapshot payload.
func Unmarshal(payload []byte) ([]Canonical, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	var list []Canonical
	if err := json.Unmarshal(payload, &list); err != nil {
		return nil, fmt.Errorf("unmarshal canonical payload: %w", err)
	}
	return list, nil
}

// Hash computes the 64-char lowercase hex SHA-256 over the canonical
// serialization.
func Hash(list []Canonical) (string, []byte, error) {
	payload, err := Marshal(list)
	if err != nil {
		return "", nil, err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), payload, nil
}
