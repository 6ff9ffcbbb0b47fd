package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// computeIntegrityHash returns sha256 hex over a canonicalized
// serialization of data: struct-field order is collapsed to a generic value
// and re-marshaled, which encoding/json always emits with map keys sorted,
// so the hash is stable regardless of field declaration order.
func computeIntegrityHash(data AggregatedData) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", err
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
