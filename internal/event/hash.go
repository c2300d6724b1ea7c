package event

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// ComputeHash returns the sha256 hex digest of the RFC 8785 canonical JSON
// form of every event field except the hash itself. The same logical content
// always hashes to the same value regardless of field order or whether a
// hash was already present.
func ComputeHash(e *Event) (string, error) {
	m, err := e.fieldMap(false)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal event for hashing: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize event: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
