package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// FingerprintFunc derives a deterministic short representation of a record's
// content, used for cheap change detection. Identical content must produce
// identical fingerprints.
type FingerprintFunc func(Record) (string, error)

// ContentFingerprinter hashes the canonical JSON form of the payload after
// dropping the named top-level fields. json.Marshal writes map keys in sorted
// order, so the encoding is stable for equal content.
func ContentFingerprinter(ignoreFields ...string) FingerprintFunc {
	drop := make(map[string]struct{}, len(ignoreFields))
	for _, field := range ignoreFields {
		drop[field] = struct{}{}
	}

	return func(rec Record) (string, error) {
		payload := rec.Payload
		if len(drop) > 0 && payload != nil {
			trimmed := make(map[string]any, len(payload))
			for key, value := range payload {
				if _, skip := drop[key]; skip {
					continue
				}
				trimmed[key] = value
			}
			payload = trimmed
		}

		data, err := json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("fingerprint %s: %w", rec.Key, err)
		}
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:]), nil
	}
}

// VersionFingerprinter passes through an upstream-provided version or
// update-timestamp field. Records missing the field fall back to a content
// hash so they are never silently treated as unchanged.
func VersionFingerprinter(field string) FingerprintFunc {
	content := ContentFingerprinter()

	return func(rec Record) (string, error) {
		if rec.Payload != nil {
			if value, ok := rec.Payload[field]; ok && value != nil {
				return fmt.Sprintf("%v", value), nil
			}
		}
		return content(rec)
	}
}
