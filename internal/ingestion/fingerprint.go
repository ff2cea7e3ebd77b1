package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint returns the hex SHA-256 digest of normalized text. The hash is
// taken over the normalized form, not the original bytes, so re-typed or
// re-fetched content that normalizes identically dedups to the same entry.
func Fingerprint(normalizedText string) string {
	sum := sha256.Sum256([]byte(normalizedText))
	return hex.EncodeToString(sum[:])
}

// FingerprintSet is the content identity of one analysis request. The
// considerations hash is empty when no considerations were supplied.
type FingerprintSet struct {
	CVHash             string `json:"cv_text_hash"`
	OfferHash          string `json:"job_offer_text_hash"`
	ConsiderationsHash string `json:"additional_considerations_hash,omitempty"`
}
