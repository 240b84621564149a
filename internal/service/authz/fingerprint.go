package authz

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// FingerprintSize is the length of a certificate fingerprint in bytes.
const FingerprintSize = sha256.Size

// Fingerprint returns the SHA-256 digest of the concatenated certificates.
func Fingerprint(certificates [][]byte) [FingerprintSize]byte {
	hasher := sha256.New()
	for _, cert := range certificates {
		// hash.Hash writes never fail.
		_, _ = hasher.Write(cert)
	}

	var digest [FingerprintSize]byte
	copy(digest[:], hasher.Sum(nil))

	return digest
}

// FormatFingerprint returns the lowercase hex form of a digest.
func FormatFingerprint(digest []byte) string {
	return hex.EncodeToString(digest)
}

// DecodeFingerprint decodes a hex fingerprint. Upper case digits and
// colon separators ("AB:CD:...") are accepted.
func DecodeFingerprint(s string) ([]byte, error) {
	decoded, err := hex.DecodeString(NormalizeFingerprint(s))
	if err != nil {
		return nil, fmt.Errorf("decode fingerprint: %w", err)
	}

	return decoded, nil
}

// NormalizeFingerprint lowercases s and strips colon separators and spaces.
func NormalizeFingerprint(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ":", "")
	s = strings.ReplaceAll(s, " ", "")

	return strings.ToLower(s)
}
