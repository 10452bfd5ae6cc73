package analysis

import (
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"

	domain "github.com/bryanwahyu/docguard/internal/domain/analysis"
)

// documentMagic is the signature every accepted PDF starts with.
var documentMagic = []byte("%PDF")

// IsDocument reports whether b carries the PDF magic signature.
func IsDocument(b []byte) bool {
	return bytes.HasPrefix(b, documentMagic)
}

// Fingerprint returns the hex SHA-256 of b. It is the store key.
func Fingerprint(b []byte) domain.Fingerprint {
	sum := sha256.Sum256(b)
	return domain.Fingerprint(hex.EncodeToString(sum[:]))
}

// FingerprintMD5 is informational only and never used as a key.
func FingerprintMD5(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}
