package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentHash is the duplicate-detection digest of extracted text: SHA-256, lower-case hex.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// CacheKey namespaces a digest of text for key-value caches.
func CacheKey(namespace, text string) string {
	return namespace + ":" + ContentHash(text)
}
