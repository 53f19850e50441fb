package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Digest returns the lowercase hex SHA-256 of key + ":" + value.
func Digest(key, value []byte) string {
	h := sha256.New()
	h.Write(key)
	h.Write([]byte{':'})
	h.Write(value)
	return hex.EncodeToString(h.Sum(nil))
}
