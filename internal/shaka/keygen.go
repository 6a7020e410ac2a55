package shaka

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// KeyData holds generated AES-128 key material. Key and KeyID are
// hex-encoded. FilePath is where the raw key bytes were written, when a
// workspace was involved.
type KeyData struct {
	Key      string
	KeyID    string
	FilePath string
}

// GenerateKey returns a hex-encoded 128-bit encryption key.
func GenerateKey() string {
	return randomHex(16)
}

// GenerateKeyID returns a hex-encoded 128-bit key ID.
func GenerateKeyID() string {
	return randomHex(16)
}

// GenerateKeyData returns a freshly generated key and key ID pair.
func GenerateKeyData() KeyData {
	return KeyData{
		Key:   GenerateKey(),
		KeyID: GenerateKeyID(),
	}
}

// FormatKeysOption renders key material in the packager's --keys grammar:
// label=<label>:key_id=<id>:key=<key>.
func FormatKeysOption(keyID, key, label string) string {
	return fmt.Sprintf("label=%s:key_id=%s:key=%s", label, keyID, key)
}

// RawKeyBytes decodes the hex key back to its raw 16 bytes for writing to
// a key file.
func (k KeyData) RawKeyBytes() ([]byte, error) {
	raw, err := hex.DecodeString(k.Key)
	if err != nil {
		return nil, fmt.Errorf("decoding key material: %w", err)
	}
	return raw, nil
}

func randomHex(n int) string {
	buf := make([]byte, n)
	// crypto/rand.Read only fails when the platform source is broken.
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("reading random bytes: %v", err))
	}
	return hex.EncodeToString(buf)
}
