package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for key hashes.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 1
	argonKeyLen  = 32
	argonSaltLen = 16

	// rawKeyBytes is the entropy of generated API keys.
	rawKeyBytes = 32
)

// GenerateKey returns a new random API key, hex encoded.
func GenerateKey() (string, error) {
	b := make([]byte, rawKeyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating key: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashKey hashes an API key with Argon2id and returns the PHC string
// $argon2id$v=19$m=65536,t=3,p=1$<salt>$<hash>.
func HashKey(key string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	sum := argon2.IDKey([]byte(key), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	enc := base64.RawStdEncoding
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		enc.EncodeToString(salt), enc.EncodeToString(sum)), nil
}

// VerifyKey reports whether key matches the PHC hash. A malformed hash is
// an error, a mismatch is not.
func VerifyKey(key, encoded string) (bool, error) {
	h, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	candidate := argon2.IDKey([]byte(key), h.salt, h.time, h.memory, h.threads, uint32(len(h.sum))) //nolint:gosec // G115: hash length fits uint32
	return subtle.ConstantTimeCompare(h.sum, candidate) == 1, nil
}

type phcHash struct {
	time    uint32
	memory  uint32
	threads uint8
	salt    []byte
	sum     []byte
}

func parsePHC(encoded string) (phcHash, error) {
	var h phcHash

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return h, fmt.Errorf("invalid PHC hash format")
	}
	if parts[1] != "argon2id" {
		return h, fmt.Errorf("unsupported algorithm: %s", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return h, fmt.Errorf("parsing version: %w", err)
	}
	if version != argon2.Version {
		return h, fmt.Errorf("unsupported argon2 version %d", version)
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &h.memory, &h.time, &h.threads); err != nil {
		return h, fmt.Errorf("parsing parameters: %w", err)
	}

	var err error
	if h.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return h, fmt.Errorf("decoding salt: %w", err)
	}
	if h.sum, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return h, fmt.Errorf("decoding hash: %w", err)
	}
	if len(h.sum) == 0 {
		return h, fmt.Errorf("empty hash")
	}
	return h, nil
}
