package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// hashAlgorithm tags the stored hash format.
	hashAlgorithm = "pbkdf2_sha256"
	// hashIterations is the PBKDF2 work factor for newly created hashes.
	// Stored hashes carry their own iteration count, so this can be raised
	// without invalidating existing accounts.
	hashIterations = 200_000
	saltLen        = 16
)

// HashPassword derives a PBKDF2-SHA256 hash of the password, encoded as
// pbkdf2_sha256$<iterations>$<salt>$<hash> with unpadded URL-safe base64.
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	dk := pbkdf2.Key([]byte(password), salt, hashIterations, sha256.Size, sha256.New)
	enc := base64.RawURLEncoding
	return fmt.Sprintf("%s$%d$%s$%s", hashAlgorithm, hashIterations, enc.EncodeToString(salt), enc.EncodeToString(dk)), nil
}

// VerifyPassword reports whether password matches the stored hash. Unknown
// or malformed formats verify as false rather than erroring.
func VerifyPassword(password, stored string) bool {
	parts := strings.Split(stored, "$")
	if len(parts) != 4 || parts[0] != hashAlgorithm {
		return false
	}

	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations <= 0 {
		return false
	}
	salt, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return false
	}
	expected, err := base64.RawURLEncoding.DecodeString(parts[3])
	if err != nil {
		return false
	}

	dk := pbkdf2.Key([]byte(password), salt, iterations, sha256.Size, sha256.New)
	return subtle.ConstantTimeCompare(dk, expected) == 1
}
