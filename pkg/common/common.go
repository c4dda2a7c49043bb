package common

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
)

const (
	ENABLED  = "enabled"
	DISABLED = "disabled"
)

// GetSecretSalt returns the password hashing salt, overridable for
// deployments via environment.
func GetSecretSalt() string {
	if salt := os.Getenv("WABRIDGE_SECRET_SALT"); salt != "" {
		return salt
	}
	return "wabridge-3b9a"
}

// Sha256HashWithSalt hashes a secret with the given salt.
func Sha256HashWithSalt(value, salt string) string {
	sum := sha256.Sum256([]byte(value + salt))
	return hex.EncodeToString(sum[:])
}
