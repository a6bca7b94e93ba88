// internal/auth/password.go
package auth

import (
	"crypto/rand"
	"crypto/subtle"

	"golang.org/x/crypto/argon2"
)

// hashCode derives a salted Argon2id hash of the access code.
func hashCode(code string) (hash, salt []byte, err error) {
	salt = make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, nil, err
	}
	return argon2.IDKey([]byte(code), salt, 1, 64*1024, 4, 32), salt, nil
}

// verifyCode compares code against a salted hash in constant time.
func verifyCode(code string, salt, hash []byte) bool {
	candidate := argon2.IDKey([]byte(code), salt, 1, 64*1024, 4, 32)
	return subtle.ConstantTimeCompare(candidate, hash) == 1
}
