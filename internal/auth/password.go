package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"unicode"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltLen          = 16
	keyLen           = 32
	pbkdf2Iterations = 100_000
	minPasswordLen   = 8
)

// HashPassword derives a PBKDF2-SHA256 key from password and returns
// base64(salt || key). Each call uses a fresh random salt.
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, keyLen, sha256.New)
	blob := make([]byte, 0, saltLen+keyLen)
	blob = append(blob, salt...)
	blob = append(blob, key...)
	return base64.StdEncoding.EncodeToString(blob), nil
}

// VerifyPassword reports whether password matches the stored hash.
// Malformed hashes never match.
func VerifyPassword(password, hash string) bool {
	blob, err := base64.StdEncoding.DecodeString(hash)
	if err != nil || len(blob) != saltLen+keyLen {
		return false
	}
	salt, want := blob[:saltLen], blob[saltLen:]
	got := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, keyLen, sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}

// ValidatePasswordStrength requires at least 8 characters with an upper-case
// letter, a lower-case letter and a digit.
func ValidatePasswordStrength(password string) error {
	if len(password) < minPasswordLen {
		return fmt.Errorf("password must be at least %d characters", minPasswordLen)
	}
	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !upper || !lower || !digit {
		return errors.New("password must contain upper-case, lower-case and numeric characters")
	}
	return nil
}

// dummyHash is verified against when a login names an unknown account so that
// both paths pay for one key derivation.
var dummyHash = func() string {
	h, err := HashPassword("worksuite-dummy-password")
	if err != nil {
		panic(err)
	}
	return h
}()
