package crypto

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/bcrypt"
)

// RandReader is the entropy source for code generation. Tests may swap it for
// a fixed reader; production code must leave it as crypto/rand.
var RandReader io.Reader = rand.Reader

// GenerateCode returns a string of length decimal digits. Rejection sampling
// keeps the digit distribution uniform.
func GenerateCode(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("invalid code length %d", length)
	}
	code := make([]byte, 0, length)
	buf := make([]byte, 1)
	for len(code) < length {
		if _, err := io.ReadFull(RandReader, buf); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		// 250 is the largest multiple of 10 below 256
		if buf[0] >= 250 {
			continue
		}
		code = append(code, '0'+buf[0]%10)
	}
	return string(code), nil
}

// HashCode hashes an OTP code for storage. bcrypt salts per call, so equal
// codes issued to different phone numbers produce unrelated digests.
func HashCode(code string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(code), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyCode compares a submitted code against a stored hash in constant time.
func VerifyCode(code, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}
