package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const (
	secretAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	secretLength   = 64
)

// generateSecret draws a uniform 64-character alphanumeric challenge
// secret from a cryptographically secure source.
func generateSecret() (string, error) {
	max := big.NewInt(int64(len(secretAlphabet)))
	var b strings.Builder
	b.Grow(secretLength)
	for i := 0; i < secretLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate random number: %w", err)
		}
		b.WriteByte(secretAlphabet[n.Int64()])
	}
	return b.String(), nil
}
