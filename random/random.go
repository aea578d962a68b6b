// Package random produces unguessable identifiers.
package random

import (
	crand "crypto/rand"
	"fmt"
	"math/big"
)

const charset = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// StringSecure returns length characters drawn uniformly from charset
// using crypto/rand.
func StringSecure(length int) (string, error) {
	b := make([]byte, length)
	l := big.NewInt(int64(len(charset)))
	for i := range b {
		num, err := crand.Int(crand.Reader, l)
		if err != nil {
			return "", fmt.Errorf("reading random source: %w", err)
		}
		b[i] = charset[num.Int64()]
	}
	return string(b), nil
}
