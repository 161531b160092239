// Package random draws identifier parts from crypto/rand.
package random

import (
	"crypto/rand"
	"math/big"
)

const digits = "0123456789"

// Digits returns length decimal digits.
func Digits(length int) (string, error) {
	b := make([]byte, length)
	l := big.NewInt(int64(len(digits)))
	for i := range b {
		num, err := rand.Int(rand.Reader, l)
		if err != nil {
			return "", err
		}
		b[i] = digits[num.Int64()]
	}
	return string(b), nil
}
