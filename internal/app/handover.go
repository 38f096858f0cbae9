package app

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/skip2/go-qrcode"
	"golang.org/x/crypto/bcrypt"
)

// generateHandoverCode returns a uniformly random numeric code of length digits.
func generateHandoverCode(length int) (string, error) {
	if length <= 0 {
		length = 6
	}
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("failed to generate handover code: %w", err)
	}
	return fmt.Sprintf("%0*d", length, n), nil
}

func hashHandoverCode(code string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(code), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash handover code: %w", err)
	}
	return string(hash), nil
}

func handoverCodeMatches(hash, code string) bool {
	if hash == "" || code == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}

// handoverQR encodes the code as a PNG the donor can scan at pickup.
func handoverQR(donationID, code string) ([]byte, error) {
	return qrcode.Encode(fmt.Sprintf("mealmitra:handover:%s:%s", donationID, code), qrcode.Medium, 256)
}
