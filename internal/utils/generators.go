package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// GenerateAttemptID creates a server-side idempotency key for callers
// that did not supply one.
func GenerateAttemptID() string {
	timestamp := time.Now().Unix()
	randomNum, _ := rand.Int(rand.Reader, big.NewInt(999999999))
	return fmt.Sprintf("att_%d_%09d", timestamp, randomNum.Int64())
}

// GenerateSeatID builds a stable seat identifier from its position.
func GenerateSeatID(venueID, section, row, number string) string {
	return fmt.Sprintf("%s:%s:%s:%s", venueID, section, row, number)
}
