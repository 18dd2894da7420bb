package account

import (
	"context"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// NumberLength is the number of digits in an account number.
const NumberLength = 12

// NumberGenerator produces candidate account numbers.
type NumberGenerator func() string

// RandomNumber draws a candidate from the decimal expansion of a random UUID.
func RandomNumber() string {
	for {
		id := uuid.New()
		digits := new(big.Int).SetBytes(id[:]).String()
		if len(digits) >= NumberLength {
			return digits[:NumberLength]
		}
	}
}

// ValidNumber reports whether s is a well-formed account number.
func ValidNumber(s string) bool {
	if len(s) != NumberLength {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// GenerateUniqueNumber draws candidates until exists confirms one is unused.
// It stops early only when ctx is done or the existence check fails.
func GenerateUniqueNumber(ctx context.Context, exists func(context.Context, string) (bool, error), gen NumberGenerator) (string, error) {
	if gen == nil {
		gen = RandomNumber
	}
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		candidate := gen()
		if !ValidNumber(candidate) {
			continue
		}
		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("check account number: %w", err)
		}
		if !taken {
			return candidate, nil
		}
	}
}
