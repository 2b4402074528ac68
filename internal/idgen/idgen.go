// Package idgen allocates the human-facing short codes: exam codes,
// registration codes and access-card PINs. Allocation is random draw plus an
// advisory taken-check; the store's uniqueness constraint remains the
// authoritative guarantee, so callers retry the whole commit on a
// commit-time conflict.
package idgen

import (
	"context"
	"errors"
	"math/rand"
	"strings"
)

const (
	upper  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lower  = "abcdefghijklmnopqrstuvwxyz"
	digits = "0123456789"

	examCodeLen = 5
	regCodeLen  = 6
	cardPINLen  = 12

	// maxAttempts caps the advisory-check retry loop; with these code
	// spaces collisions are vanishingly rare, but the loop must never spin
	// forever.
	maxAttempts = 25
)

var (
	examCodeAlphabet = upper + digits
	regCodeAlphabet  = upper + digits
	cardPINAlphabet  = upper + lower + digits
)

// ErrExhausted is returned when the retry budget runs out, either here or at
// a caller's commit loop.
var ErrExhausted = errors.New("identifier allocation exhausted")

// TakenFunc reports whether a candidate is already in use.
type TakenFunc func(ctx context.Context, candidate string) (bool, error)

// Generate draws random candidates from the alphabet until one is free.
func Generate(ctx context.Context, alphabet string, length int, taken TakenFunc) (string, error) {
	for i := 0; i < maxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		candidate := draw(alphabet, length)
		inUse, err := taken(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !inUse {
			return candidate, nil
		}
	}
	return "", ErrExhausted
}

// ExamCode allocates a 5-character uppercase/digit exam code.
func ExamCode(ctx context.Context, taken TakenFunc) (string, error) {
	return Generate(ctx, examCodeAlphabet, examCodeLen, taken)
}

// RegCode allocates a 6-character uppercase/digit registration code.
func RegCode(ctx context.Context, taken TakenFunc) (string, error) {
	return Generate(ctx, regCodeAlphabet, regCodeLen, taken)
}

// CardPIN allocates a 12-character mixed-case/digit access-card PIN.
func CardPIN(ctx context.Context, taken TakenFunc) (string, error) {
	return Generate(ctx, cardPINAlphabet, cardPINLen, taken)
}

func draw(alphabet string, length int) string {
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		b.WriteByte(alphabet[rand.Intn(len(alphabet))])
	}
	return b.String()
}
