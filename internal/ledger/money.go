package ledger

import (
	"fmt"
	"html"
	"math"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"
)

const (
	// MaxDescriptionLength caps stored descriptions, in runes.
	MaxDescriptionLength = 255

	// MaxAmount is the largest amount a single request may move, in minor units.
	MaxAmount int64 = 1_000_000_000_000_000
)

var descriptionPolicy = bluemonday.StrictPolicy()

// FormatAmount renders a minor-unit amount as a fixed-point string with the
// given number of decimal places (0 for XAF, 2 for USD cents).
func FormatAmount(minor int64, scale int32) string {
	if scale < 0 {
		scale = 0
	}
	return decimal.New(minor, -scale).StringFixed(scale)
}

// SanitizeDescription strips markup from user supplied text and trims it to
// MaxDescriptionLength. The result is plain text, not HTML.
func SanitizeDescription(s string) string {
	clean := strings.TrimSpace(html.UnescapeString(descriptionPolicy.Sanitize(s)))
	if r := []rune(clean); len(r) > MaxDescriptionLength {
		clean = string(r[:MaxDescriptionLength])
	}
	return clean
}

// ValidAmount reports whether a request amount is positive and within MaxAmount.
func ValidAmount(amount int64) bool {
	return amount > 0 && amount <= MaxAmount
}

// balanceBounds returns the range the current balance must fall in for
// balance+delta to stay within [0, math.MaxInt64]. Stores compare against the
// bounds instead of evaluating balance+delta, which could overflow.
func balanceBounds(delta int64) (lo, hi int64) {
	if delta < 0 {
		return -delta, math.MaxInt64
	}
	return 0, math.MaxInt64 - delta
}

// adjustError names why a balance adjustment bounded by balanceBounds matched
// no row.
func adjustError(userID string, delta int64) error {
	if delta > 0 {
		return fmt.Errorf("%w: balance of %s would overflow", ErrInvalidAmount, userID)
	}
	return ErrInsufficientFunds
}

// SignedAmount applies the sign convention of the kind to a positive magnitude.
func SignedAmount(kind Kind, magnitude int64) int64 {
	switch kind {
	case KindWithdrawal, KindTransferOut:
		return -magnitude
	default:
		return magnitude
	}
}
