// Package calculator computes per-participant shares for an expense. It is
// pure: no storage, no clocks, no side effects.
package calculator

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"github.com/splitsync/splitsync/internal/apperr"
	"github.com/splitsync/splitsync/internal/models"
)

var hundred = decimal.NewFromInt(100)

// percentTolerance is how far the supplied percentages may drift from 100.
var percentTolerance = decimal.NewFromFloat(0.01)

// ShareInput describes one requested participant before shares are computed.
// Amount is read for the exact policy, Percent for the percentage policy.
type ShareInput struct {
	UserID  string
	Amount  decimal.Decimal
	Percent decimal.Decimal
}

// CurrencyFraction returns the minor-unit exponent for an ISO 4217 code
// (2 for USD, 0 for JPY). Unknown codes are a validation failure.
func CurrencyFraction(code string) (int32, error) {
	cur := money.GetCurrency(code)
	if cur == nil {
		return 0, apperr.Validation(apperr.CodeInvalidCurrency, "unknown currency code %q", code)
	}
	return int32(cur.Fraction), nil
}

// MinorUnit returns one minor unit at the given fraction (0.01 for fraction 2).
func MinorUnit(fraction int32) decimal.Decimal {
	return decimal.New(1, -fraction)
}

// ComputeShares turns an amount plus a split policy into per-participant
// shares. The rounded shares always sum to exactly the amount: for equal and
// percentage splits the last participant absorbs any residual rounding drift.
func ComputeShares(amount decimal.Decimal, policy models.SplitPolicy, participants []ShareInput, fraction int32) ([]models.Share, error) {
	if len(participants) == 0 {
		return nil, apperr.Validation(apperr.CodeEmptyParticipantSet, "expense must have at least one participant")
	}
	if amount.IsNegative() {
		return nil, apperr.Validation(apperr.CodeInvalidAmount, "amount must be non-negative, got %s", amount)
	}

	seen := make(map[string]bool, len(participants))
	for _, p := range participants {
		if p.UserID == "" {
			return nil, apperr.Validation(apperr.CodeInvalidArgument, "participant user_id required")
		}
		if seen[p.UserID] {
			return nil, apperr.Validation(apperr.CodeInvalidArgument, "duplicate participant %q", p.UserID)
		}
		seen[p.UserID] = true
	}

	switch policy {
	case models.SplitEqual:
		return equalShares(amount, participants, fraction), nil
	case models.SplitExact:
		return exactShares(amount, participants, fraction)
	case models.SplitPercentage:
		return percentageShares(amount, participants, fraction)
	default:
		return nil, apperr.Validation(apperr.CodeInvalidSplitPolicy, "unknown split policy %q", policy)
	}
}

// equalShares gives the first n-1 participants the even share rounded down
// and the last participant the remainder, so the sum is exact. Rounding down
// keeps the residual non-negative: half-up rounding can overshoot the total
// on small amounts (0.05 ten ways would give nine 0.01 shares and a negative
// remainder).
func equalShares(amount decimal.Decimal, participants []ShareInput, fraction int32) []models.Share {
	n := int64(len(participants))
	per := amount.Div(decimal.NewFromInt(n)).RoundDown(fraction)

	shares := make([]models.Share, len(participants))
	assigned := decimal.Zero
	for i, p := range participants {
		share := per
		if i == len(participants)-1 {
			share = amount.Sub(assigned)
		}
		assigned = assigned.Add(share)
		shares[i] = models.Share{UserID: p.UserID, Amount: share, Type: models.SplitEqual}
	}
	return shares
}

// exactShares validates caller-supplied amounts against the expense total,
// tolerating at most one minor unit of cumulative drift.
func exactShares(amount decimal.Decimal, participants []ShareInput, fraction int32) ([]models.Share, error) {
	sum := decimal.Zero
	shares := make([]models.Share, len(participants))
	for i, p := range participants {
		share := p.Amount.Round(fraction)
		if share.IsNegative() {
			return nil, apperr.Validation(apperr.CodeInvalidAmount, "share for %q must be non-negative, got %s", p.UserID, p.Amount)
		}
		sum = sum.Add(share)
		shares[i] = models.Share{UserID: p.UserID, Amount: share, Type: models.SplitExact}
	}

	if sum.Sub(amount).Abs().GreaterThan(MinorUnit(fraction)) {
		return nil, apperr.Validation(apperr.CodeShareMismatch,
			"shares sum to %s, expense amount is %s", sum, amount)
	}
	return shares, nil
}

// percentageShares converts percentages to minor-unit amounts, with the same
// residual-adjustment rule as equal splits.
func percentageShares(amount decimal.Decimal, participants []ShareInput, fraction int32) ([]models.Share, error) {
	total := decimal.Zero
	for _, p := range participants {
		if p.Percent.IsNegative() {
			return nil, apperr.Validation(apperr.CodeInvalidAmount, "percentage for %q must be non-negative, got %s", p.UserID, p.Percent)
		}
		total = total.Add(p.Percent)
	}
	if total.Sub(hundred).Abs().GreaterThan(percentTolerance) {
		return nil, apperr.Validation(apperr.CodeShareMismatch,
			"percentages sum to %s, expected 100", total)
	}

	shares := make([]models.Share, len(participants))
	assigned := decimal.Zero
	for i, p := range participants {
		share := amount.Mul(p.Percent).Div(hundred).RoundDown(fraction)
		if i == len(participants)-1 {
			share = amount.Sub(assigned)
			// Percentages may overshoot 100 within tolerance; if the first
			// n-1 shares already consumed the amount, there is no valid
			// non-negative share left for the last participant.
			if share.IsNegative() {
				return nil, apperr.Validation(apperr.CodeShareMismatch,
					"percentage shares exceed the expense amount %s", amount)
			}
		}
		assigned = assigned.Add(share)
		shares[i] = models.Share{UserID: p.UserID, Amount: share, Type: models.SplitPercentage, Percent: p.Percent}
	}
	return shares, nil
}
