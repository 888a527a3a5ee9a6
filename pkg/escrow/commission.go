package escrow

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Commission splits a sale between seller and platform. The fee is amount*rate rounded half to
// even to a whole unit; the seller receives the remainder, so fee+payout always equals amount.
type Commission struct {
	rate decimal.Decimal
}

// Split is the result of applying a Commission.
type Split struct {
	PlatformFee  AmountCents
	PayoutAmount AmountCents
}

// NewCommission validates 0 <= rate < 1.
func NewCommission(rate decimal.Decimal) (Commission, error) {
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return Commission{}, fmt.Errorf("%w: %s must be in [0,1)", ErrInvalidCommissionRate, rate.String())
	}
	return Commission{rate: rate}, nil
}

// ParseCommission parses a decimal rate such as "0.15".
func ParseCommission(raw string) (Commission, error) {
	rate, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return Commission{}, fmt.Errorf("%w: %v", ErrInvalidCommissionRate, err)
	}
	return NewCommission(rate)
}

// Rate returns the configured fraction.
func (commission Commission) Rate() decimal.Decimal {
	return commission.rate
}

// Split divides amount into platform fee and seller payout.
func (commission Commission) Split(amount PositiveAmountCents) Split {
	fee := decimal.NewFromInt(amount.Int64()).Mul(commission.rate).RoundBank(0).IntPart()
	return Split{
		PlatformFee:  AmountCents(fee),
		PayoutAmount: AmountCents(amount.Int64() - fee),
	}
}

func mustDefaultCommission() Commission {
	commission, err := ParseCommission(DefaultCommissionRate)
	if err != nil {
		panic(err)
	}
	return commission
}
