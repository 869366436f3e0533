// Package commission holds the commission calculation and rate resolution
// logic. Calculate is the single implementation of the split arithmetic; no
// other code in the service computes commission amounts.
package commission

import (
	"github.com/shopspring/decimal"

	"github.com/mscmedsupply/be-commissions/internal/apperrors"
)

// poolRate is the house commission pool: 15% of invoice amount, independent of
// rep-tier rates. Tier rates are splits of this pool, not of the invoice.
var poolRate = decimal.NewFromFloat(0.15)

var hundred = decimal.NewFromInt(100)

// Breakdown is the per-tier result of a commission calculation. Absent tiers
// carry zero. Total is always Master + Sub + SubSub.
type Breakdown struct {
	Pool   decimal.Decimal
	Master decimal.Decimal
	Sub    decimal.Decimal
	SubSub decimal.Decimal
	Total  decimal.Decimal
}

// Calculate splits an order's commission pool across the rep chain.
//
// The pool is 15% of base. The master's provisional share is masterRate
// percent of the pool. A sub rep takes subRate percent of that share, leaving
// the master the complement; a sub-sub rep takes subSubRate percent of the
// sub's portion the same way. Every intermediate value is rounded half-up to
// cents so the persisted amounts match what incremental payout runs produce.
//
// A non-positive base yields an all-zero breakdown without error. Any provided
// rate outside [0,100] fails with CodeInvalidRate. A subSubRate without a
// subRate fails with CodeInvalidInput since a sub-sub rep cannot exist without
// a sub above it.
func Calculate(base, masterRate decimal.Decimal, subRate, subSubRate *decimal.Decimal) (Breakdown, error) {
	if err := validateRate("master rate", masterRate); err != nil {
		return Breakdown{}, err
	}
	if subRate != nil {
		if err := validateRate("sub rate", *subRate); err != nil {
			return Breakdown{}, err
		}
	}
	if subSubRate != nil {
		if subRate == nil {
			return Breakdown{}, apperrors.InvalidInput("sub_sub_rate", "sub-sub rate requires a sub rate")
		}
		if err := validateRate("sub-sub rate", *subSubRate); err != nil {
			return Breakdown{}, err
		}
	}

	if base.Sign() <= 0 {
		return Breakdown{}, nil
	}

	pool := round2(base.Mul(poolRate))
	master := round2(pool.Mul(masterRate).Div(hundred))

	var sub, subSub decimal.Decimal
	if subRate != nil {
		sub = round2(master.Mul(*subRate).Div(hundred))
		master = round2(master.Mul(hundred.Sub(*subRate)).Div(hundred))

		if subSubRate != nil {
			subSub = round2(sub.Mul(*subSubRate).Div(hundred))
			sub = round2(sub.Mul(hundred.Sub(*subSubRate)).Div(hundred))
		}
	}

	return Breakdown{
		Pool:   pool,
		Master: master,
		Sub:    sub,
		SubSub: subSub,
		Total:  master.Add(sub).Add(subSub),
	}, nil
}

func validateRate(name string, rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(hundred) {
		return apperrors.Newf(apperrors.CodeInvalidRate, "%s must be between 0 and 100, got %s", name, rate)
	}
	return nil
}

// round2 rounds half away from zero to 2 decimal places. All inputs here are
// non-negative, so this is round-half-up to the cent.
func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
