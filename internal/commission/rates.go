package commission

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mscmedsupply/be-commissions/internal/apperrors"
	"github.com/mscmedsupply/be-commissions/internal/repository"
)

// AgreementSource resolves a rep's agreed rate as of a date. Returns nil when
// no agreement covers the date.
type AgreementSource interface {
	ActiveRate(ctx context.Context, repID string, asOf time.Time) (*decimal.Decimal, error)
}

// RepSource resolves a rep's default commission rate. Returns nil when the rep
// has no default configured.
type RepSource interface {
	DefaultRate(ctx context.Context, repID string) (*decimal.Decimal, error)
}

// RateSet holds the resolved rate per chain tier.
type RateSet struct {
	Master decimal.Decimal
	Sub    *decimal.Decimal
	SubSub *decimal.Decimal
}

// RateResolver looks up each chain member's rate: the agreement active on the
// order's date of service wins, the rep's default rate is the fallback, and a
// rep with neither is a hard failure. Missing rates never silently become
// zero; a zero remainder would inflate the tiers above.
type RateResolver struct {
	agreements AgreementSource
	reps       RepSource
}

// NewRateResolver creates a RateResolver.
func NewRateResolver(agreements AgreementSource, reps RepSource) *RateResolver {
	return &RateResolver{agreements: agreements, reps: reps}
}

// Resolve returns the rate for every rep in the chain as of asOf.
func (r *RateResolver) Resolve(ctx context.Context, chain repository.RepChain, asOf time.Time) (RateSet, error) {
	if err := chain.Validate(); err != nil {
		return RateSet{}, err
	}

	master, err := r.resolveOne(ctx, chain.MasterRepID, asOf)
	if err != nil {
		return RateSet{}, err
	}

	set := RateSet{Master: master}

	if chain.SubRepID != nil {
		sub, err := r.resolveOne(ctx, *chain.SubRepID, asOf)
		if err != nil {
			return RateSet{}, err
		}
		set.Sub = &sub
	}
	if chain.SubSubRepID != nil {
		subSub, err := r.resolveOne(ctx, *chain.SubSubRepID, asOf)
		if err != nil {
			return RateSet{}, err
		}
		set.SubSub = &subSub
	}

	return set, nil
}

func (r *RateResolver) resolveOne(ctx context.Context, repID string, asOf time.Time) (decimal.Decimal, error) {
	rate, err := r.agreements.ActiveRate(ctx, repID, asOf)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if rate != nil {
		return *rate, nil
	}

	rate, err = r.reps.DefaultRate(ctx, repID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if rate != nil {
		return *rate, nil
	}

	return decimal.Decimal{}, apperrors.Newf(apperrors.CodeRateNotFound,
		"representative %s has no agreement covering %s and no default rate",
		repID, asOf.Format("2006-01-02"))
}
