package commission

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/mscmedsupply/be-commissions/internal/apperrors"
)

func d(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	v, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return v
}

func dp(t *testing.T, s string) *decimal.Decimal {
	t.Helper()
	v := d(t, s)
	return &v
}

func TestCalculateMasterOnly(t *testing.T) {
	bd, err := Calculate(d(t, "1000"), d(t, "60"), nil, nil)
	require.NoError(t, err)

	require.True(t, bd.Pool.Equal(d(t, "150")), "pool = %s", bd.Pool)
	require.True(t, bd.Master.Equal(d(t, "90")), "master = %s", bd.Master)
	require.True(t, bd.Sub.IsZero())
	require.True(t, bd.SubSub.IsZero())
	require.True(t, bd.Total.Equal(d(t, "90")), "total = %s", bd.Total)
}

func TestCalculateWithSub(t *testing.T) {
	bd, err := Calculate(d(t, "1000"), d(t, "60"), dp(t, "40"), nil)
	require.NoError(t, err)

	// Sub takes 40% of the master's provisional 90.00; master keeps the rest.
	require.True(t, bd.Master.Equal(d(t, "54")), "master = %s", bd.Master)
	require.True(t, bd.Sub.Equal(d(t, "36")), "sub = %s", bd.Sub)
	require.True(t, bd.SubSub.IsZero())
	require.True(t, bd.Total.Equal(d(t, "90")), "total = %s", bd.Total)
}

func TestCalculateFullChain(t *testing.T) {
	bd, err := Calculate(d(t, "1000"), d(t, "60"), dp(t, "40"), dp(t, "30"))
	require.NoError(t, err)

	require.True(t, bd.Master.Equal(d(t, "54")), "master = %s", bd.Master)
	require.True(t, bd.Sub.Equal(d(t, "25.20")), "sub = %s", bd.Sub)
	require.True(t, bd.SubSub.Equal(d(t, "10.80")), "subSub = %s", bd.SubSub)
	require.True(t, bd.Total.Equal(d(t, "90")), "total = %s", bd.Total)
}

func TestCalculateZeroBase(t *testing.T) {
	for _, base := range []string{"0", "-50"} {
		bd, err := Calculate(d(t, base), d(t, "60"), dp(t, "40"), nil)
		require.NoError(t, err)
		require.True(t, bd.Master.IsZero())
		require.True(t, bd.Sub.IsZero())
		require.True(t, bd.SubSub.IsZero())
		require.True(t, bd.Total.IsZero())
	}
}

func TestCalculateFullPoolToMaster(t *testing.T) {
	bd, err := Calculate(d(t, "1000"), d(t, "100"), dp(t, "0"), nil)
	require.NoError(t, err)

	require.True(t, bd.Master.Equal(d(t, "150")), "master = %s", bd.Master)
	require.True(t, bd.Sub.IsZero())
	require.True(t, bd.Total.Equal(d(t, "150")))
}

func TestCalculateInvalidRates(t *testing.T) {
	tests := []struct {
		name       string
		master     string
		sub        *string
		subSub     *string
		wantCode   apperrors.Code
	}{
		{name: "master negative", master: "-1", wantCode: apperrors.CodeInvalidRate},
		{name: "master over 100", master: "100.01", wantCode: apperrors.CodeInvalidRate},
		{name: "sub over 100", master: "60", sub: strPtr("150"), wantCode: apperrors.CodeInvalidRate},
		{name: "sub-sub negative", master: "60", sub: strPtr("40"), subSub: strPtr("-5"), wantCode: apperrors.CodeInvalidRate},
		{name: "sub-sub without sub", master: "60", subSub: strPtr("30"), wantCode: apperrors.CodeInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sub, subSub *decimal.Decimal
			if tt.sub != nil {
				sub = dp(t, *tt.sub)
			}
			if tt.subSub != nil {
				subSub = dp(t, *tt.subSub)
			}
			_, err := Calculate(d(t, "1000"), d(t, tt.master), sub, subSub)
			require.Error(t, err)
			require.Equal(t, tt.wantCode, apperrors.CodeOf(err))
		})
	}
}

func TestCalculateSumInvariant(t *testing.T) {
	// Tier amounts always sum exactly to the reported total, and the total
	// never exceeds the rounded pool for realistic invoice amounts.
	cases := []struct {
		base, master string
		sub, subSub  *string
	}{
		{base: "1000", master: "60", sub: strPtr("40"), subSub: strPtr("30")},
		{base: "2499.99", master: "75", sub: strPtr("25"), subSub: nil},
		{base: "333.33", master: "50", sub: strPtr("50"), subSub: strPtr("50")},
		{base: "10000", master: "100", sub: strPtr("35"), subSub: strPtr("10")},
		{base: "87.65", master: "42.5", sub: nil, subSub: nil},
	}

	for _, c := range cases {
		var sub, subSub *decimal.Decimal
		if c.sub != nil {
			sub = dp(t, *c.sub)
		}
		if c.subSub != nil {
			subSub = dp(t, *c.subSub)
		}

		bd, err := Calculate(d(t, c.base), d(t, c.master), sub, subSub)
		require.NoError(t, err)

		sum := bd.Master.Add(bd.Sub).Add(bd.SubSub)
		require.True(t, sum.Equal(bd.Total), "base=%s: %s != %s", c.base, sum, bd.Total)
		require.True(t, bd.Total.LessThanOrEqual(bd.Pool),
			"base=%s: total %s exceeds pool %s", c.base, bd.Total, bd.Pool)
	}
}

func TestCalculateIsPure(t *testing.T) {
	first, err := Calculate(d(t, "1234.56"), d(t, "60"), dp(t, "40"), dp(t, "30"))
	require.NoError(t, err)
	second, err := Calculate(d(t, "1234.56"), d(t, "60"), dp(t, "40"), dp(t, "30"))
	require.NoError(t, err)

	require.True(t, first.Master.Equal(second.Master))
	require.True(t, first.Sub.Equal(second.Sub))
	require.True(t, first.SubSub.Equal(second.SubSub))
	require.True(t, first.Total.Equal(second.Total))
}

func TestCalculateRoundsHalfUpPerStep(t *testing.T) {
	// pool = round2(33.37 * 0.15) = round2(5.0055) = 5.01
	// master = round2(5.01 * 0.5) = round2(2.505) = 2.51
	bd, err := Calculate(d(t, "33.37"), d(t, "50"), nil, nil)
	require.NoError(t, err)
	require.True(t, bd.Pool.Equal(d(t, "5.01")), "pool = %s", bd.Pool)
	require.True(t, bd.Master.Equal(d(t, "2.51")), "master = %s", bd.Master)
}

func strPtr(s string) *string { return &s }
