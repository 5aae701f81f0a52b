// Package regime_test provides tests for the regime rules.
package regime_test

import (
	"math"
	"testing"

	"github.com/atlas-desktop/options-engine/internal/regime"
	"github.com/atlas-desktop/options-engine/pkg/types"
)

func TestClassifyVolatilityBoundaries(t *testing.T) {
	cases := []struct {
		ivRank float64
		want   types.VolatilityRegime
	}{
		{100, types.VolExtremeHigh},
		{80, types.VolExtremeHigh},
		{79.999, types.VolHigh},
		{60, types.VolHigh},
		{59.999, types.VolNormal},
		{40, types.VolNormal},
		{39.999, types.VolLow},
		{20, types.VolLow},
		{19.999, types.VolExtremeLow},
		{0, types.VolExtremeLow},
	}

	for _, tc := range cases {
		if got := regime.ClassifyVolatility(tc.ivRank); got != tc.want {
			t.Errorf("ClassifyVolatility(%v) = %v, want %v", tc.ivRank, got, tc.want)
		}
	}
}

func TestClassifyGammaBoundaries(t *testing.T) {
	cases := []struct {
		netGEX float64
		want   types.GammaRegime
	}{
		{3e9, types.GammaStrongPositive},
		{2e9, types.GammaStrongPositive},
		{1.999e9, types.GammaPositive},
		{0.5e9, types.GammaPositive},
		{0.499e9, types.GammaNeutral},
		{0, types.GammaNeutral},
		{-0.499e9, types.GammaNeutral},
		{-0.5e9, types.GammaNegative},
		{-1.999e9, types.GammaNegative},
		{-2e9, types.GammaStrongNegative},
		{-3e9, types.GammaStrongNegative},
	}

	for _, tc := range cases {
		if got := regime.ClassifyGamma(tc.netGEX); got != tc.want {
			t.Errorf("ClassifyGamma(%v) = %v, want %v", tc.netGEX, got, tc.want)
		}
	}
}

func TestPctFromFlip(t *testing.T) {
	if got := regime.PctFromFlip(585, 0); got != 0 {
		t.Errorf("Expected 0 with zero flip, got %v", got)
	}
	if got := regime.PctFromFlip(585, -10); got != 0 {
		t.Errorf("Expected 0 with negative flip, got %v", got)
	}

	got := regime.PctFromFlip(585, 583)
	want := (585.0 - 583.0) / 583.0 * 100
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("PctFromFlip(585, 583) = %v, want %v", got, want)
	}
}

func TestClassifyTrend(t *testing.T) {
	cases := []struct {
		name string
		in   regime.TrendInputs
		want types.TrendRegime
	}{
		{
			name: "strong uptrend",
			in:   regime.TrendInputs{PctFromFlip: 1.5, Momentum4H: 0.8, Above20MA: true, Above50MA: true},
			want: types.TrendStrongUptrend,
		},
		{
			name: "strong downtrend",
			in:   regime.TrendInputs{PctFromFlip: -1.5, Momentum4H: -0.8, Above20MA: false, Above50MA: false},
			want: types.TrendStrongDowntrend,
		},
		{
			name: "uptrend via 20ma",
			in:   regime.TrendInputs{PctFromFlip: 0.1, Momentum4H: 0.3, Above20MA: true, Above50MA: false},
			want: types.TrendUptrend,
		},
		{
			name: "uptrend via flip distance",
			in:   regime.TrendInputs{PctFromFlip: 0.6, Momentum4H: 0.3, Above20MA: false, Above50MA: false},
			want: types.TrendUptrend,
		},
		{
			name: "downtrend",
			in:   regime.TrendInputs{PctFromFlip: -0.1, Momentum4H: -0.3, Above20MA: false, Above50MA: true},
			want: types.TrendDowntrend,
		},
		{
			name: "range bound on weak momentum",
			in:   regime.TrendInputs{PctFromFlip: 0.3, Momentum4H: 0.1, Above20MA: true, Above50MA: true},
			want: types.TrendRangeBound,
		},
		{
			name: "strong conditions without momentum fall through",
			in:   regime.TrendInputs{PctFromFlip: 1.5, Momentum4H: 0.3, Above20MA: true, Above50MA: true},
			want: types.TrendUptrend,
		},
		{
			name: "positive momentum below both MAs and near flip",
			in:   regime.TrendInputs{PctFromFlip: 0.1, Momentum4H: 0.3, Above20MA: false, Above50MA: false},
			want: types.TrendRangeBound,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := regime.ClassifyTrend(tc.in); got != tc.want {
				t.Errorf("ClassifyTrend(%+v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}
