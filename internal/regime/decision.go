package regime

import (
	"fmt"

	"github.com/atlas-desktop/options-engine/pkg/types"
)

// DecisionInput carries everything the decision matrix consumes for one bar.
type DecisionInput struct {
	Vol               types.VolatilityRegime
	Gamma             types.GammaRegime
	Trend             types.TrendRegime
	IVHVRatio         float64
	DistanceToFlipPct float64
	VIX               float64
	VolSurface        *types.VolSurfaceData // optional
}

// Verdict is the raw decision-matrix output before anti-whiplash gating.
type Verdict struct {
	Action     types.Action
	Confidence float64
	Reasoning  []string // ordered human-readable clauses, one per fired rule
}

// Decide maps the regime tuple and auxiliary signals to an action. Scenarios
// are evaluated as an ordered cascade and the first match returns
// immediately; the ordering is load-bearing because several scenario
// conditions overlap. The reasoning trail records exactly which bonuses and
// penalties fired and is consumed downstream for audit.
func Decide(in DecisionInput) Verdict {
	// Scenario 1: high IV, positive gamma, range-bound. The ideal premium
	// selling setup.
	if (in.Vol == types.VolHigh || in.Vol == types.VolExtremeHigh) &&
		in.Gamma.IsPositive() && in.Trend == types.TrendRangeBound {

		confidence := 85.0
		reasoning := []string{
			fmt.Sprintf("HIGH IV environment (volatility regime %s): premium is rich", in.Vol),
			fmt.Sprintf("POSITIVE GAMMA (%s): dealer hedging dampens moves", in.Gamma),
			"RANGE-BOUND price action: no directional pressure against short premium",
		}

		if in.IVHVRatio > 1.2 {
			confidence += 5
			reasoning = append(reasoning, fmt.Sprintf("IV/HV ratio %.2f > 1.2: implied vol overpriced vs realized", in.IVHVRatio))
		}
		if in.VolSurface != nil {
			if in.VolSurface.ShouldSellPremium != nil && *in.VolSurface.ShouldSellPremium {
				confidence += 5
				reasoning = append(reasoning, "vol surface confirms premium selling")
			}
			if in.VolSurface.TermStructureRegime != nil && *in.VolSurface.TermStructureRegime == "contango" {
				confidence += 3
				reasoning = append(reasoning, "term structure in contango")
			}
		}
		if confidence > 95 {
			confidence = 95
		}

		return Verdict{Action: types.ActionSellPremium, Confidence: confidence, Reasoning: reasoning}
	}

	// Scenario 2: same vol/gamma setup but trending. Still sellable, smaller
	// edge, size discretion left to the sizing layer.
	if (in.Vol == types.VolHigh || in.Vol == types.VolExtremeHigh) &&
		in.Gamma.IsPositive() &&
		(in.Trend == types.TrendUptrend || in.Trend == types.TrendDowntrend) {

		return Verdict{
			Action:     types.ActionSellPremium,
			Confidence: 65,
			Reasoning: []string{
				fmt.Sprintf("HIGH IV (%s) with POSITIVE GAMMA (%s): premium selling viable", in.Vol, in.Gamma),
				fmt.Sprintf("trending market (%s): reduced edge, trade smaller", in.Trend),
			},
		}
	}

	// Scenario 3: negative gamma with spot below the flip point. Dealer
	// hedging amplifies upside moves, squeeze potential.
	if in.Gamma.IsNegative() && in.DistanceToFlipPct < -0.5 {
		confidence := 70.0
		reasoning := []string{
			fmt.Sprintf("NEGATIVE GAMMA (%s): dealer hedging amplifies moves", in.Gamma),
			fmt.Sprintf("spot %.2f%% below flip point: squeeze fuel above", in.DistanceToFlipPct),
		}

		if in.Trend.IsUp() {
			confidence += 10
			reasoning = append(reasoning, fmt.Sprintf("trend confirms upside (%s)", in.Trend))
		}
		if in.Vol == types.VolLow || in.Vol == types.VolExtremeLow {
			confidence += 5
			reasoning = append(reasoning, "low IV: calls are cheap")
		}
		if in.Vol == types.VolExtremeHigh {
			confidence -= 10
			reasoning = append(reasoning, "extreme IV: long premium is expensive")
		}
		if in.VIX > 25 {
			confidence += 5
			reasoning = append(reasoning, fmt.Sprintf("VIX %.1f > 25: fear elevated, squeeze risk higher", in.VIX))
		}
		if in.VolSurface != nil {
			if in.VolSurface.DirectionalBias != nil && *in.VolSurface.DirectionalBias == "bullish" {
				confidence += 5
				reasoning = append(reasoning, "vol surface skew leans bullish")
			}
			if in.VolSurface.TermStructureRegime != nil && *in.VolSurface.TermStructureRegime == "backwardation" {
				confidence += 3
				reasoning = append(reasoning, "term structure in backwardation: near-term stress priced")
			}
		}
		if confidence > 90 {
			confidence = 90
		}

		return Verdict{Action: types.ActionBuyCalls, Confidence: confidence, Reasoning: reasoning}
	}

	// Scenario 4: negative gamma with spot above the flip point. Breakdown
	// risk, mirror of scenario 3.
	if in.Gamma.IsNegative() && in.DistanceToFlipPct > 0.5 {
		confidence := 70.0
		reasoning := []string{
			fmt.Sprintf("NEGATIVE GAMMA (%s): dealer hedging amplifies moves", in.Gamma),
			fmt.Sprintf("spot %.2f%% above flip point: air pocket below", in.DistanceToFlipPct),
		}

		if in.Trend.IsDown() {
			confidence += 10
			reasoning = append(reasoning, fmt.Sprintf("trend confirms downside (%s)", in.Trend))
		}
		if in.Vol == types.VolLow || in.Vol == types.VolExtremeLow {
			confidence += 5
			reasoning = append(reasoning, "low IV: puts are cheap")
		}
		if in.Vol == types.VolExtremeHigh {
			confidence -= 10
			reasoning = append(reasoning, "extreme IV: long premium is expensive")
		}
		if in.VIX > 25 {
			confidence += 5
			reasoning = append(reasoning, fmt.Sprintf("VIX %.1f > 25: fear elevated", in.VIX))
		}
		if in.VolSurface != nil {
			if in.VolSurface.DirectionalBias != nil && *in.VolSurface.DirectionalBias == "bearish" {
				confidence += 5
				reasoning = append(reasoning, "vol surface skew leans bearish")
			}
			if in.VolSurface.TermStructureRegime != nil && *in.VolSurface.TermStructureRegime == "backwardation" {
				confidence += 3
				reasoning = append(reasoning, "term structure in backwardation: near-term stress priced")
			}
		}
		if confidence > 90 {
			confidence = 90
		}

		return Verdict{Action: types.ActionBuyPuts, Confidence: confidence, Reasoning: reasoning}
	}

	// Scenario 5: extreme IV in a range, regardless of gamma. Vol crush trade.
	if in.Vol == types.VolExtremeHigh && in.Trend == types.TrendRangeBound {
		confidence := 70.0
		reasoning := []string{
			"EXTREME HIGH IV in a range-bound market: mean reversion in vol likely",
		}
		if in.IVHVRatio > 1.3 {
			confidence += 10
			reasoning = append(reasoning, fmt.Sprintf("IV/HV ratio %.2f > 1.3: large premium over realized", in.IVHVRatio))
		}

		return Verdict{Action: types.ActionSellPremium, Confidence: confidence, Reasoning: reasoning}
	}

	// Scenario 6: extreme low IV. Premium is cheap, buy direction if the
	// trend offers one.
	if in.Vol == types.VolExtremeLow {
		reasoning := []string{"EXTREME LOW IV: options are cheap, favor long premium"}

		switch {
		case in.Trend.IsUp():
			reasoning = append(reasoning, fmt.Sprintf("trend favors upside (%s)", in.Trend))
			return Verdict{Action: types.ActionBuyCalls, Confidence: 60, Reasoning: reasoning}
		case in.Trend.IsDown():
			reasoning = append(reasoning, fmt.Sprintf("trend favors downside (%s)", in.Trend))
			return Verdict{Action: types.ActionBuyPuts, Confidence: 60, Reasoning: reasoning}
		default:
			reasoning = append(reasoning, "no directional edge: wait for a trend")
			return Verdict{Action: types.ActionStayFlat, Confidence: 40, Reasoning: reasoning}
		}
	}

	// Default: no scenario matched.
	return Verdict{
		Action:     types.ActionStayFlat,
		Confidence: 30,
		Reasoning: []string{
			fmt.Sprintf("no clear setup: volatility %s, gamma %s, trend %s", in.Vol, in.Gamma, in.Trend),
		},
	}
}
