package sniper

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// RetracementSegment is one linear piece of the retracement curve:
// ratio = Base + Slope*(peakK - Anchor) for peakK up to UpToK. The last
// segment leaves UpToK at zero and runs unbounded.
type RetracementSegment struct {
	UpToK  float64 `yaml:"up_to_k"`
	Base   float64 `yaml:"base"`
	Slope  float64 `yaml:"slope"`
	Anchor float64 `yaml:"anchor"`
}

// DefaultRetracement is the three-segment curve keyed at 60K and 140K peak
// market cap. Early peaks may give back more; larger peaks lock in sooner.
func DefaultRetracement() []RetracementSegment {
	return []RetracementSegment{
		{UpToK: 60, Base: 0.32, Slope: 0.00165, Anchor: 40},
		{UpToK: 140, Base: 0.353, Slope: -0.0004, Anchor: 60},
		{Base: 0.321, Slope: -0.0002, Anchor: 140},
	}
}

func (s RetracementSegment) at(peakK float64) decimal.Decimal {
	return decimal.NewFromFloat(s.Base).Add(
		decimal.NewFromFloat(s.Slope).Mul(decimal.NewFromFloat(peakK).Sub(decimal.NewFromFloat(s.Anchor))),
	)
}

// ValidateRetracement checks that the curve is ordered and continuous at
// every breakpoint.
func ValidateRetracement(segs []RetracementSegment) error {
	if len(segs) == 0 {
		return fmt.Errorf("retracement: no segments")
	}
	for i := 0; i < len(segs)-1; i++ {
		cur, next := segs[i], segs[i+1]
		if cur.UpToK <= 0 {
			return fmt.Errorf("retracement: segment %d needs an upper bound", i)
		}
		if next.UpToK != 0 && next.UpToK <= cur.UpToK {
			return fmt.Errorf("retracement: segment %d bound %.2f not above %.2f", i+1, next.UpToK, cur.UpToK)
		}
		left, _ := cur.at(cur.UpToK).Float64()
		right, _ := next.at(cur.UpToK).Float64()
		if math.Abs(left-right) > 1e-9 {
			return fmt.Errorf("retracement: discontinuous at %.2fK (%.6f vs %.6f)", cur.UpToK, left, right)
		}
	}
	if segs[len(segs)-1].UpToK != 0 {
		return fmt.Errorf("retracement: last segment must be unbounded")
	}
	return nil
}

// RetracementRatio returns the fraction of the peak a position may give back
// before the drawdown exit fires. peakK is the peak market cap in thousands.
func RetracementRatio(segs []RetracementSegment, peakK, minRatio float64) float64 {
	r := ratioAt(segs, peakK)
	v, _ := r.Float64()
	if v < minRatio {
		return minRatio
	}
	return v
}

// DynamicSellPriceK is the market cap, in thousands, at or below which the
// drawdown exit fires.
func DynamicSellPriceK(segs []RetracementSegment, peakK, minRatio float64) float64 {
	r := ratioAt(segs, peakK)
	if v, _ := r.Float64(); v < minRatio {
		r = decimal.NewFromFloat(minRatio)
	}
	v, _ := decimal.NewFromFloat(peakK).Mul(decimal.NewFromInt(1).Sub(r)).Float64()
	return v
}

func ratioAt(segs []RetracementSegment, peakK float64) decimal.Decimal {
	for _, s := range segs {
		if s.UpToK == 0 || peakK <= s.UpToK {
			return s.at(peakK)
		}
	}
	return segs[len(segs)-1].at(peakK)
}
