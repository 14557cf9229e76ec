package filter

import (
	"strings"
	"time"

	"github.com/0xmuggle/cc-ax-bot/internal/surge"
)

// Match reports whether tok satisfies every constraint in spec. The timing
// window is only enforced when checkTiming is set, which strategy matching
// does and the dashboard view does not.
func Match(tok *surge.Token, spec Spec, solPriceUSD float64, now time.Time, checkTiming bool) bool {
	s := tok.Current

	if checkTiming {
		minAge, maxAge := spec.ageWindow()
		age := tok.Age(now)
		if age < minAge || age > maxAge {
			return false
		}
	}

	if spec.Ticker != "" && !matchTicker(s.TokenTicker, spec.Ticker, spec.TickerExact) {
		return false
	}

	if !spec.MarketCap.Contains(s.MarketCapSol * solPriceUSD) {
		return false
	}

	for cp, r := range spec.CheckpointMarketCap {
		if !r.Set() {
			continue
		}
		price, ok := s.PriceAt(cp)
		if !ok {
			return false
		}
		if !r.Contains(s.MarketCapUSD(price, solPriceUSD)) {
			return false
		}
	}

	if spec.Top10Max != nil && s.Top10HoldersPercent > *spec.Top10Max {
		return false
	}
	if spec.DevHoldMax != nil && s.DevHoldsPercent > *spec.DevHoldMax {
		return false
	}

	if spec.PriceChangeMin != nil && priceChange(s) < *spec.PriceChangeMin {
		return false
	}

	if !spec.VolumeK.Contains(s.VolumeSol * solPriceUSD / 1000) {
		return false
	}
	if !spec.TxCount.Contains(float64(s.TransactionCount)) {
		return false
	}
	if !spec.Bundlers.Contains(s.BundlersHoldPercent) {
		return false
	}

	if len(spec.Platforms) > 0 {
		protocol := strings.ToLower(s.Protocol)
		for _, p := range spec.Platforms {
			if !strings.Contains(protocol, strings.ToLower(p)) {
				return false
			}
		}
	}

	if len(spec.Socials) > 0 && !matchSocials(s.Socials(), spec.Socials) {
		return false
	}

	if spec.MinSignals > 1 && len(tok.Surges) < spec.MinSignals-1 {
		return false
	}

	if len(spec.TimeOfDay) > 0 && !inAnyWindow(s.DetectedAt, spec.TimeOfDay) {
		return false
	}

	if spec.OnlyRising && !rising(s) {
		return false
	}

	return true
}

// IsHighMultiple reports whether the token's surge peak is at least the spec's
// HighMultiple above its current price.
func IsHighMultiple(tok *surge.Token, spec Spec) bool {
	if spec.HighMultiple == nil || *spec.HighMultiple <= 0 {
		return false
	}
	cur := tok.Current.CurrentPriceSol
	if cur <= 0 {
		return false
	}
	return tok.Current.MaxSurgedPrice/cur >= *spec.HighMultiple
}

func matchTicker(ticker, want string, exact bool) bool {
	if exact {
		return strings.EqualFold(ticker, want)
	}
	return strings.Contains(strings.ToLower(ticker), strings.ToLower(want))
}

func matchSocials(links, terms []string) bool {
	for _, term := range terms {
		term = strings.ToLower(term)
		found := false
		for _, l := range links {
			if strings.Contains(strings.ToLower(l), term) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func inAnyWindow(t time.Time, windows []TimeWindow) bool {
	for _, w := range windows {
		if w.Contains(t) {
			return true
		}
	}
	return false
}

// rising holds when the recorded checkpoint prices never decrease and the
// current price is not below the latest of them.
func rising(s surge.Sighting) bool {
	last, seen := 0.0, false
	for _, cp := range surge.Checkpoints {
		p, ok := s.PriceAt(cp)
		if !ok {
			continue
		}
		if seen && p < last {
			return false
		}
		last, seen = p, true
	}
	return !seen || s.CurrentPriceSol >= last
}

func priceChange(s surge.Sighting) float64 {
	if s.SurgedPrice <= 0 {
		return 0
	}
	return s.MaxSurgedPrice / s.SurgedPrice
}
