package filter

import "github.com/0xmuggle/cc-ax-bot/internal/surge"

// Metrics are the values derived from a token under a spec.
type Metrics struct {
	SurgedMarketCapUSD         float64                      `json:"surged_market_cap_usd"`
	CurrentMarketCapUSD        float64                      `json:"current_market_cap_usd"`
	PeakMarketCapUSD           float64                      `json:"peak_market_cap_usd"`
	EstimatedEntryMarketCapUSD float64                      `json:"estimated_entry_market_cap_usd"`
	PeakToEntryMultiple        float64                      `json:"peak_to_entry_multiple"`
	PriceChange                float64                      `json:"price_change"`
	CheckpointMarketCaps       map[surge.Checkpoint]float64 `json:"checkpoint_market_caps,omitempty"`
}

// Derive computes the spec-dependent metrics for tok.
//
// The estimated entry market cap is the larger of the surged market cap scaled
// by the spec's minimum price-change multiple and the market cap at the latest
// checkpoint the spec constrains, when that checkpoint is recorded.
func Derive(tok *surge.Token, spec Spec, solPriceUSD float64) Metrics {
	s := tok.Current
	m := Metrics{
		SurgedMarketCapUSD:   s.MarketCapUSD(s.SurgedPrice, solPriceUSD),
		CurrentMarketCapUSD:  s.MarketCapUSD(s.CurrentPriceSol, solPriceUSD),
		PeakMarketCapUSD:     s.MarketCapUSD(s.MaxSurgedPrice, solPriceUSD),
		PriceChange:          priceChange(s),
		CheckpointMarketCaps: make(map[surge.Checkpoint]float64, len(s.Checkpoints)),
	}
	for cp, p := range s.Checkpoints {
		m.CheckpointMarketCaps[cp] = s.MarketCapUSD(p, solPriceUSD)
	}

	multiple := 1.0
	if spec.PriceChangeMin != nil && *spec.PriceChangeMin > multiple {
		multiple = *spec.PriceChangeMin
	}
	m.EstimatedEntryMarketCapUSD = m.SurgedMarketCapUSD * multiple

	if cp, ok := latestConstrained(spec); ok {
		if mc, recorded := m.CheckpointMarketCaps[cp]; recorded && mc > m.EstimatedEntryMarketCapUSD {
			m.EstimatedEntryMarketCapUSD = mc
		}
	}

	if m.EstimatedEntryMarketCapUSD > 0 {
		m.PeakToEntryMultiple = m.PeakMarketCapUSD / m.EstimatedEntryMarketCapUSD
	}
	return m
}

func latestConstrained(spec Spec) (surge.Checkpoint, bool) {
	for i := len(surge.Checkpoints) - 1; i >= 0; i-- {
		cp := surge.Checkpoints[i]
		if r, ok := spec.CheckpointMarketCap[cp]; ok && r.Set() {
			return cp, true
		}
	}
	return "", false
}
