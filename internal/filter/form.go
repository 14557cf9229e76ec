package filter

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/0xmuggle/cc-ax-bot/internal/surge"
)

// ErrBadRange is returned when a form field cannot be parsed.
var ErrBadRange = errors.New("filter: bad range")

// Form is the string-encoded filter the dashboard submits. Ranges take the
// forms "10" (minimum only), "10,20", ",20" and "10,". Market caps are in
// thousands of USD.
type Form struct {
	Ticker      string `json:"ticker,omitempty"`
	TickerExact bool   `json:"ticker_exact,omitempty"`

	MarketCapK           string            `json:"market_cap_k,omitempty"`
	CheckpointMarketCapK map[string]string `json:"checkpoint_market_cap_k,omitempty"`

	Top10Max    *float64 `json:"top10_max,omitempty"`
	DevHoldMax  *float64 `json:"dev_hold_max,omitempty"`
	PriceChange *float64 `json:"price_change,omitempty"`

	VolumeK string `json:"volume_k,omitempty"`
	TotalTx string `json:"total_tx,omitempty"`
	Bundled string `json:"bundled,omitempty"`

	Platform string `json:"platform,omitempty"`
	Social   string `json:"social,omitempty"`

	HighMultiple  *float64 `json:"high_multiple,omitempty"`
	RepeatSignals int      `json:"repeat_signals,omitempty"`

	// TimeRanges is a list like "9:00-12:30,20:00-23:00".
	TimeRanges string `json:"time_ranges,omitempty"`
	OnlyRising bool   `json:"only_rising,omitempty"`

	MinAgeMinutes float64 `json:"min_age_minutes,omitempty"`
	MaxAgeMinutes float64 `json:"max_age_minutes,omitempty"`
}

// ParseForm converts a form into a typed Spec.
func ParseForm(f Form) (Spec, error) {
	spec := Spec{
		Ticker:         strings.TrimSpace(f.Ticker),
		TickerExact:    f.TickerExact,
		Top10Max:       f.Top10Max,
		DevHoldMax:     f.DevHoldMax,
		PriceChangeMin: f.PriceChange,
		HighMultiple:   f.HighMultiple,
		MinSignals:     f.RepeatSignals,
		OnlyRising:     f.OnlyRising,
		Platforms:      splitTerms(f.Platform),
		Socials:        splitTerms(f.Social),
		MinAge:         time.Duration(f.MinAgeMinutes * float64(time.Minute)),
		MaxAge:         time.Duration(f.MaxAgeMinutes * float64(time.Minute)),
	}
	if spec.MinAge < 0 || spec.MaxAge < 0 || (spec.MaxAge > 0 && spec.MinAge > spec.MaxAge) {
		return Spec{}, fmt.Errorf("%w: age window %v-%v", ErrBadRange, spec.MinAge, spec.MaxAge)
	}

	var err error
	if spec.MarketCap, err = parseRange("market_cap_k", f.MarketCapK, 1000); err != nil {
		return Spec{}, err
	}
	if spec.VolumeK, err = parseRange("volume_k", f.VolumeK, 1); err != nil {
		return Spec{}, err
	}
	if spec.TxCount, err = parseRange("total_tx", f.TotalTx, 1); err != nil {
		return Spec{}, err
	}
	if spec.Bundlers, err = parseRange("bundled", f.Bundled, 1); err != nil {
		return Spec{}, err
	}

	for key, raw := range f.CheckpointMarketCapK {
		cp := surge.Checkpoint(strings.ToLower(strings.TrimSpace(key)))
		if !cp.Valid() {
			return Spec{}, fmt.Errorf("%w: unknown checkpoint %q", ErrBadRange, key)
		}
		r, err := parseRange("checkpoint "+key, raw, 1000)
		if err != nil {
			return Spec{}, err
		}
		if !r.Set() {
			continue
		}
		if spec.CheckpointMarketCap == nil {
			spec.CheckpointMarketCap = make(map[surge.Checkpoint]Range)
		}
		spec.CheckpointMarketCap[cp] = r
	}

	if spec.TimeOfDay, err = parseTimeRanges(f.TimeRanges); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

func parseRange(field, raw string, scale float64) (Range, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Range{}, nil
	}

	lo, hi, hasComma := strings.Cut(raw, ",")
	var r Range
	if v, ok, err := parseBound(lo, scale); err != nil {
		return Range{}, fmt.Errorf("%w: %s %q", ErrBadRange, field, raw)
	} else if ok {
		r.Min = &v
	}
	if hasComma {
		if v, ok, err := parseBound(hi, scale); err != nil {
			return Range{}, fmt.Errorf("%w: %s %q", ErrBadRange, field, raw)
		} else if ok {
			r.Max = &v
		}
	}
	if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
		return Range{}, fmt.Errorf("%w: %s min above max", ErrBadRange, field)
	}
	return r, nil
}

func parseBound(s string, scale float64) (float64, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, err
	}
	return v * scale, true, nil
}

func parseTimeRanges(raw string) ([]TimeWindow, error) {
	var out []TimeWindow
	for _, part := range splitTerms(raw) {
		from, to, ok := strings.Cut(part, "-")
		if !ok {
			return nil, fmt.Errorf("%w: time range %q", ErrBadRange, part)
		}
		f, err := parseClock(from)
		if err != nil {
			return nil, err
		}
		t, err := parseClock(to)
		if err != nil {
			return nil, err
		}
		out = append(out, TimeWindow{From: f, To: t})
	}
	return out, nil
}

func parseClock(s string) (int, error) {
	s = strings.TrimSpace(s)
	hh, mm, hasMin := strings.Cut(s, ":")
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("%w: clock %q", ErrBadRange, s)
	}
	m := 0
	if hasMin {
		if m, err = strconv.Atoi(mm); err != nil || m < 0 || m > 59 {
			return 0, fmt.Errorf("%w: clock %q", ErrBadRange, s)
		}
	}
	return h*60 + m, nil
}

func splitTerms(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
