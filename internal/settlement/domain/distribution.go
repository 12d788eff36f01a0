package settlement

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// DistributionMode selects the revenue allocation policy.
type DistributionMode string

const (
	// ModeProportional allocates revenue strictly by production share.
	ModeProportional DistributionMode = "proportional"
	// ModeSmoothed blends the proportional allocation toward the fleet average.
	ModeSmoothed DistributionMode = "smoothed"
	// ModeTolerated adjusts only deviations beyond a band around the fleet average.
	ModeTolerated DistributionMode = "tolerated"
)

// ParseDistributionMode validates and normalizes a mode string. Matching is
// case-insensitive; the canonical lowercase constant is returned.
func ParseDistributionMode(value string) (DistributionMode, bool) {
	mode := DistributionMode(strings.ToLower(value))
	switch mode {
	case ModeProportional, ModeSmoothed, ModeTolerated:
		return mode, true
	default:
		return "", false
	}
}

// ProductionRecord is one turbine's metered production for the period,
// carrying the recipient entity the turbine is assigned to.
type ProductionRecord struct {
	RecipientEntityID string
	TurbineID         string
	ProductionKwh     float64
}

// AllocationItem is one recipient row produced by a single allocation run.
type AllocationItem struct {
	RecipientEntityID  string
	TurbineID          string
	ProductionShareKwh float64
	ProductionSharePct float64
	RevenueShareCents  int64
	DistributionKey    string
}

// DistributionParams carries the mode-specific parameters.
// SmoothingFactor is required iff mode is smoothed, TolerancePct iff tolerated.
type DistributionParams struct {
	SmoothingFactor *float64
	TolerancePct    *float64
}

// DistributionResult is the outcome of one allocation run.
type DistributionResult struct {
	Items              []AllocationItem
	TotalProductionKwh float64
	PricePerKwh        float64
}

// Allocate distributes a net operator revenue across production records under
// the given mode. It is a pure function: same inputs always yield identical
// items, independent of the input record order. The sum of the returned
// RevenueShareCents equals netRevenueCents exactly; the sum of the production
// share percents equals 100 under the same residual rule.
func Allocate(records []ProductionRecord, netRevenueCents int64, mode DistributionMode, params DistributionParams) (DistributionResult, error) {
	if len(records) == 0 {
		return DistributionResult{}, ErrEmptyInput
	}
	if netRevenueCents < 0 {
		return DistributionResult{}, fmt.Errorf("%w: negative net revenue", ErrInvalidParameter)
	}
	if err := validateParams(mode, params); err != nil {
		return DistributionResult{}, err
	}

	sorted := make([]ProductionRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].TurbineID != sorted[j].TurbineID {
			return sorted[i].TurbineID < sorted[j].TurbineID
		}
		return sorted[i].RecipientEntityID < sorted[j].RecipientEntityID
	})

	var total float64
	for _, rec := range sorted {
		if rec.ProductionKwh < 0 {
			return DistributionResult{}, fmt.Errorf("%w: negative production for turbine %q", ErrInvalidParameter, rec.TurbineID)
		}
		total += rec.ProductionKwh
	}
	if total <= 0 {
		return DistributionResult{}, ErrZeroProduction
	}

	netRevenueEur := float64(netRevenueCents) / 100
	pricePerKwh := netRevenueEur / total
	average := total / float64(len(sorted))

	items := make([]AllocationItem, len(sorted))
	var sumCents int64
	for i, rec := range sorted {
		rawShare := netRevenueEur * rec.ProductionKwh / total
		share := rawShare
		key := ""

		switch mode {
		case ModeProportional:
			key = "PROPORTIONAL"
		case ModeSmoothed:
			factor := *params.SmoothingFactor
			deviation := rec.ProductionKwh - average
			share = rawShare - factor*deviation*pricePerKwh
			key = fmt.Sprintf("SMOOTHED:%.2f", factor)
		case ModeTolerated:
			pct := *params.TolerancePct
			band := average * pct / 100
			deviation := rec.ProductionKwh - average
			excess := clipToBand(deviation, band)
			share = rawShare - excess*pricePerKwh
			if excess != 0 {
				key = "TOLERATED:" + formatPct(pct) + "%:ADJUSTED"
			} else {
				key = "TOLERATED:" + formatPct(pct) + "%:WITHIN_BAND"
			}
		}

		cents := roundCents(share)
		sumCents += cents
		items[i] = AllocationItem{
			RecipientEntityID:  rec.RecipientEntityID,
			TurbineID:          rec.TurbineID,
			ProductionShareKwh: rec.ProductionKwh,
			RevenueShareCents:  cents,
			DistributionKey:    key,
		}
	}

	// Residual correction: the rounding remainder goes entirely to the row
	// with the largest production. Records are sorted by turbine then entity
	// id, so the first maximum is the stable tie-break winner.
	anchor := 0
	for i := 1; i < len(sorted); i++ {
		if sorted[i].ProductionKwh > sorted[anchor].ProductionKwh {
			anchor = i
		}
	}
	items[anchor].RevenueShareCents += netRevenueCents - sumCents

	// Production share percents are computed in basis points and closed with
	// the same residual rule so they sum to exactly 100.
	bps := make([]int64, len(sorted))
	var sumBps int64
	for i, rec := range sorted {
		bps[i] = int64(math.Round(10000 * rec.ProductionKwh / total))
		sumBps += bps[i]
	}
	bps[anchor] += 10000 - sumBps
	for i := range items {
		items[i].ProductionSharePct = float64(bps[i]) / 100
	}

	return DistributionResult{
		Items:              items,
		TotalProductionKwh: total,
		PricePerKwh:        pricePerKwh,
	}, nil
}

// clipToBand returns the portion of deviation that lies beyond the band,
// zero when the deviation is within it.
func clipToBand(deviation, band float64) float64 {
	abs := math.Abs(deviation)
	if abs <= band {
		return 0
	}
	if deviation > 0 {
		return deviation - band
	}
	return deviation + band
}

func validateParams(mode DistributionMode, params DistributionParams) error {
	switch mode {
	case ModeProportional:
		if params.SmoothingFactor != nil || params.TolerancePct != nil {
			return fmt.Errorf("%w: proportional mode takes no parameters", ErrInvalidParameter)
		}
	case ModeSmoothed:
		if params.TolerancePct != nil {
			return fmt.Errorf("%w: smoothed mode takes no tolerance", ErrInvalidParameter)
		}
		if params.SmoothingFactor == nil {
			return fmt.Errorf("%w: smoothed mode requires a smoothing factor", ErrInvalidParameter)
		}
		if f := *params.SmoothingFactor; f < 0 || f > 1 || math.IsNaN(f) {
			return fmt.Errorf("%w: smoothing factor %v out of [0,1]", ErrInvalidParameter, f)
		}
	case ModeTolerated:
		if params.SmoothingFactor != nil {
			return fmt.Errorf("%w: tolerated mode takes no smoothing factor", ErrInvalidParameter)
		}
		if params.TolerancePct == nil {
			return fmt.Errorf("%w: tolerated mode requires a tolerance percentage", ErrInvalidParameter)
		}
		if p := *params.TolerancePct; p < 0 || p > 100 || math.IsNaN(p) {
			return fmt.Errorf("%w: tolerance percentage %v out of [0,100]", ErrInvalidParameter, p)
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidParameter, mode)
	}
	return nil
}

func roundCents(eur float64) int64 {
	return int64(math.Round(eur * 100))
}

func formatPct(pct float64) string {
	return strconv.FormatFloat(pct, 'f', -1, 64)
}
