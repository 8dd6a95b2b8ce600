// Package estimator produces risk-adjusted cost estimates for tariffs.
//
// A variable-rate tariff advertises an expectedMean and a maxValue per
// rate, and accumulates an empirically realized price as energy is sold
// through it. The estimate blends the two as
//
//	alpha * (normWtExpected*expectedMean + normWtMax*maxValue)
//	    + (1-alpha) * realizedPrice
//
// where alpha = 1 - wtRealized*(1 - 1/(1 + totalUsage/soldThreshold)), so
// a tariff with no sales history is priced entirely off its claims and the
// realized price gains weight (up to wtRealized) as volume grows.
package estimator

import (
	"log/slog"
	"math"
	"time"

	"github.com/gridrater/gridrater/pkg/tariff"
	"github.com/gridrater/gridrater/pkg/types"
)

const (
	defaultWtExpected    = 0.6
	defaultWtMax         = 0.4
	defaultWtRealized    = 0.8
	defaultSoldThreshold = 10000.0
)

// Helper is a stateful estimation probe. The intended use is one instance
// per customer model, reused sequentially across tariffs: every estimation
// entry point resets the transient state, so a Helper must never be shared
// between concurrent estimations.
type Helper struct {
	wtExpected    float64
	wtMax         float64
	wtRealized    float64
	soldThreshold float64

	// normalized so they always sum to 1
	normWtExpected float64
	normWtMax      float64

	// expected regulation quantities in kWh per timeslot
	expCurtail   float64
	expDischarge float64
	expDown      float64

	// per-estimation state
	alpha  float64
	tariff *tariff.Tariff
}

var _ types.RateProbe = (*Helper)(nil)

// NewHelper returns a Helper with the default cost factors.
func NewHelper() *Helper {
	h := &Helper{
		wtExpected:    defaultWtExpected,
		wtMax:         defaultWtMax,
		wtRealized:    defaultWtRealized,
		soldThreshold: defaultSoldThreshold,
	}
	h.normalizeWeights()
	return h
}

// InitializeCostFactors sets the blend parameters. wtExpected and wtMax
// are normalized against each other; wtRealized is clamped into [0,1].
func (h *Helper) InitializeCostFactors(wtExpected, wtMax, wtRealized, soldThreshold float64) {
	h.wtExpected = wtExpected
	h.wtMax = wtMax
	h.SetWtRealized(wtRealized)
	h.soldThreshold = soldThreshold
	h.reset()
}

// InitializeRegulationFactors sets the expected per-timeslot regulation
// quantities used to adjust per-kWh prices on tariffs with a regulation
// rule. All default to zero.
func (h *Helper) InitializeRegulationFactors(expectedCurtailment, expectedDischarge, expectedDownReg float64) {
	h.expCurtail = expectedCurtailment
	h.expDischarge = expectedDischarge
	h.expDown = expectedDownReg
}

// SetWtRealized sets the realized-price weight, clamping out-of-range
// values with a logged correction rather than rejecting them.
func (h *Helper) SetWtRealized(wt float64) {
	if wt < 0 || wt > 1 {
		slog.Warn("realized-price weight out of range, clamping",
			slog.Float64("wtRealized", wt))
		wt = math.Min(math.Max(wt, 0), 1)
	}
	h.wtRealized = wt
}

// reset clears per-estimation state and renormalizes the weights. Called
// at the start of every estimation entry point.
func (h *Helper) reset() {
	h.alpha = 0
	h.tariff = nil
	h.normalizeWeights()
}

func (h *Helper) normalizeWeights() {
	sum := h.wtExpected + h.wtMax
	h.normWtExpected = h.wtExpected / sum
	h.normWtMax = h.wtMax / sum
}

func (h *Helper) computeAlpha(t *tariff.Tariff) {
	h.alpha = 1.0 - h.wtRealized*(1.0-1.0/(1.0+t.TotalUsage()/h.soldThreshold))
}

// EstimateCost estimates the total cost of putting the given hourly usage
// profile through the tariff, starting one hour after start. A zero start
// means the tariff's next simulated timeslot. Periodic payments are spread
// as periodicPayment/24 per hour when requested; signup and withdrawal
// payments are never included. The daily-usage accumulator that probes the
// tier structure resets whenever the advancing time crosses hour 0 UTC.
func (h *Helper) EstimateCost(t *tariff.Tariff, usage []float64, start time.Time, includePeriodicCharge bool) (float64, error) {
	perHour, err := h.EstimateCostArray(t, usage, start, includePeriodicCharge)
	if err != nil {
		return 0, err
	}
	total := 0.0
	for _, v := range perHour {
		total += v
	}
	return total, nil
}

// EstimateCostArray is EstimateCost with the per-hour breakdown preserved:
// element i is the estimated charge for usage[i].
func (h *Helper) EstimateCostArray(t *tariff.Tariff, usage []float64, start time.Time, includePeriodicCharge bool) ([]float64, error) {
	h.reset()
	h.tariff = t
	h.computeAlpha(t)

	when := start
	if when.IsZero() {
		when = t.Now()
	}

	dailyUsage := 0.0
	result := make([]float64, len(usage))
	for i := range usage {
		when = when.Add(time.Hour)
		amt, err := t.UsageChargeAt(when, usage[i], dailyUsage, h)
		if err != nil {
			return nil, err
		}
		result[i] = amt
		if includePeriodicCharge {
			result[i] += t.PeriodicPayment() / 24.0
		}
		if when.UTC().Hour() == 0 {
			dailyUsage = 0
		} else {
			dailyUsage += usage[i]
		}
	}
	return result, nil
}

// WeightedValue implements the types.RateProbe interface: the confidence
// blend of a rate's claimed statistics with the tariff's realized price.
func (h *Helper) WeightedValue(r *types.RateRule) float64 {
	return h.alpha*(h.normWtExpected*r.ExpectedMean+h.normWtMax*r.MaxValue) +
		(1.0-h.alpha)*h.tariff.RealizedPrice()
}

// ExpectedCurtailment implements the types.RateProbe interface.
func (h *Helper) ExpectedCurtailment() float64 {
	return h.expCurtail
}

// ExpectedDischarge implements the types.RateProbe interface.
func (h *Helper) ExpectedDischarge() float64 {
	return h.expDischarge
}

// ExpectedDownRegulation implements the types.RateProbe interface.
func (h *Helper) ExpectedDownRegulation() float64 {
	return h.expDown
}

// Alpha returns the confidence factor computed by the last estimation.
func (h *Helper) Alpha() float64 {
	return h.alpha
}

// NormWtExpected returns the normalized expected-mean weight.
func (h *Helper) NormWtExpected() float64 {
	return h.normWtExpected
}

// NormWtMax returns the normalized max-value weight.
func (h *Helper) NormWtMax() float64 {
	return h.normWtMax
}

// WtRealized returns the realized-price weight.
func (h *Helper) WtRealized() float64 {
	return h.wtRealized
}

// SoldThreshold returns the usage volume at which trust in the realized
// price reaches half of wtRealized.
func (h *Helper) SoldThreshold() float64 {
	return h.soldThreshold
}
