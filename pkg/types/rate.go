package types

import "time"

// NoTime marks an unset daily or weekly window bound on a RateRule.
const NoTime = -1

// HourlyCharge is a posted price for a variable rate covering a single
// hour. The time identifies the hour; minutes and below are ignored.
type HourlyCharge struct {
	AtTime time.Time `json:"atTime"`
	Value  float64   `json:"value"`
}

// RateProbe supplies risk-adjusted per-kWh values for variable rates
// during cost estimation. It is implemented by the estimator and passed
// through the time-parameterized charge path.
type RateProbe interface {
	// WeightedValue blends the rule's claimed expectedMean/maxValue with
	// the tariff's realized price.
	WeightedValue(r *RateRule) float64

	// Expected regulation quantities in kWh per timeslot.
	ExpectedCurtailment() float64
	ExpectedDischarge() float64
	ExpectedDownRegulation() float64
}

// RateRule is a single pricing rule within a tariff contract. A rule may be
// constrained to a daily window (hours, inclusive), a weekly window (days
// 1-7, Monday=1, inclusive), and a cumulative-usage tier. Values are per
// kWh from the customer's point of view: negative for consumption rates
// (the customer pays), positive for production rates.
//
// A rule is immutable once published, except that variable rates accept
// posted HourlyCharges through the owning tariff.
type RateRule struct {
	ID string `json:"id"`

	// Daily window, hours 0-23 inclusive, NoTime when unset. A window with
	// End < Begin wraps past midnight.
	DailyBegin int `json:"dailyBegin"`
	DailyEnd   int `json:"dailyEnd"`

	// Weekly window, days 1-7 inclusive with Monday=1, NoTime when unset.
	// A window with End < Begin wraps past the week boundary.
	WeeklyBegin int `json:"weeklyBegin"`
	WeeklyEnd   int `json:"weeklyEnd"`

	// TierThreshold is the daily cumulative usage (kWh) above which this
	// rule applies. Zero is the base tier. Production tariffs use negative
	// thresholds.
	TierThreshold float64 `json:"tierThreshold"`

	// Fixed rules price at Value. Variable rules price at the posted
	// HourlyCharge for the hour, falling back to ExpectedMean, and commit
	// to never exceeding MaxValue.
	Fixed        bool    `json:"fixed"`
	Value        float64 `json:"value"`
	ExpectedMean float64 `json:"expectedMean"`
	MaxValue     float64 `json:"maxValue"`

	// MaxCurtailment is the fraction (0-1) of usage that may be curtailed
	// in a timeslot under this rule.
	MaxCurtailment float64 `json:"maxCurtailment"`

	// HourlyCharges holds posted prices for variable rates, managed by the
	// owning tariff.
	HourlyCharges []HourlyCharge `json:"hourlyCharges,omitempty"`
}

// NewRateRule returns a rule with both windows unset.
func NewRateRule() *RateRule {
	return &RateRule{
		DailyBegin:  NoTime,
		DailyEnd:    NoTime,
		WeeklyBegin: NoTime,
		WeeklyEnd:   NoTime,
	}
}

// IsTimeOfUse returns true if the rule is constrained to a daily or weekly
// window.
func (r *RateRule) IsTimeOfUse() bool {
	return r.DailyBegin >= 0 || r.WeeklyBegin >= 0
}

// ValueAt returns the per-kWh value of this rule at the given time. Fixed
// rules always return Value. Variable rules return the probe's weighted
// value when a probe is supplied (estimation), otherwise the posted hourly
// charge for the hour, otherwise ExpectedMean.
func (r *RateRule) ValueAt(when time.Time, probe RateProbe) float64 {
	if r.Fixed {
		return r.Value
	}
	if probe != nil {
		return probe.WeightedValue(r)
	}
	hour := when.UTC().Truncate(time.Hour)
	for i := len(r.HourlyCharges) - 1; i >= 0; i-- {
		if r.HourlyCharges[i].AtTime.UTC().Truncate(time.Hour).Equal(hour) {
			return r.HourlyCharges[i].Value
		}
	}
	return r.ExpectedMean
}

// AddHourlyCharge appends a posted price to a variable rate. Charges for
// hours already posted replace the earlier posting by virtue of ValueAt
// scanning newest-first. Fixed rules reject postings.
func (r *RateRule) AddHourlyCharge(hc HourlyCharge) bool {
	if r.Fixed {
		return false
	}
	r.HourlyCharges = append(r.HourlyCharges, hc)
	return true
}

// RegulationRule prices demand-response events separately from ordinary
// usage. Payments are per kWh and signed by payment direction, not energy
// direction: UpRegulationPayment is paid to the customer for curtailment or
// discharge, DownRegulationPayment is paid by the customer for absorbing
// energy.
type RegulationRule struct {
	UpRegulationPayment   float64 `json:"upRegulationPayment"`
	DownRegulationPayment float64 `json:"downRegulationPayment"`
}
