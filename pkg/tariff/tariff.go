// Package tariff is the pricing core of the rating engine. It compiles a
// published TariffContract into a dense rate lookup table, evaluates usage
// and regulation charges against it, and tracks the tariff's lifecycle and
// realized price.
package tariff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gridrater/gridrater/pkg/clock"
	"github.com/gridrater/gridrater/pkg/log"
	"github.com/gridrater/gridrater/pkg/types"
)

// State is the lifecycle state of a tariff.
type State string

const (
	StatePending   State = "PENDING"
	StateOffered   State = "OFFERED"
	StateActive    State = "ACTIVE"
	StateWithdrawn State = "WITHDRAWN"
	StateKilled    State = "KILLED"
)

var (
	// ErrNotCovered is returned by Init when the contract's rules leave at
	// least one (tier, hour) cell without a rate.
	ErrNotCovered = errors.New("rate rules do not cover every tier and hour")

	// ErrNotAnalyzed is returned by charge queries issued before a
	// successful Init. This is a caller bug, not a recoverable condition.
	ErrNotAnalyzed = errors.New("tariff not analyzed")

	// ErrNoRate signals an empty cell in the compiled map.
	ErrNoRate = errors.New("no applicable rate")
)

// Tariff wraps one immutable TariffContract together with its compiled
// rate map, lifecycle state, and realized-price accumulators.
//
// The compiled map is built exactly once by Init and is read-only after
// that, so concurrent charge probes are safe. The accumulators are written
// only through the recording charge entry points and must be serialized by
// the surrounding accounting system if billing events for one tariff are
// processed concurrently.
type Tariff struct {
	contract *types.TariffContract
	clk      clock.Clock

	state        State
	offerDate    time.Time
	expiration   time.Time
	supersededBy *Tariff

	// realized-price accumulators
	totalCost  float64
	totalUsage float64

	// rule lookup for hourly-charge updates
	rulesByID map[string]*types.RateRule

	m        *RateMap
	analyzed bool
}

// New wraps a contract in a PENDING tariff. The tariff is not usable until
// Init has compiled the rate map and confirmed coverage.
func New(contract *types.TariffContract, clk clock.Clock) *Tariff {
	t := &Tariff{
		contract:   contract,
		clk:        clk,
		state:      StatePending,
		expiration: contract.Expiration,
		rulesByID:  make(map[string]*types.RateRule, len(contract.Rates)),
	}
	for _, r := range contract.Rates {
		t.rulesByID[r.ID] = r
	}
	return t
}

// Init compiles the rate map, verifies coverage, stamps the offer date,
// registers the tariff, and resolves supersession declarations. On
// incomplete coverage the tariff is left unregistered and unusable and
// ErrNotCovered is returned. Supersession targets that are missing or have
// an incompatible power type are logged and skipped; they never fail Init.
func (t *Tariff) Init(ctx context.Context, reg Registry) error {
	t.offerDate = t.clk.Now()

	t.m = compileRateMap(t.contract)
	if !t.m.Covered() {
		return fmt.Errorf("tariff %s: %w", t.ID(), ErrNotCovered)
	}
	t.analyzed = true

	if reg == nil {
		return nil
	}
	if err := reg.Register(t); err != nil {
		return fmt.Errorf("failed to register tariff %s: %w", t.ID(), err)
	}
	for _, supID := range t.contract.Supersedes {
		old := reg.FindByID(supID)
		if old == nil {
			log.Ctx(ctx).ErrorContext(ctx, "superseded tariff not found",
				slog.String("tariffID", t.ID()),
				slog.String("supersededID", supID),
			)
			continue
		}
		if old.PowerType() != t.PowerType() && !old.PowerType().CanUse(t.PowerType()) {
			log.Ctx(ctx).ErrorContext(ctx, "superseded tariff has incompatible power type",
				slog.String("tariffID", t.ID()),
				slog.String("powerType", string(t.PowerType())),
				slog.String("supersededID", supID),
				slog.String("supersededPowerType", string(old.PowerType())),
			)
			continue
		}
		old.supersededBy = t
	}
	return nil
}

// UsageCharge returns the charge for kwh of energy at the current
// simulated time, given the customer's cumulative usage so far today. With
// record set, the quantity and charge are added to the realized-price
// accumulators; billing must use the recording form exactly once per
// event.
func (t *Tariff) UsageCharge(kwh, cumulativeUsage float64, record bool) (float64, error) {
	amt, err := t.UsageChargeAt(t.clk.Now(), kwh, cumulativeUsage, nil)
	if err != nil {
		return 0, err
	}
	if record {
		t.totalUsage += kwh
		t.totalCost += amt
	}
	return amt, nil
}

// UsageChargeAt returns the charge for kwh of energy at an arbitrary time,
// without touching the realized-price accumulators. This is the probing
// entry point used for estimation; the optional probe routes variable
// rates through a risk-adjusted blend.
//
// The returned amount is typically opposite in sign to kwh: consumption
// (kwh > 0) yields a negative charge (the customer pays), production
// (kwh < 0) a positive one.
func (t *Tariff) UsageChargeAt(when time.Time, kwh, cumulativeUsage float64, probe types.RateProbe) (float64, error) {
	if !t.analyzed {
		return 0, fmt.Errorf("tariff %s: %w", t.ID(), ErrNotAnalyzed)
	}
	ti := t.m.TimeIndex(when)

	// Production is kwh<0 with rate>0, consumption kwh>0 with rate<0; the
	// product has the same sign either way, so production flips it back.
	sign := 1.0
	if t.PowerType().IsProduction() {
		sign = -1.0
	}

	if t.m.TierCount() == 1 {
		rate, err := t.m.ruleAt(0, ti)
		if err != nil {
			return 0, err
		}
		perKWH, err := t.regulationAdjusted(rate.ValueAt(when, probe), kwh, probe)
		if err != nil {
			return 0, err
		}
		return sign * kwh * perKWH, nil
	}

	splits, err := t.rateKwhList(ti, kwh, cumulativeUsage)
	if err != nil {
		return 0, err
	}
	result := 0.0
	for _, s := range splits {
		perKWH, err := t.regulationAdjusted(s.rule.ValueAt(when, probe), kwh, probe)
		if err != nil {
			return 0, err
		}
		result += s.kwh * perKWH
	}
	return sign * result, nil
}

// RegulationCharge returns the charge for a regulation event. Negative kwh
// is up-regulation (curtailment or discharge away from the grid), priced
// at the up-regulation payment; non-negative kwh is down-regulation,
// priced at the negated down-regulation payment. Without a regulation rule
// the call is delegated to the usage evaluator with the quantity negated.
// Regulation energy never contributes to the realized-price accumulators
// when a regulation rule is present, since it nets out over time.
func (t *Tariff) RegulationCharge(kwh, cumulativeUsage float64, record bool) (float64, error) {
	rr := t.contract.RegulationRule
	if rr == nil {
		return t.UsageCharge(-kwh, cumulativeUsage, record)
	}
	if kwh < 0 {
		return kwh * rr.UpRegulationPayment, nil
	}
	return -kwh * rr.DownRegulationPayment, nil
}

// MaxUpRegulation returns the maximum curtailable energy in kWh for the
// current timeslot, given the proposed quantity and cumulative usage.
// Non-interruptible power types have nothing to curtail.
//
// Known limitation carried over from the original design: when the
// quantity spans tiers, the per-tier curtailment sum is only correct if
// curtailment is confined to the top tier.
func (t *Tariff) MaxUpRegulation(kwh, cumulativeUsage float64) (float64, error) {
	if !t.PowerType().IsInterruptible() {
		return 0, nil
	}
	if !t.analyzed {
		return 0, fmt.Errorf("tariff %s: %w", t.ID(), ErrNotAnalyzed)
	}
	ti := t.m.TimeIndex(t.clk.Now())
	if t.m.TierCount() == 1 {
		rate, err := t.m.ruleAt(0, ti)
		if err != nil {
			return 0, err
		}
		return kwh * rate.MaxCurtailment, nil
	}
	splits, err := t.rateKwhList(ti, kwh, cumulativeUsage)
	if err != nil {
		return 0, err
	}
	result := 0.0
	for _, s := range splits {
		result += s.kwh * s.rule.MaxCurtailment
	}
	return result, nil
}

// regulationAdjusted corrects a nominal per-kWh value for the expected
// regulation volumes supplied by the probe. Without a probe, a regulation
// rule, or a quantity, the nominal value passes through unchanged.
func (t *Tariff) regulationAdjusted(value, kwh float64, probe types.RateProbe) (float64, error) {
	if probe == nil || kwh == 0 || !t.HasRegulationRule() {
		return value, nil
	}
	p1, err := t.RegulationCharge(probe.ExpectedCurtailment()/kwh, 0, false)
	if err != nil {
		return 0, err
	}
	p2, err := t.RegulationCharge(probe.ExpectedDischarge()/kwh, 0, false)
	if err != nil {
		return 0, err
	}
	p3, err := t.RegulationCharge(probe.ExpectedDownRegulation()/kwh, 0, false)
	if err != nil {
		return 0, err
	}
	scaled := value * (1.0 - (probe.ExpectedDischarge()+probe.ExpectedDownRegulation())/kwh)
	return scaled - p1 + p2 + p3, nil
}

// rateKwh pairs a rule with the portion of a quantity priced under it.
type rateKwh struct {
	rule *types.RateRule
	kwh  float64
}

// rateKwhList walks the tier schedule from the position implied by
// cumulativeUsage, greedily consuming kwh against successive thresholds.
// Portions that would cross a threshold are split exactly at it, so the
// split quantities always sum to kwh.
func (t *Tariff) rateKwhList(timeIndex int, kwh, cumulativeUsage float64) ([]rateKwh, error) {
	sign := t.m.tierSign
	remaining := kwh * sign
	accumulated := cumulativeUsage * sign
	var result []rateKwh
	ti := 0
	for remaining > 0 {
		if ti+1 < len(t.m.tiers) {
			next := t.m.tiers[ti+1]
			switch {
			case accumulated >= next:
				// already past this threshold
				ti++
			case remaining+accumulated > next:
				// split at the threshold
				amt := next - accumulated
				rate, err := t.m.ruleAt(ti, timeIndex)
				if err != nil {
					return nil, err
				}
				result = append(result, rateKwh{rule: rate, kwh: amt * sign})
				remaining -= amt
				accumulated += amt
				ti++
			default:
				rate, err := t.m.ruleAt(ti, timeIndex)
				if err != nil {
					return nil, err
				}
				result = append(result, rateKwh{rule: rate, kwh: remaining * sign})
				remaining = 0
			}
		} else {
			// top tier takes the remainder
			rate, err := t.m.ruleAt(ti, timeIndex)
			if err != nil {
				return nil, err
			}
			result = append(result, rateKwh{rule: rate, kwh: remaining * sign})
			remaining = 0
		}
	}
	return result, nil
}

// AddHourlyCharge posts a price to one of the tariff's variable rates.
func (t *Tariff) AddHourlyCharge(ruleID string, hc types.HourlyCharge) error {
	r, ok := t.rulesByID[ruleID]
	if !ok {
		return fmt.Errorf("tariff %s has no rate %s", t.ID(), ruleID)
	}
	if !r.AddHourlyCharge(hc) {
		return fmt.Errorf("rate %s is fixed and cannot take hourly charges", ruleID)
	}
	return nil
}

// ID returns the contract's identifier.
func (t *Tariff) ID() string {
	return t.contract.ID
}

// Contract returns the wrapped contract.
func (t *Tariff) Contract() *types.TariffContract {
	return t.contract
}

// Now reports the tariff's current simulated time.
func (t *Tariff) Now() time.Time {
	return t.clk.Now()
}

// State returns the lifecycle state.
func (t *Tariff) State() State {
	return t.state
}

// SetState applies an operator-driven state transition.
func (t *Tariff) SetState(s State) {
	t.state = s
}

// OfferDate returns the instant the tariff was first offered, stamped by
// Init.
func (t *Tariff) OfferDate() time.Time {
	return t.offerDate
}

// Expiration returns the expiration instant, zero if none.
func (t *Tariff) Expiration() time.Time {
	return t.expiration
}

// SetExpiration shortens or extends the expiration after publication.
func (t *Tariff) SetExpiration(at time.Time) {
	t.expiration = at
}

// IsExpired returns true if the current simulated time is at or past the
// expiration.
func (t *Tariff) IsExpired() bool {
	if t.expiration.IsZero() {
		return false
	}
	return !t.clk.Now().Before(t.expiration)
}

// IsActive returns true when the tariff is OFFERED or ACTIVE.
func (t *Tariff) IsActive() bool {
	return t.state == StateOffered || t.state == StateActive
}

// IsRevoked returns true once the tariff has been killed.
func (t *Tariff) IsRevoked() bool {
	return t.state == StateKilled
}

// IsSubscribable returns true when the tariff accepts new subscriptions.
func (t *Tariff) IsSubscribable() bool {
	return t.IsActive() && !t.IsExpired() && !t.IsRevoked()
}

// IsAnalyzed returns true once Init has compiled a fully covered map.
func (t *Tariff) IsAnalyzed() bool {
	return t.analyzed
}

// IsCovered returns true iff the compiled map has a rule in every cell.
func (t *Tariff) IsCovered() bool {
	return t.m != nil && t.m.Covered()
}

// IsWeekly returns true if the compiled map is indexed by hour-in-week.
func (t *Tariff) IsWeekly() bool {
	return t.m != nil && t.m.Weekly()
}

// IsTimeOfUse returns true if at least one rate has a time window.
func (t *Tariff) IsTimeOfUse() bool {
	for _, r := range t.contract.Rates {
		if r.IsTimeOfUse() {
			return true
		}
	}
	return false
}

// IsTiered returns true if at least one rate has a nonzero tier threshold.
func (t *Tariff) IsTiered() bool {
	for _, r := range t.contract.Rates {
		if r.TierThreshold != 0 {
			return true
		}
	}
	return false
}

// IsVariableRate returns true if at least one rate is not fixed.
func (t *Tariff) IsVariableRate() bool {
	for _, r := range t.contract.Rates {
		if !r.Fixed {
			return true
		}
	}
	return false
}

// IsInterruptible returns true if the power type allows curtailment and at
// least one rate permits it.
func (t *Tariff) IsInterruptible() bool {
	if !t.PowerType().IsInterruptible() {
		return false
	}
	for _, r := range t.contract.Rates {
		if r.MaxCurtailment != 0 {
			return true
		}
	}
	return false
}

// HasRegulationRule reports whether the contract prices regulation
// separately.
func (t *Tariff) HasRegulationRule() bool {
	return t.contract.HasRegulationRule()
}

// SupersededBy returns the newer tariff that declared it supersedes this
// one, or nil.
func (t *Tariff) SupersededBy() *Tariff {
	return t.supersededBy
}

// PowerType returns the contract's power type.
func (t *Tariff) PowerType() types.PowerType {
	return t.contract.PowerType
}

// MinDuration returns the contract's minimum subscription duration.
func (t *Tariff) MinDuration() time.Duration {
	return t.contract.MinDuration
}

// SignupPayment returns the one-time subscription payment.
func (t *Tariff) SignupPayment() float64 {
	return t.contract.SignupPayment
}

// EarlyWithdrawPayment returns the early-withdrawal payment.
func (t *Tariff) EarlyWithdrawPayment() float64 {
	return t.contract.EarlyWithdrawPayment
}

// PeriodicPayment returns the flat per-day payment.
func (t *Tariff) PeriodicPayment() float64 {
	return t.contract.PeriodicPayment
}

// TotalCost returns the accumulated recorded charges.
func (t *Tariff) TotalCost() float64 {
	return t.totalCost
}

// TotalUsage returns the accumulated recorded energy in kWh.
func (t *Tariff) TotalUsage() float64 {
	return t.totalUsage
}

// RealizedPrice returns the empirical average price per kWh to date, or 0
// when nothing has been recorded. The value is negative for consumption
// tariffs, matching the charge sign convention.
func (t *Tariff) RealizedPrice() float64 {
	if t.totalUsage == 0 {
		return 0
	}
	sign := 1.0
	if t.PowerType().IsProduction() {
		sign = -1.0
	}
	return sign * t.totalCost / t.totalUsage
}
