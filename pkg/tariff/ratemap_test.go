package tariff

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridrater/gridrater/pkg/log"
	"github.com/gridrater/gridrater/pkg/types"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}

func fixedRate(value float64) *types.RateRule {
	r := types.NewRateRule()
	r.Fixed = true
	r.Value = value
	return r
}

func dailyRate(value float64, begin, end int) *types.RateRule {
	r := fixedRate(value)
	r.DailyBegin = begin
	r.DailyEnd = end
	return r
}

func weeklyRate(value float64, begin, end int) *types.RateRule {
	r := fixedRate(value)
	r.WeeklyBegin = begin
	r.WeeklyEnd = end
	return r
}

func tierRate(value, threshold float64) *types.RateRule {
	r := fixedRate(value)
	r.TierThreshold = threshold
	return r
}

func consumptionContract(id string, rates ...*types.RateRule) *types.TariffContract {
	return &types.TariffContract{
		ID:        id,
		Broker:    "test",
		PowerType: types.PowerTypeConsumption,
		Rates:     rates,
	}
}

func TestPriorityKeyOrdering(t *testing.T) {
	base := fixedRate(-0.10)
	daily := dailyRate(-0.20, 8, 20)
	weekly := weeklyRate(-0.30, 6, 7)
	tiered := tierRate(-0.40, 100)

	// unconstrained < daily < weekly < tier for a weekly map
	kBase := priorityKey(base, 0, true)
	kDaily := priorityKey(daily, 0, true)
	kWeekly := priorityKey(weekly, 0, true)
	kTier := priorityKey(tiered, 1, true)
	assert.Less(t, kBase, kDaily)
	assert.Less(t, kDaily, kWeekly)
	assert.Less(t, kWeekly, kTier)

	// tier separation holds for daily maps too
	assert.Less(t, priorityKey(daily, 0, false), priorityKey(tiered, 1, false))
}

func TestCompileFullCoverage(t *testing.T) {
	m := compileRateMap(consumptionContract("c", fixedRate(-0.10)))
	assert.True(t, m.Covered())
	assert.False(t, m.Weekly())
	assert.Equal(t, 1, m.TierCount())
	assert.Equal(t, 24, m.HourCount())
}

func TestCompileGapNotCovered(t *testing.T) {
	m := compileRateMap(consumptionContract("c", dailyRate(-0.10, 8, 20)))
	assert.False(t, m.Covered())
}

func TestCompileTierGapNotCovered(t *testing.T) {
	// the upper tier only covers evening hours, so its other cells are empty
	upper := tierRate(-0.30, 50)
	upper.DailyBegin = 16
	upper.DailyEnd = 21
	m := compileRateMap(consumptionContract("c", fixedRate(-0.10), upper))
	assert.False(t, m.Covered())
}

func TestDailyWindowOverridesBase(t *testing.T) {
	base := fixedRate(-0.10)
	peak := dailyRate(-0.30, 16, 21)
	m := compileRateMap(consumptionContract("c", base, peak))
	require.True(t, m.Covered())

	r, err := m.ruleAt(0, 18)
	require.NoError(t, err)
	assert.Same(t, peak, r)

	r, err = m.ruleAt(0, 10)
	require.NoError(t, err)
	assert.Same(t, base, r)
}

func TestDailyWindowWrapsMidnight(t *testing.T) {
	base := fixedRate(-0.10)
	night := dailyRate(-0.05, 22, 2)
	m := compileRateMap(consumptionContract("c", base, night))
	require.True(t, m.Covered())

	for _, hour := range []int{22, 23, 0, 1, 2} {
		r, err := m.ruleAt(0, hour)
		require.NoError(t, err)
		assert.Same(t, night, r, "hour %d", hour)
	}
	for _, hour := range []int{3, 12, 21} {
		r, err := m.ruleAt(0, hour)
		require.NoError(t, err)
		assert.Same(t, base, r, "hour %d", hour)
	}
}

func TestWeeklyWindowOverridesDaily(t *testing.T) {
	base := fixedRate(-0.10)
	daily := dailyRate(-0.20, 8, 20)
	weekend := weeklyRate(-0.30, 6, 7)
	m := compileRateMap(consumptionContract("c", base, daily, weekend))
	require.True(t, m.Covered())
	assert.True(t, m.Weekly())
	assert.Equal(t, 168, m.HourCount())

	// Saturday noon belongs to the weekend rule even inside the daily window
	r, err := m.ruleAt(0, 5*24+12)
	require.NoError(t, err)
	assert.Same(t, weekend, r)

	// Tuesday noon belongs to the daily rule
	r, err = m.ruleAt(0, 1*24+12)
	require.NoError(t, err)
	assert.Same(t, daily, r)

	// Tuesday 6am falls back to the base rule
	r, err = m.ruleAt(0, 1*24+6)
	require.NoError(t, err)
	assert.Same(t, base, r)
}

func TestWeeklyWindowWrapsWeekBoundary(t *testing.T) {
	base := fixedRate(-0.10)
	wrap := weeklyRate(-0.30, 7, 1) // Sunday and Monday
	m := compileRateMap(consumptionContract("c", base, wrap))
	require.True(t, m.Covered())

	for _, day := range []int{0, 6} { // Monday, Sunday
		r, err := m.ruleAt(0, day*24+12)
		require.NoError(t, err)
		assert.Same(t, wrap, r, "day %d", day)
	}
	r, err := m.ruleAt(0, 2*24+12) // Wednesday
	require.NoError(t, err)
	assert.Same(t, base, r)
}

func TestCompileTiers(t *testing.T) {
	m := compileRateMap(consumptionContract("c",
		fixedRate(-0.10), tierRate(-0.20, 100), tierRate(-0.30, 200)))
	require.True(t, m.Covered())
	assert.Equal(t, 3, m.TierCount())
	assert.Equal(t, []float64{0, 100, 200}, m.tiers)

	r, err := m.ruleAt(2, 12)
	require.NoError(t, err)
	assert.InDelta(t, -0.30, r.Value, 1e-9)
}

func TestCompileProductionTiers(t *testing.T) {
	base := fixedRate(0.07)
	upper := tierRate(0.05, -50)
	m := compileRateMap(&types.TariffContract{
		ID:        "p",
		Broker:    "test",
		PowerType: types.PowerTypeSolarProduction,
		Rates:     []*types.RateRule{base, upper},
	})
	require.True(t, m.Covered())
	assert.Equal(t, 2, m.TierCount())
	// thresholds are stored signed: production runs on negated values
	assert.Equal(t, []float64{0, 50}, m.tiers)

	r, err := m.ruleAt(1, 12)
	require.NoError(t, err)
	assert.Same(t, upper, r)
}

func TestTimeIndex(t *testing.T) {
	daily := compileRateMap(consumptionContract("c", fixedRate(-0.10)))
	weekly := compileRateMap(consumptionContract("c", fixedRate(-0.10), weeklyRate(-0.2, 6, 7)))

	// Wednesday 2025-06-04 15:00 UTC
	when := time.Date(2025, 6, 4, 15, 0, 0, 0, time.UTC)
	assert.Equal(t, 15, daily.TimeIndex(when))
	assert.Equal(t, 2*24+15, weekly.TimeIndex(when))

	// time zone must not shift the index
	est := time.FixedZone("EST", -5*3600)
	assert.Equal(t, 15, daily.TimeIndex(when.In(est)))

	// Sunday maps to the last day row
	sunday := time.Date(2025, 6, 8, 3, 0, 0, 0, time.UTC)
	assert.Equal(t, 6*24+3, weekly.TimeIndex(sunday))
}

func TestIsoWeekday(t *testing.T) {
	// 2025-06-02 is a Monday
	for i := 0; i < 7; i++ {
		d := time.Date(2025, 6, 2+i, 0, 0, 0, 0, time.UTC)
		assert.Equal(t, i+1, isoWeekday(d))
	}
}

func TestRuleAtOutOfRange(t *testing.T) {
	m := compileRateMap(consumptionContract("c", fixedRate(-0.10)))
	_, err := m.ruleAt(0, 24)
	assert.ErrorIs(t, err, ErrNoRate)
	_, err = m.ruleAt(1, 0)
	assert.ErrorIs(t, err, ErrNoRate)
}
