package estimator

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridrater/gridrater/pkg/clock"
	"github.com/gridrater/gridrater/pkg/log"
	"github.com/gridrater/gridrater/pkg/tariff"
	"github.com/gridrater/gridrater/pkg/types"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}

// Monday 2025-06-02 11:00 UTC
var testNow = time.Date(2025, 6, 2, 11, 0, 0, 0, time.UTC)

func fixedRate(value float64) *types.RateRule {
	r := types.NewRateRule()
	r.Fixed = true
	r.Value = value
	return r
}

func variableRate(expectedMean, maxValue float64) *types.RateRule {
	r := types.NewRateRule()
	r.ExpectedMean = expectedMean
	r.MaxValue = maxValue
	return r
}

func newTariff(t *testing.T, rates ...*types.RateRule) *tariff.Tariff {
	t.Helper()
	tf := tariff.New(&types.TariffContract{
		ID:        "t",
		Broker:    "test",
		PowerType: types.PowerTypeConsumption,
		Rates:     rates,
	}, clock.Fixed{T: testNow})
	require.NoError(t, tf.Init(context.Background(), nil))
	return tf
}

func TestDefaultWeights(t *testing.T) {
	h := NewHelper()
	assert.InDelta(t, 0.6, h.NormWtExpected(), 1e-9)
	assert.InDelta(t, 0.4, h.NormWtMax(), 1e-9)
	assert.InDelta(t, 0.8, h.WtRealized(), 1e-9)
	assert.InDelta(t, 10000.0, h.SoldThreshold(), 1e-9)
}

func TestWeightNormalization(t *testing.T) {
	h := NewHelper()
	h.InitializeCostFactors(3, 1, 0.5, 1000)
	assert.InDelta(t, 0.75, h.NormWtExpected(), 1e-9)
	assert.InDelta(t, 0.25, h.NormWtMax(), 1e-9)
}

func TestSetWtRealizedClamps(t *testing.T) {
	h := NewHelper()
	h.SetWtRealized(1.5)
	assert.InDelta(t, 1.0, h.WtRealized(), 1e-9)
	h.SetWtRealized(-0.2)
	assert.InDelta(t, 0.0, h.WtRealized(), 1e-9)
	h.SetWtRealized(0.3)
	assert.InDelta(t, 0.3, h.WtRealized(), 1e-9)
}

func TestAlphaNoHistory(t *testing.T) {
	h := NewHelper()
	tf := newTariff(t, fixedRate(-0.10))

	_, err := h.EstimateCost(tf, []float64{1}, time.Time{}, false)
	require.NoError(t, err)
	// no recorded sales: full trust in the advertised statistics
	assert.InDelta(t, 1.0, h.Alpha(), 1e-9)
}

func TestAlphaDecaysWithVolume(t *testing.T) {
	h := NewHelper()
	h.InitializeCostFactors(0.6, 0.4, 0.8, 10)
	tf := newTariff(t, fixedRate(-0.10))

	// sell volume equal to the threshold: alpha = 1 - 0.8*(1 - 1/2)
	_, err := tf.UsageCharge(10, 0, true)
	require.NoError(t, err)
	_, err = h.EstimateCost(tf, []float64{1}, time.Time{}, false)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, h.Alpha(), 1e-9)

	// at 9x the threshold alpha approaches 1 - wtRealized
	_, err = tf.UsageCharge(80, 0, true)
	require.NoError(t, err)
	_, err = h.EstimateCost(tf, []float64{1}, time.Time{}, false)
	require.NoError(t, err)
	assert.InDelta(t, 1.0-0.8*0.9, h.Alpha(), 1e-9)
}

func TestEstimateCostFlat(t *testing.T) {
	h := NewHelper()
	tf := newTariff(t, fixedRate(-0.10))

	total, err := h.EstimateCost(tf, []float64{10, 10, 10}, time.Time{}, false)
	require.NoError(t, err)
	assert.InDelta(t, -3.0, total, 1e-9)
}

func TestEstimateCostPeriodic(t *testing.T) {
	h := NewHelper()
	tf := tariff.New(&types.TariffContract{
		ID:              "t",
		Broker:          "test",
		PowerType:       types.PowerTypeConsumption,
		PeriodicPayment: -2.4,
		Rates:           []*types.RateRule{fixedRate(-0.10)},
	}, clock.Fixed{T: testNow})
	require.NoError(t, tf.Init(context.Background(), nil))

	perHour, err := h.EstimateCostArray(tf, []float64{10, 10}, time.Time{}, true)
	require.NoError(t, err)
	require.Len(t, perHour, 2)
	for _, v := range perHour {
		assert.InDelta(t, -1.0-0.1, v, 1e-9)
	}
}

func TestEstimateCostVariableBlend(t *testing.T) {
	h := NewHelper()
	tf := newTariff(t, variableRate(-0.05, -0.20))

	// alpha is 1 with no history, so the estimate is the weighted claim
	total, err := h.EstimateCost(tf, []float64{10}, time.Time{}, false)
	require.NoError(t, err)
	want := 10 * (0.6*-0.05 + 0.4*-0.20)
	assert.InDelta(t, want, total, 1e-9)
}

func TestEstimateCostBlendsRealizedPrice(t *testing.T) {
	h := NewHelper()
	h.InitializeCostFactors(0.6, 0.4, 0.8, 10)
	tf := newTariff(t, variableRate(-0.05, -0.20))

	// record sales at the expectedMean so realizedPrice is -0.05
	_, err := tf.UsageCharge(10, 0, true)
	require.NoError(t, err)

	total, err := h.EstimateCost(tf, []float64{10}, time.Time{}, false)
	require.NoError(t, err)
	alpha := 0.6 // totalUsage equals the threshold
	perKWH := alpha*(0.6*-0.05+0.4*-0.20) + (1-alpha)*-0.05
	assert.InDelta(t, 10*perKWH, total, 1e-9)
	assert.InDelta(t, alpha, h.Alpha(), 1e-9)
}

func TestEstimateCostTierReset(t *testing.T) {
	h := NewHelper()
	base := fixedRate(-0.10)
	upper := types.NewRateRule()
	upper.Fixed = true
	upper.Value = -0.20
	upper.TierThreshold = 15
	tf := newTariff(t, base, upper)

	// start at 21:00: hours are 22:00, 23:00, 00:00, 01:00. The daily
	// accumulator crosses the tier inside the first day and resets at
	// midnight.
	start := time.Date(2025, 6, 2, 21, 0, 0, 0, time.UTC)
	perHour, err := h.EstimateCostArray(tf, []float64{10, 10, 10, 10}, start, false)
	require.NoError(t, err)
	require.Len(t, perHour, 4)
	assert.InDelta(t, -1.0, perHour[0], 1e-9)            // 0..10 below
	assert.InDelta(t, 5*-0.10+5*-0.20, perHour[1], 1e-9) // 10..20 straddles
	assert.InDelta(t, 10*-0.20, perHour[2], 1e-9)        // 20..30 fully above
	assert.InDelta(t, -1.0, perHour[3], 1e-9)            // reset at midnight
}

func TestEstimateCostArrayMatchesScalar(t *testing.T) {
	h := NewHelper()
	tf := newTariff(t, fixedRate(-0.10))

	usage := []float64{1, 2, 3, 4, 5}
	perHour, err := h.EstimateCostArray(tf, usage, testNow, false)
	require.NoError(t, err)
	total, err := h.EstimateCost(tf, usage, testNow, false)
	require.NoError(t, err)

	sum := 0.0
	for _, v := range perHour {
		sum += v
	}
	assert.InDelta(t, sum, total, 1e-9)
}

func TestEstimateCostRegulationAdjustment(t *testing.T) {
	h := NewHelper()
	h.InitializeRegulationFactors(0, 2, 1)
	tf := tariff.New(&types.TariffContract{
		ID:        "reg",
		Broker:    "test",
		PowerType: types.PowerTypeInterruptibleConsumption,
		Rates:     []*types.RateRule{fixedRate(-0.10)},
		RegulationRule: &types.RegulationRule{
			UpRegulationPayment:   0.15,
			DownRegulationPayment: -0.05,
		},
	}, clock.Fixed{T: testNow})
	require.NoError(t, tf.Init(context.Background(), nil))

	total, err := h.EstimateCost(tf, []float64{10}, time.Time{}, false)
	require.NoError(t, err)

	// value scaled by the energy not delivered as ordinary usage, then
	// corrected by the per-kWh regulation charges for the expected volumes
	pDischarge, err := tf.RegulationCharge(2.0/10.0, 0, false)
	require.NoError(t, err)
	pDown, err := tf.RegulationCharge(1.0/10.0, 0, false)
	require.NoError(t, err)
	perKWH := -0.10*(1-(2.0+1.0)/10.0) + pDischarge + pDown
	assert.InDelta(t, 10*perKWH, total, 1e-9)
}
