package main

import (
	"context"
	"os"

	"github.com/levenlabs/go-lflag"

	"github.com/gridrater/gridrater/pkg/log"
	"github.com/gridrater/gridrater/pkg/storage"
	"github.com/gridrater/gridrater/pkg/types"
)

func main() {
	os.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:8087")
	s := storage.Configured()
	lflag.Configure()

	ctx := context.Background()

	log.Ctx(ctx).InfoContext(ctx, "seeding sample tariffs")

	for _, c := range sampleContracts() {
		if err := s.UpsertContract(ctx, c); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to seed contract", "id", c.ID, "error", err)
			os.Exit(1)
		}
		log.Ctx(ctx).InfoContext(ctx, "seeded contract", "id", c.ID, "powerType", string(c.PowerType))
	}

	if err := s.Close(); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", "error", err)
	}
}

func sampleContracts() []types.TariffContract {
	flat := types.NewRateRule()
	flat.ID = "flat-base"
	flat.Fixed = true
	flat.Value = -0.12

	// time-of-use pair: peak 16-21, off-peak wraps 21-16
	peak := types.NewRateRule()
	peak.ID = "tou-peak"
	peak.Fixed = true
	peak.Value = -0.28
	peak.DailyBegin = 16
	peak.DailyEnd = 21

	offPeak := types.NewRateRule()
	offPeak.ID = "tou-offpeak"
	offPeak.Fixed = true
	offPeak.Value = -0.09
	offPeak.DailyBegin = 22
	offPeak.DailyEnd = 15

	// two-tier: base up to 100 kWh/day, then a steeper rate
	tierBase := types.NewRateRule()
	tierBase.ID = "tier-base"
	tierBase.Fixed = true
	tierBase.Value = -0.10

	tierHigh := types.NewRateRule()
	tierHigh.ID = "tier-high"
	tierHigh.Fixed = true
	tierHigh.Value = -0.20
	tierHigh.TierThreshold = 100

	// variable interruptible rate with a regulation rule
	variable := types.NewRateRule()
	variable.ID = "var-base"
	variable.ExpectedMean = -0.11
	variable.MaxValue = -0.40
	variable.MaxCurtailment = 0.3

	// solar buyback
	solar := types.NewRateRule()
	solar.ID = "solar-base"
	solar.Fixed = true
	solar.Value = 0.07

	return []types.TariffContract{
		{
			ID:        "seed-flat",
			Broker:    "seed",
			PowerType: types.PowerTypeConsumption,
			Rates:     []*types.RateRule{flat},
		},
		{
			ID:              "seed-tou",
			Broker:          "seed",
			PowerType:       types.PowerTypeConsumption,
			PeriodicPayment: -0.96,
			Rates:           []*types.RateRule{peak, offPeak},
		},
		{
			ID:        "seed-tiered",
			Broker:    "seed",
			PowerType: types.PowerTypeConsumption,
			Rates:     []*types.RateRule{tierBase, tierHigh},
		},
		{
			ID:        "seed-interruptible",
			Broker:    "seed",
			PowerType: types.PowerTypeInterruptibleConsumption,
			Rates:     []*types.RateRule{variable},
			RegulationRule: &types.RegulationRule{
				UpRegulationPayment:   0.15,
				DownRegulationPayment: -0.05,
			},
		},
		{
			ID:            "seed-solar",
			Broker:        "seed",
			PowerType:     types.PowerTypeSolarProduction,
			SignupPayment: 10,
			Rates:         []*types.RateRule{solar},
		},
	}
}
