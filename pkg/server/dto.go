package server

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gridrater/gridrater/pkg/tariff"
	"github.com/gridrater/gridrater/pkg/types"
)

// publishRateRule mirrors types.RateRule with pointer window bounds so an
// omitted bound decodes as unset rather than as hour 0.
type publishRateRule struct {
	ID             string  `json:"id"`
	DailyBegin     *int    `json:"dailyBegin"`
	DailyEnd       *int    `json:"dailyEnd"`
	WeeklyBegin    *int    `json:"weeklyBegin"`
	WeeklyEnd      *int    `json:"weeklyEnd"`
	TierThreshold  float64 `json:"tierThreshold"`
	Fixed          bool    `json:"fixed"`
	Value          float64 `json:"value"`
	ExpectedMean   float64 `json:"expectedMean"`
	MaxValue       float64 `json:"maxValue"`
	MaxCurtailment float64 `json:"maxCurtailment"`
}

type publishTariffRequest struct {
	ID        string          `json:"id"`
	Broker    string          `json:"broker"`
	PowerType types.PowerType `json:"powerType"`

	SignupPayment        float64 `json:"signupPayment"`
	EarlyWithdrawPayment float64 `json:"earlyWithdrawPayment"`
	PeriodicPayment      float64 `json:"periodicPayment"`

	MinDurationHours int       `json:"minDurationHours"`
	Expiration       time.Time `json:"expiration"`

	Supersedes []string `json:"supersedes"`

	Rates          []publishRateRule     `json:"rates"`
	RegulationRule *types.RegulationRule `json:"regulationRule"`
}

// contract validates the request and converts it into a TariffContract,
// generating UUIDs for the contract and any rates that arrived without one.
func (req *publishTariffRequest) contract() (*types.TariffContract, error) {
	if req.Broker == "" {
		return nil, fmt.Errorf("broker is required")
	}
	if !req.PowerType.IsValid() {
		return nil, fmt.Errorf("unknown powerType %q", req.PowerType)
	}
	if len(req.Rates) == 0 {
		return nil, fmt.Errorf("at least one rate is required")
	}
	if req.MinDurationHours < 0 {
		return nil, fmt.Errorf("minDurationHours cannot be negative")
	}

	c := &types.TariffContract{
		ID:                   req.ID,
		Broker:               req.Broker,
		PowerType:            req.PowerType,
		SignupPayment:        req.SignupPayment,
		EarlyWithdrawPayment: req.EarlyWithdrawPayment,
		PeriodicPayment:      req.PeriodicPayment,
		MinDuration:          time.Duration(req.MinDurationHours) * time.Hour,
		Expiration:           req.Expiration,
		Supersedes:           req.Supersedes,
		RegulationRule:       req.RegulationRule,
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	for i, rr := range req.Rates {
		r := types.NewRateRule()
		r.ID = rr.ID
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if rr.DailyBegin != nil {
			r.DailyBegin = *rr.DailyBegin
		}
		if rr.DailyEnd != nil {
			r.DailyEnd = *rr.DailyEnd
		}
		if rr.WeeklyBegin != nil {
			r.WeeklyBegin = *rr.WeeklyBegin
		}
		if rr.WeeklyEnd != nil {
			r.WeeklyEnd = *rr.WeeklyEnd
		}
		if r.DailyBegin > 23 || r.DailyEnd > 23 || r.DailyBegin < types.NoTime || r.DailyEnd < types.NoTime {
			return nil, fmt.Errorf("rate %d: daily window bounds must be hours 0-23", i)
		}
		if (r.DailyBegin == types.NoTime) != (r.DailyEnd == types.NoTime) {
			return nil, fmt.Errorf("rate %d: daily window must set both bounds", i)
		}
		if r.WeeklyBegin > 7 || r.WeeklyEnd > 7 || r.WeeklyBegin < types.NoTime ||
			r.WeeklyEnd < types.NoTime || r.WeeklyBegin == 0 || r.WeeklyEnd == 0 {
			return nil, fmt.Errorf("rate %d: weekly window bounds must be days 1-7", i)
		}
		if (r.WeeklyBegin == types.NoTime) != (r.WeeklyEnd == types.NoTime) {
			return nil, fmt.Errorf("rate %d: weekly window must set both bounds", i)
		}
		if req.PowerType.IsProduction() && rr.TierThreshold > 0 {
			return nil, fmt.Errorf("rate %d: production tier thresholds must be negative", i)
		}
		if !req.PowerType.IsProduction() && rr.TierThreshold < 0 {
			return nil, fmt.Errorf("rate %d: consumption tier thresholds must be positive", i)
		}
		if rr.MaxCurtailment < 0 || rr.MaxCurtailment > 1 {
			return nil, fmt.Errorf("rate %d: maxCurtailment must be within [0,1]", i)
		}
		r.TierThreshold = rr.TierThreshold
		r.Fixed = rr.Fixed
		r.Value = rr.Value
		r.ExpectedMean = rr.ExpectedMean
		r.MaxValue = rr.MaxValue
		r.MaxCurtailment = rr.MaxCurtailment
		c.Rates = append(c.Rates, r)
	}
	return c, nil
}

// tariffSummary is the list/detail representation of a registered tariff.
type tariffSummary struct {
	ID        string          `json:"id"`
	Broker    string          `json:"broker"`
	PowerType types.PowerType `json:"powerType"`
	State     tariff.State    `json:"state"`

	OfferDate  time.Time `json:"offerDate"`
	Expiration time.Time `json:"expiration,omitzero"`

	Weekly       bool `json:"weekly"`
	TimeOfUse    bool `json:"timeOfUse"`
	Tiered       bool `json:"tiered"`
	VariableRate bool `json:"variableRate"`
	Subscribable bool `json:"subscribable"`

	SupersededBy string `json:"supersededBy,omitempty"`

	TotalUsage    float64 `json:"totalUsage"`
	TotalCost     float64 `json:"totalCost"`
	RealizedPrice float64 `json:"realizedPrice"`
}

func summarize(t *tariff.Tariff) tariffSummary {
	sum := tariffSummary{
		ID:            t.ID(),
		Broker:        t.Contract().Broker,
		PowerType:     t.PowerType(),
		State:         t.State(),
		OfferDate:     t.OfferDate(),
		Expiration:    t.Expiration(),
		Weekly:        t.IsWeekly(),
		TimeOfUse:     t.IsTimeOfUse(),
		Tiered:        t.IsTiered(),
		VariableRate:  t.IsVariableRate(),
		Subscribable:  t.IsSubscribable(),
		TotalUsage:    t.TotalUsage(),
		TotalCost:     t.TotalCost(),
		RealizedPrice: t.RealizedPrice(),
	}
	if sup := t.SupersededBy(); sup != nil {
		sum.SupersededBy = sup.ID()
	}
	return sum
}

type tariffDetail struct {
	tariffSummary
	Contract *types.TariffContract `json:"contract"`
}
