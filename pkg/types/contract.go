package types

import "time"

// TariffContract is the published, immutable description of a tariff: its
// rate rules, optional regulation rule, and business terms. Contracts are
// the unit of persistence; the tariff package compiles them into an
// evaluable form.
type TariffContract struct {
	ID     string `json:"id"`
	Broker string `json:"broker"`

	PowerType PowerType `json:"powerType"`

	// One-time payment on subscription, positive for payment to the
	// customer.
	SignupPayment float64 `json:"signupPayment"`
	// Payment from the customer for withdrawing before MinDuration has
	// elapsed, typically negative.
	EarlyWithdrawPayment float64 `json:"earlyWithdrawPayment"`
	// Flat payment per day for two-part tariffs, typically negative.
	PeriodicPayment float64 `json:"periodicPayment"`

	// Minimum subscription duration before withdrawal is penalty-free.
	MinDuration time.Duration `json:"minDuration"`

	// Expiration is the instant after which no new subscriptions are
	// accepted. Zero means no expiration.
	Expiration time.Time `json:"expiration,omitzero"`

	// Supersedes lists IDs of contracts this one replaces.
	Supersedes []string `json:"supersedes,omitempty"`

	Rates          []*RateRule     `json:"rates"`
	RegulationRule *RegulationRule `json:"regulationRule,omitempty"`
}

// HasRegulationRule returns true if the contract prices regulation events
// separately.
func (c *TariffContract) HasRegulationRule() bool {
	return c.RegulationRule != nil
}
