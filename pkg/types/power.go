package types

// PowerType categorizes the energy flow a tariff covers. Production types
// pay the customer for delivered energy; consumption types charge for it.
type PowerType string

const (
	PowerTypeConsumption              PowerType = "consumption"
	PowerTypeProduction               PowerType = "production"
	PowerTypeInterruptibleConsumption PowerType = "interruptibleConsumption"
	PowerTypeStorage                  PowerType = "storage"
	PowerTypeSolarProduction          PowerType = "solarProduction"
	PowerTypeWindProduction           PowerType = "windProduction"
)

// IsValid returns true for a recognized power type.
func (p PowerType) IsValid() bool {
	switch p {
	case PowerTypeConsumption, PowerTypeProduction, PowerTypeInterruptibleConsumption,
		PowerTypeStorage, PowerTypeSolarProduction, PowerTypeWindProduction:
		return true
	}
	return false
}

// IsProduction returns true for production power types. Production tariffs
// use negative tier thresholds and invert the charge sign.
func (p PowerType) IsProduction() bool {
	switch p {
	case PowerTypeProduction, PowerTypeSolarProduction, PowerTypeWindProduction:
		return true
	}
	return false
}

// IsConsumption returns true for consumption power types, including
// interruptible consumption and storage.
func (p PowerType) IsConsumption() bool {
	return !p.IsProduction()
}

// IsInterruptible returns true if loads under this power type can be
// curtailed or shifted by the operator.
func (p PowerType) IsInterruptible() bool {
	return p == PowerTypeInterruptibleConsumption || p == PowerTypeStorage
}

// IsStorage returns true for storage power types.
func (p PowerType) IsStorage() bool {
	return p == PowerTypeStorage
}

// CanUse returns true if a customer of type p can subscribe to a tariff of
// type other. The generic types cover their specializations: a plain
// consumption tariff can serve interruptible and storage customers, and a
// plain production tariff can serve solar and wind producers.
func (p PowerType) CanUse(other PowerType) bool {
	if p == other {
		return true
	}
	switch other {
	case PowerTypeConsumption:
		return p.IsConsumption()
	case PowerTypeProduction:
		return p.IsProduction()
	}
	return false
}
