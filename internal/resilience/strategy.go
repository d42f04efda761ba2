package resilience

import (
	"fmt"

	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/pkg/errkind"
)

// CapacityStrategy is the closed tagged union of capacity calculators,
// dispatched exhaustively via NewStrategy. Each implementation is a
// pure function of level_percent and the type's configuration.
type CapacityStrategy interface {
	Calculate(levelPercent float64, cfg TypeConfig) Result
	Name() Strategy
}

// NewStrategy resolves cfg.Strategy to its implementation at
// configuration-load time. An unrecognized strategy fails closed here
// rather than at calculation time — resilience-critical equipment can
// never silently compute a wrong endurance number.
func NewStrategy(cfg TypeConfig) (CapacityStrategy, error) {
	switch cfg.Strategy {
	case StrategyLinear:
		return linearStrategy{}, nil
	case StrategyFuelBased:
		return fuelBasedStrategy{}, nil
	case StrategyPowerDependent:
		return powerDependentStrategy{}, nil
	case StrategyNone:
		return noneStrategy{}, nil
	default:
		return nil, fmt.Errorf("resilience: equipment type %s has strategy %q: %w", cfg.EquipmentID, cfg.Strategy, errkind.ErrUnknownCapacityStrategy)
	}
}

// linearStrategy: hours = hours_per_100pct * level/100. Oxygen
// cylinders and battery power stations.
type linearStrategy struct{}

func (linearStrategy) Name() Strategy { return StrategyLinear }

func (linearStrategy) Calculate(levelPercent float64, cfg TypeConfig) Result {
	hours := cfg.HoursPer100Pct * levelPercent / 100
	total := cfg.CapacityWh
	if total == 0 {
		total = cfg.CapacityLiters
	}
	used := total * levelPercent / 100
	return Result{Hours: hours, CapacityUsed: used, CapacityTotal: total}
}

// fuelBasedStrategy: current_fuel = tank_liters * level/100; hours =
// current_fuel / fuel_rate_lph. Generators.
type fuelBasedStrategy struct{}

func (fuelBasedStrategy) Name() Strategy { return StrategyFuelBased }

func (fuelBasedStrategy) Calculate(levelPercent float64, cfg TypeConfig) Result {
	currentFuel := cfg.TankLiters * levelPercent / 100
	var hours float64
	if cfg.FuelRateLPH > 0 {
		hours = currentFuel / cfg.FuelRateLPH
	}
	return Result{Hours: hours, CapacityUsed: currentFuel, CapacityTotal: cfg.TankLiters}
}

// powerDependentStrategy: oxygen concentrators report infinite hours
// unless an external power-hours cap is supplied.
type powerDependentStrategy struct{}

func (powerDependentStrategy) Name() Strategy { return StrategyPowerDependent }

func (powerDependentStrategy) Calculate(levelPercent float64, cfg TypeConfig) Result {
	if cfg.PowerHoursCap == nil {
		return Result{Hours: Infinity}
	}
	hours := *cfg.PowerHoursCap
	if hours > Infinity {
		hours = Infinity
	}
	return Result{Hours: hours}
}

// noneStrategy: non-resilience equipment, always zero hours.
type noneStrategy struct{}

func (noneStrategy) Name() Strategy { return StrategyNone }

func (noneStrategy) Calculate(float64, TypeConfig) Result {
	return Result{Hours: 0}
}
