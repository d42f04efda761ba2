package resilience

import (
	"fmt"
	"math"

	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/pkg/errkind"
)

// ConvertBurnRateToPerHour normalizes a profile's burn rate to units
// per hour. An unrecognized unit fails closed rather than defaulting to
// "hourly" (design-notes open question, resolved in DESIGN.md).
func ConvertBurnRateToPerHour(rate float64, unit BurnRateUnit) (float64, error) {
	switch unit {
	case BurnRateLitersPerMin:
		return rate * 60, nil
	case BurnRateLitersPerHour:
		return rate, nil
	case BurnRateTestsPerDay:
		return rate / 24, nil
	default:
		return 0, fmt.Errorf("resilience: burn rate unit %q: %w", unit, errkind.ErrUnknownBurnRateUnit)
	}
}

// AggregateCapacity sums the contributing units' CapacityUsed/Total
// under the Capacity law (Σ unit × per-unit capacity × level), and
// reports one warning per CHARGING unit included with a caveat.
func AggregateCapacity(units []InventoryUnit, cfg TypeConfig, strategy CapacityStrategy) (used, total float64, warnings []string) {
	for _, u := range units {
		if !u.contributes() {
			continue
		}
		r := strategy.Calculate(u.LevelPercent, cfg)
		used += r.CapacityUsed
		total += r.CapacityTotal
		if u.Status == UnitCharging {
			warnings = append(warnings, fmt.Sprintf("unit %s is CHARGING; included with reduced confidence", u.UnitSerial))
		}
	}
	return used, total, warnings
}

// SumUnitHours aggregates per-unit self-contained endurance (Hours is
// already a complete per-unit estimate from hours_per_100pct or
// fuel_rate_lph, with no external burn-rate profile needed) — the shape
// POWER lifeline sources use, since battery/generator hours already
// bake in the unit's own discharge rate.
func SumUnitHours(units []InventoryUnit, cfg TypeConfig, strategy CapacityStrategy) (hours float64, warnings []string) {
	for _, u := range units {
		if !u.contributes() {
			continue
		}
		r := strategy.Calculate(u.LevelPercent, cfg)
		hours += r.Hours
		if u.Status == UnitCharging {
			warnings = append(warnings, fmt.Sprintf("unit %s is CHARGING; included with reduced confidence", u.UnitSerial))
		}
	}
	return hours, warnings
}

// ApplyPopulationMultiplier scales a burn rate for lifelines where
// population_multiplier=1 (oxygen for intubated patients).
func ApplyPopulationMultiplier(burnRatePerHour float64, multiplier, populationCount int) float64 {
	if multiplier == 1 && populationCount > 0 {
		return burnRatePerHour * float64(populationCount)
	}
	return burnRatePerHour
}

// EvaluateStatus classifies effectiveHours against the isolation target
// using the configured SAFE/WARNING thresholds.
func EvaluateStatus(effectiveHours, isolationDays, thresholdSafe, thresholdWarning float64) (Status, VsIsolation) {
	targetHours := isolationDays * 24
	if targetHours <= 0 {
		return StatusUnknown, VsIsolation{}
	}
	ratio := effectiveHours / targetHours
	gap := effectiveHours - targetHours

	var status Status
	switch {
	case math.IsInf(effectiveHours, 1):
		status = StatusSafe
		ratio = math.Inf(1)
	case ratio >= thresholdSafe:
		status = StatusSafe
	case ratio >= thresholdWarning:
		status = StatusWarning
	default:
		status = StatusCritical
	}
	return status, VsIsolation{Ratio: ratio, CanSurvive: effectiveHours >= targetHours, GapHours: gap}
}

// OxygenSources bundles the two ways a station sustains oxygen supply:
// capacity-backed cylinders (summed), and power-dependent concentrators
// (an alternative, not additive — overall oxygen_hours = max(sources)).
type OxygenSources struct {
	CylinderUnits []InventoryUnit
	CylinderCfg   TypeConfig
	CylinderStrat CapacityStrategy

	ConcentratorUnits  []InventoryUnit
	ConcentratorCfg    TypeConfig
	ConcentratorStrat  CapacityStrategy
	ConcentratorPowerHoursCap *float64 // dependency: capped by power endurance, if known
}

// ComputeOxygenStatus implements the oxygen lifeline: cylinder capacity
// converted through the consumption profile, alternatives (concentrator)
// taken as max, population multiplier applied, then classified against
// the isolation target.
func ComputeOxygenStatus(src OxygenSources, profile Profile, cfg Config) (LifelineStatus, error) {
	burnPerHour, err := ConvertBurnRateToPerHour(profile.BurnRate, profile.BurnRateUnit)
	if err != nil {
		return LifelineStatus{}, err
	}
	effectiveBurn := ApplyPopulationMultiplier(burnPerHour, profile.PopulationMultiplier, cfg.PopulationCount)

	used, total, warnings := AggregateCapacity(src.CylinderUnits, src.CylinderCfg, src.CylinderStrat)
	var cylinderHours float64
	if effectiveBurn > 0 {
		cylinderHours = used / effectiveBurn
	} else {
		cylinderHours = math.Inf(1)
	}

	var concentratorHours float64
	var dep *Endurance
	if len(src.ConcentratorUnits) > 0 {
		concCfg := src.ConcentratorCfg
		concCfg.PowerHoursCap = src.ConcentratorPowerHoursCap
		concentratorHours, _ = SumUnitHours(src.ConcentratorUnits, concCfg, src.ConcentratorStrat)
		if src.ConcentratorPowerHoursCap != nil {
			dep = &Endurance{RawHours: math.Inf(1), EffectiveHours: *src.ConcentratorPowerHoursCap}
		}
	}

	effectiveHours := cylinderHours
	if concentratorHours > effectiveHours {
		effectiveHours = concentratorHours
	}

	status, vs := EvaluateStatus(effectiveHours, cfg.IsolationTargetDays, cfg.ThresholdSafe, cfg.ThresholdWarning)
	if effectiveBurn <= 0 || total == 0 {
		status = StatusUnknown
	}

	return LifelineStatus{
		Lifeline:  LifelineOxygen,
		Inventory: InventorySummary{UnitCount: len(src.CylinderUnits), CapacityTotal: total, CapacityUsed: used},
		Consumption: ConsumptionSummary{
			ProfileName:       profile.ProfileName,
			BurnRate:          profile.BurnRate,
			EffectiveBurnRate: effectiveBurn,
		},
		Endurance: Endurance{
			RawHours:       effectiveHours,
			EffectiveHours: effectiveHours,
			EffectiveDays:  effectiveHours / 24,
		},
		Dependency:  dep,
		Status:      status,
		VsIsolation: vs,
		Message:     statusMessage(status, LifelineOxygen, vs),
		Warnings:    warnings,
	}, nil
}

// PowerSources bundles batteries and generators, which add (battery
// drains first, then generator runs).
type PowerSources struct {
	BatteryUnits    []InventoryUnit
	BatteryCfg      TypeConfig
	BatteryStrat    CapacityStrategy
	GeneratorUnits  []InventoryUnit
	GeneratorCfg    TypeConfig
	GeneratorStrat  CapacityStrategy
}

// ComputePowerStatus implements the power lifeline: battery-hours and
// generator-hours are self-contained per-unit estimates that add.
func ComputePowerStatus(src PowerSources, cfg Config) LifelineStatus {
	batteryHours, batteryWarnings := SumUnitHours(src.BatteryUnits, src.BatteryCfg, src.BatteryStrat)
	generatorHours, generatorWarnings := SumUnitHours(src.GeneratorUnits, src.GeneratorCfg, src.GeneratorStrat)
	effectiveHours := batteryHours + generatorHours

	usedBattery, totalBattery, _ := AggregateCapacity(src.BatteryUnits, src.BatteryCfg, src.BatteryStrat)
	usedGen, totalGen, _ := AggregateCapacity(src.GeneratorUnits, src.GeneratorCfg, src.GeneratorStrat)

	status, vs := EvaluateStatus(effectiveHours, cfg.IsolationTargetDays, cfg.ThresholdSafe, cfg.ThresholdWarning)
	if totalBattery+totalGen == 0 && effectiveHours == 0 {
		status = StatusUnknown
	}

	return LifelineStatus{
		Lifeline:    LifelinePower,
		Inventory:   InventorySummary{UnitCount: len(src.BatteryUnits) + len(src.GeneratorUnits), CapacityTotal: totalBattery + totalGen, CapacityUsed: usedBattery + usedGen},
		Consumption: ConsumptionSummary{},
		Endurance: Endurance{
			RawHours:       effectiveHours,
			EffectiveHours: effectiveHours,
			EffectiveDays:  effectiveHours / 24,
		},
		Status:      status,
		VsIsolation: vs,
		Message:     statusMessage(status, LifelinePower, vs),
		Warnings:    append(batteryWarnings, generatorWarnings...),
	}
}

// ReagentEndurance holds the weakest-link inputs for a reagent.
type ReagentEndurance struct {
	VolumeUnits        []InventoryUnit
	VolumeCfg          TypeConfig
	VolumeStrat        CapacityStrategy
	ExpiryDaysAfterOpen float64
}

// ComputeReagentStatus implements the weakest-link law for reagents:
// effective_days = min(volume_days, expiry_days_after_open).
func ComputeReagentStatus(src ReagentEndurance, profile Profile, cfg Config) (LifelineStatus, error) {
	burnPerDay, err := convertBurnRateToPerDay(profile.BurnRate, profile.BurnRateUnit)
	if err != nil {
		return LifelineStatus{}, err
	}
	used, total, warnings := AggregateCapacity(src.VolumeUnits, src.VolumeCfg, src.VolumeStrat)

	var volumeDays float64
	if burnPerDay > 0 {
		volumeDays = used / burnPerDay
	} else {
		volumeDays = math.Inf(1)
	}
	effectiveDays := math.Min(volumeDays, src.ExpiryDaysAfterOpen)
	effectiveHours := effectiveDays * 24

	status, vs := EvaluateStatus(effectiveHours, cfg.IsolationTargetDays, cfg.ThresholdSafe, cfg.ThresholdWarning)
	if burnPerDay <= 0 || total == 0 {
		status = StatusUnknown
	}

	return LifelineStatus{
		Lifeline:  LifelineReagent,
		Inventory: InventorySummary{UnitCount: len(src.VolumeUnits), CapacityTotal: total, CapacityUsed: used},
		Consumption: ConsumptionSummary{
			ProfileName:       profile.ProfileName,
			BurnRate:          profile.BurnRate,
			EffectiveBurnRate: burnPerDay,
		},
		Endurance: Endurance{
			RawHours:       volumeDays * 24,
			EffectiveHours: effectiveHours,
			EffectiveDays:  effectiveDays,
		},
		Status:      status,
		VsIsolation: vs,
		Message:     statusMessage(status, LifelineReagent, vs),
		Warnings:    warnings,
	}, nil
}

func convertBurnRateToPerDay(rate float64, unit BurnRateUnit) (float64, error) {
	switch unit {
	case BurnRateTestsPerDay:
		return rate, nil
	case BurnRateLitersPerHour:
		return rate * 24, nil
	case BurnRateLitersPerMin:
		return rate * 60 * 24, nil
	default:
		return 0, fmt.Errorf("resilience: burn rate unit %q: %w", unit, errkind.ErrUnknownBurnRateUnit)
	}
}

// OverallWeakestLink chooses the minimum of power and oxygen effective
// hours — not the minimum across all raw items, to avoid double
// counting the oxygen/power dependency.
func OverallWeakestLink(oxygen, power LifelineStatus) float64 {
	return math.Min(oxygen.Endurance.EffectiveHours, power.Endurance.EffectiveHours)
}

func statusMessage(s Status, lifeline Lifeline, vs VsIsolation) string {
	switch s {
	case StatusSafe:
		return fmt.Sprintf("%s endurance comfortably exceeds the isolation target", lifeline)
	case StatusWarning:
		return fmt.Sprintf("%s endurance meets but does not comfortably exceed the isolation target", lifeline)
	case StatusCritical:
		return fmt.Sprintf("%s endurance falls short of the isolation target by %.1f hours", lifeline, -vs.GapHours)
	default:
		return fmt.Sprintf("%s endurance cannot be determined from current configuration", lifeline)
	}
}
