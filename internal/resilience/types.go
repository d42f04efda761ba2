// Package resilience implements the endurance engine (C5): closed-form
// oxygen/power/reagent survivability calculations driven by per-unit
// inventory state and configurable consumption profiles. Pure
// calculation — no I/O, no suspension points.
package resilience

import "math"

// Status classifies a lifeline's survivability against the isolation
// target.
type Status string

const (
	StatusSafe     Status = "SAFE"
	StatusWarning  Status = "WARNING"
	StatusCritical Status = "CRITICAL"
	StatusUnknown  Status = "UNKNOWN"
)

// Lifeline names the three configured resource categories.
type Lifeline string

const (
	LifelineOxygen  Lifeline = "OXYGEN"
	LifelinePower   Lifeline = "POWER"
	LifelineReagent Lifeline = "REAGENT"
)

// BurnRateUnit enumerates the closed set of recognized consumption-rate
// units. Per the design-notes open question, an unrecognized unit fails
// closed rather than silently defaulting to hourly.
type BurnRateUnit string

const (
	BurnRateLitersPerMin  BurnRateUnit = "L/min"
	BurnRateLitersPerHour BurnRateUnit = "L/hr"
	BurnRateTestsPerDay   BurnRateUnit = "tests/day"
)

// Strategy names the closed tagged union of capacity calculation
// strategies.
type Strategy string

const (
	StrategyLinear         Strategy = "LINEAR"
	StrategyFuelBased      Strategy = "FUEL_BASED"
	StrategyPowerDependent Strategy = "POWER_DEPENDENT"
	StrategyNone           Strategy = "NONE"
)

// UnitStatus mirrors the subset of EquipmentUnit.status relevant to
// capacity aggregation.
type UnitStatus string

const (
	UnitAvailable  UnitStatus = "AVAILABLE"
	UnitInUse      UnitStatus = "IN_USE"
	UnitCharging   UnitStatus = "CHARGING"
	UnitEmpty      UnitStatus = "EMPTY"
	UnitMaintenance UnitStatus = "MAINTENANCE"
	UnitOffline    UnitStatus = "OFFLINE"
)

// InventoryUnit is the minimal per-unit view the engine needs; C9
// converts its EquipmentUnit records into this shape when calling in.
type InventoryUnit struct {
	UnitSerial         string
	LevelPercent       float64
	Status             UnitStatus
	ClaimedByCaseID    string
	ClaimedByMissionID string
}

// contributes reports whether a unit counts toward aggregate capacity:
// only AVAILABLE/IN_USE (CHARGING also counts but with a warning
// recorded by the caller), excluding anything already claimed.
func (u InventoryUnit) contributes() bool {
	if u.ClaimedByCaseID != "" || u.ClaimedByMissionID != "" {
		return false
	}
	switch u.Status {
	case UnitAvailable, UnitInUse, UnitCharging:
		return true
	default:
		return false
	}
}

// TypeConfig is the per-equipment-type capacity configuration
// (EquipmentType/CapacityConfig in the data model).
type TypeConfig struct {
	EquipmentID    string
	Strategy       Strategy
	HoursPer100Pct float64
	TankLiters     float64
	FuelRateLPH    float64
	CapacityLiters float64
	CapacityWh     float64
	OutputWatts    float64
	PowerHoursCap  *float64 // POWER_DEPENDENT external power-hours cap, nil = unbounded
}

// Result is a single capacity strategy's output for one unit.
type Result struct {
	Hours         float64
	CapacityUsed  float64
	CapacityTotal float64
	Warning       string
}

// Infinity represents an uncapped POWER_DEPENDENT result.
var Infinity = math.Inf(1)

// Profile is a named consumption scenario (ResilienceProfile).
type Profile struct {
	ProfileID           string
	Lifeline            Lifeline
	ProfileName         string
	BurnRate            float64
	BurnRateUnit        BurnRateUnit
	PopulationMultiplier int // 0 or 1
	IsDefault           bool
}

// Config is the per-station resilience configuration.
type Config struct {
	StationID           string
	IsolationTargetDays  float64
	PopulationCount      int
	PopulationLabel      string
	ThresholdSafe        float64 // default 1.2
	ThresholdWarning     float64 // default 1.0
	SelectedProfileIDs   map[Lifeline]string
}

// DefaultConfig seeds the two threshold defaults spec.md names.
func DefaultConfig(stationID string) Config {
	return Config{
		StationID:        stationID,
		ThresholdSafe:    1.2,
		ThresholdWarning: 1.0,
		SelectedProfileIDs: map[Lifeline]string{},
	}
}

// Endurance is the raw/effective hours-days breakdown for one lifeline.
type Endurance struct {
	RawHours      float64
	EffectiveHours float64
	EffectiveDays float64
}

// VsIsolation reports how endurance compares to the isolation target.
type VsIsolation struct {
	Ratio      float64
	CanSurvive bool
	GapHours   float64
}

// LifelineStatus is the full per-lifeline resilience report.
type LifelineStatus struct {
	Lifeline    Lifeline
	Inventory   InventorySummary
	Consumption ConsumptionSummary
	Endurance   Endurance
	Dependency  *Endurance
	Status      Status
	VsIsolation VsIsolation
	Message     string
	Warnings    []string
}

// InventorySummary totals the units and capacity contributing to a
// lifeline's calculation.
type InventorySummary struct {
	UnitCount     int
	CapacityTotal float64
	CapacityUsed  float64
}

// ConsumptionSummary reports the profile driving a lifeline's burn.
type ConsumptionSummary struct {
	ProfileName        string
	BurnRate           float64
	EffectiveBurnRate  float64
}
