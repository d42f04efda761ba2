package resilience

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/pkg/errkind"
)

func TestOxygenResilienceScenario(t *testing.T) {
	cfg := TypeConfig{EquipmentID: "RESP-001", Strategy: StrategyLinear, CapacityLiters: 6900}
	strategy, err := NewStrategy(cfg)
	require.NoError(t, err)

	units := []InventoryUnit{
		{UnitSerial: "u1", LevelPercent: 100, Status: UnitAvailable},
		{UnitSerial: "u2", LevelPercent: 100, Status: UnitAvailable},
		{UnitSerial: "u3", LevelPercent: 50, Status: UnitAvailable},
	}

	profile := Profile{
		ProfileName:          "1 intubated patient",
		Lifeline:             LifelineOxygen,
		BurnRate:             10,
		BurnRateUnit:         BurnRateLitersPerMin,
		PopulationMultiplier: 1,
	}
	stationCfg := DefaultConfig("station-1")
	stationCfg.PopulationCount = 1
	stationCfg.IsolationTargetDays = 3

	status, err := ComputeOxygenStatus(OxygenSources{
		CylinderUnits: units,
		CylinderCfg:   cfg,
		CylinderStrat: strategy,
	}, profile, stationCfg)
	require.NoError(t, err)

	require.InDelta(t, 17250, status.Inventory.CapacityUsed, 0.001)
	require.InDelta(t, 28.75, status.Endurance.EffectiveHours, 0.001)
	require.InDelta(t, 0.399, status.VsIsolation.Ratio, 0.001)
	require.Equal(t, StatusCritical, status.Status)
	require.InDelta(t, 43.25, -status.VsIsolation.GapHours, 0.001)
}

func TestMaintenanceOfflineEmptyUnitsExcluded(t *testing.T) {
	cfg := TypeConfig{EquipmentID: "RESP-001", Strategy: StrategyLinear, CapacityLiters: 6900}
	strategy, err := NewStrategy(cfg)
	require.NoError(t, err)

	for _, status := range []UnitStatus{UnitMaintenance, UnitOffline, UnitEmpty} {
		units := []InventoryUnit{{UnitSerial: "u1", LevelPercent: 100, Status: status}}
		used, total, _ := AggregateCapacity(units, cfg, strategy)
		require.Zero(t, used)
		require.Zero(t, total)
	}
}

func TestClaimedUnitsExcluded(t *testing.T) {
	cfg := TypeConfig{EquipmentID: "RESP-001", Strategy: StrategyLinear, CapacityLiters: 6900}
	strategy, err := NewStrategy(cfg)
	require.NoError(t, err)
	units := []InventoryUnit{{UnitSerial: "u1", LevelPercent: 100, Status: UnitAvailable, ClaimedByCaseID: "case-1"}}
	used, _, _ := AggregateCapacity(units, cfg, strategy)
	require.Zero(t, used)
}

func TestIncreasingInventoryIncreasesEffectiveHours(t *testing.T) {
	cfg := TypeConfig{EquipmentID: "RESP-001", Strategy: StrategyLinear, CapacityLiters: 6900}
	strategy, err := NewStrategy(cfg)
	require.NoError(t, err)
	profile := Profile{BurnRate: 10, BurnRateUnit: BurnRateLitersPerMin, PopulationMultiplier: 1}
	stationCfg := DefaultConfig("s1")
	stationCfg.PopulationCount = 1
	stationCfg.IsolationTargetDays = 3

	small := []InventoryUnit{{UnitSerial: "u1", LevelPercent: 50, Status: UnitAvailable}}
	large := []InventoryUnit{{UnitSerial: "u1", LevelPercent: 50, Status: UnitAvailable}, {UnitSerial: "u2", LevelPercent: 100, Status: UnitAvailable}}

	smallStatus, err := ComputeOxygenStatus(OxygenSources{CylinderUnits: small, CylinderCfg: cfg, CylinderStrat: strategy}, profile, stationCfg)
	require.NoError(t, err)
	largeStatus, err := ComputeOxygenStatus(OxygenSources{CylinderUnits: large, CylinderCfg: cfg, CylinderStrat: strategy}, profile, stationCfg)
	require.NoError(t, err)
	require.Greater(t, largeStatus.Endurance.EffectiveHours, smallStatus.Endurance.EffectiveHours)
}

func TestUnrecognizedStrategyFailsClosedAtLoadTime(t *testing.T) {
	_, err := NewStrategy(TypeConfig{EquipmentID: "X", Strategy: "BOGUS"})
	require.Error(t, err)
	require.True(t, errors.Is(err, errkind.ErrUnknownCapacityStrategy))
}

func TestUnrecognizedBurnRateUnitFailsClosed(t *testing.T) {
	_, err := ConvertBurnRateToPerHour(10, "gallons/fortnight")
	require.Error(t, err)
	require.True(t, errors.Is(err, errkind.ErrUnknownBurnRateUnit))
}

func TestPowerDependentUnboundedWithoutCap(t *testing.T) {
	strategy := powerDependentStrategy{}
	r := strategy.Calculate(100, TypeConfig{})
	require.True(t, math.IsInf(r.Hours, 1))
}

func TestPowerDependentCappedByPowerHours(t *testing.T) {
	cap := 12.0
	strategy := powerDependentStrategy{}
	r := strategy.Calculate(100, TypeConfig{PowerHoursCap: &cap})
	require.Equal(t, 12.0, r.Hours)
}

func TestFuelBasedGenerator(t *testing.T) {
	cfg := TypeConfig{Strategy: StrategyFuelBased, TankLiters: 50, FuelRateLPH: 5}
	strategy, err := NewStrategy(cfg)
	require.NoError(t, err)
	r := strategy.Calculate(100, cfg)
	require.InDelta(t, 10, r.Hours, 0.001)
}

func TestPowerSourcesAdd(t *testing.T) {
	batteryCfg := TypeConfig{Strategy: StrategyLinear, HoursPer100Pct: 4, CapacityWh: 1000}
	genCfg := TypeConfig{Strategy: StrategyFuelBased, TankLiters: 50, FuelRateLPH: 5}
	batteryStrat, _ := NewStrategy(batteryCfg)
	genStrat, _ := NewStrategy(genCfg)

	status := ComputePowerStatus(PowerSources{
		BatteryUnits:   []InventoryUnit{{UnitSerial: "b1", LevelPercent: 100, Status: UnitAvailable}},
		BatteryCfg:     batteryCfg,
		BatteryStrat:   batteryStrat,
		GeneratorUnits: []InventoryUnit{{UnitSerial: "g1", LevelPercent: 100, Status: UnitAvailable}},
		GeneratorCfg:   genCfg,
		GeneratorStrat: genStrat,
	}, DefaultConfig("s1"))

	require.InDelta(t, 14, status.Endurance.EffectiveHours, 0.001) // 4 + 10
}
