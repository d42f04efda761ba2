// Package equipment implements the resilience equipment model (C9): a
// pure projection consumer of the event store, tracking per-unit
// ownership, level, and status used by the resilience engine.
package equipment

import "github.com/cutemo0953/MIRS-v2.0-single-station-sub000/internal/resilience"

// Status mirrors resilience.UnitStatus for the equipment_unit entity.
type Status = resilience.UnitStatus

const (
	StatusAvailable   = resilience.UnitAvailable
	StatusInUse       = resilience.UnitInUse
	StatusCharging    = resilience.UnitCharging
	StatusEmpty       = resilience.UnitEmpty
	StatusMaintenance = resilience.UnitMaintenance
	StatusOffline     = resilience.UnitOffline
)

// Unit is the EquipmentUnit projection (C9 data model).
type Unit struct {
	UnitSerial         string  `json:"unit_serial"`
	EquipmentID        string  `json:"equipment_id"`
	UnitLabel          string  `json:"unit_label"`
	LevelPercent       float64 `json:"level_percent"`
	Status             Status  `json:"status"`
	ClaimedByCaseID    string  `json:"claimed_by_case_id"`
	ClaimedByMissionID string  `json:"claimed_by_mission_id"`
	IsActive           bool    `json:"is_active"`
	LastEventID        string  `json:"last_event_id"`
}

// ToInventoryUnit converts to the minimal view the resilience engine
// consumes.
func (u Unit) ToInventoryUnit() resilience.InventoryUnit {
	return resilience.InventoryUnit{
		UnitSerial:         u.UnitSerial,
		LevelPercent:       u.LevelPercent,
		Status:             u.Status,
		ClaimedByCaseID:    u.ClaimedByCaseID,
		ClaimedByMissionID: u.ClaimedByMissionID,
	}
}

// event types appended for each lifecycle transition.
const (
	EventCreate  = "CREATE"
	EventCheck   = "CHECK"
	EventClaim   = "CLAIM"
	EventRelease = "RELEASE"
	EventRetire  = "RETIRE"
)

const entityTypeEquipmentUnit = "equipment_unit"

// CreatePayload is the CREATE event payload.
type CreatePayload struct {
	EquipmentID  string  `json:"equipment_id"`
	UnitLabel    string  `json:"unit_label"`
	LevelPercent float64 `json:"level_percent"`
	Status       Status  `json:"status"`
}

// CheckPayload is the CHECK event payload (level & status update).
type CheckPayload struct {
	LevelPercent float64 `json:"level_percent"`
	Status       Status  `json:"status"`
	Notes        string  `json:"notes,omitempty"`
}

// ClaimPayload is the CLAIM event payload.
type ClaimPayload struct {
	CaseID    string `json:"case_id,omitempty"`
	MissionID string `json:"mission_id,omitempty"`
}

// ReleasePayload is the RELEASE event payload.
type ReleasePayload struct {
	LevelPercent *float64 `json:"level_percent,omitempty"`
}
