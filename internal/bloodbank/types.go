// Package bloodbank implements the blood_unit supplemental projection:
// a minimal, event-sourced tracker for blood stock with its own
// read-only, lifeline-like summary (Summarize). The resilience engine
// does not consume it: it is not one of the three configured lifelines
// (oxygen/power/reagent) and
// carries no capacity-calculator strategy of its own — just count and
// nearest-expiry reporting per blood type.
package bloodbank

// Status is the closed set of blood_unit lifecycle states.
type Status string

const (
	StatusAvailable  Status = "AVAILABLE"
	StatusReserved   Status = "RESERVED"
	StatusTransfused Status = "TRANSFUSED"
	StatusExpired    Status = "EXPIRED"
	StatusDiscarded  Status = "DISCARDED"
)

// Unit is the blood_unit projection (SPEC_FULL.md §5 supplement).
type Unit struct {
	UnitID      string `json:"unit_id"`
	BloodType   string `json:"blood_type"`
	Status      Status `json:"status"`
	ExpiresAtMs int64  `json:"expires_at_ms"`
	LastEventID string `json:"last_event_id"`
}

// event types appended for each lifecycle transition.
const (
	EventReceive   = "RECEIVE"
	EventReserve   = "RESERVE"
	EventUnreserve = "UNRESERVE"
	EventTransfuse = "TRANSFUSE"
	EventDiscard   = "DISCARD"
	EventExpire    = "EXPIRE"
)

const entityTypeBloodUnit = "blood_unit"

// ReceivePayload is the RECEIVE event payload: a fresh unit entering stock.
type ReceivePayload struct {
	BloodType   string `json:"blood_type"`
	ExpiresAtMs int64  `json:"expires_at_ms"`
}

// DiscardPayload is the DISCARD event payload.
type DiscardPayload struct {
	Reason string `json:"reason"`
}

// Summary is the per-blood-type read-only status returned by
// Summarize.
type Summary struct {
	BloodType        string `json:"blood_type"`
	AvailableCount   int    `json:"available_count"`
	ReservedCount    int    `json:"reserved_count"`
	ExpiringSoonCount int   `json:"expiring_soon_count"`
	NearestExpiryMs  int64  `json:"nearest_expiry_ms"`
}
