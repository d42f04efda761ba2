// Package eventstore implements the append-only, content-addressed
// event log (C3): every clinical or administrative action is stored as
// an immutable Event, HLC-stamped and hash-verified, with idempotent
// projection updates applied in the same storage transaction.
package eventstore

// MaxPayloadBytes bounds a single event's canonicalized payload size.
const MaxPayloadBytes = 1 << 20 // 1 MiB

// Event is the immutable, fully-stamped record persisted by Append.
// Once written, no field may mutate.
type Event struct {
	EventID     string `json:"event_id"`
	SiteID      string `json:"site_id"`
	EntityType  string `json:"entity_type"`
	EntityID    string `json:"entity_id"`
	ActorID     string `json:"actor_id"`
	ActorName   string `json:"actor_name"`
	ActorRole   string `json:"actor_role"`
	DeviceID    string `json:"device_id"`
	TSDevice    int64  `json:"ts_device"`
	TSServer    int64  `json:"ts_server"`
	HLC         string `json:"hlc"`
	EventType   string `json:"event_type"`
	SchemaVer   string `json:"schema_version"`
	Payload     any    `json:"payload"`
	PayloadHash string `json:"payload_hash"`
}

// Draft is the caller-supplied input to Append; the store fills in the
// remaining identity, timing, and hash fields.
type Draft struct {
	EventType  string
	EntityType string
	EntityID   string
	Payload    any
	TSDevice   int64
}

// ActorContext identifies who/what originated a write.
type ActorContext struct {
	ActorID   string
	ActorName string
	ActorRole string
	DeviceID  string
}

// Filter selects events for List/Export.
type Filter struct {
	EntityType string
	EntityID   string
	SinceHLC   string // checkpoint: resume strictly after this HLC
	SinceEvtID string // not read by List or Export; SinceHLC alone sets the checkpoint
	Limit      int
}

// ExportBatch is one unit of an export sequence suitable for envelope
// transport.
type ExportBatch struct {
	Events     []Event `json:"events"`
	BatchNumber int    `json:"batch_number"`
	IsFinal    bool    `json:"is_final"`
}

// ImportResult tallies the outcome of a restore batch.
type ImportResult struct {
	Inserted      int
	AlreadyPresent int
	Rejected      int
}

// RestoreReject records a hash-mismatch rejection for operator review.
type RestoreReject struct {
	EventID   string `json:"event_id"`
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
	OldHash   string `json:"old_hash"`
	NewHash   string `json:"new_hash"`
	RecordedAtMs int64 `json:"recorded_at_ms"`
}

// RestoreLogEntry records one batch of a restore session.
type RestoreLogEntry struct {
	SessionID      string `json:"session_id"`
	SourceDeviceID string `json:"source_device_id"`
	BatchNumber    int    `json:"batch_number"`
	EventsCount    int    `json:"events_count"`
	Inserted       int    `json:"inserted"`
	AlreadyPresent int    `json:"already_present"`
	Rejected       int    `json:"rejected"`
	IsFinal        bool   `json:"is_final"`
	RecordedAtMs   int64  `json:"recorded_at_ms"`
}
