// Package envelope implements the secure-envelope exchange protocol
// (C4): encrypt-then-sign payload transport between stations, with a
// filesystem-backed trusted-key registry and a persistent
// replay-protection store.
package envelope

// DataType enumerates the envelope payload kinds the wire format
// recognizes.
type DataType string

const (
	DataTypeInventoryTransfer DataType = "INVENTORY_TRANSFER"
	DataTypePersonTransfer    DataType = "PERSON_TRANSFER"
	DataTypeEventLog          DataType = "EVENT_LOG"
	DataTypeFullBackup        DataType = "FULL_BACKUP"
	DataTypePartialSync       DataType = "PARTIAL_SYNC"
	DataTypeCommand           DataType = "COMMAND"
)

// Header carries the envelope's unencrypted routing metadata.
type Header struct {
	Version      string   `json:"version"`
	SenderID     string   `json:"sender_id"`
	RecipientID  string   `json:"recipient_id"`
	TimestampUTC int64    `json:"timestamp"`
	DataType     DataType `json:"data_type"`
}

// Envelope is the `.xirs` wire format: exactly these top-level keys.
type Envelope struct {
	EnvelopeID       string `json:"envelope_id"`
	Header           Header `json:"header"`
	PayloadEncrypted string `json:"payload_encrypted"`
	Nonce            string `json:"nonce"`
	Signature        string `json:"signature"`
}

// wrappedPayload is the plaintext structure encrypted inside the
// envelope, matching crypto_engine's build_envelope wrap shape.
type wrappedPayload struct {
	SchemaVersion string `json:"schema_version"`
	DataType      DataType `json:"data_type"`
	Data          any    `json:"data"`
	CreatedAtUTC  int64  `json:"created_at"`
}

// EnvelopeVersion is the wire-format version this implementation
// builds and accepts.
const EnvelopeVersion = "2.0"
