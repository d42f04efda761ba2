// Package session implements the mobile pairing and session-token
// subsystem (C8): pairing-code issuance, JWT session tokens, device
// lifecycle (revoke/unrevoke/blacklist), and rate-limited pairing
// exchange.
package session

// PairingCode is a one-time 6-digit numeric code granting a device
// scoped access.
type PairingCode struct {
	Code         string   `json:"code"`
	StationID    string   `json:"station_id"`
	AllowedRoles []string `json:"allowed_roles"`
	Scopes       []string `json:"scopes"`
	CreatedBy    string   `json:"created_by"`
	IssuedAtMs   int64    `json:"issued_at_ms"`
	ExpiresAtMs  int64    `json:"expires_at_ms"`
	Used         bool     `json:"used"`
	UsedByDevice string   `json:"used_by_device"`
}

// Device is a paired mobile device's lifecycle record.
type Device struct {
	DeviceID        string `json:"device_id"`
	DeviceName      string `json:"device_name"`
	StaffID         string `json:"staff_id"`
	StaffName       string `json:"staff_name"`
	Role            string `json:"role"`
	Scopes          []string `json:"scopes"`
	StationID       string `json:"station_id"`
	PairedAtMs      int64  `json:"paired_at_ms"`
	LastSeenMs      int64  `json:"last_seen_ms"`
	Revoked         bool   `json:"revoked"`
	RevokedReason   string `json:"revoked_reason,omitempty"`
	Blacklisted     bool   `json:"blacklisted"`
	BlacklistReason string `json:"blacklist_reason,omitempty"`
	IPAddress       string `json:"ip_address"`
	UserAgent       string `json:"user_agent"`
}

// Claims is the JWT session-token payload.
type Claims struct {
	DeviceID  string   `json:"device_id"`
	StaffID   string   `json:"staff_id"`
	Role      string   `json:"role"`
	Scopes    []string `json:"scopes"`
	StationID string   `json:"station_id"`
}

const (
	DefaultPairingCodeTTLMinutes = 5
	DefaultSessionTTLHours       = 12
	RateLimitAttempts            = 5
	RateLimitWindowSeconds       = 60
)
