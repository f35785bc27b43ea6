package peering

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// AuditEvent is one append-only row in audit_logs. HMAC covers the
// canonical JSON of every field below except ID, CreatedAt and HMAC itself
// (see canonicalPayload), giving a
// tamper-evidence check independent of database ACLs. Key management
// and rotation for the signing key are out of scope here; Store is handed
// an already-provisioned key at construction.
type AuditEvent struct {
	ID            int64
	EntityType    string
	EntityID      int64
	Op            string
	Actor         string
	ClientAddr    string
	CorrelationID string
	OldData       json.RawMessage
	NewData       json.RawMessage
	CreatedAt     time.Time
	HMAC          string
}

// canonicalPayload is the exact set of fields the HMAC is computed over.
// CreatedAt is deliberately excluded: it's assigned by the database clock
// at insert time, after the HMAC is computed.
type canonicalPayload struct {
	EntityType    string          `json:"entity_type"`
	EntityID      int64           `json:"entity_id"`
	Op            string          `json:"op"`
	Actor         string          `json:"actor"`
	ClientAddr    string          `json:"client_addr"`
	CorrelationID string          `json:"correlation_id"`
	OldData       json.RawMessage `json:"old_data,omitempty"`
	NewData       json.RawMessage `json:"new_data,omitempty"`
}

func signAuditEvent(key []byte, e AuditEvent) (string, error) {
	payload := canonicalPayload{
		EntityType:    e.EntityType,
		EntityID:      e.EntityID,
		Op:            e.Op,
		Actor:         e.Actor,
		ClientAddr:    e.ClientAddr,
		CorrelationID: e.CorrelationID,
		OldData:       e.OldData,
		NewData:       e.NewData,
	}
	canonical, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifyAuditEvent recomputes the HMAC over e's fields and reports whether
// it matches e.HMAC, using a constant-time comparison.
func VerifyAuditEvent(key []byte, e AuditEvent) (bool, error) {
	want, err := signAuditEvent(key, e)
	if err != nil {
		return false, err
	}
	got, err := hex.DecodeString(e.HMAC)
	if err != nil {
		return false, nil
	}
	wantBytes, err := hex.DecodeString(want)
	if err != nil {
		return false, err
	}
	return hmac.Equal(wantBytes, got), nil
}
