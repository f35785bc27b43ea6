package stream

import (
	"encoding/json"
	"fmt"
)

// MaxASPathLength bounds a sanity check on an oversize AS path; a path
// longer than this is rejected as malformed rather than silently
// truncated.
const MaxASPathLength = 4096

// ParseMessage deserializes one broker message into an UpdateEvent.
// Malformed messages are counted by the caller and dropped.
func ParseMessage(raw []byte) (*UpdateEvent, error) {
	var evt UpdateEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return nil, fmt.Errorf("stream: decode message: %w", err)
	}
	if evt.Peer.IP == "" {
		return nil, fmt.Errorf("stream: message missing peer.ip")
	}
	if evt.Peer.ASN == 0 {
		return nil, fmt.Errorf("stream: message missing peer.asn")
	}
	if evt.Type == "" {
		evt.Type = TypeAnnounce
	}
	switch evt.Type {
	case TypeAnnounce, TypeWithdraw, TypeRIB:
	default:
		return nil, fmt.Errorf("stream: unknown message type %q", evt.Type)
	}
	if len(evt.ASPath) > MaxASPathLength {
		return nil, fmt.Errorf("stream: as_path length %d exceeds maximum %d", len(evt.ASPath), MaxASPathLength)
	}
	if evt.Timestamp.IsZero() {
		return nil, fmt.Errorf("stream: message missing timestamp")
	}
	return &evt, nil
}
