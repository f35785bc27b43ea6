// Package stream implements the stream consumer: it consumes live BGP
// update messages from the broker, runs a real-time conflict check against
// the peering catalog, appends each message to durable storage, and
// projects a feature vector to the feature sink, all within the spec's
// <100ms per-message latency target.
package stream

import (
	"strconv"
	"time"
)

// MessageType is the BGP update event type enumeration.
type MessageType string

const (
	TypeAnnounce MessageType = "announce"
	TypeWithdraw MessageType = "withdraw"
	TypeRIB      MessageType = "rib"
)

// peerRef is the wire shape of the "peer" sub-object in an UpdateEvent.
type peerRef struct {
	IP  string `json:"ip"`
	ASN int64  `json:"asn"`
}

// UpdateEvent is one ephemeral BGP update message as published on the
// broker topic.
type UpdateEvent struct {
	Timestamp   time.Time    `json:"timestamp"`
	Peer        peerRef      `json:"peer"`
	Prefix      *string      `json:"prefix,omitempty"`
	ASPath      []int64      `json:"as_path"`
	OriginASN   *int64       `json:"origin_asn,omitempty"`
	NextHop     *string      `json:"next_hop,omitempty"`
	Type        MessageType  `json:"type"`
	Communities []string     `json:"communities,omitempty"`
	Announce    *announceMsg `json:"announce,omitempty"`
	Withdraw    *withdrawMsg `json:"withdraw,omitempty"`
}

// announceMsg and withdrawMsg are the optional nested message forms; when
// present they carry the prefix instead of (or in addition to) the
// top-level field.
type announceMsg struct {
	Prefix string `json:"prefix"`
}

type withdrawMsg struct {
	Prefix string `json:"prefix"`
}

// ResolvedPrefix returns the prefix this event concerns, preferring the
// nested announce/withdraw object, falling back to the top-level field. A
// withdrawal may have no prefix at all.
func (e *UpdateEvent) ResolvedPrefix() (prefix string, ok bool) {
	if e.Announce != nil && e.Announce.Prefix != "" {
		return e.Announce.Prefix, true
	}
	if e.Withdraw != nil && e.Withdraw.Prefix != "" {
		return e.Withdraw.Prefix, true
	}
	if e.Prefix != nil && *e.Prefix != "" {
		return *e.Prefix, true
	}
	return "", false
}

// FeatureKey returns the feature-sink entity key for this event.
func (e *UpdateEvent) FeatureKey() string {
	return e.Peer.IP + "_" + strconv.FormatInt(e.Peer.ASN, 10)
}
