// Package peering implements the peering store: the authoritative,
// soft-deleting catalog of BGP peering sessions, and the snapshot-then-
// evaluate write path that consults the rule evaluator before any mutation
// commits.
package peering

import (
	"encoding/json"
	"time"

	"github.com/example/bgp-orchestrator/internal/rules"
)

// Peering is one catalog entry for a configured BGP session.
type Peering struct {
	ID              int64
	Name            string
	LocalASN        int64
	PeerASN         int64
	PeerIP          string
	Device          string
	Interface       string
	HoldTime        int
	Keepalive       int
	Status          rules.Status
	AddressFamilies []rules.AddressFamily
	RoutingPolicy   json.RawMessage

	IsDeleted bool
	DeletedAt *time.Time
	DeletedBy string

	CreatedAt time.Time
	UpdatedAt *time.Time
	CreatedBy string
	UpdatedBy string
}

// Draft is the caller-supplied payload for Create and for each element of a
// bulk-create batch.
type Draft struct {
	Name            string
	LocalASN        int64
	PeerASN         int64
	PeerIP          string
	Device          string
	Interface       string
	HoldTime        int
	Keepalive       int
	Status          rules.Status
	AddressFamilies []rules.AddressFamily
	RoutingPolicy   json.RawMessage
	Actor           string
}

// Patch is a partial update; nil/zero-value fields are left unchanged. Ptr
// fields distinguish "not supplied" from "set to zero".
type Patch struct {
	Name            *string
	LocalASN        *int64
	PeerASN         *int64
	PeerIP          *string
	Device          *string
	Interface       *string
	HoldTime        *int
	Keepalive       *int
	Status          *rules.Status
	AddressFamilies []rules.AddressFamily
	RoutingPolicy   json.RawMessage
	Actor           string
}

// Filters narrows List results. Zero values mean "no filter", except
// Limit: a value outside 1..1000 means 1000.
type Filters struct {
	Device  string
	Status  rules.Status
	PeerASN int64
	Skip    int
	Limit   int
}

// routingPolicyDoc is the shape used only to extract import.as_path from the
// opaque RoutingPolicy document; unknown fields round-trip untouched since
// the column itself stores the raw JSON, not this struct.
type routingPolicyDoc struct {
	Import struct {
		ASPath []int64 `json:"as_path"`
	} `json:"import"`
}

// ImportASPath extracts routing_policy.import.as_path for rule evaluation.
// A malformed or absent document yields an empty path rather than an error
// — rules must never fail on an opaque document they don't own.
func ImportASPath(raw json.RawMessage) []int64 {
	if len(raw) == 0 {
		return nil
	}
	var doc routingPolicyDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil
	}
	return doc.Import.ASPath
}

// toCandidate projects a Peering (or a not-yet-persisted Draft-as-Peering)
// into the immutable shape the rule evaluator consumes.
func toCandidate(id int64, name string, localASN, peerASN int64, peerIP, device, iface string, holdTime, keepalive int, status rules.Status, afs []rules.AddressFamily, routingPolicy json.RawMessage) rules.Candidate {
	return rules.Candidate{
		ID:              id,
		Name:            name,
		LocalASN:        localASN,
		PeerASN:         peerASN,
		PeerIP:          peerIP,
		Device:          device,
		Interface:       iface,
		HoldTime:        holdTime,
		Keepalive:       keepalive,
		Status:          status,
		AddressFamilies: afs,
		RoutingPolicy:   rules.RoutingPolicy{Import: rules.RoutingPolicyDirection{ASPath: ImportASPath(routingPolicy)}},
	}
}

func (p Peering) candidate() rules.Candidate {
	return toCandidate(p.ID, p.Name, p.LocalASN, p.PeerASN, p.PeerIP, p.Device, p.Interface, p.HoldTime, p.Keepalive, p.Status, p.AddressFamilies, p.RoutingPolicy)
}

func (d Draft) candidate(id int64) rules.Candidate {
	status := d.Status
	if status == "" {
		status = rules.StatusPending
	}
	return toCandidate(id, d.Name, d.LocalASN, d.PeerASN, d.PeerIP, d.Device, d.Interface, d.HoldTime, d.Keepalive, status, d.AddressFamilies, d.RoutingPolicy)
}
