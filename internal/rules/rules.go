package rules

import (
	"fmt"
	"net"
)

// isPrivateASN reports whether asn falls in the 16-bit or 32-bit private
// use range.
func isPrivateASN(asn int64) bool {
	if asn >= 64512 && asn <= 65534 {
		return true
	}
	if asn >= 4200000000 && asn <= 4294967294 {
		return true
	}
	return false
}

func isPrivateIP(ip net.IP) bool {
	return ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast()
}

// ASNCollisionRule flags another active peering using the same peer_asn on a
// different peer_ip.
type ASNCollisionRule struct{}

func (ASNCollisionRule) Name() string { return "asn_collision" }

func (ASNCollisionRule) Check(candidate Candidate, snapshot Snapshot) (*Conflict, error) {
	if candidate.Status != StatusActive {
		return nil, nil
	}
	var matched []int64
	for _, p := range snapshot.Peerings {
		if p.ID == candidate.ID {
			continue
		}
		if p.Status != StatusActive {
			continue
		}
		if p.PeerASN == candidate.PeerASN && p.PeerIP != candidate.PeerIP {
			matched = append(matched, p.ID)
		}
	}
	if len(matched) == 0 {
		return nil, nil
	}
	matched = append(matched, candidate.ID)
	return &Conflict{
		Type:              ConflictASNCollision,
		Severity:          SeverityHigh,
		Description:       fmt.Sprintf("peer_asn %d is already used by another active peering on a different peer_ip", candidate.PeerASN),
		AffectedPeers:     matched,
		RecommendedAction: "confirm this ASN is intentionally multi-homed, or correct the peer_asn",
	}, nil
}

// SessionOverlapRule flags another record with the identical
// (device, peer_ip, peer_asn) triple.
type SessionOverlapRule struct{}

func (SessionOverlapRule) Name() string { return "session_overlap" }

func (SessionOverlapRule) Check(candidate Candidate, snapshot Snapshot) (*Conflict, error) {
	var matched []int64
	for _, p := range snapshot.Peerings {
		if p.ID == candidate.ID {
			continue
		}
		if p.Device == candidate.Device && p.PeerIP == candidate.PeerIP && p.PeerASN == candidate.PeerASN {
			matched = append(matched, p.ID)
		}
	}
	if len(matched) == 0 {
		return nil, nil
	}
	matched = append(matched, candidate.ID)
	return &Conflict{
		Type:              ConflictSessionOverlap,
		Severity:          SeverityCritical,
		Description:       fmt.Sprintf("duplicate session (device=%s, peer_ip=%s, peer_asn=%d)", candidate.Device, candidate.PeerIP, candidate.PeerASN),
		AffectedPeers:     matched,
		RecommendedAction: "remove or disable the duplicate peering",
	}, nil
}

// RoutingLoopRule flags local_asn == peer_asn or local_asn appearing in the
// candidate's own import AS path.
type RoutingLoopRule struct{}

func (RoutingLoopRule) Name() string { return "routing_loop" }

func (RoutingLoopRule) Check(candidate Candidate, _ Snapshot) (*Conflict, error) {
	if candidate.LocalASN == candidate.PeerASN {
		return &Conflict{
			Type:              ConflictRoutingLoop,
			Severity:          SeverityCritical,
			Description:       fmt.Sprintf("local_asn and peer_asn are both %d", candidate.LocalASN),
			AffectedPeers:     []int64{candidate.ID},
			RecommendedAction: "correct local_asn or peer_asn; peering to oneself forms a routing loop",
		}, nil
	}
	for _, asn := range candidate.RoutingPolicy.Import.ASPath {
		if asn == candidate.LocalASN {
			return &Conflict{
				Type:              ConflictRoutingLoop,
				Severity:          SeverityCritical,
				Description:       fmt.Sprintf("local_asn %d appears in routing_policy.import.as_path", candidate.LocalASN),
				AffectedPeers:     []int64{candidate.ID},
				RecommendedAction: "remove local_asn from the import AS path filter/prepend policy",
			}, nil
		}
	}
	return nil, nil
}

// PrefixOverlapRule validates peer_ip parses, flags private addresses used
// in active status, and flags duplicate peer_ip on the same device
// independent of ASN.
type PrefixOverlapRule struct{}

func (PrefixOverlapRule) Name() string { return "prefix_ip_sanity" }

func (PrefixOverlapRule) Check(candidate Candidate, snapshot Snapshot) (*Conflict, error) {
	ip := net.ParseIP(candidate.PeerIP)
	if ip == nil {
		return &Conflict{
			Type:              ConflictConfigurationMismatch,
			Severity:          SeverityHigh,
			Description:       fmt.Sprintf("peer_ip %q does not parse as IPv4 or IPv6", candidate.PeerIP),
			AffectedPeers:     []int64{candidate.ID},
			RecommendedAction: "correct peer_ip to a valid IPv4 or IPv6 literal",
		}, nil
	}

	if isPrivateIP(ip) && candidate.Status == StatusActive {
		return &Conflict{
			Type:              ConflictConfigurationMismatch,
			Severity:          SeverityMedium,
			Description:       fmt.Sprintf("peer_ip %s is a private address while status is active", candidate.PeerIP),
			AffectedPeers:     []int64{candidate.ID},
			RecommendedAction: "confirm this private peering is intentional (e.g. lab or iBGP)",
			Metadata:          map[string]any{"advisory": true},
		}, nil
	}

	var matched []int64
	for _, p := range snapshot.Peerings {
		if p.ID == candidate.ID {
			continue
		}
		if p.Device == candidate.Device && p.PeerIP == candidate.PeerIP {
			matched = append(matched, p.ID)
		}
	}
	if len(matched) > 0 {
		matched = append(matched, candidate.ID)
		return &Conflict{
			Type:              ConflictSessionOverlap,
			Severity:          SeverityCritical,
			Description:       fmt.Sprintf("peer_ip %s is reused on device %s", candidate.PeerIP, candidate.Device),
			AffectedPeers:     matched,
			RecommendedAction: "confirm the device/peer_ip pair is not misconfigured",
		}, nil
	}

	return nil, nil
}

// RPKIValidator is the narrow interface the RPKI rule consults. Its
// implementation lives behind a circuit breaker in internal/external;
// unavailability must never be escalated into a conflict.
type RPKIValidator interface {
	Validate(prefix string, originASN int64) (valid bool, determined bool, err error)
}

// RPKIValidationRule skips private ASNs entirely; for public ASNs it
// consults the validator and reports rpki_invalid only on a definite
// mismatch. A validator error or "not determined" result never becomes a
// conflict.
type RPKIValidationRule struct {
	Validator RPKIValidator
	// Prefix resolves the prefix to validate for a candidate. In the
	// streaming path this is the announced prefix; in the catalog path
	// there may be no single prefix to validate, in which case Prefix
	// should return ok=false and the rule is a no-op.
	Prefix func(candidate Candidate) (prefix string, ok bool)
}

func (RPKIValidationRule) Name() string { return "rpki_validation" }

func (r RPKIValidationRule) Check(candidate Candidate, _ Snapshot) (*Conflict, error) {
	if isPrivateASN(candidate.PeerASN) {
		return nil, nil
	}
	if r.Validator == nil || r.Prefix == nil {
		return nil, nil
	}
	prefix, ok := r.Prefix(candidate)
	if !ok {
		return nil, nil
	}

	valid, determined, err := r.Validator.Validate(prefix, candidate.PeerASN)
	if err != nil || !determined {
		// "not determined" — never downgraded into rpki_invalid.
		return nil, nil
	}
	if valid {
		return nil, nil
	}
	return &Conflict{
		Type:              ConflictRPKIInvalid,
		Severity:          SeverityCritical,
		Description:       fmt.Sprintf("RPKI validation failed for prefix %s originated by AS%d", prefix, candidate.PeerASN),
		AffectedPeers:     []int64{candidate.ID},
		RecommendedAction: "verify the ROA for this prefix/origin pair before accepting this session",
	}, nil
}

// DefaultRules returns the five rules in their fixed registration order.
func DefaultRules(validator RPKIValidator, prefixFn func(Candidate) (string, bool)) []Rule {
	return []Rule{
		ASNCollisionRule{},
		RPKIValidationRule{Validator: validator, Prefix: prefixFn},
		SessionOverlapRule{},
		RoutingLoopRule{},
		PrefixOverlapRule{},
	}
}
