package peering

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/example/bgp-orchestrator/internal/apierr"
	"github.com/example/bgp-orchestrator/internal/rules"
)

func TestValidateDraft_KeepaliveHoldTimeInvariant(t *testing.T) {
	// hold_time 180 with keepalive 61 violates keepalive <= hold_time/3.
	d := Draft{
		Name: "p1", LocalASN: 65000, PeerASN: 65001, PeerIP: "10.0.0.1", Device: "r1",
		HoldTime: 180, Keepalive: 61, AddressFamilies: []rules.AddressFamily{rules.AFIPv4Unicast},
	}
	if err := validateDraft(d); err == nil {
		t.Fatal("expected validation error for keepalive > hold_time/3")
	}
}

func TestValidateDraft_KeepaliveExactlyAtBoundary(t *testing.T) {
	d := Draft{
		Name: "p1", LocalASN: 65000, PeerASN: 65001, PeerIP: "10.0.0.1", Device: "r1",
		HoldTime: 180, Keepalive: 60, AddressFamilies: []rules.AddressFamily{rules.AFIPv4Unicast},
	}
	if err := validateDraft(d); err != nil {
		t.Fatalf("expected boundary case keepalive == hold_time/3 to be valid: %v", err)
	}
}

func TestValidateDraft_ZeroHoldTimeSkipsInvariant(t *testing.T) {
	d := Draft{
		Name: "p1", LocalASN: 65000, PeerASN: 65001, PeerIP: "10.0.0.1", Device: "r1",
		HoldTime: 0, Keepalive: 5000, AddressFamilies: []rules.AddressFamily{rules.AFIPv4Unicast},
	}
	if err := validateDraft(d); err != nil {
		t.Fatalf("hold_time=0 should not enforce the keepalive invariant: %v", err)
	}
}

func TestValidateDraft_ASNBoundaries(t *testing.T) {
	base := Draft{
		Name: "p", PeerIP: "10.0.0.1", Device: "r1", HoldTime: 90, Keepalive: 30,
		AddressFamilies: []rules.AddressFamily{rules.AFIPv4Unicast},
	}

	valid := base
	valid.LocalASN, valid.PeerASN = 1, 4294967295
	if err := validateDraft(valid); err != nil {
		t.Fatalf("ASN boundary values should be valid: %v", err)
	}

	invalid := base
	invalid.LocalASN, invalid.PeerASN = 0, 65001
	if err := validateDraft(invalid); err == nil {
		t.Fatal("expected error for local_asn=0")
	}
}

func TestApplyPatch_PartialUpdateLeavesOtherFieldsUnchanged(t *testing.T) {
	original := Peering{
		ID: 1, Name: "p1", LocalASN: 65000, PeerASN: 65001, PeerIP: "10.0.0.1",
		Device: "r1", HoldTime: 180, Keepalive: 60, Status: rules.StatusPending,
	}
	newStatus := rules.StatusActive
	updated := applyPatch(original, Patch{Status: &newStatus, Actor: "alice"})

	if updated.Status != rules.StatusActive {
		t.Fatalf("expected status updated to active, got %s", updated.Status)
	}
	if updated.Name != "p1" || updated.PeerIP != "10.0.0.1" || updated.HoldTime != 180 {
		t.Fatal("expected unpatched fields to remain unchanged")
	}
}

func TestAddressFamilyRoundTrip(t *testing.T) {
	afs := []rules.AddressFamily{rules.AFIPv4Unicast, rules.AFIPv6Unicast}
	raw := fromAddressFamilies(afs)
	back := toAddressFamilies(raw)
	if len(back) != 2 || back[0] != rules.AFIPv4Unicast || back[1] != rules.AFIPv6Unicast {
		t.Fatalf("address family round-trip failed: %v", back)
	}
}

func TestImportASPath_ExtractsFromNestedDocument(t *testing.T) {
	raw := json.RawMessage(`{"import":{"as_path":[65002,65000,65003]}}`)
	path := ImportASPath(raw)
	if len(path) != 3 || path[1] != 65000 {
		t.Fatalf("expected as_path [65002 65000 65003], got %v", path)
	}
}

func TestImportASPath_MalformedDocumentYieldsEmpty(t *testing.T) {
	if path := ImportASPath(json.RawMessage(`not json`)); path != nil {
		t.Fatalf("expected nil for malformed document, got %v", path)
	}
	if path := ImportASPath(nil); path != nil {
		t.Fatalf("expected nil for empty document, got %v", path)
	}
}

func TestSignAndVerifyAuditEvent(t *testing.T) {
	key := []byte("test-signing-key")
	event := AuditEvent{
		EntityType: "peering", EntityID: 42, Op: "create", Actor: "alice",
		ClientAddr: "127.0.0.1", CorrelationID: "corr-1",
		NewData: json.RawMessage(`{"name":"p1"}`),
	}
	sig, err := signAuditEvent(key, event)
	if err != nil {
		t.Fatalf("unexpected signing error: %v", err)
	}
	event.HMAC = sig

	ok, err := VerifyAuditEvent(key, event)
	if err != nil {
		t.Fatalf("unexpected verification error: %v", err)
	}
	if !ok {
		t.Fatal("expected HMAC to verify against its own payload")
	}

	event.NewData = json.RawMessage(`{"name":"tampered"}`)
	ok, err = VerifyAuditEvent(key, event)
	if err != nil {
		t.Fatalf("unexpected verification error: %v", err)
	}
	if ok {
		t.Fatal("expected HMAC verification to fail after tampering")
	}
}

func TestWrapInsertErr_NameUniqueViolationIsValidationNotInternal(t *testing.T) {
	pgErr := &pgconn.PgError{Code: pgUniqueViolationCode, ConstraintName: "bgp_peerings_name_live_uq"}
	// insertPeering wraps the driver error with fmt.Errorf("...: %w", ...);
	// wrapInsertErr must still unwrap to the *pgconn.PgError underneath.
	wrapped := wrapInsertErr("corr-1", fmt.Errorf("insert peering: %w", pgErr))

	var apiErr *apierr.Error
	if !errors.As(wrapped, &apiErr) {
		t.Fatalf("expected *apierr.Error, got %T", wrapped)
	}
	if apiErr.Kind != apierr.KindValidation {
		t.Fatalf("expected a unique-violation on the name constraint to classify as Validation (4xx), got %s", apiErr.Kind)
	}
	if apiErr.HTTPStatus() != 400 {
		t.Fatalf("expected HTTP 400, got %d", apiErr.HTTPStatus())
	}
}

func TestWrapInsertErr_SessionUniqueViolationIsValidation(t *testing.T) {
	pgErr := &pgconn.PgError{Code: pgUniqueViolationCode, ConstraintName: "bgp_peerings_session_live_uq"}
	err := wrapInsertErr("corr-1", pgErr)
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Kind != apierr.KindValidation {
		t.Fatalf("expected Validation, got %+v", err)
	}
}

func TestWrapInsertErr_NonUniqueErrorIsInternal(t *testing.T) {
	err := wrapInsertErr("corr-1", errors.New("connection reset"))
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Kind != apierr.KindInternal {
		t.Fatalf("expected Internal for a non-constraint error, got %+v", err)
	}
}

func TestSignAuditEvent_DifferentKeysProduceDifferentSignatures(t *testing.T) {
	event := AuditEvent{EntityType: "peering", EntityID: 1, Op: "create", Actor: "bob"}
	sigA, _ := signAuditEvent([]byte("key-a"), event)
	sigB, _ := signAuditEvent([]byte("key-b"), event)
	if sigA == sigB {
		t.Fatal("expected different keys to produce different signatures")
	}
}
