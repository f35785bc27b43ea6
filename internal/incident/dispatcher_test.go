package incident

import (
	"errors"
	"testing"

	"go.uber.org/zap"
)

type fakeOnCall struct {
	createErr error
	acked     map[string]string
	nextID    int
}

func (f *fakeOnCall) CreateIncident(alert Alert) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.nextID++
	return "inc-" + string(rune('0'+f.nextID)), nil
}

func (f *fakeOnCall) Acknowledge(incidentID, reason string) error {
	if f.acked == nil {
		f.acked = make(map[string]string)
	}
	f.acked[incidentID] = reason
	return nil
}

func (f *fakeOnCall) Resolve(string, string) error { return nil }

type fakeChat struct {
	posts int
	err   error
}

func (f *fakeChat) Post(Alert) error {
	f.posts++
	return f.err
}

func TestDispatcher_BothChannelsIndependent(t *testing.T) {
	onCall := &fakeOnCall{}
	chat := &fakeChat{err: errors.New("webhook down")}
	d := NewDispatcher(onCall, chat, zap.NewNop())

	id, err := d.Dispatch(Alert{Title: "session_overlap detected", Severity: "critical"})
	if id == "" {
		t.Fatal("expected an incident id even though chat failed")
	}
	if err == nil {
		t.Fatal("expected the chat failure to be surfaced")
	}
	if chat.posts != 1 {
		t.Fatalf("expected chat to still be attempted, got %d posts", chat.posts)
	}
}

func TestDispatcher_OnCallFailureDoesNotBlockChat(t *testing.T) {
	onCall := &fakeOnCall{createErr: errors.New("on-call down")}
	chat := &fakeChat{}
	d := NewDispatcher(onCall, chat, zap.NewNop())

	_, err := d.Dispatch(Alert{Title: "anomaly", Severity: "high"})
	if err == nil {
		t.Fatal("expected on-call error to be surfaced")
	}
	if chat.posts != 1 {
		t.Fatal("expected chat to still receive the alert despite on-call failure")
	}
}

func TestDispatcher_AutoRemediatedUsesFixedReason(t *testing.T) {
	onCall := &fakeOnCall{}
	d := NewDispatcher(onCall, nil, zap.NewNop())

	id, err := d.Dispatch(Alert{Title: "flap storm", Severity: "high"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := d.AutoRemediated(id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if onCall.acked[id] != "auto-remediated" {
		t.Fatalf("expected reason 'auto-remediated', got %q", onCall.acked[id])
	}
}

func TestDispatcher_AutoRemediatedRejectsUnknownIncident(t *testing.T) {
	d := NewDispatcher(&fakeOnCall{}, nil, zap.NewNop())
	if err := d.AutoRemediated("not-ours"); err == nil {
		t.Fatal("expected an error for an incident this dispatcher never created")
	}
}

func TestDispatcher_DedupOntoOpenIncident(t *testing.T) {
	onCall := &fakeOnCall{}
	chat := &fakeChat{}
	d := NewDispatcher(onCall, chat, zap.NewNop())

	alert := Alert{Title: "session_overlap: duplicate session", Severity: "critical", Source: "stream",
		Labels: map[string]string{"peer_ip": "10.0.0.1"}}

	id1, err := d.Dispatch(alert)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id2, err := d.Dispatch(alert)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected the duplicate alert to land on the open incident, got %q and %q", id1, id2)
	}
	if chat.posts != 1 {
		t.Fatalf("expected a single chat post for the deduplicated alert, got %d", chat.posts)
	}

	// Once resolved, a matching alert opens a fresh incident.
	if err := d.Resolve(id1, "fixed"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id3, err := d.Dispatch(alert)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id3 == id1 {
		t.Fatal("expected a fresh incident after resolution")
	}
}
