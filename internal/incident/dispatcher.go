// Package incident implements the incident dispatcher: it maps
// conflicts and anomalies into typed alerts, sends them to independent
// on-call and chat channels, and supports acknowledge/resolve plus
// auto-acknowledgment on remediation.
package incident

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/bgp-orchestrator/internal/metrics"
)

// Severity mirrors the severities carried by conflicts and anomalies.
type Severity string

// Alert is the typed payload sent to both channels.
type Alert struct {
	Title       string
	Description string
	Severity    Severity
	Source      string
	Labels      map[string]string
	CreatedAt   time.Time
}

// OnCallChannel creates and updates incidents in an external on-call
// system.
type OnCallChannel interface {
	CreateIncident(alert Alert) (incidentID string, err error)
	Acknowledge(incidentID, reason string) error
	Resolve(incidentID, notes string) error
}

// ChatChannel posts alert notifications to a chat system. It has no
// incident lifecycle of its own.
type ChatChannel interface {
	Post(alert Alert) error
}

// Dispatcher fans an Alert out to both channels independently: a failure in
// one must never suppress delivery to the other. Repeated alerts with the
// same source, title and labels are deduplicated onto the incident already
// open for them.
type Dispatcher struct {
	onCall OnCallChannel
	chat   ChatChannel
	logger *zap.Logger

	mu        sync.Mutex
	incidents map[string]dispatchedIncident
	byKey     map[string]string
}

type dispatchedIncident struct {
	alert    Alert
	dedupKey string
}

// NewDispatcher builds a Dispatcher. Either channel may be nil to disable
// it (ONCALL_ENABLED / CHAT_WEBHOOK_URL unset).
func NewDispatcher(onCall OnCallChannel, chat ChatChannel, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		onCall:    onCall,
		chat:      chat,
		logger:    logger,
		incidents: make(map[string]dispatchedIncident),
		byKey:     make(map[string]string),
	}
}

// Dispatch sends the alert to whichever channels are configured. It returns
// the on-call incident id, if one was created, so callers can later call
// AutoRemediated. An alert matching an incident that is still open returns
// that incident's id without contacting either channel.
func (d *Dispatcher) Dispatch(alert Alert) (incidentID string, err error) {
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now()
	}

	key := DedupKey(alert.Source+":"+alert.Title, alert.Labels)
	d.mu.Lock()
	if existing, ok := d.byKey[key]; ok {
		d.mu.Unlock()
		metrics.IncidentDispatchTotal.WithLabelValues("on_call", "deduped").Inc()
		return existing, nil
	}
	d.mu.Unlock()

	var firstErr error

	if d.onCall != nil {
		id, err := d.onCall.CreateIncident(alert)
		if err != nil {
			metrics.IncidentDispatchTotal.WithLabelValues("on_call", "error").Inc()
			d.logger.Warn("on-call dispatch failed", zap.String("title", alert.Title), zap.Error(err))
			firstErr = fmt.Errorf("on-call: %w", err)
		} else {
			metrics.IncidentDispatchTotal.WithLabelValues("on_call", "ok").Inc()
			incidentID = id
			d.mu.Lock()
			d.incidents[id] = dispatchedIncident{alert: alert, dedupKey: key}
			d.byKey[key] = id
			d.mu.Unlock()
		}
	}

	if d.chat != nil {
		if err := d.chat.Post(alert); err != nil {
			metrics.IncidentDispatchTotal.WithLabelValues("chat", "error").Inc()
			d.logger.Warn("chat dispatch failed", zap.String("title", alert.Title), zap.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("chat: %w", err)
			}
		} else {
			metrics.IncidentDispatchTotal.WithLabelValues("chat", "ok").Inc()
		}
	}

	return incidentID, firstErr
}

// Acknowledge acknowledges an on-call incident with an operator-supplied
// reason.
func (d *Dispatcher) Acknowledge(incidentID, reason string) error {
	if d.onCall == nil {
		return fmt.Errorf("incident: on-call channel not configured")
	}
	return d.onCall.Acknowledge(incidentID, reason)
}

// Resolve resolves an on-call incident. A resolved incident no longer
// absorbs duplicate alerts; the next matching alert opens a fresh one.
func (d *Dispatcher) Resolve(incidentID, notes string) error {
	if d.onCall == nil {
		return fmt.Errorf("incident: on-call channel not configured")
	}
	if err := d.onCall.Resolve(incidentID, notes); err != nil {
		return err
	}
	d.mu.Lock()
	if inc, ok := d.incidents[incidentID]; ok {
		delete(d.byKey, inc.dedupKey)
		delete(d.incidents, incidentID)
	}
	d.mu.Unlock()
	return nil
}

// AutoRemediated auto-acknowledges an incident this dispatcher created,
// using the fixed reason "auto-remediated".
func (d *Dispatcher) AutoRemediated(incidentID string) error {
	d.mu.Lock()
	_, known := d.incidents[incidentID]
	d.mu.Unlock()
	if !known {
		return fmt.Errorf("incident: %s was not created by this dispatcher", incidentID)
	}
	return d.Acknowledge(incidentID, "auto-remediated")
}

// DedupKey produces a stable key for dedup. Dispatch calls it with
// "source:title" as source, so one incident stays open per source, title
// and label set.
func DedupKey(source string, labels map[string]string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s:%v", source, labels))).String()
}
