package external

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/example/bgp-orchestrator/internal/breaker"
)

// SessionState is one of the BGP FSM states.
type SessionState string

const (
	StateIdle        SessionState = "Idle"
	StateConnect     SessionState = "Connect"
	StateActive      SessionState = "Active"
	StateOpenSent    SessionState = "OpenSent"
	StateOpenConfirm SessionState = "OpenConfirm"
	StateEstablished SessionState = "Established"
)

// LiveSession is one live session record returned by the poller.
type LiveSession struct {
	PeerIP      string       `json:"peer_ip"`
	PeerASN     int64        `json:"peer_asn"`
	State       SessionState `json:"state"`
	UptimeSec   int64        `json:"uptime"`
	PrefixCount int64        `json:"prefix_count"`
	HoldTime    int          `json:"hold_time"`
	Keepalive   int          `json:"keepalive"`
	LastUpdate  string       `json:"last_update"`
}

// LiveStatePoller queries a device's live BGP session table.
type LiveStatePoller struct {
	*baseClient
	endpoint string
}

func NewLiveStatePoller(endpoint string, httpClient *http.Client, cb breaker.Config, retry RetryConfig, logger *zap.Logger) *LiveStatePoller {
	return &LiveStatePoller{
		baseClient: newBaseClient("live_state_poller", httpClient, 10, cb, retry, logger),
		endpoint:   endpoint,
	}
}

// Sessions fetches the live session table for a device. On unavailability
// it returns ErrUnavailable.
func (p *LiveStatePoller) Sessions(ctx context.Context, hostname string) ([]LiveSession, error) {
	var sessions []LiveSession
	err := p.do(ctx, func(ctx context.Context) error {
		u := fmt.Sprintf("%s/bgp/session?hostname=%s", p.endpoint, url.QueryEscape(hostname))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		resp, err := p.http.Do(req)
		if err != nil {
			return err
		}
		return decodeJSON(resp, &sessions)
	})
	if err != nil {
		return nil, fmt.Errorf("live state poller: %w", err)
	}
	return sessions, nil
}
