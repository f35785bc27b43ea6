package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
)

type Config struct {
	Service   ServiceConfig   `koanf:"service"`
	Broker    BrokerConfig    `koanf:"broker"`
	Postgres  PostgresConfig  `koanf:"postgres"`
	Ingest    IngestConfig    `koanf:"ingest"`
	Retention RetentionConfig `koanf:"retention"`
	External  ExternalConfig  `koanf:"external"`
	Feature   FeatureConfig   `koanf:"feature"`
	Incident  IncidentConfig  `koanf:"incident"`
	Rules     RulesConfig     `koanf:"rules"`
	Breaker   BreakerConfig   `koanf:"breaker"`
	Audit     AuditConfig     `koanf:"audit"`
}

type ServiceConfig struct {
	InstanceID             string `koanf:"instance_id"`
	HTTPListen             string `koanf:"http_listen"`
	APIListen              string `koanf:"api_listen"`
	LogLevel               string `koanf:"log_level"`
	ShutdownTimeoutSeconds int    `koanf:"shutdown_timeout_seconds"`
}

// BrokerConfig configures the stream-ingest consumer. This service has a
// single logical stream of BGP update events, so one topic list and one
// group id cover it.
type BrokerConfig struct {
	Brokers       []string   `koanf:"brokers"`
	Topics        []string   `koanf:"topics"`
	GroupID       string     `koanf:"group_id"`
	ClientID      string     `koanf:"client_id"`
	TLS           TLSConfig  `koanf:"tls"`
	SASL          SASLConfig `koanf:"sasl"`
	FetchMaxBytes int32      `koanf:"fetch_max_bytes"`
}

type TLSConfig struct {
	Enabled  bool   `koanf:"enabled"`
	CAFile   string `koanf:"ca_file"`
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
}

type SASLConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Mechanism string `koanf:"mechanism"`
	Username  string `koanf:"username"`
	Password  string `koanf:"password"`
}

type PostgresConfig struct {
	DSN      string `koanf:"dsn"`
	MaxConns int32  `koanf:"max_conns"`
	MinConns int32  `koanf:"min_conns"`
}

type IngestConfig struct {
	BatchSize             int  `koanf:"batch_size"`
	FlushIntervalMs       int  `koanf:"flush_interval_ms"`
	ChannelBufferSize     int  `koanf:"channel_buffer_size"`
	MaxPayloadBytes       int  `koanf:"max_payload_bytes"`
	StoreRawBytes         bool `koanf:"store_raw_bytes"`
	StoreRawBytesCompress bool `koanf:"store_raw_bytes_compress"`
}

// RetentionConfig governs the bgp_updates/anomalies housekeeping job in
// internal/maintenance.
type RetentionConfig struct {
	Days     int    `koanf:"days"`
	Timezone string `koanf:"timezone"`
}

// ExternalConfig configures the three circuit-breaker-wrapped clients.
type ExternalConfig struct {
	AnalyzerEndpoint      string `koanf:"analyzer_endpoint"`
	LiveStateEndpoint     string `koanf:"live_state_endpoint"`
	PrefixOriginEnabled   bool   `koanf:"prefix_origin_enabled"`
	PrefixOriginEndpoint  string `koanf:"prefix_origin_endpoint"`
	PrefixOriginCacheTTLS int    `koanf:"prefix_origin_cache_ttl_seconds"`
	TimeoutSeconds        int    `koanf:"timeout_seconds"`
	MaxInFlight           int    `koanf:"max_in_flight"`
	RetryMaxAttempts      int    `koanf:"retry_max_attempts"`
	RetryBaseDelayMs      int    `koanf:"retry_base_delay_ms"`
}

// FeatureConfig configures the feature sink's in-process store (TTL) and
// materializer interval. StoreEnabled and StorePath are loaded but not
// read: the sink is always built over the in-process MemStore.
type FeatureConfig struct {
	StoreEnabled        bool   `koanf:"store_enabled"`
	StorePath           string `koanf:"store_path"`
	TTLMinutes          int    `koanf:"ttl_minutes"`
	MaterializeInterval int    `koanf:"materialize_interval_minutes"`
}

// IncidentConfig configures the on-call and chat channels.
type IncidentConfig struct {
	OnCallEnabled  bool   `koanf:"on_call_enabled"`
	OnCallURL      string `koanf:"on_call_url"`
	OnCallToken    string `koanf:"on_call_token"`
	ChatWebhookURL string `koanf:"chat_webhook_url"`
}

// RulesConfig configures the rule evaluator.
type RulesConfig struct {
	TimeoutSeconds int `koanf:"timeout_seconds"`
}

// BreakerConfig configures the default circuit-breaker thresholds shared by
// all three external clients.
type BreakerConfig struct {
	FailureThreshold int `koanf:"failure_threshold"`
	RecoverySeconds  int `koanf:"recovery_seconds"`
}

// AuditConfig provisions the HMAC key signing every audit_logs row.
type AuditConfig struct {
	HMACKey string `koanf:"hmac_key"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// Overlay environment variables: ORCHESTRATOR_BROKER__BROKERS → broker.brokers
	if err := k.Load(env.Provider("ORCHESTRATOR_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "ORCHESTRATOR_")
		s = strings.ToLower(s)
		s = strings.ReplaceAll(s, "__", ".")
		return s
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env config: %w", err)
	}

	cfg := &Config{
		Service: ServiceConfig{
			InstanceID:             "orchestrator-1",
			HTTPListen:             ":8080",
			APIListen:              ":8081",
			LogLevel:               "info",
			ShutdownTimeoutSeconds: 30,
		},
		Broker: BrokerConfig{
			ClientID:      "bgp-orchestrator",
			GroupID:       "bgp-orchestrator-stream",
			FetchMaxBytes: 52428800,
		},
		Postgres: PostgresConfig{
			MaxConns: 20,
			MinConns: 2,
		},
		Ingest: IngestConfig{
			BatchSize:             500,
			FlushIntervalMs:       200,
			ChannelBufferSize:     16,
			MaxPayloadBytes:       1048576,
			StoreRawBytesCompress: true,
		},
		Retention: RetentionConfig{
			Days:     30,
			Timezone: "UTC",
		},
		External: ExternalConfig{
			PrefixOriginCacheTTLS: 300,
			TimeoutSeconds:        30,
			MaxInFlight:           10,
			RetryMaxAttempts:      3,
			RetryBaseDelayMs:      200,
		},
		Feature: FeatureConfig{
			TTLMinutes:          10,
			MaterializeInterval: 5,
		},
		Rules: RulesConfig{
			TimeoutSeconds: 5,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			RecoverySeconds:  60,
		},
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if len(cfg.Broker.Brokers) == 1 && strings.Contains(cfg.Broker.Brokers[0], ",") {
		cfg.Broker.Brokers = strings.Split(cfg.Broker.Brokers[0], ",")
	}
	if len(cfg.Broker.Topics) == 1 && strings.Contains(cfg.Broker.Topics[0], ",") {
		cfg.Broker.Topics = strings.Split(cfg.Broker.Topics[0], ",")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Broker.Brokers) == 0 {
		return fmt.Errorf("config: broker.brokers is required")
	}
	if len(c.Broker.Topics) == 0 {
		return fmt.Errorf("config: broker.topics is required")
	}
	if c.Broker.GroupID == "" {
		return fmt.Errorf("config: broker.group_id is required")
	}
	if c.Postgres.DSN == "" {
		return fmt.Errorf("config: postgres.dsn is required")
	}
	if c.Ingest.FlushIntervalMs <= 0 {
		return fmt.Errorf("config: ingest.flush_interval_ms must be > 0 (got %d)", c.Ingest.FlushIntervalMs)
	}
	if c.Ingest.BatchSize <= 0 {
		return fmt.Errorf("config: ingest.batch_size must be > 0 (got %d)", c.Ingest.BatchSize)
	}
	if c.Ingest.ChannelBufferSize <= 0 {
		return fmt.Errorf("config: ingest.channel_buffer_size must be > 0 (got %d)", c.Ingest.ChannelBufferSize)
	}
	if c.Ingest.MaxPayloadBytes <= 0 {
		return fmt.Errorf("config: ingest.max_payload_bytes must be > 0 (got %d)", c.Ingest.MaxPayloadBytes)
	}
	if c.Broker.FetchMaxBytes <= 0 {
		return fmt.Errorf("config: broker.fetch_max_bytes must be > 0 (got %d)", c.Broker.FetchMaxBytes)
	}
	if int32(c.Ingest.MaxPayloadBytes) > c.Broker.FetchMaxBytes {
		return fmt.Errorf("config: ingest.max_payload_bytes (%d) exceeds broker.fetch_max_bytes (%d); messages larger than fetch_max_bytes will be dropped by the broker",
			c.Ingest.MaxPayloadBytes, c.Broker.FetchMaxBytes)
	}
	if c.Postgres.MaxConns <= 0 {
		return fmt.Errorf("config: postgres.max_conns must be > 0 (got %d)", c.Postgres.MaxConns)
	}
	if c.Postgres.MinConns < 0 {
		return fmt.Errorf("config: postgres.min_conns must be >= 0 (got %d)", c.Postgres.MinConns)
	}
	if c.Service.ShutdownTimeoutSeconds <= 0 {
		return fmt.Errorf("config: service.shutdown_timeout_seconds must be > 0 (got %d)", c.Service.ShutdownTimeoutSeconds)
	}
	if c.Retention.Days <= 0 {
		return fmt.Errorf("config: retention.days must be > 0 (got %d)", c.Retention.Days)
	}
	if _, err := time.LoadLocation(c.Retention.Timezone); err != nil {
		return fmt.Errorf("config: retention.timezone is invalid: %w", err)
	}
	if c.Rules.TimeoutSeconds <= 0 {
		return fmt.Errorf("config: rules.timeout_seconds must be > 0 (got %d)", c.Rules.TimeoutSeconds)
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("config: breaker.failure_threshold must be > 0 (got %d)", c.Breaker.FailureThreshold)
	}
	if c.Breaker.RecoverySeconds <= 0 {
		return fmt.Errorf("config: breaker.recovery_seconds must be > 0 (got %d)", c.Breaker.RecoverySeconds)
	}
	if c.Incident.OnCallEnabled && c.Incident.OnCallURL == "" {
		return fmt.Errorf("config: incident.on_call_url is required when incident.on_call_enabled is true")
	}
	if c.External.PrefixOriginEnabled && c.External.PrefixOriginEndpoint == "" {
		return fmt.Errorf("config: external.prefix_origin_endpoint is required when external.prefix_origin_enabled is true")
	}
	return nil
}

// BuildTLSConfig creates a *tls.Config from the broker TLS settings. Returns nil if TLS is disabled.
func (b *BrokerConfig) BuildTLSConfig() (*tls.Config, error) {
	if !b.TLS.Enabled {
		return nil, nil
	}
	tlsCfg := &tls.Config{}
	if b.TLS.CAFile != "" {
		caPEM, err := os.ReadFile(b.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsCfg.RootCAs = pool
	}
	if b.TLS.CertFile != "" && b.TLS.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(b.TLS.CertFile, b.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}

// BuildSASLMechanism creates a SASL mechanism from the broker SASL settings. Returns nil if SASL is disabled.
func (b *BrokerConfig) BuildSASLMechanism() sasl.Mechanism {
	if !b.SASL.Enabled {
		return nil
	}
	switch strings.ToUpper(b.SASL.Mechanism) {
	case "PLAIN":
		return plain.Auth{User: b.SASL.Username, Pass: b.SASL.Password}.AsMechanism()
	default:
		return nil
	}
}
