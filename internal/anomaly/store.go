package anomaly

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/bgp-orchestrator/internal/apierr"
	"github.com/example/bgp-orchestrator/internal/metrics"
)

// Record is a persisted Anomaly, carrying its assigned ID.
type Record struct {
	ID int64
	Anomaly
}

// Store persists detected anomalies and serves the GET /anomalies and
// GET /anomalies/{id} read paths.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Insert persists one anomaly. Device maps to the table's entity_id column.
func (s *Store) Insert(ctx context.Context, a Anomaly) (int64, error) {
	metadata, err := json.Marshal(a.Metadata)
	if err != nil {
		return 0, fmt.Errorf("marshal anomaly metadata: %w", err)
	}

	var id int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO anomalies (anomaly_type, severity, entity_id, metric_name,
			observed_value, expected_value, sigma, observed_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		string(a.AnomalyType), string(a.Severity), a.Device, a.MetricName,
		a.Value, a.ExpectedValue, a.Deviation, a.Timestamp, metadata,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert anomaly: %w", err)
	}

	metrics.AnomaliesDetectedTotal.WithLabelValues(string(a.AnomalyType), string(a.Severity)).Inc()
	return id, nil
}

// Filters narrows GET /anomalies. Zero-value fields are unconstrained,
// except Limit: a value outside 1..1000 means 100.
type Filters struct {
	MetricName string
	Device     string
	Severity   Severity
	Since      time.Time
	Limit      int
}

func (s *Store) Query(ctx context.Context, f Filters) ([]Record, error) {
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `
		SELECT id, anomaly_type, severity, entity_id, metric_name,
			observed_value, expected_value, sigma, observed_at, metadata
		FROM anomalies WHERE observed_at >= $1`
	args := []any{f.sinceOrZero()}

	if f.MetricName != "" {
		args = append(args, f.MetricName)
		query += fmt.Sprintf(" AND metric_name = $%d", len(args))
	}
	if f.Device != "" {
		args = append(args, f.Device)
		query += fmt.Sprintf(" AND entity_id = $%d", len(args))
	}
	if f.Severity != "" {
		args = append(args, string(f.Severity))
		query += fmt.Sprintf(" AND severity = $%d", len(args))
	}

	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY observed_at DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query anomalies: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (f Filters) sinceOrZero() time.Time {
	if f.Since.IsZero() {
		return time.Unix(0, 0).UTC()
	}
	return f.Since
}

// Get loads a single anomaly by id, for GET /anomalies/{id}.
func (s *Store) Get(ctx context.Context, correlationID string, id int64) (*Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, anomaly_type, severity, entity_id, metric_name,
			observed_value, expected_value, sigma, observed_at, metadata
		FROM anomalies WHERE id = $1`, id)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apierr.NotFound(correlationID, "anomaly %d not found", id)
		}
		return nil, apierr.Internal(correlationID, fmt.Errorf("get anomaly %d: %w", id, err))
	}
	return &rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec         Record
		anomalyType string
		severity    string
		metadataRaw []byte
	)
	if err := row.Scan(&rec.ID, &anomalyType, &severity, &rec.Device, &rec.MetricName,
		&rec.Value, &rec.ExpectedValue, &rec.Deviation, &rec.Timestamp, &metadataRaw); err != nil {
		return Record{}, err
	}
	rec.AnomalyType = Type(anomalyType)
	rec.Severity = Severity(severity)
	if len(metadataRaw) > 0 {
		if err := json.Unmarshal(metadataRaw, &rec.Metadata); err != nil {
			return Record{}, fmt.Errorf("unmarshal anomaly metadata: %w", err)
		}
	}
	return rec, nil
}
