package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/example/bgp-orchestrator/internal/feature"
	"github.com/example/bgp-orchestrator/internal/metrics"
)

var zstdEncoder *zstd.Encoder

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil)
	if err != nil {
		panic(fmt.Sprintf("stream: zstd encoder init: %v", err))
	}
}

// Store is the durable append-only record of every BGP update event this
// service ingests, tagged by peer, prefix, and message type. It doubles
// as the feature sink's OfflineSource: the
// materializer re-derives recent feature vectors straight from the
// durable row, rather than keeping a second copy of the same data.
type Store struct {
	pool        *pgxpool.Pool
	logger      *zap.Logger
	storeRaw    bool
	compressRaw bool
}

func NewStore(pool *pgxpool.Pool, logger *zap.Logger, storeRaw, compressRaw bool) *Store {
	return &Store{pool: pool, logger: logger, storeRaw: storeRaw, compressRaw: compressRaw}
}

// Row bundles an UpdateEvent with its original wire bytes, for a single
// durable insert.
type Row struct {
	Event *UpdateEvent
	Raw   []byte
}

// AppendBatch inserts a batch of update events, tolerating the broker's
// at-least-once redeliveries (dedup by (peer_ip, peer_asn, timestamp,
// type, prefix)). Returns the number of rows actually inserted.
func (s *Store) AppendBatch(ctx context.Context, rows []Row) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	start := time.Now()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertSQL = `
		INSERT INTO bgp_updates (peer_ip, peer_asn, prefix, message_type, as_path,
			origin_asn, next_hop, communities, observed_at, raw)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (peer_ip, peer_asn, observed_at, message_type, COALESCE(prefix, '')) DO NOTHING`

	batch := &pgx.Batch{}
	for _, row := range rows {
		e := row.Event
		prefix, _ := e.ResolvedPrefix()

		var rawBytes []byte
		if s.storeRaw && row.Raw != nil {
			if s.compressRaw {
				rawBytes = zstdEncoder.EncodeAll(row.Raw, nil)
			} else {
				rawBytes = row.Raw
			}
		}

		batch.Queue(insertSQL,
			e.Peer.IP, e.Peer.ASN, nilIfEmpty(prefix), string(e.Type), e.ASPath,
			e.OriginASN, e.NextHop, e.Communities, e.Timestamp, rawBytes,
		)
	}

	results := tx.SendBatch(ctx, batch)
	var inserted int64
	for i := range rows {
		tag, err := results.Exec()
		if err != nil {
			results.Close()
			return 0, fmt.Errorf("insert bgp_update[%d]: %w", i, err)
		}
		inserted += tag.RowsAffected()
	}
	if err := results.Close(); err != nil {
		return 0, fmt.Errorf("closing batch results: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	metrics.DBWriteDuration.WithLabelValues("stream", "insert").Observe(time.Since(start).Seconds())
	metrics.DBRowsAffectedTotal.WithLabelValues("stream", "bgp_updates", "insert").Add(float64(inserted))

	return inserted, nil
}

// RecentVectors implements feature.OfflineSource: it re-derives feature
// vectors for every update observed since the given time, for the feature
// materializer to backfill into the online store.
func (s *Store) RecentVectors(ctx context.Context, since time.Time) ([]feature.Vector, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT peer_ip, peer_asn, prefix, message_type, array_length(as_path, 1), observed_at
		FROM bgp_updates WHERE observed_at >= $1
		ORDER BY observed_at DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("query recent updates: %w", err)
	}
	defer rows.Close()

	var out []feature.Vector
	for rows.Next() {
		var (
			peerIP, msgType string
			peerASN         int64
			prefix          *string
			asPathLen       *int
			observedAt      time.Time
		)
		if err := rows.Scan(&peerIP, &peerASN, &prefix, &msgType, &asPathLen, &observedAt); err != nil {
			return nil, fmt.Errorf("scan recent update: %w", err)
		}
		out = append(out, featureVectorFrom(peerIP, peerASN, prefix, msgType, asPathLen, observedAt))
	}
	return out, rows.Err()
}

func featureVectorFrom(peerIP string, peerASN int64, prefix *string, msgType string, asPathLen *int, observedAt time.Time) feature.Vector {
	length := 0
	if asPathLen != nil {
		length = *asPathLen
	}
	p := ""
	if prefix != nil {
		p = *prefix
	}
	return feature.Vector{
		EntityID: peerIP + "_" + fmt.Sprint(peerASN),
		Features: map[string]any{
			"peer_ip":        peerIP,
			"peer_asn":       peerASN,
			"prefix":         p,
			"as_path_length": length,
			"message_type":   msgType,
			"has_announce":   msgType == string(TypeAnnounce),
			"has_withdraw":   msgType == string(TypeWithdraw),
		},
		Timestamp: observedAt,
	}
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
