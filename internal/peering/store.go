package peering

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/example/bgp-orchestrator/internal/apierr"
	"github.com/example/bgp-orchestrator/internal/metrics"
	"github.com/example/bgp-orchestrator/internal/rules"
)

// catalogLockKey is the pg_advisory_xact_lock key serializing every
// catalog mutation. Rules compare a candidate against the entire
// non-deleted fleet, so the unit of serialization is the whole catalog,
// not a single row.
const catalogLockKey = 727001001

// MaxBulkSize bounds every bulk operation.
const MaxBulkSize = 100

// Store is the authoritative Peering catalog: every create or update
// snapshots the non-deleted fleet, consults the Rule Evaluator, and — only
// if no conflicts are returned — commits the write and an audit row in the
// same transaction. Deletes run no conflict check; they commit the
// tombstone and its audit row together.
type Store struct {
	pool      *pgxpool.Pool
	evaluator *rules.Evaluator
	auditKey  []byte
	logger    *zap.Logger
}

// New builds a Store. auditKey signs every audit_logs row; it is
// provisioned by the caller (config key audit.hmac_key), not generated here.
func New(pool *pgxpool.Pool, evaluator *rules.Evaluator, auditKey []byte, logger *zap.Logger) *Store {
	return &Store{pool: pool, evaluator: evaluator, auditKey: auditKey, logger: logger}
}

func validateDraft(d Draft) error {
	if d.Name == "" {
		return fmt.Errorf("name is required")
	}
	if d.LocalASN < 1 || d.LocalASN > 4294967295 {
		return fmt.Errorf("local_asn out of range")
	}
	if d.PeerASN < 1 || d.PeerASN > 4294967295 {
		return fmt.Errorf("peer_asn out of range")
	}
	if d.HoldTime != 0 && (d.HoldTime < 3 || d.HoldTime > 65535) {
		return fmt.Errorf("hold_time must be 0 or in [3, 65535]")
	}
	if d.Keepalive < 1 {
		return fmt.Errorf("keepalive must be >= 1")
	}
	if d.HoldTime > 0 && d.Keepalive*3 > d.HoldTime {
		return fmt.Errorf("keepalive must be <= hold_time/3")
	}
	if len(d.AddressFamilies) == 0 {
		return fmt.Errorf("address_families must be non-empty")
	}
	return nil
}

// Create validates and inserts a single peering after a clean Detect pass.
func (s *Store) Create(ctx context.Context, draft Draft, clientAddr, correlationID string) (*Peering, error) {
	if err := validateDraft(draft); err != nil {
		return nil, apierr.Validation(correlationID, "%s", err.Error())
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, apierr.Internal(correlationID, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", catalogLockKey); err != nil {
		return nil, apierr.Internal(correlationID, fmt.Errorf("acquire catalog lock: %w", err))
	}

	snapshot, err := s.loadSnapshot(ctx, tx, 0)
	if err != nil {
		return nil, apierr.Internal(correlationID, err)
	}

	candidate := draft.candidate(0)
	start := time.Now()
	conflicts := s.evaluator.Detect(ctx, candidate, snapshot)
	recordDetect(conflicts, time.Since(start))
	if len(conflicts) > 0 {
		metrics.MutationsRejectedTotal.WithLabelValues("create").Inc()
		return nil, apierr.Conflict(correlationID, conflicts)
	}

	p, err := s.insertPeering(ctx, tx, draft)
	if err != nil {
		return nil, wrapInsertErr(correlationID, err)
	}

	if err := s.writeAudit(ctx, tx, "peering", p.ID, "create", draft.Actor, clientAddr, correlationID, nil, p); err != nil {
		return nil, apierr.Internal(correlationID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apierr.Internal(correlationID, fmt.Errorf("commit tx: %w", err))
	}
	return p, nil
}

// Update applies patch to id after a clean Detect pass against the fleet
// excluding id's own prior revision.
func (s *Store) Update(ctx context.Context, id int64, patch Patch, clientAddr, correlationID string) (*Peering, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, apierr.Internal(correlationID, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", catalogLockKey); err != nil {
		return nil, apierr.Internal(correlationID, fmt.Errorf("acquire catalog lock: %w", err))
	}

	before, err := s.getTx(ctx, tx, id, correlationID)
	if err != nil {
		return nil, err
	}
	beforeJSON, _ := json.Marshal(before)

	snapshot, err := s.loadSnapshot(ctx, tx, id)
	if err != nil {
		return nil, apierr.Internal(correlationID, err)
	}

	merged := applyPatch(*before, patch)
	candidate := merged.candidate()

	start := time.Now()
	conflicts := s.evaluator.Detect(ctx, candidate, snapshot)
	recordDetect(conflicts, time.Since(start))
	if len(conflicts) > 0 {
		metrics.MutationsRejectedTotal.WithLabelValues("update").Inc()
		return nil, apierr.Conflict(correlationID, conflicts)
	}

	updated, err := s.updatePeering(ctx, tx, merged, patch.Actor)
	if err != nil {
		return nil, apierr.Internal(correlationID, err)
	}
	afterJSON, _ := json.Marshal(updated)

	if err := s.writeAuditRaw(ctx, tx, "peering", id, "update", patch.Actor, clientAddr, correlationID, beforeJSON, afterJSON); err != nil {
		return nil, apierr.Internal(correlationID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apierr.Internal(correlationID, fmt.Errorf("commit tx: %w", err))
	}
	return updated, nil
}

// Delete soft-deletes id. Soft-deleted rows never re-enter a rule
// evaluation snapshot, so no Detect pass runs here.
func (s *Store) Delete(ctx context.Context, id int64, actor, clientAddr, correlationID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apierr.Internal(correlationID, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx)

	before, err := s.getTx(ctx, tx, id, correlationID)
	if err != nil {
		return err
	}
	beforeJSON, _ := json.Marshal(before)

	tag, err := tx.Exec(ctx, `
		UPDATE bgp_peerings SET is_deleted = true, deleted_at = now(), deleted_by = $2
		WHERE id = $1 AND NOT is_deleted`, id, actor)
	if err != nil {
		return apierr.Internal(correlationID, err)
	}
	if tag.RowsAffected() == 0 {
		return apierr.NotFound(correlationID, "peering %d not found", id)
	}
	metrics.DBRowsAffectedTotal.WithLabelValues("peering", "bgp_peerings", "soft_delete").Add(1)

	if err := s.writeAuditRaw(ctx, tx, "peering", id, "delete", actor, clientAddr, correlationID, beforeJSON, nil); err != nil {
		return apierr.Internal(correlationID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return apierr.Internal(correlationID, fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

// Get reads a single non-deleted peering.
func (s *Store) Get(ctx context.Context, id int64, correlationID string) (*Peering, error) {
	p, err := s.getPool(ctx, id)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apierr.NotFound(correlationID, "peering %d not found", id)
		}
		return nil, apierr.Internal(correlationID, err)
	}
	return p, nil
}

// List returns non-deleted peerings matching filters in a deterministic
// (id ascending) order.
func (s *Store) List(ctx context.Context, f Filters, correlationID string) ([]Peering, error) {
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, local_asn, peer_asn, peer_ip, device, COALESCE(interface, ''), hold_time, keepalive,
			status, address_families, routing_policy, is_deleted, deleted_at, COALESCE(deleted_by, ''),
			created_at, updated_at, COALESCE(created_by, ''), COALESCE(updated_by, '')
		FROM bgp_peerings
		WHERE NOT is_deleted
			AND ($1 = '' OR device = $1)
			AND ($2 = '' OR status = $2)
			AND ($3 = 0 OR peer_asn = $3)
		ORDER BY id ASC
		OFFSET $4 LIMIT $5`,
		f.Device, string(f.Status), f.PeerASN, f.Skip, limit,
	)
	if err != nil {
		return nil, apierr.Internal(correlationID, err)
	}
	defer rows.Close()

	var out []Peering
	for rows.Next() {
		p, err := scanPeering(rows)
		if err != nil {
			return nil, apierr.Internal(correlationID, err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, apierr.Internal(correlationID, err)
	}
	return out, nil
}

// BulkCreate is all-or-nothing: each draft's candidate is evaluated against
// the fleet snapshot accumulated with previously accepted drafts in the
// same batch. A single rejection aborts the whole batch.
func (s *Store) BulkCreate(ctx context.Context, drafts []Draft, clientAddr, correlationID string) ([]Peering, error) {
	if len(drafts) == 0 {
		return nil, nil
	}
	if len(drafts) > MaxBulkSize {
		return nil, apierr.Validation(correlationID, "bulk size %d exceeds limit %d", len(drafts), MaxBulkSize)
	}
	for i, d := range drafts {
		if err := validateDraft(d); err != nil {
			return nil, apierr.Validation(correlationID, "draft %d: %s", i, err.Error())
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, apierr.Internal(correlationID, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", catalogLockKey); err != nil {
		return nil, apierr.Internal(correlationID, fmt.Errorf("acquire catalog lock: %w", err))
	}

	snapshot, err := s.loadSnapshot(ctx, tx, 0)
	if err != nil {
		return nil, apierr.Internal(correlationID, err)
	}

	for i, d := range drafts {
		candidate := d.candidate(int64(-(i + 1)))
		start := time.Now()
		conflicts := s.evaluator.Detect(ctx, candidate, snapshot)
		recordDetect(conflicts, time.Since(start))
		if len(conflicts) > 0 {
			metrics.MutationsRejectedTotal.WithLabelValues("bulk_create").Inc()
			return nil, apierr.Conflict(correlationID, conflicts)
		}
		snapshot.Peerings = append(snapshot.Peerings, candidate)
	}

	out := make([]Peering, 0, len(drafts))
	for _, d := range drafts {
		p, err := s.insertPeering(ctx, tx, d)
		if err != nil {
			return nil, wrapInsertErr(correlationID, err)
		}
		if err := s.writeAudit(ctx, tx, "peering", p.ID, "create", d.Actor, clientAddr, correlationID, nil, p); err != nil {
			return nil, apierr.Internal(correlationID, err)
		}
		out = append(out, *p)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apierr.Internal(correlationID, fmt.Errorf("commit tx: %w", err))
	}
	return out, nil
}

// BulkDelete soft-deletes every id or none; any missing id aborts the
// whole batch.
func (s *Store) BulkDelete(ctx context.Context, ids []int64, actor, clientAddr, correlationID string) error {
	if len(ids) > MaxBulkSize {
		return apierr.Validation(correlationID, "bulk size %d exceeds limit %d", len(ids), MaxBulkSize)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apierr.Internal(correlationID, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx)

	for _, id := range ids {
		before, err := s.getTx(ctx, tx, id, correlationID)
		if err != nil {
			return err
		}
		beforeJSON, _ := json.Marshal(before)

		tag, err := tx.Exec(ctx, `
			UPDATE bgp_peerings SET is_deleted = true, deleted_at = now(), deleted_by = $2
			WHERE id = $1 AND NOT is_deleted`, id, actor)
		if err != nil {
			return apierr.Internal(correlationID, err)
		}
		if tag.RowsAffected() == 0 {
			return apierr.NotFound(correlationID, "peering %d not found", id)
		}
		if err := s.writeAuditRaw(ctx, tx, "peering", id, "delete", actor, clientAddr, correlationID, beforeJSON, nil); err != nil {
			return apierr.Internal(correlationID, err)
		}
	}
	metrics.DBRowsAffectedTotal.WithLabelValues("peering", "bgp_peerings", "soft_delete").Add(float64(len(ids)))

	if err := tx.Commit(ctx); err != nil {
		return apierr.Internal(correlationID, fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

// BulkUpdate applies patch to every id, all-or-nothing, with the same
// batch-accumulated snapshot semantics as BulkCreate.
func (s *Store) BulkUpdate(ctx context.Context, ids []int64, patch Patch, clientAddr, correlationID string) ([]Peering, error) {
	if len(ids) > MaxBulkSize {
		return nil, apierr.Validation(correlationID, "bulk size %d exceeds limit %d", len(ids), MaxBulkSize)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, apierr.Internal(correlationID, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", catalogLockKey); err != nil {
		return nil, apierr.Internal(correlationID, fmt.Errorf("acquire catalog lock: %w", err))
	}

	current := make([]Peering, 0, len(ids))
	for _, id := range ids {
		before, err := s.getTx(ctx, tx, id, correlationID)
		if err != nil {
			return nil, err
		}
		current = append(current, *before)
	}

	fullSnapshot, err := s.loadSnapshot(ctx, tx, 0)
	if err != nil {
		return nil, apierr.Internal(correlationID, err)
	}
	excluded := make(map[int64]bool, len(ids))
	for _, id := range ids {
		excluded[id] = true
	}
	base := rules.Snapshot{}
	for _, c := range fullSnapshot.Peerings {
		if !excluded[c.ID] {
			base.Peerings = append(base.Peerings, c)
		}
	}

	merged := make([]Peering, len(current))
	for i, p := range current {
		merged[i] = applyPatch(p, patch)
		candidate := merged[i].candidate()
		start := time.Now()
		conflicts := s.evaluator.Detect(ctx, candidate, base)
		recordDetect(conflicts, time.Since(start))
		if len(conflicts) > 0 {
			metrics.MutationsRejectedTotal.WithLabelValues("bulk_update").Inc()
			return nil, apierr.Conflict(correlationID, conflicts)
		}
		base.Peerings = append(base.Peerings, candidate)
	}

	out := make([]Peering, 0, len(merged))
	for i, m := range merged {
		beforeJSON, _ := json.Marshal(current[i])
		updated, err := s.updatePeering(ctx, tx, m, patch.Actor)
		if err != nil {
			return nil, apierr.Internal(correlationID, err)
		}
		afterJSON, _ := json.Marshal(updated)
		if err := s.writeAuditRaw(ctx, tx, "peering", updated.ID, "update", patch.Actor, clientAddr, correlationID, beforeJSON, afterJSON); err != nil {
			return nil, apierr.Internal(correlationID, err)
		}
		out = append(out, *updated)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apierr.Internal(correlationID, fmt.Errorf("commit tx: %w", err))
	}
	return out, nil
}

func recordDetect(conflicts []rules.Conflict, dur time.Duration) {
	metrics.RuleEvaluationDuration.WithLabelValues("detect").Observe(dur.Seconds())
	for _, c := range conflicts {
		metrics.ConflictsTotal.WithLabelValues(string(c.Type), string(c.Severity)).Inc()
	}
}

func applyPatch(p Peering, patch Patch) Peering {
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.LocalASN != nil {
		p.LocalASN = *patch.LocalASN
	}
	if patch.PeerASN != nil {
		p.PeerASN = *patch.PeerASN
	}
	if patch.PeerIP != nil {
		p.PeerIP = *patch.PeerIP
	}
	if patch.Device != nil {
		p.Device = *patch.Device
	}
	if patch.Interface != nil {
		p.Interface = *patch.Interface
	}
	if patch.HoldTime != nil {
		p.HoldTime = *patch.HoldTime
	}
	if patch.Keepalive != nil {
		p.Keepalive = *patch.Keepalive
	}
	if patch.Status != nil {
		p.Status = *patch.Status
	}
	if patch.AddressFamilies != nil {
		p.AddressFamilies = patch.AddressFamilies
	}
	if patch.RoutingPolicy != nil {
		p.RoutingPolicy = patch.RoutingPolicy
	}
	return p
}

// Snapshot returns the current non-deleted fleet view for read-only
// consultation outside a mutation (e.g. the stream consumer's real-time
// conflict check). Unlike the write path, this does not run under the
// catalog advisory lock: callers here are advisory, not committing a
// mutation, so a snapshot a few milliseconds stale is acceptable.
func (s *Store) Snapshot(ctx context.Context) (rules.Snapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, local_asn, peer_asn, peer_ip, device, COALESCE(interface, ''), hold_time, keepalive,
			status, address_families, routing_policy
		FROM bgp_peerings WHERE NOT is_deleted`)
	if err != nil {
		return rules.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	defer rows.Close()

	var snap rules.Snapshot
	for rows.Next() {
		var (
			id                  int64
			name, peerIP        string
			device, iface       string
			localASN, peerASN   int64
			holdTime, keepalive int
			status              string
			afs                 []string
			routingPolicy       []byte
		)
		if err := rows.Scan(&id, &name, &localASN, &peerASN, &peerIP, &device, &iface, &holdTime, &keepalive, &status, &afs, &routingPolicy); err != nil {
			return rules.Snapshot{}, fmt.Errorf("scan snapshot row: %w", err)
		}
		candidate := toCandidate(id, name, localASN, peerASN, peerIP, device, iface, holdTime, keepalive, rules.Status(status), toAddressFamilies(afs), routingPolicy)
		snap.Peerings = append(snap.Peerings, candidate)
	}
	return snap, rows.Err()
}

func (s *Store) loadSnapshot(ctx context.Context, tx pgx.Tx, excludeID int64) (rules.Snapshot, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, name, local_asn, peer_asn, peer_ip, device, COALESCE(interface, ''), hold_time, keepalive,
			status, address_families, routing_policy
		FROM bgp_peerings WHERE NOT is_deleted AND id != $1`, excludeID)
	if err != nil {
		return rules.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	defer rows.Close()

	var snap rules.Snapshot
	for rows.Next() {
		var (
			id                  int64
			name, peerIP        string
			device, iface       string
			localASN, peerASN   int64
			holdTime, keepalive int
			status              string
			afs                 []string
			routingPolicy       []byte
		)
		if err := rows.Scan(&id, &name, &localASN, &peerASN, &peerIP, &device, &iface, &holdTime, &keepalive, &status, &afs, &routingPolicy); err != nil {
			return rules.Snapshot{}, fmt.Errorf("scan snapshot row: %w", err)
		}
		candidate := toCandidate(id, name, localASN, peerASN, peerIP, device, iface, holdTime, keepalive, rules.Status(status), toAddressFamilies(afs), routingPolicy)
		snap.Peerings = append(snap.Peerings, candidate)
	}
	return snap, rows.Err()
}

func toAddressFamilies(raw []string) []rules.AddressFamily {
	out := make([]rules.AddressFamily, len(raw))
	for i, v := range raw {
		out[i] = rules.AddressFamily(v)
	}
	return out
}

func fromAddressFamilies(afs []rules.AddressFamily) []string {
	out := make([]string, len(afs))
	for i, v := range afs {
		out[i] = string(v)
	}
	return out
}

// pgUniqueViolationCode is Postgres' SQLSTATE for a unique constraint
// violation (23505).
const pgUniqueViolationCode = "23505"

// wrapInsertErr classifies an insertPeering failure. A unique-violation on
// bgp_peerings_name_live_uq or bgp_peerings_session_live_uq is a
// Validation error surfaced as 4xx, not an Internal
// 500 — the rule evaluator's pre-check should normally catch these first,
// but the constraint is the last line of defense and must classify the
// same way.
func wrapInsertErr(correlationID string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolationCode {
		switch pgErr.ConstraintName {
		case "bgp_peerings_name_live_uq":
			return apierr.Validation(correlationID, "name is already in use by an existing peering")
		case "bgp_peerings_session_live_uq":
			return apierr.Validation(correlationID, "a peering with this device/peer_ip/peer_asn already exists")
		default:
			return apierr.Validation(correlationID, "uniqueness violation: %s", pgErr.ConstraintName)
		}
	}
	return apierr.Internal(correlationID, err)
}

func (s *Store) insertPeering(ctx context.Context, tx pgx.Tx, d Draft) (*Peering, error) {
	status := d.Status
	if status == "" {
		status = rules.StatusPending
	}
	routingPolicy := d.RoutingPolicy
	if routingPolicy == nil {
		routingPolicy = json.RawMessage("{}")
	}

	start := time.Now()
	row := tx.QueryRow(ctx, `
		INSERT INTO bgp_peerings
			(name, local_asn, peer_asn, peer_ip, device, interface, hold_time, keepalive,
			 status, address_families, routing_policy, created_by, updated_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12, now())
		RETURNING id, created_at`,
		d.Name, d.LocalASN, d.PeerASN, d.PeerIP, d.Device, nullableString(d.Interface),
		d.HoldTime, d.Keepalive, string(status), fromAddressFamilies(d.AddressFamilies), []byte(routingPolicy), d.Actor,
	)
	var p Peering
	if err := row.Scan(&p.ID, &p.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert peering: %w", err)
	}
	metrics.DBWriteDuration.WithLabelValues("peering", "insert").Observe(time.Since(start).Seconds())
	metrics.DBRowsAffectedTotal.WithLabelValues("peering", "bgp_peerings", "insert").Add(1)

	p.Name, p.LocalASN, p.PeerASN, p.PeerIP, p.Device, p.Interface = d.Name, d.LocalASN, d.PeerASN, d.PeerIP, d.Device, d.Interface
	p.HoldTime, p.Keepalive, p.Status, p.AddressFamilies, p.RoutingPolicy = d.HoldTime, d.Keepalive, status, d.AddressFamilies, routingPolicy
	p.CreatedBy, p.UpdatedBy = d.Actor, d.Actor
	return &p, nil
}

func (s *Store) updatePeering(ctx context.Context, tx pgx.Tx, p Peering, actor string) (*Peering, error) {
	routingPolicy := p.RoutingPolicy
	if routingPolicy == nil {
		routingPolicy = json.RawMessage("{}")
	}
	start := time.Now()
	row := tx.QueryRow(ctx, `
		UPDATE bgp_peerings SET
			name = $2, local_asn = $3, peer_asn = $4, peer_ip = $5, device = $6, interface = $7,
			hold_time = $8, keepalive = $9, status = $10, address_families = $11, routing_policy = $12,
			updated_by = $13, updated_at = now()
		WHERE id = $1 AND NOT is_deleted
		RETURNING updated_at`,
		p.ID, p.Name, p.LocalASN, p.PeerASN, p.PeerIP, p.Device, nullableString(p.Interface),
		p.HoldTime, p.Keepalive, string(p.Status), fromAddressFamilies(p.AddressFamilies), []byte(routingPolicy), actor,
	)
	var updatedAt time.Time
	if err := row.Scan(&updatedAt); err != nil {
		return nil, fmt.Errorf("update peering: %w", err)
	}
	metrics.DBWriteDuration.WithLabelValues("peering", "update").Observe(time.Since(start).Seconds())
	metrics.DBRowsAffectedTotal.WithLabelValues("peering", "bgp_peerings", "update").Add(1)

	p.RoutingPolicy = routingPolicy
	p.UpdatedAt = &updatedAt
	p.UpdatedBy = actor
	return &p, nil
}

func (s *Store) getTx(ctx context.Context, tx pgx.Tx, id int64, correlationID string) (*Peering, error) {
	row := tx.QueryRow(ctx, `
		SELECT id, name, local_asn, peer_asn, peer_ip, device, COALESCE(interface, ''), hold_time, keepalive,
			status, address_families, routing_policy, is_deleted, deleted_at, COALESCE(deleted_by, ''),
			created_at, updated_at, COALESCE(created_by, ''), COALESCE(updated_by, '')
		FROM bgp_peerings WHERE id = $1 AND NOT is_deleted`, id)
	p, err := scanPeering(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apierr.NotFound(correlationID, "peering %d not found", id)
		}
		return nil, apierr.Internal(correlationID, err)
	}
	return p, nil
}

func (s *Store) getPool(ctx context.Context, id int64) (*Peering, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, local_asn, peer_asn, peer_ip, device, COALESCE(interface, ''), hold_time, keepalive,
			status, address_families, routing_policy, is_deleted, deleted_at, COALESCE(deleted_by, ''),
			created_at, updated_at, COALESCE(created_by, ''), COALESCE(updated_by, '')
		FROM bgp_peerings WHERE id = $1 AND NOT is_deleted`, id)
	return scanPeering(row)
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPeering(row rowScanner) (*Peering, error) {
	var (
		p             Peering
		status        string
		afs           []string
		routingPolicy []byte
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.LocalASN, &p.PeerASN, &p.PeerIP, &p.Device, &p.Interface,
		&p.HoldTime, &p.Keepalive, &status, &afs, &routingPolicy,
		&p.IsDeleted, &p.DeletedAt, &p.DeletedBy, &p.CreatedAt, &p.UpdatedAt, &p.CreatedBy, &p.UpdatedBy,
	)
	if err != nil {
		return nil, err
	}
	p.Status = rules.Status(status)
	p.AddressFamilies = toAddressFamilies(afs)
	p.RoutingPolicy = json.RawMessage(routingPolicy)
	return &p, nil
}

func (s *Store) writeAudit(ctx context.Context, tx pgx.Tx, entityType string, entityID int64, op, actor, clientAddr, correlationID string, oldData, newData any) error {
	oldJSON, newJSON := marshalAuditField(oldData), marshalAuditField(newData)
	return s.writeAuditRaw(ctx, tx, entityType, entityID, op, actor, clientAddr, correlationID, oldJSON, newJSON)
}

func marshalAuditField(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func (s *Store) writeAuditRaw(ctx context.Context, tx pgx.Tx, entityType string, entityID int64, op, actor, clientAddr, correlationID string, oldData, newData json.RawMessage) error {
	event := AuditEvent{
		EntityType: entityType, EntityID: entityID, Op: op, Actor: actor,
		ClientAddr: clientAddr, CorrelationID: correlationID, OldData: oldData, NewData: newData,
	}
	sig, err := signAuditEvent(s.auditKey, event)
	if err != nil {
		return fmt.Errorf("sign audit event: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO audit_logs (entity_type, entity_id, op, actor, client_addr, correlation_id, old_data, new_data, hmac, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9, now())`,
		entityType, entityID, op, nullableString(actor), nullableString(clientAddr), correlationID,
		nullableJSON(oldData), nullableJSON(newData), sig,
	)
	if err != nil {
		return fmt.Errorf("insert audit row: %w", err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableJSON(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}
