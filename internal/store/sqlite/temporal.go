package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Harshitk-cp/twinledger/internal/domain"
	"github.com/google/uuid"
)

// recordTable describes one temporal table. Every temporal table shares the
// envelope columns and is partitioned by keyCols.
type recordTable struct {
	name    string
	kind    domain.RecordKind
	keyCols []string
}

var (
	beliefTable = recordTable{name: "belief_records", kind: domain.RecordKindBelief, keyCols: []string{"tenant_id", "subject_key", "topic"}}
	nodeTable   = recordTable{name: "graph_nodes", kind: domain.RecordKindNode, keyCols: []string{"tenant_id", "node_key"}}
	edgeTable   = recordTable{name: "graph_edges", kind: domain.RecordKindEdge, keyCols: []string{"tenant_id", "source_key", "relation", "target_key"}}
)

const envelopeColumns = `revision, status, effective_from, effective_to, source_type, source_id, source_timestamp, source_actor`

const statusPrecedence = `CASE status WHEN 'verified' THEN 0 WHEN 'active' THEN 1 WHEN 'proposed' THEN 2 ELSE 3 END`

func (t recordTable) keyWhere() string {
	parts := make([]string, len(t.keyCols))
	for i, c := range t.keyCols {
		parts[i] = c + " = ?"
	}
	return strings.Join(parts, " AND ")
}

// asOfWhere matches non-retracted rows whose interval covers the as-of time.
// It consumes two arguments, both the as-of instant.
const asOfWhere = `status <> 'retracted' AND effective_from <= ? AND (effective_to IS NULL OR effective_to > ?)`

// nextRevision returns MAX(revision)+1 for the key and rejects an
// effective_from earlier than any revision already recorded for it.
func (t recordTable) nextRevision(ctx context.Context, tx *sql.Tx, key []any, effectiveFrom time.Time) (int, error) {
	var maxRev, maxFrom sql.NullInt64
	err := tx.QueryRowContext(ctx,
		`SELECT MAX(revision), MAX(effective_from) FROM `+t.name+` WHERE `+t.keyWhere(),
		key...,
	).Scan(&maxRev, &maxFrom)
	if err != nil {
		return 0, err
	}
	if maxFrom.Valid && micros(effectiveFrom) < maxFrom.Int64 {
		return 0, fmt.Errorf("%w: effective_from %s precedes the latest revision (%s)",
			domain.ErrValidation, effectiveFrom.Format(time.RFC3339Nano), fromMicros(maxFrom.Int64).Format(time.RFC3339Nano))
	}
	return int(maxRev.Int64) + 1, nil
}

// closeOut supersedes the record named by sup, ending its interval at at.
// The update is conditional on the record still being current at the
// expected revision; zero affected rows is a conflict.
func (t recordTable) closeOut(ctx context.Context, tx *sql.Tx, key []any, sup domain.Supersession, at time.Time, actor domain.Provenance, now time.Time) error {
	var (
		status string
		from   int64
	)
	args := append([]any{sup.PriorID}, key...)
	err := tx.QueryRowContext(ctx,
		`SELECT status, effective_from FROM `+t.name+` WHERE id = ? AND `+t.keyWhere(),
		args...,
	).Scan(&status, &from)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: superseded record %s", domain.ErrNotFound, sup.PriorID)
	}
	if err != nil {
		return err
	}
	if micros(at) < from {
		return fmt.Errorf("%w: effective_from precedes the superseded record's effective_from", domain.ErrValidation)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE `+t.name+` SET effective_to = ?, status = 'superseded', updated_at = ?
		 WHERE id = ? AND revision = ? AND effective_to IS NULL AND status IN ('active', 'verified')`,
		micros(at), micros(now), sup.PriorID, sup.PriorRevision,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: record %s is no longer current at revision %d", domain.ErrConflict, sup.PriorID, sup.PriorRevision)
	}

	return insertTransition(ctx, tx, domain.StatusTransition{
		TenantID:   key[0].(uuid.UUID),
		RecordKind: t.kind,
		RecordID:   sup.PriorID,
		FromStatus: domain.RecordStatus(status),
		ToStatus:   domain.StatusSuperseded,
		Actor:      actor,
		Reason:     "superseded",
		CreatedAt:  now,
	})
}

// transition moves one record to a new status using the lifecycle table.
// Closing statuses end an open interval at at.
func (t recordTable) transition(ctx context.Context, tx *sql.Tx, tenantID, id uuid.UUID, to domain.RecordStatus, actor domain.Provenance, reason string, at, now time.Time) error {
	var from string
	err := tx.QueryRowContext(ctx,
		`SELECT status FROM `+t.name+` WHERE id = ? AND tenant_id = ?`, id, tenantID,
	).Scan(&from)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s %s", domain.ErrNotFound, t.kind, id)
	}
	if err != nil {
		return err
	}
	if err := checkRecordTransition(domain.RecordStatus(from), to); err != nil {
		return err
	}

	closing := 0
	if to.ClosesInterval() {
		closing = 1
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE `+t.name+` SET status = ?,
		   effective_to = CASE WHEN ? = 1 AND effective_to IS NULL THEN ? ELSE effective_to END,
		   updated_at = ?
		 WHERE id = ? AND status = ?`,
		to, closing, micros(at), micros(now), id, from,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s changed concurrently", domain.ErrConflict, t.kind, id)
	}

	return insertTransition(ctx, tx, domain.StatusTransition{
		TenantID:   tenantID,
		RecordKind: t.kind,
		RecordID:   id,
		FromStatus: domain.RecordStatus(from),
		ToStatus:   to,
		Actor:      actor,
		Reason:     reason,
		CreatedAt:  now,
	})
}

func checkRecordTransition(from, to domain.RecordStatus) error {
	if to == domain.StatusProposed {
		return fmt.Errorf("%w: %s -> %s must be written as a new revision", domain.ErrIllegalTransition, from, to)
	}
	if !domain.CanTransitionRecord(from, to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, from, to)
	}
	return nil
}

func insertTransition(ctx context.Context, tx *sql.Tx, tr domain.StatusTransition) error {
	if tr.ID == uuid.Nil {
		tr.ID = uuid.New()
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO record_transitions (id, tenant_id, record_kind, record_id, from_status, to_status,
		   actor_type, actor_source_id, actor_timestamp, actor_name, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.ID, tr.TenantID, tr.RecordKind, tr.RecordID, tr.FromStatus, tr.ToStatus,
		tr.Actor.SourceType, tr.Actor.SourceID, micros(tr.Actor.Timestamp), tr.Actor.Actor, tr.Reason, micros(tr.CreatedAt),
	)
	return err
}

func listTransitions(ctx context.Context, db *sql.DB, kind domain.RecordKind, tenantID, recordID uuid.UUID) ([]domain.StatusTransition, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, tenant_id, record_kind, record_id, from_status, to_status,
		   actor_type, actor_source_id, actor_timestamp, actor_name, reason, created_at
		 FROM record_transitions
		 WHERE record_kind = ? AND record_id = ? AND tenant_id = ?
		 ORDER BY created_at ASC, rowid ASC`,
		kind, recordID, tenantID,
	)
	if err != nil {
		return nil, wrapErr("list transitions", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.StatusTransition
	for rows.Next() {
		var (
			tr        domain.StatusTransition
			actorTS   int64
			createdAt int64
		)
		if err := rows.Scan(&tr.ID, &tr.TenantID, &tr.RecordKind, &tr.RecordID, &tr.FromStatus, &tr.ToStatus,
			&tr.Actor.SourceType, &tr.Actor.SourceID, &actorTS, &tr.Actor.Actor, &tr.Reason, &createdAt); err != nil {
			return nil, wrapErr("scan transition", err)
		}
		tr.Actor.Timestamp = fromMicros(actorTS)
		tr.CreatedAt = fromMicros(createdAt)
		out = append(out, tr)
	}
	return out, wrapErr("list transitions", rows.Err())
}

// envelopeArgs returns the insert arguments matching envelopeColumns.
func envelopeArgs(e domain.Envelope) []any {
	return []any{
		e.Revision, e.Status, micros(e.EffectiveFrom), nullMicros(e.EffectiveTo),
		e.Provenance.SourceType, e.Provenance.SourceID, micros(e.Provenance.Timestamp), e.Provenance.Actor,
	}
}

// envelopeDest collects scan targets for envelopeColumns; finish copies the
// converted timestamps back into the envelope.
type envelopeDest struct {
	env   *domain.Envelope
	from  int64
	to    sql.NullInt64
	srcTS int64
}

func (d *envelopeDest) targets() []any {
	return []any{
		&d.env.Revision, &d.env.Status, &d.from, &d.to,
		&d.env.Provenance.SourceType, &d.env.Provenance.SourceID, &d.srcTS, &d.env.Provenance.Actor,
	}
}

func (d *envelopeDest) finish() {
	d.env.EffectiveFrom = fromMicros(d.from)
	d.env.EffectiveTo = fromNullMicros(d.to)
	d.env.Provenance.Timestamp = fromMicros(d.srcTS)
}

// normalizeEnvelope truncates timestamps to the stored precision.
func normalizeEnvelope(e *domain.Envelope, now time.Time) {
	if e.EffectiveFrom.IsZero() {
		e.EffectiveFrom = now
	}
	e.EffectiveFrom = e.EffectiveFrom.UTC().Truncate(time.Microsecond)
	if e.EffectiveTo != nil {
		to := e.EffectiveTo.UTC().Truncate(time.Microsecond)
		e.EffectiveTo = &to
	}
	e.Provenance = e.Provenance.Stamped(now)
	e.Provenance.Timestamp = e.Provenance.Timestamp.UTC().Truncate(time.Microsecond)
}
