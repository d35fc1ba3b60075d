package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Harshitk-cp/twinledger/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// recordTable describes one temporal table partitioned by keyCols.
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

// keyWhere renders the key predicate with placeholders starting at $start.
func (t recordTable) keyWhere(start int) string {
	parts := make([]string, len(t.keyCols))
	for i, c := range t.keyCols {
		parts[i] = fmt.Sprintf("%s = $%d", c, start+i)
	}
	return strings.Join(parts, " AND ")
}

// asOfWhere renders the as-of predicate; the as-of instant binds to $n.
func asOfWhere(n int) string {
	return fmt.Sprintf(`status <> 'retracted' AND effective_from <= $%d AND (effective_to IS NULL OR effective_to > $%d)`, n, n)
}

// lock serializes writers of one key across processes for the rest of tx.
func (t recordTable) lock(ctx context.Context, tx pgx.Tx, key []any) error {
	parts := make([]string, len(key))
	for i, k := range key {
		parts[i] = fmt.Sprint(k)
	}
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, t.name+"|"+strings.Join(parts, "|"))
	return err
}

func (t recordTable) nextRevision(ctx context.Context, tx pgx.Tx, key []any, effectiveFrom time.Time) (int, error) {
	var (
		maxRev  *int
		maxFrom *time.Time
	)
	if err := tx.QueryRow(ctx,
		`SELECT MAX(revision), MAX(effective_from) FROM `+t.name+` WHERE `+t.keyWhere(1),
		key...,
	).Scan(&maxRev, &maxFrom); err != nil {
		return 0, err
	}
	if maxFrom != nil && effectiveFrom.Before(*maxFrom) {
		return 0, fmt.Errorf("%w: effective_from %s precedes the latest revision (%s)",
			domain.ErrValidation, effectiveFrom.Format(time.RFC3339Nano), maxFrom.Format(time.RFC3339Nano))
	}
	if maxRev == nil {
		return 1, nil
	}
	return *maxRev + 1, nil
}

func (t recordTable) closeOut(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, key []any, sup domain.Supersession, at time.Time, actor domain.Provenance, now time.Time) error {
	var (
		status domain.RecordStatus
		from   time.Time
	)
	args := append([]any{sup.PriorID}, key...)
	err := tx.QueryRow(ctx,
		`SELECT status, effective_from FROM `+t.name+` WHERE id = $1 AND `+t.keyWhere(2),
		args...,
	).Scan(&status, &from)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: superseded record %s", domain.ErrNotFound, sup.PriorID)
	}
	if err != nil {
		return err
	}
	if at.Before(from) {
		return fmt.Errorf("%w: effective_from precedes the superseded record's effective_from", domain.ErrValidation)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE `+t.name+` SET effective_to = $1, status = 'superseded', updated_at = $2
		 WHERE id = $3 AND revision = $4 AND effective_to IS NULL AND status IN ('active', 'verified')`,
		at, now, sup.PriorID, sup.PriorRevision,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: record %s is no longer current at revision %d", domain.ErrConflict, sup.PriorID, sup.PriorRevision)
	}

	return insertTransition(ctx, tx, domain.StatusTransition{
		TenantID:   tenantID,
		RecordKind: t.kind,
		RecordID:   sup.PriorID,
		FromStatus: status,
		ToStatus:   domain.StatusSuperseded,
		Actor:      actor,
		Reason:     "superseded",
		CreatedAt:  now,
	})
}

func (t recordTable) transition(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID, to domain.RecordStatus, actor domain.Provenance, reason string, now time.Time) error {
	var from domain.RecordStatus
	err := tx.QueryRow(ctx,
		`SELECT status FROM `+t.name+` WHERE id = $1 AND tenant_id = $2 FOR UPDATE`, id, tenantID,
	).Scan(&from)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s %s", domain.ErrNotFound, t.kind, id)
	}
	if err != nil {
		return err
	}
	if err := checkRecordTransition(from, to); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx,
		`UPDATE `+t.name+` SET status = $1,
		   effective_to = CASE WHEN $2 AND effective_to IS NULL THEN $3 ELSE effective_to END,
		   updated_at = $3
		 WHERE id = $4 AND status = $5`,
		to, to.ClosesInterval(), now, id, from,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s %s changed concurrently", domain.ErrConflict, t.kind, id)
	}

	return insertTransition(ctx, tx, domain.StatusTransition{
		TenantID:   tenantID,
		RecordKind: t.kind,
		RecordID:   id,
		FromStatus: from,
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

func insertTransition(ctx context.Context, tx pgx.Tx, tr domain.StatusTransition) error {
	if tr.ID == uuid.Nil {
		tr.ID = uuid.New()
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO record_transitions (id, tenant_id, record_kind, record_id, from_status, to_status,
		   actor_type, actor_source_id, actor_timestamp, actor_name, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		tr.ID, tr.TenantID, tr.RecordKind, tr.RecordID, tr.FromStatus, tr.ToStatus,
		tr.Actor.SourceType, tr.Actor.SourceID, tr.Actor.Timestamp, tr.Actor.Actor, tr.Reason, tr.CreatedAt,
	)
	return err
}

func listTransitions(ctx context.Context, db *pgxpool.Pool, kind domain.RecordKind, tenantID, recordID uuid.UUID) ([]domain.StatusTransition, error) {
	rows, err := db.Query(ctx,
		`SELECT id, tenant_id, record_kind, record_id, from_status, to_status,
		   actor_type, actor_source_id, actor_timestamp, actor_name, reason, created_at
		 FROM record_transitions
		 WHERE record_kind = $1 AND record_id = $2 AND tenant_id = $3
		 ORDER BY seq ASC`,
		kind, recordID, tenantID,
	)
	if err != nil {
		return nil, wrapErr("list transitions", err)
	}
	defer rows.Close()

	var out []domain.StatusTransition
	for rows.Next() {
		var tr domain.StatusTransition
		if err := rows.Scan(&tr.ID, &tr.TenantID, &tr.RecordKind, &tr.RecordID, &tr.FromStatus, &tr.ToStatus,
			&tr.Actor.SourceType, &tr.Actor.SourceID, &tr.Actor.Timestamp, &tr.Actor.Actor, &tr.Reason, &tr.CreatedAt); err != nil {
			return nil, wrapErr("scan transition", err)
		}
		out = append(out, tr)
	}
	return out, wrapErr("list transitions", rows.Err())
}

func envelopeArgs(e domain.Envelope) []any {
	return []any{
		e.Revision, e.Status, e.EffectiveFrom, e.EffectiveTo,
		e.Provenance.SourceType, e.Provenance.SourceID, e.Provenance.Timestamp, e.Provenance.Actor,
	}
}

func envelopeTargets(e *domain.Envelope) []any {
	return []any{
		&e.Revision, &e.Status, &e.EffectiveFrom, &e.EffectiveTo,
		&e.Provenance.SourceType, &e.Provenance.SourceID, &e.Provenance.Timestamp, &e.Provenance.Actor,
	}
}

func normalizeEnvelope(e *domain.Envelope, now time.Time) {
	if e.EffectiveFrom.IsZero() {
		e.EffectiveFrom = now
	}
	e.EffectiveFrom = truncate(e.EffectiveFrom)
	if e.EffectiveTo != nil {
		to := truncate(*e.EffectiveTo)
		e.EffectiveTo = &to
	}
	e.Provenance = e.Provenance.Stamped(now)
	e.Provenance.Timestamp = truncate(e.Provenance.Timestamp)
}

// valuesList renders "$start, ..., $start+n-1".
func valuesList(start, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}
