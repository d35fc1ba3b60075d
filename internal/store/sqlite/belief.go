package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Harshitk-cp/twinledger/internal/domain"
	"github.com/google/uuid"
)

var _ domain.BeliefStore = (*BeliefStore)(nil)

type BeliefStore struct {
	db *DB
}

func NewBeliefStore(db *DB) *BeliefStore {
	return &BeliefStore{db: db}
}

const beliefColumns = `id, tenant_id, subject_key, topic, memory_type, value, stance, intensity, confidence, metadata, ` +
	envelopeColumns + `, created_at, updated_at`

func scanBelief(row rowScanner) (*domain.Belief, error) {
	var (
		b         domain.Belief
		stance    sql.NullString
		intensity sql.NullInt64
		conf      sql.NullFloat64
		meta      string
		created   int64
		updated   int64
	)
	env := envelopeDest{env: &b.Envelope}
	dest := []any{&b.ID, &b.TenantID, &b.SubjectKey, &b.Topic, &b.MemoryType, &b.Value, &stance, &intensity, &conf, &meta}
	dest = append(dest, env.targets()...)
	dest = append(dest, &created, &updated)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	env.finish()
	if stance.Valid {
		s := domain.Stance(stance.String)
		b.Stance = &s
	}
	if intensity.Valid {
		i := int(intensity.Int64)
		b.Intensity = &i
	}
	if conf.Valid {
		b.Confidence = &conf.Float64
	}
	if err := decodeJSON(meta, &b.Metadata); err != nil {
		return nil, err
	}
	b.CreatedAt = fromMicros(created)
	b.UpdatedAt = fromMicros(updated)
	return &b, nil
}

func beliefKeyArgs(k domain.BeliefKey) []any {
	k = k.Normalized()
	return []any{k.TenantID, k.SubjectKey, k.Topic}
}

func (s *BeliefStore) Insert(ctx context.Context, b *domain.Belief, sup *domain.Supersession) error {
	now := s.db.clock()
	normalizeEnvelope(&b.Envelope, now)
	if err := b.Validate(); err != nil {
		return err
	}
	meta, err := encodeJSON(b.Metadata)
	if err != nil {
		return err
	}

	return s.db.withTx(ctx, "insert belief", func(tx *sql.Tx) error {
		key := beliefKeyArgs(b.Key())
		if sup != nil {
			if err := beliefTable.closeOut(ctx, tx, key, *sup, b.EffectiveFrom, b.Provenance, now); err != nil {
				return err
			}
		}
		rev, err := beliefTable.nextRevision(ctx, tx, key, b.EffectiveFrom)
		if err != nil {
			return err
		}
		if b.ID == uuid.Nil {
			b.ID = uuid.New()
		}
		b.Revision = rev
		b.EffectiveTo = nil
		b.CreatedAt, b.UpdatedAt = now, now

		var stance any
		if b.Stance != nil {
			stance = string(*b.Stance)
		}
		args := []any{b.ID, b.TenantID, b.SubjectKey, b.Topic, b.MemoryType, b.Value, stance, b.Intensity, b.Confidence, meta}
		args = append(args, envelopeArgs(b.Envelope)...)
		args = append(args, micros(now), micros(now))
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO belief_records (`+beliefColumns+`) VALUES (`+placeholders(len(args))+`)`,
			args...,
		); err != nil {
			return err
		}

		return insertTransition(ctx, tx, domain.StatusTransition{
			TenantID:   b.TenantID,
			RecordKind: domain.RecordKindBelief,
			RecordID:   b.ID,
			ToStatus:   b.Status,
			Actor:      b.Provenance,
			Reason:     "created",
			CreatedAt:  now,
		})
	})
}

func (s *BeliefStore) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.Belief, error) {
	b, err := scanBelief(s.db.db.QueryRowContext(ctx,
		`SELECT `+beliefColumns+` FROM belief_records WHERE id = ? AND tenant_id = ?`, id, tenantID,
	))
	if err != nil {
		return nil, wrapErr("get belief", err)
	}
	return b, nil
}

func (s *BeliefStore) GetCurrent(ctx context.Context, key domain.BeliefKey, asOf time.Time) (*domain.Belief, error) {
	at := micros(asOf)
	args := append(beliefKeyArgs(key), at, at)
	b, err := scanBelief(s.db.db.QueryRowContext(ctx,
		`SELECT `+beliefColumns+` FROM belief_records
		 WHERE `+beliefTable.keyWhere()+` AND `+asOfWhere+`
		 ORDER BY `+statusPrecedence+`, revision DESC
		 LIMIT 1`,
		args...,
	))
	if err != nil {
		return nil, wrapErr("get current belief", err)
	}
	return b, nil
}

func (s *BeliefStore) History(ctx context.Context, key domain.BeliefKey) ([]domain.Belief, error) {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT `+beliefColumns+` FROM belief_records
		 WHERE `+beliefTable.keyWhere()+`
		 ORDER BY effective_from ASC, revision ASC`,
		beliefKeyArgs(key)...,
	)
	if err != nil {
		return nil, wrapErr("belief history", err)
	}
	return collectBeliefs(rows)
}

func (s *BeliefStore) TransitionStatus(ctx context.Context, tenantID, id uuid.UUID, to domain.RecordStatus, actor domain.Provenance, reason string, sup *domain.Supersession) (*domain.Belief, error) {
	now := s.db.clock()
	actor = actor.Stamped(now)
	err := s.db.withTx(ctx, "transition belief", func(tx *sql.Tx) error {
		if sup != nil && to == domain.StatusVerified {
			b, err := scanBelief(tx.QueryRowContext(ctx,
				`SELECT `+beliefColumns+` FROM belief_records WHERE id = ? AND tenant_id = ?`, id, tenantID,
			))
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: belief %s", domain.ErrNotFound, id)
			}
			if err != nil {
				return err
			}
			if err := checkRecordTransition(b.Status, to); err != nil {
				return err
			}
			if err := beliefTable.closeOut(ctx, tx, beliefKeyArgs(b.Key()), *sup, b.EffectiveFrom, actor, now); err != nil {
				return err
			}
		}
		return beliefTable.transition(ctx, tx, tenantID, id, to, actor, reason, now, now)
	})
	if err != nil {
		return nil, err
	}
	return s.GetByID(ctx, tenantID, id)
}

func (s *BeliefStore) Transitions(ctx context.Context, tenantID, recordID uuid.UUID) ([]domain.StatusTransition, error) {
	return listTransitions(ctx, s.db.db, domain.RecordKindBelief, tenantID, recordID)
}

func (s *BeliefStore) ListCurrent(ctx context.Context, tenantID uuid.UUID, opts domain.BeliefListOpts) ([]domain.Belief, error) {
	query := `SELECT ` + beliefColumns + ` FROM belief_records WHERE tenant_id = ? AND effective_to IS NULL AND status <> 'retracted'`
	args := []any{tenantID}

	if opts.SubjectKey != "" {
		query += ` AND subject_key = ?`
		args = append(args, domain.NormalizeKey(opts.SubjectKey))
	}
	if opts.MemoryType != nil {
		query += ` AND memory_type = ?`
		args = append(args, *opts.MemoryType)
	}
	if opts.Status != nil {
		if *opts.Status == domain.StatusActive {
			query += ` AND status IN ('active', 'verified')`
		} else {
			query += ` AND status = ?`
			args = append(args, *opts.Status)
		}
	}
	query += ` ORDER BY subject_key ASC, topic ASC, revision DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list current beliefs", err)
	}
	return collectBeliefs(rows)
}

func collectBeliefs(rows *sql.Rows) ([]domain.Belief, error) {
	defer func() { _ = rows.Close() }()
	var out []domain.Belief
	for rows.Next() {
		b, err := scanBelief(rows)
		if err != nil {
			return nil, wrapErr("scan belief", err)
		}
		out = append(out, *b)
	}
	return out, wrapErr("iterate beliefs", rows.Err())
}
