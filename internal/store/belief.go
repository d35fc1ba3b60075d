package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Harshitk-cp/twinledger/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ domain.BeliefStore = (*BeliefStore)(nil)

type BeliefStore struct {
	db *pgxpool.Pool
}

func NewBeliefStore(db *pgxpool.Pool) *BeliefStore {
	return &BeliefStore{db: db}
}

const beliefColumns = `id, tenant_id, subject_key, topic, memory_type, value, stance, intensity, confidence, metadata, ` +
	envelopeColumns + `, created_at, updated_at`

func scanBelief(row pgx.Row) (*domain.Belief, error) {
	var (
		b      domain.Belief
		stance *string
	)
	dest := []any{&b.ID, &b.TenantID, &b.SubjectKey, &b.Topic, &b.MemoryType, &b.Value, &stance, &b.Intensity, &b.Confidence, &b.Metadata}
	dest = append(dest, envelopeTargets(&b.Envelope)...)
	dest = append(dest, &b.CreatedAt, &b.UpdatedAt)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if stance != nil {
		s := domain.Stance(*stance)
		b.Stance = &s
	}
	return &b, nil
}

func beliefKeyArgs(k domain.BeliefKey) []any {
	k = k.Normalized()
	return []any{k.TenantID, k.SubjectKey, k.Topic}
}

func (s *BeliefStore) Insert(ctx context.Context, b *domain.Belief, sup *domain.Supersession) error {
	now := truncate(time.Now())
	normalizeEnvelope(&b.Envelope, now)
	if err := b.Validate(); err != nil {
		return err
	}
	if b.Metadata == nil {
		b.Metadata = map[string]any{}
	}

	return withTx(ctx, s.db, "insert belief", func(tx pgx.Tx) error {
		key := beliefKeyArgs(b.Key())
		if err := beliefTable.lock(ctx, tx, key); err != nil {
			return err
		}
		if sup != nil {
			if err := beliefTable.closeOut(ctx, tx, b.TenantID, key, *sup, b.EffectiveFrom, b.Provenance, now); err != nil {
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

		var stance *string
		if b.Stance != nil {
			v := string(*b.Stance)
			stance = &v
		}
		args := []any{b.ID, b.TenantID, b.SubjectKey, b.Topic, b.MemoryType, b.Value, stance, b.Intensity, b.Confidence, b.Metadata}
		args = append(args, envelopeArgs(b.Envelope)...)
		args = append(args, now, now)
		if _, err := tx.Exec(ctx,
			`INSERT INTO belief_records (`+beliefColumns+`) VALUES (`+valuesList(1, len(args))+`)`,
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
	b, err := scanBelief(s.db.QueryRow(ctx,
		`SELECT `+beliefColumns+` FROM belief_records WHERE id = $1 AND tenant_id = $2`, id, tenantID,
	))
	if err != nil {
		return nil, wrapErr("get belief", err)
	}
	return b, nil
}

func (s *BeliefStore) GetCurrent(ctx context.Context, key domain.BeliefKey, asOf time.Time) (*domain.Belief, error) {
	args := append(beliefKeyArgs(key), asOf)
	b, err := scanBelief(s.db.QueryRow(ctx,
		`SELECT `+beliefColumns+` FROM belief_records
		 WHERE `+beliefTable.keyWhere(1)+` AND `+asOfWhere(4)+`
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
	rows, err := s.db.Query(ctx,
		`SELECT `+beliefColumns+` FROM belief_records
		 WHERE `+beliefTable.keyWhere(1)+`
		 ORDER BY effective_from ASC, revision ASC`,
		beliefKeyArgs(key)...,
	)
	if err != nil {
		return nil, wrapErr("belief history", err)
	}
	return collectBeliefs(rows)
}

func (s *BeliefStore) TransitionStatus(ctx context.Context, tenantID, id uuid.UUID, to domain.RecordStatus, actor domain.Provenance, reason string, sup *domain.Supersession) (*domain.Belief, error) {
	now := truncate(time.Now())
	actor = actor.Stamped(now)
	err := withTx(ctx, s.db, "transition belief", func(tx pgx.Tx) error {
		b, err := scanBelief(tx.QueryRow(ctx,
			`SELECT `+beliefColumns+` FROM belief_records WHERE id = $1 AND tenant_id = $2`, id, tenantID,
		))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: belief %s", domain.ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		key := beliefKeyArgs(b.Key())
		if err := beliefTable.lock(ctx, tx, key); err != nil {
			return err
		}
		if sup != nil && to == domain.StatusVerified {
			if err := checkRecordTransition(b.Status, to); err != nil {
				return err
			}
			if err := beliefTable.closeOut(ctx, tx, tenantID, key, *sup, b.EffectiveFrom, actor, now); err != nil {
				return err
			}
		}
		return beliefTable.transition(ctx, tx, tenantID, id, to, actor, reason, now)
	})
	if err != nil {
		return nil, err
	}
	return s.GetByID(ctx, tenantID, id)
}

func (s *BeliefStore) Transitions(ctx context.Context, tenantID, recordID uuid.UUID) ([]domain.StatusTransition, error) {
	return listTransitions(ctx, s.db, domain.RecordKindBelief, tenantID, recordID)
}

func (s *BeliefStore) ListCurrent(ctx context.Context, tenantID uuid.UUID, opts domain.BeliefListOpts) ([]domain.Belief, error) {
	query := `SELECT ` + beliefColumns + ` FROM belief_records WHERE tenant_id = $1 AND effective_to IS NULL AND status <> 'retracted'`
	args := []any{tenantID}

	if opts.SubjectKey != "" {
		args = append(args, domain.NormalizeKey(opts.SubjectKey))
		query += fmt.Sprintf(` AND subject_key = $%d`, len(args))
	}
	if opts.MemoryType != nil {
		args = append(args, *opts.MemoryType)
		query += fmt.Sprintf(` AND memory_type = $%d`, len(args))
	}
	if opts.Status != nil {
		if *opts.Status == domain.StatusActive {
			query += ` AND status IN ('active', 'verified')`
		} else {
			args = append(args, *opts.Status)
			query += fmt.Sprintf(` AND status = $%d`, len(args))
		}
	}
	query += ` ORDER BY subject_key ASC, topic ASC, revision DESC`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list current beliefs", err)
	}
	return collectBeliefs(rows)
}

func collectBeliefs(rows pgx.Rows) ([]domain.Belief, error) {
	defer rows.Close()
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
