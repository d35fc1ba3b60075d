package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/Harshitk-cp/twinledger/internal/domain"
	"github.com/google/uuid"
)

var _ domain.GraphStore = (*GraphStore)(nil)

type GraphStore struct {
	db *DB
}

func NewGraphStore(db *DB) *GraphStore {
	return &GraphStore{db: db}
}

const nodeColumns = `id, tenant_id, node_key, name, entity_type, properties, ` + envelopeColumns + `, created_at, updated_at`

const edgeColumns = `id, tenant_id, source_key, relation, target_key, weight, properties, ` + envelopeColumns + `, created_at, updated_at`

func scanNode(row rowScanner) (*domain.GraphNode, error) {
	var (
		n       domain.GraphNode
		props   string
		created int64
		updated int64
	)
	env := envelopeDest{env: &n.Envelope}
	dest := []any{&n.ID, &n.TenantID, &n.NodeKey, &n.Name, &n.EntityType, &props}
	dest = append(dest, env.targets()...)
	dest = append(dest, &created, &updated)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	env.finish()
	if err := decodeJSON(props, &n.Properties); err != nil {
		return nil, err
	}
	n.CreatedAt = fromMicros(created)
	n.UpdatedAt = fromMicros(updated)
	return &n, nil
}

func scanEdge(row rowScanner) (*domain.GraphEdge, error) {
	var (
		e       domain.GraphEdge
		props   string
		created int64
		updated int64
	)
	env := envelopeDest{env: &e.Envelope}
	dest := []any{&e.ID, &e.TenantID, &e.SourceKey, &e.Relation, &e.TargetKey, &e.Weight, &props}
	dest = append(dest, env.targets()...)
	dest = append(dest, &created, &updated)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	env.finish()
	if err := decodeJSON(props, &e.Properties); err != nil {
		return nil, err
	}
	e.CreatedAt = fromMicros(created)
	e.UpdatedAt = fromMicros(updated)
	return &e, nil
}

func edgeKeyArgs(tenantID uuid.UUID, k domain.EdgeKey) []any {
	k = k.Normalized()
	return []any{tenantID, k.SourceKey, k.Relation, k.TargetKey}
}

func (s *GraphStore) InsertNode(ctx context.Context, n *domain.GraphNode, sup *domain.Supersession) error {
	now := s.db.clock()
	normalizeEnvelope(&n.Envelope, now)
	if err := n.Validate(); err != nil {
		return err
	}
	props, err := encodeJSON(n.Properties)
	if err != nil {
		return err
	}

	return s.db.withTx(ctx, "insert graph node", func(tx *sql.Tx) error {
		key := []any{n.TenantID, n.NodeKey}
		if sup != nil {
			if err := nodeTable.closeOut(ctx, tx, key, *sup, n.EffectiveFrom, n.Provenance, now); err != nil {
				return err
			}
		}
		rev, err := nodeTable.nextRevision(ctx, tx, key, n.EffectiveFrom)
		if err != nil {
			return err
		}
		if n.ID == uuid.Nil {
			n.ID = uuid.New()
		}
		n.Revision = rev
		n.EffectiveTo = nil
		n.CreatedAt, n.UpdatedAt = now, now

		args := []any{n.ID, n.TenantID, n.NodeKey, n.Name, n.EntityType, props}
		args = append(args, envelopeArgs(n.Envelope)...)
		args = append(args, micros(now), micros(now))
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO graph_nodes (`+nodeColumns+`) VALUES (`+placeholders(len(args))+`)`, args...,
		); err != nil {
			return err
		}
		return insertTransition(ctx, tx, domain.StatusTransition{
			TenantID: n.TenantID, RecordKind: domain.RecordKindNode, RecordID: n.ID,
			ToStatus: n.Status, Actor: n.Provenance, Reason: "created", CreatedAt: now,
		})
	})
}

func (s *GraphStore) GetNode(ctx context.Context, tenantID, id uuid.UUID) (*domain.GraphNode, error) {
	n, err := scanNode(s.db.db.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM graph_nodes WHERE id = ? AND tenant_id = ?`, id, tenantID,
	))
	if err != nil {
		return nil, wrapErr("get graph node", err)
	}
	return n, nil
}

func (s *GraphStore) CurrentNode(ctx context.Context, tenantID uuid.UUID, nodeKey string, asOf time.Time) (*domain.GraphNode, error) {
	at := micros(asOf)
	n, err := scanNode(s.db.db.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM graph_nodes
		 WHERE `+nodeTable.keyWhere()+` AND `+asOfWhere+`
		 ORDER BY `+statusPrecedence+`, revision DESC LIMIT 1`,
		tenantID, domain.NormalizeKey(nodeKey), at, at,
	))
	if err != nil {
		return nil, wrapErr("get current graph node", err)
	}
	return n, nil
}

func (s *GraphStore) NodeHistory(ctx context.Context, tenantID uuid.UUID, nodeKey string) ([]domain.GraphNode, error) {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT `+nodeColumns+` FROM graph_nodes WHERE `+nodeTable.keyWhere()+`
		 ORDER BY effective_from ASC, revision ASC`,
		tenantID, domain.NormalizeKey(nodeKey),
	)
	if err != nil {
		return nil, wrapErr("graph node history", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.GraphNode
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, wrapErr("scan graph node", err)
		}
		out = append(out, *n)
	}
	return out, wrapErr("iterate graph nodes", rows.Err())
}

func (s *GraphStore) TransitionNode(ctx context.Context, tenantID, id uuid.UUID, to domain.RecordStatus, actor domain.Provenance, reason string) (*domain.GraphNode, error) {
	now := s.db.clock()
	actor = actor.Stamped(now)
	if err := s.db.withTx(ctx, "transition graph node", func(tx *sql.Tx) error {
		return nodeTable.transition(ctx, tx, tenantID, id, to, actor, reason, now, now)
	}); err != nil {
		return nil, err
	}
	return s.GetNode(ctx, tenantID, id)
}

func (s *GraphStore) InsertEdge(ctx context.Context, e *domain.GraphEdge, sup *domain.Supersession) error {
	now := s.db.clock()
	normalizeEnvelope(&e.Envelope, now)
	if err := e.Validate(); err != nil {
		return err
	}
	props, err := encodeJSON(e.Properties)
	if err != nil {
		return err
	}

	return s.db.withTx(ctx, "insert graph edge", func(tx *sql.Tx) error {
		key := edgeKeyArgs(e.TenantID, e.Key())
		if sup != nil {
			if err := edgeTable.closeOut(ctx, tx, key, *sup, e.EffectiveFrom, e.Provenance, now); err != nil {
				return err
			}
		}
		rev, err := edgeTable.nextRevision(ctx, tx, key, e.EffectiveFrom)
		if err != nil {
			return err
		}
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		e.Revision = rev
		e.EffectiveTo = nil
		e.CreatedAt, e.UpdatedAt = now, now

		args := []any{e.ID, e.TenantID, e.SourceKey, e.Relation, e.TargetKey, e.Weight, props}
		args = append(args, envelopeArgs(e.Envelope)...)
		args = append(args, micros(now), micros(now))
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO graph_edges (`+edgeColumns+`) VALUES (`+placeholders(len(args))+`)`, args...,
		); err != nil {
			return err
		}
		return insertTransition(ctx, tx, domain.StatusTransition{
			TenantID: e.TenantID, RecordKind: domain.RecordKindEdge, RecordID: e.ID,
			ToStatus: e.Status, Actor: e.Provenance, Reason: "created", CreatedAt: now,
		})
	})
}

func (s *GraphStore) GetEdge(ctx context.Context, tenantID, id uuid.UUID) (*domain.GraphEdge, error) {
	e, err := scanEdge(s.db.db.QueryRowContext(ctx,
		`SELECT `+edgeColumns+` FROM graph_edges WHERE id = ? AND tenant_id = ?`, id, tenantID,
	))
	if err != nil {
		return nil, wrapErr("get graph edge", err)
	}
	return e, nil
}

func (s *GraphStore) CurrentEdge(ctx context.Context, tenantID uuid.UUID, key domain.EdgeKey, asOf time.Time) (*domain.GraphEdge, error) {
	at := micros(asOf)
	args := append(edgeKeyArgs(tenantID, key), at, at)
	e, err := scanEdge(s.db.db.QueryRowContext(ctx,
		`SELECT `+edgeColumns+` FROM graph_edges
		 WHERE `+edgeTable.keyWhere()+` AND `+asOfWhere+`
		 ORDER BY `+statusPrecedence+`, revision DESC LIMIT 1`,
		args...,
	))
	if err != nil {
		return nil, wrapErr("get current graph edge", err)
	}
	return e, nil
}

func (s *GraphStore) EdgeHistory(ctx context.Context, tenantID uuid.UUID, key domain.EdgeKey) ([]domain.GraphEdge, error) {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT `+edgeColumns+` FROM graph_edges WHERE `+edgeTable.keyWhere()+`
		 ORDER BY effective_from ASC, revision ASC`,
		edgeKeyArgs(tenantID, key)...,
	)
	if err != nil {
		return nil, wrapErr("graph edge history", err)
	}
	return collectEdges(rows)
}

func (s *GraphStore) TransitionEdge(ctx context.Context, tenantID, id uuid.UUID, to domain.RecordStatus, actor domain.Provenance, reason string) (*domain.GraphEdge, error) {
	now := s.db.clock()
	actor = actor.Stamped(now)
	if err := s.db.withTx(ctx, "transition graph edge", func(tx *sql.Tx) error {
		return edgeTable.transition(ctx, tx, tenantID, id, to, actor, reason, now, now)
	}); err != nil {
		return nil, err
	}
	return s.GetEdge(ctx, tenantID, id)
}

func (s *GraphStore) Neighbors(ctx context.Context, tenantID uuid.UUID, nodeKey string, asOf time.Time) ([]domain.GraphEdge, error) {
	key := domain.NormalizeKey(nodeKey)
	at := micros(asOf)
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT `+edgeColumns+` FROM graph_edges
		 WHERE tenant_id = ? AND (source_key = ? OR target_key = ?)
		   AND status IN ('active', 'verified', 'superseded', 'deprecated') AND effective_from <= ? AND (effective_to IS NULL OR effective_to > ?)
		 ORDER BY weight DESC, relation ASC, source_key ASC, target_key ASC`,
		tenantID, key, key, at, at,
	)
	if err != nil {
		return nil, wrapErr("graph neighbors", err)
	}
	return collectEdges(rows)
}

func collectEdges(rows *sql.Rows) ([]domain.GraphEdge, error) {
	defer func() { _ = rows.Close() }()
	var out []domain.GraphEdge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, wrapErr("scan graph edge", err)
		}
		out = append(out, *e)
	}
	return out, wrapErr("iterate graph edges", rows.Err())
}
