package store

import (
	"context"
	"time"

	"github.com/Harshitk-cp/twinledger/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ domain.GraphStore = (*GraphStore)(nil)

type GraphStore struct {
	db *pgxpool.Pool
}

func NewGraphStore(db *pgxpool.Pool) *GraphStore {
	return &GraphStore{db: db}
}

const nodeColumns = `id, tenant_id, node_key, name, entity_type, properties, ` + envelopeColumns + `, created_at, updated_at`

const edgeColumns = `id, tenant_id, source_key, relation, target_key, weight, properties, ` + envelopeColumns + `, created_at, updated_at`

func scanNode(row pgx.Row) (*domain.GraphNode, error) {
	var n domain.GraphNode
	dest := []any{&n.ID, &n.TenantID, &n.NodeKey, &n.Name, &n.EntityType, &n.Properties}
	dest = append(dest, envelopeTargets(&n.Envelope)...)
	dest = append(dest, &n.CreatedAt, &n.UpdatedAt)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &n, nil
}

func scanEdge(row pgx.Row) (*domain.GraphEdge, error) {
	var e domain.GraphEdge
	dest := []any{&e.ID, &e.TenantID, &e.SourceKey, &e.Relation, &e.TargetKey, &e.Weight, &e.Properties}
	dest = append(dest, envelopeTargets(&e.Envelope)...)
	dest = append(dest, &e.CreatedAt, &e.UpdatedAt)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &e, nil
}

func edgeKeyArgs(tenantID uuid.UUID, k domain.EdgeKey) []any {
	k = k.Normalized()
	return []any{tenantID, k.SourceKey, k.Relation, k.TargetKey}
}

func (s *GraphStore) InsertNode(ctx context.Context, n *domain.GraphNode, sup *domain.Supersession) error {
	now := truncate(time.Now())
	normalizeEnvelope(&n.Envelope, now)
	if err := n.Validate(); err != nil {
		return err
	}
	if n.Properties == nil {
		n.Properties = map[string]any{}
	}

	return withTx(ctx, s.db, "insert graph node", func(tx pgx.Tx) error {
		key := []any{n.TenantID, n.NodeKey}
		if err := nodeTable.lock(ctx, tx, key); err != nil {
			return err
		}
		if sup != nil {
			if err := nodeTable.closeOut(ctx, tx, n.TenantID, key, *sup, n.EffectiveFrom, n.Provenance, now); err != nil {
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

		args := []any{n.ID, n.TenantID, n.NodeKey, n.Name, n.EntityType, n.Properties}
		args = append(args, envelopeArgs(n.Envelope)...)
		args = append(args, now, now)
		if _, err := tx.Exec(ctx,
			`INSERT INTO graph_nodes (`+nodeColumns+`) VALUES (`+valuesList(1, len(args))+`)`, args...,
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
	n, err := scanNode(s.db.QueryRow(ctx,
		`SELECT `+nodeColumns+` FROM graph_nodes WHERE id = $1 AND tenant_id = $2`, id, tenantID,
	))
	if err != nil {
		return nil, wrapErr("get graph node", err)
	}
	return n, nil
}

func (s *GraphStore) CurrentNode(ctx context.Context, tenantID uuid.UUID, nodeKey string, asOf time.Time) (*domain.GraphNode, error) {
	n, err := scanNode(s.db.QueryRow(ctx,
		`SELECT `+nodeColumns+` FROM graph_nodes
		 WHERE `+nodeTable.keyWhere(1)+` AND `+asOfWhere(3)+`
		 ORDER BY `+statusPrecedence+`, revision DESC LIMIT 1`,
		tenantID, domain.NormalizeKey(nodeKey), asOf,
	))
	if err != nil {
		return nil, wrapErr("get current graph node", err)
	}
	return n, nil
}

func (s *GraphStore) NodeHistory(ctx context.Context, tenantID uuid.UUID, nodeKey string) ([]domain.GraphNode, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+nodeColumns+` FROM graph_nodes WHERE `+nodeTable.keyWhere(1)+`
		 ORDER BY effective_from ASC, revision ASC`,
		tenantID, domain.NormalizeKey(nodeKey),
	)
	if err != nil {
		return nil, wrapErr("graph node history", err)
	}
	defer rows.Close()

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
	now := truncate(time.Now())
	actor = actor.Stamped(now)
	if err := withTx(ctx, s.db, "transition graph node", func(tx pgx.Tx) error {
		return nodeTable.transition(ctx, tx, tenantID, id, to, actor, reason, now)
	}); err != nil {
		return nil, err
	}
	return s.GetNode(ctx, tenantID, id)
}

func (s *GraphStore) InsertEdge(ctx context.Context, e *domain.GraphEdge, sup *domain.Supersession) error {
	now := truncate(time.Now())
	normalizeEnvelope(&e.Envelope, now)
	if err := e.Validate(); err != nil {
		return err
	}
	if e.Properties == nil {
		e.Properties = map[string]any{}
	}

	return withTx(ctx, s.db, "insert graph edge", func(tx pgx.Tx) error {
		key := edgeKeyArgs(e.TenantID, e.Key())
		if err := edgeTable.lock(ctx, tx, key); err != nil {
			return err
		}
		if sup != nil {
			if err := edgeTable.closeOut(ctx, tx, e.TenantID, key, *sup, e.EffectiveFrom, e.Provenance, now); err != nil {
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

		args := []any{e.ID, e.TenantID, e.SourceKey, e.Relation, e.TargetKey, e.Weight, e.Properties}
		args = append(args, envelopeArgs(e.Envelope)...)
		args = append(args, now, now)
		if _, err := tx.Exec(ctx,
			`INSERT INTO graph_edges (`+edgeColumns+`) VALUES (`+valuesList(1, len(args))+`)`, args...,
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
	e, err := scanEdge(s.db.QueryRow(ctx,
		`SELECT `+edgeColumns+` FROM graph_edges WHERE id = $1 AND tenant_id = $2`, id, tenantID,
	))
	if err != nil {
		return nil, wrapErr("get graph edge", err)
	}
	return e, nil
}

func (s *GraphStore) CurrentEdge(ctx context.Context, tenantID uuid.UUID, key domain.EdgeKey, asOf time.Time) (*domain.GraphEdge, error) {
	args := append(edgeKeyArgs(tenantID, key), asOf)
	e, err := scanEdge(s.db.QueryRow(ctx,
		`SELECT `+edgeColumns+` FROM graph_edges
		 WHERE `+edgeTable.keyWhere(1)+` AND `+asOfWhere(5)+`
		 ORDER BY `+statusPrecedence+`, revision DESC LIMIT 1`,
		args...,
	))
	if err != nil {
		return nil, wrapErr("get current graph edge", err)
	}
	return e, nil
}

func (s *GraphStore) EdgeHistory(ctx context.Context, tenantID uuid.UUID, key domain.EdgeKey) ([]domain.GraphEdge, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+edgeColumns+` FROM graph_edges WHERE `+edgeTable.keyWhere(1)+`
		 ORDER BY effective_from ASC, revision ASC`,
		edgeKeyArgs(tenantID, key)...,
	)
	if err != nil {
		return nil, wrapErr("graph edge history", err)
	}
	return collectEdges(rows)
}

func (s *GraphStore) TransitionEdge(ctx context.Context, tenantID, id uuid.UUID, to domain.RecordStatus, actor domain.Provenance, reason string) (*domain.GraphEdge, error) {
	now := truncate(time.Now())
	actor = actor.Stamped(now)
	if err := withTx(ctx, s.db, "transition graph edge", func(tx pgx.Tx) error {
		return edgeTable.transition(ctx, tx, tenantID, id, to, actor, reason, now)
	}); err != nil {
		return nil, err
	}
	return s.GetEdge(ctx, tenantID, id)
}

func (s *GraphStore) Neighbors(ctx context.Context, tenantID uuid.UUID, nodeKey string, asOf time.Time) ([]domain.GraphEdge, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+edgeColumns+` FROM graph_edges
		 WHERE tenant_id = $1 AND (source_key = $2 OR target_key = $2)
		   AND status IN ('active', 'verified', 'superseded', 'deprecated')
		   AND effective_from <= $3 AND (effective_to IS NULL OR effective_to > $3)
		 ORDER BY weight DESC, relation ASC, source_key ASC, target_key ASC`,
		tenantID, domain.NormalizeKey(nodeKey), asOf,
	)
	if err != nil {
		return nil, wrapErr("graph neighbors", err)
	}
	return collectEdges(rows)
}

func collectEdges(rows pgx.Rows) ([]domain.GraphEdge, error) {
	defer rows.Close()
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
