package sqlite

import (
	"context"

	"github.com/Harshitk-cp/twinledger/internal/domain"
	"github.com/google/uuid"
)

var _ domain.TenantStore = (*TenantStore)(nil)

const tenantColumns = `id, name, api_key_hash, created_at, updated_at`

type TenantStore struct {
	db *DB
}

func NewTenantStore(db *DB) *TenantStore {
	return &TenantStore{db: db}
}

func (s *TenantStore) Create(ctx context.Context, t *domain.Tenant) error {
	now := s.db.clock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.CreatedAt, t.UpdatedAt = now, now
	_, err := s.db.db.ExecContext(ctx,
		`INSERT INTO tenants (`+tenantColumns+`) VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.APIKeyHash, micros(now), micros(now),
	)
	return wrapErr("create tenant", err)
}

func (s *TenantStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Tenant, error) {
	t, err := scanTenant(s.db.db.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = ?`, id))
	if err != nil {
		return nil, wrapErr("get tenant", err)
	}
	return t, nil
}

func (s *TenantStore) GetByAPIKeyHash(ctx context.Context, apiKeyHash string) (*domain.Tenant, error) {
	t, err := scanTenant(s.db.db.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE api_key_hash = ?`, apiKeyHash))
	if err != nil {
		return nil, wrapErr("get tenant by key", err)
	}
	return t, nil
}

func (s *TenantStore) List(ctx context.Context) ([]domain.Tenant, error) {
	rows, err := s.db.db.QueryContext(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, wrapErr("list tenants", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, wrapErr("scan tenant", err)
		}
		out = append(out, *t)
	}
	return out, wrapErr("list tenants", rows.Err())
}

func scanTenant(row rowScanner) (*domain.Tenant, error) {
	var (
		t                domain.Tenant
		created, updated int64
	)
	if err := row.Scan(&t.ID, &t.Name, &t.APIKeyHash, &created, &updated); err != nil {
		return nil, err
	}
	t.CreatedAt = fromMicros(created)
	t.UpdatedAt = fromMicros(updated)
	return &t, nil
}
