package store

import (
	"context"

	"github.com/Harshitk-cp/twinledger/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ domain.TenantStore = (*TenantStore)(nil)

const tenantColumns = `id, name, api_key_hash, created_at, updated_at`

type TenantStore struct {
	db *pgxpool.Pool
}

func NewTenantStore(db *pgxpool.Pool) *TenantStore {
	return &TenantStore{db: db}
}

func (s *TenantStore) Create(ctx context.Context, t *domain.Tenant) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	err := s.db.QueryRow(ctx,
		`INSERT INTO tenants (id, name, api_key_hash) VALUES ($1, $2, $3)
		 RETURNING created_at, updated_at`,
		t.ID, t.Name, t.APIKeyHash,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	return wrapErr("create tenant", err)
}

func (s *TenantStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Tenant, error) {
	t, err := scanTenant(s.db.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id))
	if err != nil {
		return nil, wrapErr("get tenant", err)
	}
	return t, nil
}

func (s *TenantStore) GetByAPIKeyHash(ctx context.Context, apiKeyHash string) (*domain.Tenant, error) {
	t, err := scanTenant(s.db.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE api_key_hash = $1`, apiKeyHash))
	if err != nil {
		return nil, wrapErr("get tenant by key", err)
	}
	return t, nil
}

func (s *TenantStore) List(ctx context.Context) ([]domain.Tenant, error) {
	rows, err := s.db.Query(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, wrapErr("list tenants", err)
	}
	defer rows.Close()

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

func scanTenant(row pgx.Row) (*domain.Tenant, error) {
	var t domain.Tenant
	if err := row.Scan(&t.ID, &t.Name, &t.APIKeyHash, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}
