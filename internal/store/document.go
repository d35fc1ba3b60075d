package store

import (
	"context"
	"fmt"
	"time"

	"github.com/Harshitk-cp/twinledger/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

var _ domain.DocumentStore = (*DocumentStore)(nil)

// DocumentStore keeps documents and chunk embeddings in a pgvector column.
type DocumentStore struct {
	db *pgxpool.Pool
}

func NewDocumentStore(db *pgxpool.Pool) *DocumentStore {
	return &DocumentStore{db: db}
}

const documentColumns = `id, tenant_id, title, source_type, url, content, health_status, chunk_count, created_at, updated_at`

const chunkColumns = `id, tenant_id, document_id, ordinal, text, created_at`

func scanDocument(row pgx.Row) (*domain.Document, error) {
	var d domain.Document
	if err := row.Scan(&d.ID, &d.TenantID, &d.Title, &d.SourceType, &d.URL, &d.Content, &d.HealthStatus, &d.ChunkCount, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *DocumentStore) Create(ctx context.Context, d *domain.Document) error {
	now := truncate(time.Now())
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.HealthStatus == "" {
		d.HealthStatus = domain.HealthUnknown
	}
	d.CreatedAt, d.UpdatedAt = now, now
	_, err := s.db.Exec(ctx,
		`INSERT INTO documents (`+documentColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		d.ID, d.TenantID, d.Title, d.SourceType, d.URL, d.Content, d.HealthStatus, d.ChunkCount, now,
	)
	return wrapErr("create document", err)
}

func (s *DocumentStore) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.Document, error) {
	d, err := scanDocument(s.db.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1 AND tenant_id = $2`, id, tenantID,
	))
	if err != nil {
		return nil, wrapErr("get document", err)
	}
	return d, nil
}

func (s *DocumentStore) ReplaceChunks(ctx context.Context, tenantID, documentID uuid.UUID, chunks []domain.Chunk) error {
	now := truncate(time.Now())
	return withTx(ctx, s.db, "replace chunks", func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE documents SET chunk_count = $1, updated_at = $2 WHERE id = $3 AND tenant_id = $4`,
			len(chunks), now, documentID, tenantID,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: document %s", domain.ErrNotFound, documentID)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for i := range chunks {
			c := &chunks[i]
			if c.ID == uuid.Nil {
				c.ID = uuid.New()
			}
			c.TenantID, c.DocumentID, c.CreatedAt = tenantID, documentID, now
			var embedding *pgvector.Vector
			if len(c.Embedding) > 0 {
				v := pgvector.NewVector(c.Embedding)
				embedding = &v
			}
			batch.Queue(
				`INSERT INTO document_chunks (id, tenant_id, document_id, ordinal, text, embedding, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				c.ID, tenantID, documentID, c.Ordinal, c.Text, embedding, now,
			)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

// ListChunks returns chunk text in order; embeddings stay in the database.
func (s *DocumentStore) ListChunks(ctx context.Context, tenantID, documentID uuid.UUID) ([]domain.Chunk, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+chunkColumns+` FROM document_chunks WHERE document_id = $1 AND tenant_id = $2 ORDER BY ordinal ASC`,
		documentID, tenantID,
	)
	if err != nil {
		return nil, wrapErr("list chunks", err)
	}
	defer rows.Close()

	var out []domain.Chunk
	for rows.Next() {
		var c domain.Chunk
		if err := rows.Scan(&c.ID, &c.TenantID, &c.DocumentID, &c.Ordinal, &c.Text, &c.CreatedAt); err != nil {
			return nil, wrapErr("scan chunk", err)
		}
		out = append(out, c)
	}
	return out, wrapErr("list chunks", rows.Err())
}

func (s *DocumentStore) UpdateHealth(ctx context.Context, tenantID, id uuid.UUID, status domain.HealthStatus) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE documents SET health_status = $1, updated_at = $2 WHERE id = $3 AND tenant_id = $4`,
		status, truncate(time.Now()), id, tenantID,
	)
	if err != nil {
		return wrapErr("update document health", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update document health: %w", domain.ErrNotFound)
	}
	return nil
}

func (s *DocumentStore) Search(ctx context.Context, tenantID uuid.UUID, embedding []float32, topK int) ([]domain.ScoredChunk, error) {
	if topK <= 0 || len(embedding) == 0 {
		return nil, nil
	}
	vec := pgvector.NewVector(embedding)

	rows, err := s.db.Query(ctx,
		`SELECT `+chunkColumns+`, 1 - (embedding <=> $1) AS score
		 FROM document_chunks
		 WHERE tenant_id = $2 AND embedding IS NOT NULL AND vector_dims(embedding) = $3
		 ORDER BY embedding <=> $1 ASC
		 LIMIT $4`,
		vec, tenantID, len(embedding), topK,
	)
	if err != nil {
		return nil, wrapErr("search chunks", err)
	}
	defer rows.Close()

	var out []domain.ScoredChunk
	for rows.Next() {
		var (
			sc    domain.ScoredChunk
			score float64
		)
		if err := rows.Scan(&sc.ID, &sc.TenantID, &sc.DocumentID, &sc.Ordinal, &sc.Text, &sc.CreatedAt, &score); err != nil {
			return nil, wrapErr("scan chunk", err)
		}
		sc.Score = float32(score)
		out = append(out, sc)
	}
	return out, wrapErr("search chunks", rows.Err())
}
