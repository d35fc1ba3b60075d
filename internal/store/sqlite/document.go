package sqlite

import (
	"container/heap"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/Harshitk-cp/twinledger/internal/domain"
	"github.com/google/uuid"
)

var _ domain.DocumentStore = (*DocumentStore)(nil)

// DocumentStore keeps documents and their chunk vectors. Search is a
// brute-force cosine scan over the tenant's chunks.
type DocumentStore struct {
	db *DB
}

func NewDocumentStore(db *DB) *DocumentStore {
	return &DocumentStore{db: db}
}

const documentColumns = `id, tenant_id, title, source_type, url, content, health_status, chunk_count, created_at, updated_at`

func scanDocument(row rowScanner) (*domain.Document, error) {
	var (
		d                domain.Document
		created, updated int64
	)
	if err := row.Scan(&d.ID, &d.TenantID, &d.Title, &d.SourceType, &d.URL, &d.Content, &d.HealthStatus, &d.ChunkCount, &created, &updated); err != nil {
		return nil, err
	}
	d.CreatedAt = fromMicros(created)
	d.UpdatedAt = fromMicros(updated)
	return &d, nil
}

func (s *DocumentStore) Create(ctx context.Context, d *domain.Document) error {
	now := s.db.clock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.HealthStatus == "" {
		d.HealthStatus = domain.HealthUnknown
	}
	d.CreatedAt, d.UpdatedAt = now, now
	_, err := s.db.db.ExecContext(ctx,
		`INSERT INTO documents (`+documentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.TenantID, d.Title, d.SourceType, d.URL, d.Content, d.HealthStatus, d.ChunkCount, micros(now), micros(now),
	)
	return wrapErr("create document", err)
}

func (s *DocumentStore) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.Document, error) {
	d, err := scanDocument(s.db.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ? AND tenant_id = ?`, id, tenantID,
	))
	if err != nil {
		return nil, wrapErr("get document", err)
	}
	return d, nil
}

func (s *DocumentStore) ReplaceChunks(ctx context.Context, tenantID, documentID uuid.UUID, chunks []domain.Chunk) error {
	now := s.db.clock()
	return s.db.withTx(ctx, "replace chunks", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE documents SET chunk_count = ?, updated_at = ? WHERE id = ? AND tenant_id = ?`,
			len(chunks), micros(now), documentID, tenantID,
		)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return fmt.Errorf("%w: document %s", domain.ErrNotFound, documentID)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = ?`, documentID); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO document_chunks (id, tenant_id, document_id, ordinal, text, embedding, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer func() { _ = stmt.Close() }()

		for i := range chunks {
			c := &chunks[i]
			if c.ID == uuid.Nil {
				c.ID = uuid.New()
			}
			c.TenantID, c.DocumentID, c.CreatedAt = tenantID, documentID, now
			if _, err := stmt.ExecContext(ctx, c.ID, tenantID, documentID, c.Ordinal, c.Text, encodeFloat32s(c.Embedding), micros(now)); err != nil {
				return fmt.Errorf("inserting chunk %d: %w", c.Ordinal, err)
			}
		}
		return nil
	})
}

func (s *DocumentStore) ListChunks(ctx context.Context, tenantID, documentID uuid.UUID) ([]domain.Chunk, error) {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT id, tenant_id, document_id, ordinal, text, embedding, created_at
		 FROM document_chunks WHERE document_id = ? AND tenant_id = ? ORDER BY ordinal ASC`,
		documentID, tenantID,
	)
	if err != nil {
		return nil, wrapErr("list chunks", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, wrapErr("scan chunk", err)
		}
		out = append(out, *c)
	}
	return out, wrapErr("list chunks", rows.Err())
}

func scanChunk(row rowScanner) (*domain.Chunk, error) {
	var (
		c       domain.Chunk
		blob    []byte
		created int64
	)
	if err := row.Scan(&c.ID, &c.TenantID, &c.DocumentID, &c.Ordinal, &c.Text, &blob, &created); err != nil {
		return nil, err
	}
	vec, err := decodeFloat32sInto(nil, blob)
	if err != nil {
		return nil, err
	}
	c.Embedding = vec
	c.CreatedAt = fromMicros(created)
	return &c, nil
}

func (s *DocumentStore) UpdateHealth(ctx context.Context, tenantID, id uuid.UUID, status domain.HealthStatus) error {
	res, err := s.db.db.ExecContext(ctx,
		`UPDATE documents SET health_status = ?, updated_at = ? WHERE id = ? AND tenant_id = ?`,
		status, micros(s.db.clock()), id, tenantID,
	)
	if err != nil {
		return wrapErr("update document health", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapErr("update document health", err)
	}
	if n == 0 {
		return fmt.Errorf("update document health: %w", domain.ErrNotFound)
	}
	return nil
}

// idScore holds only the ID and score during the scan phase of Search.
type idScore struct {
	id    uuid.UUID
	score float32
}

// idScoreHeap is a min-heap on score; the root is the weakest kept candidate.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int           { return len(h) }
func (h idScoreHeap) Less(i, j int) bool { return h[i].score < h[j].score }
func (h idScoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x any)        { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func (s *DocumentStore) Search(ctx context.Context, tenantID uuid.UUID, embedding []float32, topK int) ([]domain.ScoredChunk, error) {
	if topK <= 0 {
		return nil, nil
	}
	queryNorm := norm(embedding)
	if queryNorm == 0 {
		return nil, nil
	}

	rows, err := s.db.db.QueryContext(ctx,
		`SELECT id, embedding FROM document_chunks WHERE tenant_id = ? AND embedding IS NOT NULL`, tenantID,
	)
	if err != nil {
		return nil, wrapErr("search chunks", err)
	}

	h := &idScoreHeap{}
	var buf []float32
	for rows.Next() {
		var (
			id   uuid.UUID
			blob []byte
		)
		if err := rows.Scan(&id, &blob); err != nil {
			_ = rows.Close()
			return nil, wrapErr("search chunks", err)
		}
		if buf, err = decodeFloat32sInto(buf, blob); err != nil {
			_ = rows.Close()
			return nil, wrapErr("search chunks", err)
		}
		score := cosine(embedding, buf, queryNorm)
		if h.Len() < topK {
			heap.Push(h, idScore{id: id, score: score})
		} else if score > (*h)[0].score {
			(*h)[0] = idScore{id: id, score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, wrapErr("search chunks", err)
	}
	_ = rows.Close()

	if h.Len() == 0 {
		return nil, nil
	}

	winners := make([]idScore, h.Len())
	for i := len(winners) - 1; i >= 0; i-- {
		winners[i] = heap.Pop(h).(idScore)
	}

	out := make([]domain.ScoredChunk, 0, len(winners))
	for _, w := range winners {
		c, err := scanChunk(s.db.db.QueryRowContext(ctx,
			`SELECT id, tenant_id, document_id, ordinal, text, embedding, created_at FROM document_chunks WHERE id = ?`, w.id,
		))
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, wrapErr("search chunks", err)
		}
		out = append(out, domain.ScoredChunk{Chunk: *c, Score: w.score})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine returns the cosine similarity of a and b given a's precomputed norm.
// Vectors of different length score 0.
func cosine(a, b []float32, normA float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	nb := norm(b)
	if nb == 0 {
		return 0
	}
	return float32(dot) / (normA * nb)
}
