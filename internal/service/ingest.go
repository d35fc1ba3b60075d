package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Harshitk-cp/twinledger/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultChunkSize    = 800
	DefaultChunkOverlap = 100

	embedConcurrency = 4
	embedBatchSize   = 32
)

// IngestHandler chunks a document's text, embeds the chunks and swaps them
// into the retrieval index. It serves both ingestion and reindex jobs.
type IngestHandler struct {
	docs     domain.DocumentStore
	embedder domain.EmbeddingClient
	jobs     *JobService
	size     int
	overlap  int
	logger   *zap.Logger
}

func NewIngestHandler(docs domain.DocumentStore, embedder domain.EmbeddingClient, logger *zap.Logger) *IngestHandler {
	return &IngestHandler{
		docs:     docs,
		embedder: embedder,
		size:     DefaultChunkSize,
		overlap:  DefaultChunkOverlap,
		logger:   logger,
	}
}

// SetProgressReporter lets the handler report progress on the running job.
func (h *IngestHandler) SetProgressReporter(jobs *JobService) {
	h.jobs = jobs
}

func (h *IngestHandler) Handle(ctx context.Context, job *domain.Job) (*domain.JobMetadata, error) {
	doc, err := loadJobDocument(ctx, h.docs, job)
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(doc.Content)
	if text == "" {
		return nil, fmt.Errorf("%w: no text extracted from document %s", domain.ErrValidation, doc.ID)
	}

	pieces := ChunkText(text, h.size, h.overlap)
	vectors, err := h.embedAll(ctx, pieces)
	if err != nil {
		return nil, err
	}
	h.progress(ctx, job, 0.8)

	chunks := make([]domain.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = domain.Chunk{
			TenantID:   doc.TenantID,
			DocumentID: doc.ID,
			Ordinal:    i,
			Text:       p,
			Embedding:  vectors[i],
		}
	}
	if err := h.docs.ReplaceChunks(ctx, doc.TenantID, doc.ID, chunks); err != nil {
		return nil, err
	}

	h.logger.Info("document indexed",
		zap.String("job_id", job.ID.String()),
		zap.String("document_id", doc.ID.String()),
		zap.String("job_type", string(job.Type)),
		zap.Int("chunks", len(chunks)))

	n, done := len(chunks), 1.0
	return &domain.JobMetadata{ChunksCreated: &n, Progress: &done}, nil
}

func (h *IngestHandler) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)

	if be, ok := h.embedder.(domain.BatchEmbedder); ok {
		for start := 0; start < len(texts); start += embedBatchSize {
			end := min(start+embedBatchSize, len(texts))
			g.Go(func() error {
				vecs, err := be.EmbedBatch(gCtx, texts[start:end])
				if err != nil {
					return fmt.Errorf("embedding chunks %d-%d: %w", start, end-1, err)
				}
				if len(vecs) != end-start {
					return fmt.Errorf("embedding chunks %d-%d: got %d vectors", start, end-1, len(vecs))
				}
				copy(results[start:end], vecs)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return results, nil
	}

	for i, text := range texts {
		g.Go(func() error {
			vec, err := h.embedder.Embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("embedding chunk %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (h *IngestHandler) progress(ctx context.Context, job *domain.Job, p float64) {
	if h.jobs == nil {
		return
	}
	if _, err := h.jobs.ReportProgress(ctx, job.ID, &p, domain.JobMetadata{}); err != nil {
		h.logger.Warn("failed to report progress", zap.String("job_id", job.ID.String()), zap.Error(err))
	}
}

func loadJobDocument(ctx context.Context, docs domain.DocumentStore, job *domain.Job) (*domain.Document, error) {
	if job.SourceID == nil || *job.SourceID == "" {
		return nil, fmt.Errorf("%w: job %s has no source_id", domain.ErrValidation, job.ID)
	}
	docID, err := uuid.Parse(*job.SourceID)
	if err != nil {
		return nil, fmt.Errorf("%w: source_id %q is not a document id", domain.ErrValidation, *job.SourceID)
	}
	return docs.GetByID(ctx, job.TenantID, docID)
}

// ChunkText packs paragraphs into chunks of at most size runes. A paragraph
// longer than size is cut into windows that overlap by overlap runes.
func ChunkText(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var (
		chunks []string
		cur    strings.Builder
		curLen int
	)
	flush := func() {
		if curLen > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
	}

	for _, para := range splitParagraphs(text) {
		n := utf8.RuneCountInString(para)
		if n > size {
			flush()
			chunks = append(chunks, windows(para, size, overlap)...)
			continue
		}
		// +2 for the paragraph separator.
		if curLen > 0 && curLen+2+n > size {
			flush()
		}
		if curLen > 0 {
			cur.WriteString("\n\n")
			curLen += 2
		}
		cur.WriteString(para)
		curLen += n
	}
	flush()
	return chunks
}

func splitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func windows(s string, size, overlap int) []string {
	runes := []rune(s)
	step := size - overlap
	var out []string
	for start := 0; start < len(runes); start += step {
		end := min(start+size, len(runes))
		out = append(out, strings.TrimSpace(string(runes[start:end])))
		if end == len(runes) {
			break
		}
	}
	return out
}
