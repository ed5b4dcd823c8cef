package repos

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/sourcequill/backend/internal/domain"
	"github.com/sourcequill/backend/internal/platform/logger"
)

// ChunkHit is a scored retrieval row joined with its source's display fields.
type ChunkHit struct {
	ID         uuid.UUID `json:"id"`
	SourceID   uuid.UUID `json:"source_id"`
	SourceName string    `json:"source_name"`
	FileType   string    `json:"file_type"`
	Index      int       `json:"index"`
	Text       string    `json:"text"`
	Similarity float64   `json:"similarity"`
}

type SourceChunkRepo interface {
	CreateBatch(ctx context.Context, tx *gorm.DB, chunks []*domain.SourceChunk) ([]*domain.SourceChunk, error)
	GetBySourceIDs(ctx context.Context, tx *gorm.DB, sourceIDs []uuid.UUID) ([]*domain.SourceChunk, error)
	SetEmbedding(ctx context.Context, tx *gorm.DB, chunkID uuid.UUID, embedding []float32) error
	DeleteBySourceIDs(ctx context.Context, tx *gorm.DB, sourceIDs []uuid.UUID) error

	// SearchVector is the ANN tier; returns ErrVectorUnavailable when the
	// deployment has no pgvector column.
	SearchVector(ctx context.Context, tx *gorm.DB, query []float32, sourceIDs []uuid.UUID, topK int) ([]ChunkHit, error)

	// SearchLexical is the Postgres full-text tier for embedding-free queries.
	SearchLexical(ctx context.Context, tx *gorm.DB, query string, sourceIDs []uuid.UUID, topK int) ([]ChunkHit, error)
}

// ErrVectorUnavailable signals that the vector tier cannot run on this
// deployment (sqlite, or pgvector missing) and the caller should fall back.
var ErrVectorUnavailable = errors.New("vector search unavailable")

type sourceChunkRepo struct {
	db            *gorm.DB
	log           *logger.Logger
	vectorEnabled bool
}

func NewSourceChunkRepo(db *gorm.DB, baseLog *logger.Logger, vectorEnabled bool) SourceChunkRepo {
	return &sourceChunkRepo{
		db:            db,
		log:           baseLog.With("repo", "SourceChunkRepo"),
		vectorEnabled: vectorEnabled,
	}
}

func (r *sourceChunkRepo) CreateBatch(ctx context.Context, tx *gorm.DB, chunks []*domain.SourceChunk) ([]*domain.SourceChunk, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(chunks) == 0 {
		return []*domain.SourceChunk{}, nil
	}
	if err := transaction.WithContext(ctx).CreateInBatches(&chunks, 200).Error; err != nil {
		return nil, err
	}
	return chunks, nil
}

func (r *sourceChunkRepo) GetBySourceIDs(ctx context.Context, tx *gorm.DB, sourceIDs []uuid.UUID) ([]*domain.SourceChunk, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*domain.SourceChunk
	if len(sourceIDs) == 0 {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("source_id IN ?", sourceIDs).
		Order("source_id, index ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// SetEmbedding writes the jsonb copy always and the pgvector column when
// available, so both search tiers stay consistent.
func (r *sourceChunkRepo) SetEmbedding(ctx context.Context, tx *gorm.DB, chunkID uuid.UUID, embedding []float32) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	raw, err := json.Marshal(embedding)
	if err != nil {
		return err
	}
	updates := map[string]any{"embedding": datatypes.JSON(raw)}
	if r.vectorEnabled {
		updates["embedding_vec"] = pgvector.NewVector(embedding)
	}
	return transaction.WithContext(ctx).
		Model(&domain.SourceChunk{}).
		Where("id = ?", chunkID).
		Updates(updates).Error
}

func (r *sourceChunkRepo) DeleteBySourceIDs(ctx context.Context, tx *gorm.DB, sourceIDs []uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(sourceIDs) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Where("source_id IN ?", sourceIDs).
		Delete(&domain.SourceChunk{}).Error
}

func (r *sourceChunkRepo) SearchVector(ctx context.Context, tx *gorm.DB, query []float32, sourceIDs []uuid.UUID, topK int) ([]ChunkHit, error) {
	if !r.vectorEnabled {
		return nil, ErrVectorUnavailable
	}
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(query) == 0 || len(sourceIDs) == 0 || topK <= 0 {
		return []ChunkHit{}, nil
	}

	vec := pgvector.NewVector(query)
	var hits []ChunkHit
	err := transaction.WithContext(ctx).Raw(`
		SELECT sc.id, sc.source_id, s.name AS source_name, s.file_type,
		       sc.index, sc.text,
		       1 - (sc.embedding_vec <=> ?) AS similarity
		FROM source_chunk sc
		JOIN source s ON s.id = sc.source_id
		WHERE sc.source_id IN ?
		  AND sc.embedding_vec IS NOT NULL
		  AND sc.deleted_at IS NULL
		ORDER BY sc.embedding_vec <=> ?
		LIMIT ?`, vec, sourceIDs, vec, topK).
		Scan(&hits).Error
	if err != nil {
		return nil, err
	}
	return hits, nil
}

func (r *sourceChunkRepo) SearchLexical(ctx context.Context, tx *gorm.DB, query string, sourceIDs []uuid.UUID, topK int) ([]ChunkHit, error) {
	if !r.vectorEnabled {
		// FTS is Postgres-only too; sqlite deployments rely on the Go
		// cosine tier.
		return nil, ErrVectorUnavailable
	}
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if query == "" || len(sourceIDs) == 0 || topK <= 0 {
		return []ChunkHit{}, nil
	}

	var hits []ChunkHit
	err := transaction.WithContext(ctx).Raw(`
		SELECT sc.id, sc.source_id, s.name AS source_name, s.file_type,
		       sc.index, sc.text,
		       ts_rank(to_tsvector('english', sc.text), plainto_tsquery('english', ?)) AS similarity
		FROM source_chunk sc
		JOIN source s ON s.id = sc.source_id
		WHERE sc.source_id IN ?
		  AND sc.deleted_at IS NULL
		  AND to_tsvector('english', sc.text) @@ plainto_tsquery('english', ?)
		ORDER BY similarity DESC
		LIMIT ?`, query, sourceIDs, query, topK).
		Scan(&hits).Error
	if err != nil {
		return nil, err
	}
	return hits, nil
}
