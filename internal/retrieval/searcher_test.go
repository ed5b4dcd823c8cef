package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/sourcequill/backend/internal/domain"
	"github.com/sourcequill/backend/internal/platform/logger"
	"github.com/sourcequill/backend/internal/repos"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = f.vec
	}
	return out, nil
}

func (f *fakeEmbedder) GenerateJSON(context.Context, string, string, string, map[string]any) (map[string]any, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeEmbedder) GenerateText(context.Context, string, string) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeEmbedder) StreamText(context.Context, string, string, func(string)) (string, error) {
	return "", errors.New("not implemented")
}

type fakeChunkRepo struct {
	vectorHits []repos.ChunkHit
	vectorErr  error

	lexicalHits []repos.ChunkHit
	lexicalErr  error

	chunks []*domain.SourceChunk
}

func (f *fakeChunkRepo) CreateBatch(_ context.Context, _ *gorm.DB, chunks []*domain.SourceChunk) ([]*domain.SourceChunk, error) {
	return chunks, nil
}

func (f *fakeChunkRepo) GetBySourceIDs(context.Context, *gorm.DB, []uuid.UUID) ([]*domain.SourceChunk, error) {
	return f.chunks, nil
}

func (f *fakeChunkRepo) SetEmbedding(context.Context, *gorm.DB, uuid.UUID, []float32) error {
	return nil
}

func (f *fakeChunkRepo) DeleteBySourceIDs(context.Context, *gorm.DB, []uuid.UUID) error {
	return nil
}

func (f *fakeChunkRepo) SearchVector(context.Context, *gorm.DB, []float32, []uuid.UUID, int) ([]repos.ChunkHit, error) {
	if f.vectorErr != nil {
		return nil, f.vectorErr
	}
	return f.vectorHits, nil
}

func (f *fakeChunkRepo) SearchLexical(context.Context, *gorm.DB, string, []uuid.UUID, int) ([]repos.ChunkHit, error) {
	if f.lexicalErr != nil {
		return nil, f.lexicalErr
	}
	return f.lexicalHits, nil
}

type fakeSourceRepo struct {
	sources []*domain.Source
}

func (f *fakeSourceRepo) Create(_ context.Context, _ *gorm.DB, s *domain.Source) (*domain.Source, error) {
	return s, nil
}

func (f *fakeSourceRepo) GetByIDs(context.Context, *gorm.DB, []uuid.UUID) ([]*domain.Source, error) {
	return f.sources, nil
}

func (f *fakeSourceRepo) ListByUserID(context.Context, *gorm.DB, uuid.UUID) ([]*domain.Source, error) {
	return f.sources, nil
}

func (f *fakeSourceRepo) UpdateStatus(context.Context, *gorm.DB, uuid.UUID, string) error { return nil }
func (f *fakeSourceRepo) UpdateText(context.Context, *gorm.DB, uuid.UUID, string) error  { return nil }
func (f *fakeSourceRepo) SoftDeleteByIDs(context.Context, *gorm.DB, []uuid.UUID) error   { return nil }

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func embJSON(t *testing.T, vec []float32) datatypes.JSON {
	t.Helper()
	raw, err := json.Marshal(vec)
	if err != nil {
		t.Fatalf("marshal embedding: %v", err)
	}
	return datatypes.JSON(raw)
}

func TestSearchVectorTierWins(t *testing.T) {
	srcID := uuid.New()
	chunkRepo := &fakeChunkRepo{
		vectorHits: []repos.ChunkHit{
			{ID: uuid.New(), SourceID: srcID, SourceName: "notes.pdf", FileType: "pdf", Index: 0, Text: "alpha", Similarity: 0.91},
		},
	}
	s := NewSearcher(chunkRepo, &fakeSourceRepo{}, &fakeEmbedder{vec: []float32{1, 0}}, testLogger(t))

	hits, err := s.Search(context.Background(), "alpha", []uuid.UUID{srcID}, 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].SourceName != "notes.pdf" {
		t.Fatalf("hits = %+v, want one vector hit from notes.pdf", hits)
	}
}

func TestSearchFallsBackToCosine(t *testing.T) {
	srcID := uuid.New()
	near := &domain.SourceChunk{ID: uuid.New(), SourceID: srcID, Index: 0, Text: "close"}
	far := &domain.SourceChunk{ID: uuid.New(), SourceID: srcID, Index: 1, Text: "far"}
	near.Embedding = embJSON(t, []float32{1, 0})
	far.Embedding = embJSON(t, []float32{0, 1})

	chunkRepo := &fakeChunkRepo{
		vectorErr: repos.ErrVectorUnavailable,
		chunks:    []*domain.SourceChunk{far, near},
	}
	sourceRepo := &fakeSourceRepo{sources: []*domain.Source{
		{ID: srcID, Name: "notes.pdf", FileType: "pdf"},
	}}
	s := NewSearcher(chunkRepo, sourceRepo, &fakeEmbedder{vec: []float32{1, 0}}, testLogger(t))

	hits, err := s.Search(context.Background(), "close", []uuid.UUID{srcID}, 1)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].Text != "close" {
		t.Fatalf("hits = %+v, want the cosine-nearest chunk", hits)
	}
	if hits[0].SourceName != "notes.pdf" {
		t.Fatalf("source name = %q, want joined display name", hits[0].SourceName)
	}
}

func TestSearchWrappedVectorUnavailableFallsBack(t *testing.T) {
	srcID := uuid.New()
	chunk := &domain.SourceChunk{ID: uuid.New(), SourceID: srcID, Index: 0, Text: "close"}
	chunk.Embedding = embJSON(t, []float32{1, 0})

	chunkRepo := &fakeChunkRepo{
		vectorErr: fmt.Errorf("vector search: %w", repos.ErrVectorUnavailable),
		chunks:    []*domain.SourceChunk{chunk},
	}
	s := NewSearcher(chunkRepo, &fakeSourceRepo{}, &fakeEmbedder{vec: []float32{1, 0}}, testLogger(t))

	hits, err := s.Search(context.Background(), "close", []uuid.UUID{srcID}, 1)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].Text != "close" {
		t.Fatalf("hits = %+v, want cosine fallback despite wrapped sentinel", hits)
	}
}

func TestSearchLexicalWhenEmbeddingFails(t *testing.T) {
	srcID := uuid.New()
	chunkRepo := &fakeChunkRepo{
		lexicalHits: []repos.ChunkHit{
			{ID: uuid.New(), SourceID: srcID, SourceName: "notes.pdf", Index: 2, Text: "lexical", Similarity: 0.4},
		},
	}
	s := NewSearcher(chunkRepo, &fakeSourceRepo{}, &fakeEmbedder{err: errors.New("embed down")}, testLogger(t))

	hits, err := s.Search(context.Background(), "lexical", []uuid.UUID{srcID}, 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].Text != "lexical" {
		t.Fatalf("hits = %+v, want the lexical hit", hits)
	}
}

func TestSearchTotalFailureReturnsEmpty(t *testing.T) {
	srcID := uuid.New()
	chunkRepo := &fakeChunkRepo{
		vectorErr:  errors.New("db down"),
		lexicalErr: errors.New("db down"),
	}
	s := NewSearcher(chunkRepo, &fakeSourceRepo{}, &fakeEmbedder{vec: []float32{1, 0}}, testLogger(t))

	hits, err := s.Search(context.Background(), "anything", []uuid.UUID{srcID}, 5)
	if err != nil {
		t.Fatalf("search should not propagate collaborator failure, got %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("hits = %+v, want empty", hits)
	}
}

func TestCosine(t *testing.T) {
	if got := cosine([]float32{1, 0}, []float32{1, 0}); got < 0.999 {
		t.Fatalf("identical vectors cosine = %f, want ~1", got)
	}
	if got := cosine([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Fatalf("orthogonal vectors cosine = %f, want 0", got)
	}
	if got := cosine([]float32{1, 0}, []float32{1}); got != 0 {
		t.Fatalf("mismatched lengths cosine = %f, want 0", got)
	}
}
