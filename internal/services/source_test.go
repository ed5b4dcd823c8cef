package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sourcequill/backend/internal/domain"
	pkgerrors "github.com/sourcequill/backend/internal/pkg/errors"
	"github.com/sourcequill/backend/internal/platform/logger"
	"github.com/sourcequill/backend/internal/repos"
)

type stubSourceRepo struct {
	src      *domain.Source
	statuses []string
	texts    []string
}

func (f *stubSourceRepo) Create(_ context.Context, _ *gorm.DB, s *domain.Source) (*domain.Source, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	f.src = s
	return s, nil
}

func (f *stubSourceRepo) GetByIDs(_ context.Context, _ *gorm.DB, ids []uuid.UUID) ([]*domain.Source, error) {
	if f.src == nil {
		return nil, nil
	}
	for _, id := range ids {
		if id == f.src.ID {
			return []*domain.Source{f.src}, nil
		}
	}
	return nil, nil
}

func (f *stubSourceRepo) ListByUserID(context.Context, *gorm.DB, uuid.UUID) ([]*domain.Source, error) {
	if f.src == nil {
		return nil, nil
	}
	return []*domain.Source{f.src}, nil
}

func (f *stubSourceRepo) UpdateStatus(_ context.Context, _ *gorm.DB, _ uuid.UUID, status string) error {
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *stubSourceRepo) UpdateText(_ context.Context, _ *gorm.DB, _ uuid.UUID, text string) error {
	f.texts = append(f.texts, text)
	return nil
}

func (f *stubSourceRepo) SoftDeleteByIDs(context.Context, *gorm.DB, []uuid.UUID) error { return nil }

type stubChunkRepo struct {
	stored  []*domain.SourceChunk
	embeds  int
	deletes int
}

func (f *stubChunkRepo) CreateBatch(_ context.Context, _ *gorm.DB, chunks []*domain.SourceChunk) ([]*domain.SourceChunk, error) {
	for _, c := range chunks {
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
	}
	f.stored = append(f.stored, chunks...)
	return chunks, nil
}

func (f *stubChunkRepo) GetBySourceIDs(context.Context, *gorm.DB, []uuid.UUID) ([]*domain.SourceChunk, error) {
	return f.stored, nil
}

func (f *stubChunkRepo) SetEmbedding(context.Context, *gorm.DB, uuid.UUID, []float32) error {
	f.embeds++
	return nil
}

func (f *stubChunkRepo) DeleteBySourceIDs(context.Context, *gorm.DB, []uuid.UUID) error {
	f.deletes++
	f.stored = nil
	return nil
}

func (f *stubChunkRepo) SearchVector(context.Context, *gorm.DB, []float32, []uuid.UUID, int) ([]repos.ChunkHit, error) {
	return nil, repos.ErrVectorUnavailable
}

func (f *stubChunkRepo) SearchLexical(context.Context, *gorm.DB, string, []uuid.UUID, int) ([]repos.ChunkHit, error) {
	return nil, repos.ErrVectorUnavailable
}

type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (stubEmbedder) GenerateJSON(context.Context, string, string, string, map[string]any) (map[string]any, error) {
	return nil, errors.New("not implemented")
}

func (stubEmbedder) GenerateText(context.Context, string, string) (string, error) {
	return "", errors.New("not implemented")
}

func (stubEmbedder) StreamText(context.Context, string, string, func(string)) (string, error) {
	return "", errors.New("not implemented")
}

func testSourceService(t *testing.T, sources *stubSourceRepo, chunks *stubChunkRepo) SourceService {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return NewSourceService(log, sources, chunks, stubEmbedder{}, nil)
}

func TestUpdateTextReindexesFromScratch(t *testing.T) {
	userID := uuid.New()
	sources := &stubSourceRepo{}
	chunks := &stubChunkRepo{}
	svc := testSourceService(t, sources, chunks)

	src, err := svc.Upload(context.Background(), userID, "notes.txt", "txt", "old material about osmosis")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	staleCount := len(chunks.stored)
	if staleCount == 0 {
		t.Fatal("upload stored no chunks")
	}

	updated, err := svc.UpdateText(context.Background(), userID, src.ID, "fresh material about enzymes")
	if err != nil {
		t.Fatalf("update text: %v", err)
	}
	if chunks.deletes != 1 {
		t.Fatalf("stale chunk deletes = %d, want 1", chunks.deletes)
	}
	if len(sources.texts) != 1 || sources.texts[0] != "fresh material about enzymes" {
		t.Fatalf("persisted texts = %v, want the replacement text", sources.texts)
	}
	if len(chunks.stored) == 0 {
		t.Fatal("reindex stored no chunks")
	}
	for _, c := range chunks.stored {
		if strings.Contains(c.Text, "osmosis") {
			t.Fatalf("stale chunk survived reindex: %q", c.Text)
		}
	}
	if chunks.embeds != staleCount+len(chunks.stored) {
		t.Fatalf("embeddings set = %d, want one per stored chunk across both passes", chunks.embeds)
	}
	if updated.Status != domain.SourceStatusReady {
		t.Fatalf("status = %q, want ready", updated.Status)
	}
}

func TestUpdateTextRejectsOtherUsers(t *testing.T) {
	owner := uuid.New()
	sources := &stubSourceRepo{}
	chunks := &stubChunkRepo{}
	svc := testSourceService(t, sources, chunks)

	src, err := svc.Upload(context.Background(), owner, "notes.txt", "txt", "some material")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	if _, err := svc.UpdateText(context.Background(), uuid.New(), src.ID, "hijacked"); !errors.Is(err, pkgerrors.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if chunks.deletes != 0 {
		t.Fatal("foreign update must not touch chunks")
	}
}

func TestChunkTextSplitsOnParagraphs(t *testing.T) {
	var paragraphs []string
	for i := 0; i < 10; i++ {
		paragraphs = append(paragraphs, strings.Repeat("word ", 100))
	}
	text := strings.Join(paragraphs, "\n\n")

	chunks := chunkText(text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if strings.TrimSpace(c) == "" {
			t.Fatalf("chunk %d is empty", i)
		}
		// Target size plus overlap headroom.
		if n := len([]rune(c)); n > chunkTargetChars+chunkOverlapChars+2 {
			t.Fatalf("chunk %d has %d chars, exceeds budget", i, n)
		}
	}
}

func TestChunkTextOversizedParagraph(t *testing.T) {
	text := strings.Repeat("alpha ", 1000)

	chunks := chunkText(text)
	if len(chunks) < 2 {
		t.Fatalf("oversized paragraph should split, got %d chunks", len(chunks))
	}
	var rebuilt strings.Builder
	for _, c := range chunks {
		rebuilt.WriteString(c)
		rebuilt.WriteString(" ")
	}
	if !strings.Contains(rebuilt.String(), "alpha") {
		t.Fatal("chunk content lost")
	}
}

func TestChunkTextCarriesOverlap(t *testing.T) {
	first := strings.Repeat("one ", 300)
	second := strings.Repeat("two ", 300)
	chunks := chunkText(first + "\n\n" + second)
	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(chunks))
	}
	// The second chunk opens with the tail of the first.
	if !strings.Contains(chunks[1], "one") {
		t.Fatalf("second chunk missing overlap from first: %q", chunks[1][:50])
	}
}

func TestChunkTextEmpty(t *testing.T) {
	if got := chunkText("   \n\n  "); len(got) != 0 {
		t.Fatalf("blank text should produce no chunks, got %d", len(got))
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := estimateTokens(""); got != 1 {
		t.Fatalf("empty string estimate = %d, want 1", got)
	}
	if got := estimateTokens(strings.Repeat("a", 400)); got != 100 {
		t.Fatalf("400-char estimate = %d, want 100", got)
	}
}
