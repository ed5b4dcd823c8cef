package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sourcequill/backend/internal/domain"
	pkgerrors "github.com/sourcequill/backend/internal/pkg/errors"
	"github.com/sourcequill/backend/internal/platform/logger"
	"github.com/sourcequill/backend/internal/platform/openai"
	"github.com/sourcequill/backend/internal/realtime"
	"github.com/sourcequill/backend/internal/realtime/bus"
	"github.com/sourcequill/backend/internal/repos"
)

const (
	chunkTargetChars  = 1400
	chunkOverlapChars = 200
	embedBatchSize    = 32
	embedConcurrency  = 4
)

type SourceService interface {
	Upload(ctx context.Context, userID uuid.UUID, name, fileType, text string) (*domain.Source, error)
	UpdateText(ctx context.Context, userID, sourceID uuid.UUID, text string) (*domain.Source, error)
	Get(ctx context.Context, userID, sourceID uuid.UUID) (*domain.Source, error)
	List(ctx context.Context, userID uuid.UUID) ([]*domain.Source, error)
	Delete(ctx context.Context, userID, sourceID uuid.UUID) error
}

type sourceService struct {
	log      *logger.Logger
	sources  repos.SourceRepo
	chunks   repos.SourceChunkRepo
	ai       openai.Client
	eventBus bus.Bus
}

func NewSourceService(
	log *logger.Logger,
	sources repos.SourceRepo,
	chunks repos.SourceChunkRepo,
	ai openai.Client,
	eventBus bus.Bus,
) SourceService {
	return &sourceService{
		log:      log.With("service", "SourceService"),
		sources:  sources,
		chunks:   chunks,
		ai:       ai,
		eventBus: eventBus,
	}
}

// Upload stores the extracted text and indexes it synchronously: chunk,
// embed, persist. The source moves pending -> indexing -> ready, or failed
// when embedding cannot complete.
func (ss *sourceService) Upload(ctx context.Context, userID uuid.UUID, name, fileType, text string) (*domain.Source, error) {
	name = strings.TrimSpace(name)
	text = strings.TrimSpace(text)
	if name == "" {
		return nil, fmt.Errorf("%w: source name required", pkgerrors.ErrInvalidArgument)
	}
	if text == "" {
		return nil, fmt.Errorf("%w: source has no extractable text", pkgerrors.ErrInvalidArgument)
	}

	src, err := ss.sources.Create(ctx, nil, &domain.Source{
		UserID:   userID,
		Name:     name,
		FileType: strings.ToLower(strings.TrimSpace(fileType)),
		Status:   domain.SourceStatusPending,
		Text:     text,
	})
	if err != nil {
		return nil, fmt.Errorf("create source: %w", err)
	}

	if err := ss.index(ctx, src); err != nil {
		ss.setStatus(ctx, src, domain.SourceStatusFailed)
		return nil, fmt.Errorf("index source: %w", err)
	}
	ss.setStatus(ctx, src, domain.SourceStatusReady)
	return src, nil
}

// UpdateText replaces the extracted text and re-indexes from scratch: old
// chunks are dropped so retrieval never mixes stale and fresh pieces.
func (ss *sourceService) UpdateText(ctx context.Context, userID, sourceID uuid.UUID, text string) (*domain.Source, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: source has no extractable text", pkgerrors.ErrInvalidArgument)
	}

	src, err := ss.owned(ctx, userID, sourceID)
	if err != nil {
		return nil, err
	}
	if err := ss.sources.UpdateText(ctx, nil, src.ID, text); err != nil {
		return nil, fmt.Errorf("update source text: %w", err)
	}
	src.Text = text

	if err := ss.chunks.DeleteBySourceIDs(ctx, nil, []uuid.UUID{src.ID}); err != nil {
		ss.setStatus(ctx, src, domain.SourceStatusFailed)
		return nil, fmt.Errorf("drop stale chunks: %w", err)
	}
	if err := ss.index(ctx, src); err != nil {
		ss.setStatus(ctx, src, domain.SourceStatusFailed)
		return nil, fmt.Errorf("reindex source: %w", err)
	}
	ss.setStatus(ctx, src, domain.SourceStatusReady)
	return src, nil
}

func (ss *sourceService) Get(ctx context.Context, userID, sourceID uuid.UUID) (*domain.Source, error) {
	return ss.owned(ctx, userID, sourceID)
}

func (ss *sourceService) List(ctx context.Context, userID uuid.UUID) ([]*domain.Source, error) {
	return ss.sources.ListByUserID(ctx, nil, userID)
}

func (ss *sourceService) Delete(ctx context.Context, userID, sourceID uuid.UUID) error {
	if _, err := ss.owned(ctx, userID, sourceID); err != nil {
		return err
	}
	return ss.sources.SoftDeleteByIDs(ctx, nil, []uuid.UUID{sourceID})
}

func (ss *sourceService) owned(ctx context.Context, userID, sourceID uuid.UUID) (*domain.Source, error) {
	srcs, err := ss.sources.GetByIDs(ctx, nil, []uuid.UUID{sourceID})
	if err != nil {
		return nil, err
	}
	if len(srcs) == 0 {
		return nil, fmt.Errorf("%w: source", pkgerrors.ErrNotFound)
	}
	if srcs[0].UserID != userID {
		return nil, pkgerrors.ErrUnauthorized
	}
	return srcs[0], nil
}

func (ss *sourceService) index(ctx context.Context, src *domain.Source) error {
	ss.setStatus(ctx, src, domain.SourceStatusIndexing)

	pieces := chunkText(src.Text)
	if len(pieces) == 0 {
		return fmt.Errorf("no chunks produced from source text")
	}

	rows := make([]*domain.SourceChunk, 0, len(pieces))
	for i, piece := range pieces {
		rows = append(rows, &domain.SourceChunk{
			SourceID:   src.ID,
			Index:      i,
			Text:       piece,
			TokenCount: estimateTokens(piece),
		})
	}
	created, err := ss.chunks.CreateBatch(ctx, nil, rows)
	if err != nil {
		return fmt.Errorf("store chunks: %w", err)
	}

	// Embed in parallel batches; a single failed batch fails the source.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)
	for start := 0; start < len(created); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(created) {
			end = len(created)
		}
		batch := created[start:end]
		g.Go(func() error {
			texts := make([]string, 0, len(batch))
			for _, c := range batch {
				texts = append(texts, c.Text)
			}
			embeddings, err := ss.ai.Embed(gctx, texts)
			if err != nil {
				return fmt.Errorf("embed batch: %w", err)
			}
			if len(embeddings) != len(batch) {
				return fmt.Errorf("embed batch: got %d embeddings for %d chunks", len(embeddings), len(batch))
			}
			for i, c := range batch {
				if err := ss.chunks.SetEmbedding(gctx, nil, c.ID, embeddings[i]); err != nil {
					return fmt.Errorf("store embedding: %w", err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	ss.log.Info("source indexed", "sourceID", src.ID, "chunks", len(created))
	return nil
}

func (ss *sourceService) setStatus(ctx context.Context, src *domain.Source, status string) {
	if err := ss.sources.UpdateStatus(ctx, nil, src.ID, status); err != nil {
		ss.log.Warn("failed to update source status", "sourceID", src.ID, "status", status, "error", err)
		return
	}
	src.Status = status
	if ss.eventBus != nil {
		_ = ss.eventBus.Publish(ctx, realtime.SSEMessage{
			Channel: realtime.UserChannel(src.UserID),
			Event:   realtime.SSEEventSourceStatusChanged,
			Data:    map[string]any{"source_id": src.ID, "status": status},
		})
	}
}

// chunkText splits on paragraph boundaries into pieces around
// chunkTargetChars, carrying a tail overlap so retrieval does not lose
// context at cut points.
func chunkText(text string) []string {
	paragraphs := strings.Split(text, "\n\n")

	var chunks []string
	var current strings.Builder
	flush := func() {
		piece := strings.TrimSpace(current.String())
		if piece != "" {
			chunks = append(chunks, piece)
		}
		current.Reset()
	}

	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		// Oversized paragraphs are split on their own.
		for len([]rune(p)) > chunkTargetChars {
			r := []rune(p)
			cut := chunkTargetChars
			if idx := strings.LastIndex(string(r[:cut]), " "); idx > chunkTargetChars/2 {
				cut = idx
			}
			if current.Len() > 0 {
				flush()
			}
			chunks = append(chunks, strings.TrimSpace(string(r[:cut])))
			p = strings.TrimSpace(string(r[cut:]))
		}
		if current.Len() > 0 && current.Len()+len(p) > chunkTargetChars {
			tail := overlapTail(current.String())
			flush()
			if tail != "" {
				current.WriteString(tail)
				current.WriteString("\n\n")
			}
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
	}
	flush()
	return chunks
}

func overlapTail(s string) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= chunkOverlapChars {
		return string(r)
	}
	tail := string(r[len(r)-chunkOverlapChars:])
	if idx := strings.Index(tail, " "); idx > 0 {
		tail = tail[idx+1:]
	}
	return tail
}

// estimateTokens is the usual rough 4-chars-per-token heuristic.
func estimateTokens(s string) int {
	n := len(s) / 4
	if n == 0 {
		n = 1
	}
	return n
}
