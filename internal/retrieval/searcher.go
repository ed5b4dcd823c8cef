// Package retrieval ranks source chunks against a query. Three tiers run in
// order until one yields candidates: pgvector ANN, a Go-side cosine pass over
// the stored jsonb embeddings, and Postgres full-text search for queries that
// could not be embedded at all.
package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sourcequill/backend/internal/domain"
	"github.com/sourcequill/backend/internal/observability"
	"github.com/sourcequill/backend/internal/platform/logger"
	"github.com/sourcequill/backend/internal/platform/openai"
	"github.com/sourcequill/backend/internal/repos"
)

// Chunk is one retrieved result, tagged with its source's display fields so
// answer generation can cite it by position.
type Chunk struct {
	ID         uuid.UUID `json:"id"`
	SourceID   uuid.UUID `json:"source_id"`
	SourceName string    `json:"source_name"`
	FileType   string    `json:"file_type"`
	Index      int       `json:"index"`
	Text       string    `json:"text"`
	Similarity float64   `json:"similarity"`
}

type Searcher interface {
	Search(ctx context.Context, query string, sourceIDs []uuid.UUID, topK int) ([]Chunk, error)
}

type searcher struct {
	chunks  repos.SourceChunkRepo
	sources repos.SourceRepo
	ai      openai.Client
	log     *logger.Logger
}

func NewSearcher(chunks repos.SourceChunkRepo, sources repos.SourceRepo, ai openai.Client, baseLog *logger.Logger) Searcher {
	return &searcher{
		chunks:  chunks,
		sources: sources,
		ai:      ai,
		log:     baseLog.With("service", "Searcher"),
	}
}

func (s *searcher) Search(ctx context.Context, query string, sourceIDs []uuid.UUID, topK int) ([]Chunk, error) {
	query = strings.TrimSpace(query)
	if query == "" || len(sourceIDs) == 0 || topK <= 0 {
		return []Chunk{}, nil
	}

	qEmb := s.embedQuery(ctx, query)

	if len(qEmb) > 0 {
		if hits := s.vectorTier(ctx, qEmb, sourceIDs, topK); len(hits) > 0 {
			return hits, nil
		}
		if hits := s.cosineTier(ctx, qEmb, sourceIDs, topK); len(hits) > 0 {
			return hits, nil
		}
	}

	return s.lexicalTier(ctx, query, sourceIDs, topK), nil
}

func (s *searcher) embedQuery(ctx context.Context, query string) []float32 {
	if s.ai == nil {
		return nil
	}
	ectx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	vecs, err := s.ai.Embed(ectx, []string{query})
	if err != nil || len(vecs) == 0 {
		s.log.Warn("query embedding failed; dense tiers skipped", "error", err)
		return nil
	}
	return vecs[0]
}

func (s *searcher) vectorTier(ctx context.Context, qEmb []float32, sourceIDs []uuid.UUID, topK int) []Chunk {
	start := time.Now()
	hits, err := s.chunks.SearchVector(ctx, nil, qEmb, sourceIDs, topK)
	if err != nil {
		if !errors.Is(err, repos.ErrVectorUnavailable) {
			s.log.Warn("vector tier failed", "error", err, "ms", time.Since(start).Milliseconds())
		}
		observability.Current().IncRetrievalTier("vector", "error")
		return nil
	}
	if len(hits) == 0 {
		observability.Current().IncRetrievalTier("vector", "empty")
		return nil
	}
	observability.Current().IncRetrievalTier("vector", "hit")
	return fromRepoHits(hits)
}

// cosineTier loads candidate chunks and scores them in Go. Works on every
// driver since it only needs the jsonb embedding copy.
func (s *searcher) cosineTier(ctx context.Context, qEmb []float32, sourceIDs []uuid.UUID, topK int) []Chunk {
	rows, err := s.chunks.GetBySourceIDs(ctx, nil, sourceIDs)
	if err != nil {
		s.log.Warn("cosine tier load failed", "error", err)
		observability.Current().IncRetrievalTier("cosine", "error")
		return nil
	}

	names, types := s.sourceLabels(ctx, sourceIDs)

	type scored struct {
		chunk *domain.SourceChunk
		score float64
	}
	candidates := make([]scored, 0, len(rows))
	for _, ch := range rows {
		emb := parseEmbeddingJSON(ch.Embedding)
		if len(emb) == 0 || len(emb) != len(qEmb) {
			continue
		}
		candidates = append(candidates, scored{chunk: ch, score: cosine(qEmb, emb)})
	}
	if len(candidates) == 0 {
		observability.Current().IncRetrievalTier("cosine", "empty")
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	out := make([]Chunk, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, Chunk{
			ID:         c.chunk.ID,
			SourceID:   c.chunk.SourceID,
			SourceName: names[c.chunk.SourceID],
			FileType:   types[c.chunk.SourceID],
			Index:      c.chunk.Index,
			Text:       c.chunk.Text,
			Similarity: c.score,
		})
	}
	observability.Current().IncRetrievalTier("cosine", "hit")
	return out
}

func (s *searcher) lexicalTier(ctx context.Context, query string, sourceIDs []uuid.UUID, topK int) []Chunk {
	hits, err := s.chunks.SearchLexical(ctx, nil, query, sourceIDs, topK)
	if err != nil {
		if !errors.Is(err, repos.ErrVectorUnavailable) {
			s.log.Warn("lexical tier failed", "error", err)
		}
		observability.Current().IncRetrievalTier("lexical", "error")
		return []Chunk{}
	}
	if len(hits) == 0 {
		observability.Current().IncRetrievalTier("lexical", "empty")
		return []Chunk{}
	}
	observability.Current().IncRetrievalTier("lexical", "hit")
	return fromRepoHits(hits)
}

func (s *searcher) sourceLabels(ctx context.Context, sourceIDs []uuid.UUID) (map[uuid.UUID]string, map[uuid.UUID]string) {
	names := map[uuid.UUID]string{}
	types := map[uuid.UUID]string{}
	srcs, err := s.sources.GetByIDs(ctx, nil, sourceIDs)
	if err != nil {
		s.log.Warn("source label lookup failed", "error", err)
		return names, types
	}
	for _, src := range srcs {
		names[src.ID] = src.Name
		types[src.ID] = src.FileType
	}
	return names, types
}

func fromRepoHits(hits []repos.ChunkHit) []Chunk {
	out := make([]Chunk, 0, len(hits))
	for _, h := range hits {
		out = append(out, Chunk{
			ID:         h.ID,
			SourceID:   h.SourceID,
			SourceName: h.SourceName,
			FileType:   h.FileType,
			Index:      h.Index,
			Text:       h.Text,
			Similarity: h.Similarity,
		})
	}
	return out
}

func parseEmbeddingJSON(raw []byte) []float32 {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var vals []float32
	if err := json.Unmarshal(raw, &vals); err != nil {
		return nil
	}
	return vals
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
