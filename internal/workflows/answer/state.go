// Package answer implements the conversational answer workflow: route the
// user's query, optionally retrieve source chunks, generate a grounded
// answer, and quality-check it with a bounded retry loop back to generation.
package answer

import (
	"time"

	"github.com/google/uuid"

	"github.com/sourcequill/backend/internal/engine"
	"github.com/sourcequill/backend/internal/retrieval"
)

// Route decisions written by the router node.
const (
	RouteRetrieve      = "retrieve"
	RouteDirectAnswer  = "direct_answer"
	RouteClarify       = "clarify"
	RouteIdentityBlock = "identity_block"
)

// Response quality verdicts.
const (
	QualityPending = "pending"
	QualityGood    = "good"
	QualityPoor    = "poor"
)

// MaxRetries bounds the poor-quality regeneration loop. With one initial
// pass this caps generator invocations at three.
const MaxRetries = 2

// TopKChunks is how many chunks the retrieval node asks for.
const TopKChunks = 5

type Citation struct {
	Index      int       `json:"index"`
	ChunkID    uuid.UUID `json:"chunk_id"`
	SourceID   uuid.UUID `json:"source_id"`
	SourceName string    `json:"source_name"`
}

type Message struct {
	ID        uuid.UUID  `json:"id"`
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Citations []Citation `json:"citations,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// RunMeta carries the cross-cutting knobs for one run. Fields are set once
// by the caller and read by steps; steps never write here.
type RunMeta struct {
	// FirstMessage skips the quality check to keep first-reply latency low.
	FirstMessage bool

	// OnToken, when set, receives every incremental unit of generated text
	// in generation order while the generator node runs.
	OnToken func(token string)

	// Model overrides the default generation model for this run.
	Model string
}

// State is the record threaded through one answer run. It is treated as an
// immutable value: steps return patches and the executor merges them into a
// fresh copy.
type State struct {
	ConversationID uuid.UUID
	SourceIDs      []uuid.UUID
	History        []Message
	CurrentQuery   string

	RetrievedChunks []retrieval.Chunk
	RouteDecision   string
	ResponseQuality string
	RetryCount      int

	GeneratorCalls int

	Meta RunMeta
}

// LastAssistant returns the most recent assistant message, or nil.
func (s State) LastAssistant() *Message {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Role == "assistant" {
			m := s.History[i]
			return &m
		}
	}
	return nil
}

// Patch is the workflow's concrete patch type.
type Patch = engine.Patch[State]

type routePatch struct {
	decision string
}

func (p routePatch) Apply(s State) State {
	s.RouteDecision = p.decision
	return s
}

type chunksPatch struct {
	chunks []retrieval.Chunk
}

// Apply replaces retrieved chunks wholesale.
func (p chunksPatch) Apply(s State) State {
	s.RetrievedChunks = append([]retrieval.Chunk{}, p.chunks...)
	return s
}

type generatePatch struct {
	message Message

	// forceQuality is set on generation failure so the quality node treats
	// the canned apology as already-evaluated poor.
	forceQuality string
}

func (p generatePatch) Apply(s State) State {
	s.History = append(append([]Message{}, s.History...), p.message)
	s.GeneratorCalls++
	if p.forceQuality != "" {
		s.ResponseQuality = p.forceQuality
	} else {
		// A fresh message awaits a fresh verdict.
		s.ResponseQuality = QualityPending
	}
	return s
}

type qualityPatch struct {
	quality string

	// retry drops the just-generated assistant message and burns one retry
	// so the next generator pass replaces it instead of duplicating it.
	retry bool
}

func (p qualityPatch) Apply(s State) State {
	s.ResponseQuality = p.quality
	if !p.retry {
		return s
	}
	s.RetryCount++
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Role == "assistant" {
			s.History = append(append([]Message{}, s.History[:i]...), s.History[i+1:]...)
			break
		}
	}
	return s
}
