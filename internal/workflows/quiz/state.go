// Package quiz implements the quiz generation workflow: extract concepts and
// over-generate questions from source text, validate them, and regenerate
// only the shortfall across a bounded number of retries.
package quiz

import (
	"github.com/google/uuid"

	"github.com/sourcequill/backend/internal/engine"
)

// OverGenBuffer is how many extra questions each pass requests to absorb
// expected validation losses.
const OverGenBuffer = 3

// MaxRetries bounds the regeneration loop.
const MaxRetries = 2

// MaxConcepts caps concept extraction regardless of question count.
const MaxConcepts = 30

type Question struct {
	Type        string   `json:"type"`
	Question    string   `json:"question"`
	Options     []string `json:"options,omitempty"`
	CorrectIdx  int      `json:"correct_idx"`
	Explanation string   `json:"explanation"`
	Concept     string   `json:"concept"`
	Difficulty  string   `json:"difficulty"`
}

// State is the record threaded through one quiz build.
type State struct {
	SourceIDs    []uuid.UUID
	SourceText   string
	NumQuestions int

	// Concepts are extracted on the first pass and never regenerated.
	Concepts []string

	// Questions is the current batch from the latest generation pass; the
	// validator folds its valid subset into AccumulatedValid and clears it.
	Questions []Question

	// AccumulatedValid only grows: a validated question is never re-judged
	// or discarded by a later retry.
	AccumulatedValid []Question

	Deficit           int
	NeedsRegeneration bool
	RetryCount        int
}

// Target is the accumulation goal: the requested count plus the buffer.
func (s State) Target() int {
	return s.NumQuestions + OverGenBuffer
}

// UncoveredConcepts returns concepts with no accumulated valid question yet,
// preserving extraction order.
func (s State) UncoveredConcepts() []string {
	covered := map[string]bool{}
	for _, q := range s.AccumulatedValid {
		covered[q.Concept] = true
	}
	var out []string
	for _, c := range s.Concepts {
		if !covered[c] {
			out = append(out, c)
		}
	}
	return out
}

type Patch = engine.Patch[State]

type generatePatch struct {
	concepts  []string // first pass only
	questions []Question
}

func (p generatePatch) Apply(s State) State {
	if len(p.concepts) > 0 && len(s.Concepts) == 0 {
		s.Concepts = append([]string{}, p.concepts...)
	}
	s.Questions = append([]Question{}, p.questions...)
	return s
}

type validatePatch struct {
	valid []Question
}

func (p validatePatch) Apply(s State) State {
	s.AccumulatedValid = append(append([]Question{}, s.AccumulatedValid...), p.valid...)
	s.Questions = nil

	deficit := s.Target() - len(s.AccumulatedValid)
	if deficit < 0 {
		deficit = 0
	}
	s.Deficit = deficit
	s.NeedsRegeneration = deficit > 0 && s.RetryCount < MaxRetries
	if s.NeedsRegeneration {
		s.RetryCount++
	}
	return s
}
