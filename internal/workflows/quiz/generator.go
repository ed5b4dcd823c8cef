package quiz

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"github.com/sourcequill/backend/internal/platform/logger"
	"github.com/sourcequill/backend/internal/platform/openai"
)

type Deps struct {
	AI  openai.Client
	Log *logger.Logger
}

const generatorSystemPrompt = `You write study quiz questions grounded strictly in the provided source material.
Every question must be answerable from the text alone. Prefer multiple_choice with
exactly 4 options; use true_false only when the material suits it. Each question
names the single concept it tests and carries a short explanation of the correct answer.`

// GenerateStep produces the current batch. On the first pass it extracts
// concepts and over-generates against the full target; on retries it only
// replaces the deficit, steering toward concepts not yet covered.
func GenerateStep(deps Deps) func(ctx context.Context, s State) (Patch, error) {
	return func(ctx context.Context, s State) (Patch, error) {
		firstPass := len(s.Concepts) == 0 && s.RetryCount == 0

		var concepts []string
		if firstPass {
			var err error
			concepts, err = extractConcepts(ctx, deps, s)
			if err != nil {
				deps.Log.Warn("quiz concept extraction failed, generating without concept plan", "error", err)
			}
		}

		count := s.Deficit + OverGenBuffer
		if firstPass {
			count = s.Target()
		}

		questions, err := generateQuestions(ctx, deps, s, concepts, count)
		if err != nil {
			deps.Log.Error("quiz question generation failed", "error", err, "retry_count", s.RetryCount)
			return generatePatch{concepts: concepts}, nil
		}
		return generatePatch{concepts: concepts, questions: questions}, nil
	}
}

func extractConcepts(ctx context.Context, deps Deps, s State) ([]string, error) {
	limit := 2 * s.NumQuestions
	if limit > MaxConcepts {
		limit = MaxConcepts
	}
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"concepts": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
		"required":             []string{"concepts"},
		"additionalProperties": false,
	}
	user := fmt.Sprintf("List at most %d distinct concepts a quiz on this material should cover, most important first.\n\nMATERIAL:\n%s", limit, trimSource(s.SourceText))
	out, err := deps.AI.GenerateJSON(ctx, "You identify the key testable concepts in study material.", user, "quiz_concepts_v1", schema)
	if err != nil {
		return nil, err
	}
	raw, _ := out["concepts"].([]any)
	var concepts []string
	for _, v := range raw {
		c, _ := v.(string)
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		concepts = append(concepts, c)
		if len(concepts) >= limit {
			break
		}
	}
	return concepts, nil
}

func generateQuestions(ctx context.Context, deps Deps, s State, concepts []string, count int) ([]Question, error) {
	if count <= 0 {
		return nil, nil
	}
	if len(concepts) == 0 {
		concepts = s.Concepts
	}

	var focus string
	if uncovered := s.UncoveredConcepts(); s.RetryCount > 0 && len(uncovered) > 0 {
		focus = "Prioritize these concepts, which have no accepted question yet: " + strings.Join(uncovered, "; ") + "\n"
	} else if len(concepts) > 0 {
		focus = "Cover these concepts: " + strings.Join(concepts, "; ") + "\n"
	}

	user := fmt.Sprintf("Write exactly %d quiz questions.\n%s\nMATERIAL:\n%s", count, focus, trimSource(s.SourceText))
	out, err := deps.AI.GenerateJSON(ctx, generatorSystemPrompt, user, "quiz_questions_v1", questionBatchSchema())
	if err != nil {
		return nil, err
	}

	raw, _ := out["questions"].([]any)
	var questions []Question
	for _, v := range raw {
		obj, ok := v.(map[string]any)
		if !ok {
			continue
		}
		q := parseQuestion(obj)
		if q.Question == "" {
			continue
		}
		shuffleCorrect(&q)
		questions = append(questions, q)
	}
	return questions, nil
}

func questionBatchSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"questions": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"type":        map[string]any{"type": "string", "enum": []string{"multiple_choice", "true_false"}},
						"question":    map[string]any{"type": "string"},
						"options":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
						"correct_idx": map[string]any{"type": "integer"},
						"explanation": map[string]any{"type": "string"},
						"concept":     map[string]any{"type": "string"},
						"difficulty":  map[string]any{"type": "string", "enum": []string{"easy", "medium", "hard"}},
					},
					"required":             []string{"type", "question", "options", "correct_idx", "explanation", "concept", "difficulty"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"questions"},
		"additionalProperties": false,
	}
}

func parseQuestion(obj map[string]any) Question {
	q := Question{
		Type:        str(obj["type"]),
		Question:    strings.TrimSpace(str(obj["question"])),
		Explanation: str(obj["explanation"]),
		Concept:     strings.TrimSpace(str(obj["concept"])),
		Difficulty:  str(obj["difficulty"]),
	}
	if raw, ok := obj["options"].([]any); ok {
		for _, o := range raw {
			q.Options = append(q.Options, str(o))
		}
	}
	if idx, ok := obj["correct_idx"].(float64); ok {
		q.CorrectIdx = int(idx)
	}
	if q.Type == "true_false" && len(q.Options) == 0 {
		q.Options = []string{"True", "False"}
	}
	if q.Difficulty == "" {
		q.Difficulty = "medium"
	}
	if q.CorrectIdx < 0 || q.CorrectIdx >= len(q.Options) {
		q.CorrectIdx = 0
	}
	return q
}

// shuffleCorrect moves the correct option to a random slot so the answer
// position carries no signal.
func shuffleCorrect(q *Question) {
	if q.Type != "multiple_choice" || len(q.Options) < 2 {
		return
	}
	j := rand.Intn(len(q.Options))
	q.Options[q.CorrectIdx], q.Options[j] = q.Options[j], q.Options[q.CorrectIdx]
	q.CorrectIdx = j
}

const maxSourceChars = 24000

func trimSource(text string) string {
	r := []rune(text)
	if len(r) <= maxSourceChars {
		return text
	}
	return string(r[:maxSourceChars])
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
