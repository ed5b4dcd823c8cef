package quiz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/sourcequill/backend/internal/engine"
	"github.com/sourcequill/backend/internal/platform/logger"
)

type fakeAI struct {
	concepts []string

	// batches is popped once per question-generation call.
	batches [][]map[string]any
	genErrs []error

	// invalidScripts is popped once per verdict call; each entry lists the
	// batch indexes to reject.
	invalidScripts [][]int
	verdictErr     error

	conceptCalls int
	genCalls     int
	verdictCalls int
	genPrompts   []string
}

func (f *fakeAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("not used")
}

func (f *fakeAI) GenerateText(ctx context.Context, system, user string) (string, error) {
	return "", errors.New("not used")
}

func (f *fakeAI) StreamText(ctx context.Context, system, user string, onDelta func(string)) (string, error) {
	return "", errors.New("not used")
}

func (f *fakeAI) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	switch schemaName {
	case "quiz_concepts_v1":
		f.conceptCalls++
		out := make([]any, 0, len(f.concepts))
		for _, c := range f.concepts {
			out = append(out, c)
		}
		return map[string]any{"concepts": out}, nil
	case "quiz_questions_v1":
		call := f.genCalls
		f.genCalls++
		f.genPrompts = append(f.genPrompts, user)
		if call < len(f.genErrs) && f.genErrs[call] != nil {
			return nil, f.genErrs[call]
		}
		if call >= len(f.batches) {
			return map[string]any{"questions": []any{}}, nil
		}
		out := make([]any, 0, len(f.batches[call]))
		for _, q := range f.batches[call] {
			out = append(out, q)
		}
		return map[string]any{"questions": out}, nil
	case "quiz_verdicts_v1":
		call := f.verdictCalls
		f.verdictCalls++
		if f.verdictErr != nil {
			return nil, f.verdictErr
		}
		var invalid []int
		if call < len(f.invalidScripts) {
			invalid = f.invalidScripts[call]
		}
		var verdicts []any
		for _, idx := range invalid {
			verdicts = append(verdicts, map[string]any{
				"index": float64(idx), "valid": false, "reason": "not grounded",
			})
		}
		return map[string]any{"verdicts": verdicts}, nil
	}
	return nil, fmt.Errorf("unexpected schema %q", schemaName)
}

func mcQuestion(concept string, n int) map[string]any {
	return map[string]any{
		"type":        "multiple_choice",
		"question":    fmt.Sprintf("%s question %d?", concept, n),
		"options":     []any{"a", "b", "c", "d"},
		"correct_idx": float64(0),
		"explanation": "because",
		"concept":     concept,
		"difficulty":  "medium",
	}
}

func batchOf(n int, concepts []string) []map[string]any {
	out := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, mcQuestion(concepts[i%len(concepts)], i))
	}
	return out
}

func testDeps(t *testing.T, ai *fakeAI) Deps {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return Deps{AI: ai, Log: log}
}

func runQuiz(t *testing.T, ai *fakeAI, numQuestions int) (State, []engine.Transition[State]) {
	t.Helper()
	g, err := BuildGraph(testDeps(t, ai))
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}
	initial := State{SourceText: "The mitochondria is the powerhouse of the cell.", NumQuestions: numQuestions}
	var seen []engine.Transition[State]
	final, err := g.RunObserved(context.Background(), initial, func(tr engine.Transition[State]) {
		seen = append(seen, tr)
	})
	if err != nil {
		t.Fatalf("RunObserved: %v", err)
	}
	return final, seen
}

func TestDeficitDrivesOneRetry(t *testing.T) {
	concepts := []string{"respiration", "osmosis", "mitosis", "enzymes"}
	ai := &fakeAI{
		concepts: concepts,
		batches: [][]map[string]any{
			batchOf(13, []string{"respiration", "osmosis", "mitosis"}),
			batchOf(7, []string{"enzymes"}),
		},
		invalidScripts: [][]int{{0, 1, 2, 3}, {}},
	}

	final, seen := runQuiz(t, ai, 10)

	// After the first validator pass: 13 generated, 4 rejected.
	var afterFirstValidate *State
	for i := range seen {
		if seen[i].Node == NodeValidator {
			s := seen[i].State
			afterFirstValidate = &s
			break
		}
	}
	if afterFirstValidate == nil {
		t.Fatal("validator never ran")
	}
	if got := len(afterFirstValidate.AccumulatedValid); got != 9 {
		t.Fatalf("accumulated after first pass = %d, want 9", got)
	}
	if afterFirstValidate.Deficit != 4 {
		t.Fatalf("deficit = %d, want 4", afterFirstValidate.Deficit)
	}
	if !afterFirstValidate.NeedsRegeneration {
		t.Fatal("expected regeneration after shortfall")
	}
	if afterFirstValidate.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", afterFirstValidate.RetryCount)
	}

	// The retry pass asks for the deficit plus the buffer and steers toward
	// concepts with no accepted question.
	if ai.genCalls != 2 {
		t.Fatalf("generation calls = %d, want 2", ai.genCalls)
	}
	retryPrompt := ai.genPrompts[1]
	if !strings.Contains(retryPrompt, "exactly 7") {
		t.Fatalf("retry should request deficit+buffer questions, prompt: %q", retryPrompt)
	}
	if !strings.Contains(retryPrompt, "enzymes") {
		t.Fatal("retry prompt should name the uncovered concept")
	}

	if got := len(final.AccumulatedValid); got != 16 {
		t.Fatalf("final accumulated = %d, want 16", got)
	}
	if final.NeedsRegeneration {
		t.Fatal("no further regeneration expected")
	}

	questions, err := Final(final)
	if err != nil {
		t.Fatalf("Final: %v", err)
	}
	if len(questions) != 10 {
		t.Fatalf("final question count = %d, want 10", len(questions))
	}
}

func TestAccumulatorOnlyGrows(t *testing.T) {
	ai := &fakeAI{
		concepts: []string{"a", "b"},
		batches: [][]map[string]any{
			batchOf(8, []string{"a"}),
			batchOf(8, []string{"b"}),
		},
		invalidScripts: [][]int{{0, 1, 2}, {}},
	}

	final, seen := runQuiz(t, ai, 5)

	prev := 0
	for _, tr := range seen {
		if tr.Node != NodeValidator {
			continue
		}
		if got := len(tr.State.AccumulatedValid); got < prev {
			t.Fatalf("accumulator shrank from %d to %d", prev, got)
		} else {
			prev = got
		}
	}
	// Questions accepted on the first pass survive the retry.
	firstPassSurvivors := 0
	for _, q := range final.AccumulatedValid {
		if q.Concept == "a" {
			firstPassSurvivors++
		}
	}
	if firstPassSurvivors != 5 {
		t.Fatalf("first-pass survivors = %d, want 5", firstPassSurvivors)
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	all := func(n int) []int {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}
	ai := &fakeAI{
		concepts: []string{"x"},
		batches: [][]map[string]any{
			batchOf(8, []string{"x"}),
			batchOf(8, []string{"x"}),
			batchOf(8, []string{"x"}),
		},
		invalidScripts: [][]int{all(8), all(8), all(8)},
	}

	final, _ := runQuiz(t, ai, 5)

	if ai.genCalls != 3 {
		t.Fatalf("generation calls = %d, want 3 (initial + 2 retries)", ai.genCalls)
	}
	if final.RetryCount != MaxRetries {
		t.Fatalf("retry count = %d, want %d", final.RetryCount, MaxRetries)
	}
	if final.NeedsRegeneration {
		t.Fatal("regeneration must stop at the retry budget")
	}
	if final.Deficit == 0 {
		t.Fatal("deficit should remain after exhausting retries")
	}
	if _, err := Final(final); !errors.Is(err, ErrInsufficientQuestions) {
		t.Fatalf("Final error = %v, want ErrInsufficientQuestions", err)
	}
}

func TestValidatorFailureAcceptsBatch(t *testing.T) {
	ai := &fakeAI{
		concepts:   []string{"y"},
		batches:    [][]map[string]any{batchOf(8, []string{"y"})},
		verdictErr: errors.New("reviewer down"),
	}

	final, _ := runQuiz(t, ai, 5)

	if got := len(final.AccumulatedValid); got != 8 {
		t.Fatalf("accumulated = %d, want whole batch of 8", got)
	}
	if final.NeedsRegeneration {
		t.Fatal("full batch meets the target; no retry expected")
	}
	if ai.genCalls != 1 {
		t.Fatalf("generation calls = %d, want 1", ai.genCalls)
	}
}

func TestGenerationFailureBurnsRetryThenRecovers(t *testing.T) {
	ai := &fakeAI{
		concepts: []string{"z"},
		genErrs:  []error{errors.New("model down"), nil},
		batches: [][]map[string]any{
			nil,
			batchOf(11, []string{"z"}),
		},
		invalidScripts: [][]int{{}},
	}

	final, _ := runQuiz(t, ai, 5)

	if ai.genCalls != 2 {
		t.Fatalf("generation calls = %d, want 2", ai.genCalls)
	}
	// The empty batch never reaches the reviewer.
	if ai.verdictCalls != 1 {
		t.Fatalf("verdict calls = %d, want 1", ai.verdictCalls)
	}
	if final.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", final.RetryCount)
	}
	if got := len(final.AccumulatedValid); got < 8 {
		t.Fatalf("accumulated = %d, want at least the target of 8", got)
	}
	if _, err := Final(final); err != nil {
		t.Fatalf("Final: %v", err)
	}
}

func TestConceptExtractionIsCapped(t *testing.T) {
	many := make([]string, 40)
	for i := range many {
		many[i] = fmt.Sprintf("concept-%d", i)
	}
	ai := &fakeAI{
		concepts: many,
		batches:  [][]map[string]any{batchOf(8, []string{"concept-0"})},
	}

	final, _ := runQuiz(t, ai, 5)

	// 2x the requested count, well under the absolute cap.
	if got := len(final.Concepts); got != 10 {
		t.Fatalf("concepts = %d, want 10", got)
	}
	if ai.conceptCalls != 1 {
		t.Fatalf("concept extraction calls = %d, want exactly 1", ai.conceptCalls)
	}
}

func TestShuffleKeepsCorrectOption(t *testing.T) {
	for i := 0; i < 50; i++ {
		q := Question{
			Type:       "multiple_choice",
			Options:    []string{"wrong1", "right", "wrong2", "wrong3"},
			CorrectIdx: 1,
		}
		shuffleCorrect(&q)
		if q.Options[q.CorrectIdx] != "right" {
			t.Fatalf("shuffle lost the correct option: %v idx %d", q.Options, q.CorrectIdx)
		}
	}
}

func TestParseQuestionDefaults(t *testing.T) {
	q := parseQuestion(map[string]any{
		"type":        "true_false",
		"question":    "Water is wet?",
		"correct_idx": float64(0),
		"explanation": "it is",
		"concept":     "water",
	})
	if len(q.Options) != 2 || q.Options[0] != "True" {
		t.Fatalf("true_false options = %v", q.Options)
	}
	if q.Difficulty != "medium" {
		t.Fatalf("difficulty = %q, want medium", q.Difficulty)
	}

	q = parseQuestion(map[string]any{
		"type":        "multiple_choice",
		"question":    "Pick one",
		"options":     []any{"a", "b"},
		"correct_idx": float64(9),
		"explanation": "x",
		"concept":     "c",
	})
	if q.CorrectIdx != 0 {
		t.Fatalf("out-of-range correct_idx should clamp to 0, got %d", q.CorrectIdx)
	}
}
