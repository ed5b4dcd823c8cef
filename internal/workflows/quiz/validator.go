package quiz

import (
	"context"
	"fmt"
	"strings"
)

const validatorSystemPrompt = `You review quiz questions against the source material they were generated from.
Reject a question only for a real defect: not answerable from the material, factually
wrong, ambiguous, a marked correct option that is not correct, or duplicate phrasing
of another question in the batch. Otherwise accept it.`

// ValidateStep judges the current batch and folds the accepted questions into
// the accumulator. Judging is fail-open: if the reviewer itself cannot run,
// the whole batch is accepted rather than burning a retry on our own outage.
func ValidateStep(deps Deps) func(ctx context.Context, s State) (Patch, error) {
	return func(ctx context.Context, s State) (Patch, error) {
		if len(s.Questions) == 0 {
			return validatePatch{}, nil
		}

		verdicts, err := judgeBatch(ctx, deps, s)
		if err != nil {
			deps.Log.Warn("quiz validation failed, accepting batch as-is", "error", err, "batch_size", len(s.Questions))
			return validatePatch{valid: s.Questions}, nil
		}

		var valid []Question
		for i, q := range s.Questions {
			if i < len(verdicts) && !verdicts[i] {
				continue
			}
			valid = append(valid, q)
		}
		deps.Log.Info("quiz batch validated", "batch_size", len(s.Questions), "accepted", len(valid))
		return validatePatch{valid: valid}, nil
	}
}

func judgeBatch(ctx context.Context, deps Deps, s State) ([]bool, error) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"verdicts": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"index":  map[string]any{"type": "integer"},
						"valid":  map[string]any{"type": "boolean"},
						"reason": map[string]any{"type": "string"},
					},
					"required":             []string{"index", "valid", "reason"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"verdicts"},
		"additionalProperties": false,
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Review these %d questions. Return one verdict per question, by index.\n\n", len(s.Questions))
	for i, q := range s.Questions {
		fmt.Fprintf(&b, "[%d] (%s) %s\n", i, q.Type, q.Question)
		for j, o := range q.Options {
			marker := " "
			if j == q.CorrectIdx {
				marker = "*"
			}
			fmt.Fprintf(&b, "  %s %d. %s\n", marker, j, o)
		}
	}
	b.WriteString("\nMATERIAL:\n")
	b.WriteString(trimSource(s.SourceText))

	out, err := deps.AI.GenerateJSON(ctx, validatorSystemPrompt, b.String(), "quiz_verdicts_v1", schema)
	if err != nil {
		return nil, err
	}

	verdicts := make([]bool, len(s.Questions))
	for i := range verdicts {
		verdicts[i] = true
	}
	raw, _ := out["verdicts"].([]any)
	for _, v := range raw {
		obj, ok := v.(map[string]any)
		if !ok {
			continue
		}
		idx, ok := obj["index"].(float64)
		if !ok || int(idx) < 0 || int(idx) >= len(verdicts) {
			continue
		}
		if valid, ok := obj["valid"].(bool); ok {
			verdicts[int(idx)] = valid
		}
	}
	return verdicts, nil
}
