package answer

import (
	"context"
	"encoding/json"
	"strings"
)

// QualityStep judges the latest assistant message. It is forced good when
// the first-message flag is set (latency) or the retry budget is spent
// (termination). A poor verdict burns a retry and removes the message so the
// next generator pass replaces it. Evaluation failure degrades to good: the
// user gets an answer, never an error.
func QualityStep(deps Deps) func(ctx context.Context, s State) (Patch, error) {
	return func(ctx context.Context, s State) (Patch, error) {
		if s.Meta.FirstMessage {
			return qualityPatch{quality: QualityGood}, nil
		}
		if s.RetryCount >= MaxRetries {
			return qualityPatch{quality: QualityGood}, nil
		}
		// The generator marks its own failures poor; no point re-judging the
		// apology text.
		if s.ResponseQuality == QualityPoor {
			return qualityPatch{quality: QualityPoor, retry: true}, nil
		}

		last := s.LastAssistant()
		if last == nil || strings.TrimSpace(last.Content) == "" {
			return qualityPatch{quality: QualityPoor, retry: true}, nil
		}

		verdict := evaluateQuality(ctx, deps, s, last.Content)
		if verdict == QualityPoor {
			return qualityPatch{quality: QualityPoor, retry: true}, nil
		}
		return qualityPatch{quality: QualityGood}, nil
	}
}

func evaluateQuality(ctx context.Context, deps Deps, s State, answer string) string {
	if deps.AI == nil {
		return QualityGood
	}

	usedRetrieval := "no"
	if s.RouteDecision == RouteRetrieve {
		usedRetrieval = "yes"
	}

	system := strings.Join([]string{
		"You review an assistant's answer against fixed criteria:",
		"- it answers the user's question",
		"- it uses the available context when retrieval was used",
		"- it avoids claims the context does not support",
		"- it is well structured",
		"Mark poor ONLY on a clear criteria failure. When in doubt, mark good.",
		"Return ONLY JSON matching the schema.",
	}, "\n")

	user := strings.Join([]string{
		"USER_QUESTION:",
		strings.TrimSpace(s.CurrentQuery),
		"",
		"RETRIEVAL_USED: " + usedRetrieval,
		"",
		"ASSISTANT_ANSWER:",
		trimToChars(answer, 4000),
	}, "\n")

	schema := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"quality": map[string]any{
				"type": "string",
				"enum": []any{QualityGood, QualityPoor},
			},
			"reason": map[string]any{"type": "string"},
		},
		"required": []any{"quality", "reason"},
	}

	obj, err := deps.AI.GenerateJSON(ctx, system, user, "answer_quality_v1", schema)
	if err != nil {
		deps.Log.Warn("quality evaluation failed; accepting answer", "error", err)
		return QualityGood
	}

	var out struct {
		Quality string `json:"quality"`
	}
	b, _ := json.Marshal(obj)
	_ = json.Unmarshal(b, &out)
	if strings.TrimSpace(strings.ToLower(out.Quality)) == QualityPoor {
		return QualityPoor
	}
	return QualityGood
}
