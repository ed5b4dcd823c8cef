package answer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sourcequill/backend/internal/platform/logger"
	"github.com/sourcequill/backend/internal/platform/openai"
	"github.com/sourcequill/backend/internal/retrieval"
)

// Deps are the external collaborators shared by the workflow's steps.
type Deps struct {
	AI     openai.Client
	Search retrieval.Searcher
	Log    *logger.Logger
}

// RouterStep decides how the query should be handled. Identity probes and
// pure social messages are settled by pattern match alone; content-flavored
// queries with sources attached go straight to retrieval; everything else is
// routed by the model, falling back to retrieve on any failure.
func RouterStep(deps Deps) func(ctx context.Context, s State) (Patch, error) {
	return func(ctx context.Context, s State) (Patch, error) {
		query := strings.TrimSpace(s.CurrentQuery)
		if query == "" {
			return routePatch{decision: RouteClarify}, nil
		}
		if matchesIdentityPattern(query) {
			return routePatch{decision: RouteIdentityBlock}, nil
		}
		if matchesSocialPattern(query) {
			return routePatch{decision: RouteDirectAnswer}, nil
		}
		if len(s.SourceIDs) > 0 && matchesContentHint(query) {
			return routePatch{decision: RouteRetrieve}, nil
		}

		decision := routeViaModel(ctx, deps, s, query)
		return routePatch{decision: decision}, nil
	}
}

func routeViaModel(ctx context.Context, deps Deps, s State, query string) string {
	if deps.AI == nil {
		return RouteRetrieve
	}

	system := strings.Join([]string{
		"You route user messages for a source-grounded question answering product.",
		"Choose one route:",
		"- retrieve: the query could plausibly be answered from the attached source content, including indirect phrasings",
		"- direct_answer: pure social or utility messages with no content reference",
		"- clarify: the query is too underspecified to act on",
		"When sources are attached and you are unsure, choose retrieve.",
		"Return ONLY JSON matching the schema.",
	}, "\n")

	user := strings.Join([]string{
		fmt.Sprintf("SOURCES_ATTACHED: %d", len(s.SourceIDs)),
		"RECENT_MESSAGES:",
		renderRecentHistory(s.History, 6),
		"",
		"USER_MESSAGE:",
		query,
	}, "\n")

	schema := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"route": map[string]any{
				"type": "string",
				"enum": []any{RouteRetrieve, RouteDirectAnswer, RouteClarify},
			},
		},
		"required": []any{"route"},
	}

	obj, err := deps.AI.GenerateJSON(ctx, system, user, "answer_route_v1", schema)
	if err != nil {
		deps.Log.Warn("route model call failed; defaulting to retrieve", "error", err)
		return RouteRetrieve
	}

	var out struct {
		Route string `json:"route"`
	}
	b, _ := json.Marshal(obj)
	_ = json.Unmarshal(b, &out)

	switch strings.TrimSpace(strings.ToLower(out.Route)) {
	case RouteDirectAnswer:
		return RouteDirectAnswer
	case RouteClarify:
		return RouteClarify
	default:
		return RouteRetrieve
	}
}

func renderRecentHistory(history []Message, limit int) string {
	if len(history) == 0 {
		return "(none)"
	}
	start := len(history) - limit
	if start < 0 {
		start = 0
	}
	var b strings.Builder
	for _, m := range history[start:] {
		b.WriteString(strings.ToUpper(m.Role))
		b.WriteString(": ")
		b.WriteString(trimToChars(m.Content, 400))
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

func trimToChars(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
