package answer

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sourcequill/backend/internal/platform/openai"
)

const apologyMessage = "I'm sorry — I ran into a problem while generating a response. Please try again."

const identityBlockMessage = "I'm the assistant for your uploaded sources. I can't discuss how I'm built, but I'm happy to help with questions about your content."

// GenerateStep produces exactly one new assistant message. Route decides the
// prompt: retrieve grounds the answer in the chunks with positional
// citations, direct_answer and clarify consult no chunks, identity_block
// emits a fixed message with no model call. Generation failure degrades to a
// canned apology marked poor so a retry runs if budget remains.
func GenerateStep(deps Deps) func(ctx context.Context, s State) (Patch, error) {
	return func(ctx context.Context, s State) (Patch, error) {
		if s.RouteDecision == RouteIdentityBlock {
			return generatePatch{message: newAssistantMessage(identityBlockMessage, nil)}, nil
		}

		system, user := buildGenerationPrompt(s)
		client := openai.WithModel(deps.AI, s.Meta.Model)

		text, err := generate(ctx, client, system, user, s.Meta.OnToken)
		if err != nil {
			deps.Log.Warn("generation failed; emitting apology", "error", err)
			return generatePatch{
				message:      newAssistantMessage(apologyMessage, nil),
				forceQuality: QualityPoor,
			}, nil
		}

		var citations []Citation
		if s.RouteDecision == RouteRetrieve && len(s.RetrievedChunks) > 0 {
			text = stripOutOfRangeCitations(text, len(s.RetrievedChunks))
			citations = chunkCitations(s)
		}
		return generatePatch{message: newAssistantMessage(text, citations)}, nil
	}
}

func generate(ctx context.Context, client openai.Client, system, user string, onToken func(string)) (string, error) {
	if client == nil {
		return "", fmt.Errorf("no generation client")
	}
	if onToken != nil {
		return client.StreamText(ctx, system, user, onToken)
	}
	return client.GenerateText(ctx, system, user)
}

func buildGenerationPrompt(s State) (string, string) {
	switch s.RouteDecision {
	case RouteRetrieve:
		return retrievePrompt(s)
	case RouteClarify:
		system := strings.Join([]string{
			"You help users work with their uploaded sources.",
			"The user's message is too underspecified to act on.",
			"Ask one short, concrete clarifying question. Do not answer the original message.",
		}, "\n")
		return system, promptUserBlock(s)
	default:
		system := strings.Join([]string{
			"You help users work with their uploaded sources.",
			"Answer the user's message directly and briefly. Do not invent source content.",
		}, "\n")
		return system, promptUserBlock(s)
	}
}

func retrievePrompt(s State) (string, string) {
	n := len(s.RetrievedChunks)
	system := strings.Join([]string{
		"You answer questions using ONLY the provided source excerpts.",
		fmt.Sprintf("Cite excerpts with bracketed markers [1] through [%d], where the number is the excerpt's position below.", n),
		fmt.Sprintf("Never emit a marker above [%d].", n),
		"If the excerpts do not contain the answer, say so plainly instead of guessing.",
	}, "\n")
	if n == 0 {
		system = strings.Join([]string{
			"You answer questions about the user's uploaded sources.",
			"No relevant excerpts were found for this query.",
			"Say so gracefully and suggest how the user might rephrase or what to upload.",
		}, "\n")
	}

	var b strings.Builder
	if n > 0 {
		b.WriteString("SOURCE_EXCERPTS:\n")
		for i, ch := range s.RetrievedChunks {
			label := strings.TrimSpace(ch.SourceName)
			if label == "" {
				label = "Untitled source"
			}
			if t := strings.TrimSpace(ch.FileType); t != "" {
				label += " (" + t + ")"
			}
			b.WriteString(fmt.Sprintf("[%d] %s\n", i+1, label))
			b.WriteString(trimToChars(ch.Text, 1200))
			b.WriteString("\n\n")
		}
	}
	b.WriteString(promptUserBlock(s))
	return system, strings.TrimSpace(b.String())
}

func promptUserBlock(s State) string {
	return strings.Join([]string{
		"RECENT_MESSAGES:",
		renderRecentHistory(s.History, 6),
		"",
		"USER_MESSAGE:",
		strings.TrimSpace(s.CurrentQuery),
	}, "\n")
}

func newAssistantMessage(content string, citations []Citation) Message {
	return Message{
		ID:        uuid.New(),
		Role:      "assistant",
		Content:   strings.TrimSpace(content),
		Citations: citations,
		CreatedAt: time.Now().UTC(),
	}
}

func chunkCitations(s State) []Citation {
	out := make([]Citation, 0, len(s.RetrievedChunks))
	for i, ch := range s.RetrievedChunks {
		out = append(out, Citation{
			Index:      i + 1,
			ChunkID:    ch.ID,
			SourceID:   ch.SourceID,
			SourceName: ch.SourceName,
		})
	}
	return out
}

var citationMarkerRe = regexp.MustCompile(`\[(\d+)\]`)

// stripOutOfRangeCitations removes bracketed markers referencing excerpts
// that were never supplied. The prompt forbids them, but the contract is
// enforced here rather than trusted.
func stripOutOfRangeCitations(text string, n int) string {
	return citationMarkerRe.ReplaceAllStringFunc(text, func(marker string) string {
		idxStr := citationMarkerRe.FindStringSubmatch(marker)[1]
		idx, err := strconv.Atoi(idxStr)
		if err != nil || idx < 1 || idx > n {
			return ""
		}
		return marker
	})
}
