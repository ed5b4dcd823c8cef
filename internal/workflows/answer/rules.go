package answer

import (
	"embed"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const routeRulesEnv = "ANSWER_ROUTE_RULES_YAML"

//go:embed routes.yaml
var routeRulesFS embed.FS

// fallback rules used when the YAML is missing or invalid
var fallbackIdentityPatterns = []string{
	"what model are you",
	"which model are you",
	"what llm",
	"are you chatgpt",
	"are you claude",
	"are you an ai",
	"who made you",
	"who created you",
	"your system prompt",
}

var fallbackSocialPatterns = []string{
	"hi", "hello", "hey", "thanks", "thank you", "ok", "okay", "bye",
	"good morning", "good night", "how are you",
}

var fallbackContentHintPatterns = []string{
	"summarize", "summary", "explain", "here", "this", "these",
	"we have", "uploaded", "attached", "file", "document", "source",
}

type routeRules struct {
	Version             int      `yaml:"version"`
	IdentityPatterns    []string `yaml:"identity_patterns"`
	SocialPatterns      []string `yaml:"social_patterns"`
	ContentHintPatterns []string `yaml:"content_hint_patterns"`
}

var (
	rulesOnce  sync.Once
	rulesCache *routeRules
)

func currentRouteRules() *routeRules {
	rulesOnce.Do(func() {
		rulesCache = loadRouteRules()
	})
	return rulesCache
}

func loadRouteRules() *routeRules {
	var data []byte
	if path := strings.TrimSpace(os.Getenv(routeRulesEnv)); path != "" {
		if b, err := os.ReadFile(path); err == nil {
			data = b
		}
	}
	if data == nil {
		b, err := routeRulesFS.ReadFile("routes.yaml")
		if err != nil {
			return fallbackRules()
		}
		data = b
	}

	var rules routeRules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return fallbackRules()
	}
	if len(rules.IdentityPatterns) == 0 {
		rules.IdentityPatterns = fallbackIdentityPatterns
	}
	if len(rules.SocialPatterns) == 0 {
		rules.SocialPatterns = fallbackSocialPatterns
	}
	if len(rules.ContentHintPatterns) == 0 {
		rules.ContentHintPatterns = fallbackContentHintPatterns
	}
	return &rules
}

func fallbackRules() *routeRules {
	return &routeRules{
		IdentityPatterns:    fallbackIdentityPatterns,
		SocialPatterns:      fallbackSocialPatterns,
		ContentHintPatterns: fallbackContentHintPatterns,
	}
}

func matchesIdentityPattern(query string) bool {
	q := normalizeQuery(query)
	for _, p := range currentRouteRules().IdentityPatterns {
		if strings.Contains(q, p) {
			return true
		}
	}
	return false
}

// matchesSocialPattern is deliberately strict: the whole message must be a
// social phrase, not merely contain one.
func matchesSocialPattern(query string) bool {
	q := strings.Trim(normalizeQuery(query), " .!?,")
	for _, p := range currentRouteRules().SocialPatterns {
		if q == strings.Trim(p, " .!?,") {
			return true
		}
	}
	return false
}

func matchesContentHint(query string) bool {
	q := normalizeQuery(query)
	for _, p := range currentRouteRules().ContentHintPatterns {
		if strings.Contains(q, p) {
			return true
		}
	}
	return false
}

func normalizeQuery(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}
