package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/sourcequill/backend/internal/platform/logger"
	"github.com/sourcequill/backend/internal/retrieval"
)

type fakeAI struct {
	route     string
	qualities []string

	text    string
	textErr error

	routeCalls   int
	qualityCalls int
	genCalls     int
	streamCalls  int
}

func (f *fakeAI) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (f *fakeAI) GenerateJSON(_ context.Context, _ string, _ string, schemaName string, _ map[string]any) (map[string]any, error) {
	switch schemaName {
	case "answer_route_v1":
		f.routeCalls++
		return map[string]any{"route": f.route}, nil
	case "answer_quality_v1":
		f.qualityCalls++
		q := QualityGood
		if len(f.qualities) > 0 {
			q = f.qualities[0]
			f.qualities = f.qualities[1:]
		}
		return map[string]any{"quality": q, "reason": "scripted"}, nil
	}
	return nil, fmt.Errorf("unexpected schema %q", schemaName)
}

func (f *fakeAI) GenerateText(context.Context, string, string) (string, error) {
	f.genCalls++
	if f.textErr != nil {
		return "", f.textErr
	}
	return f.text, nil
}

func (f *fakeAI) StreamText(_ context.Context, _ string, _ string, onDelta func(string)) (string, error) {
	f.streamCalls++
	if f.textErr != nil {
		return "", f.textErr
	}
	for _, part := range strings.SplitAfter(f.text, " ") {
		if part != "" && onDelta != nil {
			onDelta(part)
		}
	}
	return f.text, nil
}

type fakeSearcher struct {
	chunks []retrieval.Chunk
	err    error
	calls  int
}

func (f *fakeSearcher) Search(context.Context, string, []uuid.UUID, int) ([]retrieval.Chunk, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.chunks, nil
}

func testDeps(t *testing.T, ai *fakeAI, search retrieval.Searcher) Deps {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return Deps{AI: ai, Search: search, Log: log}
}

func nChunks(n int) []retrieval.Chunk {
	out := make([]retrieval.Chunk, 0, n)
	srcID := uuid.New()
	for i := 0; i < n; i++ {
		out = append(out, retrieval.Chunk{
			ID:         uuid.New(),
			SourceID:   srcID,
			SourceName: "notes.pdf",
			FileType:   "pdf",
			Index:      i,
			Text:       fmt.Sprintf("excerpt %d", i+1),
			Similarity: 1 - float64(i)*0.1,
		})
	}
	return out
}

func TestBuildGraphWellFormed(t *testing.T) {
	g, err := BuildGraph(testDeps(t, &fakeAI{}, &fakeSearcher{}))
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}
	if g == nil {
		t.Fatal("BuildGraph returned nil graph")
	}
}

func TestRouterSocialWithoutSources(t *testing.T) {
	ai := &fakeAI{route: RouteRetrieve}
	step := RouterStep(testDeps(t, ai, nil))

	patch, err := step(context.Background(), State{CurrentQuery: "Hi"})
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	s := patch.Apply(State{CurrentQuery: "Hi"})
	if s.RouteDecision != RouteDirectAnswer {
		t.Fatalf("route = %q, want direct_answer", s.RouteDecision)
	}
	if ai.routeCalls != 0 {
		t.Fatalf("social message should not consult the model, got %d calls", ai.routeCalls)
	}
}

func TestRouterIndirectContentWithSources(t *testing.T) {
	ai := &fakeAI{route: RouteDirectAnswer}
	step := RouterStep(testDeps(t, ai, nil))

	init := State{
		CurrentQuery: "What do we have here today?",
		SourceIDs:    []uuid.UUID{uuid.New(), uuid.New()},
	}
	patch, err := step(context.Background(), init)
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	if got := patch.Apply(init).RouteDecision; got != RouteRetrieve {
		t.Fatalf("route = %q, want retrieve", got)
	}
	if ai.routeCalls != 0 {
		t.Fatalf("content-hinted query should route locally, got %d model calls", ai.routeCalls)
	}
}

func TestRouterIdentityBlock(t *testing.T) {
	ai := &fakeAI{}
	step := RouterStep(testDeps(t, ai, nil))

	init := State{CurrentQuery: "what model are you running on?"}
	patch, err := step(context.Background(), init)
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	if got := patch.Apply(init).RouteDecision; got != RouteIdentityBlock {
		t.Fatalf("route = %q, want identity_block", got)
	}
	if ai.routeCalls != 0 {
		t.Fatal("identity probe must not reach the model")
	}
}

func TestRunRetrieveEndToEnd(t *testing.T) {
	ai := &fakeAI{text: "The sources cover three topics [1][2][3][4][5] and nothing else [6]."}
	search := &fakeSearcher{chunks: nChunks(5)}
	g, err := BuildGraph(testDeps(t, ai, search))
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}

	init := State{
		ConversationID:  uuid.New(),
		SourceIDs:       []uuid.UUID{uuid.New(), uuid.New(), uuid.New()},
		CurrentQuery:    "Summarize this",
		ResponseQuality: QualityPending,
		History: []Message{
			{ID: uuid.New(), Role: "user", Content: "Summarize this"},
		},
	}

	final, err := g.Run(context.Background(), init)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if final.RouteDecision != RouteRetrieve {
		t.Fatalf("route = %q, want retrieve", final.RouteDecision)
	}
	if len(final.RetrievedChunks) != 5 {
		t.Fatalf("chunks = %d, want 5", len(final.RetrievedChunks))
	}
	if final.RetryCount != 0 {
		t.Fatalf("retryCount = %d, want 0", final.RetryCount)
	}
	if final.ResponseQuality != QualityGood {
		t.Fatalf("quality = %q, want good", final.ResponseQuality)
	}
	if got := len(final.History) - len(init.History); got != 1 {
		t.Fatalf("appended %d messages, want exactly 1", got)
	}

	msg := final.LastAssistant()
	if msg == nil {
		t.Fatal("no assistant message")
	}
	if strings.Contains(msg.Content, "[6]") {
		t.Fatalf("out-of-range citation survived: %q", msg.Content)
	}
	for i := 1; i <= 5; i++ {
		if !strings.Contains(msg.Content, fmt.Sprintf("[%d]", i)) {
			t.Fatalf("citation [%d] missing from %q", i, msg.Content)
		}
	}
	if len(msg.Citations) != 5 {
		t.Fatalf("citations = %d, want one per chunk", len(msg.Citations))
	}
	for i, c := range msg.Citations {
		if c.Index != i+1 {
			t.Fatalf("citation %d has index %d, want positional", i, c.Index)
		}
	}
}

func TestRetryBudgetBoundsGeneratorCalls(t *testing.T) {
	// Quality says poor forever; forcing at the cap must still terminate
	// after exactly three generator passes.
	ai := &fakeAI{text: "an answer", qualities: []string{QualityPoor, QualityPoor, QualityPoor, QualityPoor}}
	g, err := BuildGraph(testDeps(t, ai, &fakeSearcher{}))
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}

	init := State{
		CurrentQuery:    "Explain the uploaded chapter",
		SourceIDs:       []uuid.UUID{uuid.New()},
		ResponseQuality: QualityPending,
	}
	final, err := g.Run(context.Background(), init)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if final.RetryCount != MaxRetries {
		t.Fatalf("retryCount = %d, want %d", final.RetryCount, MaxRetries)
	}
	if final.GeneratorCalls != 3 {
		t.Fatalf("generator calls = %d, want 3", final.GeneratorCalls)
	}
	if final.ResponseQuality != QualityGood {
		t.Fatalf("final quality = %q, want forced good", final.ResponseQuality)
	}
	if final.LastAssistant() == nil {
		t.Fatal("run must end with an assistant message")
	}
}

func TestQualityForcedGoodAtCap(t *testing.T) {
	ai := &fakeAI{qualities: []string{QualityPoor}}
	step := QualityStep(testDeps(t, ai, nil))

	s := State{
		CurrentQuery:    "q",
		RetryCount:      MaxRetries,
		ResponseQuality: QualityPending,
		History:         []Message{{Role: "assistant", Content: "weak answer"}},
	}
	patch, err := step(context.Background(), s)
	if err != nil {
		t.Fatalf("quality: %v", err)
	}
	out := patch.Apply(s)
	if out.ResponseQuality != QualityGood {
		t.Fatalf("quality = %q, want forced good at retry cap", out.ResponseQuality)
	}
	if ai.qualityCalls != 0 {
		t.Fatal("capped run should skip evaluation entirely")
	}
	if len(out.History) != 1 {
		t.Fatal("forced good must not drop the message")
	}
}

func TestFirstMessageSkipsQuality(t *testing.T) {
	ai := &fakeAI{text: "welcome answer", qualities: []string{QualityPoor}}
	g, err := BuildGraph(testDeps(t, ai, &fakeSearcher{}))
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}

	init := State{
		CurrentQuery:    "Tell me a bit about what you can do",
		ResponseQuality: QualityPending,
		Meta:            RunMeta{FirstMessage: true},
	}
	final, err := g.Run(context.Background(), init)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if ai.qualityCalls != 0 {
		t.Fatalf("quality calls = %d, want 0 on first message", ai.qualityCalls)
	}
	if final.ResponseQuality != QualityGood || final.RetryCount != 0 {
		t.Fatalf("quality=%q retries=%d, want good/0", final.ResponseQuality, final.RetryCount)
	}
}

func TestTotalGenerationFailureStillAnswers(t *testing.T) {
	ai := &fakeAI{textErr: errors.New("provider down")}
	g, err := BuildGraph(testDeps(t, ai, &fakeSearcher{chunks: nChunks(2)}))
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}

	init := State{
		CurrentQuery:    "Summarize this document",
		SourceIDs:       []uuid.UUID{uuid.New()},
		ResponseQuality: QualityPending,
	}
	final, err := g.Run(context.Background(), init)
	if err != nil {
		t.Fatalf("run must not propagate collaborator failure: %v", err)
	}
	msg := final.LastAssistant()
	if msg == nil || msg.Content != apologyMessage {
		t.Fatalf("expected apology message, got %+v", msg)
	}
	if final.RetryCount != MaxRetries {
		t.Fatalf("retryCount = %d, want exhausted budget", final.RetryCount)
	}
	if ai.qualityCalls != 0 {
		t.Fatal("apology messages should not be re-judged by the model")
	}
}

func TestStreamingTokensArriveInOrder(t *testing.T) {
	ai := &fakeAI{text: "alpha beta gamma"}
	g, err := BuildGraph(testDeps(t, ai, &fakeSearcher{}))
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}

	var tokens []string
	init := State{
		CurrentQuery:    "Anything interesting in my notes?",
		ResponseQuality: QualityPending,
		Meta: RunMeta{
			FirstMessage: true,
			OnToken:      func(tok string) { tokens = append(tokens, tok) },
		},
	}
	final, err := g.Run(context.Background(), init)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if ai.streamCalls != 1 || ai.genCalls != 0 {
		t.Fatalf("stream/gen calls = %d/%d, want streaming path", ai.streamCalls, ai.genCalls)
	}
	joined := strings.Join(tokens, "")
	msg := final.LastAssistant()
	if msg == nil || strings.TrimSpace(joined) != msg.Content {
		t.Fatalf("streamed %q but stored %q", joined, msg.Content)
	}
}

func TestStripOutOfRangeCitations(t *testing.T) {
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"fine [1] and [2]", 2, "fine [1] and [2]"},
		{"bad [3]", 2, "bad "},
		{"zero [0] low", 2, "zero  low"},
		{"none at all", 2, "none at all"},
		{"[1][2][3]", 2, "[1][2]"},
	}
	for _, tc := range cases {
		if got := stripOutOfRangeCitations(tc.in, tc.n); got != tc.want {
			t.Errorf("strip(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}
