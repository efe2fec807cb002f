package pipeline

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seaworthyhq/bvrag/pkg/generate"
	"github.com/seaworthyhq/bvrag/pkg/knowledge"
	"github.com/seaworthyhq/bvrag/pkg/llm"
	"github.com/seaworthyhq/bvrag/pkg/memory"
	"github.com/seaworthyhq/bvrag/pkg/retrieve"
	"github.com/seaworthyhq/bvrag/pkg/voice"
)

type recordedTurn struct {
	role     string
	content  string
	metadata memory.TurnMetadata
}

type fakeSessions struct {
	mu        sync.Mutex
	session   *memory.Session
	getErr    error
	createErr error
	turns     []recordedTurn
}

func (f *fakeSessions) GetSession(_ context.Context, id string) (*memory.Session, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.session != nil && f.session.SessionID == id {
		return f.session, nil
	}
	return nil, memory.ErrSessionNotFound
}

func (f *fakeSessions) CreateSession(_ context.Context, userID, sessionID string) (*memory.Session, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	if sessionID == "" {
		sessionID = "generated-id"
	}
	f.session = &memory.Session{SessionID: sessionID, UserID: userID}
	return f.session, nil
}

func (f *fakeSessions) AddTurn(_ context.Context, _ *memory.Session, role, content, _ string, md memory.TurnMetadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns = append(f.turns, recordedTurn{role: role, content: content, metadata: md})
	return nil
}

func (f *fakeSessions) UpdateUserProfile(context.Context, string, *memory.Session) error {
	return nil
}

func (f *fakeSessions) UserContext(context.Context, string) (string, error) {
	return "用户常查法规: SOLAS III(3次)", nil
}

type fakeContext struct{}

func (fakeContext) BuildContext(_ context.Context, _ *memory.Session, query string) ([]llm.Message, string) {
	return nil, query
}

type fakeRetriever struct {
	result  *retrieve.Result
	err     error
	lastReq retrieve.Request
}

func (f *fakeRetriever) Retrieve(_ context.Context, req retrieve.Request) (*retrieve.Result, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeKnowledge struct{}

func (fakeKnowledge) Query(string, []string, []string) []*knowledge.Entry { return nil }

type fakeGenerator struct {
	out      *generate.Output
	failures int
	calls    []string
}

func (f *fakeGenerator) RouteModel(generate.Input) string { return "model-primary" }

func (f *fakeGenerator) GenerateWithModel(_ context.Context, _ generate.Input, model string) (*generate.Output, error) {
	f.calls = append(f.calls, model)
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("model overloaded")
	}
	out := *f.out
	out.ModelUsed = model
	return &out, nil
}

func (f *fakeGenerator) OtherModel(model string) string {
	if model == "model-primary" {
		return "model-fast"
	}
	return "model-primary"
}

type fakeUtilities struct {
	done     chan struct{}
	chunkIDs []string
	cited    map[string]bool
	refusal  bool
	category string
}

func (f *fakeUtilities) Update(_ context.Context, chunkIDs []string, cited map[string]bool, _ string, refusal bool, category string) error {
	f.chunkIDs = chunkIDs
	f.cited = cited
	f.refusal = refusal
	f.category = category
	close(f.done)
	return nil
}

type fakeSTT struct{ text string }

func (f *fakeSTT) Transcribe(context.Context, []byte, string, string) (*voice.Transcription, error) {
	return &voice.Transcription{Text: f.text}, nil
}

type fakeTTS struct{}

func (fakeTTS) Synthesize(context.Context, string) ([]byte, error) {
	return []byte("mp3data"), nil
}

func testOutput() *generate.Output {
	return &generate.Output{
		Answer:     "根据 [SOLAS III/31.1.4]，至少一舷须配备降落设备。",
		Citations:  []generate.Citation{{Citation: "[SOLAS III/31.1.4]", Verified: true}},
		Confidence: "high",
		Sources: []generate.Source{
			{ChunkID: "chunk-1", Breadcrumb: "SOLAS > Chapter III > Regulation 31"},
			{ChunkID: "chunk-2", Breadcrumb: "MARPOL > Annex I > Regulation 15"},
		},
	}
}

func testCandidates() []retrieve.Candidate {
	return []retrieve.Candidate{
		{
			ChunkID: "chunk-1",
			Text:    "liferaft launching appliances",
			Score:   0.9,
			Metadata: map[string]interface{}{
				"title":    "SOLAS Regulation III/31 - Survival craft",
				"document": "SOLAS",
			},
		},
	}
}

func newTestPipeline(sessions *fakeSessions, retriever *fakeRetriever, gen *fakeGenerator, util *fakeUtilities) *Pipeline {
	deps := Deps{
		Sessions:  sessions,
		Context:   fakeContext{},
		Retriever: retriever,
		Knowledge: fakeKnowledge{},
		Generator: gen,
	}
	if util != nil {
		deps.Utilities = util
	}
	return New(deps)
}

func TestTextQueryHappyPath(t *testing.T) {
	sessions := &fakeSessions{}
	retriever := &fakeRetriever{result: &retrieve.Result{Candidates: testCandidates()}}
	gen := &fakeGenerator{out: testOutput()}
	util := &fakeUtilities{done: make(chan struct{})}
	p := newTestPipeline(sessions, retriever, gen, util)

	resp, err := p.TextQuery(context.Background(), TextRequest{
		Text:   "100米货船两边救生筏都需要起降落设备吗",
		UserID: "surveyor-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "generated-id", resp.SessionID)
	assert.Equal(t, "high", resp.Confidence)
	assert.Equal(t, "model-primary", resp.ModelUsed)
	assert.Equal(t, "text", resp.InputMode)
	assert.Nil(t, resp.AnswerAudio)
	assert.Contains(t, resp.Timing, "memory_ms")
	assert.Contains(t, resp.Timing, "retrieval_ms")
	assert.Contains(t, resp.Timing, "generation_ms")
	assert.Contains(t, resp.Timing, "total_ms")

	// Category routed from the query, lifesaving keywords present. Strategy
	// selection is left to the retriever's own router.
	assert.Equal(t, "lifesaving", retriever.lastReq.Category)
	assert.Equal(t, retrieve.StrategyAuto, retriever.lastReq.Strategy)
	assert.True(t, strings.HasPrefix(retriever.lastReq.EnhancedQuery, retriever.lastReq.Query))

	// User turn then assistant turn, with the working-set metadata.
	require.Len(t, sessions.turns, 2)
	assert.Equal(t, "user", sessions.turns[0].role)
	assert.Equal(t, "assistant", sessions.turns[1].role)
	assert.Equal(t, []string{"[SOLAS III/31.1.4]"}, sessions.turns[1].metadata.Citations)
	assert.Equal(t, []string{"SOLAS Regulation III/31"}, sessions.turns[1].metadata.RetrievedRegulations)

	select {
	case <-util.done:
	case <-time.After(time.Second):
		t.Fatal("utility update never fired")
	}
	assert.Equal(t, []string{"chunk-1", "chunk-2"}, util.chunkIDs)
	assert.True(t, util.cited["chunk-1"])
	assert.False(t, util.cited["chunk-2"])
	assert.False(t, util.refusal)
}

func TestTextQueryEmptyInput(t *testing.T) {
	p := newTestPipeline(&fakeSessions{}, &fakeRetriever{}, &fakeGenerator{out: testOutput()}, nil)

	_, err := p.TextQuery(context.Background(), TextRequest{Text: "   "})
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, http.StatusBadRequest, StatusCode(err))
}

func TestTextQueryRetrievalDown(t *testing.T) {
	retriever := &fakeRetriever{err: retrieve.ErrUnavailable}
	gen := &fakeGenerator{out: testOutput()}
	p := newTestPipeline(&fakeSessions{}, retriever, gen, nil)

	_, err := p.TextQuery(context.Background(), TextRequest{Text: "防火分隔"})
	require.ErrorIs(t, err, ErrRetrievalUnavailable)
	assert.Equal(t, http.StatusServiceUnavailable, StatusCode(err))
	assert.Empty(t, gen.calls, "generation must be skipped when retrieval fails")
}

func TestGenerationRetriesOnAlternateModel(t *testing.T) {
	retriever := &fakeRetriever{result: &retrieve.Result{Candidates: testCandidates()}}
	gen := &fakeGenerator{out: testOutput(), failures: 1}
	p := newTestPipeline(&fakeSessions{}, retriever, gen, nil)

	resp, err := p.TextQuery(context.Background(), TextRequest{Text: "防火分隔等级"})
	require.NoError(t, err)
	assert.Equal(t, []string{"model-primary", "model-fast"}, gen.calls)
	assert.Equal(t, "model-fast", resp.ModelUsed)
}

func TestGenerationFailsBothModels(t *testing.T) {
	retriever := &fakeRetriever{result: &retrieve.Result{Candidates: testCandidates()}}
	gen := &fakeGenerator{out: testOutput(), failures: 2}
	p := newTestPipeline(&fakeSessions{}, retriever, gen, nil)

	_, err := p.TextQuery(context.Background(), TextRequest{Text: "防火分隔等级"})
	require.ErrorIs(t, err, ErrGenerationUnavailable)
	assert.Equal(t, http.StatusServiceUnavailable, StatusCode(err))
}

func TestSessionStoreDownDegradesToTransient(t *testing.T) {
	sessions := &fakeSessions{
		getErr:    errors.New("redis down"),
		createErr: errors.New("redis down"),
	}
	retriever := &fakeRetriever{result: &retrieve.Result{Candidates: testCandidates()}}
	p := newTestPipeline(sessions, retriever, &fakeGenerator{out: testOutput()}, nil)

	resp, err := p.TextQuery(context.Background(), TextRequest{Text: "防火分隔等级", SessionID: "s-1"})
	require.NoError(t, err)
	assert.Equal(t, "s-1", resp.SessionID)
}

func TestVoiceQuery(t *testing.T) {
	retriever := &fakeRetriever{result: &retrieve.Result{Candidates: testCandidates()}}
	p := newTestPipeline(&fakeSessions{}, retriever, &fakeGenerator{out: testOutput()}, nil)
	p.deps.STT = &fakeSTT{text: "救生筏配置要求"}
	p.deps.TTS = fakeTTS{}

	resp, err := p.VoiceQuery(context.Background(), VoiceRequest{Audio: []byte("audio"), Format: "webm"})
	require.NoError(t, err)

	assert.Equal(t, "救生筏配置要求", resp.Transcription)
	assert.Equal(t, "voice", resp.InputMode)
	require.NotNil(t, resp.AnswerAudio)
	assert.NotEmpty(t, *resp.AnswerAudio)
	assert.Contains(t, resp.Timing, "stt_ms")
	assert.Contains(t, resp.Timing, "tts_ms")
}

func TestExtractRegulationRefs(t *testing.T) {
	candidates := []retrieve.Candidate{
		{Metadata: map[string]interface{}{"title": "1 SOLAS Regulation II-1/3-6 - Access"}},
		{Metadata: map[string]interface{}{"title": "no match", "document": "LSA", "regulation_number": "LSA Ch IV/4.2"}},
		{Metadata: map[string]interface{}{"title": "1 SOLAS Regulation II-1/3-6 - Access"}}, // duplicate
		{Metadata: map[string]interface{}{"title": "Annex overview", "document": "MARPOL"}},
	}

	refs := extractRegulationRefs(candidates, 5)
	assert.Equal(t, []string{
		"SOLAS Regulation II-1/3-6",
		"LSA Ch IV/4.2",
		"MARPOL: Annex overview",
	}, refs)
}

func TestIsCited(t *testing.T) {
	citations := []generate.Citation{{Citation: "[SOLAS III/31.1.4]"}}

	assert.True(t, isCited(generate.Source{Breadcrumb: "SOLAS > Chapter III > Regulation 31"}, citations))
	assert.False(t, isCited(generate.Source{Breadcrumb: "MARPOL > Annex I"}, citations))
	assert.False(t, isCited(generate.Source{}, citations))
}

func TestStatusCodeMapping(t *testing.T) {
	assert.Equal(t, http.StatusOK, StatusCode(nil))
	assert.Equal(t, http.StatusRequestTimeout, StatusCode(context.DeadlineExceeded))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(errors.New("boom")))
	assert.Contains(t, UserMessage(ErrRetrievalUnavailable), "检索暂时不可用")
}
