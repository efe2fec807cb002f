package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/seaworthyhq/bvrag/pkg/classify"
	"github.com/seaworthyhq/bvrag/pkg/enhance"
	"github.com/seaworthyhq/bvrag/pkg/generate"
	"github.com/seaworthyhq/bvrag/pkg/knowledge"
	"github.com/seaworthyhq/bvrag/pkg/llm"
	"github.com/seaworthyhq/bvrag/pkg/memory"
	"github.com/seaworthyhq/bvrag/pkg/retrieve"
	"github.com/seaworthyhq/bvrag/pkg/utility"
	"github.com/seaworthyhq/bvrag/pkg/voice"
)

const (
	defaultMaxConcurrent = 10
	defaultLLMTimeout    = 20 * time.Second
	utilityTimeout       = 2 * time.Second
	ttsMaxChars          = 1500
	regulationRefWindow  = 5
)

// SessionStore is the slice of memory.Store the pipeline depends on.
type SessionStore interface {
	GetSession(ctx context.Context, sessionID string) (*memory.Session, error)
	CreateSession(ctx context.Context, userID, sessionID string) (*memory.Session, error)
	AddTurn(ctx context.Context, session *memory.Session, role, content, inputMode string, metadata memory.TurnMetadata) error
	UpdateUserProfile(ctx context.Context, userID string, session *memory.Session) error
	UserContext(ctx context.Context, userID string) (string, error)
}

// ContextBuilder turns session history plus the current query into chat
// messages and a coreference-resolved query.
type ContextBuilder interface {
	BuildContext(ctx context.Context, session *memory.Session, currentQuery string) ([]llm.Message, string)
}

// Retriever is satisfied by *retrieve.Retriever.
type Retriever interface {
	Retrieve(ctx context.Context, req retrieve.Request) (*retrieve.Result, error)
}

// KnowledgeIndex is satisfied by *knowledge.Index.
type KnowledgeIndex interface {
	Query(userQuery string, matchedTerms, regulationHints []string) []*knowledge.Entry
}

// Generator is satisfied by *generate.Generator.
type Generator interface {
	RouteModel(in generate.Input) string
	GenerateWithModel(ctx context.Context, in generate.Input, model string) (*generate.Output, error)
	OtherModel(model string) string
}

// UtilityUpdater is satisfied by *utility.Store.
type UtilityUpdater interface {
	Update(ctx context.Context, chunkIDs []string, cited map[string]bool, confidence string, refusal bool, category string) error
}

// Transcriber is satisfied by *voice.STTService.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, format, language string) (*voice.Transcription, error)
}

// Synthesizer is satisfied by *voice.TTSService.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Deps bundles the pipeline's collaborators.
type Deps struct {
	Sessions  SessionStore
	Context   ContextBuilder
	Retriever Retriever
	Knowledge KnowledgeIndex
	Generator Generator
	Utilities UtilityUpdater
	STT       Transcriber
	TTS       Synthesizer
}

// TextRequest is one text-mode query.
type TextRequest struct {
	Text          string
	SessionID     string
	UserID        string
	InputMode     string
	GenerateAudio bool
}

// VoiceRequest is one audio-mode query; the pipeline transcribes it first.
type VoiceRequest struct {
	Audio     []byte
	Format    string
	Language  string
	SessionID string
	UserID    string
}

// Response is the envelope every query path returns.
type Response struct {
	SessionID     string              `json:"session_id"`
	EnhancedQuery string              `json:"enhanced_query"`
	AnswerText    string              `json:"answer_text"`
	AnswerAudio   *string             `json:"answer_audio_base64"`
	Citations     []generate.Citation `json:"citations"`
	Confidence    string              `json:"confidence"`
	ModelUsed     string              `json:"model_used"`
	Sources       []generate.Source   `json:"sources"`
	Timing        map[string]int64    `json:"timing"`
	InputMode     string              `json:"input_mode"`
	Transcription string              `json:"transcription"`
}

// Pipeline orchestrates one question-answering turn end to end.
type Pipeline struct {
	deps       Deps
	sem        chan struct{}
	llmTimeout time.Duration
}

// Option tweaks pipeline construction.
type Option func(*Pipeline)

// WithMaxConcurrent caps in-flight requests past the session-load stage.
func WithMaxConcurrent(n int) Option {
	return func(p *Pipeline) { p.sem = make(chan struct{}, n) }
}

// WithLLMTimeout overrides the per-call generation deadline.
func WithLLMTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.llmTimeout = d }
}

func New(deps Deps, opts ...Option) *Pipeline {
	p := &Pipeline{
		deps:       deps,
		sem:        make(chan struct{}, defaultMaxConcurrent),
		llmTimeout: defaultLLMTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// TextQuery answers a typed question.
func (p *Pipeline) TextQuery(ctx context.Context, req TextRequest) (*Response, error) {
	start := time.Now()
	timing := map[string]int64{}

	resp, err := p.process(ctx, req, timing)
	if err != nil {
		return nil, err
	}
	resp.Transcription = req.Text
	timing["total_ms"] = time.Since(start).Milliseconds()
	return resp, nil
}

// VoiceQuery transcribes the audio and answers it, returning synthesized
// speech alongside the text.
func (p *Pipeline) VoiceQuery(ctx context.Context, req VoiceRequest) (*Response, error) {
	start := time.Now()
	timing := map[string]int64{}

	t0 := time.Now()
	transcription, err := p.deps.STT.Transcribe(ctx, req.Audio, req.Format, req.Language)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	timing["stt_ms"] = time.Since(t0).Milliseconds()

	resp, err := p.process(ctx, TextRequest{
		Text:          transcription.Text,
		SessionID:     req.SessionID,
		UserID:        req.UserID,
		InputMode:     "voice",
		GenerateAudio: true,
	}, timing)
	if err != nil {
		return nil, err
	}
	resp.Transcription = transcription.Text
	timing["total_ms"] = time.Since(start).Milliseconds()
	return resp, nil
}

func (p *Pipeline) process(ctx context.Context, req TextRequest, timing map[string]int64) (*Response, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty query text", ErrInvalidInput)
	}
	if req.InputMode == "" {
		req.InputMode = "text"
	}

	select {
	case p.sem <- struct{}{}:
		defer func() { <-p.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// Session + conversational context. A session-store outage degrades
	// into a fresh in-memory session rather than failing the request.
	t0 := time.Now()
	session := p.loadSession(ctx, req.SessionID, req.UserID)
	messages, resolved := p.deps.Context.BuildContext(ctx, session, text)
	timing["memory_ms"] = time.Since(t0).Milliseconds()

	classification := classify.Classify(text)
	enhancement := enhance.Enhance(resolved)
	category := utility.Categorize(resolved)

	t0 = time.Now()
	result, err := p.deps.Retriever.Retrieve(ctx, retrieve.Request{
		Query:         resolved,
		EnhancedQuery: enhancement.Query,
		TopK:          classification.TopK,
		Strategy:      retrieve.StrategyAuto,
		Category:      category,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRetrievalUnavailable, err)
	}
	timing["retrieval_ms"] = time.Since(t0).Milliseconds()

	practical := knowledge.FormatMarkdown(
		p.deps.Knowledge.Query(text, enhancement.MatchedTerms, enhancement.RegulationHints))

	userContext, err := p.deps.Sessions.UserContext(ctx, session.UserID)
	if err != nil {
		slog.Warn("user context lookup failed", "user_id", session.UserID, "error", err)
	}

	t0 = time.Now()
	out, err := p.generate(ctx, generate.Input{
		Query:            text,
		EnhancedQuery:    resolved,
		Classification:   classification,
		Candidates:       result.Candidates,
		History:          messages,
		UserContext:      userContext,
		PracticalContext: practical,
	})
	if err != nil {
		return nil, err
	}
	timing["generation_ms"] = time.Since(t0).Milliseconds()

	var audio *string
	timing["tts_ms"] = 0
	if req.GenerateAudio && req.InputMode == "voice" && p.deps.TTS != nil {
		t0 = time.Now()
		if ttsText := voice.PrepareTTSText(out.Answer, ttsMaxChars); ttsText != "" {
			if data, err := p.deps.TTS.Synthesize(ctx, ttsText); err != nil {
				slog.Error("tts synthesis failed", "error", err)
			} else {
				encoded := base64.StdEncoding.EncodeToString(data)
				audio = &encoded
			}
		}
		timing["tts_ms"] = time.Since(t0).Milliseconds()
	}

	regs := extractRegulationRefs(result.Candidates, regulationRefWindow)
	p.persistTurns(ctx, session, text, req.InputMode, resolved, out, regs)
	p.fireUtilityUpdate(out, category)

	return &Response{
		SessionID:     session.SessionID,
		EnhancedQuery: resolved,
		AnswerText:    out.Answer,
		AnswerAudio:   audio,
		Citations:     out.Citations,
		Confidence:    out.Confidence,
		ModelUsed:     out.ModelUsed,
		Sources:       out.Sources,
		Timing:        timing,
		InputMode:     req.InputMode,
	}, nil
}

func (p *Pipeline) loadSession(ctx context.Context, sessionID, userID string) *memory.Session {
	if sessionID != "" {
		session, err := p.deps.Sessions.GetSession(ctx, sessionID)
		if err == nil {
			return session
		}
		if !errors.Is(err, memory.ErrSessionNotFound) {
			slog.Warn("session load failed", "session_id", sessionID, "error", err)
		}
	}
	session, err := p.deps.Sessions.CreateSession(ctx, userID, sessionID)
	if err != nil {
		slog.Error("session create failed, using transient session", "error", err)
		if sessionID == "" {
			sessionID = fmt.Sprintf("transient-%d", time.Now().UnixNano())
		}
		return &memory.Session{SessionID: sessionID, UserID: userID}
	}
	return session
}

// generate calls the routed model and retries once on the alternate model
// before declaring generation unavailable.
func (p *Pipeline) generate(ctx context.Context, in generate.Input) (*generate.Output, error) {
	model := p.deps.Generator.RouteModel(in)

	callCtx, cancel := context.WithTimeout(ctx, p.llmTimeout)
	out, err := p.deps.Generator.GenerateWithModel(callCtx, in, model)
	cancel()
	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	retryModel := p.deps.Generator.OtherModel(model)
	slog.Warn("generation failed, retrying on alternate model",
		"model", model, "retry_model", retryModel, "error", err)

	callCtx, cancel = context.WithTimeout(ctx, p.llmTimeout)
	out, err = p.deps.Generator.GenerateWithModel(callCtx, in, retryModel)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrGenerationUnavailable, err)
	}
	return out, nil
}

// persistTurns appends the user turn then the assistant turn. Store
// failures are logged and the response still succeeds.
func (p *Pipeline) persistTurns(ctx context.Context, session *memory.Session, text, inputMode, resolved string, out *generate.Output, regs []string) {
	err := p.deps.Sessions.AddTurn(ctx, session, "user", text, inputMode,
		memory.TurnMetadata{EnhancedQuery: resolved})
	if err != nil {
		slog.Error("user turn append failed", "session_id", session.SessionID, "error", err)
		return
	}

	citations := make([]string, 0, len(out.Citations))
	for _, c := range out.Citations {
		citations = append(citations, c.Citation)
	}
	err = p.deps.Sessions.AddTurn(ctx, session, "assistant", out.Answer, "text",
		memory.TurnMetadata{
			RetrievedRegulations: regs,
			Citations:            citations,
			Confidence:           out.Confidence,
		})
	if err != nil {
		slog.Error("assistant turn append failed", "session_id", session.SessionID, "error", err)
		return
	}

	if err := p.deps.Sessions.UpdateUserProfile(ctx, session.UserID, session); err != nil {
		slog.Warn("user profile update failed", "user_id", session.UserID, "error", err)
	}
}

// fireUtilityUpdate runs the reward pass on its own detached context so it
// survives request cancellation but never outlives its own short budget.
func (p *Pipeline) fireUtilityUpdate(out *generate.Output, category string) {
	if p.deps.Utilities == nil {
		return
	}

	chunkIDs := make([]string, 0, len(out.Sources))
	cited := make(map[string]bool, len(out.Sources))
	for _, src := range out.Sources {
		chunkIDs = append(chunkIDs, src.ChunkID)
		cited[src.ChunkID] = isCited(src, out.Citations)
	}
	refusal := out.Confidence == "low" && generate.IsRefusal(out.Answer)
	confidence := out.Confidence

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), utilityTimeout)
		defer cancel()
		if err := p.deps.Utilities.Update(ctx, chunkIDs, cited, confidence, refusal, category); err != nil {
			slog.Error("utility update failed", "error", err)
		}
	}()
}

// isCited reports whether any extracted citation plausibly refers to
// this source: the citation's document token must appear in the breadcrumb.
func isCited(src generate.Source, citations []generate.Citation) bool {
	breadcrumb := strings.ToLower(src.Breadcrumb)
	if breadcrumb == "" {
		return false
	}
	for _, c := range citations {
		ref := strings.Trim(c.Citation, "[]")
		fields := strings.Fields(ref)
		if len(fields) == 0 {
			continue
		}
		doc := strings.ToLower(strings.Split(fields[0], "/")[0])
		doc = strings.TrimSuffix(doc, ".")
		if doc != "" && strings.Contains(breadcrumb, doc) {
			return true
		}
	}
	return false
}

var titleRefPattern = regexp.MustCompile(
	`(?i)(SOLAS|MARPOL|STCW|COLREG|ISM|ISPS|LSA|FSS|IBC|IGC|MSC|MEPC)\s*(Regulation\s*)?[\w\-/\.]+`)

// extractRegulationRefs derives the regulation references a turn surfaced,
// for the session working set. The regulation_number metadata field is often
// empty or just the document name, so the title is mined first.
func extractRegulationRefs(candidates []retrieve.Candidate, limit int) []string {
	var refs []string
	seen := map[string]bool{}

	for i := range candidates {
		if i >= limit {
			break
		}
		ref := regulationRef(candidates[i].Metadata)
		if ref == "" || seen[ref] {
			continue
		}
		seen[ref] = true
		refs = append(refs, ref)
	}
	return refs
}

func regulationRef(meta map[string]interface{}) string {
	title, _ := meta["title"].(string)
	if m := titleRefPattern.FindString(title); m != "" {
		return strings.TrimSpace(m)
	}

	doc, _ := meta["document"].(string)
	regNum, _ := meta["regulation_number"].(string)
	if regNum != "" && regNum != doc && len(regNum) > 3 {
		return regNum
	}

	if doc != "" && title != "" {
		short := strings.TrimSpace(truncateRunes(strings.TrimSpace(title), 60))
		return doc + ": " + short
	}
	return ""
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
