package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"github.com/seaworthyhq/bvrag/pkg/generate"
	"github.com/seaworthyhq/bvrag/pkg/llm"
	"github.com/seaworthyhq/bvrag/pkg/memory"
	"github.com/seaworthyhq/bvrag/pkg/pipeline"
	"github.com/seaworthyhq/bvrag/pkg/retrieve"
	"github.com/seaworthyhq/bvrag/pkg/voice"
)

const (
	maxAudioUploadBytes = 32 << 20
	searchTextPreview   = 500
	inspectTurnPreview  = 100
	inspectTurnWindow   = 4
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encode failed", "error", err)
	}
}

// errorEnvelope shapes a pipeline failure like a degraded answer so clients
// render it with the same code path as a success.
func errorEnvelope(sessionID, inputMode string, err error) *pipeline.Response {
	return &pipeline.Response{
		SessionID:  sessionID,
		AnswerText: pipeline.UserMessage(err),
		Confidence: "low",
		Citations:  []generate.Citation{},
		Sources:    []generate.Source{},
		Timing:     map[string]int64{},
		InputMode:  inputMode,
	}
}

func writePipelineError(w http.ResponseWriter, sessionID, inputMode string, err error) {
	slog.Warn("query failed", "session_id", sessionID, "error", err)
	writeJSON(w, pipeline.StatusCode(err), errorEnvelope(sessionID, inputMode, err))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTextQuery(w http.ResponseWriter, r *http.Request) {
	req := pipeline.TextRequest{
		Text:          r.FormValue("text"),
		SessionID:     r.FormValue("session_id"),
		UserID:        r.FormValue("user_id"),
		InputMode:     r.FormValue("input_mode"),
		GenerateAudio: parseBool(r.FormValue("generate_audio")),
	}
	if req.InputMode == "" {
		req.InputMode = "text"
	}

	start := time.Now()
	resp, err := s.deps.Pipeline.TextQuery(r.Context(), req)
	s.recordQuery(r.Context(), req.InputMode, resp, time.Since(start), err)
	if err != nil {
		writePipelineError(w, req.SessionID, req.InputMode, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// recordQuery feeds one completed turn into the metrics recorder.
func (s *Server) recordQuery(ctx context.Context, inputMode string, resp *pipeline.Response, duration time.Duration, err error) {
	if err != nil {
		s.deps.Metrics.RecordQuery(ctx, inputMode, "", duration, err)
		return
	}
	s.deps.Metrics.RecordQuery(ctx, inputMode, resp.Confidence, duration, nil)
	s.deps.Metrics.RecordStages(ctx, resp.Timing)
}

func (s *Server) handleVoiceQuery(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxAudioUploadBytes); err != nil {
		writePipelineError(w, "", "voice", pipeline.ErrInvalidInput)
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		writePipelineError(w, r.FormValue("session_id"), "voice", pipeline.ErrInvalidInput)
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		writePipelineError(w, r.FormValue("session_id"), "voice", pipeline.ErrInvalidInput)
		return
	}

	req := pipeline.VoiceRequest{
		Audio:     audio,
		Format:    audioFormat(header.Filename),
		Language:  r.FormValue("language"),
		SessionID: r.FormValue("session_id"),
		UserID:    r.FormValue("user_id"),
	}

	start := time.Now()
	resp, err := s.deps.Pipeline.VoiceQuery(r.Context(), req)
	s.recordQuery(r.Context(), "voice", resp, time.Since(start), err)
	if err != nil {
		writePipelineError(w, req.SessionID, "voice", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleTTS synthesises speech on demand, when the user asks to hear an
// answer that was generated without audio.
func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	if s.deps.TTS == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"answer_audio_base64": nil,
			"error":               "tts not configured",
		})
		return
	}

	text := voice.PrepareTTSText(r.FormValue("text"), 1500)
	if text == "" {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"answer_audio_base64": nil,
			"audio_format":        "mp3",
		})
		return
	}

	audio, err := s.deps.TTS.Synthesize(r.Context(), text)
	if err != nil {
		slog.Error("tts synthesis failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"answer_audio_base64": nil,
			"error":               "tts synthesis failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"answer_audio_base64": base64.StdEncoding.EncodeToString(audio),
		"audio_format":        "mp3",
	})
}

type searchRequest struct {
	Query          string `json:"query"`
	TopK           int    `json:"top_k"`
	DocumentFilter string `json:"document_filter"`
}

type searchHit struct {
	ChunkID  string                 `json:"chunk_id"`
	Text     string                 `json:"text"`
	Score    float64                `json:"score"`
	Metadata map[string]interface{} `json:"metadata"`
}

// handleSearch runs retrieval without generation, for debugging and
// offline evaluation.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var body searchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Query) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}
	if body.TopK <= 0 {
		body.TopK = 10
	}

	result, err := s.deps.Retriever.Retrieve(r.Context(), retrieve.Request{
		Query:          body.Query,
		EnhancedQuery:  body.Query,
		TopK:           body.TopK,
		DocumentFilter: body.DocumentFilter,
	})
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "retrieval unavailable"})
		return
	}

	hits := make([]searchHit, 0, len(result.Candidates))
	for _, c := range result.Candidates {
		score := c.Score
		if score == 0 {
			score = c.FusedScore
		}
		hits = append(hits, searchHit{
			ChunkID:  c.ChunkID,
			Text:     truncateRunes(c.Text, searchTextPreview),
			Score:    score,
			Metadata: c.Metadata,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"query":   body.Query,
		"partial": result.Partial,
		"results": hits,
	})
}

// handleRegulation returns the full regulation record plus its graph
// neighbourhood: children and cross-references in both directions.
func (s *Server) handleRegulation(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "doc_id")

	reg, err := s.deps.Lexical.GetRegulation(r.Context(), docID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "regulation not found", "doc_id": docID})
			return
		}
		slog.Error("regulation lookup failed", "doc_id", docID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "regulation store unavailable"})
		return
	}

	out := map[string]interface{}{"regulation": reg}
	if s.deps.Graph != nil {
		if children, err := s.deps.Graph.GetChildren(r.Context(), docID); err == nil {
			out["children"] = children
		} else {
			slog.Warn("children lookup failed", "doc_id", docID, "error", err)
		}
		if refs, err := s.deps.Graph.GetCrossReferences(r.Context(), docID); err == nil {
			out["cross_references"] = refs
		} else {
			slog.Warn("cross-reference lookup failed", "doc_id", docID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleStats aggregates corpus and session counts across the backends.
// Each backend is best-effort: an outage zeroes its fields rather than
// failing the whole endpoint.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	out := map[string]interface{}{}

	if s.deps.Lexical != nil {
		if stats, err := s.deps.Lexical.Stats(r.Context()); err == nil {
			for k, v := range stats {
				out[k] = v
			}
		} else {
			slog.Warn("lexical stats failed", "error", err)
		}
	}

	if s.deps.Vector != nil {
		if info, err := s.deps.Vector.Info(r.Context()); err == nil {
			out["vector_points"] = info["points_count"]
			out["vector_status"] = info["status"]
		} else {
			slog.Warn("vector info failed", "error", err)
		}
	}

	sessions := int64(-1)
	if s.deps.Sessions != nil {
		if n, err := s.deps.Sessions.SessionCount(r.Context()); err == nil {
			sessions = n
		} else {
			slog.Warn("session count failed", "error", err)
		}
	}
	out["sessions"] = sessions

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSessionInspect(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	session, err := s.deps.Sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, memory.ErrSessionNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found", "session_id": sessionID})
			return
		}
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "session store unavailable"})
		return
	}

	recent := session.Turns
	if len(recent) > inspectTurnWindow {
		recent = recent[len(recent)-inspectTurnWindow:]
	}
	turns := make([]map[string]interface{}, len(recent))
	for i, t := range recent {
		turns[i] = map[string]interface{}{
			"role":     t.Role,
			"content":  truncateRunes(t.Content, inspectTurnPreview),
			"metadata": t.Metadata,
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":         session.SessionID,
		"user_id":            session.UserID,
		"turns_count":        len(session.Turns),
		"active_regulations": session.ActiveRegulations,
		"active_topics":      session.ActiveTopics,
		"active_ship_type":   session.ActiveShipType,
		"turns":              turns,
	})
}

func (s *Server) handleUtilityStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Utilities == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "utility store not configured"})
		return
	}

	stats, err := s.deps.Utilities.Stats(r.Context())
	if err != nil {
		slog.Error("utility stats failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "utility store unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"categories": stats,
	})
}

func (s *Server) handleLLMUsage(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, llm.GetUsageStats())
}

// handleReloadKnowledge rebuilds the practical-knowledge index from disk.
// The swap is atomic; queries in flight keep the old index.
func (s *Server) handleReloadKnowledge(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Knowledge == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "knowledge index not configured"})
		return
	}

	if err := s.deps.Knowledge.Reload(); err != nil {
		slog.Error("knowledge reload failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "reload failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"entries": s.deps.Knowledge.Len(),
	})
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}

// audioFormat derives the container format from the uploaded filename,
// defaulting to webm which is what browser recorders produce.
func audioFormat(filename string) string {
	ext := strings.TrimPrefix(filepath.Ext(filename), ".")
	if ext == "" {
		return "webm"
	}
	return strings.ToLower(ext)
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
