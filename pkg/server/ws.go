package server

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/seaworthyhq/bvrag/pkg/pipeline"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The HTTP client is the browser extension and the web UI; same CORS
	// posture as the REST endpoints.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsMessage is a client frame. Type selects the field that carries the
// payload: "text" uses Text, "audio" carries base64 audio, and
// "clarify_response" merges a follow-up into the original question.
type wsMessage struct {
	Type          string `json:"type"`
	Text          string `json:"text"`
	Audio         string `json:"audio"`
	OriginalQuery string `json:"original_query"`
	Supplement    string `json:"supplement"`
}

type wsResponse struct {
	Type string `json:"type"`
	*pipeline.Response
}

type wsError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// handleWebSocket serves a long-lived conversation: one JSON request frame
// in, one response frame out, until the client disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "session_id", sessionID, "error", err)
		return
	}
	defer conn.Close()

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("websocket read failed", "session_id", sessionID, "error", err)
			} else {
				slog.Debug("websocket disconnected", "session_id", sessionID)
			}
			return
		}

		start := time.Now()
		resp, err := s.dispatchWS(r, sessionID, msg)
		s.recordQuery(r.Context(), "ws", resp, time.Since(start), err)
		if err != nil {
			if writeErr := conn.WriteJSON(wsError{Type: "error", Message: pipeline.UserMessage(err)}); writeErr != nil {
				return
			}
			continue
		}

		if err := conn.WriteJSON(wsResponse{Type: "response", Response: resp}); err != nil {
			slog.Warn("websocket write failed", "session_id", sessionID, "error", err)
			return
		}
	}
}

func (s *Server) dispatchWS(r *http.Request, sessionID string, msg wsMessage) (*pipeline.Response, error) {
	ctx := r.Context()

	switch msg.Type {
	case "audio":
		audio, err := base64.StdEncoding.DecodeString(msg.Audio)
		if err != nil || len(audio) == 0 {
			return nil, pipeline.ErrInvalidInput
		}
		return s.deps.Pipeline.VoiceQuery(ctx, pipeline.VoiceRequest{
			Audio:     audio,
			Format:    "webm",
			SessionID: sessionID,
		})
	case "clarify_response":
		merged := msg.OriginalQuery + "（补充信息：" + msg.Supplement + "）"
		return s.deps.Pipeline.TextQuery(ctx, pipeline.TextRequest{
			Text:      merged,
			SessionID: sessionID,
			InputMode: "text",
		})
	default:
		return s.deps.Pipeline.TextQuery(ctx, pipeline.TextRequest{
			Text:      msg.Text,
			SessionID: sessionID,
			InputMode: "text",
		})
	}
}
