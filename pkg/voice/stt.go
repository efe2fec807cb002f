package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/seaworthyhq/bvrag/pkg/httpclient"
)

const openAIHost = "https://api.openai.com/v1"

// Transcription is the STT result.
type Transcription struct {
	Text      string `json:"text"`
	ModelUsed string `json:"model_used"`
	LatencyMS int64  `json:"latency_ms"`
}

// STTService transcribes audio through the OpenAI audio API, falling back
// to whisper-1 when the primary transcribe model fails.
type STTService struct {
	apiKey        string
	baseURL       string
	model         string
	fallbackModel string
	httpClient    *httpclient.Client
}

type STTOption func(*STTService)

func WithSTTBaseURL(url string) STTOption {
	return func(s *STTService) {
		s.baseURL = url
	}
}

func NewSTTService(apiKey, model string, opts ...STTOption) *STTService {
	if model == "" {
		model = "gpt-4o-mini-transcribe"
	}
	s := &STTService{
		apiKey:        apiKey,
		baseURL:       openAIHost,
		model:         model,
		fallbackModel: "whisper-1",
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: 60 * time.Second}),
			httpclient.WithMaxRetries(2),
			httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
		),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Transcribe converts audio bytes to text.
func (s *STTService) Transcribe(ctx context.Context, audio []byte, format, language string) (*Transcription, error) {
	start := time.Now()

	text, err := s.transcribeWith(ctx, s.model, audio, format, language)
	modelUsed := s.model
	if err != nil {
		slog.Warn("[STT] primary model failed, falling back",
			"model", s.model, "fallback", s.fallbackModel, "error", err)
		text, err = s.transcribeWith(ctx, s.fallbackModel, audio, format, language)
		modelUsed = s.fallbackModel
		if err != nil {
			return nil, fmt.Errorf("stt transcription failed: %w", err)
		}
	}

	return &Transcription{
		Text:      text,
		ModelUsed: modelUsed,
		LatencyMS: time.Since(start).Milliseconds(),
	}, nil
}

func (s *STTService) transcribeWith(ctx context.Context, model string, audio []byte, format, language string) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("file", "audio."+format)
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("failed to write audio: %w", err)
	}
	if err := mw.WriteField("model", model); err != nil {
		return "", fmt.Errorf("failed to write model field: %w", err)
	}
	if language != "" {
		if err := mw.WriteField("language", language); err != nil {
			return "", fmt.Errorf("failed to write language field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var parsed struct {
		Text  string `json:"text"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("openai API error: %s", parsed.Error.Message)
	}
	return parsed.Text, nil
}
