package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/seaworthyhq/bvrag/pkg/httpclient"
)

// Spoken regulation numbers need distinct segment pronunciation, so the
// synthesis instructions are maritime-specific.
const maritimeInstructions = "Speak clearly and at a moderate pace. " +
	"When reading regulation numbers like 'II-1/3-6' or 'SOLAS Chapter XII', " +
	"pronounce each part distinctly with a brief pause between segments. " +
	"Emphasize numerical values such as dimensions, tonnage, and dates. " +
	"Maintain a professional, authoritative tone."

// TTSService synthesizes speech through the OpenAI audio API.
type TTSService struct {
	apiKey     string
	baseURL    string
	model      string
	voice      string
	httpClient *httpclient.Client
}

type TTSOption func(*TTSService)

func WithTTSBaseURL(url string) TTSOption {
	return func(s *TTSService) {
		s.baseURL = url
	}
}

func NewTTSService(apiKey, model, voice string, opts ...TTSOption) *TTSService {
	if model == "" {
		model = "gpt-4o-mini-tts"
	}
	if voice == "" {
		voice = "ash"
	}
	s := &TTSService{
		apiKey:  apiKey,
		baseURL: openAIHost,
		model:   model,
		voice:   voice,
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

// Synthesize returns mp3 audio bytes for the given text.
func (s *TTSService) Synthesize(ctx context.Context, text string) ([]byte, error) {
	body, err := json.Marshal(map[string]string{
		"model":           s.model,
		"voice":           s.voice,
		"input":           text,
		"instructions":    maritimeInstructions,
		"response_format": "mp3",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts request failed: %w", err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
	return audio, nil
}

var (
	sourceSectionRE = regexp.MustCompile(`(?is)\n*(参考来源|Sources:|References:).*$`)
	boldRE          = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	headingRE       = regexp.MustCompile(`#{1,6}\s*`)
	blockquoteRE    = regexp.MustCompile(`(?m)^>\s*`)
	listMarkerRE    = regexp.MustCompile(`(?m)^[-*]\s*`)
	urlRE           = regexp.MustCompile(`https?://\S+`)
	bracketRefRE    = regexp.MustCompile(`\[([^\]]+)\]`)
	blankRunsRE     = regexp.MustCompile(`\n{3,}`)
)

// PrepareTTSText strips markdown and source sections so the synthesized
// audio reads naturally, truncating at a sentence boundary near maxLength.
func PrepareTTSText(answer string, maxLength int) string {
	if maxLength <= 0 {
		maxLength = 1500
	}

	text := sourceSectionRE.ReplaceAllString(answer, "")
	text = boldRE.ReplaceAllString(text, "$1")
	text = headingRE.ReplaceAllString(text, "")
	text = blockquoteRE.ReplaceAllString(text, "")
	text = listMarkerRE.ReplaceAllString(text, "")
	text = urlRE.ReplaceAllString(text, "")
	text = bracketRefRE.ReplaceAllString(text, "$1")
	text = blankRunsRE.ReplaceAllString(text, "\n\n")
	text = strings.TrimSpace(text)

	runes := []rune(text)
	if len(runes) <= maxLength {
		return text
	}
	truncated := runes[:maxLength]
	for i := len(truncated) - 1; i > maxLength/2; i-- {
		if truncated[i] == '.' || truncated[i] == '。' {
			return string(truncated[:i+1])
		}
	}
	return string(truncated)
}
