package pipeline

import (
	"context"
	"errors"
	"net/http"
)

// Sentinel errors for the failure domains a request can end in. Handlers
// map them onto HTTP status codes and a bilingual user-facing message.
var (
	ErrInvalidInput            = errors.New("invalid input")
	ErrRetrievalUnavailable    = errors.New("retrieval unavailable")
	ErrGenerationUnavailable   = errors.New("generation unavailable")
	ErrTranscriptionFailed     = errors.New("transcription failed")
	ErrSessionStoreUnavailable = errors.New("session store unavailable")
)

// StatusCode maps a pipeline error onto an HTTP status: 400 for bad input,
// 408 for deadline expiry, 503 for upstream outages, 500 otherwise.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	case errors.Is(err, context.Canceled):
		return 499 // client closed request
	case errors.Is(err, ErrRetrievalUnavailable),
		errors.Is(err, ErrGenerationUnavailable),
		errors.Is(err, ErrTranscriptionFailed),
		errors.Is(err, ErrSessionStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// UserMessage describes the failure domain in the answer style the client
// already renders, so error envelopes read like degraded answers.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "请求无效，请检查输入 / invalid request input"
	case errors.Is(err, context.DeadlineExceeded):
		return "请求超时，请稍后重试 / request timed out"
	case errors.Is(err, ErrRetrievalUnavailable):
		return "检索暂时不可用，请稍后重试 / retrieval temporarily unavailable"
	case errors.Is(err, ErrGenerationUnavailable):
		return "回答生成暂时不可用，请稍后重试 / answer generation temporarily unavailable"
	case errors.Is(err, ErrTranscriptionFailed):
		return "语音识别失败，请重新录音 / transcription failed"
	default:
		return "服务内部错误 / internal error"
	}
}
