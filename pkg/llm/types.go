package llm

import "context"

// Message is a single chat turn sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage reports token consumption for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ChatRequest is a non-streaming completion request.
type ChatRequest struct {
	Model     string
	System    string
	Messages  []Message
	MaxTokens int
}

// Result is the model's reply plus accounting metadata.
type Result struct {
	Text  string
	Model string
	Usage Usage
}

// Provider is the chat-completion interface the generator and the
// coreference resolver depend on.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*Result, error)
}
