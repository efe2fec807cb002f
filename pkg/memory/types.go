// Package memory keeps per-session conversation state in Redis: the turn
// history, a working set of regulations and topics the conversation is
// about, and the coreference machinery that rewrites follow-up questions
// into self-contained queries.
package memory

import "time"

// Turn is one message in a conversation.
type Turn struct {
	TurnID    string       `json:"turn_id"`
	Role      string       `json:"role"`
	Content   string       `json:"content"`
	Timestamp time.Time    `json:"timestamp"`
	InputMode string       `json:"input_mode"`
	Metadata  TurnMetadata `json:"metadata"`
}

// TurnMetadata carries pipeline outputs attached to assistant turns.
type TurnMetadata struct {
	EnhancedQuery        string   `json:"enhanced_query,omitempty"`
	RetrievedRegulations []string `json:"retrieved_regulations,omitempty"`
	Citations            []string `json:"citations,omitempty"`
	Confidence           string   `json:"confidence,omitempty"`
}

// Session is the full state of one conversation. ActiveRegulations is an LRU
// list, most recent last.
type Session struct {
	SessionID         string   `json:"session_id"`
	UserID            string   `json:"user_id"`
	Turns             []Turn   `json:"turns"`
	ActiveRegulations []string `json:"active_regulations"`
	ActiveTopics      []string `json:"active_topics"`
	ActiveShipType    string   `json:"active_ship_type,omitempty"`
}

// LastAssistantTurn returns the most recent assistant turn, or nil.
func (s *Session) LastAssistantTurn() *Turn {
	for i := len(s.Turns) - 1; i >= 0; i-- {
		if s.Turns[i].Role == "assistant" {
			return &s.Turns[i]
		}
	}
	return nil
}

// UserProfile aggregates a user's query history across sessions.
type UserProfile struct {
	TotalQueries     int            `json:"total_queries"`
	RegulationCounts map[string]int `json:"regulation_counts"`
	ShipTypes        map[string]int `json:"ship_types"`
}
