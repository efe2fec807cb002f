package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/seaworthyhq/bvrag/pkg/classify"
	"github.com/seaworthyhq/bvrag/pkg/utility"
)

// ErrSessionNotFound is returned when a session id has no record, either
// because it never existed or because it expired.
var ErrSessionNotFound = errors.New("session not found")

// maxActiveRegulations bounds the working set; oldest entries fall off.
const maxActiveRegulations = 20

// citationRe extracts bracketed regulation citations from answer text.
var citationRe = regexp.MustCompile(`\[(SOLAS|MARPOL|MSC|MEPC|ISM|ISPS|Resolution|LSA|FSS|FTP|STCW|COLREG)[^\]]*\]`)

// Store persists sessions and user profiles in Redis.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore connects to Redis using a redis:// URL and verifies the
// connection.
func NewStore(ctx context.Context, redisURL string, ttl time.Duration) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &Store{client: client, ttl: ttl}, nil
}

// NewStoreFromClient wraps an existing client.
func NewStoreFromClient(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func sessionKey(id string) string { return "session:" + id }
func profileKey(id string) string { return "user_profile:" + id }

// CreateSession makes and persists an empty session. A supplied sessionID
// is honored so a client-chosen id that expired server-side can be revived;
// an empty id gets a fresh UUID.
func (s *Store) CreateSession(ctx context.Context, userID, sessionID string) (*Session, error) {
	if userID == "" {
		userID = "anonymous"
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	session := &Session{
		SessionID: sessionID,
		UserID:    userID,
	}
	if err := s.SaveSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// GetSession loads a session; ErrSessionNotFound when absent or expired.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", sessionID, err)
	}
	return &session, nil
}

// SessionCount counts live sessions, used by the admin stats endpoint.
func (s *Store) SessionCount(ctx context.Context) (int64, error) {
	var count int64
	iter := s.client.Scan(ctx, 0, sessionKey("*"), 500).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan sessions: %w", err)
	}
	return count, nil
}

// SaveSession writes the session back with a refreshed TTL, so the session
// expires after the configured inactivity interval.
func (s *Store) SaveSession(ctx context.Context, session *Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(session.SessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session %s: %w", session.SessionID, err)
	}
	return nil
}

// AddTurn appends a turn, updates the session's working set, and persists.
// User turns refresh the active ship type and topics by keyword scan;
// assistant turns push retrieved regulations and citations extracted from
// the answer onto the active-regulations LRU.
func (s *Store) AddTurn(ctx context.Context, session *Session, role, content, inputMode string, metadata TurnMetadata) error {
	session.Turns = append(session.Turns, Turn{
		TurnID:    uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
		InputMode: inputMode,
		Metadata:  metadata,
	})

	switch role {
	case "user":
		if info := classify.Classify(content).ShipInfo; info.Type != "" {
			session.ActiveShipType = info.Type
		}
		if topic := utility.Categorize(content); topic != utility.CategoryGeneral {
			session.ActiveTopics = pushLRU(session.ActiveTopics, topic, maxActiveRegulations)
		}
	case "assistant":
		for _, reg := range metadata.RetrievedRegulations {
			session.ActiveRegulations = pushLRU(session.ActiveRegulations, reg, maxActiveRegulations)
		}
		for _, cite := range ExtractCitations(content) {
			session.ActiveRegulations = pushLRU(session.ActiveRegulations, cite, maxActiveRegulations)
		}
	}

	return s.SaveSession(ctx, session)
}

// ExtractCitations returns the bracketed regulation references in text,
// brackets stripped, order preserved, deduplicated.
func ExtractCitations(text string) []string {
	matches := citationRe.FindAllString(text, -1)
	seen := make(map[string]struct{}, len(matches))
	refs := make([]string, 0, len(matches))
	for _, m := range matches {
		ref := m[1 : len(m)-1]
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}
		refs = append(refs, ref)
	}
	return refs
}

// pushLRU appends v, moving it to the back if already present, and trims the
// front to max entries.
func pushLRU(list []string, v string, max int) []string {
	for i, existing := range list {
		if existing == v {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	list = append(list, v)
	if len(list) > max {
		list = list[len(list)-max:]
	}
	return list
}

// UpdateUserProfile folds the session's activity into the user's long-lived
// profile. Profiles have no TTL.
func (s *Store) UpdateUserProfile(ctx context.Context, userID string, session *Session) error {
	profile := &UserProfile{
		RegulationCounts: map[string]int{},
		ShipTypes:        map[string]int{},
	}
	if data, err := s.client.Get(ctx, profileKey(userID)).Bytes(); err == nil {
		if err := json.Unmarshal(data, profile); err != nil {
			return fmt.Errorf("failed to decode profile %s: %w", userID, err)
		}
		if profile.RegulationCounts == nil {
			profile.RegulationCounts = map[string]int{}
		}
		if profile.ShipTypes == nil {
			profile.ShipTypes = map[string]int{}
		}
	} else if !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to load profile %s: %w", userID, err)
	}

	for _, t := range session.Turns {
		if t.Role == "user" {
			profile.TotalQueries++
		}
	}
	for _, reg := range session.ActiveRegulations {
		profile.RegulationCounts[reg]++
	}
	if session.ActiveShipType != "" {
		profile.ShipTypes[session.ActiveShipType]++
	}

	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	if err := s.client.Set(ctx, profileKey(userID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save profile %s: %w", userID, err)
	}
	return nil
}

// UserContext renders a one-line summary of the user's most-queried
// regulations for prompt injection. Empty when the user has no history.
func (s *Store) UserContext(ctx context.Context, userID string) (string, error) {
	data, err := s.client.Get(ctx, profileKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load profile %s: %w", userID, err)
	}

	var profile UserProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return "", fmt.Errorf("failed to decode profile %s: %w", userID, err)
	}
	if len(profile.RegulationCounts) == 0 {
		return "", nil
	}

	type regCount struct {
		reg   string
		count int
	}
	counts := make([]regCount, 0, len(profile.RegulationCounts))
	for reg, count := range profile.RegulationCounts {
		counts = append(counts, regCount{reg, count})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].count != counts[j].count {
			return counts[i].count > counts[j].count
		}
		return counts[i].reg < counts[j].reg
	})
	if len(counts) > 5 {
		counts = counts[:5]
	}

	parts := make([]string, len(counts))
	for i, c := range counts {
		parts[i] = fmt.Sprintf("%s(%d次)", c.reg, c.count)
	}
	return "用户常查法规: " + strings.Join(parts, ", "), nil
}

// Close releases the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}
