// Package session provides the per-user conversation store.
package session

import (
	"sync"

	"github.com/luowen-ai/wechat-relay/internal/model"
)

// lengthHint is appended to the configured persona so the model keeps
// replies inside the platform's single-message ceiling.
const lengthHint = "注意：你的回复会在微信公众号显示，过长的回复将被自动分段发送。" +
	"如果可能，尽量控制单次回复长度在2000字以内，但不要因此牺牲回答质量。"

// tokensPerChar is the rough token cost estimate per character used by
// the trimming policy.
const tokensPerChar = 0.7

// minHistory is the floor of non-system messages kept regardless of the
// token budget, so the model always sees minimal context.
const minHistory = 4

// Conversation holds the ordered message history of one session. At most
// one system message exists and it is always first.
type Conversation struct {
	Key      string
	Messages []model.ChatMessage
}

// Store owns the session-key → conversation mapping. All access goes
// through one coarse lock; operations are O(small history) and the
// external API call, not the store, is the throughput bottleneck.
type Store struct {
	mu        sync.Mutex
	sessions  map[string]*Conversation
	persona   string
	maxTokens int
}

// NewStore creates a conversation store. persona, when non-empty, is the
// system prompt seeded into every session; maxTokens is the trimming
// budget for the estimated token cost of a history.
func NewStore(persona string, maxTokens int) *Store {
	return &Store{
		sessions:  make(map[string]*Conversation),
		persona:   persona,
		maxTokens: maxTokens,
	}
}

// systemPrompt composes the persona with the platform length hint.
func (s *Store) systemPrompt() string {
	if s.persona == "" {
		return ""
	}
	return s.persona + "\n\n" + lengthHint
}

// getOrCreate returns the conversation for key, creating it on first
// reference and seeding the system message if one is configured and
// absent. Seeding is enforced on every access, so sessions created
// before a persona was configured pick it up too. Caller holds s.mu.
func (s *Store) getOrCreate(key string) *Conversation {
	conv, ok := s.sessions[key]
	if !ok {
		conv = &Conversation{Key: key}
		s.sessions[key] = conv
	}

	if prompt := s.systemPrompt(); prompt != "" {
		hasSystem := false
		for _, msg := range conv.Messages {
			if msg.Role == model.RoleSystem {
				hasSystem = true
				break
			}
		}
		if !hasSystem {
			conv.Messages = append([]model.ChatMessage{{
				Role:    model.RoleSystem,
				Content: prompt,
			}}, conv.Messages...)
		}
	}

	return conv
}

// History returns a copy of the session's message history, creating the
// session if needed.
func (s *Store) History(key string) []model.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.getOrCreate(key)
	out := make([]model.ChatMessage, len(conv.Messages))
	copy(out, conv.Messages)
	return out
}

// Append adds a message to the session's history and trims the history
// back inside the token budget.
func (s *Store) Append(key string, msg model.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.getOrCreate(key)
	conv.Messages = append(conv.Messages, msg)
	s.trim(conv)
}

// trim removes oldest (user, assistant) pairs until the estimated token
// cost fits the budget or only minHistory non-system messages remain.
// The system message is never removed. Caller holds s.mu.
func (s *Store) trim(conv *Conversation) {
	if len(conv.Messages) < 3 {
		return
	}

	var system, other []model.ChatMessage
	for _, msg := range conv.Messages {
		if msg.Role == model.RoleSystem {
			system = append(system, msg)
		} else {
			other = append(other, msg)
		}
	}

	for estimate(system, other) > float64(s.maxTokens) && len(other) > minHistory {
		other = other[1:]
		if len(other) > 0 && other[0].Role == model.RoleAssistant {
			other = other[1:]
		}
	}

	conv.Messages = append(system, other...)
}

func estimate(system, other []model.ChatMessage) float64 {
	chars := 0
	for _, msg := range system {
		chars += len([]rune(msg.Content))
	}
	for _, msg := range other {
		chars += len([]rune(msg.Content))
	}
	return float64(chars) * tokensPerChar
}
