package session

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luowen-ai/wechat-relay/internal/model"
)

func TestHistorySeedsSystemMessageFirst(t *testing.T) {
	s := NewStore("你是一个助手", 10000)

	history := s.History("wechat_mp:u1")
	require.Len(t, history, 1)
	assert.Equal(t, model.RoleSystem, history[0].Role)
	assert.True(t, strings.HasPrefix(history[0].Content, "你是一个助手"))
}

func TestSystemMessageUniqueAndFirst(t *testing.T) {
	s := NewStore("persona", 10000)
	key := "wechat_mp:u1"

	for i := 0; i < 6; i++ {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		s.Append(key, model.ChatMessage{Role: role, Content: fmt.Sprintf("msg %d", i)})
		// Interleave reads; seeding must stay idempotent.
		_ = s.History(key)
	}

	history := s.History(key)
	systemCount := 0
	for _, msg := range history {
		if msg.Role == model.RoleSystem {
			systemCount++
		}
	}
	assert.Equal(t, 1, systemCount)
	assert.Equal(t, model.RoleSystem, history[0].Role)
}

func TestNoSystemMessageWithoutPersona(t *testing.T) {
	s := NewStore("", 10000)
	key := "wechat_mp:u1"

	s.Append(key, model.ChatMessage{Role: model.RoleUser, Content: "hi"})
	history := s.History(key)
	require.Len(t, history, 1)
	assert.Equal(t, model.RoleUser, history[0].Role)
}

func TestTrimmingRemovesOldestPairs(t *testing.T) {
	// Budget of 100 tokens ≈ 142 characters at 0.7 tokens/char.
	s := NewStore("", 100)
	key := "wechat_mp:u1"

	long := strings.Repeat("a", 50)
	for i := 0; i < 10; i++ {
		s.Append(key, model.ChatMessage{Role: model.RoleUser, Content: long})
		s.Append(key, model.ChatMessage{Role: model.RoleAssistant, Content: long})
	}

	history := s.History(key)

	nonSystem := 0
	chars := 0
	for _, msg := range history {
		if msg.Role != model.RoleSystem {
			nonSystem++
		}
		chars += len([]rune(msg.Content))
	}

	// Trimming stops once the estimate fits the budget or the floor of
	// non-system messages is reached.
	withinBudget := float64(chars)*tokensPerChar <= 100
	assert.True(t, withinBudget || nonSystem <= minHistory,
		"history neither within budget nor at floor: %d msgs, %d chars", nonSystem, chars)
	assert.GreaterOrEqual(t, nonSystem, 3)
}

func TestTrimmingKeepsSystemMessage(t *testing.T) {
	s := NewStore("persona", 50)
	key := "wechat_mp:u1"

	long := strings.Repeat("b", 200)
	for i := 0; i < 8; i++ {
		s.Append(key, model.ChatMessage{Role: model.RoleUser, Content: long})
		s.Append(key, model.ChatMessage{Role: model.RoleAssistant, Content: long})
	}

	history := s.History(key)
	require.NotEmpty(t, history)
	assert.Equal(t, model.RoleSystem, history[0].Role)
}

func TestTrimmingPreservesShortHistories(t *testing.T) {
	s := NewStore("", 1000000)
	key := "wechat_mp:u1"

	s.Append(key, model.ChatMessage{Role: model.RoleUser, Content: "question"})
	s.Append(key, model.ChatMessage{Role: model.RoleAssistant, Content: "answer"})

	history := s.History(key)
	require.Len(t, history, 2)
	assert.Equal(t, "question", history[0].Content)
	assert.Equal(t, "answer", history[1].Content)
}

func TestHistoryReturnsCopy(t *testing.T) {
	s := NewStore("", 10000)
	key := "wechat_mp:u1"
	s.Append(key, model.ChatMessage{Role: model.RoleUser, Content: "original"})

	history := s.History(key)
	history[0].Content = "mutated"

	assert.Equal(t, "original", s.History(key)[0].Content)
}

func TestConcurrentAppends(t *testing.T) {
	s := NewStore("persona", 1000000)
	key := "wechat_mp:u1"

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Append(key, model.ChatMessage{Role: model.RoleUser, Content: fmt.Sprintf("m%d", i)})
			_ = s.History(key)
		}(i)
	}
	wg.Wait()

	history := s.History(key)
	assert.Len(t, history, 21) // system + 20 appends
	assert.Equal(t, model.RoleSystem, history[0].Role)
}
