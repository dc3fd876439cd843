package retrospect

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MessageManager keeps the in-memory, oldest-first view of one retrospect's
// messages consistent with the message store.
type MessageManager struct {
	retrospectID string
	store        MessageStore
	assistant    Assistant
	now          func() time.Time

	// sendMu serialises turns so a user message always precedes its reply.
	sendMu sync.Mutex

	mu       sync.RWMutex
	messages []Message
	seen     map[string]struct{}
	ended    bool
}

func NewMessageManager(retrospectID string, store MessageStore, assistant Assistant) *MessageManager {
	return &MessageManager{
		retrospectID: retrospectID,
		store:        store,
		assistant:    assistant,
		now:          now,
		seen:         make(map[string]struct{}),
	}
}

func (m *MessageManager) RetrospectID() string { return m.retrospectID }

// Messages returns a copy of the loaded messages, oldest first.
func (m *MessageManager) Messages() []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Message, len(m.messages))
	copy(out, m.messages)
	return out
}

func (m *MessageManager) Ended() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ended
}

// FetchMessages loads up to amount messages starting offset messages back
// from the newest one and merges them into the loaded list. It returns the
// newly added messages, oldest first. Running out of stored messages is not
// an error.
func (m *MessageManager) FetchMessages(ctx context.Context, offset, amount int) ([]Message, error) {
	if amount <= 0 {
		return nil, nil
	}
	if offset < 0 {
		offset = 0
	}

	fetched, err := m.store.FetchMessages(ctx, MessageQuery{
		RetrospectID: m.retrospectID,
		Offset:       offset,
		Limit:        amount,
	})
	if err != nil {
		return nil, storageError("fetch messages", err)
	}
	if len(fetched) > amount {
		fetched = fetched[:amount]
	}

	// Storage hands back newest first; present oldest first.
	page := make([]Message, 0, len(fetched))
	for i := len(fetched) - 1; i >= 0; i-- {
		page = append(page, fetched[i])
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	added := make([]Message, 0, len(page))
	for _, msg := range page {
		if _, dup := m.seen[msg.ID]; dup {
			continue
		}
		m.seen[msg.ID] = struct{}{}
		added = append(added, msg)
	}
	if len(added) == 0 {
		return nil, nil
	}

	merged := make([]Message, 0, len(added)+len(m.messages))
	merged = append(merged, added...)
	merged = append(merged, m.messages...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.Before(merged[j].CreatedAt)
	})
	m.messages = merged

	out := make([]Message, len(added))
	copy(out, added)
	return out, nil
}

// Send persists and appends a user turn, then asks the assistant for a reply
// over the loaded conversation and persists and appends that too. When the
// assistant fails the user turn stays committed and the error matches
// ErrAssistant.
func (m *MessageManager) Send(ctx context.Context, content string) (Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Message{}, ErrEmptyMessage
	}

	m.sendMu.Lock()
	defer m.sendMu.Unlock()

	if m.Ended() {
		return Message{}, ErrRetrospectEnded
	}

	userMsg := Message{
		ID:           uuid.NewString(),
		RetrospectID: m.retrospectID,
		Role:         RoleUser,
		Content:      content,
		CreatedAt:    m.now(),
	}
	stored, err := m.persist(ctx, userMsg)
	if err != nil {
		return Message{}, storageError("persist user message", err)
	}
	history := m.append(stored)

	reply, err := m.assistant.NextReply(ctx, history)
	if err != nil {
		return Message{}, assistantError("request assistant reply", err)
	}
	reply = m.normalizeReply(reply, stored.CreatedAt)

	storedReply, err := m.persist(ctx, reply)
	if err != nil {
		return Message{}, storageError("persist assistant message", err)
	}
	m.append(storedReply)
	return storedReply, nil
}

// EndRetrospect closes the stream for further sends. Calling it again is a
// no-op.
func (m *MessageManager) EndRetrospect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ended = true
}

func (m *MessageManager) persist(ctx context.Context, msg Message) (Message, error) {
	added, err := m.store.AddMessages(ctx, []Message{msg})
	if err != nil {
		return Message{}, err
	}
	if len(added) == 0 {
		return msg, nil
	}
	return added[0], nil
}

// append adds msg at the end and returns a snapshot of the conversation.
func (m *MessageManager) append(msg Message) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	m.seen[msg.ID] = struct{}{}
	out := make([]Message, len(m.messages))
	copy(out, m.messages)
	return out
}

func (m *MessageManager) normalizeReply(reply Message, after time.Time) Message {
	if reply.ID == "" {
		reply.ID = uuid.NewString()
	}
	reply.RetrospectID = m.retrospectID
	reply.Role = RoleAssistant
	reply.Content = strings.TrimSpace(reply.Content)
	created := m.now()
	if !created.After(after) {
		created = after.Add(time.Microsecond)
	}
	reply.CreatedAt = created
	return reply
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
