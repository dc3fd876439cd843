package retrospect

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

var errInjected = errors.New("injected failure")

// fakeStore is a map-backed Store with per-operation failure switches.
type fakeStore struct {
	mu          sync.Mutex
	retrospects map[string]Retrospect
	messages    []Message

	failAdd, failFetch, failUpdate, failDelete bool
	failAddMessages, failFetchMessages         bool

	updates      int
	fetchQueries []Query
}

func newFakeStore() *fakeStore {
	return &fakeStore{retrospects: make(map[string]Retrospect)}
}

func (s *fakeStore) AddRetrospects(_ context.Context, records []Retrospect) ([]Retrospect, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAdd {
		return nil, errInjected
	}
	for _, r := range records {
		s.retrospects[r.ID] = r
	}
	return append([]Retrospect(nil), records...), nil
}

func (s *fakeStore) FetchRetrospects(_ context.Context, q Query) ([]Retrospect, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchQueries = append(s.fetchQueries, q)
	if s.failFetch {
		return nil, errInjected
	}
	var out []Retrospect
	for _, r := range s.retrospects {
		if q.Predicate.Matches(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *fakeStore) UpdateRetrospect(_ context.Context, old, updated Retrospect) (Retrospect, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdate {
		return Retrospect{}, errInjected
	}
	current, ok := s.retrospects[old.ID]
	if !ok {
		return Retrospect{}, ErrStoreNotFound
	}
	if !current.Equal(old) {
		return Retrospect{}, ErrStoreConflict
	}
	s.retrospects[updated.ID] = updated
	s.updates++
	return updated, nil
}

func (s *fakeStore) DeleteRetrospects(_ context.Context, records []Retrospect) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDelete {
		return errInjected
	}
	for _, r := range records {
		delete(s.retrospects, r.ID)
	}
	return nil
}

func (s *fakeStore) AddMessages(_ context.Context, msgs []Message) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAddMessages {
		return nil, errInjected
	}
	s.messages = append(s.messages, msgs...)
	return append([]Message(nil), msgs...), nil
}

func (s *fakeStore) FetchMessages(_ context.Context, q MessageQuery) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFetchMessages {
		return nil, errInjected
	}
	var matched []Message
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].RetrospectID == q.RetrospectID {
			matched = append(matched, s.messages[i])
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	if q.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[q.Offset:]
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) stored(id string) (Retrospect, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.retrospects[id]
	return r, ok
}

func (s *fakeStore) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// fakeAssistant echoes the last user turn and summarises by joining user turns.
type fakeAssistant struct {
	mu           sync.Mutex
	failReply    bool
	failSummary  bool
	replyCalls   int
	summaryCalls int
	lastHistory  []Message
}

func (a *fakeAssistant) NextReply(_ context.Context, history []Message) (Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.replyCalls++
	a.lastHistory = append([]Message(nil), history...)
	if a.failReply {
		return Message{}, errInjected
	}
	last := history[len(history)-1]
	return Message{Content: "echo: " + last.Content}, nil
}

func (a *fakeAssistant) Summarize(_ context.Context, history []Message) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.summaryCalls++
	a.lastHistory = append([]Message(nil), history...)
	if a.failSummary {
		return "", errInjected
	}
	var parts []string
	for _, m := range history {
		if m.Role == RoleUser {
			parts = append(parts, m.Content)
		}
	}
	return "summary: " + strings.Join(parts, "; "), nil
}

var fixtureBase = time.Date(2024, 11, 5, 9, 0, 0, 0, time.UTC)

// seedMessages stores n messages alternating user/assistant, one second apart.
func seedMessages(s *fakeStore, retrospectID string, n int) []Message {
	out := make([]Message, 0, n)
	for i := 0; i < n; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		out = append(out, Message{
			ID:           retrospectID + "-m" + string(rune('0'+i)),
			RetrospectID: retrospectID,
			Role:         role,
			Content:      "message " + string(rune('0'+i)),
			CreatedAt:    fixtureBase.Add(time.Duration(i) * time.Second),
		})
	}
	s.mu.Lock()
	s.messages = append(s.messages, out...)
	s.mu.Unlock()
	return out
}

func seedRetrospect(s *fakeStore, id string, status Status, pinned bool, offset time.Duration) Retrospect {
	r := Retrospect{
		ID:        id,
		UserID:    "user-1",
		Status:    status,
		IsPinned:  pinned,
		CreatedAt: fixtureBase.Add(offset),
	}
	s.mu.Lock()
	s.retrospects[id] = r
	s.mu.Unlock()
	return r
}

func messageIDs(msgs []Message) []string {
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}
