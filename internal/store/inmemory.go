package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ent0n29/retrotalk/internal/retrospect"
)

type storedRetrospect struct {
	record retrospect.Retrospect
	seq    int64
}

type storedMessage struct {
	msg retrospect.Message
	seq int64
}

// InMemoryStore is a simple in-process retrospect store for local/dev use.
type InMemoryStore struct {
	mu          sync.RWMutex
	seq         int64
	retrospects map[string]storedRetrospect
	messages    map[string][]storedMessage
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		retrospects: make(map[string]storedRetrospect),
		messages:    make(map[string][]storedMessage),
	}
}

func (s *InMemoryStore) AddRetrospects(_ context.Context, records []retrospect.Retrospect) ([]retrospect.Retrospect, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		if strings.TrimSpace(r.ID) == "" {
			return nil, fmt.Errorf("add retrospect: empty id")
		}
		if _, exists := s.retrospects[r.ID]; exists {
			return nil, fmt.Errorf("add retrospect %s: %w", r.ID, retrospect.ErrStoreConflict)
		}
	}
	out := make([]retrospect.Retrospect, 0, len(records))
	for _, r := range records {
		s.seq++
		s.retrospects[r.ID] = storedRetrospect{record: r, seq: s.seq}
		out = append(out, r)
	}
	return out, nil
}

func (s *InMemoryStore) FetchRetrospects(_ context.Context, q retrospect.Query) ([]retrospect.Retrospect, error) {
	if q.Sort.Key != "" && q.Sort.Key != retrospect.SortKeyCreatedAt {
		return nil, fmt.Errorf("fetch retrospects: unsupported sort key %q", q.Sort.Key)
	}

	s.mu.RLock()
	matched := make([]storedRetrospect, 0, len(s.retrospects))
	for _, item := range s.retrospects {
		if q.Predicate.Matches(item.record) {
			matched = append(matched, item)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.record.CreatedAt.Equal(b.record.CreatedAt) {
			if q.Sort.Ascending {
				return a.record.CreatedAt.Before(b.record.CreatedAt)
			}
			return a.record.CreatedAt.After(b.record.CreatedAt)
		}
		if q.Sort.Ascending {
			return a.seq < b.seq
		}
		return a.seq > b.seq
	})

	out := make([]retrospect.Retrospect, 0, len(matched))
	for _, item := range window(len(matched), q.Offset, q.Limit) {
		out = append(out, matched[item].record)
	}
	return out, nil
}

func (s *InMemoryStore) UpdateRetrospect(_ context.Context, old, updated retrospect.Retrospect) (retrospect.Retrospect, error) {
	if old.ID != updated.ID {
		return retrospect.Retrospect{}, fmt.Errorf("update retrospect: id mismatch %s != %s", old.ID, updated.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.retrospects[old.ID]
	if !ok {
		return retrospect.Retrospect{}, fmt.Errorf("update retrospect %s: %w", old.ID, retrospect.ErrStoreNotFound)
	}
	if !sameVersion(current.record, old) {
		return retrospect.Retrospect{}, fmt.Errorf("update retrospect %s: %w", old.ID, retrospect.ErrStoreConflict)
	}
	next := current.record
	next.Status = updated.Status
	next.IsPinned = updated.IsPinned
	next.Summary = updated.Summary
	current.record = next
	s.retrospects[old.ID] = current
	return next, nil
}

func (s *InMemoryStore) DeleteRetrospects(_ context.Context, records []retrospect.Retrospect) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		if _, ok := s.retrospects[r.ID]; !ok {
			return fmt.Errorf("delete retrospect %s: %w", r.ID, retrospect.ErrStoreNotFound)
		}
	}
	for _, r := range records {
		delete(s.retrospects, r.ID)
		delete(s.messages, r.ID)
	}
	return nil
}

func (s *InMemoryStore) AddMessages(_ context.Context, msgs []retrospect.Message) ([]retrospect.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range msgs {
		if _, ok := s.retrospects[m.RetrospectID]; !ok {
			return nil, fmt.Errorf("add message to %s: %w", m.RetrospectID, retrospect.ErrStoreNotFound)
		}
	}
	out := make([]retrospect.Message, 0, len(msgs))
	for _, m := range msgs {
		s.seq++
		s.messages[m.RetrospectID] = append(s.messages[m.RetrospectID], storedMessage{msg: m, seq: s.seq})
		out = append(out, m)
	}
	return out, nil
}

func (s *InMemoryStore) FetchMessages(_ context.Context, q retrospect.MessageQuery) ([]retrospect.Message, error) {
	s.mu.RLock()
	arr := append([]storedMessage(nil), s.messages[q.RetrospectID]...)
	s.mu.RUnlock()

	sort.Slice(arr, func(i, j int) bool {
		if !arr[i].msg.CreatedAt.Equal(arr[j].msg.CreatedAt) {
			return arr[i].msg.CreatedAt.After(arr[j].msg.CreatedAt)
		}
		return arr[i].seq > arr[j].seq
	})

	idx := window(len(arr), q.Offset, q.Limit)
	out := make([]retrospect.Message, 0, len(idx))
	for _, i := range idx {
		out = append(out, arr[i].msg)
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }

// window returns the indexes of [offset, offset+limit) clamped to n.
// limit <= 0 means everything after offset.
func window(n, offset, limit int) []int {
	if offset < 0 {
		offset = 0
	}
	if offset >= n {
		return nil
	}
	end := n
	if limit > 0 && offset+limit < n {
		end = offset + limit
	}
	out := make([]int, 0, end-offset)
	for i := offset; i < end; i++ {
		out = append(out, i)
	}
	return out
}

// sameVersion compares the mutable columns used for optimistic updates.
func sameVersion(a, b retrospect.Retrospect) bool {
	return a.Status == b.Status && a.IsPinned == b.IsPinned && a.Summary == b.Summary
}
