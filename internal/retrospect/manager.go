package retrospect

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Manager owns one user's retrospect collection. The collection is the
// authoritative working set: limits are checked against it, and storage is
// kept in step through explicit add/update/delete calls.
//
// Every mutating call records its outcome in the last-error slot as well as
// returning it.
type Manager struct {
	userID    string
	store     Store
	assistant Assistant
	logger    zerolog.Logger
	now       func() time.Time

	mu      sync.Mutex
	order   []string
	byID    map[string]Retrospect
	lastErr error

	subscribers map[int]chan Event
	nextSubID   int
}

func NewManager(userID string, store Store, assistant Assistant, logger zerolog.Logger) *Manager {
	return &Manager{
		userID:      userID,
		store:       store,
		assistant:   assistant,
		logger:      logger.With().Str("user_id", userID).Logger(),
		now:         now,
		byID:        make(map[string]Retrospect),
		subscribers: make(map[int]chan Event),
	}
}

func (m *Manager) UserID() string { return m.userID }

// Retrospects returns the collection in insertion order.
func (m *Manager) Retrospects() []Retrospect {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Retrospect, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.byID[id])
	}
	return out
}

func (m *Manager) Retrospect(id string) (Retrospect, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byID[id]
	return r, ok
}

// LastError returns the failure of the most recent operation, or nil.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Counts returns how many resident retrospects are in progress and pinned.
func (m *Manager) Counts() (inProgress, pinned int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inProgressCountLocked(), m.pinnedCountLocked()
}

// CreateRetrospect starts a new in-progress retrospect and returns a chat
// manager bound to it.
func (m *Manager) CreateRetrospect(ctx context.Context) (*ChatManager, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inProgressCountLocked() >= InProgressLimit {
		return nil, m.recordLocked("create", ErrInProgressLimit)
	}

	draft := Retrospect{
		ID:        uuid.NewString(),
		UserID:    m.userID,
		Status:    StatusInProgress,
		CreatedAt: m.now(),
	}
	added, err := m.store.AddRetrospects(ctx, []Retrospect{draft})
	if err != nil {
		return nil, m.recordLocked("create", &OpError{Op: "create retrospect", Kind: ErrCreationFailed, Err: err})
	}
	if len(added) == 0 {
		return nil, m.recordLocked("create", ErrCreationFailed)
	}

	created := added[0]
	m.insertLocked(created)
	m.publishLocked(EventRetrospectCreated, created)
	m.recordLocked("create", nil)
	m.logger.Debug().Str("retrospect_id", created.ID).Msg("retrospect created")
	return NewChatManager(created, m.store, m.assistant, m), nil
}

// RetrospectChatManager returns a new chat manager for a resident retrospect.
// It never reads storage.
func (m *Manager) RetrospectChatManager(id string) (*ChatManager, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.byID[id]
	if !ok {
		return nil, m.recordLocked("chat manager", ErrInvalidRetrospect)
	}
	m.recordLocked("chat manager", nil)
	return NewChatManager(r, m.store, m.assistant, m), nil
}

// FetchRetrospects loads each requested kind from storage and adds records
// that are not resident yet. Resident records are never overwritten.
func (m *Manager) FetchRetrospects(ctx context.Context, kinds ...Kind) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var fetched []Retrospect
	seenKind := make(map[Kind]struct{}, len(kinds))
	for _, kind := range kinds {
		if _, dup := seenKind[kind]; dup {
			continue
		}
		seenKind[kind] = struct{}{}

		records, err := m.store.FetchRetrospects(ctx, kind.Query(m.userID))
		if err != nil {
			return m.recordLocked("fetch", storageError("fetch "+string(kind)+" retrospects", err))
		}
		fetched = append(fetched, records...)
	}

	added := 0
	for _, r := range fetched {
		if _, resident := m.byID[r.ID]; resident {
			continue
		}
		m.insertLocked(r)
		added++
	}
	m.recordLocked("fetch", nil)
	m.logger.Debug().Int("fetched", len(fetched)).Int("added", added).Msg("retrospects fetched")
	return nil
}

// TogglePinRetrospect flips the pin flag of a resident retrospect after
// checking the pin limit.
func (m *Manager) TogglePinRetrospect(ctx context.Context, r Retrospect) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.byID[r.ID]
	if !ok {
		return m.recordLocked("toggle pin", ErrInvalidRetrospect)
	}
	if !current.IsPinned && m.pinnedCountLocked() >= PinLimit {
		return m.recordLocked("toggle pin", ErrPinLimit)
	}

	updated := current
	updated.IsPinned = !current.IsPinned
	return m.recordLocked("toggle pin", m.commitLocked(ctx, "toggle pin", current, updated))
}

// FinishRetrospect asks the assistant for a summary and commits the finished
// record. The lock is released while the assistant works.
func (m *Manager) FinishRetrospect(ctx context.Context, r Retrospect) error {
	m.mu.Lock()
	current, ok := m.byID[r.ID]
	switch {
	case !ok:
		err := m.recordLocked("finish", ErrInvalidRetrospect)
		m.mu.Unlock()
		return err
	case current.Finished():
		err := m.recordLocked("finish", ErrAlreadyFinished)
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	summary, err := m.summarize(ctx, current.ID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		return m.recordLocked("finish", err)
	}

	current, ok = m.byID[r.ID]
	if !ok {
		return m.recordLocked("finish", ErrInvalidRetrospect)
	}
	if current.Finished() {
		return m.recordLocked("finish", ErrAlreadyFinished)
	}
	updated := current
	updated.Status = StatusFinished
	updated.Summary = summary
	return m.recordLocked("finish", m.commitLocked(ctx, "finish", current, updated))
}

// DeleteRetrospect removes the record from storage and, only then, from the
// collection.
func (m *Manager) DeleteRetrospect(ctx context.Context, r Retrospect) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	target := r
	if resident, ok := m.byID[r.ID]; ok {
		target = resident
	}
	if err := m.store.DeleteRetrospects(ctx, []Retrospect{target}); err != nil {
		return m.recordLocked("delete", storageError("delete retrospect", err))
	}
	if m.removeLocked(target.ID) {
		m.publishLocked(EventRetrospectDeleted, target)
	}
	return m.recordLocked("delete", nil)
}

// DidUpdateRetrospect reconciles a change reported by a chat manager. When
// the reported record differs from the resident one the difference is
// persisted before the collection entry is replaced. Reports that would
// reopen a finished retrospect or exceed the pin limit are rejected against
// the resident record, so a stale chat cannot undo a committed change.
func (m *Manager) DidUpdateRetrospect(ctx context.Context, source *ChatManager, r Retrospect) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.byID[r.ID]
	if !ok {
		m.logger.Warn().Str("retrospect_id", r.ID).Msg("ignoring update for unknown retrospect")
		return nil
	}
	// A chat still holding an unfinished copy of a finished record is stale.
	if current.Finished() && (!r.Finished() || (source != nil && !source.Retrospect().Finished())) {
		return m.recordLocked("reconcile", ErrAlreadyFinished)
	}
	if current.Equal(r) {
		return m.recordLocked("reconcile", nil)
	}
	if r.IsPinned && !current.IsPinned && m.pinnedCountLocked() >= PinLimit {
		return m.recordLocked("reconcile", ErrPinLimit)
	}
	return m.recordLocked("reconcile", m.commitLocked(ctx, "reconcile", current, r))
}

// ShouldTogglePin reports whether another retrospect may be pinned.
func (m *Manager) ShouldTogglePin(_ *ChatManager, _ Retrospect) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pinnedCountLocked() < PinLimit
}

func (m *Manager) summarize(ctx context.Context, retrospectID string) (string, error) {
	history, err := loadHistory(ctx, m.store, retrospectID)
	if err != nil {
		return "", err
	}
	summary, err := m.assistant.Summarize(ctx, history)
	if err != nil {
		return "", assistantError("summarize retrospect", err)
	}
	return summary, nil
}

// commitLocked persists old→updated and writes the stored record back into
// the collection at the same position.
func (m *Manager) commitLocked(ctx context.Context, op string, old, updated Retrospect) error {
	stored, err := m.store.UpdateRetrospect(ctx, old, updated)
	if err != nil {
		return storageError(op, err)
	}
	if stored.ID == "" {
		stored = updated
	}
	m.byID[stored.ID] = stored

	typ := EventRetrospectUpdated
	if !old.Finished() && stored.Finished() {
		typ = EventRetrospectFinished
	}
	m.publishLocked(typ, stored)
	return nil
}

func (m *Manager) recordLocked(op string, err error) error {
	m.lastErr = err
	if err != nil {
		evt := m.logger.Warn()
		if errors.Is(err, ErrStorage) || errors.Is(err, ErrCreationFailed) {
			evt = m.logger.Error()
		}
		evt.Err(err).Str("op", op).Msg("retrospect operation failed")
	}
	return err
}

func (m *Manager) insertLocked(r Retrospect) {
	m.byID[r.ID] = r
	m.order = append(m.order, r.ID)
}

func (m *Manager) removeLocked(id string) bool {
	if _, ok := m.byID[id]; !ok {
		return false
	}
	delete(m.byID, id)
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true
}

func (m *Manager) inProgressCountLocked() int {
	n := 0
	for _, r := range m.byID {
		if !r.Finished() {
			n++
		}
	}
	return n
}

func (m *Manager) pinnedCountLocked() int {
	n := 0
	for _, r := range m.byID {
		if r.IsPinned {
			n++
		}
	}
	return n
}
