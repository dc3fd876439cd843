package retrospect

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(store *fakeStore) *Manager {
	return NewManager("user-1", store, &fakeAssistant{}, zerolog.Nop())
}

func TestCreateRetrospectEnforcesInProgressLimit(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store)
	ctx := context.Background()

	for i := 0; i < InProgressLimit; i++ {
		chat, err := m.CreateRetrospect(ctx)
		require.NoError(t, err)
		assert.Equal(t, StatusInProgress, chat.Retrospect().Status)
		assert.Equal(t, "user-1", chat.Retrospect().UserID)
	}
	require.NoError(t, m.LastError())

	_, err := m.CreateRetrospect(ctx)
	require.ErrorIs(t, err, ErrLimitExceeded)
	require.ErrorIs(t, m.LastError(), ErrInProgressLimit)
	assert.Len(t, m.Retrospects(), InProgressLimit)
}

func TestCreateRetrospectAfterFinishingOne(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store)
	ctx := context.Background()

	first, err := m.CreateRetrospect(ctx)
	require.NoError(t, err)
	_, err = m.CreateRetrospect(ctx)
	require.NoError(t, err)

	require.NoError(t, m.FinishRetrospect(ctx, first.Retrospect()))
	_, err = m.CreateRetrospect(ctx)
	require.NoError(t, err)

	inProgress, _ := m.Counts()
	assert.Equal(t, InProgressLimit, inProgress)
	assert.Len(t, m.Retrospects(), 3)
}

func TestCreateRetrospectStorageFailure(t *testing.T) {
	store := newFakeStore()
	store.failAdd = true
	m := newTestManager(store)

	_, err := m.CreateRetrospect(context.Background())
	require.ErrorIs(t, err, ErrCreationFailed)
	require.ErrorIs(t, err, errInjected)
	assert.Empty(t, m.Retrospects())
}

func TestTogglePinTwicePersistsTwice(t *testing.T) {
	store := newFakeStore()
	seedRetrospect(store, "r1", StatusInProgress, false, 0)
	m := newTestManager(store)
	ctx := context.Background()
	require.NoError(t, m.FetchRetrospects(ctx, AllKinds()...))

	r, _ := m.Retrospect("r1")
	require.NoError(t, m.TogglePinRetrospect(ctx, r))
	pinned, _ := m.Retrospect("r1")
	assert.True(t, pinned.IsPinned)
	require.NoError(t, m.TogglePinRetrospect(ctx, pinned))

	final, _ := m.Retrospect("r1")
	assert.False(t, final.IsPinned)
	assert.Equal(t, 2, store.updates)
}

func TestTogglePinEnforcesPinLimit(t *testing.T) {
	store := newFakeStore()
	for i, id := range []string{"a", "b", "c", "d"} {
		seedRetrospect(store, id, StatusFinished, false, time.Duration(i)*time.Minute)
	}
	m := newTestManager(store)
	ctx := context.Background()
	require.NoError(t, m.FetchRetrospects(ctx, KindFinished))

	for _, id := range []string{"a", "b", "c", "d"} {
		r, ok := m.Retrospect(id)
		require.True(t, ok)
		err := m.TogglePinRetrospect(ctx, r)
		_, pinned := m.Counts()
		assert.LessOrEqual(t, pinned, PinLimit)
		if id == "c" || id == "d" {
			require.ErrorIs(t, err, ErrPinLimit)
		} else {
			require.NoError(t, err)
		}
	}
	assert.False(t, m.ShouldTogglePin(nil, Retrospect{}))
}

func TestFinishRetrospectStoresSummary(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store)
	ctx := context.Background()

	chat, err := m.CreateRetrospect(ctx)
	require.NoError(t, err)
	_, err = chat.Send(ctx, "shipped on time")
	require.NoError(t, err)

	require.NoError(t, m.FinishRetrospect(ctx, chat.Retrospect()))
	got, _ := m.Retrospect(chat.Retrospect().ID)
	assert.Equal(t, StatusFinished, got.Status)
	assert.Equal(t, "summary: shipped on time", got.Summary)

	stored, ok := store.stored(got.ID)
	require.True(t, ok)
	assert.True(t, stored.Equal(got))

	require.ErrorIs(t, m.FinishRetrospect(ctx, got), ErrAlreadyFinished)
}

func TestFinishRetrospectFailuresLeaveRecord(t *testing.T) {
	store := newFakeStore()
	assistant := &fakeAssistant{failSummary: true}
	m := NewManager("user-1", store, assistant, zerolog.Nop())
	ctx := context.Background()

	chat, err := m.CreateRetrospect(ctx)
	require.NoError(t, err)
	id := chat.Retrospect().ID

	require.ErrorIs(t, m.FinishRetrospect(ctx, chat.Retrospect()), ErrAssistant)
	got, _ := m.Retrospect(id)
	assert.Equal(t, StatusInProgress, got.Status)

	assistant.failSummary = false
	store.failUpdate = true
	require.ErrorIs(t, m.FinishRetrospect(ctx, chat.Retrospect()), ErrStorage)
	got, _ = m.Retrospect(id)
	assert.Equal(t, StatusInProgress, got.Status)

	require.ErrorIs(t, m.FinishRetrospect(ctx, Retrospect{ID: "missing"}), ErrInvalidRetrospect)
}

func TestDeleteRetrospectStorageFailureKeepsRecord(t *testing.T) {
	store := newFakeStore()
	seedRetrospect(store, "r1", StatusInProgress, false, 0)
	m := newTestManager(store)
	ctx := context.Background()
	require.NoError(t, m.FetchRetrospects(ctx, AllKinds()...))

	store.failDelete = true
	r, _ := m.Retrospect("r1")
	require.ErrorIs(t, m.DeleteRetrospect(ctx, r), ErrStorage)
	require.ErrorIs(t, m.LastError(), ErrStorage)
	_, ok := m.Retrospect("r1")
	assert.True(t, ok)

	store.failDelete = false
	require.NoError(t, m.DeleteRetrospect(ctx, r))
	require.NoError(t, m.LastError())
	_, ok = m.Retrospect("r1")
	assert.False(t, ok)
}

func TestFetchRetrospectsFirstSeenWins(t *testing.T) {
	store := newFakeStore()
	seedRetrospect(store, "r1", StatusInProgress, false, 0)
	m := newTestManager(store)
	ctx := context.Background()
	require.NoError(t, m.FetchRetrospects(ctx, KindInProgress))

	// Storage moves on behind the manager's back.
	seedRetrospect(store, "r1", StatusFinished, true, 0)
	seedRetrospect(store, "r2", StatusFinished, false, time.Minute)
	require.NoError(t, m.FetchRetrospects(ctx, KindPinned, KindFinished, KindPinned))

	r1, _ := m.Retrospect("r1")
	assert.Equal(t, StatusInProgress, r1.Status)
	assert.False(t, r1.IsPinned)
	_, ok := m.Retrospect("r2")
	assert.True(t, ok)
	assert.Len(t, m.Retrospects(), 2)
}

func TestFetchRetrospectsUsesKindQueries(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store)
	require.NoError(t, m.FetchRetrospects(context.Background(), AllKinds()...))

	require.Len(t, store.fetchQueries, 3)
	for i, kind := range AllKinds() {
		q := store.fetchQueries[i]
		assert.Equal(t, kind.FetchLimit(), q.Limit)
		assert.Equal(t, SortKeyCreatedAt, q.Sort.Key)
		assert.False(t, q.Sort.Ascending)
		assert.Equal(t, "user-1", q.Predicate.UserID)
	}
}

func TestFetchRetrospectsFailureCommitsNothing(t *testing.T) {
	store := newFakeStore()
	seedRetrospect(store, "r1", StatusInProgress, false, 0)
	store.failFetch = true
	m := newTestManager(store)

	require.ErrorIs(t, m.FetchRetrospects(context.Background(), AllKinds()...), ErrStorage)
	assert.Empty(t, m.Retrospects())
}

func TestChatReconcilesThroughManager(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store)
	ctx := context.Background()

	events, cancel := m.Subscribe()
	defer cancel()

	chat, err := m.CreateRetrospect(ctx)
	require.NoError(t, err)
	require.NoError(t, chat.RequestTogglePin(ctx))
	require.NoError(t, chat.RequestFinish(ctx))

	got, _ := m.Retrospect(chat.Retrospect().ID)
	assert.True(t, got.IsPinned)
	assert.Equal(t, StatusFinished, got.Status)
	assert.Equal(t, 2, store.updates)

	var types []EventType
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	assert.Equal(t, []EventType{EventRetrospectCreated, EventRetrospectUpdated, EventRetrospectFinished}, types)
}

func TestStaleChatCannotReopenFinishedRetrospect(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store)
	ctx := context.Background()

	a, err := m.CreateRetrospect(ctx)
	require.NoError(t, err)
	_, err = m.CreateRetrospect(ctx)
	require.NoError(t, err)
	require.NoError(t, m.FinishRetrospect(ctx, a.Retrospect()))
	_, err = m.CreateRetrospect(ctx)
	require.NoError(t, err)
	updates := store.updates

	// a still holds the in-progress copy it was created with.
	require.ErrorIs(t, a.RequestTogglePin(ctx), ErrAlreadyFinished)
	require.ErrorIs(t, m.LastError(), ErrAlreadyFinished)
	assert.Equal(t, updates, store.updates)

	got, _ := m.Retrospect(a.Retrospect().ID)
	assert.Equal(t, StatusFinished, got.Status)
	assert.False(t, got.IsPinned)
	stored, ok := store.stored(got.ID)
	require.True(t, ok)
	assert.Equal(t, StatusFinished, stored.Status)
	inProgress, _ := m.Counts()
	assert.Equal(t, InProgressLimit, inProgress)

	messages := len(store.messages)
	_, err = a.Send(ctx, "one more thing")
	require.ErrorIs(t, err, ErrRetrospectEnded)
	assert.Len(t, store.messages, messages)
}

func TestStaleChatSendFailsAfterManagerFinish(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store)
	ctx := context.Background()

	chat, err := m.CreateRetrospect(ctx)
	require.NoError(t, err)
	require.NoError(t, m.FinishRetrospect(ctx, chat.Retrospect()))

	_, err = chat.Send(ctx, "hello")
	require.ErrorIs(t, err, ErrRetrospectEnded)
	assert.Empty(t, store.messages)
}

func TestStaleChatFinishKeepsFirstSummary(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store)
	ctx := context.Background()

	chat, err := m.CreateRetrospect(ctx)
	require.NoError(t, err)
	_, err = chat.Send(ctx, "first thought")
	require.NoError(t, err)
	require.NoError(t, m.FinishRetrospect(ctx, chat.Retrospect()))
	first, _ := m.Retrospect(chat.Retrospect().ID)
	updates := store.updates

	_, err = chat.Send(ctx, "second thought")
	require.ErrorIs(t, err, ErrRetrospectEnded)
	require.ErrorIs(t, chat.RequestFinish(ctx), ErrAlreadyFinished)
	assert.Equal(t, updates, store.updates)

	got, _ := m.Retrospect(first.ID)
	assert.Equal(t, first.Summary, got.Summary)
}

func TestStaleChatPinRecheckedAgainstResidentCount(t *testing.T) {
	store := newFakeStore()
	seedRetrospect(store, "p1", StatusFinished, true, 0)
	m := newTestManager(store)
	ctx := context.Background()
	require.NoError(t, m.FetchRetrospects(ctx, KindPinned))

	chat, err := m.CreateRetrospect(ctx)
	require.NoError(t, err)
	other, err := m.CreateRetrospect(ctx)
	require.NoError(t, err)
	require.NoError(t, m.TogglePinRetrospect(ctx, other.Retrospect()))
	updates := store.updates

	pinned := chat.Retrospect()
	pinned.IsPinned = true
	require.ErrorIs(t, m.DidUpdateRetrospect(ctx, chat, pinned), ErrLimitExceeded)
	assert.Equal(t, updates, store.updates)

	got, _ := m.Retrospect(chat.Retrospect().ID)
	assert.False(t, got.IsPinned)
	_, pinnedCount := m.Counts()
	assert.Equal(t, PinLimit, pinnedCount)
}

func TestChatPinRespectsManagerLimit(t *testing.T) {
	store := newFakeStore()
	seedRetrospect(store, "p1", StatusFinished, true, 0)
	seedRetrospect(store, "p2", StatusFinished, true, time.Minute)
	m := newTestManager(store)
	ctx := context.Background()
	require.NoError(t, m.FetchRetrospects(ctx, KindPinned))

	chat, err := m.CreateRetrospect(ctx)
	require.NoError(t, err)
	require.ErrorIs(t, chat.RequestTogglePin(ctx), ErrPinLimit)
	assert.Zero(t, store.updates)
}

func TestDidUpdateRetrospectIgnoresUnknownAndUnchanged(t *testing.T) {
	store := newFakeStore()
	r := seedRetrospect(store, "r1", StatusInProgress, false, 0)
	m := newTestManager(store)
	ctx := context.Background()

	require.NoError(t, m.DidUpdateRetrospect(ctx, nil, r))
	assert.Zero(t, store.updates)

	require.NoError(t, m.FetchRetrospects(ctx, KindInProgress))
	require.NoError(t, m.DidUpdateRetrospect(ctx, nil, r))
	assert.Zero(t, store.updates)

	store.failUpdate = true
	changed := r
	changed.IsPinned = true
	err := m.DidUpdateRetrospect(ctx, nil, changed)
	require.True(t, errors.Is(err, ErrStorage))
	got, _ := m.Retrospect("r1")
	assert.False(t, got.IsPinned)
}

func TestRetrospectChatManagerRequiresResident(t *testing.T) {
	store := newFakeStore()
	seedRetrospect(store, "r1", StatusInProgress, false, 0)
	m := newTestManager(store)

	_, err := m.RetrospectChatManager("r1")
	require.ErrorIs(t, err, ErrInvalidRetrospect)

	require.NoError(t, m.FetchRetrospects(context.Background(), AllKinds()...))
	chat, err := m.RetrospectChatManager("r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", chat.Retrospect().ID)
}
