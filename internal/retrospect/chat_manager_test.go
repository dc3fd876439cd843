package retrospect

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingListener struct {
	allowPin bool
	fail     error
	updates  []Retrospect
}

func (l *recordingListener) DidUpdateRetrospect(_ context.Context, _ *ChatManager, r Retrospect) error {
	if l.fail != nil {
		return l.fail
	}
	l.updates = append(l.updates, r)
	return nil
}

func (l *recordingListener) ShouldTogglePin(_ *ChatManager, _ Retrospect) bool {
	return l.allowPin
}

func TestChatManagerRequestFinishReportsSummary(t *testing.T) {
	store := newFakeStore()
	r := seedRetrospect(store, "r1", StatusInProgress, false, 0)
	seedMessages(store, "r1", 4)
	listener := &recordingListener{}
	chat := NewChatManager(r, store, &fakeAssistant{}, listener)

	require.NoError(t, chat.RequestFinish(context.Background()))

	require.Len(t, listener.updates, 1)
	got := listener.updates[0]
	assert.Equal(t, StatusFinished, got.Status)
	assert.Equal(t, "summary: message 0; message 2", got.Summary)
	assert.Equal(t, got, chat.Retrospect())

	_, err := chat.Send(context.Background(), "more")
	require.ErrorIs(t, err, ErrRetrospectEnded)
	require.ErrorIs(t, chat.RequestFinish(context.Background()), ErrAlreadyFinished)
}

func TestChatManagerRequestFinishFailuresChangeNothing(t *testing.T) {
	store := newFakeStore()
	r := seedRetrospect(store, "r1", StatusInProgress, false, 0)
	assistant := &fakeAssistant{failSummary: true}
	listener := &recordingListener{}
	chat := NewChatManager(r, store, assistant, listener)

	require.ErrorIs(t, chat.RequestFinish(context.Background()), ErrAssistant)
	assert.Empty(t, listener.updates)
	assert.Equal(t, StatusInProgress, chat.Retrospect().Status)

	assistant.failSummary = false
	listener.fail = storageError("reconcile", errInjected)
	require.ErrorIs(t, chat.RequestFinish(context.Background()), ErrStorage)
	assert.Equal(t, StatusInProgress, chat.Retrospect().Status)

	_, err := chat.Send(context.Background(), "still open")
	require.NoError(t, err)
}

func TestChatManagerRequestTogglePin(t *testing.T) {
	store := newFakeStore()
	r := seedRetrospect(store, "r1", StatusInProgress, false, 0)
	listener := &recordingListener{}
	chat := NewChatManager(r, store, &fakeAssistant{}, listener)

	require.ErrorIs(t, chat.RequestTogglePin(context.Background()), ErrPinLimit)
	assert.False(t, chat.Retrospect().IsPinned)
	assert.Empty(t, listener.updates)

	listener.allowPin = true
	require.NoError(t, chat.RequestTogglePin(context.Background()))
	assert.True(t, chat.Retrospect().IsPinned)

	// Unpinning ignores the limit.
	listener.allowPin = false
	require.NoError(t, chat.RequestTogglePin(context.Background()))
	assert.False(t, chat.Retrospect().IsPinned)
	assert.Len(t, listener.updates, 2)
}

func TestChatManagerForFinishedRetrospectIsEnded(t *testing.T) {
	store := newFakeStore()
	r := seedRetrospect(store, "r1", StatusFinished, false, 0)
	chat := NewChatManager(r, store, &fakeAssistant{}, &recordingListener{})

	_, err := chat.Send(context.Background(), "hi")
	require.ErrorIs(t, err, ErrRetrospectEnded)
}
