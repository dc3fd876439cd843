package retrospect

import (
	"context"
	"errors"
	"sync"
)

// residentSource is implemented by listeners that own the authoritative copy
// of a record, such as Manager.
type residentSource interface {
	Retrospect(id string) (Retrospect, bool)
}

// ChatManager binds one retrospect to its message stream and reports record
// changes to its Listener. It never mutates the owner's collection directly.
type ChatManager struct {
	messages  *MessageManager
	store     MessageStore
	assistant Assistant
	listener  Listener

	// opMu serialises finish and pin requests on this chat.
	opMu sync.Mutex

	mu         sync.RWMutex
	retrospect Retrospect
}

func NewChatManager(r Retrospect, store MessageStore, assistant Assistant, listener Listener) *ChatManager {
	messages := NewMessageManager(r.ID, store, assistant)
	if r.Finished() {
		messages.EndRetrospect()
	}
	return &ChatManager{
		messages:   messages,
		store:      store,
		assistant:  assistant,
		listener:   listener,
		retrospect: r,
	}
}

// Retrospect returns the record as this chat last committed it.
func (c *ChatManager) Retrospect() Retrospect {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.retrospect
}

func (c *ChatManager) Messages() []Message {
	return c.messages.Messages()
}

func (c *ChatManager) FetchMessages(ctx context.Context, offset, amount int) ([]Message, error) {
	return c.messages.FetchMessages(ctx, offset, amount)
}

// Send appends a user message and the assistant's reply. It fails with
// ErrRetrospectEnded once either this chat or the listener's resident record
// is finished.
func (c *ChatManager) Send(ctx context.Context, content string) (Message, error) {
	if c.residentFinished() {
		c.messages.EndRetrospect()
		return Message{}, ErrRetrospectEnded
	}
	return c.messages.Send(ctx, content)
}

func (c *ChatManager) EndRetrospect() {
	c.messages.EndRetrospect()
}

// RequestFinish summarises the whole conversation and reports the finished
// record to the listener. Nothing changes unless both the summary and the
// listener succeed.
func (c *ChatManager) RequestFinish(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	current := c.Retrospect()
	if current.Finished() {
		return ErrAlreadyFinished
	}

	history, err := loadHistory(ctx, c.store, current.ID)
	if err != nil {
		return err
	}
	summary, err := c.assistant.Summarize(ctx, history)
	if err != nil {
		return assistantError("summarize retrospect", err)
	}

	updated := current
	updated.Status = StatusFinished
	updated.Summary = summary
	if c.listener != nil {
		if err := c.listener.DidUpdateRetrospect(ctx, c, updated); err != nil {
			if errors.Is(err, ErrAlreadyFinished) {
				c.messages.EndRetrospect()
			}
			return err
		}
	}

	c.setRetrospect(updated)
	c.messages.EndRetrospect()
	return nil
}

// RequestTogglePin flips the pin flag. Unpinning is always allowed; pinning
// needs the listener's approval.
func (c *ChatManager) RequestTogglePin(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	current := c.Retrospect()
	if !current.IsPinned && c.listener != nil && !c.listener.ShouldTogglePin(c, current) {
		return ErrPinLimit
	}

	updated := current
	updated.IsPinned = !current.IsPinned
	if c.listener != nil {
		if err := c.listener.DidUpdateRetrospect(ctx, c, updated); err != nil {
			if errors.Is(err, ErrAlreadyFinished) {
				c.messages.EndRetrospect()
			}
			return err
		}
	}
	c.setRetrospect(updated)
	return nil
}

func (c *ChatManager) residentFinished() bool {
	src, ok := c.listener.(residentSource)
	if !ok {
		return false
	}
	resident, found := src.Retrospect(c.Retrospect().ID)
	return found && resident.Finished()
}

func (c *ChatManager) setRetrospect(r Retrospect) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retrospect = r
}

// loadHistory reads every stored message of a retrospect, oldest first.
func loadHistory(ctx context.Context, store MessageStore, retrospectID string) ([]Message, error) {
	fetched, err := store.FetchMessages(ctx, MessageQuery{RetrospectID: retrospectID})
	if err != nil {
		return nil, storageError("load conversation", err)
	}
	history := make([]Message, 0, len(fetched))
	for i := len(fetched) - 1; i >= 0; i-- {
		history = append(history, fetched[i])
	}
	return history, nil
}
