package retrospect

import "context"

// RetrospectStore persists retrospect records.
//
// UpdateRetrospect must fail with ErrStoreConflict when old no longer matches
// the stored version and ErrStoreNotFound when the record is gone.
// DeleteRetrospects is all-or-nothing.
type RetrospectStore interface {
	AddRetrospects(ctx context.Context, records []Retrospect) ([]Retrospect, error)
	FetchRetrospects(ctx context.Context, q Query) ([]Retrospect, error)
	UpdateRetrospect(ctx context.Context, old, updated Retrospect) (Retrospect, error)
	DeleteRetrospects(ctx context.Context, records []Retrospect) error
}

// MessageStore persists chat messages. FetchMessages returns newest first,
// ties ordered by insertion (latest insert first).
type MessageStore interface {
	AddMessages(ctx context.Context, msgs []Message) ([]Message, error)
	FetchMessages(ctx context.Context, q MessageQuery) ([]Message, error)
}

type Store interface {
	RetrospectStore
	MessageStore
	Close() error
}

// Assistant produces conversation turns and summaries.
type Assistant interface {
	NextReply(ctx context.Context, history []Message) (Message, error)
	Summarize(ctx context.Context, history []Message) (string, error)
}

// Listener receives record changes made by a ChatManager. The Manager
// implements it; chat managers only hold this interface.
type Listener interface {
	DidUpdateRetrospect(ctx context.Context, source *ChatManager, r Retrospect) error
	ShouldTogglePin(source *ChatManager, r Retrospect) bool
}
