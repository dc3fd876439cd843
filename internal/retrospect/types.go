package retrospect

import "time"

type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusFinished   Status = "finished"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

const (
	InProgressLimit = 2
	PinLimit        = 2
)

// Retrospect is one user-owned review session. Its messages are stored
// separately and referenced by the retrospect id.
type Retrospect struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Status    Status    `json:"status"`
	IsPinned  bool      `json:"is_pinned"`
	Summary   string    `json:"summary,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Equal reports whether two records carry the same persisted state.
func (r Retrospect) Equal(other Retrospect) bool {
	return r.ID == other.ID &&
		r.UserID == other.UserID &&
		r.Status == other.Status &&
		r.IsPinned == other.IsPinned &&
		r.Summary == other.Summary &&
		r.CreatedAt.Equal(other.CreatedAt)
}

func (r Retrospect) Finished() bool {
	return r.Status == StatusFinished
}

// Message is a single chat turn inside a retrospect.
type Message struct {
	ID           string    `json:"id"`
	RetrospectID string    `json:"retrospect_id"`
	Role         Role      `json:"role"`
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"created_at"`
}

// Kind selects a slice of a user's retrospects for fetching.
type Kind string

const (
	KindPinned     Kind = "pinned"
	KindInProgress Kind = "in_progress"
	KindFinished   Kind = "finished"
)

const finishedFetchLimit = 30

// AllKinds lists every kind in the order they are fetched.
func AllKinds() []Kind {
	return []Kind{KindPinned, KindInProgress, KindFinished}
}

func ParseKind(raw string) (Kind, bool) {
	switch Kind(raw) {
	case KindPinned, KindInProgress, KindFinished:
		return Kind(raw), true
	default:
		return "", false
	}
}

func (k Kind) FetchLimit() int {
	switch k {
	case KindPinned:
		return PinLimit
	case KindInProgress:
		return InProgressLimit
	default:
		return finishedFetchLimit
	}
}

// Predicate returns the owner-scoped filter for this kind.
func (k Kind) Predicate(userID string) Predicate {
	notPinned := false
	switch k {
	case KindPinned:
		pinned := true
		return Predicate{UserID: userID, Pinned: &pinned}
	case KindInProgress:
		return Predicate{UserID: userID, Status: StatusInProgress, Pinned: &notPinned}
	default:
		return Predicate{UserID: userID, Status: StatusFinished, Pinned: &notPinned}
	}
}

// Query returns the storage request used to fetch this kind for userID.
func (k Kind) Query(userID string) Query {
	return Query{
		Predicate: k.Predicate(userID),
		Sort:      SortDescriptor{Key: SortKeyCreatedAt, Ascending: false},
		Limit:     k.FetchLimit(),
	}
}

// Predicate filters retrospects. Zero-valued fields match anything.
type Predicate struct {
	UserID string
	Status Status
	Pinned *bool
}

func (p Predicate) Matches(r Retrospect) bool {
	if p.UserID != "" && r.UserID != p.UserID {
		return false
	}
	if p.Status != "" && r.Status != p.Status {
		return false
	}
	if p.Pinned != nil && r.IsPinned != *p.Pinned {
		return false
	}
	return true
}

const SortKeyCreatedAt = "created_at"

type SortDescriptor struct {
	Key       string
	Ascending bool
}

type Query struct {
	Predicate Predicate
	Sort      SortDescriptor
	Limit     int
	Offset    int
}

// MessageQuery pages through a retrospect's messages, newest first.
// Limit <= 0 returns every remaining message.
type MessageQuery struct {
	RetrospectID string
	Offset       int
	Limit        int
}
