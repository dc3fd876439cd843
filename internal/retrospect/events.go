package retrospect

import "time"

type EventType string

const (
	EventRetrospectCreated  EventType = "retrospect_created"
	EventRetrospectUpdated  EventType = "retrospect_updated"
	EventRetrospectFinished EventType = "retrospect_finished"
	EventRetrospectDeleted  EventType = "retrospect_deleted"
)

const subscriberBuffer = 64

// Event describes a committed change to a user's retrospect collection.
type Event struct {
	Type         EventType  `json:"type"`
	UserID       string     `json:"user_id"`
	RetrospectID string     `json:"retrospect_id"`
	Retrospect   Retrospect `json:"retrospect"`
	At           time.Time  `json:"at"`
}

// Subscribe returns a channel of committed changes and a cancel func that
// closes it. Events are dropped for subscribers that fall behind.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	m.mu.Lock()
	m.nextSubID++
	id := m.nextSubID
	m.subscribers[id] = ch
	m.mu.Unlock()

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := m.subscribers[id]; ok {
			delete(m.subscribers, id)
			close(c)
		}
	}
}

func (m *Manager) publishLocked(typ EventType, r Retrospect) {
	evt := Event{
		Type:         typ,
		UserID:       m.userID,
		RetrospectID: r.ID,
		Retrospect:   r,
		At:           m.now(),
	}
	for _, ch := range m.subscribers {
		select {
		case ch <- evt:
		default:
		}
	}
}
