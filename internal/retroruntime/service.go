package retroruntime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/ent0n29/retrotalk/internal/assistant"
	"github.com/ent0n29/retrotalk/internal/lock"
	"github.com/ent0n29/retrotalk/internal/observability"
	"github.com/ent0n29/retrotalk/internal/retrospect"
)

var (
	ErrMissingUser     = errors.New("user id is required")
	ErrLockUnavailable = errors.New("retrospect is busy")
)

const (
	defaultCacheSize     = 128
	defaultHistoryWindow = 100
	subscriberBuffer     = 64
)

type Config struct {
	ManagerCacheSize int
	StoreMode        string
	// HistoryWindow bounds how many stored messages are loaded as context
	// before a send.
	HistoryWindow int
}

// Service hosts one retrospect.Manager per user, hydrated from storage on
// first use and evicted least-recently-used. Mutations are serialised per
// retrospect (and per user for limit-checked ones) through a lock.Locker.
type Service struct {
	store         retrospect.Store
	storeMode     string
	assistant     retrospect.Assistant
	locker        lock.Locker
	metrics       *observability.Metrics
	logger        zerolog.Logger
	historyWindow int

	managers *lru.Cache
	hydrate  singleflight.Group

	subMu       sync.Mutex
	subscribers map[string]map[int]chan retrospect.Event
	nextSubID   int
}

type resident struct {
	userID  string
	manager *retrospect.Manager

	stopOnce sync.Once
	cancel   func()
	done     chan struct{}

	mu         sync.Mutex
	inProgress int
}

func New(
	cfg Config,
	store retrospect.Store,
	asst retrospect.Assistant,
	locker lock.Locker,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) (*Service, error) {
	if store == nil || asst == nil {
		return nil, errors.New("retroruntime: store and assistant are required")
	}
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	size := cfg.ManagerCacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	window := cfg.HistoryWindow
	if window <= 0 {
		window = defaultHistoryWindow
	}
	storeMode := strings.TrimSpace(cfg.StoreMode)
	if storeMode == "" {
		storeMode = "in-memory"
	}

	s := &Service{
		store:         store,
		storeMode:     storeMode,
		assistant:     asst,
		locker:        locker,
		metrics:       metrics,
		logger:        logger,
		historyWindow: window,
		subscribers:   make(map[string]map[int]chan retrospect.Event),
	}
	cache, err := lru.NewWithEvict(size, func(_ interface{}, value interface{}) {
		if r, ok := value.(*resident); ok {
			s.stop(r)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("create manager cache: %w", err)
	}
	s.managers = cache
	return s, nil
}

func (s *Service) StoreMode() string { return s.storeMode }

func (s *Service) LockMode() string { return s.locker.Mode() }

func (s *Service) AssistantProvider() string { return assistant.ProviderName(s.assistant) }

// ResidentUsers reports how many user managers are held in memory.
func (s *Service) ResidentUsers() int { return s.managers.Len() }

// ListRetrospects fetches the requested kinds (all when none are given) and
// returns the resident records matching them, in collection order.
func (s *Service) ListRetrospects(ctx context.Context, userID string, kinds []retrospect.Kind) (out []retrospect.Retrospect, err error) {
	ctx, done := s.observe(ctx, "fetch", userID, "")
	defer func() { done(err) }()

	m, err := s.manager(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(kinds) == 0 {
		kinds = retrospect.AllKinds()
	}
	if err := m.FetchRetrospects(ctx, kinds...); err != nil {
		return nil, err
	}

	predicates := make([]retrospect.Predicate, 0, len(kinds))
	for _, k := range kinds {
		predicates = append(predicates, k.Predicate(m.UserID()))
	}
	out = make([]retrospect.Retrospect, 0)
	for _, r := range m.Retrospects() {
		for _, p := range predicates {
			if p.Matches(r) {
				out = append(out, r)
				break
			}
		}
	}
	return out, nil
}

func (s *Service) GetRetrospect(ctx context.Context, userID, id string) (retrospect.Retrospect, error) {
	m, err := s.manager(ctx, userID)
	if err != nil {
		return retrospect.Retrospect{}, err
	}
	r, ok := m.Retrospect(id)
	if !ok {
		return retrospect.Retrospect{}, retrospect.ErrInvalidRetrospect
	}
	return r, nil
}

func (s *Service) CreateRetrospect(ctx context.Context, userID string) (r retrospect.Retrospect, err error) {
	ctx, done := s.observe(ctx, "create", userID, "")
	defer func() { done(err) }()

	m, err := s.manager(ctx, userID)
	if err != nil {
		return retrospect.Retrospect{}, err
	}
	unlock, err := s.lock(ctx, userKey(m.UserID()))
	if err != nil {
		return retrospect.Retrospect{}, err
	}
	defer unlock()

	chat, err := m.CreateRetrospect(ctx)
	if err != nil {
		return retrospect.Retrospect{}, err
	}
	return chat.Retrospect(), nil
}

func (s *Service) TogglePin(ctx context.Context, userID, id string) (r retrospect.Retrospect, err error) {
	ctx, done := s.observe(ctx, "toggle_pin", userID, id)
	defer func() { done(err) }()

	m, unlock, err := s.managerLocked(ctx, userID, userKey(userID), id)
	if err != nil {
		return retrospect.Retrospect{}, err
	}
	defer unlock()

	current, ok := m.Retrospect(id)
	if !ok {
		return retrospect.Retrospect{}, retrospect.ErrInvalidRetrospect
	}
	if err := m.TogglePinRetrospect(ctx, current); err != nil {
		return retrospect.Retrospect{}, err
	}
	r, _ = m.Retrospect(id)
	return r, nil
}

func (s *Service) FinishRetrospect(ctx context.Context, userID, id string) (r retrospect.Retrospect, err error) {
	ctx, done := s.observe(ctx, "finish", userID, id)
	defer func() { done(err) }()

	m, unlock, err := s.managerLocked(ctx, userID, id)
	if err != nil {
		return retrospect.Retrospect{}, err
	}
	defer unlock()

	current, ok := m.Retrospect(id)
	if !ok {
		return retrospect.Retrospect{}, retrospect.ErrInvalidRetrospect
	}
	if err := m.FinishRetrospect(ctx, current); err != nil {
		return retrospect.Retrospect{}, err
	}
	r, _ = m.Retrospect(id)
	return r, nil
}

func (s *Service) DeleteRetrospect(ctx context.Context, userID, id string) (err error) {
	ctx, done := s.observe(ctx, "delete", userID, id)
	defer func() { done(err) }()

	m, unlock, err := s.managerLocked(ctx, userID, id)
	if err != nil {
		return err
	}
	defer unlock()

	current, ok := m.Retrospect(id)
	if !ok {
		return retrospect.ErrInvalidRetrospect
	}
	return m.DeleteRetrospect(ctx, current)
}

// ListMessages returns one page of a retrospect's messages, oldest first.
func (s *Service) ListMessages(ctx context.Context, userID, id string, offset, amount int) (out []retrospect.Message, err error) {
	ctx, done := s.observe(ctx, "fetch_messages", userID, id)
	defer func() { done(err) }()

	m, err := s.manager(ctx, userID)
	if err != nil {
		return nil, err
	}
	chat, err := m.RetrospectChatManager(id)
	if err != nil {
		return nil, err
	}
	out, err = chat.FetchMessages(ctx, offset, amount)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []retrospect.Message{}
	}
	return out, nil
}

// SendResult carries both turns of a send. Reply is empty when the assistant
// failed after the user turn was stored.
type SendResult struct {
	UserMessage retrospect.Message  `json:"user_message"`
	Reply       *retrospect.Message `json:"reply,omitempty"`
}

// Send loads recent history as context, then runs one turn.
func (s *Service) Send(ctx context.Context, userID, id, content string) (res SendResult, err error) {
	ctx, done := s.observe(ctx, "send", userID, id)
	defer func() { done(err) }()

	m, unlock, err := s.managerLocked(ctx, userID, id)
	if err != nil {
		return SendResult{}, err
	}
	defer unlock()

	chat, err := m.RetrospectChatManager(id)
	if err != nil {
		return SendResult{}, err
	}
	if chat.Retrospect().Finished() {
		return SendResult{}, retrospect.ErrRetrospectEnded
	}
	if _, err := chat.FetchMessages(ctx, 0, s.historyWindow); err != nil {
		return SendResult{}, err
	}

	before := len(chat.Messages())
	reply, sendErr := chat.Send(ctx, content)
	msgs := chat.Messages()
	for i := len(msgs) - 1; i >= before; i-- {
		if msgs[i].Role == retrospect.RoleUser {
			res.UserMessage = msgs[i]
			break
		}
	}
	if sendErr != nil {
		return res, sendErr
	}
	res.Reply = &reply
	return res, nil
}

// ChatTogglePin toggles the pin through a chat manager, so the change reaches
// the collection through the listener path.
func (s *Service) ChatTogglePin(ctx context.Context, userID, id string) (r retrospect.Retrospect, err error) {
	ctx, done := s.observe(ctx, "chat_toggle_pin", userID, id)
	defer func() { done(err) }()

	m, unlock, err := s.managerLocked(ctx, userID, userKey(userID), id)
	if err != nil {
		return retrospect.Retrospect{}, err
	}
	defer unlock()

	chat, err := m.RetrospectChatManager(id)
	if err != nil {
		return retrospect.Retrospect{}, err
	}
	if err := chat.RequestTogglePin(ctx); err != nil {
		return retrospect.Retrospect{}, err
	}
	return chat.Retrospect(), nil
}

func (s *Service) ChatFinish(ctx context.Context, userID, id string) (r retrospect.Retrospect, err error) {
	ctx, done := s.observe(ctx, "chat_finish", userID, id)
	defer func() { done(err) }()

	m, unlock, err := s.managerLocked(ctx, userID, id)
	if err != nil {
		return retrospect.Retrospect{}, err
	}
	defer unlock()

	chat, err := m.RetrospectChatManager(id)
	if err != nil {
		return retrospect.Retrospect{}, err
	}
	if err := chat.RequestFinish(ctx); err != nil {
		return retrospect.Retrospect{}, err
	}
	return chat.Retrospect(), nil
}

// Subscribe streams committed changes for userID. The stream survives
// manager eviction.
func (s *Service) Subscribe(userID string) (<-chan retrospect.Event, func()) {
	userID = strings.TrimSpace(userID)
	ch := make(chan retrospect.Event, subscriberBuffer)

	s.subMu.Lock()
	s.nextSubID++
	id := s.nextSubID
	if s.subscribers[userID] == nil {
		s.subscribers[userID] = make(map[int]chan retrospect.Event)
	}
	s.subscribers[userID][id] = ch
	s.subMu.Unlock()

	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		subs := s.subscribers[userID]
		if c, ok := subs[id]; ok {
			delete(subs, id)
			close(c)
		}
		if len(subs) == 0 {
			delete(s.subscribers, userID)
		}
	}
}

// Snapshot returns the resident collection of userID, hydrating it if needed.
func (s *Service) Snapshot(ctx context.Context, userID string) ([]retrospect.Retrospect, error) {
	m, err := s.manager(ctx, userID)
	if err != nil {
		return nil, err
	}
	return m.Retrospects(), nil
}

func (s *Service) Close() error {
	s.managers.Purge()
	if s.metrics != nil {
		s.metrics.ResidentManagers.Set(0)
	}
	return nil
}

func (s *Service) manager(ctx context.Context, userID string) (*retrospect.Manager, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrMissingUser
	}
	if v, ok := s.managers.Get(userID); ok {
		return v.(*resident).manager, nil
	}

	v, err, _ := s.hydrate.Do(userID, func() (interface{}, error) {
		if v, ok := s.managers.Get(userID); ok {
			return v.(*resident), nil
		}
		m := retrospect.NewManager(userID, s.store, s.assistant, s.logger)
		if err := m.FetchRetrospects(ctx, retrospect.AllKinds()...); err != nil {
			return nil, err
		}
		return s.admit(userID, m), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*resident).manager, nil
}

// managerLocked hydrates the user's manager and takes keys in the order
// given. Callers needing both keys always pass userKey first; the returned
// func releases them in reverse.
func (s *Service) managerLocked(ctx context.Context, userID string, keys ...string) (*retrospect.Manager, func(), error) {
	m, err := s.manager(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	unlocks := make([]func(), 0, len(keys))
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, key := range keys {
		unlock, err := s.lock(ctx, key)
		if err != nil {
			release()
			return nil, nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return m, release, nil
}

func (s *Service) admit(userID string, m *retrospect.Manager) *resident {
	events, cancel := m.Subscribe()
	r := &resident{
		userID:  userID,
		manager: m,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.syncInProgress(r)
	go s.forward(r, events)

	s.managers.Add(userID, r)
	if s.metrics != nil {
		s.metrics.ResidentManagers.Set(float64(s.managers.Len()))
	}
	s.logger.Debug().Str("user_id", userID).Msg("retrospect manager hydrated")
	return r
}

func (s *Service) forward(r *resident, events <-chan retrospect.Event) {
	defer close(r.done)
	for evt := range events {
		if s.metrics != nil {
			s.metrics.RetrospectEvents.WithLabelValues(string(evt.Type)).Inc()
		}
		s.syncInProgress(r)
		s.broadcast(r.userID, evt)
	}
}

func (s *Service) stop(r *resident) {
	r.stopOnce.Do(func() {
		r.cancel()
		<-r.done
		r.mu.Lock()
		if s.metrics != nil {
			s.metrics.InProgressRetrospects.Sub(float64(r.inProgress))
		}
		r.inProgress = 0
		r.mu.Unlock()
		s.logger.Debug().Str("user_id", r.userID).Msg("retrospect manager evicted")
	})
}

func (s *Service) syncInProgress(r *resident) {
	n, _ := r.manager.Counts()
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.metrics != nil {
		s.metrics.InProgressRetrospects.Add(float64(n - r.inProgress))
	}
	r.inProgress = n
}

func (s *Service) broadcast(userID string, evt retrospect.Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subscribers[userID] {
		select {
		case ch <- evt:
		default:
			if s.metrics != nil {
				s.metrics.ObserveIndicator("event_dropped")
			}
		}
	}
}

func (s *Service) lock(ctx context.Context, key string) (func(), error) {
	unlock, err := s.locker.Lock(ctx, key)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrLockUnavailable, err)
	}
	return unlock, nil
}

func (s *Service) observe(ctx context.Context, op, userID, retrospectID string) (context.Context, func(error)) {
	ctx, span := observability.StartOperationSpan(ctx, op, userID, retrospectID)
	start := time.Now()
	return ctx, func(err error) {
		if s.metrics != nil {
			code := ErrorCode(err)
			s.metrics.ObserveOperation(op, time.Since(start), code)
			if err != nil {
				s.metrics.OperationErrors.WithLabelValues(op, code).Inc()
			}
		}
		observability.RecordError(span, err)
		span.End()
	}
}

func userKey(userID string) string {
	return "user:" + strings.TrimSpace(userID)
}

// ErrorCode maps an operation error onto a stable machine-readable code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingUser), errors.Is(err, retrospect.ErrEmptyMessage):
		return "invalid_request"
	case errors.Is(err, retrospect.ErrLimitExceeded):
		return "limit_reached"
	case errors.Is(err, retrospect.ErrInvalidRetrospect):
		return "retrospect_not_found"
	case errors.Is(err, retrospect.ErrAlreadyFinished):
		return "already_finished"
	case errors.Is(err, retrospect.ErrRetrospectEnded):
		return "retrospect_ended"
	case errors.Is(err, retrospect.ErrCreationFailed):
		return "creation_failed"
	case errors.Is(err, retrospect.ErrAssistant):
		return "assistant_error"
	case errors.Is(err, retrospect.ErrStorage):
		return "storage_error"
	case errors.Is(err, ErrLockUnavailable):
		return "lock_unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "internal_error"
	}
}
