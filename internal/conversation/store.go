package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"gemini-chatbot/internal/completion"
)

// Listener receives every new snapshot in transition order. It runs on a
// separate goroutine with the store unlocked, so a slow listener delays
// later notifications but never Submit, Resolve or Snapshot.
type Listener func(Conversation)

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

// WithTimeout bounds each completion call. Zero means no bound.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) { s.timeout = d }
}

func WithListener(l Listener) Option {
	return func(s *Store) { s.listener = l }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store owns one Conversation and serializes every mutation of it.
type Store struct {
	mu           sync.Mutex
	conv         Conversation
	client       completion.Client
	timeout      time.Duration
	now          func() time.Time
	newID        func() string
	listener     Listener
	logger       zerolog.Logger
	lastActivity time.Time
	inflight     chan struct{}

	// notifications queued for the listener, drained by one goroutine
	notifyMu   sync.Mutex
	notifyIdle *sync.Cond
	notifyQ    []Conversation
	notifying  bool
}

func NewStore(client completion.Client, opts ...Option) *Store {
	s := &Store{
		client: client,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
		logger: log.Logger,
	}
	s.notifyIdle = sync.NewCond(&s.notifyMu)
	for _, opt := range opts {
		opt(s)
	}

	at := s.now()
	s.conv = New(s.newID(), at)
	s.lastActivity = at
	return s
}

// Submit appends the user message and starts the completion when the text is
// non-blank and nothing is in flight. It reports whether an exchange started.
func (s *Store) Submit(text string) bool {
	s.mu.Lock()
	at := s.now()
	next, ok := Transition(s.conv, Submit{Text: text, ID: s.newID(), At: at})
	if !ok {
		s.mu.Unlock()
		return false
	}
	done := make(chan struct{})
	s.inflight = done
	s.applyLocked(next, at)
	s.mu.Unlock()

	go s.exchange(text, done)
	return true
}

// Resolve settles the in-flight exchange. A nil err appends text verbatim,
// any error appends the apology. It reports false when nothing was pending.
func (s *Store) Resolve(text string, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := s.now()
	next, ok := Transition(s.conv, Resolved{Text: text, Err: err, ID: s.newID(), At: at})
	if !ok {
		return false
	}
	s.applyLocked(next, at)
	return true
}

func (s *Store) Snapshot() Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv
}

func (s *Store) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.Pending
}

func (s *Store) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Wait blocks until the exchange in flight at call time has resolved and the
// listener has seen every snapshot produced so far.
func (s *Store) Wait() {
	s.mu.Lock()
	done := s.inflight
	s.mu.Unlock()
	if done != nil {
		<-done
	}
	s.flush()
}

func (s *Store) applyLocked(next Conversation, at time.Time) {
	s.conv = next
	s.lastActivity = at
	if s.listener == nil {
		return
	}

	// Enqueued under s.mu, so queue order is transition order.
	s.notifyMu.Lock()
	s.notifyQ = append(s.notifyQ, next)
	if !s.notifying {
		s.notifying = true
		go s.drain()
	}
	s.notifyMu.Unlock()
}

func (s *Store) drain() {
	for {
		s.notifyMu.Lock()
		if len(s.notifyQ) == 0 {
			s.notifying = false
			s.notifyIdle.Broadcast()
			s.notifyMu.Unlock()
			return
		}
		next := s.notifyQ[0]
		s.notifyQ = s.notifyQ[1:]
		s.notifyMu.Unlock()

		s.listener(next)
	}
}

func (s *Store) flush() {
	s.notifyMu.Lock()
	for s.notifying {
		s.notifyIdle.Wait()
	}
	s.notifyMu.Unlock()
}

func (s *Store) exchange(prompt string, done chan struct{}) {
	defer close(done)

	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := completion.Safe(ctx, s.client, prompt)
	if err != nil {
		s.logger.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("completion failed")
	} else {
		s.logger.Debug().Int("chars", len(text)).Dur("elapsed", time.Since(start)).Msg("completion succeeded")
	}

	s.Resolve(text, err)
}
