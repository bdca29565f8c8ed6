// Package session keeps one in-memory conversation per chat session. Nothing
// is persisted: a session ends when the client ends it, when it sits idle past
// the configured limit, or when the process exits.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"gemini-chatbot/internal/completion"
	"gemini-chatbot/internal/conversation"
	"gemini-chatbot/internal/models"
)

var ErrSessionNotFound = errors.New("session not found")

// Publisher receives every conversation change, and the end of a
// conversation so its subscribers can be dropped.
type Publisher interface {
	PublishConversation(ctx context.Context, view models.ConversationView)
	CloseConversation(ctx context.Context, id uuid.UUID)
}

type Session struct {
	ID        uuid.UUID
	CreatedAt time.Time
	Store     *conversation.Store
}

// View returns the wire snapshot of the session's conversation.
func (s *Session) View() models.ConversationView {
	return ToView(s.ID, s.Store.Snapshot())
}

// ToView converts a conversation value into its wire form.
func ToView(id uuid.UUID, c conversation.Conversation) models.ConversationView {
	return models.ConversationView{
		ID:       id,
		Messages: c.Messages,
		Pending:  c.Pending,
	}
}

type Manager struct {
	mu        sync.RWMutex
	sessions  map[uuid.UUID]*Session
	client    completion.Client
	publisher Publisher
	timeout   time.Duration
	idle      time.Duration
	now       func() time.Time
	evicting  bool
}

func NewManager(client completion.Client, publisher Publisher, completionTimeout, idle time.Duration) *Manager {
	return &Manager{
		sessions:  make(map[uuid.UUID]*Session),
		client:    client,
		publisher: publisher,
		timeout:   completionTimeout,
		idle:      idle,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create starts a new session seeded with the greeting.
func (m *Manager) Create() *Session {
	id := uuid.New()
	sess := &Session{ID: id, CreatedAt: m.now()}

	opts := []conversation.Option{
		conversation.WithTimeout(m.timeout),
		conversation.WithClock(m.now),
		conversation.WithLogger(log.With().Str("conversation_id", id.String()).Logger()),
	}
	if m.publisher != nil {
		pub := m.publisher
		opts = append(opts, conversation.WithListener(func(c conversation.Conversation) {
			pub.PublishConversation(context.Background(), ToView(id, c))
		}))
	}
	sess.Store = conversation.NewStore(m.client, opts...)

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	log.Info().Str("conversation_id", id.String()).Msg("session created")
	return sess
}

func (m *Manager) Get(id uuid.UUID) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Lookup returns the current view of a session, if it exists.
func (m *Manager) Lookup(id uuid.UUID) (models.ConversationView, bool) {
	sess, err := m.Get(id)
	if err != nil {
		return models.ConversationView{}, false
	}
	return sess.View(), true
}

// End discards a session. An exchange still in flight completes against the
// detached store and is then dropped with it.
func (m *Manager) End(id uuid.UUID) error {
	m.mu.Lock()
	if _, ok := m.sessions[id]; !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	m.mu.Unlock()

	m.closeConversation(id)
	log.Info().Str("conversation_id", id.String()).Msg("session ended")
	return nil
}

func (m *Manager) closeConversation(id uuid.UUID) {
	if m.publisher != nil {
		m.publisher.CloseConversation(context.Background(), id)
	}
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// StartEvictionLoop removes idle sessions every interval until ctx is done.
func (m *Manager) StartEvictionLoop(ctx context.Context, interval time.Duration) {
	if m.idle <= 0 || interval <= 0 {
		return
	}

	m.mu.Lock()
	if m.evicting {
		m.mu.Unlock()
		return
	}
	m.evicting = true
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				m.mu.Lock()
				m.evicting = false
				m.mu.Unlock()
				return
			case now := <-ticker.C:
				if n := m.evictIdleOnce(now.UTC()); n > 0 {
					log.Info().Int("evicted", n).Int("remaining", m.Len()).Msg("evicted idle sessions")
				}
			}
		}
	}()
}

// evictIdleOnce scans without holding m.mu; only the delete is locked.
func (m *Manager) evictIdleOnce(now time.Time) int {
	if m.idle <= 0 {
		return 0
	}

	m.mu.RLock()
	candidates := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		candidates = append(candidates, sess)
	}
	m.mu.RUnlock()

	var evicted []uuid.UUID
	for _, sess := range candidates {
		if !m.idleAt(sess, now) {
			continue
		}

		// A submit may have landed since the first check.
		m.mu.Lock()
		if cur, ok := m.sessions[sess.ID]; ok && cur == sess && m.idleAt(sess, now) {
			delete(m.sessions, sess.ID)
			evicted = append(evicted, sess.ID)
		}
		m.mu.Unlock()
	}

	for _, id := range evicted {
		m.closeConversation(id)
	}
	return len(evicted)
}

// idleAt reports whether sess may be evicted. A pending session is never
// idle: its result must still land.
func (m *Manager) idleAt(sess *Session, now time.Time) bool {
	if sess.Store.Pending() {
		return false
	}
	return now.Sub(sess.Store.LastActivity()) >= m.idle
}
