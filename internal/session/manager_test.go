package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gemini-chatbot/internal/completion"
	"gemini-chatbot/internal/conversation"
	"gemini-chatbot/internal/models"
)

type recordingPublisher struct {
	mu     sync.Mutex
	views  []models.ConversationView
	closed []uuid.UUID
}

func (p *recordingPublisher) PublishConversation(ctx context.Context, view models.ConversationView) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.views = append(p.views, view)
}

func (p *recordingPublisher) CloseConversation(ctx context.Context, id uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = append(p.closed, id)
}

func (p *recordingPublisher) closedIDs() []uuid.UUID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uuid.UUID(nil), p.closed...)
}

func (p *recordingPublisher) snapshot() []models.ConversationView {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.ConversationView(nil), p.views...)
}

func echoClient() completion.Client {
	return completion.ClientFunc(func(ctx context.Context, prompt string) (string, error) {
		return "echo: " + prompt, nil
	})
}

func TestManager_CreateAndGet(t *testing.T) {
	m := NewManager(echoClient(), nil, time.Second, time.Minute)

	sess := m.Create()
	got, err := m.Get(sess.ID)
	require.NoError(t, err)
	assert.Same(t, sess, got)

	view := got.View()
	assert.Equal(t, sess.ID, view.ID)
	require.Len(t, view.Messages, 1)
	assert.Equal(t, conversation.Greeting, view.Messages[0].Text)
	assert.Equal(t, 1, m.Len())
}

func TestManager_GetMissing(t *testing.T) {
	m := NewManager(echoClient(), nil, time.Second, time.Minute)

	_, err := m.Get(uuid.New())
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, ok := m.Lookup(uuid.New())
	assert.False(t, ok)
}

func TestManager_End(t *testing.T) {
	m := NewManager(echoClient(), nil, time.Second, time.Minute)
	sess := m.Create()

	require.NoError(t, m.End(sess.ID))
	assert.ErrorIs(t, m.End(sess.ID), ErrSessionNotFound)
	assert.Equal(t, 0, m.Len())
}

func TestManager_PublishesEveryTransition(t *testing.T) {
	pub := &recordingPublisher{}
	m := NewManager(echoClient(), pub, time.Second, time.Minute)
	sess := m.Create()

	require.True(t, sess.Store.Submit("Hello"))
	sess.Store.Wait()

	views := pub.snapshot()
	require.Len(t, views, 2)
	assert.True(t, views[0].Pending)
	assert.Len(t, views[0].Messages, 2)
	assert.False(t, views[1].Pending)
	assert.Len(t, views[1].Messages, 3)
	assert.Equal(t, "echo: Hello", views[1].Messages[2].Text)
	for _, v := range views {
		assert.Equal(t, sess.ID, v.ID)
	}
}

func TestManager_EvictIdleOnce(t *testing.T) {
	release := make(chan struct{})
	blocking := completion.ClientFunc(func(ctx context.Context, prompt string) (string, error) {
		<-release
		return "late", nil
	})
	m := NewManager(blocking, nil, 0, time.Minute)

	idle := m.Create()
	busy := m.Create()
	require.True(t, busy.Store.Submit("still thinking"))

	later := time.Now().UTC().Add(2 * time.Minute)
	assert.Equal(t, 1, m.evictIdleOnce(later))

	_, err := m.Get(idle.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = m.Get(busy.ID)
	assert.NoError(t, err, "pending sessions must survive eviction")

	close(release)
	busy.Store.Wait()
}

func TestManager_EvictKeepsFreshSessions(t *testing.T) {
	m := NewManager(echoClient(), nil, time.Second, time.Hour)
	m.Create()

	assert.Equal(t, 0, m.evictIdleOnce(time.Now().UTC()))
	assert.Equal(t, 1, m.Len())
}

func TestManager_EvictionDisabled(t *testing.T) {
	m := NewManager(echoClient(), nil, time.Second, 0)
	m.Create()

	assert.Equal(t, 0, m.evictIdleOnce(time.Now().UTC().Add(24*time.Hour)))
}

func TestManager_StartEvictionLoopStopsWithContext(t *testing.T) {
	m := NewManager(echoClient(), nil, time.Second, time.Nanosecond)
	m.Create()

	ctx, cancel := context.WithCancel(context.Background())
	m.StartEvictionLoop(ctx, 5*time.Millisecond)

	require.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
}

// stallingPublisher blocks on every pending snapshot until released.
type stallingPublisher struct {
	recordingPublisher
	stalled chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *stallingPublisher) PublishConversation(ctx context.Context, view models.ConversationView) {
	if view.Pending {
		p.once.Do(func() { close(p.stalled) })
		<-p.release
	}
	p.recordingPublisher.PublishConversation(ctx, view)
}

func TestManager_StalledPublisherDoesNotBlockOtherSessions(t *testing.T) {
	pub := &stallingPublisher{stalled: make(chan struct{}), release: make(chan struct{})}
	m := NewManager(echoClient(), pub, time.Second, time.Nanosecond)

	slow := m.Create()
	other := m.Create()
	require.True(t, slow.Store.Submit("hi"))
	<-pub.stalled

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.evictIdleOnce(time.Now().UTC().Add(time.Hour))
		_ = slow.Store.Snapshot()
		_, _ = m.Get(other.ID)
		m.Create()
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("manager blocked behind a stalled publisher")
	}

	close(pub.release)
	slow.Store.Wait()
	assert.Len(t, pub.snapshot(), 2)
}

func TestManager_EndAndEvictCloseTheConversation(t *testing.T) {
	pub := &recordingPublisher{}
	m := NewManager(echoClient(), pub, time.Second, time.Minute)

	ended := m.Create()
	idle := m.Create()
	require.NoError(t, m.End(ended.ID))
	assert.Equal(t, 1, m.evictIdleOnce(time.Now().UTC().Add(time.Hour)))

	assert.ElementsMatch(t, []uuid.UUID{ended.ID, idle.ID}, pub.closedIDs())
}
