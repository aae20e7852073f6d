package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"readstate_backend/internal/auth"
	"readstate_backend/internal/models/chat"
	"readstate_backend/internal/repositories"
	repoChat "readstate_backend/internal/repositories/chat"
	"readstate_backend/internal/services/push"
	"readstate_backend/internal/services/push/mocks"
	"readstate_backend/internal/services/unread"
	"readstate_backend/internal/validator"
	"readstate_backend/pkg/apperrors"
	"readstate_backend/test/testdb"
)

type fixture struct {
	svc      *MessageEventService
	engine   *unread.Engine
	provider *mocks.MockProvider
	redis    *miniredis.Miniredis
}

func newFixture(t *testing.T, maxTokens int) *fixture {
	return newFixtureWith(t, maxTokens, nil, nil)
}

// newFixtureWith позволяет подменить хранилище участников и guard
func newFixtureWith(t *testing.T, maxTokens int,
	wrapStore func(repoChat.ParticipantStore) repoChat.ParticipantStore,
	wrapGuard func(*RedisGuard) IdempotencyGuard,
) *fixture {
	db := testdb.New(t)
	testdb.SeedChat(t, db, "C1", "u1", "u2", "u3")
	testdb.SeedDevice(t, db, "u2", "t-u2-web")
	testdb.SeedDevice(t, db, "u3", "t-u3-web")
	testdb.SeedDevice(t, db, "u3", "t-u3-phone")
	testdb.SeedDevice(t, db, "u1", "t-u1-sender")

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	var store repoChat.ParticipantStore = repoChat.NewGormParticipantStore(db)
	if wrapStore != nil {
		store = wrapStore(store)
	}
	var guard IdempotencyGuard = NewRedisGuard(client, time.Hour)
	if wrapGuard != nil {
		guard = wrapGuard(NewRedisGuard(client, time.Hour))
	}

	engine := unread.NewEngine(store, 1)
	provider := mocks.NewMockProvider(gomock.NewController(t))

	svc := NewMessageEventService(
		engine,
		repositories.NewDeviceTokenRepository(db),
		push.NewDispatcher(provider, maxTokens),
		guard,
		validator.New(),
	)
	return &fixture{svc: svc, engine: engine, provider: provider, redis: mr}
}

func allDelivered(_ context.Context, _ push.Payload, tokens []string) (*push.MulticastResult, error) {
	res := &push.MulticastResult{Responses: make([]push.TokenResponse, len(tokens))}
	for i := range res.Responses {
		res.Responses[i].Success = true
	}
	return res, nil
}

func event(id string) chat.MessageEvent {
	return chat.MessageEvent{
		MessageID:  id,
		ChatID:     "C1",
		SenderID:   "u1",
		SenderName: "Alice",
		Preview:    "hello",
		CreatedAt:  time.Now(),
	}
}

func unreadOf(t *testing.T, f *fixture, userID string) int64 {
	n, err := f.engine.GetUnreadCount(context.Background(), auth.Identity{UserID: userID, Role: auth.RoleUser}, "C1")
	require.NoError(t, err)
	return n
}

func TestHandleMessageSent_DeliversToRecipients(t *testing.T) {
	f := newFixture(t, 500)

	f.provider.EXPECT().
		SendMulticast(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, p push.Payload, tokens []string) (*push.MulticastResult, error) {
			assert.ElementsMatch(t, []string{"t-u2-web", "t-u3-web", "t-u3-phone"}, tokens)
			assert.Equal(t, "Alice", p.Title)
			assert.Equal(t, "C1", p.Tag)
			assert.Equal(t, "/messages/C1", p.Link)
			assert.Equal(t, "m1", p.Data["messageId"])
			return allDelivered(ctx, p, tokens)
		}).
		Times(1)

	report, err := f.svc.HandleMessageSent(context.Background(), event("m1"))
	require.NoError(t, err)

	assert.False(t, report.Duplicate)
	assert.Equal(t, []string{"u2", "u3"}, report.Recipients)
	assert.Equal(t, 3, report.Tokens)
	assert.Equal(t, 3, report.SuccessCount)
	assert.Zero(t, report.FailureCount)

	assert.EqualValues(t, 1, unreadOf(t, f, "u2"))
	assert.EqualValues(t, 1, unreadOf(t, f, "u3"))
	assert.EqualValues(t, 0, unreadOf(t, f, "u1"))
}

func TestHandleMessageSent_DuplicateIsSkipped(t *testing.T) {
	f := newFixture(t, 500)
	f.provider.EXPECT().SendMulticast(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(allDelivered).Times(1)

	_, err := f.svc.HandleMessageSent(context.Background(), event("m1"))
	require.NoError(t, err)

	report, err := f.svc.HandleMessageSent(context.Background(), event("m1"))
	require.NoError(t, err)
	assert.True(t, report.Duplicate)

	assert.EqualValues(t, 1, unreadOf(t, f, "u2"))
	assert.True(t, f.redis.Exists(guardKeyPrefix+"m1"))
}

func TestHandleMessageSent_ChunksByMaxTokens(t *testing.T) {
	f := newFixture(t, 2)

	var sizes []int
	f.provider.EXPECT().
		SendMulticast(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, p push.Payload, tokens []string) (*push.MulticastResult, error) {
			sizes = append(sizes, len(tokens))
			return allDelivered(ctx, p, tokens)
		}).
		Times(2)

	report, err := f.svc.HandleMessageSent(context.Background(), event("m1"))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1}, sizes)
	assert.Equal(t, 3, report.SuccessCount)
}

func TestHandleMessageSent_ProviderDownKeepsCounters(t *testing.T) {
	f := newFixture(t, 500)
	f.provider.EXPECT().
		SendMulticast(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, errors.New("fcm 503"))

	report, err := f.svc.HandleMessageSent(context.Background(), event("m1"))
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeDispatchUnavailable))
	require.NotNil(t, report)
	assert.Equal(t, []string{"u2", "u3"}, report.Recipients)

	// счетчики уже записаны, ключ не освобождается
	assert.EqualValues(t, 1, unreadOf(t, f, "u2"))
	assert.True(t, f.redis.Exists(guardKeyPrefix+"m1"))
}

func TestHandleMessageSent_UnknownChatReleasesKey(t *testing.T) {
	f := newFixture(t, 500)
	f.provider.EXPECT().SendMulticast(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	ev := event("m2")
	ev.ChatID = "nope"
	_, err := f.svc.HandleMessageSent(context.Background(), ev)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotParticipant))
	assert.False(t, f.redis.Exists(guardKeyPrefix+"m2"))
}

// flakyStore роняет первую запись счетчика для одного пользователя
type flakyStore struct {
	repoChat.ParticipantStore
	failFor string
	mu      sync.Mutex
	failed  bool
}

func (s *flakyStore) AtomicIncrement(ctx context.Context, chatID, userID, field string, delta int64) error {
	s.mu.Lock()
	if userID == s.failFor && !s.failed {
		s.failed = true
		s.mu.Unlock()
		return errors.New("connection reset")
	}
	s.mu.Unlock()
	return s.ParticipantStore.AtomicIncrement(ctx, chatID, userID, field, delta)
}

func failOnceFor(userID string) func(repoChat.ParticipantStore) repoChat.ParticipantStore {
	return func(s repoChat.ParticipantStore) repoChat.ParticipantStore {
		return &flakyStore{ParticipantStore: s, failFor: userID}
	}
}

func TestHandleMessageSent_RedeliveryAfterPartialFanout(t *testing.T) {
	f := newFixtureWith(t, 500, failOnceFor("u3"), nil)
	f.provider.EXPECT().SendMulticast(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(allDelivered).Times(1)
	ctx := context.Background()

	_, err := f.svc.HandleMessageSent(ctx, event("m1"))
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInternalError))
	assert.False(t, f.redis.Exists(guardKeyPrefix+"m1"))
	applied, err := f.redis.SMembers(guardKeyPrefix + "m1" + appliedKeySuffix)
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, applied)

	// брокер повторяет то же событие: u2 уже учтен
	report, err := f.svc.HandleMessageSent(ctx, event("m1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"u2", "u3"}, report.Recipients)
	assert.Equal(t, 3, report.Tokens)

	assert.EqualValues(t, 1, unreadOf(t, f, "u2"))
	assert.EqualValues(t, 1, unreadOf(t, f, "u3"))

	report, err = f.svc.HandleMessageSent(ctx, event("m1"))
	require.NoError(t, err)
	assert.True(t, report.Duplicate)
	assert.EqualValues(t, 1, unreadOf(t, f, "u2"))
}

// progressLostGuard не может сохранить прогресс fan-out
type progressLostGuard struct {
	*RedisGuard
}

func (progressLostGuard) MarkApplied(context.Context, string, []string) error {
	return errors.New("READONLY You can't write against a read only replica")
}

func TestHandleMessageSent_PartialFanoutKeepsKeyWhenProgressLost(t *testing.T) {
	f := newFixtureWith(t, 500, failOnceFor("u3"), func(g *RedisGuard) IdempotencyGuard {
		return progressLostGuard{RedisGuard: g}
	})
	f.provider.EXPECT().SendMulticast(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
	ctx := context.Background()

	_, err := f.svc.HandleMessageSent(ctx, event("m1"))
	require.Error(t, err)
	assert.True(t, f.redis.Exists(guardKeyPrefix+"m1"))

	report, err := f.svc.HandleMessageSent(ctx, event("m1"))
	require.NoError(t, err)
	assert.True(t, report.Duplicate)
	assert.EqualValues(t, 1, unreadOf(t, f, "u2"))
	assert.EqualValues(t, 0, unreadOf(t, f, "u3"))
}

func TestHandleMessageSent_BlankSenderNameFallsBack(t *testing.T) {
	f := newFixture(t, 500)
	f.provider.EXPECT().
		SendMulticast(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, p push.Payload, tokens []string) (*push.MulticastResult, error) {
			assert.Equal(t, defaultTitle, p.Title)
			assert.Equal(t, defaultBody, p.Body)
			return allDelivered(ctx, p, tokens)
		}).
		Times(1)

	ev := event("m5")
	ev.SenderName = "   "
	ev.Preview = " \t\n"
	report, err := f.svc.HandleMessageSent(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, 3, report.SuccessCount)
}

func TestHandleMessageSent_Validation(t *testing.T) {
	f := newFixture(t, 500)
	f.provider.EXPECT().SendMulticast(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	_, err := f.svc.HandleMessageSent(context.Background(), chat.MessageEvent{ChatID: "C1"})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidationFailed))
}

func TestHandleMessageSent_RedisDown(t *testing.T) {
	f := newFixture(t, 500)
	f.provider.EXPECT().SendMulticast(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
	f.redis.Close()

	_, err := f.svc.HandleMessageSent(context.Background(), event("m3"))
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeExternalServiceError))
	assert.EqualValues(t, 0, unreadOf(t, f, "u2"))
}

func TestRedisGuard(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	g := NewRedisGuard(client, time.Minute)
	ctx := context.Background()

	ok, err := g.Acquire(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.Acquire(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, g.Release(ctx, "k"))
	ok, err = g.Acquire(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(2 * time.Minute)
	ok, err = g.Acquire(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBuildNotification(t *testing.T) {
	long := make([]rune, 300)
	for i := range long {
		long[i] = 'я'
	}
	n := buildNotification(chat.MessageEvent{MessageID: "m", ChatID: "C7", Preview: string(long)})

	assert.Equal(t, defaultTitle, n.Title)
	assert.Equal(t, maxPreviewRune, len([]rune(n.Body)))
	assert.Equal(t, "/messages/C7", n.Data["url"])

	empty := buildNotification(chat.MessageEvent{MessageID: "m", ChatID: "C7"})
	assert.Equal(t, defaultBody, empty.Body)

	blank := buildNotification(chat.MessageEvent{MessageID: "m", ChatID: "C7", SenderName: " \t", Preview: "  "})
	assert.Equal(t, defaultTitle, blank.Title)
	assert.Equal(t, defaultBody, blank.Body)

	padded := buildNotification(chat.MessageEvent{MessageID: "m", ChatID: "C7", SenderName: " Alice ", Preview: " hi "})
	assert.Equal(t, "Alice", padded.Title)
	assert.Equal(t, "hi", padded.Body)
}

func TestRedisGuard_AppliedProgress(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	g := NewRedisGuard(client, time.Minute)
	ctx := context.Background()

	applied, err := g.Applied(ctx, "k")
	require.NoError(t, err)
	assert.Empty(t, applied)

	require.NoError(t, g.MarkApplied(ctx, "k", []string{"u2"}))
	require.NoError(t, g.MarkApplied(ctx, "k", []string{"u3", "u2"}))
	require.NoError(t, g.MarkApplied(ctx, "k", nil))

	applied, err = g.Applied(ctx, "k")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u2", "u3"}, applied)

	mr.FastForward(2 * time.Minute)
	applied, err = g.Applied(ctx, "k")
	require.NoError(t, err)
	assert.Empty(t, applied)
}
