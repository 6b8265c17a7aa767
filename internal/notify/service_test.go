package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/skillnest/realtime/internal/database"
	"github.com/skillnest/realtime/internal/stats"
	"github.com/skillnest/realtime/internal/testutil"
	"github.com/skillnest/realtime/internal/types"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishEvent(ctx context.Context, group string, ev types.Event, exclude ...string) error {
	args := m.Called(ctx, group, ev)
	return args.Error(0)
}

func newTestService(t *testing.T, pub Publisher) (*Service, *database.GormRepository) {
	t.Helper()

	repo := testutil.NewTestDB(t)
	testutil.SeedUser(t, repo.DB(), 1, "alice")
	testutil.SeedUser(t, repo.DB(), 2, "bob")
	return NewService(repo, pub, testutil.TestLogger(t), nil), repo
}

func TestNotifyPersistsThenPublishes(t *testing.T) {
	pub := new(mockPublisher)
	svc, repo := newTestService(t, pub)
	postId := 33

	pub.On("PublishEvent", mock.Anything, "notifications:2", mock.Anything).Run(func(args mock.Arguments) {
		ev, ok := args.Get(2).(types.NotificationEvent)
		require.True(t, ok, "expected a notification event")

		stored, err := repo.ListNotifications(context.Background(), 2, false, 0)
		require.NoError(t, err)
		require.Len(t, stored, 1, "notification must be stored before it is published")
		assert.Equal(t, stored[0].Id, ev.Id)
		assert.Equal(t, "alice", ev.Sender.Username)
		assert.Equal(t, TypeLike, ev.Type)
		assert.Equal(t, &postId, ev.PostId)
	}).Return(nil).Once()

	n, err := svc.Notify(context.Background(), 1, 2, TypeLike, &postId)
	require.NoError(t, err)
	assert.NotZero(t, n.Id)
	pub.AssertExpectations(t)
}

func TestNotifyPublishFailureIsNotFatal(t *testing.T) {
	pub := new(mockPublisher)
	svc, repo := newTestService(t, pub)
	pub.On("PublishEvent", mock.Anything, "notifications:2", mock.Anything).Return(errors.New("broker down"))

	n, err := svc.Notify(context.Background(), 1, 2, TypeFollow, nil)
	require.NoError(t, err, "publish failures are best effort")

	count, err := repo.CountUnreadNotifications(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Nil(t, n.PostId)
}

func TestNotifyValidation(t *testing.T) {
	pub := new(mockPublisher)
	svc, _ := newTestService(t, pub)

	tcases := []struct {
		name      string
		notifType string
		recipient int
		err       error
	}{
		{"unknown type", "poke", 2, ErrInvalidType},
		{"empty type", "", 2, ErrInvalidType},
		{"no recipient", TypeComment, 0, ErrInvalidRecipient},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Notify(context.Background(), 1, tc.recipient, tc.notifType, nil)
			assert.ErrorIs(t, err, tc.err)
		})
	}
	pub.AssertNotCalled(t, "PublishEvent", mock.Anything, mock.Anything, mock.Anything)
}

func TestNotifyCountsSent(t *testing.T) {
	pub := new(mockPublisher)
	pub.On("PublishEvent", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	sp := new(stats.MockStatsUpdater)
	sp.On("Incr", stats.NotificationsSent).Return().Once()

	repo := testutil.NewTestDB(t)
	svc := NewService(repo, pub, testutil.TestLogger(t), sp)

	_, err := svc.Notify(context.Background(), 1, 2, TypeComment, nil)
	require.NoError(t, err)
	sp.AssertExpectations(t)
}

func TestQueries(t *testing.T) {
	pub := new(mockPublisher)
	pub.On("PublishEvent", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	svc, _ := newTestService(t, pub)
	ctx := context.Background()

	for _, typ := range []string{TypeLike, TypeComment, TypeFollow} {
		_, err := svc.Notify(ctx, 1, 2, typ, nil)
		require.NoError(t, err)
	}

	list, err := svc.List(ctx, 2, false, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "alice", list[0].Sender.Username)

	count, err := svc.UnreadCount(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	read, err := svc.MarkRead(ctx, 2, list[0].Id, true)
	require.NoError(t, err)
	assert.True(t, read.Read)

	_, err = svc.MarkRead(ctx, 1, list[0].Id, true)
	assert.ErrorIs(t, err, ErrNotificationNotFound)

	updated, err := svc.MarkAllRead(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated)

	unread, err := svc.List(ctx, 2, true, 0)
	require.NoError(t, err)
	assert.Empty(t, unread)
}

func TestConsumerHandle(t *testing.T) {
	pub := new(mockPublisher)
	pub.On("PublishEvent", mock.Anything, "notifications:2", mock.Anything).Return(nil)
	svc, repo := newTestService(t, pub)
	c := &EventConsumer{service: svc, log: testutil.TestLogger(t), timeout: time.Second}

	postId := 5
	valid, err := json.Marshal(DomainEvent{Type: TypeComment, SenderId: 1, RecipientId: 2, PostId: &postId})
	require.NoError(t, err)

	tcases := []struct {
		name string
		data []byte
	}{
		{"malformed", []byte("{not json")},
		{"unknown type", []byte(`{"type":"poke","sender_id":1,"recipient_id":2}`)},
		{"missing recipient", []byte(`{"type":"like","sender_id":1}`)},
		{"self notification", []byte(`{"type":"like","sender_id":2,"recipient_id":2}`)},
		{"valid", valid},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.NotPanics(t, func() { c.handle(tc.data) })
		})
	}

	stored, err := repo.ListNotifications(context.Background(), 2, false, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1, "only the valid event produces a notification")
	assert.Equal(t, TypeComment, stored[0].NotifType)
	pub.AssertNumberOfCalls(t, "PublishEvent", 1)
}

func TestConsumerCloseWithoutConnection(t *testing.T) {
	c := &EventConsumer{}
	assert.NoError(t, c.Close())
}
