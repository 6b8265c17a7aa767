package meeting

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/skillnest/realtime/internal/auth"
	"github.com/skillnest/realtime/internal/database"
	"github.com/skillnest/realtime/internal/presence"
	"github.com/skillnest/realtime/internal/rooms"
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

type fixture struct {
	svc    *Service
	repo   *database.GormRepository
	pub    *mockPublisher
	tokens *auth.MeetingTokens
}

// Community 1: creator 1, member 2. User 3 is an outsider.
func newFixture(t *testing.T) fixture {
	t.Helper()
	return newFixtureOn(t, testutil.NewTestDB(t))
}

func newFixtureOn(t *testing.T, repo *database.GormRepository) fixture {
	t.Helper()

	logger := testutil.TestLogger(t)
	testutil.SeedUser(t, repo.DB(), 1, "creator")
	testutil.SeedUser(t, repo.DB(), 2, "member")
	testutil.SeedUser(t, repo.DB(), 3, "outsider")
	testutil.SeedCommunity(t, repo.DB(), 1, 1, "gophers", 2)

	tokens, err := auth.NewMeetingTokens(auth.MeetingTokenConfig{
		AppId:  "skillnest",
		Domain: "meet.example.com",
		Secret: []byte("meeting-secret"),
	})
	require.NoError(t, err)

	pub := new(mockPublisher)
	authorizer := rooms.NewAuthorizer(repo, presence.NewRegistry(repo, logger, nil), logger)
	return fixture{
		svc:    NewService(repo, authorizer, pub, tokens, logger, nil),
		repo:   repo,
		pub:    pub,
		tokens: tokens,
	}
}

func TestCreateMeeting(t *testing.T) {
	f := newFixture(t)
	f.pub.On("PublishEvent", mock.Anything, "community:1", mock.AnythingOfType("types.MeetingStartedEvent")).Return(nil).Once()

	info, err := f.svc.CreateMeeting(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.False(t, info.AlreadyActive)
	assert.True(t, strings.HasPrefix(info.Meeting.RoomName, "skillnest-1-"), "unexpected room name %q", info.Meeting.RoomName)
	assert.Equal(t, "skillnest", info.AppId)
	assert.Equal(t, "meet.example.com", info.Domain)
	assert.Equal(t, 2, info.Meeting.HostId)
	assert.True(t, info.Meeting.IsActive)
	require.Len(t, info.Meeting.Participants, 1)
	assert.Equal(t, 2, info.Meeting.Participants[0].UserId)

	claims, err := f.tokens.Parse(info.Token)
	require.NoError(t, err)
	assert.Equal(t, info.Meeting.RoomName, claims.Room)
	assert.True(t, claims.Moderator, "the host moderates")

	wire := info.Wire()
	assert.Equal(t, info.Meeting.RoomName, wire.RoomName)
	assert.Equal(t, info.Meeting.Id, wire.MeetingId)
	f.pub.AssertExpectations(t)
}

func TestCreateMeetingTwiceReturnsActive(t *testing.T) {
	f := newFixture(t)
	f.pub.On("PublishEvent", mock.Anything, "community:1", mock.Anything).Return(nil).Once()
	ctx := context.Background()

	first, err := f.svc.CreateMeeting(ctx, 1, 1)
	require.NoError(t, err)
	second, err := f.svc.CreateMeeting(ctx, 1, 1)
	require.NoError(t, err)

	assert.False(t, first.AlreadyActive)
	assert.True(t, second.AlreadyActive)
	assert.Equal(t, first.Meeting.RoomName, second.Meeting.RoomName)
	f.pub.AssertNumberOfCalls(t, "PublishEvent", 1)
}

func TestCreateMeetingConcurrent(t *testing.T) {
	tcases := []struct {
		name string
		open func(t *testing.T) *database.GormRepository
	}{
		{"sqlite", testutil.NewTestDB},
		{"postgres", testutil.NewPostgresDB},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixtureOn(t, tc.open(t))
			f.pub.On("PublishEvent", mock.Anything, "community:1", mock.Anything).Return(nil)

			const n = 8
			names := make([]string, n)
			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					info, err := f.svc.CreateMeeting(context.Background(), 1, 1+i%2)
					assert.NoError(t, err)
					names[i] = info.Meeting.RoomName
				}(i)
			}
			wg.Wait()

			for _, name := range names {
				assert.Equal(t, names[0], name, "every caller must see the same room")
			}

			var active int64
			f.repo.DB().Model(&database.Meeting{}).Where("community_id = ? AND is_active = ?", 1, true).Count(&active)
			assert.Equal(t, int64(1), active)
			f.pub.AssertNumberOfCalls(t, "PublishEvent", 1)
		})
	}
}

func TestCreateMeetingForbidden(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateMeeting(context.Background(), 1, 3)
	assert.ErrorIs(t, err, rooms.ErrForbidden)

	_, err = f.svc.CreateMeeting(context.Background(), 42, 1)
	assert.ErrorIs(t, err, rooms.ErrCommunityNotFound)
}

func TestEndMeeting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	f.svc.clock = func() time.Time { return start }
	f.pub.On("PublishEvent", mock.Anything, "community:1", mock.AnythingOfType("types.MeetingStartedEvent")).Return(nil).Once()
	info, err := f.svc.CreateMeeting(ctx, 1, 2)
	require.NoError(t, err)

	_, err = f.svc.EndMeeting(ctx, info.Meeting.Id, 3)
	assert.ErrorIs(t, err, ErrNotHost)

	f.svc.clock = func() time.Time { return start.Add(25 * time.Minute) }
	f.pub.On("PublishEvent", mock.Anything, "community:1", mock.AnythingOfType("types.MeetingEndedEvent")).Return(nil).Once()
	ended, err := f.svc.EndMeeting(ctx, info.Meeting.Id, 1)
	require.NoError(t, err, "the community creator may end the meeting")
	assert.False(t, ended.IsActive)
	assert.Equal(t, int64(25*60), ended.DurationSeconds)
	require.NotNil(t, ended.EndedAt)

	again, err := f.svc.EndMeeting(ctx, info.Meeting.Id, 2)
	require.NoError(t, err, "ending twice is a no-op success")
	assert.Equal(t, ended.DurationSeconds, again.DurationSeconds)
	f.pub.AssertNumberOfCalls(t, "PublishEvent", 2)

	_, err = f.svc.EndMeeting(ctx, "missing", 1)
	assert.ErrorIs(t, err, ErrMeetingNotFound)
}

func TestActiveMeeting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.pub.On("PublishEvent", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	_, err := f.svc.ActiveMeeting(ctx, 1, 2)
	assert.ErrorIs(t, err, ErrNoActiveMeeting)

	created, err := f.svc.CreateMeeting(ctx, 1, 1)
	require.NoError(t, err)

	info, err := f.svc.ActiveMeeting(ctx, 1, 2)
	require.NoError(t, err)
	assert.True(t, info.AlreadyActive)
	assert.Equal(t, created.Meeting.Id, info.Meeting.Id)
	assert.Len(t, info.Meeting.Participants, 1)

	claims, err := f.tokens.Parse(info.Token)
	require.NoError(t, err)
	assert.False(t, claims.Moderator)
	assert.Equal(t, "member", claims.Context.User.Name)

	stored, err := f.repo.GetMeeting(ctx, created.Meeting.Id)
	require.NoError(t, err)
	assert.Len(t, stored.Participants, 1, "a lookup does not record a participant")

	joined, err := f.svc.CreateMeeting(ctx, 1, 2)
	require.NoError(t, err)
	assert.True(t, joined.AlreadyActive)
	assert.Len(t, joined.Meeting.Participants, 2)

	_, err = f.svc.ActiveMeeting(ctx, 1, 3)
	assert.ErrorIs(t, err, rooms.ErrForbidden)
}
