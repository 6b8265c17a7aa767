package meeting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/teris-io/shortid"
	"go.uber.org/zap"

	"github.com/skillnest/realtime/internal/auth"
	"github.com/skillnest/realtime/internal/broadcast"
	"github.com/skillnest/realtime/internal/database"
	"github.com/skillnest/realtime/internal/rooms"
	"github.com/skillnest/realtime/internal/stats"
	"github.com/skillnest/realtime/internal/types"
)

var (
	ErrMeetingNotFound = errors.New("meeting: not found")
	ErrNoActiveMeeting = errors.New("meeting: no active meeting")
	ErrNotHost         = errors.New("meeting: only the host or community creator may end a meeting")
)

type Publisher interface {
	PublishEvent(ctx context.Context, group string, ev types.Event, exclude ...string) error
}

// JoinInfo carries a meeting and the caller's credentials for it.
type JoinInfo struct {
	Meeting       database.Meeting
	AppId         string
	Domain        string
	Token         string
	AlreadyActive bool
}

func (j JoinInfo) Wire() types.JoinInfo {
	return types.JoinInfo{
		RoomName:      j.Meeting.RoomName,
		AppId:         j.AppId,
		Token:         j.Token,
		MeetingId:     j.Meeting.Id,
		AlreadyActive: j.AlreadyActive,
		Domain:        j.Domain,
	}
}

// Service keeps at most one active meeting per community and signals
// meeting start and end to the community group.
type Service struct {
	db        database.Repository
	rooms     *rooms.Authorizer
	publisher Publisher
	tokens    *auth.MeetingTokens
	log       *zap.Logger
	stats     stats.StatsProvider
	clock     func() time.Time
}

func NewService(
	db database.Repository,
	authorizer *rooms.Authorizer,
	publisher Publisher,
	tokens *auth.MeetingTokens,
	logger *zap.Logger,
	sp stats.StatsProvider,
) *Service {
	if sp == nil {
		sp = stats.NopStats{}
	}
	return &Service{
		db:        db,
		rooms:     authorizer,
		publisher: publisher,
		tokens:    tokens,
		log:       logger.Named("meeting"),
		stats:     sp,
		clock:     time.Now,
	}
}

func roomName(communityId int) (string, error) {
	suffix, err := shortid.Generate()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("skillnest-%d-%s", communityId, suffix), nil
}

// CreateMeeting starts a meeting for the community, or returns the active
// one with AlreadyActive set.
func (s *Service) CreateMeeting(ctx context.Context, communityId, hostId int) (JoinInfo, error) {
	if _, err := s.rooms.CheckCommunity(ctx, hostId, communityId); err != nil {
		return JoinInfo{}, err
	}

	name, err := roomName(communityId)
	if err != nil {
		return JoinInfo{}, fmt.Errorf("generate room name: %w", err)
	}

	m, created, err := s.db.CreateMeetingIfNoneActive(ctx, &database.Meeting{
		Id:          uuid.NewString(),
		HostId:      hostId,
		CommunityId: &communityId,
		RoomName:    name,
		Domain:      s.tokens.Domain(),
		IsActive:    true,
		StartedAt:   s.clock().UTC(),
	})
	if err != nil {
		return JoinInfo{}, fmt.Errorf("create meeting: %w", err)
	}

	if created {
		s.stats.Incr(stats.ActiveMeetings)
		s.log.Info("meeting started",
			zap.String("meeting_id", m.Id),
			zap.String("room_name", m.RoomName),
			zap.Int("community_id", communityId),
			zap.Int("host_id", hostId),
		)
	}

	info, err := s.join(ctx, m, hostId)
	if err != nil {
		return JoinInfo{}, err
	}
	info.AlreadyActive = !created

	if created {
		ev := types.MeetingStartedEvent{Meeting: types.NewMeeting(info.Meeting)}
		if err := s.publisher.PublishEvent(ctx, broadcast.CommunityGroup(communityId), ev); err != nil {
			s.log.Warn("meeting_started publish failed", zap.String("meeting_id", m.Id), zap.Error(err))
		}
	}
	return info, nil
}

// ActiveMeeting returns the community's active meeting with a join token
// for userId. It is a lookup: userId is recorded as a participant only when
// it joins through CreateMeeting.
func (s *Service) ActiveMeeting(ctx context.Context, communityId, userId int) (JoinInfo, error) {
	if _, err := s.rooms.CheckCommunity(ctx, userId, communityId); err != nil {
		return JoinInfo{}, err
	}

	m, err := s.db.GetActiveMeeting(ctx, communityId)
	if errors.Is(err, database.ErrNotFound) {
		return JoinInfo{}, ErrNoActiveMeeting
	}
	if err != nil {
		return JoinInfo{}, fmt.Errorf("get active meeting: %w", err)
	}

	info, err := s.credentials(ctx, m, userId)
	if err != nil {
		return JoinInfo{}, err
	}
	info.AlreadyActive = true
	return info, nil
}

// join records userId as a participant and issues its credentials.
func (s *Service) join(ctx context.Context, m database.Meeting, userId int) (JoinInfo, error) {
	if err := s.db.AddMeetingParticipant(ctx, m.Id, userId); err != nil {
		return JoinInfo{}, fmt.Errorf("add participant: %w", err)
	}

	refreshed, err := s.db.GetMeeting(ctx, m.Id)
	if err != nil {
		return JoinInfo{}, fmt.Errorf("get meeting: %w", err)
	}
	return s.credentials(ctx, refreshed, userId)
}

func (s *Service) credentials(ctx context.Context, m database.Meeting, userId int) (JoinInfo, error) {
	username := ""
	if u, err := s.db.GetUserById(ctx, userId); err == nil {
		username = u.Username
	}

	token, err := s.tokens.Issue(m.RoomName, userId, username, userId == m.HostId)
	if err != nil {
		return JoinInfo{}, fmt.Errorf("issue meeting token: %w", err)
	}

	return JoinInfo{
		Meeting: m,
		AppId:   s.tokens.AppId(),
		Domain:  m.Domain,
		Token:   token,
	}, nil
}

// EndMeeting deactivates a meeting. Ending a meeting that already ended
// returns it unchanged and signals nothing.
func (s *Service) EndMeeting(ctx context.Context, meetingId string, userId int) (database.Meeting, error) {
	m, err := s.db.GetMeeting(ctx, meetingId)
	if errors.Is(err, database.ErrNotFound) {
		return database.Meeting{}, ErrMeetingNotFound
	}
	if err != nil {
		return database.Meeting{}, fmt.Errorf("get meeting: %w", err)
	}

	if err := s.canEnd(ctx, m, userId); err != nil {
		return database.Meeting{}, err
	}

	ended, changed, err := s.db.EndMeeting(ctx, meetingId, s.clock().UTC())
	if err != nil {
		return database.Meeting{}, fmt.Errorf("end meeting: %w", err)
	}
	if !changed {
		return ended, nil
	}

	s.stats.Decr(stats.ActiveMeetings)
	s.log.Info("meeting ended",
		zap.String("meeting_id", ended.Id),
		zap.Int64("duration_seconds", ended.DurationSeconds),
	)

	if ended.CommunityId != nil {
		ev := types.MeetingEndedEvent{Meeting: types.NewMeeting(ended)}
		if err := s.publisher.PublishEvent(ctx, broadcast.CommunityGroup(*ended.CommunityId), ev); err != nil {
			s.log.Warn("meeting_ended publish failed", zap.String("meeting_id", ended.Id), zap.Error(err))
		}
	}
	return ended, nil
}

func (s *Service) canEnd(ctx context.Context, m database.Meeting, userId int) error {
	if m.HostId == userId {
		return nil
	}
	if m.CommunityId == nil {
		return ErrNotHost
	}

	c, err := s.db.GetCommunity(ctx, *m.CommunityId)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("get community: %w", err)
	}
	if err == nil && c.CreatorId == userId {
		return nil
	}
	return ErrNotHost
}
