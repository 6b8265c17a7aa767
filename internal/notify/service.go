package notify

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/skillnest/realtime/internal/broadcast"
	"github.com/skillnest/realtime/internal/database"
	"github.com/skillnest/realtime/internal/stats"
	"github.com/skillnest/realtime/internal/types"
)

const (
	TypeLike        = "like"
	TypeComment     = "comment"
	TypeCommentLike = "comment_like"
	TypeFollow      = "follow"

	defaultListLimit = 50
	maxListLimit     = 200
)

var (
	ErrInvalidType          = errors.New("notify: unknown notification type")
	ErrInvalidRecipient     = errors.New("notify: invalid recipient")
	ErrNotificationNotFound = errors.New("notify: notification not found")
)

func ValidType(t string) bool {
	switch t {
	case TypeLike, TypeComment, TypeCommentLike, TypeFollow:
		return true
	}
	return false
}

// Publisher delivers an event to a broadcast group.
type Publisher interface {
	PublishEvent(ctx context.Context, group string, ev types.Event, exclude ...string) error
}

// Service persists notifications and pushes them to the recipient's
// personal group. The stored row is the durable record; the push is best
// effort and never retried.
type Service struct {
	db        database.Repository
	publisher Publisher
	log       *zap.Logger
	stats     stats.StatsProvider
}

func NewService(db database.Repository, publisher Publisher, logger *zap.Logger, sp stats.StatsProvider) *Service {
	if sp == nil {
		sp = stats.NopStats{}
	}
	return &Service{db: db, publisher: publisher, log: logger.Named("notify"), stats: sp}
}

func (s *Service) Notify(ctx context.Context, senderId, recipientId int, notifType string, postId *int) (database.Notification, error) {
	if !ValidType(notifType) {
		return database.Notification{}, fmt.Errorf("%w: %q", ErrInvalidType, notifType)
	}
	if recipientId <= 0 {
		return database.Notification{}, ErrInvalidRecipient
	}

	n := &database.Notification{
		RecipientId: recipientId,
		SenderId:    senderId,
		NotifType:   notifType,
		PostId:      postId,
	}
	if err := s.db.CreateNotification(ctx, n); err != nil {
		return database.Notification{}, fmt.Errorf("create notification: %w", err)
	}

	ev := types.NotificationEvent{Notification: types.NewNotification(*n, s.sender(ctx, senderId))}
	if err := s.publisher.PublishEvent(ctx, broadcast.NotificationGroup(recipientId), ev); err != nil {
		s.log.Warn("notification push failed",
			zap.Int("notification_id", n.Id),
			zap.Int("recipient_id", recipientId),
			zap.Error(err),
		)
	} else {
		s.stats.Incr(stats.NotificationsSent)
	}

	return *n, nil
}

func (s *Service) sender(ctx context.Context, senderId int) types.User {
	u, err := s.db.GetUserById(ctx, senderId)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			s.log.Warn("sender lookup failed", zap.Int("sender_id", senderId), zap.Error(err))
		}
		return types.User{Id: senderId}
	}
	return types.User{Id: u.Id, Username: u.Username}
}

func (s *Service) senders(ctx context.Context, rows []database.Notification) map[int]types.User {
	ids := make([]int, 0, len(rows))
	seen := make(map[int]bool, len(rows))
	for _, n := range rows {
		if !seen[n.SenderId] {
			seen[n.SenderId] = true
			ids = append(ids, n.SenderId)
		}
	}

	out := make(map[int]types.User, len(ids))
	for _, id := range ids {
		out[id] = types.User{Id: id}
	}

	users, err := s.db.GetUsersByIds(ctx, ids)
	if err != nil {
		s.log.Warn("sender lookup failed", zap.Error(err))
		return out
	}
	for _, u := range users {
		out[u.Id] = types.User{Id: u.Id, Username: u.Username}
	}
	return out
}

// List returns the recipient's notifications, newest first.
func (s *Service) List(ctx context.Context, recipientId int, unreadOnly bool, limit int) ([]types.Notification, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	rows, err := s.db.ListNotifications(ctx, recipientId, unreadOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}

	senders := s.senders(ctx, rows)
	out := make([]types.Notification, 0, len(rows))
	for _, n := range rows {
		out = append(out, types.NewNotification(n, senders[n.SenderId]))
	}
	return out, nil
}

func (s *Service) UnreadCount(ctx context.Context, recipientId int) (int64, error) {
	count, err := s.db.CountUnreadNotifications(ctx, recipientId)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

func (s *Service) MarkRead(ctx context.Context, recipientId, id int, read bool) (types.Notification, error) {
	n, err := s.db.MarkNotificationRead(ctx, recipientId, id, read)
	if errors.Is(err, database.ErrNotFound) {
		return types.Notification{}, ErrNotificationNotFound
	}
	if err != nil {
		return types.Notification{}, fmt.Errorf("mark read: %w", err)
	}
	return types.NewNotification(n, s.sender(ctx, n.SenderId)), nil
}

func (s *Service) MarkAllRead(ctx context.Context, recipientId int) (int64, error) {
	updated, err := s.db.MarkAllNotificationsRead(ctx, recipientId)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	return updated, nil
}
