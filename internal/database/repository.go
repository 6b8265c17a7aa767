package database

import (
	"context"
	"time"
)

type Repository interface {
	Ping(ctx context.Context) error
	GetUserById(ctx context.Context, id int) (User, error)
	GetUsersByIds(ctx context.Context, ids []int) ([]User, error)
	GetCommunity(ctx context.Context, id int) (Community, error)
	IsCommunityMember(ctx context.Context, communityId, userId int) (bool, error)
	ListCommunityMemberIds(ctx context.Context, communityId int) ([]int, error)
	GetRoomById(ctx context.Context, id string) (Room, error)
	GetRoomByCommunityId(ctx context.Context, communityId int) (Room, error)
	GetOrCreateRoom(ctx context.Context, community Community) (Room, bool, error)
	CreateMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, id string) (Message, error)
	GetMessages(ctx context.Context, roomId string, query MessageQuery) ([]Message, error)
	UpdateMessageContent(ctx context.Context, id, content string, editedAt time.Time) (Message, error)
	AcquirePresence(ctx context.Context, userId int, roomId string, at time.Time) (Presence, error)
	ReleasePresence(ctx context.Context, userId int, at time.Time) (Presence, error)
	TouchPresences(ctx context.Context, userIds []int, at time.Time) error
	ResetStalePresences(ctx context.Context, before time.Time) (int64, error)
	GetPresence(ctx context.Context, userId int) (Presence, error)
	ListPresences(ctx context.Context, userIds []int) ([]Presence, error)
	CreateNotification(ctx context.Context, n *Notification) error
	ListNotifications(ctx context.Context, recipientId int, unreadOnly bool, limit int) ([]Notification, error)
	CountUnreadNotifications(ctx context.Context, recipientId int) (int64, error)
	MarkNotificationRead(ctx context.Context, recipientId, id int, read bool) (Notification, error)
	MarkAllNotificationsRead(ctx context.Context, recipientId int) (int64, error)
	CreateMeetingIfNoneActive(ctx context.Context, m *Meeting) (Meeting, bool, error)
	GetMeeting(ctx context.Context, id string) (Meeting, error)
	GetActiveMeeting(ctx context.Context, communityId int) (Meeting, error)
	EndMeeting(ctx context.Context, id string, endedAt time.Time) (Meeting, bool, error)
	AddMeetingParticipant(ctx context.Context, meetingId string, userId int) error
}
