package database

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockRepository) GetUserById(ctx context.Context, id int) (User, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) GetUsersByIds(ctx context.Context, ids []int) ([]User, error) {
	args := m.Called(ctx, ids)
	return args.Get(0).([]User), args.Error(1)
}
func (m *MockRepository) GetCommunity(ctx context.Context, id int) (Community, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Community), args.Error(1)
}
func (m *MockRepository) IsCommunityMember(ctx context.Context, communityId, userId int) (bool, error) {
	args := m.Called(ctx, communityId, userId)
	return args.Bool(0), args.Error(1)
}
func (m *MockRepository) ListCommunityMemberIds(ctx context.Context, communityId int) ([]int, error) {
	args := m.Called(ctx, communityId)
	return args.Get(0).([]int), args.Error(1)
}
func (m *MockRepository) GetRoomById(ctx context.Context, id string) (Room, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockRepository) GetRoomByCommunityId(ctx context.Context, communityId int) (Room, error) {
	args := m.Called(ctx, communityId)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockRepository) GetOrCreateRoom(ctx context.Context, community Community) (Room, bool, error) {
	args := m.Called(ctx, community)
	return args.Get(0).(Room), args.Bool(1), args.Error(2)
}
func (m *MockRepository) CreateMessage(ctx context.Context, msg *Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}
func (m *MockRepository) GetMessage(ctx context.Context, id string) (Message, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockRepository) GetMessages(ctx context.Context, roomId string, query MessageQuery) ([]Message, error) {
	args := m.Called(ctx, roomId, query)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockRepository) UpdateMessageContent(ctx context.Context, id, content string, editedAt time.Time) (Message, error) {
	args := m.Called(ctx, id, content, editedAt)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockRepository) AcquirePresence(ctx context.Context, userId int, roomId string, at time.Time) (Presence, error) {
	args := m.Called(ctx, userId, roomId, at)
	return args.Get(0).(Presence), args.Error(1)
}
func (m *MockRepository) ReleasePresence(ctx context.Context, userId int, at time.Time) (Presence, error) {
	args := m.Called(ctx, userId, at)
	return args.Get(0).(Presence), args.Error(1)
}
func (m *MockRepository) TouchPresences(ctx context.Context, userIds []int, at time.Time) error {
	args := m.Called(ctx, userIds, at)
	return args.Error(0)
}
func (m *MockRepository) ResetStalePresences(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}
func (m *MockRepository) GetPresence(ctx context.Context, userId int) (Presence, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).(Presence), args.Error(1)
}
func (m *MockRepository) ListPresences(ctx context.Context, userIds []int) ([]Presence, error) {
	args := m.Called(ctx, userIds)
	return args.Get(0).([]Presence), args.Error(1)
}
func (m *MockRepository) CreateNotification(ctx context.Context, n *Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}
func (m *MockRepository) ListNotifications(ctx context.Context, recipientId int, unreadOnly bool, limit int) ([]Notification, error) {
	args := m.Called(ctx, recipientId, unreadOnly, limit)
	return args.Get(0).([]Notification), args.Error(1)
}
func (m *MockRepository) CountUnreadNotifications(ctx context.Context, recipientId int) (int64, error) {
	args := m.Called(ctx, recipientId)
	return args.Get(0).(int64), args.Error(1)
}
func (m *MockRepository) MarkNotificationRead(ctx context.Context, recipientId, id int, read bool) (Notification, error) {
	args := m.Called(ctx, recipientId, id, read)
	return args.Get(0).(Notification), args.Error(1)
}
func (m *MockRepository) MarkAllNotificationsRead(ctx context.Context, recipientId int) (int64, error) {
	args := m.Called(ctx, recipientId)
	return args.Get(0).(int64), args.Error(1)
}
func (m *MockRepository) CreateMeetingIfNoneActive(ctx context.Context, meeting *Meeting) (Meeting, bool, error) {
	args := m.Called(ctx, meeting)
	return args.Get(0).(Meeting), args.Bool(1), args.Error(2)
}
func (m *MockRepository) GetMeeting(ctx context.Context, id string) (Meeting, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Meeting), args.Error(1)
}
func (m *MockRepository) GetActiveMeeting(ctx context.Context, communityId int) (Meeting, error) {
	args := m.Called(ctx, communityId)
	return args.Get(0).(Meeting), args.Error(1)
}
func (m *MockRepository) EndMeeting(ctx context.Context, id string, endedAt time.Time) (Meeting, bool, error) {
	args := m.Called(ctx, id, endedAt)
	return args.Get(0).(Meeting), args.Bool(1), args.Error(2)
}
func (m *MockRepository) AddMeetingParticipant(ctx context.Context, meetingId string, userId int) error {
	args := m.Called(ctx, meetingId, userId)
	return args.Error(0)
}
