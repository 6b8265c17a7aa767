package types

import (
	"time"

	"github.com/skillnest/realtime/internal/database"
)

type User struct {
	Id       int    `json:"id"`
	Username string `json:"username"`
}

type Room struct {
	Id          string    `json:"id"`
	CommunityId int       `json:"community_id"`
	Name        string    `json:"name"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

type Message struct {
	Id          string     `json:"id"`
	RoomId      string     `json:"room_id"`
	Sender      User       `json:"sender"`
	Content     string     `json:"content"`
	MediaUrl    string     `json:"media_url,omitempty"`
	MessageType string     `json:"message_type"`
	Timestamp   time.Time  `json:"timestamp"`
	IsEdited    bool       `json:"is_edited"`
	EditedAt    *time.Time `json:"edited_at,omitempty"`
}

type MessagePage struct {
	Messages   []Message `json:"messages"`
	NextCursor string    `json:"next_cursor,omitempty"`
	PrevCursor string    `json:"prev_cursor,omitempty"`
	HasMore    bool      `json:"has_more"`
}

type Member struct {
	User
	IsCreator     bool      `json:"is_creator"`
	IsOnline      bool      `json:"is_online"`
	CurrentRoomId *string   `json:"current_room_id,omitempty"`
	LastSeen      time.Time `json:"last_seen,omitempty"`
}

type Presence struct {
	UserId        int       `json:"user_id"`
	IsOnline      bool      `json:"is_online"`
	CurrentRoomId *string   `json:"current_room_id,omitempty"`
	LastSeen      time.Time `json:"last_seen"`
}

type Notification struct {
	Id        int       `json:"id"`
	Sender    User      `json:"sender"`
	Type      string    `json:"notif_type"`
	PostId    *int      `json:"post_id"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

type Meeting struct {
	Id              string     `json:"meeting_id"`
	HostId          int        `json:"host_id"`
	CommunityId     *int       `json:"community_id"`
	RoomName        string     `json:"room_name"`
	Domain          string     `json:"domain"`
	IsActive        bool       `json:"is_active"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds int64      `json:"duration_seconds"`
	Participants    []int      `json:"participants"`
}

// JoinInfo is what a client needs to enter a meeting.
type JoinInfo struct {
	RoomName      string `json:"roomName"`
	AppId         string `json:"appID"`
	Token         string `json:"token"`
	MeetingId     string `json:"meeting_id"`
	AlreadyActive bool   `json:"already_active"`
	Domain        string `json:"domain"`
}

func NewRoom(r database.Room) Room {
	return Room{
		Id:          r.Id,
		CommunityId: r.CommunityId,
		Name:        r.Name,
		IsActive:    r.IsActive,
		CreatedAt:   r.CreatedAt,
	}
}

func NewMessage(m database.Message, sender User) Message {
	return Message{
		Id:          m.Id,
		RoomId:      m.RoomId,
		Sender:      sender,
		Content:     m.Content,
		MediaUrl:    m.MediaUrl,
		MessageType: m.MessageType,
		Timestamp:   m.CreatedAt,
		IsEdited:    m.IsEdited,
		EditedAt:    m.EditedAt,
	}
}

func NewPresence(p database.Presence) Presence {
	return Presence{
		UserId:        p.UserId,
		IsOnline:      p.IsOnline,
		CurrentRoomId: p.CurrentRoomId,
		LastSeen:      p.LastSeen,
	}
}

func NewNotification(n database.Notification, sender User) Notification {
	return Notification{
		Id:        n.Id,
		Sender:    sender,
		Type:      n.NotifType,
		PostId:    n.PostId,
		Read:      n.IsRead,
		CreatedAt: n.CreatedAt,
	}
}

func NewMeeting(m database.Meeting) Meeting {
	participants := make([]int, 0, len(m.Participants))
	for _, p := range m.Participants {
		participants = append(participants, p.UserId)
	}

	return Meeting{
		Id:              m.Id,
		HostId:          m.HostId,
		CommunityId:     m.CommunityId,
		RoomName:        m.RoomName,
		Domain:          m.Domain,
		IsActive:        m.IsActive,
		StartedAt:       m.StartedAt,
		EndedAt:         m.EndedAt,
		DurationSeconds: m.DurationSeconds,
		Participants:    participants,
	}
}
