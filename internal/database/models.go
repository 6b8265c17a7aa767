package database

import "time"

// User, Community and CommunityMember are owned by the account and community
// services. They are read here and only written by tests and dev seeding.
type User struct {
	Id        int       `gorm:"primaryKey"`
	Username  string    `gorm:"size:150;not null"`
	Email     string    `gorm:"size:254"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

type Community struct {
	Id        int       `gorm:"primaryKey"`
	Name      string    `gorm:"size:200;not null"`
	CreatorId int       `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

type CommunityMember struct {
	CommunityId int       `gorm:"primaryKey;autoIncrement:false"`
	UserId      int       `gorm:"primaryKey;autoIncrement:false;index"`
	JoinedAt    time.Time `gorm:"autoCreateTime"`
}

type Room struct {
	Id            string `gorm:"primaryKey;size:36"`
	CommunityId   int    `gorm:"uniqueIndex;not null"`
	Name          string `gorm:"size:200"`
	IsActive      bool   `gorm:"not null"`
	LastMessageUs int64  `gorm:"not null"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Message struct {
	Id          string `gorm:"primaryKey;size:36;index:idx_messages_room_order,priority:3"`
	RoomId      string `gorm:"size:36;not null;index:idx_messages_room_order,priority:1"`
	SenderId    int    `gorm:"not null"`
	Content     string `gorm:"type:text"`
	MediaUrl    string `gorm:"size:1024"`
	MessageType string `gorm:"size:16;not null"`
	CreatedAt   time.Time
	CreatedAtUs int64 `gorm:"not null;index:idx_messages_room_order,priority:2"`
	IsEdited    bool  `gorm:"not null"`
	EditedAt    *time.Time
}

// MessageCursor addresses a position in a room's (created_at_us, id) ordering.
type MessageCursor struct {
	CreatedAtUs int64
	Id          string
}

type MessageQuery struct {
	Before *MessageCursor
	After  *MessageCursor
	Limit  int
}

type Presence struct {
	UserId        int     `gorm:"primaryKey;autoIncrement:false"`
	IsOnline      bool    `gorm:"not null"`
	Connections   int     `gorm:"not null"`
	CurrentRoomId *string `gorm:"size:36"`
	LastSeen      time.Time
}

type Notification struct {
	Id          int    `gorm:"primaryKey"`
	RecipientId int    `gorm:"not null;index"`
	SenderId    int    `gorm:"not null"`
	NotifType   string `gorm:"size:16;not null"`
	PostId      *int
	IsRead      bool `gorm:"not null"`
	CreatedAt   time.Time
}

type Meeting struct {
	Id              string `gorm:"primaryKey;size:36"`
	HostId          int    `gorm:"not null"`
	CommunityId     *int   `gorm:"index"`
	RoomName        string `gorm:"size:128;uniqueIndex;not null"`
	Domain          string `gorm:"size:255"`
	IsActive        bool   `gorm:"not null"`
	StartedAt       time.Time
	EndedAt         *time.Time
	DurationSeconds int64                `gorm:"not null"`
	Participants    []MeetingParticipant `gorm:"foreignKey:MeetingId"`
}

type MeetingParticipant struct {
	MeetingId string    `gorm:"primaryKey;size:36"`
	UserId    int       `gorm:"primaryKey;autoIncrement:false"`
	JoinedAt  time.Time `gorm:"autoCreateTime"`
}
