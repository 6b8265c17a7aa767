package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (db *GormRepository) GetUserById(ctx context.Context, id int) (User, error) {
	var user User
	err := db.conn.WithContext(ctx).Where("id = ?", id).Take(&user).Error
	return user, translateError(err)
}

func (db *GormRepository) GetUsersByIds(ctx context.Context, ids []int) ([]User, error) {
	users := []User{}
	if len(ids) == 0 {
		return users, nil
	}
	err := db.conn.WithContext(ctx).Where("id IN ?", ids).Order("id").Find(&users).Error
	return users, err
}

func (db *GormRepository) GetCommunity(ctx context.Context, id int) (Community, error) {
	var community Community
	err := db.conn.WithContext(ctx).Where("id = ?", id).Take(&community).Error
	return community, translateError(err)
}

func (db *GormRepository) IsCommunityMember(ctx context.Context, communityId, userId int) (bool, error) {
	var count int64
	err := db.conn.WithContext(ctx).
		Model(&CommunityMember{}).
		Where("community_id = ? AND user_id = ?", communityId, userId).
		Count(&count).Error
	return count > 0, err
}

func (db *GormRepository) ListCommunityMemberIds(ctx context.Context, communityId int) ([]int, error) {
	ids := []int{}
	err := db.conn.WithContext(ctx).
		Model(&CommunityMember{}).
		Where("community_id = ?", communityId).
		Order("user_id").
		Pluck("user_id", &ids).Error
	return ids, err
}

func (db *GormRepository) GetRoomById(ctx context.Context, id string) (Room, error) {
	var room Room
	err := db.conn.WithContext(ctx).Where("id = ?", id).Take(&room).Error
	return room, translateError(err)
}

func (db *GormRepository) GetRoomByCommunityId(ctx context.Context, communityId int) (Room, error) {
	var room Room
	err := db.conn.WithContext(ctx).Where("community_id = ?", communityId).Take(&room).Error
	return room, translateError(err)
}

// GetOrCreateRoom returns the community's room, creating it on first use.
// Concurrent callers converge on a single row through the unique index on
// community_id.
func (db *GormRepository) GetOrCreateRoom(ctx context.Context, community Community) (Room, bool, error) {
	room, err := db.GetRoomByCommunityId(ctx, community.Id)
	if err == nil {
		return room, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Room{}, false, err
	}

	room = Room{
		Id:          newId(),
		CommunityId: community.Id,
		Name:        community.Name,
		IsActive:    true,
	}
	res := db.conn.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&room)
	if res.Error != nil && !isUniqueViolation(res.Error) {
		return Room{}, false, res.Error
	}
	if res.Error == nil && res.RowsAffected == 1 {
		return room, true, nil
	}

	room, err = db.GetRoomByCommunityId(ctx, community.Id)
	return room, false, err
}

// CreateMessage inserts msg with a timestamp strictly greater than every
// earlier message in the room. The room row is locked for the duration of
// the insert so concurrent appends serialize.
func (db *GormRepository) CreateMessage(ctx context.Context, msg *Message) error {
	return db.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var room Room
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", msg.RoomId).
			Take(&room).Error
		if err != nil {
			return translateError(err)
		}

		us := msg.CreatedAt.UnixMicro()
		if us <= room.LastMessageUs {
			us = room.LastMessageUs + 1
		}
		msg.CreatedAtUs = us
		msg.CreatedAt = time.UnixMicro(us).UTC()

		if err := tx.Create(msg).Error; err != nil {
			return err
		}

		return tx.Model(&Room{}).
			Where("id = ?", room.Id).
			Update("last_message_us", us).Error
	})
}

func (db *GormRepository) GetMessage(ctx context.Context, id string) (Message, error) {
	var msg Message
	err := db.conn.WithContext(ctx).Where("id = ?", id).Take(&msg).Error
	return msg, translateError(err)
}

// GetMessages returns up to query.Limit messages of a room. With After set
// the page is in ascending order, otherwise it is in descending order
// starting from the newest message (or from Before).
func (db *GormRepository) GetMessages(ctx context.Context, roomId string, query MessageQuery) ([]Message, error) {
	if query.Before != nil && query.After != nil {
		return nil, fmt.Errorf("before and after are mutually exclusive")
	}

	tx := db.conn.WithContext(ctx).Where("room_id = ?", roomId)
	switch {
	case query.After != nil:
		tx = tx.Where(
			"created_at_us > ? OR (created_at_us = ? AND id > ?)",
			query.After.CreatedAtUs, query.After.CreatedAtUs, query.After.Id,
		).Order("created_at_us ASC, id ASC")
	case query.Before != nil:
		tx = tx.Where(
			"created_at_us < ? OR (created_at_us = ? AND id < ?)",
			query.Before.CreatedAtUs, query.Before.CreatedAtUs, query.Before.Id,
		).Order("created_at_us DESC, id DESC")
	default:
		tx = tx.Order("created_at_us DESC, id DESC")
	}

	if query.Limit > 0 {
		tx = tx.Limit(query.Limit)
	}

	messages := []Message{}
	err := tx.Find(&messages).Error
	return messages, err
}

func (db *GormRepository) UpdateMessageContent(ctx context.Context, id, content string, editedAt time.Time) (Message, error) {
	res := db.conn.WithContext(ctx).
		Model(&Message{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"content":   content,
			"is_edited": true,
			"edited_at": editedAt,
		})
	if res.Error != nil {
		return Message{}, res.Error
	}
	if res.RowsAffected == 0 {
		return Message{}, ErrNotFound
	}
	return db.GetMessage(ctx, id)
}

// AcquirePresence registers one more open connection for the user.
func (db *GormRepository) AcquirePresence(ctx context.Context, userId int, roomId string, at time.Time) (Presence, error) {
	var current *string
	if roomId != "" {
		current = &roomId
	}

	p := Presence{
		UserId:        userId,
		IsOnline:      true,
		Connections:   1,
		CurrentRoomId: current,
		LastSeen:      at,
	}
	err := db.conn.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"is_online":       true,
			"connections":     gorm.Expr("presences.connections + 1"),
			"current_room_id": current,
			"last_seen":       at,
		}),
	}).Create(&p).Error
	if err != nil {
		return Presence{}, err
	}

	return db.GetPresence(ctx, userId)
}

// ReleasePresence drops one open connection for the user. The user goes
// offline and loses the current room only when the last connection closes.
func (db *GormRepository) ReleasePresence(ctx context.Context, userId int, at time.Time) (Presence, error) {
	res := db.conn.WithContext(ctx).
		Model(&Presence{}).
		Where("user_id = ?", userId).
		Updates(map[string]any{
			"connections":     gorm.Expr("CASE WHEN connections > 0 THEN connections - 1 ELSE 0 END"),
			"is_online":       gorm.Expr("connections > 1"),
			"current_room_id": gorm.Expr("CASE WHEN connections > 1 THEN current_room_id ELSE NULL END"),
			"last_seen":       at,
		})
	if res.Error != nil {
		return Presence{}, res.Error
	}

	if res.RowsAffected == 0 {
		p := Presence{UserId: userId, LastSeen: at}
		err := db.conn.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&p).Error
		if err != nil {
			return Presence{}, err
		}
	}

	return db.GetPresence(ctx, userId)
}

// TouchPresences refreshes last_seen for users that hold open connections.
func (db *GormRepository) TouchPresences(ctx context.Context, userIds []int, at time.Time) error {
	if len(userIds) == 0 {
		return nil
	}
	return db.conn.WithContext(ctx).
		Model(&Presence{}).
		Where("user_id IN ? AND connections > 0", userIds).
		Update("last_seen", at).Error
}

// ResetStalePresences takes offline every user whose connections were last
// confirmed before the cutoff. Such counts belong to processes that exited
// without releasing them.
func (db *GormRepository) ResetStalePresences(ctx context.Context, before time.Time) (int64, error) {
	res := db.conn.WithContext(ctx).
		Model(&Presence{}).
		Where("connections > 0 AND last_seen < ?", before).
		Updates(map[string]any{
			"connections":     0,
			"is_online":       false,
			"current_room_id": nil,
		})
	return res.RowsAffected, res.Error
}

func (db *GormRepository) GetPresence(ctx context.Context, userId int) (Presence, error) {
	var p Presence
	err := db.conn.WithContext(ctx).Where("user_id = ?", userId).Take(&p).Error
	return p, translateError(err)
}

func (db *GormRepository) ListPresences(ctx context.Context, userIds []int) ([]Presence, error) {
	presences := []Presence{}
	if len(userIds) == 0 {
		return presences, nil
	}
	err := db.conn.WithContext(ctx).
		Where("user_id IN ?", userIds).
		Order("user_id").
		Find(&presences).Error
	return presences, err
}

func (db *GormRepository) CreateNotification(ctx context.Context, n *Notification) error {
	return db.conn.WithContext(ctx).Create(n).Error
}

func (db *GormRepository) ListNotifications(ctx context.Context, recipientId int, unreadOnly bool, limit int) ([]Notification, error) {
	tx := db.conn.WithContext(ctx).Where("recipient_id = ?", recipientId)
	if unreadOnly {
		tx = tx.Where("is_read = ?", false)
	}
	if limit > 0 {
		tx = tx.Limit(limit)
	}

	notifications := []Notification{}
	err := tx.Order("created_at DESC, id DESC").Find(&notifications).Error
	return notifications, err
}

func (db *GormRepository) CountUnreadNotifications(ctx context.Context, recipientId int) (int64, error) {
	var count int64
	err := db.conn.WithContext(ctx).
		Model(&Notification{}).
		Where("recipient_id = ? AND is_read = ?", recipientId, false).
		Count(&count).Error
	return count, err
}

func (db *GormRepository) MarkNotificationRead(ctx context.Context, recipientId, id int, read bool) (Notification, error) {
	res := db.conn.WithContext(ctx).
		Model(&Notification{}).
		Where("id = ? AND recipient_id = ?", id, recipientId).
		Update("is_read", read)
	if res.Error != nil {
		return Notification{}, res.Error
	}

	var n Notification
	err := db.conn.WithContext(ctx).
		Where("id = ? AND recipient_id = ?", id, recipientId).
		Take(&n).Error
	return n, translateError(err)
}

func (db *GormRepository) MarkAllNotificationsRead(ctx context.Context, recipientId int) (int64, error) {
	res := db.conn.WithContext(ctx).
		Model(&Notification{}).
		Where("recipient_id = ? AND is_read = ?", recipientId, false).
		Update("is_read", true)
	return res.RowsAffected, res.Error
}

// CreateMeetingIfNoneActive inserts m unless its community already has an
// active meeting, in which case the active meeting is returned and the
// boolean is false.
func (db *GormRepository) CreateMeetingIfNoneActive(ctx context.Context, m *Meeting) (Meeting, bool, error) {
	if m.CommunityId != nil {
		existing, err := db.GetActiveMeeting(ctx, *m.CommunityId)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Meeting{}, false, err
		}
	}

	res := db.conn.WithContext(ctx).
		Omit("Participants").
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(m)
	if res.Error != nil && !isUniqueViolation(res.Error) {
		return Meeting{}, false, res.Error
	}
	if res.Error == nil && res.RowsAffected == 1 {
		created, err := db.GetMeeting(ctx, m.Id)
		return created, true, err
	}

	if m.CommunityId == nil {
		return Meeting{}, false, fmt.Errorf("meeting room name %q already in use", m.RoomName)
	}
	existing, err := db.GetActiveMeeting(ctx, *m.CommunityId)
	return existing, false, err
}

func (db *GormRepository) GetMeeting(ctx context.Context, id string) (Meeting, error) {
	var m Meeting
	err := db.conn.WithContext(ctx).
		Preload("Participants").
		Where("id = ?", id).
		Take(&m).Error
	return m, translateError(err)
}

func (db *GormRepository) GetActiveMeeting(ctx context.Context, communityId int) (Meeting, error) {
	var m Meeting
	err := db.conn.WithContext(ctx).
		Preload("Participants").
		Where("community_id = ? AND is_active = ?", communityId, true).
		Take(&m).Error
	return m, translateError(err)
}

// EndMeeting deactivates an active meeting. Ending an already ended meeting
// returns it unchanged with false.
func (db *GormRepository) EndMeeting(ctx context.Context, id string, endedAt time.Time) (Meeting, bool, error) {
	m, err := db.GetMeeting(ctx, id)
	if err != nil {
		return Meeting{}, false, err
	}
	if !m.IsActive {
		return m, false, nil
	}

	duration := int64(endedAt.Sub(m.StartedAt).Seconds())
	if duration < 0 {
		duration = 0
	}

	res := db.conn.WithContext(ctx).
		Model(&Meeting{}).
		Where("id = ? AND is_active = ?", id, true).
		Updates(map[string]any{
			"is_active":        false,
			"ended_at":         endedAt,
			"duration_seconds": duration,
		})
	if res.Error != nil {
		return Meeting{}, false, res.Error
	}

	m, err = db.GetMeeting(ctx, id)
	return m, res.RowsAffected == 1, err
}

func (db *GormRepository) AddMeetingParticipant(ctx context.Context, meetingId string, userId int) error {
	return db.conn.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&MeetingParticipant{MeetingId: meetingId, UserId: userId}).Error
}
