package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skillnest/realtime/internal/database"
	"github.com/skillnest/realtime/internal/types"
)

const (
	TypeText   = "text"
	TypeImage  = "image"
	TypeVideo  = "video"
	TypeFile   = "file"
	TypeSystem = "system"

	MaxContentLength = 4096

	defaultPageSize    = 50
	defaultMaxPageSize = 100
)

var (
	ErrInvalidMessage  = errors.New("chat: invalid message")
	ErrRoomNotFound    = errors.New("chat: room not found")
	ErrMessageNotFound = errors.New("chat: message not found")
	ErrNotSender       = errors.New("chat: only the sender may edit a message")
)

type AppendParams struct {
	RoomId   string
	SenderId int
	Content  string
	MediaUrl string
	Type     string
}

type HistoryQuery struct {
	Before *Cursor
	After  *Cursor
	Limit  int
}

// Page is a slice of a room's history in ascending order. NextCursor pages
// towards older messages, PrevCursor towards newer ones.
type Page struct {
	Messages   []database.Message
	NextCursor string
	PrevCursor string
	HasMore    bool
}

type StoreOptions struct {
	PageSize    int
	MaxPageSize int
	Clock       func() time.Time
}

// Store persists room messages and serves their history.
type Store struct {
	db          database.Repository
	log         *zap.Logger
	clock       func() time.Time
	pageSize    int
	maxPageSize int
}

func NewStore(db database.Repository, logger *zap.Logger, opts StoreOptions) *Store {
	s := &Store{
		db:          db,
		log:         logger.Named("chat"),
		clock:       opts.Clock,
		pageSize:    opts.PageSize,
		maxPageSize: opts.MaxPageSize,
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.maxPageSize <= 0 {
		s.maxPageSize = defaultMaxPageSize
	}
	if s.pageSize <= 0 {
		s.pageSize = defaultPageSize
	}
	if s.pageSize > s.maxPageSize {
		s.pageSize = s.maxPageSize
	}
	return s
}

func validate(p AppendParams) error {
	if utf8.RuneCountInString(p.Content) > MaxContentLength {
		return fmt.Errorf("%w: content exceeds %d characters", ErrInvalidMessage, MaxContentLength)
	}

	switch p.Type {
	case TypeSystem:
		return fmt.Errorf("%w: %s messages are generated by the server", ErrInvalidMessage, p.Type)
	case TypeText:
		if strings.TrimSpace(p.Content) == "" {
			return fmt.Errorf("%w: content is required", ErrInvalidMessage)
		}
	case TypeImage, TypeVideo, TypeFile:
		if strings.TrimSpace(p.MediaUrl) == "" {
			return fmt.Errorf("%w: media url is required for %s messages", ErrInvalidMessage, p.Type)
		}
	default:
		return fmt.Errorf("%w: unknown message type %q", ErrInvalidMessage, p.Type)
	}
	return nil
}

// Append stores a message. It returns only after the message is committed,
// with a timestamp greater than every earlier message in the room.
func (s *Store) Append(ctx context.Context, p AppendParams) (database.Message, error) {
	if p.Type == "" {
		p.Type = TypeText
	}
	if err := validate(p); err != nil {
		return database.Message{}, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return database.Message{}, fmt.Errorf("generate message id: %w", err)
	}

	msg := &database.Message{
		Id:          id.String(),
		RoomId:      p.RoomId,
		SenderId:    p.SenderId,
		Content:     p.Content,
		MediaUrl:    strings.TrimSpace(p.MediaUrl),
		MessageType: p.Type,
		CreatedAt:   s.clock().UTC(),
	}
	if err := s.db.CreateMessage(ctx, msg); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return database.Message{}, ErrRoomNotFound
		}
		return database.Message{}, fmt.Errorf("create message: %w", err)
	}

	s.log.Debug("message stored",
		zap.String("room_id", msg.RoomId),
		zap.String("message_id", msg.Id),
		zap.Int("sender_id", msg.SenderId),
	)
	return *msg, nil
}

func (s *Store) clampLimit(limit int) int {
	if limit <= 0 {
		return s.pageSize
	}
	if limit > s.maxPageSize {
		return s.maxPageSize
	}
	return limit
}

// History returns one page of a room's messages. Without cursors it returns
// the newest messages.
func (s *Store) History(ctx context.Context, roomId string, q HistoryQuery) (Page, error) {
	if q.Before != nil && q.After != nil {
		return Page{}, fmt.Errorf("%w: before and after are mutually exclusive", ErrInvalidCursor)
	}

	limit := s.clampLimit(q.Limit)
	rows, err := s.db.GetMessages(ctx, roomId, database.MessageQuery{
		Before: q.Before.query(),
		After:  q.After.query(),
		Limit:  limit + 1,
	})
	if err != nil {
		return Page{}, fmt.Errorf("get messages: %w", err)
	}

	page := Page{HasMore: len(rows) > limit}
	if page.HasMore {
		rows = rows[:limit]
	}

	forward := q.After != nil
	if !forward {
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	}
	page.Messages = rows

	if len(rows) > 0 {
		oldest, newest := rows[0], rows[len(rows)-1]
		if forward || page.HasMore {
			page.NextCursor = EncodeCursor(cursorOf(oldest))
		}
		page.PrevCursor = EncodeCursor(cursorOf(newest))
	}

	return page, nil
}

// Edit replaces the content of a text message. Only its sender may edit it.
func (s *Store) Edit(ctx context.Context, messageId string, senderId int, content string) (database.Message, error) {
	msg, err := s.db.GetMessage(ctx, messageId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return database.Message{}, ErrMessageNotFound
		}
		return database.Message{}, fmt.Errorf("get message: %w", err)
	}

	if msg.SenderId != senderId {
		return database.Message{}, ErrNotSender
	}

	if err := validate(AppendParams{Content: content, MediaUrl: msg.MediaUrl, Type: msg.MessageType}); err != nil {
		return database.Message{}, err
	}

	edited, err := s.db.UpdateMessageContent(ctx, messageId, content, s.clock().UTC())
	if err != nil {
		return database.Message{}, fmt.Errorf("update message: %w", err)
	}
	return edited, nil
}

// Render resolves the senders of a page and converts it to its wire form.
// Senders that no longer exist keep their id only.
func (s *Store) Render(ctx context.Context, page Page) (types.MessagePage, error) {
	out := types.MessagePage{
		Messages:   make([]types.Message, 0, len(page.Messages)),
		NextCursor: page.NextCursor,
		PrevCursor: page.PrevCursor,
		HasMore:    page.HasMore,
	}
	if len(page.Messages) == 0 {
		return out, nil
	}

	seen := make(map[int]struct{})
	ids := make([]int, 0)
	for _, m := range page.Messages {
		if _, ok := seen[m.SenderId]; !ok {
			seen[m.SenderId] = struct{}{}
			ids = append(ids, m.SenderId)
		}
	}

	users, err := s.db.GetUsersByIds(ctx, ids)
	if err != nil {
		return types.MessagePage{}, fmt.Errorf("get senders: %w", err)
	}
	senders := make(map[int]types.User, len(users))
	for _, u := range users {
		senders[u.Id] = types.User{Id: u.Id, Username: u.Username}
	}

	for _, m := range page.Messages {
		sender, ok := senders[m.SenderId]
		if !ok {
			sender = types.User{Id: m.SenderId}
		}
		out.Messages = append(out.Messages, types.NewMessage(m, sender))
	}
	return out, nil
}
