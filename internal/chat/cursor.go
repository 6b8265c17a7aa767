package chat

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/skillnest/realtime/internal/database"
)

var ErrInvalidCursor = errors.New("chat: invalid cursor")

// Cursor is a position in a room's (timestamp, id) ordering.
type Cursor struct {
	CreatedAtUs int64
	Id          string
}

func cursorOf(m database.Message) *Cursor {
	return &Cursor{CreatedAtUs: m.CreatedAtUs, Id: m.Id}
}

func (c *Cursor) query() *database.MessageCursor {
	if c == nil {
		return nil
	}
	return &database.MessageCursor{CreatedAtUs: c.CreatedAtUs, Id: c.Id}
}

// EncodeCursor renders c as an opaque URL-safe token.
func EncodeCursor(c *Cursor) string {
	if c == nil {
		return ""
	}
	raw := strconv.FormatInt(c.CreatedAtUs, 10) + ":" + c.Id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token produced by EncodeCursor. An empty token
// yields a nil cursor.
func DecodeCursor(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}

	ts, id, ok := strings.Cut(string(raw), ":")
	if !ok || id == "" {
		return nil, ErrInvalidCursor
	}

	us, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || us < 0 {
		return nil, ErrInvalidCursor
	}

	return &Cursor{CreatedAtUs: us, Id: id}, nil
}
