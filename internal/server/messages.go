package server

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrMalformedEnvelope = errors.New("malformed envelope")
	errUnknownKind       = errors.New("unknown event kind")
)

const (
	kindChatMessage = "chat_message"
	kindTyping      = "typing"
	kindPing        = "ping"
)

// Inbound is a frame sent by a client. The set of implementations is
// closed.
type Inbound interface {
	inbound()
}

type ChatMessage struct {
	Content     string `json:"content"`
	MediaUrl    string `json:"media_url"`
	MessageType string `json:"message_type"`
}

type Typing struct {
	IsTyping bool `json:"is_typing"`
}

type Ping struct{}

func (ChatMessage) inbound() {}
func (Typing) inbound()      {}
func (Ping) inbound()        {}

type envelope struct {
	Type string `json:"type"`
}

func decodeInbound(raw []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	switch env.Type {
	case kindChatMessage:
		var msg ChatMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
		}
		return msg, nil
	case kindTyping:
		var typing Typing
		if err := json.Unmarshal(raw, &typing); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
		}
		return typing, nil
	case kindPing:
		return Ping{}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEnvelope)
	}
	return nil, fmt.Errorf("%w: %q", errUnknownKind, env.Type)
}
