package types

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventChatMessage      EventType = "chat_message"
	EventTypingIndicator  EventType = "typing_indicator"
	EventUserStatusUpdate EventType = "user_status_update"
	EventPong             EventType = "pong"
	EventMeetingStarted   EventType = "meeting_started"
	EventMeetingEnded     EventType = "meeting_ended"
	EventNotification     EventType = "notification"
	EventHistory          EventType = "history"
	EventError            EventType = "error"
)

// Event is an outbound frame. The set of implementations is closed.
type Event interface {
	Type() EventType
	event()
}

type ChatMessageEvent struct {
	Message
}

type TypingIndicatorEvent struct {
	RoomId   string `json:"room_id"`
	User     User   `json:"user"`
	IsTyping bool   `json:"is_typing"`
}

type UserStatusEvent struct {
	RoomId   string    `json:"room_id,omitempty"`
	User     User      `json:"user"`
	IsOnline bool      `json:"is_online"`
	LastSeen time.Time `json:"last_seen"`
}

type PongEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

type MeetingStartedEvent struct {
	Meeting
}

type MeetingEndedEvent struct {
	Meeting
}

type NotificationEvent struct {
	Notification
}

type HistoryEvent struct {
	RoomId string `json:"room_id"`
	MessagePage
}

type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (ChatMessageEvent) Type() EventType     { return EventChatMessage }
func (TypingIndicatorEvent) Type() EventType { return EventTypingIndicator }
func (UserStatusEvent) Type() EventType      { return EventUserStatusUpdate }
func (PongEvent) Type() EventType            { return EventPong }
func (MeetingStartedEvent) Type() EventType  { return EventMeetingStarted }
func (MeetingEndedEvent) Type() EventType    { return EventMeetingEnded }
func (NotificationEvent) Type() EventType    { return EventNotification }
func (HistoryEvent) Type() EventType         { return EventHistory }
func (ErrorEvent) Type() EventType           { return EventError }

func (ChatMessageEvent) event()     {}
func (TypingIndicatorEvent) event() {}
func (UserStatusEvent) event()      {}
func (PongEvent) event()            {}
func (MeetingStartedEvent) event()  {}
func (MeetingEndedEvent) event()    {}
func (NotificationEvent) event()    {}
func (HistoryEvent) event()         {}
func (ErrorEvent) event()           {}

// EncodeEvent renders ev as a flat JSON object whose "type" member names the
// event kind, followed by the payload fields.
func EncodeEvent(ev Event) ([]byte, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}

	kind, err := json.Marshal(ev.Type())
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(body)+len(kind)+9)
	out = append(out, `{"type":`...)
	out = append(out, kind...)
	if len(body) > 2 {
		out = append(out, ',')
	}
	out = append(out, body[1:]...)
	return out, nil
}

// EventKind reads the "type" member of an encoded frame.
func EventKind(data []byte) (EventType, error) {
	var head struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return "", err
	}
	return head.Type, nil
}
