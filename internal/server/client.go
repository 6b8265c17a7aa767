package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/skillnest/realtime/internal/broadcast"
	"github.com/skillnest/realtime/internal/chat"
	"github.com/skillnest/realtime/internal/stats"
	"github.com/skillnest/realtime/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
	sendQueueSize  = 256
)

// Client is one accepted connection. Read runs inbound frames to completion
// one at a time; Write is the only goroutine writing to the transport.
type Client struct {
	ref     string
	conn    *websocket.Conn
	gateway *Gateway
	log     *zap.Logger
	user    types.User
	target  Target
	roomId  string
	groups  []string
	limiter *rate.Limiter

	state stateMachine
	send  chan []byte

	stop        chan struct{}
	stopOnce    sync.Once
	closeMu     sync.Mutex
	closeCode   int
	closeReason string
	writerDone  chan struct{}

	presenceHeld bool
}

func newClient(g *Gateway, user types.User, target Target) *Client {
	ref := uuid.NewString()
	return &Client{
		ref:        ref,
		gateway:    g,
		log:        g.log.With(zap.String("conn", ref), zap.Int("user_id", user.Id)),
		user:       user,
		target:     target,
		limiter:    rate.NewLimiter(g.opts.InboundRate, g.opts.InboundBurst),
		send:       make(chan []byte, sendQueueSize),
		stop:       make(chan struct{}),
		closeCode:  websocket.CloseNormalClosure,
		writerDone: make(chan struct{}),
	}
}

func (c *Client) Ref() string {
	return c.ref
}

func (c *Client) State() State {
	return c.state.State()
}

func (c *Client) setState(to State) {
	if err := c.state.transition(to); err != nil {
		c.log.Error("connection state", zap.Error(err))
	}
}

// Deliver queues payload without blocking. A client that cannot keep up is
// closed.
func (c *Client) Deliver(payload []byte) bool {
	select {
	case <-c.stop:
		return false
	default:
	}

	select {
	case c.send <- payload:
		return true
	default:
		c.log.Warn("send queue full, closing slow consumer")
		c.gateway.stats.Incr(stats.DroppedDeliveries)
		c.closeWith(CloseSlowConsumer, "slow consumer")
		return false
	}
}

func (c *Client) queueEvent(ev types.Event) bool {
	payload, err := types.EncodeEvent(ev)
	if err != nil {
		c.log.Error("encode event", zap.String("type", string(ev.Type())), zap.Error(err))
		return false
	}
	return c.Deliver(payload)
}

func (c *Client) queueError(code, message string) {
	c.queueEvent(types.ErrorEvent{Code: code, Message: message})
}

// closeWith asks the writer to send a close frame and stop. The first call
// decides the close code.
func (c *Client) closeWith(code int, reason string) {
	c.stopOnce.Do(func() {
		c.closeMu.Lock()
		c.closeCode = code
		c.closeReason = reason
		c.closeMu.Unlock()
		close(c.stop)
	})
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		close(c.writerDone)
	}()

	for {
		select {
		case payload := <-c.send:
			if !c.sendMessage(websocket.TextMessage, payload) {
				return
			}
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		case <-c.stop:
			c.closeMu.Lock()
			msg := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
			c.closeMu.Unlock()
			c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}
	}
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Info("write message", zap.Error(err))
		}
		return false
	}

	return true
}

// Read processes inbound frames until the transport fails. Cleanup runs on
// every exit path.
func (c *Client) Read(ctx context.Context) {
	defer c.cleanup(context.WithoutCancel(ctx))

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	c.onAccepted(ctx)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure, CloseSlowConsumer) {
				c.log.Info("read", zap.Error(err))
			}
			return
		}

		if !c.limiter.Allow() {
			c.queueError("rate_limited", "too many messages")
			continue
		}

		ev, err := decodeInbound(raw)
		if err != nil {
			if errors.Is(err, errUnknownKind) {
				c.log.Info("ignoring inbound frame", zap.Error(err))
				continue
			}
			c.log.Debug("malformed inbound frame", zap.Error(err))
			c.queueError("malformed_envelope", err.Error())
			continue
		}

		c.handle(ctx, ev)
	}
}

func (c *Client) handle(ctx context.Context, ev Inbound) {
	switch ev := ev.(type) {
	case ChatMessage:
		c.handleChatMessage(ctx, ev)
	case Typing:
		c.handleTyping(ctx, ev)
	case Ping:
		c.queueEvent(types.PongEvent{Timestamp: time.Now().UTC()})
	default:
		c.log.Error("unhandled inbound event", zap.Any("event", ev))
	}
}

func (c *Client) handleChatMessage(ctx context.Context, ev ChatMessage) {
	if c.target.Kind != TargetChat {
		c.queueError("unsupported", "chat is not available on this connection")
		return
	}

	msg, err := c.gateway.store.Append(ctx, chat.AppendParams{
		RoomId:   c.roomId,
		SenderId: c.user.Id,
		Content:  ev.Content,
		MediaUrl: ev.MediaUrl,
		Type:     ev.MessageType,
	})
	if err != nil {
		if errors.Is(err, chat.ErrInvalidMessage) {
			c.queueError("invalid_message", err.Error())
			return
		}
		c.log.Error("append message", zap.Error(err))
		c.queueError("internal_error", "message could not be stored")
		return
	}

	out := types.ChatMessageEvent{Message: types.NewMessage(msg, c.user)}
	if err := c.gateway.router.PublishEvent(ctx, broadcast.ChatGroup(c.roomId), out); err != nil {
		c.log.Error("publish chat message", zap.String("message_id", msg.Id), zap.Error(err))
		c.queueError("backend_unavailable", "message stored but not delivered")
	}
}

func (c *Client) handleTyping(ctx context.Context, ev Typing) {
	if c.target.Kind != TargetChat {
		return
	}

	out := types.TypingIndicatorEvent{RoomId: c.roomId, User: c.user, IsTyping: ev.IsTyping}
	if err := c.gateway.router.PublishEvent(ctx, broadcast.ChatGroup(c.roomId), out, c.ref); err != nil {
		c.log.Warn("publish typing indicator", zap.Error(err))
	}
}

// onAccepted marks the user online, announces it to the room and sends the
// latest history page.
func (c *Client) onAccepted(ctx context.Context) {
	if c.target.Kind != TargetChat {
		return
	}

	p, err := c.gateway.presence.SetOnline(ctx, c.user.Id, c.roomId)
	if err != nil {
		c.log.Error("set presence online", zap.Error(err))
	} else {
		c.presenceHeld = true
		c.publishStatus(ctx, p.IsOnline, p.LastSeen)
	}

	page, err := c.gateway.store.History(ctx, c.roomId, chat.HistoryQuery{
		After: c.target.After,
		Limit: c.gateway.opts.HistoryLimit,
	})
	if err != nil {
		c.log.Error("load history", zap.Error(err))
		return
	}
	c.queueEvent(c.gateway.historyEvent(ctx, c.roomId, page))
}

func (c *Client) publishStatus(ctx context.Context, online bool, lastSeen time.Time) {
	ev := types.UserStatusEvent{RoomId: c.roomId, User: c.user, IsOnline: online, LastSeen: lastSeen}
	if err := c.gateway.router.PublishEvent(ctx, broadcast.ChatGroup(c.roomId), ev); err != nil {
		c.log.Warn("publish user status", zap.Bool("online", online), zap.Error(err))
	}
}

// cleanup leaves every group, releases presence, announces the new status,
// then stops the writer and closes the transport.
func (c *Client) cleanup(ctx context.Context) {
	c.setState(StateClosing)

	for _, group := range c.groups {
		if err := c.gateway.router.Leave(ctx, group, c); err != nil {
			c.log.Warn("leave group", zap.String("group", group), zap.Error(err))
		}
	}

	if c.presenceHeld {
		p, err := c.gateway.presence.SetOffline(ctx, c.user.Id)
		if err != nil {
			c.log.Error("set presence offline", zap.Error(err))
		} else {
			c.publishStatus(ctx, p.IsOnline, p.LastSeen)
		}
	}

	c.closeWith(websocket.CloseNormalClosure, "")
	<-c.writerDone
	c.conn.Close()

	c.setState(StateClosed)
	c.gateway.unregister(c)
	c.log.Info("connection closed")
}
