package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/skillnest/realtime/internal/auth"
	"github.com/skillnest/realtime/internal/broadcast"
	"github.com/skillnest/realtime/internal/chat"
	"github.com/skillnest/realtime/internal/database"
	"github.com/skillnest/realtime/internal/presence"
	"github.com/skillnest/realtime/internal/rooms"
	"github.com/skillnest/realtime/internal/stats"
	"github.com/skillnest/realtime/internal/types"
)

type TargetKind int

const (
	TargetChat TargetKind = iota
	TargetMeeting
	TargetNotifications
)

// Target names what a connection subscribes to: a chat room, the meeting
// feed of a community, or only the user's own notifications.
type Target struct {
	Kind        TargetKind
	RoomId      string
	CommunityId int
	After       *chat.Cursor
}

type GatewayOptions struct {
	AllowedOrigins []string
	HistoryLimit   int
	InboundRate    rate.Limit
	InboundBurst   int
}

// Gateway admits realtime connections and tracks the ones it accepted.
type Gateway struct {
	log        *zap.Logger
	validator  *auth.Validator
	db         database.Repository
	authorizer *rooms.Authorizer
	router     *broadcast.Router
	presence   *presence.Registry
	store      *chat.Store
	stats      stats.StatsProvider
	opts       GatewayOptions
	upgrader   websocket.Upgrader

	mu       sync.Mutex
	clients  map[*Client]struct{}
	wg       sync.WaitGroup
	draining bool
}

func NewGateway(
	logger *zap.Logger,
	validator *auth.Validator,
	db database.Repository,
	authorizer *rooms.Authorizer,
	router *broadcast.Router,
	presence *presence.Registry,
	store *chat.Store,
	sp stats.StatsProvider,
	opts GatewayOptions,
) *Gateway {
	if sp == nil {
		sp = stats.NopStats{}
	}
	if opts.InboundRate <= 0 {
		opts.InboundRate = rate.Limit(10)
	}
	if opts.InboundBurst <= 0 {
		opts.InboundBurst = 20
	}

	g := &Gateway{
		log:        logger,
		validator:  validator,
		db:         db,
		authorizer: authorizer,
		router:     router,
		presence:   presence,
		store:      store,
		stats:      sp,
		opts:       opts,
		clients:    make(map[*Client]struct{}),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			return slices.Contains(g.opts.AllowedOrigins, origin)
		},
	}
	return g
}

// Connect runs the handshake for r and, when every step succeeds, upgrades
// the connection. Refusals are answered over HTTP before the upgrade.
func (g *Gateway) Connect(w http.ResponseWriter, r *http.Request, target Target) {
	ctx := r.Context()

	if g.isDraining() {
		g.reject(w, &ConnectError{http.StatusServiceUnavailable, "server shutting down", websocket.CloseGoingAway, nil})
		return
	}

	c, err := g.admit(ctx, r, target)
	if err != nil {
		ce := classify(err)
		if ce.StatusCode >= http.StatusInternalServerError {
			g.log.Error("connection refused", zap.Int("close_code", ce.CloseCode), zap.Error(err))
		} else {
			g.log.Info("connection refused", zap.Int("close_code", ce.CloseCode), zap.Error(err))
		}
		g.reject(w, ce)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("upgrade connection", zap.Error(err))
		g.leaveAll(context.WithoutCancel(ctx), c)
		return
	}
	c.conn = conn

	if !g.register(c) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(writeWait))
		conn.Close()
		g.leaveAll(context.WithoutCancel(ctx), c)
		return
	}

	c.log.Info("connection accepted", zap.String("room_id", c.roomId), zap.Int("community_id", target.CommunityId))
	go c.Write()
	go c.Read(context.WithoutCancel(ctx))
}

// admit authenticates the user, authorizes the target and subscribes the
// new client to its groups, in that order.
func (g *Gateway) admit(ctx context.Context, r *http.Request, target Target) (*Client, error) {
	claims, err := g.validator.ValidateRequest(r)
	if err != nil {
		return nil, err
	}

	u, err := g.db.GetUserById(ctx, claims.UserId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, &ConnectError{http.StatusUnauthorized, "unknown user", CloseAuthenticationFailed, err}
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	c := newClient(g, types.User{Id: u.Id, Username: u.Username}, target)
	c.setState(StateAuthenticated)

	var groups []string
	switch target.Kind {
	case TargetChat:
		room, err := g.authorizer.AuthorizeRoom(ctx, u.Id, target.RoomId)
		if err != nil {
			c.setState(StateClosed)
			return nil, err
		}
		c.roomId = room.Id
		groups = []string{broadcast.ChatGroup(room.Id), broadcast.NotificationGroup(u.Id)}
	case TargetMeeting:
		community, err := g.authorizer.CheckCommunity(ctx, u.Id, target.CommunityId)
		if err != nil {
			c.setState(StateClosed)
			return nil, err
		}
		groups = []string{broadcast.CommunityGroup(community.Id), broadcast.NotificationGroup(u.Id)}
	case TargetNotifications:
		groups = []string{broadcast.NotificationGroup(u.Id)}
	default:
		c.setState(StateClosed)
		return nil, fmt.Errorf("unknown target kind %d", target.Kind)
	}
	c.setState(StateAuthorized)

	for _, group := range groups {
		if err := g.router.Join(ctx, group, c); err != nil {
			g.leaveAll(context.WithoutCancel(ctx), c)
			c.setState(StateClosed)
			return nil, fmt.Errorf("join %s: %w", group, err)
		}
		c.groups = append(c.groups, group)
	}
	c.setState(StateSubscribed)

	return c, nil
}

func (g *Gateway) leaveAll(ctx context.Context, c *Client) {
	for _, group := range c.groups {
		if err := g.router.Leave(ctx, group, c); err != nil {
			g.log.Warn("leave group", zap.String("group", group), zap.Error(err))
		}
	}
	c.groups = nil
}

func (g *Gateway) reject(w http.ResponseWriter, ce *ConnectError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ce.StatusCode)
	if err := json.NewEncoder(w).Encode(ce); err != nil {
		g.log.Error("json encode", zap.Error(err))
	}
}

func (g *Gateway) historyEvent(ctx context.Context, roomId string, page chat.Page) types.Event {
	rendered, err := g.store.Render(ctx, page)
	if err != nil {
		g.log.Error("render history", zap.String("room_id", roomId), zap.Error(err))
		return types.ErrorEvent{Code: "internal_error", Message: "history unavailable"}
	}
	return types.HistoryEvent{RoomId: roomId, MessagePage: rendered}
}

func (g *Gateway) isDraining() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.draining
}

func (g *Gateway) register(c *Client) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.draining {
		return false
	}
	g.clients[c] = struct{}{}
	g.wg.Add(1)
	g.stats.Incr(stats.ActiveConnections)
	g.stats.Incr(stats.TotalConnections)
	return true
}

func (g *Gateway) unregister(c *Client) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.clients[c]; !ok {
		return
	}
	delete(g.clients, c)
	g.stats.Decr(stats.ActiveConnections)
	g.wg.Done()
}

// Heartbeat confirms this process's connections to the membership backend
// and the presence table, then resets presence that no process confirmed
// within staleAfter.
func (g *Gateway) Heartbeat(ctx context.Context, staleAfter time.Duration) error {
	g.mu.Lock()
	userIds := make([]int, 0, len(g.clients))
	for c := range g.clients {
		if c.target.Kind == TargetChat && !slices.Contains(userIds, c.user.Id) {
			userIds = append(userIds, c.user.Id)
		}
	}
	g.mu.Unlock()

	var errs []error
	if err := g.router.Refresh(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := g.presence.Touch(ctx, userIds); err != nil {
		errs = append(errs, err)
	}
	if _, err := g.presence.Sweep(ctx, staleAfter); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// RunHeartbeat calls Heartbeat every interval until ctx is done. Presence
// is considered stale after three missed intervals.
func (g *Gateway) RunHeartbeat(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := g.Heartbeat(ctx, 3*interval); err != nil {
				g.log.Warn("heartbeat", zap.Error(err))
			}
		}
	}
}

// Connections returns the number of accepted connections that have not
// finished cleanup.
func (g *Gateway) Connections() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.clients)
}

// Shutdown refuses new connections, closes the open ones and waits for their
// cleanup to finish.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.draining = true
	clients := make([]*Client, 0, len(g.clients))
	for c := range g.clients {
		clients = append(clients, c)
	}
	g.mu.Unlock()

	g.log.Info("closing connections", zap.Int("count", len(clients)))
	for _, c := range clients {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("gateway shutdown: %w", ctx.Err())
	}
}
