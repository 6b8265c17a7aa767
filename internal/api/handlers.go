package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/skillnest/realtime/internal/broadcast"
	"github.com/skillnest/realtime/internal/chat"
	"github.com/skillnest/realtime/internal/server"
	"github.com/skillnest/realtime/internal/types"
)

type CreateMessageRequest struct {
	Content     string `json:"content"`
	MediaUrl    string `json:"media_url"`
	MessageType string `json:"message_type"`
}

type EditMessageRequest struct {
	Content string `json:"content"`
}

type CreateMeetingRequest struct {
	CommunityId int `json:"community_id"`
}

type MarkReadRequest struct {
	Read *bool `json:"read"`
}

type CreateNotificationRequest struct {
	RecipientId int    `json:"recipient_id"`
	Type        string `json:"type"`
	PostId      *int   `json:"post_id"`
}

type NotificationList struct {
	Notifications []types.Notification `json:"notifications"`
	UnreadCount   int64                `json:"unread_count"`
}

func (s *GoChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("json encode", zap.Error(err))
	}
}

func (s *GoChatApp) writeError(w http.ResponseWriter, r *http.Request, err error) {
	errResp := errorFor(err)
	if errResp.StatusCode >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

// requireUser reads the authenticated user id. It writes a 401 and
// reports false when the request carries none.
func (s *GoChatApp) requireUser(w http.ResponseWriter, r *http.Request) (int, bool) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
	}
	return userId, ok
}

func (s *GoChatApp) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return false
	}
	return true
}

func (s *GoChatApp) pathInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	v, err := strconv.Atoi(r.PathValue(name))
	if err != nil || v <= 0 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return 0, false
	}
	return v, true
}

func (s *GoChatApp) queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return 0, false
	}
	return v, true
}

func (s *GoChatApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.log.Error("health check: database", zap.Error(err))
		errResp := NewServiceUnavailableError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.router.Ping(r.Context()); err != nil {
		s.log.Error("health check: broker", zap.Error(err))
		errResp := NewServiceUnavailableError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *GoChatApp) serveChatWs(w http.ResponseWriter, r *http.Request) {
	after, err := chat.DecodeCursor(r.URL.Query().Get("after"))
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.gateway.Connect(w, r, server.Target{
		Kind:   server.TargetChat,
		RoomId: r.PathValue("roomId"),
		After:  after,
	})
}

func (s *GoChatApp) serveMeetingWs(w http.ResponseWriter, r *http.Request) {
	communityId, ok := s.pathInt(w, r, "communityId")
	if !ok {
		return
	}

	s.gateway.Connect(w, r, server.Target{
		Kind:        server.TargetMeeting,
		CommunityId: communityId,
	})
}

func (s *GoChatApp) serveNotificationsWs(w http.ResponseWriter, r *http.Request) {
	s.gateway.Connect(w, r, server.Target{Kind: server.TargetNotifications})
}

func (s *GoChatApp) getCommunityRoom(w http.ResponseWriter, r *http.Request) {
	userId, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	communityId, ok := s.pathInt(w, r, "communityId")
	if !ok {
		return
	}

	room, _, err := s.authorizer.AuthorizeCommunity(r.Context(), userId, communityId)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, types.NewRoom(room))
}

func (s *GoChatApp) getMembers(w http.ResponseWriter, r *http.Request) {
	userId, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	members, err := s.authorizer.Members(r.Context(), userId, r.PathValue("roomId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, members)
}

func (s *GoChatApp) getMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	room, err := s.authorizer.AuthorizeRoom(r.Context(), userId, r.PathValue("roomId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	before, err := chat.DecodeCursor(r.URL.Query().Get("before"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	after, err := chat.DecodeCursor(r.URL.Query().Get("after"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, ok := s.queryInt(w, r, "limit")
	if !ok {
		return
	}

	page, err := s.store.History(r.Context(), room.Id, chat.HistoryQuery{Before: before, After: after, Limit: limit})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out, err := s.store.Render(r.Context(), page)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, out)
}

func (s *GoChatApp) createMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	var req CreateMessageRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	room, err := s.authorizer.AuthorizeRoom(r.Context(), userId, r.PathValue("roomId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	user, err := s.db.GetUserById(r.Context(), userId)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	msg, err := s.store.Append(r.Context(), chat.AppendParams{
		RoomId:   room.Id,
		SenderId: userId,
		Content:  req.Content,
		MediaUrl: req.MediaUrl,
		Type:     req.MessageType,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := types.NewMessage(msg, types.User{Id: user.Id, Username: user.Username})
	if err := s.router.PublishEvent(r.Context(), broadcast.ChatGroup(room.Id), types.ChatMessageEvent{Message: out}); err != nil {
		s.log.Warn("publish chat message", zap.String("message_id", msg.Id), zap.Error(err))
	}

	s.writeJson(w, http.StatusCreated, out)
}

func (s *GoChatApp) editMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	var req EditMessageRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	msg, err := s.store.Edit(r.Context(), r.PathValue("messageId"), userId, req.Content)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	user, err := s.db.GetUserById(r.Context(), userId)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, types.NewMessage(msg, types.User{Id: user.Id, Username: user.Username}))
}

func (s *GoChatApp) createMeeting(w http.ResponseWriter, r *http.Request) {
	userId, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	var req CreateMeetingRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.CommunityId <= 0 {
		s.writeJson(w, http.StatusBadRequest, NewValidationError(errors.New("community_id is required")))
		return
	}

	info, err := s.meetings.CreateMeeting(r.Context(), req.CommunityId, userId)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if info.AlreadyActive {
		status = http.StatusOK
	}
	s.writeJson(w, status, info.Wire())
}

func (s *GoChatApp) getActiveMeeting(w http.ResponseWriter, r *http.Request) {
	userId, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	communityId, ok := s.pathInt(w, r, "communityId")
	if !ok {
		return
	}

	info, err := s.meetings.ActiveMeeting(r.Context(), communityId, userId)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, info.Wire())
}

func (s *GoChatApp) endMeeting(w http.ResponseWriter, r *http.Request) {
	userId, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	m, err := s.meetings.EndMeeting(r.Context(), r.PathValue("meetingId"), userId)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, types.NewMeeting(m))
}

func (s *GoChatApp) getNotifications(w http.ResponseWriter, r *http.Request) {
	userId, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	unreadOnly := false
	if raw := r.URL.Query().Get("unread"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		unreadOnly = v
	}
	limit, ok := s.queryInt(w, r, "limit")
	if !ok {
		return
	}

	list, err := s.notifier.List(r.Context(), userId, unreadOnly, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	unread, err := s.notifier.UnreadCount(r.Context(), userId)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, NotificationList{Notifications: list, UnreadCount: unread})
}

func (s *GoChatApp) createNotification(w http.ResponseWriter, r *http.Request) {
	userId, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	var req CreateNotificationRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	n, err := s.notifier.Notify(r.Context(), userId, req.RecipientId, req.Type, req.PostId)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	sender := types.User{Id: userId}
	if u, err := s.db.GetUserById(r.Context(), userId); err == nil {
		sender.Username = u.Username
	}
	s.writeJson(w, http.StatusCreated, types.NewNotification(n, sender))
}

func (s *GoChatApp) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	userId, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	id, ok := s.pathInt(w, r, "notificationId")
	if !ok {
		return
	}

	var req MarkReadRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	read := true
	if req.Read != nil {
		read = *req.Read
	}

	n, err := s.notifier.MarkRead(r.Context(), userId, id, read)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, n)
}

func (s *GoChatApp) markAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	userId, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	updated, err := s.notifier.MarkAllRead(r.Context(), userId)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJson(w, http.StatusOK, map[string]int64{"updated": updated})
}
