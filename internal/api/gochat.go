package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/handlers"
	"go.uber.org/zap"

	"github.com/skillnest/realtime/internal/auth"
	"github.com/skillnest/realtime/internal/broadcast"
	"github.com/skillnest/realtime/internal/chat"
	"github.com/skillnest/realtime/internal/config"
	"github.com/skillnest/realtime/internal/database"
	"github.com/skillnest/realtime/internal/meeting"
	"github.com/skillnest/realtime/internal/notify"
	"github.com/skillnest/realtime/internal/rooms"
	"github.com/skillnest/realtime/internal/server"
)

// Services are the collaborators behind the HTTP surface.
type Services struct {
	DB         database.Repository
	Validator  *auth.Validator
	Gateway    *server.Gateway
	Router     *broadcast.Router
	Authorizer *rooms.Authorizer
	Store      *chat.Store
	Meetings   *meeting.Service
	Notifier   *notify.Service
}

type GoChatApp struct {
	log        *zap.Logger
	db         database.Repository
	validator  *auth.Validator
	gateway    *server.Gateway
	router     *broadcast.Router
	authorizer *rooms.Authorizer
	store      *chat.Store
	meetings   *meeting.Service
	notifier   *notify.Service
	srv        *http.Server
}

func NewGoChatApp(mux *http.ServeMux, logger *zap.Logger, svc Services, cfg *config.Config) *GoChatApp {
	if mux == nil {
		mux = http.NewServeMux()
	}

	s := &GoChatApp{
		log:        logger,
		db:         svc.DB,
		validator:  svc.Validator,
		gateway:    svc.Gateway,
		router:     svc.Router,
		authorizer: svc.Authorizer,
		store:      svc.Store,
		meetings:   svc.Meetings,
		notifier:   svc.Notifier,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)

	mux.HandleFunc("GET /ws/community/{roomId}/{$}", s.serveChatWs)
	mux.HandleFunc("GET /ws/community/{communityId}/meeting/{$}", s.serveMeetingWs)
	mux.HandleFunc("GET /ws/notifications/{$}", s.serveNotificationsWs)

	mux.Handle("GET /api/communities/{communityId}/room", s.authMiddleware(s.getCommunityRoom))
	mux.Handle("GET /api/communities/{communityId}/meeting", s.authMiddleware(s.getActiveMeeting))
	mux.Handle("GET /api/rooms/{roomId}/messages", s.authMiddleware(s.getMessages))
	mux.Handle("POST /api/rooms/{roomId}/messages", s.authMiddleware(s.createMessage))
	mux.Handle("GET /api/rooms/{roomId}/members", s.authMiddleware(s.getMembers))
	mux.Handle("PATCH /api/messages/{messageId}", s.authMiddleware(s.editMessage))

	mux.Handle("POST /api/meetings", s.authMiddleware(s.createMeeting))
	mux.Handle("PATCH /api/meetings/{meetingId}", s.authMiddleware(s.endMeeting))

	mux.Handle("GET /api/notifications", s.authMiddleware(s.getNotifications))
	mux.Handle("POST /api/notifications", s.authMiddleware(s.createNotification))
	mux.Handle("POST /api/notifications/read-all", s.authMiddleware(s.markAllNotificationsRead))
	mux.Handle("PATCH /api/notifications/{notificationId}", s.authMiddleware(s.markNotificationRead))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *GoChatApp) Handler() http.Handler {
	return s.srv.Handler
}

func (s *GoChatApp) Start() error {
	s.log.Info("starting server", zap.String("addr", s.srv.Addr))
	return s.srv.ListenAndServe()
}

func (s *GoChatApp) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
