// Package api exposes the router's operations over HTTP: device
// registration, topic membership, preferences, and direct notification
// control.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/lakeshorelabs/go-push-router/pkg/notification"
	"github.com/lakeshorelabs/go-push-router/pushrouter"
)

// Server wraps the orchestrator in a chi router.
type Server struct {
	service    *pushrouter.Service
	httpServer *http.Server
	logger     *slog.Logger
	ready      func() bool
}

// New builds the server. The ready callback backs /readyz; a nil callback
// reports ready always.
func New(service *pushrouter.Service, addr string, ready func() bool, logger *slog.Logger) *Server {
	s := &Server{
		service: service,
		logger:  logger.With("component", "APIServer"),
		ready:   ready,
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("HTTP server starting", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if s.ready != nil && !s.ready() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/users/{recipient}", func(r chi.Router) {
			r.Get("/devices", s.handleListDevices)
			r.Post("/devices/fcm", s.handleRegisterToken(pushrouter.PlatformFCM))
			r.Delete("/devices/fcm", s.handleUnregisterToken(pushrouter.PlatformFCM))
			r.Post("/devices/apns", s.handleRegisterToken(pushrouter.PlatformAPNS))
			r.Delete("/devices/apns", s.handleUnregisterToken(pushrouter.PlatformAPNS))
			r.Post("/devices/web", s.handleRegisterWeb)
			r.Delete("/devices/web", s.handleUnregisterWeb)

			r.Post("/topics/{topic}/subscribe", s.handleTopic(true))
			r.Post("/topics/{topic}/unsubscribe", s.handleTopic(false))

			r.Put("/preferences", s.handleSetPreference)
			r.Get("/preferences", s.handleGetPreference)
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Post("/", s.handleShow)
			r.Post("/schedule", s.handleSchedule)
			r.Get("/{id}", s.handleActive)
			r.Delete("/{id}", s.handleCancel)
			r.Delete("/", s.handleCancelAll)
		})
	})

	return r
}

// --- Devices ---

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	recipient := chi.URLParam(r, "recipient")
	set, err := s.service.DeviceTokens(r.Context(), recipient)
	if err != nil {
		http.Error(w, "failed to fetch devices", http.StatusInternalServerError)
		return
	}
	s.respond(w, r, set, http.StatusOK)
}

func (s *Server) handleRegisterToken(platform pushrouter.Platform) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
			http.Error(w, "token is required", http.StatusBadRequest)
			return
		}
		if err := s.service.RegisterToken(r.Context(), chi.URLParam(r, "recipient"), platform, req.Token); err != nil {
			http.Error(w, "failed to register token", http.StatusInternalServerError)
			return
		}
		s.respond(w, r, map[string]string{"status": "registered"}, http.StatusOK)
	}
}

func (s *Server) handleUnregisterToken(platform pushrouter.Platform) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
			http.Error(w, "token is required", http.StatusBadRequest)
			return
		}
		if err := s.service.UnregisterToken(r.Context(), chi.URLParam(r, "recipient"), platform, req.Token); err != nil {
			http.Error(w, "failed to unregister token", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// webSubscriptionRequest is the browser's PushSubscription JSON: the keys
// arrive base64url-encoded without padding.
type webSubscriptionRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func (s *Server) handleRegisterWeb(w http.ResponseWriter, r *http.Request) {
	var req webSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Endpoint == "" {
		http.Error(w, "endpoint is required", http.StatusBadRequest)
		return
	}

	p256dh, err := base64.RawURLEncoding.DecodeString(req.Keys.P256dh)
	if err != nil {
		http.Error(w, "invalid p256dh key", http.StatusBadRequest)
		return
	}
	auth, err := base64.RawURLEncoding.DecodeString(req.Keys.Auth)
	if err != nil {
		http.Error(w, "invalid auth key", http.StatusBadRequest)
		return
	}

	var sub notification.WebPushSubscription
	sub.Endpoint = req.Endpoint
	sub.Keys.P256dh = p256dh
	sub.Keys.Auth = auth

	if err := s.service.RegisterWebSubscription(r.Context(), chi.URLParam(r, "recipient"), sub); err != nil {
		http.Error(w, "failed to register subscription", http.StatusInternalServerError)
		return
	}
	s.respond(w, r, map[string]string{"status": "registered"}, http.StatusOK)
}

func (s *Server) handleUnregisterWeb(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Endpoint == "" {
		http.Error(w, "endpoint is required", http.StatusBadRequest)
		return
	}
	if err := s.service.UnregisterWebSubscription(r.Context(), chi.URLParam(r, "recipient"), req.Endpoint); err != nil {
		http.Error(w, "failed to unregister subscription", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Topics ---

func (s *Server) handleTopic(subscribe bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recipient := chi.URLParam(r, "recipient")
		topic := chi.URLParam(r, "topic")

		var err error
		if subscribe {
			err = s.service.SubscribeToTopic(r.Context(), recipient, topic)
		} else {
			err = s.service.UnsubscribeFromTopic(r.Context(), recipient, topic)
		}
		if err != nil {
			http.Error(w, "topic operation failed", http.StatusInternalServerError)
			return
		}
		s.respond(w, r, map[string]string{"status": "ok", "topic": topic}, http.StatusOK)
	}
}

// --- Preferences ---

func (s *Server) handleSetPreference(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	granted, err := s.service.RequestPermissions(r.Context(), chi.URLParam(r, "recipient"), req.Enabled)
	if err != nil {
		http.Error(w, "failed to store preference", http.StatusInternalServerError)
		return
	}
	s.respond(w, r, map[string]bool{"enabled": granted}, http.StatusOK)
}

func (s *Server) handleGetPreference(w http.ResponseWriter, r *http.Request) {
	enabled, err := s.service.NotificationsEnabled(r.Context(), chi.URLParam(r, "recipient"))
	if err != nil {
		http.Error(w, "failed to read preference", http.StatusInternalServerError)
		return
	}
	s.respond(w, r, map[string]bool{"enabled": enabled}, http.StatusOK)
}

// --- Notifications ---

type showRequest struct {
	ID        int64                `json:"id"`
	Recipient string               `json:"recipient"`
	Content   notification.Content `json:"content"`
	Data      map[string]string    `json:"data"`
	DueAt     *time.Time           `json:"due_at,omitempty"`
}

func (req *showRequest) toNotification() notification.Notification {
	n := notification.Notification{
		ID:        req.ID,
		Recipient: req.Recipient,
		Content:   req.Content,
		Data:      req.Data,
	}
	if n.ID == 0 {
		// Direct API sends have no producer-assigned handle; mint one from
		// a random id so cancel and tray queries still work.
		n.ID = int64(uuid.New().ID())
	}
	return n
}

func (s *Server) handleShow(w http.ResponseWriter, r *http.Request) {
	var req showRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	n := req.toNotification()
	if err := n.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.service.ShowLocalNotification(r.Context(), n)
	s.respond(w, r, map[string]any{"status": "dispatched", "id": n.ID}, http.StatusAccepted)
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req showRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.DueAt == nil {
		http.Error(w, "due_at is required", http.StatusBadRequest)
		return
	}
	n := req.toNotification()
	if err := n.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.service.ScheduleNotification(r.Context(), n, *req.DueAt); err != nil {
		http.Error(w, "failed to schedule notification", http.StatusInternalServerError)
		return
	}
	s.respond(w, r, map[string]any{"status": "scheduled", "id": n.ID, "due_at": req.DueAt}, http.StatusCreated)
}

func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid notification id", http.StatusBadRequest)
		return
	}
	active, err := s.service.ActiveNotification(r.Context(), id)
	if err != nil {
		http.Error(w, "failed to query notification", http.StatusInternalServerError)
		return
	}
	s.respond(w, r, map[string]any{"id": id, "active": active}, http.StatusOK)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid notification id", http.StatusBadRequest)
		return
	}
	s.service.CancelNotification(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancelAll(w http.ResponseWriter, r *http.Request) {
	s.service.CancelAllNotifications(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			s.logger.Warn("Failed to encode response", "request_id", middleware.GetReqID(r.Context()), "err", err)
		}
	}
}
