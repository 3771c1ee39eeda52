// Package api exposes the service's HTTP surface: the internal webhook
// ingestion endpoints, the health check, and the token-guarded debug
// endpoints. Webhook handlers perform the same canonical translation as the
// broker consumer and hand off to the dispatcher; no delivery logic lives
// here.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/PetaTalenta/notification-service/internal/consumer"
	"github.com/PetaTalenta/notification-service/internal/event"
	"github.com/PetaTalenta/notification-service/internal/store"
	"github.com/PetaTalenta/notification-service/internal/websocket"
	"github.com/PetaTalenta/notification-service/pkg/interfaces"
)

// ConnectionSource provides connection state without coupling the API to
// the registry implementation.
type ConnectionSource interface {
	Stats() websocket.Stats
	Snapshot() []websocket.ConnectionInfo
	Connections(userID string) []interfaces.Connection
}

// OpenCounter reports all open connections, authenticated or not.
type OpenCounter interface {
	OpenConnections() int
}

// ConsumerSource reports the broker consumption loop's state.
type ConsumerSource interface {
	Status() consumer.Status
}

// DeliveryLog exposes the audit trail to the debug surface.
type DeliveryLog interface {
	Recent(ctx context.Context, limit int) ([]store.Delivery, error)
	HealthCheck(ctx context.Context) error
}

// Server is the HTTP API. It also mounts the WebSocket endpoint so the
// whole surface serves from one router.
type Server struct {
	dispatcher interfaces.EventDispatcher
	conns      ConnectionSource
	open       OpenCounter
	consumer   ConsumerSource
	deliveries DeliveryLog // nil when the audit store is disabled
	secret     string
	log        zerolog.Logger
	router     chi.Router
}

// NewServer assembles the router. wsHandler serves GET /ws; deliveries may
// be nil.
func NewServer(
	dispatcher interfaces.EventDispatcher,
	conns ConnectionSource,
	open OpenCounter,
	consumerSource ConsumerSource,
	deliveries DeliveryLog,
	secret string,
	wsHandler http.HandlerFunc,
	log zerolog.Logger,
) *Server {
	s := &Server{
		dispatcher: dispatcher,
		conns:      conns,
		open:       open,
		consumer:   consumerSource,
		deliveries: deliveries,
		secret:     secret,
		log:        log.With().Str("component", "api").Logger(),
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/ws", wsHandler)

	r.Route("/api/notifications", func(r chi.Router) {
		r.Use(s.requireServiceToken)
		r.Post("/analysis-started", s.handleNotification(event.KindStarted))
		r.Post("/analysis-complete", s.handleNotification(event.KindCompleted))
		r.Post("/analysis-failed", s.handleNotification(event.KindFailed))
		r.Post("/analysis-unknown", s.handleNotification(event.KindUnknown))
		r.Get("/status", s.handleStatus)
	})

	r.Route("/debug", func(r chi.Router) {
		r.Use(s.requireServiceToken)
		r.Get("/connections", s.handleDebugConnections)
		r.Post("/disconnect", s.handleDebugDisconnect)
		r.Get("/deliveries", s.handleDebugDeliveries)
	})

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// notificationRequest is the webhook body. Field names follow the wire
// contract used by the internal services that call these endpoints.
type notificationRequest struct {
	UserID         string `json:"userId"`
	JobID          string `json:"jobId"`
	ResultID       string `json:"result_id"`
	Status         string `json:"status"`
	AssessmentName string `json:"assessment_name"`
	Message        string `json:"message"`
	ErrorMessage   string `json:"error_message"`
	EstimatedTime  string `json:"estimated_time"`
}

type notificationResponse struct {
	Success   bool `json:"success"`
	Delivered bool `json:"delivered"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// handleNotification builds the webhook handler for one event kind. All
// four endpoints share this body-to-notification translation so they cannot
// diverge from each other, and the canonical payload comes from the same
// pure function the broker path uses.
func (s *Server) handleNotification(kind event.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req notificationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendError(w, "invalid JSON body", http.StatusBadRequest)
			return
		}

		if req.UserID == "" || req.JobID == "" {
			s.sendError(w, "userId and jobId are required", http.StatusBadRequest)
			return
		}
		if kind == event.KindCompleted && req.ResultID == "" {
			s.sendError(w, "result_id is required", http.StatusBadRequest)
			return
		}
		if (kind == event.KindFailed || kind == event.KindUnknown) && req.ErrorMessage == "" {
			s.sendError(w, "error_message is required", http.StatusBadRequest)
			return
		}

		notification := event.Notification{
			Kind:           kind,
			UserID:         req.UserID,
			JobID:          req.JobID,
			ResultID:       req.ResultID,
			AssessmentName: req.AssessmentName,
			Message:        req.Message,
			ErrorMessage:   req.ErrorMessage,
			EstimatedTime:  req.EstimatedTime,
		}

		delivered := s.dispatcher.Deliver(req.UserID, notification.EventName(), notification.Payload())

		s.log.Info().
			Str("user_id", req.UserID).
			Str("job_id", req.JobID).
			Str("event", notification.EventName()).
			Bool("delivered", delivered).
			Msg("webhook notification processed")

		s.sendJSON(w, http.StatusOK, notificationResponse{Success: true, Delivered: delivered})
	}
}

type connectionStats struct {
	Total         int `json:"total"`
	Authenticated int `json:"authenticated"`
	Users         int `json:"users"`
}

func (s *Server) currentStats() connectionStats {
	registered := s.conns.Stats()
	return connectionStats{
		Total:         s.open.OpenConnections(),
		Authenticated: registered.TotalConnections,
		Users:         registered.DistinctUsers,
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"connections": s.currentStats(),
	})
}

type healthResponse struct {
	Status        string          `json:"status"`
	Timestamp     time.Time       `json:"timestamp"`
	Connections   connectionStats `json:"connections"`
	EventConsumer consumer.Status `json:"eventConsumer"`
}

// handleHealth reports overall service health. A disconnected broker does
// not make the service unhealthy: the webhook path keeps working while the
// consumer reconnects in the background.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if s.deliveries != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.deliveries.HealthCheck(ctx); err != nil {
			s.log.Warn().Err(err).Msg("audit store unhealthy")
			status = "degraded"
		}
	}

	s.sendJSON(w, http.StatusOK, healthResponse{
		Status:        status,
		Timestamp:     time.Now().UTC(),
		Connections:   s.currentStats(),
		EventConsumer: s.consumer.Status(),
	})
}

func (s *Server) handleDebugConnections(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"connections": s.conns.Snapshot(),
	})
}

type disconnectRequest struct {
	UserID string `json:"userId"`
}

// handleDebugDisconnect force-closes all of a user's connections. Cleanup
// (deregistration, window cancellation) runs through each connection's read
// loop, the same path every other close takes.
func (s *Server) handleDebugDisconnect(w http.ResponseWriter, r *http.Request) {
	var req disconnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		s.sendError(w, "userId is required", http.StatusBadRequest)
		return
	}

	conns := s.conns.Connections(req.UserID)
	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			s.log.Warn().Err(err).Str("conn_id", conn.ID()).Msg("forced disconnect failed")
		}
	}

	s.log.Info().Str("user_id", req.UserID).Int("connections", len(conns)).Msg("forced disconnect")
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"disconnected": len(conns),
	})
}

func (s *Server) handleDebugDeliveries(w http.ResponseWriter, r *http.Request) {
	if s.deliveries == nil {
		s.sendError(w, "delivery audit log is disabled", http.StatusNotFound)
		return
	}

	deliveries, err := s.deliveries.Recent(r.Context(), 50)
	if err != nil {
		s.log.Warn().Err(err).Msg("audit query failed")
		s.sendError(w, "failed to read delivery log", http.StatusInternalServerError)
		return
	}

	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"deliveries": deliveries,
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("response encode failed")
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.sendJSON(w, code, errorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}
