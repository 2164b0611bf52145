package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"rentmarket/internal/config"
	"rentmarket/internal/domain"
	"rentmarket/internal/logging"
	"rentmarket/internal/metrics"
	"rentmarket/internal/models"
	"rentmarket/internal/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	healthPath = "/healthz"
	readyPath  = "/readyz"
)

// Services bundles the booking services exposed over HTTP and gRPC.
type Services struct {
	Items        *service.ItemService
	Reservations *service.ReservationService
	Payments     *service.PaymentService
	PostRental   *service.PostRentalService
}

// Pinger reports storage readiness.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HTTPServer exposes the marketplace JSON API.
type HTTPServer struct {
	cfg    config.APIConfig
	svc    Services
	db     Pinger
	server *http.Server
	auth   *HTTPAuth
	actors *ActorResolver
	writes *writeLimiter
	log    zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, svc Services, db Pinger, guards domain.GuardStore, logger *zerolog.Logger) *HTTPServer {
	srv := &HTTPServer{
		cfg:    cfg,
		svc:    svc,
		db:     db,
		auth:   NewHTTPAuth(cfg),
		actors: NewActorResolver(cfg.Auth.JWTSecret),
		writes: newWriteLimiter(guards, cfg.RateLimit, logger),
		log:    zerolog.Nop(),
	}
	if logger != nil {
		srv.log = logger.With().Str("component", "http").Logger()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+healthPath, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET "+readyPath, srv.handleReady)
	srv.routes(mux)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.loggingMiddleware(corsMiddleware(srv.auth.Wrap(mux))),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

func (s *HTTPServer) routes(mux *http.ServeMux) {
	s.public(mux, "GET /api/v1/categories", permReadItems, s.handleListCategories)
	s.public(mux, "GET /api/v1/items", permReadItems, s.handleListItems)
	s.public(mux, "GET /api/v1/items/{id}", permReadItems, s.handleGetItem)
	s.public(mux, "GET /api/v1/items/{id}/reviews", permReadReviews, s.handleListReviews)

	s.handle(mux, "POST /api/v1/items", permWriteItems, s.handleCreateItem)
	s.handle(mux, "POST /api/v1/items/{id}/publish", permWriteItems, s.handlePublishItem)
	s.handle(mux, "POST /api/v1/items/{id}/retire", permWriteItems, s.handleRetireItem)
	s.handle(mux, "GET /api/v1/items/{id}/reservations", permReadReservations, s.handleListItemReservations)
	s.handle(mux, "GET /api/v1/items/{id}/review-eligibility", permReadReviews, s.handleReviewEligibility)
	s.handle(mux, "POST /api/v1/items/{id}/reviews", permWriteReviews, s.handleCreateReview)

	s.handle(mux, "POST /api/v1/reservations", permWriteReservations, s.handleCreateReservation)
	s.handle(mux, "GET /api/v1/reservations", permReadReservations, s.handleListReservations)
	s.handle(mux, "GET /api/v1/reservations/pending", permReadReservations, s.handleListPending)
	s.handle(mux, "GET /api/v1/reservations/{id}", permReadReservations, s.handleGetReservation)
	s.handle(mux, "POST /api/v1/reservations/{id}/accept", permWriteReservations, s.transitionHandler(s.svc.Reservations.Accept))
	s.handle(mux, "POST /api/v1/reservations/{id}/reject", permWriteReservations, s.transitionHandler(s.svc.Reservations.Reject))
	s.handle(mux, "POST /api/v1/reservations/{id}/cancel", permWriteReservations, s.transitionHandler(s.svc.Reservations.Cancel))
	s.handle(mux, "POST /api/v1/reservations/{id}/complete", permWriteReservations, s.transitionHandler(s.svc.Reservations.Complete))
	s.handle(mux, "GET /api/v1/reservations/{id}/amount", permReadPayments, s.handleComputeAmount)
	s.handle(mux, "POST /api/v1/reservations/{id}/payment", permWritePayments, s.handleProcessPayment)
	s.handle(mux, "POST /api/v1/reservations/{id}/incidents", permWriteIncidents, s.handleReportIncident)

	s.handle(mux, "GET /api/v1/payments", permReadPayments, s.handleListPayments)

	s.handle(mux, "PUT /api/v1/reviews/{id}", permWriteReviews, s.handleUpdateReview)
	s.handle(mux, "DELETE /api/v1/reviews/{id}", permWriteReviews, s.handleDeleteReview)

	s.handle(mux, "GET /api/v1/incidents", permReadIncidents, s.handleListIncidents)
	s.handle(mux, "POST /api/v1/incidents/{id}/advance", permWriteIncidents, s.handleAdvanceIncident)

	s.handle(mux, "POST /api/v1/admin/reservations/complete-due", permWriteReservations, s.handleCompleteDue)
}

type actorHandler func(w http.ResponseWriter, r *http.Request, actor models.Actor)

// handle registers a route that needs an authenticated actor. Mutating
// methods also spend the actor's write budget.
func (s *HTTPServer) handle(mux *http.ServeMux, pattern, perm string, h actorHandler) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		metrics.IncHTTP(pattern)
		if !clientPermitted(r.Context(), perm) {
			writeError(w, http.StatusForbidden, errPermissionDenied.Error())
			return
		}

		actor, err := s.actors.Resolve(r.Header.Get)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if r.Method != http.MethodGet && !s.writes.allow(r.Context(), actor) {
			writeError(w, http.StatusTooManyRequests, errRateLimited.Error())
			return
		}

		h(w, r.WithContext(withActor(r.Context(), actor)), actor)
	})
}

func (s *HTTPServer) public(mux *http.ServeMux, pattern, perm string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		metrics.IncHTTP(pattern)
		if !clientPermitted(r.Context(), perm) {
			writeError(w, http.StatusForbidden, errPermissionDenied.Error())
			return
		}
		h(w, r)
	})
}

// Handler returns the full middleware chain.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		s.log.Warn().Err(err).Msg("readiness check failed")
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDMetadataKey))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		r = r.WithContext(logging.WithRequest(r.Context(), &s.log, requestID))

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		ev := s.log.Info()
		if recorder.status >= http.StatusInternalServerError {
			ev = s.log.Error()
		}
		ev.Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, X-API-Extra, X-Actor-ID, X-Actor-Role, X-Request-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

// writeServiceError maps a service error to its status; internal errors are
// logged and masked.
func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code, kind, msg := httpError(err)
	if kind == domain.KindInternal {
		logging.FromContext(r.Context(), &s.log).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, code, map[string]string{"error": msg, "kind": string(kind)})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
