// Package api provides the HTTP API server for the buying habits kit.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/core"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/kit"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/ledger"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/logging"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/oracle"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/storage"
)

// Updates and requests walk every agent of the project
const requestTimeout = 10 * time.Minute

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server

	// Components
	kit   *kit.Kit
	db    *storage.DB
	wsHub *WebSocketHub

	// Stores
	orderStore *storage.OrderStore
	runStore   *storage.RunStore

	// Ledger (audit trail)
	ledgerStore    *ledger.Store
	ledgerRecorder *ledger.Recorder

	location *time.Location
	logger   *logging.Logger
}

// Config for the server
type Config struct {
	Host string
	Port int

	Kit *kit.Kit
	DB  *storage.DB

	// LedgerStore defaults to a store on DB. Share it with the kit's auditor.
	LedgerStore *ledger.Store

	// Hub should also be the kit's observer for progress to reach clients
	Hub *WebSocketHub

	// Location resolves plain dates in request bodies
	Location *time.Location

	Logger *logging.Logger
}

// New creates a new API server
func New(cfg Config) *Server {
	hub := cfg.Hub
	if hub == nil {
		hub = NewWebSocketHub()
	}
	loc := cfg.Location
	if loc == nil {
		loc = oracle.DefaultLocation()
	}

	s := &Server{
		kit:        cfg.Kit,
		db:         cfg.DB,
		wsHub:      hub,
		orderStore: storage.NewOrderStore(cfg.DB),
		runStore:   storage.NewRunStore(cfg.DB),
		location:   loc,
		logger:     logging.OrDefault(cfg.Logger).Named("api"),
	}
	if cfg.LedgerStore != nil {
		s.ledgerStore = cfg.LedgerStore
	} else if cfg.DB != nil {
		s.ledgerStore = ledger.NewStore(cfg.DB.Conn())
	}
	if s.ledgerStore != nil {
		s.ledgerRecorder = ledger.NewRecorder(s.ledgerStore, ledger.ActorUser)
	}

	s.setupRouter()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: requestTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRouter configures all routes
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))

			// Orders
			r.Post("/orders", s.handleImportOrders)
			r.Get("/orders/count", s.handleCountOrders)

			// Agents
			r.Post("/update", s.handleUpdate)
			r.Delete("/agents", s.handleDestroy)

			// Requests
			r.Post("/requests", s.handleCreateRequest)
			r.Get("/requests", s.handleListRequests)
			r.Get("/requests/{id}", s.handleGetRequest)
		})

		if s.ledgerStore != nil {
			s.registerLedgerRoutes(r)
		}
	})

	// WebSocket
	r.Get("/ws", s.wsHub.ServeHTTP)

	s.router = r
}

// requestLogger logs every request through the kit logger
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("%s %s %d %s", r.Method, r.URL.Path, ww.Status(), time.Since(start))
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	// Start WebSocket hub
	go s.wsHub.Run()

	s.logger.Info("API server starting on http://%s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.wsHub.Stop()
	return s.httpServer.Shutdown(ctx)
}

// --- Response helpers ---

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// respondErr maps domain errors to a status code
func (s *Server) respondErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var apiErr *oracle.APIError
	switch {
	case errors.Is(err, core.ErrMissingRequired),
		errors.Is(err, core.ErrInvalidInput),
		errors.Is(err, core.ErrUnknownInterestLevel),
		errors.Is(err, core.ErrUnknownUpdateType):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrRecordNotFound):
		status = http.StatusNotFound
	case errors.Is(err, oracle.ErrUnauthorized), errors.As(err, &apiErr):
		status = http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status >= 500 {
		s.logger.Error("Request failed: %v", err)
	}
	s.respondError(w, status, err.Error())
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":  "ok",
		"clients": s.wsHub.ClientCount(),
		"time":    time.Now().UTC(),
	}
	if s.db != nil {
		version, err := s.db.SchemaVersion(r.Context())
		if err != nil {
			s.respondErr(w, err)
			return
		}
		resp["schema_version"] = version
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleImportOrders(w http.ResponseWriter, r *http.Request) {
	var orders []core.Order
	if err := json.NewDecoder(r.Body).Decode(&orders); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	imported, err := s.orderStore.Import(r.Context(), orders)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if s.ledgerRecorder != nil && imported > 0 {
		if err := s.ledgerRecorder.OrdersImported(r.Context(), "api", imported); err != nil {
			s.logger.Warn("Failed to record import: %v", err)
		}
	}

	total, _ := s.orderStore.Count(r.Context())
	s.respondJSON(w, http.StatusCreated, map[string]int{
		"received": len(orders),
		"imported": imported,
		"total":    total,
	})
}

func (s *Server) handleCountOrders(w http.ResponseWriter, r *http.Request) {
	count, err := s.orderStore.Count(r.Context())
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"count": count})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Type string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if _, err := core.ParseAgentType(input.Type); err != nil {
		s.respondErr(w, err)
		return
	}

	orders, err := s.orderStore.All(r.Context())
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if err := s.kit.Update(r.Context(), orders, input.Type); err != nil {
		s.respondErr(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "updated",
		"type":   input.Type,
		"orders": len(orders),
	})
}

func (s *Server) handleDestroy(w http.ResponseWriter, r *http.Request) {
	count, err := s.kit.Destroy(r.Context())
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"deleted": count})
}

// requestInput accepts plain dates ("2018-01-05") or RFC 3339 timestamps
type requestInput struct {
	Groups   [][]string `json:"groups"`
	Brand    string     `json:"brand"`
	From     string     `json:"from"`
	To       string     `json:"to"`
	Interest string     `json:"interest"`
}

func (in requestInput) params(loc *time.Location) (core.RequestParams, error) {
	params := core.RequestParams{
		Groups:   in.Groups,
		Brand:    in.Brand,
		Interest: core.InterestLevel(in.Interest),
	}
	if params.Interest == "" {
		params.Interest = core.InterestInterested
	}

	var err error
	if params.From, err = ParseDate(in.From, loc); err != nil {
		return params, fmt.Errorf("%w: from: %v", core.ErrInvalidInput, err)
	}
	if params.To, err = ParseDate(in.To, loc); err != nil {
		return params, fmt.Errorf("%w: to: %v", core.ErrInvalidInput, err)
	}
	return params, params.Validate()
}

// ParseDate reads a plain date at midnight in loc, or an RFC 3339 timestamp.
// An empty string gives the zero time.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var input requestInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	params, err := input.params(s.location)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	run, err := s.kit.Request(r.Context(), params)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if err := s.runStore.Save(r.Context(), run); err != nil {
		s.respondErr(w, err)
		return
	}

	s.respondJSON(w, http.StatusCreated, run)
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	limit := 50 // Default
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = l
	}

	runs, err := s.runStore.List(r.Context(), limit)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	run, err := s.runStore.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, run)
}
