// Package api provides the operator HTTP API of ReplyPipe.
//
// It exposes endpoints for working the transfer queue, inspecting and resetting
// channel delivery, sending operator messages, and receiving Twilio webhooks.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/llm"
	"github.com/BTreeMap/ReplyPipe/internal/messaging"
	"github.com/BTreeMap/ReplyPipe/internal/models"
	"github.com/BTreeMap/ReplyPipe/internal/store"
	"github.com/gorilla/mux"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// TransferService works the transfer queue.
type TransferService interface {
	ListTransfers(ctx context.Context, f models.TransferFilter) ([]models.TransferRecord, error)
	GetTransfer(ctx context.Context, transferID string) (*models.TransferRecord, error)
	AssignTransfer(ctx context.Context, transferID, operator string) (*models.TransferRecord, error)
	CompleteTransfer(ctx context.Context, transferID, resolution string) (*models.TransferRecord, error)
	CancelTransfer(ctx context.Context, transferID, note string) (*models.TransferRecord, error)
	Events(ctx context.Context, transferID string) ([]store.TransferEvent, error)
}

// DeliveryService sends messages and reports channel state.
type DeliveryService interface {
	SendMessage(ctx context.Context, chatID string, text string, media *models.Media) (models.SendResult, error)
	GetStatus(ctx context.Context) messaging.Status
	ResetSticky(chatID string) bool
	ClearSticky() int
}

// ProviderStatusSource reports LLM provider state.
type ProviderStatusSource interface {
	Status() []llm.ProviderStatus
}

// HistoryRecorder records operator messages in the conversation history.
type HistoryRecorder interface {
	Append(chatID string, msg models.ChatMessage)
}

// Opts configures a Server.
type Opts struct {
	Addr          string
	TwilioWebhook http.Handler
	Metrics       http.Handler
	Providers     ProviderStatusSource
	History       HistoryRecorder
	SendTimeout   time.Duration
}

// Option configures a Server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithTwilioWebhook mounts h on POST /webhooks/twilio.
func WithTwilioWebhook(h http.Handler) Option {
	return func(o *Opts) { o.TwilioWebhook = h }
}

// WithMetricsHandler mounts h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(o *Opts) { o.Metrics = h }
}

// WithProviderStatus exposes provider state on GET /providers.
func WithProviderStatus(p ProviderStatusSource) Option {
	return func(o *Opts) { o.Providers = p }
}

// WithHistory records operator messages sent through POST /send.
func WithHistory(h HistoryRecorder) Option {
	return func(o *Opts) { o.History = h }
}

// Server is the operator HTTP API.
type Server struct {
	transfers TransferService
	delivery  DeliveryService
	opts      Opts
	router    *mux.Router
	srv       *http.Server
}

// NewServer creates a Server and registers its routes.
func NewServer(transfers TransferService, delivery DeliveryService, opts ...Option) *Server {
	o := Opts{Addr: DefaultAddr, SendTimeout: 30 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	s := &Server{transfers: transfers, delivery: delivery, opts: o}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)

	r.HandleFunc("/transfers", s.listTransfersHandler).Methods(http.MethodGet)
	r.HandleFunc("/transfers/{id}", s.getTransferHandler).Methods(http.MethodGet)
	r.HandleFunc("/transfers/{id}/events", s.transferEventsHandler).Methods(http.MethodGet)
	r.HandleFunc("/transfers/{id}/assign", s.assignTransferHandler).Methods(http.MethodPost)
	r.HandleFunc("/transfers/{id}/complete", s.completeTransferHandler).Methods(http.MethodPost)
	r.HandleFunc("/transfers/{id}/cancel", s.cancelTransferHandler).Methods(http.MethodPost)

	r.HandleFunc("/delivery/status", s.deliveryStatusHandler).Methods(http.MethodGet)
	r.HandleFunc("/delivery/sticky", s.clearStickyHandler).Methods(http.MethodDelete)
	r.HandleFunc("/delivery/sticky/{chat}", s.resetStickyHandler).Methods(http.MethodDelete)
	r.HandleFunc("/send", s.sendHandler).Methods(http.MethodPost)

	if s.opts.Providers != nil {
		r.HandleFunc("/providers", s.providersHandler).Methods(http.MethodGet)
	}
	if s.opts.TwilioWebhook != nil {
		r.Handle("/webhooks/twilio", s.opts.TwilioWebhook).Methods(http.MethodPost)
	}
	if s.opts.Metrics != nil {
		r.Handle("/metrics", s.opts.Metrics).Methods(http.MethodGet)
	}

	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Not found"))
	})
	return r
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: API listening", "addr", s.opts.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	slog.Info("Server.Run: shutting down API")
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("API shutdown failed: %w", err)
	}
	return nil
}
