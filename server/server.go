package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/gorilla/mux"

	"github.com/bumperworks/preorders/internal/config"
	"github.com/bumperworks/preorders/internal/handlers"
)

type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	handlers   *handlers.Handlers
	httpServer *http.Server
}

func New(cfg *config.Config, logger *slog.Logger, h *handlers.Handlers) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if h == nil {
		return nil, fmt.Errorf("handlers are required")
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		handlers: h,
	}

	sentryHandler := sentryhttp.New(sentryhttp.Options{Repanic: true})
	s.httpServer = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           sentryHandler.Handle(s.buildRouter()),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		// Diagnostic runs contact and deliver to a third party before answering.
		WriteTimeout:   90 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	return s, nil
}

func (s *Server) Run() error {
	s.logger.Info("server starting", "port", s.cfg.Port)

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Close(ctx context.Context) error {
	if s == nil || s.httpServer == nil {
		return nil
	}

	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) buildRouter() *mux.Router {
	h := s.handlers

	r := mux.NewRouter()
	r.Use(h.RequestLogger)
	r.Use(h.MetricsContext)
	r.Use(h.SecurityHeaders)
	r.NotFoundHandler = http.HandlerFunc(h.NotFound)

	r.HandleFunc("/health", h.Health).Methods("GET").Name("health")
	r.HandleFunc("/webhooks/stripe", h.StripeWebhook).Methods("POST").Name("webhooks.stripe")

	adminRouter := r.PathPrefix("/admin").Subrouter()
	adminRouter.Use(h.RequireAdminToken)
	adminRouter.HandleFunc("/webhook-settings", h.GetWebhookSettings).Methods("GET").Name("admin.webhook_settings")
	adminRouter.HandleFunc("/webhook-settings", h.UpdateWebhookSettings).Methods("PUT").Name("admin.webhook_settings.update")
	adminRouter.HandleFunc("/orders/{orderNumber}/payment-link", h.CreatePaymentLink).Methods("POST").Name("admin.orders.payment_link")
	adminRouter.HandleFunc("/orders/{orderNumber}/notify", h.NotifyOrder).Methods("POST").Name("admin.orders.notify")
	adminRouter.HandleFunc("/orders/{orderNumber}/deliveries", h.ListDeliveries).Methods("GET").Name("admin.orders.deliveries")
	adminRouter.HandleFunc("/orders/{orderNumber}/items", h.UpdateOrderItems).Methods("PUT").Name("admin.orders.items")
	adminRouter.HandleFunc("/diagnostics/history", h.DiagnosticHistory).Methods("GET").Name("admin.diagnostics.history")
	adminRouter.HandleFunc("/diagnostics/sessions/{id}", h.DiagnosticSession).Methods("GET").Name("admin.diagnostics.session")
	adminRouter.HandleFunc("/diagnostics/sessions/{id}", h.DeleteDiagnosticSession).Methods("DELETE").Name("admin.diagnostics.session.delete")
	adminRouter.HandleFunc("/diagnostics/{orderNumber}", h.RunDiagnostics).Methods("POST").Name("admin.diagnostics.run")

	internalRouter := r.PathPrefix("/internal").Subrouter()
	internalRouter.Use(h.RequireAdminToken)
	internalRouter.HandleFunc("/webhooks/queue/process", h.ProcessWebhookQueue).Methods("POST").Name("internal.webhooks.queue")

	return r
}
