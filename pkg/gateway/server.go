// Package gateway is the HTTP intake for webhook triggers. Every delivery
// passes the admission pipeline in a fixed order, so a sender always gets the
// same response code for the same defect: paused trigger, wrong content type,
// disallowed source address, stale timestamp, bad signature, replayed
// delivery, malformed payload.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/atlas-fitness/automations/pkg/dedupe"
	"github.com/atlas-fitness/automations/pkg/persistence"
	"github.com/atlas-fitness/automations/pkg/protocol"
	"github.com/atlas-fitness/automations/pkg/registry"
	"github.com/atlas-fitness/automations/pkg/secrets"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	readTimeout        = 30 * time.Second
	writeTimeout       = 30 * time.Second
	idleTimeout        = 60 * time.Second
	shutdownTimeout    = 5 * time.Second
	maxRequestBodySize = 1024 * 1024 // 1MB
)

// Gateway owns the webhook HTTP server.
type Gateway struct {
	server     *http.Server
	port       int
	registry   *registry.Registry
	secrets    *secrets.Manager
	dedupe     dedupe.Store
	deliveries persistence.DeliveryRepository
	dispatcher protocol.Dispatcher
	tracer     trace.Tracer
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	started bool
}

func NewGateway(
	port int,
	reg *registry.Registry,
	secretManager *secrets.Manager,
	dedupeStore dedupe.Store,
	deliveries persistence.DeliveryRepository,
	dispatcher protocol.Dispatcher,
	logger *slog.Logger,
) *Gateway {
	return &Gateway{
		port:       port,
		registry:   reg,
		secrets:    secretManager,
		dedupe:     dedupeStore,
		deliveries: deliveries,
		dispatcher: dispatcher,
		tracer:     noop.NewTracerProvider().Tracer("gateway"),
		logger:     logger.With("module", "gateway", "port", port),
		now:        time.Now,
	}
}

// WithTracer enables span emission around each admission.
func (g *Gateway) WithTracer(tracer trace.Tracer) *Gateway {
	g.tracer = tracer

	return g
}

// Handler returns the gateway's routes; exposed so tests can drive the
// pipeline through httptest without binding a port.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/automations/webhooks/{workflowID}/{nodeID}", g.handleWebhook)
	mux.HandleFunc("POST /api/automations/webhooks/{workflowID}/{nodeID}/rotate-secret", g.handleRotateSecret)
	mux.HandleFunc("GET /health", g.handleHealth)

	return mux
}

// Start begins serving and returns immediately. The server shuts down when
// the context is cancelled.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.started {
		return nil
	}

	g.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", g.port),
		Handler:      g.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	g.started = true
	g.logger.Info("Starting webhook gateway", "addr", g.server.Addr)

	go func() {
		if err := g.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			g.logger.Error("Gateway server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := g.Stop(shutdownCtx); err != nil {
			g.logger.Error("Error during gateway shutdown", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts the server down.
func (g *Gateway) Stop(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.started {
		return nil
	}

	g.logger.Info("Stopping webhook gateway")

	if err := g.server.Shutdown(ctx); err != nil {
		return err
	}

	g.started = false

	return nil
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	g.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": g.now().UTC().Format(time.RFC3339),
	})
}

func (g *Gateway) writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		g.logger.Error("Error encoding response", "error", err)
	}
}

func (g *Gateway) writeError(w http.ResponseWriter, statusCode int, code, message string) {
	g.writeJSON(w, statusCode, map[string]any{
		"status":  "error",
		"code":    code,
		"message": message,
	})
}
