package server

import (
	"log/slog"
	"net/http"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing. End-user
// authentication is handled upstream; the webhook ingress authenticates
// deliveries itself via HMAC signatures.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	// Register routes with method-based patterns (Go 1.22+)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /v1/videos", h.SubmitVideo)
	mux.HandleFunc("GET /v1/videos/{id}", h.GetVideo)
	mux.HandleFunc("POST /v1/videos/{id}/cancel", h.CancelVideo)
	mux.HandleFunc("GET /v1/videos/{id}/events", h.VideoEvents)
	mux.HandleFunc("GET /v1/providers", h.Providers)
	mux.HandleFunc("POST /webhooks/{provider}", h.ProviderWebhook)

	// Apply middleware chain
	chain := ChainMiddleware(
		RecoveryMiddleware(logger),
		RequestIDMiddleware(),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}
