package handler

import (
	"net/http"

	"github.com/webmatic/backend/internal/ratelimit"
	"github.com/webmatic/backend/internal/repository"
	"github.com/webmatic/backend/internal/service"
)

// RouterConfig holds what NewRouter needs to assemble the API.
type RouterConfig struct {
	DB             repository.DB
	ContactService service.ContactService
	// APILimiter throttles every route; nil disables the global throttle.
	APILimiter        ratelimit.Store
	FrontendURL       string
	TrustedProxyCount int
}

// NewRouter constructs the root http.Handler with all routes and middlewares applied.
func NewRouter(cfg RouterConfig) http.Handler {
	h := New(cfg.DB, cfg.FrontendURL)
	contactHandler := NewContactHandler(cfg.ContactService, cfg.TrustedProxyCount)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/{$}", h.Root)
	mux.HandleFunc("GET /api/health", h.Health)
	// No method in the pattern: the contact handler answers other methods
	// with a JSON 405 instead of the mux's plain-text one.
	mux.HandleFunc("/api/contact", contactHandler.Submit)

	var root http.Handler = mux
	if cfg.APILimiter != nil {
		root = ratelimit.Middleware(cfg.APILimiter, cfg.TrustedProxyCount)(root)
	}
	root = h.CORS(root)
	root = SecurityHeaders(root)
	return RequestLogger(cfg.TrustedProxyCount)(root)
}
