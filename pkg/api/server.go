package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/orgkit/pkg/auth"
	"github.com/platinummonkey/orgkit/pkg/authz"
	"github.com/platinummonkey/orgkit/pkg/billing"
	"github.com/platinummonkey/orgkit/pkg/httputil"
	"github.com/platinummonkey/orgkit/pkg/middleware"
	"github.com/platinummonkey/orgkit/pkg/notify"
	"github.com/platinummonkey/orgkit/pkg/observability"
	"github.com/platinummonkey/orgkit/pkg/orgs"
	"github.com/platinummonkey/orgkit/pkg/rbac"
)

// DefaultMaxBodyBytes bounds request bodies when Config.MaxBodyBytes is zero.
const DefaultMaxBodyBytes = 1 << 20

// Config holds the HTTP settings of the server.
type Config struct {
	CORSOrigins     []string
	MaxBodyBytes    int64
	PortalReturnURL string
	// Tracing wraps the handler in an OpenTelemetry server span.
	Tracing bool
}

// Dependencies are the services the server routes to. RateLimit, Metrics,
// Registry and Health are optional.
type Dependencies struct {
	Orgs          *orgs.Service
	Roles         *rbac.Registry
	Permissions   *authz.Resolver
	Tokens        *auth.TokenManager
	Catalog       billing.Catalog
	Subscriptions *billing.SubscriptionResolver
	Checkout      *billing.CheckoutService
	Usage         *billing.UsageReporter
	Webhooks      *billing.WebhookHandler
	Notifications notify.Store

	RateLimit *middleware.RateLimit
	Metrics   *observability.Metrics
	Registry  *prometheus.Registry
	Health    *observability.HealthChecker
	Logger    *observability.Logger
	Clock     clockwork.Clock
}

// Server is the HTTP API.
type Server struct {
	router  *mux.Router
	handler http.Handler
	logger  *observability.Logger
}

// NewServer creates a new API server with all routes registered.
func NewServer(deps Dependencies, config Config) *Server {
	if deps.Logger == nil {
		deps.Logger = observability.NopLogger()
	}
	if config.MaxBodyBytes == 0 {
		config.MaxBodyBytes = DefaultMaxBodyBytes
	}

	s := &Server{
		router: mux.NewRouter(),
		logger: deps.Logger,
	}
	s.setupRoutes(deps, config)

	stack := []func(http.Handler) http.Handler{
		httputil.RequestID,
		httputil.Logging(deps.Logger),
		httputil.Recovery(deps.Logger),
	}
	if len(config.CORSOrigins) > 0 {
		stack = append(stack, httputil.CORSMiddleware(config.CORSOrigins))
	}
	stack = append(stack, httputil.MaxBytesMiddleware(config.MaxBodyBytes))
	s.handler = httputil.Chain(stack...)(s.router)
	if config.Tracing {
		s.handler = otelhttp.NewHandler(s.handler, "orgkit.http")
	}
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes(deps Dependencies, config Config) {
	if deps.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(deps.Metrics))
	}

	// Operational routes
	if deps.Health != nil {
		s.router.HandleFunc("/health/live", deps.Health.Liveness).Methods("GET")
		s.router.HandleFunc("/health/ready", deps.Health.Readiness).Methods("GET")
	}
	if deps.Registry != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(deps.Registry)).Methods("GET")
	}

	authHandlers := NewAuthHandlers(deps.Orgs, deps.Tokens, deps.Permissions)
	orgHandlers := NewOrgHandlers(deps.Orgs, authz.NewPolicy(deps.Permissions), deps.Roles)
	billingHandlers := NewBillingHandlers(
		deps.Orgs,
		deps.Catalog,
		deps.Subscriptions,
		deps.Checkout,
		deps.Usage,
		deps.Webhooks,
		deps.Permissions,
		config.PortalReturnURL,
	)
	notificationHandlers := NewNotificationHandlers(deps.Notifications, deps.Clock)

	// Public routes
	public := s.router.NewRoute().Subrouter()
	if deps.RateLimit != nil {
		public.Use(deps.RateLimit.Handler)
	}
	authHandlers.RegisterPublicRoutes(public)
	billingHandlers.RegisterPublicRoutes(public)

	// Authenticated routes
	private := s.router.NewRoute().Subrouter()
	private.Use(middleware.NewAuthenticator(deps.Tokens, deps.Orgs, deps.Logger).Handler)
	if deps.RateLimit != nil {
		private.Use(deps.RateLimit.Handler)
	}
	authHandlers.RegisterRoutes(private)
	orgHandlers.RegisterRoutes(private)
	billingHandlers.RegisterRoutes(private)
	notificationHandlers.RegisterRoutes(private)
}

// Router returns the underlying router, for registering extra routes.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements the http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
