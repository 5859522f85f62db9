package server

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"arrayledger/core"
	"arrayledger/services/ledgerd/journal"
	"arrayledger/services/ledgerd/middleware"
)

// AdminScope must be present on tokens that call the admin routes.
const AdminScope = "admin"

// Config captures the dependencies required to construct the server.
type Config struct {
	Ledger    *core.Ledger
	Journal   *journal.Journal
	Hub       *Hub
	Logger    *slog.Logger
	Auth      middleware.AuthConfig
	RateLimit middleware.RateLimit
}

// Server exposes the ledger over HTTP.
type Server struct {
	ledger  *core.Ledger
	journal *journal.Journal
	hub     *Hub
	logger  *slog.Logger

	// idempotent serialises requests carrying an Idempotency-Key so a key is
	// looked up and recorded around exactly one execution.
	idempotent sync.Mutex

	router http.Handler
}

// New constructs the router with authentication, rate limiting and tracing.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Hub == nil {
		cfg.Hub = NewHub()
	}
	srv := &Server{
		ledger:  cfg.Ledger,
		journal: cfg.Journal,
		hub:     cfg.Hub,
		logger:  cfg.Logger,
	}
	cfg.Auth.OptionalPaths = append(cfg.Auth.OptionalPaths, "/v1/vaults", "/v1/protocols", "/v1/program")
	srv.router = srv.buildRouter(cfg)
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter(cfg Config) http.Handler {
	auth := middleware.NewAuthenticator(cfg.Auth, s.logger)
	limiter := middleware.NewRateLimiter(cfg.RateLimit, s.logger)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Observe(s.logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Group(func(public chi.Router) {
			public.Use(auth.Middleware(), limiter.Middleware)
			public.Get("/vaults", s.ListVaults)
			public.Get("/vaults/{index}", s.GetVault)
			public.Get("/vaults/{index}/audit", s.AuditVault)
			public.Get("/protocols", s.ListProtocols)
			public.Get("/program", s.GetProgram)
		})
		api.Group(func(protected chi.Router) {
			protected.Use(auth.Middleware(), limiter.Middleware)
			protected.Post("/users", s.CreateUser)
			protected.Get("/users/{owner}", s.GetUser)
			protected.Post("/users/{owner}/delegate", s.SetDelegate)
			protected.Get("/users/{owner}/vaults/{index}", s.GetUserTokenVault)
			protected.Get("/balances/{owner}/{mint}", s.GetBalance)
			protected.Post("/positions/open", s.OpenPosition)
			protected.Post("/positions/deposit", s.Deposit)
			protected.Post("/positions/withdraw", s.Withdraw)
			protected.Post("/positions/close", s.ClosePosition)
			protected.Get("/journal", s.ListJournal)
			protected.Get("/events/ws", s.StreamEvents)
		})
		api.Group(func(admin chi.Router) {
			admin.Use(auth.Middleware(AdminScope), limiter.Middleware)
			admin.Post("/admin/vaults", s.RegisterVault)
			admin.Post("/admin/credit", s.Credit)
		})
	})
	return otelhttp.NewHandler(r, "ledgerd")
}
