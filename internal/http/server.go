package http

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"stablewatch/internal/analytics"
	"stablewatch/internal/auth"
	"stablewatch/internal/cache"
	"stablewatch/internal/core"
	"stablewatch/internal/log"
	"stablewatch/internal/middleware/ratelimit"
	"stablewatch/internal/middleware/security"
	"stablewatch/internal/middleware/trace"
	"stablewatch/internal/ports"
	"stablewatch/internal/services"
	appweb "stablewatch/web"
)

// Ingester accepts manually submitted batches.
type Ingester interface {
	Ingest(ctx context.Context, txs []core.Transaction) (services.IngestResult, error)
}

// Config holds the tunables of the HTTP surface.
type Config struct {
	Addr string
	// DashboardWindow bounds the headline counters of /api/dashboard-data.
	DashboardWindow time.Duration
	// TransactionsLimit is how many recent transactions feed the analytics
	// and the default page size of /api/transactions.
	TransactionsLimit int
	AnalyticsTTL      time.Duration
	// Location is the zone used for hour and weekday bucketing.
	Location        *time.Location
	BlockSuspicious bool
}

// Deps are the collaborators the server delegates to. Ready may be nil.
type Deps struct {
	Store    ports.Store
	Ingester Ingester
	Auth     *auth.Authenticator
	Caches   *cache.Manager
	Ready    func(context.Context) error
	Logger   *log.Logger
}

const (
	analyticsCacheName = "analytics"
	recentRows         = 20
)

type Server struct {
	http.Server
	cfg       Config
	store     ports.Store
	ingester  Ingester
	auth      *auth.Authenticator
	ready     func(context.Context) error
	templates *template.Template
	logger    *log.Logger
	now       func() time.Time

	analyticsCache *cache.LRUCache[analytics.Result]
	apiLimiter     *ratelimit.Limiter
	loginLimiter   *ratelimit.Limiter
	detector       *security.Detector
	tracer         *trace.Middleware

	shutdownOnce sync.Once
}

var templateFuncs = template.FuncMap{
	"currency":  core.FormatCurrency,
	"short":     core.ShortenAddress,
	"dateLabel": core.FormatDateLabel,
	"fillClass": fillClass,
}

func NewServer(cfg Config, deps Deps) (*Server, error) {
	if deps.Store == nil || deps.Ingester == nil || deps.Auth == nil {
		return nil, errors.New("http: store, ingester and authenticator are required")
	}
	if deps.Logger == nil {
		deps.Logger = log.New(log.DefaultConfig())
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.TransactionsLimit <= 0 {
		cfg.TransactionsLimit = 500
	}
	if cfg.DashboardWindow <= 0 {
		cfg.DashboardWindow = 24 * time.Hour
	}
	if cfg.AnalyticsTTL <= 0 {
		cfg.AnalyticsTTL = 30 * time.Second
	}

	t, err := template.New("").Funcs(templateFuncs).ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	logger := deps.Logger.WithComponent(log.ComponentHTTP)
	detector := security.NewDetector()
	detector.SetBlocking(cfg.BlockSuspicious)

	s := &Server{
		cfg:            cfg,
		store:          deps.Store,
		ingester:       deps.Ingester,
		auth:           deps.Auth,
		ready:          deps.Ready,
		templates:      t,
		logger:         logger,
		now:            time.Now,
		analyticsCache: cache.NewLRUCache[analytics.Result](16, cfg.AnalyticsTTL),
		apiLimiter:     ratelimit.NewLimiter(ratelimit.DefaultConfig()),
		loginLimiter:   ratelimit.NewLimiter(ratelimit.LoginConfig()),
		detector:       detector,
		tracer:         trace.NewMiddleware(detector.ExtractClientIP, deps.Logger),
	}
	if deps.Caches != nil {
		deps.Caches.Register(analyticsCacheName, s.analyticsCache)
	}

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		mux.Handle("GET /static/", security.StaticAssetMiddleware(3600)(static))
		mux.Handle("GET /static/palette.css", security.StaticAssetMiddleware(3600)(http.HandlerFunc(handlePaletteCSS)))
	} else {
		s.logger.Warn("Failed to mount embedded static FS", log.FieldError, err.Error())
	}

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	page := s.auth.Middleware(redirectToLogin)
	mux.Handle("GET /{$}", page(http.HandlerFunc(s.handleIndex)))
	mux.HandleFunc("GET /login", s.handleLoginPage)
	mux.Handle("POST /login", s.loginLimited(http.HandlerFunc(s.handleLoginForm)))
	mux.HandleFunc("POST /logout", s.handleLogout)

	mux.Handle("POST /api/login", s.loginLimited(http.HandlerFunc(s.handleAPILogin)))

	api := func(h http.HandlerFunc) http.Handler {
		return chain(h,
			security.NoStore,
			s.apiLimiter.Middleware(s.detector.ExtractClientIP, nil),
			s.auth.Middleware(writeUnauthorized),
		)
	}
	mux.Handle("GET /api/dashboard-data", api(s.handleDashboardData))
	mux.Handle("GET /api/transactions", api(s.handleListTransactions))
	mux.Handle("POST /api/transactions", api(s.handleIngestTransactions))
	mux.Handle("GET /api/analytics", api(s.handleAnalytics))

	return chain(mux,
		s.tracer.Middleware,
		s.detector.Middleware,
		security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware,
	)
}

func (s *Server) loginLimited(h http.Handler) http.Handler {
	return s.loginLimiter.Middleware(s.detector.ExtractClientIP, nil)(h)
}

// Shutdown gracefully shuts down the server and its background routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.apiLimiter.Stop()
		s.loginLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// Close releases background routines without waiting for connections.
// Tests use it in place of Shutdown.
func (s *Server) Close() error {
	s.apiLimiter.Stop()
	s.loginLimiter.Stop()
	return s.Server.Close()
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			log.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", log.FieldError, err.Error())
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// analytics returns the aggregate views over the most recent transactions,
// served from cache while fresh. A result read before an ingest cleared the
// cache is returned but not cached.
func (s *Server) analytics(ctx context.Context) (analytics.Result, error) {
	gen := s.analyticsCache.Generation()
	if res, ok := s.analyticsCache.Get(analyticsCacheName); ok {
		return res, nil
	}
	txs, err := s.store.ListTransactions(ctx, s.cfg.TransactionsLimit)
	if err != nil {
		return analytics.Result{}, fmt.Errorf("list transactions: %w", err)
	}
	if txs == nil {
		txs = []core.Transaction{}
	}
	res := analytics.AggregateIn(txs, s.cfg.Location)
	s.analyticsCache.SetIfCurrent(analyticsCacheName, res, gen)
	return res, nil
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request) {
	UnauthorizedError("authentication required").
		Header("WWW-Authenticate", `Bearer realm="stablewatch"`).
		Write(w, r)
}

func redirectToLogin(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}
