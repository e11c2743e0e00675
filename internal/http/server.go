// Package http exposes the REST API, the public signing pages and the
// signature event stream.
package http

import (
	"context"
	"errors"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"sync"
	"time"

	"folhaponto/internal/auth"
	"folhaponto/internal/core"
	"folhaponto/internal/events"
	"folhaponto/internal/log"
	authmw "folhaponto/internal/middleware/auth"
	"folhaponto/internal/middleware/ratelimit"
	"folhaponto/internal/middleware/security"
	"folhaponto/internal/middleware/trace"
	"folhaponto/internal/services"
	"folhaponto/internal/signing"
	appweb "folhaponto/web"
)

const apiPrefix = "/api/v1"

// Deps are the services behind the routes. Ready, when set, backs /readyz.
type Deps struct {
	Employees *services.EmployeeService
	Fichas    *services.FichaService
	Signing   *signing.Manager
	Auth      *auth.Service
	Broker    *events.Broker
	Ready     func(context.Context) error
	Logger    *log.Logger
}

// Options tune the transport. Zero values pick the defaults.
type Options struct {
	Addr           string
	RateLimit      int
	AllowedOrigins []string
	TrustedProxies []string
	SecureCookies  bool
	// EventKeepAlive is the interval of SSE comment frames.
	EventKeepAlive time.Duration
	ImageNormalize func(string) (string, error)
}

type Server struct {
	http.Server

	employees *services.EmployeeService
	fichas    *services.FichaService
	signing   *signing.Manager
	auth      *auth.Service
	broker    *events.Broker
	ready     func(context.Context) error
	normalize func(string) (string, error)

	templates  *template.Template
	limiter    *ratelimit.Limiter
	detector   *security.Detector
	tracer     *trace.Middleware
	logger     *log.Logger
	structured *log.StructuredLogger

	secureCookies bool
	keepAlive     time.Duration
	startedAt     time.Time
	shutdownOnce  sync.Once
}

// NewServer wires routes and middleware, returning a ready-to-run server.
func NewServer(opts Options, deps Deps) (*Server, error) {
	if deps.Employees == nil || deps.Fichas == nil || deps.Signing == nil || deps.Auth == nil {
		return nil, errors.New("http: employees, fichas, signing and auth are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.FromContext(context.Background())
	}
	broker := deps.Broker
	if broker == nil {
		broker = events.NewBroker(0)
	}
	keepAlive := opts.EventKeepAlive
	if keepAlive <= 0 {
		keepAlive = 25 * time.Second
	}
	normalize := opts.ImageNormalize
	if normalize == nil {
		normalize = func(v string) (string, error) { return v, nil }
	}

	tmpl, err := template.ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	detector := security.NewDetector(logger)
	for _, cidr := range opts.TrustedProxies {
		if err := detector.AddTrustedProxy(cidr); err != nil {
			return nil, err
		}
	}

	s := &Server{
		employees:     deps.Employees,
		fichas:        deps.Fichas,
		signing:       deps.Signing,
		auth:          deps.Auth,
		broker:        broker,
		ready:         deps.Ready,
		normalize:     normalize,
		templates:     tmpl,
		limiter:       ratelimit.NewLimiter(ratelimit.Config{Requests: opts.RateLimit}),
		detector:      detector,
		tracer:        trace.NewMiddleware(detector.ExtractClientIP),
		logger:        logger.WithComponent(log.ComponentHTTP),
		structured:    log.NewStructuredLogger(logger),
		secureCookies: opts.SecureCookies,
		keepAlive:     keepAlive,
		startedAt:     time.Now(),
	}

	headersCfg := security.DefaultHeadersConfig()
	headersCfg.AllowedOrigins = opts.AllowedOrigins
	headers := security.NewHeadersMiddleware(headersCfg)

	var handler http.Handler = s.routes()
	handler = detector.Middleware(handler)
	handler = headers.Middleware(handler)
	handler = log.RequestIDMiddleware(func(r *http.Request) string { return trace.GetRequestID(r.Context()) })(handler)
	handler = log.Middleware(logger)(handler)
	handler = s.tracer.Middleware(handler)

	s.Server = http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		mux.Handle("GET /static/", security.StaticAssetMiddleware(3600)(static))
	} else {
		s.logger.Warn("Failed to mount embedded static FS", log.FieldError, err)
	}

	mux.Handle("GET /assinar/{token}", s.limited(s.handleSignPage))
	mux.Handle("GET /assinar-gestor/{code}", s.limited(s.handleManagerSignPage))

	mux.Handle("POST "+apiPrefix+"/auth/register", s.admin(s.handleRegister))
	mux.Handle("POST "+apiPrefix+"/auth/login", s.limited(s.handleLogin))
	mux.Handle("POST "+apiPrefix+"/auth/refresh", s.limited(s.handleRefresh))
	mux.HandleFunc("POST "+apiPrefix+"/auth/logout", s.handleLogout)
	mux.Handle("GET "+apiPrefix+"/auth/me", s.authed(s.handleMe))

	mux.Handle("POST "+apiPrefix+"/empregados", s.admin(s.handleCreateEmployee))
	mux.Handle("GET "+apiPrefix+"/empregados", s.admin(s.handleListEmployees))
	mux.Handle("GET "+apiPrefix+"/empregados/{id}", s.admin(s.handleGetEmployee))
	mux.Handle("PUT "+apiPrefix+"/empregados/{id}", s.admin(s.handleUpdateEmployee))
	mux.Handle("DELETE "+apiPrefix+"/empregados/{id}", s.admin(s.handleDeleteEmployee))
	mux.Handle("PUT "+apiPrefix+"/empregados/{id}/assinatura-gestor", s.admin(s.handleEmployeeManagerSignature))

	mux.Handle(apiPrefix+"/fichas", http.HandlerFunc(s.dispatchFichaCollection))
	mux.Handle(apiPrefix+"/fichas/", http.HandlerFunc(s.dispatchFicha))

	mux.Handle("POST "+apiPrefix+"/config/assinatura-gestor/link", s.admin(s.handleManagerLink))
	mux.Handle("POST "+apiPrefix+"/config/assinatura-gestor/salvar", s.limited(s.handleManagerSave))
	mux.Handle("GET "+apiPrefix+"/config/assinatura-gestor", s.admin(s.handleGetManagerSignature))
	mux.Handle("PUT "+apiPrefix+"/config/assinatura-gestor", s.admin(s.handlePutManagerSignature))

	mux.Handle("POST "+apiPrefix+"/manutencao/limpar-fichas", s.admin(s.handleSweep))

	return mux
}

// dispatchFichaCollection serves /fichas.
func (s *Server) dispatchFichaCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.admin(s.handleListFichas).ServeHTTP(w, r)
	case http.MethodPost:
		s.admin(s.handleCreateFicha).ServeHTTP(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

// dispatchFicha routes the /fichas/ subtree. Its public token routes share
// their shape with the per-ficha routes, which ServeMux patterns cannot
// express without conflicts.
func (s *Server) dispatchFicha(w http.ResponseWriter, r *http.Request) {
	segs := pathSegments(r.URL.Path, apiPrefix+"/fichas/")
	route := func(method string, h http.Handler) {
		if r.Method != method {
			methodNotAllowed(w, method)
			return
		}
		h.ServeHTTP(w, r)
	}

	switch len(segs) {
	case 1:
		r.SetPathValue("id", segs[0])
		switch r.Method {
		case http.MethodGet:
			s.admin(s.handleGetFicha).ServeHTTP(w, r)
		case http.MethodPut:
			s.admin(s.handleUpdateFicha).ServeHTTP(w, r)
		case http.MethodDelete:
			s.admin(s.handleDeleteFicha).ServeHTTP(w, r)
		default:
			methodNotAllowed(w, http.MethodGet, http.MethodPut, http.MethodDelete)
		}
		return
	case 2:
		switch segs[0] {
		case "por-token":
			r.SetPathValue("token", segs[1])
			route(http.MethodGet, s.limited(s.handleFichaByToken))
			return
		case "assinar":
			r.SetPathValue("token", segs[1])
			route(http.MethodPost, s.limited(s.handleSignFicha))
			return
		case "funcionario":
			r.SetPathValue("id", segs[1])
			route(http.MethodGet, s.admin(s.handleListFichasForEmployee))
			return
		}
		r.SetPathValue("id", segs[0])
		switch segs[1] {
		case "header":
			route(http.MethodPut, s.admin(s.handleUpdateFichaHeader))
			return
		case "gerar-link-assinatura":
			route(http.MethodPost, s.admin(s.handleIssueLink))
			return
		case "export.xlsx":
			route(http.MethodGet, s.admin(s.handleExportFicha))
			return
		case "eventos":
			route(http.MethodGet, s.admin(s.handleFichaEvents))
			return
		}
	}
	writeError(w, http.StatusNotFound, "Rota não encontrada")
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	for _, m := range allowed {
		w.Header().Add("Allow", m)
	}
	writeError(w, http.StatusMethodNotAllowed, "Método não permitido")
}

func (s *Server) authed(h http.HandlerFunc) http.Handler {
	return authmw.Required(s.auth)(h)
}

func (s *Server) admin(h http.HandlerFunc) http.Handler {
	return authmw.Required(s.auth)(authmw.RequireRole(core.RoleAdmin)(h))
}

// limited applies the per-client rate limit. The key includes the path so
// that signing retries do not consume the login budget.
func (s *Server) limited(h http.HandlerFunc) http.Handler {
	key := func(r *http.Request) string {
		return s.detector.ExtractClientIP(r) + " " + routeGroup(r.URL.Path)
	}
	onLimit := func(w http.ResponseWriter, r *http.Request) {
		s.logger.WarnContext(r.Context(), "Rate limit exceeded",
			log.FieldClientIP, s.detector.ExtractClientIP(r), log.FieldPath, r.URL.Path)
		writeError(w, http.StatusTooManyRequests, "Muitas requisições. Tente novamente em instantes.")
	}
	return s.limiter.Middleware(key, onLimit)(h)
}

func routeGroup(path string) string {
	if strings.HasPrefix(path, apiPrefix+"/auth/") {
		return "auth"
	}
	return "signing"
}

// Shutdown stops background goroutines and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}
