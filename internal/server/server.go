// Package server implements the HTTP server and routing for pocali.
package server

import (
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yawon3/pocali-backend/internal/catalog"
	"github.com/yawon3/pocali-backend/internal/logging"
	"github.com/yawon3/pocali-backend/internal/metrics"
	"github.com/yawon3/pocali-backend/internal/social"
	"github.com/yawon3/pocali-backend/web"
)

// Options holds optional configuration for the Server.
type Options struct {
	// AdminPassword is the shared admin password. AdminPasswordHash, a
	// bcrypt hash, wins when both are set. If both are empty, the admin
	// pages are open (useful for development).
	AdminPassword     string
	AdminPasswordHash string

	// CookieSecure and CookieSameSite apply to the user identity cookie.
	CookieSecure   bool
	CookieSameSite http.SameSite

	// CORSOrigins lists the browser origins allowed to call the API with
	// credentials. Empty disables CORS handling.
	CORSOrigins []string

	// PublicURL is the scheme and host absolute links are built from.
	// When empty, the request's Host is used.
	PublicURL string

	// ImagesPrefix is the path locally stored images are served under when
	// the catalog backend has a local file system. Defaults to "/static/images".
	ImagesPrefix string

	// LoginRateLimit is the number of admin login attempts allowed per
	// client IP per minute. Defaults to 10.
	LoginRateLimit int

	// Templates holds templates/*.html. Defaults to the embedded web.FS.
	Templates fs.FS
}

// Server is the HTTP server for the card catalog and the social API.
type Server struct {
	router    *mux.Router
	handler   http.Handler
	catalog   *catalog.Catalog
	store     social.Store
	admin     *adminAuth
	sessions  *sessionStore
	templates *template.Template
	opts      Options
}

// New creates and configures a new Server. Uploads are enabled when the
// catalog backend accepts them; locally stored images are served when the
// backend has a file system.
func New(cat *catalog.Catalog, store social.Store, opts Options) (*Server, error) {
	if opts.ImagesPrefix == "" {
		opts.ImagesPrefix = "/static/images"
	}
	if opts.LoginRateLimit <= 0 {
		opts.LoginRateLimit = 10
	}
	if opts.Templates == nil {
		opts.Templates = web.FS
	}

	tmpl, err := template.ParseFS(opts.Templates, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	s := &Server{
		router:    mux.NewRouter(),
		catalog:   cat,
		store:     store,
		admin:     newAdminAuth(opts.AdminPassword, opts.AdminPasswordHash),
		sessions:  newSessionStore(),
		templates: tmpl,
		opts:      opts,
	}
	s.registerRoutes()

	var h http.Handler = s.metricsMiddleware(s.router)
	if len(opts.CORSOrigins) > 0 {
		h = cors.Handler(cors.Options{
			AllowedOrigins:   opts.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		})(h)
	}
	s.handler = logging.Middleware(h)
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// registerRoutes sets up all endpoint routes.
func (s *Server) registerRoutes() {
	r := s.router

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// JSON API used by the front end
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/user/{uid}", s.handleGetUser).Methods(http.MethodGet)
	api.HandleFunc("/user/{uid}", s.handleSaveUser).Methods(http.MethodPost)
	api.HandleFunc("/user/{uid}/lock", s.handleLockUser).Methods(http.MethodPost)
	api.HandleFunc("/friends", s.handleAddFriend).Methods(http.MethodPost)
	api.HandleFunc("/friends/{uid}", s.handleFriends).Methods(http.MethodGet)
	api.HandleFunc("/friend/{fid}/collection", s.handleFriendCollection).Methods(http.MethodGet)
	api.HandleFunc("/images", s.handleImages).Methods(http.MethodGet)

	// Admin pages
	limitLogin := httprate.Limit(s.opts.LoginRateLimit, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusTooManyRequests, "too many login attempts")
		}),
	)
	r.HandleFunc("/admin/login", s.handleAdminLoginPage).Methods(http.MethodGet)
	r.Handle("/admin/login", limitLogin(http.HandlerFunc(s.handleAdminLoginPost))).Methods(http.MethodPost)
	r.HandleFunc("/admin/logout", s.handleAdminLogout).Methods(http.MethodGet, http.MethodPost)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(s.requireAdmin)
	admin.HandleFunc("/upload", s.handleUploadPage).Methods(http.MethodGet)
	admin.HandleFunc("/upload", s.handleUpload).Methods(http.MethodPost)

	// Locally stored images
	if files, ok := s.catalog.FileSystem(); ok {
		prefix := strings.TrimRight(s.opts.ImagesPrefix, "/") + "/"
		r.PathPrefix(prefix).Handler(http.StripPrefix(prefix, http.FileServer(noDirListing{files}))).
			Methods(http.MethodGet, http.MethodHead)
	}

	r.HandleFunc("/feed.atom", s.handleFeed).Methods(http.MethodGet)
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
}

// metricsMiddleware counts requests by route template. Requests no route
// matches are counted as "unmatched".
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := "unmatched"
		var m mux.RouteMatch
		if s.router.Match(r, &m) && m.MatchErr == nil && m.Route != nil {
			if tpl, err := m.Route.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		sw := &logging.StatusWriter{ResponseWriter: w, Status: http.StatusOK}
		next.ServeHTTP(sw, r)
		metrics.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(sw.Status)).Inc()
	})
}

// noDirListing hides directory indexes from http.FileServer.
type noDirListing struct {
	fs http.FileSystem
}

func (n noDirListing) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}
	if st, err := f.Stat(); err == nil && st.IsDir() {
		f.Close()
		return nil, fs.ErrNotExist
	}
	return f, nil
}
