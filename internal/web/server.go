// Package web serves a local dashboard of the operation history.
package web

import (
	"context"
	"crypto/rand"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/csrf"
	"go.uber.org/zap"

	"github.com/hme-tools/hme/internal/history"
)

//go:embed templates/*
var templatesFS embed.FS

const (
	defaultRateLimit  = 30
	defaultRateWindow = time.Minute
	recentLimit       = 20
)

// HistoryStore is the part of the history the dashboard reads and clears.
type HistoryStore interface {
	RecentOperations(limit int) ([]history.Operation, error)
	Operation(id string) (*history.Operation, error)
	Aliases(opID string) ([]history.ProcessedAlias, error)
	Stats() (history.Stats, error)
	Clear() error
}

type Server struct {
	store       HistoryStore
	templates   map[string]*template.Template
	httpServer  *http.Server
	port        int
	csrfKey     []byte
	rateLimiter *RateLimiter
	log         *zap.Logger
}

func NewServer(port int, store HistoryStore, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	csrfKey := make([]byte, 32)
	if _, err := rand.Read(csrfKey); err != nil {
		return nil, fmt.Errorf("failed to generate CSRF key: %w", err)
	}

	s := &Server{
		store:       store,
		port:        port,
		csrfKey:     csrfKey,
		rateLimiter: NewRateLimiter(defaultRateLimit, defaultRateWindow),
		log:         log,
	}

	tmpl, err := parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	s.templates = tmpl
	return s, nil
}

// parseTemplates gives each page its own set so "content" blocks do not
// collide.
func parseTemplates() (map[string]*template.Template, error) {
	funcs := template.FuncMap{
		"formatTime": func(t time.Time) string {
			if t.IsZero() {
				return "-"
			}
			return t.Format("Jan 2, 2006 3:04 PM")
		},
		"duration": func(d time.Duration) string {
			if d <= 0 {
				return "-"
			}
			return d.Round(time.Second).String()
		},
		"add": func(a, b int) int {
			return a + b
		},
	}

	layout, err := templatesFS.ReadFile("templates/layout.html")
	if err != nil {
		return nil, fmt.Errorf("failed to read layout template: %w", err)
	}

	templates := make(map[string]*template.Template)
	err = fs.WalkDir(templatesFS, "templates", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || path == "templates/layout.html" || !strings.HasSuffix(path, ".html") {
			return nil
		}
		content, err := templatesFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read template %s: %w", path, err)
		}

		name := path[len("templates/"):]
		page := template.New(name).Funcs(funcs)
		if _, err := page.Parse(string(layout)); err != nil {
			return fmt.Errorf("failed to parse layout for %s: %w", name, err)
		}
		if _, err := page.Parse(string(content)); err != nil {
			return fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		templates[name] = page
		return nil
	})
	if err != nil {
		return nil, err
	}
	return templates, nil
}

// Handler returns the router with all middleware.
func (s *Server) Handler() http.Handler {
	return s.setupRouter()
}

// Start serves on localhost until Shutdown. When open is set the default
// browser is pointed at the dashboard.
func (s *Server) Start(open bool) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", s.port),
		Handler:      s.setupRouter(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	url := fmt.Sprintf("http://localhost:%d", s.port)
	if open {
		go func() {
			time.Sleep(500 * time.Millisecond)
			openBrowser(url)
		}()
	}

	fmt.Printf("📊 History dashboard at %s\n", url)
	fmt.Println("Press Ctrl+C to stop")
	s.log.Info("dashboard started", zap.Int("port", s.port))

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(plaintextHTTP)

	r.Use(csrf.Protect(
		s.csrfKey,
		csrf.Secure(false), // served over plain HTTP on localhost
		csrf.Path("/"),
		csrf.HttpOnly(true),
		csrf.SameSite(csrf.SameSiteLaxMode),
		csrf.RequestHeader("X-CSRF-Token"),
		csrf.TrustedOrigins([]string{"localhost", "127.0.0.1", fmt.Sprintf("localhost:%d", s.port), fmt.Sprintf("127.0.0.1:%d", s.port)}),
	))

	r.Get("/", s.handleDashboard)
	r.Get("/operations/{id}", s.handleOperation)
	r.With(s.rateLimit).Post("/history/clear", s.handleClearHistory)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Get("/operations", s.handleAPIOperations)
		r.Get("/stats", s.handleAPIStats)
	})

	return r
}

// plaintextHTTP tells the CSRF middleware the dashboard is not behind TLS.
func plaintextHTTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, csrf.PlaintextHTTPRequest(r))
	})
}

// securityHeaders adds security headers to all responses
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		csp := "default-src 'self'; " +
			"style-src 'self' 'unsafe-inline'; " +
			"img-src 'self' data:; " +
			"frame-ancestors 'none'; " +
			"form-action 'self'; " +
			"base-uri 'self'"
		w.Header().Set("Content-Security-Policy", csp)

		// Addresses are personal data; never cache them.
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=(), payment=()")

		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !s.rateLimiter.Allow(host) {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// openBrowser opens the default browser to the specified URL
func openBrowser(url string) {
	var cmd string
	var args []string

	switch runtime.GOOS {
	case "darwin":
		cmd = "open"
		args = []string{url}
	case "linux":
		cmd = "xdg-open"
		args = []string{url}
	case "windows":
		cmd = "cmd"
		args = []string{"/c", "start", url}
	default:
		return
	}

	exec.Command(cmd, args...).Start()
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats()
	if err != nil {
		s.serverError(w, err)
		return
	}
	ops, err := s.store.RecentOperations(recentLimit)
	if err != nil {
		s.serverError(w, err)
		return
	}

	s.renderWithCSRF(w, r, "dashboard.html", map[string]interface{}{
		"Title":      "Dashboard",
		"Stats":      stats,
		"Operations": ops,
	})
}

func (s *Server) handleOperation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	op, err := s.store.Operation(id)
	if errors.Is(err, history.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.serverError(w, err)
		return
	}
	aliases, err := s.store.Aliases(id)
	if err != nil {
		s.serverError(w, err)
		return
	}

	s.renderWithCSRF(w, r, "operation.html", map[string]interface{}{
		"Title":     "Operation " + shortID(op.ID),
		"Operation": op,
		"Aliases":   aliases,
	})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Clear(); err != nil {
		s.serverError(w, err)
		return
	}
	s.log.Info("history cleared from dashboard")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleAPIOperations(w http.ResponseWriter, r *http.Request) {
	limit := recentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	ops, err := s.store.RecentOperations(limit)
	if err != nil {
		s.serverError(w, err)
		return
	}
	if ops == nil {
		ops = []history.Operation{}
	}
	writeJSON(w, ops)
}

func (s *Server) handleAPIStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats()
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, stats)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *Server) serverError(w http.ResponseWriter, err error) {
	s.log.Error("dashboard request failed", zap.Error(err))
	http.Error(w, "Internal error", http.StatusInternalServerError)
}

func (s *Server) renderWithCSRF(w http.ResponseWriter, r *http.Request, name string, data map[string]interface{}) {
	data["CSRFField"] = csrf.TemplateField(r)

	tmpl, ok := s.templates[name]
	if !ok {
		http.Error(w, "Template not found: "+name, http.StatusInternalServerError)
		return
	}
	if err := tmpl.ExecuteTemplate(w, "layout", data); err != nil {
		http.Error(w, "Template error: "+err.Error(), http.StatusInternalServerError)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
