// Package web serves the kiosk page and the JSON API behind it.
package web

import (
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strings"
	"sync"
	"time"

	"photocal/internal/auth"
	"photocal/internal/display"
	"photocal/internal/events"
	"photocal/internal/ics"
	"photocal/internal/imagecache"
	appLog "photocal/internal/log"
	"photocal/internal/photos"
	"photocal/internal/power"
	"photocal/internal/store"
)

// Deps are the services the API is wired to. Gate may be nil to run without
// sign-in during development.
type Deps struct {
	Store   store.Store
	Events  *events.Service
	Photos  *photos.Service
	Session *display.Session
	Cache   *imagecache.Cache
	Worker  *imagecache.Worker
	Gate    *auth.Gate
	Power   power.Reader
	Feeds   *ics.Fetcher

	FeedList     []ics.Feed
	CalendarName string
	WeekStart    string
	PreviewPath  string
	// CallbackToken authenticates the image processing service on the
	// processed/failed callbacks.
	CallbackToken string
}

type Server struct {
	deps Deps
	mux  *http.ServeMux
	now  func() time.Time

	powerMu    sync.RWMutex
	powerCache *powerCache
}

//go:embed all:static
var embeddedStatic embed.FS

func NewServer(deps Deps) *Server {
	if deps.Power == nil {
		deps.Power = power.Unavailable{}
	}
	if deps.CalendarName == "" {
		deps.CalendarName = "Family"
	}
	s := &Server{deps: deps, mux: http.NewServeMux(), now: time.Now}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	if s.deps.Gate == nil {
		appLog.Warn("web: sign-in disabled; every request is trusted")
		return s.mux
	}
	return s.sessionMiddleware(s.mux)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("POST /api/login", s.handleLogin)
	s.mux.HandleFunc("POST /api/logout", s.handleLogout)

	s.mux.HandleFunc("GET /api/events", s.handleListEvents)
	s.mux.HandleFunc("POST /api/events", s.handleAddEvent)
	s.mux.HandleFunc("GET /api/events/{id}", s.handleGetEvent)
	s.mux.HandleFunc("PUT /api/events/{id}", s.handleUpdateEvent)
	s.mux.HandleFunc("DELETE /api/events/{id}", s.handleDeleteEvent)
	s.mux.HandleFunc("GET /api/events.ics", s.handleExportICS)
	s.mux.HandleFunc("POST /api/events/import", s.handleImportICS)

	s.mux.HandleFunc("GET /api/photos", s.handleListPhotos)
	s.mux.HandleFunc("POST /api/photos", s.handleUploadPhotos)
	s.mux.HandleFunc("DELETE /api/photos/{id}", s.handleDeletePhoto)
	s.mux.HandleFunc("POST /api/photos/delete", s.handleDeletePhotos)
	s.mux.HandleFunc("POST /api/photos/{id}/processed", s.handleProcessed)
	s.mux.HandleFunc("POST /api/photos/{id}/failed", s.handleFailed)

	s.mux.HandleFunc("GET /api/slideshow", s.handleSlideshow)
	s.mux.HandleFunc("GET /api/overlay", s.handleGetOverlay)
	s.mux.HandleFunc("POST /api/overlay", s.handleSetOverlay)

	s.mux.HandleFunc("POST /api/cache", s.handleCacheMessage)
	s.mux.HandleFunc("GET /api/cache/events", s.handleCacheEvents)
	if s.deps.Cache != nil {
		s.mux.Handle("/img", s.deps.Cache.Handler())
	}

	s.mux.HandleFunc("GET /api/power", s.handlePower)
	s.mux.HandleFunc("GET /preview.png", s.handlePreview)

	s.mux.Handle("/", s.staticFileServer())
}

// public paths need no session: the kiosk shell itself must load before
// anyone has signed in.
func isPublic(path string) bool {
	switch path {
	case "/health", "/api/login", "/api/logout":
		return true
	}
	if path == "/img" || path == "/preview.png" {
		return false
	}
	return !strings.HasPrefix(path, "/api/")
}

func isCallback(r *http.Request) bool {
	return r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/api/photos/") &&
		(strings.HasSuffix(r.URL.Path, "/processed") || strings.HasSuffix(r.URL.Path, "/failed"))
}

func (s *Server) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublic(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		if isCallback(r) {
			if s.deps.CallbackToken == "" || !secureCompare(bearer(r), s.deps.CallbackToken) {
				writeError(w, http.StatusUnauthorized, "invalid callback token")
				return
			}
			next.ServeHTTP(w, r)
			return
		}
		if _, err := s.deps.Gate.FromRequest(r); err != nil {
			writeError(w, http.StatusUnauthorized, "sign in required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if v, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          appLog.StdLogger(appLog.LevelWarn),
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("web: listening", "listen", "http://"+addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) staticFileServer() http.Handler {
	sub, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		appLog.Error("web: embedded static filesystem unavailable", err)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "static UI not available", http.StatusServiceUnavailable)
		})
	}
	fileServer := http.FileServer(http.FS(sub))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// never answer an unknown API path with HTML
		if r.URL.Path == "/api" || strings.HasPrefix(r.URL.Path, "/api/") {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		fileServer.ServeHTTP(w, r)
	})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if s.deps.PreviewPath == "" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFile(w, r, s.deps.PreviewPath)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("web: failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

// statusFor maps service errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, events.ErrInvalid),
		errors.Is(err, photos.ErrInvalidImage),
		errors.Is(err, events.ErrNotConfirmed),
		errors.Is(err, photos.ErrNotConfirmed):
		return http.StatusBadRequest
	case errors.Is(err, photos.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, auth.ErrNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, auth.ErrBadCredentials):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func confirmed(r *http.Request) bool {
	v := r.URL.Query().Get("confirm")
	return v == "1" || v == "true"
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
