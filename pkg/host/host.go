// Package host is a small JSON HTTP application that devconsoled embeds the
// console in. It gives the console real routes to invoke and a real access
// log to capture.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"maps"
	"net"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/modoterra/devconsole/pkg/core"
)

// Options configures an App.
type Options struct {
	Name       string
	Debug      bool
	Settings   map[string]any
	Extensions []string
	// Logger receives the access log and handler errors; nil discards.
	Logger *zap.Logger
}

// App implements core.Host.
type App struct {
	name       string
	debug      bool
	settings   map[string]any
	extensions []string
	startedAt  time.Time
	logger     *zap.Logger

	mux    *http.ServeMux
	routes []core.Route

	mu     sync.Mutex
	items  map[int]Item
	nextID int

	srv *http.Server
}

// Item is the resource served under /api/items.
type Item struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

var _ core.Host = (*App)(nil)

// New creates the application and registers its routes.
func New(opts Options) *App {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Name == "" {
		opts.Name = "devconsole"
	}
	a := &App{
		name:       opts.Name,
		debug:      opts.Debug,
		settings:   maps.Clone(opts.Settings),
		extensions: slices.Clone(opts.Extensions),
		startedAt:  time.Now(),
		logger:     opts.Logger,
		mux:        http.NewServeMux(),
		items:      make(map[int]Item),
		nextID:     1,
	}
	a.handle("GET", "/api/health", a.handleHealth)
	a.handle("GET", "/api/info", a.handleInfo)
	a.handle("GET", "/api/items", a.handleListItems)
	a.handle("POST", "/api/items", a.handleCreateItem)
	a.handle("GET", "/api/items/{id}", a.handleGetItem)
	a.handle("DELETE", "/api/items/{id}", a.handleDeleteItem)
	a.handle("POST", "/api/echo", a.handleEcho)
	a.handle("GET", "/api/fail", a.handleFail)
	return a
}

func (a *App) handle(method, pattern string, h http.HandlerFunc) {
	a.mux.HandleFunc(method+" "+pattern, h)
	a.routes = append(a.routes, core.Route{Methods: []string{method}, Pattern: pattern})
}

func (a *App) Name() string             { return a.name }
func (a *App) StartedAt() time.Time     { return a.startedAt }
func (a *App) Routes() []core.Route     { return slices.Clone(a.routes) }
func (a *App) Settings() map[string]any { return maps.Clone(a.settings) }
func (a *App) Extensions() []string     { return slices.Clone(a.extensions) }
func (a *App) Debug() bool              { return a.debug }

// SetLogger replaces the access logger. Call it before serving.
func (a *App) SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	a.logger = l
}

// Handler returns the routes wrapped in the access log.
func (a *App) Handler() http.Handler { return a.accessLog(a.mux) }

// ListenAndServe serves on addr until ctx is cancelled.
func (a *App) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	a.srv = &http.Server{Handler: a.Handler(), ReadHeaderTimeout: 10 * time.Second}
	a.logger.Info("listening", zap.String("addr", l.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- a.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.srv.Shutdown(cctx)
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(p)
	r.bytes += n
	return n, err
}

func (a *App) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Int("bytes", rec.bytes),
			zap.Duration("duration", time.Since(start)),
		}
		switch {
		case rec.status >= 500:
			a.logger.Error("request", fields...)
		case rec.status >= 400:
			a.logger.Warn("request", fields...)
		default:
			a.logger.Info("request", fields...)
		}
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (a *App) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) handleInfo(w http.ResponseWriter, _ *http.Request) {
	a.mu.Lock()
	count := len(a.items)
	a.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"name":       a.name,
		"debug":      a.debug,
		"uptime":     time.Since(a.startedAt).Round(time.Second).String(),
		"items":      count,
		"extensions": a.extensions,
	})
}

func (a *App) handleListItems(w http.ResponseWriter, _ *http.Request) {
	a.mu.Lock()
	out := make([]Item, 0, len(a.items))
	for _, it := range a.items {
		out = append(out, it)
	}
	a.mu.Unlock()
	slices.SortFunc(out, func(x, y Item) int { return x.ID - y.ID })
	writeJSON(w, http.StatusOK, out)
}

type createItemReq struct {
	Name string `json:"name"`
}

func (a *App) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var req createItemReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusUnprocessableEntity, "name is required")
		return
	}
	a.mu.Lock()
	it := Item{ID: a.nextID, Name: req.Name, CreatedAt: time.Now().UTC()}
	a.items[it.ID] = it
	a.nextID++
	a.mu.Unlock()
	a.logger.Info("item created", zap.Int("id", it.ID), zap.String("name", it.Name))
	writeJSON(w, http.StatusCreated, it)
}

func (a *App) itemID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return 0, false
	}
	return id, true
}

func (a *App) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := a.itemID(w, r)
	if !ok {
		return
	}
	a.mu.Lock()
	it, found := a.items[id]
	a.mu.Unlock()
	if !found {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (a *App) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	id, ok := a.itemID(w, r)
	if !ok {
		return
	}
	a.mu.Lock()
	_, found := a.items[id]
	delete(a.items, id)
	a.mu.Unlock()
	if !found {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleEcho returns the request body with its content type.
func (a *App) handleEcho(w http.ResponseWriter, r *http.Request) {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		ct = "text/plain; charset=utf-8"
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, r.Body)
}

func (a *App) handleFail(w http.ResponseWriter, _ *http.Request) {
	a.logger.Error("simulated failure", zap.Error(errors.New("database connection refused")))
	writeError(w, http.StatusInternalServerError, "internal error")
}
