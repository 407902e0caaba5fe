// Package console serves the admin pages and OAuth flows over a local HTTP
// API and pushes list and flow changes over a websocket.
package console

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lkarlslund/proxydesk/pkg/authflow"
	"github.com/lkarlslund/proxydesk/pkg/logutil"
	"github.com/lkarlslund/proxydesk/pkg/pages"
	"github.com/lkarlslund/proxydesk/pkg/session"
	"github.com/lkarlslund/proxydesk/pkg/version"
)

const shutdownTimeout = 5 * time.Second

type Options struct {
	// Deps is handed to the page controllers. Notify and OnChange are
	// chained with the websocket hub.
	Deps pages.Deps
	// Logs backs GET /console/api/logs. Optional.
	Logs *logutil.Ring
	// FlowOptions are appended to every OAuth flow the server creates.
	FlowOptions []authflow.Option
}

type Server struct {
	session session.Session
	pages   *pages.Set
	logs    *logutil.Ring
	logger  *log.Logger
	hub     *hub
	flowOps []authflow.Option

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	flows map[string]*authflow.Flow
}

func New(opts Options) *Server {
	d := opts.Deps
	logger := d.Logger
	if logger == nil {
		logger = logutil.New("console")
	} else {
		logger = logger.WithPrefix("console")
	}
	parent := d.Context
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Server{
		session: d.Session,
		logs:    opts.Logs,
		logger:  logger,
		hub:     newHub(),
		flowOps: opts.FlowOptions,
		ctx:     ctx,
		cancel:  cancel,
		flows:   map[string]*authflow.Flow{},
	}

	notify, changed := d.Notify, d.OnChange
	d.Context = ctx
	d.Notify = func(page, msg string) {
		if notify != nil {
			notify(page, msg)
		}
		s.hub.publish(Event{Type: EventNotify, Page: page, Message: msg})
	}
	d.OnChange = func(page string) {
		if changed != nil {
			changed(page)
		}
		s.hub.publish(Event{Type: EventList, Page: page})
	}
	s.pages = pages.NewSet(d)
	return s
}

// Pages exposes the page controllers the server drives.
func (s *Server) Pages() *pages.Set { return s.pages }

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "version": version.Current()})
	})
	r.Route("/console", func(r chi.Router) {
		r.Get("/ws", s.websocket)
		r.Route("/api", func(r chi.Router) {
			r.Use(middleware.NoCache)
			r.Get("/me", s.me)
			r.Get("/logs", s.recentLogs)
			r.Get("/groups", s.groups)
			r.Get("/pages", s.listPages)
			r.Route("/pages/{page}", func(r chi.Router) {
				r.Get("/", s.viewPage)
				r.Post("/", s.createEntity)
				r.Get("/export", s.exportPage)
				r.Put("/{id}", s.updateEntity)
				r.Delete("/{id}", s.deleteEntity)
			})
			r.Get("/auth-types", s.authTypes)
			r.Route("/oauth/flows", func(r chi.Router) {
				r.Post("/", s.createFlow)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.getFlow)
					r.Delete("/", s.closeFlow)
					r.Post("/commit", s.commitFlow)
					r.Post("/callback", s.submitCallback)
					r.Post("/cookie", s.submitCookie)
					r.Put("/group", s.setFlowGroup)
				})
			})
		})
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "status", ww.Status(), "dur", time.Since(start), "id", middleware.GetReqID(r.Context()))
	})
}

// Close ends every open flow and disconnects websocket clients.
func (s *Server) Close() {
	s.mu.Lock()
	flows := s.flows
	s.flows = map[string]*authflow.Flow{}
	s.mu.Unlock()
	for _, f := range flows {
		f.Close()
	}
	s.cancel()
	s.hub.closeAll()
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("console listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		s.Close()
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Close()
	return err
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	st := s.session.Stored()
	writeJSON(w, http.StatusOK, map[string]any{
		"username":       st.Username,
		"logged_in":      s.session.LoggedIn(),
		"is_super_admin": st.IsSuperAdmin,
		"permissions":    st.Permissions,
		"pages":          s.pages.Visible(),
	})
}

func (s *Server) recentLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeJSON(w, http.StatusOK, map[string]any{"lines": []string{}})
		return
	}
	limit := intParam(r, "limit", 200)
	writeJSON(w, http.StatusOK, map[string]any{"lines": s.logs.Lines(limit)})
}

func (s *Server) groups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.pages.AuthFiles.Groups(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
}
