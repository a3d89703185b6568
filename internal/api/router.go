package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"taskpilot/internal/core"
	"taskpilot/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server holds the HTTP server state.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	tasks      *store.TaskRepo
	commands   *store.CommandRepo
	runs       *store.RunRepo
	engine     *core.Engine
	syncer     *store.RemoteSyncer
	remoteURL  string
	logger     *slog.Logger
	location   *time.Location
	authToken  string
}

// ServerDeps bundles the collaborators the HTTP API exposes.
type ServerDeps struct {
	Tasks     *store.TaskRepo
	Commands  *store.CommandRepo
	Runs      *store.RunRepo
	Engine    *core.Engine
	Syncer    *store.RemoteSyncer
	RemoteURL string
	Logger    *slog.Logger
	Location  *time.Location
}

// NewServer constructs the HTTP API server.
func NewServer(addr, authToken string, deps ServerDeps) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:    router,
		tasks:     deps.Tasks,
		commands:  deps.Commands,
		runs:      deps.Runs,
		engine:    deps.Engine,
		syncer:    deps.Syncer,
		remoteURL: deps.RemoteURL,
		logger:    deps.Logger,
		location:  deps.Location,
		authToken: authToken,
	}
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.router.Route("/v1", func(r chi.Router) {
		if s.authToken != "" {
			r.Use(AuthMiddleware(s.authToken))
		}

		r.Post("/schedule/preview", s.handleSchedulePreview)

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Post("/", s.handleCreateTask)

			r.Route("/{taskID}", func(r chi.Router) {
				r.Get("/", s.handleGetTask)
				r.Patch("/", s.handleUpdateTask)
				r.Delete("/", s.handleDeleteTask)
				r.Post("/run", s.handleRunTask)
				r.Get("/runs", s.handleListRuns)
			})
		})

		r.Route("/commands", func(r chi.Router) {
			r.Get("/", s.handleListCommands)
			r.Post("/", s.handleCreateCommand)
			r.Post("/sync", s.handleSyncCommands)
			r.Put("/remote", s.handleSetRemoteEnabled)
			r.Delete("/{commandID}", s.handleDeleteCommand)
		})

		r.Get("/runs/{runID}", s.handleGetRun)

		r.Get("/export", s.handleExport)
		r.Post("/import", s.handleImport)
	})
}
