// internal/server/server.go
package server

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"sync"
	"time"

	gorillaHandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"tubewatch/internal/channel"
	"tubewatch/internal/database"
	"tubewatch/internal/feed"
)

//go:embed templates/*.html
var templateFS embed.FS

type Config struct {
	// BaseURL is used for feed self links. When empty it is built from the request.
	BaseURL string
	// MaxItems caps the items of a feed unless the request asks for fewer
	MaxItems int
}

func DefaultConfig() Config {
	return Config{MaxItems: 50}
}

// Server publishes the channel list and every channel or filter as an
// RSS feed. It only reads; flags are changed through the CLI.
type Server struct {
	db       *database.DB
	logger   *log.Logger
	service  *feed.Service
	engine   *channel.Engine
	config   Config
	template *template.Template

	// mu guards dir, which is reloaded on every request
	mu  sync.Mutex
	dir *channel.Directory
}

func NewServer(db *database.DB, logger *log.Logger, service *feed.Service, config Config) (*Server, error) {
	if config.MaxItems <= 0 {
		config.MaxItems = DefaultConfig().MaxItems
	}

	tmpl, err := template.New("").Funcs(template.FuncMap{
		"formatTime": func(t time.Time) string {
			if t.IsZero() {
				return "never"
			}
			return t.UTC().Format("02/01/06 15:04")
		},
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}

	engine := channel.NewEngine(db, logger)
	return &Server{
		db:       db,
		logger:   logger,
		service:  service,
		engine:   engine,
		config:   config,
		template: tmpl,
		dir:      channel.NewDirectory(db, engine, logger),
	}, nil
}

func (s *Server) Routes() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/healthz", s.handleHealthz).Methods("GET", "HEAD")
	router.HandleFunc("/feeds/{id}", s.handleFeed).Methods("GET", "HEAD")
	router.HandleFunc("/", s.handleIndex).Methods("GET", "HEAD")

	// Feed readers and dashboards on other origins may read the channel list
	cors := gorillaHandlers.CORS(
		gorillaHandlers.AllowedOrigins([]string{"*"}),
		gorillaHandlers.AllowedMethods([]string{"GET", "HEAD", "OPTIONS"}),
	)
	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.HandleFunc("/channels", s.handleChannels).Methods("GET", "HEAD")
	apiRouter.Use(mux.MiddlewareFunc(cors))

	router.NotFoundHandler = http.HandlerFunc(s.handle404)

	var h http.Handler = router
	h = gzipMiddleware(h)
	h = securityHeaders(h)
	h = gorillaHandlers.ProxyHeaders(h)
	return gorillaHandlers.LoggingHandler(s.logger.Writer(), h)
}

func (s *Server) handle404(w http.ResponseWriter, r *http.Request) {
	s.logger.Printf("404 error for path: %s", r.URL.Path)
	http.Error(w, "404 Page Not Found", http.StatusNotFound)
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("Starting server on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Printf("Shutting down server")
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
