package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/secmon-lab/mentionist/pkg/domain/model"
	"github.com/secmon-lab/mentionist/pkg/service/usercache"
	"github.com/secmon-lab/mentionist/pkg/usecase"
	"github.com/secmon-lab/mentionist/pkg/utils/logging"
)

// MentionUseCase is the application surface served over HTTP
type MentionUseCase interface {
	Workspaces() []model.Workspace
	ResolveUser(ctx context.Context, workspaceID, userID string) (*model.User, model.CacheState, error)
	AnnotateMessage(ctx context.Context, workspaceID, text string) (*usecase.AnnotatedMessage, error)
	WatchMessage(ctx context.Context, workspaceID, text string) (<-chan *usecase.AnnotatedMessage, error)
	SubscribeEvents(workspaceID string, fn usercache.Listener) (func(), error)
}

// DefaultMaxBodySize limits request bodies of the annotate endpoint
const DefaultMaxBodySize = 1 << 20

type Server struct {
	router         *chi.Mux
	mention        MentionUseCase
	originPatterns []string
	maxBodySize    int64
}

type Options func(*Server)

// WithOriginPatterns allows cross-origin websocket connections from the given host patterns
func WithOriginPatterns(patterns ...string) Options {
	return func(s *Server) {
		s.originPatterns = append(s.originPatterns, patterns...)
	}
}

func WithMaxBodySize(n int64) Options {
	return func(s *Server) {
		s.maxBodySize = n
	}
}

func New(mention MentionUseCase, opts ...Options) *Server {
	r := chi.NewRouter()

	s := &Server{
		router:      r,
		mention:     mention,
		maxBodySize: DefaultMaxBodySize,
	}
	for _, opt := range opts {
		opt(s)
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(accessLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api/workspaces", func(r chi.Router) {
		r.Get("/", s.workspacesHandler)
		r.Route("/{workspaceID}", func(r chi.Router) {
			r.Get("/users/{userID}", s.userHandler)
			r.Post("/annotate", s.annotateHandler)
			r.Get("/annotate/stream", s.annotateStreamHandler)
			r.Get("/events", s.eventsHandler)
		})
	})

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// accessLogger is a middleware that logs HTTP requests
func accessLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			logging.From(r.Context()).Info("access",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"remote", r.RemoteAddr,
				"user_agent", r.UserAgent(),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
