// internal/server/server.go

package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"nearfeed/internal/config"
	"nearfeed/internal/domain/identity"
	"nearfeed/internal/domain/location"
	"nearfeed/internal/domain/post"
	"nearfeed/internal/domain/profile"
	"nearfeed/internal/server/handlers"
	identitysvc "nearfeed/internal/service/identity"
	locsvc "nearfeed/internal/service/location"
)

// Deps are the collaborators the HTTP surface exposes.
type Deps struct {
	Identity identity.Service
	Users    identitysvc.UserStore
	Posts    handlers.PostWriter
	Notifier handlers.ChangeNotifier
	Changes  post.ChangeFeed
	Resolver profile.Resolver
	Location locsvc.Store
	Log      *logrus.Logger
}

// Server represents the HTTP server
type Server struct {
	server *http.Server
	router *chi.Mux
}

// NewServer creates a new HTTP server
func NewServer(cfg config.ServerConfig, locCfg config.LocationConfig, deps Deps) *Server {
	router := chi.NewRouter()

	// Middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// CORS configuration
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CorsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Create handler dependencies
	authHandler := handlers.NewAuthHandler(deps.Identity)
	userHandler := handlers.NewUserHandler(deps.Users, deps.Location)
	postHandler := handlers.NewPostHandler(deps.Posts, deps.Notifier)
	feedHandler := handlers.NewFeedHandler(deps.Changes, deps.Resolver, deps.Log)

	// Routes
	router.Route("/api", func(r chi.Router) {
		// Health check
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})

		// API version
		r.Route("/v1", func(r chi.Router) {
			// Auth API
			r.Route("/auth", func(r chi.Router) {
				r.Post("/signup", authHandler.SignUp)
				r.Post("/login", authHandler.LogIn)
				r.Post("/anonymous", authHandler.LogInAnonymously)
			})

			// Users API
			r.Route("/users", func(r chi.Router) {
				r.Get("/{id}", userHandler.GetUser)

				r.Group(func(r chi.Router) {
					r.Use(authHandler.Middleware)
					r.Put("/{id}/location", userHandler.UpdateLocation)
				})
			})

			// Posts and feed API
			r.Group(func(r chi.Router) {
				r.Use(authHandler.Middleware)
				r.Post("/posts", postHandler.CreatePost)
				r.Get("/feed/nearby", feedHandler.GetNearby)
			})
		})
	})

	// WebSocket endpoint for the live feed
	router.Get("/ws/feed", handlers.FeedWebSocketHandler(handlers.FeedStreamDeps{
		Auth:      authHandler,
		Changes:   deps.Changes,
		Resolver:  deps.Resolver,
		Locations: deps.Location,
		WatchOpts: location.WatchOptions{
			MinInterval:          locCfg.MinInterval,
			MinDisplacementMeter: locCfg.MinDisplacementMeter,
		},
		Log: deps.Log,
	}))

	// Create HTTP server
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return &Server{
		server: httpServer,
		router: router,
	}
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
