package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"brokerage/instagram"
	"brokerage/models"
	"brokerage/services"
)

// Pinger reports database liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Properties *services.PropertyService
	Directory  *services.DirectoryService
	Contact    *services.ContactService
	Auth       *services.AuthService
	Instagram  *instagram.Client
	DB         Pinger

	AllowedOrigins []string
	MaxBodyBytes   int64
	// FormsPerMinute limits public form posts per client IP; 0 disables.
	FormsPerMinute int
	// LoginsPerWindow limits login attempts per IP over LoginWindow; 0 disables.
	LoginsPerWindow int
	LoginWindow     time.Duration
}

type Server struct {
	deps Deps
}

func NewRouter(deps Deps) http.Handler {
	s := &Server{deps: deps}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: deps.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))
	r.Use(limitBody(deps.MaxBodyBytes))

	r.Get("/healthz", s.health)
	r.Handle("/metrics", promhttp.Handler())

	admin := requireRole(deps.Auth, models.RoleAdmin)
	editor := requireRole(deps.Auth, models.RoleAdmin, models.RoleEditor)
	forms := rateLimit(deps.FormsPerMinute, time.Minute)
	login := rateLimit(deps.LoginsPerWindow, deps.LoginWindow)

	r.Route("/api", func(r chi.Router) {
		r.Get("/properties", s.listProperties)
		r.Get("/properties/{listingID}", s.getProperty)

		r.Route("/cache", func(r chi.Router) {
			r.Use(admin)
			r.Get("/status", s.cacheStatus)
			r.Post("/clear", s.clearCache)
			r.Post("/refresh", s.refreshCache)
			r.Post("/invalidate", s.invalidateCache)
		})

		r.Route("/agents", func(r chi.Router) {
			r.With(optionalAuth(deps.Auth)).Get("/", s.listAgents)
			r.Get("/{id}", s.getAgent)
			r.Group(func(r chi.Router) {
				r.Use(editor)
				r.Post("/", s.createAgent)
				r.Put("/{id}", s.updateAgent)
				r.Delete("/{id}", s.deleteAgent)
				r.Post("/{id}/photo", s.uploadAgentPhoto)
			})
		})

		r.Route("/office-staff", func(r chi.Router) {
			r.With(optionalAuth(deps.Auth)).Get("/", s.listStaff)
			r.Get("/{id}", s.getStaff)
			r.Group(func(r chi.Router) {
				r.Use(editor)
				r.Post("/", s.createStaff)
				r.Put("/{id}", s.updateStaff)
				r.Delete("/{id}", s.deleteStaff)
				r.Post("/{id}/photo", s.uploadStaffPhoto)
			})
		})

		r.Route("/careers", func(r chi.Router) {
			r.With(optionalAuth(deps.Auth)).Get("/", s.listCareers)
			r.Get("/{id}", s.getCareer)
			r.With(forms).Post("/{id}/apply", s.applyCareer)
			r.Group(func(r chi.Router) {
				r.Use(editor)
				r.Post("/", s.createCareer)
				r.Put("/{id}", s.updateCareer)
				r.Delete("/{id}", s.deleteCareer)
			})
		})

		r.With(forms).Post("/contact", s.contact)

		r.Route("/admin", func(r chi.Router) {
			r.With(login).Post("/login", s.login)
			r.With(editor).Get("/me", s.me)
		})

		r.Route("/instagram", func(r chi.Router) {
			r.Get("/feed", s.instagramFeed)
			r.Get("/embed", s.instagramEmbed)
			r.Get("/callback", s.instagramCallback)
			r.Post("/data-deletion", s.instagramDeletion)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}

func rateLimit(n int, window time.Duration) func(http.Handler) http.Handler {
	if n <= 0 || window <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(n, window,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeMessage(w, r, http.StatusTooManyRequests, "too many requests, try again later")
		}),
	)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if err := s.deps.DB.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
