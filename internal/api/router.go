package api

import (
	"net/http"

	"github.com/gatherly/server/internal/api/handlers"
	"github.com/gatherly/server/internal/api/middleware"
	"github.com/gatherly/server/internal/auth"
	"github.com/gatherly/server/internal/config"
	"github.com/gatherly/server/internal/domain/events"
	"github.com/gatherly/server/internal/domain/users"
	"github.com/gatherly/server/internal/media"
	"github.com/gatherly/server/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Deps carries everything the router wires together.
type Deps struct {
	Config config.Config
	Events *events.Service
	Users  *users.Service
	Tokens *auth.JWTManager
	Media  media.Store
	DB     handlers.Pinger
	Logger zerolog.Logger
}

// NewRouter assembles the REST API. Reads are public (visibility is enforced
// in the domain); writes require an authenticated user and sit behind the
// write rate-limit tier.
func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	env := cfg.Environment

	eventsHandler := handlers.NewEventsHandler(deps.Events, deps.Media, env)
	rsvpsHandler := handlers.NewRSVPsHandler(deps.Events, env)
	imagesHandler := handlers.NewImagesHandler(deps.Events, deps.Media, env)
	authHandler := handlers.NewAuthHandler(deps.Users, env)

	limiter := middleware.NewRateLimiter(cfg.RateLimit)
	requireUser := middleware.RequireUser(env)
	jsonBody := middleware.JSONRequestSize()
	uploadBody := middleware.UploadRequestSize()

	public := func(h http.HandlerFunc) http.Handler {
		return limiter.Limit(middleware.TierPublic)(h)
	}
	authed := func(h http.HandlerFunc) http.Handler {
		return limiter.Limit(middleware.TierWrite)(requireUser(jsonBody(h)))
	}
	authedUpload := func(h http.HandlerFunc) http.Handler {
		return limiter.Limit(middleware.TierWrite)(requireUser(uploadBody(h)))
	}
	login := func(h http.HandlerFunc) http.Handler {
		return limiter.Limit(middleware.TierLogin)(jsonBody(h))
	}

	mux := http.NewServeMux()

	mux.Handle("GET /healthz", handlers.Healthz())
	mux.Handle("GET /readyz", handlers.Readyz(deps.DB))
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	mux.Handle("POST /api/v1/auth/register", login(authHandler.Register))
	mux.Handle("POST /api/v1/auth/login", login(authHandler.Login))

	mux.Handle("GET /api/v1/events", public(eventsHandler.List))
	mux.Handle("POST /api/v1/events", authedUpload(eventsHandler.Create))
	mux.Handle("GET /api/v1/events/{id}", public(eventsHandler.Get))
	mux.Handle("PUT /api/v1/events/{id}", authedUpload(eventsHandler.Update))
	mux.Handle("PATCH /api/v1/events/{id}", authedUpload(eventsHandler.Update))
	mux.Handle("DELETE /api/v1/events/{id}", authed(eventsHandler.Delete))

	mux.Handle("POST /api/v1/events/{id}/rsvp", authed(rsvpsHandler.Toggle))
	mux.Handle("GET /api/v1/events/{id}/attendees", public(rsvpsHandler.Attendees))
	mux.Handle("GET /api/v1/rsvps", authed(rsvpsHandler.Mine))

	mux.Handle("POST /api/v1/events/{id}/images", authedUpload(imagesHandler.Attach))
	mux.Handle("DELETE /api/v1/events/{id}/images/{imageID}", authed(imagesHandler.Delete))

	var handler http.Handler = mux
	handler = middleware.Authenticate(deps.Tokens)(handler)
	handler = metrics.HTTPMiddleware(handler)
	handler = middleware.RequestLogging(deps.Logger)(handler)
	handler = middleware.SecurityHeaders(env == "production")(handler)
	handler = middleware.CorrelationID(deps.Logger)(handler)
	return handler
}
