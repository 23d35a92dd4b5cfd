// Package web is the browser adapter: server-rendered HTML pages over the
// same domain services the JSON API uses.
package web

import (
	"net/http"
	"time"

	"github.com/gorilla/csrf"
	"github.com/rs/zerolog"

	"github.com/gatherly/server/internal/auth"
	"github.com/gatherly/server/internal/config"
	"github.com/gatherly/server/internal/domain/events"
	"github.com/gatherly/server/internal/domain/users"
	"github.com/gatherly/server/internal/media"
)

type Handler struct {
	events *events.Service
	users  *users.Service
	tokens *auth.JWTManager
	media  media.Store
	pages  pages
	logger zerolog.Logger

	csrfKey      []byte
	secureCookie bool
	sessionTTL   time.Duration
}

func NewHandler(
	cfg config.Config,
	eventsSvc *events.Service,
	usersSvc *users.Service,
	tokens *auth.JWTManager,
	store media.Store,
	logger zerolog.Logger,
) (*Handler, error) {
	parsed, err := parseTemplates()
	if err != nil {
		return nil, err
	}
	return &Handler{
		events:       eventsSvc,
		users:        usersSvc,
		tokens:       tokens,
		media:        store,
		pages:        parsed,
		logger:       logger.With().Str("component", "web").Logger(),
		csrfKey:      []byte(cfg.Auth.CSRFKey),
		secureCookie: cfg.Auth.SecureCookie,
		sessionTTL:   cfg.Auth.JWTExpiry,
	}, nil
}

// Routes builds the page router. Every request passes through the session
// middleware, and every form-bearing page through CSRF protection.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /static/", http.FileServerFS(staticFS))

	mux.HandleFunc("GET /{$}", h.listEvents)
	mux.HandleFunc("GET /events/{id}", h.showEvent)

	mux.Handle("GET /events/new", h.requireUser(h.newEventForm))
	mux.Handle("POST /events", h.requireUser(h.createEvent))
	mux.Handle("GET /events/{id}/edit", h.requireUser(h.editEventForm))
	mux.Handle("POST /events/{id}", h.requireUser(h.updateEvent))
	mux.Handle("GET /events/{id}/delete", h.requireUser(h.confirmDeleteEvent))
	mux.Handle("POST /events/{id}/delete", h.requireUser(h.deleteEvent))
	mux.Handle("POST /events/{id}/rsvp", h.requireUser(h.toggleRSVP))
	mux.Handle("POST /events/{id}/images/{imageID}/delete", h.requireUser(h.deleteImage))
	mux.Handle("GET /rsvps", h.requireUser(h.myRSVPs))

	mux.HandleFunc("GET /login", h.loginForm)
	mux.HandleFunc("POST /login", h.login)
	mux.HandleFunc("GET /register", h.registerForm)
	mux.HandleFunc("POST /register", h.register)
	mux.HandleFunc("POST /logout", h.logout)

	protect := csrf.Protect(h.csrfKey,
		csrf.Secure(h.secureCookie),
		csrf.Path("/"),
		csrf.SameSite(csrf.SameSiteLaxMode),
		csrf.ErrorHandler(http.HandlerFunc(h.csrfFailure)),
	)
	return protect(h.session(mux))
}

func (h *Handler) csrfFailure(w http.ResponseWriter, r *http.Request) {
	h.renderError(w, r, http.StatusForbidden, "The form submission could not be verified. Please go back and try again.")
}
