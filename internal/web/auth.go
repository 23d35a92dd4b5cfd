package web

import (
	"errors"
	"net/http"

	"github.com/gatherly/server/internal/domain/events"
	"github.com/gatherly/server/internal/domain/users"
	"github.com/gatherly/server/internal/metrics"
)

func (h *Handler) loginForm(w http.ResponseWriter, r *http.Request) {
	h.pages.render(w, h.logger, http.StatusOK, "login.html", authPage{
		page: h.basePage(w, r, "Log in"),
	})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderError(w, r, http.StatusBadRequest, "The submitted form could not be read.")
		return
	}
	username := r.PostFormValue("username")

	token, _, err := h.users.Login(r.Context(), username, r.PostFormValue("password"))
	if err != nil {
		if errors.Is(err, users.ErrInvalidCredentials) {
			metrics.LoginsTotal.WithLabelValues("failure").Inc()
			h.pages.render(w, h.logger, http.StatusUnauthorized, "login.html", authPage{
				page:     h.basePage(w, r, "Log in"),
				Username: username,
				Error:    "Invalid username or password.",
			})
			return
		}
		h.renderDomainError(w, r, err)
		return
	}

	metrics.LoginsTotal.WithLabelValues("success").Inc()
	h.setSessionCookie(w, r, token)
	setFlash(w, "Welcome back.")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) registerForm(w http.ResponseWriter, r *http.Request) {
	h.pages.render(w, h.logger, http.StatusOK, "register.html", authPage{
		page:   h.basePage(w, r, "Register"),
		Errors: map[string]string{},
	})
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderError(w, r, http.StatusBadRequest, "The submitted form could not be read.")
		return
	}
	input := users.RegisterInput{
		Username: r.PostFormValue("username"),
		Email:    r.PostFormValue("email"),
		Password: r.PostFormValue("password"),
	}

	user, err := h.users.Register(r.Context(), input)
	if err != nil {
		failed := authPage{
			page:     h.basePage(w, r, "Register"),
			Username: input.Username,
			Email:    input.Email,
			Errors:   map[string]string{},
		}
		var verr events.ValidationError
		switch {
		case errors.As(err, &verr):
			failed.Errors = verr.ByField()
		case errors.Is(err, users.ErrUsernameTaken):
			failed.Errors["username"] = "is already taken"
		case errors.Is(err, users.ErrEmailTaken):
			failed.Errors["email"] = "is already registered"
		default:
			h.renderDomainError(w, r, err)
			return
		}
		h.pages.render(w, h.logger, http.StatusUnprocessableEntity, "register.html", failed)
		return
	}

	token, err := h.tokens.Generate(user.ID, user.Username)
	if err != nil {
		h.renderDomainError(w, r, err)
		return
	}

	h.setSessionCookie(w, r, token)
	setFlash(w, "Welcome to Gatherly.")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	h.clearSessionCookie(w, r)
	setFlash(w, "You have been logged out.")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
