package web

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/gatherly/server/internal/api/middleware"
	"github.com/gatherly/server/internal/auth"
	"github.com/gatherly/server/internal/config"
	"github.com/gatherly/server/internal/domain/events"
	"github.com/gatherly/server/internal/domain/users"
)

const testULID = "01ARZ3NDEKTSV4RRFFQ69G5FAV"

type stubEventsRepo struct {
	listFn   func(viewerID string, filters events.Filters) ([]events.Event, error)
	getFn    func(id, viewerID string) (*events.Event, error)
	toggleFn func(eventID, userID string) (bool, error)
}

func (s stubEventsRepo) ListVisible(_ context.Context, viewerID string, filters events.Filters) ([]events.Event, error) {
	return s.listFn(viewerID, filters)
}

func (s stubEventsRepo) GetByID(_ context.Context, id, viewerID string) (*events.Event, error) {
	if s.getFn == nil {
		return nil, events.ErrNotFound
	}
	return s.getFn(id, viewerID)
}

func (s stubEventsRepo) Create(_ context.Context, _ events.CreateParams) (*events.Event, error) {
	return nil, errors.New("not implemented")
}

func (s stubEventsRepo) Update(_ context.Context, _ string, _ events.UpdateParams) (*events.Event, error) {
	return nil, errors.New("not implemented")
}

func (s stubEventsRepo) Delete(_ context.Context, _ string) (events.DeletedFiles, error) {
	return events.DeletedFiles{}, errors.New("not implemented")
}

func (s stubEventsRepo) AttachImages(_ context.Context, _ string, _ []string) ([]events.Image, error) {
	return nil, errors.New("not implemented")
}

func (s stubEventsRepo) DeleteImage(_ context.Context, _ string, _ int64) (string, error) {
	return "", events.ErrNotFound
}

func (s stubEventsRepo) ToggleRSVP(_ context.Context, eventID, userID string) (bool, error) {
	return s.toggleFn(eventID, userID)
}

func (s stubEventsRepo) Attendees(_ context.Context, _ string) ([]string, error) {
	return nil, nil
}

func (s stubEventsRepo) ListRSVPsByUser(_ context.Context, _ string) ([]events.RSVP, error) {
	return nil, nil
}

type stubUsersRepo struct {
	byUsername map[string]*users.User
}

func (s stubUsersRepo) Create(_ context.Context, _ users.CreateParams) (*users.User, error) {
	return nil, errors.New("not implemented")
}

func (s stubUsersRepo) GetByID(_ context.Context, _ string) (*users.User, error) {
	return nil, users.ErrNotFound
}

func (s stubUsersRepo) GetByUsername(_ context.Context, username string) (*users.User, error) {
	if user, ok := s.byUsername[username]; ok {
		return user, nil
	}
	return nil, users.ErrNotFound
}

func (s stubUsersRepo) GetByEmail(_ context.Context, _ string) (*users.User, error) {
	return nil, users.ErrNotFound
}

type stubMedia struct{}

func (stubMedia) SaveCover(_ context.Context, ownerID, filename string, _ io.Reader) (string, error) {
	return "events/covers/" + ownerID + "/" + filename, nil
}

func (stubMedia) SaveGallery(_ context.Context, eventID, filename string, _ io.Reader) (string, error) {
	return "events/gallery/" + eventID + "/" + filename, nil
}

func (stubMedia) Remove(_ context.Context, _ string) error { return nil }

func (stubMedia) URL(key string) string {
	if key == "" {
		return ""
	}
	return "http://localhost/media/" + key
}

func newTestHandler(t *testing.T, eventsRepo events.Repository, usersRepo users.Repository) *Handler {
	t.Helper()

	cfg := config.Config{
		Auth: config.AuthConfig{
			CSRFKey:   "0123456789abcdef0123456789abcdef",
			JWTExpiry: time.Hour,
		},
		Environment: "test",
	}
	tokens := auth.NewJWTManager("test-secret-at-least-32-bytes-long!!", time.Hour, "gatherly-test")

	eventsSvc := events.NewService(eventsRepo, stubMedia{}, zerolog.Nop())
	usersSvc := users.NewService(usersRepo, tokens, zerolog.Nop())

	h, err := NewHandler(cfg, eventsSvc, usersSvc, tokens, stubMedia{}, zerolog.Nop())
	require.NoError(t, err)
	return h
}

func sampleEvent() *events.Event {
	return &events.Event{
		ID:          testULID,
		Title:       "Launch Party",
		Description: "Snacks provided.",
		Date:        time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		Time:        "18:00",
		Location:    "HQ",
		CreatedBy:   "owner-1",
	}
}

func asUser(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.WithIdentity(r.Context(), middleware.Identity{UserID: userID, Username: "alice"}))
}

func TestListEventsPage(t *testing.T) {
	repo := stubEventsRepo{
		listFn: func(viewerID string, filters events.Filters) ([]events.Event, error) {
			require.Empty(t, viewerID)
			require.Equal(t, "party", filters.Query)
			return []events.Event{*sampleEvent()}, nil
		},
	}
	h := newTestHandler(t, repo, stubUsersRepo{})

	req := httptest.NewRequest(http.MethodGet, "/?q=party", nil)
	rec := httptest.NewRecorder()
	h.listEvents(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "Launch Party")
	require.Contains(t, body, "June 1, 2025")
	require.Contains(t, body, `value="party"`)
}

func TestListEventsPageRejectsBadWindow(t *testing.T) {
	h := newTestHandler(t, stubEventsRepo{}, stubUsersRepo{})

	req := httptest.NewRequest(http.MethodGet, "/?when=tomorrow", nil)
	rec := httptest.NewRecorder()
	h.listEvents(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestShowEventPage(t *testing.T) {
	repo := stubEventsRepo{
		getFn: func(id, viewerID string) (*events.Event, error) {
			require.Equal(t, testULID, id)
			return sampleEvent(), nil
		},
	}
	h := newTestHandler(t, repo, stubUsersRepo{})

	req := httptest.NewRequest(http.MethodGet, "/events/"+testULID, nil)
	req.SetPathValue("id", testULID)
	rec := httptest.NewRecorder()
	h.showEvent(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "Launch Party")
	require.Contains(t, body, "Snacks provided.")
	// Anonymous visitors get no RSVP form.
	require.NotContains(t, body, "/rsvp")
}

func TestShowEventPageHidesPrivateEvents(t *testing.T) {
	repo := stubEventsRepo{
		getFn: func(id, viewerID string) (*events.Event, error) {
			event := sampleEvent()
			event.IsPrivate = true
			return event, nil
		},
	}
	h := newTestHandler(t, repo, stubUsersRepo{})

	req := httptest.NewRequest(http.MethodGet, "/events/"+testULID, nil)
	req.SetPathValue("id", testULID)
	rec := httptest.NewRecorder()
	h.showEvent(rec, asUser(req, "someone-else"))

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.NotContains(t, rec.Body.String(), "Launch Party")
}

func TestShowEventPageMalformedID(t *testing.T) {
	h := newTestHandler(t, stubEventsRepo{}, stubUsersRepo{})

	req := httptest.NewRequest(http.MethodGet, "/events/not-a-ulid", nil)
	req.SetPathValue("id", "not-a-ulid")
	rec := httptest.NewRecorder()
	h.showEvent(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequireUserRedirectsToLogin(t *testing.T) {
	h := newTestHandler(t, stubEventsRepo{}, stubUsersRepo{})

	handler := h.requireUser(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run for anonymous requests")
	})
	req := httptest.NewRequest(http.MethodGet, "/events/new", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, "/login", rec.Header().Get("Location"))
}

func TestSessionMiddlewareClearsInvalidCookie(t *testing.T) {
	h := newTestHandler(t, stubEventsRepo{}, stubUsersRepo{})

	var sawIdentity bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawIdentity = middleware.IdentityFromContext(r.Context())
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "garbage"})
	rec := httptest.NewRecorder()
	h.session(next).ServeHTTP(rec, req)

	require.False(t, sawIdentity)
	cleared := false
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == middleware.SessionCookieName && cookie.MaxAge < 0 {
			cleared = true
		}
	}
	require.True(t, cleared)
}

func TestSessionMiddlewareResolvesValidCookie(t *testing.T) {
	h := newTestHandler(t, stubEventsRepo{}, stubUsersRepo{})
	token, err := h.tokens.Generate("user-1", "alice")
	require.NoError(t, err)

	var identity middleware.Identity
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ = middleware.IdentityFromContext(r.Context())
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: token})
	h.session(next).ServeHTTP(httptest.NewRecorder(), req)

	require.Equal(t, "user-1", identity.UserID)
	require.Equal(t, "alice", identity.Username)
}

func TestLoginSetsSessionCookie(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	require.NoError(t, err)
	usersRepo := stubUsersRepo{byUsername: map[string]*users.User{
		"alice": {ID: "user-1", Username: "alice", PasswordHash: string(hash)},
	}}
	h := newTestHandler(t, stubEventsRepo{}, usersRepo)

	form := url.Values{"username": {"alice"}, "password": {"correct horse"}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.login(rec, req)

	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, "/", rec.Header().Get("Location"))

	var session *http.Cookie
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == middleware.SessionCookieName {
			session = cookie
		}
	}
	require.NotNil(t, session)
	require.NotEmpty(t, session.Value)
	require.True(t, session.HttpOnly)

	claims, err := h.tokens.Validate(session.Value)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	require.NoError(t, err)
	usersRepo := stubUsersRepo{byUsername: map[string]*users.User{
		"alice": {ID: "user-1", Username: "alice", PasswordHash: string(hash)},
	}}
	h := newTestHandler(t, stubEventsRepo{}, usersRepo)

	form := url.Values{"username": {"alice"}, "password": {"wrong"}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.login(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "Invalid username or password.")
	for _, cookie := range rec.Result().Cookies() {
		require.NotEqual(t, middleware.SessionCookieName, cookie.Name)
	}
}

func TestToggleRSVPRedirectsWithFlash(t *testing.T) {
	repo := stubEventsRepo{
		getFn: func(id, viewerID string) (*events.Event, error) {
			return sampleEvent(), nil
		},
		toggleFn: func(eventID, userID string) (bool, error) {
			return true, nil
		},
	}
	h := newTestHandler(t, repo, stubUsersRepo{})

	req := httptest.NewRequest(http.MethodPost, "/events/"+testULID+"/rsvp", nil)
	req.SetPathValue("id", testULID)
	rec := httptest.NewRecorder()
	h.toggleRSVP(rec, asUser(req, "user-1"))

	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, "/events/"+testULID, rec.Header().Get("Location"))

	flashed := false
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == flashCookieName && cookie.Value != "" {
			flashed = true
		}
	}
	require.True(t, flashed)
}

func TestEditEventFormRequiresOwnership(t *testing.T) {
	repo := stubEventsRepo{
		getFn: func(id, viewerID string) (*events.Event, error) {
			return sampleEvent(), nil
		},
	}
	h := newTestHandler(t, repo, stubUsersRepo{})

	req := httptest.NewRequest(http.MethodGet, "/events/"+testULID+"/edit", nil)
	req.SetPathValue("id", testULID)
	rec := httptest.NewRecorder()
	h.editEventForm(rec, asUser(req, "someone-else"))

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEditEventFormPrefillsFields(t *testing.T) {
	repo := stubEventsRepo{
		getFn: func(id, viewerID string) (*events.Event, error) {
			return sampleEvent(), nil
		},
	}
	h := newTestHandler(t, repo, stubUsersRepo{})

	req := httptest.NewRequest(http.MethodGet, "/events/"+testULID+"/edit", nil)
	req.SetPathValue("id", testULID)
	rec := httptest.NewRecorder()
	h.editEventForm(rec, asUser(req, "owner-1"))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, `value="Launch Party"`)
	require.Contains(t, body, `value="2025-06-01"`)
	require.Contains(t, body, `action="/events/`+testULID+`"`)
}

func TestUpdateEventRedisplayShowsRemainingCapacity(t *testing.T) {
	repo := stubEventsRepo{
		getFn: func(id, viewerID string) (*events.Event, error) {
			ev := sampleEvent()
			ev.Images = []events.Image{
				{ID: 1, EventID: testULID, FileKey: "events/gallery/1.jpg"},
				{ID: 2, EventID: testULID, FileKey: "events/gallery/2.jpg"},
				{ID: 3, EventID: testULID, FileKey: "events/gallery/3.jpg"},
			}
			return ev, nil
		},
	}
	h := newTestHandler(t, repo, stubUsersRepo{})

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	require.NoError(t, form.WriteField("title", ""))
	require.NoError(t, form.WriteField("date", "2025-06-01"))
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/events/"+testULID, &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.SetPathValue("id", testULID)
	rec := httptest.NewRecorder()
	h.updateEvent(rec, asUser(req, "owner-1"))

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "(2 more allowed", "remaining capacity reflects the stored gallery")
	require.NotContains(t, body, "(5 more allowed")
}
