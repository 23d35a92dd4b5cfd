package web

import (
	"html/template"
	"net/http"
	"strings"

	"github.com/gorilla/csrf"

	"github.com/gatherly/server/internal/api/middleware"
	"github.com/gatherly/server/internal/domain/events"
)

// page carries the fields every template's layout expects.
type page struct {
	Title     string
	User      *middleware.Identity
	CSRFField template.HTML
	Flash     string
}

type eventView struct {
	ID              string
	Title           string
	DateDisplay     string
	Time            string
	Location        string
	CoverURL        string
	IsPrivate       bool
	AttendeeCount   int
	IsAttending     bool
	DescriptionHTML template.HTML
	Images          []imageView
}

type imageView struct {
	ID  int64
	URL string
}

type listPage struct {
	page
	Query  string
	When   string
	Events []eventView
}

type detailPage struct {
	page
	Event     eventView
	Attendees []string
	IsOwner   bool
}

type formPage struct {
	page
	Action          string
	Form            events.Input
	Errors          map[string]string
	RemainingImages int
}

type authPage struct {
	page
	Username string
	Email    string
	Error    string
	Errors   map[string]string
}

type rsvpsPage struct {
	page
	RSVPs []events.RSVP
}

type errorPage struct {
	page
	Status  int
	Message string
}

func (h *Handler) basePage(w http.ResponseWriter, r *http.Request, title string) page {
	p := page{
		Title:     title,
		CSRFField: csrf.TemplateField(r),
		Flash:     popFlash(w, r),
	}
	if identity, ok := middleware.IdentityFromContext(r.Context()); ok {
		p.User = &identity
	}
	return p
}

func (h *Handler) viewOf(ev *events.Event) eventView {
	view := eventView{
		ID:            ev.ID,
		Title:         ev.Title,
		DateDisplay:   ev.Date.Format("January 2, 2006"),
		Time:          ev.Time,
		Location:      ev.Location,
		IsPrivate:     ev.IsPrivate,
		AttendeeCount: ev.AttendeeCount,
		IsAttending:   ev.IsAttending,
		// Descriptions are sanitized on input, so the surviving markup is
		// safe to render. Newlines still need converting for display.
		DescriptionHTML: template.HTML(strings.ReplaceAll(ev.Description, "\n", "<br>")),
	}
	if ev.CoverKey != "" {
		view.CoverURL = h.media.URL(ev.CoverKey)
	}
	for _, img := range ev.Images {
		view.Images = append(view.Images, imageView{ID: img.ID, URL: h.media.URL(img.FileKey)})
	}
	return view
}

func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, status int, message string) {
	h.pages.render(w, h.logger, status, "error.html", errorPage{
		page:    h.basePage(w, r, http.StatusText(status)),
		Status:  status,
		Message: message,
	})
}
