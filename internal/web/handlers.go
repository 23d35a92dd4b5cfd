package web

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gatherly/server/internal/api/middleware"
	"github.com/gatherly/server/internal/domain/events"
	"github.com/gatherly/server/internal/domain/ids"
	"github.com/gatherly/server/internal/metrics"
)

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	filters, err := events.ParseFilters(r.URL.Query(), false)
	if err != nil {
		h.renderError(w, r, http.StatusBadRequest, "Those filters are not valid.")
		return
	}

	viewer := middleware.UserID(r.Context())
	list, err := h.events.List(r.Context(), viewer, filters)
	if err != nil {
		h.renderDomainError(w, r, err)
		return
	}

	views := make([]eventView, 0, len(list))
	for i := range list {
		views = append(views, h.viewOf(&list[i]))
	}

	h.pages.render(w, h.logger, http.StatusOK, "events_list.html", listPage{
		page:   h.basePage(w, r, "Events"),
		Query:  r.URL.Query().Get("q"),
		When:   r.URL.Query().Get("when"),
		Events: views,
	})
}

func (h *Handler) showEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.eventID(w, r)
	if !ok {
		return
	}

	viewer := middleware.UserID(r.Context())
	event, err := h.events.Get(r.Context(), id, viewer)
	if err != nil {
		h.renderDomainError(w, r, err)
		return
	}
	_, attendees, err := h.events.Attendees(r.Context(), id, viewer)
	if err != nil {
		h.renderDomainError(w, r, err)
		return
	}

	h.pages.render(w, h.logger, http.StatusOK, "event_detail.html", detailPage{
		page:      h.basePage(w, r, event.Title),
		Event:     h.viewOf(event),
		Attendees: attendees,
		IsOwner:   viewer != "" && event.CreatedBy == viewer,
	})
}

func (h *Handler) newEventForm(w http.ResponseWriter, r *http.Request) {
	h.pages.render(w, h.logger, http.StatusOK, "event_form.html", formPage{
		page:            h.basePage(w, r, "New event"),
		Action:          "/events",
		Errors:          map[string]string{},
		RemainingImages: events.MaxImagesPerEvent,
	})
}

func (h *Handler) createEvent(w http.ResponseWriter, r *http.Request) {
	form, err := h.readEventForm(w, r)
	if err != nil {
		h.renderError(w, r, http.StatusBadRequest, "The submitted form could not be read.")
		return
	}
	defer form.close()

	event, err := h.events.Create(r.Context(), middleware.UserID(r.Context()), form.input, form.cover, form.gallery)
	if err != nil {
		var verr events.ValidationError
		if errors.As(err, &verr) {
			h.pages.render(w, h.logger, http.StatusUnprocessableEntity, "event_form.html", formPage{
				page:            h.basePage(w, r, "New event"),
				Action:          "/events",
				Form:            form.input,
				Errors:          verr.ByField(),
				RemainingImages: events.MaxImagesPerEvent,
			})
			return
		}
		h.renderDomainError(w, r, err)
		return
	}

	visibility := "public"
	if event.IsPrivate {
		visibility = "private"
	}
	metrics.EventsCreatedTotal.WithLabelValues(visibility).Inc()
	if event.CoverKey != "" {
		metrics.ImagesUploadedTotal.WithLabelValues("cover").Inc()
	}
	metrics.ImagesUploadedTotal.WithLabelValues("gallery").Add(float64(len(event.Images)))

	setFlash(w, "Event created.")
	http.Redirect(w, r, "/events/"+event.ID, http.StatusSeeOther)
}

func (h *Handler) editEventForm(w http.ResponseWriter, r *http.Request) {
	id, ok := h.eventID(w, r)
	if !ok {
		return
	}

	viewer := middleware.UserID(r.Context())
	event, err := h.events.Get(r.Context(), id, viewer)
	if err != nil {
		h.renderDomainError(w, r, err)
		return
	}
	if event.CreatedBy != viewer {
		h.renderDomainError(w, r, events.ErrNotFound)
		return
	}

	h.pages.render(w, h.logger, http.StatusOK, "event_form.html", formPage{
		page:   h.basePage(w, r, "Edit event"),
		Action: "/events/" + event.ID,
		Form: events.Input{
			Title:       event.Title,
			Description: event.Description,
			Date:        event.Date.Format("2006-01-02"),
			Time:        event.Time,
			Location:    event.Location,
			IsPrivate:   event.IsPrivate,
		},
		Errors:          map[string]string{},
		RemainingImages: events.MaxImagesPerEvent - len(event.Images),
	})
}

func (h *Handler) updateEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.eventID(w, r)
	if !ok {
		return
	}

	form, err := h.readEventForm(w, r)
	if err != nil {
		h.renderError(w, r, http.StatusBadRequest, "The submitted form could not be read.")
		return
	}
	defer form.close()

	event, err := h.events.Update(r.Context(), middleware.UserID(r.Context()), id, form.input, form.cover, form.gallery)
	if err != nil {
		var verr events.ValidationError
		if errors.As(err, &verr) {
			remaining := events.MaxImagesPerEvent
			if current, gerr := h.events.Get(r.Context(), id, middleware.UserID(r.Context())); gerr == nil {
				remaining = events.MaxImagesPerEvent - len(current.Images)
			}
			h.pages.render(w, h.logger, http.StatusUnprocessableEntity, "event_form.html", formPage{
				page:            h.basePage(w, r, "Edit event"),
				Action:          "/events/" + id,
				Form:            form.input,
				Errors:          verr.ByField(),
				RemainingImages: remaining,
			})
			return
		}
		h.renderDomainError(w, r, err)
		return
	}

	setFlash(w, "Event updated.")
	http.Redirect(w, r, "/events/"+event.ID, http.StatusSeeOther)
}

func (h *Handler) confirmDeleteEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.eventID(w, r)
	if !ok {
		return
	}

	viewer := middleware.UserID(r.Context())
	event, err := h.events.Get(r.Context(), id, viewer)
	if err != nil {
		h.renderDomainError(w, r, err)
		return
	}
	if event.CreatedBy != viewer {
		h.renderDomainError(w, r, events.ErrNotFound)
		return
	}

	h.pages.render(w, h.logger, http.StatusOK, "event_confirm_delete.html", detailPage{
		page:  h.basePage(w, r, "Delete event"),
		Event: h.viewOf(event),
	})
}

func (h *Handler) deleteEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.eventID(w, r)
	if !ok {
		return
	}

	if err := h.events.Delete(r.Context(), middleware.UserID(r.Context()), id); err != nil {
		h.renderDomainError(w, r, err)
		return
	}

	setFlash(w, "Event deleted.")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) toggleRSVP(w http.ResponseWriter, r *http.Request) {
	id, ok := h.eventID(w, r)
	if !ok {
		return
	}

	attending, err := h.events.ToggleRSVP(r.Context(), middleware.UserID(r.Context()), id)
	if err != nil {
		h.renderDomainError(w, r, err)
		return
	}

	if attending {
		metrics.RSVPTogglesTotal.WithLabelValues("rsvped").Inc()
		setFlash(w, "You are attending this event.")
	} else {
		metrics.RSVPTogglesTotal.WithLabelValues("unrsvped").Inc()
		setFlash(w, "Your RSVP was cancelled.")
	}
	http.Redirect(w, r, "/events/"+id, http.StatusSeeOther)
}

func (h *Handler) deleteImage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.eventID(w, r)
	if !ok {
		return
	}
	imageID, err := strconv.ParseInt(r.PathValue("imageID"), 10, 64)
	if err != nil {
		h.renderDomainError(w, r, events.ErrNotFound)
		return
	}

	if err := h.events.DeleteImage(r.Context(), middleware.UserID(r.Context()), id, imageID); err != nil {
		h.renderDomainError(w, r, err)
		return
	}

	setFlash(w, "Image removed.")
	http.Redirect(w, r, "/events/"+id, http.StatusSeeOther)
}

func (h *Handler) myRSVPs(w http.ResponseWriter, r *http.Request) {
	rsvps, err := h.events.ListRSVPs(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		h.renderDomainError(w, r, err)
		return
	}

	h.pages.render(w, h.logger, http.StatusOK, "my_rsvps.html", rsvpsPage{
		page:  h.basePage(w, r, "My RSVPs"),
		RSVPs: rsvps,
	})
}

// eventForm is one parsed multipart event submission. close releases the
// uploaded file handles once the service has consumed them.
type eventForm struct {
	input   events.Input
	cover   *events.Upload
	gallery []events.Upload
	close   func()
}

func (h *Handler) readEventForm(w http.ResponseWriter, r *http.Request) (eventForm, error) {
	r.Body = http.MaxBytesReader(w, r.Body, middleware.UploadMaxBodySize)
	if err := r.ParseMultipartForm(middleware.UploadMaxBodySize); err != nil {
		return eventForm{}, err
	}

	form := eventForm{
		input: events.Input{
			Title:       r.FormValue("title"),
			Description: r.FormValue("description"),
			Date:        r.FormValue("date"),
			Time:        r.FormValue("time"),
			Location:    r.FormValue("location"),
			IsPrivate:   r.FormValue("is_private") == "on" || r.FormValue("is_private") == "true",
		},
	}

	var open []io.Closer
	form.close = func() {
		for _, f := range open {
			f.Close()
		}
	}

	if r.MultipartForm == nil {
		return form, nil
	}
	if headers := r.MultipartForm.File["cover_image"]; len(headers) > 0 && headers[0].Filename != "" {
		file, err := headers[0].Open()
		if err != nil {
			form.close()
			return eventForm{}, err
		}
		open = append(open, file)
		form.cover = &events.Upload{Filename: headers[0].Filename, Content: file}
	}
	for _, header := range r.MultipartForm.File["images"] {
		if header.Filename == "" {
			continue
		}
		file, err := header.Open()
		if err != nil {
			form.close()
			return eventForm{}, err
		}
		open = append(open, file)
		form.gallery = append(form.gallery, events.Upload{Filename: header.Filename, Content: file})
	}
	return form, nil
}

// eventID validates the path id, rendering a not-found page for anything
// that could never name an event.
func (h *Handler) eventID(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := r.PathValue("id")
	if err := ids.ValidateULID(raw); err != nil {
		h.renderDomainError(w, r, events.ErrNotFound)
		return "", false
	}
	return ids.Normalize(raw), true
}

// renderDomainError maps service errors to pages. Forbidden collapses into
// not-found here so browsing never reveals which private events exist.
func (h *Handler) renderDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var capErr events.CapacityError
	switch {
	case errors.Is(err, events.ErrNotFound), errors.Is(err, events.ErrForbidden):
		h.renderError(w, r, http.StatusNotFound, "That event does not exist or is not visible to you.")
	case errors.As(err, &capErr):
		h.renderError(w, r, http.StatusConflict, "This event already has the maximum number of images.")
	default:
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("page error")
		h.renderError(w, r, http.StatusInternalServerError, "Something went wrong. Please try again.")
	}
}
