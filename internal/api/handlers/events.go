package handlers

import (
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gatherly/server/internal/api/middleware"
	"github.com/gatherly/server/internal/api/problem"
	"github.com/gatherly/server/internal/domain/events"
	"github.com/gatherly/server/internal/domain/ids"
	"github.com/gatherly/server/internal/media"
	"github.com/gatherly/server/internal/metrics"
)

type EventsHandler struct {
	Service *events.Service
	Media   media.Store
	Env     string
}

func NewEventsHandler(service *events.Service, store media.Store, env string) *EventsHandler {
	return &EventsHandler{Service: service, Media: store, Env: env}
}

type eventResponse struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Date          string          `json:"date"`
	Time          string          `json:"time"`
	Location      string          `json:"location"`
	CoverURL      string          `json:"cover_url,omitempty"`
	IsPrivate     bool            `json:"is_private"`
	CreatedBy     string          `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	AttendeeCount int             `json:"attendees_count"`
	IsAttending   bool            `json:"is_attending"`
	Images        []imageResponse `json:"images,omitempty"`
}

type imageResponse struct {
	ID         int64     `json:"id"`
	URL        string    `json:"url"`
	UploadedAt time.Time `json:"uploaded_at"`
}

func (h *EventsHandler) toResponse(event *events.Event) eventResponse {
	resp := eventResponse{
		ID:            event.ID,
		Title:         event.Title,
		Description:   event.Description,
		Date:          event.Date.Format("2006-01-02"),
		Time:          event.Time,
		Location:      event.Location,
		CoverURL:      h.Media.URL(event.CoverKey),
		IsPrivate:     event.IsPrivate,
		CreatedBy:     event.CreatedBy,
		CreatedAt:     event.CreatedAt,
		UpdatedAt:     event.UpdatedAt,
		AttendeeCount: event.AttendeeCount,
		IsAttending:   event.IsAttending,
	}
	for _, img := range event.Images {
		resp.Images = append(resp.Images, imageResponse{
			ID:         img.ID,
			URL:        h.Media.URL(img.FileKey),
			UploadedAt: img.UploadedAt,
		})
	}
	return resp
}

type listResponse struct {
	Items []eventResponse `json:"items"`
	Count int             `json:"count"`
}

func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	filters, err := events.ParseFilters(r.URL.Query(), true)
	if err != nil {
		writeDomainError(w, r, err, h.Env)
		return
	}

	items, err := h.Service.List(r.Context(), middleware.UserID(r.Context()), filters)
	if err != nil {
		writeDomainError(w, r, err, h.Env)
		return
	}

	resp := listResponse{Items: make([]eventResponse, 0, len(items))}
	for i := range items {
		resp.Items = append(resp.Items, h.toResponse(&items[i]))
	}
	resp.Count = len(resp.Items)
	writeJSON(w, http.StatusOK, resp)
}

func (h *EventsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := eventID(w, r, h.Env)
	if !ok {
		return
	}

	event, err := h.Service.Get(r.Context(), id, middleware.UserID(r.Context()))
	if err != nil {
		writeDomainError(w, r, err, h.Env)
		return
	}
	writeJSON(w, http.StatusOK, h.toResponse(event))
}

func (h *EventsHandler) Create(w http.ResponseWriter, r *http.Request) {
	input, cover, gallery, err := decodeEventForm(r)
	if err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		return
	}

	event, err := h.Service.Create(r.Context(), middleware.UserID(r.Context()), input, cover, gallery)
	if err != nil {
		writeDomainError(w, r, err, h.Env)
		return
	}

	visibility := "public"
	if event.IsPrivate {
		visibility = "private"
	}
	metrics.EventsCreatedTotal.WithLabelValues(visibility).Inc()
	if cover != nil {
		metrics.ImagesUploadedTotal.WithLabelValues("cover").Inc()
	}
	metrics.ImagesUploadedTotal.WithLabelValues("gallery").Add(float64(len(event.Images)))

	w.Header().Set("Location", "/api/v1/events/"+event.ID)
	writeJSON(w, http.StatusCreated, h.toResponse(event))
}

func (h *EventsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := eventID(w, r, h.Env)
	if !ok {
		return
	}

	input, cover, gallery, err := decodeEventForm(r)
	if err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		return
	}

	event, err := h.Service.Update(r.Context(), middleware.UserID(r.Context()), id, input, cover, gallery)
	if err != nil {
		writeDomainError(w, r, err, h.Env)
		return
	}
	writeJSON(w, http.StatusOK, h.toResponse(event))
}

func (h *EventsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := eventID(w, r, h.Env)
	if !ok {
		return
	}

	if err := h.Service.Delete(r.Context(), middleware.UserID(r.Context()), id); err != nil {
		writeDomainError(w, r, err, h.Env)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeEventForm reads event fields from either a JSON body or a multipart
// form. Only multipart submissions can carry files.
func decodeEventForm(r *http.Request) (events.Input, *events.Upload, []events.Upload, error) {
	contentType := r.Header.Get("Content-Type")

	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(middleware.UploadMaxBodySize); err != nil {
			return events.Input{}, nil, nil, err
		}
		input := events.Input{
			Title:       r.FormValue("title"),
			Description: r.FormValue("description"),
			Date:        r.FormValue("date"),
			Time:        r.FormValue("time"),
			Location:    r.FormValue("location"),
			IsPrivate:   r.FormValue("is_private") == "true" || r.FormValue("is_private") == "on",
		}
		cover := formFileUpload(r.MultipartForm, "cover_image")
		gallery := formFileUploads(r.MultipartForm, "images")
		return input, cover, gallery, nil
	}

	var input events.Input
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		return events.Input{}, nil, nil, err
	}
	return input, nil, nil, nil
}

func formFileUpload(form *multipart.Form, field string) *events.Upload {
	uploads := formFileUploads(form, field)
	if len(uploads) == 0 {
		return nil
	}
	return &uploads[0]
}

func formFileUploads(form *multipart.Form, field string) []events.Upload {
	if form == nil {
		return nil
	}
	var uploads []events.Upload
	for _, header := range form.File[field] {
		file, err := header.Open()
		if err != nil {
			continue
		}
		uploads = append(uploads, events.Upload{Filename: header.Filename, Content: file})
	}
	return uploads
}

// eventID pulls and validates the {id} path segment.
func eventID(w http.ResponseWriter, r *http.Request, env string) (string, bool) {
	id := strings.TrimSpace(r.PathValue("id"))
	if err := ids.ValidateULID(id); err != nil {
		// An ill-formed ID can never exist, and not-found keeps the
		// response indistinguishable from a hidden event.
		problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Not found", events.ErrNotFound, env)
		return "", false
	}
	return ids.Normalize(id), true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeDomainError maps domain errors onto problem responses.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error, env string) {
	var verr events.ValidationError
	var ferr events.FieldError
	var capErr events.CapacityError

	switch {
	case errors.Is(err, events.ErrNotFound):
		problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Not found", err, env)
	case errors.Is(err, events.ErrForbidden):
		problem.Write(w, r, http.StatusForbidden, problem.TypeForbidden, "Forbidden", err, env)
	case errors.As(err, &verr):
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, env,
			problem.WithErrors(verr.ByField()))
	case errors.As(err, &ferr):
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, env,
			problem.WithErrors(map[string]string{ferr.Field: ferr.Message}))
	case errors.As(err, &capErr):
		problem.Write(w, r, http.StatusConflict, problem.TypeCapacity, "Image limit reached", err, env)
	default:
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, env)
	}
}
