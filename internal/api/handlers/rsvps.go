package handlers

import (
	"net/http"
	"time"

	"github.com/gatherly/server/internal/api/middleware"
	"github.com/gatherly/server/internal/domain/events"
	"github.com/gatherly/server/internal/metrics"
)

type RSVPsHandler struct {
	Service *events.Service
	Env     string
}

func NewRSVPsHandler(service *events.Service, env string) *RSVPsHandler {
	return &RSVPsHandler{Service: service, Env: env}
}

type toggleResponse struct {
	EventID   string `json:"event_id"`
	Status    string `json:"status"` // rsvped or unrsvped
	Attending bool   `json:"attending"`
}

// Toggle flips the caller's attendance on the event.
func (h *RSVPsHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	id, ok := eventID(w, r, h.Env)
	if !ok {
		return
	}

	attending, err := h.Service.ToggleRSVP(r.Context(), middleware.UserID(r.Context()), id)
	if err != nil {
		writeDomainError(w, r, err, h.Env)
		return
	}

	status := "unrsvped"
	if attending {
		status = "rsvped"
	}
	metrics.RSVPTogglesTotal.WithLabelValues(status).Inc()

	writeJSON(w, http.StatusOK, toggleResponse{EventID: id, Status: status, Attending: attending})
}

type attendeesResponse struct {
	Count     int      `json:"count"`
	Usernames []string `json:"usernames"`
}

// Attendees lists who is attending a visible event.
func (h *RSVPsHandler) Attendees(w http.ResponseWriter, r *http.Request) {
	id, ok := eventID(w, r, h.Env)
	if !ok {
		return
	}

	count, usernames, err := h.Service.Attendees(r.Context(), id, middleware.UserID(r.Context()))
	if err != nil {
		writeDomainError(w, r, err, h.Env)
		return
	}
	if usernames == nil {
		usernames = []string{}
	}
	writeJSON(w, http.StatusOK, attendeesResponse{Count: count, Usernames: usernames})
}

type rsvpResponse struct {
	ID         int64     `json:"id"`
	EventID    string    `json:"event_id"`
	EventTitle string    `json:"event_title"`
	CreatedAt  time.Time `json:"created_at"`
}

// Mine lists the caller's RSVPs, newest first.
func (h *RSVPsHandler) Mine(w http.ResponseWriter, r *http.Request) {
	rsvps, err := h.Service.ListRSVPs(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		writeDomainError(w, r, err, h.Env)
		return
	}

	items := make([]rsvpResponse, 0, len(rsvps))
	for _, rsvp := range rsvps {
		items = append(items, rsvpResponse{
			ID:         rsvp.ID,
			EventID:    rsvp.EventID,
			EventTitle: rsvp.EventTitle,
			CreatedAt:  rsvp.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}
