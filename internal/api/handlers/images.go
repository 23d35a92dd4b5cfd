package handlers

import (
	"net/http"
	"strconv"

	"github.com/gatherly/server/internal/api/middleware"
	"github.com/gatherly/server/internal/api/problem"
	"github.com/gatherly/server/internal/domain/events"
	"github.com/gatherly/server/internal/media"
	"github.com/gatherly/server/internal/metrics"
)

type ImagesHandler struct {
	Service *events.Service
	Media   media.Store
	Env     string
}

func NewImagesHandler(service *events.Service, store media.Store, env string) *ImagesHandler {
	return &ImagesHandler{Service: service, Media: store, Env: env}
}

// Attach adds gallery images to an owned event, up to the per-event cap.
func (h *ImagesHandler) Attach(w http.ResponseWriter, r *http.Request) {
	id, ok := eventID(w, r, h.Env)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(middleware.UploadMaxBodySize); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		return
	}
	gallery := formFileUploads(r.MultipartForm, "images")
	if len(gallery) == 0 {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", nil, h.Env,
			problem.WithDetail("no image files submitted"))
		return
	}

	attached, err := h.Service.AttachImages(r.Context(), middleware.UserID(r.Context()), id, gallery)
	if err != nil {
		writeDomainError(w, r, err, h.Env)
		return
	}
	metrics.ImagesUploadedTotal.WithLabelValues("gallery").Add(float64(len(attached)))

	items := make([]imageResponse, 0, len(attached))
	for _, img := range attached {
		items = append(items, imageResponse{
			ID:         img.ID,
			URL:        h.Media.URL(img.FileKey),
			UploadedAt: img.UploadedAt,
		})
	}
	writeJSON(w, http.StatusCreated, map[string]any{"items": items, "count": len(items)})
}

// Delete removes one gallery image from an owned event.
func (h *ImagesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := eventID(w, r, h.Env)
	if !ok {
		return
	}

	imageID, err := strconv.ParseInt(r.PathValue("imageID"), 10, 64)
	if err != nil {
		problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Not found", events.ErrNotFound, h.Env)
		return
	}

	if err := h.Service.DeleteImage(r.Context(), middleware.UserID(r.Context()), id, imageID); err != nil {
		writeDomainError(w, r, err, h.Env)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
