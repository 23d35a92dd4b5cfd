package events

import (
	"context"
	"fmt"
	"io"

	"github.com/gatherly/server/internal/domain/ids"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// FileStore abstracts blob storage for cover and gallery images. Implemented
// by the media package (local filesystem or S3).
type FileStore interface {
	SaveCover(ctx context.Context, ownerID string, filename string, content io.Reader) (string, error)
	SaveGallery(ctx context.Context, eventID string, filename string, content io.Reader) (string, error)
	Remove(ctx context.Context, key string) error
}

// Upload is one submitted file.
type Upload struct {
	Filename string
	Content  io.Reader
}

type Service struct {
	repo   Repository
	files  FileStore
	logger zerolog.Logger
}

func NewService(repo Repository, files FileStore, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		files:  files,
		logger: logger.With().Str("component", "events").Logger(),
	}
}

// List returns the viewer's visible events: public ones, plus the viewer's
// own private ones when authenticated.
func (s *Service) List(ctx context.Context, viewerID string, filters Filters) ([]Event, error) {
	return s.repo.ListVisible(ctx, viewerID, filters)
}

// Get fetches one event, hiding existence from viewers who may not see it:
// a missing id and a denied view both return ErrNotFound.
func (s *Service) Get(ctx context.Context, id string, viewerID string) (*Event, error) {
	event, err := s.repo.GetByID(ctx, id, viewerID)
	if err != nil {
		return nil, err
	}
	if !CanView(event, viewerID) {
		return nil, ErrNotFound
	}
	return event, nil
}

// Create persists a new event owned by ownerID and attaches up to
// MaxImagesPerEvent of the submitted gallery files; extras are dropped
// without error. The event insert and image attach share one transaction, so
// a failed attach leaves nothing behind.
func (s *Service) Create(ctx context.Context, ownerID string, input Input, cover *Upload, gallery []Upload) (*Event, error) {
	if ownerID == "" {
		return nil, ErrForbidden
	}
	fields, err := ValidateInput(input)
	if err != nil {
		return nil, err
	}

	id, err := ids.NewULID()
	if err != nil {
		return nil, fmt.Errorf("mint event id: %w", err)
	}

	var coverKey string
	if cover != nil {
		coverKey, err = s.files.SaveCover(ctx, ownerID, cover.Filename, cover.Content)
		if err != nil {
			return nil, fmt.Errorf("store cover image: %w", err)
		}
	}

	if len(gallery) > MaxImagesPerEvent {
		gallery = gallery[:MaxImagesPerEvent]
	}
	imageKeys, err := s.storeGallery(ctx, id, gallery)
	if err != nil {
		s.removeFiles(ctx, coverKey)
		return nil, err
	}

	event, err := s.repo.Create(ctx, CreateParams{
		ID:          id,
		Title:       fields.Title,
		Description: fields.Description,
		Date:        fields.Date,
		Time:        fields.Time,
		Location:    fields.Location,
		CoverKey:    coverKey,
		IsPrivate:   fields.IsPrivate,
		CreatedBy:   ownerID,
		ImageKeys:   imageKeys,
	})
	if err != nil {
		s.removeFiles(ctx, append(imageKeys, coverKey)...)
		return nil, err
	}

	s.logger.Info().Str("event_id", event.ID).Str("owner", ownerID).Int("images", len(imageKeys)).Msg("event created")
	return event, nil
}

// Update applies field changes and attaches min(len(gallery), remaining
// capacity) new images, dropping the rest silently. The ownership check is
// folded into the lookup: events invisible to the actor read as ErrNotFound,
// visible-but-not-owned events as ErrForbidden.
func (s *Service) Update(ctx context.Context, actorID string, id string, input Input, cover *Upload, gallery []Upload) (*Event, error) {
	existing, err := s.authorizeWrite(ctx, id, actorID)
	if err != nil {
		return nil, err
	}

	fields, err := ValidateInput(input)
	if err != nil {
		return nil, err
	}

	var coverKey *string
	var oldCover string
	if cover != nil {
		key, err := s.files.SaveCover(ctx, actorID, cover.Filename, cover.Content)
		if err != nil {
			return nil, fmt.Errorf("store cover image: %w", err)
		}
		coverKey = &key
		oldCover = existing.CoverKey
	}

	remaining := MaxImagesPerEvent - len(existing.Images)
	if remaining < 0 {
		remaining = 0
	}
	if len(gallery) > remaining {
		gallery = gallery[:remaining]
	}
	imageKeys, err := s.storeGallery(ctx, id, gallery)
	if err != nil {
		if coverKey != nil {
			s.removeFiles(ctx, *coverKey)
		}
		return nil, err
	}

	event, err := s.repo.Update(ctx, id, UpdateParams{
		Title:        fields.Title,
		Description:  fields.Description,
		Date:         fields.Date,
		Time:         fields.Time,
		Location:     fields.Location,
		CoverKey:     coverKey,
		IsPrivate:    fields.IsPrivate,
		NewImageKeys: imageKeys,
	})
	if err != nil {
		s.removeFiles(ctx, imageKeys...)
		if coverKey != nil {
			s.removeFiles(ctx, *coverKey)
		}
		return nil, err
	}

	// The repository re-checks capacity under the row lock and may drop
	// keys a concurrent writer claimed first; release those blobs.
	if dropped := droppedKeys(imageKeys, event.Images); len(dropped) > 0 {
		s.removeFiles(ctx, dropped...)
	}

	if oldCover != "" {
		s.removeFiles(ctx, oldCover)
	}
	s.logger.Info().Str("event_id", id).Int("new_images", len(imageKeys)).Msg("event updated")
	return event, nil
}

// droppedKeys returns the stored keys absent from the event's final gallery.
func droppedKeys(stored []string, images []Image) []string {
	if len(stored) == 0 {
		return nil
	}
	kept := make(map[string]struct{}, len(images))
	for _, img := range images {
		kept[img.FileKey] = struct{}{}
	}
	var dropped []string
	for _, key := range stored {
		if _, ok := kept[key]; !ok {
			dropped = append(dropped, key)
		}
	}
	return dropped
}

// Delete removes the event with cascading RSVP and image deletion, then
// cleans up the stored files.
func (s *Service) Delete(ctx context.Context, actorID string, id string) error {
	if _, err := s.authorizeWrite(ctx, id, actorID); err != nil {
		return err
	}

	released, err := s.repo.Delete(ctx, id)
	if err != nil {
		return err
	}

	s.removeFiles(ctx, append(released.ImageKeys, released.CoverKey)...)
	s.logger.Info().Str("event_id", id).Msg("event deleted")
	return nil
}

// ToggleRSVP flips the caller's attendance. Visibility is required but
// ownership is not; invisible events read as ErrNotFound. Returns true when
// the caller is now attending.
func (s *Service) ToggleRSVP(ctx context.Context, userID string, id string) (bool, error) {
	if userID == "" {
		return false, ErrNotFound
	}
	event, err := s.repo.GetByID(ctx, id, userID)
	if err != nil {
		return false, err
	}
	if !CanView(event, userID) {
		return false, ErrNotFound
	}
	return s.repo.ToggleRSVP(ctx, id, userID)
}

// Attendees returns the attendee count and usernames, subject to visibility.
func (s *Service) Attendees(ctx context.Context, id string, viewerID string) (int, []string, error) {
	event, err := s.repo.GetByID(ctx, id, viewerID)
	if err != nil {
		return 0, nil, err
	}
	if !CanView(event, viewerID) {
		return 0, nil, ErrNotFound
	}
	names, err := s.repo.Attendees(ctx, id)
	if err != nil {
		return 0, nil, err
	}
	return len(names), names, nil
}

// AttachImages stores and attaches gallery files to an owned event. Unlike
// create/update, attaching to a full gallery is an explicit capacity error
// rather than a silent drop.
func (s *Service) AttachImages(ctx context.Context, actorID string, id string, gallery []Upload) ([]Image, error) {
	existing, err := s.authorizeWrite(ctx, id, actorID)
	if err != nil {
		return nil, err
	}
	if err := ValidateImageCap(id, len(existing.Images), len(gallery) > 0); err != nil {
		return nil, err
	}

	remaining := MaxImagesPerEvent - len(existing.Images)
	if len(gallery) > remaining {
		gallery = gallery[:remaining]
	}
	keys, err := s.storeGallery(ctx, id, gallery)
	if err != nil {
		return nil, err
	}

	images, err := s.repo.AttachImages(ctx, id, keys)
	if err != nil {
		s.removeFiles(ctx, keys...)
		return nil, err
	}
	// The repo may attach fewer than requested if a concurrent upload won
	// the race; drop the blobs that did not make it in.
	for _, key := range keys[len(images):] {
		s.removeFiles(ctx, key)
	}
	return images, nil
}

// DeleteImage removes one gallery image from an owned event.
func (s *Service) DeleteImage(ctx context.Context, actorID string, eventID string, imageID int64) error {
	if _, err := s.authorizeWrite(ctx, eventID, actorID); err != nil {
		return err
	}
	key, err := s.repo.DeleteImage(ctx, eventID, imageID)
	if err != nil {
		return err
	}
	s.removeFiles(ctx, key)
	return nil
}

// ListRSVPs returns the caller's own RSVPs.
func (s *Service) ListRSVPs(ctx context.Context, userID string) ([]RSVP, error) {
	if userID == "" {
		return nil, nil
	}
	return s.repo.ListRSVPsByUser(ctx, userID)
}

// authorizeWrite folds the ownership check into the lookup. Invisible events
// are reported as ErrNotFound so write attempts cannot probe for private
// events; visible events owned by someone else are ErrForbidden.
func (s *Service) authorizeWrite(ctx context.Context, id string, actorID string) (*Event, error) {
	event, err := s.repo.GetByID(ctx, id, actorID)
	if err != nil {
		return nil, err
	}
	if !CanView(event, actorID) {
		return nil, ErrNotFound
	}
	if !CanModify(event, actorID) {
		return nil, ErrForbidden
	}
	return event, nil
}

// storeGallery writes the submitted files concurrently and returns their
// keys in submission order.
func (s *Service) storeGallery(ctx context.Context, eventID string, gallery []Upload) ([]string, error) {
	if len(gallery) == 0 {
		return nil, nil
	}
	keys := make([]string, len(gallery))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, upload := range gallery {
		group.Go(func() error {
			key, err := s.files.SaveGallery(groupCtx, eventID, upload.Filename, upload.Content)
			if err != nil {
				return fmt.Errorf("store gallery image %q: %w", upload.Filename, err)
			}
			keys[i] = key
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		for _, key := range keys {
			if key != "" {
				s.removeFiles(ctx, key)
			}
		}
		return nil, err
	}
	return keys, nil
}

// removeFiles deletes blobs best-effort; failures are logged, not returned,
// since the database is the source of truth and orphaned blobs are harmless.
func (s *Service) removeFiles(ctx context.Context, keys ...string) {
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := s.files.Remove(ctx, key); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("blob cleanup failed")
		}
	}
}
