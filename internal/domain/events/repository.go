package events

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound covers both nonexistent events and events the caller may not
// see. The two cases are deliberately indistinguishable so private events do
// not leak their existence.
var ErrNotFound = errors.New("event not found")

// ErrForbidden indicates the actor can see the event but does not own it.
var ErrForbidden = errors.New("not the event owner")

// MaxImagesPerEvent caps the gallery size per event.
const MaxImagesPerEvent = 5

type Event struct {
	ID            string
	Title         string
	Description   string
	Date          time.Time // calendar date, UTC midnight
	Time          string    // time of day, "15:04"
	Location      string
	CoverKey      string // stored-file key, empty when no cover
	IsPrivate     bool
	CreatedBy     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	AttendeeCount int
	IsAttending   bool // for the viewer the event was loaded for
	Images        []Image
}

// IsUpcoming reports whether the event date is today or later.
func (e *Event) IsUpcoming(today time.Time) bool {
	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	return !e.Date.Before(day)
}

// StartsAt combines date and time into a sortable instant.
func (e *Event) StartsAt() time.Time {
	parsed, err := time.Parse("15:04", e.Time)
	if err != nil {
		return e.Date
	}
	return e.Date.Add(time.Duration(parsed.Hour())*time.Hour + time.Duration(parsed.Minute())*time.Minute)
}

type Image struct {
	ID         int64
	EventID    string
	FileKey    string
	UploadedAt time.Time
}

type RSVP struct {
	ID         int64
	EventID    string
	EventTitle string
	UserID     string
	Username   string
	CreatedAt  time.Time
}

type TimeWindow string

const (
	WindowAny      TimeWindow = ""
	WindowUpcoming TimeWindow = "upcoming"
	WindowPast     TimeWindow = "past"
)

type OrderBy string

const (
	OrderDefault OrderBy = "" // date, time ascending
	OrderDate    OrderBy = "date"
	OrderTime    OrderBy = "time"
	OrderTitle   OrderBy = "title"
)

type Filters struct {
	// Query narrows to events whose title or location (and description, when
	// SearchDescription is set) contains the text, case-insensitively.
	Query             string
	SearchDescription bool
	Window            TimeWindow
	IsPrivate         *bool
	Date              *time.Time
	Order             OrderBy
	Descending        bool
	// Today anchors the upcoming/past window; zero means time.Now().
	Today time.Time
}

type CreateParams struct {
	ID          string
	Title       string
	Description string
	Date        time.Time
	Time        string
	Location    string
	CoverKey    string
	IsPrivate   bool
	CreatedBy   string
	// ImageKeys are attached in the same transaction as the event insert.
	ImageKeys []string
}

type UpdateParams struct {
	Title       string
	Description string
	Date        time.Time
	Time        string
	Location    string
	CoverKey    *string // nil keeps the existing cover
	IsPrivate   bool
	// NewImageKeys are attached up to the remaining gallery capacity.
	NewImageKeys []string
}

// DeletedFiles lists stored-file keys released by a cascade delete so the
// caller can remove the blobs after the transaction commits.
type DeletedFiles struct {
	CoverKey  string
	ImageKeys []string
}

type Repository interface {
	// ListVisible returns the viewer's visible set: public events plus the
	// viewer's own when viewerID is non-empty. Ordered per filters, default
	// ascending (date, time).
	ListVisible(ctx context.Context, viewerID string, filters Filters) ([]Event, error)

	// GetByID loads an event with images, attendee count and the viewer's
	// attendance flag. Visibility is NOT checked here; callers go through
	// the service. Returns ErrNotFound when the id does not exist.
	GetByID(ctx context.Context, id string, viewerID string) (*Event, error)

	// Create inserts the event and up to MaxImagesPerEvent gallery images in
	// a single transaction.
	Create(ctx context.Context, params CreateParams) (*Event, error)

	// Update applies field changes and attaches new images up to the
	// remaining capacity, in a single transaction. Keys beyond capacity are
	// dropped; the returned event reflects the final state.
	Update(ctx context.Context, id string, params UpdateParams) (*Event, error)

	// Delete removes the event; RSVPs and images cascade. The released file
	// keys are returned for blob cleanup.
	Delete(ctx context.Context, id string) (DeletedFiles, error)

	// AttachImages inserts gallery images while holding a lock on the event
	// row, never exceeding MaxImagesPerEvent. Returns the images actually
	// inserted (a prefix of keys).
	AttachImages(ctx context.Context, eventID string, keys []string) ([]Image, error)

	// DeleteImage removes one gallery image belonging to eventID and returns
	// its file key. ErrNotFound when the image is absent or belongs to
	// another event.
	DeleteImage(ctx context.Context, eventID string, imageID int64) (string, error)

	// ToggleRSVP flips the (event, user) attendance state and reports the
	// new state: true when the user is now attending.
	ToggleRSVP(ctx context.Context, eventID string, userID string) (bool, error)

	// Attendees returns usernames of attendees in RSVP insertion order.
	Attendees(ctx context.Context, eventID string) ([]string, error)

	// ListRSVPsByUser returns the user's RSVPs, newest first.
	ListRSVPsByUser(ctx context.Context, userID string) ([]RSVP, error)
}
