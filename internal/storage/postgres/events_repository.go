package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gatherly/server/internal/domain/events"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ events.Repository = (*EventRepository)(nil)

type EventRepository struct {
	pool *pgxpool.Pool
}

type eventRow struct {
	ID          string
	Title       string
	Description string
	Date        pgtype.Date
	Time        string
	Location    string
	CoverKey    *string
	IsPrivate   bool
	CreatedBy   string
	CreatedAt   pgtype.Timestamptz
	UpdatedAt   pgtype.Timestamptz
	Attendees   int
	IsAttending bool
}

func (row eventRow) toEvent() events.Event {
	event := events.Event{
		ID:            row.ID,
		Title:         row.Title,
		Description:   row.Description,
		Time:          row.Time,
		Location:      row.Location,
		CoverKey:      derefString(row.CoverKey),
		IsPrivate:     row.IsPrivate,
		CreatedBy:     row.CreatedBy,
		AttendeeCount: row.Attendees,
		IsAttending:   row.IsAttending,
	}
	if row.Date.Valid {
		event.Date = row.Date.Time.UTC()
	}
	if row.CreatedAt.Valid {
		event.CreatedAt = row.CreatedAt.Time
	}
	if row.UpdatedAt.Valid {
		event.UpdatedAt = row.UpdatedAt.Time
	}
	return event
}

const eventColumns = `e.id, e.title, e.description, e.date, e.event_time, e.location,
       e.cover_key, e.is_private, e.created_by, e.created_at, e.updated_at,
       (SELECT count(*) FROM rsvps r WHERE r.event_id = e.id) AS attendee_count,
       EXISTS(SELECT 1 FROM rsvps r WHERE r.event_id = e.id AND r.user_id = $1) AS is_attending`

// ListVisible returns events the viewer may see: public events plus the
// viewer's own private ones. The visibility predicate and all filters are
// applied in SQL so the result set is already scoped and ordered.
func (r *EventRepository) ListVisible(ctx context.Context, viewerID string, filters events.Filters) ([]events.Event, error) {
	var sb strings.Builder
	sb.WriteString("SELECT " + eventColumns + "\n  FROM events e\n WHERE (NOT e.is_private OR e.created_by = $1)")

	args := []any{nullableText(viewerID)}

	if filters.Query != "" {
		args = append(args, filters.Query)
		n := len(args)
		if filters.SearchDescription {
			fmt.Fprintf(&sb, "\n   AND (e.title ILIKE '%%' || $%d || '%%' OR e.location ILIKE '%%' || $%d || '%%' OR e.description ILIKE '%%' || $%d || '%%')", n, n, n)
		} else {
			fmt.Fprintf(&sb, "\n   AND (e.title ILIKE '%%' || $%d || '%%' OR e.location ILIKE '%%' || $%d || '%%')", n, n)
		}
	}

	today := filters.Today
	if today.IsZero() {
		today = time.Now().UTC().Truncate(24 * time.Hour)
	}
	switch filters.Window {
	case events.WindowUpcoming:
		args = append(args, today)
		fmt.Fprintf(&sb, "\n   AND e.date >= $%d", len(args))
	case events.WindowPast:
		args = append(args, today)
		fmt.Fprintf(&sb, "\n   AND e.date < $%d", len(args))
	}

	if filters.IsPrivate != nil {
		args = append(args, *filters.IsPrivate)
		fmt.Fprintf(&sb, "\n   AND e.is_private = $%d", len(args))
	}
	if filters.Date != nil {
		args = append(args, *filters.Date)
		fmt.Fprintf(&sb, "\n   AND e.date = $%d", len(args))
	}

	sb.WriteString("\n ORDER BY " + orderClause(filters.Order, filters.Descending))

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var items []events.Event
	for rows.Next() {
		var row eventRow
		if err := scanEventRow(rows, &row); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		items = append(items, row.toEvent())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return items, nil
}

// GetByID fetches a single event with its gallery images. Visibility is not
// checked here; the service decides what the viewer may see.
func (r *EventRepository) GetByID(ctx context.Context, id string, viewerID string) (*events.Event, error) {
	row := r.pool.QueryRow(ctx, "SELECT "+eventColumns+" FROM events e WHERE e.id = $2", nullableText(viewerID), id)

	var er eventRow
	if err := scanEventRow(row, &er); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, events.ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	event := er.toEvent()

	images, err := r.listImages(ctx, r.pool, id)
	if err != nil {
		return nil, err
	}
	event.Images = images
	return &event, nil
}

// Create inserts the event row and its initial gallery images in one
// transaction.
func (r *EventRepository) Create(ctx context.Context, params events.CreateParams) (*events.Event, error) {
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
INSERT INTO events (id, title, description, date, event_time, location, cover_key, is_private, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			params.ID, params.Title, params.Description, params.Date, params.Time,
			params.Location, nullableText(params.CoverKey), params.IsPrivate, params.CreatedBy,
		)
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		for _, key := range params.ImageKeys {
			if _, err := tx.Exec(ctx,
				`INSERT INTO event_images (event_id, file_key) VALUES ($1, $2)`,
				params.ID, key,
			); err != nil {
				return fmt.Errorf("insert event image: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, params.ID, params.CreatedBy)
}

// Update rewrites the event's fields and attaches any new gallery images in
// one transaction. The UPDATE itself takes the row lock, so the count below
// cannot race another Update or AttachImages; keys beyond the remaining
// capacity are dropped. A nil CoverKey keeps the current cover.
func (r *EventRepository) Update(ctx context.Context, id string, params events.UpdateParams) (*events.Event, error) {
	var viewerID string
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
UPDATE events
   SET title = $2, description = $3, date = $4, event_time = $5, location = $6,
       cover_key = COALESCE($7, cover_key), is_private = $8, updated_at = now()
 WHERE id = $1
RETURNING created_by`,
			id, params.Title, params.Description, params.Date, params.Time,
			params.Location, params.CoverKey, params.IsPrivate,
		)
		if err := row.Scan(&viewerID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return events.ErrNotFound
			}
			return fmt.Errorf("update event: %w", err)
		}

		keys := params.NewImageKeys
		if len(keys) > 0 {
			var current int
			if err := tx.QueryRow(ctx, `SELECT count(*) FROM event_images WHERE event_id = $1`, id).Scan(&current); err != nil {
				return fmt.Errorf("count event images: %w", err)
			}
			if remaining := events.MaxImagesPerEvent - current; len(keys) > remaining {
				if remaining < 0 {
					remaining = 0
				}
				keys = keys[:remaining]
			}
		}
		for _, key := range keys {
			if _, err := tx.Exec(ctx,
				`INSERT INTO event_images (event_id, file_key) VALUES ($1, $2)`,
				id, key,
			); err != nil {
				return fmt.Errorf("insert event image: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id, viewerID)
}

// Delete removes the event; RSVPs and image rows go with it via ON DELETE
// CASCADE. The stored file keys are collected first so the caller can release
// the blobs.
func (r *EventRepository) Delete(ctx context.Context, id string) (events.DeletedFiles, error) {
	var released events.DeletedFiles
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT file_key FROM event_images WHERE event_id = $1`, id)
		if err != nil {
			return fmt.Errorf("list event images: %w", err)
		}
		released.ImageKeys, err = pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return fmt.Errorf("collect image keys: %w", err)
		}

		var coverKey *string
		if err := tx.QueryRow(ctx, `DELETE FROM events WHERE id = $1 RETURNING cover_key`, id).Scan(&coverKey); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return events.ErrNotFound
			}
			return fmt.Errorf("delete event: %w", err)
		}
		released.CoverKey = derefString(coverKey)
		return nil
	})
	if err != nil {
		return events.DeletedFiles{}, err
	}
	return released, nil
}

// AttachImages adds gallery rows under the five image cap. The parent row is
// locked first so two concurrent attaches cannot both read a count under the
// cap and overfill it.
func (r *EventRepository) AttachImages(ctx context.Context, eventID string, keys []string) ([]events.Image, error) {
	var attached []events.Image
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		var locked string
		if err := tx.QueryRow(ctx, `SELECT id FROM events WHERE id = $1 FOR UPDATE`, eventID).Scan(&locked); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return events.ErrNotFound
			}
			return fmt.Errorf("lock event: %w", err)
		}

		var current int
		if err := tx.QueryRow(ctx, `SELECT count(*) FROM event_images WHERE event_id = $1`, eventID).Scan(&current); err != nil {
			return fmt.Errorf("count event images: %w", err)
		}

		remaining := events.MaxImagesPerEvent - current
		if remaining <= 0 {
			return events.CapacityError{EventID: eventID, Limit: events.MaxImagesPerEvent}
		}
		if len(keys) > remaining {
			keys = keys[:remaining]
		}

		for _, key := range keys {
			var img events.Image
			err := tx.QueryRow(ctx, `
INSERT INTO event_images (event_id, file_key) VALUES ($1, $2)
RETURNING id, event_id, file_key, uploaded_at`,
				eventID, key,
			).Scan(&img.ID, &img.EventID, &img.FileKey, &img.UploadedAt)
			if err != nil {
				return fmt.Errorf("insert event image: %w", err)
			}
			attached = append(attached, img)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return attached, nil
}

// DeleteImage removes one gallery row, returning its file key for blob
// cleanup. The image must belong to the addressed event.
func (r *EventRepository) DeleteImage(ctx context.Context, eventID string, imageID int64) (string, error) {
	var fileKey string
	err := r.pool.QueryRow(ctx,
		`DELETE FROM event_images WHERE id = $1 AND event_id = $2 RETURNING file_key`,
		imageID, eventID,
	).Scan(&fileKey)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", events.ErrNotFound
		}
		return "", fmt.Errorf("delete event image: %w", err)
	}
	return fileKey, nil
}

// ToggleRSVP flips the (event, user) attendance row. The insert relies on the
// unique constraint, so two concurrent toggles by the same user cannot create
// a duplicate: one inserts, the other falls through to the delete.
func (r *EventRepository) ToggleRSVP(ctx context.Context, eventID string, userID string) (bool, error) {
	var attending bool
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
INSERT INTO rsvps (event_id, user_id) VALUES ($1, $2)
ON CONFLICT (event_id, user_id) DO NOTHING`,
			eventID, userID,
		)
		if err != nil {
			return fmt.Errorf("insert rsvp: %w", err)
		}
		if tag.RowsAffected() == 1 {
			attending = true
			return nil
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM rsvps WHERE event_id = $1 AND user_id = $2`,
			eventID, userID,
		); err != nil {
			return fmt.Errorf("delete rsvp: %w", err)
		}
		attending = false
		return nil
	})
	if err != nil {
		return false, err
	}
	return attending, nil
}

// Attendees returns the usernames of everyone attending, oldest RSVP first.
func (r *EventRepository) Attendees(ctx context.Context, eventID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
SELECT u.username
  FROM rsvps r
  JOIN users u ON u.id = r.user_id
 WHERE r.event_id = $1
 ORDER BY r.created_at ASC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list attendees: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect attendees: %w", err)
	}
	return names, nil
}

// ListRSVPsByUser returns the user's RSVPs with event titles, newest first.
func (r *EventRepository) ListRSVPsByUser(ctx context.Context, userID string) ([]events.RSVP, error) {
	rows, err := r.pool.Query(ctx, `
SELECT r.id, r.event_id, e.title, r.user_id, u.username, r.created_at
  FROM rsvps r
  JOIN events e ON e.id = r.event_id
  JOIN users u ON u.id = r.user_id
 WHERE r.user_id = $1
 ORDER BY r.created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list rsvps: %w", err)
	}
	defer rows.Close()

	var out []events.RSVP
	for rows.Next() {
		var rsvp events.RSVP
		var createdAt pgtype.Timestamptz
		if err := rows.Scan(&rsvp.ID, &rsvp.EventID, &rsvp.EventTitle, &rsvp.UserID, &rsvp.Username, &createdAt); err != nil {
			return nil, fmt.Errorf("scan rsvp: %w", err)
		}
		if createdAt.Valid {
			rsvp.CreatedAt = createdAt.Time
		}
		out = append(out, rsvp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rsvps: %w", err)
	}
	return out, nil
}

func (r *EventRepository) listImages(ctx context.Context, pool *pgxpool.Pool, eventID string) ([]events.Image, error) {
	rows, err := pool.Query(ctx, `
SELECT id, event_id, file_key, uploaded_at
  FROM event_images
 WHERE event_id = $1
 ORDER BY uploaded_at ASC, id ASC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list event images: %w", err)
	}
	defer rows.Close()

	var images []events.Image
	for rows.Next() {
		var img events.Image
		var uploadedAt pgtype.Timestamptz
		if err := rows.Scan(&img.ID, &img.EventID, &img.FileKey, &uploadedAt); err != nil {
			return nil, fmt.Errorf("scan event image: %w", err)
		}
		if uploadedAt.Valid {
			img.UploadedAt = uploadedAt.Time
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event images: %w", err)
	}
	return images, nil
}

func scanEventRow(row pgx.Row, er *eventRow) error {
	return row.Scan(
		&er.ID,
		&er.Title,
		&er.Description,
		&er.Date,
		&er.Time,
		&er.Location,
		&er.CoverKey,
		&er.IsPrivate,
		&er.CreatedBy,
		&er.CreatedAt,
		&er.UpdatedAt,
		&er.Attendees,
		&er.IsAttending,
	)
}

func orderClause(order events.OrderBy, descending bool) string {
	direction := "ASC"
	if descending {
		direction = "DESC"
	}
	switch order {
	case events.OrderDate:
		return "e.date " + direction + ", e.event_time " + direction + ", e.id ASC"
	case events.OrderTime:
		return "e.event_time " + direction + ", e.date " + direction + ", e.id ASC"
	case events.OrderTitle:
		return "e.title " + direction + ", e.id ASC"
	default:
		return "e.date ASC, e.event_time ASC, e.id ASC"
	}
}
