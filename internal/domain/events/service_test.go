package events

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// memRepo is a map-backed Repository for service tests. It mirrors the
// storage-layer contract: cap enforcement under the per-event lock on update
// and attach, unique (event, user) toggles, cascade delete. The mutex stands
// in for the row lock, so concurrent callers see the same serialization the
// database gives them.
type memRepo struct {
	mu        sync.Mutex
	events    map[string]*Event
	rsvps     map[string]map[string]bool // eventID -> userID -> attending
	usernames map[string]string
	nextImage int64
}

func newMemRepo() *memRepo {
	return &memRepo{
		events:    make(map[string]*Event),
		rsvps:     make(map[string]map[string]bool),
		usernames: make(map[string]string),
	}
}

func (m *memRepo) ListVisible(_ context.Context, viewerID string, filters Filters) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.IsPrivate && e.CreatedBy != viewerID {
			continue
		}
		if filters.Query != "" {
			q := strings.ToLower(filters.Query)
			if !strings.Contains(strings.ToLower(e.Title), q) && !strings.Contains(strings.ToLower(e.Location), q) {
				continue
			}
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartsAt().Before(out[j].StartsAt())
	})
	return out, nil
}

func (m *memRepo) GetByID(_ context.Context, id string, viewerID string) (*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *e
	copied.Images = append([]Image(nil), e.Images...)
	copied.AttendeeCount = len(m.rsvps[id])
	copied.IsAttending = viewerID != "" && m.rsvps[id][viewerID]
	return &copied, nil
}

func (m *memRepo) Create(_ context.Context, params CreateParams) (*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := &Event{
		ID:          params.ID,
		Title:       params.Title,
		Description: params.Description,
		Date:        params.Date,
		Time:        params.Time,
		Location:    params.Location,
		CoverKey:    params.CoverKey,
		IsPrivate:   params.IsPrivate,
		CreatedBy:   params.CreatedBy,
		CreatedAt:   time.Now(),
	}
	for _, key := range params.ImageKeys {
		if len(e.Images) >= MaxImagesPerEvent {
			break
		}
		m.nextImage++
		e.Images = append(e.Images, Image{ID: m.nextImage, EventID: e.ID, FileKey: key})
	}
	m.events[e.ID] = e
	return e, nil
}

func (m *memRepo) Update(_ context.Context, id string, params UpdateParams) (*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	e.Title = params.Title
	e.Description = params.Description
	e.Date = params.Date
	e.Time = params.Time
	e.Location = params.Location
	e.IsPrivate = params.IsPrivate
	if params.CoverKey != nil {
		e.CoverKey = *params.CoverKey
	}
	for _, key := range params.NewImageKeys {
		if len(e.Images) >= MaxImagesPerEvent {
			break
		}
		m.nextImage++
		e.Images = append(e.Images, Image{ID: m.nextImage, EventID: id, FileKey: key})
	}
	e.UpdatedAt = time.Now()
	copied := *e
	copied.Images = append([]Image(nil), e.Images...)
	return &copied, nil
}

func (m *memRepo) Delete(_ context.Context, id string) (DeletedFiles, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return DeletedFiles{}, ErrNotFound
	}
	released := DeletedFiles{CoverKey: e.CoverKey}
	for _, img := range e.Images {
		released.ImageKeys = append(released.ImageKeys, img.FileKey)
	}
	delete(m.events, id)
	delete(m.rsvps, id)
	return released, nil
}

func (m *memRepo) AttachImages(_ context.Context, eventID string, keys []string) ([]Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[eventID]
	if !ok {
		return nil, ErrNotFound
	}
	if len(e.Images) >= MaxImagesPerEvent {
		return nil, CapacityError{EventID: eventID, Limit: MaxImagesPerEvent}
	}
	var attached []Image
	for _, key := range keys {
		if len(e.Images) >= MaxImagesPerEvent {
			break
		}
		m.nextImage++
		img := Image{ID: m.nextImage, EventID: eventID, FileKey: key}
		e.Images = append(e.Images, img)
		attached = append(attached, img)
	}
	return attached, nil
}

func (m *memRepo) DeleteImage(_ context.Context, eventID string, imageID int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[eventID]
	if !ok {
		return "", ErrNotFound
	}
	for i, img := range e.Images {
		if img.ID == imageID {
			e.Images = append(e.Images[:i], e.Images[i+1:]...)
			return img.FileKey, nil
		}
	}
	return "", ErrNotFound
}

func (m *memRepo) ToggleRSVP(_ context.Context, eventID string, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[eventID]; !ok {
		return false, ErrNotFound
	}
	if m.rsvps[eventID] == nil {
		m.rsvps[eventID] = make(map[string]bool)
	}
	if m.rsvps[eventID][userID] {
		delete(m.rsvps[eventID], userID)
		return false, nil
	}
	m.rsvps[eventID][userID] = true
	return true, nil
}

func (m *memRepo) Attendees(_ context.Context, eventID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for userID := range m.rsvps[eventID] {
		name := m.usernames[userID]
		if name == "" {
			name = userID
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *memRepo) ListRSVPsByUser(_ context.Context, userID string) ([]RSVP, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RSVP
	for eventID, users := range m.rsvps {
		if users[userID] {
			out = append(out, RSVP{EventID: eventID, EventTitle: m.events[eventID].Title, UserID: userID})
		}
	}
	return out, nil
}

// memFiles records stored blobs in memory.
type memFiles struct {
	mu      sync.Mutex
	saved   map[string][]byte
	removed []string
	failOn  string
}

func newMemFiles() *memFiles {
	return &memFiles{saved: make(map[string][]byte)}
}

func (f *memFiles) SaveCover(_ context.Context, ownerID, filename string, content io.Reader) (string, error) {
	return f.save(fmt.Sprintf("events/covers/%s/%s", ownerID, filename), content)
}

func (f *memFiles) SaveGallery(_ context.Context, eventID, filename string, content io.Reader) (string, error) {
	return f.save(fmt.Sprintf("events/gallery/%s/%s", eventID, filename), content)
}

func (f *memFiles) save(key string, content io.Reader) (string, error) {
	if f.failOn != "" && strings.Contains(key, f.failOn) {
		return "", fmt.Errorf("store unavailable")
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved[key] = data
	return key, nil
}

func (f *memFiles) Remove(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.saved, key)
	f.removed = append(f.removed, key)
	return nil
}

func newTestService() (*Service, *memRepo, *memFiles) {
	repo := newMemRepo()
	files := newMemFiles()
	return NewService(repo, files, zerolog.Nop()), repo, files
}

func upload(name string) Upload {
	return Upload{Filename: name, Content: bytes.NewReader([]byte("image-bytes"))}
}

const (
	userA = "aaaaaaaa-0000-4000-8000-000000000001"
	userB = "bbbbbbbb-0000-4000-8000-000000000002"
)

func TestCreateEventAttachesAtMostFiveImages(t *testing.T) {
	svc, _, files := newTestService()

	uploads := make([]Upload, 7)
	for i := range uploads {
		uploads[i] = upload(fmt.Sprintf("photo-%d.jpg", i))
	}

	event, err := svc.Create(context.Background(), userA, validInput(), nil, uploads)

	require.NoError(t, err)
	require.Len(t, event.Images, 5, "extras beyond the cap are dropped, not an error")
	require.Len(t, files.saved, 5, "only the attached files are stored")
}

func TestCreateEventRequiresAuthentication(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.Create(context.Background(), "", validInput(), nil, nil)

	require.ErrorIs(t, err, ErrForbidden)
}

func TestCreateEventValidationFailureStoresNothing(t *testing.T) {
	svc, repo, files := newTestService()

	_, err := svc.Create(context.Background(), userA, Input{}, &Upload{Filename: "cover.jpg", Content: bytes.NewReader(nil)}, nil)

	var verr ValidationError
	require.ErrorAs(t, err, &verr)
	require.Empty(t, repo.events)
	require.Empty(t, files.saved)
}

func TestCreateEventGalleryFailureCleansUpCover(t *testing.T) {
	svc, repo, files := newTestService()
	files.failOn = "gallery"

	_, err := svc.Create(context.Background(), userA, validInput(), &Upload{Filename: "cover.jpg", Content: bytes.NewReader([]byte("c"))}, []Upload{upload("a.jpg")})

	require.Error(t, err)
	require.Empty(t, repo.events)
	require.Empty(t, files.saved, "stored cover is removed when the gallery write fails")
}

func TestUpdateAttachesOnlyRemainingCapacity(t *testing.T) {
	svc, _, _ := newTestService()

	event, err := svc.Create(context.Background(), userA, validInput(), nil, []Upload{
		upload("1.jpg"), upload("2.jpg"), upload("3.jpg"), upload("4.jpg"),
	})
	require.NoError(t, err)
	require.Len(t, event.Images, 4)

	updated, err := svc.Update(context.Background(), userA, event.ID, validInput(), nil, []Upload{
		upload("5.jpg"), upload("6.jpg"), upload("7.jpg"),
	})

	require.NoError(t, err)
	require.Len(t, updated.Images, 5, "min(3, 5-4) = 1 new image attached")
}

func TestConcurrentUpdatesNeverExceedImageCap(t *testing.T) {
	svc, _, files := newTestService()

	event, err := svc.Create(context.Background(), userA, validInput(), nil, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Update(context.Background(), userA, event.ID, validInput(), nil, []Upload{
				upload(fmt.Sprintf("w%d-1.jpg", i)),
				upload(fmt.Sprintf("w%d-2.jpg", i)),
				upload(fmt.Sprintf("w%d-3.jpg", i)),
			})
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	final, err := svc.Get(context.Background(), event.ID, userA)
	require.NoError(t, err)
	require.Len(t, final.Images, 5, "capacity is re-checked under the event lock")
	require.Len(t, files.saved, 5, "blobs for keys dropped by the losing writer are released")
}

func TestConcurrentAttachesNeverExceedImageCap(t *testing.T) {
	svc, _, files := newTestService()

	event, err := svc.Create(context.Background(), userA, validInput(), nil, []Upload{upload("1.jpg")})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.AttachImages(context.Background(), userA, event.ID, []Upload{
				upload(fmt.Sprintf("a%d-1.jpg", i)),
				upload(fmt.Sprintf("a%d-2.jpg", i)),
				upload(fmt.Sprintf("a%d-3.jpg", i)),
			})
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	final, err := svc.Get(context.Background(), event.ID, userA)
	require.NoError(t, err)
	require.Len(t, final.Images, 5, "the second attach gets only the remaining slots")
	require.Len(t, files.saved, 5)
}

func TestUpdateByNonOwnerOfPublicEventIsForbidden(t *testing.T) {
	svc, _, _ := newTestService()

	event, err := svc.Create(context.Background(), userA, validInput(), nil, nil)
	require.NoError(t, err)

	_, err = svc.Update(context.Background(), userB, event.ID, validInput(), nil, nil)

	require.ErrorIs(t, err, ErrForbidden)
}

func TestUpdateOfInvisiblePrivateEventHidesExistence(t *testing.T) {
	svc, _, _ := newTestService()

	input := validInput()
	input.IsPrivate = true
	event, err := svc.Create(context.Background(), userA, input, nil, nil)
	require.NoError(t, err)

	_, err = svc.Update(context.Background(), userB, event.ID, validInput(), nil, nil)

	require.ErrorIs(t, err, ErrNotFound, "private events read as missing to non-owners")
}

func TestGetHidesPrivateEventsFromOthers(t *testing.T) {
	svc, _, _ := newTestService()

	input := validInput()
	input.IsPrivate = true
	event, err := svc.Create(context.Background(), userA, input, nil, nil)
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), event.ID, userB)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Get(context.Background(), event.ID, "")
	require.ErrorIs(t, err, ErrNotFound)

	got, err := svc.Get(context.Background(), event.ID, userA)
	require.NoError(t, err)
	require.Equal(t, event.ID, got.ID)
}

func TestListVisibilityFollowsPrivacyChanges(t *testing.T) {
	svc, _, _ := newTestService()

	input := validInput()
	input.Title = "Launch Party"
	event, err := svc.Create(context.Background(), userA, input, nil, nil)
	require.NoError(t, err)

	listed, err := svc.List(context.Background(), userB, Filters{})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.Equal(t, "Launch Party", listed[0].Title)

	private := input
	private.IsPrivate = true
	_, err = svc.Update(context.Background(), userA, event.ID, private, nil, nil)
	require.NoError(t, err)

	listed, err = svc.List(context.Background(), userB, Filters{})
	require.NoError(t, err)
	require.Empty(t, listed, "B no longer sees the private event")

	listed, err = svc.List(context.Background(), userA, Filters{})
	require.NoError(t, err)
	require.Len(t, listed, 1, "the owner still sees it")
}

func TestToggleRSVPAlternates(t *testing.T) {
	svc, _, _ := newTestService()

	event, err := svc.Create(context.Background(), userA, validInput(), nil, nil)
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		attending, err := svc.ToggleRSVP(context.Background(), userB, event.ID)
		require.NoError(t, err)
		require.Equal(t, i%2 == 0, attending, "toggle %d", i+1)
	}
}

func TestToggleRSVPRequiresVisibility(t *testing.T) {
	svc, _, _ := newTestService()

	input := validInput()
	input.IsPrivate = true
	event, err := svc.Create(context.Background(), userA, input, nil, nil)
	require.NoError(t, err)

	_, err = svc.ToggleRSVP(context.Background(), userB, event.ID)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = svc.ToggleRSVP(context.Background(), "", event.ID)
	require.ErrorIs(t, err, ErrNotFound, "unauthenticated toggles are rejected")
}

func TestDeleteCascadesAndHidesEvent(t *testing.T) {
	svc, repo, files := newTestService()

	event, err := svc.Create(context.Background(), userA, validInput(), &Upload{Filename: "cover.jpg", Content: bytes.NewReader([]byte("c"))}, []Upload{upload("a.jpg")})
	require.NoError(t, err)

	_, err = svc.ToggleRSVP(context.Background(), userB, event.ID)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), userA, event.ID))

	require.Empty(t, repo.events)
	require.Empty(t, repo.rsvps[event.ID])
	require.Empty(t, files.saved, "cover and gallery blobs removed")

	_, err = svc.Get(context.Background(), event.ID, userA)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteByNonOwner(t *testing.T) {
	svc, _, _ := newTestService()

	event, err := svc.Create(context.Background(), userA, validInput(), nil, nil)
	require.NoError(t, err)

	require.ErrorIs(t, svc.Delete(context.Background(), userB, event.ID), ErrForbidden)
}

func TestAttachImagesAtCapacityIsCapacityError(t *testing.T) {
	svc, _, _ := newTestService()

	event, err := svc.Create(context.Background(), userA, validInput(), nil, []Upload{
		upload("1.jpg"), upload("2.jpg"), upload("3.jpg"), upload("4.jpg"), upload("5.jpg"),
	})
	require.NoError(t, err)
	require.Len(t, event.Images, 5)

	_, err = svc.AttachImages(context.Background(), userA, event.ID, []Upload{upload("6.jpg")})

	var capErr CapacityError
	require.ErrorAs(t, err, &capErr)
}

func TestAttendeesRespectsVisibility(t *testing.T) {
	svc, repo, _ := newTestService()
	repo.usernames[userB] = "bob"

	event, err := svc.Create(context.Background(), userA, validInput(), nil, nil)
	require.NoError(t, err)

	_, err = svc.ToggleRSVP(context.Background(), userB, event.ID)
	require.NoError(t, err)

	count, names, err := svc.Attendees(context.Background(), event.ID, "")
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Equal(t, []string{"bob"}, names)
}

func TestDeleteImageRemovesBlobAndRecord(t *testing.T) {
	svc, _, files := newTestService()

	event, err := svc.Create(context.Background(), userA, validInput(), nil, []Upload{upload("a.jpg")})
	require.NoError(t, err)
	require.Len(t, event.Images, 1)

	require.NoError(t, svc.DeleteImage(context.Background(), userA, event.ID, event.Images[0].ID))

	require.Empty(t, files.saved)

	got, err := svc.Get(context.Background(), event.ID, userA)
	require.NoError(t, err)
	require.Empty(t, got.Images)
}

func TestDeleteImageFromAnotherEvent(t *testing.T) {
	svc, _, _ := newTestService()

	first, err := svc.Create(context.Background(), userA, validInput(), nil, []Upload{upload("a.jpg")})
	require.NoError(t, err)
	second, err := svc.Create(context.Background(), userA, validInput(), nil, nil)
	require.NoError(t, err)

	err = svc.DeleteImage(context.Background(), userA, second.ID, first.Images[0].ID)
	require.ErrorIs(t, err, ErrNotFound, "image must belong to the addressed event")
}
