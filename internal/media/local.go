package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// LocalStore writes blobs under a root directory and serves them from the
// application's /media/ path.
type LocalStore struct {
	root    string
	baseURL string
	logger  zerolog.Logger
}

func NewLocalStore(root, baseURL string, logger zerolog.Logger) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create media root: %w", err)
	}
	return &LocalStore{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With().Str("component", "media").Str("backend", "local").Logger(),
	}, nil
}

func (s *LocalStore) SaveCover(ctx context.Context, ownerID, filename string, content io.Reader) (string, error) {
	return s.save(ctx, coverKey(ownerID, filename), content)
}

func (s *LocalStore) SaveGallery(ctx context.Context, eventID, filename string, content io.Reader) (string, error) {
	return s.save(ctx, galleryKey(eventID, filename), content)
}

func (s *LocalStore) save(_ context.Context, key string, content io.Reader) (string, error) {
	path, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create media directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create media file: %w", err)
	}
	if _, err := io.Copy(file, content); err != nil {
		file.Close()
		os.Remove(path)
		return "", fmt.Errorf("write media file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close media file: %w", err)
	}

	s.logger.Debug().Str("key", key).Msg("blob stored")
	return key, nil
}

func (s *LocalStore) Remove(_ context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove media file: %w", err)
	}
	return nil
}

func (s *LocalStore) URL(key string) string {
	if key == "" {
		return ""
	}
	return s.baseURL + "/media/" + key
}

// Root exposes the storage directory so the server can mount a file handler
// over it.
func (s *LocalStore) Root() string {
	return s.root
}

// path resolves a key inside the root and rejects keys that escape it.
func (s *LocalStore) path(key string) (string, error) {
	path := filepath.Join(s.root, filepath.FromSlash(key))
	if !strings.HasPrefix(path, filepath.Clean(s.root)+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid media key %q", key)
	}
	return path, nil
}
