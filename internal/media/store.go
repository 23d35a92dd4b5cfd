// Package media stores uploaded event images. Two backends are provided: a
// local filesystem store for development and an S3 store for production.
// Keys are backend-independent, so the database never has to change when the
// backend does.
package media

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/gatherly/server/internal/config"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Store saves and removes image blobs and resolves keys to serveable URLs.
type Store interface {
	SaveCover(ctx context.Context, ownerID, filename string, content io.Reader) (string, error)
	SaveGallery(ctx context.Context, eventID, filename string, content io.Reader) (string, error)
	Remove(ctx context.Context, key string) error
	URL(key string) string
}

// New builds the store selected by the media configuration.
func New(ctx context.Context, cfg config.MediaConfig, baseURL string, logger zerolog.Logger) (Store, error) {
	switch cfg.Backend {
	case "local":
		return NewLocalStore(cfg.LocalRoot, baseURL, logger)
	case "s3":
		return NewS3Store(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown media backend %q", cfg.Backend)
	}
}

// coverKey and galleryKey define the shared key layout. The random prefix
// keeps two uploads with the same filename from colliding.
func coverKey(ownerID, filename string) string {
	return fmt.Sprintf("events/covers/%s/%s_%s", ownerID, uuid.NewString(), safeFilename(filename))
}

func galleryKey(eventID, filename string) string {
	return fmt.Sprintf("events/gallery/%s/%s_%s", eventID, uuid.NewString(), safeFilename(filename))
}

// safeFilename reduces a client-supplied filename to its base name and
// replaces characters with no business being in a storage key.
func safeFilename(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "." || base == ".." || base == "/" || base == "" {
		return "upload"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, base)
}
