package api

import (
	"context"
	"time"

	"mdlive/internal/models"
)

// This package is the consumer of the storage layer, so the interfaces it
// needs live here; the repository package only exports concrete types.

// FileStore is what the content handlers need from file storage.
type FileStore interface {
	GetByPath(ctx context.Context, libraryID, path string) (*models.LibraryFile, error)
	GetByID(ctx context.Context, id string) (*models.LibraryFile, error)
	Save(ctx context.Context, libraryID, path, name, content string) (*models.LibraryFile, error)
	List(ctx context.Context, libraryID, dir string, recursive bool) ([]models.DirEntry, error)
	CreateAccessToken(ctx context.Context, kind, libraryID, fileID, dir string, ttl time.Duration) (*models.AccessToken, error)
	GetAccessToken(ctx context.Context, token string) (*models.AccessToken, error)
}

// LibraryStore is what the handlers need from library storage.
type LibraryStore interface {
	Create(ctx context.Context, name string) (*models.Library, error)
	GetByID(ctx context.Context, id string) (*models.Library, error)
	List(ctx context.Context, limit, offset int) ([]*models.Library, error)
}
