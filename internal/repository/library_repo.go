package repository

import (
	"context"
	"errors"
	"fmt"

	"mdlive/internal/models"

	"gorm.io/gorm"
)

// LibraryRepositoryImpl handles library rows. The api package declares the
// interface it consumes; this is the concrete GORM-backed implementation.
type LibraryRepositoryImpl struct {
	db *gorm.DB
}

func NewLibraryRepository(db *gorm.DB) *LibraryRepositoryImpl {
	return &LibraryRepositoryImpl{db: db}
}

// Create inserts a new library. The UUID is generated in BeforeCreate.
func (r *LibraryRepositoryImpl) Create(ctx context.Context, name string) (*models.Library, error) {
	lib := &models.Library{Name: name}
	if err := r.db.WithContext(ctx).Create(lib).Error; err != nil {
		return nil, fmt.Errorf("failed to create library: %w", err)
	}
	return lib, nil
}

// GetByID retrieves a library by its UUID.
func (r *LibraryRepositoryImpl) GetByID(ctx context.Context, id string) (*models.Library, error) {
	var lib models.Library
	err := r.db.WithContext(ctx).First(&lib, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("library %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get library: %w", err)
	}
	return &lib, nil
}

// List returns libraries in creation order.
func (r *LibraryRepositoryImpl) List(ctx context.Context, limit, offset int) ([]*models.Library, error) {
	var libs []*models.Library
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&libs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list libraries: %w", err)
	}
	return libs, nil
}
