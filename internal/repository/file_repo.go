package repository

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"mdlive/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FileRepositoryImpl handles library file content and the access tokens that
// back the two-step content indirection.
type FileRepositoryImpl struct {
	db *gorm.DB
}

func NewFileRepository(db *gorm.DB) *FileRepositoryImpl {
	return &FileRepositoryImpl{db: db}
}

// GetByPath retrieves a file by library and absolute path.
func (r *FileRepositoryImpl) GetByPath(ctx context.Context, libraryID, filePath string) (*models.LibraryFile, error) {
	var f models.LibraryFile
	err := r.db.WithContext(ctx).
		First(&f, "library_id = ? AND path = ?", libraryID, filePath).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("file %s:%s: %w", libraryID, filePath, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return &f, nil
}

// GetByID retrieves a file by its KSUID.
func (r *FileRepositoryImpl) GetByID(ctx context.Context, id string) (*models.LibraryFile, error) {
	var f models.LibraryFile
	err := r.db.WithContext(ctx).First(&f, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("file %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return &f, nil
}

// Save upserts file content at (library, path). Last write wins; there is no
// conflict detection against concurrent saves.
func (r *FileRepositoryImpl) Save(ctx context.Context, libraryID, filePath, name, content string) (*models.LibraryFile, error) {
	if name == "" {
		name = path.Base(filePath)
	}
	f := &models.LibraryFile{
		LibraryID: libraryID,
		Path:      filePath,
		Name:      name,
		Content:   content,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "library_id"}, {Name: "path"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "content", "size", "updated_at"}),
		}).
		Create(f).Error
	if err != nil {
		return nil, fmt.Errorf("failed to save file: %w", err)
	}
	return r.GetByPath(ctx, libraryID, filePath)
}

// List returns directory entries under dir. With recursive set, every file
// below dir is returned; parent directories are synthesized from paths since
// only files are stored.
func (r *FileRepositoryImpl) List(ctx context.Context, libraryID, dir string, recursive bool) ([]models.DirEntry, error) {
	if dir == "" {
		dir = "/"
	}
	if !strings.HasSuffix(dir, "/") {
		dir += "/"
	}

	var files []models.LibraryFile
	err := r.db.WithContext(ctx).
		Where("library_id = ? AND path LIKE ?", libraryID, dir+"%").
		Order("path").
		Find(&files).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	var entries []models.DirEntry
	seenDirs := make(map[string]bool)
	for _, f := range files {
		rel := strings.TrimPrefix(f.Path, dir)
		if i := strings.IndexByte(rel, '/'); i >= 0 {
			// File lives in a subdirectory.
			sub := rel[:i]
			if !recursive {
				if !seenDirs[sub] {
					seenDirs[sub] = true
					entries = append(entries, models.DirEntry{
						Name:      sub,
						Type:      "dir",
						ParentDir: strings.TrimSuffix(dir, "/"),
					})
				}
				continue
			}
			parent := path.Dir(f.Path)
			if !seenDirs[parent] {
				seenDirs[parent] = true
				entries = append(entries, models.DirEntry{
					Name:      path.Base(parent),
					Type:      "dir",
					ParentDir: path.Dir(parent),
				})
			}
			entries = append(entries, models.DirEntry{
				Name:      f.Name,
				Type:      "file",
				ParentDir: parent,
				Size:      f.Size,
			})
			continue
		}
		entries = append(entries, models.DirEntry{
			Name:      f.Name,
			Type:      "file",
			ParentDir: strings.TrimSuffix(dir, "/"),
			Size:      f.Size,
		})
	}
	return entries, nil
}

// CreateAccessToken mints a token for the two-step read or the multipart
// upload. FileID is set for read tokens, Dir for upload tokens.
func (r *FileRepositoryImpl) CreateAccessToken(ctx context.Context, kind, libraryID, fileID, dir string, ttl time.Duration) (*models.AccessToken, error) {
	t := &models.AccessToken{
		Kind:      kind,
		LibraryID: libraryID,
		FileID:    fileID,
		Dir:       dir,
		ExpiresAt: time.Now().Add(ttl),
	}
	if err := r.db.WithContext(ctx).Create(t).Error; err != nil {
		return nil, fmt.Errorf("failed to create access token: %w", err)
	}
	return t, nil
}

// GetAccessToken resolves a token, rejecting expired ones.
func (r *FileRepositoryImpl) GetAccessToken(ctx context.Context, token string) (*models.AccessToken, error) {
	var t models.AccessToken
	err := r.db.WithContext(ctx).First(&t, "token = ?", token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("token %s: %w", token, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}
	if t.Expired(time.Now()) {
		return nil, fmt.Errorf("token %s: %w", token, ErrTokenExpired)
	}
	return &t, nil
}

// PruneExpiredTokens removes tokens past their deadline. Called periodically
// from the server's housekeeping loop.
func (r *FileRepositoryImpl) PruneExpiredTokens(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at < ?", time.Now()).
		Delete(&models.AccessToken{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to prune tokens: %w", res.Error)
	}
	return res.RowsAffected, nil
}
