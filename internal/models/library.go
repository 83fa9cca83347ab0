package models

import (
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

// Library is a named container of files, identified by a UUID. The UUID is
// what clients combine with a file path to derive a presence room key.
type Library struct {
	ID        string    `json:"id" gorm:"type:char(36);primaryKey"`
	Name      string    `json:"name" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (l *Library) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}

// LibraryFile is one stored document. Path is absolute within the library
// ("/notes.md"). The (library, path) pair is unique; saving to an existing
// path overwrites the content with no conflict detection.
type LibraryFile struct {
	ID        string         `json:"id" gorm:"type:char(27);primaryKey"`
	LibraryID string         `json:"library_id" gorm:"type:char(36);not null;uniqueIndex:idx_files_library_path"`
	Path      string         `json:"path" gorm:"type:text;not null;uniqueIndex:idx_files_library_path"`
	Name      string         `json:"name" gorm:"type:text;not null"`
	Content   string         `json:"-" gorm:"type:text;not null"`
	Size      int64          `json:"size" gorm:"not null;default:0"`
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// BeforeSave keeps the derived columns consistent with content and path.
func (f *LibraryFile) BeforeSave(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = ksuid.New().String()
	}
	if f.Name == "" {
		f.Name = path.Base(f.Path)
	}
	f.Size = int64(len(f.Content))
	return nil
}

// Detail is the metadata shape the content API exposes for a file.
func (f *LibraryFile) Detail() *FileDetail {
	return &FileDetail{
		Name:  f.Name,
		Size:  f.Size,
		MTime: f.UpdatedAt.Unix(),
	}
}

// FileDetail is returned by the file detail endpoint.
type FileDetail struct {
	Name  string `json:"name"`
	Size  int64  `json:"size"`
	MTime int64  `json:"mtime"`
}

// DirEntry is one row of a directory listing.
type DirEntry struct {
	Name      string `json:"name"`
	Type      string `json:"type"` // "file" or "dir"
	ParentDir string `json:"parent_dir"`
	Size      int64  `json:"size,omitempty"`
}

// Access token kinds for the two-step content indirection.
const (
	TokenRead   = "read"
	TokenUpload = "upload"
)

// AccessToken grants short-lived access to read one file or upload into one
// directory. Tokens are single-purpose but not single-use: the original
// content API reuses a live read link rather than minting a new one.
type AccessToken struct {
	Token     string    `json:"token" gorm:"type:char(27);primaryKey"`
	Kind      string    `json:"kind" gorm:"type:varchar(10);not null"`
	LibraryID string    `json:"library_id" gorm:"type:char(36);not null;index"`
	FileID    string    `json:"file_id,omitempty" gorm:"type:char(27)"`
	Dir       string    `json:"dir,omitempty" gorm:"type:text"`
	ExpiresAt time.Time `json:"expires_at" gorm:"not null"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (t *AccessToken) BeforeCreate(tx *gorm.DB) error {
	if t.Token == "" {
		t.Token = ksuid.New().String()
	}
	return nil
}

// Expired reports whether the token is past its deadline at the given time.
func (t *AccessToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
