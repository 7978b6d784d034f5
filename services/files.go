package services

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"notekeeper/utils"
)

const tempDirName = "temp"

// AllowedImageExtensions is the allow-list for images attached to notes
var AllowedImageExtensions = map[string]bool{
	"png":  true,
	"jpg":  true,
	"jpeg": true,
	"gif":  true,
}

func AllowedImage(name string) bool {
	return AllowedImageExtensions[utils.Extension(name)]
}

// FileStore owns the upload tree. Stored names are slash separated and
// relative to Root, always "<user dir>/<file>".
type FileStore struct {
	Root  string
	Clock func() time.Time
}

func NewFileStore(root string) *FileStore {
	return &FileStore{Root: root, Clock: time.Now}
}

func (fs *FileStore) now() time.Time {
	if fs.Clock == nil {
		return time.Now()
	}
	return fs.Clock()
}

// UserDir is the per-user directory name under Root
func (fs *FileStore) UserDir(rc RequestContext) string {
	dir := utils.SecureFilename(rc.Username)
	if dir == "" || dir == tempDirName {
		dir = fmt.Sprintf("user_%d", rc.UserID)
	}
	return dir
}

// TempRoot holds one directory per chunked upload session
func (fs *FileStore) TempRoot() string {
	return filepath.Join(fs.Root, tempDirName)
}

// Abs resolves a stored name to a path, refusing anything outside Root
func (fs *FileStore) Abs(rel string) (string, error) {
	if rel == "" || strings.HasPrefix(rel, "/") {
		return "", fmt.Errorf("invalid stored filename %q", rel)
	}
	root, err := filepath.Abs(fs.Root)
	if err != nil {
		return "", err
	}
	full := filepath.Join(root, filepath.FromSlash(rel))
	inside, err := filepath.Rel(root, full)
	if err != nil || inside == "." || inside == ".." || strings.HasPrefix(inside, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("stored filename %q escapes upload root", rel)
	}
	return full, nil
}

// StoredName builds "<user id>_<YYYYMMDD_HHMMSS_micro>_<name>"
func (fs *FileStore) StoredName(rc RequestContext, name string) string {
	t := fs.now()
	return fmt.Sprintf("%d_%s_%06d_%s", rc.UserID, t.Format("20060102_150405"), t.Nanosecond()/1000, name)
}

// CreateExclusive creates a new file in the caller's directory. An existing
// file with the same name is an error, never overwritten.
func (fs *FileStore) CreateExclusive(rc RequestContext, name string) (*os.File, string, error) {
	userDir := fs.UserDir(rc)
	dir := filepath.Join(fs.Root, userDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", err
	}

	stored := fs.StoredName(rc, name)
	f, err := os.OpenFile(filepath.Join(dir, stored), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, "", err
	}
	return f, path.Join(userDir, stored), nil
}

// Save writes r as a new file for the caller and returns its stored name
func (fs *FileStore) Save(rc RequestContext, name string, r io.Reader) (string, error) {
	f, rel, err := fs.CreateExclusive(rc, name)
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return rel, nil
}

// Remove deletes a stored file; a file that is already gone is not an error
func (fs *FileStore) Remove(rel string) error {
	full, err := fs.Abs(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// RemoveAll removes every file and returns the first failure
func (fs *FileStore) RemoveAll(rels []string) error {
	var first error
	for _, rel := range rels {
		if err := fs.Remove(rel); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (fs *FileStore) Exists(rel string) bool {
	full, err := fs.Abs(rel)
	if err != nil {
		return false
	}
	info, err := os.Stat(full)
	return err == nil && info.Mode().IsRegular()
}

// CheckOwnedUpload verifies that rel names an existing image file directly
// inside the caller's own directory
func (fs *FileStore) CheckOwnedUpload(rc RequestContext, rel string) error {
	dir, name, ok := strings.Cut(rel, "/")
	if !ok || dir != fs.UserDir(rc) {
		return fmt.Errorf("%q is not in your upload directory", rel)
	}
	if name == "" || name != utils.SecureFilename(name) {
		return fmt.Errorf("%q is not a valid upload name", rel)
	}
	if !AllowedImage(name) {
		return fmt.Errorf("%q is not an allowed image type", rel)
	}
	if !fs.Exists(rel) {
		return fmt.Errorf("%q does not exist", rel)
	}
	return nil
}
