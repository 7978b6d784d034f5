package services

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"notekeeper/models"
	"notekeeper/testutil"
)

type testEnv struct {
	DB        *gorm.DB
	Files     *FileStore
	Groups    *GroupService
	Notes     *NoteService
	Admin     *AdminService
	Users     *UserService
	Assembler *Assembler
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.SetupTestDB(t)
	logger := testutil.NewLogger()
	files := NewFileStore(filepath.Join(t.TempDir(), "uploads"))
	files.Clock = tickingClock()

	return &testEnv{
		DB:        db,
		Files:     files,
		Groups:    NewGroupService(db, files, logger),
		Notes:     NewNoteService(db, files, logger),
		Admin:     NewAdminService(db, files, logger),
		Users:     NewUserService(db, logger),
		Assembler: NewAssembler(files, NewImageNormalizer(DefaultImageQuality, logger), logger),
	}
}

// tickingClock advances one microsecond per call so stored names never collide
func tickingClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Microsecond)
		return now
	}
}

func contextOf(u *models.User) RequestContext {
	return ContextFor(u)
}

func assertKind(t *testing.T, err error, want Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("Expected %s error, got nil", want)
	}
	if got := KindOf(err); got != want {
		t.Fatalf("Expected %s error, got %s (%v)", want, got, err)
	}
}

func assertNoFile(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected %s to be gone, stat err = %v", path, err)
	}
}

func writeStored(t *testing.T, files *FileStore, rc RequestContext, name string, data []byte) string {
	t.Helper()
	f, rel, err := files.CreateExclusive(rc, name)
	if err != nil {
		t.Fatalf("Failed to create stored file: %v", err)
	}
	if _, err := f.Write(data); err != nil {
		t.Fatalf("Failed to write stored file: %v", err)
	}
	f.Close()
	return rel
}

func absPath(t *testing.T, files *FileStore, rel string) string {
	t.Helper()
	p, err := files.Abs(rel)
	if err != nil {
		t.Fatalf("Abs(%q): %v", rel, err)
	}
	return p
}

func countRows(t *testing.T, db *gorm.DB, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	if err := db.Model(model).Where(query, args...).Count(&n).Error; err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	return n
}
