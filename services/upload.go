package services

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"notekeeper/utils"
)

// MergeResult names the assembled file; it is not attached to any note yet
type MergeResult struct {
	Filename         string `json:"filename"`
	OriginalFilename string `json:"original_filename"`
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// Assembler stores upload chunks per session and merges them into a file
// in the uploader's directory. Operations on one session are serialized.
type Assembler struct {
	Files      *FileStore
	Normalizer *ImageNormalizer
	Logger     *logrus.Logger

	mu       sync.Mutex
	sessions map[string]*sessionLock
}

func NewAssembler(files *FileStore, normalizer *ImageNormalizer, logger *logrus.Logger) *Assembler {
	return &Assembler{
		Files:      files,
		Normalizer: normalizer,
		Logger:     logger,
		sessions:   make(map[string]*sessionLock),
	}
}

func (a *Assembler) lock(session string) func() {
	a.mu.Lock()
	if a.sessions == nil {
		a.sessions = make(map[string]*sessionLock)
	}
	l, ok := a.sessions[session]
	if !ok {
		l = &sessionLock{}
		a.sessions[session] = l
	}
	l.refs++
	a.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		a.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(a.sessions, session)
		}
		a.mu.Unlock()
	}
}

// ownerFile sits next to the chunks and records the uploading user
const ownerFile = ".owner"

func chunkName(index int) string {
	return "part_" + strconv.Itoa(index)
}

func (a *Assembler) sessionDir(session string) (string, string, error) {
	safe := utils.SecureFilename(session)
	if safe == "" {
		return "", "", validationError("invalid upload session id", nil)
	}
	return safe, filepath.Join(a.Files.TempRoot(), safe), nil
}

// claim binds a new session directory to the caller, or checks that an
// existing one belongs to them. Other users get the same not found error as
// for a session that does not exist.
func claim(rc RequestContext, dir string) error {
	owner := strconv.FormatUint(uint64(rc.UserID), 10)
	if err := os.Mkdir(dir, 0o755); err == nil {
		if err := os.WriteFile(filepath.Join(dir, ownerFile), []byte(owner), 0o644); err != nil {
			os.RemoveAll(dir)
			return internalError("failed to create upload session", err)
		}
		return nil
	} else if !errors.Is(err, os.ErrExist) {
		return internalError("failed to create upload session", err)
	}
	return checkOwner(rc, dir)
}

func checkOwner(rc RequestContext, dir string) error {
	data, err := os.ReadFile(filepath.Join(dir, ownerFile))
	if err != nil || strings.TrimSpace(string(data)) != strconv.FormatUint(uint64(rc.UserID), 10) {
		return notFoundError("session not found", ErrSessionNotFound)
	}
	return nil
}

// SaveChunk stores one chunk. Chunks may arrive in any order and a resent
// index replaces the previous copy. The first chunk binds the session to
// the caller.
func (a *Assembler) SaveChunk(rc RequestContext, session string, index int, r io.Reader) error {
	if index < 0 {
		return validationError("chunk index must not be negative", nil)
	}
	safe, dir, err := a.sessionDir(session)
	if err != nil {
		return err
	}

	unlock := a.lock(safe)
	defer unlock()

	if err := os.MkdirAll(a.Files.TempRoot(), 0o755); err != nil {
		return internalError("failed to create upload session", err)
	}
	if err := claim(rc, dir); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".incoming-*")
	if err != nil {
		return internalError("failed to store chunk", err)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return internalError("failed to store chunk", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return internalError("failed to store chunk", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, chunkName(index))); err != nil {
		os.Remove(tmp.Name())
		return internalError("failed to store chunk", err)
	}
	return nil
}

// Merge concatenates chunks 0..total-1 of session into a new file owned by
// the caller. A missing chunk leaves the session untouched so the client can
// resend it; a successful merge removes the session.
func (a *Assembler) Merge(rc RequestContext, session, filename string, total int) (*MergeResult, error) {
	if total < 1 {
		return nil, validationError("total chunk count must be at least 1", nil)
	}
	safe, dir, err := a.sessionDir(session)
	if err != nil {
		return nil, err
	}
	original := utils.SecureFilename(filename)
	if original == "" {
		return nil, validationError("filename is required", nil)
	}
	if !AllowedImage(original) {
		return nil, validationError("file type not allowed: "+original, nil)
	}

	unlock := a.lock(safe)
	defer unlock()

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, notFoundError("session not found", ErrSessionNotFound)
	}
	if err := checkOwner(rc, dir); err != nil {
		return nil, err
	}
	for i := 0; i < total; i++ {
		if _, err := os.Stat(filepath.Join(dir, chunkName(i))); err != nil {
			return nil, validationError(fmt.Sprintf("missing chunk %d", i), ErrIncompleteUpload)
		}
	}

	out, rel, err := a.Files.CreateExclusive(rc, original)
	if err != nil {
		return nil, internalError("merge failed", fmt.Errorf("%w: %w", ErrMergeFailed, err))
	}
	if err := concatChunks(out, dir, total); err != nil {
		out.Close()
		os.Remove(out.Name())
		return nil, internalError("merge failed", fmt.Errorf("%w: %w", ErrMergeFailed, err))
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return nil, internalError("merge failed", fmt.Errorf("%w: %w", ErrMergeFailed, err))
	}

	if err := os.RemoveAll(dir); err != nil {
		a.logger().WithError(err).WithField("session", safe).Warn("Failed to remove merged upload session")
	}

	final := out.Name()
	if a.Normalizer != nil {
		final = a.Normalizer.Normalize(final)
	}
	rel = path.Join(path.Dir(rel), filepath.Base(final))

	a.logger().WithFields(logrus.Fields{
		"user_id":  rc.UserID,
		"session":  safe,
		"chunks":   total,
		"filename": rel,
	}).Info("Upload merged")

	return &MergeResult{Filename: rel, OriginalFilename: original}, nil
}

func concatChunks(dst io.Writer, dir string, total int) error {
	for i := 0; i < total; i++ {
		if err := appendFile(dst, filepath.Join(dir, chunkName(i))); err != nil {
			return fmt.Errorf("chunk %d: %w", i, err)
		}
	}
	return nil
}

func appendFile(dst io.Writer, name string) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(dst, f)
	return err
}

// SweepStale removes sessions that have not received a chunk within ttl
func (a *Assembler) SweepStale(ttl time.Duration) (int, error) {
	entries, err := os.ReadDir(a.Files.TempRoot())
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	cutoff := a.Files.now().Add(-ttl)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if a.removeIfStale(entry.Name(), cutoff) {
			removed++
		}
	}
	return removed, nil
}

func (a *Assembler) removeIfStale(session string, cutoff time.Time) bool {
	unlock := a.lock(session)
	defer unlock()

	dir := filepath.Join(a.Files.TempRoot(), session)
	info, err := os.Stat(dir)
	if err != nil || !info.ModTime().Before(cutoff) {
		return false
	}
	if err := os.RemoveAll(dir); err != nil {
		a.logger().WithError(err).WithField("session", session).Warn("Failed to remove stale upload session")
		return false
	}
	return true
}

func (a *Assembler) logger() *logrus.Logger {
	if a.Logger == nil {
		return logrus.StandardLogger()
	}
	return a.Logger
}
