package services

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"notekeeper/models"
	"notekeeper/utils"
)

const (
	notesTable      = "notes"
	dateLayout      = "2006-01-02"
	msgNoteAccess   = "note not found or access denied"
	msgFileNotFound = "file not found"
	fallbackUpload  = "image"
)

// IncomingFile is an image sent directly with a note form
type IncomingFile struct {
	Name   string
	Reader io.Reader
}

// ChunkRef points at a file produced by an earlier merge
type ChunkRef struct {
	Filename         string `json:"filename"`
	OriginalFilename string `json:"original_filename"`
}

// NoteInput carries the fields of a create or update request.
// KeepImageIDs is only read by Update.
type NoteInput struct {
	Content      string
	Date         string
	GroupID      uint
	Files        []IncomingFile
	Chunks       []ChunkRef
	KeepImageIDs []uint
}

type ImageView struct {
	ID               uint   `json:"id"`
	Filename         string `json:"filename"`
	OriginalFilename string `json:"original_filename"`
}

// NoteView is a note joined with its group name, author and images
type NoteView struct {
	ID        uint        `json:"id"`
	Content   string      `json:"content"`
	Date      string      `json:"date"`
	GroupID   uint        `json:"group_id"`
	GroupName string      `json:"group_name"`
	UserID    uint        `json:"user_id"`
	Author    string      `json:"author"`
	TeamID    *uint       `json:"team_id"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	Images    []ImageView `json:"images"`
}

type noteRow struct {
	ID        uint
	Content   string
	Date      string
	GroupID   uint
	UserID    uint
	TeamID    *uint
	CreatedAt time.Time
	UpdatedAt time.Time
	GroupName string
	Author    *string
}

type NoteService struct {
	DB     *gorm.DB
	Files  *FileStore
	Logger *logrus.Logger
}

func NewNoteService(db *gorm.DB, files *FileStore, logger *logrus.Logger) *NoteService {
	return &NoteService{DB: db, Files: files, Logger: logger}
}

// List returns visible notes, optionally only those of one group, ordered
// by date then creation time, newest first
func (s *NoteService) List(rc RequestContext, groupID *uint) ([]NoteView, error) {
	q := s.DB.Table(notesTable).
		Select("notes.*, note_groups.name AS group_name, users.username AS author").
		Joins("JOIN note_groups ON note_groups.id = notes.group_id").
		Joins("LEFT JOIN users ON users.id = notes.user_id")
	q = ScopeFor(rc).Apply(q, notesTable)
	if groupID != nil {
		q = q.Where("notes.group_id = ?", *groupID)
	}

	var rows []noteRow
	if err := q.Order("notes.date DESC, notes.created_at DESC, notes.id DESC").Scan(&rows).Error; err != nil {
		return nil, internalError("failed to load notes", err)
	}
	return s.attachImages(rows)
}

// Get returns a single visible note
func (s *NoteService) Get(rc RequestContext, id uint) (*NoteView, error) {
	q := s.DB.Table(notesTable).
		Select("notes.*, note_groups.name AS group_name, users.username AS author").
		Joins("JOIN note_groups ON note_groups.id = notes.group_id").
		Joins("LEFT JOIN users ON users.id = notes.user_id").
		Where("notes.id = ?", id)
	q = ScopeFor(rc).Apply(q, notesTable)

	var rows []noteRow
	if err := q.Limit(1).Scan(&rows).Error; err != nil {
		return nil, internalError("failed to load note", err)
	}
	if len(rows) == 0 {
		return nil, forbiddenError(msgNoteAccess)
	}
	views, err := s.attachImages(rows)
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

func (s *NoteService) attachImages(rows []noteRow) ([]NoteView, error) {
	views := make([]NoteView, 0, len(rows))
	if len(rows) == 0 {
		return views, nil
	}

	ids := make([]uint, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	var images []models.Image
	if err := s.DB.Where("note_id IN ?", ids).Order("created_at ASC, id ASC").Find(&images).Error; err != nil {
		return nil, internalError("failed to load note images", err)
	}
	byNote := make(map[uint][]ImageView, len(rows))
	for _, img := range images {
		byNote[*img.NoteID] = append(byNote[*img.NoteID], toImageView(img))
	}

	for _, r := range rows {
		view := NoteView{
			ID:        r.ID,
			Content:   r.Content,
			Date:      r.Date,
			GroupID:   r.GroupID,
			GroupName: r.GroupName,
			UserID:    r.UserID,
			TeamID:    r.TeamID,
			CreatedAt: r.CreatedAt,
			UpdatedAt: r.UpdatedAt,
			Images:    byNote[r.ID],
		}
		if r.Author != nil {
			view.Author = *r.Author
		}
		if view.Images == nil {
			view.Images = []ImageView{}
		}
		views = append(views, view)
	}
	return views, nil
}

// Create stores a note in the caller's scope together with its images.
// Direct files are written before the transaction and removed again if it
// fails.
func (s *NoteService) Create(rc RequestContext, in NoteInput) (*NoteView, error) {
	in, files, err := s.prepare(rc, in)
	if err != nil {
		return nil, err
	}
	if in.Content == "" && len(files) == 0 && len(in.Chunks) == 0 {
		return nil, validationError("note content or at least one image is required", ErrEmptyNote)
	}

	scope := ScopeFor(rc)
	if _, err := findGroup(s.DB, scope, in.GroupID); err != nil {
		return nil, asServiceError(err, "failed to load group")
	}

	saved, err := s.saveFiles(rc, files)
	if err != nil {
		return nil, err
	}

	note := models.Note{
		Content: in.Content,
		Date:    in.Date,
		GroupID: in.GroupID,
		UserID:  rc.UserID,
		TeamID:  scope.teamIDCopy(),
	}
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&note).Error; err != nil {
			return err
		}
		return s.insertImages(tx, rc, &note, in.Chunks, saved)
	})
	if err != nil {
		s.discard(saved)
		return nil, asServiceError(err, "failed to create note")
	}

	s.Logger.WithFields(logrus.Fields{
		"user_id":  rc.UserID,
		"note_id":  note.ID,
		"group_id": note.GroupID,
		"images":   len(in.Chunks) + len(saved),
	}).Info("Note created")
	return s.Get(rc, note.ID)
}

// Update rewrites a visible note. Attached images whose ids are not in
// KeepImageIDs are deleted before new images are added; kept images move
// with the note's date and group.
func (s *NoteService) Update(rc RequestContext, id uint, in NoteInput) (*NoteView, error) {
	in, files, err := s.prepare(rc, in)
	if err != nil {
		return nil, err
	}

	scope := ScopeFor(rc)
	note, err := findNote(s.DB, scope, id)
	if err != nil {
		return nil, asServiceError(err, "failed to load note")
	}

	var current []models.Image
	if err := s.DB.Where("note_id = ?", note.ID).Find(&current).Error; err != nil {
		return nil, internalError("failed to load note images", err)
	}
	keep := make(map[uint]bool, len(in.KeepImageIDs))
	for _, imgID := range in.KeepImageIDs {
		keep[imgID] = true
	}
	var kept, dropped []models.Image
	for _, img := range current {
		if keep[img.ID] {
			kept = append(kept, img)
		} else {
			dropped = append(dropped, img)
		}
	}

	if in.Content == "" && len(kept) == 0 && len(files) == 0 && len(in.Chunks) == 0 {
		return nil, validationError("note content or at least one image is required", ErrEmptyNote)
	}
	if in.GroupID != note.GroupID {
		if _, err := findGroup(s.DB, scope, in.GroupID); err != nil {
			return nil, asServiceError(err, "failed to load group")
		}
	}

	saved, err := s.saveFiles(rc, files)
	if err != nil {
		return nil, err
	}

	err = s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(note).Updates(map[string]interface{}{
			"content":  in.Content,
			"date":     in.Date,
			"group_id": in.GroupID,
		}).Error; err != nil {
			return err
		}

		if len(dropped) > 0 {
			if err := s.Files.RemoveAll(imageFilenames(dropped)); err != nil {
				return internalError("failed to remove image files", err)
			}
			if err := tx.Delete(&models.Image{}, imageIDs(dropped)).Error; err != nil {
				return err
			}
		}
		if len(kept) > 0 {
			if err := tx.Model(&models.Image{}).Where("id IN ?", imageIDs(kept)).Updates(map[string]interface{}{
				"date":     in.Date,
				"group_id": in.GroupID,
			}).Error; err != nil {
				return err
			}
		}

		note.Date = in.Date
		note.GroupID = in.GroupID
		return s.insertImages(tx, rc, note, in.Chunks, saved)
	})
	if err != nil {
		s.discard(saved)
		return nil, asServiceError(err, "failed to update note")
	}

	s.Logger.WithFields(logrus.Fields{
		"user_id":        rc.UserID,
		"note_id":        note.ID,
		"images_removed": len(dropped),
		"images_added":   len(in.Chunks) + len(saved),
	}).Info("Note updated")
	return s.Get(rc, note.ID)
}

// Delete removes a visible note with its image files and rows
func (s *NoteService) Delete(rc RequestContext, id uint) error {
	scope := ScopeFor(rc)
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		note, err := findNote(tx, scope, id)
		if err != nil {
			return err
		}

		var images []models.Image
		if err := tx.Where("note_id = ?", note.ID).Find(&images).Error; err != nil {
			return err
		}
		if err := s.Files.RemoveAll(imageFilenames(images)); err != nil {
			return internalError("failed to remove image files", err)
		}
		if err := tx.Where("note_id = ?", note.ID).Delete(&models.Image{}).Error; err != nil {
			return err
		}
		return tx.Delete(note).Error
	})
	if err != nil {
		return asServiceError(err, "failed to delete note")
	}

	s.Logger.WithFields(logrus.Fields{
		"user_id": rc.UserID,
		"note_id": id,
	}).Info("Note deleted")
	return nil
}

// DeleteImage removes one image of a visible note
func (s *NoteService) DeleteImage(rc RequestContext, noteID, imageID uint) error {
	scope := ScopeFor(rc)
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		note, err := findNote(tx, scope, noteID)
		if err != nil {
			return err
		}

		var img models.Image
		err = tx.Where("id = ? AND note_id = ?", imageID, note.ID).First(&img).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFoundError("image not found", err)
		}
		if err != nil {
			return err
		}

		if err := s.Files.Remove(img.Filename); err != nil {
			return internalError("failed to remove image file", err)
		}
		return tx.Delete(&img).Error
	})
	if err != nil {
		return asServiceError(err, "failed to delete image")
	}

	s.Logger.WithFields(logrus.Fields{
		"user_id":  rc.UserID,
		"note_id":  noteID,
		"image_id": imageID,
	}).Info("Image deleted")
	return nil
}

// ImagePath resolves a requested "<user dir>/<name>" to a file the caller
// may read: an image visible in their scope, or a file in their own upload
// directory such as an unattached merge result. The path is unescaped and
// cleaned first. Chunk sessions and any other shape are not found.
func (s *NoteService) ImagePath(rc RequestContext, requested string) (string, error) {
	rel, err := url.PathUnescape(requested)
	if err != nil {
		return "", notFoundError(msgFileNotFound, err)
	}
	rel = strings.TrimPrefix(path.Clean("/"+rel), "/")

	dir, name, ok := strings.Cut(rel, "/")
	if !ok || dir == tempDirName || dir != utils.SecureFilename(dir) ||
		name == "" || name != utils.SecureFilename(name) {
		return "", notFoundError(msgFileNotFound, nil)
	}

	if dir != s.Files.UserDir(rc) {
		var visible int64
		q := ScopeFor(rc).Apply(s.DB.Model(&models.Image{}), "images").Where("images.filename = ?", rel)
		if err := q.Count(&visible).Error; err != nil {
			return "", internalError("failed to look up image", err)
		}
		if visible == 0 {
			return "", notFoundError(msgFileNotFound, nil)
		}
	}

	full, err := s.Files.Abs(rel)
	if err != nil || !s.Files.Exists(rel) {
		return "", notFoundError(msgFileNotFound, err)
	}
	return full, nil
}

// prepare normalizes and validates the request fields shared by create and
// update and returns the direct files that carry content
func (s *NoteService) prepare(rc RequestContext, in NoteInput) (NoteInput, []IncomingFile, error) {
	in.Content = strings.TrimSpace(in.Content)
	in.Date = strings.TrimSpace(in.Date)

	if in.Date == "" || in.GroupID == 0 {
		return in, nil, validationError("date and group_id are required", nil)
	}
	if _, err := time.Parse(dateLayout, in.Date); err != nil {
		return in, nil, validationError("date must be in YYYY-MM-DD format", err)
	}

	var files []IncomingFile
	for _, f := range in.Files {
		if f.Name == "" || f.Reader == nil {
			continue
		}
		if !AllowedImage(f.Name) {
			return in, nil, validationError(fmt.Sprintf("file type not allowed: %s", f.Name), nil)
		}
		files = append(files, f)
	}

	chunks := make([]ChunkRef, 0, len(in.Chunks))
	seen := make(map[string]bool, len(in.Chunks))
	for _, ref := range in.Chunks {
		if ref.Filename == "" {
			continue
		}
		if seen[ref.Filename] {
			return in, nil, validationError("uploaded file listed twice: "+ref.Filename, nil)
		}
		seen[ref.Filename] = true
		if err := s.Files.CheckOwnedUpload(rc, ref.Filename); err != nil {
			return in, nil, validationError("invalid uploaded file", err)
		}
		var attached int64
		if err := s.DB.Model(&models.Image{}).Where("filename = ?", ref.Filename).Count(&attached).Error; err != nil {
			return in, nil, internalError("failed to check uploaded file", err)
		}
		if attached > 0 {
			return in, nil, validationError("uploaded file is already attached to a note", nil)
		}
		ref.OriginalFilename = utils.SecureFilename(ref.OriginalFilename)
		if ref.OriginalFilename == "" {
			ref.OriginalFilename = fallbackUpload
		}
		chunks = append(chunks, ref)
	}
	in.Chunks = chunks
	return in, files, nil
}

type savedFile struct {
	Filename         string
	OriginalFilename string
}

func (s *NoteService) saveFiles(rc RequestContext, files []IncomingFile) ([]savedFile, error) {
	saved := make([]savedFile, 0, len(files))
	for _, f := range files {
		original := utils.SecureFilename(f.Name)
		if original == "" {
			original = fallbackUpload
		}
		rel, err := s.Files.Save(rc, original, f.Reader)
		if err != nil {
			s.discard(saved)
			return nil, internalError("failed to save image", err)
		}
		saved = append(saved, savedFile{Filename: rel, OriginalFilename: original})
	}
	return saved, nil
}

func (s *NoteService) discard(saved []savedFile) {
	for _, f := range saved {
		if err := s.Files.Remove(f.Filename); err != nil {
			s.Logger.WithError(err).WithField("filename", f.Filename).Warn("Failed to remove orphaned upload")
		}
	}
}

// chunk references are attached before direct files
func (s *NoteService) insertImages(tx *gorm.DB, rc RequestContext, note *models.Note, chunks []ChunkRef, saved []savedFile) error {
	images := make([]models.Image, 0, len(chunks)+len(saved))
	for _, ref := range chunks {
		images = append(images, newImage(rc, note, ref.Filename, ref.OriginalFilename))
	}
	for _, f := range saved {
		images = append(images, newImage(rc, note, f.Filename, f.OriginalFilename))
	}
	if len(images) == 0 {
		return nil
	}
	return tx.Create(&images).Error
}

func newImage(rc RequestContext, note *models.Note, filename, original string) models.Image {
	noteID := note.ID
	var teamID *uint
	if note.TeamID != nil {
		teamID = utils.Pointer(*note.TeamID)
	}
	return models.Image{
		Filename:         filename,
		OriginalFilename: original,
		NoteID:           &noteID,
		Date:             note.Date,
		GroupID:          note.GroupID,
		UserID:           rc.UserID,
		TeamID:           teamID,
	}
}

func findNote(tx *gorm.DB, scope Scope, id uint) (*models.Note, error) {
	var note models.Note
	err := scope.Apply(tx.Model(&models.Note{}), notesTable).Where("id = ?", id).First(&note).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, forbiddenError(msgNoteAccess)
	}
	if err != nil {
		return nil, err
	}
	return &note, nil
}

func imageIDs(images []models.Image) []uint {
	ids := make([]uint, 0, len(images))
	for _, img := range images {
		ids = append(ids, img.ID)
	}
	return ids
}

func toImageView(img models.Image) ImageView {
	return ImageView{
		ID:               img.ID,
		Filename:         img.Filename,
		OriginalFilename: img.OriginalFilename,
	}
}
