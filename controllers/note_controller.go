package controller

import (
	"encoding/json"
	"fmt"
	"mime/multipart"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"notekeeper/metrics"
	"notekeeper/middleware"
	"notekeeper/services"
	"notekeeper/utils"
)

// NoteForm holds the text fields of a note form
type NoteForm struct {
	Content string `json:"content"`
	Date    string `json:"date" validate:"required,datetime=2006-01-02"`
	GroupID uint   `json:"group_id" validate:"required"`
}

type NoteController struct {
	Notes  *services.NoteService
	Logger *logrus.Logger
}

func NewNoteController(notes *services.NoteService, logger *logrus.Logger) *NoteController {
	return &NoteController{Notes: notes, Logger: logger}
}

// ListNotes returns visible notes, optionally filtered by ?group_id=
func (nc *NoteController) ListNotes(c *fiber.Ctx) error {
	var groupID *uint
	if raw := c.Query("group_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid group ID")
		}
		gid := uint(id)
		groupID = &gid
	}

	notes, err := nc.Notes.List(middleware.RequestContext(c), groupID)
	if err != nil {
		return respondError(c, nc.Logger, "list_notes", err)
	}
	return c.JSON(notes)
}

func (nc *NoteController) CreateNote(c *fiber.Ctx) error {
	input, closeFiles, err := parseNoteForm(c, false)
	defer closeFiles()
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error())
	}

	note, err := nc.Notes.Create(middleware.RequestContext(c), input)
	if err != nil {
		return respondError(c, nc.Logger, "create_note", err)
	}
	metrics.NotesWritten.WithLabelValues("create").Inc()
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":      note.ID,
		"images":  note.Images,
		"note":    note,
		"message": "Note saved successfully",
	})
}

func (nc *NoteController) UpdateNote(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid note ID")
	}

	input, closeFiles, err := parseNoteForm(c, true)
	defer closeFiles()
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error())
	}

	note, err := nc.Notes.Update(middleware.RequestContext(c), id, input)
	if err != nil {
		return respondError(c, nc.Logger, "update_note", err)
	}
	metrics.NotesWritten.WithLabelValues("update").Inc()
	return c.JSON(fiber.Map{
		"note":    note,
		"message": "Note updated successfully",
	})
}

func (nc *NoteController) DeleteNote(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid note ID")
	}

	if err := nc.Notes.Delete(middleware.RequestContext(c), id); err != nil {
		return respondError(c, nc.Logger, "delete_note", err)
	}
	metrics.NotesWritten.WithLabelValues("delete").Inc()
	return c.JSON(fiber.Map{
		"message": "Note deleted successfully",
	})
}

func (nc *NoteController) DeleteNoteImage(c *fiber.Ctx) error {
	noteID, ok := paramID(c, "id")
	if !ok {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid note ID")
	}
	imageID, ok := paramID(c, "image_id")
	if !ok {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid image ID")
	}

	if err := nc.Notes.DeleteImage(middleware.RequestContext(c), noteID, imageID); err != nil {
		return respondError(c, nc.Logger, "delete_note_image", err)
	}
	return c.JSON(fiber.Map{
		"message": "Image deleted successfully",
	})
}

// ServeImage streams a stored upload the caller is allowed to see
func (nc *NoteController) ServeImage(c *fiber.Ctx) error {
	full, err := nc.Notes.ImagePath(middleware.RequestContext(c), c.Params("*"))
	if err != nil {
		return respondError(c, nc.Logger, "serve_image", err)
	}
	return c.SendFile(full)
}

// parseNoteForm reads a multipart (or urlencoded) note form. The returned
// func closes every opened upload and is always safe to call.
func parseNoteForm(c *fiber.Ctx, withKeep bool) (services.NoteInput, func(), error) {
	var opened []multipart.File
	closeFiles := func() {
		for _, f := range opened {
			f.Close()
		}
	}

	form := NoteForm{
		Content: c.FormValue("content"),
		Date:    strings.TrimSpace(c.FormValue("date")),
	}
	if raw := strings.TrimSpace(c.FormValue("group_id")); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return services.NoteInput{}, closeFiles, fmt.Errorf("group_id is invalid")
		}
		form.GroupID = uint(id)
	}
	if err := utils.ValidateStruct(form); err != nil {
		return services.NoteInput{}, closeFiles, err
	}

	input := services.NoteInput{
		Content: form.Content,
		Date:    form.Date,
		GroupID: form.GroupID,
	}

	if raw := c.FormValue("uploaded_chunks"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &input.Chunks); err != nil {
			return input, closeFiles, fmt.Errorf("uploaded_chunks must be a JSON array")
		}
	}
	if withKeep {
		input.KeepImageIDs = []uint{}
		if raw := c.FormValue("keep_images"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &input.KeepImageIDs); err != nil {
				return input, closeFiles, fmt.Errorf("keep_images must be a JSON array of image ids")
			}
		}
	}

	if !strings.HasPrefix(strings.ToLower(c.Get(fiber.HeaderContentType)), fiber.MIMEMultipartForm) {
		return input, closeFiles, nil
	}
	mf, err := c.MultipartForm()
	if err != nil {
		return input, closeFiles, fmt.Errorf("invalid multipart form")
	}
	headers := append(mf.File["images"], mf.File["images[]"]...)
	for _, fh := range headers {
		if fh.Filename == "" {
			continue
		}
		f, err := fh.Open()
		if err != nil {
			return input, closeFiles, fmt.Errorf("failed to read upload %s", fh.Filename)
		}
		opened = append(opened, f)
		input.Files = append(input.Files, services.IncomingFile{Name: fh.Filename, Reader: f})
	}
	return input, closeFiles, nil
}
