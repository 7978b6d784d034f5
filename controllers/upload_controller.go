package controller

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"notekeeper/metrics"
	"notekeeper/middleware"
	"notekeeper/services"
	"notekeeper/utils"
)

type MergeRequest struct {
	SessionID   string `json:"dzuuid" validate:"required"`
	Filename    string `json:"filename" validate:"required"`
	TotalChunks int    `json:"dztotalchunkcount" validate:"required,gte=1"`
}

type UploadController struct {
	Assembler *services.Assembler
	Logger    *logrus.Logger
}

func NewUploadController(assembler *services.Assembler, logger *logrus.Logger) *UploadController {
	return &UploadController{Assembler: assembler, Logger: logger}
}

// UploadChunk stores one Dropzone chunk under the session's temp directory
func (uc *UploadController) UploadChunk(c *fiber.Ctx) error {
	session := strings.TrimSpace(c.FormValue("dzuuid"))
	rawIndex := strings.TrimSpace(c.FormValue("dzchunkindex"))
	fh, err := c.FormFile("file")
	if err != nil || session == "" || rawIndex == "" {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Missing file, dzuuid or dzchunkindex")
	}

	index, err := strconv.Atoi(rawIndex)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "dzchunkindex must be a number")
	}

	f, err := fh.Open()
	if err != nil {
		return respondError(c, uc.Logger, "upload_chunk", err)
	}
	defer f.Close()

	if err := uc.Assembler.SaveChunk(middleware.RequestContext(c), session, index, f); err != nil {
		return respondError(c, uc.Logger, "upload_chunk", err)
	}
	metrics.UploadChunks.Inc()
	return c.JSON(fiber.Map{
		"message": "Chunk uploaded",
	})
}

func (uc *UploadController) MergeChunks(c *fiber.Ctx) error {
	var req MergeRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error())
	}

	rc := middleware.RequestContext(c)
	result, err := uc.Assembler.Merge(rc, req.SessionID, req.Filename, req.TotalChunks)
	if err != nil {
		metrics.UploadMerges.WithLabelValues(services.KindOf(err).String()).Inc()
		return respondError(c, uc.Logger, "merge_chunks", err)
	}
	metrics.UploadMerges.WithLabelValues("ok").Inc()

	uc.Logger.WithFields(logrus.Fields{
		"user_id":  rc.UserID,
		"session":  req.SessionID,
		"chunks":   req.TotalChunks,
		"filename": result.Filename,
	}).Info("Chunked upload merged")
	return c.JSON(fiber.Map{
		"message":           "Upload complete",
		"filename":          result.Filename,
		"original_filename": result.OriginalFilename,
	})
}
