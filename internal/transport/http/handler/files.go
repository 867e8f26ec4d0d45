package handler

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"lexchat/internal/app"
	"lexchat/internal/pkg/pdfcheck"
	"lexchat/internal/repository"
	"lexchat/internal/transport/http/middleware"
	"lexchat/internal/transport/http/response"
)

type FilesHandler struct {
	assistants  *app.AssistantService
	userRepo    *repository.UserRepository
	fileRepo    *repository.UserFileRepository
	uploadDir   string
	maxFiles    int
	maxFileSize int64
}

func NewFilesHandler(assistants *app.AssistantService, userRepo *repository.UserRepository, fileRepo *repository.UserFileRepository, uploadDir string, maxFiles, maxFileSizeMB int) *FilesHandler {
	if maxFiles <= 0 {
		maxFiles = 5
	}
	if maxFileSizeMB <= 0 {
		maxFileSizeMB = 10
	}
	return &FilesHandler{
		assistants:  assistants,
		userRepo:    userRepo,
		fileRepo:    fileRepo,
		uploadDir:   uploadDir,
		maxFiles:    maxFiles,
		maxFileSize: int64(maxFileSizeMB) << 20,
	}
}

type AskRequest struct {
	Question string `json:"question" binding:"required"`
}

// Upload stages the multipart PDF files to local disk, validates them, and
// hands them to the attach pipeline. The pipeline owns the staged copies
// from that point and removes them on every outcome.
func (h *FilesHandler) Upload(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid multipart form")
		return
	}
	fileHeaders := form.File["files"]
	if len(fileHeaders) == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "no files provided")
		return
	}
	if len(fileHeaders) > h.maxFiles {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest,
			fmt.Sprintf("too many files, at most %d allowed", h.maxFiles))
		return
	}

	staged := make([]app.UploadedFile, 0, len(fileHeaders))
	cleanup := func() {
		for _, f := range staged {
			_ = os.Remove(f.Path)
		}
	}

	for _, header := range fileHeaders {
		if header.Size > h.maxFileSize {
			cleanup()
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest,
				fmt.Sprintf("file %s exceeds the size limit", header.Filename))
			return
		}

		dst := filepath.Join(h.uploadDir, uuid.NewString()+".pdf")
		if err := c.SaveUploadedFile(header, dst); err != nil {
			cleanup()
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "store uploaded file failed")
			return
		}
		if err := pdfcheck.Validate(dst); err != nil {
			_ = os.Remove(dst)
			cleanup()
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest,
				fmt.Sprintf("file %s is not a valid pdf", header.Filename))
			return
		}

		staged = append(staged, app.UploadedFile{
			Path:         dst,
			OriginalName: header.Filename,
			MimeType:     "application/pdf",
			Size:         header.Size,
		})
	}

	result, err := h.assistants.AttachDocuments(c.Request.Context(), userID, middleware.CurrentUsername(c), staged)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "only pdf files are accepted")
		case errors.Is(err, app.ErrCompletionTimeout):
			response.Error(c, http.StatusGatewayTimeout, response.CodeUpstreamTimeout, "indexing did not finish in time")
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "attach documents failed")
		}
		return
	}

	response.OK(c, result)
}

// Ask runs a one-off grounded question against the user's documents,
// outside of any conversation.
func (h *FilesHandler) Ask(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	hasDocs, err := h.assistants.HasUserDocuments(userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "resolve user documents failed")
		return
	}

	session, err := h.assistants.EnsureSession(c.Request.Context(), userID, middleware.CurrentUsername(c), !hasDocs)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "prepare assistant session failed")
		return
	}

	result, err := h.assistants.Ask(c.Request.Context(), session, req.Question)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrMessageEmpty):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrCompletionTimeout):
			response.Error(c, http.StatusGatewayTimeout, response.CodeUpstreamTimeout, err.Error())
		case errors.Is(err, app.ErrRunFailed):
			response.Error(c, http.StatusBadGateway, response.CodeInternalServer, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "ask failed")
		}
		return
	}

	response.OK(c, gin.H{
		"answer":      result.Reply,
		"fallback":    result.Fallback,
		"master_only": result.MasterOnly,
	})
}

func (h *FilesHandler) List(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	files, err := h.fileRepo.ListByUserID(userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list files failed")
		return
	}
	response.OK(c, files)
}

// SessionInfo reports the state of the user's retrieval session: whether a
// store is provisioned and what documents back it.
func (h *FilesHandler) SessionInfo(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	user, err := h.userRepo.GetByID(userID)
	if err != nil || user == nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "load user failed")
		return
	}

	files, err := h.fileRepo.ListByUserID(userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list files failed")
		return
	}
	totalSize, err := h.fileRepo.TotalSizeByUserID(userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "sum file sizes failed")
		return
	}

	var storeID string
	if user.VectorStoreID != nil {
		storeID = *user.VectorStoreID
	}
	response.OK(c, gin.H{
		"provisioned":     storeID != "",
		"vector_store_id": storeID,
		"file_count":      len(files),
		"total_file_size": totalSize,
		"files":           files,
	})
}

// Clear tears down the user's remote resources and local file records. A
// partial remote cleanup still reports success, flagged so the client can
// tell the user some remote garbage may remain.
func (h *FilesHandler) Clear(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	err := h.assistants.ClearSession(c.Request.Context(), userID)
	switch {
	case err == nil:
		response.OK(c, gin.H{"cleared": true, "partial": false})
	case errors.Is(err, app.ErrNoUserStore):
		response.Error(c, http.StatusNotFound, response.CodeNoUserStore, "no documents to clear")
	case errors.Is(err, app.ErrPartialCleanup):
		response.OK(c, gin.H{
			"cleared": true,
			"partial": true,
			"message": "documents partially cleaned up, some remote resources could not be removed",
		})
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "clear documents failed")
	}
}
