package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"lexchat/internal/app"
	"lexchat/internal/transport/http/middleware"
	"lexchat/internal/transport/http/response"
)

type AdminHandler struct {
	adminService  *app.AdminService
	exportService *app.ExportService
}

type SetAdminRequest struct {
	IsAdmin *bool `json:"is_admin" binding:"required"`
}

func NewAdminHandler(adminService *app.AdminService, exportService *app.ExportService) *AdminHandler {
	return &AdminHandler{adminService: adminService, exportService: exportService}
}

func (h *AdminHandler) ListUsers(c *gin.Context) {
	users, err := h.adminService.ListUsers()
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list users failed")
		return
	}
	response.OK(c, users)
}

func (h *AdminHandler) GetUser(c *gin.Context) {
	targetID, ok := pathID(c, "id")
	if !ok {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid user id")
		return
	}

	detail, err := h.adminService.GetUserDetail(targetID)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrUserNotFound):
			response.Error(c, http.StatusNotFound, response.CodeUserNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "get user failed")
		}
		return
	}
	response.OK(c, detail)
}

func (h *AdminHandler) SetAdmin(c *gin.Context) {
	actorID, ok := middleware.CurrentUserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	targetID, ok := pathID(c, "id")
	if !ok {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid user id")
		return
	}

	var req SetAdminRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.IsAdmin == nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	user, err := h.adminService.SetAdmin(actorID, targetID, *req.IsAdmin)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrSelfDemotion):
			response.Error(c, http.StatusForbidden, response.CodeForbidden, err.Error())
		case errors.Is(err, app.ErrUserNotFound):
			response.Error(c, http.StatusNotFound, response.CodeUserNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "set admin failed")
		}
		return
	}
	response.OK(c, userView(user))
}

func (h *AdminHandler) DeleteUser(c *gin.Context) {
	actorID, ok := middleware.CurrentUserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	targetID, ok := pathID(c, "id")
	if !ok {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid user id")
		return
	}

	if err := h.adminService.DeleteUser(c.Request.Context(), actorID, targetID); err != nil {
		switch {
		case errors.Is(err, app.ErrSelfDeletion):
			response.Error(c, http.StatusForbidden, response.CodeForbidden, err.Error())
		case errors.Is(err, app.ErrUserNotFound):
			response.Error(c, http.StatusNotFound, response.CodeUserNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "delete user failed")
		}
		return
	}
	response.OK(c, gin.H{"deleted_user_id": targetID})
}

func (h *AdminHandler) Stats(c *gin.Context) {
	stats, err := h.adminService.Stats()
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "load stats failed")
		return
	}
	response.OK(c, stats)
}

// Export renders conversations across the platform, optionally filtered to
// one user with ?user_id=.
func (h *AdminHandler) Export(c *gin.Context) {
	var filterUserID uint
	if raw := c.Query("user_id"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || parsed == 0 {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid user_id")
			return
		}
		filterUserID = uint(parsed)
	}

	payload, err := h.exportService.ExportAllConversations(filterUserID, c.DefaultQuery("format", app.ExportFormatJSON))
	if err != nil {
		writeExportError(c, err)
		return
	}
	writeExport(c, payload)
}

// PromoteFirstAdmin bootstraps the first admin account; it only works while
// the platform has none, and is therefore mounted behind auth but not behind
// the admin check.
func (h *AdminHandler) PromoteFirstAdmin(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	user, err := h.adminService.PromoteFirstAdmin(userID)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrAdminExists):
			response.Error(c, http.StatusConflict, response.CodeConflict, err.Error())
		case errors.Is(err, app.ErrUserNotFound):
			response.Error(c, http.StatusNotFound, response.CodeUserNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "promote failed")
		}
		return
	}
	response.OK(c, userView(user))
}
