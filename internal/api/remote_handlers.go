package api

import (
	"net/http"

	"github.com/emberhost/panel/internal/middleware"
	"github.com/emberhost/panel/internal/service"
	"github.com/gin-gonic/gin"
)

// RemoteHandler serves the callback endpoints node daemons report to. Every
// route behind it is daemon-authenticated, never user-authenticated.
type RemoteHandler struct {
	statusService *service.BackupStatusService
}

func NewRemoteHandler(statusService *service.BackupStatusService) *RemoteHandler {
	return &RemoteHandler{statusService: statusService}
}

// ReportBackupCompletion handles POST /api/remote/backups/:backup
func (h *RemoteHandler) ReportBackupCompletion(c *gin.Context) {
	node := middleware.NodeFromContext(c)
	if node == nil {
		middleware.HandleError(c, middleware.NewForbiddenError("You do not have permission to access this resource"))
		return
	}

	var req service.CompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError(err.Error()))
		return
	}

	backup, err := h.statusService.HandleCompletion(c.Request.Context(), node, c.Param("backup"), &req)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, backup)
}

// ReportRestoreOutcome handles POST /api/remote/backups/:backup/restore
func (h *RemoteHandler) ReportRestoreOutcome(c *gin.Context) {
	var req struct {
		Successful bool `json:"successful"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError(err.Error()))
		return
	}

	if err := h.statusService.HandleRestoreOutcome(c.Param("backup"), req.Successful); err != nil {
		middleware.HandleError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
