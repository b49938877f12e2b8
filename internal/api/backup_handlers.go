package api

import (
	"net/http"

	"github.com/emberhost/panel/internal/middleware"
	"github.com/emberhost/panel/internal/models"
	"github.com/emberhost/panel/internal/repository"
	"github.com/emberhost/panel/internal/service"
	"github.com/gin-gonic/gin"
)

type BackupHandler struct {
	backupService *service.BackupService
	statusService *service.BackupStatusService
	backups       *repository.BackupRepository
	servers       *repository.ServerRepository
}

func NewBackupHandler(
	backupService *service.BackupService,
	statusService *service.BackupStatusService,
	backups *repository.BackupRepository,
	servers *repository.ServerRepository,
) *BackupHandler {
	return &BackupHandler{
		backupService: backupService,
		statusService: statusService,
		backups:       backups,
		servers:       servers,
	}
}

// ListBackups handles GET /api/servers/:server/backups
func (h *BackupHandler) ListBackups(c *gin.Context) {
	server, err := loadServer(c, h.servers)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	backups, err := h.backups.FindByServerID(server.ID)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"backups": backups,
		"limit":   server.BackupLimit,
	})
}

// CreateBackup handles POST /api/servers/:server/backups
func (h *BackupHandler) CreateBackup(c *gin.Context) {
	server, err := loadServer(c, h.servers)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	var req struct {
		Name         string   `json:"name" binding:"max=255"`
		IgnoredFiles []string `json:"ignored_files"`
		IsLocked     bool     `json:"is_locked"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError(err.Error()))
		return
	}

	backup, err := h.backupService.Create(
		c.Request.Context(), server,
		req.Name, req.IgnoredFiles,
		req.IsLocked, canDeleteBackups(c),
		currentUserID(c),
	)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, backup)
}

// ViewBackup handles GET /api/servers/:server/backups/:backup
func (h *BackupHandler) ViewBackup(c *gin.Context) {
	_, backup, err := h.load(c)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, backup)
}

// ToggleLock handles POST /api/servers/:server/backups/:backup/lock
func (h *BackupHandler) ToggleLock(c *gin.Context) {
	_, backup, err := h.load(c)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	backup, err = h.backupService.ToggleLock(backup, currentUserID(c))
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, backup)
}

// DeleteBackup handles DELETE /api/servers/:server/backups/:backup
func (h *BackupHandler) DeleteBackup(c *gin.Context) {
	server, backup, err := h.load(c)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	if !canDeleteBackups(c) && !isAdmin(c) {
		middleware.HandleError(c, middleware.NewForbiddenError("You do not have permission to delete backups."))
		return
	}

	if err := h.backupService.Delete(c.Request.Context(), server, backup, currentUserID(c)); err != nil {
		middleware.HandleError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// DownloadBackup handles GET /api/servers/:server/backups/:backup/download
func (h *BackupHandler) DownloadBackup(c *gin.Context) {
	server, backup, err := h.load(c)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	url, err := h.backupService.DownloadURL(c.Request.Context(), server, backup, currentUserID(c))
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url})
}

// RestoreBackup handles POST /api/servers/:server/backups/:backup/restore
func (h *BackupHandler) RestoreBackup(c *gin.Context) {
	server, backup, err := h.load(c)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	var req struct {
		Truncate bool `json:"truncate"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError(err.Error()))
		return
	}

	if err := h.statusService.Restore(c.Request.Context(), server, backup, req.Truncate, currentUserID(c)); err != nil {
		middleware.HandleError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// load resolves the :server and :backup parameters, verifying ownership
func (h *BackupHandler) load(c *gin.Context) (*models.Server, *models.Backup, error) {
	server, err := loadServer(c, h.servers)
	if err != nil {
		return nil, nil, err
	}

	backup, err := h.backups.FindByUUID(c.Param("backup"))
	if err != nil {
		if service.IsNotFound(err) {
			return nil, nil, middleware.NewNotFoundError("Backup")
		}
		return nil, nil, err
	}
	if !backup.BelongsToServer(server.ID) {
		return nil, nil, middleware.NewNotFoundError("Backup")
	}

	return server, backup, nil
}
