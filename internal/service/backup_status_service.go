package service

import (
	"context"
	"fmt"
	"time"

	"github.com/emberhost/panel/internal/events"
	"github.com/emberhost/panel/internal/middleware"
	"github.com/emberhost/panel/internal/models"
	"github.com/emberhost/panel/internal/monitoring"
	"github.com/emberhost/panel/internal/repository"
	"github.com/emberhost/panel/internal/storage"
	"github.com/emberhost/panel/pkg/logger"
	"gorm.io/gorm"
)

// CompletionRequest is the payload the daemon reports once a backup archive
// has either been written or abandoned.
type CompletionRequest struct {
	Successful   bool                 `json:"successful"`
	Checksum     string               `json:"checksum"`
	ChecksumType string               `json:"checksum_type"`
	Size         int64                `json:"size"`
	Parts        []storage.UploadPart `json:"parts"`
}

// BackupStatusService owns the state transitions a backup goes through after
// creation: daemon-reported completion, restores, and restore outcomes.
type BackupStatusService struct {
	db      *gorm.DB
	backups *repository.BackupRepository
	servers *repository.ServerRepository
	daemon  DaemonCaller
	store   ObjectStore
	bus     *events.Bus
}

// NewBackupStatusService creates a new backup status service
func NewBackupStatusService(
	db *gorm.DB,
	backups *repository.BackupRepository,
	servers *repository.ServerRepository,
	daemon DaemonCaller,
	store ObjectStore,
	bus *events.Bus,
) *BackupStatusService {
	return &BackupStatusService{
		db:      db,
		backups: backups,
		servers: servers,
		daemon:  daemon,
		store:   store,
		bus:     bus,
	}
}

// HandleCompletion applies a daemon completion report to a pending backup.
// A backup that already completed successfully is immutable; reporting on it
// again is rejected so a replayed callback cannot rewrite history.
func (s *BackupStatusService) HandleCompletion(ctx context.Context, node *models.Node, backupUUID string, req *CompletionRequest) (*models.Backup, error) {
	backup, err := s.backups.FindByUUID(backupUUID)
	if err != nil {
		if IsNotFound(err) {
			return nil, middleware.NewNotFoundError("backup")
		}
		return nil, fmt.Errorf("failed to load backup: %w", err)
	}

	if backup.Server == nil || backup.Server.NodeID != node.ID {
		return nil, middleware.NewForbiddenError("This backup does not belong to a server on the requesting node.")
	}

	if backup.Succeeded() {
		return nil, middleware.NewBadRequestError("Cannot update the status of a backup that is already marked as completed.")
	}

	now := time.Now()
	successful := req.Successful

	backup.IsSuccessful = &successful
	backup.CompletedAt = &now
	if successful {
		checksum := fmt.Sprintf("%s:%s", req.ChecksumType, req.Checksum)
		backup.Checksum = &checksum
		backup.Bytes = req.Size
	} else {
		// A failed backup keeps nothing: no checksum, no size, and any
		// lock requested at creation time is released.
		backup.Checksum = nil
		backup.Bytes = 0
		backup.IsLocked = false
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(backup).Error; err != nil {
			return fmt.Errorf("failed to persist backup completion: %w", err)
		}

		if backup.Disk == models.BackupDiskS3 {
			if err := s.finalizeUpload(ctx, backup, req); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	result := "success"
	eventType := events.EventBackupComplete
	if !successful {
		result = "failure"
		eventType = events.EventBackupFail
	}
	monitoring.BackupsCompleted.WithLabelValues(result).Inc()

	s.bus.Publish(events.Event{
		Type:     eventType,
		ServerID: backup.ServerID,
		Properties: map[string]interface{}{
			"backup_uuid": backup.UUID,
			"name":        backup.Name,
			"bytes":       backup.Bytes,
		},
	})

	logger.Info("BACKUP: Completion reported", map[string]interface{}{
		"backup_uuid": backup.UUID,
		"successful":  successful,
	})

	return backup, nil
}

// finalizeUpload settles the multipart upload opened when the backup was
// created: aborted on failure, assembled into the final object on success.
func (s *BackupStatusService) finalizeUpload(ctx context.Context, backup *models.Backup, req *CompletionRequest) error {
	if backup.UploadID == nil || *backup.UploadID == "" {
		// A record without an upload id should not exist for a successful
		// s3 backup; tolerate it for failures so cleanup can proceed.
		if backup.Succeeded() {
			return middleware.NewConsistencyError("Backup has no upload id recorded against it, cannot finalize its archive.")
		}
		return nil
	}

	key := backup.StorageKey(backup.Server.UUID)

	if !backup.Succeeded() {
		if err := s.store.AbortMultipartUpload(ctx, key, *backup.UploadID); err != nil {
			return middleware.NewRemoteCallError("Failed to abort the object storage upload for this backup", err)
		}
		return nil
	}

	parts := req.Parts
	if len(parts) == 0 {
		listed, err := s.store.ListParts(ctx, key, *backup.UploadID)
		if err != nil {
			return middleware.NewRemoteCallError("Failed to list the uploaded parts for this backup", err)
		}
		parts = listed
	}

	if err := s.store.CompleteMultipartUpload(ctx, key, *backup.UploadID, parts); err != nil {
		return middleware.NewRemoteCallError("Failed to assemble the object storage archive for this backup", err)
	}

	return nil
}

// Restore begins restoring a backup onto its server. The server is moved into
// the restoring state with a compare-and-swap so two concurrent restore
// requests cannot both pass the precondition check.
func (s *BackupStatusService) Restore(ctx context.Context, server *models.Server, backup *models.Backup, truncate bool, userID *uint) error {
	if server.Status != nil {
		return middleware.NewBadRequestError("This server is not currently in a state that allows a backup to be restored.")
	}
	if !backup.Succeeded() || backup.CompletedAt == nil {
		return middleware.NewBadRequestError("This backup cannot be restored because it has not completed successfully.")
	}

	var downloadURL string
	if backup.Disk == models.BackupDiskS3 {
		url, err := s.store.PresignDownload(ctx, backup.StorageKey(server.UUID), 15*time.Minute)
		if err != nil {
			return middleware.NewRemoteCallError("Failed to generate a download link for the restore", err)
		}
		downloadURL = url
	}

	swapped, err := s.servers.TransitionStatus(server.ID, nil, models.StatusPtr(models.StatusRestoringBackup))
	if err != nil {
		return fmt.Errorf("failed to update server status: %w", err)
	}
	if !swapped {
		return middleware.NewBadRequestError("This server is not currently in a state that allows a backup to be restored.")
	}
	server.Status = models.StatusPtr(models.StatusRestoringBackup)

	monitoring.BackupRestores.WithLabelValues("started").Inc()

	if err := s.daemon.RestoreBackup(ctx, server.Node, server, backup, downloadURL, truncate); err != nil {
		// The daemon never accepted the restore, so the server is not
		// actually restoring; release the status again.
		if revertErr := s.servers.SetStatus(server.ID, nil); revertErr != nil {
			logger.Error("BACKUP: Failed to release restoring status after daemon error", revertErr, map[string]interface{}{
				"server_uuid": server.UUID,
			})
		}
		server.Status = nil
		return err
	}

	s.bus.Publish(events.Event{
		Type:     events.EventBackupRestore,
		ServerID: server.ID,
		UserID:   userID,
		Properties: map[string]interface{}{
			"backup_uuid": backup.UUID,
			"name":        backup.Name,
			"truncate":    truncate,
		},
	})

	logger.Info("BACKUP: Restore initiated", map[string]interface{}{
		"backup_uuid": backup.UUID,
		"server_uuid": server.UUID,
	})

	return nil
}

// HandleRestoreOutcome processes the daemon's report that a restore finished.
// The status is always released, even for a failed restore; a server stuck in
// the restoring state would otherwise need manual intervention.
func (s *BackupStatusService) HandleRestoreOutcome(backupUUID string, successful bool) error {
	backup, err := s.backups.FindByUUID(backupUUID)
	if err != nil {
		if IsNotFound(err) {
			return middleware.NewNotFoundError("backup")
		}
		return fmt.Errorf("failed to load backup: %w", err)
	}

	if err := s.servers.SetStatus(backup.ServerID, nil); err != nil {
		return fmt.Errorf("failed to release server status: %w", err)
	}

	eventType := events.EventBackupRestoreComplete
	result := "completed"
	if !successful {
		eventType = events.EventBackupRestoreFailed
		result = "failed"
	}
	monitoring.BackupRestores.WithLabelValues(result).Inc()

	s.bus.Publish(events.Event{
		Type:       eventType,
		ServerID:   backup.ServerID,
		Properties: map[string]interface{}{"backup_uuid": backup.UUID, "name": backup.Name},
	})

	logger.Info("BACKUP: Restore outcome reported", map[string]interface{}{
		"backup_uuid": backup.UUID,
		"successful":  successful,
	})

	return nil
}
