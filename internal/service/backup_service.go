package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/emberhost/panel/internal/events"
	"github.com/emberhost/panel/internal/middleware"
	"github.com/emberhost/panel/internal/models"
	"github.com/emberhost/panel/internal/monitoring"
	"github.com/emberhost/panel/internal/repository"
	"github.com/emberhost/panel/internal/storage"
	"github.com/emberhost/panel/pkg/config"
	"github.com/emberhost/panel/pkg/logger"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// DaemonCaller is the slice of the daemon client the backup services use
type DaemonCaller interface {
	StartBackup(ctx context.Context, node *models.Node, server *models.Server, backup *models.Backup, ignoredFiles []string) error
	RestoreBackup(ctx context.Context, node *models.Node, server *models.Server, backup *models.Backup, downloadURL string, truncate bool) error
	DeleteBackup(ctx context.Context, node *models.Node, server *models.Server, backupUUID string) error
}

// ObjectStore is the object-storage surface the backup lifecycle needs
type ObjectStore interface {
	Bucket() string
	CreateMultipartUpload(ctx context.Context, key string) (string, error)
	ListParts(ctx context.Context, key, uploadID string) ([]storage.UploadPart, error)
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error
	CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []storage.UploadPart) error
	PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error)
	DeleteObject(ctx context.Context, key string) error
}

// BackupService drives the panel side of the backup lifecycle: creation,
// locking, deletion and download links. Completion and restore transitions
// live in BackupStatusService.
type BackupService struct {
	backups     *repository.BackupRepository
	servers     *repository.ServerRepository
	daemon      DaemonCaller
	store       ObjectStore
	bus         *events.Bus
	disk        models.BackupDisk
	downloadTTL time.Duration
	jwtSecret   []byte
}

// NewBackupService creates a new backup service. store may be nil when the
// panel only uses the wings disk.
func NewBackupService(
	backups *repository.BackupRepository,
	servers *repository.ServerRepository,
	daemon DaemonCaller,
	store ObjectStore,
	bus *events.Bus,
	cfg *config.Config,
) *BackupService {
	disk := models.BackupDisk(cfg.BackupDisk)
	if disk != models.BackupDiskS3 {
		disk = models.BackupDiskWings
	}

	return &BackupService{
		backups:     backups,
		servers:     servers,
		daemon:      daemon,
		store:       store,
		bus:         bus,
		disk:        disk,
		downloadTTL: time.Duration(cfg.DownloadLinkTTLMinutes) * time.Minute,
		jwtSecret:   []byte(cfg.JWTSecret),
	}
}

// Disk returns the storage adapter new backups are created on
func (s *BackupService) Disk() models.BackupDisk {
	return s.disk
}

// Create starts a new backup for the server. isLocked is only honored when
// the caller holds the backup-delete capability; otherwise it is silently
// dropped, matching the panel's long-standing behavior.
func (s *BackupService) Create(ctx context.Context, server *models.Server, name string, ignoredFiles []string, isLocked, canLock bool, userID *uint) (*models.Backup, error) {
	if server.BackupLimit <= 0 {
		return nil, middleware.NewForbiddenError("Backups cannot be created for this server because its backup limit is set to 0.")
	}

	count, err := s.backups.CountNonFailed(server.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count server backups: %w", err)
	}
	if count >= int64(server.BackupLimit) {
		return nil, middleware.NewLimitExceededError(fmt.Sprintf(
			"This server cannot have any more backups. It is limited to %d backups.", server.BackupLimit,
		))
	}

	if name == "" {
		name = "Backup at " + time.Now().Format("2006-01-02 15:04:05")
	}
	if ignoredFiles == nil {
		ignoredFiles = []string{}
	}
	ignoredJSON, err := json.Marshal(ignoredFiles)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ignored files: %w", err)
	}

	backup := &models.Backup{
		UUID:         uuid.New().String(),
		ServerID:     server.ID,
		Name:         name,
		Disk:         s.disk,
		IsLocked:     isLocked && canLock,
		IgnoredFiles: datatypes.JSON(ignoredJSON),
	}

	// An s3 backup is streamed by the daemon as a multipart upload; the
	// upload has to exist before the daemon starts writing parts.
	if s.disk == models.BackupDiskS3 {
		uploadID, err := s.store.CreateMultipartUpload(ctx, backup.StorageKey(server.UUID))
		if err != nil {
			return nil, middleware.NewRemoteCallError("Failed to initialize the object storage upload for this backup", err)
		}
		backup.UploadID = &uploadID
	}

	if err := s.backups.Create(backup); err != nil {
		return nil, fmt.Errorf("failed to create backup record: %w", err)
	}

	monitoring.BackupsCreated.WithLabelValues(string(s.disk)).Inc()

	s.bus.Publish(events.Event{
		Type:     events.EventBackupStart,
		ServerID: server.ID,
		UserID:   userID,
		Properties: map[string]interface{}{
			"backup_uuid": backup.UUID,
			"name":        backup.Name,
			"locked":      backup.IsLocked,
		},
	})

	// The daemon works asynchronously from here; it will call back on the
	// remote API once the archive succeeds or fails.
	if err := s.daemon.StartBackup(ctx, server.Node, server, backup, ignoredFiles); err != nil {
		logger.Error("BACKUP: Daemon rejected backup request", err, map[string]interface{}{
			"backup_uuid": backup.UUID,
			"server_uuid": server.UUID,
		})
		return nil, err
	}

	logger.Info("BACKUP: Backup initiated", map[string]interface{}{
		"backup_uuid": backup.UUID,
		"server_uuid": server.UUID,
		"disk":        backup.Disk,
	})

	return backup, nil
}

// ToggleLock flips the deletion lock on a backup. Only successful backups
// can be locked; there is nothing worth protecting on a failed one.
func (s *BackupService) ToggleLock(backup *models.Backup, userID *uint) (*models.Backup, error) {
	if !backup.Succeeded() {
		return nil, middleware.NewBadRequestError("Only a successfully completed backup can be locked or unlocked.")
	}

	backup.IsLocked = !backup.IsLocked
	if err := s.backups.Update(backup); err != nil {
		return nil, fmt.Errorf("failed to update backup lock state: %w", err)
	}

	eventType := events.EventBackupUnlock
	if backup.IsLocked {
		eventType = events.EventBackupLock
	}
	s.bus.Publish(events.Event{
		Type:       eventType,
		ServerID:   backup.ServerID,
		UserID:     userID,
		Properties: map[string]interface{}{"backup_uuid": backup.UUID, "name": backup.Name},
	})

	return backup, nil
}

// Delete removes a backup from its storage location and then from the
// database. A locked backup is rejected before any remote call is made.
func (s *BackupService) Delete(ctx context.Context, server *models.Server, backup *models.Backup, userID *uint) error {
	if backup.IsLocked {
		return middleware.NewConflictError("Cannot delete a backup that is marked as locked.")
	}

	switch backup.Disk {
	case models.BackupDiskS3:
		if err := s.store.DeleteObject(ctx, backup.StorageKey(server.UUID)); err != nil {
			return middleware.NewRemoteCallError("Failed to remove the backup archive from object storage", err)
		}
	default:
		if err := s.daemon.DeleteBackup(ctx, server.Node, server, backup.UUID); err != nil {
			return err
		}
	}

	if err := s.backups.Delete(backup.ID); err != nil {
		return fmt.Errorf("failed to delete backup record: %w", err)
	}

	s.bus.Publish(events.Event{
		Type:     events.EventBackupDelete,
		ServerID: backup.ServerID,
		UserID:   userID,
		Properties: map[string]interface{}{
			"backup_uuid": backup.UUID,
			"name":        backup.Name,
			"failed":      !backup.Succeeded(),
		},
	})

	logger.Info("BACKUP: Backup deleted", map[string]interface{}{
		"backup_uuid": backup.UUID,
		"server_uuid": server.UUID,
	})

	return nil
}

// DownloadURL generates a short-lived URL from which the backup archive can
// be fetched. For s3 archives this is a presigned object URL; for wings
// archives it is a daemon URL carrying a signed token.
func (s *BackupService) DownloadURL(ctx context.Context, server *models.Server, backup *models.Backup, userID *uint) (string, error) {
	if !backup.Succeeded() {
		return "", middleware.NewBadRequestError("A download link cannot be generated for an incomplete or failed backup.")
	}

	var url string
	var err error

	switch backup.Disk {
	case models.BackupDiskS3:
		url, err = s.store.PresignDownload(ctx, backup.StorageKey(server.UUID), s.downloadTTL)
		if err != nil {
			return "", middleware.NewRemoteCallError("Failed to generate an object storage download link", err)
		}
	default:
		url, err = s.wingsDownloadURL(server, backup)
		if err != nil {
			return "", fmt.Errorf("failed to sign download token: %w", err)
		}
	}

	s.bus.Publish(events.Event{
		Type:       events.EventBackupDownload,
		ServerID:   backup.ServerID,
		UserID:     userID,
		Properties: map[string]interface{}{"backup_uuid": backup.UUID, "name": backup.Name},
	})

	return url, nil
}

// wingsDownloadURL builds a daemon download URL authorized by a short-lived
// token the daemon verifies against the shared panel secret.
func (s *BackupService) wingsDownloadURL(server *models.Server, backup *models.Backup) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iat":         jwt.NewNumericDate(now),
		"exp":         jwt.NewNumericDate(now.Add(s.downloadTTL)),
		"sub":         server.UUID,
		"backup_uuid": backup.UUID,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s/download/backup?token=%s", server.Node.BaseURL(), token), nil
}
