package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/emberhost/panel/internal/middleware"
	"github.com/emberhost/panel/internal/models"
	"github.com/emberhost/panel/pkg/logger"
)

// DaemonClient talks to the per-node daemon over its HTTP API. The daemon is
// an opaque peer: the panel issues an instruction and the daemon reports the
// outcome later through the remote callback endpoints.
type DaemonClient struct {
	httpClient *http.Client
}

// NewDaemonClient creates a new daemon client with the given request timeout
func NewDaemonClient(timeout time.Duration) *DaemonClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &DaemonClient{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// BackupRequest instructs the daemon to begin archiving a server
type BackupRequest struct {
	Adapter      string   `json:"adapter"`
	UUID         string   `json:"uuid"`
	IgnoredFiles []string `json:"ignore"`
}

// RestoreRequest instructs the daemon to restore a backup over a server's
// files. DownloadURL is only set for object-storage archives.
type RestoreRequest struct {
	Adapter           string `json:"adapter"`
	DownloadURL       string `json:"download_url,omitempty"`
	TruncateDirectory bool   `json:"truncate_directory"`
}

// StartBackup asks the node's daemon to begin a backup of the server
func (c *DaemonClient) StartBackup(ctx context.Context, node *models.Node, server *models.Server, backup *models.Backup, ignoredFiles []string) error {
	payload := BackupRequest{
		Adapter:      string(backup.Disk),
		UUID:         backup.UUID,
		IgnoredFiles: ignoredFiles,
	}
	path := fmt.Sprintf("/api/servers/%s/backup", server.UUID)
	return c.do(ctx, node, http.MethodPost, path, payload)
}

// RestoreBackup asks the daemon to fetch (or read) the archive and unpack it
// over the server's files.
func (c *DaemonClient) RestoreBackup(ctx context.Context, node *models.Node, server *models.Server, backup *models.Backup, downloadURL string, truncate bool) error {
	payload := RestoreRequest{
		Adapter:           string(backup.Disk),
		DownloadURL:       downloadURL,
		TruncateDirectory: truncate,
	}
	path := fmt.Sprintf("/api/servers/%s/backup/%s/restore", server.UUID, backup.UUID)
	return c.do(ctx, node, http.MethodPost, path, payload)
}

// DeleteBackup asks the daemon to remove a stored archive from its disk
func (c *DaemonClient) DeleteBackup(ctx context.Context, node *models.Node, server *models.Server, backupUUID string) error {
	path := fmt.Sprintf("/api/servers/%s/backup/%s", server.UUID, backupUUID)
	return c.do(ctx, node, http.MethodDelete, path, nil)
}

// SendCommand forwards console commands to the server's process
func (c *DaemonClient) SendCommand(ctx context.Context, node *models.Node, server *models.Server, commands []string) error {
	payload := map[string]interface{}{"commands": commands}
	path := fmt.Sprintf("/api/servers/%s/commands", server.UUID)
	return c.do(ctx, node, http.MethodPost, path, payload)
}

// ServerIsRunning reports whether the server's process is currently running
func (c *DaemonClient) ServerIsRunning(ctx context.Context, node *models.Node, server *models.Server) (bool, error) {
	path := fmt.Sprintf("/api/servers/%s", server.UUID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, node.BaseURL()+path, nil)
	if err != nil {
		return false, fmt.Errorf("failed to build daemon request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+node.TokenID+"."+node.Token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, middleware.NewRemoteCallError(
			fmt.Sprintf("Daemon on node %s could not be reached", node.Name), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return false, middleware.NewRemoteCallError(
			fmt.Sprintf("Daemon on node %s responded with status %d", node.Name, resp.StatusCode), nil)
	}

	var state struct {
		State string `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return false, fmt.Errorf("failed to decode daemon response: %w", err)
	}
	return state.State == "running", nil
}

// SendPowerAction sends a power signal (start/stop/restart/kill)
func (c *DaemonClient) SendPowerAction(ctx context.Context, node *models.Node, server *models.Server, action string) error {
	payload := map[string]interface{}{"action": action}
	path := fmt.Sprintf("/api/servers/%s/power", server.UUID)
	return c.do(ctx, node, http.MethodPost, path, payload)
}

func (c *DaemonClient) do(ctx context.Context, node *models.Node, method, path string, payload interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode daemon request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, node.BaseURL()+path, body)
	if err != nil {
		return fmt.Errorf("failed to build daemon request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+node.TokenID+"."+node.Token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// The node is unreachable; surface this distinctly from a
		// request the daemon rejected.
		return middleware.NewRemoteCallError(
			fmt.Sprintf("Daemon on node %s could not be reached", node.Name), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		logger.Warn("DAEMON: Request rejected", map[string]interface{}{
			"node_id": node.ID,
			"method":  method,
			"path":    path,
			"status":  resp.StatusCode,
			"body":    string(data),
		})
		return middleware.NewRemoteCallError(
			fmt.Sprintf("Daemon on node %s responded with status %d", node.Name, resp.StatusCode), nil)
	}

	return nil
}
