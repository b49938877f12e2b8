package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/emberhost/panel/internal/middleware"
	"github.com/emberhost/panel/internal/models"
)

func testNode(t *testing.T, server *httptest.Server) *models.Node {
	t.Helper()

	u, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("failed to parse test server url: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("failed to parse test server port: %v", err)
	}

	return &models.Node{
		ID:         1,
		Name:       "test-node",
		FQDN:       u.Hostname(),
		Scheme:     "http",
		DaemonPort: port,
		TokenID:    "tid1",
		Token:      "secret",
	}
}

func TestStartBackupSendsAuthorizedRequest(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody BackupRequest

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	node := testNode(t, ts)
	server := &models.Server{UUID: "srv-uuid"}
	backup := &models.Backup{UUID: "bak-uuid", Disk: models.BackupDiskS3}

	client := NewDaemonClient(5 * time.Second)
	err := client.StartBackup(context.Background(), node, server, backup, []string{"*.log"})
	if err != nil {
		t.Fatalf("start backup failed: %v", err)
	}

	if gotAuth != "Bearer tid1.secret" {
		t.Errorf("expected daemon credential, got %q", gotAuth)
	}
	if gotPath != "/api/servers/srv-uuid/backup" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotBody.Adapter != "s3" || gotBody.UUID != "bak-uuid" {
		t.Errorf("unexpected body %+v", gotBody)
	}
	if len(gotBody.IgnoredFiles) != 1 || gotBody.IgnoredFiles[0] != "*.log" {
		t.Errorf("expected ignored files forwarded, got %v", gotBody.IgnoredFiles)
	}
}

func TestRejectedRequestBecomesRemoteCallError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"nope"}`, http.StatusConflict)
	}))
	defer ts.Close()

	client := NewDaemonClient(5 * time.Second)
	err := client.DeleteBackup(context.Background(), testNode(t, ts), &models.Server{UUID: "s"}, "b")

	var appErr *middleware.AppError
	if !errors.As(err, &appErr) || appErr.Code != "REMOTE_CALL_FAILED" {
		t.Fatalf("expected REMOTE_CALL_FAILED, got %v", err)
	}
	if appErr.StatusCode != http.StatusBadGateway {
		t.Errorf("expected 502 surfaced to the client, got %d", appErr.StatusCode)
	}
}

func TestUnreachableNodeBecomesRemoteCallError(t *testing.T) {
	node := &models.Node{Name: "down", FQDN: "127.0.0.1", Scheme: "http", DaemonPort: 1, TokenID: "t", Token: "s"}

	client := NewDaemonClient(time.Second)
	err := client.SendPowerAction(context.Background(), node, &models.Server{UUID: "s"}, "start")

	var appErr *middleware.AppError
	if !errors.As(err, &appErr) || appErr.Code != "REMOTE_CALL_FAILED" {
		t.Fatalf("expected REMOTE_CALL_FAILED, got %v", err)
	}
	if appErr.Err == nil {
		t.Error("expected the transport error preserved for logging")
	}
}

func TestServerIsRunningDecodesState(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"state": "running"})
	}))
	defer ts.Close()

	client := NewDaemonClient(5 * time.Second)
	running, err := client.ServerIsRunning(context.Background(), testNode(t, ts), &models.Server{UUID: "s"})
	if err != nil {
		t.Fatalf("state check failed: %v", err)
	}
	if !running {
		t.Error("expected running state")
	}
}

func TestRestoreBackupCarriesDownloadURL(t *testing.T) {
	var gotBody RestoreRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	client := NewDaemonClient(5 * time.Second)
	backup := &models.Backup{UUID: "b", Disk: models.BackupDiskS3}
	err := client.RestoreBackup(context.Background(), testNode(t, ts), &models.Server{UUID: "s"}, backup, "https://objects.test/b", true)
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}

	if gotBody.Adapter != "s3" || gotBody.DownloadURL != "https://objects.test/b" || !gotBody.TruncateDirectory {
		t.Errorf("unexpected body %+v", gotBody)
	}
}
