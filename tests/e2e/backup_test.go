package e2e

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const backupTimeout = 30 * time.Minute

// TestBackupRestore backs up a running application, restores it and
// deletes the archive. A second backup while one is running is rejected.
func TestBackupRestore(t *testing.T) {
	hostname := fmt.Sprintf("e2e-backup-%d", time.Now().Unix()%100000)
	app := deployTestApp(t, "nginx", hostname)
	id := app["id"].(string)
	appURL := apiURL + "/applications/" + id

	resp, body := httpPost(t, appURL+"/backups", map[string]any{
		"backup_type": "snapshot",
		"compression": "zstd",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, "create backup: %s", body)
	backup := parseJSON(t, body)
	backupID := backup["id"].(string)
	require.Equal(t, "creating", backup["status"])
	t.Logf("created backup: %s", backupID)

	resp, body = httpPost(t, appURL+"/backups", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode, "concurrent backup: %s", body)

	backup = waitForStatus(t, apiURL+"/backups/"+backupID, "completed", backupTimeout)
	require.NotEmpty(t, backup["file_name"])

	resp, body = httpGet(t, appURL+"/backups")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	require.Len(t, parsePaginatedItems(t, body), 1)

	resp, body = httpPost(t, apiURL+"/backups/"+backupID+"/restore", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, "restore: %s", body)

	waitForStatus(t, apiURL+"/backups/"+backupID, "completed", backupTimeout)
	waitForStatus(t, appURL, "stopped", backupTimeout)

	resp, body = httpDelete(t, apiURL+"/backups/"+backupID)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, "delete backup: %s", body)
	waitForStatus(t, apiURL+"/backups/"+backupID, "deleted", backupTimeout)
}

// TestCloneApplication clones a running application under a new hostname.
func TestCloneApplication(t *testing.T) {
	suffix := time.Now().Unix() % 100000
	app := deployTestApp(t, "nginx", fmt.Sprintf("e2e-src-%d", suffix))
	srcID := app["id"].(string)

	resp, body := httpPost(t, apiURL+"/applications/"+srcID+"/clone", map[string]any{
		"hostname": fmt.Sprintf("e2e-clone-%d", suffix),
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, "clone: %s", body)
	clone := parseJSON(t, body)
	cloneID := clone["id"].(string)
	require.Equal(t, srcID, clone["cloned_from"])
	t.Cleanup(func() {
		httpDelete(t, apiURL+"/applications/"+cloneID)
		waitForStatus(t, apiURL+"/applications/"+cloneID, "deleted", deployTimeout)
	})

	clone = waitForStatus(t, apiURL+"/applications/"+cloneID, "running", backupTimeout)
	require.NotEqual(t, app["container_id"], clone["container_id"])
	require.NotEqual(t, app["public_port"], clone["public_port"])
}
