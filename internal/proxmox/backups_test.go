package proxmox

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_CreateBackup_ReturnsNewestArchive(t *testing.T) {
	srv, _ := fakePVE(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api2/json/nodes/pve/vzdump":
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "200", r.PostForm.Get("vmid"))
			assert.Equal(t, "local", r.PostForm.Get("storage"))
			assert.Equal(t, "snapshot", r.PostForm.Get("mode"))
			assert.Equal(t, "zstd", r.PostForm.Get("compress"))
			writeData(w, "UPID:pve:1:2:3:vzdump:200:root@pam:")
		case strings.HasPrefix(r.URL.Path, "/api2/json/nodes/pve/tasks/"):
			writeData(w, TaskStatus{Status: "stopped", ExitStatus: "OK"})
		case r.URL.Path == "/api2/json/nodes/pve/storage/local/content":
			assert.Equal(t, "backup", r.URL.Query().Get("content"))
			w.Write([]byte(`{"data":[
				{"volid":"local:backup/vzdump-lxc-200-2024_05_01-10_00_00.tar.zst","size":100,"ctime":1714557600,"vmid":200},
				{"volid":"local:backup/vzdump-lxc-200-2024_05_02-10_00_00.tar.zst","size":250,"ctime":1714644000,"vmid":200}
			]}`))
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})
	c := newTestClient(srv, "secret")

	file, err := c.CreateBackup(context.Background(), "pve", 200, "local", "snapshot", "zstd")
	require.NoError(t, err)
	assert.Equal(t, "local:backup/vzdump-lxc-200-2024_05_02-10_00_00.tar.zst", file.FileName)
	assert.Equal(t, int64(250), file.Size)
}

func TestClient_CreateBackup_TaskFails(t *testing.T) {
	srv, _ := fakePVE(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api2/json/nodes/pve/vzdump" {
			writeData(w, "UPID:pve:1:2:3:vzdump:200:root@pam:")
			return
		}
		writeData(w, TaskStatus{Status: "stopped", ExitStatus: "job errors"})
	})
	c := newTestClient(srv, "secret")

	_, err := c.CreateBackup(context.Background(), "pve", 200, "local", "snapshot", "zstd")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job errors")
	assert.False(t, IsTransient(err))
}

func TestClient_RestoreBackup(t *testing.T) {
	srv, _ := fakePVE(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api2/json/nodes/pve/lxc", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "1", r.PostForm.Get("restore"))
		assert.Equal(t, "1", r.PostForm.Get("force"))
		assert.Equal(t, "local:backup/vzdump-lxc-200.tar.zst", r.PostForm.Get("ostemplate"))
		assert.Equal(t, "local-lvm", r.PostForm.Get("storage"))
		writeData(w, "UPID:pve:1:2:3:vzrestore:200:root@pam:")
	})
	c := newTestClient(srv, "secret")

	upid, err := c.RestoreBackup(context.Background(), "pve", 200, "local:backup/vzdump-lxc-200.tar.zst", "local-lvm", true)
	require.NoError(t, err)
	assert.Contains(t, string(upid), "vzrestore")
}

func TestClient_DeleteBackupFile_NotFound(t *testing.T) {
	srv, _ := fakePVE(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		writeError(w, http.StatusInternalServerError, "volume 'local:backup/vzdump-lxc-200.tar.zst' does not exist")
	})
	c := newTestClient(srv, "secret")

	err := c.DeleteBackupFile(context.Background(), "pve", "local", "local:backup/vzdump-lxc-200.tar.zst")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestClient_DeleteBackupFile_Success(t *testing.T) {
	srv, _ := fakePVE(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.EscapedPath(), "/storage/local/content/local:backup%2Fvzdump-lxc-200.tar.zst"), r.URL.EscapedPath())
		writeData(w, nil)
	})
	c := newTestClient(srv, "secret")

	err := c.DeleteBackupFile(context.Background(), "pve", "local", "local:backup/vzdump-lxc-200.tar.zst")
	require.NoError(t, err)
}
