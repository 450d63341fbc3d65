package proxmox

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// CreateBackup runs vzdump for a container, waits for it and returns the
// newest archive for that container on storage.
func (c *Client) CreateBackup(ctx context.Context, node string, vmid int, storage, mode, compression string) (BackupFile, error) {
	params := url.Values{
		"vmid":     {strconv.Itoa(vmid)},
		"storage":  {storage},
		"mode":     {mode},
		"compress": {compression},
		"remove":   {"0"},
	}

	var upid TaskID
	op := fmt.Sprintf("backup container %d on %s", vmid, node)
	if err := c.do(ctx, op, http.MethodPost, fmt.Sprintf("/nodes/%s/vzdump", url.PathEscape(node)), params, &upid); err != nil {
		return BackupFile{}, err
	}
	if err := c.WaitForTask(ctx, node, upid, 5*time.Second); err != nil {
		return BackupFile{}, err
	}

	var contents []storageContent
	path := fmt.Sprintf("/nodes/%s/storage/%s/content", url.PathEscape(node), url.PathEscape(storage))
	q := url.Values{"content": {"backup"}, "vmid": {strconv.Itoa(vmid)}}
	if err := c.do(ctx, "list backups on "+storage, http.MethodGet, path, q, &contents); err != nil {
		return BackupFile{}, err
	}

	var newest *storageContent
	for i := range contents {
		if newest == nil || contents[i].CTime > newest.CTime {
			newest = &contents[i]
		}
	}
	if newest == nil {
		return BackupFile{}, &Error{Kind: KindNotFound, Op: op, Message: "backup archive not found on " + storage}
	}
	return BackupFile{FileName: newest.VolID, Size: newest.Size}, nil
}

// RestoreBackup recreates container vmid from a vzdump archive. force
// overwrites an existing container with the same VMID, which must be stopped.
func (c *Client) RestoreBackup(ctx context.Context, node string, vmid int, file, storage string, force bool) (TaskID, error) {
	params := url.Values{
		"vmid":       {strconv.Itoa(vmid)},
		"ostemplate": {file},
		"restore":    {"1"},
		"force":      {boolParam(force)},
	}
	if storage != "" {
		params.Set("storage", storage)
	}

	var upid TaskID
	op := fmt.Sprintf("restore container %d on %s", vmid, node)
	err := c.do(ctx, op, http.MethodPost, fmt.Sprintf("/nodes/%s/lxc", url.PathEscape(node)), params, &upid)
	return upid, err
}

// DeleteBackupFile removes a backup archive. A missing archive is reported
// as a not-found error.
func (c *Client) DeleteBackupFile(ctx context.Context, node, storage, file string) error {
	op := fmt.Sprintf("delete backup %s", file)
	path := fmt.Sprintf("/nodes/%s/storage/%s/content/%s", url.PathEscape(node), url.PathEscape(storage), url.PathEscape(file))

	var upid TaskID
	if err := c.do(ctx, op, http.MethodDelete, path, nil, &upid); err != nil {
		return err
	}
	return c.WaitForTask(ctx, node, upid, 2*time.Second)
}
