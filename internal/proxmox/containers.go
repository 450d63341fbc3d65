package proxmox

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

func lxcPath(node string, vmid int, suffix string) string {
	return fmt.Sprintf("/nodes/%s/lxc/%d%s", url.PathEscape(node), vmid, suffix)
}

func boolParam(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// GetContainerStatus returns the live status of a container.
func (c *Client) GetContainerStatus(ctx context.Context, node string, vmid int) (ContainerStatus, error) {
	var st ContainerStatus
	op := fmt.Sprintf("get container %d status on %s", vmid, node)
	err := c.do(ctx, op, http.MethodGet, lxcPath(node, vmid, "/status/current"), nil, &st)
	return st, err
}

// GetContainerInterfaces returns the guest network interfaces as reported by
// the container. The list is empty until the guest has network.
func (c *Client) GetContainerInterfaces(ctx context.Context, node string, vmid int) ([]Interface, error) {
	var ifaces []Interface
	op := fmt.Sprintf("get container %d interfaces on %s", vmid, node)
	err := c.do(ctx, op, http.MethodGet, lxcPath(node, vmid, "/interfaces"), nil, &ifaces)
	return ifaces, err
}

// CreateContainer creates (but does not start) an LXC container with DHCP
// networking on cfg.Bridge.
func (c *Client) CreateContainer(ctx context.Context, node string, vmid int, cfg ContainerConfig) (TaskID, error) {
	params := url.Values{
		"vmid":         {strconv.Itoa(vmid)},
		"hostname":     {cfg.Hostname},
		"ostemplate":   {cfg.Template},
		"cores":        {strconv.Itoa(cfg.Cores)},
		"memory":       {strconv.Itoa(cfg.MemoryMB)},
		"swap":         {strconv.Itoa(cfg.SwapMB)},
		"rootfs":       {fmt.Sprintf("%s:%d", cfg.StoragePool, cfg.DiskGB)},
		"net0":         {fmt.Sprintf("name=eth0,bridge=%s,ip=dhcp", cfg.Bridge)},
		"unprivileged": {boolParam(cfg.Unprivileged)},
		"onboot":       {"1"},
		"start":        {"0"},
	}
	if cfg.RootPassword != "" {
		params.Set("password", cfg.RootPassword)
	}
	if cfg.Nesting {
		params.Set("features", "nesting=1,keyctl=1")
	}

	var upid TaskID
	op := fmt.Sprintf("create container %d on %s", vmid, node)
	err := c.do(ctx, op, http.MethodPost, fmt.Sprintf("/nodes/%s/lxc", url.PathEscape(node)), params, &upid)
	return upid, err
}

func (c *Client) StartContainer(ctx context.Context, node string, vmid int) (TaskID, error) {
	var upid TaskID
	op := fmt.Sprintf("start container %d on %s", vmid, node)
	err := c.do(ctx, op, http.MethodPost, lxcPath(node, vmid, "/status/start"), nil, &upid)
	return upid, err
}

// StopContainer shuts the container down cleanly, or kills it when force is set.
func (c *Client) StopContainer(ctx context.Context, node string, vmid int, force bool) (TaskID, error) {
	var upid TaskID
	op := fmt.Sprintf("stop container %d on %s", vmid, node)
	path := lxcPath(node, vmid, "/status/shutdown")
	params := url.Values{"timeout": {"60"}}
	if force {
		path = lxcPath(node, vmid, "/status/stop")
		params = nil
	}
	err := c.do(ctx, op, http.MethodPost, path, params, &upid)
	return upid, err
}

// DestroyContainer removes the container and its volumes. force stops a
// running container first.
func (c *Client) DestroyContainer(ctx context.Context, node string, vmid int, force bool) (TaskID, error) {
	var upid TaskID
	op := fmt.Sprintf("destroy container %d on %s", vmid, node)
	params := url.Values{"purge": {"1"}, "destroy-unreferenced-disks": {"1"}}
	if force {
		params.Set("force", "1")
	}
	err := c.do(ctx, op, http.MethodDelete, lxcPath(node, vmid, ""), params, &upid)
	return upid, err
}

// UpdateContainerConfig changes the CPU and memory allocation. Zero values
// are left unchanged.
func (c *Client) UpdateContainerConfig(ctx context.Context, node string, vmid int, cores, memoryMB int) error {
	params := url.Values{}
	if cores > 0 {
		params.Set("cores", strconv.Itoa(cores))
	}
	if memoryMB > 0 {
		params.Set("memory", strconv.Itoa(memoryMB))
	}
	if len(params) == 0 {
		return nil
	}
	op := fmt.Sprintf("update container %d config on %s", vmid, node)
	return c.do(ctx, op, http.MethodPut, lxcPath(node, vmid, "/config"), params, nil)
}

// SetHostname renames the container.
func (c *Client) SetHostname(ctx context.Context, node string, vmid int, hostname string) error {
	op := fmt.Sprintf("set container %d hostname on %s", vmid, node)
	return c.do(ctx, op, http.MethodPut, lxcPath(node, vmid, "/config"), url.Values{"hostname": {hostname}}, nil)
}

// ResetNetwork replaces net0 with a DHCP interface on bridge. Proxmox
// generates a new MAC address, which a restored copy of another container
// needs.
func (c *Client) ResetNetwork(ctx context.Context, node string, vmid int, bridge string) error {
	op := fmt.Sprintf("reset container %d network on %s", vmid, node)
	params := url.Values{"net0": {fmt.Sprintf("name=eth0,bridge=%s,ip=dhcp", bridge)}}
	return c.do(ctx, op, http.MethodPut, lxcPath(node, vmid, "/config"), params, nil)
}

// TaskStatus returns the state of a task.
func (c *Client) TaskStatus(ctx context.Context, node string, task TaskID) (TaskStatus, error) {
	var st TaskStatus
	op := fmt.Sprintf("get task %s status", task)
	path := fmt.Sprintf("/nodes/%s/tasks/%s/status", url.PathEscape(node), url.PathEscape(string(task)))
	err := c.do(ctx, op, http.MethodGet, path, nil, &st)
	return st, err
}

// WaitForTask polls a task until it stops. A task that finishes with an
// exit status other than OK is returned as an error carrying that status.
func (c *Client) WaitForTask(ctx context.Context, node string, task TaskID, poll time.Duration) error {
	if task == "" {
		return nil
	}
	if poll <= 0 {
		poll = 2 * time.Second
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		st, err := c.TaskStatus(ctx, node, task)
		if err != nil {
			return err
		}
		if st.Done() {
			if st.OK() {
				return nil
			}
			return &Error{
				Kind:    classifyMessage(http.StatusOK, st.ExitStatus),
				Op:      fmt.Sprintf("task %s", taskType(task)),
				Message: st.ExitStatus,
			}
		}

		select {
		case <-ctx.Done():
			return &Error{Kind: KindTimeout, Op: fmt.Sprintf("wait for task %s", taskType(task)), Err: ctx.Err()}
		case <-ticker.C:
		}
	}
}

// taskType extracts the task type from a UPID such as
// UPID:pve:0000ABCD:0001:65F0:vzcreate:200:root@pam:
func taskType(task TaskID) string {
	parts := strings.Split(string(task), ":")
	if len(parts) > 6 {
		return parts[5] + " " + parts[6]
	}
	return string(task)
}
