package proxmox

import (
	"context"
	"time"
)

// API is the hypervisor contract used by the rest of the system. It never
// retries; callers decide what is worth retrying with IsTransient.
type API interface {
	Version(ctx context.Context) (Version, error)
	ListNodes(ctx context.Context) ([]NodeInfo, error)
	ListVMIDs(ctx context.Context) ([]int, error)

	GetContainerStatus(ctx context.Context, node string, vmid int) (ContainerStatus, error)
	GetContainerInterfaces(ctx context.Context, node string, vmid int) ([]Interface, error)
	CreateContainer(ctx context.Context, node string, vmid int, cfg ContainerConfig) (TaskID, error)
	StartContainer(ctx context.Context, node string, vmid int) (TaskID, error)
	StopContainer(ctx context.Context, node string, vmid int, force bool) (TaskID, error)
	DestroyContainer(ctx context.Context, node string, vmid int, force bool) (TaskID, error)
	UpdateContainerConfig(ctx context.Context, node string, vmid int, cores, memoryMB int) error
	SetHostname(ctx context.Context, node string, vmid int, hostname string) error
	ResetNetwork(ctx context.Context, node string, vmid int, bridge string) error
	WaitForTask(ctx context.Context, node string, task TaskID, poll time.Duration) error

	ExecuteInContainer(ctx context.Context, node string, vmid int, command string, timeout time.Duration, tolerateNonZero bool) (string, error)

	CreateBackup(ctx context.Context, node string, vmid int, storage, mode, compression string) (BackupFile, error)
	RestoreBackup(ctx context.Context, node string, vmid int, file, storage string, force bool) (TaskID, error)
	DeleteBackupFile(ctx context.Context, node, storage, file string) error
}

var _ API = (*Client)(nil)
