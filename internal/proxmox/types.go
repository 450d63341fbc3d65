package proxmox

// NodeInfo is one entry of GET /nodes.
type NodeInfo struct {
	Name   string  `json:"node"`
	Status string  `json:"status"`
	MaxMem int64   `json:"maxmem"`
	Mem    int64   `json:"mem"`
	MaxCPU int     `json:"maxcpu"`
	CPU    float64 `json:"cpu"`
	Uptime int64   `json:"uptime"`
}

func (n NodeInfo) Online() bool { return n.Status == "online" }

// FreeMemory returns total minus used memory in bytes.
func (n NodeInfo) FreeMemory() int64 { return n.MaxMem - n.Mem }

// ContainerStatus is GET /nodes/{node}/lxc/{vmid}/status/current.
type ContainerStatus struct {
	Status  string  `json:"status"`
	Name    string  `json:"name,omitempty"`
	CPU     float64 `json:"cpu"`
	CPUs    float64 `json:"cpus,omitempty"`
	Mem     int64   `json:"mem"`
	MaxMem  int64   `json:"maxmem"`
	Disk    int64   `json:"disk"`
	MaxDisk int64   `json:"maxdisk"`
	Uptime  int64   `json:"uptime"`
}

func (s ContainerStatus) Running() bool { return s.Status == "running" }

// ContainerConfig holds the parameters for creating an LXC container.
type ContainerConfig struct {
	Hostname     string
	Template     string
	Cores        int
	MemoryMB     int
	SwapMB       int
	DiskGB       int
	StoragePool  string
	Bridge       string
	RootPassword string
	// Nesting is required to run a container runtime inside the guest.
	Nesting      bool
	Unprivileged bool
}

// TaskID is a Proxmox task UPID.
type TaskID string

// TaskStatus is GET /nodes/{node}/tasks/{upid}/status.
type TaskStatus struct {
	Status     string `json:"status"`
	ExitStatus string `json:"exitstatus"`
	Type       string `json:"type"`
}

// Done reports whether the task has finished.
func (t TaskStatus) Done() bool { return t.Status == "stopped" }

// OK reports whether a finished task succeeded.
func (t TaskStatus) OK() bool { return t.ExitStatus == "OK" }

// Interface is one entry of GET /nodes/{node}/lxc/{vmid}/interfaces.
type Interface struct {
	Name   string `json:"name"`
	HWAddr string `json:"hwaddr"`
	Inet   string `json:"inet"`
	Inet6  string `json:"inet6"`
}

// BackupFile identifies a vzdump archive on a storage.
type BackupFile struct {
	// FileName is the volume id, for example
	// local:backup/vzdump-lxc-200-2024_05_01-10_00_00.tar.zst
	FileName string `json:"file_name"`
	Size     int64  `json:"size"`
}

type storageContent struct {
	VolID string `json:"volid"`
	Size  int64  `json:"size"`
	CTime int64  `json:"ctime"`
	VMID  int    `json:"vmid"`
}

type clusterResource struct {
	Type string `json:"type"`
	VMID int    `json:"vmid"`
	Node string `json:"node"`
}

type clusterStatusEntry struct {
	Type   string `json:"type"`
	Name   string `json:"name"`
	IP     string `json:"ip"`
	Online int    `json:"online"`
}

// Version is GET /version.
type Version struct {
	Version string `json:"version"`
	Release string `json:"release"`
}
