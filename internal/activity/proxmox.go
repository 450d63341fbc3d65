package activity

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/edvin/proximity/internal/metrics"
	"github.com/edvin/proximity/internal/model"
	"github.com/edvin/proximity/internal/provision"
	"github.com/edvin/proximity/internal/proxmox"
)

// Clients resolves a host ID to its API client. *proxmox.Registry
// satisfies this interface.
type Clients interface {
	API(ctx context.Context, hostID string) (proxmox.API, error)
}

// SecretOpener decrypts sealed container passwords.
type SecretOpener interface {
	Open(encoded string) (string, error)
}

const taskPoll = 2 * time.Second

// Proxmox contains the activities that act on containers.
type Proxmox struct {
	clients Clients
	secrets SecretOpener

	netAttempts    int
	netInterval    time.Duration
	dialTimeout    time.Duration
	heartbeatEvery time.Duration
}

func NewProxmox(clients Clients, secrets SecretOpener) *Proxmox {
	return &Proxmox{
		clients:        clients,
		secrets:        secrets,
		netAttempts:    20,
		netInterval:    3 * time.Second,
		dialTimeout:    5 * time.Second,
		heartbeatEvery: 10 * time.Second,
	}
}

// keepAlive records a heartbeat right away and then every heartbeatEvery
// until the returned stop func is called. Adapter calls that block for
// minutes (task waits, guest commands) run between keepAlive and stop.
func (a *Proxmox) keepAlive(ctx context.Context, detail string) (stop func()) {
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(a.heartbeatEvery)
		defer ticker.Stop()
		activity.RecordHeartbeat(ctx, detail)
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				activity.RecordHeartbeat(ctx, detail)
			}
		}
	}()
	return func() {
		close(done)
		<-exited
	}
}

// ContainerRef addresses one container.
type ContainerRef struct {
	HostID string `json:"host_id"`
	Node   string `json:"node"`
	VMID   int    `json:"vmid"`
}

// RefFor addresses the container of app.
func RefFor(app model.Application) ContainerRef {
	return ContainerRef{HostID: app.HostID, Node: app.Node, VMID: app.ContainerID}
}

func (r ContainerRef) String() string {
	return fmt.Sprintf("%s/%s/%d", r.HostID, r.Node, r.VMID)
}

func (a *Proxmox) api(ctx context.Context, hostID string) (proxmox.API, error) {
	api, err := a.clients.API(ctx, hostID)
	if err != nil {
		return nil, classify(fmt.Errorf("proxmox client for host %s: %w", hostID, err))
	}
	return api, nil
}

// classify keeps transient adapter errors retryable and turns every other
// failure into a non-retryable error carrying the adapter error kind.
func classify(err error) error {
	if err == nil || proxmox.IsTransient(err) {
		return err
	}
	kind := string(proxmox.KindOf(err))
	if kind == "" {
		kind = "PROXMOX_ERROR"
	}
	return temporal.NewNonRetryableApplicationError(err.Error(), kind, err)
}

// CreateContainerParams holds the parameters for CreateContainer. The root
// password is sealed and only opened inside the activity.
type CreateContainerParams struct {
	Ref          ContainerRef  `json:"ref"`
	Hostname     string        `json:"hostname"`
	RootPassword string        `json:"root_password"`
	Spec         ContainerSpec `json:"spec"`
}

// CreateContainer creates the container, waits for the task and starts it.
func (a *Proxmox) CreateContainer(ctx context.Context, params CreateContainerParams) error {
	api, err := a.api(ctx, params.Ref.HostID)
	if err != nil {
		return err
	}
	password, err := a.secrets.Open(params.RootPassword)
	if err != nil {
		return temporal.NewNonRetryableApplicationError("open root password", ErrTypeInvalid, err)
	}

	stop := a.keepAlive(ctx, "create-container")
	defer stop()

	task, err := api.CreateContainer(ctx, params.Ref.Node, params.Ref.VMID, proxmox.ContainerConfig{
		Hostname:     params.Hostname,
		Template:     params.Spec.Template,
		Cores:        params.Spec.Cores,
		MemoryMB:     params.Spec.MemoryMB,
		SwapMB:       512,
		DiskGB:       params.Spec.DiskGB,
		StoragePool:  params.Spec.StoragePool,
		Bridge:       params.Spec.Bridge,
		RootPassword: password,
		Nesting:      true,
		Unprivileged: true,
	})
	if err != nil {
		return classify(err)
	}
	if err := api.WaitForTask(ctx, params.Ref.Node, task, taskPoll); err != nil {
		return classify(err)
	}
	return a.start(ctx, api, params.Ref)
}

func (a *Proxmox) start(ctx context.Context, api proxmox.API, ref ContainerRef) error {
	task, err := api.StartContainer(ctx, ref.Node, ref.VMID)
	if err != nil {
		return classify(err)
	}
	return classify(api.WaitForTask(ctx, ref.Node, task, taskPoll))
}

// StartContainer starts a stopped container.
func (a *Proxmox) StartContainer(ctx context.Context, ref ContainerRef) error {
	api, err := a.api(ctx, ref.HostID)
	if err != nil {
		return err
	}
	stop := a.keepAlive(ctx, "start-container")
	defer stop()
	return a.start(ctx, api, ref)
}

// EnsureRunning starts the container unless it already runs.
func (a *Proxmox) EnsureRunning(ctx context.Context, ref ContainerRef) error {
	api, err := a.api(ctx, ref.HostID)
	if err != nil {
		return err
	}
	status, err := api.GetContainerStatus(ctx, ref.Node, ref.VMID)
	if err != nil {
		return classify(err)
	}
	if status.Running() {
		return nil
	}
	return a.start(ctx, api, ref)
}

// StopContainerParams holds the parameters for StopContainer.
type StopContainerParams struct {
	Ref   ContainerRef `json:"ref"`
	Force bool         `json:"force"`
}

// StopContainer shuts the container down, or stops it hard when Force is
// set.
func (a *Proxmox) StopContainer(ctx context.Context, params StopContainerParams) error {
	api, err := a.api(ctx, params.Ref.HostID)
	if err != nil {
		return err
	}
	task, err := api.StopContainer(ctx, params.Ref.Node, params.Ref.VMID, params.Force)
	if err != nil {
		return classify(err)
	}
	return classify(api.WaitForTask(ctx, params.Ref.Node, task, taskPoll))
}

// DestroyContainer removes the container and its disks. A container that
// does not exist counts as destroyed.
func (a *Proxmox) DestroyContainer(ctx context.Context, ref ContainerRef) error {
	api, err := a.api(ctx, ref.HostID)
	if err != nil {
		return err
	}
	task, err := api.DestroyContainer(ctx, ref.Node, ref.VMID, true)
	if proxmox.IsNotFound(err) {
		activity.GetLogger(ctx).Info("container already gone", "container", ref.String())
		return nil
	}
	if err != nil {
		return classify(err)
	}
	err = api.WaitForTask(ctx, ref.Node, task, taskPoll)
	if proxmox.IsNotFound(err) {
		return nil
	}
	return classify(err)
}

// UpdateContainerConfigParams holds the parameters for UpdateContainerConfig.
type UpdateContainerConfigParams struct {
	Ref      ContainerRef `json:"ref"`
	Cores    int          `json:"cores"`
	MemoryMB int          `json:"memory_mb"`
}

// UpdateContainerConfig changes CPU and memory. Zero values are left
// unchanged.
func (a *Proxmox) UpdateContainerConfig(ctx context.Context, params UpdateContainerConfigParams) error {
	api, err := a.api(ctx, params.Ref.HostID)
	if err != nil {
		return err
	}
	return classify(api.UpdateContainerConfig(ctx, params.Ref.Node, params.Ref.VMID, params.Cores, params.MemoryMB))
}

// RenameContainerParams holds the parameters for RenameContainer.
type RenameContainerParams struct {
	Ref      ContainerRef `json:"ref"`
	Hostname string       `json:"hostname"`
	Bridge   string       `json:"bridge"`
}

// RenameContainer gives a restored copy of another container its own
// hostname and a fresh network interface.
func (a *Proxmox) RenameContainer(ctx context.Context, params RenameContainerParams) error {
	api, err := a.api(ctx, params.Ref.HostID)
	if err != nil {
		return err
	}
	stop := a.keepAlive(ctx, "rename-container")
	defer stop()
	if err := api.SetHostname(ctx, params.Ref.Node, params.Ref.VMID, params.Hostname); err != nil {
		return classify(err)
	}
	return classify(api.ResetNetwork(ctx, params.Ref.Node, params.Ref.VMID, params.Bridge))
}

// WaitForNetwork polls the container interfaces until one outside loopback
// has an IPv4 address and returns it.
func (a *Proxmox) WaitForNetwork(ctx context.Context, ref ContainerRef) (string, error) {
	api, err := a.api(ctx, ref.HostID)
	if err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 1; attempt <= a.netAttempts; attempt++ {
		activity.RecordHeartbeat(ctx, attempt)

		ifaces, err := api.GetContainerInterfaces(ctx, ref.Node, ref.VMID)
		if err == nil {
			if ip := containerIPv4(ifaces); ip != "" {
				return ip, nil
			}
		} else {
			lastErr = err
		}

		if attempt == a.netAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(a.netInterval):
		}
	}

	msg := fmt.Sprintf("container %s has no IPv4 address after %d attempts", ref, a.netAttempts)
	if lastErr != nil {
		msg += ": " + lastErr.Error()
	}
	return "", temporal.NewNonRetryableApplicationError(msg, "NETWORK_TIMEOUT", lastErr)
}

// containerIPv4 returns the first non-loopback IPv4 address. Proxmox
// reports addresses in CIDR notation.
func containerIPv4(ifaces []proxmox.Interface) string {
	for _, iface := range ifaces {
		if iface.Name == "lo" || iface.Inet == "" {
			continue
		}
		addr := iface.Inet
		if ip, _, err := net.ParseCIDR(addr); err == nil {
			addr = ip.String()
		}
		if ip := net.ParseIP(addr); ip != nil && ip.To4() != nil && !ip.IsLoopback() {
			return ip.String()
		}
	}
	return ""
}

// RunStepParams holds the parameters for RunProvisionStep.
type RunStepParams struct {
	Ref  ContainerRef   `json:"ref"`
	Step provision.Step `json:"step"`
}

// RunProvisionStep executes one provisioning command in the guest. A
// failure is reported as "{step}: {cause}".
func (a *Proxmox) RunProvisionStep(ctx context.Context, params RunStepParams) (*provision.StepResult, error) {
	api, err := a.api(ctx, params.Ref.HostID)
	if err != nil {
		return nil, err
	}

	step := params.Step
	stop := a.keepAlive(ctx, step.Name)
	start := time.Now()
	out, err := api.ExecuteInContainer(ctx, params.Ref.Node, params.Ref.VMID, step.Command, step.Timeout, step.TolerateNonZero)
	stop()
	result := &provision.StepResult{Name: step.Name, Output: out, Duration: time.Since(start)}
	metrics.ProvisionStepDuration.WithLabelValues(step.Name, metrics.Result(err)).Observe(result.Duration.Seconds())

	if err != nil {
		return nil, temporal.NewNonRetryableApplicationError(fmt.Sprintf("%s: %s", step.Name, err), "STEP_FAILED", err)
	}
	activity.GetLogger(ctx).Info("provision step finished", "step", step.Name, "container", params.Ref.String(), "duration", result.Duration)
	return result, nil
}

// VerifyServicesParams holds the parameters for VerifyServices.
type VerifyServicesParams struct {
	Ref      ContainerRef `json:"ref"`
	Hostname string       `json:"hostname"`
}

// VerifyServices fails unless at least one compose service is running.
func (a *Proxmox) VerifyServices(ctx context.Context, params VerifyServicesParams) error {
	step := provision.VerifyStep(params.Hostname)
	res, err := a.RunProvisionStep(ctx, RunStepParams{Ref: params.Ref, Step: step})
	if err != nil {
		return err
	}
	if strings.TrimSpace(res.Output) == "" {
		return temporal.NewNonRetryableApplicationError(step.Name+": no services running", "STEP_FAILED", nil)
	}
	return nil
}

// VerifyPortParams holds the parameters for VerifyPort.
type VerifyPortParams struct {
	Address string `json:"address"`
	Port    int    `json:"port"`
	// Attempts bounds how often the connection is retried while the service
	// starts up.
	Attempts int `json:"attempts"`
}

// VerifyPort opens a TCP connection to the service from the worker.
func (a *Proxmox) VerifyPort(ctx context.Context, params VerifyPortParams) error {
	attempts := max(params.Attempts, 1)
	addr := net.JoinHostPort(params.Address, strconv.Itoa(params.Port))
	dialer := net.Dialer{Timeout: a.dialTimeout}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		activity.RecordHeartbeat(ctx, attempt)
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			conn.Close()
			return nil
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.netInterval):
		}
	}
	return temporal.NewNonRetryableApplicationError(
		fmt.Sprintf("verify-port: %s not reachable: %v", addr, lastErr), "STEP_FAILED", lastErr)
}

// CreateBackupParams holds the parameters for CreateBackup.
type CreateBackupParams struct {
	Ref         ContainerRef `json:"ref"`
	Storage     string       `json:"storage"`
	Mode        string       `json:"mode"`
	Compression string       `json:"compression"`
}

// CreateBackup takes a vzdump archive of the container.
func (a *Proxmox) CreateBackup(ctx context.Context, params CreateBackupParams) (*proxmox.BackupFile, error) {
	api, err := a.api(ctx, params.Ref.HostID)
	if err != nil {
		return nil, err
	}
	file, err := api.CreateBackup(ctx, params.Ref.Node, params.Ref.VMID, params.Storage, params.Mode, params.Compression)
	metrics.BackupsTotal.WithLabelValues("create", metrics.Result(err)).Inc()
	if err != nil {
		return nil, classify(err)
	}
	return &file, nil
}

// RestoreBackupParams holds the parameters for RestoreBackup.
type RestoreBackupParams struct {
	Ref  ContainerRef `json:"ref"`
	File string       `json:"file"`
	// Storage receives the restored root disk; empty keeps the archive's.
	Storage string `json:"storage"`
	// Force overwrites an existing container with the same VMID.
	Force bool `json:"force"`
}

// RestoreBackup restores an archive into the container and waits for the
// task.
func (a *Proxmox) RestoreBackup(ctx context.Context, params RestoreBackupParams) error {
	api, err := a.api(ctx, params.Ref.HostID)
	if err != nil {
		return err
	}
	task, err := api.RestoreBackup(ctx, params.Ref.Node, params.Ref.VMID, params.File, params.Storage, params.Force)
	if err == nil {
		err = api.WaitForTask(ctx, params.Ref.Node, task, taskPoll)
	}
	metrics.BackupsTotal.WithLabelValues("restore", metrics.Result(err)).Inc()
	return classify(err)
}

// DeleteBackupFileParams holds the parameters for DeleteBackupFile.
type DeleteBackupFileParams struct {
	HostID  string `json:"host_id"`
	Node    string `json:"node"`
	Storage string `json:"storage"`
	File    string `json:"file"`
}

// DeleteBackupFile removes an archive. An archive that does not exist
// counts as deleted.
func (a *Proxmox) DeleteBackupFile(ctx context.Context, params DeleteBackupFileParams) error {
	api, err := a.api(ctx, params.HostID)
	if err != nil {
		return err
	}
	err = api.DeleteBackupFile(ctx, params.Node, params.Storage, params.File)
	if proxmox.IsNotFound(err) {
		err = nil
	}
	metrics.BackupsTotal.WithLabelValues("delete", metrics.Result(err)).Inc()
	return classify(err)
}

// IsErrorType reports whether err carries an application error of the given
// type.
func IsErrorType(err error, errType string) bool {
	var appErr *temporal.ApplicationError
	return errors.As(err, &appErr) && appErr.Type() == errType
}
