package workflow

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/edvin/proximity/internal/activity"
	"github.com/edvin/proximity/internal/model"
	"github.com/edvin/proximity/internal/provision"
	"github.com/edvin/proximity/internal/proxmox"
)

const (
	// stepMargin is added to a step's own timeout so the guest command
	// times out before the activity does.
	stepMargin = 30 * time.Second

	createContainerTimeout = 10 * time.Minute
	waitForNetworkTimeout  = 2 * time.Minute
	containerPowerTimeout  = 5 * time.Minute
	verifyPortAttempts     = 10
)

// DeployApplicationWorkflow provisions a newly created application: it
// creates the container, installs the runtime, deploys the compose manifest
// and verifies the services. Any failure moves the application to error
// with the failing step recorded.
func DeployApplicationWorkflow(ctx workflow.Context, appID string) error {
	var ac activity.ApplicationContext
	err := workflow.ExecuteActivity(dbCtx(ctx), "GetApplicationContext", appID).Get(ctx, &ac)
	if err != nil {
		_ = setApplicationError(ctx, appID, model.AppDeploying, err)
		return err
	}

	if err := provisionContainer(ctx, ac); err != nil {
		_ = setApplicationError(ctx, appID, model.AppDeploying, err)
		return err
	}
	return transition(ctx, appID, model.AppDeploying, model.AppRunning)
}

// RetryApplicationWorkflow destroys whatever a failed deployment left
// behind and provisions the application again from the start.
func RetryApplicationWorkflow(ctx workflow.Context, appID string) error {
	var ac activity.ApplicationContext
	err := workflow.ExecuteActivity(dbCtx(ctx), "GetApplicationContext", appID).Get(ctx, &ac)
	if err != nil {
		_ = setApplicationError(ctx, appID, model.AppDeploying, err)
		return err
	}

	err = workflow.ExecuteActivity(adapterCtx(ctx, containerPowerTimeout), "DestroyContainer", ac.Ref()).Get(ctx, nil)
	if err != nil {
		err = stepError("destroy-container", err)
		_ = setApplicationError(ctx, appID, model.AppDeploying, err)
		return err
	}

	if err := provisionContainer(ctx, ac); err != nil {
		_ = setApplicationError(ctx, appID, model.AppDeploying, err)
		return err
	}
	return transition(ctx, appID, model.AppDeploying, model.AppRunning)
}

// provisionContainer runs the full provisioning sequence for ac. Nothing
// is retried: the first failure is returned as "{step}: {cause}".
func provisionContainer(ctx workflow.Context, ac activity.ApplicationContext) error {
	app := ac.Application
	ref := ac.Ref()

	err := workflow.ExecuteActivity(provisionCtx(ctx, createContainerTimeout), "CreateContainer", activity.CreateContainerParams{
		Ref:          ref,
		Hostname:     app.Hostname,
		RootPassword: app.RootPassword,
		Spec:         ac.Spec,
	}).Get(ctx, nil)
	if err != nil {
		return stepError("create-container", err)
	}

	ip, err := attachNetwork(ctx, app, ref)
	if err != nil {
		return err
	}

	plan := append(provision.InstallPlan(ac.Family), provision.DeployPlan(app.Hostname, ac.Manifest)...)
	if err := runPlan(ctx, ref, plan); err != nil {
		return err
	}
	return verifyApplication(ctx, app, ref, ip)
}

// attachNetwork waits for the container address and records it together
// with the application URLs.
func attachNetwork(ctx workflow.Context, app model.Application, ref activity.ContainerRef) (string, error) {
	var ip string
	err := workflow.ExecuteActivity(provisionCtx(ctx, waitForNetworkTimeout), "WaitForNetwork", ref).Get(ctx, &ip)
	if err != nil {
		return "", stepError("wait-for-network", err)
	}

	err = workflow.ExecuteActivity(dbCtx(ctx), "SetApplicationNetwork", activity.SetApplicationNetworkParams{
		ID:        app.ID,
		IPAddress: ip,
		URLs:      applicationURLs(ip, app),
	}).Get(ctx, nil)
	if err != nil {
		return "", stepError("record-network", err)
	}
	return ip, nil
}

// applicationURLs lists the public URL first, then the internal one.
func applicationURLs(ip string, app model.Application) []string {
	return []string{
		fmt.Sprintf("http://%s:%d", ip, app.PublicPort),
		fmt.Sprintf("http://%s:%d", ip, app.InternalPort),
	}
}

// runPlan executes the steps in order and stops at the first failure.
func runPlan(ctx workflow.Context, ref activity.ContainerRef, plan provision.Plan) error {
	logger := workflow.GetLogger(ctx)
	for _, step := range plan {
		var result provision.StepResult
		err := workflow.ExecuteActivity(provisionCtx(ctx, step.Timeout+stepMargin), "RunProvisionStep", activity.RunStepParams{
			Ref:  ref,
			Step: step,
		}).Get(ctx, &result)
		if err != nil {
			return err
		}
		logger.Info("provision step done", "container", ref.String(), "step", step.Name, "duration", result.Duration)
	}
	return nil
}

// verifyApplication checks that a compose service runs and that the public
// port accepts connections.
func verifyApplication(ctx workflow.Context, app model.Application, ref activity.ContainerRef, ip string) error {
	verify := provision.VerifyStep(app.Hostname)
	err := workflow.ExecuteActivity(provisionCtx(ctx, verify.Timeout+stepMargin), "VerifyServices", activity.VerifyServicesParams{
		Ref:      ref,
		Hostname: app.Hostname,
	}).Get(ctx, nil)
	if err != nil {
		return err
	}

	return workflow.ExecuteActivity(provisionCtx(ctx, 2*time.Minute), "VerifyPort", activity.VerifyPortParams{
		Address:  ip,
		Port:     app.PublicPort,
		Attempts: verifyPortAttempts,
	}).Get(ctx, nil)
}

// DeleteApplicationWorkflow removes an application in reverse creation
// order: backup archives, then the container, then the record. A failure
// leaves the application in removing with the reason recorded, so deleting
// it again resumes the removal. An application that no longer exists counts
// as removed.
func DeleteApplicationWorkflow(ctx workflow.Context, appID string) error {
	var app model.Application
	err := workflow.ExecuteActivity(dbCtx(ctx), "GetApplication", appID).Get(ctx, &app)
	if activity.IsErrorType(err, activity.ErrTypeNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := removeApplication(ctx, app); err != nil {
		_ = setRemovalFailed(ctx, appID, err)
		return err
	}
	return nil
}

func removeApplication(ctx workflow.Context, app model.Application) error {
	var backups []model.Backup
	err := workflow.ExecuteActivity(dbCtx(ctx), "ListApplicationBackups", app.ID).Get(ctx, &backups)
	if err != nil {
		return stepError("list-backups", err)
	}
	for _, b := range backups {
		if b.FileName == nil {
			continue
		}
		err := workflow.ExecuteActivity(adapterCtx(ctx, containerPowerTimeout), "DeleteBackupFile", activity.DeleteBackupFileParams{
			HostID:  app.HostID,
			Node:    app.Node,
			Storage: b.StorageName,
			File:    *b.FileName,
		}).Get(ctx, nil)
		if err != nil {
			return stepError("delete-backup-file", err)
		}
	}

	err = workflow.ExecuteActivity(adapterCtx(ctx, containerPowerTimeout), "DestroyContainer", activity.RefFor(app)).Get(ctx, nil)
	if err != nil {
		return stepError("destroy-container", err)
	}

	err = workflow.ExecuteActivity(dbCtx(ctx), "DeleteApplication", app.ID).Get(ctx, nil)
	if err != nil {
		return stepError("delete-record", err)
	}
	return nil
}

// ReconfigureApplicationWorkflow applies new CPU and memory limits, stores
// them on the application and makes sure it runs again.
func ReconfigureApplicationWorkflow(ctx workflow.Context, task model.ReconfigureTask) error {
	appID := task.ApplicationID

	var app model.Application
	err := workflow.ExecuteActivity(dbCtx(ctx), "GetApplication", appID).Get(ctx, &app)
	if err != nil {
		_ = setApplicationError(ctx, appID, model.AppUpdating, err)
		return err
	}
	ref := activity.RefFor(app)

	err = workflow.ExecuteActivity(adapterCtx(ctx, containerPowerTimeout), "UpdateContainerConfig", activity.UpdateContainerConfigParams{
		Ref:      ref,
		Cores:    task.Cores,
		MemoryMB: task.MemoryMB,
	}).Get(ctx, nil)
	if err != nil {
		err = stepError("update-config", err)
		_ = setApplicationError(ctx, appID, model.AppUpdating, err)
		return err
	}

	err = workflow.ExecuteActivity(dbCtx(ctx), "UpdateApplicationResources", activity.UpdateApplicationResourcesParams{
		ID:       appID,
		Cores:    task.Cores,
		MemoryMB: task.MemoryMB,
	}).Get(ctx, nil)
	if err != nil {
		err = stepError("record-resources", err)
		_ = setApplicationError(ctx, appID, model.AppUpdating, err)
		return err
	}

	err = workflow.ExecuteActivity(adapterCtx(ctx, containerPowerTimeout), "EnsureRunning", ref).Get(ctx, nil)
	if err != nil {
		err = stepError("start-container", err)
		_ = setApplicationError(ctx, appID, model.AppUpdating, err)
		return err
	}
	return transition(ctx, appID, model.AppUpdating, model.AppRunning)
}

// CloneApplicationWorkflow deploys the clone target from a snapshot of the
// source container. The snapshot is restored under the target's VMID,
// renamed, given a new network interface and redeployed with the target's
// manifest. The temporary archive is removed afterwards.
func CloneApplicationWorkflow(ctx workflow.Context, task model.CloneTask) error {
	targetID := task.TargetID

	var target activity.ApplicationContext
	err := workflow.ExecuteActivity(dbCtx(ctx), "GetApplicationContext", targetID).Get(ctx, &target)
	if err != nil {
		_ = setBackupStatus(ctx, task.SnapshotID, model.BackupCreating, model.BackupFailed, err)
		_ = setApplicationError(ctx, targetID, model.AppDeploying, err)
		return err
	}

	if err := cloneContainer(ctx, task, target); err != nil {
		_ = setApplicationError(ctx, targetID, model.AppDeploying, err)
		return err
	}
	return transition(ctx, targetID, model.AppDeploying, model.AppRunning)
}

func cloneContainer(ctx workflow.Context, task model.CloneTask, target activity.ApplicationContext) error {
	app := target.Application
	ref := target.Ref()

	var source model.Application
	err := workflow.ExecuteActivity(dbCtx(ctx), "GetApplication", task.SourceID).Get(ctx, &source)
	if err != nil {
		err = stepError("load-source", err)
		_ = setBackupStatus(ctx, task.SnapshotID, model.BackupCreating, model.BackupFailed, err)
		return err
	}
	sourceRef := activity.RefFor(source)

	var file proxmox.BackupFile
	err = workflow.ExecuteActivity(adapterCtx(ctx, backupTimeout), "CreateBackup", activity.CreateBackupParams{
		Ref:         sourceRef,
		Storage:     target.Resources.BackupStorage,
		Mode:        model.BackupTypeSnapshot,
		Compression: model.CompressionZstd,
	}).Get(ctx, &file)
	if err != nil {
		err = stepError("snapshot-source", err)
		_ = setBackupStatus(ctx, task.SnapshotID, model.BackupCreating, model.BackupFailed, err)
		return err
	}

	restoreErr := workflow.ExecuteActivity(adapterCtx(ctx, backupTimeout), "RestoreBackup", activity.RestoreBackupParams{
		Ref:     ref,
		File:    file.FileName,
		Storage: target.Spec.StoragePool,
	}).Get(ctx, nil)

	releaseSnapshot(ctx, task.SnapshotID, sourceRef, target.Resources.BackupStorage, file)
	if restoreErr != nil {
		return stepError("restore-snapshot", restoreErr)
	}

	err = workflow.ExecuteActivity(provisionCtx(ctx, containerPowerTimeout), "RenameContainer", activity.RenameContainerParams{
		Ref:      ref,
		Hostname: app.Hostname,
		Bridge:   target.Spec.Bridge,
	}).Get(ctx, nil)
	if err != nil {
		return stepError("rename-container", err)
	}

	err = workflow.ExecuteActivity(provisionCtx(ctx, containerPowerTimeout), "StartContainer", ref).Get(ctx, nil)
	if err != nil {
		return stepError("start-container", err)
	}

	ip, err := attachNetwork(ctx, app, ref)
	if err != nil {
		return err
	}
	if err := runPlan(ctx, ref, provision.ClonePlan(source.Hostname, app.Hostname, target.Manifest)); err != nil {
		return err
	}
	return verifyApplication(ctx, app, ref, ip)
}

// releaseSnapshot removes the clone archive together with the backup row
// that held the source's backup lock. An archive that cannot be removed is
// kept as a completed backup of the source, so it stays listed and can be
// deleted later.
func releaseSnapshot(ctx workflow.Context, snapshotID string, sourceRef activity.ContainerRef, storage string, file proxmox.BackupFile) {
	logger := workflow.GetLogger(ctx)

	err := workflow.ExecuteActivity(adapterCtx(ctx, containerPowerTimeout), "DeleteBackupFile", activity.DeleteBackupFileParams{
		HostID:  sourceRef.HostID,
		Node:    sourceRef.Node,
		Storage: storage,
		File:    file.FileName,
	}).Get(ctx, nil)
	if err != nil {
		logger.Warn("failed to delete clone snapshot", "file", file.FileName, "error", err)
		err = workflow.ExecuteActivity(dbCtx(ctx), "CompleteBackup", activity.CompleteBackupParams{
			ID:        snapshotID,
			FileName:  file.FileName,
			SizeBytes: file.Size,
		}).Get(ctx, nil)
	} else {
		err = workflow.ExecuteActivity(dbCtx(ctx), "DeleteBackupRecord", snapshotID).Get(ctx, nil)
	}
	if err != nil {
		logger.Error("failed to release clone snapshot record", "backup", snapshotID, "error", err)
	}
}
