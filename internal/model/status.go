package model

// ApplicationStatus is the lifecycle state of a deployed application.
type ApplicationStatus string

const (
	AppDeploying ApplicationStatus = "deploying"
	AppRunning   ApplicationStatus = "running"
	AppStopped   ApplicationStatus = "stopped"
	AppUpdating  ApplicationStatus = "updating"
	AppRemoving  ApplicationStatus = "removing"
	AppError     ApplicationStatus = "error"
)

// ApplicationStatuses lists every application state.
var ApplicationStatuses = []ApplicationStatus{
	AppDeploying, AppRunning, AppStopped, AppUpdating, AppRemoving, AppError,
}

func (s ApplicationStatus) Valid() bool {
	for _, v := range ApplicationStatuses {
		if s == v {
			return true
		}
	}
	return false
}

func (s ApplicationStatus) String() string { return string(s) }

// BackupStatus is the state of a backup record.
type BackupStatus string

const (
	BackupCreating  BackupStatus = "creating"
	BackupCompleted BackupStatus = "completed"
	BackupFailed    BackupStatus = "failed"
	BackupRestoring BackupStatus = "restoring"
	BackupDeleting  BackupStatus = "deleting"
)

// BackupStatuses lists every backup state.
var BackupStatuses = []BackupStatus{
	BackupCreating, BackupCompleted, BackupFailed, BackupRestoring, BackupDeleting,
}

func (s BackupStatus) Valid() bool {
	for _, v := range BackupStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// InFlight reports whether a backup in this state holds the per-application
// backup lock.
func (s BackupStatus) InFlight() bool {
	return s == BackupCreating || s == BackupRestoring || s == BackupDeleting
}

func (s BackupStatus) String() string { return string(s) }
