package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplicationStatusConstants(t *testing.T) {
	assert.Equal(t, "deploying", string(AppDeploying))
	assert.Equal(t, "running", string(AppRunning))
	assert.Equal(t, "stopped", string(AppStopped))
	assert.Equal(t, "updating", string(AppUpdating))
	assert.Equal(t, "removing", string(AppRemoving))
	assert.Equal(t, "error", string(AppError))
}

func TestApplicationStatus_Valid(t *testing.T) {
	for _, s := range ApplicationStatuses {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, ApplicationStatus("active").Valid())
	assert.False(t, ApplicationStatus("").Valid())
}

func TestBackupStatus_Valid(t *testing.T) {
	for _, s := range BackupStatuses {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, BackupStatus("pending").Valid())
}

func TestBackupStatus_InFlight(t *testing.T) {
	assert.True(t, BackupCreating.InFlight())
	assert.True(t, BackupRestoring.InFlight())
	assert.True(t, BackupDeleting.InFlight())
	assert.False(t, BackupCompleted.InFlight())
	assert.False(t, BackupFailed.InFlight())
}
