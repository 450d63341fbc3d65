package workflow

import (
	"github.com/stretchr/testify/mock"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/edvin/proximity/internal/activity"
	"github.com/edvin/proximity/internal/catalog"
	"github.com/edvin/proximity/internal/model"
	"github.com/edvin/proximity/internal/provision"
)

// registerActivities registers the activity structs with the test
// environment. Every activity is mocked with OnActivity, but the framework
// still needs the signatures to decode parameters and results.
func registerActivities(env *testsuite.TestWorkflowEnvironment) {
	env.RegisterActivity(&activity.CoreDB{})
	env.RegisterActivity(&activity.Proxmox{})
	env.RegisterActivity(&activity.Callback{})
}

const testIP = "10.0.0.50"

var testRef = activity.ContainerRef{HostID: "host-1", Node: "opti2", VMID: 201}

func testApplication(status model.ApplicationStatus) model.Application {
	return model.Application{
		ID:           "app-1",
		Hostname:     "blog",
		CatalogID:    "nginx",
		HostID:       "host-1",
		Node:         "opti2",
		ContainerID:  201,
		PublicPort:   8101,
		InternalPort: 9101,
		Status:       status,
		RootPassword: "enc:secret",
	}
}

func testAppContext(app model.Application) *activity.ApplicationContext {
	return &activity.ApplicationContext{
		Application: app,
		CatalogApp:  catalog.App{ID: "nginx", Name: "Nginx", BaseImage: catalog.BaseDebian, PrimaryService: "web", Port: 80},
		Family:      provision.FamilyDebian,
		Spec: activity.ContainerSpec{
			Template:    model.DefaultResources.Template,
			Cores:       2,
			MemoryMB:    2048,
			DiskGB:      8,
			StoragePool: "local-lvm",
			Bridge:      "vmbr0",
		},
		Resources: model.DefaultResources,
		Manifest:  []byte("name: proximity\n"),
	}
}

func testBackup(status model.BackupStatus) *model.Backup {
	file := "local:backup/vzdump-lxc-201-2026_10_01-10_00_00.tar.zst"
	return &model.Backup{
		ID:            "bk-1",
		ApplicationID: "app-1",
		FileName:      &file,
		StorageName:   "local",
		BackupType:    model.BackupTypeSnapshot,
		Compression:   model.CompressionZstd,
		Status:        status,
	}
}

// statusUpdate builds the parameters of a transition without a message.
func statusUpdate(id string, from, to model.ApplicationStatus) activity.UpdateApplicationStatusParams {
	return activity.UpdateApplicationStatusParams{ID: id, From: []model.ApplicationStatus{from}, To: to}
}

// failedWith matches a transition to error carrying msg.
func failedWith(id string, from model.ApplicationStatus, msg string) any {
	return mock.MatchedBy(func(p activity.UpdateApplicationStatusParams) bool {
		return p.ID == id && len(p.From) == 1 && p.From[0] == from &&
			p.To == model.AppError && p.Message != nil && *p.Message == msg
	})
}

// stepNamed matches a RunProvisionStep call for the named step.
func stepNamed(name string) any {
	return mock.MatchedBy(func(p activity.RunStepParams) bool { return p.Step.Name == name })
}

func permanent(msg string) error {
	return temporal.NewNonRetryableApplicationError(msg, "PROXMOX_ERROR", nil)
}

func stepFailed(msg string) error {
	return temporal.NewNonRetryableApplicationError(msg, "STEP_FAILED", nil)
}

func notFound(msg string) error {
	return temporal.NewNonRetryableApplicationError(msg, activity.ErrTypeNotFound, nil)
}
