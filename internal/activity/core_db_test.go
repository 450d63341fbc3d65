package activity

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/edvin/proximity/internal/catalog"
	"github.com/edvin/proximity/internal/model"
)

func expectResources(db *mockDB, settings ...[]any) {
	db.On("Query", mock.Anything, sqlLike("FROM settings"), mock.Anything).Return(newValueRows(settings...), nil)
}

// ---------- GetApplicationContext ----------

func TestCoreDB_GetApplicationContext(t *testing.T) {
	db := &mockDB{}
	a := NewCoreDB(db, testCatalog())
	ctx := context.Background()

	app := testApplication(model.AppDeploying)
	app.Config = map[string]any{model.ConfigCores: float64(6)}
	db.On("QueryRow", ctx, sqlLike("FROM applications WHERE id"), []any{"app-1"}).Return(applicationRow(app))
	expectResources(db, []any{model.SettingStoragePool, "nvme"}, []any{model.SettingMemoryMB, "1024"})

	actx, err := a.GetApplicationContext(ctx, "app-1")
	require.NoError(t, err)

	assert.Equal(t, "blog", actx.Application.Hostname)
	assert.Equal(t, "enc:secret", actx.Application.RootPassword)
	assert.Equal(t, "nginx", actx.CatalogApp.ID)
	assert.Equal(t, testRef, actx.Ref())
	assert.Equal(t, 6, actx.Spec.Cores)
	// The catalog minimum beats the smaller stored default.
	assert.Equal(t, 4096, actx.Spec.MemoryMB)
	assert.Equal(t, "nvme", actx.Spec.StoragePool)
	assert.Equal(t, model.DefaultResources.Template, actx.Spec.Template)

	var manifest struct {
		Name     string `yaml:"name"`
		Services map[string]struct {
			Ports []string `yaml:"ports"`
		} `yaml:"services"`
	}
	require.NoError(t, yaml.Unmarshal(actx.Manifest, &manifest))
	assert.Equal(t, []string{"8101:80", "9101:80"}, manifest.Services["web"].Ports)
}

func TestCoreDB_GetApplicationContext_NotFound(t *testing.T) {
	db := &mockDB{}
	a := NewCoreDB(db, testCatalog())
	ctx := context.Background()

	db.On("QueryRow", ctx, sqlLike("FROM applications WHERE id"), mock.Anything).Return(errRow(pgx.ErrNoRows))

	_, err := a.GetApplicationContext(ctx, "gone")
	assert.True(t, IsErrorType(err, ErrTypeNotFound))
}

func TestCoreDB_GetApplicationContext_UnknownCatalogApp(t *testing.T) {
	db := &mockDB{}
	a := NewCoreDB(db, testCatalog())
	ctx := context.Background()

	app := testApplication(model.AppDeploying)
	app.CatalogID = "removed"
	db.On("QueryRow", ctx, sqlLike("FROM applications WHERE id"), mock.Anything).Return(applicationRow(app))

	_, err := a.GetApplicationContext(ctx, "app-1")
	assert.True(t, IsErrorType(err, ErrTypeInvalid))
}

func TestEffectiveSpec(t *testing.T) {
	res := model.DefaultResources
	app := testApplication(model.AppRunning)

	spec := EffectiveSpec(app, catalog.App{Template: "local:vztmpl/alpine.tar.xz", DiskGB: 20}, res)
	assert.Equal(t, "local:vztmpl/alpine.tar.xz", spec.Template)
	assert.Equal(t, 20, spec.DiskGB)
	assert.Equal(t, res.Cores, spec.Cores)
	assert.Equal(t, res.Bridge, spec.Bridge)

	app.Config = map[string]any{model.ConfigMemoryMB: 512, model.ConfigDiskGB: "big"}
	spec = EffectiveSpec(app, catalog.App{}, res)
	assert.Equal(t, 512, spec.MemoryMB)
	assert.Equal(t, res.DiskGB, spec.DiskGB)
}

// ---------- UpdateApplicationStatus ----------

func TestCoreDB_UpdateApplicationStatus(t *testing.T) {
	db := &mockDB{}
	a := NewCoreDB(db, testCatalog())
	ctx := context.Background()

	msg := "install-docker: exit status 1"
	db.On("Exec", ctx, sqlLike("UPDATE applications SET status"), []any{
		model.AppError, &msg, "app-1", []string{string(model.AppDeploying)},
	}).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := a.UpdateApplicationStatus(ctx, UpdateApplicationStatusParams{
		ID: "app-1", From: []model.ApplicationStatus{model.AppDeploying}, To: model.AppError, Message: &msg,
	})
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestCoreDB_UpdateApplicationStatus_ConflictIsFinal(t *testing.T) {
	db := &mockDB{}
	a := NewCoreDB(db, testCatalog())
	ctx := context.Background()

	db.On("Exec", ctx, sqlLike("UPDATE applications SET status"), mock.Anything).Return(pgconn.NewCommandTag("UPDATE 0"), nil)
	db.On("QueryRow", ctx, sqlLike("SELECT status FROM applications"), []any{"app-1"}).Return(valuesRow(model.AppRemoving))

	err := a.UpdateApplicationStatus(ctx, UpdateApplicationStatusParams{
		ID: "app-1", From: []model.ApplicationStatus{model.AppDeploying}, To: model.AppRunning,
	})
	assert.True(t, IsErrorType(err, ErrTypeConflict))
}

func TestCoreDB_UpdateApplicationStatus_IllegalEdge(t *testing.T) {
	a := NewCoreDB(&mockDB{}, testCatalog())

	err := a.UpdateApplicationStatus(context.Background(), UpdateApplicationStatusParams{
		ID: "app-1", From: []model.ApplicationStatus{model.AppStopped}, To: model.AppDeploying,
	})
	assert.True(t, IsErrorType(err, ErrTypeInvalid))
}

// ---------- Network / resources / delete ----------

func TestCoreDB_SetApplicationNetwork(t *testing.T) {
	db := &mockDB{}
	a := NewCoreDB(db, testCatalog())
	ctx := context.Background()

	urls := []string{"http://10.0.0.50:8101", "http://10.0.0.50:9101"}
	db.On("Exec", ctx, sqlLike("SET ip_address"), []any{"10.0.0.50", urls, "app-1"}).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	require.NoError(t, a.SetApplicationNetwork(ctx, SetApplicationNetworkParams{ID: "app-1", IPAddress: "10.0.0.50", URLs: urls}))
	db.AssertExpectations(t)
}

func TestCoreDB_UpdateApplicationResources(t *testing.T) {
	db := &mockDB{}
	a := NewCoreDB(db, testCatalog())
	ctx := context.Background()

	db.On("Exec", ctx, sqlLike("config || $1::jsonb"), []any{map[string]any{model.ConfigCores: 4}, "app-1"}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	require.NoError(t, a.UpdateApplicationResources(ctx, UpdateApplicationResourcesParams{ID: "app-1", Cores: 4}))
	// Nothing to store: no statement.
	require.NoError(t, a.UpdateApplicationResources(ctx, UpdateApplicationResourcesParams{ID: "app-1"}))
	db.AssertNumberOfCalls(t, "Exec", 1)
}

func TestCoreDB_DeleteApplication(t *testing.T) {
	db := &mockDB{}
	a := NewCoreDB(db, testCatalog())
	ctx := context.Background()

	db.On("Exec", ctx, "DELETE FROM applications WHERE id = $1", []any{"app-1"}).Return(pgconn.NewCommandTag("DELETE 1"), nil)

	require.NoError(t, a.DeleteApplication(ctx, "app-1"))
	db.AssertExpectations(t)
}

// ---------- Backups ----------

func testBackup(status model.BackupStatus) model.Backup {
	now := time.Now().Truncate(time.Microsecond)
	file := "local:backup/vzdump-lxc-201-2026_10_01-10_00_00.tar.zst"
	return model.Backup{
		ID: "bk-1", ApplicationID: "app-1", FileName: &file, StorageName: "local",
		BackupType: model.BackupTypeSnapshot, Compression: model.CompressionZstd, Status: status,
		CreatedAt: now, UpdatedAt: now,
	}
}

func TestCoreDB_GetBackupContext(t *testing.T) {
	db := &mockDB{}
	a := NewCoreDB(db, testCatalog())
	ctx := context.Background()

	db.On("QueryRow", ctx, sqlLike("FROM backups WHERE id"), []any{"bk-1"}).Return(valuesRow(backupValues(testBackup(model.BackupCreating))...))
	db.On("QueryRow", ctx, sqlLike("FROM applications WHERE id"), []any{"app-1"}).Return(applicationRow(testApplication(model.AppRunning)))
	expectResources(db)

	bctx, err := a.GetBackupContext(ctx, "bk-1")
	require.NoError(t, err)
	assert.Equal(t, model.BackupCreating, bctx.Backup.Status)
	assert.Equal(t, "app-1", bctx.Application.Application.ID)
}

func TestCoreDB_GetBackupContext_NotFound(t *testing.T) {
	db := &mockDB{}
	a := NewCoreDB(db, testCatalog())
	ctx := context.Background()

	db.On("QueryRow", ctx, sqlLike("FROM backups WHERE id"), mock.Anything).Return(errRow(pgx.ErrNoRows))

	_, err := a.GetBackupContext(ctx, "bk-404")
	assert.True(t, IsErrorType(err, ErrTypeNotFound))
}

func TestCoreDB_GetBackup(t *testing.T) {
	db := &mockDB{}
	a := NewCoreDB(db, testCatalog())
	ctx := context.Background()

	db.On("QueryRow", ctx, sqlLike("FROM backups WHERE id"), []any{"bk-1"}).Return(valuesRow(backupValues(testBackup(model.BackupRestoring))...))

	b, err := a.GetBackup(ctx, "bk-1")
	require.NoError(t, err)
	assert.Equal(t, model.BackupRestoring, b.Status)
	assert.Equal(t, "app-1", b.ApplicationID)
	db.AssertNotCalled(t, "QueryRow", ctx, sqlLike("FROM applications"), mock.Anything)
}

func TestCoreDB_ListApplicationBackups(t *testing.T) {
	db := &mockDB{}
	a := NewCoreDB(db, testCatalog())
	ctx := context.Background()

	b1, b2 := testBackup(model.BackupCompleted), testBackup(model.BackupFailed)
	b2.ID, b2.FileName = "bk-2", nil
	db.On("Query", ctx, sqlLike("FROM backups WHERE application_id"), []any{"app-1"}).
		Return(newValueRows(backupValues(b1), backupValues(b2)), nil)

	out, err := a.ListApplicationBackups(ctx, "app-1")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.NotNil(t, out[0].FileName)
	assert.Nil(t, out[1].FileName)
}

func TestCoreDB_ListApplicationBackups_Empty(t *testing.T) {
	db := &mockDB{}
	a := NewCoreDB(db, testCatalog())
	ctx := context.Background()

	db.On("Query", ctx, sqlLike("FROM backups"), mock.Anything).Return(newEmptyMockRows(), nil)

	out, err := a.ListApplicationBackups(ctx, "app-1")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestCoreDB_CompleteBackup(t *testing.T) {
	db := &mockDB{}
	a := NewCoreDB(db, testCatalog())
	ctx := context.Background()

	db.On("Exec", ctx, sqlLike("completed_at = now()"), []any{
		model.BackupCompleted, "local:backup/x.tar.zst", int64(4096), "bk-1", model.BackupCreating,
	}).Return(pgconn.NewCommandTag("UPDATE 1"), nil).Once()
	db.On("Exec", ctx, sqlLike("completed_at = now()"), mock.Anything).Return(pgconn.NewCommandTag("UPDATE 0"), nil).Once()

	params := CompleteBackupParams{ID: "bk-1", FileName: "local:backup/x.tar.zst", SizeBytes: 4096}
	require.NoError(t, a.CompleteBackup(ctx, params))
	assert.True(t, IsErrorType(a.CompleteBackup(ctx, params), ErrTypeConflict))
}

func TestCoreDB_SetBackupStatus(t *testing.T) {
	db := &mockDB{}
	a := NewCoreDB(db, testCatalog())
	ctx := context.Background()

	msg := "storage offline"
	db.On("Exec", ctx, sqlLike("UPDATE backups SET status"), []any{
		model.BackupFailed, &msg, "bk-1", model.BackupCreating,
	}).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := a.SetBackupStatus(ctx, SetBackupStatusParams{ID: "bk-1", From: model.BackupCreating, To: model.BackupFailed, ErrorMessage: &msg})
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestCoreDB_CleanupFailedBackups(t *testing.T) {
	db := &mockDB{}
	a := NewCoreDB(db, testCatalog())
	ctx := context.Background()

	db.On("Exec", ctx, sqlLike("DELETE FROM backups WHERE status"), mock.MatchedBy(func(args []any) bool {
		cutoff, ok := args[1].(time.Time)
		return args[0] == model.BackupFailed && ok && time.Since(cutoff) > 23*time.Hour
	})).Return(pgconn.NewCommandTag("DELETE 3"), nil)

	n, err := a.CleanupFailedBackups(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
