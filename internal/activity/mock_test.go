package activity

import (
	"context"
	"reflect"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/mock"

	"github.com/edvin/proximity/internal/catalog"
	"github.com/edvin/proximity/internal/model"
	"github.com/edvin/proximity/internal/proxmox"
)

// ---------- Mock DB ----------

type mockDB struct {
	mock.Mock
}

func (m *mockDB) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDB) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(pgx.Rows), args.Error(1)
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

func sqlLike(fragment string) any {
	return mock.MatchedBy(func(sql string) bool { return strings.Contains(sql, fragment) })
}

// ---------- Mock Row ----------

type mockRow struct {
	scanFunc func(dest ...any) error
}

func (m *mockRow) Scan(dest ...any) error {
	return m.scanFunc(dest...)
}

func valuesRow(values ...any) *mockRow {
	return &mockRow{scanFunc: func(dest ...any) error {
		assign(dest, values)
		return nil
	}}
}

func errRow(err error) *mockRow {
	return &mockRow{scanFunc: func(...any) error { return err }}
}

func assign(dest, values []any) {
	for i, v := range values {
		if i >= len(dest) {
			return
		}
		target := reflect.ValueOf(dest[i]).Elem()
		if v == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		target.Set(reflect.ValueOf(v))
	}
}

// ---------- Mock Rows ----------

type mockRows struct {
	callIndex int
	values    [][]any
	err       error
}

func newValueRows(rows ...[]any) *mockRows {
	return &mockRows{values: rows}
}

func newEmptyMockRows() *mockRows {
	return &mockRows{}
}

func (m *mockRows) Next() bool {
	return m.callIndex < len(m.values)
}

func (m *mockRows) Scan(dest ...any) error {
	assign(dest, m.values[m.callIndex])
	m.callIndex++
	return nil
}

func (m *mockRows) Err() error                                   { return m.err }
func (m *mockRows) Close()                                       {}
func (m *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (m *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (m *mockRows) RawValues() [][]byte                          { return nil }
func (m *mockRows) Values() ([]any, error)                       { return nil, nil }
func (m *mockRows) Conn() *pgx.Conn                              { return nil }

// ---------- Proxmox fake ----------

// fakeAPI implements proxmox.API with testify expectations. Methods a test
// does not expect panic through the embedded nil interface.
type fakeAPI struct {
	proxmox.API
	mock.Mock
}

func (f *fakeAPI) GetContainerStatus(ctx context.Context, node string, vmid int) (proxmox.ContainerStatus, error) {
	args := f.Called(ctx, node, vmid)
	return args.Get(0).(proxmox.ContainerStatus), args.Error(1)
}

func (f *fakeAPI) GetContainerInterfaces(ctx context.Context, node string, vmid int) ([]proxmox.Interface, error) {
	args := f.Called(ctx, node, vmid)
	ifaces, _ := args.Get(0).([]proxmox.Interface)
	return ifaces, args.Error(1)
}

func (f *fakeAPI) CreateContainer(ctx context.Context, node string, vmid int, cfg proxmox.ContainerConfig) (proxmox.TaskID, error) {
	args := f.Called(ctx, node, vmid, cfg)
	return args.Get(0).(proxmox.TaskID), args.Error(1)
}

func (f *fakeAPI) StartContainer(ctx context.Context, node string, vmid int) (proxmox.TaskID, error) {
	args := f.Called(ctx, node, vmid)
	return args.Get(0).(proxmox.TaskID), args.Error(1)
}

func (f *fakeAPI) StopContainer(ctx context.Context, node string, vmid int, force bool) (proxmox.TaskID, error) {
	args := f.Called(ctx, node, vmid, force)
	return args.Get(0).(proxmox.TaskID), args.Error(1)
}

func (f *fakeAPI) DestroyContainer(ctx context.Context, node string, vmid int, force bool) (proxmox.TaskID, error) {
	args := f.Called(ctx, node, vmid, force)
	return args.Get(0).(proxmox.TaskID), args.Error(1)
}

func (f *fakeAPI) UpdateContainerConfig(ctx context.Context, node string, vmid int, cores, memoryMB int) error {
	return f.Called(ctx, node, vmid, cores, memoryMB).Error(0)
}

func (f *fakeAPI) SetHostname(ctx context.Context, node string, vmid int, hostname string) error {
	return f.Called(ctx, node, vmid, hostname).Error(0)
}

func (f *fakeAPI) ResetNetwork(ctx context.Context, node string, vmid int, bridge string) error {
	return f.Called(ctx, node, vmid, bridge).Error(0)
}

func (f *fakeAPI) WaitForTask(ctx context.Context, node string, task proxmox.TaskID, poll time.Duration) error {
	return f.Called(ctx, node, task, poll).Error(0)
}

func (f *fakeAPI) ExecuteInContainer(ctx context.Context, node string, vmid int, command string, timeout time.Duration, tolerateNonZero bool) (string, error) {
	args := f.Called(ctx, node, vmid, command, timeout, tolerateNonZero)
	return args.String(0), args.Error(1)
}

func (f *fakeAPI) CreateBackup(ctx context.Context, node string, vmid int, storage, mode, compression string) (proxmox.BackupFile, error) {
	args := f.Called(ctx, node, vmid, storage, mode, compression)
	return args.Get(0).(proxmox.BackupFile), args.Error(1)
}

func (f *fakeAPI) RestoreBackup(ctx context.Context, node string, vmid int, file, storage string, force bool) (proxmox.TaskID, error) {
	args := f.Called(ctx, node, vmid, file, storage, force)
	return args.Get(0).(proxmox.TaskID), args.Error(1)
}

func (f *fakeAPI) DeleteBackupFile(ctx context.Context, node, storage, file string) error {
	return f.Called(ctx, node, storage, file).Error(0)
}

type fakeClients struct {
	api proxmox.API
	err error
}

func (f fakeClients) API(context.Context, string) (proxmox.API, error) {
	return f.api, f.err
}

type prefixSealer struct{}

func (prefixSealer) Open(encoded string) (string, error) {
	return strings.TrimPrefix(encoded, "enc:"), nil
}

// ---------- Fixtures ----------

func testCatalog() *catalog.Catalog {
	c, err := catalog.Parse([]byte(`
apps:
  - id: nginx
    name: Nginx
    primary_service: web
    port: 80
    min_memory_mb: 4096
    services:
      web:
        image: nginx:1.27
        volumes:
          - html:/usr/share/nginx/html
`))
	if err != nil {
		panic(err)
	}
	return c
}

func testApplication(status model.ApplicationStatus) model.Application {
	now := time.Now().Truncate(time.Microsecond)
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
		Config:       map[string]any{},
		Environment:  map[string]string{},
		Volumes:      []string{},
		RootPassword: "enc:secret",
		URLs:         []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func applicationRow(a model.Application) *mockRow {
	return valuesRow(a.ID, a.Hostname, a.CatalogID, a.HostID, a.Node, a.ContainerID, a.PublicPort,
		a.InternalPort, a.Status, a.StatusMessage, a.Config, a.Environment, a.Volumes, a.RootPassword,
		a.IPAddress, a.URLs, a.ClonedFrom, a.OwnerID, a.CreatedAt, a.UpdatedAt)
}

func backupValues(b model.Backup) []any {
	return []any{b.ID, b.ApplicationID, b.FileName, b.StorageName, b.SizeBytes, b.BackupType,
		b.Compression, b.Status, b.ErrorMessage, b.CompletedAt, b.CreatedAt, b.UpdatedAt}
}

var testRef = ContainerRef{HostID: "host-1", Node: "opti2", VMID: 201}
