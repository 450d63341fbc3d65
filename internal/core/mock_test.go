package core

import (
	"context"
	"reflect"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/mock"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/proximity/internal/allocator"
	"github.com/edvin/proximity/internal/catalog"
	"github.com/edvin/proximity/internal/model"
	"github.com/edvin/proximity/internal/monitor"
	"github.com/edvin/proximity/internal/proxmox"
)

// ---------- Mock DB ----------

// mockDB implements the DB interface for testing.
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

// sqlLike matches a statement containing fragment.
func sqlLike(fragment string) any {
	return mock.MatchedBy(func(sql string) bool { return strings.Contains(sql, fragment) })
}

func updated(n int) pgconn.CommandTag {
	if n == 0 {
		return pgconn.NewCommandTag("UPDATE 0")
	}
	return pgconn.NewCommandTag("UPDATE 1")
}

// ---------- Mock Row ----------

// mockRow implements pgx.Row for testing.
type mockRow struct {
	scanFunc func(dest ...any) error
}

func (m *mockRow) Scan(dest ...any) error {
	return m.scanFunc(dest...)
}

// valuesRow scans values positionally into the destinations.
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

func applicationValues(a model.Application) []any {
	return []any{a.ID, a.Hostname, a.CatalogID, a.HostID, a.Node, a.ContainerID, a.PublicPort,
		a.InternalPort, a.Status, a.StatusMessage, a.Config, a.Environment, a.Volumes, a.RootPassword,
		a.IPAddress, a.URLs, a.ClonedFrom, a.OwnerID, a.CreatedAt, a.UpdatedAt}
}

func applicationRow(a model.Application) *mockRow {
	return valuesRow(applicationValues(a)...)
}

func backupRow(b model.Backup) *mockRow {
	return valuesRow(b.ID, b.ApplicationID, b.FileName, b.StorageName, b.SizeBytes, b.BackupType,
		b.Compression, b.Status, b.ErrorMessage, b.CompletedAt, b.CreatedAt, b.UpdatedAt)
}

// ---------- Mock Rows ----------

// mockRows implements pgx.Rows for testing.
// It iterates through a list of scan functions, one per row.
type mockRows struct {
	callIndex int
	scanFuncs []func(dest ...any) error
	err       error
}

func newMockRows(scanFuncs ...func(dest ...any) error) *mockRows {
	return &mockRows{scanFuncs: scanFuncs}
}

// newValueRows returns one row per values slice.
func newValueRows(rows ...[]any) *mockRows {
	m := &mockRows{}
	for _, values := range rows {
		m.scanFuncs = append(m.scanFuncs, func(dest ...any) error {
			assign(dest, values)
			return nil
		})
	}
	return m
}

// newEmptyMockRows returns a mockRows that yields zero rows.
func newEmptyMockRows() *mockRows {
	return &mockRows{}
}

func (m *mockRows) Next() bool {
	return m.callIndex < len(m.scanFuncs)
}

func (m *mockRows) Scan(dest ...any) error {
	if m.callIndex < len(m.scanFuncs) {
		fn := m.scanFuncs[m.callIndex]
		m.callIndex++
		return fn(dest...)
	}
	return nil
}

func (m *mockRows) Err() error                                   { return m.err }
func (m *mockRows) Close()                                       {}
func (m *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (m *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (m *mockRows) RawValues() [][]byte                          { return nil }
func (m *mockRows) Values() ([]any, error)                       { return nil, nil }
func (m *mockRows) Conn() *pgx.Conn                              { return nil }

// ---------- Proxmox fakes ----------

// fakeAPI implements proxmox.API with testify expectations. Methods a test
// does not expect panic through the embedded nil interface.
type fakeAPI struct {
	proxmox.API
	mock.Mock
}

func (f *fakeAPI) ListNodes(ctx context.Context) ([]proxmox.NodeInfo, error) {
	args := f.Called(ctx)
	nodes, _ := args.Get(0).([]proxmox.NodeInfo)
	return nodes, args.Error(1)
}

func (f *fakeAPI) ListVMIDs(ctx context.Context) ([]int, error) {
	args := f.Called(ctx)
	ids, _ := args.Get(0).([]int)
	return ids, args.Error(1)
}

func (f *fakeAPI) GetContainerStatus(ctx context.Context, node string, vmid int) (proxmox.ContainerStatus, error) {
	args := f.Called(ctx, node, vmid)
	return args.Get(0).(proxmox.ContainerStatus), args.Error(1)
}

func (f *fakeAPI) StartContainer(ctx context.Context, node string, vmid int) (proxmox.TaskID, error) {
	args := f.Called(ctx, node, vmid)
	return args.Get(0).(proxmox.TaskID), args.Error(1)
}

func (f *fakeAPI) StopContainer(ctx context.Context, node string, vmid int, force bool) (proxmox.TaskID, error) {
	args := f.Called(ctx, node, vmid, force)
	return args.Get(0).(proxmox.TaskID), args.Error(1)
}

func (f *fakeAPI) WaitForTask(ctx context.Context, node string, task proxmox.TaskID, poll time.Duration) error {
	return f.Called(ctx, node, task, poll).Error(0)
}

func (f *fakeAPI) ExecuteInContainer(ctx context.Context, node string, vmid int, command string, timeout time.Duration, tolerateNonZero bool) (string, error) {
	args := f.Called(ctx, node, vmid, command, timeout, tolerateNonZero)
	return args.String(0), args.Error(1)
}

// fakeClients hands out the same API for every host.
type fakeClients struct {
	api proxmox.API
	err error
}

func (f fakeClients) API(context.Context, string) (proxmox.API, error) {
	return f.api, f.err
}

// prefixSealer "encrypts" by adding a prefix.
type prefixSealer struct{}

func (prefixSealer) Seal(plaintext string) (string, error) { return "enc:" + plaintext, nil }

func (prefixSealer) Open(encoded string) (string, error) {
	return strings.TrimPrefix(encoded, "enc:"), nil
}

// ---------- Fixtures ----------

var testRanges = allocator.Ranges{
	VMIDFloor:   200,
	VMIDCeiling: 999,
	Public:      allocator.PortRange{Min: 8100, Max: 8999},
	Internal:    allocator.PortRange{Min: 9100, Max: 9999},
}

func testCatalog() *catalog.Catalog {
	c, err := catalog.Parse([]byte(`
apps:
  - id: nginx
    name: Nginx
    primary_service: web
    port: 80
    services:
      web:
        image: nginx:1.27
`))
	if err != nil {
		panic(err)
	}
	return c
}

func newTestApplicationService(db DB, tc temporalclient.Client, api proxmox.API) (*ApplicationService, *monitor.Cache) {
	cache := monitor.NewCache(16, time.Minute)
	return NewApplicationService(db, tc, fakeClients{api: api}, testCatalog(), prefixSealer{}, cache, testRanges), cache
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
