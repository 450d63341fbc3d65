package handler

import (
	"context"
	"reflect"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/mock"
)

// handlerMockDB implements core.DB for handler tests.
type handlerMockDB struct {
	mock.Mock
}

func (m *handlerMockDB) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *handlerMockDB) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(pgx.Rows), args.Error(1)
}

func (m *handlerMockDB) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// handlerMockRow implements pgx.Row for handler tests.
type handlerMockRow struct {
	scanFunc func(dest ...any) error
}

func (m *handlerMockRow) Scan(dest ...any) error {
	return m.scanFunc(dest...)
}

func errRow(err error) *handlerMockRow {
	return &handlerMockRow{scanFunc: func(...any) error { return err }}
}

// valuesRow scans values positionally into the destinations.
func valuesRow(values ...any) *handlerMockRow {
	return &handlerMockRow{scanFunc: func(dest ...any) error {
		for i, v := range values {
			target := reflect.ValueOf(dest[i]).Elem()
			if v == nil {
				target.Set(reflect.Zero(target.Type()))
				continue
			}
			target.Set(reflect.ValueOf(v))
		}
		return nil
	}}
}

// handlerMockRows implements pgx.Rows yielding no rows.
type handlerMockRows struct{}

func (handlerMockRows) Next() bool                                   { return false }
func (handlerMockRows) Scan(...any) error                            { return nil }
func (handlerMockRows) Err() error                                   { return nil }
func (handlerMockRows) Close()                                       {}
func (handlerMockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (handlerMockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (handlerMockRows) RawValues() [][]byte                          { return nil }
func (handlerMockRows) Values() ([]any, error)                       { return nil, nil }
func (handlerMockRows) Conn() *pgx.Conn                              { return nil }
