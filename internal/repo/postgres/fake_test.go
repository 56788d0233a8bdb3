package postgres

import (
	"context"
	"database/sql"
	"errors"
)

type fakeDB struct{}

func (fakeDB) ExecContext(context.Context, string, ...any) (sql.Result, error) {
	return nil, errors.New("not implemented")
}

func (fakeDB) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, errors.New("not implemented")
}

func (fakeDB) QueryRowContext(context.Context, string, ...any) *sql.Row {
	return nil
}

func (fakeDB) PingContext(context.Context) error { return nil }
