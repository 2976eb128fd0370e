package engine

import "errors"

var (
	ErrDatabaseClosed = errors.New("database is closed")
	ErrTableExists    = errors.New("table already exists")
	ErrTableNotFound  = errors.New("table not found")
)
