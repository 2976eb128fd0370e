package manager

import "errors"

// Transaction manager errors
var (
	ErrTxNotFound      = errors.New("transaction not found")
	ErrInvalidTrxState = errors.New("invalid transaction state")
	ErrRollbackOnly    = errors.New("transaction is rollback-only")
)

// Log manager errors
var (
	ErrLogClosed = errors.New("log manager closed")
)
