package basic

import "errors"

// 存储错误
var (
	// ErrIOFailure wraps disk read/write errors. Fatal to the operation.
	ErrIOFailure = errors.New("io failure")
	// ErrPageNotFound is returned for a page id that does not exist on disk.
	ErrPageNotFound = errors.New("page not found")
	// ErrCorruption reports a page or log image that fails validation.
	ErrCorruption = errors.New("corruption detected")
)

// 锁错误, retryable
var (
	ErrLockTimeout = errors.New("lock timeout")
	ErrDeadlock    = errors.New("deadlock detected")
)

// 调用方错误
var (
	ErrSchemaMismatch = errors.New("schema mismatch")
	ErrTxFinished     = errors.New("transaction already finished")
	ErrTupleNotFound  = errors.New("tuple not found")
)

// IsRetryable reports whether the transaction may be retried from scratch.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout) || errors.Is(err, ErrDeadlock)
}

// IsDeadlock 检查是否为死锁错误
func IsDeadlock(err error) bool {
	return errors.Is(err, ErrDeadlock)
}

// IsLockTimeout 检查是否为锁超时错误
func IsLockTimeout(err error) bool {
	return errors.Is(err, ErrLockTimeout)
}

// IsCorruption 检查是否为损坏错误
func IsCorruption(err error) bool {
	return errors.Is(err, ErrCorruption)
}
