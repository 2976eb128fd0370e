package buffer_pool

import "errors"

var (
	ErrUnknownTable = errors.New("table not registered with buffer pool")

	// 缓冲池错误
	ErrBufferPoolFull = errors.New("buffer pool is full")
)

// BufferPoolError 缓冲池错误结构
type BufferPoolError struct {
	Op  string // 操作名称
	Err error  // 原始错误
}

func (e *BufferPoolError) Error() string {
	if e.Err == nil {
		return "<nil>"
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *BufferPoolError) Unwrap() error {
	return e.Err
}

// NewError 创建新的缓冲池错误
func NewError(op string, err error) error {
	return &BufferPoolError{
		Op:  op,
		Err: err,
	}
}
