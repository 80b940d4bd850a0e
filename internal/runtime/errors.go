package runtime

import "errors"

// Error kinds surfaced by the Executor. Callers match them with errors.Is.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrSpawnFailure   = errors.New("spawn failure")
	ErrNonZeroExit    = errors.New("non-zero exit")
	ErrBufferOverflow = errors.New("buffer overflow")
)
