package leakrun

import "errors"

var (
	ERR_PAYLOAD_IS_EMPTY   error = errors.New("payload is empty")
	ERR_NOT_AN_INMEMORY_FD error = errors.New("not an in-memory file descriptor")
	ERR_NIL_RUNNER         error = errors.New("nil command runner")
	ERR_NOT_A_DIRECTORY    error = errors.New("not a directory")
)

// ErrLaunchFailed matches every *LaunchError via errors.Is.
var ErrLaunchFailed = errors.New("leakrun: scanner launch failed")
