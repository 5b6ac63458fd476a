//go:build !unix

package leakrun

import (
	"errors"
	"os"
)

func isPermissionErr(runErr error) bool {
	return errors.Is(runErr, os.ErrPermission)
}

func signalFrom(*os.ProcessState) string {
	return ""
}
