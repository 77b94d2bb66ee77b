package executor

import "errors"

// IsRoot returns true if the current process is running as root.
func IsRoot() bool {
	return isRoot()
}

// CanElevate returns true if privileged commands can run.
func CanElevate() bool {
	return isRoot() || hasSudo()
}

// ErrNoPrivileges is returned when an operation requires root but cannot elevate.
var ErrNoPrivileges = errors.New("this operation requires root privileges, but neither running as root nor sudo is available")
