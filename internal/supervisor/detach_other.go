//go:build !windows

package supervisor

import "syscall"

// detached puts the worker in its own process group so signals aimed at
// the service host do not reach it.
func detached() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}
