//go:build windows

package system

import (
	"context"
	"os/exec"
	"strconv"
)

// terminate asks the process to close. TerminateProcess is reserved for Kill.
func terminate(ctx context.Context, pid int32) error {
	return exec.CommandContext(ctx, "taskkill", "/PID", strconv.Itoa(int(pid))).Run()
}
