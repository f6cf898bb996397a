//go:build !windows

package system

import (
	"context"
	"errors"

	"github.com/shirou/gopsutil/v4/process"
)

func terminate(ctx context.Context, pid int32) error {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return nil
		}
		return err
	}
	return p.TerminateWithContext(ctx)
}
