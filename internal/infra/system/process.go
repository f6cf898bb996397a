package system

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessTable implements impls.ProcessTable on top of the OS process list.
type ProcessTable struct{}

func NewProcessTable() *ProcessTable {
	return &ProcessTable{}
}

// FindByName returns the pids whose image name matches name, ignoring case
// and a trailing ".exe".
func (ProcessTable) FindByName(ctx context.Context, name string) ([]int32, error) {
	want := imageName(name)

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	var pids []int32
	for _, p := range procs {
		n, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		if imageName(n) == want {
			pids = append(pids, p.Pid)
		}
	}
	slices.Sort(pids)
	return pids, nil
}

func (ProcessTable) Terminate(ctx context.Context, pid int32) error {
	return terminate(ctx, pid)
}

func (ProcessTable) Kill(ctx context.Context, pid int32) error {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return nil
		}
		return err
	}
	return p.KillWithContext(ctx)
}

// Alive reports whether pid exists and is not a zombie.
func (ProcessTable) Alive(ctx context.Context, pid int32) bool {
	exists, err := process.PidExistsWithContext(ctx, pid)
	if err != nil || !exists {
		return false
	}
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return false
	}
	status, err := p.StatusWithContext(ctx)
	if err != nil {
		return true
	}
	return !slices.Contains(status, process.Zombie)
}

func imageName(name string) string {
	base := strings.ToLower(filepath.Base(strings.ReplaceAll(name, `\`, "/")))
	return strings.TrimSuffix(base, ".exe")
}
