package impls

import "context"

// ProcessTable looks up and signals OS processes.
type ProcessTable interface {
	FindByName(ctx context.Context, name string) ([]int32, error)
	Terminate(ctx context.Context, pid int32) error
	Kill(ctx context.Context, pid int32) error
	Alive(ctx context.Context, pid int32) bool
}
