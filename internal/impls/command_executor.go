package impls

import (
	"context"

	"github.com/rewstapp/rewst_remote_agent/internal/domain"
)

// CommandExecutor runs one script and reports its result to callbackURL.
type CommandExecutor interface {
	Execute(ctx context.Context, req domain.CommandRequest, callbackURL string) domain.CommandResult
}
