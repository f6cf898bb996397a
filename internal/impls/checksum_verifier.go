package impls

import "context"

// ChecksumVerifier proves a binary on disk matches its published digest.
type ChecksumVerifier interface {
	Verify(ctx context.Context, executablePath string) error
}
