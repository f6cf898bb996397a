//go:build !windows

package system

import "context"

// Directory membership is only probed on Windows.
func (p *Probe) directoryFacts(context.Context) directoryFacts {
	return directoryFacts{}
}
