//go:build !windows

package executor

import (
	"errors"
	"syscall"
)

func isFileInUse(err error) bool {
	return errors.Is(err, syscall.EBUSY) || errors.Is(err, syscall.ETXTBSY)
}
