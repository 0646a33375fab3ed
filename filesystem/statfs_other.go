//go:build !linux && !darwin && !windows

package filesystem

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/pkg/sftp"
)

func (FS *LocalFS) StatFS(name string) (*sftp.StatVFS, error) {
	return nil, fmt.Errorf("%w: file system stats on %s", errors.ErrUnsupported, runtime.GOOS)
}
