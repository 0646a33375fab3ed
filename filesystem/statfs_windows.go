package filesystem

import (
	"fmt"

	"github.com/pkg/sftp"
	"golang.org/x/sys/windows"
)

// windowsBlockSize is reported as block and fragment size; the byte counts are exact.
const windowsBlockSize = 4096

// StatFS reports the capacity of the volume holding the virtual path name.
func (FS *LocalFS) StatFS(name string) (*sftp.StatVFS, error) {
	p, err := FS.localPath(name)
	if err != nil {
		return nil, err
	}
	dir, err := windows.UTF16PtrFromString(p)
	if err != nil {
		return nil, err
	}

	var available, total, free uint64
	if err := windows.GetDiskFreeSpaceEx(dir, &available, &total, &free); err != nil {
		return nil, fmt.Errorf("error getting file system info: %w", err)
	}
	return &sftp.StatVFS{
		Bsize:   windowsBlockSize,
		Frsize:  windowsBlockSize,
		Blocks:  total / windowsBlockSize,
		Bfree:   free / windowsBlockSize,
		Bavail:  available / windowsBlockSize,
		Namemax: 255,
	}, nil
}
