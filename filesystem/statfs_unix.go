//go:build linux || darwin

package filesystem

import (
	"fmt"

	"github.com/pkg/sftp"
	"golang.org/x/sys/unix"
)

// StatFS reports the capacity of the file system holding the virtual path name.
func (FS *LocalFS) StatFS(name string) (*sftp.StatVFS, error) {
	p, err := FS.localPath(name)
	if err != nil {
		return nil, err
	}
	var st unix.Statfs_t
	if err := unix.Statfs(p, &st); err != nil {
		return nil, fmt.Errorf("error getting file system info: %w", err)
	}

	vfs := &sftp.StatVFS{
		Bsize:  uint64(st.Bsize),
		Blocks: st.Blocks,
		Bfree:  st.Bfree,
		Bavail: st.Bavail,
		Files:  st.Files,
		Ffree:  st.Ffree,
		// no separate count for unprivileged users
		Favail: st.Ffree,
		Fsid:   uint64(uint32(st.Fsid.Val[0]))<<32 | uint64(uint32(st.Fsid.Val[1])),
		Flag:   uint64(st.Flags),
	}
	fillPlatform(vfs, &st)
	return vfs, nil
}
