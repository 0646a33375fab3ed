package filesystem

import (
	"github.com/pkg/sftp"
	"golang.org/x/sys/unix"
)

// darwin has no fragment size and no per file system name limit.
func fillPlatform(vfs *sftp.StatVFS, st *unix.Statfs_t) {
	vfs.Frsize = uint64(st.Bsize)
	vfs.Namemax = 1024
}
