package filesystem

import (
	"github.com/pkg/sftp"
	"golang.org/x/sys/unix"
)

func fillPlatform(vfs *sftp.StatVFS, st *unix.Statfs_t) {
	vfs.Frsize = uint64(st.Frsize)
	vfs.Namemax = uint64(st.Namelen)
}
