package transfer

import (
	"os"
	"syscall"
)

// identityOf returns the inode and status-change time of st. A same-size
// rewrite within mtime granularity still moves ctime.
func identityOf(st os.FileInfo) fileIdentity {
	sys, ok := st.Sys().(*syscall.Stat_t)
	if !ok {
		return fileIdentity{}
	}
	return fileIdentity{
		ino:   sys.Ino,
		ctime: sys.Ctim.Nano(),
	}
}
