package ssfs

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/distfs/distfs/internal/wire"
)

// Stat builds the PATH_INFO payload for path relative to root (spec.md
// §4.7 client-direct INFO: "stat the file ... iPathType (S_IFMT-masked),
// iPathPermission (low 9 bits), iPathSize, iPathLinks, and atime/mtime/ctime
// as epoch seconds"). It uses unix.Stat directly rather than os.Stat so the
// ctime and link count fields — which os.FileInfo does not expose — are
// available without a platform type-assertion on Sys().
func Stat(root, path string) (wire.PathInfo, error) {
	full := joinRoot(root, path)

	var st unix.Stat_t
	if err := unix.Stat(full, &st); err != nil {
		return wire.PathInfo{}, fmt.Errorf("ssfs: stat %q: %w", full, err)
	}

	return wire.PathInfo{
		Path:       path,
		Type:       int32(st.Mode & unix.S_IFMT),
		Size:       int32(st.Size),
		Permission: int32(st.Mode & 0o777),
		Ctime:      int32(st.Ctim.Sec),
		Mtime:      int32(st.Mtim.Sec),
		Atime:      int32(st.Atim.Sec),
		Links:      int32(st.Nlink),
	}, nil
}

func joinRoot(root, path string) string {
	if path == "" {
		return root
	}
	return root + "/" + path
}
