package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/swang430/skills-pool/pkg/fingerprint"
)

// CopyTree copies the bundle at src to dst, which must not exist yet. The
// tree is the one fingerprint.Walk lists: a symlinked src is resolved,
// links inside the bundle are recreated and links leaving it are replaced
// by a copy of their content. Regular files keep their permission bits.
func CopyTree(src, dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("copy destination %s already exists", dst)
	}

	_, members, err := fingerprint.Walk(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, dirPerm); err != nil {
		return err
	}

	for _, m := range members {
		target := filepath.Join(dst, filepath.FromSlash(m.Rel))
		var err error
		switch m.Kind {
		case fingerprint.KindDir:
			err = os.MkdirAll(target, dirPerm)
		case fingerprint.KindLink:
			err = os.Symlink(filepath.FromSlash(m.Target), target)
		default:
			err = copyFile(m.Path, target, m.Mode)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
