package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/swang430/skills-pool/pkg/errors"
	"github.com/swang430/skills-pool/pkg/fingerprint"
)

// BundleDirs lists the immediate subdirectories of root that count as
// bundles, keyed by name. Hidden entries are skipped; a symlink counts when
// it resolves to a directory.
func BundleDirs(root string) (map[string]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrIO, "reading source tree %s", root)
	}

	dirs := make(map[string]string, len(entries))
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		path := filepath.Join(root, name)
		if e.Type()&os.ModeSymlink != 0 {
			info, err := os.Stat(path)
			if err != nil || !info.IsDir() {
				continue
			}
		} else if !e.IsDir() {
			continue
		}
		dirs[name] = path
	}
	return dirs, nil
}

// ScanTree fingerprints every bundle under root. The first failure cancels
// the remaining work and is returned; a partial mapping is never returned.
func ScanTree(ctx context.Context, root string) (map[string]fingerprint.Fingerprint, error) {
	dirs, err := BundleDirs(root)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	out := make(map[string]fingerprint.Fingerprint, len(dirs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for name, path := range dirs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			fp, err := fingerprint.Dir(path)
			if err != nil {
				return err
			}
			mu.Lock()
			out[name] = fp
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
