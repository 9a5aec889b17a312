package source

import (
	"context"
	"os"
	"path/filepath"

	"github.com/swang430/skills-pool/pkg/config"
	"github.com/swang430/skills-pool/pkg/errors"
	"github.com/swang430/skills-pool/pkg/store"
)

// LocalSource is a directory on this machine. It is read in place and
// never copied into the cache.
type LocalSource struct {
	Path string
	// Sub is an optional sub-directory holding the bundle dirs.
	Sub string
}

var _ Source = &LocalSource{}

func (l *LocalSource) Fetch(ctx context.Context, s store.Store) (*ResolvedSource, error) {
	absPath, err := filepath.Abs(config.ExpandHome(l.Path))
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrInvalidInput, "resolving absolute path for %q", l.Path)
	}
	if l.Sub != "" {
		if !filepath.IsLocal(filepath.FromSlash(l.Sub)) {
			return nil, errors.Newf(errors.ErrInvalidInput, "source path %q must stay inside %s", l.Sub, absPath)
		}
		absPath = filepath.Join(absPath, filepath.FromSlash(l.Sub))
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Newf(errors.ErrNotFound, "local source path does not exist: %s", absPath)
		}
		return nil, errors.Wrapf(err, errors.ErrIO, "checking local source path %s", absPath)
	}

	if !info.IsDir() {
		return nil, errors.Newf(errors.ErrInvalidInput, "local source path is not a directory: %s", absPath)
	}

	return &ResolvedSource{
		Dir: absPath,
	}, nil
}
