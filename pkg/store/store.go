package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"

	"github.com/swang430/skills-pool/pkg/errors"
	"github.com/swang430/skills-pool/pkg/fingerprint"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// Top-level directories of a pool root.
const (
	SkillsDir = "skills"
	StateDir  = "state"
	CacheDir  = "cache"
	TrashDir  = "trash"
	ConfigDir = "config"
)

var layout = []string{SkillsDir, StateDir, CacheDir, TrashDir, ConfigDir}

type Store interface {
	// Root returns the absolute pool root.
	Root() string
	// Path returns the absolute filesystem path for the given segments
	// joined under the pool root. Does not create or verify the path.
	Path(segments ...string) string
	// SkillPath is the canonical storage location of a pool entry.
	SkillPath(name string) string
	// Exists reports whether the path at the given segments exists.
	Exists(segments ...string) (bool, error)
	// EnsureLayout creates the pool's top-level directories.
	EnsureLayout() error
	// EnsureDir creates the directory at segments, including parents.
	EnsureDir(segments ...string) error
	// Remove deletes the entire tree at segments.
	Remove(segments ...string) error
	// HashDir fingerprints the directory at segments.
	HashDir(segments ...string) (fingerprint.Fingerprint, error)
	// WriteFileAtomic replaces the file at segments via a temp file and
	// rename, so readers see either the old or the new content.
	WriteFileAtomic(data []byte, segments ...string) error
	// ReadFile reads the file at segments.
	ReadFile(segments ...string) ([]byte, error)
}

func New(root string) Store {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}
	return &store{root: abs}
}

// DefaultRoot is $XDG_DATA_HOME/skillctl/pool.
func DefaultRoot() string {
	return filepath.Join(xdg.DataHome, "skillctl", "pool")
}

type store struct {
	root string
}

var _ Store = &store{}

func (s *store) Root() string {
	return s.root
}

func (s *store) Path(segments ...string) string {
	return filepath.Join(append([]string{s.root}, segments...)...)
}

func (s *store) SkillPath(name string) string {
	return s.Path(SkillsDir, name)
}

func (s *store) Exists(segments ...string) (bool, error) {
	_, err := os.Lstat(s.Path(segments...))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (s *store) EnsureLayout() error {
	for _, dir := range layout {
		if err := s.EnsureDir(dir); err != nil {
			return err
		}
	}
	return nil
}

func (s *store) EnsureDir(segments ...string) error {
	p := s.Path(segments...)
	if err := os.MkdirAll(p, dirPerm); err != nil {
		return errors.Wrapf(err, errors.ErrIO, "creating %s", p)
	}
	return nil
}

func (s *store) Remove(segments ...string) error {
	p := s.Path(segments...)
	if err := os.RemoveAll(p); err != nil {
		return errors.Wrapf(err, errors.ErrIO, "removing %s", p)
	}
	return nil
}

func (s *store) HashDir(segments ...string) (fingerprint.Fingerprint, error) {
	return fingerprint.Dir(s.Path(segments...))
}

func (s *store) WriteFileAtomic(data []byte, segments ...string) error {
	return WriteFileAtomic(s.Path(segments...), data)
}

func (s *store) ReadFile(segments ...string) ([]byte, error) {
	return os.ReadFile(s.Path(segments...))
}

// WriteFileAtomic writes data to a temp file next to path, syncs it and
// renames it over path. A crash mid-write leaves the previous file intact.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return errors.Wrapf(err, errors.ErrIO, "creating %s", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrapf(err, errors.ErrIO, "creating temp file for %s", path)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return errors.Wrapf(err, errors.ErrIO, "writing %s", tmpName)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return errors.Wrapf(err, errors.ErrIO, "syncing %s", tmpName)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, errors.ErrIO, "closing %s", tmpName)
	}
	if err := os.Chmod(tmpName, filePerm); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, errors.ErrIO, "chmod %s", tmpName)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, errors.ErrIO, fmt.Sprintf("replacing %s", path))
	}
	return nil
}
