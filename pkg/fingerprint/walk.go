package fingerprint

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/swang430/skills-pool/pkg/errors"
)

// Kind tells how a Member is materialized.
type Kind int

const (
	KindFile Kind = iota
	KindDir
	KindLink
)

// Member is one entry of a bundle as it is hashed and copied.
type Member struct {
	// Rel is the slash-separated path below the bundle root.
	Rel string
	// Path is the real location to read from.
	Path string
	Kind Kind
	// Target is the slash-separated link text for KindLink, relative to
	// the link's own directory. Only links that resolve inside the bundle
	// are kept as links.
	Target string
	Mode   os.FileMode
}

// Walk lists the members of the bundle at dir, sorted by Rel. A symlinked
// root is resolved first. Links that resolve inside the bundle stay links;
// links that leave it are replaced by what they point to, descending into
// linked directories. Dangling links and link cycles are errors. Sockets,
// fifos and devices are left out.
func Walk(dir string) (root string, members []Member, err error) {
	root, err = filepath.EvalSymlinks(dir)
	if err != nil {
		return "", nil, errors.Wrapf(err, errors.ErrIO, "resolving %s", dir)
	}
	info, err := os.Stat(root)
	if err != nil {
		return "", nil, errors.Wrapf(err, errors.ErrIO, "fingerprinting %s", dir)
	}
	if !info.IsDir() {
		return "", nil, errors.Newf(errors.ErrIO, "fingerprinting %s: not a directory", dir)
	}

	w := &walker{root: root, active: map[string]bool{root: true}}
	if err := w.walk(root, ""); err != nil {
		return "", nil, errors.Wrapf(err, errors.ErrIO, "walking %s", dir)
	}
	sort.Slice(w.members, func(i, j int) bool { return w.members[i].Rel < w.members[j].Rel })
	return root, w.members, nil
}

type walker struct {
	root    string
	members []Member
	// active holds the real directories on the current descent path.
	active map[string]bool
}

func (w *walker) walk(real, rel string) error {
	entries, err := os.ReadDir(real)
	if err != nil {
		return err
	}
	for _, e := range entries {
		path := filepath.Join(real, e.Name())
		childRel := e.Name()
		if rel != "" {
			childRel = rel + "/" + e.Name()
		}

		if e.Type()&os.ModeSymlink != 0 {
			if err := w.link(path, childRel); err != nil {
				return err
			}
			continue
		}

		info, err := e.Info()
		if err != nil {
			return err
		}
		switch {
		case info.IsDir():
			w.members = append(w.members, Member{Rel: childRel, Path: path, Kind: KindDir, Mode: info.Mode().Perm()})
			if err := w.walk(path, childRel); err != nil {
				return err
			}
		case info.Mode().IsRegular():
			w.members = append(w.members, Member{Rel: childRel, Path: path, Kind: KindFile, Mode: info.Mode().Perm()})
		}
	}
	return nil
}

func (w *walker) link(path, rel string) error {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return fmt.Errorf("link %s: %w", rel, err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return err
	}

	if inside, ok := w.inside(resolved); ok {
		target, err := filepath.Rel(filepath.Dir(filepath.FromSlash(rel)), inside)
		if err != nil {
			return err
		}
		w.members = append(w.members, Member{
			Rel:    rel,
			Path:   resolved,
			Kind:   KindLink,
			Target: filepath.ToSlash(target),
			Mode:   info.Mode().Perm(),
		})
		return nil
	}

	switch {
	case info.IsDir():
		if w.active[resolved] {
			return fmt.Errorf("link %s: cycle through %s", rel, resolved)
		}
		w.active[resolved] = true
		defer delete(w.active, resolved)
		w.members = append(w.members, Member{Rel: rel, Path: resolved, Kind: KindDir, Mode: info.Mode().Perm()})
		return w.walk(resolved, rel)
	case info.Mode().IsRegular():
		w.members = append(w.members, Member{Rel: rel, Path: resolved, Kind: KindFile, Mode: info.Mode().Perm()})
	}
	return nil
}

// inside returns resolved relative to the bundle root when it lies below it.
func (w *walker) inside(resolved string) (string, bool) {
	rel, err := filepath.Rel(w.root, resolved)
	if err != nil {
		return "", false
	}
	if rel == "." || filepath.IsLocal(rel) {
		return rel, true
	}
	return "", false
}
