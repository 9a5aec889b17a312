package syncer

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type slotState int

const (
	slotEmpty slotState = iota
	slotLink
	slotOccupied
)

func inspect(path string) (slotState, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return slotEmpty, nil
		}
		return slotEmpty, err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return slotLink, nil
	}
	return slotOccupied, nil
}

// linkTarget returns the cleaned absolute path the link at path names,
// without requiring it to exist.
func linkTarget(path string) (string, error) {
	dest, err := os.Readlink(path)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(dest) {
		dest = filepath.Join(filepath.Dir(path), dest)
	}
	return filepath.Clean(dest), nil
}

// owner decides whether a link target belongs to the pool.
type owner struct {
	roots []string
}

func newOwner(skillsRoot string) owner {
	o := owner{roots: []string{filepath.Clean(skillsRoot)}}
	if real, err := filepath.EvalSymlinks(skillsRoot); err == nil && real != o.roots[0] {
		o.roots = append(o.roots, real)
	}
	return o
}

// owns reports whether target lies strictly under one of the pool roots.
func (o owner) owns(target string) bool {
	for _, root := range o.roots {
		rel, err := filepath.Rel(root, target)
		if err != nil {
			continue
		}
		if rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// same reports whether two paths name the same location, comparing both
// lexically and after resolving symlinks.
func same(a, b string) bool {
	if filepath.Clean(a) == filepath.Clean(b) {
		return true
	}
	ra, errA := filepath.EvalSymlinks(a)
	rb, errB := filepath.EvalSymlinks(b)
	return errA == nil && errB == nil && ra == rb
}

// overwriteSymlink points linkPath at newTarget by creating a temporary
// link and renaming it over the old one, so the slot is never empty.
func overwriteSymlink(newTarget, linkPath string) error {
	tmp := filepath.Join(filepath.Dir(linkPath), "."+filepath.Base(linkPath)+".skillctl-tmp")

	if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale temporary link: %w", err)
	}
	if err := os.Symlink(newTarget, tmp); err != nil {
		return fmt.Errorf("failed to create temporary symlink: %w", err)
	}
	if err := os.Rename(tmp, linkPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename temporary symlink: %w", err)
	}
	return nil
}

// backupName returns a free "<name>.backup-<stamp>" path next to path.
func backupName(path, stamp string) string {
	base := fmt.Sprintf("%s.backup-%s", path, stamp)
	candidate := base
	for n := 2; ; n++ {
		if _, err := os.Lstat(candidate); os.IsNotExist(err) {
			return candidate
		}
		candidate = fmt.Sprintf("%s-%d", base, n)
	}
}

// ManagedLink is a symlink in a target directory whose target lies under
// the pool skills root.
type ManagedLink struct {
	Name   string
	Path   string
	Target string
	// Broken is set when the target no longer exists.
	Broken bool
}

// ManagedLinks lists the managed links directly inside dir, sorted by
// name. A missing dir has none.
func ManagedLinks(skillsRoot, dir string) ([]ManagedLink, error) {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	own := newOwner(skillsRoot)
	var links []ManagedLink
	for _, d := range dirents {
		if d.Type()&os.ModeSymlink == 0 {
			continue
		}
		p := filepath.Join(dir, d.Name())
		target, err := linkTarget(p)
		if err != nil || !own.owns(target) {
			continue
		}
		_, statErr := os.Stat(p)
		links = append(links, ManagedLink{Name: d.Name(), Path: p, Target: target, Broken: statErr != nil})
	}
	return links, nil
}

// plan carries the slot changes a dry run has already reported for one
// target directory, so later agents sharing it see the same state a real
// run would leave behind. A nil plan reads the filesystem only.
type plan struct {
	// slots maps a name to its planned link target; "" marks a removal.
	slots map[string]string
}

func newPlan() *plan {
	return &plan{slots: map[string]string{}}
}

func (p *plan) record(name, target string) {
	if p != nil {
		p.slots[name] = target
	}
}

// observe returns the state of the slot at path and, for links, the
// cleaned target.
func (p *plan) observe(path string) (slotState, string, error) {
	if p != nil {
		if target, ok := p.slots[filepath.Base(path)]; ok {
			if target == "" {
				return slotEmpty, "", nil
			}
			return slotLink, target, nil
		}
	}
	state, err := inspect(path)
	if err != nil || state != slotLink {
		return state, "", err
	}
	target, err := linkTarget(path)
	return state, target, err
}

// overlay applies planned changes to the managed links found in dir.
func (p *plan) overlay(dir string, links []ManagedLink) []ManagedLink {
	if p == nil || len(p.slots) == 0 {
		return links
	}
	byName := make(map[string]ManagedLink, len(links))
	for _, l := range links {
		byName[l.Name] = l
	}
	for name, target := range p.slots {
		if target == "" {
			delete(byName, name)
			continue
		}
		byName[name] = ManagedLink{Name: name, Path: filepath.Join(dir, name), Target: target}
	}
	out := make([]ManagedLink, 0, len(byName))
	for _, l := range byName {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
