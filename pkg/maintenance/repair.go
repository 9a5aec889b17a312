package maintenance

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/swang430/skills-pool/pkg/agents"
	"github.com/swang430/skills-pool/pkg/errors"
	"github.com/swang430/skills-pool/pkg/logging"
	"github.com/swang430/skills-pool/pkg/pool"
	"github.com/swang430/skills-pool/pkg/skill"
	"github.com/swang430/skills-pool/pkg/store"
	"github.com/swang430/skills-pool/pkg/syncer"
)

// Removed is a broken managed link deleted by PruneBroken.
type Removed struct {
	Agent  string `json:"agent"`
	Path   string `json:"path"`
	Target string `json:"target"`
}

// PruneBroken deletes managed links whose bundle no longer exists. Links
// that point outside the pool are never touched, broken or not. With
// dryRun nothing is removed.
func PruneBroken(skillsRoot string, targets []agents.Agent, dryRun bool) ([]Removed, error) {
	logger := logging.GetLogger("maintenance")
	removed := []Removed{}
	var errs []error

	for _, a := range targets {
		links, err := syncer.ManagedLinks(skillsRoot, a.TargetDir)
		if err != nil {
			errs = append(errs, errors.Wrapf(err, errors.ErrIO, "reading %s", a.TargetDir))
			continue
		}
		for _, l := range links {
			if !l.Broken {
				continue
			}
			if !dryRun {
				if err := os.Remove(l.Path); err != nil && !os.IsNotExist(err) {
					errs = append(errs, errors.Wrapf(err, errors.ErrIO, "removing %s", l.Path))
					continue
				}
			}
			logger.Debug().Str("agent", a.ID).Str("path", l.Path).Bool("dry_run", dryRun).Msg("Pruned broken link")
			removed = append(removed, Removed{Agent: a.ID, Path: l.Path, Target: l.Target})
		}
	}
	return removed, stderrors.Join(errs...)
}

// Trash moves skills/<name> to trash/<name>-<stamp> and drops it from the
// registry. A directory the registry does not know is moved all the same.
func Trash(st store.Store, reg *pool.Registry, name string, now time.Time) (string, error) {
	if !skill.ValidName(name) {
		return "", errors.Newf(errors.ErrInvalidInput, "invalid bundle name %q", name)
	}
	src := st.SkillPath(name)
	_, tracked := reg.ByName(name)

	if _, err := os.Lstat(src); err != nil {
		if !os.IsNotExist(err) {
			return "", errors.Wrapf(err, errors.ErrIO, "checking %s", src)
		}
		if !tracked {
			return "", errors.Newf(errors.ErrNotFound, "no bundle named %q in the pool", name)
		}
		// registry-only entry: nothing to move
		if _, err := reg.Trash(name, "", now); err != nil {
			return "", err
		}
		return "", nil
	}

	if err := st.EnsureDir(store.TrashDir); err != nil {
		return "", err
	}
	dst := trashPath(st.Path(store.TrashDir), name, now)
	if err := os.Rename(src, dst); err != nil {
		return "", errors.Wrapf(err, errors.ErrIO, "moving %s to trash", name)
	}

	if tracked {
		if _, err := reg.Trash(name, dst, now); err != nil {
			if rerr := os.Rename(dst, src); rerr != nil {
				logger := logging.GetLogger("maintenance")
				logger.Error().Err(rerr).Str("path", dst).Msg("Failed to restore trashed bundle")
			}
			return "", err
		}
	}
	logger := logging.GetLogger("maintenance")
	logger.Info().Str("name", name).Str("path", dst).Msg("Moved bundle to trash")
	return dst, nil
}

func trashPath(root, name string, now time.Time) string {
	base := filepath.Join(root, name+"-"+now.Format(reportStamp))
	p := base
	for n := 2; ; n++ {
		if _, err := os.Lstat(p); os.IsNotExist(err) {
			return p
		}
		p = fmt.Sprintf("%s-%d", base, n)
	}
}
