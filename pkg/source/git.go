package source

import (
	"bufio"
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/swang430/skills-pool/pkg/errors"
	"github.com/swang430/skills-pool/pkg/logging"
	"github.com/swang430/skills-pool/pkg/store"
)

const fetchMaxElapsed = 30 * time.Second

// GitSource is a remote repository checked out into <pool>/cache/repos,
// one directory per resolved commit.
type GitSource struct {
	URL  string
	Path string
	Ref  string
	// Env is appended to the environment of every git invocation. The
	// proxy settings travel this way.
	Env []string
	// NewBackOff replaces the retry policy for network operations.
	NewBackOff func() backoff.BackOff
}

var _ Source = &GitSource{}

func (g *GitSource) Fetch(ctx context.Context, s store.Store) (*ResolvedSource, error) {
	logger := logging.GetLogger("source").With().Str("url", g.URL).Str("ref", g.Ref).Logger()

	if g.Path != "" && !filepath.IsLocal(filepath.FromSlash(g.Path)) {
		return nil, errors.Newf(errors.ErrInvalidInput, "source path %q must stay inside the repository", g.Path)
	}

	commit, err := g.resolveRef(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrFetchFailed, "resolving ref %q of %s", g.displayRef(), g.URL)
	}

	checkout, err := g.cacheSegments(commit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInvalidInput, "parsing git URL")
	}

	cached, err := s.Exists(checkout...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrIO, "checking cache")
	}
	if cached {
		logger.Debug().Str("commit", commit).Msg("Using cached checkout")
	} else if err := g.populate(ctx, s, checkout, commit); err != nil {
		return nil, err
	} else {
		logger.Info().Str("commit", commit).Msg("Cloned source")
	}

	dir := s.Path(checkout...)
	if g.Path != "" {
		dir = filepath.Join(dir, filepath.FromSlash(g.Path))
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, errors.Newf(errors.ErrNotFound, "path %q not found in %s@%s", g.Path, g.URL, commit[:min(len(commit), 12)])
	}

	return &ResolvedSource{Dir: dir, Commit: commit, Ref: g.Ref}, nil
}

// populate clones into a sibling .partial dir and renames it into place.
// A checkout dir that exists is always complete.
func (g *GitSource) populate(ctx context.Context, s store.Store, checkout []string, commit string) error {
	parent := checkout[:len(checkout)-1]
	if err := s.EnsureDir(parent...); err != nil {
		return errors.Wrap(err, errors.ErrIO, "creating cache directory")
	}
	partial := append(append([]string{}, parent...), commit+".partial")

	err := g.retry(ctx, func() error {
		if err := s.Remove(partial...); err != nil {
			return backoff.Permanent(err)
		}
		return g.clone(ctx, s.Path(partial...), commit)
	})
	if err != nil {
		_ = s.Remove(partial...)
		return errors.Wrapf(err, errors.ErrFetchFailed, "cloning %s", g.URL)
	}
	if err := os.Rename(s.Path(partial...), s.Path(checkout...)); err != nil {
		_ = s.Remove(partial...)
		return errors.Wrap(err, errors.ErrIO, "moving checkout into cache")
	}
	return nil
}

func (g *GitSource) displayRef() string {
	if g.Ref == "" {
		return "HEAD"
	}
	return g.Ref
}

type refKind int

const (
	refName refKind = iota
	refShortHash
	refFullHash
)

// classifyRef tells commit ids from branch and tag names. Hex strings of
// 7 to 39 characters are taken as abbreviated ids.
func classifyRef(ref string) refKind {
	if ref == "" {
		return refName
	}
	for _, c := range ref {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return refName
		}
	}
	switch {
	case len(ref) == 40:
		return refFullHash
	case len(ref) >= 7 && len(ref) < 40:
		return refShortHash
	default:
		return refName
	}
}

type remoteRef struct {
	commit string
	name   string
}

// peeled reports whether the line is the dereferenced commit of an
// annotated tag.
func (r remoteRef) peeled() bool {
	return strings.HasSuffix(r.name, "^{}")
}

func parseRemoteRefs(out []byte) []remoteRef {
	var refs []remoteRef
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		refs = append(refs, remoteRef{commit: strings.ToLower(fields[0]), name: fields[1]})
	}
	return refs
}

// resolveRef turns g.Ref into a full commit id. Names and the empty ref
// are looked up with ls-remote; abbreviated ids must match exactly one
// advertised commit.
func (g *GitSource) resolveRef(ctx context.Context) (string, error) {
	switch classifyRef(g.Ref) {
	case refFullHash:
		return strings.ToLower(g.Ref), nil
	case refShortHash:
		out, err := g.lsRemote(ctx)
		if err != nil {
			return "", err
		}
		return matchPrefix(parseRemoteRefs(out), strings.ToLower(g.Ref), g.URL)
	}

	ref := g.displayRef()
	out, err := g.lsRemote(ctx, ref, ref+"^{}")
	if err != nil {
		return "", err
	}
	var commit string
	for _, r := range parseRemoteRefs(out) {
		if r.peeled() {
			return r.commit, nil
		}
		commit = r.commit
	}
	if commit == "" {
		return "", fmt.Errorf("ref %q not found in %s", ref, g.URL)
	}
	return commit, nil
}

func matchPrefix(refs []remoteRef, prefix, repo string) (string, error) {
	found := ""
	for _, r := range refs {
		if !strings.HasPrefix(r.commit, prefix) || r.commit == found {
			continue
		}
		if found != "" {
			return "", fmt.Errorf("commit %q is ambiguous in %s", prefix, repo)
		}
		found = r.commit
	}
	if found == "" {
		return "", fmt.Errorf("commit %q not found in %s", prefix, repo)
	}
	return found, nil
}

func (g *GitSource) lsRemote(ctx context.Context, patterns ...string) ([]byte, error) {
	var out []byte
	err := g.retry(ctx, func() error {
		var err error
		out, err = g.git(ctx, append([]string{"ls-remote", g.URL}, patterns...)...)
		return err
	})
	return out, err
}

// clone makes a depth-1 checkout of commit in dest. Named refs clone with
// --branch; commit ids are fetched directly, which needs a server that
// allows fetching reachable SHAs.
func (g *GitSource) clone(ctx context.Context, dest, commit string) error {
	if classifyRef(g.Ref) == refName {
		args := []string{"clone", "--depth", "1"}
		if g.Ref != "" {
			args = append(args, "--branch", g.Ref)
		}
		_, err := g.git(ctx, append(args, g.URL, dest)...)
		return err
	}

	steps := [][]string{
		{"init", dest},
		{"-C", dest, "remote", "add", "origin", g.URL},
		{"-C", dest, "fetch", "--depth", "1", "origin", commit},
		{"-C", dest, "checkout", "FETCH_HEAD"},
	}
	for _, args := range steps {
		if _, err := g.git(ctx, args...); err != nil {
			return err
		}
	}
	return nil
}

func (g *GitSource) git(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	cmd.Env = append(cmd.Env, g.Env...)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if stderrors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, err
	}
	return out, nil
}

// retry repeats op with exponential backoff while it fails with a
// transient network error.
func (g *GitSource) retry(ctx context.Context, op func() error) error {
	var bo backoff.BackOff
	if g.NewBackOff != nil {
		bo = g.NewBackOff()
	} else {
		exp := backoff.NewExponentialBackOff()
		exp.MaxElapsedTime = fetchMaxElapsed
		bo = exp
	}

	return backoff.Retry(func() error {
		err := op()
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		case isTransient(err):
			logger := logging.GetLogger("source")
			logger.Debug().Err(err).Msg("Retrying git operation")
			return err
		default:
			return backoff.Permanent(err)
		}
	}, backoff.WithContext(bo, ctx))
}

var transientMarkers = []string{
	"could not resolve host",
	"connection reset",
	"connection refused",
	"connection timed out",
	"operation timed out",
	"early eof",
	"the remote end hung up unexpectedly",
	"rpc failed",
	"tls",
	"502",
	"503",
	"504",
}

func isTransient(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// cacheSegments places a checkout at cache/repos/<host>/<repo path>/<commit>.
// Local repositories use "local" as host.
func (g *GitSource) cacheSegments(commit string) ([]string, error) {
	host, repo, err := splitRemote(g.URL)
	if err != nil {
		return nil, err
	}
	if host == "" {
		host = "local"
	}
	segs := []string{store.CacheDir, "repos", host}
	for _, p := range strings.Split(repo, "/") {
		if p != "" && p != "." && p != ".." {
			segs = append(segs, p)
		}
	}
	return append(segs, commit), nil
}

// splitRemote returns host and repository path of a remote. scp-style
// addresses (user@host:path) have no scheme and a colon before any slash.
func splitRemote(remote string) (host, repo string, err error) {
	if !strings.Contains(remote, "://") {
		if i := strings.IndexByte(remote, ':'); i > 0 && !strings.Contains(remote[:i], "/") {
			host = remote[:i]
			if at := strings.LastIndexByte(host, '@'); at >= 0 {
				host = host[at+1:]
			}
			return host, strings.TrimSuffix(remote[i+1:], ".git"), nil
		}
	}

	u, err := url.Parse(remote)
	if err != nil {
		return "", "", err
	}
	repo = strings.TrimSuffix(strings.TrimPrefix(u.Path, "/"), ".git")
	if repo == "" {
		return "", "", fmt.Errorf("no repository path in %q", remote)
	}
	return u.Host, repo, nil
}
