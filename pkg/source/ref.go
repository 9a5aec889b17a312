package source

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/swang430/skills-pool/pkg/config"
)

// ParseLocation turns what a user typed for `source add` into the
// location, path and ref of a config.Source. Local filesystem paths
// (./, ../, ~ or absolute) are made absolute. Git URLs are kept as given.
// Anything else is GitHub short-form, owner/repo[/path][@ref].
func ParseLocation(input string) (config.Source, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return config.Source{}, fmt.Errorf("empty location")
	}

	if isLocalPath(input) {
		abs, err := filepath.Abs(config.ExpandHome(input))
		if err != nil {
			return config.Source{}, fmt.Errorf("resolving %q: %w", input, err)
		}
		return config.Source{Location: abs}, nil
	}

	if IsGitURL(input) {
		return config.Source{Location: input}, nil
	}

	pathPart, gitRef, hasRef := strings.Cut(input, "@")
	if hasRef && gitRef == "" {
		return config.Source{}, fmt.Errorf("invalid location %q: empty ref after @", input)
	}

	segments := strings.Split(strings.Trim(pathPart, "/"), "/")
	if len(segments) < 2 || segments[0] == "" || segments[1] == "" {
		return config.Source{}, fmt.Errorf("invalid location %q: must have at least owner/repo", input)
	}

	var subPath string
	if len(segments) > 2 {
		subPath = strings.Join(segments[2:], "/")
	}

	return config.Source{
		Location: fmt.Sprintf("https://github.com/%s/%s.git", segments[0], segments[1]),
		Path:     subPath,
		Ref:      gitRef,
	}, nil
}

// FromConfig converts a tracked source into its fetcher. Git sources get
// the proxy settings from net in their environment.
func FromConfig(src config.Source, net config.Network) Source {
	if IsGitURL(src.Location) {
		return &GitSource{
			URL:  src.Location,
			Path: src.Path,
			Ref:  src.Ref,
			Env:  net.Environ(),
		}
	}

	return &LocalSource{
		Path: src.Location,
		Sub:  src.Path,
	}
}

// IsGitURL reports whether loc names a git remote rather than a local
// directory.
func IsGitURL(loc string) bool {
	switch {
	case strings.Contains(loc, "://"):
		return true
	case strings.HasPrefix(loc, "git@"):
		return true
	case strings.HasSuffix(loc, ".git") && !isLocalPath(loc):
		return true
	}
	return false
}

// isLocalPath reports whether ref looks like a local filesystem path.
func isLocalPath(ref string) bool {
	return ref == "." || ref == ".." || strings.HasPrefix(ref, "./") || strings.HasPrefix(ref, "../") ||
		ref == "~" || strings.HasPrefix(ref, "~/") || filepath.IsAbs(ref)
}
