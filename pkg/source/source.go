// Package source fetches the tree a tracked Source points at: a local
// directory is used in place, a git repository is shallow-cloned into the
// pool cache.
package source

import (
	"context"

	"github.com/swang430/skills-pool/pkg/store"
)

type Source interface {
	// Fetch makes the source's bundle tree available on disk and returns
	// where it is.
	Fetch(ctx context.Context, store store.Store) (*ResolvedSource, error)
}

type ResolvedSource struct {
	Dir    string // directory holding the bundle dirs
	Commit string // resolved commit hash (git only)
	Ref    string // ref as configured (git only)
}
