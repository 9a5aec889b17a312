// Package fingerprint computes deterministic content digests for bundle
// directories. Two bundles with the same fingerprint are treated as the same
// content regardless of their names.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/swang430/skills-pool/pkg/errors"
)

const hashPrefix = "sha256:"

// Fingerprint is an opaque "sha256:<hex>" digest.
type Fingerprint string

// Short returns the first eight hex characters, used for name suffixes.
func (f Fingerprint) Short() string {
	s := strings.TrimPrefix(string(f), hashPrefix)
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

func (f Fingerprint) String() string {
	return string(f)
}

// IsZero reports whether f is the empty fingerprint.
func (f Fingerprint) IsZero() bool {
	return f == ""
}

// Dir fingerprints the bundle rooted at dir, as listed by Walk. Relative
// paths are hashed with forward slashes so the result is stable across
// platforms. Modification times, permissions and empty directories are
// ignored. A link kept inside the bundle contributes its normalized target;
// content reached through a link that leaves the bundle hashes exactly like
// a regular file, so a copy made by store.CopyTree has the same fingerprint.
func Dir(dir string) (Fingerprint, error) {
	_, members, err := Walk(dir)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	for _, m := range members {
		if err := hashMember(h, m); err != nil {
			return "", errors.Wrapf(err, errors.ErrIO, "hashing %s", m.Path)
		}
	}

	return Fingerprint(hashPrefix + hex.EncodeToString(h.Sum(nil))), nil
}

func hashMember(w io.Writer, m Member) error {
	switch m.Kind {
	case KindDir:
		return nil
	case KindLink:
		_, err := fmt.Fprintf(w, "l\x00%s\x00%s\x00", m.Rel, m.Target)
		return err
	}

	f, err := os.Open(m.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "f\x00%s\x00%d\x00", m.Rel, info.Size())
	_, err = io.Copy(w, f)
	return err
}
