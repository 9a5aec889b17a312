package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/swang430/skills-pool/pkg/errors"
	"github.com/swang430/skills-pool/pkg/fingerprint"
	"github.com/swang430/skills-pool/pkg/logging"
	"github.com/swang430/skills-pool/pkg/skill"
	"github.com/swang430/skills-pool/pkg/store"
)

const (
	// DirName is the tracking directory under the pool state dir.
	DirName      = "tracking"
	historyDir   = "history"
	historyStamp = "20060102T150405.000000000Z"
	// HistoryLimit is how many superseded snapshots are kept per source.
	HistoryLimit = 10
)

// Store persists one live snapshot per source under dir, usually
// <pool>/state/tracking.
type Store struct {
	dir    string
	logger zerolog.Logger
}

func NewStore(dir string) *Store {
	return &Store{
		dir:    dir,
		logger: logging.GetLogger("snapshot"),
	}
}

func (s *Store) path(sourceID string) string {
	return filepath.Join(s.dir, fileSlug(sourceID)+".json")
}

func fileSlug(sourceID string) string {
	return skill.Slugify(sourceID, "source")
}

// Load returns the live snapshot for sourceID, or nil when none was ever
// accepted.
func (s *Store) Load(sourceID string) (*Snapshot, error) {
	data, err := os.ReadFile(s.path(sourceID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, errors.ErrIO, "reading snapshot for %s", sourceID)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, errors.Wrapf(err, errors.ErrIO, "decoding snapshot for %s", sourceID)
	}
	if snap.Bundles == nil {
		snap.Bundles = map[string]fingerprint.Fingerprint{}
	}
	return &snap, nil
}

// Save atomically replaces the live snapshot. The superseded one is copied
// into the history directory first; a failure there is logged and does not
// block the save.
func (s *Store) Save(snap *Snapshot) error {
	if snap == nil || snap.SourceID == "" {
		return errors.New(errors.ErrInvalidInput, "snapshot has no source id")
	}
	if snap.Bundles == nil {
		snap.Bundles = map[string]fingerprint.Fingerprint{}
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return errors.Wrapf(err, errors.ErrIO, "encoding snapshot for %s", snap.SourceID)
	}

	if err := s.archive(snap.SourceID); err != nil {
		s.logger.Warn().Err(err).Str("source", snap.SourceID).Msg("Failed to archive previous snapshot")
	}

	if err := store.WriteFileAtomic(s.path(snap.SourceID), append(data, '\n')); err != nil {
		return err
	}
	s.logger.Debug().
		Str("source", snap.SourceID).
		Int("bundles", len(snap.Bundles)).
		Msg("Snapshot saved")
	return nil
}

// Delete removes the live snapshot. History is left alone.
func (s *Store) Delete(sourceID string) error {
	if err := os.Remove(s.path(sourceID)); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, errors.ErrIO, "removing snapshot for %s", sourceID)
	}
	return nil
}

// History lists archived snapshot files for sourceID, oldest first.
func (s *Store) History(sourceID string) ([]string, error) {
	prefix := fileSlug(sourceID) + "-"
	entries, err := os.ReadDir(filepath.Join(s.dir, historyDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.ErrIO, "reading snapshot history")
	}

	var out []string
	for _, e := range entries {
		rest, ok := strings.CutPrefix(e.Name(), prefix)
		if !ok {
			continue
		}
		// "a" must not pick up the history of "a-b"
		if _, err := time.Parse(historyStamp, strings.TrimSuffix(rest, ".json")); err != nil {
			continue
		}
		out = append(out, filepath.Join(s.dir, historyDir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) archive(sourceID string) error {
	data, err := os.ReadFile(s.path(sourceID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	stamp := time.Now().UTC().Format(historyStamp)
	dest := filepath.Join(s.dir, historyDir, fmt.Sprintf("%s-%s.json", fileSlug(sourceID), stamp))
	if err := store.WriteFileAtomic(dest, data); err != nil {
		return err
	}

	old, err := s.History(sourceID)
	if err != nil {
		return err
	}
	for len(old) > HistoryLimit {
		if err := os.Remove(old[0]); err != nil {
			return err
		}
		old = old[1:]
	}
	return nil
}
