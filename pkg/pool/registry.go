// Package pool is the registry of bundles resident in the pool. It keeps a
// fingerprint index and a name index and is the only place entries are
// added or removed, so the one-entry-per-fingerprint rule is enforced here.
package pool

import (
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/swang430/skills-pool/pkg/errors"
	"github.com/swang430/skills-pool/pkg/fingerprint"
	"github.com/swang430/skills-pool/pkg/logging"
	"github.com/swang430/skills-pool/pkg/store"
)

const formatVersion = 1

// FileName is the registry file under the pool state dir.
const FileName = "pool.json"

// Entry is a bundle stored at <pool>/skills/<Name>.
type Entry struct {
	Name           string                  `json:"name"`
	Fingerprint    fingerprint.Fingerprint `json:"fingerprint"`
	ExternalSource string                  `json:"external_source,omitempty"`
	ExternalRelDir string                  `json:"external_rel_dir,omitempty"`
	Description    string                  `json:"description,omitempty"`
	ImportedAt     time.Time               `json:"imported_at"`
}

// Local reports whether the entry was authored locally rather than
// imported from a tracked source.
func (e Entry) Local() bool {
	return e.ExternalSource == ""
}

// Trashed records an entry that was moved to the trash. Trashed entries
// are not indexed: their fingerprint is free to be imported again.
type Trashed struct {
	Entry
	TrashedAt time.Time `json:"trashed_at"`
	Path      string    `json:"path"`
}

type file struct {
	Version int       `json:"version"`
	Entries []Entry   `json:"entries"`
	Trashed []Trashed `json:"trashed,omitempty"`
}

// NameSequence yields candidate names for attempt 0, 1, 2 and so on. An
// empty string ends the sequence.
type NameSequence func(attempt int) string

// Registry is safe for concurrent use.
type Registry struct {
	mu   sync.Mutex
	path string

	byFingerprint map[fingerprint.Fingerprint]*Entry
	byName        map[string]*Entry
	trashed       []Trashed

	// in-flight imports hold their name and fingerprint until Commit or
	// Release so two workers never pick the same slot
	reservedNames map[string]fingerprint.Fingerprint
	reservedFPs   map[fingerprint.Fingerprint]string

	logger zerolog.Logger
}

// OpenStore opens the registry of the pool behind st.
func OpenStore(st store.Store) (*Registry, error) {
	return Open(st.Path(store.StateDir, FileName))
}

// Open loads the registry stored at path. A missing file is an empty
// registry.
func Open(path string) (*Registry, error) {
	r := &Registry{
		path:          path,
		byFingerprint: map[fingerprint.Fingerprint]*Entry{},
		byName:        map[string]*Entry{},
		reservedNames: map[string]fingerprint.Fingerprint{},
		reservedFPs:   map[fingerprint.Fingerprint]string{},
		logger:        logging.GetLogger("pool"),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, errors.Wrapf(err, errors.ErrIO, "reading pool registry %s", path)
	}

	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrapf(err, errors.ErrIO, "decoding pool registry %s", path)
	}

	for i := range f.Entries {
		e := f.Entries[i]
		if e.Name == "" || e.Fingerprint.IsZero() {
			r.logger.Warn().Str("name", e.Name).Msg("Skipping incomplete registry entry")
			continue
		}
		if prev, ok := r.byFingerprint[e.Fingerprint]; ok {
			r.logger.Warn().
				Str("name", e.Name).
				Str("kept", prev.Name).
				Str("fingerprint", e.Fingerprint.String()).
				Msg("Skipping registry entry with duplicate fingerprint")
			continue
		}
		if _, ok := r.byName[e.Name]; ok {
			r.logger.Warn().Str("name", e.Name).Msg("Skipping registry entry with duplicate name")
			continue
		}
		r.byFingerprint[e.Fingerprint] = &e
		r.byName[e.Name] = &e
	}
	r.trashed = f.Trashed
	return r, nil
}

// Path is the registry file location.
func (r *Registry) Path() string {
	return r.path
}

// Len is the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byName)
}

// Entries returns a copy of every live entry sorted by name.
func (r *Registry) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.byName))
	for _, e := range r.byName {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// TrashedEntries returns the trash history, oldest first.
func (r *Registry) TrashedEntries() []Trashed {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Trashed, len(r.trashed))
	copy(out, r.trashed)
	return out
}

func (r *Registry) ByName(name string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byName[name]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

func (r *Registry) ByFingerprint(fp fingerprint.Fingerprint) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byFingerprint[fp]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Reserve claims a storage name for content fp. If a live entry (or an
// in-flight import) already holds fp, Reserve returns an ErrDuplicateContent
// error naming it. Otherwise the first name from names that is neither
// registered, reserved nor rejected by taken is claimed and returned.
func (r *Registry) Reserve(fp fingerprint.Fingerprint, names NameSequence, taken func(name string) bool) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.byFingerprint[fp]; ok {
		return "", errors.Newf(errors.ErrDuplicateContent, "content already in pool as %q", e.Name).
			WithDetail("existing", e.Name)
	}
	if name, ok := r.reservedFPs[fp]; ok {
		return "", errors.Newf(errors.ErrDuplicateContent, "content is being imported as %q", name).
			WithDetail("existing", name)
	}

	for i := 0; ; i++ {
		name := names(i)
		if name == "" {
			return "", errors.New(errors.ErrNameCollision, "no free name left for bundle")
		}
		if _, ok := r.byName[name]; ok {
			continue
		}
		if _, ok := r.reservedNames[name]; ok {
			continue
		}
		if taken != nil && taken(name) {
			continue
		}
		r.reservedNames[name] = fp
		r.reservedFPs[fp] = name
		return name, nil
	}
}

// Release drops a reservation made by Reserve without registering it.
func (r *Registry) Release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fp, ok := r.reservedNames[name]; ok {
		delete(r.reservedFPs, fp)
		delete(r.reservedNames, name)
	}
}

// Commit turns a reservation into a live entry and persists the registry.
// The entry's name and fingerprint must match a prior Reserve.
func (r *Registry) Commit(e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	fp, ok := r.reservedNames[e.Name]
	if !ok || fp != e.Fingerprint {
		return errors.Newf(errors.ErrInvalidInput, "no reservation for %q with fingerprint %s", e.Name, e.Fingerprint)
	}

	stored := e
	r.byName[e.Name] = &stored
	r.byFingerprint[e.Fingerprint] = &stored
	delete(r.reservedNames, e.Name)
	delete(r.reservedFPs, e.Fingerprint)

	if err := r.saveLocked(); err != nil {
		delete(r.byName, e.Name)
		delete(r.byFingerprint, e.Fingerprint)
		return err
	}
	r.logger.Debug().Str("name", e.Name).Str("fingerprint", e.Fingerprint.String()).Msg("Registered pool entry")
	return nil
}

// Trash removes the entry from the live indexes and records where its
// content was moved.
func (r *Registry) Trash(name, trashPath string, at time.Time) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byName[name]
	if !ok {
		return Entry{}, errors.Newf(errors.ErrNotFound, "no pool entry named %q", name)
	}

	delete(r.byName, name)
	delete(r.byFingerprint, e.Fingerprint)
	rec := Trashed{Entry: *e, TrashedAt: at, Path: trashPath}
	r.trashed = append(r.trashed, rec)

	if err := r.saveLocked(); err != nil {
		r.byName[name] = e
		r.byFingerprint[e.Fingerprint] = e
		r.trashed = r.trashed[:len(r.trashed)-1]
		return Entry{}, err
	}
	return *e, nil
}

// Save persists the registry atomically.
func (r *Registry) Save() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveLocked()
}

func (r *Registry) saveLocked() error {
	f := file{Version: formatVersion, Entries: make([]Entry, 0, len(r.byName)), Trashed: r.trashed}
	for _, e := range r.byName {
		f.Entries = append(f.Entries, *e)
	}
	sort.Slice(f.Entries, func(i, j int) bool { return f.Entries[i].Name < f.Entries[j].Name })

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrIO, "encoding pool registry")
	}
	return store.WriteFileAtomic(r.path, append(data, '\n'))
}
