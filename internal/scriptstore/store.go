// Package scriptstore keeps received SandScripts on disk, one file per slot,
// with a YAML index of sizes and BLAKE2b digests.
package scriptstore

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"golang.org/x/crypto/blake2b"
	"gopkg.in/yaml.v3"

	"github.com/chaz8081/sandgarden/internal/syncutil"
)

// NoSlot selects the pending script, uploaded without a slot.
const NoSlot = -1

const indexFile = "index.yaml"

var (
	ErrNotFound = errors.New("scriptstore: script not found")
	ErrCorrupt  = errors.New("scriptstore: digest mismatch")
)

// Entry describes one stored script.
type Entry struct {
	Slot   int       `yaml:"slot"`
	File   string    `yaml:"file"`
	Size   int       `yaml:"size"`
	Digest string    `yaml:"digest"`
	Saved  time.Time `yaml:"saved"`
}

type index struct {
	Scripts map[string]Entry `yaml:"scripts"`
}

// Store is safe for concurrent use.
type Store struct {
	fs    afero.Fs
	dir   string
	clock clockwork.Clock

	mu syncutil.Mutex
}

// New returns a store rooted at dir on fs. A nil clock uses the real clock.
func New(fs afero.Fs, dir string, clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{fs: fs, dir: dir, clock: clock}
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.dir }

// Digest returns the hex BLAKE2b-256 digest of data.
func Digest(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func slotKey(slot int) string {
	if slot < 0 {
		return "pending"
	}
	return "slot-" + strconv.Itoa(slot)
}

// Save writes data as the script for slot, replacing any previous one.
func (s *Store) Save(data []byte, slot int) (Entry, error) {
	if slot < 0 {
		slot = NoSlot
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs.MkdirAll(s.dir, 0o750); err != nil {
		return Entry{}, fmt.Errorf("scriptstore: create %s: %w", s.dir, err)
	}

	key := slotKey(slot)
	e := Entry{
		Slot:   slot,
		File:   key + ".sand",
		Size:   len(data),
		Digest: Digest(data),
		Saved:  s.clock.Now().UTC(),
	}
	if err := s.writeAtomic(e.File, data); err != nil {
		return Entry{}, err
	}

	idx, err := s.readIndex()
	if err != nil {
		return Entry{}, err
	}
	idx.Scripts[key] = e
	if err := s.writeIndex(idx); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// Load returns the script stored for slot after checking its digest.
func (s *Store) Load(slot int) ([]byte, Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.readIndex()
	if err != nil {
		return nil, Entry{}, err
	}
	e, ok := idx.Scripts[slotKey(slot)]
	if !ok {
		return nil, Entry{}, ErrNotFound
	}
	data, err := afero.ReadFile(s.fs, filepath.Join(s.dir, e.File))
	if errors.Is(err, os.ErrNotExist) {
		return nil, Entry{}, ErrNotFound
	}
	if err != nil {
		return nil, Entry{}, fmt.Errorf("scriptstore: read %s: %w", e.File, err)
	}
	if Digest(data) != e.Digest {
		return nil, e, fmt.Errorf("%w: %s", ErrCorrupt, e.File)
	}
	return data, e, nil
}

// List returns the index sorted by slot, pending first.
func (s *Store) List() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.readIndex()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(idx.Scripts))
	for _, e := range idx.Scripts {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out, nil
}

// Delete removes the script for slot. Deleting a missing slot returns
// ErrNotFound.
func (s *Store) Delete(slot int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.readIndex()
	if err != nil {
		return err
	}
	key := slotKey(slot)
	e, ok := idx.Scripts[key]
	if !ok {
		return ErrNotFound
	}
	delete(idx.Scripts, key)
	if err := s.writeIndex(idx); err != nil {
		return err
	}
	if err := s.fs.Remove(filepath.Join(s.dir, e.File)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("scriptstore: remove %s: %w", e.File, err)
	}
	return nil
}

func (s *Store) readIndex() (*index, error) {
	idx := &index{Scripts: map[string]Entry{}}
	data, err := afero.ReadFile(s.fs, filepath.Join(s.dir, indexFile))
	if errors.Is(err, os.ErrNotExist) {
		return idx, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scriptstore: read index: %w", err)
	}
	if err := yaml.Unmarshal(data, idx); err != nil {
		return nil, fmt.Errorf("scriptstore: parse index: %w", err)
	}
	if idx.Scripts == nil {
		idx.Scripts = map[string]Entry{}
	}
	return idx, nil
}

func (s *Store) writeIndex(idx *index) error {
	data, err := yaml.Marshal(idx)
	if err != nil {
		return fmt.Errorf("scriptstore: encode index: %w", err)
	}
	return s.writeAtomic(indexFile, data)
}

// writeAtomic writes to a temp file and renames it over name.
func (s *Store) writeAtomic(name string, data []byte) error {
	dest := filepath.Join(s.dir, name)
	tmp := dest + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o640); err != nil {
		return fmt.Errorf("scriptstore: write %s: %w", name, err)
	}
	if err := s.fs.Rename(tmp, dest); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("scriptstore: rename %s: %w", name, err)
	}
	return nil
}
