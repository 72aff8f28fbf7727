package scriptstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, afero.Fs, *clockwork.FakeClock) {
	t.Helper()
	fs := afero.NewMemMapFs()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return New(fs, "/var/lib/sandgarden/scripts", clock), fs, clock
}

func TestSaveAndLoad(t *testing.T) {
	s, fs, clock := newTestStore(t)
	script := []byte("move 1 2\nend\n")

	e, err := s.Save(script, 2)
	require.NoError(t, err)
	assert.Equal(t, Entry{
		Slot:   2,
		File:   "slot-2.sand",
		Size:   len(script),
		Digest: Digest(script),
		Saved:  clock.Now(),
	}, e)

	onDisk, err := afero.ReadFile(fs, filepath.Join(s.Dir(), "slot-2.sand"))
	require.NoError(t, err)
	assert.Equal(t, script, onDisk)
	exists, err := afero.Exists(fs, filepath.Join(s.Dir(), "slot-2.sand.tmp"))
	require.NoError(t, err)
	assert.False(t, exists)

	data, loaded, err := s.Load(2)
	require.NoError(t, err)
	assert.Equal(t, script, data)
	assert.Equal(t, e, loaded)
}

func TestSaveWithoutSlotIsPending(t *testing.T) {
	s, _, _ := newTestStore(t)

	e, err := s.Save([]byte("a"), -7)
	require.NoError(t, err)
	assert.Equal(t, NoSlot, e.Slot)
	assert.Equal(t, "pending.sand", e.File)

	data, _, err := s.Load(NoSlot)
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), data)
}

func TestSaveReplaces(t *testing.T) {
	s, _, clock := newTestStore(t)
	_, err := s.Save([]byte("old"), 1)
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = s.Save([]byte("newer"), 1)
	require.NoError(t, err)

	data, e, err := s.Load(1)
	require.NoError(t, err)
	assert.Equal(t, []byte("newer"), data)
	assert.Equal(t, clock.Now(), e.Saved)

	list, err := s.List()
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestList(t *testing.T) {
	s, _, _ := newTestStore(t)

	list, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, list, "empty store has no index yet")

	for _, slot := range []int{3, NoSlot, 0} {
		_, err := s.Save([]byte{byte('a' + slot + 1)}, slot)
		require.NoError(t, err)
	}
	list, err = s.List()
	require.NoError(t, err)
	var slots []int
	for _, e := range list {
		slots = append(slots, e.Slot)
	}
	assert.Equal(t, []int{NoSlot, 0, 3}, slots)
}

func TestLoadMissing(t *testing.T) {
	s, _, _ := newTestStore(t)
	_, _, err := s.Load(4)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadDetectsCorruption(t *testing.T) {
	s, fs, _ := newTestStore(t)
	_, err := s.Save([]byte("pattern"), 0)
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, filepath.Join(s.Dir(), "slot-0.sand"), []byte("tampered"), 0o640))

	_, _, err = s.Load(0)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestDelete(t *testing.T) {
	s, fs, _ := newTestStore(t)
	_, err := s.Save([]byte("x"), 5)
	require.NoError(t, err)

	require.NoError(t, s.Delete(5))
	exists, err := afero.Exists(fs, filepath.Join(s.Dir(), "slot-5.sand"))
	require.NoError(t, err)
	assert.False(t, exists)
	_, _, err = s.Load(5)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.Delete(5), ErrNotFound)
}

func TestDigestIsStable(t *testing.T) {
	assert.Equal(t, Digest([]byte("sand")), Digest([]byte("sand")))
	assert.NotEqual(t, Digest([]byte("sand")), Digest([]byte("sane")))
	assert.Len(t, Digest(nil), 64)
}

func TestCorruptIndex(t *testing.T) {
	s, fs, _ := newTestStore(t)
	require.NoError(t, fs.MkdirAll(s.Dir(), 0o750))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(s.Dir(), indexFile), []byte("scripts: [unclosed"), 0o640))

	_, err := s.List()
	assert.ErrorContains(t, err, "parse index")
}
