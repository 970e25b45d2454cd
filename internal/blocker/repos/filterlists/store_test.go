package filterlists

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/trackerblock/internal/blocker/domain"
	"github.com/haukened/trackerblock/internal/blocker/repos/listfile"
)

func newStore(t *testing.T) (*Store, *listfile.Store) {
	t.Helper()
	files, err := listfile.New(t.TempDir())
	require.NoError(t, err)
	return New(files, nil), files
}

func TestStore_LoadBeforePersistIsEmpty(t *testing.T) {
	s, _ := newStore(t)
	assert.Equal(t, "", s.Load(domain.ListGeneral))
	assert.Equal(t, "", s.Raw(domain.ListPrivacy))
	assert.False(t, s.HasData())
}

func TestStore_PersistLoadRoundTripEscapes(t *testing.T) {
	s, _ := newStore(t)
	raw := "||ads.example^\n/banner\\d+/\n`quoted`\n"
	require.NoError(t, s.Persist(domain.ListGeneral, []byte(raw)))

	assert.Equal(t, "||ads.example^\n/banner\\\\d+/\n\\`quoted\\`\n", s.Load(domain.ListGeneral))
	assert.Equal(t, raw, s.Raw(domain.ListGeneral))
}

func TestStore_HasDataNeedsBothLists(t *testing.T) {
	s, _ := newStore(t)
	require.NoError(t, s.Persist(domain.ListGeneral, []byte("||a.example^")))
	assert.False(t, s.HasData())
	require.NoError(t, s.Persist(domain.ListPrivacy, []byte("||b.example^")))
	assert.True(t, s.HasData())
	require.NoError(t, s.Persist(domain.ListPrivacy, nil))
	assert.False(t, s.HasData())
}

func TestStore_PersistRunsHooks(t *testing.T) {
	s, _ := newStore(t)
	var got []domain.ListKind
	s.OnPersist(func(k domain.ListKind) { got = append(got, k) })

	require.NoError(t, s.Persist(domain.ListPrivacy, []byte("x")))
	require.NoError(t, s.Persist(domain.ListGeneral, []byte("y")))
	assert.Equal(t, []domain.ListKind{domain.ListPrivacy, domain.ListGeneral}, got)
}

func TestStore_PersistRejectsDirectoryKind(t *testing.T) {
	s, _ := newStore(t)
	assert.Error(t, s.Persist(domain.ListTrackerDirectory, []byte("{}")))
}

func TestStore_InvalidUTF8LoadsEmpty(t *testing.T) {
	files, err := listfile.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, files.Write(domain.ListGeneral, []byte{0xff, 0xfe, 'a'}))

	s := New(files, nil)
	assert.Equal(t, "", s.Load(domain.ListGeneral))
}

func TestStore_HasDataRequiresDecodedText(t *testing.T) {
	files, err := listfile.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, files.Write(domain.ListGeneral, []byte("||a.example^\n")))
	require.NoError(t, files.Write(domain.ListPrivacy, []byte{0xff, 0xfe, 'x'}))

	s := New(files, nil)
	assert.Equal(t, "", s.Raw(domain.ListPrivacy))
	assert.False(t, s.HasData())

	require.NoError(t, s.Persist(domain.ListPrivacy, []byte("||t.example^\n")))
	assert.True(t, s.HasData())
}

func TestStore_LoadsExistingFilesAtStartup(t *testing.T) {
	files, err := listfile.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, files.Write(domain.ListPrivacy, []byte("||t.example^")))

	s := New(files, nil)
	assert.Equal(t, "||t.example^", s.Raw(domain.ListPrivacy))
}

type failingFiles struct{ *listfile.Store }

func (failingFiles) Write(domain.ListKind, []byte) error { return errors.New("disk full") }

func TestStore_PersistFailureKeepsOldContent(t *testing.T) {
	files, err := listfile.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, files.Write(domain.ListGeneral, []byte("old")))

	s := New(failingFiles{files}, nil)
	hookRan := false
	s.OnPersist(func(domain.ListKind) { hookRan = true })

	assert.Error(t, s.Persist(domain.ListGeneral, []byte("new")))
	assert.Equal(t, "old", s.Raw(domain.ListGeneral))
	assert.False(t, hookRan)
}
