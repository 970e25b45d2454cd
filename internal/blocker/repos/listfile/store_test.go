package listfile

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/trackerblock/internal/blocker/domain"
)

func TestStore_ReadMissingIsEmpty(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	b, err := s.Read(domain.ListGeneral)
	assert.NoError(t, err)
	assert.Nil(t, b)
	assert.Zero(t, s.Size(domain.ListGeneral))
}

func TestStore_WriteThenRead(t *testing.T) {
	dir := t.TempDir()
	s, err := New(filepath.Join(dir, "nested", "data"))
	require.NoError(t, err)

	require.NoError(t, s.Write(domain.ListPrivacy, []byte("||tracker.example^\n")))
	b, err := s.Read(domain.ListPrivacy)
	require.NoError(t, err)
	assert.Equal(t, "||tracker.example^\n", string(b))
	assert.EqualValues(t, 19, s.Size(domain.ListPrivacy))
	assert.Equal(t, filepath.Join(s.Dir(), "easylistPrivacy.txt"), s.Path(domain.ListPrivacy))

	// overwrite replaces fully
	require.NoError(t, s.Write(domain.ListPrivacy, []byte("x")))
	b, _ = s.Read(domain.ListPrivacy)
	assert.Equal(t, "x", string(b))

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestStore_Source(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Write(domain.ListTrackerDirectory, []byte("{}")))

	src, err := s.Source(domain.ListTrackerDirectory, "https://lists.example/services.json")
	require.NoError(t, err)
	assert.Equal(t, domain.ListTrackerDirectory, src.Kind)
	assert.Equal(t, "https://lists.example/services.json", src.URL)
	assert.Equal(t, []byte("{}"), src.Raw)
}

func TestNew_EmptyDir(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestWriteFileAtomic_ConcurrentReadersNeverSeeTornWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "list.txt")
	a := make([]byte, 64*1024)
	b := make([]byte, 64*1024)
	for i := range a {
		a[i] = 'a'
		b[i] = 'b'
	}
	require.NoError(t, WriteFileAtomic(path, a, 0o644))

	var wg sync.WaitGroup
	done := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			data := a
			if i%2 == 0 {
				data = b
			}
			_ = WriteFileAtomic(path, data, 0o644)
		}
		close(done)
	}()

	for {
		select {
		case <-done:
			wg.Wait()
			return
		default:
			got, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			require.Len(t, got, len(a))
			first := got[0]
			for _, c := range got {
				if c != first {
					t.Fatalf("torn read: mixed %q and %q", first, c)
				}
			}
		}
	}
}

func TestWriteFileAtomic_MissingDir(t *testing.T) {
	err := WriteFileAtomic(filepath.Join(t.TempDir(), "missing", "f"), []byte("x"), 0o644)
	assert.Error(t, err)
}
