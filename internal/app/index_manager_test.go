package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/wallcache-go/internal/domain"
	"github.com/yourusername/wallcache-go/internal/infrastructure"
)

// memoryStore is an IndexStore that counts saves and can be told to fail
type memoryStore struct {
	mu       sync.Mutex
	idx      *domain.Index
	saves    int
	loadErr  error
	failSave error
}

func (s *memoryStore) Load() (domain.Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return domain.Index{}, s.loadErr
	}
	if s.idx == nil {
		return domain.Index{}, &domain.FilesystemError{Op: "read", Path: "memory", Err: os.ErrNotExist}
	}
	return s.idx.Clone(), nil
}

func (s *memoryStore) Save(idx domain.Index) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave != nil {
		return s.failSave
	}
	s.saves++
	c := idx.Clone()
	s.idx = &c
	return nil
}

func entry(key string) domain.LocalMetadataEntry {
	return domain.LocalMetadataEntry{
		Key:           key,
		Title:         "Title " + key,
		Attribution:   "© " + key,
		SourceBaseURL: "/th?id=OHR." + key,
		LocalFilePath: "/images/" + key + ".jpg",
	}
}

func newDiskManager(t *testing.T) (*IndexManager, string, string) {
	t.Helper()
	base := t.TempDir()
	indexPath := filepath.Join(base, "index.bin")
	legacyDir := filepath.Join(base, "metadata")
	m := NewIndexManager(infrastructure.NewIndexStore(indexPath), infrastructure.NewLegacyReader(legacyDir), nil, nil)
	return m, indexPath, legacyDir
}

func writeLegacy(t *testing.T, dir string, valid int, malformed int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	for i := 1; i <= valid; i++ {
		key := fmt.Sprintf("2023110%d", i)
		content := fmt.Sprintf(`{"key":%q,"title":"Legacy %d","copyright":"c","copyright_link":"l","url_base":"u","file_path":"/images/%s.jpg"}`, key, i, key)
		require.NoError(t, os.WriteFile(filepath.Join(dir, key+".json"), []byte(content), 0644))
	}
	for i := 1; i <= malformed; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("broken%d.json", i)), []byte("{not json"), 0644))
	}
}

func TestIndexManager_LoadMissingIsEmpty(t *testing.T) {
	m, indexPath, _ := newDiskManager(t)

	idx, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, domain.CurrentFormatVersion, idx.FormatVersion)
	assert.Equal(t, 0, idx.Len())
	assert.NoFileExists(t, indexPath)
}

func TestIndexManager_UpsertPersists(t *testing.T) {
	m, indexPath, legacyDir := newDiskManager(t)

	require.NoError(t, m.Upsert(entry("20240101")))
	require.NoError(t, m.Upsert(entry("20240102")))
	updated := entry("20240101")
	updated.Title = "Replaced"
	require.NoError(t, m.Upsert(updated))

	reopened := NewIndexManager(infrastructure.NewIndexStore(indexPath), infrastructure.NewLegacyReader(legacyDir), nil, nil)
	idx, err := reopened.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Len())
	assert.Equal(t, "Replaced", idx.Entries["20240101"].Title)
	assert.False(t, idx.LastUpdated.IsZero())
}

func TestIndexManager_UpsertRequiresKey(t *testing.T) {
	m := NewIndexManager(&memoryStore{}, nil, nil, nil)
	assert.Error(t, m.Upsert(domain.LocalMetadataEntry{Title: "no key"}))
}

func TestIndexManager_FailedSaveLeavesCacheUntouched(t *testing.T) {
	store := &memoryStore{}
	m := NewIndexManager(store, nil, nil, nil)
	require.NoError(t, m.Upsert(entry("20240101")))

	store.failSave = &domain.FilesystemError{Op: "replace", Path: "memory", Err: errors.New("disk full")}
	err := m.Upsert(entry("20240102"))
	require.Error(t, err)
	var fsErr *domain.FilesystemError
	assert.True(t, errors.As(err, &fsErr))

	all, err := m.GetAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "20240101", all[0].Key)
}

func TestIndexManager_RemoveMissingKeyDoesNotWrite(t *testing.T) {
	store := &memoryStore{}
	m := NewIndexManager(store, nil, nil, nil)
	require.NoError(t, m.Upsert(entry("20240101")))
	require.Equal(t, 1, store.saves)

	require.NoError(t, m.Remove("19990101"))
	assert.Equal(t, 1, store.saves)

	require.NoError(t, m.Remove("20240101"))
	assert.Equal(t, 2, store.saves)
	_, err := m.Get("20240101")
	assert.ErrorIs(t, err, domain.ErrEntryNotFound)
}

func TestIndexManager_GetAllSortedDescending(t *testing.T) {
	m := NewIndexManager(&memoryStore{}, nil, nil, nil)
	for _, k := range []string{"20240102", "20240301", "20231231", "20240215"} {
		require.NoError(t, m.Upsert(entry(k)))
	}

	all, err := m.GetAll()
	require.NoError(t, err)
	var keys []string
	for _, e := range all {
		keys = append(keys, e.Key)
	}
	assert.Equal(t, []string{"20240301", "20240215", "20240102", "20231231"}, keys)
}

func TestIndexManager_LoadReturnsCopy(t *testing.T) {
	m := NewIndexManager(&memoryStore{}, nil, nil, nil)
	require.NoError(t, m.Upsert(entry("20240101")))

	idx, err := m.Load()
	require.NoError(t, err)
	delete(idx.Entries, "20240101")

	_, err = m.Get("20240101")
	assert.NoError(t, err)
}

func TestIndexManager_SaveRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 12} {
		t.Run(fmt.Sprintf("%d entries", n), func(t *testing.T) {
			m, indexPath, _ := newDiskManager(t)
			idx := domain.NewIndex()
			for i := 0; i < n; i++ {
				e := entry(fmt.Sprintf("202402%02d", i+1))
				idx.Entries[e.Key] = e
			}
			require.NoError(t, m.Save(idx))

			loaded, err := NewIndexManager(infrastructure.NewIndexStore(indexPath), nil, nil, nil).Load()
			require.NoError(t, err)
			assert.Equal(t, idx.Entries, loaded.Entries)
		})
	}
}

func TestIndexManager_RebuildFromLegacy(t *testing.T) {
	m, indexPath, legacyDir := newDiskManager(t)
	writeLegacy(t, legacyDir, 5, 1)

	idx := m.Rebuild()

	assert.Equal(t, 5, idx.Len())
	diagnostics := m.Diagnostics()
	require.Len(t, diagnostics, 1)
	var perr *domain.LegacyParseError
	assert.True(t, errors.As(diagnostics[0], &perr))

	persisted, err := infrastructure.NewIndexStore(indexPath).Load()
	require.NoError(t, err)
	assert.Equal(t, 5, persisted.Len())
	assert.Equal(t, "Legacy 1", persisted.Entries["20231101"].Title)
}

func TestIndexManager_RebuildEmptyLegacySet(t *testing.T) {
	m, indexPath, legacyDir := newDiskManager(t)
	writeLegacy(t, legacyDir, 0, 3)

	idx := m.Rebuild()
	assert.Equal(t, 0, idx.Len())
	assert.Len(t, m.Diagnostics(), 3)
	assert.FileExists(t, indexPath)
}

func TestIndexManager_VersionMismatchTriggersRebuild(t *testing.T) {
	m, indexPath, legacyDir := newDiskManager(t)
	writeLegacy(t, legacyDir, 5, 1)

	old := domain.NewIndex()
	old.FormatVersion = 1
	old.Entries["19990101"] = entry("19990101")
	data, err := infrastructure.EncodeIndex(old)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(indexPath, data, 0644))

	idx, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, 5, idx.Len())
	assert.NotContains(t, idx.Entries, "19990101")
	assert.Len(t, m.Diagnostics(), 1)

	persisted, err := infrastructure.NewIndexStore(indexPath).Load()
	require.NoError(t, err)
	assert.Equal(t, domain.CurrentFormatVersion, persisted.FormatVersion)
}

func TestIndexManager_CorruptFileTriggersRebuild(t *testing.T) {
	m, indexPath, legacyDir := newDiskManager(t)
	writeLegacy(t, legacyDir, 2, 0)
	require.NoError(t, os.WriteFile(indexPath, []byte("WCIX\xff\x00garbage"), 0644))

	all, err := m.GetAll()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestIndexManager_UnreadableLegacyYieldsEmptyIndex(t *testing.T) {
	base := t.TempDir()
	indexPath := filepath.Join(base, "index.bin")
	legacyPath := filepath.Join(base, "metadata")
	require.NoError(t, os.WriteFile(legacyPath, []byte("a file, not a directory"), 0644))
	require.NoError(t, os.WriteFile(indexPath, []byte("corrupt"), 0644))

	m := NewIndexManager(infrastructure.NewIndexStore(indexPath), infrastructure.NewLegacyReader(legacyPath), nil, nil)

	idx, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Len())
	require.Len(t, m.Diagnostics(), 1)
	var fsErr *domain.FilesystemError
	assert.True(t, errors.As(m.Diagnostics()[0], &fsErr))
}

func TestIndexManager_RebuildKeepsLoadedIndexWhenLegacyUnreadable(t *testing.T) {
	legacyErr := &domain.FilesystemError{Op: "read dir", Path: "legacy", Err: os.ErrPermission}
	m := NewIndexManager(&memoryStore{}, failingLegacy{err: legacyErr}, nil, nil)
	require.NoError(t, m.Upsert(entry("20240101")))

	idx := m.Rebuild()
	assert.Equal(t, 1, idx.Len())
	assert.Len(t, m.Diagnostics(), 1)
}

func TestIndexManager_LoadFilesystemErrorIsReturned(t *testing.T) {
	store := &memoryStore{loadErr: &domain.FilesystemError{Op: "read", Path: "memory", Err: os.ErrPermission}}
	m := NewIndexManager(store, nil, nil, nil)

	_, err := m.Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrPermission)
}

func TestIndexManager_Purge(t *testing.T) {
	dir := t.TempDir()
	m := NewIndexManager(&memoryStore{}, nil, nil, nil)
	m.SetFilesRoot(dir)

	e := entry("20240101")
	e.LocalFilePath = filepath.Join(dir, "20240101.jpg")
	require.NoError(t, os.WriteFile(e.LocalFilePath, []byte("img"), 0644))
	require.NoError(t, m.Upsert(e))

	require.NoError(t, m.Purge("20240101"))
	assert.NoFileExists(t, e.LocalFilePath)
	assert.NoFileExists(t, e.LocalFilePath+".purging")
	_, err := m.Get("20240101")
	assert.ErrorIs(t, err, domain.ErrEntryNotFound)

	assert.ErrorIs(t, m.Purge("20240101"), domain.ErrEntryNotFound)
}

func TestIndexManager_PurgeRestoresFileWhenSaveFails(t *testing.T) {
	dir := t.TempDir()
	store := &memoryStore{}
	m := NewIndexManager(store, nil, nil, nil)
	m.SetFilesRoot(dir)

	e := entry("20240101")
	e.LocalFilePath = filepath.Join(dir, "20240101.jpg")
	require.NoError(t, os.WriteFile(e.LocalFilePath, []byte("img"), 0644))
	require.NoError(t, m.Upsert(e))

	store.failSave = errors.New("disk full")
	require.Error(t, m.Purge("20240101"))

	data, err := os.ReadFile(e.LocalFilePath)
	require.NoError(t, err)
	assert.Equal(t, "img", string(data))
	_, err = m.Get("20240101")
	assert.NoError(t, err)
}

func TestIndexManager_PurgeWithMissingFile(t *testing.T) {
	m := NewIndexManager(&memoryStore{}, nil, nil, nil)
	e := entry("20240101")
	e.LocalFilePath = filepath.Join(t.TempDir(), "gone.jpg")
	require.NoError(t, m.Upsert(e))

	assert.NoError(t, m.Purge("20240101"))
}

func TestIndexManager_PurgeLeavesFilesOutsideRoot(t *testing.T) {
	root := t.TempDir()
	outside := filepath.Join(t.TempDir(), "precious.txt")
	require.NoError(t, os.WriteFile(outside, []byte("keep me"), 0644))

	m := NewIndexManager(&memoryStore{}, nil, nil, nil)
	m.SetFilesRoot(root)

	e := entry("20240101")
	e.LocalFilePath = outside
	require.NoError(t, m.Upsert(e))
	traversal := entry("20240102")
	traversal.LocalFilePath = filepath.Join(root, "..", filepath.Base(filepath.Dir(outside)), "precious.txt")
	require.NoError(t, m.Upsert(traversal))

	require.NoError(t, m.Purge("20240101"))
	removed, err := m.Prune(0)
	require.NoError(t, err)
	assert.Equal(t, []string{"20240102"}, removed)

	data, err := os.ReadFile(outside)
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(data))
	assert.NoFileExists(t, outside+".purging")

	all, err := m.GetAll()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestIndexManager_PurgeWithoutRootKeepsFile(t *testing.T) {
	m := NewIndexManager(&memoryStore{}, nil, nil, nil)
	e := entry("20240101")
	e.LocalFilePath = filepath.Join(t.TempDir(), "20240101.jpg")
	require.NoError(t, os.WriteFile(e.LocalFilePath, []byte("img"), 0644))
	require.NoError(t, m.Upsert(e))

	require.NoError(t, m.Purge("20240101"))
	assert.FileExists(t, e.LocalFilePath)
}

func TestIndexManager_Prune(t *testing.T) {
	dir := t.TempDir()
	m := NewIndexManager(&memoryStore{}, nil, nil, nil)
	m.SetFilesRoot(dir)
	for _, k := range []string{"20240101", "20240102", "20240103", "20240104"} {
		e := entry(k)
		e.LocalFilePath = filepath.Join(dir, k+".jpg")
		require.NoError(t, os.WriteFile(e.LocalFilePath, []byte(k), 0644))
		require.NoError(t, m.Upsert(e))
	}

	removed, err := m.Prune(2)
	require.NoError(t, err)
	assert.Equal(t, []string{"20240102", "20240101"}, removed)

	all, err := m.GetAll()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "20240104", all[0].Key)
	assert.FileExists(t, filepath.Join(dir, "20240104.jpg"))
	assert.NoFileExists(t, filepath.Join(dir, "20240101.jpg"))

	removed, err = m.Prune(5)
	require.NoError(t, err)
	assert.Empty(t, removed)

	_, err = m.Prune(-1)
	assert.Error(t, err)
}

func TestIndexManager_ConcurrentUpserts(t *testing.T) {
	m, indexPath, _ := newDiskManager(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, m.Upsert(entry(fmt.Sprintf("202405%02d", i+1))))
		}(i)
	}
	wg.Wait()

	persisted, err := infrastructure.NewIndexStore(indexPath).Load()
	require.NoError(t, err)
	assert.Equal(t, 20, persisted.Len())
}

type failingLegacy struct{ err error }

func (f failingLegacy) ReadAll() ([]domain.LocalMetadataEntry, []error, error) {
	return nil, nil, f.err
}
