package app

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/wallcache-go/internal/domain"
	"github.com/yourusername/wallcache-go/internal/infrastructure"
	"github.com/yourusername/wallcache-go/pkg/logger"
)

// IndexManager owns the in-memory metadata index and writes every mutation
// through to the store. All mutations are serialized by one lock and the
// cache is swapped only after a successful save.
type IndexManager struct {
	store       domain.IndexStore
	legacy      domain.LegacySource
	logger      *zap.Logger
	multiLogger *logger.MultiLogger
	filesRoot   string

	mu          sync.RWMutex
	loaded      bool
	index       domain.Index
	diagnostics []error
	now         func() time.Time
}

// NewIndexManager creates an unloaded manager. legacy may be nil when no
// legacy layout exists.
func NewIndexManager(store domain.IndexStore, legacy domain.LegacySource, log *zap.Logger, multiLogger *logger.MultiLogger) *IndexManager {
	return &IndexManager{
		store:       store,
		legacy:      legacy,
		logger:      logger.OrNop(log),
		multiLogger: multiLogger,
		now:         time.Now,
	}
}

// SetFilesRoot restricts Purge and Prune to deleting files under dir. Entries
// whose file lies elsewhere are dropped from the index and the file is left
// in place. Without a root no file is ever deleted.
func (m *IndexManager) SetFilesRoot(dir string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filesRoot = dir
}

// Load returns the cached index, reading the store on first use. A missing
// file yields an empty index; a corrupt or foreign-version file triggers
// Rebuild. Only filesystem failures other than absence are returned.
func (m *IndexManager) Load() (domain.Index, error) {
	m.mu.RLock()
	if m.loaded {
		idx := m.index.Clone()
		m.mu.RUnlock()
		return idx, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureLoaded(); err != nil {
		return domain.Index{}, err
	}
	return m.index.Clone(), nil
}

// ensureLoaded must be called with the write lock held
func (m *IndexManager) ensureLoaded() error {
	if m.loaded {
		return nil
	}

	idx, err := m.store.Load()
	var serr *domain.SerializationError
	switch {
	case err == nil:
		m.index = idx
		m.loaded = true
		m.logger.Debug("Index loaded", zap.Int("entries", idx.Len()))
		return nil
	case errors.Is(err, os.ErrNotExist):
		m.index = domain.NewIndex()
		m.loaded = true
		m.logger.Info("No index file, starting empty")
		return nil
	case errors.As(err, &serr):
		m.logger.Warn("Index unusable, rebuilding from legacy descriptors",
			zap.Bool("version_mismatch", serr.VersionMismatch),
			zap.Error(err))
		m.multiLogger.LogIndexEvent("index_unusable",
			zap.Bool("version_mismatch", serr.VersionMismatch),
			zap.Uint32("found_version", serr.Found),
			zap.Error(err))
		m.rebuildLocked()
		return nil
	default:
		m.multiLogger.LogAppError("Failed to load index", zap.Error(err))
		return fmt.Errorf("failed to load index: %w", err)
	}
}

// Upsert inserts or replaces entry by key and persists the whole index
func (m *IndexManager) Upsert(entry domain.LocalMetadataEntry) error {
	if entry.Key == "" {
		return errors.New("entry key is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureLoaded(); err != nil {
		return err
	}

	next := m.index.Clone()
	next.Entries[entry.Key] = entry
	if err := m.commitLocked(next); err != nil {
		return err
	}

	m.multiLogger.LogIndexEvent("entry_upserted",
		zap.String("key", entry.Key),
		zap.String("file", entry.LocalFilePath))
	return nil
}

// Remove deletes key from the index. A missing key is a no-op and does not write.
func (m *IndexManager) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureLoaded(); err != nil {
		return err
	}

	if _, ok := m.index.Entries[key]; !ok {
		return nil
	}

	next := m.index.Clone()
	delete(next.Entries, key)
	if err := m.commitLocked(next); err != nil {
		return err
	}

	m.multiLogger.LogIndexEvent("entry_removed", zap.String("key", key))
	return nil
}

// GetAll returns every entry, newest key first
func (m *IndexManager) GetAll() ([]domain.LocalMetadataEntry, error) {
	m.mu.RLock()
	if m.loaded {
		defer m.mu.RUnlock()
		return m.index.Sorted(), nil
	}
	m.mu.RUnlock()

	idx, err := m.Load()
	if err != nil {
		return nil, err
	}
	return idx.Sorted(), nil
}

// Get returns the entry stored under key or domain.ErrEntryNotFound
func (m *IndexManager) Get(key string) (domain.LocalMetadataEntry, error) {
	idx, err := m.Load()
	if err != nil {
		return domain.LocalMetadataEntry{}, err
	}
	entry, ok := idx.Entries[key]
	if !ok {
		return domain.LocalMetadataEntry{}, domain.ErrEntryNotFound
	}
	return entry, nil
}

// Save persists idx as the new snapshot and makes it the cached index
func (m *IndexManager) Save(idx domain.Index) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := idx.Clone()
	next.FormatVersion = domain.CurrentFormatVersion
	if err := m.store.Save(next); err != nil {
		m.multiLogger.LogAppError("Failed to save index", zap.Error(err))
		return fmt.Errorf("failed to save index: %w", err)
	}
	m.index = next
	m.loaded = true
	return nil
}

// commitLocked stamps, saves and swaps next in as the cache
func (m *IndexManager) commitLocked(next domain.Index) error {
	next.FormatVersion = domain.CurrentFormatVersion
	next.LastUpdated = m.now()
	if err := m.store.Save(next); err != nil {
		m.logger.Error("Failed to save index", zap.Error(err))
		m.multiLogger.LogAppError("Failed to save index", zap.Error(err))
		return fmt.Errorf("failed to save index: %w", err)
	}
	m.index = next
	m.loaded = true
	return nil
}

// Rebuild recreates the index from the legacy descriptor layout and saves it.
// Unparseable descriptors are skipped and recorded in Diagnostics. If the
// legacy source is unreadable, nothing is saved and the manager keeps the
// index it already has (empty when none was loaded).
func (m *IndexManager) Rebuild() domain.Index {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rebuildLocked()
	return m.index.Clone()
}

func (m *IndexManager) rebuildLocked() {
	var diagnostics []error
	fresh := domain.NewIndex()

	if m.legacy != nil {
		entries, parseErrs, err := m.legacy.ReadAll()
		if err != nil {
			diagnostics = append(diagnostics, fmt.Errorf("failed to read legacy descriptors: %w", err))
			m.finishRebuild(diagnostics, false)
			return
		}
		diagnostics = append(diagnostics, parseErrs...)
		for _, e := range entries {
			fresh.Entries[e.Key] = e
		}
	}

	fresh.LastUpdated = m.now()
	if err := m.store.Save(fresh); err != nil {
		diagnostics = append(diagnostics, fmt.Errorf("failed to save rebuilt index: %w", err))
	}

	m.index = fresh
	m.finishRebuild(diagnostics, true)
}

func (m *IndexManager) finishRebuild(diagnostics []error, replaced bool) {
	if !m.loaded && !replaced {
		m.index = domain.NewIndex()
	}
	m.loaded = true
	m.diagnostics = diagnostics

	for _, d := range diagnostics {
		m.logger.Warn("Rebuild diagnostic", zap.Error(d))
	}
	m.logger.Info("Index rebuilt",
		zap.Int("entries", m.index.Len()),
		zap.Int("diagnostics", len(diagnostics)))
	m.multiLogger.LogIndexEvent("index_rebuilt",
		zap.Int("entries", m.index.Len()),
		zap.Int("diagnostics", len(diagnostics)),
		zap.Bool("replaced", replaced))
}

// Diagnostics returns the problems recorded by the most recent rebuild
func (m *IndexManager) Diagnostics() []error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]error, len(m.diagnostics))
	copy(out, m.diagnostics)
	return out
}

// Purge removes key together with its local file when that file lies under
// the files root. The file is moved aside, the index without the key is
// saved, then the moved file is deleted. If the save fails the file is moved
// back and the index is unchanged.
func (m *IndexManager) Purge(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureLoaded(); err != nil {
		return err
	}

	entry, ok := m.index.Entries[key]
	if !ok {
		return domain.ErrEntryNotFound
	}

	_, err := m.purgeLocked([]domain.LocalMetadataEntry{entry})
	return err
}

// Prune purges every entry except the newest keep keys and returns the removed keys
func (m *IndexManager) Prune(keep int) ([]string, error) {
	if keep < 0 {
		return nil, fmt.Errorf("keep must not be negative: %d", keep)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureLoaded(); err != nil {
		return nil, err
	}

	sorted := m.index.Sorted()
	if len(sorted) <= keep {
		return nil, nil
	}
	return m.purgeLocked(sorted[keep:])
}

func (m *IndexManager) purgeLocked(victims []domain.LocalMetadataEntry) ([]string, error) {
	type movedFile struct{ original, aside string }
	var moved []movedFile

	restore := func() {
		for _, mf := range moved {
			if err := os.Rename(mf.aside, mf.original); err != nil {
				m.multiLogger.LogAppError("Failed to restore purged file",
					zap.String("file", mf.original), zap.Error(err))
			}
		}
	}

	next := m.index.Clone()
	keys := make([]string, 0, len(victims))
	for _, entry := range victims {
		switch {
		case entry.LocalFilePath == "":
		case !infrastructure.IsWithinDir(m.filesRoot, entry.LocalFilePath):
			m.logger.Warn("Leaving file outside the images directory",
				zap.String("key", entry.Key),
				zap.String("file", entry.LocalFilePath))
		default:
			aside := entry.LocalFilePath + ".purging"
			err := os.Rename(entry.LocalFilePath, aside)
			switch {
			case err == nil:
				moved = append(moved, movedFile{original: entry.LocalFilePath, aside: aside})
			case errors.Is(err, os.ErrNotExist):
			default:
				restore()
				return nil, &domain.FilesystemError{Op: "rename", Path: entry.LocalFilePath, Err: err}
			}
		}
		delete(next.Entries, entry.Key)
		keys = append(keys, entry.Key)
	}

	if err := m.commitLocked(next); err != nil {
		restore()
		return nil, err
	}

	for _, mf := range moved {
		if err := os.Remove(mf.aside); err != nil {
			m.logger.Warn("Failed to delete purged file", zap.String("file", mf.aside), zap.Error(err))
		}
	}

	m.logger.Info("Entries purged", zap.Strings("keys", keys))
	m.multiLogger.LogIndexEvent("entries_purged", zap.Strings("keys", keys))
	return keys, nil
}
