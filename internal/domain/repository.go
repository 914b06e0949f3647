package domain

// HistoryRepository defines the interface for batch history persistence
type HistoryRepository interface {
	// CreateBatch stores a finished batch together with its task records
	CreateBatch(batch *BatchRecord) error

	// FindBatch finds a batch and its tasks by ID
	FindBatch(id string) (*BatchRecord, error)

	// ListBatches returns the most recent batches without tasks, newest first
	ListBatches(limit int) ([]*BatchRecord, error)

	// FindTasksByKey returns every recorded attempt to fetch an entry key
	FindTasksByKey(key string) ([]*TaskRecord, error)

	// GetStats returns aggregated task statistics
	GetStats() (*HistoryStats, error)

	// Close releases the underlying database
	Close() error
}

// HistoryStats represents aggregated batch history statistics
type HistoryStats struct {
	Batches    int64 `json:"batches"`
	Tasks      int64 `json:"tasks"`
	Downloaded int64 `json:"downloaded"`
	Skipped    int64 `json:"skipped"`
	Failed     int64 `json:"failed"`
	Cancelled  int64 `json:"cancelled"`
}

// IndexStore persists the metadata index as one complete snapshot
type IndexStore interface {
	// Load returns the stored index. A missing file yields an error matching
	// os.ErrNotExist; unusable bytes yield *SerializationError.
	Load() (Index, error)

	// Save atomically replaces the stored snapshot
	Save(idx Index) error
}

// LegacySource enumerates entries from the pre-index descriptor layout
type LegacySource interface {
	// ReadAll returns parsed entries plus per-item diagnostics.
	// The error is set only when the source as a whole is unreadable.
	ReadAll() ([]LocalMetadataEntry, []error, error)
}
