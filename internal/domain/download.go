package domain

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the recorded outcome of a task in batch history
type TaskStatus string

const (
	StatusDownloaded TaskStatus = "downloaded"
	StatusSkipped    TaskStatus = "skipped"
	StatusFailed     TaskStatus = "failed"
	StatusCancelled  TaskStatus = "cancelled"
)

// BatchRecord is the persisted summary of one batch run
type BatchRecord struct {
	ID          string       `json:"id" gorm:"primaryKey"`
	Concurrency int          `json:"concurrency"`
	Total       int          `json:"total"`
	Succeeded   int          `json:"succeeded"`
	Skipped     int          `json:"skipped"`
	Failed      int          `json:"failed"`
	Cancelled   int          `json:"cancelled"`
	StartedAt   time.Time    `json:"started_at" gorm:"index"`
	FinishedAt  *time.Time   `json:"finished_at,omitempty"`
	Tasks       []TaskRecord `json:"tasks,omitempty" gorm:"foreignKey:BatchID;constraint:OnDelete:CASCADE"`
}

// TaskRecord is the persisted outcome of one task within a batch
type TaskRecord struct {
	ID              string     `json:"id" gorm:"primaryKey"`
	BatchID         string     `json:"batch_id" gorm:"not null;index"`
	Position        int        `json:"position"`
	EntryKey        string     `json:"entry_key,omitempty" gorm:"index"`
	Locator         string     `json:"locator" gorm:"not null"`
	DestinationPath string     `json:"destination_path"`
	Status          TaskStatus `json:"status" gorm:"not null;index"`
	ErrorKind       ErrorKind  `json:"error_kind,omitempty"`
	Attempts        int        `json:"attempts"`
	ErrorMessage    string     `json:"error_message,omitempty" gorm:"type:text"`
}

// NewBatchRecord creates a new batch record
func NewBatchRecord(concurrency int) *BatchRecord {
	return &BatchRecord{
		ID:          uuid.New().String(),
		Concurrency: concurrency,
		StartedAt:   time.Now(),
	}
}

// AddResult records the outcome of one task and updates the counters
func (b *BatchRecord) AddResult(key, destination string, result DownloadResult) {
	task := TaskRecord{
		ID:              uuid.New().String(),
		BatchID:         b.ID,
		Position:        result.Index,
		EntryKey:        key,
		Locator:         result.Locator,
		DestinationPath: destination,
		Attempts:        result.Attempts,
		ErrorKind:       result.Kind,
	}

	switch {
	case result.Succeeded() && result.Skipped:
		task.Status = StatusSkipped
		b.Skipped++
		b.Succeeded++
	case result.Succeeded():
		task.Status = StatusDownloaded
		b.Succeeded++
	case result.Kind == ErrorKindCancelled:
		task.Status = StatusCancelled
		b.Cancelled++
	default:
		task.Status = StatusFailed
		b.Failed++
	}
	if result.Err != nil {
		task.ErrorMessage = result.Err.Error()
	}

	b.Total++
	b.Tasks = append(b.Tasks, task)
}

// MarkFinished stamps the batch completion time
func (b *BatchRecord) MarkFinished() {
	now := time.Now()
	b.FinishedAt = &now
}

// IsFinished checks if the batch has completed
func (b *BatchRecord) IsFinished() bool {
	return b.FinishedAt != nil
}
