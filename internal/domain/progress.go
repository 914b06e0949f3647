package domain

// ProgressEventType distinguishes byte-level from batch-level progress
type ProgressEventType string

const (
	ProgressTaskBytes ProgressEventType = "task_bytes"
	ProgressTaskDone  ProgressEventType = "task_done"
	ProgressBatchDone ProgressEventType = "batch_done"
)

// ProgressEvent is a best-effort progress notification for a batch
type ProgressEvent struct {
	Type      ProgressEventType `json:"type"`
	BatchID   string            `json:"batch_id,omitempty"`
	TaskIndex int               `json:"task_index"`
	Locator   string            `json:"locator,omitempty"`
	Written   int64             `json:"written,omitempty"`
	Size      int64             `json:"size,omitempty"` // -1 when unknown
	Completed int               `json:"completed"`
	Total     int               `json:"total"`
	Kind      ErrorKind         `json:"kind,omitempty"`
}

// ProgressFunc receives progress events. Delivery is best effort and
// implementations must not assume every event arrives.
type ProgressFunc func(ProgressEvent)
