package domain

import "fmt"

// ErrorKind classifies why a download task failed
type ErrorKind string

const (
	ErrorKindNone       ErrorKind = ""
	ErrorKindTransient  ErrorKind = "transient"  // Retries exhausted on a retryable failure
	ErrorKindPermanent  ErrorKind = "permanent"  // Non-retryable response or locator
	ErrorKindFilesystem ErrorKind = "filesystem" // Temp file, sync or rename failed
	ErrorKindCancelled  ErrorKind = "cancelled"  // Batch aborted before or during the task
)

// DownloadTask is one (locator, destination) pair of a batch
type DownloadTask struct {
	Locator         string
	DestinationPath string
	Attempts        int
}

// DownloadResult represents the outcome of a single download task.
// Exactly one result is produced per submitted task.
type DownloadResult struct {
	Index     int       // Position of the task in the submitted batch
	Locator   string
	FinalPath string    // Set on success
	Skipped   bool      // Destination already existed, no network call was made
	Kind      ErrorKind // Set on failure
	Attempts  int
	Err       error
}

// Succeeded reports whether the task materialized its destination file
func (r DownloadResult) Succeeded() bool {
	return r.Kind == ErrorKindNone && r.Err == nil
}

// Reason returns a short human readable description of the outcome
func (r DownloadResult) Reason() string {
	switch {
	case r.Succeeded() && r.Skipped:
		return "already present"
	case r.Succeeded():
		return "downloaded"
	case r.Err != nil:
		return fmt.Sprintf("%s after %d attempt(s): %v", r.Kind, r.Attempts, r.Err)
	default:
		return fmt.Sprintf("%s after %d attempt(s)", r.Kind, r.Attempts)
	}
}

// SuccessResult builds a successful result
func SuccessResult(index int, task DownloadTask, skipped bool) DownloadResult {
	return DownloadResult{
		Index:     index,
		Locator:   task.Locator,
		FinalPath: task.DestinationPath,
		Skipped:   skipped,
		Attempts:  task.Attempts,
	}
}

// FailureResult builds a failed result
func FailureResult(index int, task DownloadTask, kind ErrorKind, err error) DownloadResult {
	return DownloadResult{
		Index:    index,
		Locator:  task.Locator,
		Kind:     kind,
		Attempts: task.Attempts,
		Err:      err,
	}
}
