package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewBatchRecord(t *testing.T) {
	batch := NewBatchRecord(3)

	assert.NotEmpty(t, batch.ID)
	assert.Equal(t, 3, batch.Concurrency)
	assert.False(t, batch.StartedAt.IsZero())
	assert.False(t, batch.IsFinished())
}

func TestBatchRecord_AddResult(t *testing.T) {
	batch := NewBatchRecord(2)
	task := DownloadTask{Locator: "https://example.com/a.jpg", DestinationPath: "/tmp/a.jpg", Attempts: 1}

	batch.AddResult("20240101", task.DestinationPath, SuccessResult(0, task, false))
	batch.AddResult("20240102", task.DestinationPath, SuccessResult(1, task, true))
	batch.AddResult("20240103", task.DestinationPath, FailureResult(2, task, ErrorKindPermanent, errors.New("HTTP 404")))
	batch.AddResult("20240104", task.DestinationPath, FailureResult(3, task, ErrorKindCancelled, nil))

	assert.Equal(t, 4, batch.Total)
	assert.Equal(t, 2, batch.Succeeded)
	assert.Equal(t, 1, batch.Skipped)
	assert.Equal(t, 1, batch.Failed)
	assert.Equal(t, 1, batch.Cancelled)

	assert.Equal(t, StatusDownloaded, batch.Tasks[0].Status)
	assert.Equal(t, StatusSkipped, batch.Tasks[1].Status)
	assert.Equal(t, StatusFailed, batch.Tasks[2].Status)
	assert.Equal(t, "HTTP 404", batch.Tasks[2].ErrorMessage)
	assert.Equal(t, StatusCancelled, batch.Tasks[3].Status)
	for _, tr := range batch.Tasks {
		assert.Equal(t, batch.ID, tr.BatchID)
		assert.NotEmpty(t, tr.ID)
	}
}

func TestBatchRecord_MarkFinished(t *testing.T) {
	batch := NewBatchRecord(1)

	batch.MarkFinished()

	assert.True(t, batch.IsFinished())
	assert.NotNil(t, batch.FinishedAt)
}

func TestDownloadResult_Reason(t *testing.T) {
	task := DownloadTask{Locator: "https://example.com/a.jpg", DestinationPath: "/tmp/a.jpg", Attempts: 3}

	assert.Equal(t, "downloaded", SuccessResult(0, task, false).Reason())
	assert.Equal(t, "already present", SuccessResult(0, task, true).Reason())
	assert.Equal(t, "transient after 3 attempt(s): boom",
		FailureResult(0, task, ErrorKindTransient, errors.New("boom")).Reason())
}
