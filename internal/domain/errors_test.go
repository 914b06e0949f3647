package domain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorKind
	}{
		{"nil", nil, ErrorKindNone},
		{"transient network", &NetworkError{Transient: true, StatusCode: 503, Err: errors.New("unavailable")}, ErrorKindTransient},
		{"permanent network", &NetworkError{StatusCode: 404, Err: errors.New("not found")}, ErrorKindPermanent},
		{"wrapped network", fmt.Errorf("attempt 2: %w", &NetworkError{Transient: true, Err: io.ErrUnexpectedEOF}), ErrorKindTransient},
		{"filesystem", &FilesystemError{Op: "rename", Path: "/tmp/x", Err: errors.New("EXDEV")}, ErrorKindFilesystem},
		{"unknown", errors.New("odd"), ErrorKindPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ClassifyError(tt.err))
		})
	}
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(&NetworkError{Transient: true, Err: context.DeadlineExceeded}))
	assert.False(t, IsTransient(&NetworkError{Err: errors.New("bad request")}))
	assert.False(t, IsTransient(errors.New("plain")))
}

func TestSerializationError_Message(t *testing.T) {
	mismatch := &SerializationError{Path: "/x/index.bin", VersionMismatch: true, Found: 1}
	assert.Contains(t, mismatch.Error(), "format version 1")

	corrupt := &SerializationError{Path: "/x/index.bin", Err: io.ErrUnexpectedEOF}
	assert.Contains(t, corrupt.Error(), "corrupt")
	assert.ErrorIs(t, corrupt, io.ErrUnexpectedEOF)
}
