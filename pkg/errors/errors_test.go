package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name:     "without underlying error",
			err:      New(CodeLinkage, "loader constraint violated"),
			expected: "[LINKAGE_ERROR] loader constraint violated",
		},
		{
			name:     "with underlying error",
			err:      Wrap(CodeStorageError, "read failed", errors.New("permission denied")),
			expected: "[STORAGE_ERROR] read failed: permission denied",
		},
		{
			name:     "invalid class format helper",
			err:      InvalidClassFormat("pkg/Foo", "bad magic %#x", 0xdeadbeef),
			expected: "[INVALID_CLASS_FORMAT] pkg/Foo: bad magic 0xdeadbeef",
		},
		{
			name:     "linkage helper",
			err:      Linkage("pkg/Foo", "app", "duplicate class definition"),
			expected: "[LINKAGE_ERROR] pkg/Foo (loader app): duplicate class definition",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := Wrap(CodeDatabaseError, "query failed", underlying)

	assert.Equal(t, underlying, err.Unwrap())
	assert.True(t, errors.Is(err, underlying))
}

func TestAppError_Is(t *testing.T) {
	err1 := New(CodeLinkage, "error 1")
	err2 := New(CodeLinkage, "error 2")
	err3 := New(CodeNotFound, "error 3")

	assert.True(t, errors.Is(err1, err2))
	assert.False(t, errors.Is(err1, err3))
}

func TestPredicates(t *testing.T) {
	wrapped := fmt.Errorf("resolve: %w", Linkage("a/B", "app", "mismatch"))

	assert.True(t, IsLinkageError(wrapped))
	assert.False(t, IsInvalidClassFormat(wrapped))
	assert.True(t, IsInvalidClassFormat(InvalidClassFormat("a/B", "truncated")))
	assert.True(t, IsNotFound(ErrNotFound))
	assert.True(t, IsClassCircularity(New(CodeClassCircularity, "a/B")))
	assert.True(t, IsIncompatibleClassChange(New(CodeIncompatibleClassChange, "a/B")))
	assert.True(t, IsDatabaseError(Wrap(CodeDatabaseError, "x", nil)))
	assert.True(t, IsStorageError(Wrap(CodeStorageError, "x", nil)))
	assert.False(t, IsLinkageError(nil))
}

func TestGetErrorCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"app error", ErrInvalidClassFormat, CodeInvalidClassFormat},
		{"wrapped app error", fmt.Errorf("outer: %w", ErrLinkage), CodeLinkage},
		{"plain error", errors.New("plain"), CodeUnknown},
		{"nil", nil, CodeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetErrorCode(tt.err))
		})
	}
}

func TestGetErrorMessage(t *testing.T) {
	assert.Equal(t, "linkage error", GetErrorMessage(ErrLinkage))
	assert.Equal(t, "plain", GetErrorMessage(errors.New("plain")))
	assert.Equal(t, "", GetErrorMessage(nil))
}

func TestInternalPanics(t *testing.T) {
	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(*AppError)
		require.True(t, ok)
		assert.Equal(t, CodeInternal, err.Code)
		assert.Contains(t, err.Message, "vtable index 3")
	}()
	Internal("vtable index %d", 3)
}
