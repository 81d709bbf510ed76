package logger

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewAppError(ErrorTypeTransient, "fetching abs page", cause)

	assert.Equal(t, "TRANSIENT_NETWORK: fetching abs page (caused by: connection reset)", err.Error())
	assert.ErrorIs(t, err, cause)

	bare := NewAppError(ErrorTypeConfig, "workers must be positive", nil)
	assert.Equal(t, "CONFIG: workers must be positive", bare.Error())
}

func TestIsErrorType_ThroughWrapping(t *testing.T) {
	err := fmt.Errorf("version v2: %w", NewAppError(ErrorTypeArchive, "bad stream", nil))

	assert.True(t, IsErrorType(err, ErrorTypeArchive))
	assert.False(t, IsErrorType(err, ErrorTypeDepth))
	assert.False(t, IsErrorType(errors.New("plain"), ErrorTypeArchive))
}

func TestWrapError_Nil(t *testing.T) {
	assert.NoError(t, WrapError(nil, ErrorTypeInternal, "noop"))
}

func TestErrorHandler_Handle(t *testing.T) {
	eh := NewErrorHandler(Discard())

	assert.NoError(t, eh.Handle(nil, "ctx"))

	err := eh.Handle(errors.New("weird"), "processing 2412.00001")
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrorTypeInternal))

	typed := NewAppError(ErrorTypeFilesystem, "copy failed", nil)
	assert.Same(t, typed, eh.Handle(typed, "collect"))
}

func TestErrorHandler_Recover(t *testing.T) {
	eh := NewErrorHandler(Discard())

	run := func() (err error) {
		defer func() {
			err = eh.Recover(recover(), "worker")
		}()
		panic("index out of range")
	}

	err := run()
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrorTypeInternal))
	assert.Contains(t, err.Error(), "index out of range")

	assert.NoError(t, eh.Recover(nil, "worker"))
}
