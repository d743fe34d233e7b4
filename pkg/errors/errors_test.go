package errors

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "context"))
	assert.NoError(t, Wrapf(nil, "context %d", 1))
}

func TestWrapKeepsCause(t *testing.T) {
	err := Wrapf(io.EOF, "reading tx %s", "0x1")
	assert.EqualError(t, err, "reading tx 0x1: EOF")
	assert.True(t, Is(err, io.EOF))
}

func TestJoinMatchesBoth(t *testing.T) {
	err := Join(ErrEmitFailed, io.ErrUnexpectedEOF)
	assert.True(t, Is(err, ErrEmitFailed))
	assert.True(t, Is(err, io.ErrUnexpectedEOF))
	assert.Equal(t, ErrFinalityTimeout, Join(ErrFinalityTimeout, nil))
}
