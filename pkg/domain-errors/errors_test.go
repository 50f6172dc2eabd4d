package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCodeWalksChain(t *testing.T) {
	root := errors.New("connection refused")
	inner := Wrap(root, CodeUnavailable, "store unavailable")
	outer := Wrap(fmt.Errorf("insert: %w", inner), CodeInternal, "issue failed")

	assert.True(t, HasCode(outer, CodeInternal))
	assert.True(t, HasCode(outer, CodeUnavailable))
	assert.False(t, HasCode(outer, CodeNotFound))
	assert.ErrorIs(t, outer, root)
	assert.Equal(t, CodeInternal, CodeOf(outer))
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, CodeInternal, "ignored"))
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	assert.Equal(t, CodeNotFound, CodeOf(New(CodeNotFound, "missing")))
}
