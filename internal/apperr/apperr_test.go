package apperr

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromFS(t *testing.T) {
	_, err := os.Open("/definitely/not/here")
	classified := FromFS("open", "/definitely/not/here", err)

	assert.Equal(t, CodeNotFound, classified.Code)
	assert.True(t, errors.Is(classified, fs.ErrNotExist))

	classified = FromFS("write", "/x", fs.ErrPermission)
	assert.Equal(t, CodeIO, classified.Code)
}

func TestCodeOfWrapped(t *testing.T) {
	inner := Parse("parse", "settings.json", errors.New("unexpected token"))
	wrapped := fmt.Errorf("merge failed: %w", inner)

	assert.Equal(t, CodeParse, CodeOf(wrapped))
	assert.True(t, IsCode(wrapped, CodeParse))
	assert.False(t, IsCode(wrapped, CodeIO))
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
}

func TestErrorMessage(t *testing.T) {
	err := IO("copy", "/a/b", errors.New("disk full"))
	assert.Equal(t, "copy /a/b: disk full", err.Error())

	v := Validation("tool %q has no source", "claude")
	assert.Equal(t, `VALIDATION_ERROR: tool "claude" has no source`, v.Error())
}
