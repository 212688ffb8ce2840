package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPathValid(t *testing.T) {
	p, err := NewPath("user.profile.name")
	require.NoError(t, err)
	assert.Equal(t, []string{"user", "profile", "name"}, p.Components())
	assert.Equal(t, "user.profile.name", p.String())
}

func TestNewPathSingleComponent(t *testing.T) {
	p, err := NewPath("name")
	require.NoError(t, err)
	assert.Equal(t, []string{"name"}, p.Components())
}

func TestNewPathRejectsEmpty(t *testing.T) {
	_, err := NewPath("")
	assert.Error(t, err)
}

func TestNewPathRejectsLeadingDot(t *testing.T) {
	_, err := NewPath(".a")
	assert.Error(t, err)
}

func TestNewPathRejectsTrailingDot(t *testing.T) {
	_, err := NewPath("a.")
	assert.Error(t, err)
}

func TestNewPathRejectsDoubleDot(t *testing.T) {
	_, err := NewPath("a..b")
	assert.Error(t, err)
}

func TestMustPathPanicsOnInvalid(t *testing.T) {
	assert.Panics(t, func() { MustPath("a..b") })
}

func TestMustPathOkOnValid(t *testing.T) {
	assert.NotPanics(t, func() { MustPath("a.b") })
}
