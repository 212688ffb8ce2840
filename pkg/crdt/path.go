package crdt

import (
	"strings"

	"github.com/cuemby/eidetica/pkg/eideticaerr"
)

// Path is a validated, non-empty dotted path into a Doc, e.g.
// "user.profile.name". Components may not be empty or contain '.'; leading,
// trailing, and doubled dots are rejected.
type Path struct {
	components []string
}

// NewPath validates and parses a dotted path string.
func NewPath(s string) (Path, error) {
	if s == "" {
		return Path{}, eideticaerr.New(eideticaerr.KindCRDTInvalidPath, "empty path")
	}
	if strings.HasPrefix(s, ".") {
		return Path{}, eideticaerr.New(eideticaerr.KindCRDTInvalidPath, "leading dot")
	}
	if strings.HasSuffix(s, ".") {
		return Path{}, eideticaerr.New(eideticaerr.KindCRDTInvalidPath, "trailing dot")
	}
	parts := strings.Split(s, ".")
	for i, p := range parts {
		if p == "" {
			return Path{}, eideticaerr.Newf(eideticaerr.KindCRDTInvalidPath, "empty component at position %d", i)
		}
		if strings.Contains(p, ".") {
			return Path{}, eideticaerr.Newf(eideticaerr.KindCRDTInvalidPath, "component %q contains a dot", p)
		}
	}
	return Path{components: parts}, nil
}

// MustPath parses s and panics on error; useful for literal paths in tests
// and internal call sites where s is a compile-time constant.
func MustPath(s string) Path {
	p, err := NewPath(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Components returns the path's components in order.
func (p Path) Components() []string {
	return append([]string(nil), p.components...)
}

func (p Path) String() string {
	return strings.Join(p.components, ".")
}
