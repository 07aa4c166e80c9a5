// Package pypi resolves Python distributions through a simple repository
// index (PEP 503, JSON rendering per PEP 691) to the wheel URLs the zipfile
// package can read in place.
package pypi

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// idPrefixRE matches the leading Python package identifier of a string. The
// multi-character form is tried first so the match is as long as possible.
var idPrefixRE = regexp.MustCompile(`(?i)^([A-Z0-9][A-Z0-9._-]*[A-Z0-9]|[A-Z0-9])`)

// PackageName is a Python package name normalized for comparison: case
// folded, with underscores mapped to dashes.
type PackageName string

// NewPackageName validates s as a package identifier and normalizes it.
func NewPackageName(s string) (PackageName, error) {
	if s == "" || idPrefixRE.FindString(s) != s {
		return "", errors.Errorf("pypi: invalid package identifier %q", s)
	}
	return PackageName(strings.ReplaceAll(strings.ToLower(s), "_", "-")), nil
}

func (n PackageName) String() string {
	return string(n)
}
