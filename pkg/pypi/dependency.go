package pypi

import (
	"strings"

	pep440 "github.com/aquasecurity/go-pep440-version"
	"github.com/pkg/errors"
)

// Dependency is a package requirement: a name with optional PEP 440 version
// specifiers, e.g. "requests>=2.28,<3".
type Dependency struct {
	Name PackageName
	Spec *pep440.Specifiers

	rawSpec string
}

// ParseDependency splits a requirement string into the package name and its
// version specifiers. Whitespace between the name and the specifiers is
// tolerated.
func ParseDependency(s string) (Dependency, error) {
	name := idPrefixRE.FindString(s)
	if name == "" {
		return Dependency{}, errors.Errorf("pypi: invalid package identifier %q", s)
	}
	pkg, err := NewPackageName(name)
	if err != nil {
		return Dependency{}, err
	}
	rest := strings.TrimSpace(s[len(name):])
	if rest == "" {
		return Dependency{Name: pkg}, nil
	}
	spec, err := pep440.NewSpecifiers(rest)
	if err != nil {
		return Dependency{}, errors.Wrapf(err, "pypi: could not parse version from %q", rest)
	}
	return Dependency{Name: pkg, Spec: &spec, rawSpec: rest}, nil
}

// Matches reports whether v satisfies the dependency's specifiers. A
// dependency without specifiers matches every version.
func (d Dependency) Matches(v pep440.Version) bool {
	if d.Spec == nil {
		return true
	}
	return d.Spec.Check(v)
}

func (d Dependency) String() string {
	return string(d.Name) + d.rawSpec
}
