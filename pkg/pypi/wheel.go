package pypi

import (
	"strings"

	pep440 "github.com/aquasecurity/go-pep440-version"
	"github.com/pkg/errors"
)

// WheelFilename is the parsed form of a wheel file name such as
// "requests-2.28.1-py3-none-any.whl".
type WheelFilename struct {
	Name    PackageName
	Version pep440.Version
	Tags    string // e.g. "py3-none-any"
}

// ParseWheelFilename parses filename per the binary distribution format:
// {name}-{version}-{python tag}-{abi tag}-{platform tag}.whl. Build tags, if
// present, end up at the front of Tags.
func ParseWheelFilename(filename string) (WheelFilename, error) {
	stem := strings.TrimSuffix(filename, ".whl")
	if stem == filename {
		return WheelFilename{}, errors.Errorf("pypi: %q is not a wheel", filename)
	}
	parts := strings.SplitN(stem, "-", 3)
	if len(parts) != 3 {
		return WheelFilename{}, errors.Errorf("pypi: invalid wheel filename %q", filename)
	}
	name, err := NewPackageName(parts[0])
	if err != nil {
		return WheelFilename{}, err
	}
	version, err := pep440.Parse(parts[1])
	if err != nil {
		return WheelFilename{}, errors.Wrapf(err, "pypi: invalid version in wheel filename %q", filename)
	}
	return WheelFilename{Name: name, Version: version, Tags: parts[2]}, nil
}
