package pypi

import (
	pep440 "github.com/aquasecurity/go-pep440-version"
	"github.com/pkg/errors"
)

// ErrNoMatchingWheel is returned when a project has no wheel satisfying a
// dependency.
var ErrNoMatchingWheel = errors.New("pypi: no matching wheel")

// ResolveWheel picks the newest wheel of project that is not yanked and
// whose version satisfies dep. Files that are not wheels, such as sdists,
// are skipped.
func ResolveWheel(project *Project, dep Dependency) (*ProjectFile, error) {
	var (
		best        *ProjectFile
		bestVersion pep440.Version
	)
	for i := range project.Files {
		f := &project.Files[i]
		w, err := ParseWheelFilename(f.Filename)
		if err != nil {
			continue
		}
		if f.Yanked.Value || !dep.Matches(w.Version) {
			continue
		}
		if best == nil || bestVersion.LessThan(w.Version) {
			best, bestVersion = f, w.Version
		}
	}
	if best == nil {
		return nil, errors.Wrapf(ErrNoMatchingWheel, "%s", dep)
	}
	return best, nil
}
