package pypi_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alec-rabold/zippeek/pkg/pypi"
)

func wheelFile(filename string, yanked bool) pypi.ProjectFile {
	return pypi.ProjectFile{
		Filename: filename,
		URL:      "https://files.example.com/" + filename,
		Yanked:   pypi.Yanked{Value: yanked},
	}
}

func TestResolveWheel(t *testing.T) {
	project := &pypi.Project{
		Name: "demo",
		Files: []pypi.ProjectFile{
			wheelFile("demo-1.0.0.tar.gz", false),
			wheelFile("demo-1.0.0-py3-none-any.whl", false),
			wheelFile("demo-2.0.0-py3-none-any.whl", false),
			wheelFile("demo-3.0.0-py3-none-any.whl", true),
		},
	}
	dependency := func(s string) pypi.Dependency {
		dep, err := pypi.ParseDependency(s)
		require.NoError(t, err)
		return dep
	}

	t.Run("newest non-yanked wheel wins", func(t *testing.T) {
		file, err := pypi.ResolveWheel(project, dependency("demo"))
		require.NoError(t, err)
		assert.Equal(t, "demo-2.0.0-py3-none-any.whl", file.Filename)
	})

	t.Run("specifiers narrow the choice", func(t *testing.T) {
		file, err := pypi.ResolveWheel(project, dependency("demo<2"))
		require.NoError(t, err)
		assert.Equal(t, "demo-1.0.0-py3-none-any.whl", file.Filename)
	})

	t.Run("yanked wheels never match", func(t *testing.T) {
		_, err := pypi.ResolveWheel(project, dependency("demo>=3"))
		assert.ErrorIs(t, err, pypi.ErrNoMatchingWheel)
	})

	t.Run("sdists never match", func(t *testing.T) {
		sdistOnly := &pypi.Project{
			Name:  "demo",
			Files: []pypi.ProjectFile{wheelFile("demo-1.0.0.tar.gz", false)},
		}
		_, err := pypi.ResolveWheel(sdistOnly, dependency("demo"))
		assert.ErrorIs(t, err, pypi.ErrNoMatchingWheel)
	})

	t.Run("empty project", func(t *testing.T) {
		_, err := pypi.ResolveWheel(&pypi.Project{Name: "demo"}, dependency("demo"))
		assert.ErrorIs(t, err, pypi.ErrNoMatchingWheel)
	})
}
