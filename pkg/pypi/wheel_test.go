package pypi_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alec-rabold/zippeek/pkg/pypi"
)

func TestParseWheelFilename(t *testing.T) {
	valid := []struct {
		in      string
		name    pypi.PackageName
		version string
		tags    string
	}{
		{
			in:      "requests-2.28.1-py3-none-any.whl",
			name:    "requests",
			version: "2.28.1",
			tags:    "py3-none-any",
		},
		{
			in:      "Flask_Login-0.6.2-py3-none-any.whl",
			name:    "flask-login",
			version: "0.6.2",
			tags:    "py3-none-any",
		},
		{
			in:      "six-1.16.0-py2.py3-none-any.whl",
			name:    "six",
			version: "1.16.0",
			tags:    "py2.py3-none-any",
		},
		{
			in:      "numpy-1.23.2-cp310-cp310-manylinux_2_17_x86_64.manylinux2014_x86_64.whl",
			name:    "numpy",
			version: "1.23.2",
			tags:    "cp310-cp310-manylinux_2_17_x86_64.manylinux2014_x86_64",
		},
	}
	for _, tt := range valid {
		t.Run(tt.in, func(t *testing.T) {
			w, err := pypi.ParseWheelFilename(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.name, w.Name)
			assert.Equal(t, tt.version, w.Version.String())
			assert.Equal(t, tt.tags, w.Tags)
		})
	}

	invalid := []string{
		"requests-2.28.1.tar.gz",
		"requests.whl",
		"requests-2.28.1.whl",
		"requests-not.a.version-py3-none-any.whl",
		"-bad-1.0-py3-none-any.whl",
	}
	for _, in := range invalid {
		t.Run("invalid "+in, func(t *testing.T) {
			_, err := pypi.ParseWheelFilename(in)
			assert.Error(t, err)
		})
	}
}
