package version

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codecanvas/talaria/pkg/pipeline"
)

func writeManifest(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "package.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestReadManifest(t *testing.T) {
	m, err := ReadManifest(writeManifest(t, `{"name": "code-canvas", "version": "1.2.0"}`))
	require.NoError(t, err)

	assert.Equal(t, "code-canvas", m.Name)
	assert.Equal(t, "1.2.0", m.Version)
	assert.Equal(t, "v1.2.0", m.Tag())
}

func TestReadManifestErrors(t *testing.T) {
	cases := map[string]string{
		"invalid_json":    `{"name": oops`,
		"missing_version": `{"name": "code-canvas"}`,
		"blank_version":   `{"name": "code-canvas", "version": "  "}`,
		"bad_semver":      `{"version": "one.two.three"}`,
	}

	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ReadManifest(writeManifest(t, contents))
			require.Error(t, err)

			var f *pipeline.Failure
			require.True(t, errors.As(err, &f))
			assert.Equal(t, pipeline.MalformedInput, f.Kind)
		})
	}
}

func TestReadManifestMissingFile(t *testing.T) {
	_, err := ReadManifest(filepath.Join(t.TempDir(), "nope.json"))

	var f *pipeline.Failure
	require.True(t, errors.As(err, &f))
	assert.Equal(t, pipeline.MalformedInput, f.Kind)
}
