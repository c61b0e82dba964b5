// Package version reads the application manifest that supplies the semantic
// version used to tag every artifact produced by one pipeline run.
package version

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/codecanvas/talaria/pkg/pipeline"
)

// Manifest is the subset of package.json the deployer cares about.
type Manifest struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Tag is the immutable image tag derived from the manifest version.
func (m Manifest) Tag() string {
	return "v" + m.Version
}

// ReadManifest loads and validates the manifest at path. All failures are
// MalformedInput: retrying cannot fix bad local input.
func ReadManifest(path string) (Manifest, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, &pipeline.Failure{
			Kind:    pipeline.MalformedInput,
			Message: fmt.Sprintf("cannot read manifest: %v", err),
			Hint:    fmt.Sprintf("check that %s exists and is readable", path),
		}
	}

	var m Manifest
	if err := json.Unmarshal(bs, &m); err != nil {
		return Manifest{}, &pipeline.Failure{
			Kind:    pipeline.MalformedInput,
			Message: fmt.Sprintf("manifest is not valid JSON: %v", err),
			Hint:    fmt.Sprintf("fix the syntax error in %s", path),
		}
	}

	m.Version = strings.TrimSpace(m.Version)
	if m.Version == "" {
		return Manifest{}, &pipeline.Failure{
			Kind:    pipeline.MalformedInput,
			Message: "manifest has no version field",
			Hint:    `add a version field, e.g. "version": "1.2.0"`,
		}
	}
	if !semver.IsValid("v" + m.Version) {
		return Manifest{}, &pipeline.Failure{
			Kind:    pipeline.MalformedInput,
			Message: fmt.Sprintf("version %q is not valid semver", m.Version),
			Hint:    "use a MAJOR.MINOR.PATCH version string",
		}
	}

	return m, nil
}
