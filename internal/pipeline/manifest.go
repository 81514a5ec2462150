// Package pipeline implements the publication pipeline (component C5): the
// nine-step publish transaction, plus yank/unyank, grounded on the
// teacher's manifestPut (registry.go) — validate everything before
// touching storage, persist the DB row inside a transaction, panic with a
// typed error (caught by the top-level recover) on any step that should
// never fail, and compensate the filesystem/index side effects explicitly
// when the transaction itself cannot be rolled back further.
package pipeline

import (
	"encoding/json"
	"regexp"

	"github.com/Masterminds/semver/v3"

	"github.com/cratehost/cratehost/internal/apierr"
)

// Manifest is the Cargo publish metadata JSON, the first of the two
// segments in the `PUT /api/v1/crates/new` body (spec.md §4.5).
type Manifest struct {
	Name            string              `json:"name"`
	Vers            string              `json:"vers"`
	Deps            []ManifestDep       `json:"deps"`
	Features        map[string][]string `json:"features"`
	Authors         []string            `json:"authors"`
	Description     string              `json:"description"`
	Documentation   string              `json:"documentation"`
	Homepage        string              `json:"homepage"`
	Readme          string              `json:"readme"`
	ReadmeFile      string              `json:"readme_file"`
	Keywords        []string            `json:"keywords"`
	Categories      []string            `json:"categories"`
	License         string              `json:"license"`
	LicenseFile     string              `json:"license_file"`
	Repository      string              `json:"repository"`
	Links           string              `json:"links"`
	RustVersion     string              `json:"rust_version"`
	RegistryMeta    *RegistryMetadata   `json:"registry_metadata,omitempty"`
}

// RegistryMetadata is a registry-specific extension of the manifest
// letting a crate declare which doc targets/capabilities it needs,
// since upstream Cargo's manifest format has no such concept and
// spec.md does not pin one down (an open question resolved here, see
// DESIGN.md).
type RegistryMetadata struct {
	DocTargets    []string `json:"doc_targets"`
	NativeTargets []string `json:"native_targets"`
	Capabilities  []string `json:"capabilities"`
}

type ManifestDep struct {
	Name               string   `json:"name"`
	Req                string   `json:"version_req"`
	Features           []string `json:"features"`
	Optional           bool     `json:"optional"`
	DefaultFeatures    bool     `json:"default_features"`
	Target             string   `json:"target,omitempty"`
	Kind               string   `json:"kind"`
	Registry           string   `json:"registry,omitempty"`
	ExplicitNameInToml string   `json:"explicit_name_in_toml,omitempty"`
}

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ParseManifest decodes and validates the first body segment, per spec.md
// §4.5 step 2.
func ParseManifest(buf []byte, knownRegistries map[string]bool) (Manifest, *semver.Version) {
	var m Manifest
	if err := json.Unmarshal(buf, &m); err != nil {
		panic(apierr.Invalidf(apierr.CodeBadManifest, "parsing manifest json: %v", err))
	}
	if !namePattern.MatchString(m.Name) {
		panic(apierr.Invalidf(apierr.CodeBadManifest, "invalid crate name %q", m.Name))
	}
	v, err := semver.NewVersion(m.Vers)
	if err != nil {
		panic(apierr.Invalidf(apierr.CodeBadSemver, "invalid version %q: %v", m.Vers, err))
	}
	for _, d := range m.Deps {
		if !namePattern.MatchString(d.Name) {
			panic(apierr.Invalidf(apierr.CodeBadManifest, "invalid dependency name %q", d.Name))
		}
		if _, err := semver.NewConstraint(d.Req); err != nil {
			panic(apierr.Invalidf(apierr.CodeBadSemver, "invalid dependency requirement %q for %s: %v", d.Req, d.Name, err))
		}
		reg := d.Registry
		if reg == "" {
			reg = "local"
		}
		if !knownRegistries[reg] {
			panic(apierr.Invalidf(apierr.CodeBadManifest, "dependency %s refers to unknown registry %q", d.Name, d.Registry))
		}
	}
	return m, v
}

func (m Manifest) docTargets() []string {
	if m.RegistryMeta != nil && len(m.RegistryMeta.DocTargets) > 0 {
		return m.RegistryMeta.DocTargets
	}
	return []string{"x86_64-unknown-linux-gnu"}
}

func (m Manifest) nativeTargets() []string {
	if m.RegistryMeta == nil {
		return nil
	}
	return m.RegistryMeta.NativeTargets
}

func (m Manifest) capabilities() []string {
	if m.RegistryMeta == nil {
		return nil
	}
	return m.RegistryMeta.Capabilities
}
