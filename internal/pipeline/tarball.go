package pipeline

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/cratehost/cratehost/internal/apierr"
)

// tarballContents is what step 4 of the publication pipeline extracts from
// the uploaded tarball: a README (if present) and confirmation that the
// embedded Cargo.toml names match the manifest.
type tarballContents struct {
	Readme string
}

var cargoTomlNameRe = regexp.MustCompile(`(?m)^\s*name\s*=\s*"([^"]+)"`)
var cargoTomlVersionRe = regexp.MustCompile(`(?m)^\s*version\s*=\s*"([^"]+)"`)

// inspectTarball streams through buf, a gzip'd tar archive, verifying it
// contains {name}-{version}/Cargo.toml whose [package] name/version match
// the manifest's, and extracting the top-level README if present
// (spec.md §4.5 step 4).
func inspectTarball(buf []byte, name, version string) tarballContents {
	gz, err := gzip.NewReader(bytes.NewReader(buf))
	if err != nil {
		panic(apierr.Invalidf(apierr.CodeBadManifest, "tarball is not valid gzip: %v", err))
	}
	defer gz.Close()

	prefix := fmt.Sprintf("%s-%s/", name, version)
	tomlPath := prefix + "Cargo.toml"

	var out tarballContents
	var sawToml bool

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			panic(apierr.Invalidf(apierr.CodeBadManifest, "reading tarball: %v", err))
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if !strings.HasPrefix(hdr.Name, prefix) {
			panic(apierr.Invalidf(apierr.CodeBadManifest, "tarball entry %q outside expected %s prefix", hdr.Name, prefix))
		}

		switch {
		case hdr.Name == tomlPath:
			content, err := io.ReadAll(tr)
			if err != nil {
				panic(apierr.Invalidf(apierr.CodeBadManifest, "reading Cargo.toml: %v", err))
			}
			verifyCargoToml(content, name, version)
			sawToml = true

		case isTopLevelReadme(hdr.Name, prefix):
			content, err := io.ReadAll(tr)
			if err != nil {
				panic(apierr.Invalidf(apierr.CodeBadManifest, "reading readme: %v", err))
			}
			out.Readme = string(content)

		default:
			if _, err := io.Copy(io.Discard, tr); err != nil {
				panic(apierr.Invalidf(apierr.CodeBadManifest, "reading tarball entry %q: %v", hdr.Name, err))
			}
		}
	}

	if !sawToml {
		panic(apierr.Invalidf(apierr.CodeBadManifest, "tarball missing %s", tomlPath))
	}
	return out
}

func isTopLevelReadme(name, prefix string) bool {
	rel := strings.TrimPrefix(name, prefix)
	return !strings.Contains(rel, "/") && strings.HasPrefix(strings.ToUpper(rel), "README")
}

func verifyCargoToml(content []byte, wantName, wantVersion string) {
	nameMatch := cargoTomlNameRe.FindSubmatch(content)
	versMatch := cargoTomlVersionRe.FindSubmatch(content)
	if nameMatch == nil || string(nameMatch[1]) != wantName {
		panic(apierr.Invalidf(apierr.CodeBadManifest, "Cargo.toml package name does not match manifest name %q", wantName))
	}
	if versMatch == nil || string(versMatch[1]) != wantVersion {
		panic(apierr.Invalidf(apierr.CodeBadManifest, "Cargo.toml package version does not match manifest version %q", wantVersion))
	}
}
