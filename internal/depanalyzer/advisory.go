package depanalyzer

import (
	"github.com/Masterminds/semver/v3"
)

// Advisory is a vulnerability record fetched from config.Deps.VulnFeedURL.
// Its shape is grounded on original_source/src/model/osv.rs's
// SimpleAdvisory (package, ranges of introduced/fixed/last-affected, and a
// flat exact-version list) rather than the full OSV schema — a registry
// operator publishes this shape directly, already filtered to the
// crates.io ecosystem and already flattened the way RustSecData::affects
// consumes it.
type Advisory struct {
	Package  string          `json:"package"`
	ID       string          `json:"id"`
	Summary  string          `json:"summary"`
	Versions []string        `json:"versions"`
	Ranges   []AdvisoryRange `json:"ranges"`
}

// AdvisoryRange is one semver range an Advisory is known to affect,
// matching SimpleAdvisoryRange::affects verbatim: affected from
// Introduced (inclusive) up to Fixed (exclusive) if present, else up to
// LastAffected (inclusive) if present, else unbounded above.
type AdvisoryRange struct {
	Introduced   string `json:"introduced"`
	Fixed        string `json:"fixed"`
	LastAffected string `json:"last_affected"`
}

func (r AdvisoryRange) affects(v *semver.Version) bool {
	introduced, err := semver.NewVersion(r.Introduced)
	if err != nil {
		return false
	}
	if v.LessThan(introduced) {
		return false
	}
	if r.Fixed != "" {
		if fixed, err := semver.NewVersion(r.Fixed); err == nil && !v.LessThan(fixed) {
			return false
		}
	}
	if r.LastAffected != "" {
		if last, err := semver.NewVersion(r.LastAffected); err == nil && v.GreaterThan(last) {
			return false
		}
	}
	return true
}

// affects mirrors SimpleAdvisory::affects: an exact-version hit short
// circuits, otherwise any range match counts.
func (a Advisory) affects(v *semver.Version) bool {
	for _, vs := range a.Versions {
		if vs == v.String() {
			return true
		}
	}
	for _, r := range a.Ranges {
		if r.affects(v) {
			return true
		}
	}
	return false
}
