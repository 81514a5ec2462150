// Package depanalyzer is the dependency analyzer (component C8): a
// periodic scanner that resolves each published version's declared
// dependencies against the local and mirrored external sparse indexes,
// flags outdated and vulnerable dependencies, and caches the result on the
// version row for the public API to serve without recomputing it per
// request.
//
// Grounded on original_source/src/services/rustsec.rs (the vulnerability
// feed and its matching semantics) and src/model/semver.rs (version
// resolution), reshaped from a git-cloned advisory database into the
// simpler configured-URL feed spec.md §4.8 specifies.
package depanalyzer

import (
	"context"
	"net/http"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/cratehost/cratehost/internal/config"
	"github.com/cratehost/cratehost/internal/db"
	"github.com/cratehost/cratehost/internal/index"
)

// onDemandTimeout bounds an interactively-triggered analysis, per spec.md
// §4.8's "on-demand analysis bypasses the TTL with a 30s request-scoped
// context".
const onDemandTimeout = 30 * time.Second

// concurrency bounds how many versions are analyzed at once during a scan,
// so a large backlog cannot open unbounded outbound connections to mirrored
// registries and the vulnerability feed at once.
const concurrency = 4

// Notifier is the narrow surface depanalyzer needs from the notification
// queue (component C9), injected to avoid an import cycle the way
// worker.Sink keeps C6 independent of C7.
type Notifier interface {
	NotifyDeps(ctx context.Context, pkg, version string, outdated, cves bool)
}

// Analyzer holds the state needed to resolve and cache a version's
// dependency status.
type Analyzer struct {
	DB        *db.DB
	Index     *index.Store
	LocalName string
	External  map[string]config.ExternalRegistry

	VulnFeedURL string

	CheckPeriod   time.Duration
	StaleRegistry time.Duration
	StaleAnalysis time.Duration

	NotifyOutdated bool
	NotifyCVEs     bool

	Notifier Notifier

	HTTPClient *http.Client

	sem      chan struct{}
	feed     feedCache
	extCache extCache
}

func (a *Analyzer) httpClient() *http.Client {
	if a.HTTPClient != nil {
		return a.HTTPClient
	}
	return http.DefaultClient
}

func (a *Analyzer) semaphore() chan struct{} {
	if a.sem == nil {
		a.sem = make(chan struct{}, concurrency)
	}
	return a.sem
}

// Run drives the periodic scan loop, ticking every CheckPeriod until ctx is
// cancelled, mirroring the teacher's long-running background-service
// pattern (a single ticker loop owned by the caller's goroutine).
func (a *Analyzer) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.CheckPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.ScanStale(ctx); err != nil && ctx.Err() == nil {
				// A scan failure is not fatal to the loop; the next tick retries.
				continue
			}
		}
	}
}

// ScanStale finds versions whose cached dependency status has not been
// refreshed within StaleAnalysis, filters to the latest non-yanked version
// within each major (older minors of an already-superseded major are not
// worth re-checking on a schedule), and analyzes each with bounded
// concurrency.
func (a *Analyzer) ScanStale(ctx context.Context) error {
	stale, err := a.DB.Versions().StaleForAnalysis(ctx, time.Now().Add(-a.StaleAnalysis))
	if err != nil {
		return err
	}

	targets := latestWithinMajor(stale)

	sem := a.semaphore()
	errCh := make(chan error, len(targets))
	for _, pv := range targets {
		pv := pv
		sem <- struct{}{}
		go func() {
			defer func() { <-sem }()
			errCh <- a.analyzeOne(ctx, pv, false)
		}()
	}
	var firstErr error
	for range targets {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// latestWithinMajor keeps, for each (package, major version) pair, only the
// highest version present in the candidate set — the rest of that major's
// history is reachable on demand but not worth rescanning on a schedule.
func latestWithinMajor(versions []db.DBPackageVersion) []db.DBPackageVersion {
	type key struct {
		pkg   string
		major uint64
	}
	best := map[key]db.DBPackageVersion{}
	bestVer := map[key]*semver.Version{}
	for _, pv := range versions {
		v, err := semver.NewVersion(pv.Version)
		if err != nil {
			continue
		}
		k := key{pv.Package, v.Major()}
		if cur, ok := bestVer[k]; !ok || v.GreaterThan(cur) {
			bestVer[k] = v
			best[k] = pv
		}
	}
	out := make([]db.DBPackageVersion, 0, len(best))
	for _, pv := range best {
		out = append(out, pv)
	}
	return out
}

// AnalyzeOnDemand re-resolves a single version immediately, bypassing the
// feed and external-index TTLs, within a request-scoped timeout.
func (a *Analyzer) AnalyzeOnDemand(ctx context.Context, pkg, version string) error {
	ctx, cancel := context.WithTimeout(ctx, onDemandTimeout)
	defer cancel()

	pv, err := a.DB.Versions().Get(ctx, pkg, version)
	if err != nil {
		return err
	}
	return a.analyzeOne(ctx, pv, true)
}

// analyzeOne resolves pv's full transitive dependency closure against the
// local index and any mirrored external registries its dependencies name,
// determines whether any resolved dependency is outdated (its highest
// non-yanked version is newer than the highest non-yanked version
// satisfying the declared requirement) or matches a known
// vulnerability, caches the result, and notifies on a false-to-true flip of
// either flag.
func (a *Analyzer) analyzeOne(ctx context.Context, pv db.DBPackageVersion, force bool) error {
	entry, err := a.findEntry(pv.Package, pv.Version)
	if err != nil {
		return err
	}

	feed, err := a.vulnFeed(ctx, force)
	if err != nil {
		feed = nil // a feed outage degrades CVE detection, it does not abort outdated detection.
	}

	visited := map[string]bool{}
	var queue []index.EntryDep
	if entry != nil {
		queue = append(queue, entry.Deps...)
	}

	var outdated, cves bool
	for len(queue) > 0 {
		dep := queue[0]
		queue = queue[1:]
		if dep.Optional {
			continue
		}
		entries, reg, err := a.resolveDepEntries(ctx, dep, force)
		if err != nil {
			continue // an unreachable dependency source degrades this check, it does not fail the whole pass.
		}
		best, highest := bestSatisfying(entries, dep.Req)
		if best == nil {
			continue
		}
		key := depKey(reg, dep.Name, best.Vers)
		if visited[key] {
			continue
		}
		visited[key] = true
		if highest != nil && best.Vers != highest.Vers {
			outdated = true
		}

		v, err := semver.NewVersion(best.Vers)
		if err == nil && feed != nil {
			for _, adv := range feed[dep.Name] {
				if adv.affects(v) {
					cves = true
					break
				}
			}
		}

		queue = append(queue, best.Deps...)
	}

	if err := a.DB.Versions().RefreshDepsCache(ctx, pv.Package, pv.Version, outdated, cves, time.Now()); err != nil {
		return err
	}

	if a.Notifier != nil {
		flippedOutdated := a.NotifyOutdated && outdated && !pv.DepsHasOutdated
		flippedCVEs := a.NotifyCVEs && cves && !pv.DepsHasCVEs
		if flippedOutdated || flippedCVEs {
			a.Notifier.NotifyDeps(ctx, pv.Package, pv.Version, flippedOutdated, flippedCVEs)
		}
	}
	return nil
}

// depKey identifies one resolved node of the closure: (source registry,
// name, resolved version).
func depKey(registry, name, resolved string) string {
	return registry + "\x00" + name + "\x00" + resolved
}

// findEntry looks up name@version in the local index.
func (a *Analyzer) findEntry(name, version string) (*index.Entry, error) {
	entries, err := a.Index.Get(name)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].Vers == version {
			return &entries[i], nil
		}
	}
	return nil, nil
}

// resolveDepEntries returns the full entry list for dep, from the local
// index or the named mirrored external registry, plus the registry name
// used (for attributing that dependency's own children).
func (a *Analyzer) resolveDepEntries(ctx context.Context, dep index.EntryDep, force bool) ([]index.Entry, string, error) {
	reg := dep.Registry
	if reg == "" || reg == a.LocalName {
		entries, err := a.Index.Get(dep.Name)
		return entries, a.LocalName, err
	}
	entries, err := a.fetchExternalEntries(ctx, reg, dep.Name, force)
	return entries, reg, err
}

// bestSatisfying returns the highest non-yanked entry matching req, and
// separately the highest non-yanked entry overall (yanked versions are
// never candidates; a yanked latest does not count as "available" for
// outdated detection). Either may be nil if no entry qualifies.
func bestSatisfying(entries []index.Entry, req string) (satisfying, highest *index.Entry) {
	constraint, err := semver.NewConstraint(req)
	if err != nil {
		return nil, nil
	}
	var bestSat, bestAll *semver.Version
	for i := range entries {
		e := &entries[i]
		if e.Yanked {
			continue
		}
		v, err := semver.NewVersion(e.Vers)
		if err != nil {
			continue
		}
		if bestAll == nil || v.GreaterThan(bestAll) {
			bestAll = v
			highest = e
		}
		if constraint.Check(v) && (bestSat == nil || v.GreaterThan(bestSat)) {
			bestSat = v
			satisfying = e
		}
	}
	return satisfying, highest
}
