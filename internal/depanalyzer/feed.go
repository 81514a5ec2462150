package depanalyzer

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// feedCache holds the vulnerability feed, refreshed on the same TTL as an
// external registry's sparse index (spec.md §4.8 step 4).
type feedCache struct {
	mu        sync.Mutex
	byPackage map[string][]Advisory
	fetchedAt time.Time
}

// vulnFeed returns the cached (or freshly fetched) advisory feed keyed by
// crate name. force bypasses the TTL, for on-demand analysis.
func (a *Analyzer) vulnFeed(ctx context.Context, force bool) (map[string][]Advisory, error) {
	if a.VulnFeedURL == "" {
		return nil, nil
	}

	a.feed.mu.Lock()
	defer a.feed.mu.Unlock()

	if !force && a.feed.byPackage != nil && time.Since(a.feed.fetchedAt) < a.StaleRegistry {
		return a.feed.byPackage, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.VulnFeedURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.httpClient().Do(req)
	if err != nil {
		// Serve the stale cache rather than fail the whole analysis over a
		// transient feed outage.
		if a.feed.byPackage != nil {
			return a.feed.byPackage, nil
		}
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		if a.feed.byPackage != nil {
			return a.feed.byPackage, nil
		}
		return nil, nil
	}

	var advisories []Advisory
	if err := json.NewDecoder(resp.Body).Decode(&advisories); err != nil {
		return nil, err
	}

	byPackage := map[string][]Advisory{}
	for _, adv := range advisories {
		byPackage[adv.Package] = append(byPackage[adv.Package], adv)
	}
	a.feed.byPackage = byPackage
	a.feed.fetchedAt = time.Now()
	return byPackage, nil
}
