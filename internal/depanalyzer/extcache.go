package depanalyzer

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cratehost/cratehost/internal/apierr"
	"github.com/cratehost/cratehost/internal/index"
)

type extCacheEntry struct {
	entries   []index.Entry
	fetchedAt time.Time
}

// extCache caches parsed sparse-index files per (registry, package), on the
// same per-registry TTL as the vulnerability feed.
type extCache struct {
	mu  sync.Mutex
	byKey map[string]extCacheEntry
}

func (c *extCache) get(key string, ttl time.Duration, force bool) ([]index.Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.byKey[key]
	if !ok || (!force && time.Since(e.fetchedAt) >= ttl) {
		return nil, false
	}
	return e.entries, true
}

func (c *extCache) put(key string, entries []index.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.byKey == nil {
		c.byKey = map[string]extCacheEntry{}
	}
	c.byKey[key] = extCacheEntry{entries: entries, fetchedAt: time.Now()}
}

// fetchExternalEntries fetches and caches the sparse index file for name
// from a mirrored external registry, per spec.md §4.8 step 2.
func (a *Analyzer) fetchExternalEntries(ctx context.Context, registryName, name string, force bool) ([]index.Entry, error) {
	ext, ok := a.External[registryName]
	if !ok {
		return nil, apierr.UpstreamUnavailablef("unknown external registry %q", registryName)
	}

	key := registryName + "/" + index.ShardRelPath(name)
	if cached, ok := a.extCache.get(key, a.StaleRegistry, force); ok {
		return cached, nil
	}

	url := strings.TrimRight(ext.Index, "/") + "/" + index.ShardRelPath(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if ext.Login != "" {
		req.SetBasicAuth(ext.Login, ext.Token)
	}

	resp, err := a.httpClient().Do(req)
	if err != nil {
		return nil, apierr.UpstreamUnavailablef("fetching %s: %v", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		a.extCache.put(key, nil)
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apierr.UpstreamUnavailablef("fetching %s: status %d", url, resp.StatusCode)
	}

	var entries []index.Entry
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		var e index.Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	a.extCache.put(key, entries)
	return entries, nil
}
