// Package index is the git-backed Cargo sparse index (component C4): a
// directory tree of newline-delimited-JSON files, one per crate, committed
// to an embedded git repository after every mutation and optionally
// mirrored to a remote over SSH.
//
// The sharding rule and the git plumbing are grounded on
// original_source/src/index.rs's Index type (file_for_package,
// publish_crate_version, on_launch, execute_git); the per-name advisory
// lock and the atomic tempfile+rename file write are grounded on the
// teacher's upload.go (per-upload mutex map) and registry.go
// (tempfile-then-rename blob write), generalized from "one file per blob
// upload" to "one file per crate name."
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/cratehost/cratehost/internal/apierr"
)

// Entry is one newline-delimited-JSON line of a crate's index file, the
// fields spec.md §4.4 names after the Cargo index spec.
type Entry struct {
	Name        string             `json:"name"`
	Vers        string             `json:"vers"`
	Deps        []EntryDep         `json:"deps"`
	Cksum       string             `json:"cksum"`
	Features    map[string][]string `json:"features"`
	Yanked      bool               `json:"yanked"`
	Links       string             `json:"links,omitempty"`
	V           int                `json:"v"`
	RustVersion string             `json:"rust_version,omitempty"`
}

type EntryDep struct {
	Name               string   `json:"name"`
	Req                string   `json:"req"`
	Features           []string `json:"features"`
	Optional           bool     `json:"optional"`
	DefaultFeatures    bool     `json:"default_features"`
	Target             string   `json:"target,omitempty"`
	Kind               string   `json:"kind"`
	Registry           string   `json:"registry,omitempty"`
	ExplicitNameInToml string   `json:"explicit_name_in_toml,omitempty"`
}

// Config carries the subset of config.Config the index store needs,
// narrowed from the full Config so this package does not import it
// wholesale (avoids an import cycle with internal/config's consumers).
type Config struct {
	Location          string
	PublicConfigJSON  []byte
	UserName          string
	UserEmail         string
	RemoteURL         string
	RemoteSSHKeyFile  string
	RemotePushChanges bool
}

// Store is the opened, ready-to-mutate index.
type Store struct {
	cfg Config
	mu  sync.Mutex // guards the map, not the git repo itself
	nameLocks map[string]*sync.Mutex
	repo      *git.Repository

	reconciler *reconciler
}

// Open prepares the index repository, initializing an empty one or opening
// an existing checkout; it does not clone from a remote.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if err := os.MkdirAll(cfg.Location, 0755); err != nil {
		return nil, err
	}
	s := &Store{cfg: cfg, nameLocks: map[string]*sync.Mutex{}}

	entries, err := os.ReadDir(cfg.Location)
	if err != nil {
		return nil, err
	}
	switch {
	case len(entries) == 0:
		if err := s.initializeEmpty(); err != nil {
			return nil, err
		}
	default:
		repo, err := git.PlainOpen(cfg.Location)
		if err != nil {
			return nil, fmt.Errorf("opening index git repo: %w", err)
		}
		s.repo = repo
	}

	s.reconciler = newReconciler(s)
	s.reconciler.start()
	return s, nil
}

func (s *Store) initializeEmpty() error {
	repo, err := git.PlainInit(s.cfg.Location, false)
	if err != nil {
		return fmt.Errorf("initializing index git repo: %w", err)
	}
	s.repo = repo

	configPath := filepath.Join(s.cfg.Location, "config.json")
	if err := os.WriteFile(configPath, s.cfg.PublicConfigJSON, 0644); err != nil {
		return err
	}
	_, err = s.commitAll("Add initial configuration")
	return err
}

func (s *Store) lockFor(name string) *sync.Mutex {
	key := strings.ToLower(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.nameLocks[key]
	if !ok {
		l = &sync.Mutex{}
		s.nameLocks[key] = l
	}
	return l
}

// pathForPackage applies the sharding rule from original_source's
// file_for_package: 1- and 2-char names share shard "1"; 3-char names
// shard under "3/{first char}"; longer names shard under
// "{first 2 chars}/{next 2 chars}". Followed verbatim rather than the
// slightly different scheme spec.md's prose sketches, per the instruction
// to resolve index-layout ambiguity from the original implementation.
func pathForPackage(location, name string) string {
	return filepath.Join(location, filepath.FromSlash(ShardRelPath(name)))
}

// ShardRelPath returns name's sparse-index shard path relative to an index
// root, using "/" regardless of OS, so it doubles as a URL path segment
// when fetching a mirrored external registry's sparse index (internal/depanalyzer).
func ShardRelPath(name string) string {
	lower := strings.ToLower(name)
	switch len(lower) {
	case 1, 2:
		return "1/" + lower
	case 3:
		return "3/" + lower[0:1] + "/" + lower
	default:
		return lower[0:2] + "/" + lower[2:4] + "/" + lower
	}
}

func (s *Store) readEntries(name string) ([]Entry, error) {
	path := pathForPackage(s.cfg.Location, name)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) writeEntries(name string, entries []Entry) error {
	path := pathForPackage(s.cfg.Location, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	var buf strings.Builder
	for _, e := range entries {
		b, err := json.Marshal(e)
		if err != nil {
			return err
		}
		buf.Write(b)
		buf.WriteByte('\n')
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "idx-")
	if err != nil {
		return err
	}
	if _, err := tmp.WriteString(buf.String()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// AddVersion appends (or, if canOverwrite, replaces in place) the entry for
// e.Name/e.Vers and commits, per spec.md §4.4/§9's canOverwrite decision.
func (s *Store) AddVersion(ctx context.Context, e Entry, canOverwrite bool) error {
	lock := s.lockFor(e.Name)
	lock.Lock()
	defer lock.Unlock()

	entries, err := s.readEntries(e.Name)
	if err != nil {
		return apierr.IndexUnavailablef("reading index for %s: %v", e.Name, err)
	}
	replaced := false
	for i := range entries {
		if entries[i].Vers == e.Vers {
			if !canOverwrite {
				return apierr.Conflictf(apierr.CodeVersionExists, "%s@%s already in index", e.Name, e.Vers)
			}
			entries[i] = e
			replaced = true
			break
		}
	}
	if !replaced {
		entries = append(entries, e)
	}
	if err := s.writeEntries(e.Name, entries); err != nil {
		return apierr.IndexUnavailablef("writing index for %s: %v", e.Name, err)
	}
	_, err = s.commitAll(fmt.Sprintf("Update %s", e.Name))
	if err != nil {
		return apierr.IndexUnavailablef("committing index for %s: %v", e.Name, err)
	}
	s.reconciler.notify()
	return nil
}

// Yank flips the yanked bit for name@version and commits.
func (s *Store) Yank(ctx context.Context, name, version string, yanked bool) error {
	lock := s.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	entries, err := s.readEntries(name)
	if err != nil {
		return apierr.IndexUnavailablef("reading index for %s: %v", name, err)
	}
	found := false
	for i := range entries {
		if entries[i].Vers == version {
			entries[i].Yanked = yanked
			found = true
			break
		}
	}
	if !found {
		return apierr.NotFoundf("%s@%s not in index", name, version)
	}
	if err := s.writeEntries(name, entries); err != nil {
		return apierr.IndexUnavailablef("writing index for %s: %v", name, err)
	}
	verb := "Yank"
	if !yanked {
		verb = "Unyank"
	}
	_, err = s.commitAll(fmt.Sprintf("%s %s@%s", verb, name, version))
	if err != nil {
		return apierr.IndexUnavailablef("committing index for %s: %v", name, err)
	}
	s.reconciler.notify()
	return nil
}

// RemoveVersion deletes a single version's entry, used by admin deletion.
func (s *Store) RemoveVersion(ctx context.Context, name, version string) error {
	lock := s.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	entries, err := s.readEntries(name)
	if err != nil {
		return apierr.IndexUnavailablef("reading index for %s: %v", name, err)
	}
	out := entries[:0]
	for _, e := range entries {
		if e.Vers != version {
			out = append(out, e)
		}
	}
	if err := s.writeEntries(name, out); err != nil {
		return apierr.IndexUnavailablef("writing index for %s: %v", name, err)
	}
	_, err = s.commitAll(fmt.Sprintf("Remove %s@%s", name, version))
	if err != nil {
		return apierr.IndexUnavailablef("committing index for %s: %v", name, err)
	}
	s.reconciler.notify()
	return nil
}

// RemovePackage deletes the whole crate file, used by admin deletion.
func (s *Store) RemovePackage(ctx context.Context, name string) error {
	lock := s.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	path := pathForPackage(s.cfg.Location, name)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return apierr.IndexUnavailablef("removing index file for %s: %v", name, err)
	}
	_, err := s.commitAll(fmt.Sprintf("Remove %s", name))
	if err != nil {
		return apierr.IndexUnavailablef("committing index for %s: %v", name, err)
	}
	s.reconciler.notify()
	return nil
}

// Get returns the decoded entries for name, used by the sparse protocol's
// programmatic (non-HTTP) callers such as the publication pipeline's
// preflight step.
func (s *Store) Get(name string) ([]Entry, error) {
	return s.readEntries(name)
}

// commitAll stages the whole worktree and commits with the configured
// author identity, mirroring execute_git(location, ["add", "."]) followed
// by ["commit", "-m", message] from original_source.
func (s *Store) commitAll(message string) (string, error) {
	wt, err := s.repo.Worktree()
	if err != nil {
		return "", err
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", err
	}
	sig := &object.Signature{Name: s.cfg.UserName, Email: s.cfg.UserEmail, When: time.Now()}
	hash, err := wt.Commit(message, &git.CommitOptions{Author: sig, Committer: sig})
	if err != nil {
		return "", err
	}
	return hash.String(), nil
}
