package index

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// ServeSparse maps an HTTP request path directly to the corresponding
// index file's bytes, with ETag = the git object id of that file's blob
// in the current HEAD commit, per spec.md §4.4.
func (s *Store) ServeSparse(w http.ResponseWriter, r *http.Request) {
	rel := strings.TrimPrefix(r.URL.Path, "/")
	if rel == "config.json" {
		s.serveFile(w, r, filepath.Join(s.cfg.Location, "config.json"), "config.json")
		return
	}
	name := filepath.Base(rel)
	s.serveFile(w, r, pathForPackage(s.cfg.Location, name), ShardRelPath(name))
}

func (s *Store) serveFile(w http.ResponseWriter, r *http.Request, absPath, gitRelPath string) {
	data, err := os.ReadFile(absPath)
	if os.IsNotExist(err) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if etag, ok := s.blobETag(gitRelPath); ok {
		w.Header().Set("ETag", etag)
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(data)
}

// blobETag looks up the git object id of relPath's blob in the current
// HEAD tree.
func (s *Store) blobETag(relPath string) (string, bool) {
	head, err := s.repo.Head()
	if err != nil {
		return "", false
	}
	commit, err := s.repo.CommitObject(head.Hash())
	if err != nil {
		return "", false
	}
	tree, err := commit.Tree()
	if err != nil {
		return "", false
	}
	entry, err := tree.FindEntry(relPath)
	if err != nil {
		return "", false
	}
	return `"` + entry.Hash.String() + `"`, true
}
