package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/cratehost/cratehost/internal/apierr"
	"github.com/cratehost/cratehost/internal/blobstore"
)

type publishResponse struct {
	Warnings publishWarnings `json:"warnings"`
}

type publishWarnings struct {
	InvalidCategories []string `json:"invalid_categories"`
	InvalidBadges     []string `json:"invalid_badges"`
	Other             []string `json:"other"`
}

// publish implements PUT /api/v1/crates/new, spec.md §4.5.
func (h *handler) publish(args []string, w http.ResponseWriter, r *http.Request) {
	h.Publisher.Publish(r.Context(), h.principal, h.principalUserID(), io.LimitReader(r.Body, h.Publisher.BodyLimit+4096))
	respondJSON(w, http.StatusOK, publishResponse{})
}

// download implements GET /api/v1/crates/{name}/{version}/download,
// spec.md §4.1/§6.4: stream the tarball and record the hit.
func (h *handler) download(args []string, w http.ResponseWriter, r *http.Request) {
	name, version := args[0], args[1]
	if _, err := h.DB.Versions().Get(r.Context(), name, version); err != nil {
		panic(apierr.NotFoundf("%s@%s not found", name, version))
	}
	rc, err := h.Publisher.Blobs.Get(r.Context(), blobstore.CrateKey(name, version))
	if err != nil {
		apierr.Raise(err)
	}
	defer rc.Close()

	if err := h.DB.Versions().RecordDownload(r.Context(), name, version, h.now()); err != nil {
		apierr.Check(err, "recording download")
	}

	w.Header().Set("Content-Type", "application/gzip")
	io.Copy(w, rc)
}

type searchResponse struct {
	Crates []searchCrate  `json:"crates"`
	Meta   searchResponseMeta `json:"meta"`
}

type searchCrate struct {
	Name        string `json:"name"`
	MaxVersion  string `json:"max_version"`
	Description string `json:"description"`
}

type searchResponseMeta struct {
	Total int `json:"total"`
}

// search implements GET /api/v1/crates?q=…, spec.md §6.1.
func (h *handler) search(args []string, w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	pkgs, err := h.DB.Packages().Search(r.Context(), q, 100)
	apierr.Check(err, "searching packages")

	out := searchResponse{Meta: searchResponseMeta{Total: len(pkgs)}}
	for _, pkg := range pkgs {
		versions, err := h.DB.Versions().List(r.Context(), pkg.Name)
		apierr.Check(err, "listing versions for %s", pkg.Name)
		var max, desc string
		for _, v := range versions {
			if v.Yanked {
				continue
			}
			max = v.Version
			desc = v.Description
		}
		out.Crates = append(out.Crates, searchCrate{Name: pkg.Name, MaxVersion: max, Description: desc})
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *handler) yank(args []string, w http.ResponseWriter, r *http.Request) {
	h.Publisher.SetYank(r.Context(), h.principal, args[0], args[1], true)
	respondJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *handler) unyank(args []string, w http.ResponseWriter, r *http.Request) {
	h.Publisher.SetYank(r.Context(), h.principal, args[0], args[1], false)
	respondJSON(w, http.StatusOK, okResponse{OK: true})
}

type okResponse struct {
	OK bool `json:"ok"`
}

func decodeJSON(r *http.Request, v any) {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		panic(apierr.Invalidf(apierr.CodeBadManifest, "decoding request body: %v", err))
	}
}
