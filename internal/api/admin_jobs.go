package api

import (
	"net/http"
	"strconv"

	"github.com/cratehost/cratehost/internal/apierr"
	"github.com/cratehost/cratehost/internal/db"
)

func (h *handler) adminJobsList(args []string, w http.ResponseWriter, r *http.Request) {
	h.requireAdmin()
	jobs, err := h.DB.Jobs().ListAll(r.Context())
	apierr.Check(err, "listing jobs")
	respondJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

type createJobRequest struct {
	Package   string `json:"package"`
	Version   string `json:"version"`
	Target    string `json:"target"`
	UseNative bool   `json:"use_native"`
}

// adminJobsCreate implements the admin-triggered documentation regeneration
// request of spec.md §4.6/§4.7: always enqueued, never rejected with
// QueueFull, per the "user-triggered regen always enqueues" rule.
func (h *handler) adminJobsCreate(args []string, w http.ResponseWriter, r *http.Request) {
	h.requireAdmin()
	var req createJobRequest
	decodeJSON(r, &req)

	if _, err := h.DB.Versions().Get(r.Context(), req.Package, req.Version); err != nil {
		panic(apierr.NotFoundf("%s@%s not found", req.Package, req.Version))
	}

	job, err := h.DB.Jobs().Create(r.Context(), db.DBDocGenJob{
		Package:     req.Package,
		Version:     req.Version,
		Target:      req.Target,
		UseNative:   req.UseNative,
		State:       db.JobQueued,
		Priority:    2,
		TriggeredBy: h.principalUserID(),
		TriggerKind: db.TriggerUser,
	})
	apierr.Check(err, "creating job")

	apierr.Raise(h.Workers.Enqueue(r.Context(), job, true))
	respondCreated(w, job)
}

func (h *handler) adminJobGet(args []string, w http.ResponseWriter, r *http.Request) {
	h.requireAdmin()
	id, _ := strconv.ParseInt(args[0], 10, 64)
	job, err := h.DB.Jobs().Get(r.Context(), id)
	if err != nil {
		panic(apierr.NotFoundf("job %d not found", id))
	}
	respondJSON(w, http.StatusOK, job)
}

func (h *handler) adminJobCancel(args []string, w http.ResponseWriter, r *http.Request) {
	h.requireAdmin()
	id, _ := strconv.ParseInt(args[0], 10, 64)
	apierr.Raise(h.Workers.Cancel(r.Context(), id))
	respondJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *handler) adminOrphans(args []string, w http.ResponseWriter, r *http.Request) {
	h.requireAdmin()
	orphans, err := h.DB.Orphans().List(r.Context())
	apierr.Check(err, "listing orphans")
	respondJSON(w, http.StatusOK, map[string]any{"orphans": orphans})
}
