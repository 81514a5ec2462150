package api

import (
	"encoding/json"
	"net/http"

	"github.com/cratehost/cratehost/internal/apierr"
	"github.com/cratehost/cratehost/internal/worker"
)

func (h *handler) adminWorkers(args []string, w http.ResponseWriter, r *http.Request) {
	h.requireAdmin()
	respondJSON(w, http.StatusOK, map[string]any{"workers": h.Workers.Workers()})
}

// adminWorkerConnect upgrades the connection to a worker websocket channel.
// A worker identifies itself with a JSON-encoded worker.Descriptor in the
// "descriptor" query parameter, decoded before the upgrade (the upgrade
// handshake itself carries no body); this is the same self-description a
// worker would otherwise send as the first frame, moved one step earlier
// so worker.Registry.Connect can register it atomically with the upgrade.
func (h *handler) adminWorkerConnect(args []string, w http.ResponseWriter, r *http.Request) {
	h.requireAdmin()

	var desc worker.Descriptor
	if err := json.Unmarshal([]byte(r.URL.Query().Get("descriptor")), &desc); err != nil {
		panic(apierr.Invalidf(apierr.CodeBadManifest, "decoding worker descriptor: %v", err))
	}
	if desc.ID == "" {
		panic(apierr.Invalidf(apierr.CodeBadManifest, "worker descriptor missing id"))
	}
	if err := h.Workers.Connect(w, r, desc); err != nil {
		apierr.Raise(err)
	}
}
