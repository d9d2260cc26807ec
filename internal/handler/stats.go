package handler

import (
	"net/http"

	"github.com/jonboulle/clockwork"

	"github.com/templui/tracker/internal/ctxkeys"
	"github.com/templui/tracker/internal/model"
	"github.com/templui/tracker/internal/service"
	"github.com/templui/tracker/internal/workspace"
)

type statsHandler struct {
	registry        *workspace.Registry
	categoryService *service.CategoryService
	clock           clockwork.Clock
}

func NewStatsHandler(registry *workspace.Registry, categoryService *service.CategoryService, clock clockwork.Clock) *statsHandler {
	return &statsHandler{registry: registry, categoryService: categoryService, clock: clock}
}

type statsView struct {
	service.Stats
	Categories []service.CategoryStat `json:"categories"`
	SyncStatus model.SyncStatus       `json:"syncStatus"`
}

func (h *statsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	f, ok := journalFor(h.registry, w, r)
	if !ok {
		return
	}

	records, err := f.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	principal := ctxkeys.Principal(r.Context())
	categories, err := h.categoryService.All(principal.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, statsView{
		Stats:      service.Summarize(records, h.clock.Now()),
		Categories: h.categoryService.Stats(categories, records),
		SyncStatus: f.SyncStatus(),
	})
}

// Sync reports where the record set currently comes from.
func (h *statsHandler) Sync(w http.ResponseWriter, r *http.Request) {
	status := model.SyncDisconnected
	if ws := h.registry.Get(ctxkeys.ContextID(r.Context())); ws != nil {
		status = ws.Journal.SyncStatus()
	}
	writeJSON(w, http.StatusOK, map[string]model.SyncStatus{"syncStatus": status})
}
