package handler

import (
	"net/http"

	"github.com/jonboulle/clockwork"

	"github.com/templui/tracker/internal/activity"
	"github.com/templui/tracker/internal/ctxkeys"
	"github.com/templui/tracker/internal/model"
	"github.com/templui/tracker/internal/session"
	"github.com/templui/tracker/internal/ui"
	"github.com/templui/tracker/internal/workspace"
)

type sessionHandler struct {
	registry *workspace.Registry
	clock    clockwork.Clock
}

func NewSessionHandler(registry *workspace.Registry, clock clockwork.Clock) *sessionHandler {
	return &sessionHandler{registry: registry, clock: clock}
}

type sessionView struct {
	Principal  *model.Principal `json:"principal"`
	Session    session.Info     `json:"session"`
	SyncStatus model.SyncStatus `json:"syncStatus"`
}

// Show reports the signed-in principal and the session countdowns.
func (h *sessionHandler) Show(w http.ResponseWriter, r *http.Request) {
	ws := h.registry.Get(ctxkeys.ContextID(r.Context()))
	view := sessionView{
		Principal:  ctxkeys.Principal(r.Context()),
		SyncStatus: model.SyncDisconnected,
	}
	if ws != nil {
		view.Session = ws.Engine.Info()
		view.SyncStatus = ws.Journal.SyncStatus()
	}
	writeJSON(w, http.StatusOK, view)
}

// Activity takes interaction events batched by the client.
func (h *sessionHandler) Activity(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Kinds []string `json:"kinds"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}

	ws := h.registry.Get(ctxkeys.ContextID(r.Context()))
	if ws == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	now := h.clock.Now()
	for _, name := range in.Kinds {
		kind, ok := activity.ParseKind(name)
		if !ok {
			badRequest(w, "Unknown activity kind: "+name)
			return
		}
		ws.Bus.Dispatch(activity.Signal{Kind: kind, At: now})
	}
	w.WriteHeader(http.StatusNoContent)
}

// Notice renders the one-time banner of a session that ended, if any.
func (h *sessionHandler) Notice(w http.ResponseWriter, r *http.Request) {
	n := h.registry.TakeNotice(ctxkeys.ContextID(r.Context()))
	if n == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Last-Modified", n.At.UTC().Format(http.TimeFormat))
	w.Header().Set("Cache-Control", "no-store")
	ui.Render(w, r, ui.Notice(string(n.Code), n.Message))
}
