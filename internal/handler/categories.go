package handler

import (
	"net/http"
	"strings"

	"github.com/templui/tracker/internal/ctxkeys"
	"github.com/templui/tracker/internal/model"
	"github.com/templui/tracker/internal/service"
)

type categoryHandler struct {
	categoryService *service.CategoryService
}

func NewCategoryHandler(categoryService *service.CategoryService) *categoryHandler {
	return &categoryHandler{categoryService: categoryService}
}

func (h *categoryHandler) List(w http.ResponseWriter, r *http.Request) {
	principal := ctxkeys.Principal(r.Context())

	var (
		categories []*model.Category
		err        error
	)
	if role := r.URL.Query().Get("role"); role != "" {
		categories, err = h.categoryService.ByRole(principal.ID, role)
	} else {
		categories, err = h.categoryService.All(principal.ID)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

func (h *categoryHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in model.Category
	if !decodeJSON(w, r, &in) {
		return
	}

	principal := ctxkeys.Principal(r.Context())
	created, err := h.categoryService.Add(principal.ID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *categoryHandler) Patch(w http.ResponseWriter, r *http.Request) {
	var patch service.CategoryPatch
	if !decodeJSON(w, r, &patch) {
		return
	}

	principal := ctxkeys.Principal(r.Context())
	updated, err := h.categoryService.Update(principal.ID, r.PathValue("id"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *categoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	principal := ctxkeys.Principal(r.Context())
	if err := h.categoryService.Delete(principal.ID, r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *categoryHandler) Recommend(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	title, description := q.Get("title"), q.Get("description")
	if strings.TrimSpace(title+description) == "" {
		writeJSON(w, http.StatusOK, []service.Recommendation{})
		return
	}

	principal := ctxkeys.Principal(r.Context())
	recs, err := h.categoryService.Recommend(principal.ID, title, description)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if recs == nil {
		recs = []service.Recommendation{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *categoryHandler) AddTemplate(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Template string `json:"template"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	if strings.TrimSpace(in.Template) == "" {
		badRequest(w, "Template name is required")
		return
	}

	principal := ctxkeys.Principal(r.Context())
	updated, err := h.categoryService.AddTemplate(principal.ID, r.PathValue("id"), strings.TrimSpace(in.Template))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
