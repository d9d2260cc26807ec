package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/templui/tracker/internal/ctxkeys"
	"github.com/templui/tracker/internal/filter"
	"github.com/templui/tracker/internal/journal"
	"github.com/templui/tracker/internal/markdown"
	"github.com/templui/tracker/internal/model"
	"github.com/templui/tracker/internal/service"
	"github.com/templui/tracker/internal/ui"
	"github.com/templui/tracker/internal/validation"
	"github.com/templui/tracker/internal/workspace"
)

const (
	maxImportSize    = 1 << 20
	maxUploadSize    = 5 * model.MaxAttachmentSize
	streamKeepAlive  = 25 * time.Second
	exportDateLayout = "2006-01-02"
)

type recordHandler struct {
	registry    *workspace.Registry
	attachments *service.AttachmentService
	categories  *service.CategoryService
	parser      *markdown.Parser
	clock       clockwork.Clock
}

func NewRecordHandler(
	registry *workspace.Registry,
	attachments *service.AttachmentService,
	categories *service.CategoryService,
	parser *markdown.Parser,
	clock clockwork.Clock,
) *recordHandler {
	return &recordHandler{
		registry:    registry,
		attachments: attachments,
		categories:  categories,
		parser:      parser,
		clock:       clock,
	}
}

type recordList struct {
	Records    []*model.Record  `json:"records"`
	Total      int              `json:"total"`
	SyncStatus model.SyncStatus `json:"syncStatus"`
}

// journalFor returns the facade of the caller's browsing context. A
// context without a workspace answers as signed out.
func journalFor(registry *workspace.Registry, w http.ResponseWriter, r *http.Request) (*journal.Facade, bool) {
	ws := registry.Get(ctxkeys.ContextID(r.Context()))
	if ws == nil {
		writeError(w, r, &journal.OpError{Op: "load", Err: journal.ErrNotBound})
		return nil, false
	}
	return ws.Journal, true
}

func criteriaFrom(q url.Values) (filter.Criteria, filter.Sort) {
	c := filter.Criteria{
		Search:   q.Get("search"),
		Category: q.Get("category"),
		Date:     q.Get("date"),
		Status:   q.Get("status"),
		Priority: q.Get("priority"),
		Kind:     q.Get("kind"),
	}
	return c, filter.ParseSort(q.Get("sort"))
}

func (h *recordHandler) List(w http.ResponseWriter, r *http.Request) {
	f, ok := journalFor(h.registry, w, r)
	if !ok {
		return
	}

	records, err := f.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	c, s := criteriaFrom(r.URL.Query())
	view := filter.Apply(records, c, s)
	writeJSON(w, http.StatusOK, recordList{Records: view, Total: len(records), SyncStatus: f.SyncStatus()})
}

func (h *recordHandler) Create(w http.ResponseWriter, r *http.Request) {
	f, ok := journalFor(h.registry, w, r)
	if !ok {
		return
	}

	var in model.Record
	if !decodeJSON(w, r, &in) {
		return
	}
	// Ownership and timestamps are always set server side.
	in.ID = ""
	in.PrincipalID = ""
	in.CreatedAt = time.Time{}
	in.Attachments = nil

	rec, err := f.Save(r.Context(), &in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *recordHandler) Get(w http.ResponseWriter, r *http.Request) {
	f, ok := journalFor(h.registry, w, r)
	if !ok {
		return
	}

	rec, err := f.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.attachments.Resolve(r.Context(), rec.Attachments)
	writeJSON(w, http.StatusOK, rec)
}

func (h *recordHandler) Patch(w http.ResponseWriter, r *http.Request) {
	f, ok := journalFor(h.registry, w, r)
	if !ok {
		return
	}

	var patch model.RecordPatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	// Attachments change through their own endpoint.
	patch.Attachments = nil

	id := r.PathValue("id")
	if err := f.Update(r.Context(), id, patch); err != nil {
		writeError(w, r, err)
		return
	}

	rec, err := f.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *recordHandler) Delete(w http.ResponseWriter, r *http.Request) {
	f, ok := journalFor(h.registry, w, r)
	if !ok {
		return
	}

	id := r.PathValue("id")
	rec, err := f.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := f.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	h.attachments.Remove(r.Context(), rec.Attachments)
	w.WriteHeader(http.StatusNoContent)
}

type bulkRequest struct {
	IDs    []string          `json:"ids"`
	Action string            `json:"action"` // "update" or "delete"
	Patch  model.RecordPatch `json:"patch"`
}

type bulkResult struct {
	Affected int      `json:"affected"`
	Errors   []string `json:"errors,omitempty"`
}

func (h *recordHandler) Bulk(w http.ResponseWriter, r *http.Request) {
	f, ok := journalFor(h.registry, w, r)
	if !ok {
		return
	}

	var in bulkRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	if len(in.IDs) == 0 {
		badRequest(w, "No records selected")
		return
	}

	var (
		affected int
		err      error
	)
	switch in.Action {
	case "", "update":
		in.Patch.Attachments = nil
		affected, err = f.BulkUpdate(r.Context(), in.IDs, in.Patch)
	case "delete":
		var errs []error
		for _, id := range in.IDs {
			if derr := f.Delete(r.Context(), id); derr != nil {
				errs = append(errs, fmt.Errorf("%s: %w", id, derr))
				continue
			}
			affected++
		}
		err = errors.Join(errs...)
	default:
		badRequest(w, "Unknown bulk action")
		return
	}

	res := bulkResult{Affected: affected}
	if err != nil {
		slog.Warn("bulk operation partly failed", "error", err, "action", in.Action, "affected", affected)
		res.Errors = strings.Split(err.Error(), "\n")
	}
	writeJSON(w, http.StatusOK, res)
}

// Stream pushes the filtered record view as server-sent events whenever
// the record set changes. Slow readers skip to the newest snapshot.
func (h *recordHandler) Stream(w http.ResponseWriter, r *http.Request) {
	f, ok := journalFor(h.registry, w, r)
	if !ok {
		return
	}

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		slog.Error("record stream not supported", "error", err)
		return
	}

	c, s := criteriaFrom(r.URL.Query())
	mailbox := journal.NewMailbox()
	unsubscribe := f.Subscribe(func(snap journal.Snapshot) { mailbox.Put(snap) })
	defer unsubscribe()

	keepAlive := h.clock.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.Chan():
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
		case <-mailbox.Ready():
			snap, ok := mailbox.Take()
			if !ok {
				continue
			}
			// The feed closes with an empty snapshot on sign-out.
			if snap.PrincipalID == "" {
				_ = writeEvent(w, "signed-out", snap.Seq, struct{}{})
				_ = rc.Flush()
				return
			}
			view := recordList{Records: filter.Apply(snap.Records, c, s), Total: len(snap.Records), SyncStatus: snap.Status}
			if err := writeEvent(w, "records", snap.Seq, view); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeEvent(w io.Writer, event string, id uint64, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}

func (h *recordHandler) Preview(w http.ResponseWriter, r *http.Request) {
	f, ok := journalFor(h.registry, w, r)
	if !ok {
		return
	}

	rec, err := f.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	body, err := h.parser.Render([]byte(rec.Description))
	if err != nil {
		writeError(w, r, err)
		return
	}
	ui.Render(w, r, ui.Preview(rec.ID, body))
}

// Import creates a record from a markdown document with optional front
// matter. The body is either raw markdown or a multipart "file" field.
func (h *recordHandler) Import(w http.ResponseWriter, r *http.Request) {
	f, ok := journalFor(h.registry, w, r)
	if !ok {
		return
	}

	source, err := readImport(w, r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	rec, err := h.parser.Import(source)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rec.ApplyDefaults()
	if rec.Kind == model.KindMemo && rec.Date == "" {
		rec.Date = h.clock.Now().Format(model.DateLayout)
	}

	saved, err := f.Save(r.Context(), rec)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func readImport(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxImportSize); err != nil {
			return nil, errors.New("invalid upload")
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, errors.New("file is required")
		}
		defer file.Close()
		return io.ReadAll(io.LimitReader(file, maxImportSize))
	}

	source, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportSize))
	if err != nil {
		return nil, errors.New("document too large")
	}
	if len(bytes.TrimSpace(source)) == 0 {
		return nil, errors.New("document is empty")
	}
	return source, nil
}

func (h *recordHandler) Attach(w http.ResponseWriter, r *http.Request) {
	f, ok := journalFor(h.registry, w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(model.MaxAttachmentSize); err != nil {
		badRequest(w, "Upload too large or malformed")
		return
	}
	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		badRequest(w, "No files uploaded")
		return
	}

	uploads := make([]service.Upload, 0, len(headers))
	for _, fh := range headers {
		// Stored types are sniffed from content, never taken from the client.
		mimeType, err := validation.ValidateFile(fh, validation.AttachmentConstraints)
		if err != nil {
			writeError(w, r, &model.ValidationError{Problems: []string{fmt.Sprintf("error processing file %q: %v", fh.Filename, err)}})
			return
		}
		file, err := fh.Open()
		if err != nil {
			badRequest(w, "Could not read upload")
			return
		}
		content, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			badRequest(w, "Could not read upload")
			return
		}
		uploads = append(uploads, service.Upload{Name: fh.Filename, MimeType: mimeType, Content: content})
	}

	principal := ctxkeys.Principal(r.Context())
	added, err := h.attachments.Attach(r.Context(), f, principal.ID, r.PathValue("id"), uploads)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.attachments.Resolve(r.Context(), added)
	writeJSON(w, http.StatusCreated, added)
}

type exportDocument struct {
	*journal.Export
	Categories []*model.Category `json:"categories"`
}

func (h *recordHandler) Export(w http.ResponseWriter, r *http.Request) {
	f, ok := journalFor(h.registry, w, r)
	if !ok {
		return
	}

	export, err := f.Export(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	custom, err := h.categories.Custom(export.PrincipalID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	name := fmt.Sprintf("tracker-export-%s.json", export.ExportedAt.Format(exportDateLayout))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	writeJSON(w, http.StatusOK, exportDocument{Export: export, Categories: custom})
}

// Migrate moves records kept on the device into the document store.
func (h *recordHandler) Migrate(w http.ResponseWriter, r *http.Request) {
	f, ok := journalFor(h.registry, w, r)
	if !ok {
		return
	}

	migrated, err := f.MigrateLocal(r.Context())
	if err != nil && migrated == 0 {
		writeError(w, r, err)
		return
	}
	res := map[string]any{"migrated": migrated, "syncStatus": f.SyncStatus()}
	if err != nil {
		res["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *recordHandler) FromTemplate(w http.ResponseWriter, r *http.Request) {
	f, ok := journalFor(h.registry, w, r)
	if !ok {
		return
	}

	var in struct {
		CategoryID string `json:"categoryId"`
		Template   string `json:"template"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}

	principal := ctxkeys.Principal(r.Context())
	rec, err := h.categories.FromTemplate(principal.ID, in.CategoryID, in.Template)
	if err != nil {
		writeError(w, r, err)
		return
	}
	saved, err := f.Save(r.Context(), rec)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (h *recordHandler) AddSubtask(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Title string `json:"title"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	if strings.TrimSpace(in.Title) == "" {
		badRequest(w, "Subtask title is required")
		return
	}

	h.mutate(w, r, func(rec *model.Record, now time.Time) (model.RecordPatch, error) {
		rec.AddSubtask(uuid.NewString(), strings.TrimSpace(in.Title), now)
		return model.RecordPatch{Subtasks: &rec.Subtasks}, nil
	})
}

func (h *recordHandler) ToggleSubtask(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(rec *model.Record, now time.Time) (model.RecordPatch, error) {
		if !rec.ToggleSubtask(r.PathValue("subtask"), now) {
			return model.RecordPatch{}, journal.ErrRecordNotFound
		}
		return model.RecordPatch{Subtasks: &rec.Subtasks}, nil
	})
}

func (h *recordHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Text string `json:"text"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	if strings.TrimSpace(in.Text) == "" {
		badRequest(w, "Comment text is required")
		return
	}

	principal := ctxkeys.Principal(r.Context())
	h.mutate(w, r, func(rec *model.Record, now time.Time) (model.RecordPatch, error) {
		rec.AddComment(uuid.NewString(), strings.TrimSpace(in.Text), principal, now)
		return model.RecordPatch{Comments: &rec.Comments}, nil
	})
}

// mutate loads a record, lets fn change it and writes the patch fn
// returns. The stored record is answered.
func (h *recordHandler) mutate(w http.ResponseWriter, r *http.Request, fn func(*model.Record, time.Time) (model.RecordPatch, error)) {
	f, ok := journalFor(h.registry, w, r)
	if !ok {
		return
	}

	id := r.PathValue("id")
	rec, err := f.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	patch, err := fn(rec, h.clock.Now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := f.Update(r.Context(), id, patch); err != nil {
		writeError(w, r, err)
		return
	}

	rec, err = f.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
