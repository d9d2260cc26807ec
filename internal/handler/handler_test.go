package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/templui/tracker/internal/config"
	"github.com/templui/tracker/internal/db"
	"github.com/templui/tracker/internal/docstore"
	"github.com/templui/tracker/internal/localstore"
	"github.com/templui/tracker/internal/markdown"
	"github.com/templui/tracker/internal/middleware"
	"github.com/templui/tracker/internal/model"
	"github.com/templui/tracker/internal/repository"
	"github.com/templui/tracker/internal/service"
	"github.com/templui/tracker/internal/session"
	"github.com/templui/tracker/internal/workspace"
)

const testPassword = "correct-horse-battery-9"

type testServer struct {
	clock  *clockwork.FakeClock
	srv    *httptest.Server
	client *http.Client
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	conn, err := sqlx.Connect("sqlite", filepath.Join(t.TempDir(), "handler.db"))
	require.NoError(t, err)
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, db.RunMigrations(conn.DB, "sqlite"))

	// Cookies and JWTs are checked against the wall clock.
	clock := clockwork.NewFakeClockAt(time.Now().UTC())
	sessions := repository.NewSessionRepository(conn)
	auth := service.NewAuthService(
		repository.NewPrincipalRepository(conn),
		repository.NewTokenRepository(conn),
		sessions,
		service.NewEmailService("", "noreply@example.com", "http://localhost", "Tracker", true),
		clock,
		service.AuthOptions{
			JWTSecret:           "test-secret",
			JWTExpiry:           24 * time.Hour,
			PasswordResetExpiry: time.Hour,
		},
	)
	registry := workspace.NewRegistry(auth, workspace.Deps{
		Remote: docstore.NewSQLStore(conn, docstore.WithRules(docstore.OwnerOnly), docstore.WithClock(clock)),
		Local:  localstore.NewMemoryStore(),
		Stamps: sessions,
		Clock:  clock,
		Policy: session.DefaultPolicy(),
	})
	t.Cleanup(registry.Close)

	categoryService := service.NewCategoryService(repository.NewCategoryRepository(conn), clock)
	authHandler := NewAuthHandler(auth, &config.Config{})
	sessionHandler := NewSessionHandler(registry, clock)
	records := NewRecordHandler(registry, service.NewAttachmentService(nil, clock), categoryService, markdown.NewParser(), clock)
	categories := NewCategoryHandler(categoryService)
	stats := NewStatsHandler(registry, categoryService, clock)
	health := NewHealthHandler(map[string]Check{"database": conn.PingContext})
	requireAuth := middleware.RequireAuth(registry)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", health.Health)
	mux.HandleFunc("POST /auth/signup", authHandler.SignUp)
	mux.HandleFunc("POST /auth/password", authHandler.PasswordSignIn)
	mux.HandleFunc("POST /auth/logout", authHandler.Logout)
	mux.HandleFunc("GET /session/notice", sessionHandler.Notice)
	mux.HandleFunc("GET /app/session", requireAuth(sessionHandler.Show))
	mux.HandleFunc("POST /app/session/activity", requireAuth(sessionHandler.Activity))
	mux.HandleFunc("GET /app/records", requireAuth(records.List))
	mux.HandleFunc("POST /app/records", requireAuth(records.Create))
	mux.HandleFunc("GET /app/records/stream", requireAuth(records.Stream))
	mux.HandleFunc("GET /app/records/export", requireAuth(records.Export))
	mux.HandleFunc("POST /app/records/bulk", requireAuth(records.Bulk))
	mux.HandleFunc("POST /app/records/import", requireAuth(records.Import))
	mux.HandleFunc("GET /app/records/{id}", requireAuth(records.Get))
	mux.HandleFunc("PATCH /app/records/{id}", requireAuth(records.Patch))
	mux.HandleFunc("DELETE /app/records/{id}", requireAuth(records.Delete))
	mux.HandleFunc("GET /app/records/{id}/preview", requireAuth(records.Preview))
	mux.HandleFunc("POST /app/records/{id}/attachments", requireAuth(records.Attach))
	mux.HandleFunc("POST /app/records/{id}/subtasks", requireAuth(records.AddSubtask))
	mux.HandleFunc("GET /app/categories", requireAuth(categories.List))
	mux.HandleFunc("POST /app/categories", requireAuth(categories.Create))
	mux.HandleFunc("GET /app/categories/recommend", requireAuth(categories.Recommend))
	mux.HandleFunc("DELETE /app/categories/{id}", requireAuth(categories.Delete))
	mux.HandleFunc("GET /app/stats", requireAuth(stats.Stats))

	srv := httptest.NewServer(middleware.Chain(mux,
		middleware.BrowsingContext,
		middleware.AuthMiddleware(auth),
		middleware.Activity(registry, clock),
	))
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &testServer{
		clock:  clock,
		srv:    srv,
		client: &http.Client{Jar: jar, Timeout: 5 * time.Second},
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *testServer) signUp(t *testing.T, email string) {
	t.Helper()
	resp := s.do(t, http.MethodPost, "/auth/signup", map[string]string{"email": email, "password": testPassword, "name": "Dana"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func (s *testServer) createRecord(t *testing.T, in map[string]any) model.Record {
	t.Helper()
	resp := s.do(t, http.MethodPost, "/app/records", in)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var rec model.Record
	decode(t, resp, &rec)
	return rec
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestSignUpOpensSession(t *testing.T) {
	s := newTestServer(t)
	s.signUp(t, "dana@example.com")

	resp := s.do(t, http.MethodGet, "/app/session", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var view struct {
		Principal model.Principal `json:"principal"`
		Session   session.Info    `json:"session"`
	}
	decode(t, resp, &view)
	assert.Equal(t, "dana@example.com", view.Principal.Email)
	assert.Equal(t, session.StateActive, view.Session.State)
	assert.Equal(t, 120, view.Session.MinutesUntilExpiry)
	assert.Equal(t, 30, view.Session.MinutesUntilInactivity)
}

func TestSignUpRejectsWeakPassword(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/auth/signup", map[string]string{"email": "dana@example.com", "password": "short"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body errorBody
	decode(t, resp, &body)
	assert.Equal(t, service.CodeWeakCredential, body.Code)
}

func TestPasswordSignIn(t *testing.T) {
	s := newTestServer(t)
	s.signUp(t, "dana@example.com")
	require.Equal(t, http.StatusNoContent, s.do(t, http.MethodPost, "/auth/logout", nil).StatusCode)

	resp := s.do(t, http.MethodPost, "/auth/password", map[string]string{"email": "dana@example.com", "password": "not-the-password-1"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/auth/password", map[string]string{"email": "DANA@example.com", "password": testPassword})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/app/records", nil).StatusCode)
}

func TestProtectedRoutesRequireSignIn(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodGet, "/app/records", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var body struct {
		Code   service.AuthCode  `json:"code"`
		Notice *workspace.Notice `json:"notice"`
	}
	decode(t, resp, &body)
	assert.Equal(t, service.CodeUnauthenticated, body.Code)
	assert.Nil(t, body.Notice)
}

func TestLogoutEndsAccess(t *testing.T) {
	s := newTestServer(t)
	s.signUp(t, "dana@example.com")

	require.Equal(t, http.StatusNoContent, s.do(t, http.MethodPost, "/auth/logout", nil).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/app/records", nil).StatusCode)
	// Explicit sign-out leaves no notice behind.
	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodGet, "/session/notice", nil).StatusCode)
}

func TestRecordLifecycle(t *testing.T) {
	s := newTestServer(t)
	s.signUp(t, "dana@example.com")

	memo := s.createRecord(t, map[string]any{
		"kind":        "memo",
		"title":       "Standup notes",
		"description": "Talked about **caching**",
		"date":        "2024-06-03",
		"tags":        []string{"Team", "team"},
	})
	assert.NotEmpty(t, memo.ID)
	assert.Equal(t, model.DefaultCategory, memo.Category)
	assert.Equal(t, []string{"team"}, memo.Tags)

	task := s.createRecord(t, map[string]any{
		"kind":     "task",
		"title":    "Ship API",
		"category": "dev-backend",
	})
	assert.Equal(t, model.StatusTodo, task.Status)
	assert.Equal(t, model.PriorityMedium, task.Priority)

	resp := s.do(t, http.MethodGet, "/app/records?kind=task", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list recordList
	decode(t, resp, &list)
	assert.Equal(t, 2, list.Total)
	require.Len(t, list.Records, 1)
	assert.Equal(t, task.ID, list.Records[0].ID)

	resp = s.do(t, http.MethodPatch, "/app/records/"+task.ID, map[string]any{"status": "done"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var patched model.Record
	decode(t, resp, &patched)
	assert.Equal(t, model.StatusDone, patched.Status)
	assert.NotNil(t, patched.CompletedAt)

	resp = s.do(t, http.MethodGet, "/app/records/"+memo.ID+"/preview", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	html, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(html), "<strong>caching</strong>")

	require.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/app/records/"+memo.ID, nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/app/records/"+memo.ID, nil).StatusCode)
}

func TestCreateReportsEveryProblem(t *testing.T) {
	s := newTestServer(t)
	s.signUp(t, "dana@example.com")

	resp := s.do(t, http.MethodPost, "/app/records", map[string]any{"kind": "memo", "priority": "urgent"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body errorBody
	decode(t, resp, &body)
	assert.Contains(t, body.Error, "Title is required")
	assert.Contains(t, body.Error, "Date is required")
	assert.Contains(t, body.Error, "Invalid priority level")
}

func TestRecordsArePrivate(t *testing.T) {
	owner := newTestServer(t)
	owner.signUp(t, "dana@example.com")
	rec := owner.createRecord(t, map[string]any{"kind": "task", "title": "Mine", "category": "dev-backend"})

	// A second browser on the same server is a separate context.
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	other := &testServer{clock: owner.clock, srv: owner.srv, client: &http.Client{Jar: jar, Timeout: 5 * time.Second}}
	other.signUp(t, "sam@example.com")

	assert.Equal(t, http.StatusNotFound, other.do(t, http.MethodGet, "/app/records/"+rec.ID, nil).StatusCode)
	var list recordList
	decode(t, other.do(t, http.MethodGet, "/app/records", nil), &list)
	assert.Empty(t, list.Records)
}

func TestBulkUpdate(t *testing.T) {
	s := newTestServer(t)
	s.signUp(t, "dana@example.com")
	a := s.createRecord(t, map[string]any{"kind": "task", "title": "One", "category": "dev-backend"})
	b := s.createRecord(t, map[string]any{"kind": "task", "title": "Two", "category": "dev-backend"})

	resp := s.do(t, http.MethodPost, "/app/records/bulk", map[string]any{
		"ids":    []string{a.ID, b.ID, "missing"},
		"action": "update",
		"patch":  map[string]any{"priority": "high"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res bulkResult
	decode(t, resp, &res)
	assert.Equal(t, 2, res.Affected)
	assert.Len(t, res.Errors, 1)

	var list recordList
	decode(t, s.do(t, http.MethodGet, "/app/records?priority=high", nil), &list)
	assert.Len(t, list.Records, 2)

	resp = s.do(t, http.MethodPost, "/app/records/bulk", map[string]any{"ids": []string{}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAddSubtask(t *testing.T) {
	s := newTestServer(t)
	s.signUp(t, "dana@example.com")
	task := s.createRecord(t, map[string]any{"kind": "task", "title": "Release", "category": "dev-devops"})

	resp := s.do(t, http.MethodPost, "/app/records/"+task.ID+"/subtasks", map[string]string{"title": "Tag build"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rec model.Record
	decode(t, resp, &rec)
	require.Len(t, rec.Subtasks, 1)
	assert.Equal(t, "Tag build", rec.Subtasks[0].Title)
	assert.False(t, rec.Subtasks[0].Completed)
}

func TestImportMarkdown(t *testing.T) {
	s := newTestServer(t)
	s.signUp(t, "dana@example.com")

	doc := "---\nkind: task\ntitle: Plan sprint\ncategory: dev-review\ntags: [planning]\npriority: high\n---\nPick the top five issues.\n"
	req, err := http.NewRequest(http.MethodPost, s.srv.URL+"/app/records/import", strings.NewReader(doc))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "text/markdown")
	resp, err := s.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var rec model.Record
	decode(t, resp, &rec)
	assert.Equal(t, "Plan sprint", rec.Title)
	assert.Equal(t, model.KindTask, rec.Kind)
	assert.Equal(t, []string{"planning"}, rec.Tags)

	req, err = http.NewRequest(http.MethodPost, s.srv.URL+"/app/records/import", strings.NewReader("   "))
	require.NoError(t, err)
	resp2, err := s.client.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestAttach(t *testing.T) {
	s := newTestServer(t)
	s.signUp(t, "dana@example.com")
	task := s.createRecord(t, map[string]any{"kind": "task", "title": "Docs", "category": "dev-review"})

	upload := func(name, contentType string, content []byte) *http.Response {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		part, err := mw.CreatePart(map[string][]string{
			"Content-Disposition": {`form-data; name="files"; filename="` + name + `"`},
			"Content-Type":        {contentType},
		})
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		req, err := http.NewRequest(http.MethodPost, s.srv.URL+"/app/records/"+task.ID+"/attachments", &body)
		require.NoError(t, err)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		resp, err := s.client.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp := upload("notes.txt", "text/plain", []byte("hello"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = upload("run.exe", "application/x-msdownload", []byte("MZ"))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body errorBody
	decode(t, resp, &body)
	assert.Contains(t, body.Error, `error processing file "run.exe"`)

	var rec model.Record
	decode(t, s.do(t, http.MethodGet, "/app/records/"+task.ID, nil), &rec)
	require.Len(t, rec.Attachments, 1)
	assert.Equal(t, "notes.txt", rec.Attachments[0].Name)
}

func TestCategories(t *testing.T) {
	s := newTestServer(t)
	s.signUp(t, "dana@example.com")

	var categories []model.Category
	decode(t, s.do(t, http.MethodGet, "/app/categories?role=developer", nil), &categories)
	require.NotEmpty(t, categories)
	for _, c := range categories {
		assert.Contains(t, []string{model.RoleDeveloper, model.RoleGeneric}, c.Role)
	}

	resp := s.do(t, http.MethodPost, "/app/categories", map[string]any{"name": "Side Projects"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created model.Category
	decode(t, resp, &created)
	assert.Equal(t, model.RoleGeneric, created.Role)
	assert.False(t, created.BuiltIn)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/app/categories", map[string]any{"name": ""}).StatusCode)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodDelete, "/app/categories/dev-backend", nil).StatusCode)
	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/app/categories/"+created.ID, nil).StatusCode)

	var recs []service.Recommendation
	decode(t, s.do(t, http.MethodGet, "/app/categories/recommend?title=Database+design&description=api", nil), &recs)
	require.NotEmpty(t, recs)
	assert.Equal(t, "dev-backend", recs[0].Category.ID)

	decode(t, s.do(t, http.MethodGet, "/app/categories/recommend", nil), &recs)
	assert.Empty(t, recs)
}

func TestStats(t *testing.T) {
	s := newTestServer(t)
	s.signUp(t, "dana@example.com")
	s.createRecord(t, map[string]any{"kind": "task", "title": "Done", "category": "dev-backend", "status": "done"})
	s.createRecord(t, map[string]any{"kind": "task", "title": "Open", "category": "dev-backend"})

	resp := s.do(t, http.MethodGet, "/app/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view struct {
		Total          int `json:"total"`
		Completed      int `json:"completed"`
		CompletionRate int `json:"completionRate"`
	}
	decode(t, resp, &view)
	assert.Equal(t, 2, view.Total)
	assert.Equal(t, 1, view.Completed)
	assert.Equal(t, 50, view.CompletionRate)
}

func TestExport(t *testing.T) {
	s := newTestServer(t)
	s.signUp(t, "dana@example.com")
	s.createRecord(t, map[string]any{"kind": "task", "title": "Keep", "category": "dev-backend"})

	resp := s.do(t, http.MethodGet, "/app/records/export", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "tracker-export-"+s.clock.Now().Format("2006-01-02"))

	var doc struct {
		Records []model.Record `json:"tasks"`
	}
	decode(t, resp, &doc)
	require.Len(t, doc.Records, 1)
	assert.Equal(t, "Keep", doc.Records[0].Title)
}

func TestSessionActivity(t *testing.T) {
	s := newTestServer(t)
	s.signUp(t, "dana@example.com")

	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodPost, "/app/session/activity", map[string]any{"kinds": []string{"keydown", "scroll"}}).StatusCode)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/app/session/activity", map[string]any{"kinds": []string{"blink"}}).StatusCode)
}

func TestInactivityEndsSessionWithNotice(t *testing.T) {
	s := newTestServer(t)
	s.signUp(t, "dana@example.com")

	s.clock.Advance(30 * time.Minute)

	var body struct {
		Code   service.AuthCode  `json:"code"`
		Notice *workspace.Notice `json:"notice"`
	}
	require.Eventually(t, func() bool {
		resp := s.do(t, http.MethodGet, "/app/records", nil)
		if resp.StatusCode != http.StatusUnauthorized {
			return false
		}
		body.Code, body.Notice = "", nil
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return false
		}
		return body.Code == service.CodeSessionInactive
	}, 2*time.Second, 10*time.Millisecond)

	require.NotNil(t, body.Notice)
	assert.NotEmpty(t, body.Notice.Message)

	// The notice is handed out once.
	resp := s.do(t, http.MethodGet, "/app/records", nil)
	var again errorBody
	decode(t, resp, &again)
	assert.Equal(t, service.CodeUnauthenticated, again.Code)
}

func TestActivityMiddlewareKeepsSessionAlive(t *testing.T) {
	s := newTestServer(t)
	s.signUp(t, "dana@example.com")

	s.clock.Advance(20 * time.Minute)
	s.createRecord(t, map[string]any{"kind": "task", "title": "Busy", "category": "dev-backend"})

	// The write counted as activity: inactivity was reset at minute 20.
	require.Eventually(t, func() bool {
		var view struct {
			Session session.Info `json:"session"`
		}
		resp := s.do(t, http.MethodGet, "/app/session", nil)
		if resp.StatusCode != http.StatusOK {
			return false
		}
		if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
			return false
		}
		return view.Session.MinutesUntilInactivity == 30
	}, 2*time.Second, 10*time.Millisecond)

	s.clock.Advance(20 * time.Minute)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/app/records", nil).StatusCode)
}

func TestStreamSendsRecords(t *testing.T) {
	s := newTestServer(t)
	s.signUp(t, "dana@example.com")
	s.createRecord(t, map[string]any{"kind": "task", "title": "Watch me", "category": "dev-backend"})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.srv.URL+"/app/records/stream", nil)
	require.NoError(t, err)
	resp, err := (&http.Client{Jar: s.client.Jar}).Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)
	var event string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			event = strings.TrimPrefix(line, "event: ")
			continue
		}
		if event != "records" || !strings.HasPrefix(line, "data: ") {
			continue
		}
		var view recordList
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &view))
		if view.Total == 0 {
			continue
		}
		require.Len(t, view.Records, 1)
		assert.Equal(t, "Watch me", view.Records[0].Title)
		return
	}
	t.Fatal("stream closed before a records event arrived")
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	decode(t, resp, &body)
	assert.Equal(t, "ok", body["database"])
}
