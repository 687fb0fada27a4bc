package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratakit/strata/adapters/clock"
	"github.com/stratakit/strata/adapters/idgen"
	"github.com/stratakit/strata/adapters/memory"
	"github.com/stratakit/strata/adapters/metrics"
	"github.com/stratakit/strata/core/entity"
	"github.com/stratakit/strata/core/registry"
	"github.com/stratakit/strata/core/schema"
	"github.com/stratakit/strata/core/storage"
	"github.com/stratakit/strata/ports"
	"github.com/stratakit/strata/web"
)

type testServer struct {
	router   http.Handler
	clock    *clock.Fake
	sessions *memory.Sessions
	access   ports.AccessControl
	recorder *memory.Recorder
	def      *entity.Definition
}

const testToken = "tok-1"

func newTestServer(t *testing.T, access ports.AccessControl) *testServer {
	t.Helper()

	store, err := storage.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reg := registry.New()
	fake := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	def, err := entity.New(schema.Entity{
		Name: "todos",
		Columns: map[string]schema.ColumnType{
			"title":    schema.ColumnText,
			"done":     schema.ColumnBoolean,
			"priority": schema.ColumnInteger,
		},
		Versioning: &schema.RetentionPolicy{Kind: schema.RetainVersions, Amount: 10},
	}, entity.Deps{
		Store:     store,
		Registrar: reg,
		Clock:     fake,
		IDs:       idgen.NewSequential("id-"),
	})
	require.NoError(t, err)
	require.NoError(t, reg.BuildAll(context.Background()))

	sessions := memory.NewSessions()
	sessions.Put(testToken, ports.Session{AccountID: "acct-1"})

	recorder := memory.NewRecorder()

	if access == nil {
		access = memory.AllowAll{}
	}

	h := web.NewHandler(web.Deps{
		Registry:    reg,
		Sessions:    sessions,
		Access:      access,
		Broadcaster: recorder,
		Metrics:     metrics.NewWith(prometheus.NewRegistry()),
		Logger:      zerolog.Nop(),
	})

	return &testServer{
		router:   h.Routes(),
		clock:    fake,
		sessions: sessions,
		access:   access,
		recorder: recorder,
		def:      def,
	}
}

type apiResponse struct {
	OK    bool           `json:"ok"`
	Data  map[string]any `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		ID      string `json:"id"`
	} `json:"error"`
}

func (ts *testServer) post(t *testing.T, path, token string, body any) (int, apiResponse) {
	t.Helper()

	encoded, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(encoded))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.AddCookie(&http.Cookie{Name: web.DefaultSessionCookie, Value: token})
	}

	rr := httptest.NewRecorder()
	ts.router.ServeHTTP(rr, req)

	var resp apiResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return rr.Code, resp
}

func (ts *testServer) create(t *testing.T, title string) string {
	t.Helper()

	status, resp := ts.post(t, "/todos/create", testToken, map[string]any{
		"fields": map[string]any{"title": title, "done": false, "priority": 1},
	})
	require.Equal(t, http.StatusOK, status)
	require.True(t, resp.OK)
	id, _ := resp.Data["id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestCreateEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	status, resp := ts.post(t, "/todos/create", testToken, map[string]any{
		"fields": map[string]any{"title": "write docs", "done": false, "priority": 2},
	})
	require.Equal(t, http.StatusOK, status)
	require.True(t, resp.OK)
	assert.Equal(t, "write docs", resp.Data["title"])
	assert.Equal(t, resp.Data["created"], resp.Data["updated"])
	assert.Equal(t, false, resp.Data["archived"])

	sent := ts.recorder.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "struct:todos:create", sent[0].Topic)
	assert.Contains(t, sent[0].Scope, "admin")
}

func TestCreateRequiresSession(t *testing.T) {
	ts := newTestServer(t, nil)

	body := map[string]any{"fields": map[string]any{"title": "x", "done": false, "priority": 1}}

	status, resp := ts.post(t, "/todos/create", "", body)
	assert.Equal(t, http.StatusUnauthorized, status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "unauthenticated", resp.Error.Code)

	status, _ = ts.post(t, "/todos/create", "unknown-token", body)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestSessionCookieReachesHandlers(t *testing.T) {
	ts := newTestServer(t, nil)

	body := map[string]any{"fields": map[string]any{"title": "x", "done": false, "priority": 1}}

	status, _ := ts.post(t, "/todos/create", "", body)
	require.Equal(t, http.StatusUnauthorized, status)

	// The same payload with a resolved session passes authorization.
	status, resp := ts.post(t, "/todos/create", testToken, body)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, resp.OK)
}

func TestValidationPrecedesAuth(t *testing.T) {
	ts := newTestServer(t, nil)

	// A malformed payload is rejected before the session is consulted.
	status, resp := ts.post(t, "/todos/create", "", map[string]any{
		"fields": map[string]any{"title": 123, "done": "nope"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "validation", resp.Error.Code)

	status, resp = ts.post(t, "/todos/update", "", map[string]any{
		"id":     "any",
		"fields": map[string]any{"done": "nope"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "validation", resp.Error.Code)
}

func TestCreateValidationFailure(t *testing.T) {
	ts := newTestServer(t, nil)

	status, resp := ts.post(t, "/todos/create", testToken, map[string]any{
		"fields": map[string]any{"title": "x"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "validation", resp.Error.Code)
	assert.NotEmpty(t, resp.Error.ID)
}

func TestUpdateEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	id := ts.create(t, "draft")

	ts.clock.Advance(time.Minute)
	status, resp := ts.post(t, "/todos/update", testToken, map[string]any{
		"id":     id,
		"fields": map[string]any{"done": true},
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, resp.Data["done"])
	assert.NotEqual(t, resp.Data["created"], resp.Data["updated"])
}

func TestReadFromID(t *testing.T) {
	ts := newTestServer(t, nil)
	id := ts.create(t, "lookup")

	status, resp := ts.post(t, "/todos/read.from-id", testToken, map[string]any{"id": id})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "lookup", resp.Data["title"])

	status, resp = ts.post(t, "/todos/read.from-id", testToken, map[string]any{"id": "missing"})
	assert.Equal(t, http.StatusNotFound, status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "not_found", resp.Error.Code)
}

func TestArchiveFlow(t *testing.T) {
	ts := newTestServer(t, nil)
	keep := ts.create(t, "keep")
	ts.clock.Advance(time.Second)
	shelve := ts.create(t, "shelve")

	status, _ := ts.post(t, "/todos/archive.set", testToken, map[string]any{"id": shelve, "archived": true})
	require.Equal(t, http.StatusOK, status)

	status, resp := ts.post(t, "/todos/read.all", testToken, map[string]any{})
	require.Equal(t, http.StatusOK, status)
	records, _ := resp.Data["records"].([]any)
	require.Len(t, records, 1)
	first, _ := records[0].(map[string]any)
	assert.Equal(t, keep, first["id"])

	status, resp = ts.post(t, "/todos/read.archived", testToken, map[string]any{})
	require.Equal(t, http.StatusOK, status)
	records, _ = resp.Data["records"].([]any)
	require.Len(t, records, 1)
	archived, _ := records[0].(map[string]any)
	assert.Equal(t, shelve, archived["id"])
}

func TestDeleteEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	id := ts.create(t, "doomed")

	status, _ := ts.post(t, "/todos/delete", testToken, map[string]any{"id": id})
	require.Equal(t, http.StatusOK, status)

	status, _ = ts.post(t, "/todos/read.from-id", testToken, map[string]any{"id": id})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestVersionEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)
	id := ts.create(t, "v1")

	ts.clock.Advance(time.Minute)
	status, _ := ts.post(t, "/todos/update", testToken, map[string]any{
		"id": id, "fields": map[string]any{"title": "v2"},
	})
	require.Equal(t, http.StatusOK, status)

	status, resp := ts.post(t, "/todos/read.version-history", testToken, map[string]any{"id": id})
	require.Equal(t, http.StatusOK, status)
	versions, _ := resp.Data["versions"].([]any)
	require.Len(t, versions, 1)
	snapshot, _ := versions[0].(map[string]any)
	assert.Equal(t, "v1", snapshot["title"])
	versionID, _ := snapshot["version_id"].(string)
	require.NotEmpty(t, versionID)

	ts.clock.Advance(time.Minute)
	status, resp = ts.post(t, "/todos/version.restore", testToken, map[string]any{
		"id": id, "version_id": versionID,
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "v1", resp.Data["title"])

	// Restoring snapshotted the pre-restore state; delete that version.
	status, resp = ts.post(t, "/todos/read.version-history", testToken, map[string]any{"id": id})
	require.Equal(t, http.StatusOK, status)
	versions, _ = resp.Data["versions"].([]any)
	require.Len(t, versions, 2)

	latest, _ := versions[1].(map[string]any)
	latestID, _ := latest["version_id"].(string)
	status, _ = ts.post(t, "/todos/version.delete", testToken, map[string]any{
		"id": id, "version_id": latestID,
	})
	require.Equal(t, http.StatusOK, status)

	status, _ = ts.post(t, "/todos/version.delete", testToken, map[string]any{
		"id": id, "version_id": "gone",
	})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestDeniedActionIsForbidden(t *testing.T) {
	rules := memory.NewRuleSet()
	rules.GrantRoles("acct-1", "viewer")
	rules.Deny("todos", ports.ActionDelete)

	ts := newTestServer(t, rules)
	id := ts.create(t, "protected")

	status, resp := ts.post(t, "/todos/delete", testToken, map[string]any{"id": id})
	assert.Equal(t, http.StatusForbidden, status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "forbidden", resp.Error.Code)

	// The record is still there.
	status, _ = ts.post(t, "/todos/read.from-id", testToken, map[string]any{"id": id})
	assert.Equal(t, http.StatusOK, status)
}

func TestHiddenFieldsAreStripped(t *testing.T) {
	rules := memory.NewRuleSet()
	rules.GrantRoles("acct-1", "viewer")
	rules.Hide("todos", "priority")

	ts := newTestServer(t, rules)
	id := ts.create(t, "partial view")

	status, resp := ts.post(t, "/todos/read.from-id", testToken, map[string]any{"id": id})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "partial view", resp.Data["title"])
	assert.NotContains(t, resp.Data, "priority")
}

func TestBadJSONBody(t *testing.T) {
	ts := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/todos/create", bytes.NewReader([]byte("{nope")))
	req.AddCookie(&http.Cookie{Name: web.DefaultSessionCookie, Value: testToken})
	rr := httptest.NewRecorder()
	ts.router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	ts.router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var resp apiResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Data["status"])
	entities, _ := resp.Data["entities"].(map[string]any)
	assert.Equal(t, true, entities["todos"])
}
