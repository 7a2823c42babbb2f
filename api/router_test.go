package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokerage/config"
	"brokerage/instagram"
	"brokerage/mailer"
	"brokerage/mls"
	"brokerage/models"
	"brokerage/services"
	"brokerage/storage"
)

type stubFetcher struct {
	mu  sync.Mutex
	res mls.FetchResult
}

func (f *stubFetcher) FetchAll(context.Context, string, mls.Query, int) *mls.FetchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	res := f.res
	return &res
}

type inbox struct {
	mu   sync.Mutex
	sent []mailer.Message
}

func (i *inbox) Send(_ context.Context, m mailer.Message) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.sent = append(i.sent, m)
	return nil
}

type fixture struct {
	handler http.Handler
	store   *storage.SQLiteStore
	fetcher *stubFetcher
	inbox   *inbox
	admin   string
	editor  string
}

func newFixture(t *testing.T, tweak func(*Deps)) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	feed := config.MLSConfig{BaseURL: "https://mls.example.com/odata"}
	feed.ApplyDefaults()

	fetcher := &stubFetcher{res: mls.FetchResult{Pages: 1, Items: []json.RawMessage{
		json.RawMessage(`{"ListingKey":"A1","StandardStatus":"Active"}`),
		json.RawMessage(`{"ListingKey":"B2","StandardStatus":"Pending"}`),
	}}}
	box := &inbox{}

	refresher := services.NewRefreshService(store, fetcher, "north", feed)
	props := services.NewPropertyService(store, refresher, nil, "north", 15*time.Minute)
	auth := services.NewAuthService(store, []byte("test-secret"), time.Hour)

	deps := Deps{
		Properties:     props,
		Directory:      services.NewDirectoryService(store, memPhotos{}),
		Contact:        services.NewContactService(box, store, []string{"office@example.com"}, nil),
		Auth:           auth,
		Instagram:      instagram.NewClient(instagram.Config{AppSecret: "ig-secret"}, http.DefaultClient, nil),
		DB:             store,
		AllowedOrigins: []string{"*"},
		MaxBodyBytes:   1 << 20,
	}
	if tweak != nil {
		tweak(&deps)
	}

	_, err = auth.CreateAdmin(ctx, "admin@example.com", "admin-password", models.RoleAdmin)
	require.NoError(t, err)
	_, err = auth.CreateAdmin(ctx, "editor@example.com", "editor-password", models.RoleEditor)
	require.NoError(t, err)
	adminLogin, err := auth.Login(ctx, "admin@example.com", "admin-password")
	require.NoError(t, err)
	editorLogin, err := auth.Login(ctx, "editor@example.com", "editor-password")
	require.NoError(t, err)

	return &fixture{
		handler: NewRouter(deps),
		store:   store,
		fetcher: fetcher,
		inbox:   box,
		admin:   adminLogin.Token,
		editor:  editorLogin.Token,
	}
}

type memPhotos struct{}

func (memPhotos) Upload(context.Context, string, io.Reader, string) error { return nil }
func (memPhotos) PublicURL(key string) string                            { return "https://cdn.example.com/" + key }

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case string:
		rdr = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestListPropertiesFillsEmptyCache(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/properties", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	page := decode[services.PropertyPage](t, rec)
	assert.Equal(t, 2, page.Count)

	rec = f.do(t, http.MethodGet, "/api/properties?status=under_contract", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page = decode[services.PropertyPage](t, rec)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "B2", page.Items[0].ListingID)

	rec = f.do(t, http.MethodGet, "/api/properties/A1", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/properties/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListPropertiesBadQuery(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/api/properties?status=demolished", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/properties?limit=-1", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[errorBody](t, rec)
	assert.Contains(t, body.Fields, "limit")
}

func TestCacheRoutesRequireAdmin(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/cache/refresh", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/cache/refresh", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/cache/refresh", f.editor, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/cache/refresh", f.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	run := decode[models.RefreshRun](t, rec)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, 2, run.Inserted)

	rec = f.do(t, http.MethodGet, "/api/cache/status", f.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[models.CacheStatus](t, rec)
	assert.Equal(t, 2, status.Total)
	assert.False(t, status.Stale)

	rec = f.do(t, http.MethodPost, "/api/cache/invalidate", f.admin, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/cache/clear", f.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deleted":2}`, rec.Body.String())
}

func TestRefreshUpstreamFailureIs502(t *testing.T) {
	f := newFixture(t, nil)
	f.fetcher.res = mls.FetchResult{Err: errors.New("connection refused")}

	rec := f.do(t, http.MethodPost, "/api/cache/refresh", f.admin, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestCreateAgentMissingFieldsIs400AndNoWrite(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/agents", f.editor, map[string]any{"email": "x@example.com"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[errorBody](t, rec)
	assert.Contains(t, body.Fields, "name")
	assert.Contains(t, body.Fields, "title")

	all, err := f.store.ListAgents(context.Background(), true)
	require.NoError(t, err)
	assert.Empty(t, all)

	rec = f.do(t, http.MethodPost, "/api/agents", f.editor, `{"name":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAgentCRUD(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/agents", "", map[string]any{"name": "Jane Doe", "title": "Broker"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/agents", f.editor, map[string]any{"name": "Jane Doe", "title": "Broker"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[models.Agent](t, rec)
	assert.Equal(t, "jane-doe", created.Slug)
	assert.True(t, created.Active)

	rec = f.do(t, http.MethodGet, "/api/agents/jane-doe", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/agents/"+created.ID.String(), f.admin, map[string]any{"title": "Managing Broker", "active": false})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[models.Agent](t, rec)
	assert.Equal(t, "Jane Doe", updated.Name)
	assert.Equal(t, "Managing Broker", updated.Title)
	assert.Equal(t, created.ID, updated.ID)

	rec = f.do(t, http.MethodGet, "/api/agents", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]models.Agent](t, rec))

	// ?all=true is ignored for anonymous callers
	rec = f.do(t, http.MethodGet, "/api/agents?all=true", "", nil)
	assert.Empty(t, decode[[]models.Agent](t, rec))

	rec = f.do(t, http.MethodGet, "/api/agents?all=true", f.editor, nil)
	assert.Len(t, decode[[]models.Agent](t, rec), 1)

	rec = f.do(t, http.MethodDelete, "/api/agents/"+created.ID.String(), f.editor, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/agents/"+created.ID.String(), "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/agents/not-a-uuid", f.editor, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExplicitSlugConflictIs409(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/api/office-staff", f.editor, map[string]any{"name": "Sam", "title": "Manager", "slug": "sam"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/office-staff", f.editor, map[string]any{"name": "Sam B", "title": "Clerk", "slug": "sam"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAgentPhotoUpload(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/api/agents", f.editor, map[string]any{"name": "Jane Doe", "title": "Broker"})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[models.Agent](t, rec)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("photo", "me.png")
	require.NoError(t, err)
	part.Write([]byte("\x89PNG\r\n\x1a\n0000000000000000"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/agents/"+created.ID.String()+"/photo", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+f.editor)
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	got := decode[models.Agent](t, rr)
	assert.True(t, strings.HasPrefix(got.PhotoURL, "https://cdn.example.com/agents/"+created.ID.String()+"/"))
	assert.True(t, strings.HasSuffix(got.PhotoURL, ".png"))
}

func TestPhotoUploadNotBoundByJSONBodyLimit(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.MaxBodyBytes = 256 })
	rec := f.do(t, http.MethodPost, "/api/agents", f.editor, map[string]any{"name": "Jane Doe", "title": "Broker"})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[models.Agent](t, rec)

	rec = f.do(t, http.MethodPost, "/api/agents", f.editor, map[string]any{"name": "Jane Doe", "title": "Broker", "bio": strings.Repeat("x", 512)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("photo", "me.png")
	require.NoError(t, err)
	part.Write(append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 4096)...))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/agents/"+created.ID.String()+"/photo", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+f.editor)
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}

func TestCareerApply(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/api/careers", f.editor, map[string]any{"title": "Agent"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/careers", f.editor, map[string]any{"title": "Agent", "description": "Sell homes"})
	require.Equal(t, http.StatusCreated, rec.Code)
	career := decode[models.Career](t, rec)

	rec = f.do(t, http.MethodPost, "/api/careers/"+career.ID.String()+"/apply", "", map[string]any{
		"name": "Robin", "email": "robin@example.com", "message": "Hire me",
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Len(t, f.inbox.sent, 1)
	assert.Equal(t, "robin@example.com", f.inbox.sent[0].ReplyTo)
}

func TestContactForm(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/contact", "", map[string]any{"name": "Pat", "email": "bad"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.inbox.sent)

	rec = f.do(t, http.MethodPost, "/api/contact", "", map[string]any{"name": "Pat", "email": "pat@example.com", "message": "Call me"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, f.inbox.sent, 1)
	assert.Equal(t, "pat@example.com", f.inbox.sent[0].ReplyTo)
}

func TestContactFormRateLimited(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.FormsPerMinute = 1 })
	body := map[string]any{"name": "Pat", "email": "pat@example.com", "message": "Call me"}

	rec := f.do(t, http.MethodPost, "/api/contact", "", body)
	require.Equal(t, http.StatusAccepted, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/contact", "", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestLoginAndMe(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/admin/login", "", map[string]any{"email": "admin@example.com", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/admin/login", "", map[string]any{"email": "ADMIN@example.com", "password": "admin-password"})
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[services.LoginResult](t, rec)
	assert.NotEmpty(t, res.Token)
	assert.NotContains(t, rec.Body.String(), "password_hash")

	rec = f.do(t, http.MethodGet, "/api/admin/me", res.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[map[string]any](t, rec)
	assert.Equal(t, "admin", me["role"])
}

func TestInstagramRoutes(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/instagram/feed", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/instagram/embed?url="+url.QueryEscape("https://example.com/p/x/"), "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	bad, err := instagram.SignRequest(instagram.SignedRequest{UserID: "1", Algorithm: "HMAC-SHA256"}, "wrong")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/instagram/data-deletion", strings.NewReader(url.Values{"signed_request": {bad}}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	good, err := instagram.SignRequest(instagram.SignedRequest{UserID: "1", Algorithm: "HMAC-SHA256"}, "ig-secret")
	require.NoError(t, err)
	rec = f.do(t, http.MethodPost, "/api/instagram/data-deletion", "", map[string]any{"signed_request": good})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[instagram.DeletionResponse](t, rec)
	assert.NotEmpty(t, resp.ConfirmationCode)
}

func TestUnknownRouteIsJSON404(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/api/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}
