package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/bryan-buckman/roadtrip/internal/database"
	"github.com/bryan-buckman/roadtrip/internal/media"
	"github.com/bryan-buckman/roadtrip/internal/metrics"
	"github.com/bryan-buckman/roadtrip/internal/model"
	"github.com/bryan-buckman/roadtrip/internal/publish"
	"github.com/bryan-buckman/roadtrip/internal/scheduler"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 64)...)

type fakePublisher struct {
	result   publish.Result
	err      error
	calls    int
	previews map[int64][]model.SplitPost
}

func (f *fakePublisher) Publish(ctx context.Context) (publish.Result, error) {
	f.calls++
	return f.result, f.err
}

func (f *fakePublisher) Preview(ctx context.Context, id int64) ([]model.SplitPost, error) {
	posts, ok := f.previews[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return posts, nil
}

type fakeSchedule struct {
	status scheduler.Status
}

func (f *fakeSchedule) Status() scheduler.Status { return f.status }

func (f *fakeSchedule) SetActive(active bool) error {
	f.status.Active = active
	return nil
}

func (f *fakeSchedule) Reschedule(text string) error {
	t, err := scheduler.ParseTimeOfDay(text)
	if err != nil {
		return err
	}
	f.status.PostTime = t.String()
	return nil
}

type fakeFeed struct {
	posts []model.PublishedPost
}

func (f *fakeFeed) Recent(ctx context.Context, limit int) ([]model.PublishedPost, error) {
	return f.posts, nil
}

type testEnv struct {
	db        *database.DB
	lib       *media.Library
	publisher *fakePublisher
	schedule  *fakeSchedule
	handler   http.Handler
}

func newTestEnv(t *testing.T, published PublishedFeed) *testEnv {
	t.Helper()
	dir := t.TempDir()
	db, err := database.New(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	lib, err := media.NewLibrary(filepath.Join(dir, "media"), filepath.Join(dir, "uploads"))
	require.NoError(t, err)

	env := &testEnv{
		db:        db,
		lib:       lib,
		publisher: &fakePublisher{previews: map[int64][]model.SplitPost{}},
		schedule:  &fakeSchedule{status: scheduler.Status{PostTime: "17:00"}},
	}
	s := New(db, Options{
		Media:     lib,
		Publisher: env.publisher,
		Schedule:  env.schedule,
		Published: published,
		Metrics:   metrics.New(nil),
		PublicURL: "https://bot.example",
	})
	env.handler = s
	return env
}

func (e *testEnv) login(t *testing.T) *http.Cookie {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, e.db.CreateUser(context.Background(), "sam", string(hash)))

	resp := e.do(t, http.MethodPost, "/api/login", strings.NewReader(`{"username":"sam","password":"secret"}`), "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	for _, c := range resp.Cookies() {
		if c.Name == AuthCookieName {
			return c
		}
	}
	t.Fatal("no auth cookie set")
	return nil
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string, cookie *http.Cookie) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec.Result()
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

type formFile struct {
	name string
	data []byte
}

func multipartBody(t *testing.T, fields map[string][]string, files []formFile) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, vs := range fields {
		for _, v := range vs {
			require.NoError(t, mw.WriteField(k, v))
		}
	}
	for _, f := range files {
		w, err := mw.CreateFormFile("media", f.name)
		require.NoError(t, err)
		_, err = w.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func seed(t *testing.T, db *database.DB, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		_, err := db.InsertContentUnit(context.Background(), model.ContentUnit{Comments: []string{fmt.Sprintf("c%d", i)}})
		require.NoError(t, err)
	}
}

func TestListPostsPaginates(t *testing.T) {
	env := newTestEnv(t, nil)

	var page postsPage
	decode(t, env.do(t, http.MethodGet, "/api/posts", nil, "", nil), &page)
	assert.Empty(t, page.Posts)
	assert.Nil(t, page.NextBefore)

	seed(t, env.db, 25)

	resp := env.do(t, http.MethodGet, "/api/posts", nil, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &page)
	require.Len(t, page.Posts, 20)
	assert.Equal(t, int64(25), page.Posts[0].ID)
	require.NotNil(t, page.NextBefore)
	assert.Equal(t, int64(6), *page.NextBefore)

	page = postsPage{}
	decode(t, env.do(t, http.MethodGet, "/api/posts?before=6", nil, "", nil), &page)
	require.Len(t, page.Posts, 5)
	assert.Equal(t, int64(1), page.Posts[4].ID)
	assert.Nil(t, page.NextBefore)
}

func TestGetPost(t *testing.T) {
	env := newTestEnv(t, nil)
	seed(t, env.db, 1)

	var unit model.ArchivedUnit
	resp := env.do(t, http.MethodGet, "/api/posts/1", nil, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &unit)
	assert.Equal(t, []string{"c1"}, unit.Comments)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/posts/9", nil, "", nil).StatusCode)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/posts/abc", nil, "", nil).StatusCode)
}

func TestPreview(t *testing.T) {
	env := newTestEnv(t, nil)
	env.publisher.previews[3] = []model.SplitPost{{Media: []string{"a.png"}}, {Media: []string{"b.mp4"}, Comments: []string{"x"}}}

	var body struct {
		Posts []model.SplitPost `json:"posts"`
	}
	decode(t, env.do(t, http.MethodGet, "/api/posts/3/preview", nil, "", nil), &body)
	assert.Len(t, body.Posts, 2)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/posts/4/preview", nil, "", nil).StatusCode)
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t, nil)
	cookie := env.login(t)
	assert.True(t, cookie.HttpOnly)

	user, err := env.db.GetUserByCookie(context.Background(), cookie.Value)
	require.NoError(t, err)
	assert.Equal(t, "sam", user.Username)

	resp := env.do(t, http.MethodPost, "/api/login", strings.NewReader(`{"username":"sam","password":"wrong"}`), "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp = env.do(t, http.MethodPost, "/api/login", strings.NewReader(`{"username":"nobody","password":"x"}`), "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/logout", nil, "", cookie)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_, err = env.db.GetUserByCookie(context.Background(), cookie.Value)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestProtectedRoutesNeedAuth(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, path := range []string{"/api/posts", "/api/schedule/status", "/api/schedule/time", "/api/publish", "/api/logout"} {
		resp := env.do(t, http.MethodPost, path, strings.NewReader("{}"), "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}
	stale := &http.Cookie{Name: AuthCookieName, Value: "stale"}
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodPost, "/api/publish", nil, "", stale).StatusCode)
	assert.Zero(t, env.publisher.calls)
}

func TestEnqueue(t *testing.T) {
	env := newTestEnv(t, nil)
	cookie := env.login(t)

	body, ct := multipartBody(t, map[string][]string{
		"map_title":  {"gm_construct"},
		"map_author": {"garry"},
		"map_url":    {"https://example.com/gm"},
		"flashing":   {"on"},
		"tags":       {"sandbox, classic,, sandbox"},
		"comments":   {"first", "  ", "second"},
	}, []formFile{{"a.png", pngBytes}, {"b.png", pngBytes}})

	resp := env.do(t, http.MethodPost, "/api/posts", body, ct, cookie)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created map[string]int64
	decode(t, resp, &created)

	unit, err := env.db.FetchContentByID(context.Background(), created["id"])
	require.NoError(t, err)
	assert.Equal(t, &model.MapInfo{Title: "gm_construct", Author: "garry", SourceURL: "https://example.com/gm"}, unit.MapInfo)
	assert.True(t, unit.Flashing)
	assert.Equal(t, []string{"sandbox", "classic"}, unit.Tags)
	assert.Equal(t, []string{"first", "second"}, unit.Comments)
	require.Len(t, unit.Media, 2)
	for _, ref := range unit.Media {
		assert.True(t, strings.HasSuffix(ref, ".png"))
		assert.FileExists(t, filepath.Join(env.lib.Dir, ref))
	}

	served := env.do(t, http.MethodGet, "/media/"+unit.Media[0], nil, "", nil)
	assert.Equal(t, http.StatusOK, served.StatusCode)
}

func TestEnqueueRejectsInvalidUnit(t *testing.T) {
	env := newTestEnv(t, nil)
	cookie := env.login(t)

	body, ct := multipartBody(t, map[string][]string{"tags": {"x"}}, []formFile{{"a.png", pngBytes}})
	resp := env.do(t, http.MethodPost, "/api/posts", body, ct, cookie)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body, ct = multipartBody(t, map[string][]string{"map_title": {"only a title"}}, nil)
	resp = env.do(t, http.MethodPost, "/api/posts", body, ct, cookie)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	maxID, err := env.db.MaxContentID(context.Background())
	require.NoError(t, err)
	assert.Zero(t, maxID)
}

func TestEnqueueRollsBackMediaOnBadUpload(t *testing.T) {
	env := newTestEnv(t, nil)
	cookie := env.login(t)

	body, ct := multipartBody(t, map[string][]string{"comments": {"hi"}},
		[]formFile{{"a.png", pngBytes}, {"notes.txt", []byte("plain text, not media")}})
	resp := env.do(t, http.MethodPost, "/api/posts", body, ct, cookie)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	entries, err := os.ReadDir(env.lib.Dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "saved media removed after a rejected upload")
}

func TestSchedule(t *testing.T) {
	env := newTestEnv(t, nil)
	cookie := env.login(t)

	var status scheduler.Status
	decode(t, env.do(t, http.MethodGet, "/api/schedule", nil, "", nil), &status)
	assert.False(t, status.Active)
	assert.Equal(t, "17:00", status.PostTime)

	resp := env.do(t, http.MethodPost, "/api/schedule/status", strings.NewReader(`{"active":true}`), "application/json", cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &status)
	assert.True(t, status.Active)

	resp = env.do(t, http.MethodPost, "/api/schedule/status", strings.NewReader(`{}`), "application/json", cookie)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/schedule/time", strings.NewReader(`{"post_time":"09:15"}`), "application/json", cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &status)
	assert.Equal(t, "09:15", status.PostTime)

	resp = env.do(t, http.MethodPost, "/api/schedule/time", strings.NewReader(`{"post_time":"25:00"}`), "application/json", cookie)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "09:15", env.schedule.status.PostTime)
}

func TestPublish(t *testing.T) {
	env := newTestEnv(t, nil)
	cookie := env.login(t)

	env.publisher.result = publish.Result{UnitID: 4, Posts: 2, Submitted: 2, Published: true}
	var body publishResponse
	resp := env.do(t, http.MethodPost, "/api/publish", nil, "", cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &body)
	assert.Equal(t, int64(4), body.UnitID)
	assert.Empty(t, body.Error)

	env.publisher.result = publish.Result{UnitID: 5, Posts: 2, Failed: 2}
	env.publisher.err = fmt.Errorf("%w: 2 of 2", publish.ErrPartialFailure)
	resp = env.do(t, http.MethodPost, "/api/publish", nil, "", cookie)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	env.publisher.result = publish.Result{UnitID: 6, Posts: 2, Submitted: 1, Failed: 1, Published: true}
	resp = env.do(t, http.MethodPost, "/api/publish", nil, "", cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = publishResponse{}
	decode(t, resp, &body)
	assert.NotEmpty(t, body.Error)
	assert.Equal(t, 3, env.publisher.calls)
}

func TestPublished(t *testing.T) {
	env := newTestEnv(t, nil)
	assert.Equal(t, http.StatusServiceUnavailable, env.do(t, http.MethodGet, "/api/published", nil, "", nil).StatusCode)

	at := time.Date(2024, 1, 3, 17, 0, 0, 0, time.UTC)
	env = newTestEnv(t, &fakeFeed{posts: []model.PublishedPost{{Title: "visiting: de_dust", Link: "https://x/post/3", PublishedAt: at}}})
	var body struct {
		Posts []model.PublishedPost `json:"posts"`
	}
	decode(t, env.do(t, http.MethodGet, "/api/published", nil, "", nil), &body)
	require.Len(t, body.Posts, 1)
	assert.Equal(t, "visiting: de_dust", body.Posts[0].Title)
}

func TestArchiveFeed(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.db.InsertContentUnit(context.Background(), model.ContentUnit{
		MapInfo:  &model.MapInfo{Title: "cs_office", Author: "valve", SourceURL: "https://example.com/office"},
		Comments: []string{"hostages"},
	})
	require.NoError(t, err)

	resp := env.do(t, http.MethodGet, "/feed.xml", nil, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/rss+xml")
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "cs_office")
	assert.Contains(t, string(raw), "https://bot.example/api/posts/1")
}

func TestIndexAndMetrics(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodGet, "/", nil, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "<title>roadtrip</title>")

	resp = env.do(t, http.MethodGet, "/metrics", nil, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "roadtrip_http_requests_total")
}
