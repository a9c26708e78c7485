package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/suPer8Hu/lovely-prompts/internal/auth"
	"github.com/suPer8Hu/lovely-prompts/internal/config"
	"github.com/suPer8Hu/lovely-prompts/internal/events"
	"github.com/suPer8Hu/lovely-prompts/internal/httpapi/handlers"
	"github.com/suPer8Hu/lovely-prompts/internal/models"
	"github.com/suPer8Hu/lovely-prompts/internal/project"
	"github.com/suPer8Hu/lovely-prompts/internal/prompts"
	"github.com/suPer8Hu/lovely-prompts/internal/schema"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:           "test-secret",
		StreamFlushInterval: 20 * time.Millisecond,
	}
}

func newTestRouter(t *testing.T, cfg config.Config) *gin.Engine {
	t.Helper()
	mgr := project.NewManager(t.TempDir(), logger.Silent)
	t.Cleanup(func() { _ = mgr.Close() })
	_, err := mgr.Create(context.Background(), project.Default)
	require.NoError(t, err)

	hub := events.NewHub()
	h := handlers.NewHandler(cfg, mgr, prompts.NewService(mgr, hub, nil), hub)
	h.PingInterval = 50 * time.Millisecond
	return newRouter(cfg, h)
}

func do(t *testing.T, r http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 && strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v), string(env.Data))
	return v
}

func TestPing(t *testing.T) {
	r := newTestRouter(t, testConfig())
	w, env := do(t, r, http.MethodGet, "/ping", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, env.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestChatPromptLifecycle(t *testing.T) {
	r := newTestRouter(t, testConfig())

	w, env := do(t, r, http.MethodPost, "/chat_prompts/", `{"title":"hello","prompt":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	created := decode[models.Prompt](t, env)
	require.Len(t, created.ID, 26)
	assert.Equal(t, "hello", *created.Title)

	w, env = do(t, r, http.MethodGet, "/chat_prompts/", "")
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[[]models.Prompt](t, env)
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)

	w, env = do(t, r, http.MethodGet, "/completion_prompts/", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]models.Prompt](t, env))

	w, env = do(t, r, http.MethodPut, "/chat_prompts/"+created.ID, `{"title":"bye","prompt":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "bye", *decode[models.Prompt](t, env).Title)

	w, _ = do(t, r, http.MethodDelete, "/chat_prompts/"+created.ID, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w, env = do(t, r, http.MethodGet, "/chat_prompts/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 40403, env.Code)
}

func TestResponseLifecycle(t *testing.T) {
	r := newTestRouter(t, testConfig())

	_, env := do(t, r, http.MethodPost, "/completion_prompts/?project=notes", `{"completion_prompt":"Once upon"}`)
	p := decode[models.Prompt](t, env)

	w, env := do(t, r, http.MethodPost, "/completion_responses/?project=notes",
		`{"prompt_id":"`+p.ID+`","content":" a time","tok_out":3,"latency_ms":40}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[models.Response](t, env)
	assert.Equal(t, p.ID, resp.PromptID)
	assert.EqualValues(t, 40, resp.Extra["latency_ms"])

	w, env = do(t, r, http.MethodGet, "/completion_prompts/"+p.ID+"?project=notes", "")
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[models.Prompt](t, env)
	require.Len(t, got.Responses, 1)
	assert.Equal(t, resp.ID, got.Responses[0].ID)

	w, _ = do(t, r, http.MethodGet, "/completion_responses/"+resp.ID+"?project=default", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = do(t, r, http.MethodDelete, "/completion_responses/"+resp.ID+"?project=notes", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w, env = do(t, r, http.MethodGet, "/projects/", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"default", "notes"}, decode[[]string](t, env))
}

func TestErrorMapping(t *testing.T) {
	r := newTestRouter(t, testConfig())

	cases := []struct {
		name, method, path, body string
		status, code             int
	}{
		{"invalid record", http.MethodPost, "/chat_prompts/", `{"prompt":[{"content":42}]}`, http.StatusUnprocessableEntity, 42201},
		{"malformed json", http.MethodPost, "/chat_prompts/", `{"prompt":`, http.StatusUnprocessableEntity, 42201},
		{"kind mismatch", http.MethodPost, "/chat_prompts/", `{"completion_prompt":"x"}`, http.StatusBadRequest, 10008},
		{"unknown project", http.MethodGet, "/chat_prompts/?project=ghost", "", http.StatusNotFound, 40401},
		{"bad project name", http.MethodGet, "/chat_prompts/?project=a/b", "", http.StatusBadRequest, 10007},
		{"missing prompt", http.MethodPost, "/chat_responses/", `{"prompt_id":"nope"}`, http.StatusNotFound, 40402},
		{"bad limit", http.MethodGet, "/chat_prompts/?limit=zero", "", http.StatusBadRequest, 10005},
		{"unknown route", http.MethodGet, "/nope", "", http.StatusNotFound, 40400},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, env := do(t, r, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.status, w.Code, w.Body.String())
			assert.Equal(t, tc.code, env.Code)
		})
	}
}

func TestInvalidRecordCarriesField(t *testing.T) {
	r := newTestRouter(t, testConfig())
	_, env := do(t, r, http.MethodPost, "/chat_responses/", `{"prompt_id":"x","tok_in":"many"}`)

	fe := decode[map[string]string](t, env)
	assert.Equal(t, "tok_in", fe["field"])
	assert.Equal(t, "integer", fe["expected"])
	assert.Equal(t, "string", fe["actual"])
}

func TestSchemaVersionHeader(t *testing.T) {
	r := newTestRouter(t, testConfig())

	req := httptest.NewRequest(http.MethodPost, "/chat_prompts/", strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
	req.Header.Set(handlers.SchemaVersionHeader, "1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Equal(t, "4", w.Header().Get(handlers.SchemaVersionHeader))

	req = httptest.NewRequest(http.MethodPost, "/chat_prompts/", strings.NewReader(`{}`))
	req.Header.Set(handlers.SchemaVersionHeader, "99")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "4", w.Header().Get(handlers.SchemaVersionHeader))

	w, _ = do(t, r, http.MethodGet, "/chat_prompts/", "")
	assert.Equal(t, strconv.Itoa(schema.CurrentVersion), w.Header().Get(handlers.SchemaVersionHeader))
}

func TestAuthRequiredOnWrites(t *testing.T) {
	cfg := testConfig()
	cfg.AuthRequired = true
	r := newTestRouter(t, cfg)

	w, _ := do(t, r, http.MethodPost, "/chat_prompts/", `{"prompt":[]}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = do(t, r, http.MethodGet, "/chat_prompts/", "")
	assert.Equal(t, http.StatusOK, w.Code)

	tok, err := auth.SignJWT("tests", cfg.JWTSecret, time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/chat_prompts/", strings.NewReader(`{"prompt":[]}`))
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestCORS(t *testing.T) {
	r := newTestRouter(t, testConfig())
	req := httptest.NewRequest(http.MethodOptions, "/chat_prompts/", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestWebappFallback(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>app</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o644))

	cfg := testConfig()
	cfg.WebappDir = dir
	r := newTestRouter(t, cfg)

	w, _ := do(t, r, http.MethodGet, "/app.js", "")
	assert.Equal(t, "console.log(1)", w.Body.String())

	w, _ = do(t, r, http.MethodGet, "/prompts/some/client/route", "")
	assert.Contains(t, w.Body.String(), "app")

	w, _ = do(t, r, http.MethodGet, "/../../etc/passwd", "")
	assert.NotContains(t, w.Body.String(), "root:")
}

// readEvent returns the next SSE event name and data, skipping pings.
func readEvent(t *testing.T, rd *bufio.Reader) (string, string) {
	t.Helper()
	var name, data string
	for {
		line, err := rd.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && name != "":
			if name != "ping" {
				return name, data
			}
			name, data = "", ""
		}
	}
}

func TestUpdatesStream(t *testing.T) {
	r := newTestRouter(t, testConfig())
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/updates/", nil)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, "text/event-stream", res.Header.Get("Content-Type"))

	post, err := http.Post(srv.URL+"/chat_prompts/", "application/json", strings.NewReader(`{"prompt":[{"content":"hi"}]}`))
	require.NoError(t, err)
	post.Body.Close()

	name, data := readEvent(t, bufio.NewReader(res.Body))
	assert.Equal(t, string(events.NewChatPrompt), name)
	assert.Contains(t, data, `"content":"hi"`)
}

func TestUpdatesStream_UnknownProject(t *testing.T) {
	r := newTestRouter(t, testConfig())

	w, env := do(t, r, http.MethodGet, "/updates/?project=ghost", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 40401, env.Code)
	assert.NotEqual(t, "text/event-stream", w.Header().Get("Content-Type"))

	w, env = do(t, r, http.MethodGet, "/chat_prompts/?project=ghost", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 40401, env.Code)
}

func TestChatPrompt_EmptyHistoryRoundTrip(t *testing.T) {
	r := newTestRouter(t, testConfig())

	w, env := do(t, r, http.MethodPost, "/chat_prompts/", `{"title":"x","prompt":[]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, string(env.Data), `"prompt":[]`)
	created := decode[models.Prompt](t, env)

	w, env = do(t, r, http.MethodGet, "/chat_prompts/"+created.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"prompt":[]`)

	// the fetched body is accepted back as is
	w, env = do(t, r, http.MethodPut, "/chat_prompts/"+created.ID, string(env.Data))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, string(env.Data), `"prompt":[]`)

	w, env = do(t, r, http.MethodPost, "/chat_responses/", `{"prompt_id":"`+created.ID+`","meta":{}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[models.Response](t, env)

	w, env = do(t, r, http.MethodGet, "/chat_responses/"+resp.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"meta":{}`)
	assert.NotContains(t, string(env.Data), `"extra"`)
}

func createChatResponse(t *testing.T, srvURL string) models.Response {
	t.Helper()
	post := func(path, body string) envelope {
		res, err := http.Post(srvURL+path, "application/json", strings.NewReader(body))
		require.NoError(t, err)
		defer res.Body.Close()
		require.Equal(t, http.StatusOK, res.StatusCode)
		var env envelope
		require.NoError(t, json.NewDecoder(res.Body).Decode(&env))
		return env
	}
	p := decode[models.Prompt](t, post("/chat_prompts/", `{"prompt":[{"content":"hi"}]}`))
	return decode[models.Response](t, post("/chat_responses/", `{"prompt_id":"`+p.ID+`","role":"assistant"}`))
}

func getChatResponse(t *testing.T, srvURL, id string) models.Response {
	t.Helper()
	res, err := http.Get(srvURL + "/chat_responses/" + id)
	require.NoError(t, err)
	defer res.Body.Close()
	var env envelope
	require.NoError(t, json.NewDecoder(res.Body).Decode(&env))
	return decode[models.Response](t, env)
}

func wsURL(srvURL, id string) string {
	return "ws" + strings.TrimPrefix(srvURL, "http") + "/chat_responses/" + id + "/update_stream/"
}

func TestResponseUpdateStream(t *testing.T) {
	r := newTestRouter(t, testConfig())
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp := createChatResponse(t, srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(srv.URL, resp.ID), nil)
	require.NoError(t, err)

	for _, chunk := range []string{"Hel", "lo"} {
		require.NoError(t, wsjson.Write(ctx, conn, map[string]string{"action": "append", "key": "content", "value": chunk}))
	}
	require.NoError(t, wsjson.Write(ctx, conn, map[string]string{"action": "replace", "key": "tok_out", "value": "2"}))
	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))

	require.Eventually(t, func() bool {
		got := getChatResponse(t, srv.URL, resp.ID)
		return got.Content != nil && *got.Content == "Hello" && got.TokOut != nil && *got.TokOut == 2
	}, 3*time.Second, 20*time.Millisecond)
}

func TestResponseUpdateStream_UnknownKeyCloses(t *testing.T) {
	r := newTestRouter(t, testConfig())
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp := createChatResponse(t, srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(srv.URL, resp.ID), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.NoError(t, wsjson.Write(ctx, conn, map[string]string{"action": "append", "key": "nonsense", "value": "x"}))
	_, _, err = conn.Read(ctx)
	assert.Equal(t, websocket.StatusProtocolError, websocket.CloseStatus(err))
}

func TestResponseUpdateStream_MissingResponse(t *testing.T) {
	r := newTestRouter(t, testConfig())
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, res, err := websocket.Dial(ctx, wsURL(srv.URL, "missing"), nil)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}
