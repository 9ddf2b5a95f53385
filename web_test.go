package smartapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paulgrammer/smartapi-connect/pipeline"
)

const petstoreJSON = `{
  "openapi": "3.0.0",
  "info": {"title": "Petstore", "version": "1.0.0"},
  "paths": {
    "/pets": {"get": {"operationId": "listPets", "summary": "List all pets"}},
    "/pets/{petId}": {"get": {"operationId": "showPetById",
      "parameters": [{"name": "petId", "in": "path", "required": true}]}}
  }
}`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// upstream simulates the API described by petstoreJSON.
func upstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/pets" {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`[{"id":1,"name":"Rex"}]`))
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// executors builds a single-stage pipeline whose API Caller runs fn.
func executors(fn func(ctx context.Context, tools []server.ServerTool) (pipeline.Output, error)) Option {
	return WithHarnessOptions(
		pipeline.WithTopology(pipeline.SingleStage),
		pipeline.WithExecutorFactory(func(p pipeline.Persona, tools []server.ServerTool) pipeline.TaskExecutor {
			return pipeline.ExecutorFunc(func(ctx context.Context, pc pipeline.PromptContext) (pipeline.Output, error) {
				return fn(ctx, tools)
			})
		}),
	)
}

// callTool makes the API Caller invoke the connector with args.
func callTool(args map[string]any) Option {
	return executors(func(ctx context.Context, tools []server.ServerTool) (pipeline.Output, error) {
		req := mcp.CallToolRequest{}
		req.Params.Name = tools[0].Tool.Name
		req.Params.Arguments = args
		res, err := tools[0].Handler(ctx, req)
		if err != nil {
			return pipeline.Output{}, err
		}
		text := res.Content[0].(mcp.TextContent).Text
		return pipeline.Output{Agent: "API Caller", Text: text}, nil
	})
}

type browser struct {
	t      *testing.T
	srv    *Server
	ts     *httptest.Server
	client *http.Client
}

func newBrowser(t *testing.T, opts ...Option) *browser {
	t.Helper()
	srv, err := NewServer(DefaultConfig(), append([]Option{WithLogger(quietLogger())}, opts...)...)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &browser{t: t, srv: srv, ts: ts, client: &http.Client{Jar: jar}}
}

func (b *browser) do(req *http.Request) (int, string) {
	b.t.Helper()
	resp, err := b.client.Do(req)
	require.NoError(b.t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(b.t, err)
	return resp.StatusCode, string(body)
}

func (b *browser) get(path string) (int, string) {
	req, err := http.NewRequest(http.MethodGet, b.ts.URL+path, nil)
	require.NoError(b.t, err)
	return b.do(req)
}

func (b *browser) postForm(path string, values url.Values) (int, string) {
	req, err := http.NewRequest(http.MethodPost, b.ts.URL+path, strings.NewReader(values.Encode()))
	require.NoError(b.t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.do(req)
}

func (b *browser) postJSON(path string, v any) (int, string) {
	data, err := json.Marshal(v)
	require.NoError(b.t, err)
	req, err := http.NewRequest(http.MethodPost, b.ts.URL+path, bytes.NewReader(data))
	require.NoError(b.t, err)
	req.Header.Set("Content-Type", "application/json")
	return b.do(req)
}

func (b *browser) upload(name, content string) (int, string) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("spec", name)
	require.NoError(b.t, err)
	fw.Write([]byte(content))
	require.NoError(b.t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, b.ts.URL+"/upload", &buf)
	require.NoError(b.t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return b.do(req)
}

func (b *browser) state() SessionState {
	_, body := b.get("/api/session")
	var st SessionState
	require.NoError(b.t, json.Unmarshal([]byte(body), &st))
	return st
}

func (b *browser) session() *Session {
	u, _ := url.Parse(b.ts.URL)
	for _, c := range b.client.Jar.Cookies(u) {
		if c.Name == SessionCookie {
			sess, ok := b.srv.Sessions().Get(c.Value)
			require.True(b.t, ok)
			return sess
		}
	}
	b.t.Fatal("no session cookie")
	return nil
}

func waitBusy(t *testing.T, sess *Session) {
	t.Helper()
	require.Eventually(t, func() bool { return sess.State().Busy }, 2*time.Second, 5*time.Millisecond)
}

func TestWeb_UploadInvalidJSON(t *testing.T) {
	b := newBrowser(t)

	status, body := b.upload("broken.json", `{"openapi": "3.0.0", `)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, msgInvalidJSON)
	assert.False(t, b.state().HasDocument())
	assert.Empty(t, b.state().FileName, "nothing is stored on failure")
}

func TestWeb_UploadAndNoticeShowsOnce(t *testing.T) {
	b := newBrowser(t)

	_, body := b.upload("petstore.json", petstoreJSON)
	assert.Contains(t, body, msgLoaded)
	assert.Contains(t, body, "GET /pets/{petId}")

	_, body = b.get("/")
	assert.NotContains(t, body, msgLoaded)

	st := b.state()
	assert.Equal(t, "petstore.json", st.FileName)
	assert.Equal(t, "Petstore", st.DocumentTitle)
	assert.Equal(t, []string{"GET /pets", "GET /pets/{petId}"}, st.Operations)
}

func TestWeb_BaseURL(t *testing.T) {
	b := newBrowser(t)

	_, body := b.postForm("/base-url", url.Values{"base_url": {"ftp://example.com"}})
	assert.Contains(t, body, msgBadBaseURL)
	assert.Empty(t, b.state().BaseURL)

	b.postForm("/base-url", url.Values{"base_url": {" https://api.example.com/v1 "}})
	assert.Equal(t, "https://api.example.com/v1", b.state().BaseURL)
}

func TestWeb_ProcessRequiresDocument(t *testing.T) {
	b := newBrowser(t, callTool(map[string]any{"method": "GET", "path": "/pets"}))

	_, body := b.postForm("/process", url.Values{"request": {"list pets"}})
	assert.Contains(t, body, msgNoDocument)

	status, body := b.postJSON("/api/process", map[string]any{"request": "list pets"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body, msgNoDocument)
}

func TestWeb_ProcessSuccess(t *testing.T) {
	api := upstream(t)
	b := newBrowser(t, callTool(map[string]any{"method": "GET", "path": "/pets"}))

	b.upload("petstore.json", petstoreJSON)
	b.postForm("/base-url", url.Values{"base_url": {api.URL}})

	_, body := b.postForm("/process", url.Values{"request": {"list all pets"}})
	assert.Contains(t, body, msgProcessed)
	assert.Contains(t, body, "GET /pets returned status 200")
	assert.Contains(t, body, "View Complete output")
	assert.Contains(t, body, "Rex")

	st := b.state()
	require.NotNil(t, st.Summary)
	assert.Equal(t, pipeline.OutcomeCallSucceeded, st.Summary.Outcome)
	assert.Equal(t, "list all pets", st.Request)
}

func TestWeb_APIProcessFailureIsASummary(t *testing.T) {
	api := upstream(t)
	b := newBrowser(t, callTool(map[string]any{"method": "GET", "path": "/pets/{petId}", "path_params": map[string]any{"petId": 7}}))

	status, _ := b.postJSON("/api/document", json.RawMessage(petstoreJSON))
	require.Equal(t, http.StatusOK, status)

	status, body := b.postJSON("/api/process", map[string]any{"request": "show pet 7", "base_url": api.URL})
	require.Equal(t, http.StatusOK, status)

	var summary map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &summary))
	assert.Equal(t, "call_failed", summary["outcome"])
	assert.Equal(t, "GET /pets/{petId}", summary["operation"])
	result := summary["result"].(map[string]any)
	assert.Equal(t, "http_error", result["kind"])
	assert.EqualValues(t, 404, result["status_code"])
}

func TestWeb_ProcessError(t *testing.T) {
	b := newBrowser(t, executors(func(ctx context.Context, tools []server.ServerTool) (pipeline.Output, error) {
		return pipeline.Output{}, errors.New("model unavailable")
	}))
	b.upload("petstore.json", petstoreJSON)

	_, body := b.postForm("/process", url.Values{"request": {"list pets"}})
	assert.Contains(t, body, "An error occurred: model unavailable")
	assert.Contains(t, body, msgCheckInputs)
	assert.Nil(t, b.state().Summary)
}

func TestWeb_AgentPanicReleasesSession(t *testing.T) {
	for _, mode := range []pipeline.Mode{pipeline.Sequential, pipeline.Parallel} {
		t.Run(string(mode), func(t *testing.T) {
			var calls atomic.Int32
			b := newBrowser(t,
				executors(func(ctx context.Context, tools []server.ServerTool) (pipeline.Output, error) {
					if calls.Add(1) == 1 {
						panic("agent exploded")
					}
					return pipeline.Output{Agent: "API Caller", Text: "recovered"}, nil
				}),
				WithHarnessOptions(pipeline.WithMode(mode)),
			)
			b.upload("petstore.json", petstoreJSON)

			status, body := b.postForm("/process", url.Values{"request": {"list pets"}})
			assert.Equal(t, http.StatusOK, status)
			assert.Contains(t, body, "An error occurred: agent failed unexpectedly: agent exploded")
			assert.False(t, b.state().Busy)

			_, body = b.postForm("/process", url.Values{"request": {"list pets again"}})
			assert.Contains(t, body, msgProcessed)
			assert.Equal(t, "list pets again", b.state().Request)
		})
	}
}

func TestWeb_PipelinePanicReleasesSession(t *testing.T) {
	var builds atomic.Int32
	b := newBrowser(t, WithHarnessOptions(
		pipeline.WithTopology(pipeline.SingleStage),
		pipeline.WithExecutorFactory(func(p pipeline.Persona, tools []server.ServerTool) pipeline.TaskExecutor {
			if builds.Add(1) == 1 {
				panic("executor factory exploded")
			}
			return pipeline.ExecutorFunc(func(ctx context.Context, pc pipeline.PromptContext) (pipeline.Output, error) {
				return pipeline.Output{Text: "done"}, nil
			})
		}),
	))
	b.upload("petstore.json", petstoreJSON)

	status, body := b.postForm("/process", url.Values{"request": {"list pets"}})
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Contains(t, body, msgInternalError)

	st := b.state()
	assert.False(t, st.Busy)
	require.NotNil(t, st.Notice)
	assert.Equal(t, msgInternalError, st.Notice.Text)

	status, _ = b.postJSON("/api/process", map[string]any{"request": "list pets again"})
	assert.Equal(t, http.StatusOK, status)
}

func TestWeb_NoProviderConfigured(t *testing.T) {
	b := newBrowser(t)
	b.upload("petstore.json", petstoreJSON)

	status, body := b.postJSON("/api/process", map[string]any{"request": "list pets"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Contains(t, body, "no language model is configured")
}

func TestWeb_OneProcessPerSession(t *testing.T) {
	release := make(chan struct{})
	b := newBrowser(t, executors(func(ctx context.Context, tools []server.ServerTool) (pipeline.Output, error) {
		select {
		case <-release:
			return pipeline.Output{Text: "finished"}, nil
		case <-ctx.Done():
			return pipeline.Output{}, ctx.Err()
		}
	}))
	b.upload("petstore.json", petstoreJSON)

	done := make(chan int, 1)
	go func() {
		status, _ := b.postJSON("/api/process", map[string]any{"request": "first"})
		done <- status
	}()
	waitBusy(t, b.session())

	status, body := b.postForm("/process", url.Values{"request": {"second"}})
	assert.Equal(t, http.StatusConflict, status)
	assert.Contains(t, body, msgBusy)

	status, _ = b.postJSON("/api/process", map[string]any{"request": "third"})
	assert.Equal(t, http.StatusConflict, status)

	close(release)
	assert.Equal(t, http.StatusOK, <-done)
	assert.Equal(t, "first", b.state().Request)
}

func TestWeb_DeleteSessionCancelsWork(t *testing.T) {
	b := newBrowser(t, executors(func(ctx context.Context, tools []server.ServerTool) (pipeline.Output, error) {
		<-ctx.Done()
		return pipeline.Output{}, ctx.Err()
	}))
	b.upload("petstore.json", petstoreJSON)
	sess := b.session()

	type reply struct {
		status int
		body   string
	}
	done := make(chan reply, 1)
	go func() {
		status, body := b.postJSON("/api/process", map[string]any{"request": "hang"})
		done <- reply{status, body}
	}()
	waitBusy(t, sess)

	req, err := http.NewRequest(http.MethodDelete, b.ts.URL+"/session", nil)
	require.NoError(t, err)
	status, _ := b.do(req)
	assert.Equal(t, http.StatusNoContent, status)

	select {
	case r := <-done:
		assert.Equal(t, http.StatusUnprocessableEntity, r.status)
		assert.Contains(t, r.body, "processing was cancelled")
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight processing was not cancelled")
	}

	_, ok := b.srv.Sessions().Get(sess.ID)
	assert.False(t, ok)
	assert.NotEqual(t, sess.ID, b.state().ID, "a new session starts after teardown")
}

func TestWeb_HealthAndMetrics(t *testing.T) {
	api := upstream(t)
	b := newBrowser(t, callTool(map[string]any{"method": "GET", "path": "/pets"}))

	status, body := b.get("/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "OK", body)

	b.upload("petstore.json", petstoreJSON)
	b.postJSON("/api/process", map[string]any{"request": "list pets", "base_url": api.URL})

	status, body = b.get("/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `smartapi_connector_calls_total{method="GET",outcome="success"} 1`)
	assert.Contains(t, body, `smartapi_pipeline_runs_total{mode="parallel",outcome="call_succeeded",topology="single"} 1`)
	assert.Contains(t, body, "smartapi_sessions_active 1")
}

func TestRecoverer(t *testing.T) {
	srv, err := NewServer(nil, WithLogger(quietLogger()))
	require.NoError(t, err)

	h := srv.recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), msgInternalError)
	assert.NotContains(t, rec.Body.String(), "boom")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/session", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"`+msgInternalError+`"}`, rec.Body.String())
}
