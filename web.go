package smartapi

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/paulgrammer/smartapi-connect/connector"
	"github.com/paulgrammer/smartapi-connect/openapi"
	"github.com/paulgrammer/smartapi-connect/pipeline"
)

// SessionCookie names the cookie carrying the session ID.
const SessionCookie = "smartapi_session"

// User-facing messages.
const (
	msgLoaded        = "JSON file successfully loaded!"
	msgInvalidJSON   = "Invalid JSON file. Please upload a valid JSON file."
	msgProcessed     = "Request processed successfully!"
	msgCheckInputs   = "Please check your inputs and try again."
	msgNoDocument    = "Please upload an OpenAPI JSON file first."
	msgEmptyRequest  = "Please describe what you want the API to do."
	msgBusy          = "A request is already being processed for this session."
	msgBadBaseURL    = "The base URL must be an absolute http:// or https:// URL."
	msgInternalError = "Something went wrong. Please try again."
)

//go:embed web/templates/*.html
var templateFS embed.FS

var pageTemplates = template.Must(template.New("").Funcs(template.FuncMap{
	"pretty": prettyJSON,
}).ParseFS(templateFS, "web/templates/*.html"))

type ctxKey int

const sessionKey ctxKey = iota

// routes builds the router for the UI, the JSON API, metrics and MCP.
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(s.recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Handle("/sse", s.sseServer.SSEHandler())
	r.Handle("/message", s.sseServer.MessageHandler())

	r.Group(func(r chi.Router) {
		r.Use(s.withSession)

		r.Get("/", s.handleIndex)
		r.Post("/upload", s.handleUpload)
		r.Post("/base-url", s.handleBaseURL)
		r.Post("/process", s.handleProcess)
		r.Post("/session/delete", s.handleDeleteSession)
		r.Delete("/session", s.handleDeleteSession)

		r.Route("/api", func(r chi.Router) {
			r.Get("/session", s.handleAPISession)
			r.Post("/document", s.handleAPIDocument)
			r.Post("/process", s.handleAPIProcess)
		})
	})

	return r
}

// withSession loads the caller's session, creating one on first visit.
func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var sess *Session
		if c, err := r.Cookie(SessionCookie); err == nil {
			sess, _ = s.sessions.Get(c.Value)
		}
		if sess == nil {
			sess = s.sessions.Create()
			http.SetCookie(w, &http.Cookie{
				Name:     SessionCookie,
				Value:    sess.ID,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey, sess)))
	})
}

func sessionFrom(r *http.Request) *Session {
	sess, _ := r.Context().Value(sessionKey).(*Session)
	return sess
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// recoverer turns handler panics into a generic error page.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			s.logger.Error("Handler panic",
				"panic", rec,
				"path", r.URL.Path,
				"request_id", middleware.GetReqID(r.Context()),
				"stack", string(debug.Stack()),
			)
			if strings.HasPrefix(r.URL.Path, "/api/") {
				writeJSON(w, http.StatusInternalServerError, apiError{Error: msgInternalError})
				return
			}
			s.renderError(w, http.StatusInternalServerError, msgInternalError)
		}()
		next.ServeHTTP(w, r)
	})
}

type indexPage struct {
	Title   string
	Version string
	State   SessionState
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	state := sess.State()
	// Notices show once.
	sess.SetNotice(nil)
	s.render(w, http.StatusOK, "index.html", indexPage{
		Title:   s.config.Name,
		Version: s.config.Version,
		State:   state,
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUploadBytes)

	file, header, err := r.FormFile("spec")
	if err != nil {
		detail := "No file was uploaded."
		if !errors.Is(err, http.ErrMissingFile) {
			detail = readFailure(err)
		}
		sess.SetNotice(&Notice{Level: NoticeError, Text: msgInvalidJSON, Detail: detail})
		s.redirectHome(w, r)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		sess.SetNotice(&Notice{Level: NoticeError, Text: msgInvalidJSON, Detail: readFailure(err)})
		s.redirectHome(w, r)
		return
	}

	sess.SetNotice(s.loadDocument(sess, header.Filename, data))
	s.redirectHome(w, r)
}

// loadDocument decodes and stores a document. Nothing is stored on failure.
func (s *Server) loadDocument(sess *Session, name string, data []byte) *Notice {
	doc, err := openapi.Decode(data)
	if err != nil {
		s.logger.Info("Rejected uploaded document", "session", sess.ID, "file", name, "error", err)
		return &Notice{Level: NoticeError, Text: msgInvalidJSON}
	}
	sess.SetDocument(name, doc)
	s.logger.Info("Loaded OpenAPI document", "session", sess.ID, "file", name,
		"title", doc.Title(), "operations", len(doc.Operations()))
	return &Notice{
		Level:  NoticeSuccess,
		Text:   msgLoaded,
		Detail: fmt.Sprintf("%s: %d operations", doc.Title(), len(doc.Operations())),
	}
}

func (s *Server) handleBaseURL(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	sess.SetNotice(setBaseURL(sess, r.FormValue("base_url")))
	s.redirectHome(w, r)
}

// setBaseURL stores a base URL; an empty value clears it. Invalid URLs are
// rejected with a notice.
func setBaseURL(sess *Session, raw string) *Notice {
	raw = strings.TrimSpace(raw)
	if raw != "" && !validBaseURL(raw) {
		return &Notice{Level: NoticeError, Text: msgBadBaseURL}
	}
	sess.SetBaseURL(raw)
	if raw == "" {
		return &Notice{Level: NoticeInfo, Text: "Base URL cleared; the document's server URL is used."}
	}
	return &Notice{Level: NoticeInfo, Text: "Base URL set to " + raw}
}

func validBaseURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Host != "" && (u.Scheme == "http" || u.Scheme == "https")
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	if raw := r.FormValue("base_url"); raw != "" {
		if notice := setBaseURL(sess, raw); notice.Level == NoticeError {
			sess.SetNotice(notice)
			s.redirectHome(w, r)
			return
		}
	}

	status, _, notice := s.process(sess, r.FormValue("request"))
	if status == http.StatusConflict {
		s.renderError(w, status, msgBusy)
		return
	}
	if notice != nil {
		sess.SetNotice(notice)
	}
	s.redirectHome(w, r)
}

// process runs the pipeline for a session and returns the HTTP status, the
// summary (nil on error) and the notice to show.
func (s *Server) process(sess *Session, request string) (int, *pipeline.Summary, *Notice) {
	request = strings.TrimSpace(request)
	state := sess.State()
	if !state.HasDocument() {
		return http.StatusBadRequest, nil, &Notice{Level: NoticeError, Text: msgNoDocument}
	}
	if request == "" {
		return http.StatusBadRequest, nil, &Notice{Level: NoticeError, Text: msgEmptyRequest}
	}

	in, ok := sess.Begin(request)
	if !ok {
		return http.StatusConflict, nil, nil
	}

	finished := false
	defer func() {
		if !finished {
			sess.Finish(nil, &Notice{Level: NoticeError, Text: msgInternalError})
		}
	}()

	summary, err := s.Process(sess.Context(), in)
	finished = true
	if err != nil {
		s.logger.Warn("Request processing failed", "session", sess.ID, "error", err)
		notice := &Notice{Level: NoticeError, Text: "An error occurred: " + userError(err), Detail: msgCheckInputs}
		sess.Finish(nil, notice)
		return http.StatusUnprocessableEntity, nil, notice
	}

	notice := &Notice{Level: NoticeSuccess, Text: msgProcessed, Detail: summary.Headline()}
	sess.Finish(summary, notice)
	return http.StatusOK, summary, notice
}

// userError strips wrapping down to the message a user can act on.
func userError(err error) string {
	var taskErr *pipeline.TaskError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "processing took too long and was stopped"
	case errors.Is(err, context.Canceled):
		return "processing was cancelled"
	case errors.As(err, &taskErr):
		return taskErr.Err.Error()
	}
	return err.Error()
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	s.sessions.Delete(sess.ID)
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	if r.Method == http.MethodDelete {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

type apiError struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) handleAPISession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionFrom(r).State())
}

// handleAPIDocument accepts the OpenAPI document as the raw request body.
func (s *Server) handleAPIDocument(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUploadBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, apiError{Error: msgInvalidJSON, Detail: readFailure(err)})
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		name = "openapi.json"
	}
	notice := s.loadDocument(sess, name, data)
	if notice.Level == NoticeError {
		writeJSON(w, http.StatusBadRequest, apiError{Error: notice.Text})
		return
	}
	writeJSON(w, http.StatusOK, sess.State())
}

type apiProcessRequest struct {
	Request string  `json:"request"`
	BaseURL *string `json:"base_url,omitempty"`
}

func (s *Server) handleAPIProcess(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)

	var body apiProcessRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid JSON body", Detail: err.Error()})
		return
	}
	if body.BaseURL != nil {
		if notice := setBaseURL(sess, *body.BaseURL); notice.Level == NoticeError {
			writeJSON(w, http.StatusBadRequest, apiError{Error: notice.Text})
			return
		}
	}

	status, summary, notice := s.process(sess, body.Request)
	switch {
	case status == http.StatusConflict:
		writeJSON(w, status, apiError{Error: msgBusy})
	case summary == nil:
		writeJSON(w, status, apiError{Error: notice.Text, Detail: notice.Detail})
	default:
		writeJSON(w, status, summary)
	}
}

func (s *Server) redirectHome(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pageTemplates.ExecuteTemplate(w, name, data); err != nil {
		s.logger.Error("Template execute failed", "template", name, "error", err)
	}
}

func (s *Server) renderError(w http.ResponseWriter, status int, message string) {
	s.render(w, status, "error.html", struct {
		Title   string
		Status  int
		Message string
	}{Title: s.config.Name, Status: status, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("Failed to encode response", "error", err)
	}
}

func readFailure(err error) string {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return fmt.Sprintf("The file is larger than %d bytes.", tooLarge.Limit)
	}
	return err.Error()
}

// prettyJSON renders a value as indented JSON for the result panel. Success
// bodies that are not JSON are shown as text.
func prettyJSON(v any) string {
	if ok, isSuccess := v.(*connector.Success); isSuccess && ok.Body == nil {
		return ok.Text()
	}
	if ok, isSuccess := v.(*connector.Success); isSuccess {
		v = ok.Body
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
