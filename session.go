package smartapi

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paulgrammer/smartapi-connect/openapi"
	"github.com/paulgrammer/smartapi-connect/pipeline"
)

// NoticeLevel is the severity of a message shown to the user.
type NoticeLevel string

const (
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
	NoticeInfo    NoticeLevel = "info"
)

// Notice is the message rendered after an action.
type Notice struct {
	Level  NoticeLevel `json:"level"`
	Text   string      `json:"text"`
	Detail string      `json:"detail,omitempty"`
}

// Session is the state of one browser: the uploaded document, base URL and
// last result. Its context is cancelled on teardown, which aborts any
// in-flight processing.
type Session struct {
	ID      string
	Created time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	lastSeen time.Time
	document *openapi.Document
	fileName string
	baseURL  string
	request  string
	summary  *pipeline.Summary
	notice   *Notice
	busy     bool
}

// SessionState is a point-in-time copy of a session for rendering.
type SessionState struct {
	ID            string            `json:"id"`
	FileName      string            `json:"file_name,omitempty"`
	DocumentTitle string            `json:"document_title,omitempty"`
	Operations    []string          `json:"operations,omitempty"`
	BaseURL       string            `json:"base_url"`
	Request       string            `json:"request,omitempty"`
	Busy          bool              `json:"busy"`
	Summary       *pipeline.Summary `json:"summary,omitempty"`
	Notice        *Notice           `json:"notice,omitempty"`

	document *openapi.Document
}

// HasDocument reports whether a document is loaded.
func (st SessionState) HasDocument() bool { return st.document != nil }

// State returns a copy of the session's current state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := SessionState{
		ID:       s.ID,
		FileName: s.fileName,
		BaseURL:  s.baseURL,
		Request:  s.request,
		Busy:     s.busy,
		Summary:  s.summary,
		Notice:   s.notice,
		document: s.document,
	}
	if s.document != nil {
		st.DocumentTitle = s.document.Title()
		for _, op := range s.document.Operations() {
			st.Operations = append(st.Operations, op.String())
		}
	}
	return st
}

// Context is cancelled when the session is torn down.
func (s *Session) Context() context.Context { return s.ctx }

// SetDocument replaces the loaded document. The previous summary no longer
// applies and is dropped.
func (s *Session) SetDocument(fileName string, doc *openapi.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fileName = fileName
	s.document = doc
	s.summary = nil
	if s.baseURL == "" {
		s.baseURL, _ = doc.ServerURL()
	}
}

// SetBaseURL stores the target API base URL.
func (s *Session) SetBaseURL(baseURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseURL = baseURL
}

// SetNotice stores the message shown on the next render.
func (s *Session) SetNotice(n *Notice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notice = n
}

// Begin marks the session busy and returns the pipeline input. It fails
// when another process action is running.
func (s *Session) Begin(request string) (pipeline.Input, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return pipeline.Input{}, false
	}
	s.busy = true
	s.request = request
	return pipeline.Input{Document: s.document, Request: request, BaseURL: s.baseURL}, true
}

// Finish records the outcome of the action started by Begin.
func (s *Session) Finish(summary *pipeline.Summary, notice *Notice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	s.summary = summary
	s.notice = notice
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

// idleSince reports when the session was last used. Busy sessions count as
// in use.
func (s *Session) idleSince(now time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return now
	}
	return s.lastSeen
}

// SessionStore holds the sessions of all browsers.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time
	onChange func(active int)
}

// NewSessionStore creates a store that expires sessions idle for ttl.
// A ttl of zero keeps sessions until they are deleted.
func NewSessionStore(ttl time.Duration, logger *slog.Logger) *SessionStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
	}
}

// Create starts a new session.
func (s *SessionStore) Create() *Session {
	now := s.now()
	ctx, cancel := context.WithCancel(context.Background())
	sess := &Session{
		ID:       uuid.NewString(),
		Created:  now,
		ctx:      ctx,
		cancel:   cancel,
		lastSeen: now,
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	active := len(s.sessions)
	s.mu.Unlock()

	s.logger.Debug("Session created", "session", sess.ID)
	s.changed(active)
	return sess
}

// Get returns a live session and marks it used. Expired sessions are torn
// down and reported as missing.
func (s *SessionStore) Get(id string) (*Session, bool) {
	if id == "" {
		return nil, false
	}
	now := s.now()

	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok && s.expired(sess, now) {
		delete(s.sessions, id)
		active := len(s.sessions)
		s.mu.Unlock()
		sess.cancel()
		s.logger.Debug("Session expired", "session", id)
		s.changed(active)
		return nil, false
	}
	s.mu.Unlock()

	if !ok {
		return nil, false
	}
	sess.touch(now)
	return sess, true
}

// Delete tears a session down, cancelling any work it has in flight.
func (s *SessionStore) Delete(id string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	active := len(s.sessions)
	s.mu.Unlock()

	if !ok {
		return false
	}
	sess.cancel()
	s.logger.Info("Session closed", "session", id)
	s.changed(active)
	return true
}

// Sweep removes expired sessions and returns how many were removed.
func (s *SessionStore) Sweep() int {
	now := s.now()
	var expired []*Session

	s.mu.Lock()
	for id, sess := range s.sessions {
		if s.expired(sess, now) {
			expired = append(expired, sess)
			delete(s.sessions, id)
		}
	}
	active := len(s.sessions)
	s.mu.Unlock()

	for _, sess := range expired {
		sess.cancel()
	}
	if len(expired) > 0 {
		s.logger.Info("Expired idle sessions", "count", len(expired), "active", active)
		s.changed(active)
	}
	return len(expired)
}

// Run sweeps every interval until ctx is done, then closes all sessions.
func (s *SessionStore) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Close()
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Close tears down every session.
func (s *SessionStore) Close() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.cancel()
	}
	s.changed(0)
}

// Len returns the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *SessionStore) expired(sess *Session, now time.Time) bool {
	return s.ttl > 0 && now.Sub(sess.idleSince(now)) > s.ttl
}

func (s *SessionStore) changed(active int) {
	if s.onChange != nil {
		s.onChange(active)
	}
}
