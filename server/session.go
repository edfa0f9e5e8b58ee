package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"dataset_metadata_publisher/metadata"
	"dataset_metadata_publisher/workflow"
)

const sessionCookieName = "sessionid"

// session is the server-side state of one browser: its storage and the
// controllers of the pages it has open.
type session struct {
	id      string
	csrf    string
	storage *workflow.MemoryStorage

	mu       sync.Mutex
	infer    *workflow.Controller
	modal    *workflow.PublishModal
	lastSeen time.Time
}

func newSession() *session {
	return &session{
		id:       uuid.NewString(),
		csrf:     uuid.NewString(),
		storage:  workflow.NewMemoryStorage(),
		lastSeen: time.Now(),
	}
}

func (s *session) inferController() *workflow.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.infer
}

func (s *session) setInferController(c *workflow.Controller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.infer = c
}

// publishModal returns the session's modal, creating it with build on first use.
func (s *session) publishModal(build func() *workflow.PublishModal) *workflow.PublishModal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.modal == nil {
		s.modal = build()
	}
	return s.modal
}

// reset drops the previous upload's files, generated values and open pages.
func (s *session) reset() {
	for _, id := range metadata.FieldIDs() {
		s.storage.Remove(id.StorageKey())
	}
	s.storage.Remove(metadata.KeyGeneratedTitle)
	s.storage.Remove(metadata.KeyInferenceSelection)
	s.storage.Remove(metadata.KeyDatasetFiles)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.infer = nil
	s.modal = nil
}

func (s *session) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

func (s *session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastSeen)
}

type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]*session
	idle     time.Duration
}

func newStore(idle time.Duration) *sessionStore {
	return &sessionStore{sessions: make(map[string]*session), idle: idle}
}

func (s *sessionStore) set(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.id] = sess
}

// get returns a live session and drops the ones idle for too long.
func (s *sessionStore) get(id string) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for key, sess := range s.sessions {
		if s.idle > 0 && sess.idleSince(now) > s.idle {
			delete(s.sessions, key)
		}
	}
	sess, ok := s.sessions[id]
	if ok {
		sess.touch()
	}
	return sess, ok
}

// session returns the caller's session, starting one when needed, and keeps
// the session and CSRF cookies in place.
func (s *Server) session(w http.ResponseWriter, r *http.Request) *session {
	var sess *session
	if c, err := r.Cookie(sessionCookieName); err == nil {
		sess, _ = s.sessions.get(c.Value)
	}
	if sess == nil {
		sess = newSession()
		s.sessions.set(sess)
		s.infof("new session %s", sess.id)
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookieName,
			Value:    sess.id,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	if c, err := r.Cookie(workflow.CSRFCookieName); err != nil || c.Value != sess.csrf {
		http.SetCookie(w, &http.Cookie{
			Name:     workflow.CSRFCookieName,
			Value:    sess.csrf,
			Path:     "/",
			SameSite: http.SameSiteLaxMode,
		})
	}
	return sess
}
