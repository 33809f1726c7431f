package lookingglass

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxEvents bounds the history kept per session
const DefaultMaxEvents = 500

// Engine keeps looking glass sessions and their event history
type Engine struct {
	sessions       map[string]*Session
	maxEvents      int
	allowedOrigins map[string]bool
	mu             sync.RWMutex
}

// NewEngine creates an engine. Websocket connections are accepted from
// allowedOrigins; an empty list accepts same-origin requests only.
func NewEngine(allowedOrigins []string) *Engine {
	e := &Engine{
		sessions:       make(map[string]*Session),
		maxEvents:      DefaultMaxEvents,
		allowedOrigins: make(map[string]bool),
	}
	for _, o := range allowedOrigins {
		e.allowedOrigins[o] = true
	}
	return e
}

// Session is one observed OpenID flow
type Session struct {
	ID        string       `json:"id"`
	Flow      string       `json:"flow"`
	Events    []Event      `json:"events"`
	State     SessionState `json:"state"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`

	clients map[*Client]bool
	mu      sync.RWMutex
}

// SessionState represents the state of a looking glass session
type SessionState string

const (
	SessionStateActive   SessionState = "active"
	SessionStatePaused   SessionState = "paused"
	SessionStateComplete SessionState = "complete"
)

// Event is something the provider did while handling a flow
type Event struct {
	ID          string                 `json:"id"`
	Type        EventType              `json:"type"`
	Timestamp   time.Time              `json:"timestamp"`
	Title       string                 `json:"title"`
	Description string                 `json:"description,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
	Annotations []Annotation           `json:"annotations,omitempty"`
}

// EventType categorizes looking glass events
type EventType string

const (
	EventTypeFlowStep           EventType = "flow.step"
	EventTypeRequestReceived    EventType = "request.received"
	EventTypeResponseSent       EventType = "response.sent"
	EventTypeAssertionIssued    EventType = "assertion.issued"
	EventTypeAssociationCreated EventType = "association.created"
	EventTypeTrustDecision      EventType = "trust.decision"
	EventTypeSecurityWarning    EventType = "security.warning"
	EventTypeSecurityInfo       EventType = "security.info"
	EventTypeCryptoOperation    EventType = "crypto.operation"
	EventTypeHTTPExchange       EventType = "http.exchange"
)

// Annotation provides security context for events
type Annotation struct {
	Type        AnnotationType `json:"type"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Severity    string         `json:"severity,omitempty"`  // info, warning, error
	Reference   string         `json:"reference,omitempty"` // OpenID section
}

// AnnotationType categorizes annotations
type AnnotationType string

const (
	AnnotationTypeSecurityHint  AnnotationType = "security_hint"
	AnnotationTypeBestPractice  AnnotationType = "best_practice"
	AnnotationTypeSpecReference AnnotationType = "spec_reference"
	AnnotationTypeVulnerability AnnotationType = "vulnerability"
	AnnotationTypeExplanation   AnnotationType = "explanation"
)

// CreateSession starts observing a flow
func (e *Engine) CreateSession(flow string) *Session {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	session := &Session{
		ID:        uuid.New().String(),
		Flow:      flow,
		Events:    make([]Event, 0),
		State:     SessionStateActive,
		CreatedAt: now,
		UpdatedAt: now,
		clients:   make(map[*Client]bool),
	}

	e.sessions[session.ID] = session
	return session
}

// GetSession retrieves a session by ID
func (e *Engine) GetSession(id string) (*Session, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	session, exists := e.sessions[id]
	return session, exists
}

// ListSessions returns all sessions, newest first
func (e *Engine) ListSessions() []*Session {
	e.mu.RLock()
	sessions := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions
}

// DeleteSession removes a session and disconnects its clients
func (e *Engine) DeleteSession(id string) {
	e.mu.Lock()
	session, exists := e.sessions[id]
	delete(e.sessions, id)
	e.mu.Unlock()

	if exists {
		session.closeClients()
	}
}

// ExpireSessions removes sessions idle for longer than maxIdle and returns
// how many were removed
func (e *Engine) ExpireSessions(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)
	var stale []string

	e.mu.RLock()
	for id, s := range e.sessions {
		s.mu.RLock()
		if s.UpdatedAt.Before(cutoff) {
			stale = append(stale, id)
		}
		s.mu.RUnlock()
	}
	e.mu.RUnlock()

	for _, id := range stale {
		e.DeleteSession(id)
	}
	return len(stale)
}

// AddEvent records an event and broadcasts it to connected clients. Events
// for unknown or paused sessions are dropped.
func (e *Engine) AddEvent(sessionID string, event Event) {
	session, exists := e.GetSession(sessionID)
	if !exists {
		return
	}

	event.ID = uuid.New().String()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	session.mu.Lock()
	if session.State == SessionStatePaused {
		session.mu.Unlock()
		return
	}
	session.Events = append(session.Events, event)
	if over := len(session.Events) - e.maxEvents; over > 0 {
		session.Events = append([]Event(nil), session.Events[over:]...)
	}
	session.UpdatedAt = time.Now()
	session.mu.Unlock()

	session.broadcast(event)
}

// Snapshot returns a copy of the session safe to serialize
func (s *Session) Snapshot() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := make([]Event, len(s.Events))
	copy(events, s.Events)
	return Session{
		ID:        s.ID,
		Flow:      s.Flow,
		Events:    events,
		State:     s.State,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	s.State = state
	s.mu.Unlock()
}
