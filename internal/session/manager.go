package session

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/eldarion/identeco/internal/crypto"
	"github.com/eldarion/identeco/pkg/models"
)

// CookieName is the session cookie
const CookieName = "identeco_session"

// Manager reads and writes the signed session cookie
type Manager struct {
	tokens *crypto.TokenService
	ttl    time.Duration
	secure bool
}

// NewManager creates a manager issuing cookies valid for ttl. Secure cookies
// are only sent over HTTPS.
func NewManager(tokens *crypto.TokenService, ttl time.Duration, secure bool) *Manager {
	return &Manager{tokens: tokens, ttl: ttl, secure: secure}
}

// Load returns the session carried by the request, or nil
func (m *Manager) Load(r *http.Request) *models.Session {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return nil
	}
	claims, err := m.tokens.Validate(c.Value)
	if err != nil {
		return nil
	}
	s := &models.Session{
		ID:       claims.SessionID,
		UserID:   claims.UserID,
		Username: claims.Username,
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return s
}

// Start returns the current session, creating an anonymous one if needed
func (m *Manager) Start(w http.ResponseWriter, r *http.Request) (*models.Session, error) {
	if s := m.Load(r); s != nil {
		return s, nil
	}
	s := &models.Session{ID: uuid.NewString()}
	if err := m.Save(w, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Save writes the session cookie
func (m *Manager) Save(w http.ResponseWriter, s *models.Session) error {
	token, err := m.tokens.Issue(crypto.SessionClaims{
		SessionID: s.ID,
		UserID:    s.UserID,
		Username:  s.Username,
	}, m.ttl)
	if err != nil {
		return err
	}
	s.ExpiresAt = time.Now().Add(m.ttl)
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.ttl / time.Second),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Rotate issues a new session ID bound to user, or anonymous when user is nil
func (m *Manager) Rotate(w http.ResponseWriter, user *models.User) (*models.Session, error) {
	s := &models.Session{ID: uuid.NewString()}
	if user != nil {
		s.UserID = user.ID
		s.Username = user.Username
	}
	if err := m.Save(w, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Clear expires the session cookie
func (m *Manager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// CSRFToken returns the form token bound to the session
func (m *Manager) CSRFToken(s *models.Session) string {
	return m.tokens.MAC("csrf|" + s.ID)
}

// VerifyCSRF checks a submitted form token
func (m *Manager) VerifyCSRF(s *models.Session, token string) bool {
	if s == nil || token == "" {
		return false
	}
	return m.tokens.VerifyMAC("csrf|"+s.ID, token)
}
