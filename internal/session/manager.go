// Package session owns the client's authentication state and keeps it in
// step with durable storage.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agis/agenda/internal/apiclient"
	"github.com/agis/agenda/internal/contract"
	"github.com/agis/agenda/internal/storage"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

const (
	LoginPath  = "/auth/login"
	LogoutPath = "/auth/logout"

	// LoginView is where the navigator is sent after logout.
	LoginView = "/login"
)

// Poster is the slice of the API client the session manager needs.
type Poster interface {
	Post(ctx context.Context, path string, body any, opts ...apiclient.RequestOption) (apiclient.Envelope, error)
}

type LoginData struct {
	Token string         `json:"token"`
	User  *contract.User `json:"user"`
}

// LoginResult is returned by Login instead of an error: a rejected login is an
// expected outcome, not a fault.
type LoginResult struct {
	Success bool       `json:"success"`
	Data    *LoginData `json:"data,omitempty"`
	Error   string     `json:"error,omitempty"`
	// Err is the local storage fault behind a LOGIN_FAILED result, if any.
	Err error `json:"-"`
}

type LogoutOutcome string

const (
	LogoutServerOK     LogoutOutcome = "server_ok"
	LogoutTokenInvalid LogoutOutcome = "token_invalid"
	LogoutNetwork      LogoutOutcome = "network"
	LogoutOther        LogoutOutcome = "other"
	LogoutLocalOnly    LogoutOutcome = "local_only"
)

type Manager struct {
	mu       sync.Mutex
	state    contract.Session
	store    storage.Store
	api      Poster
	log      *logrus.Logger
	navigate func(view string)
	now      func() time.Time
}

type Option func(*Manager)

func WithLogger(l *logrus.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithNavigator installs the callback invoked with LoginView after logout.
func WithNavigator(fn func(view string)) Option {
	return func(m *Manager) { m.navigate = fn }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(store storage.Store, api Poster, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		api:      api,
		navigate: func(string) {},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logrus.New()
		m.log.SetLevel(logrus.PanicLevel)
	}
	if m.navigate == nil {
		m.navigate = func(string) {}
	}
	return m
}

// Initialize rehydrates the in-memory session from storage.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = contract.Session{}
	tok, hasTok, err := m.store.Get(storage.KeyAuthToken)
	if err != nil {
		return fmt.Errorf("session: read token: %w", err)
	}
	rawUser, hasUser, err := m.store.Get(storage.KeyUser)
	if err != nil {
		return fmt.Errorf("session: read user: %w", err)
	}

	if hasTok && strings.TrimSpace(tok) != "" {
		m.state.Token = strings.TrimSpace(tok)
	}
	if hasUser {
		var u contract.User
		if err := json.Unmarshal([]byte(rawUser), &u); err != nil {
			m.log.WithError(err).Warn("discarding malformed persisted user")
			if err := m.store.Remove(storage.KeyUser); err != nil {
				return err
			}
		} else {
			m.state.User = &u
		}
	}
	if err := m.syncRole(); err != nil {
		return err
	}

	if m.state.Token != "" {
		if exp, ok := tokenExpiry(m.state.Token); ok && !exp.After(m.now()) {
			m.log.WithField("expired_at", exp).Info("persisted token has expired; clearing session")
			return m.clearLocked()
		}
	}
	return nil
}

// Login posts credentials and, on success, persists the new session.
func (m *Manager) Login(ctx context.Context, email, password string) LoginResult {
	m.mu.Lock()
	m.state.Loading = true
	m.state.LastError = ""
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.state.Loading = false
		m.mu.Unlock()
	}()

	env, err := m.api.Post(ctx, LoginPath, map[string]string{
		"email":    strings.TrimSpace(email),
		"password": password,
	}, apiclient.WithoutCredentialReset())
	if err != nil {
		code := loginErrorCode(err)
		m.log.WithError(err).WithField("code", code).Warn("login failed")
		return m.failLogin(code)
	}

	var data LoginData
	if err := env.Decode(&data); err != nil || strings.TrimSpace(data.Token) == "" {
		m.log.WithField("message_code", env.MessageCode).Warn("login response carried no token")
		return m.failLogin(contract.MsgLoginFailed)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.persistLoginLocked(data); err != nil {
		m.log.WithError(err).Error("persisting session after login")
		if cerr := m.clearLocked(); cerr != nil {
			err = errors.Join(err, cerr)
		}
		m.state.LastError = contract.MsgLoginFailed
		return LoginResult{Error: contract.MsgLoginFailed, Err: err}
	}
	return LoginResult{Success: true, Data: &data}
}

// persistLoginLocked stores every part of a fresh session. The caller rolls
// back on error so a token never outlives a failed login.
func (m *Manager) persistLoginLocked(data LoginData) error {
	if err := m.setTokenLocked(data.Token); err != nil {
		return err
	}
	if err := m.setUserLocked(data.User); err != nil {
		return err
	}
	u := data.User
	if u == nil {
		return nil
	}
	if u.ProfileID != "" {
		if err := m.store.Set(storage.KeyProfileID, u.ProfileID); err != nil {
			return err
		}
	}
	if u.ID != "" {
		if err := m.store.Set(storage.KeyUserID, u.ID); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) failLogin(code string) LoginResult {
	m.mu.Lock()
	m.state.LastError = code
	m.mu.Unlock()
	return LoginResult{Error: code}
}

// loginErrorCode maps any 401 to INVALID_CREDENTIALS, whatever the backend said.
func loginErrorCode(err error) string {
	if apiclient.StatusOf(err) == 401 {
		return contract.MsgInvalidCredentials
	}
	if ae, ok := apiclient.AsError(err); ok && ae.MessageCode != "" {
		return ae.MessageCode
	}
	return contract.MsgLoginFailed
}

// Logout tells the server when possible and always tears the local session
// down. Only local storage faults are returned.
func (m *Manager) Logout(ctx context.Context) (err error) {
	defer func() {
		if cerr := m.clear(); cerr != nil && err == nil {
			err = cerr
		}
		m.navigate(LoginView)
	}()

	outcome := m.serverLogout(ctx)
	m.log.WithField("outcome", outcome).Debug("logout")
	return nil
}

func (m *Manager) serverLogout(ctx context.Context) LogoutOutcome {
	if m.Token() == "" || m.api == nil {
		return LogoutLocalOnly
	}
	if _, err := m.api.Post(ctx, LogoutPath, nil); err != nil {
		outcome := classifyLogoutFailure(err)
		entry := m.log.WithField("outcome", outcome)
		switch outcome {
		case LogoutTokenInvalid:
			entry.Info("token already invalid; server logout not needed")
		case LogoutNetwork:
			entry.Info("network error during logout; cleaning up locally")
		default:
			entry.WithError(err).Info("server logout failed; cleaning up locally")
		}
		return outcome
	}
	m.log.Info("server logout successful")
	return LogoutServerOK
}

func classifyLogoutFailure(err error) LogoutOutcome {
	switch {
	case apiclient.StatusOf(err) == 401, apiclient.HasCode(err, contract.MsgInvalidToken):
		return LogoutTokenInvalid
	case apiclient.HasCode(err, contract.MsgNetworkError):
		return LogoutNetwork
	default:
		return LogoutOther
	}
}

// Expire clears the session after the backend rejected the token. It does not
// call the server.
func (m *Manager) Expire() {
	if err := m.clear(); err != nil {
		m.log.WithError(err).Warn("clearing expired session")
	}
}

func (m *Manager) clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clearLocked()
}

func (m *Manager) clearLocked() error {
	m.state = contract.Session{}
	return errors.Join(
		m.store.Remove(storage.SessionKeys...),
		m.store.ExpireCookie(storage.CookieAuthToken),
	)
}

// HasPermission reports whether the current user satisfies any of roles.
func (m *Manager) HasPermission(roles ...contract.Role) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Token == "" {
		return false
	}
	return satisfiesAny(m.state.Role, roles)
}

func (m *Manager) IsAuthenticated() bool { return m.Token() != "" }

func (m *Manager) IsAdmin() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Role == contract.RoleAdmin
}

func (m *Manager) IsProfessional() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Role == contract.RoleProfessional
}

func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Token
}

// Snapshot returns a copy of the current session.
func (m *Manager) Snapshot() contract.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	return s
}

func (m *Manager) ClearLoginError() {
	m.mu.Lock()
	m.state.LastError = ""
	m.mu.Unlock()
}

// TokenExpiry reads the exp claim when the token is a JWT.
func (m *Manager) TokenExpiry() (time.Time, bool) {
	return tokenExpiry(m.Token())
}

func (m *Manager) setTokenLocked(tok string) error {
	m.state.Token = strings.TrimSpace(tok)
	if m.state.Token == "" {
		return m.store.Remove(storage.KeyAuthToken)
	}
	return m.store.Set(storage.KeyAuthToken, m.state.Token)
}

func (m *Manager) setUserLocked(u *contract.User) error {
	if u == nil {
		m.state.User = nil
		if err := m.store.Remove(storage.KeyUser); err != nil {
			return err
		}
		return m.syncRole()
	}
	cp := *u
	m.state.User = &cp
	b, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	if err := m.store.Set(storage.KeyUser, string(b)); err != nil {
		return err
	}
	return m.syncRole()
}

// syncRole derives the role from the user and mirrors it to storage.
func (m *Manager) syncRole() error {
	m.state.Role = ""
	if m.state.User != nil && m.state.User.Role.Valid() {
		m.state.Role = m.state.User.Role
	}
	if m.state.Role == "" {
		return m.store.Remove(storage.KeyUserRole)
	}
	return m.store.Set(storage.KeyUserRole, string(m.state.Role))
}

func tokenExpiry(token string) (time.Time, bool) {
	if strings.Count(token, ".") != 2 {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
