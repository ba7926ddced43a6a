// Package sessionclient keeps the access-token lifecycle invisible to
// feature code: it attaches the in-memory bearer token to outgoing
// requests, performs exactly one silent refresh when a request comes back
// 401, replays the original request, and forces a logged-out state when
// the refresh itself fails. The refresh token never passes through this
// package; it travels in an http-only cookie managed by the cookie jar.
package sessionclient

import "sync"

// User mirrors the marketplace account payload returned by the auth API.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// Session is the explicit session-context object shared by the client and
// any feature code that needs the current identity.
type Session struct {
	mutex          sync.RWMutex
	accessToken    string
	user           User
	authenticated  bool
	onUnauthorized func()
}

// NewSession creates an empty, logged-out session.
func NewSession() *Session {
	return &Session{}
}

// AccessToken returns the current in-memory access token, empty when
// logged out.
func (session *Session) AccessToken() string {
	session.mutex.RLock()
	defer session.mutex.RUnlock()
	return session.accessToken
}

// User returns the current account and whether a session is active.
func (session *Session) User() (User, bool) {
	session.mutex.RLock()
	defer session.mutex.RUnlock()
	return session.user, session.authenticated
}

// SetOnUnauthorized registers the callback invoked when a silent refresh
// fails and the session is forcibly cleared.
func (session *Session) SetOnUnauthorized(callback func()) {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	session.onUnauthorized = callback
}

// Clear drops the in-memory token and account.
func (session *Session) Clear() {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	session.accessToken = ""
	session.user = User{}
	session.authenticated = false
}

func (session *Session) store(accessToken string, user User) {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	session.accessToken = accessToken
	session.user = user
	session.authenticated = true
}

func (session *Session) notifyUnauthorized() {
	session.mutex.RLock()
	callback := session.onUnauthorized
	session.mutex.RUnlock()
	if callback != nil {
		callback()
	}
}
