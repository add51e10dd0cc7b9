// Package storage holds the durable client-side state: a flat key/value area
// and a small cookie jar, both scoped to one profile.
package storage

import (
	"errors"
	"strings"
	"time"
)

// Keys written by the session manager.
const (
	KeyAuthToken   = "authToken"
	KeyUser        = "user"
	KeyUserRole    = "userRole"
	KeyProfileID   = "profileId"
	KeyUserID      = "userId"
	KeyLegacyToken = "token"

	CookieAuthToken = "authToken"
)

// SessionKeys lists every key cleared on logout.
var SessionKeys = []string{KeyAuthToken, KeyUser, KeyUserRole, KeyProfileID, KeyUserID, KeyLegacyToken}

var ErrClosed = errors.New("storage: closed")

type Store interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(keys ...string) error

	Cookie(name string) (string, bool, error)
	SetCookie(name, value string, expires time.Time) error
	// ExpireCookie overwrites the cookie with an empty value dated in the past.
	ExpireCookie(name string) error

	Close() error
}

// Credentials exposes the persisted bearer token to the API client without
// handing it the whole store.
type Credentials struct {
	Store Store
}

func (c Credentials) Token() string {
	if c.Store == nil {
		return ""
	}
	v, ok, err := c.Store.Get(KeyAuthToken)
	if err != nil || !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

// Invalidate drops the persisted token after the backend rejected it.
func (c Credentials) Invalidate() {
	if c.Store == nil {
		return
	}
	_ = c.Store.Remove(KeyAuthToken)
}

var cookieEpoch = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
