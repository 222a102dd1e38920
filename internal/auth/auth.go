// Package auth implements the login gate: credential validation against
// a configured whitelist and the session identity used for owner
// stamping and storage namespacing.
package auth

import (
	"crypto/subtle"
	"strings"

	roxerrors "github.com/Campzilla/STURMENTI-GESTIANALI-ROXSTAR/internal/errors"
	"github.com/Campzilla/STURMENTI-GESTIANALI-ROXSTAR/internal/logging"
	"golang.org/x/crypto/bcrypt"
)

// Credential is one whitelist entry. Password is either plain text or a
// bcrypt hash (recognized by its "$2" prefix).
type Credential struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Session identifies the authenticated user for the lifetime of a login.
// The username doubles as the owner identifier stamped into remote rows
// and as the local storage namespace.
type Session struct {
	Username string
}

// Owner returns the identifier used for owner stamping, empty when the
// session is nil (anonymous).
func (s *Session) Owner() string {
	if s == nil {
		return ""
	}

	return s.Username
}

// Login validates the credentials against the whitelist and returns a
// session on success. The recorder may be nil.
func Login(username, password string, whitelist []Credential, rec *logging.Recorder) (*Session, error) {
	username = strings.TrimSpace(username)

	for _, c := range whitelist {
		if c.Username != username {
			continue
		}

		if matchPassword(c.Password, password) {
			if rec != nil {
				rec.Event("auth", "login", map[string]any{"username": username})
			}

			return &Session{Username: username}, nil
		}
	}

	if rec != nil {
		rec.Event("auth", "login_denied", map[string]any{"username": username})
	}

	return nil, roxerrors.ErrInvalidCredentials
}

// matchPassword compares a stored whitelist password with the supplied
// one. Bcrypt hashes are verified with bcrypt; plain entries use a
// constant-time comparison.
func matchPassword(stored, supplied string) bool {
	if strings.HasPrefix(stored, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(supplied)) == nil
	}

	return subtle.ConstantTimeCompare([]byte(stored), []byte(supplied)) == 1
}
