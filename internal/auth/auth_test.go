package auth

import (
	"testing"

	roxerrors "github.com/Campzilla/STURMENTI-GESTIANALI-ROXSTAR/internal/errors"
	"github.com/Campzilla/STURMENTI-GESTIANALI-ROXSTAR/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestLogin_PlainPassword(t *testing.T) {
	wl := []Credential{{Username: "rox", Password: "segretissima"}}

	s, err := Login("rox", "segretissima", wl, nil)
	require.NoError(t, err)
	assert.Equal(t, "rox", s.Username)
	assert.Equal(t, "rox", s.Owner())
}

func TestLogin_BcryptPassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("segretissima"), bcrypt.MinCost)
	require.NoError(t, err)

	wl := []Credential{{Username: "rox", Password: string(hash)}}

	s, err := Login("rox", "segretissima", wl, nil)
	require.NoError(t, err)
	assert.Equal(t, "rox", s.Username)

	_, err = Login("rox", "sbagliata", wl, nil)
	assert.ErrorIs(t, err, roxerrors.ErrInvalidCredentials)
}

func TestLogin_WrongPassword(t *testing.T) {
	wl := []Credential{{Username: "rox", Password: "segretissima"}}

	_, err := Login("rox", "nope", wl, nil)
	assert.ErrorIs(t, err, roxerrors.ErrInvalidCredentials)
}

func TestLogin_UnknownUser(t *testing.T) {
	wl := []Credential{{Username: "rox", Password: "segretissima"}}

	_, err := Login("ignoto", "segretissima", wl, nil)
	assert.ErrorIs(t, err, roxerrors.ErrInvalidCredentials)
}

func TestLogin_TrimsUsername(t *testing.T) {
	wl := []Credential{{Username: "rox", Password: "pw"}}

	s, err := Login("  rox  ", "pw", wl, nil)
	require.NoError(t, err)
	assert.Equal(t, "rox", s.Username)
}

func TestLogin_RecordsOutcome(t *testing.T) {
	rec := logging.NewRecorder(nil, nil)
	wl := []Credential{{Username: "rox", Password: "pw"}}

	_, _ = Login("rox", "pw", wl, rec)
	_, _ = Login("rox", "nope", wl, rec)

	entries := rec.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "login", entries[0].Action)
	assert.Equal(t, "login_denied", entries[1].Action)
}

func TestNilSessionIsAnonymous(t *testing.T) {
	var s *Session
	assert.Empty(t, s.Owner())
}
