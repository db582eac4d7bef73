package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Options{SigningKey: []byte("unit-test-key"), Issuer: "veo3", Audience: "veo3-web", TTL: time.Hour})
	require.NoError(t, err)
	return m
}

func TestIssueAndParse(t *testing.T) {
	m := newTestManager(t)

	signed, issued, err := m.Issue(IssueInput{Subject: "42", TokenType: TypeSession, SessionID: "sid-1", IsAdmin: true})
	require.NoError(t, err)

	claims, err := m.Parse(signed)
	require.NoError(t, err)
	assert.Equal(t, "42", claims.Subject)
	assert.Equal(t, "sid-1", claims.SessionID)
	assert.True(t, claims.IsAdmin)
	assert.Equal(t, issued.ExpiresAt.Unix(), claims.ExpiresAt.Unix())
}

func TestParseRejectsWrongTypeAndKey(t *testing.T) {
	m := newTestManager(t)
	signed, _, err := m.Issue(IssueInput{Subject: "7", TokenType: TypeChallenge})
	require.NoError(t, err)

	_, err = m.ParseType(signed, TypeSession)
	assert.ErrorIs(t, err, ErrWrongType)

	other, err := NewManager(Options{SigningKey: []byte("another-key"), Issuer: "veo3", Audience: "veo3-web"})
	require.NoError(t, err)
	_, err = other.Parse(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseExpired(t *testing.T) {
	m := newTestManager(t)
	m.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	signed, _, err := m.Issue(IssueInput{Subject: "1"})
	require.NoError(t, err)

	m.now = func() time.Time { return time.Now().UTC() }
	_, err = m.Parse(signed)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestNewManagerRequiresKey(t *testing.T) {
	_, err := NewManager(Options{})
	assert.Error(t, err)
}

func TestIssueAssignsUniqueIDAndChecksAudience(t *testing.T) {
	m := newTestManager(t)
	_, a, err := m.Issue(IssueInput{Subject: "1"})
	require.NoError(t, err)
	_, b, err := m.Issue(IssueInput{Subject: "1"})
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)

	other, err := NewManager(Options{SigningKey: []byte("unit-test-key"), Issuer: "veo3", Audience: "admin"})
	require.NoError(t, err)
	signed, _, err := m.Issue(IssueInput{Subject: "1"})
	require.NoError(t, err)
	_, err = other.Parse(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, _, err = m.Issue(IssueInput{Subject: "  "})
	assert.Error(t, err)
}
