package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validDraft() Draft {
	return Draft{
		ServiceID:  "svc-a",
		AgentID:    "agent-1",
		Domain:     "legal",
		Kind:       KindSemantic,
		Payload:    Value{"k": 1},
		Importance: 5,
	}
}

func TestNewRejectsMissingScope(t *testing.T) {
	d := validDraft()
	d.ServiceID = ""
	_, err := New(d)
	require.Error(t, err)
}

func TestNewRejectsBadKind(t *testing.T) {
	d := validDraft()
	d.Kind = "bogus"
	_, err := New(d)
	require.Error(t, err)
}

func TestNewRejectsImportanceOutOfRange(t *testing.T) {
	d := validDraft()
	d.Importance = 11
	_, err := New(d)
	require.Error(t, err)
}

func TestNewAssignsIdentityAndVersion(t *testing.T) {
	e, err := New(validDraft())
	require.NoError(t, err)
	require.NotEmpty(t, e.ID)
	require.Equal(t, 1, e.Metadata.Version)
}

func TestIsExpiredAtExactThreshold(t *testing.T) {
	now := time.Now().UTC()
	d := validDraft()
	expiry := now.Add(time.Second)
	d.ExpiresAt = &expiry
	e, err := New(d)
	require.NoError(t, err)

	require.False(t, e.IsExpired(now))
	require.True(t, e.IsExpired(expiry))
	require.True(t, e.IsExpired(expiry.Add(time.Millisecond)))
}

func TestBumpVersionNeverDecreases(t *testing.T) {
	e, err := New(validDraft())
	require.NoError(t, err)
	e.BumpVersion()
	e.BumpVersion()
	require.Equal(t, 3, e.Metadata.Version)
}

func TestTouchUpdatesAccessTracking(t *testing.T) {
	e, err := New(validDraft())
	require.NoError(t, err)
	at := e.Metadata.LastAccessedAt.Add(time.Minute)
	e.Touch(at)
	require.Equal(t, int64(1), e.Metadata.AccessCount)
	require.Equal(t, at, e.Metadata.LastAccessedAt)
}
