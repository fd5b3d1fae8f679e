package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTicketIssuer_RoundTrip(t *testing.T) {
	issuer := NewTicketIssuer("secret", time.Minute)

	ticket, expires, err := issuer.Issue("user-1", "sasp")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), expires, 5*time.Second)

	claims, err := issuer.Verify(ticket, "sasp")
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.NotEmpty(t, claims.ID)
}

func TestTicketIssuer_SingleUse(t *testing.T) {
	issuer := NewTicketIssuer("secret", time.Minute)
	ticket, _, err := issuer.Issue("user-1", "sasp")
	require.NoError(t, err)

	// a failed check does not spend the ticket
	_, err = issuer.Verify(ticket, "samc")
	assert.ErrorIs(t, err, ErrInvalidTicket)

	_, err = issuer.Verify(ticket, "sasp")
	require.NoError(t, err)
	_, err = issuer.Verify(ticket, "sasp")
	assert.ErrorIs(t, err, ErrInvalidTicket)

	other, _, err := issuer.Issue("user-1", "sasp")
	require.NoError(t, err)
	_, err = issuer.Verify(other, "sasp")
	assert.NoError(t, err)
}

func TestTicketIssuer_Rejects(t *testing.T) {
	issuer := NewTicketIssuer("secret", time.Minute)
	ticket, _, err := issuer.Issue("user-1", "sasp")
	require.NoError(t, err)

	expired := NewTicketIssuer("secret", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	stale, _, err := expired.Issue("user-1", "sasp")
	require.NoError(t, err)

	tests := []struct {
		name     string
		issuer   *TicketIssuer
		ticket   string
		agencyID string
	}{
		{"other agency", issuer, ticket, "samc"},
		{"other secret", NewTicketIssuer("other", time.Minute), ticket, "sasp"},
		{"expired", issuer, stale, "sasp"},
		{"garbage", issuer, "not-a-jwt", "sasp"},
		{"empty", issuer, "", "sasp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.issuer.Verify(tt.ticket, tt.agencyID)
			assert.ErrorIs(t, err, ErrInvalidTicket)
		})
	}
}

func TestTicketIssuer_RandomSecret(t *testing.T) {
	a := NewTicketIssuer("", time.Minute)
	b := NewTicketIssuer("", time.Minute)

	ticket, _, err := a.Issue("user-1", "sasp")
	require.NoError(t, err)
	_, err = b.Verify(ticket, "sasp")
	assert.ErrorIs(t, err, ErrInvalidTicket)
}
