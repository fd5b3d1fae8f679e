package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// ErrInvalidTicket is returned for a stream ticket that is malformed, expired,
// already used or issued for another agency
var ErrInvalidTicket = errors.New("invalid stream ticket")

// TicketClaims are carried by a stream ticket
type TicketClaims struct {
	AgencyID string `json:"agency"`
	jwt.RegisteredClaims
}

// TicketIssuer signs the short lived tickets that let a browser open a
// websocket stream, since it cannot set an Authorization header on the upgrade
type TicketIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	spent  *cache.Cache
}

// NewTicketIssuer creates an issuer. An empty secret gets a random one, which
// only works when a single instance serves the streams.
func NewTicketIssuer(secret string, ttl time.Duration) *TicketIssuer {
	if secret == "" {
		secret = uuid.NewString()
	}
	return &TicketIssuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
		spent:  cache.New(ttl, 2*ttl),
	}
}

// Issue returns a signed ticket for userID on agencyID and its expiry
func (t *TicketIssuer) Issue(userID, agencyID string) (string, time.Time, error) {
	now := t.now()
	expires := now.Add(t.ttl)
	claims := TicketClaims{
		AgencyID: agencyID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign stream ticket: %w", err)
	}
	return signed, expires, nil
}

// Verify checks ticket and returns its claims. A ticket opens one stream:
// verifying it a second time fails.
func (t *TicketIssuer) Verify(ticket, agencyID string) (*TicketClaims, error) {
	claims := &TicketClaims{}
	_, err := jwt.ParseWithClaims(ticket, claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTicket, err)
	}
	if claims.AgencyID != agencyID || claims.Subject == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: issued for another agency", ErrInvalidTicket)
	}

	remaining := claims.ExpiresAt.Sub(t.now())
	if remaining <= 0 {
		remaining = t.ttl
	}
	if err := t.spent.Add(claims.ID, struct{}{}, remaining); err != nil {
		return nil, fmt.Errorf("%w: already used", ErrInvalidTicket)
	}
	return claims, nil
}
