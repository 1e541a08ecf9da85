package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionAudience is the aud claim of admin session tokens.
const SessionAudience = "builder-claims-admin"

var (
	// ErrInvalidToken is returned when a token is malformed, expired or signed by another key.
	ErrInvalidToken = errors.New("invalid token")
)

// SessionClaims holds JWT claims for an admin session token. Subject is the admin user.
type SessionClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
}

// SessionTokens issues and validates admin session JWTs using RS256 or ES256.
type SessionTokens struct {
	privateKey crypto.Signer
	publicKey  crypto.PublicKey
	issuer     string
	ttl        time.Duration
	nowF       func() time.Time
}

// NewSessionTokens returns a SessionTokens that signs with privateKey and verifies with publicKey.
func NewSessionTokens(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer string, ttl time.Duration) *SessionTokens {
	return &SessionTokens{
		privateKey: privateKey,
		publicKey:  publicKey,
		issuer:     issuer,
		ttl:        ttl,
		nowF:       func() time.Time { return time.Now().UTC() },
	}
}

// Issue returns a signed token binding sessionID to user, and its expiry.
func (p *SessionTokens) Issue(sessionID, user string) (token string, expiresAt time.Time, err error) {
	now := p.nowF()
	expiresAt = now.Add(p.ttl)
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sessionID,
			Subject:   user,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{SessionAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		SessionID: sessionID,
	}

	var method jwt.SigningMethod
	switch p.privateKey.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return "", time.Time{}, ErrInvalidKey
	}
	token, err = jwt.NewWithClaims(method, claims).SignedString(p.privateKey)
	return token, expiresAt, err
}

// Validate checks signature, expiry, issuer and audience and returns the session and user it names.
func (p *SessionTokens) Validate(tokenString string) (sessionID, user string, err error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return p.publicKey, nil },
		jwt.WithValidMethods([]string{"RS256", "ES256"}),
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(SessionAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.nowF),
	)
	if err != nil || !token.Valid || claims.SessionID == "" {
		return "", "", ErrInvalidToken
	}
	return claims.SessionID, claims.Subject, nil
}
