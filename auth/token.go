package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/auth0/go-jwt-middleware/v2/validator"
	"github.com/dgrijalva/jwt-go"
)

// Registered claims of the session tokens.
const (
	Issuer   = "torenms"
	Audience = "torenms-api"
)

// Tokens issues HS256 session tokens whose subject is the principal's email and builds the validator
// the api checks them with.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens creates a new instance of Tokens.
func NewTokens(secret string, ttl time.Duration) *Tokens {
	return &Tokens{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue signs a token for the email.
func (t *Tokens) Issue(email string) (string, error) {
	now := t.now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.StandardClaims{
		Issuer:    Issuer,
		Audience:  Audience,
		Subject:   Key(email),
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(t.ttl).Unix(),
	})
	s, err := tok.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("SignedString(): %s", err)
	}
	return s, nil
}

// Validator returns a validator accepting the tokens issued by t.
func (t *Tokens) Validator() (*validator.Validator, error) {
	keyFunc := func(context.Context) (interface{}, error) {
		return t.secret, nil
	}
	v, err := validator.New(keyFunc, validator.HS256, Issuer, []string{Audience})
	if err != nil {
		return nil, fmt.Errorf("validator.New(): %s", err)
	}
	return v, nil
}

// Subject returns the email carried by the claims the validator produced.
func Subject(claims interface{}) (string, bool) {
	c, ok := claims.(*validator.ValidatedClaims)
	if !ok || c.RegisteredClaims.Subject == "" {
		return "", false
	}
	return c.RegisteredClaims.Subject, true
}
