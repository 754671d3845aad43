// Package auth provides the identity provider and the session tokens of the center.
package auth

import (
	"context"
	"net/mail"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/torantis/torenms/errors"
	"github.com/torantis/torenms/store"
)

// MinPasswordLen is the shortest password the provider accepts.
const MinPasswordLen = 6

const (
	fieldEmail    = "email"
	fieldPassword = "password"

	keyEmail     = "identityEmail"
	keyHash      = "identityPasswordHash"
	keyCreatedAt = "identityCreatedAt"
)

type (
	// Identifier is a contract for the identity provider.
	Identifier interface {
		Create(ctx context.Context, email, password string) error
		Verify(ctx context.Context, email, password string) error
		Delete(ctx context.Context, email string) error
	}

	// Provider keeps bcrypt hashes of the credentials in the IDENTITIES collection. A plaintext
	// password is never stored nor kept in memory past the call.
	Provider struct {
		store store.Gateway
		cost  int
	}
)

// NewProvider creates a new instance of Provider.
func NewProvider(g store.Gateway) *Provider {
	return &Provider{
		store: g,
		cost:  bcrypt.DefaultCost,
	}
}

// Key returns the natural key of the principal: the lowercased email.
func Key(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create registers a new principal. Of concurrent creates for one email exactly one succeeds.
func (p *Provider) Create(ctx context.Context, email, password string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != strings.TrimSpace(email) {
		return errors.NewAuthError(fieldEmail, errors.ReasonInvalidEmail, "email address is badly formatted")
	}
	if len(password) < MinPasswordLen {
		return errors.NewAuthError(fieldPassword, errors.ReasonWeakPassword, "password should be at least 6 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err == bcrypt.ErrPasswordTooLong {
		return errors.NewAuthError(fieldPassword, errors.ReasonWeakPassword, "password should be at most 72 bytes")
	}
	if err != nil {
		return pkgerrors.Wrap(err, "auth: Create(): GenerateFromPassword() failed")
	}

	id := Key(email)
	err = p.store.Create(ctx, store.Identities, id, store.Document{
		keyEmail:     id,
		keyHash:      string(hash),
		keyCreatedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if errors.IsExists(err) {
		return errors.NewAuthError(fieldEmail, errors.ReasonEmailInUse, "email address is already in use")
	}
	return err
}

// Delete removes the principal. Removing an unknown one is not an error.
func (p *Provider) Delete(ctx context.Context, email string) error {
	return p.store.Delete(ctx, store.Identities, Key(email))
}

// Verify checks the password of the principal.
func (p *Provider) Verify(ctx context.Context, email, password string) error {
	d, err := p.store.Get(ctx, store.Identities, Key(email))
	if errors.IsNotFound(err) {
		return errors.NewAuthError(fieldEmail, errors.ReasonUserNotFound, "there is no user with this email")
	}
	if err != nil {
		return err
	}

	hash, ok := d[keyHash].(string)
	if !ok {
		return errors.DecodeError{Collection: string(store.Identities), Err: pkgerrors.New("no password hash")}
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return errors.NewAuthError(fieldPassword, errors.ReasonWrongPassword, "password is invalid")
	}
	return nil
}
