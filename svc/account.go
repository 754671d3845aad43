package svc

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/torantis/torenms/auth"
	"github.com/torantis/torenms/errors"
	"github.com/torantis/torenms/log"
	"github.com/torantis/torenms/store"
	"github.com/torantis/torenms/store/model"
)

// Sign-up constraints.
const (
	MinNameLen = 5
	MaxNameLen = 15
)

type (
	// TokenIssuer signs session tokens.
	TokenIssuer interface {
		Issue(email string) (string, error)
	}

	// AccountCfg is used to initialize an instance of Account.
	AccountCfg struct {
		Log      log.Logger
		Store    store.Gateway
		Identity auth.Identifier
		Tokens   TokenIssuer
		DeviceID string
	}

	// Account signs users up and in.
	Account struct {
		log      log.Logger
		store    store.Gateway
		identity auth.Identifier
		tokens   TokenIssuer
		deviceID string
	}
)

// NewAccount creates and initializes a new instance of Account.
func NewAccount(c *AccountCfg) *Account {
	return &Account{
		log:      c.Log.With("component", "account"),
		store:    c.Store,
		identity: c.Identity,
		tokens:   c.Tokens,
		deviceID: c.DeviceID,
	}
}

// ValidateSignUp checks the sign-up form locally. The error names the first offending field.
func ValidateSignUp(email, name, password string) error {
	if strings.TrimSpace(email) == "" {
		return errors.ValidationError{Field: "email", Message: "email must not be empty"}
	}
	if name == "" {
		return errors.ValidationError{Field: "name", Message: "name must not be empty"}
	}
	if n := utf8.RuneCountInString(name); n < MinNameLen || n > MaxNameLen {
		return errors.ValidationError{Field: "name", Message: "name must be 5 to 15 characters long"}
	}
	if password == "" {
		return errors.ValidationError{Field: "password", Message: "password must not be empty"}
	}
	if len(password) < auth.MinPasswordLen {
		return errors.ValidationError{Field: "password", Message: "password must be at least 6 characters long"}
	}
	return nil
}

// SignUp validates the form before any call to the backend, registers the credential with the identity
// provider and then writes the USERS document keyed by the lowercased email.
func (a *Account) SignUp(ctx context.Context, email, name, password string) (*model.User, error) {
	if err := ValidateSignUp(email, name, password); err != nil {
		return nil, err
	}
	if err := a.identity.Create(ctx, email, password); err != nil {
		return nil, err
	}

	key := auth.Key(email)
	u := &model.User{
		ID:             key,
		Name:           name,
		Email:          key,
		Authentication: true,
		DeviceID:       a.deviceID,
	}
	d, err := model.ToDocument(u)
	if err != nil {
		return nil, err
	}
	if err := a.store.Set(ctx, store.Users, key, d); err != nil {
		a.log.Errorf("SignUp(): Set() failed: %s", err)
		// without its user document the credential would block every later sign-up
		if derr := a.identity.Delete(ctx, email); derr != nil {
			a.log.Errorf("SignUp(): Delete() failed, %s keeps a credential without a user: %s", key, derr)
		}
		return nil, err
	}
	a.log.With("event", log.EventUserSignedUp).Infof("email: %s", key)
	return u, nil
}

// SignIn verifies the credential and returns the user with a fresh session token.
func (a *Account) SignIn(ctx context.Context, email, password string) (*model.User, string, error) {
	if strings.TrimSpace(email) == "" {
		return nil, "", errors.ValidationError{Field: "email", Message: "email must not be empty"}
	}
	if password == "" {
		return nil, "", errors.ValidationError{Field: "password", Message: "password must not be empty"}
	}
	if err := a.identity.Verify(ctx, email, password); err != nil {
		return nil, "", err
	}

	u, err := a.User(ctx, email)
	if err != nil {
		return nil, "", err
	}
	tok, err := a.tokens.Issue(email)
	if err != nil {
		a.log.Errorf("SignIn(): Issue() failed: %s", err)
		return nil, "", err
	}
	return u, tok, nil
}

// User returns the USERS document of the email.
func (a *Account) User(ctx context.Context, email string) (*model.User, error) {
	d, err := a.store.Get(ctx, store.Users, auth.Key(email))
	if err != nil {
		return nil, err
	}
	return model.DecodeUser(d)
}

// Users returns every user.
func (a *Account) Users(ctx context.Context) ([]*model.User, error) {
	docs, err := a.store.List(ctx, store.Users)
	if err != nil {
		return nil, err
	}
	users := make([]*model.User, 0, len(docs))
	for _, d := range docs {
		u, err := model.DecodeUser(d)
		if err != nil {
			a.log.Errorf("Users(): %s", err)
			continue
		}
		users = append(users, u)
	}
	return users, nil
}
