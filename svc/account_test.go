package svc

import (
	"context"
	"testing"

	"github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torantis/torenms/errors"
	"github.com/torantis/torenms/log"
	"github.com/torantis/torenms/store"
	"github.com/torantis/torenms/store/memory"
)

type fakeTokens struct{}

func (fakeTokens) Issue(email string) (string, error) { return "token-" + email, nil }

func newAccount(m store.Gateway, id *fakeIdentity) *Account {
	return NewAccount(&AccountCfg{
		Log:      log.NewNop(),
		Store:    m,
		Identity: id,
		Tokens:   fakeTokens{},
		DeviceID: "device",
	})
}

func field(err error) string {
	var ve errors.ValidationError
	if errors.As(err, &ve) {
		return ve.Field
	}
	return ""
}

func TestValidateSignUp(t *testing.T) {
	convey.Convey("ValidateSignUp. boundary-valid form", t, func() {
		convey.So(ValidateSignUp("a@b.com", "abcde", "abcdef"), convey.ShouldBeNil)
	})
	convey.Convey("ValidateSignUp. name of 15 characters", t, func() {
		convey.So(ValidateSignUp("a@b.com", "abcdefghijklmno", "abcdef"), convey.ShouldBeNil)
	})
	convey.Convey("ValidateSignUp. empty email", t, func() {
		convey.So(field(ValidateSignUp(" ", "abcde", "abcdef")), convey.ShouldEqual, "email")
	})
	convey.Convey("ValidateSignUp. name of 4 characters", t, func() {
		convey.So(field(ValidateSignUp("a@b.com", "abcd", "abcdef")), convey.ShouldEqual, "name")
	})
	convey.Convey("ValidateSignUp. name of 16 characters", t, func() {
		convey.So(field(ValidateSignUp("a@b.com", "abcdefghijklmnop", "abcdef")), convey.ShouldEqual, "name")
	})
	convey.Convey("ValidateSignUp. empty name", t, func() {
		convey.So(field(ValidateSignUp("a@b.com", "", "abcdef")), convey.ShouldEqual, "name")
	})
	convey.Convey("ValidateSignUp. password of 5 characters", t, func() {
		convey.So(field(ValidateSignUp("a@b.com", "abcde", "abcde")), convey.ShouldEqual, "password")
	})
	convey.Convey("ValidateSignUp. empty password", t, func() {
		convey.So(field(ValidateSignUp("a@b.com", "abcde", "")), convey.ShouldEqual, "password")
	})
}

func TestSignUp(t *testing.T) {
	ctx := context.Background()
	m := memory.New()
	id := newFakeIdentity()

	u, err := newAccount(m, id).SignUp(ctx, "a@b.com", "abcde", "abcdef")
	require.Nil(t, err)
	assert.Equal(t, "a@b.com", u.Email)

	users, err := m.List(ctx, store.Users)
	require.Nil(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "a@b.com", users[0][store.IDField])
	assert.Equal(t, "abcde", users[0]["userName"])
	assert.Equal(t, "device", users[0]["userDeviceId"])
	_, hasPassword := users[0]["userPassword"]
	assert.False(t, hasPassword)
}

func TestSignUpKeysByLowercasedEmail(t *testing.T) {
	ctx := context.Background()
	m := memory.New()

	_, err := newAccount(m, newFakeIdentity()).SignUp(ctx, "A@B.Com", "abcde", "abcdef")
	require.Nil(t, err)

	_, err = m.Get(ctx, store.Users, "a@b.com")
	assert.Nil(t, err)
}

func TestSignUpShortNameFailsBeforeNetwork(t *testing.T) {
	ctx := context.Background()
	m := memory.New()
	id := newFakeIdentity()

	_, err := newAccount(m, id).SignUp(ctx, "a@b.com", "abcd", "abcdef")
	assert.Equal(t, "name", field(err))
	assert.Equal(t, 0, id.calls)

	users, err := m.List(ctx, store.Users)
	require.Nil(t, err)
	assert.Empty(t, users)
}

func TestSignUpIdentityRejection(t *testing.T) {
	ctx := context.Background()
	m := memory.New()
	id := newFakeIdentity()
	id.createErr = errors.NewAuthError("email", errors.ReasonEmailInUse, "email address is already in use")

	_, err := newAccount(m, id).SignUp(ctx, "a@b.com", "abcde", "abcdef")
	var ae errors.AuthError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "email", ae.Field)

	users, err := m.List(ctx, store.Users)
	require.Nil(t, err)
	assert.Empty(t, users)
}

func TestSignIn(t *testing.T) {
	ctx := context.Background()
	m := memory.New()
	id := newFakeIdentity()
	a := newAccount(m, id)

	_, err := a.SignUp(ctx, "a@b.com", "abcde", "abcdef")
	require.Nil(t, err)

	u, tok, err := a.SignIn(ctx, "a@b.com", "abcdef")
	require.Nil(t, err)
	assert.Equal(t, "abcde", u.Name)
	assert.Equal(t, "token-a@b.com", tok)

	_, _, err = a.SignIn(ctx, "a@b.com", "abcdeg")
	assert.Equal(t, errors.ErrAuth, errors.Code(err))

	_, _, err = a.SignIn(ctx, "", "abcdef")
	assert.Equal(t, "email", field(err))

	users, err := a.Users(ctx)
	require.Nil(t, err)
	assert.Len(t, users, 1)
}

func TestSignUpRecoversFromFailedUserWrite(t *testing.T) {
	ctx := context.Background()
	m := memory.New()
	g := &flakyStore{Memory: m, failing: store.Users, setFailures: 1}
	id := newFakeIdentity()
	a := newAccount(g, id)

	_, err := a.SignUp(ctx, "a@b.com", "abcde", "abcdef")
	assert.Equal(t, errors.ErrStore, errors.Code(err))
	assert.Empty(t, id.passwords)

	_, err = a.SignUp(ctx, "a@b.com", "abcde", "abcdef")
	require.Nil(t, err)

	u, _, err := a.SignIn(ctx, "a@b.com", "abcdef")
	require.Nil(t, err)
	assert.Equal(t, "abcde", u.Name)
}
