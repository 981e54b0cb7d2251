package service

import (
	"context"
	"testing"
	"time"

	"workplace/internal/config"
	"workplace/internal/repository"
	"workplace/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturingMailer struct {
	email, token string
}

func (m *capturingMailer) SendConfirmation(_ context.Context, email, token string) error {
	m.email, m.token = email, token
	return nil
}

func newAuthService(t *testing.T, requireConfirmation bool) (*AuthService, *capturingMailer, *miniredis.Miniredis) {
	t.Helper()
	db := testutil.NewTestDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := &config.Config{
		JWTSecret:                "test-secret-that-is-long-enough-1234",
		JWTTTLMinutes:            15,
		RefreshTTLHour:           24,
		RequireEmailConfirmation: requireConfirmation,
	}
	mailer := &capturingMailer{}
	svc := NewAuthService(repository.NewAccountRepository(db), repository.NewProfileRepository(db), rdb, cfg, mailer)
	return svc, mailer, mr
}

func TestAuthService_SignUpCreatesProfileAndSession(t *testing.T) {
	svc, _, _ := newAuthService(t, false)
	ctx := context.Background()

	res, err := svc.SignUp(ctx, SignUpInput{Email: "  Jordan@Corp.Example ", Password: "hunter22x"})
	require.NoError(t, err)
	require.NotNil(t, res.Session)
	assert.False(t, res.ConfirmationRequired)
	assert.Equal(t, "jordan@corp.example", res.User.Email)
	assert.Equal(t, "jordan", res.User.Name)
	require.NotNil(t, res.User.Role)
	assert.Equal(t, "Member", *res.User.Role)
	require.NotNil(t, res.User.Department)
	assert.Equal(t, "General", *res.User.Department)

	userID, jti, err := svc.VerifyAccessToken(ctx, res.Session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, userID)
	assert.NotEmpty(t, jti)

	_, err = svc.SignUp(ctx, SignUpInput{Email: "jordan@corp.example", Password: "hunter22x"})
	assertAppErrorCode(t, err, "CONFLICT")
}

func TestAuthService_SignUpValidation(t *testing.T) {
	svc, _, _ := newAuthService(t, false)
	ctx := context.Background()

	_, err := svc.SignUp(ctx, SignUpInput{Email: "not-an-email", Password: "hunter22x"})
	assertValidationError(t, err)

	_, err = svc.SignUp(ctx, SignUpInput{Email: "a@corp.example", Password: "short"})
	assertValidationError(t, err)
}

func TestAuthService_SignInErrorsAreVerbatim(t *testing.T) {
	svc, mailer, _ := newAuthService(t, true)
	ctx := context.Background()

	res, err := svc.SignUp(ctx, SignUpInput{Email: "new@corp.example", Password: "hunter22x", Name: "New Hire"})
	require.NoError(t, err)
	assert.True(t, res.ConfirmationRequired)
	assert.Nil(t, res.Session)
	assert.Equal(t, "new@corp.example", mailer.email)

	_, err = svc.SignIn(ctx, "new@corp.example", "hunter22x")
	assertAppErrorCode(t, err, "AUTH_ERROR")
	assert.Equal(t, EmailNotConfirmedMessage, err.Error())

	_, err = svc.SignIn(ctx, "new@corp.example", "wrong-password1")
	assert.Equal(t, InvalidCredentialsMessage, err.Error())

	_, err = svc.SignIn(ctx, "nobody@corp.example", "hunter22x")
	assert.Equal(t, InvalidCredentialsMessage, err.Error())

	require.NoError(t, svc.ConfirmEmail(ctx, mailer.token))
	session, err := svc.SignIn(ctx, "NEW@corp.example", "hunter22x")
	require.NoError(t, err)
	assert.Equal(t, "New Hire", session.User.Name)

	err = svc.ConfirmEmail(ctx, mailer.token)
	assertValidationError(t, err)
}

func TestAuthService_RefreshRotatesToken(t *testing.T) {
	svc, _, _ := newAuthService(t, false)
	ctx := context.Background()

	res, err := svc.SignUp(ctx, SignUpInput{Email: "rot@corp.example", Password: "hunter22x"})
	require.NoError(t, err)

	next, err := svc.Refresh(ctx, res.Session.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, res.Session.RefreshToken, next.RefreshToken)
	assert.Equal(t, res.User.ID, next.User.ID)

	_, err = svc.Refresh(ctx, res.Session.RefreshToken)
	assertAppErrorCode(t, err, "UNAUTHORIZED")
}

func TestAuthService_SignOutRevokesAccessToken(t *testing.T) {
	svc, _, mr := newAuthService(t, false)
	ctx := context.Background()

	res, err := svc.SignUp(ctx, SignUpInput{Email: "bye@corp.example", Password: "hunter22x"})
	require.NoError(t, err)

	_, jti, err := svc.VerifyAccessToken(ctx, res.Session.AccessToken)
	require.NoError(t, err)

	require.NoError(t, svc.SignOut(ctx, jti, res.Session.ExpiresAt, res.Session.RefreshToken))
	assert.True(t, mr.Exists("blacklist:"+jti))

	_, _, err = svc.VerifyAccessToken(ctx, res.Session.AccessToken)
	assert.Error(t, err)

	_, err = svc.Refresh(ctx, res.Session.RefreshToken)
	assertAppErrorCode(t, err, "UNAUTHORIZED")
}

func TestAuthService_VerifyRejectsForeignAndExpiredTokens(t *testing.T) {
	svc, _, _ := newAuthService(t, false)
	ctx := context.Background()

	token, _, err := svc.generateAccessToken(uuid.New())
	require.NoError(t, err)

	other := *svc
	other.cfg = &config.Config{JWTSecret: "a-completely-different-secret-value"}
	_, _, err = other.VerifyAccessToken(ctx, token)
	assert.Error(t, err)

	late := *svc
	late.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, _, err = late.VerifyAccessToken(ctx, token)
	assert.Error(t, err)
}
