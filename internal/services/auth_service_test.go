package services

import (
	"context"
	"testing"
	"time"

	"github.com/commentpilot/user-service/internal/config"
	"github.com/commentpilot/user-service/internal/dto"
	"github.com/commentpilot/user-service/internal/models"
	"github.com/commentpilot/user-service/internal/plans"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthService(f *fixture) *AuthService {
	cfg := &config.Config{
		JWTSecret:        "test-secret",
		JWTAccessExpiry:  15 * time.Minute,
		JWTRefreshExpiry: time.Hour,
	}
	return NewAuthService(f.db, cfg, f.recorder, NewReconciler(f.trials))
}

func TestRegister_CreatesFreeUserWithInitialHistory(t *testing.T) {
	f := newFixture(t)
	auth := newAuthService(f)

	resp, err := auth.Register(context.Background(), &dto.RegisterRequest{Email: " Jane@Example.com ", Password: "password123", Name: "Jane"})
	require.NoError(t, err)

	assert.Equal(t, "jane@example.com", resp.User.Email)
	assert.Equal(t, plans.Free, resp.User.Plan)
	assert.NotEmpty(t, resp.RefreshToken)

	token, err := jwt.Parse(resp.AccessToken, func(*jwt.Token) (any, error) { return []byte("test-secret"), nil })
	require.NoError(t, err)
	claims := token.Claims.(jwt.MapClaims)
	assert.Equal(t, resp.User.ID.String(), claims["sub"])
	assert.Equal(t, "free", claims["plan"])

	history := f.history(t, resp.User.ID)
	require.Len(t, history, 1)
	assert.Nil(t, history[0].OldPlan)
	assert.Equal(t, ActorRegistration, history[0].ChangedBy)

	stored := f.reload(t, resp.User.ID)
	assert.Nil(t, stored.TrialStartedAt)
	assert.Nil(t, stored.LinkedInProfileIDHash)
}

func TestRegister_Validation(t *testing.T) {
	f := newFixture(t)
	auth := newAuthService(f)
	ctx := context.Background()

	_, err := auth.Register(ctx, &dto.RegisterRequest{Email: "not-an-email", Password: "password123"})
	assert.ErrorIs(t, err, ErrInvalidSignup)

	_, err = auth.Register(ctx, &dto.RegisterRequest{Email: "jane@example.com", Password: "short"})
	assert.ErrorIs(t, err, ErrInvalidSignup)

	_, err = auth.Register(ctx, &dto.RegisterRequest{Email: "jane@example.com", Password: "password123"})
	require.NoError(t, err)
	_, err = auth.Register(ctx, &dto.RegisterRequest{Email: "JANE@example.com", Password: "password123"})
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestLogin_ReconcilesOverdueTrial(t *testing.T) {
	f := newFixture(t)
	auth := newAuthService(f)
	ctx := context.Background()

	resp, err := auth.Register(ctx, &dto.RegisterRequest{Email: "jane@example.com", Password: "password123"})
	require.NoError(t, err)
	user := f.reload(t, resp.User.ID)

	f.clock.Set(t0)
	_, err = f.trials.StartTrial(ctx, user, "jane-doe-123")
	require.NoError(t, err)

	f.clock.Set(t0.Add(days(31)))
	login, err := auth.Login(ctx, &dto.LoginRequest{Email: "jane@example.com", Password: "password123"})
	require.NoError(t, err)
	assert.Equal(t, plans.Medium, login.User.Plan)

	_, err = auth.Login(ctx, &dto.LoginRequest{Email: "jane@example.com", Password: "wrong-password"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRefresh_RotatesTokens(t *testing.T) {
	f := newFixture(t)
	auth := newAuthService(f)
	ctx := context.Background()

	resp, err := auth.Register(ctx, &dto.RegisterRequest{Email: "jane@example.com", Password: "password123"})
	require.NoError(t, err)

	next, err := auth.Refresh(ctx, &dto.RefreshRequest{RefreshToken: resp.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, resp.RefreshToken, next.RefreshToken)

	_, err = auth.Refresh(ctx, &dto.RefreshRequest{RefreshToken: resp.RefreshToken})
	assert.ErrorIs(t, err, ErrInvalidToken)

	require.NoError(t, auth.Logout(ctx, &dto.LogoutRequest{RefreshToken: next.RefreshToken}))
	_, err = auth.Refresh(ctx, &dto.RefreshRequest{RefreshToken: next.RefreshToken})
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestDeleteAccount_KeepsProfileHashReserved(t *testing.T) {
	f := newFixture(t)
	auth := newAuthService(f)
	ctx := context.Background()

	resp, err := auth.Register(ctx, &dto.RegisterRequest{Email: "jane@example.com", Password: "password123"})
	require.NoError(t, err)
	user := f.reload(t, resp.User.ID)
	_, err = f.trials.StartTrial(ctx, user, "jane-doe-123")
	require.NoError(t, err)

	assert.ErrorIs(t, auth.DeleteAccount(ctx, user.ID, ""), ErrPasswordRequired)
	assert.ErrorIs(t, auth.DeleteAccount(ctx, user.ID, "nope-nope"), ErrInvalidCredentials)
	require.NoError(t, auth.DeleteAccount(ctx, user.ID, "password123"))

	_, err = auth.CurrentUser(ctx, user.ID)
	assert.ErrorIs(t, err, ErrUserNotFound)

	var deleted models.User
	require.NoError(t, f.db.Unscoped().First(&deleted, "id = ?", user.ID).Error)
	assert.NotNil(t, deleted.LinkedInProfileIDHash)

	second, err := auth.Register(ctx, &dto.RegisterRequest{Email: "jane2@example.com", Password: "password123"})
	require.NoError(t, err)
	res, err := f.trials.StartTrial(ctx, f.reload(t, second.User.ID), "Jane-Doe-123")
	require.NoError(t, err)
	assert.Equal(t, TrialProfileInUse, res.Outcome)
}
