package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/campushq/apply-api/internal/models"
	appErrors "github.com/campushq/apply-api/pkg/errors"
)

type authUserRepoStub struct {
	users   map[string]*models.User
	tokens  map[string]*models.RefreshToken
	revoked int
}

func newAuthUserRepoStub() *authUserRepoStub {
	return &authUserRepoStub{
		users:  map[string]*models.User{},
		tokens: map[string]*models.RefreshToken{},
	}
}

func (r *authUserRepoStub) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	for _, user := range r.users {
		if user.Username == username {
			return user, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *authUserRepoStub) FindByID(ctx context.Context, id string) (*models.User, error) {
	user, ok := r.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

func (r *authUserRepoStub) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	if user, ok := r.users[id]; ok {
		user.LastLogin = &ts
	}
	return nil
}

func (r *authUserRepoStub) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	for _, token := range r.tokens {
		if token.UserID == userID {
			token.Revoked = true
		}
	}
	return nil
}

func (r *authUserRepoStub) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	r.tokens[token.Token] = token
	return nil
}

func (r *authUserRepoStub) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	stored, ok := r.tokens[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return stored, nil
}

func (r *authUserRepoStub) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	for _, token := range r.tokens {
		if token.ID == id {
			token.Revoked = true
			token.RevokedAt = &revokedAt
			r.revoked++
			return nil
		}
	}
	return sql.ErrNoRows
}

func newAuthFixture(t *testing.T) (*AuthService, *authUserRepoStub) {
	t.Helper()
	repo := newAuthUserRepoStub()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	repo.users["u-admin"] = &models.User{
		ID:           "u-admin",
		Username:     "admin",
		PasswordHash: string(hash),
		FullName:     "Site Admin",
		Role:         models.RoleAdmin,
		Active:       true,
	}
	svc := NewAuthService(repo, nil, nil, AuthConfig{
		AccessTokenSecret:  "test-secret",
		AccessTokenExpiry:  time.Minute,
		RefreshTokenExpiry: time.Hour,
		Issuer:             "apply-api-test",
	})
	return svc, repo
}

func TestLoginIssuesTokens(t *testing.T) {
	svc, repo := newAuthFixture(t)

	resp, err := svc.Login(context.Background(), models.LoginRequest{Username: "admin", Password: "s3cret"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, "admin", resp.User.Username)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u-admin", claims.UserID)
	assert.Equal(t, models.RoleAdmin, claims.Role)

	require.NotNil(t, repo.users["u-admin"].LastLogin)
}

func TestLoginWrongPassword(t *testing.T) {
	svc, _ := newAuthFixture(t)

	_, err := svc.Login(context.Background(), models.LoginRequest{Username: "admin", Password: "wrong"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestLoginUnknownUserSameError(t *testing.T) {
	svc, _ := newAuthFixture(t)

	_, err := svc.Login(context.Background(), models.LoginRequest{Username: "nobody", Password: "whatever"})
	require.Error(t, err)
	// Unknown user and bad password are indistinguishable to the caller.
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestLoginInactiveAccount(t *testing.T) {
	svc, repo := newAuthFixture(t)
	repo.users["u-admin"].Active = false

	_, err := svc.Login(context.Background(), models.LoginRequest{Username: "admin", Password: "s3cret"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErrors.FromError(err).Code)
}

func TestRefreshRotatesToken(t *testing.T) {
	svc, repo := newAuthFixture(t)

	login, err := svc.Login(context.Background(), models.LoginRequest{Username: "admin", Password: "s3cret"})
	require.NoError(t, err)

	refreshed, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)
	assert.True(t, repo.tokens[login.RefreshToken].Revoked, "used refresh token must be revoked")

	_, err = svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestRefreshExpiredToken(t *testing.T) {
	svc, repo := newAuthFixture(t)

	login, err := svc.Login(context.Background(), models.LoginRequest{Username: "admin", Password: "s3cret"})
	require.NoError(t, err)
	repo.tokens[login.RefreshToken].ExpiresAt = time.Now().UTC().Add(-time.Minute)

	_, err = svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestLogoutRevokesOwnToken(t *testing.T) {
	svc, repo := newAuthFixture(t)

	login, err := svc.Login(context.Background(), models.LoginRequest{Username: "admin", Password: "s3cret"})
	require.NoError(t, err)

	require.NoError(t, svc.Logout(context.Background(), login.RefreshToken, "u-admin"))
	assert.True(t, repo.tokens[login.RefreshToken].Revoked)

	err = svc.Logout(context.Background(), login.RefreshToken, "u-other")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestValidateTokenRejectsForgery(t *testing.T) {
	svc, _ := newAuthFixture(t)
	other := NewAuthService(newAuthUserRepoStub(), nil, nil, AuthConfig{
		AccessTokenSecret: "other-secret",
		AccessTokenExpiry: time.Minute,
	})

	resp, err := svc.Login(context.Background(), models.LoginRequest{Username: "admin", Password: "s3cret"})
	require.NoError(t, err)

	_, err = other.ValidateToken(resp.AccessToken)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}
