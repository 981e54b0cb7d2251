package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"workplace/internal/cache"
	"workplace/internal/config"
	"workplace/internal/database"
	"workplace/internal/middleware"
	"workplace/internal/models"
	"workplace/internal/observability"
	"workplace/internal/repository"
	"workplace/internal/validation"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	tokenIssuer   = "workplace-api"
	tokenAudience = "workplace-client"

	// Messages surfaced verbatim on the login and registration forms.
	InvalidCredentialsMessage = "Invalid login credentials"
	EmailNotConfirmedMessage  = "Email not confirmed"
)

// Session is what a successful sign-in or refresh returns to the client.
type Session struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	TokenType    string          `json:"token_type"`
	ExpiresAt    time.Time       `json:"expires_at"`
	User         *models.Profile `json:"user"`
}

// SignUpInput is the registration payload.
type SignUpInput struct {
	Email     string  `json:"email"`
	Password  string  `json:"password"`
	Name      string  `json:"name" validate:"max=120"`
	AvatarURL *string `json:"avatar_url" validate:"omitempty,url"`
}

// SignUpResult carries the created profile and, when no confirmation is
// required, an immediately usable session.
type SignUpResult struct {
	User                 *models.Profile `json:"user"`
	Session              *Session        `json:"session"`
	ConfirmationRequired bool            `json:"confirmation_required"`
}

// Mailer delivers account emails.
type Mailer interface {
	SendConfirmation(ctx context.Context, email, token string) error
}

// LogMailer writes confirmation links to the log instead of sending email.
type LogMailer struct{}

func (LogMailer) SendConfirmation(ctx context.Context, email, token string) error {
	middleware.Logger.InfoContext(ctx, "email confirmation issued",
		slog.String("email", email),
		slog.String("confirm_path", "/api/auth/confirm?token="+token),
	)
	return nil
}

type AuthService struct {
	accounts repository.AccountRepository
	profiles repository.ProfileRepository
	rdb      *redis.Client
	cfg      *config.Config
	mailer   Mailer
	now      func() time.Time
}

func NewAuthService(
	accounts repository.AccountRepository,
	profiles repository.ProfileRepository,
	rdb *redis.Client,
	cfg *config.Config,
	mailer Mailer,
) *AuthService {
	if mailer == nil {
		mailer = LogMailer{}
	}
	return &AuthService{
		accounts: accounts,
		profiles: profiles,
		rdb:      rdb,
		cfg:      cfg,
		mailer:   mailer,
		now:      time.Now,
	}
}

func (s *AuthService) SignUp(ctx context.Context, in SignUpInput) (res *SignUpResult, err error) {
	defer func() { observability.AuthEvents.WithLabelValues("signup", observability.Outcome(err)).Inc() }()

	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := validation.Email(in.Email); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if err := validation.ValidatePassword(in.Password); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if err := validation.Struct(in); err != nil {
		return nil, models.NewValidationError(err.Error())
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	account := &models.Account{Email: in.Email, PasswordHash: string(hash)}
	if !s.cfg.RequireEmailConfirmation {
		confirmedAt := s.now()
		account.EmailConfirmedAt = &confirmedAt
	}
	profile := models.NewProfile(uuid.Nil, in.Email, in.Name, in.AvatarURL)

	if err := s.accounts.CreateWithProfile(ctx, account, profile); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, models.NewConflictError("User already registered")
		}
		return nil, models.NewInternalError(err)
	}

	result := &SignUpResult{User: profile}
	if s.cfg.RequireEmailConfirmation {
		result.ConfirmationRequired = true
		if err := s.issueConfirmation(ctx, account); err != nil {
			return nil, err
		}
		return result, nil
	}

	session, err := s.issueSession(ctx, profile)
	if err != nil {
		return nil, err
	}
	result.Session = session
	return result, nil
}

func (s *AuthService) issueConfirmation(ctx context.Context, account *models.Account) error {
	if s.rdb == nil {
		return models.NewUnavailableError("confirmation store unavailable", nil)
	}
	token, err := randomToken()
	if err != nil {
		return models.NewInternalError(err)
	}
	if err := s.rdb.Set(ctx, cache.ConfirmationKey(token), account.ID.String(), cache.ConfirmationTTL).Err(); err != nil {
		return models.NewUnavailableError("confirmation store unavailable", err)
	}
	return s.mailer.SendConfirmation(ctx, account.Email, token)
}

// ConfirmEmail consumes a confirmation token and marks the account confirmed.
func (s *AuthService) ConfirmEmail(ctx context.Context, token string) error {
	if s.rdb == nil {
		return models.NewUnavailableError("confirmation store unavailable", nil)
	}
	raw, err := s.rdb.GetDel(ctx, cache.ConfirmationKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return models.NewValidationError("Confirmation link is invalid or has expired")
	}
	if err != nil {
		return models.NewUnavailableError("confirmation store unavailable", err)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return models.NewInternalError(err)
	}
	return mapRepoError("Account", id, s.accounts.Confirm(ctx, id, s.now()))
}

func (s *AuthService) SignIn(ctx context.Context, email, password string) (session *Session, err error) {
	defer func() { observability.AuthEvents.WithLabelValues("signin", observability.Outcome(err)).Inc() }()

	account, err := s.accounts.GetByEmail(ctx, email)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NewAuthError(InvalidCredentialsMessage)
	}
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)) != nil {
		return nil, models.NewAuthError(InvalidCredentialsMessage)
	}
	if !account.Confirmed() {
		return nil, models.NewAuthError(EmailNotConfirmedMessage)
	}

	profile, err := s.profiles.GetByID(ctx, account.ID)
	if err != nil {
		return nil, mapRepoError("Profile", account.ID, err)
	}
	return s.issueSession(ctx, profile)
}

// Refresh rotates a refresh token into a new session.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (session *Session, err error) {
	defer func() { observability.AuthEvents.WithLabelValues("refresh", observability.Outcome(err)).Inc() }()

	if s.rdb == nil {
		return nil, models.NewUnavailableError("session store unavailable", nil)
	}
	raw, err := s.rdb.GetDel(ctx, cache.RefreshTokenKey(refreshToken)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, models.NewUnauthorizedError("Invalid Refresh Token")
	}
	if err != nil {
		return nil, models.NewUnavailableError("session store unavailable", err)
	}

	userID, err := uuid.Parse(raw)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	profile, err := s.profiles.GetByID(ctx, userID)
	if err != nil {
		return nil, mapRepoError("Profile", userID, err)
	}
	return s.issueSession(ctx, profile)
}

// SignOut revokes the access token identified by jti until it would have
// expired anyway, and drops the refresh token if one is given.
func (s *AuthService) SignOut(ctx context.Context, jti string, expiresAt time.Time, refreshToken string) (err error) {
	defer func() { observability.AuthEvents.WithLabelValues("signout", observability.Outcome(err)).Inc() }()

	if s.rdb == nil {
		return nil
	}
	if ttl := expiresAt.Sub(s.now()); jti != "" && ttl > 0 {
		if err := s.rdb.Set(ctx, cache.BlacklistKey(jti), "1", ttl).Err(); err != nil {
			return models.NewUnavailableError("session store unavailable", err)
		}
	}
	if refreshToken != "" {
		s.rdb.Del(ctx, cache.RefreshTokenKey(refreshToken))
	}
	return nil
}

// CurrentUser returns the profile of an authenticated caller.
func (s *AuthService) CurrentUser(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	profile, err := s.profiles.GetByID(ctx, userID)
	return profile, mapRepoError("Profile", userID, err)
}

func (s *AuthService) issueSession(ctx context.Context, profile *models.Profile) (*Session, error) {
	access, expiresAt, err := s.generateAccessToken(profile.ID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	refresh, err := randomToken()
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if s.rdb != nil {
		if err := s.rdb.Set(ctx, cache.RefreshTokenKey(refresh), profile.ID.String(), s.cfg.RefreshTokenTTL()).Err(); err != nil {
			return nil, models.NewUnavailableError("session store unavailable", err)
		}
	}

	return &Session{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresAt:    expiresAt,
		User:         profile,
	}, nil
}

func (s *AuthService) generateAccessToken(userID uuid.UUID) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTokenTTL())
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		Issuer:    tokenIssuer,
		Audience:  jwt.ClaimStrings{tokenAudience},
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWTSecret))
	return signed, expiresAt, err
}

// ParseAccessToken validates signature, issuer, audience and lifetime.
func (s *AuthService) ParseAccessToken(token string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(s.cfg.JWTSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(tokenAudience),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// VerifyAccessToken implements middleware.TokenVerifier.
func (s *AuthService) VerifyAccessToken(ctx context.Context, token string) (uuid.UUID, string, error) {
	claims, err := s.ParseAccessToken(token)
	if err != nil {
		return uuid.Nil, "", err
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("invalid subject: %w", err)
	}

	if s.rdb != nil && claims.ID != "" {
		revoked, err := s.rdb.Exists(ctx, cache.BlacklistKey(claims.ID)).Result()
		if err != nil {
			middleware.Logger.WarnContext(ctx, "token blacklist unavailable", slog.String("error", err.Error()))
		} else if revoked > 0 {
			return uuid.Nil, "", errors.New("token revoked")
		}
	}
	return userID, claims.ID, nil
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
