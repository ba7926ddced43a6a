package sessionkit

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Clock provides the current time. Tests substitute a fixed clock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// Now returns the current UTC timestamp.
func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// NewSystemClock returns a Clock backed by the wall clock.
func NewSystemClock() Clock {
	return systemClock{}
}

// TokenPurpose distinguishes the two uses of the signed-claims mechanism.
// A reset token can never pass as an access token and vice versa.
type TokenPurpose string

const (
	PurposeAccess TokenPurpose = "access"
	PurposeReset  TokenPurpose = "password_reset"
)

// SessionClaims are embedded in access and password-reset tokens.
type SessionClaims struct {
	UserID          string       `json:"user_id"`
	UserEmail       string       `json:"user_email"`
	UserDisplayName string       `json:"user_display_name"`
	UserRole        string       `json:"user_role"`
	Purpose         TokenPurpose `json:"purpose"`
	jwt.RegisteredClaims
}

// RefreshClaims carry only the user identity; everything else is loaded at
// point of use.
type RefreshClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies the two token classes with distinct
// HS256 secrets.
type TokenService struct {
	accessSecret  []byte
	refreshSecret []byte
	issuer        string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	resetTTL      time.Duration
	clock         Clock
	parserOptions []jwt.ParserOption
}

// NewTokenService constructs a TokenService from server configuration.
func NewTokenService(configuration ServerConfig, clock Clock) (*TokenService, error) {
	if len(configuration.AccessTokenSecret) == 0 {
		return nil, errors.New("token_service.missing_access_secret")
	}
	if len(configuration.RefreshTokenSecret) == 0 {
		return nil, errors.New("token_service.missing_refresh_secret")
	}
	if strings.TrimSpace(configuration.Issuer) == "" {
		return nil, errors.New("token_service.missing_issuer")
	}
	if clock == nil {
		clock = NewSystemClock()
	}
	service := &TokenService{
		accessSecret:  configuration.AccessTokenSecret,
		refreshSecret: configuration.RefreshTokenSecret,
		issuer:        configuration.Issuer,
		accessTTL:     configuration.AccessTokenTTL,
		refreshTTL:    configuration.RefreshTokenTTL,
		resetTTL:      configuration.ResetTokenTTL,
		clock:         clock,
	}
	service.parserOptions = []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return service.clock.Now() }),
	}
	return service, nil
}

// MintAccessToken signs a short-lived access token for the user.
func (service *TokenService) MintAccessToken(user User) (string, time.Time, error) {
	return service.mintSessionToken(user, PurposeAccess, service.accessTTL)
}

// MintResetToken signs a password-reset token and returns its one-time id.
func (service *TokenService) MintResetToken(user User) (string, string, time.Time, error) {
	tokenID := uuid.NewString()
	signed, expiresAt, err := service.mintSessionTokenWithID(user, PurposeReset, service.resetTTL, tokenID)
	if err != nil {
		return "", "", time.Time{}, err
	}
	return signed, tokenID, expiresAt, nil
}

// MintRefreshToken signs a long-lived refresh token bound only to the user id.
func (service *TokenService) MintRefreshToken(userID string) (string, time.Time, error) {
	if strings.TrimSpace(userID) == "" {
		return "", time.Time{}, fmt.Errorf("jwt.mint.failure: subject must be non-empty")
	}
	issuedAt := service.clock.Now()
	expiresAt := issuedAt.Add(service.refreshTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, RefreshClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    service.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt.Add(-30 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(service.refreshSecret)
	return signed, expiresAt, err
}

// ParseAccessToken verifies an access token and returns its claims.
func (service *TokenService) ParseAccessToken(tokenString string) (*SessionClaims, error) {
	return service.parseSessionToken(tokenString, PurposeAccess)
}

// ParseResetToken verifies a password-reset token and returns its claims.
func (service *TokenService) ParseResetToken(tokenString string) (*SessionClaims, error) {
	return service.parseSessionToken(tokenString, PurposeReset)
}

// ParseRefreshToken verifies a refresh token and returns its claims.
func (service *TokenService) ParseRefreshToken(tokenString string) (*RefreshClaims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("jwt.parse.refresh: %w", ErrTokenInvalid)
	}
	parsedToken, parseErr := jwt.ParseWithClaims(tokenString, &RefreshClaims{}, func(parsed *jwt.Token) (interface{}, error) {
		return service.refreshSecret, nil
	}, service.parserOptions...)
	if parseErr != nil {
		if errors.Is(parseErr, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("jwt.parse.refresh: %w", ErrTokenExpired)
		}
		return nil, fmt.Errorf("jwt.parse.refresh: %w", ErrTokenInvalid)
	}
	claims, ok := parsedToken.Claims.(*RefreshClaims)
	if !ok || !parsedToken.Valid {
		return nil, fmt.Errorf("jwt.parse.refresh: %w", ErrTokenInvalid)
	}
	if claims.Issuer != service.issuer || claims.UserID == "" {
		return nil, fmt.Errorf("jwt.parse.refresh: %w", ErrTokenInvalid)
	}
	return claims, nil
}

func (service *TokenService) mintSessionToken(user User, purpose TokenPurpose, ttl time.Duration) (string, time.Time, error) {
	return service.mintSessionTokenWithID(user, purpose, ttl, "")
}

func (service *TokenService) mintSessionTokenWithID(user User, purpose TokenPurpose, ttl time.Duration, tokenID string) (string, time.Time, error) {
	if strings.TrimSpace(user.ID) == "" {
		return "", time.Time{}, fmt.Errorf("jwt.mint.failure: subject must be non-empty")
	}
	issuedAt := service.clock.Now()
	expiresAt := issuedAt.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		UserID:          user.ID,
		UserEmail:       user.Email,
		UserDisplayName: user.Name,
		UserRole:        string(user.Role),
		Purpose:         purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			Issuer:    service.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt.Add(-30 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(service.accessSecret)
	return signed, expiresAt, err
}

func (service *TokenService) parseSessionToken(tokenString string, purpose TokenPurpose) (*SessionClaims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("jwt.parse.%s: %w", purpose, ErrTokenInvalid)
	}
	parsedToken, parseErr := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(parsed *jwt.Token) (interface{}, error) {
		return service.accessSecret, nil
	}, service.parserOptions...)
	if parseErr != nil {
		if errors.Is(parseErr, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("jwt.parse.%s: %w", purpose, ErrTokenExpired)
		}
		return nil, fmt.Errorf("jwt.parse.%s: %w", purpose, ErrTokenInvalid)
	}
	claims, ok := parsedToken.Claims.(*SessionClaims)
	if !ok || !parsedToken.Valid {
		return nil, fmt.Errorf("jwt.parse.%s: %w", purpose, ErrTokenInvalid)
	}
	if claims.Issuer != service.issuer || claims.UserID == "" {
		return nil, fmt.Errorf("jwt.parse.%s: %w", purpose, ErrTokenInvalid)
	}
	if claims.Purpose != purpose {
		return nil, fmt.Errorf("jwt.parse.%s: %w", purpose, ErrTokenInvalid)
	}
	return claims, nil
}
