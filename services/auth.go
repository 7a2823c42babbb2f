package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"brokerage/models"
)

const minPasswordLength = 10

// compared against when the email is unknown so both paths cost a bcrypt round
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcrypt.DefaultCost)

// Claims is the admin session token payload.
type Claims struct {
	Email string      `json:"email"`
	Role  models.Role `json:"role"`
	jwt.RegisteredClaims
}

type AuthService struct {
	store  AdminStore
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewAuthService(store AdminStore, secret []byte, ttl time.Duration) *AuthService {
	return &AuthService{store: store, secret: secret, ttl: ttl, now: time.Now}
}

type LoginResult struct {
	Token     string           `json:"token"`
	ExpiresAt time.Time        `json:"expires_at"`
	User      models.AdminUser `json:"user"`
}

func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = normalizeEmail(email)
	u, err := s.store.GetAdminByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if u == nil {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrUnauthorized
	}

	token, exp, err := s.issue(u)
	if err != nil {
		return nil, err
	}
	log.Info().Str("email", u.Email).Str("role", string(u.Role)).Msg("Auth: admin logged in")
	return &LoginResult{Token: token, ExpiresAt: exp, User: *u}, nil
}

func (s *AuthService) issue(u *models.AdminUser) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	claims := Claims{
		Email: u.Email,
		Role:  u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// ParseToken verifies signature, algorithm and expiry.
func (s *AuthService) ParseToken(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return claims, nil
}

// CreateAdmin creates or resets an admin account.
func (s *AuthService) CreateAdmin(ctx context.Context, email, password string, role models.Role) (*models.AdminUser, error) {
	email = normalizeEmail(email)
	fields := map[string]string{}
	if err := getValidator().Var(email, "required,email"); err != nil {
		fields["email"] = "must be a valid email address"
	}
	if len(password) < minPasswordLength {
		fields["password"] = fmt.Sprintf("must be at least %d characters", minPasswordLength)
	}
	if role != models.RoleAdmin && role != models.RoleEditor {
		fields["role"] = "must be one of: admin editor"
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return nil, fieldError("password", "must be at most 72 bytes")
		}
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	u := &models.AdminUser{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.UpsertAdmin(ctx, u); err != nil {
		return nil, fmt.Errorf("save admin: %w", err)
	}
	log.Info().Str("email", email).Str("role", string(role)).Msg("Auth: admin saved")
	return u, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
