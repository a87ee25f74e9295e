package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"quizmaster-service/internal/domain"
)

// UserStore abstracts user persistence for registration and login.
type UserStore interface {
	CreateUser(ctx context.Context, user domain.User) (domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)
	GetUser(ctx context.Context, id int64) (domain.User, error)
	TouchLastLogin(ctx context.Context, id int64, at time.Time) error
}

// ErrInvalidCredentials covers both unknown email and wrong password so the
// API leaks nothing about which one failed.
var ErrInvalidCredentials = errors.New("invalid email or password")

// ErrInvalidToken is returned for expired, malformed, or mis-signed tokens.
var ErrInvalidToken = errors.New("invalid token")

// Claims carried in the bearer token.
type Claims struct {
	UserID int64       `json:"uid"`
	Role   domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// Service issues and verifies bearer tokens and owns credential hashing.
type Service struct {
	store    UserStore
	secret   []byte
	tokenTTL time.Duration
	now      func() time.Time
}

func NewService(store UserStore, secret string, tokenTTL time.Duration) *Service {
	return NewServiceWithClock(store, secret, tokenTTL, time.Now)
}

// NewServiceWithClock allows deterministic token lifetimes in tests.
func NewServiceWithClock(store UserStore, secret string, tokenTTL time.Duration, now func() time.Time) *Service {
	return &Service{store: store, secret: []byte(secret), tokenTTL: tokenTTL, now: now}
}

// Register creates a user account with a bcrypt-hashed credential and
// returns it together with a fresh token.
func (s *Service) Register(ctx context.Context, email, password, fullName, qualification string) (domain.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") || password == "" || fullName == "" {
		return domain.User{}, "", domain.ErrValidation
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	user, err := s.store.CreateUser(ctx, domain.User{
		Email:         email,
		PasswordHash:  string(hash),
		FullName:      fullName,
		Qualification: qualification,
		Role:          domain.RoleUser,
		CreatedAt:     now,
		LastLogin:     now,
	})
	if err != nil {
		return domain.User{}, "", err
	}

	token, err := s.issue(user)
	return user, token, err
}

// Login verifies credentials, records the login time, and issues a token.
func (s *Service) Login(ctx context.Context, email, password string) (domain.User, string, error) {
	user, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if err == domain.ErrUserNotFound {
			return domain.User{}, "", ErrInvalidCredentials
		}
		return domain.User{}, "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return domain.User{}, "", ErrInvalidCredentials
	}

	if err := s.store.TouchLastLogin(ctx, user.ID, s.now()); err != nil {
		return domain.User{}, "", err
	}

	token, err := s.issue(user)
	return user, token, err
}

func (s *Service) issue(user domain.User) (string, error) {
	now := s.now()
	claims := Claims{
		UserID: user.ID,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", user.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses a bearer token and returns its claims.
func (s *Service) Verify(tokenString string) (Claims, error) {
	claims := Claims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}
