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

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/grebion/tables/internal/config"
	"github.com/grebion/tables/internal/model"
)

// APIKeyPrefix starts every generated API key.
const APIKeyPrefix = "tables_"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenExpired       = errors.New("token expired")
	ErrKeyRevoked         = errors.New("api key revoked")
	ErrUserInactive       = errors.New("user inactive")
)

// Principal is an authenticated caller.
type Principal struct {
	UserID  int64
	Email   string
	IsAdmin bool
	KeyID   int64 // set for API key authentication
}

type AuthService struct {
	store     *config.Store
	jwtSecret []byte
	logger    *slog.Logger
}

func NewAuthService(store *config.Store, jwtSecret string) *AuthService {
	return &AuthService{
		store:     store,
		jwtSecret: []byte(jwtSecret),
		logger:    slog.Default(),
	}
}

// ValidateAPIKey checks the provided raw API key against stored key hashes
// and resolves the user the key acts for.
func (s *AuthService) ValidateAPIKey(ctx context.Context, rawKey string) (*Principal, error) {
	key, err := s.store.GetAPIKeyByHash(ctx, config.HashAPIKey(rawKey))
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	if !key.IsActive {
		return nil, ErrKeyRevoked
	}

	if key.ExpiresAt != nil && key.ExpiresAt.Before(time.Now()) {
		return nil, ErrTokenExpired
	}

	user, err := s.store.GetUser(ctx, key.UserID)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}

	// Update last used timestamp (fire and forget)
	go func(id int64) {
		if err := s.store.UpdateAPIKeyLastUsed(context.Background(), id); err != nil {
			s.logger.Debug("update api key last used", "key_id", id, "error", err)
		}
	}(key.ID)

	return &Principal{
		UserID:  user.ID,
		Email:   user.Email,
		IsAdmin: user.IsAdmin,
		KeyID:   key.ID,
	}, nil
}

// ValidateJWT verifies a JWT bearer token and returns the user it was issued
// for.
func (s *AuthService) ValidateJWT(ctx context.Context, tokenStr string) (*Principal, error) {
	claims := &jwtClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	}, jwt.WithIssuer(jwtIssuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidCredentials
	}

	if !token.Valid {
		return nil, ErrInvalidCredentials
	}

	return &Principal{
		UserID:  claims.UserID,
		Email:   claims.Email,
		IsAdmin: claims.IsAdmin,
	}, nil
}

// IssueJWT creates a new signed JWT token for the given user.
func (s *AuthService) IssueJWT(ctx context.Context, user *model.User, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwtClaims{
		UserID:  user.ID,
		Email:   user.Email,
		IsAdmin: user.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    jwtIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// Login checks an email and password and returns a signed token together
// with the user.
func (s *AuthService) Login(ctx context.Context, email, password string, ttl time.Duration) (string, *model.User, error) {
	user, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if IsNotFound(err) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}
	if !CheckPassword(user.PasswordHash, password) {
		return "", nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return "", nil, ErrUserInactive
	}

	token, err := s.IssueJWT(ctx, user, ttl)
	if err != nil {
		return "", nil, fmt.Errorf("issue token: %w", err)
	}
	if err := s.store.UpdateUserLastLogin(ctx, user.ID); err != nil {
		s.logger.Warn("update last login", "user_id", user.ID, "error", err)
	}
	return token, user, nil
}

// CreateUser hashes password and stores a new active user.
func (s *AuthService) CreateUser(ctx context.Context, email, name, password string, isAdmin bool) (*model.User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, errors.New("email is required")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	u := &model.User{
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		IsAdmin:      isAdmin,
		IsActive:     true,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// CreateAPIKey generates a new key for a user. The raw key is returned once
// and only its hash is stored.
func (s *AuthService) CreateAPIKey(ctx context.Context, userID int64, label string, expiresAt *time.Time) (string, *model.APIKey, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return "", nil, fmt.Errorf("user %d: %w", userID, err)
	}

	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", nil, fmt.Errorf("generate random key: %w", err)
	}
	rawKey := APIKeyPrefix + hex.EncodeToString(randomBytes)

	key := &model.APIKey{
		KeyHash:   config.HashAPIKey(rawKey),
		KeyPrefix: rawKey[:len(APIKeyPrefix)+8],
		Label:     label,
		UserID:    userID,
		IsActive:  true,
		ExpiresAt: expiresAt,
	}
	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		return "", nil, fmt.Errorf("create api key: %w", err)
	}
	return rawKey, key, nil
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches a bcrypt hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

const jwtIssuer = "tables"

type jwtClaims struct {
	UserID  int64  `json:"user_id"`
	Email   string `json:"email"`
	IsAdmin bool   `json:"is_admin"`
	jwt.RegisteredClaims
}
