package user

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"teamchat/internal/apperr"
	"teamchat/internal/presence"
	"teamchat/internal/storage"
)

// Usernames and display names are single \w tokens so every user can be
// mentioned as @name.
var (
	usernamePattern    = regexp.MustCompile(`^\w{3,50}$`)
	displayNamePattern = regexp.MustCompile(`^\w{1,80}$`)
)

const minPasswordLength = 6

type Store interface {
	CreateUser(ctx context.Context, user *User) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetByID(ctx context.Context, id int64) (*User, error)
	SearchUsers(ctx context.Context, query string) ([]User, error)
	UpdateDisplayName(ctx context.Context, id int64, name string) error
	UpdateAvatar(ctx context.Context, id int64, url string) (string, error)
}

type Service struct {
	repo      Store
	blobs     storage.Blobs
	jwtSecret string
	tokenTTL  time.Duration
}

type MyJWTClaims struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	jwt.RegisteredClaims
}

func NewService(repo Store, blobs storage.Blobs, secret string, tokenTTL time.Duration) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Service{
		repo:      repo,
		blobs:     blobs,
		jwtSecret: secret,
		tokenTTL:  tokenTTL,
	}
}

func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*User, error) {
	if !usernamePattern.MatchString(req.Username) {
		return nil, apperr.Validation("username must be 3-50 letters, digits or underscores")
	}
	if len(req.Password) < minPasswordLength {
		return nil, apperr.Validation("password must be at least %d characters", minPasswordLength)
	}
	displayName := req.DisplayName
	if displayName == "" {
		displayName = req.Username
	}
	if !displayNamePattern.MatchString(displayName) {
		return nil, apperr.Validation("display name must be 1-80 letters, digits or underscores")
	}

	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	u := &User{
		Username:    req.Username,
		DisplayName: displayName,
		Password:    string(hashedPwd),
		Status:      string(presence.Initial),
	}
	return s.repo.CreateUser(ctx, u)
}

func (s *Service) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	u, err := s.repo.GetUserByUsername(ctx, req.Username)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, apperr.Unauthorized("invalid credentials")
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(req.Password)); err != nil {
		return nil, apperr.Unauthorized("invalid credentials")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, MyJWTClaims{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "teamchat",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.tokenTTL)),
		},
	})

	ss, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return nil, err
	}

	return &LoginResponse{
		AccessToken: ss,
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
	}, nil
}

// ValidateToken resolves a bearer token to the principal id and display
// name it was issued for.
func (s *Service) ValidateToken(tokenString string) (int64, string, error) {
	claims := &MyJWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.jwtSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return 0, "", err
	}
	if !token.Valid || claims.ID <= 0 {
		return 0, "", errors.New("invalid token")
	}
	return claims.ID, claims.DisplayName, nil
}

func (s *Service) SearchUsers(ctx context.Context, query string) ([]User, error) {
	return s.repo.SearchUsers(ctx, query)
}

func (s *Service) GetProfile(ctx context.Context, id int64) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) UpdateProfile(ctx context.Context, id int64, req *UpdateProfileRequest) (*User, error) {
	if !displayNamePattern.MatchString(req.DisplayName) {
		return nil, apperr.Validation("display name must be 1-80 letters, digits or underscores")
	}
	if err := s.repo.UpdateDisplayName(ctx, id, req.DisplayName); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, id)
}

// UploadAvatar stores a new avatar image and removes the one it replaces.
func (s *Service) UploadAvatar(ctx context.Context, id int64, data []byte, mimeType string) (string, error) {
	if !storage.IsImage(mimeType) {
		return "", apperr.Validation("avatar must be an image, got %q", mimeType)
	}
	url, err := s.blobs.Store(ctx, storage.PrefixAvatars, id, data, mimeType)
	if err != nil {
		return "", err
	}
	previous, err := s.repo.UpdateAvatar(ctx, id, url)
	if err != nil {
		if delErr := s.blobs.Delete(context.WithoutCancel(ctx), url); delErr != nil {
			log.Printf("user: remove orphaned avatar %s: %v", url, delErr)
		}
		return "", fmt.Errorf("save avatar: %w", err)
	}
	if previous != "" {
		if err := s.blobs.Delete(context.WithoutCancel(ctx), previous); err != nil {
			log.Printf("user: remove previous avatar %s: %v", previous, err)
		}
	}
	return url, nil
}
