package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"quickchat/internal/content"
	"quickchat/internal/models"

	"github.com/c-pro/geche"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultTokenExpiry = 24 * time.Hour
	minPasswordLength  = 8
	loginFailedMessage = "login failed"
)

var (
	ErrUserExists = errors.New("user already exists")
)

type UserCredentials struct {
	models.User
	PasswordHash string
	// Counter for consecutive failed login attempts to throttle brute force attacks.
	FailedLoginAttempts int64
	LastAttemptTime     int64
}

func (uc *UserCredentials) ResetFailedLoginAttempts(now time.Time) {
	uc.FailedLoginAttempts = 0
	uc.LastAttemptTime = now.Unix()
}

func (uc *UserCredentials) IncrementFailedLoginAttempts(now time.Time) {
	uc.FailedLoginAttempts++
	uc.LastAttemptTime = now.Unix()
}

// Store is the persistence surface the auth service needs. Users and token
// hashes are written through so sessions survive a restart.
type Store interface {
	UpsertCredentials(credentials UserCredentials) error
	ListCredentials() ([]UserCredentials, error)
	UpsertToken(userID, tokenHash string) error
	DeleteToken(tokenHash string) error
	ListTokens() (map[string]string, error)
}

type Config struct {
	TokenExpiry time.Duration
}

type AuthService struct {
	Config
	store Store
	// users is keyed by username, byID maps userID -> username.
	users      *geche.Locker[string, *UserCredentials]
	byID       geche.Geche[string, string]
	liveTokens geche.Geche[string, string]
	now        func() time.Time
}

func NewAuthService(ctx context.Context, config Config, store Store) (*AuthService, error) {
	if config.TokenExpiry == 0 {
		config.TokenExpiry = DefaultTokenExpiry
	}

	as := &AuthService{
		Config:     config,
		store:      store,
		users:      geche.NewLocker[string, *UserCredentials](geche.NewMapCache[string, *UserCredentials]()),
		byID:       geche.NewMapCache[string, string](),
		liveTokens: geche.NewMapTTLCache[string, string](ctx, config.TokenExpiry, time.Minute),
		now:        time.Now,
	}

	if err := as.load(); err != nil {
		return nil, err
	}

	return as, nil
}

func (as *AuthService) load() error {
	credentials, err := as.store.ListCredentials()
	if err != nil {
		return fmt.Errorf("failed to load credentials: %w", err)
	}

	tx := as.users.Lock()
	for _, c := range credentials {
		if c.Status == models.UserStatusDeleted {
			continue
		}
		tx.Set(c.UserName, &c)
		as.byID.Set(c.ID, c.UserName)
	}
	tx.Unlock()

	tokens, err := as.store.ListTokens()
	if err != nil {
		return fmt.Errorf("failed to load tokens: %w", err)
	}
	for hash, userID := range tokens {
		as.liveTokens.Set(hash, userID)
	}

	return nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Register creates a new user with the given credentials.
func (as *AuthService) Register(username, displayName, password string) (models.User, error) {
	if err := content.ValidateUsername(username); err != nil {
		return models.User{}, fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	if len(password) < minPasswordLength {
		return models.User{}, fmt.Errorf("%w: password must be at least %d characters", models.ErrValidation, minPasswordLength)
	}
	if displayName == "" {
		displayName = username
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, fmt.Errorf("failed to hash password: %w", err)
	}

	tx := as.users.Lock()
	defer tx.Unlock()
	if _, err := tx.Get(username); err == nil {
		return models.User{}, ErrUserExists
	}

	creds := &UserCredentials{
		User: models.User{
			ID:          uuid.NewString(),
			UserName:    username,
			DisplayName: content.Sanitize(displayName),
			Status:      models.UserStatusActive,
		},
		PasswordHash: string(hash),
	}

	if err := as.store.UpsertCredentials(*creds); err != nil {
		return models.User{}, fmt.Errorf("failed to persist user: %w", err)
	}

	tx.Set(username, creds)
	as.byID.Set(creds.ID, username)

	return creds.User, nil
}

// Login verifies credentials and issues a session token. Consecutive
// failures are throttled with a quadratic backoff.
func (as *AuthService) Login(username, password string) (token string, expiry int64, err error) {
	now := as.now()
	tx := as.users.Lock()
	defer tx.Unlock()

	user, getErr := tx.Get(username)
	if getErr != nil {
		return "", 0, fmt.Errorf("%w: %s", models.ErrUnauthenticated, loginFailedMessage)
	}

	if user.FailedLoginAttempts > 3 {
		nextAttempt := user.LastAttemptTime + 30*(user.FailedLoginAttempts*user.FailedLoginAttempts)
		if now.Unix() < nextAttempt {
			return "", 0, fmt.Errorf("%w: too many failed login attempts, next attempt in %d seconds",
				models.ErrUnauthenticated, nextAttempt-now.Unix())
		}
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		user.IncrementFailedLoginAttempts(now)
		return "", 0, fmt.Errorf("%w: %s", models.ErrUnauthenticated, loginFailedMessage)
	}

	token, err = generateToken()
	if err != nil {
		slog.Error("login failed", "user_id", user.ID, "error", err)
		return "", 0, fmt.Errorf("failed to issue token: %w", err)
	}

	hash := hashToken(token)
	as.liveTokens.Set(hash, user.ID)
	if err := as.store.UpsertToken(user.ID, hash); err != nil {
		slog.Error("failed to persist token", "user_id", user.ID, "error", err)
	}
	user.ResetFailedLoginAttempts(now)

	return token, now.Add(as.TokenExpiry).Unix(), nil
}

func (as *AuthService) Logoff(token string) error {
	hash := hashToken(token)
	if err := as.store.DeleteToken(hash); err != nil {
		slog.Error("failed to delete token", "error", err)
	}
	return as.liveTokens.Del(hash)
}

// GetUserID resolves a session token to a user ID.
func (as *AuthService) GetUserID(token string) (string, error) {
	if token == "" {
		return "", models.ErrUnauthenticated
	}
	userID, err := as.liveTokens.Get(hashToken(token))
	if err != nil {
		return "", fmt.Errorf("%w: unknown or expired token", models.ErrUnauthenticated)
	}
	return userID, nil
}

// GetUser returns the user record for the given ID.
func (as *AuthService) GetUser(id string) (models.User, error) {
	username, err := as.byID.Get(id)
	if err != nil {
		return models.User{}, fmt.Errorf("user %s: %w", id, models.ErrNotFound)
	}

	tx := as.users.Lock()
	defer tx.Unlock()
	creds, err := tx.Get(username)
	if err != nil {
		return models.User{}, fmt.Errorf("user %s: %w", id, models.ErrNotFound)
	}
	return creds.User, nil
}

// ListUsers returns all active users.
func (as *AuthService) ListUsers() []models.User {
	tx := as.users.Lock()
	defer tx.Unlock()

	snapshot := tx.Snapshot()
	users := make([]models.User, 0, len(snapshot))
	for _, c := range snapshot {
		users = append(users, c.User)
	}
	return users
}

// UpdateProfile changes the user's display name and bio.
func (as *AuthService) UpdateProfile(id, displayName, bio string) (models.User, error) {
	return as.mutateUser(id, func(creds *UserCredentials) {
		if displayName != "" {
			creds.DisplayName = content.Sanitize(displayName)
		}
		creds.Bio = content.Sanitize(bio)
	})
}

// SetAvatar points the user's avatar at an uploaded image.
func (as *AuthService) SetAvatar(id, url string) (models.User, error) {
	return as.mutateUser(id, func(creds *UserCredentials) {
		creds.AvatarURL = url
	})
}

func (as *AuthService) mutateUser(id string, mutate func(*UserCredentials)) (models.User, error) {
	username, err := as.byID.Get(id)
	if err != nil {
		return models.User{}, fmt.Errorf("user %s: %w", id, models.ErrNotFound)
	}

	tx := as.users.Lock()
	defer tx.Unlock()
	creds, err := tx.Get(username)
	if err != nil {
		return models.User{}, fmt.Errorf("user %s: %w", id, models.ErrNotFound)
	}

	mutate(creds)
	if err := as.store.UpsertCredentials(*creds); err != nil {
		return models.User{}, fmt.Errorf("failed to persist user: %w", err)
	}
	return creds.User, nil
}

func generateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
