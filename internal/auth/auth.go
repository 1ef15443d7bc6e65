package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/novaforge/bazaar/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// AccountSource is the slice of account storage the auth service needs.
// Implemented by *db.DB in production and by fakes in tests.
type AccountSource interface {
	CreateAccount(ctx context.Context, name, passwordHash string) (*models.Account, error)
	AccountByName(ctx context.Context, name string) (*models.Account, error)
	AccountByID(ctx context.Context, id int64) (*models.Account, error)
}

// AuthService handles account authentication and the marketplace
// permission gate
type AuthService struct {
	Accounts AccountSource
	secret   []byte
}

// NewAuthService creates a new auth service
func NewAuthService(accounts AccountSource, secret string) *AuthService {
	return &AuthService{Accounts: accounts, secret: []byte(secret)}
}

// Register creates a new account with hashed password
func (s *AuthService) Register(ctx context.Context, name, password string) (*models.Account, error) {
	// Validate input
	if name == "" {
		return nil, fmt.Errorf("name cannot be empty")
	}
	if password == "" {
		return nil, fmt.Errorf("password cannot be empty")
	}
	if len(name) > 50 {
		return nil, fmt.Errorf("name too long (max 50 characters)")
	}
	if len(password) > 100 {
		return nil, fmt.Errorf("password too long (max 100 characters)")
	}

	// Hash the password
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	account, err := s.Accounts.CreateAccount(ctx, name, string(hashedPassword))
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return account, nil
}

// Login verifies credentials and generates a JWT
func (s *AuthService) Login(ctx context.Context, name, password string) (string, error) {
	account, err := s.Accounts.AccountByName(ctx, name)
	if err != nil {
		return "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return "", err
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"account_id": account.ID,
		"name":       account.Name,
		"exp":        time.Now().Add(24 * time.Hour).Unix(),
	})

	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", err
	}
	return tokenString, nil
}

// AccountFromToken extracts the account ID from a JWT
func (s *AuthService) AccountFromToken(tokenString string) (int64, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return 0, err
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		accountID, ok := claims["account_id"].(float64)
		if !ok {
			return 0, fmt.Errorf("token missing account_id claim")
		}
		return int64(accountID), nil
	}
	return 0, fmt.Errorf("invalid token")
}

// Allowed reports whether the account may use the marketplace. This is
// the single boolean gate the transaction engine consumes; a lookup
// failure reads as denied.
func (s *AuthService) Allowed(ctx context.Context, accountID int64) bool {
	account, err := s.Accounts.AccountByID(ctx, accountID)
	if err != nil {
		return false
	}
	return !account.MarketBanned
}
