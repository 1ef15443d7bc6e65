package db

import (
	"context"
	"fmt"

	"github.com/novaforge/bazaar/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close(ctx context.Context) error {
	db.Pool.Close()
	return nil
}

// CreateAccount inserts a new empire account
func (db *DB) CreateAccount(ctx context.Context, name, passwordHash string) (*models.Account, error) {
	account := &models.Account{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO accounts (name, password_hash) VALUES ($1, $2) RETURNING id, name, password_hash, market_banned, created_at",
		name, passwordHash).Scan(&account.ID, &account.Name, &account.PasswordHash, &account.MarketBanned, &account.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return account, nil
}

// AccountByName retrieves an account by name
func (db *DB) AccountByName(ctx context.Context, name string) (*models.Account, error) {
	account := &models.Account{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, name, password_hash, market_banned, created_at FROM accounts WHERE name = $1",
		name).Scan(&account.ID, &account.Name, &account.PasswordHash, &account.MarketBanned, &account.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// AccountByID retrieves an account by id
func (db *DB) AccountByID(ctx context.Context, id int64) (*models.Account, error) {
	account := &models.Account{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, name, password_hash, market_banned, created_at FROM accounts WHERE id = $1",
		id).Scan(&account.ID, &account.Name, &account.PasswordHash, &account.MarketBanned, &account.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// SetMarketBanned flips the marketplace permission gate for an account
func (db *DB) SetMarketBanned(ctx context.Context, id int64, banned bool) error {
	tag, err := db.Pool.Exec(ctx, "UPDATE accounts SET market_banned = $1 WHERE id = $2", banned, id)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account not found")
	}
	return nil
}
