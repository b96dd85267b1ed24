package auth

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leadflow/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new account on the free plan and returns it.
func (r *Repository) Create(ctx context.Context, email, passwordHash, name, company string) (*models.Account, error) {
	a := models.Account{
		Email:        email,
		Name:         name,
		Company:      company,
		PasswordHash: passwordHash,
		Plan:         models.PlanFree,
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO accounts (email, password_hash, name, company, plan)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, email, passwordHash, name, company, a.Plan).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetByEmail returns the account for login. Returns nil if not found.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	var a models.Account
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, name, company, password_hash, plan, created_at, updated_at
		FROM accounts WHERE email = $1
	`, email).Scan(&a.ID, &a.Email, &a.Name, &a.Company, &a.PasswordHash, &a.Plan, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// GetByID returns the account, or nil if it does not exist.
func (r *Repository) GetByID(ctx context.Context, id int64) (*models.Account, error) {
	var a models.Account
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, name, company, password_hash, plan, created_at, updated_at
		FROM accounts WHERE id = $1
	`, id).Scan(&a.ID, &a.Email, &a.Name, &a.Company, &a.PasswordHash, &a.Plan, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}
