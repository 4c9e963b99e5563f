package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oksasatya/pix-license-api/internal/domain/entity"
	"github.com/oksasatya/pix-license-api/internal/domain/repository"
)

const userColumns = `id::text, email, name, tax_id, cellphone, password_hash, provider_customer_id,
	license_active, license_expires_at, license_token, license_payment_id::text,
	onboarding_state, onboarding_error, created_at, updated_at`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func scanUser(row pgx.Row) (*entity.User, error) {
	var (
		u                                           entity.User
		customerID, token, paymentID, onboardingErr *string
		state                                       string
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.TaxID, &u.Cellphone, &u.PasswordHash, &customerID,
		&u.LicenseActive, &u.LicenseExpiresAt, &token, &paymentID,
		&state, &onboardingErr, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.ProviderCustomerID = deref(customerID)
	u.LicenseToken = deref(token)
	u.LicensePaymentID = deref(paymentID)
	u.OnboardingState = entity.OnboardingState(state)
	u.OnboardingError = deref(onboardingErr)
	return &u, nil
}

func (r *UserRepository) Create(ctx context.Context, u *entity.User) error {
	if u.OnboardingState == "" {
		u.OnboardingState = entity.OnboardingPendingCustomer
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO users (email, name, tax_id, cellphone, password_hash, onboarding_state)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id::text, created_at, updated_at
	`, u.Email, u.Name, u.TaxID, u.Cellphone, u.PasswordHash, string(u.OnboardingState))

	return mapErr(row.Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt), "create user")
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*entity.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1::uuid`, id))
	if err != nil {
		return nil, mapErr(err, "get user")
	}
	return u, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, email))
	if err != nil {
		return nil, mapErr(err, "get user by email")
	}
	return u, nil
}

func (r *UserRepository) Delete(ctx context.Context, id string) error {
	res, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1::uuid`, id)
	if err != nil {
		return mapErr(err, "delete user")
	}
	if res.RowsAffected() == 0 {
		return mapErr(pgx.ErrNoRows, "delete user")
	}
	return nil
}

func (r *UserRepository) exec(ctx context.Context, what, sql string, args ...any) (bool, error) {
	res, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return false, mapErr(err, what)
	}
	return res.RowsAffected() > 0, nil
}

// requireRow turns a zero-row update into ErrNotFound.
func (r *UserRepository) requireRow(ok bool, err error, what string) error {
	if err != nil {
		return err
	}
	if !ok {
		return mapErr(pgx.ErrNoRows, what)
	}
	return nil
}

func (r *UserRepository) SetProviderCustomerID(ctx context.Context, id, customerID string) error {
	ok, err := r.exec(ctx, "set provider customer", `
		UPDATE users
		SET provider_customer_id = $2, onboarding_state = $3, onboarding_error = NULL, updated_at = $4
		WHERE id = $1::uuid
	`, id, customerID, string(entity.OnboardingPendingCharge), time.Now())
	return r.requireRow(ok, err, "set provider customer")
}

func (r *UserRepository) SetOnboardingState(ctx context.Context, id string, state entity.OnboardingState, reason string) error {
	ok, err := r.exec(ctx, "set onboarding state", `
		UPDATE users
		SET onboarding_state = $2, onboarding_error = $3, updated_at = $4
		WHERE id = $1::uuid
	`, id, string(state), nullable(reason), time.Now())
	return r.requireRow(ok, err, "set onboarding state")
}

func (r *UserRepository) ActivateLicense(ctx context.Context, id string, grant entity.LicenseGrant) (bool, error) {
	ok, err := r.exec(ctx, "activate license", `
		UPDATE users
		SET license_active = TRUE, license_expires_at = $3, license_token = $4,
		    license_payment_id = $2::uuid, updated_at = $5
		WHERE id = $1::uuid AND license_payment_id IS DISTINCT FROM $2::uuid
	`, id, grant.PaymentID, grant.ExpiresAt, grant.Token, time.Now())
	if err != nil || ok {
		return ok, err
	}
	// Distinguish "already issued for this payment" from "no such user".
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1::uuid)`, id).Scan(&exists); err != nil {
		return false, mapErr(err, "activate license")
	}
	if !exists {
		return false, mapErr(pgx.ErrNoRows, "activate license")
	}
	return false, nil
}

var _ repository.UserRepository = (*UserRepository)(nil)
