package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oksasatya/pix-license-api/internal/domain/entity"
	"github.com/oksasatya/pix-license-api/internal/domain/repository"
)

const paymentColumns = `id::text, user_id::text, provider_customer_id, provider_charge_id, request_id,
	amount, status, pix_code, pix_qr_code, pix_qr_code_url, expires_at, error, created_at, updated_at`

type PaymentRepository struct {
	pool *pgxpool.Pool
}

func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

func scanPayment(row pgx.Row) (*entity.Payment, error) {
	var (
		p                         entity.Payment
		requestID, qrURL, errText *string
		status                    string
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.ProviderCustomerID, &p.ProviderChargeID, &requestID,
		&p.Amount, &status, &p.PixCode, &p.PixQrCode, &qrURL, &p.ExpiresAt, &errText,
		&p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.RequestID = deref(requestID)
	p.Status = entity.PaymentStatus(status)
	p.PixQrCodeURL = deref(qrURL)
	p.Error = deref(errText)
	return &p, nil
}

func (r *PaymentRepository) Create(ctx context.Context, p *entity.Payment) error {
	if p.Status == "" {
		p.Status = entity.PaymentPending
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO payments (user_id, provider_customer_id, provider_charge_id, request_id, amount,
		                      status, pix_code, pix_qr_code, pix_qr_code_url, expires_at, error)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id::text, created_at, updated_at
	`, p.UserID, p.ProviderCustomerID, p.ProviderChargeID, nullable(p.RequestID), p.Amount,
		string(p.Status), p.PixCode, p.PixQrCode, nullable(p.PixQrCodeURL), p.ExpiresAt, nullable(p.Error))

	return mapErr(row.Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt), "create payment")
}

func (r *PaymentRepository) getOne(ctx context.Context, what, where string, arg any) (*entity.Payment, error) {
	p, err := scanPayment(r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE `+where, arg))
	if err != nil {
		return nil, mapErr(err, what)
	}
	return p, nil
}

func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*entity.Payment, error) {
	return r.getOne(ctx, "get payment", `id = $1::uuid`, id)
}

func (r *PaymentRepository) GetByProviderChargeID(ctx context.Context, chargeID string) (*entity.Payment, error) {
	return r.getOne(ctx, "get payment by charge", `provider_charge_id = $1`, chargeID)
}

func (r *PaymentRepository) GetByRequestID(ctx context.Context, requestID string) (*entity.Payment, error) {
	if requestID == "" {
		return nil, mapErr(pgx.ErrNoRows, "get payment by request")
	}
	return r.getOne(ctx, "get payment by request", `request_id = $1`, requestID)
}

func (r *PaymentRepository) LatestPendingForUser(ctx context.Context, userID string) (*entity.Payment, error) {
	return r.getOne(ctx, "latest pending payment",
		`user_id = $1::uuid AND status = 'PENDING' ORDER BY created_at DESC LIMIT 1`, userID)
}

func (r *PaymentRepository) Transition(ctx context.Context, id string, from, to entity.PaymentStatus) (bool, error) {
	if !entity.CanTransition(from, to) {
		return false, nil
	}
	res, err := r.pool.Exec(ctx, `
		UPDATE payments SET status = $3, updated_at = $4
		WHERE id = $1::uuid AND status = $2
	`, id, string(from), string(to), time.Now())
	if err != nil {
		return false, mapErr(err, "transition payment")
	}
	return res.RowsAffected() > 0, nil
}

func (r *PaymentRepository) SetQrCodeURL(ctx context.Context, id, url string) error {
	res, err := r.pool.Exec(ctx, `UPDATE payments SET pix_qr_code_url = $2, updated_at = $3 WHERE id = $1::uuid`,
		id, url, time.Now())
	if err != nil {
		return mapErr(err, "set qr code url")
	}
	if res.RowsAffected() == 0 {
		return mapErr(pgx.ErrNoRows, "set qr code url")
	}
	return nil
}

var _ repository.PaymentRepository = (*PaymentRepository)(nil)
