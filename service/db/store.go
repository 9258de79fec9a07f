package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/mintpay/service/metrics"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// Payment statuses.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrSignatureInUse is returned when a signature already settles another intent.
	ErrSignatureInUse = errors.New("transaction signature already used by another payment")
)

// Store provides database operations for the service.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
// If metrics is nil, no metrics will be recorded.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{
		pool:    pool,
		metrics: m,
	}
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Payment is a persisted payment intent.
type Payment struct {
	ID            uuid.UUID
	Wallet        string
	Lamports      int64
	Count         int32
	Model         string
	Reference     string
	Memo          string
	CollectionID  *string
	Status        string
	TxSignature   *string
	FailureReason *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ConfirmedAt   *time.Time
}

// CreatePaymentParams contains the parameters for creating a payment intent.
type CreatePaymentParams struct {
	ID           uuid.UUID // generated when zero
	Wallet       string
	Lamports     int64
	Count        int32
	Model        string
	Reference    string
	Memo         string
	CollectionID *string
}

// ListPaymentsParams filters and paginates payments. Empty filters match all.
type ListPaymentsParams struct {
	Wallet string
	Status string
	Limit  int32
	Offset int32
}

const paymentColumns = `id, wallet, lamports, count, model, reference, memo, collection_id,
	status, tx_signature, failure_reason, created_at, updated_at, confirmed_at`

// CreatePayment inserts a new pending payment intent.
func (s *Store) CreatePayment(ctx context.Context, params CreatePaymentParams) (*Payment, error) {
	if params.ID == uuid.Nil {
		params.ID = uuid.New()
	}

	const query = `INSERT INTO payments (id, wallet, lamports, count, model, reference, memo, collection_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending')
		RETURNING ` + paymentColumns

	start := time.Now()
	p, err := scanPayment(s.pool.QueryRow(ctx, query,
		params.ID,
		params.Wallet,
		params.Lamports,
		params.Count,
		params.Model,
		params.Reference,
		params.Memo,
		pgtextFromStringPtr(params.CollectionID),
	))
	s.observe("create", "payments", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}
	return p, nil
}

// GetPayment retrieves a payment by id. Returns ErrNotFound if it does not exist.
func (s *Store) GetPayment(ctx context.Context, id uuid.UUID) (*Payment, error) {
	start := time.Now()
	p, err := scanPayment(s.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
	s.observe("get", "payments", start, err)
	return p, notFound(err)
}

// GetPaymentBySignature retrieves the payment a signature was attached to.
func (s *Store) GetPaymentBySignature(ctx context.Context, signature string) (*Payment, error) {
	start := time.Now()
	p, err := scanPayment(s.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE tx_signature = $1`, signature))
	s.observe("get_by_signature", "payments", start, err)
	return p, notFound(err)
}

// ListPayments returns payments newest first.
func (s *Store) ListPayments(ctx context.Context, params ListPaymentsParams) ([]*Payment, error) {
	if params.Limit <= 0 {
		params.Limit = 50
	}

	const query = `SELECT ` + paymentColumns + ` FROM payments
		WHERE ($1 = '' OR wallet = $1) AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id
		LIMIT $3 OFFSET $4`

	start := time.Now()
	rows, err := s.pool.Query(ctx, query, params.Wallet, params.Status, params.Limit, params.Offset)
	if err != nil {
		s.observe("list", "payments", start, err)
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var payments []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			s.observe("list", "payments", start, err)
			return nil, err
		}
		payments = append(payments, p)
	}
	err = rows.Err()
	s.observe("list", "payments", start, err)
	return payments, err
}

// AttachSignature records the signature a wallet submitted for a pending intent
// so the background confirmation and status lookups can find it. applied is
// false if a different signature is already attached or the intent is not
// pending.
func (s *Store) AttachSignature(ctx context.Context, id uuid.UUID, signature string) (applied bool, err error) {
	const query = `UPDATE payments SET tx_signature = $2, updated_at = now()
		WHERE id = $1 AND status = 'pending' AND (tx_signature IS NULL OR tx_signature = $2)`

	start := time.Now()
	tag, err := s.pool.Exec(ctx, query, id, signature)
	s.observe("attach_signature", "payments", start, err)
	if isUniqueViolation(err) {
		return false, ErrSignatureInUse
	}
	if err != nil {
		return false, fmt.Errorf("failed to attach signature: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ConfirmPaymentIfPending moves a payment to confirmed in a single conditional
// update. applied is false when the payment was not pending; the current row is
// returned either way so callers can report the settled state.
func (s *Store) ConfirmPaymentIfPending(ctx context.Context, id uuid.UUID, signature string) (p *Payment, applied bool, err error) {
	const query = `UPDATE payments
		SET status = 'confirmed', tx_signature = $2, failure_reason = NULL,
		    confirmed_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + paymentColumns

	start := time.Now()
	p, err = scanPayment(s.pool.QueryRow(ctx, query, id, signature))
	s.observe("confirm", "payments", start, err)
	switch {
	case err == nil:
		return p, true, nil
	case isUniqueViolation(err):
		return nil, false, ErrSignatureInUse
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, false, fmt.Errorf("failed to confirm payment: %w", err)
	}

	p, err = s.GetPayment(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return p, false, nil
}

// FailPaymentIfPending moves a pending payment to failed. A confirmed payment is
// never touched.
func (s *Store) FailPaymentIfPending(ctx context.Context, id uuid.UUID, signature, reason string) (bool, error) {
	const query = `UPDATE payments
		SET status = 'failed', failure_reason = $3,
		    tx_signature = COALESCE(tx_signature, NULLIF($2, '')), updated_at = now()
		WHERE id = $1 AND status = 'pending'`

	start := time.Now()
	tag, err := s.pool.Exec(ctx, query, id, signature, reason)
	s.observe("fail", "payments", start, err)
	if isUniqueViolation(err) {
		return false, ErrSignatureInUse
	}
	if err != nil {
		return false, fmt.Errorf("failed to mark payment failed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListPendingWithSignature returns pending intents that already have a
// signature attached, oldest first. Used to resume confirmations after restarts.
// Intents created more than maxAge ago are left out; zero means no bound.
func (s *Store) ListPendingWithSignature(ctx context.Context, olderThan, maxAge time.Duration, limit int32) ([]*Payment, error) {
	const query = `SELECT ` + paymentColumns + ` FROM payments
		WHERE status = 'pending' AND tx_signature IS NOT NULL AND updated_at < now() - $1::interval
		  AND ($3::interval IS NULL OR created_at > now() - $3::interval)
		ORDER BY updated_at
		LIMIT $2`

	var age pgtype.Interval
	if maxAge > 0 {
		age = pgIntervalFromDuration(maxAge)
	}

	start := time.Now()
	rows, err := s.pool.Query(ctx, query, pgIntervalFromDuration(olderThan), limit, age)
	if err != nil {
		s.observe("list_pending", "payments", start, err)
		return nil, fmt.Errorf("failed to list pending payments: %w", err)
	}
	payments, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Payment, error) {
		return scanPayment(row)
	})
	s.observe("list_pending", "payments", start, err)
	return payments, err
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var (
		p                                pgPayment
		collectionID, sig, failureReason pgtype.Text
		confirmedAt                      pgtype.Timestamptz
	)
	err := row.Scan(
		&p.ID, &p.Wallet, &p.Lamports, &p.Count, &p.Model, &p.Reference, &p.Memo, &collectionID,
		&p.Status, &sig, &failureReason, &p.CreatedAt, &p.UpdatedAt, &confirmedAt,
	)
	if err != nil {
		return nil, err
	}
	return &Payment{
		ID:            p.ID,
		Wallet:        p.Wallet,
		Lamports:      p.Lamports,
		Count:         p.Count,
		Model:         p.Model,
		Reference:     p.Reference,
		Memo:          p.Memo,
		CollectionID:  stringPtrFromPgtext(collectionID),
		Status:        p.Status,
		TxSignature:   stringPtrFromPgtext(sig),
		FailureReason: stringPtrFromPgtext(failureReason),
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
		ConfirmedAt:   timePtrFromPgTimestamptz(confirmedAt),
	}, nil
}

// pgPayment holds the non-nullable columns of a payments row.
type pgPayment struct {
	ID        uuid.UUID
	Wallet    string
	Lamports  int64
	Count     int32
	Model     string
	Reference string
	Memo      string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s *Store) observe(operation, table string, start time.Time, err error) {
	if errors.Is(err, pgx.ErrNoRows) {
		err = nil
	}
	s.metrics.RecordDBQuery(operation, table, time.Since(start).Seconds(), err)
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func pgtextFromStringPtr(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func stringPtrFromPgtext(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}

func pgIntervalFromDuration(d time.Duration) pgtype.Interval {
	return pgtype.Interval{
		Microseconds: d.Microseconds(),
		Valid:        true,
	}
}

func timePtrFromPgTimestamptz(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}
