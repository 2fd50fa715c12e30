package supabase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"milestage-backend/internal/ledger"
	"milestage-backend/internal/models"
)

// uniqueViolation is the Postgres SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

// Amounts are numeric(12,2) in the database and minor units in Go.
const (
	stageColumns = `id, project_id, stage_number, name, ROUND(amount * 100)::bigint, currency,
		status, payment_status, ROUND(extension_price * 100)::bigint, additional_revisions,
		payment_received_at, created_at, updated_at`
	profileColumns = `id, email, stripe_customer_id, stripe_connect_account_id,
		stripe_charges_enabled, stripe_payouts_enabled, stripe_onboarding_completed,
		stripe_connected_at, subscription_status, subscription_updated_at, created_at, updated_at`
	projectColumns = `id, user_id, name, client_name, client_email, currency, share_code,
		stripe_account_id, charges_enabled, payouts_enabled, created_at, updated_at`
	extensionColumns = `id, stage_id, ROUND(amount * 100)::bigint, status, reference_code,
		payment_reference, additional_revisions, created_at, marked_paid_at, verified_at`
)

type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(connectionString string) (*DatabaseClient, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

// DB exposes the pool for the migrator.
func (d *DatabaseClient) DB() *sql.DB {
	return d.db
}

func (d *DatabaseClient) Close() error {
	return d.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStage(row rowScanner) (*models.Stage, error) {
	var s models.Stage
	err := row.Scan(
		&s.ID, &s.ProjectID, &s.StageNumber, &s.Name, &s.Amount, &s.Currency,
		&s.Status, &s.PaymentStatus, &s.ExtensionPrice, &s.AdditionalRevisions,
		&s.PaymentReceivedAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func scanProfile(row rowScanner) (*models.UserProfile, error) {
	var p models.UserProfile
	err := row.Scan(
		&p.ID, &p.Email, &p.StripeCustomerID, &p.StripeConnectAccountID,
		&p.StripeChargesEnabled, &p.StripePayoutsEnabled, &p.StripeOnboardingCompleted,
		&p.StripeConnectedAt, &p.SubscriptionStatus, &p.SubscriptionUpdatedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanExtension(row rowScanner) (*models.Extension, error) {
	var e models.Extension
	err := row.Scan(
		&e.ID, &e.StageID, &e.Amount, &e.Status, &e.ReferenceCode,
		&e.PaymentReference, &e.AdditionalRevisions, &e.CreatedAt, &e.MarkedPaidAt, &e.VerifiedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// notFound converts sql.ErrNoRows into ledger.ErrNotFound.
func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ledger.ErrNotFound)
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

func changed(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *DatabaseClient) GetProject(ctx context.Context, projectID uuid.UUID) (*models.Project, error) {
	var p models.Project
	err := d.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, projectID).Scan(
		&p.ID, &p.UserID, &p.Name, &p.ClientName, &p.ClientEmail, &p.Currency, &p.ShareCode,
		&p.StripeAccountID, &p.ChargesEnabled, &p.PayoutsEnabled, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err, "project "+projectID.String())
	}
	return &p, nil
}

func (d *DatabaseClient) GetProfile(ctx context.Context, userID uuid.UUID) (*models.UserProfile, error) {
	p, err := scanProfile(d.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM user_profiles WHERE id = $1`, userID))
	if err != nil {
		return nil, notFound(err, "profile "+userID.String())
	}
	return p, nil
}

func (d *DatabaseClient) GetProfileByConnectAccount(ctx context.Context, accountID string) (*models.UserProfile, error) {
	p, err := scanProfile(d.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM user_profiles WHERE stripe_connect_account_id = $1`, accountID))
	if err != nil {
		return nil, notFound(err, "profile for connect account "+accountID)
	}
	return p, nil
}

func (d *DatabaseClient) GetProfileByCustomer(ctx context.Context, customerID string) (*models.UserProfile, error) {
	p, err := scanProfile(d.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM user_profiles WHERE stripe_customer_id = $1`, customerID))
	if err != nil {
		return nil, notFound(err, "profile for customer "+customerID)
	}
	return p, nil
}

func (d *DatabaseClient) GetStage(ctx context.Context, stageID uuid.UUID) (*models.Stage, error) {
	s, err := scanStage(d.db.QueryRowContext(ctx, `SELECT `+stageColumns+` FROM stages WHERE id = $1`, stageID))
	if err != nil {
		return nil, notFound(err, "stage "+stageID.String())
	}
	return s, nil
}

func (d *DatabaseClient) StagesByNumber(ctx context.Context, projectID uuid.UUID, stageNumber int) ([]models.Stage, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+stageColumns+`
		FROM stages
		WHERE project_id = $1 AND stage_number = $2
	`, projectID, stageNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to list stages: %w", err)
	}
	defer rows.Close()

	var stages []models.Stage
	for rows.Next() {
		s, err := scanStage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stage: %w", err)
		}
		stages = append(stages, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list stages: %w", err)
	}

	return stages, nil
}

func (d *DatabaseClient) MarkStagePaid(ctx context.Context, stageID uuid.UUID, paidAt time.Time) (bool, error) {
	res, err := d.db.ExecContext(ctx, `
		UPDATE stages
		SET payment_status = 'received',
			payment_received_at = COALESCE(payment_received_at, $2),
			updated_at = $2
		WHERE id = $1 AND payment_status NOT IN ('received', 'verified')
	`, stageID, paidAt)
	if err != nil {
		return false, fmt.Errorf("failed to update stage payment status: %w", err)
	}
	return changed(res)
}

func (d *DatabaseClient) UpsertStagePayment(ctx context.Context, payment *models.StagePayment) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO stage_payments (id, stage_id, amount, currency, status, stripe_payment_intent_id, paid_at, created_at, updated_at)
		VALUES ($1, $2, $3::numeric / 100, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (stripe_payment_intent_id) DO UPDATE
		SET status = EXCLUDED.status,
			paid_at = COALESCE(stage_payments.paid_at, EXCLUDED.paid_at),
			updated_at = EXCLUDED.updated_at
		WHERE array_position(ARRAY['pending', 'failed', 'paid', 'verified'], stage_payments.status)
			< array_position(ARRAY['pending', 'failed', 'paid', 'verified'], EXCLUDED.status)
	`, payment.ID, payment.StageID, payment.Amount, payment.Currency, payment.Status,
		payment.StripePaymentIntentID, payment.PaidAt, payment.CreatedAt, payment.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert stage payment: %w", err)
	}
	return nil
}

func (d *DatabaseClient) ActivateStage(ctx context.Context, stageID uuid.UUID) (bool, error) {
	res, err := d.db.ExecContext(ctx, `
		UPDATE stages
		SET status = 'active', updated_at = NOW()
		WHERE id = $1 AND status = 'locked'
	`, stageID)
	if err != nil {
		return false, fmt.Errorf("failed to activate stage: %w", err)
	}
	return changed(res)
}

func (d *DatabaseClient) LatestPaidExtension(ctx context.Context, stageID uuid.UUID) (*models.Extension, error) {
	e, err := scanExtension(d.db.QueryRowContext(ctx, `
		SELECT `+extensionColumns+`
		FROM extensions
		WHERE stage_id = $1 AND status = 'paid'
		ORDER BY created_at DESC
		LIMIT 1
	`, stageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest extension: %w", err)
	}
	return e, nil
}

// InsertPaidExtension locks the stage row so concurrent deliveries for the
// same stage serialise on the existence check.
func (d *DatabaseClient) InsertPaidExtension(ctx context.Context, ext *models.Extension) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var locked uuid.UUID
	err = tx.QueryRowContext(ctx, `SELECT id FROM stages WHERE id = $1 FOR UPDATE`, ext.StageID).Scan(&locked)
	if err != nil {
		return notFound(err, "stage "+ext.StageID.String())
	}

	var exists bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM extensions WHERE stage_id = $1 AND status = 'paid')`,
		ext.StageID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check extensions: %w", err)
	}
	if exists {
		return ledger.ErrConflict
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO extensions (id, stage_id, amount, status, reference_code, payment_reference,
			additional_revisions, created_at, marked_paid_at, verified_at)
		VALUES ($1, $2, $3::numeric / 100, $4, $5, $6, $7, $8, $9, $10)
	`, ext.ID, ext.StageID, ext.Amount, ext.Status, ext.ReferenceCode, ext.PaymentReference,
		ext.AdditionalRevisions, ext.CreatedAt, ext.MarkedPaidAt, ext.VerifiedAt)
	if isUniqueViolation(err) {
		return ledger.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to insert extension: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE stages
		SET additional_revisions = additional_revisions + $2, updated_at = NOW()
		WHERE id = $1
	`, ext.StageID, ext.AdditionalRevisions); err != nil {
		return fmt.Errorf("failed to update stage revisions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return ledger.ErrConflict
		}
		return fmt.Errorf("failed to commit extension: %w", err)
	}
	return nil
}

func (d *DatabaseClient) UpdateConnectCapabilities(ctx context.Context, userID uuid.UUID, caps ledger.Capabilities, connectedAt *time.Time) error {
	var stamped sql.NullTime
	if connectedAt != nil {
		stamped = sql.NullTime{Time: *connectedAt, Valid: true}
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE user_profiles
		SET stripe_charges_enabled = $2,
			stripe_payouts_enabled = $3,
			stripe_onboarding_completed = $4,
			stripe_connected_at = COALESCE($5::timestamptz, stripe_connected_at),
			updated_at = NOW()
		WHERE id = $1
	`, userID, caps.ChargesEnabled, caps.PayoutsEnabled, caps.DetailsSubmitted, stamped); err != nil {
		return fmt.Errorf("failed to update profile capabilities: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE projects
		SET charges_enabled = $2, payouts_enabled = $3, updated_at = NOW()
		WHERE user_id = $1
	`, userID, caps.ChargesEnabled, caps.PayoutsEnabled); err != nil {
		return fmt.Errorf("failed to update project capabilities: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit capabilities: %w", err)
	}
	return nil
}

func (d *DatabaseClient) UpdateSubscriptionStatus(ctx context.Context, userID uuid.UUID, status string, updatedAt time.Time) (bool, error) {
	res, err := d.db.ExecContext(ctx, `
		UPDATE user_profiles
		SET subscription_status = $2, subscription_updated_at = $3, updated_at = $3
		WHERE id = $1
	`, userID, status, updatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to update subscription status: %w", err)
	}
	return changed(res)
}

func (d *DatabaseClient) SetStripeCustomer(ctx context.Context, userID uuid.UUID, customerID string) (bool, error) {
	res, err := d.db.ExecContext(ctx, `
		UPDATE user_profiles
		SET stripe_customer_id = $2, updated_at = NOW()
		WHERE id = $1
	`, userID, customerID)
	if err != nil {
		return false, fmt.Errorf("failed to set stripe customer: %w", err)
	}
	return changed(res)
}

// SetConnectAccount records the Express account created during onboarding.
// An account already on the profile is kept.
func (d *DatabaseClient) SetConnectAccount(ctx context.Context, userID uuid.UUID, accountID string) (string, error) {
	var current string
	err := d.db.QueryRowContext(ctx, `
		UPDATE user_profiles
		SET stripe_connect_account_id = COALESCE(stripe_connect_account_id, $2), updated_at = NOW()
		WHERE id = $1
		RETURNING stripe_connect_account_id
	`, userID, accountID).Scan(&current)
	if err != nil {
		return "", notFound(err, "profile "+userID.String())
	}
	return current, nil
}

var _ ledger.Store = (*DatabaseClient)(nil)
