package supabase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"milestage-backend/internal/database"
	"milestage-backend/internal/ledger"
	"milestage-backend/internal/models"
)

// These tests run the store's SQL against a real Postgres. Point
// MILESTAGE_TEST_DATABASE_URL at a disposable database to enable them.
func newTestDatabase(t *testing.T) *DatabaseClient {
	t.Helper()
	url := os.Getenv("MILESTAGE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("MILESTAGE_TEST_DATABASE_URL not set")
	}

	db, err := NewDatabaseClient(url)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.NewMigratorForDB(db.DB(), nil).Run(context.Background()))
	return db
}

type dbFixture struct {
	userID    uuid.UUID
	projectID uuid.UUID
	stages    []uuid.UUID
}

// ref scopes a Stripe reference to the fixture; payment references are unique
// across the whole table.
func (f dbFixture) ref(name string) string {
	return name + "_" + f.projectID.String()
}

// seedProject inserts a profile and a project whose first stage is active and
// the rest locked. Rows are removed through the profile's cascade.
func seedProject(t *testing.T, db *DatabaseClient, stageCount int) dbFixture {
	t.Helper()
	ctx := context.Background()
	f := dbFixture{userID: uuid.New(), projectID: uuid.New()}

	_, err := db.DB().ExecContext(ctx, `INSERT INTO user_profiles (id, email) VALUES ($1, $2)`,
		f.userID, "freelancer@example.com")
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = db.DB().ExecContext(context.Background(), `DELETE FROM user_profiles WHERE id = $1`, f.userID)
	})

	_, err = db.DB().ExecContext(ctx, `
		INSERT INTO projects (id, user_id, name, client_email, share_code)
		VALUES ($1, $2, 'Website', 'client@example.com', $3)
	`, f.projectID, f.userID, "share-"+f.projectID.String())
	require.NoError(t, err)

	for i := 1; i <= stageCount; i++ {
		id := uuid.New()
		status := models.StageLocked
		if i == 1 {
			status = models.StageActive
		}
		_, err := db.DB().ExecContext(ctx, `
			INSERT INTO stages (id, project_id, stage_number, name, amount, status, extension_price)
			VALUES ($1, $2, $3, $4, $5::numeric / 100, $6, 150.00)
		`, id, f.projectID, i, fmt.Sprintf("Stage %d", i), int64(i)*10000, status)
		require.NoError(t, err)
		f.stages = append(f.stages, id)
	}
	return f
}

func paidExtension(stageID uuid.UUID, reference string) *models.Extension {
	now := time.Now().UTC()
	ext := &models.Extension{
		ID:                  uuid.New(),
		StageID:             stageID,
		Amount:              15000,
		Status:              models.ExtensionPaid,
		ReferenceCode:       "EXT-" + uuid.NewString()[:8],
		AdditionalRevisions: 1,
		CreatedAt:           now,
	}
	ext.PaymentReference = sql.NullString{String: reference, Valid: reference != ""}
	ext.MarkedPaidAt = sql.NullTime{Time: now, Valid: true}
	return ext
}

func TestDatabase_GetStageNotFound(t *testing.T) {
	db := newTestDatabase(t)

	_, err := db.GetStage(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestDatabase_StageAmountsRoundTripInMinorUnits(t *testing.T) {
	db := newTestDatabase(t)
	f := seedProject(t, db, 2)

	stage, err := db.GetStage(context.Background(), f.stages[1])
	require.NoError(t, err)
	assert.Equal(t, int64(20000), stage.Amount)
	assert.True(t, stage.ExtensionPrice.Valid)
	assert.Equal(t, int64(15000), stage.ExtensionPrice.Int64)
}

func TestDatabase_MarkStagePaidOnce(t *testing.T) {
	db := newTestDatabase(t)
	f := seedProject(t, db, 1)
	ctx := context.Background()
	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	changed, err := db.MarkStagePaid(ctx, f.stages[0], first)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = db.MarkStagePaid(ctx, f.stages[0], first.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, changed)

	stage, err := db.GetStage(ctx, f.stages[0])
	require.NoError(t, err)
	assert.Equal(t, models.PaymentReceived, stage.PaymentStatus)
	assert.True(t, stage.PaymentReceivedAt.Time.Equal(first), "the first payment time is kept")
}

func TestDatabase_MarkStagePaidLeavesVerifiedAlone(t *testing.T) {
	db := newTestDatabase(t)
	f := seedProject(t, db, 1)
	ctx := context.Background()

	_, err := db.DB().ExecContext(ctx, `UPDATE stages SET payment_status = 'verified' WHERE id = $1`, f.stages[0])
	require.NoError(t, err)

	changed, err := db.MarkStagePaid(ctx, f.stages[0], time.Now())
	require.NoError(t, err)
	assert.False(t, changed)

	stage, err := db.GetStage(ctx, f.stages[0])
	require.NoError(t, err)
	assert.Equal(t, models.PaymentVerified, stage.PaymentStatus)
}

func TestDatabase_ActivateStageOnlyFromLocked(t *testing.T) {
	db := newTestDatabase(t)
	f := seedProject(t, db, 2)
	ctx := context.Background()

	changed, err := db.ActivateStage(ctx, f.stages[0])
	require.NoError(t, err)
	assert.False(t, changed, "an active stage is not touched")

	changed, err = db.ActivateStage(ctx, f.stages[1])
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = db.ActivateStage(ctx, f.stages[1])
	require.NoError(t, err)
	assert.False(t, changed)

	stages, err := db.StagesByNumber(ctx, f.projectID, 2)
	require.NoError(t, err)
	require.Len(t, stages, 1)
	assert.Equal(t, models.StageActive, stages[0].Status)
}

func TestDatabase_UpsertStagePaymentOnlyMovesForward(t *testing.T) {
	db := newTestDatabase(t)
	f := seedProject(t, db, 1)
	ctx := context.Background()
	paidAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	payment := func(status string) *models.StagePayment {
		p := &models.StagePayment{
			ID:                    uuid.New(),
			StageID:               f.stages[0],
			Amount:                10000,
			Currency:              "usd",
			Status:                status,
			StripePaymentIntentID: "pi_" + f.stages[0].String(),
			CreatedAt:             paidAt,
			UpdatedAt:             paidAt,
		}
		if status == models.StagePaymentPaid {
			p.PaidAt = sql.NullTime{Time: paidAt, Valid: true}
		}
		return p
	}
	current := func() (string, sql.NullTime, int) {
		var status string
		var paid sql.NullTime
		var rows int
		err := db.DB().QueryRowContext(ctx, `
			SELECT status, paid_at, COUNT(*) OVER ()
			FROM stage_payments WHERE stage_id = $1
		`, f.stages[0]).Scan(&status, &paid, &rows)
		require.NoError(t, err)
		return status, paid, rows
	}

	require.NoError(t, db.UpsertStagePayment(ctx, payment(models.StagePaymentPending)))
	status, _, rows := current()
	assert.Equal(t, models.StagePaymentPending, status)
	assert.Equal(t, 1, rows)

	require.NoError(t, db.UpsertStagePayment(ctx, payment(models.StagePaymentPaid)))
	status, paid, rows := current()
	assert.Equal(t, models.StagePaymentPaid, status)
	assert.True(t, paid.Valid)
	assert.Equal(t, 1, rows, "the payment intent id keys a single row")

	for _, late := range []string{models.StagePaymentFailed, models.StagePaymentPending, models.StagePaymentPaid} {
		require.NoError(t, db.UpsertStagePayment(ctx, payment(late)))
		status, again, _ := current()
		assert.Equal(t, models.StagePaymentPaid, status, "late %s must not regress the row", late)
		assert.True(t, again.Time.Equal(paid.Time))
	}
}

func TestDatabase_InsertPaidExtensionOncePerStage(t *testing.T) {
	db := newTestDatabase(t)
	f := seedProject(t, db, 1)
	ctx := context.Background()

	require.NoError(t, db.InsertPaidExtension(ctx, paidExtension(f.stages[0], f.ref("cs_first"))))

	err := db.InsertPaidExtension(ctx, paidExtension(f.stages[0], f.ref("cs_second")))
	assert.ErrorIs(t, err, ledger.ErrConflict)

	latest, err := db.LatestPaidExtension(ctx, f.stages[0])
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, f.ref("cs_first"), latest.PaymentReference.String)
	assert.Equal(t, int64(15000), latest.Amount)

	stage, err := db.GetStage(ctx, f.stages[0])
	require.NoError(t, err)
	assert.Equal(t, 1, stage.AdditionalRevisions)
}

func TestDatabase_InsertPaidExtensionDuplicateReference(t *testing.T) {
	db := newTestDatabase(t)
	f := seedProject(t, db, 2)
	ctx := context.Background()

	require.NoError(t, db.InsertPaidExtension(ctx, paidExtension(f.stages[0], f.ref("cs_shared"))))

	err := db.InsertPaidExtension(ctx, paidExtension(f.stages[1], f.ref("cs_shared")))
	assert.ErrorIs(t, err, ledger.ErrConflict, "a unique violation on the payment reference is a conflict")

	stage, err := db.GetStage(ctx, f.stages[1])
	require.NoError(t, err)
	assert.Zero(t, stage.AdditionalRevisions, "the failed insert rolls back the revision bump")
}

func TestDatabase_InsertPaidExtensionConcurrent(t *testing.T) {
	db := newTestDatabase(t)
	f := seedProject(t, db, 1)
	ctx := context.Background()

	const deliveries = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		inserted  int
		conflicts int
		failures  []error
	)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := db.InsertPaidExtension(ctx, paidExtension(f.stages[0], f.ref(fmt.Sprintf("cs_%d", i))))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				inserted++
			case errors.Is(err, ledger.ErrConflict):
				conflicts++
			default:
				failures = append(failures, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Empty(t, failures)
	assert.Equal(t, 1, inserted)
	assert.Equal(t, deliveries-1, conflicts)

	stage, err := db.GetStage(ctx, f.stages[0])
	require.NoError(t, err)
	assert.Equal(t, 1, stage.AdditionalRevisions)
}

func TestDatabase_InsertPaidExtensionMissingStage(t *testing.T) {
	db := newTestDatabase(t)

	err := db.InsertPaidExtension(context.Background(), paidExtension(uuid.New(), "cs_orphan"))
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestDatabase_SetConnectAccountKeepsExisting(t *testing.T) {
	db := newTestDatabase(t)
	f := seedProject(t, db, 1)
	ctx := context.Background()
	first := "acct_" + f.userID.String()[:8]

	got, err := db.SetConnectAccount(ctx, f.userID, first)
	require.NoError(t, err)
	assert.Equal(t, first, got)

	got, err = db.SetConnectAccount(ctx, f.userID, "acct_other")
	require.NoError(t, err)
	assert.Equal(t, first, got)

	_, err = db.SetConnectAccount(ctx, uuid.New(), "acct_nobody")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestDatabase_UpdateConnectCapabilities(t *testing.T) {
	db := newTestDatabase(t)
	f := seedProject(t, db, 1)
	ctx := context.Background()
	connectedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	caps := ledger.Capabilities{ChargesEnabled: true, PayoutsEnabled: true, DetailsSubmitted: true}
	require.NoError(t, db.UpdateConnectCapabilities(ctx, f.userID, caps, &connectedAt))
	require.NoError(t, db.UpdateConnectCapabilities(ctx, f.userID, ledger.Capabilities{ChargesEnabled: true}, nil))

	profile, err := db.GetProfile(ctx, f.userID)
	require.NoError(t, err)
	assert.True(t, profile.StripeChargesEnabled)
	assert.False(t, profile.StripePayoutsEnabled)
	assert.True(t, profile.StripeConnectedAt.Time.Equal(connectedAt), "a nil stamp keeps the previous one")

	project, err := db.GetProject(ctx, f.projectID)
	require.NoError(t, err)
	assert.True(t, project.ChargesEnabled)
	assert.False(t, project.PayoutsEnabled)
}
