package services_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"milestage-backend/internal/ledger"
	"milestage-backend/internal/ledger/ledgertest"
	"milestage-backend/internal/models"
	"milestage-backend/internal/notify"
	"milestage-backend/internal/payments"
	"milestage-backend/internal/services"
)

type fakeProcessor struct {
	getPaymentIntent    func(id string) (*stripe.PaymentIntent, error)
	createPaymentIntent func(in payments.PaymentIntentInput) (*stripe.PaymentIntent, error)
	getCheckoutSession  func(id string) (*stripe.CheckoutSession, error)
	extensionCheckout   func(in payments.ExtensionCheckoutInput) (*stripe.CheckoutSession, error)
	subscriptionCheck   func(in payments.SubscriptionCheckoutInput) (*stripe.CheckoutSession, error)
	connectAccount      func(userID uuid.UUID, email string) (*stripe.Account, error)
	accountLink         func(accountID, refreshURL, returnURL string) (*stripe.AccountLink, error)
}

var errUnexpected = errors.New("unexpected processor call")

func (f *fakeProcessor) GetPaymentIntent(_ context.Context, id string) (*stripe.PaymentIntent, error) {
	if f.getPaymentIntent == nil {
		return nil, errUnexpected
	}
	return f.getPaymentIntent(id)
}

func (f *fakeProcessor) CreatePaymentIntent(_ context.Context, in payments.PaymentIntentInput) (*stripe.PaymentIntent, error) {
	if f.createPaymentIntent == nil {
		return nil, errUnexpected
	}
	return f.createPaymentIntent(in)
}

func (f *fakeProcessor) GetCheckoutSession(_ context.Context, id string) (*stripe.CheckoutSession, error) {
	if f.getCheckoutSession == nil {
		return nil, errUnexpected
	}
	return f.getCheckoutSession(id)
}

func (f *fakeProcessor) CreateExtensionCheckout(_ context.Context, in payments.ExtensionCheckoutInput) (*stripe.CheckoutSession, error) {
	if f.extensionCheckout == nil {
		return nil, errUnexpected
	}
	return f.extensionCheckout(in)
}

func (f *fakeProcessor) CreateSubscriptionCheckout(_ context.Context, in payments.SubscriptionCheckoutInput) (*stripe.CheckoutSession, error) {
	if f.subscriptionCheck == nil {
		return nil, errUnexpected
	}
	return f.subscriptionCheck(in)
}

func (f *fakeProcessor) CreateConnectAccount(_ context.Context, userID uuid.UUID, email string) (*stripe.Account, error) {
	if f.connectAccount == nil {
		return nil, errUnexpected
	}
	return f.connectAccount(userID, email)
}

func (f *fakeProcessor) CreateAccountLink(_ context.Context, accountID, refreshURL, returnURL string) (*stripe.AccountLink, error) {
	if f.accountLink == nil {
		return nil, errUnexpected
	}
	return f.accountLink(accountID, refreshURL, returnURL)
}

type recordingNotifier struct {
	mu   sync.Mutex
	jobs []notify.Job
}

func (r *recordingNotifier) Notify(job notify.Job) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	return true
}

func (r *recordingNotifier) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j.Type)
	}
	return out
}

type fixture struct {
	store     *ledgertest.MemStore
	processor *fakeProcessor
	notifier  *recordingNotifier
	svc       *services.PaymentService
	userID    uuid.UUID
	project   models.Project
	stages    []models.Stage
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := ledgertest.NewMemStore()
	userID := uuid.New()
	store.AddProfile(models.UserProfile{ID: userID, Email: "freelancer@example.com"})

	project := models.Project{
		ID:          uuid.New(),
		UserID:      userID,
		Name:        "Brand refresh",
		ClientName:  "Acme",
		ClientEmail: "client@example.com",
		Currency:    "usd",
		ShareCode:   "share-abc",
	}
	store.AddProject(project)

	stages := []models.Stage{
		{ID: uuid.New(), ProjectID: project.ID, StageNumber: 1, Name: "Discovery", Amount: 50000, Currency: "usd", Status: models.StageActive, PaymentStatus: models.PaymentPending},
		{ID: uuid.New(), ProjectID: project.ID, StageNumber: 2, Name: "Design", Amount: 120000, Currency: "usd", Status: models.StageLocked, PaymentStatus: models.PaymentPending},
	}
	stages[0].ExtensionPrice = sql.NullInt64{Int64: 15000, Valid: true}
	for _, s := range stages {
		store.AddStage(s)
	}

	processor := &fakeProcessor{}
	notifier := &recordingNotifier{}
	updater := ledger.NewUpdater(store, nil).WithClock(func() time.Time {
		return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	})
	svc := services.NewPaymentService(updater, store, processor, notifier, nil, 10, "https://app.example.com")

	return &fixture{
		store:     store,
		processor: processor,
		notifier:  notifier,
		svc:       svc,
		userID:    userID,
		project:   project,
		stages:    stages,
	}
}

func TestConfirmStagePayment_Webhook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.ConfirmStagePayment(ctx, services.SourceWebhook, services.PaymentConfirmation{
		PaymentIntentID: "pi_1",
		StageID:         f.stages[0].ID,
		Amount:          50000,
		Currency:        "usd",
	})
	require.NoError(t, err)

	assert.False(t, res.AlreadyProcessed)
	assert.Equal(t, models.PaymentReceived, f.store.Stage(f.stages[0].ID).PaymentStatus)
	require.NotNil(t, res.NextStage)
	assert.Equal(t, models.StageActive, res.NextStage.Status)
	assert.Equal(t, models.StageActive, f.store.Stage(f.stages[1].ID).Status)
	assert.Equal(t, []string{notify.TemplatePaymentReceived, notify.TemplateStageUnlocked}, f.notifier.types())

	unlocked := f.notifier.jobs[1]
	assert.Equal(t, "client@example.com", unlocked.To)
	assert.Equal(t, "https://app.example.com/portal/share-abc", unlocked.Data["portal_url"])

	payment, ok := f.store.Payment("pi_1")
	require.True(t, ok)
	assert.Equal(t, models.StagePaymentPaid, payment.Status)
}

func TestConfirmStagePayment_RedeliveryIsQuiet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := services.PaymentConfirmation{PaymentIntentID: "pi_1", StageID: f.stages[0].ID}

	_, err := f.svc.ConfirmStagePayment(ctx, services.SourceWebhook, in)
	require.NoError(t, err)
	writes := f.store.Writes

	res, err := f.svc.ConfirmStagePayment(ctx, services.SourceWebhook, in)
	require.NoError(t, err)

	assert.True(t, res.AlreadyProcessed)
	assert.Equal(t, writes, f.store.Writes)
	assert.Len(t, f.notifier.types(), 2)
}

func TestConfirmStagePayment_ConfirmationVerifiesWithStripe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stageID := f.stages[0].ID

	t.Run("not succeeded", func(t *testing.T) {
		f.processor.getPaymentIntent = func(id string) (*stripe.PaymentIntent, error) {
			return &stripe.PaymentIntent{ID: id, Status: stripe.PaymentIntentStatusProcessing, Metadata: map[string]string{payments.MetaStageID: stageID.String()}}, nil
		}
		_, err := f.svc.ConfirmStagePayment(ctx, services.SourceConfirmation, services.PaymentConfirmation{PaymentIntentID: "pi_1", StageID: stageID})
		assert.ErrorIs(t, err, ledger.ErrValidation)
		assert.Equal(t, models.PaymentPending, f.store.Stage(stageID).PaymentStatus)
	})

	t.Run("other stage", func(t *testing.T) {
		f.processor.getPaymentIntent = func(id string) (*stripe.PaymentIntent, error) {
			return &stripe.PaymentIntent{ID: id, Status: stripe.PaymentIntentStatusSucceeded, Metadata: map[string]string{payments.MetaStageID: uuid.NewString()}}, nil
		}
		_, err := f.svc.ConfirmStagePayment(ctx, services.SourceConfirmation, services.PaymentConfirmation{PaymentIntentID: "pi_1", StageID: stageID})
		assert.ErrorIs(t, err, ledger.ErrValidation)
	})

	t.Run("succeeded", func(t *testing.T) {
		f.processor.getPaymentIntent = func(id string) (*stripe.PaymentIntent, error) {
			return &stripe.PaymentIntent{
				ID:       id,
				Status:   stripe.PaymentIntentStatusSucceeded,
				Amount:   50000,
				Currency: stripe.CurrencyUSD,
				Metadata: map[string]string{payments.MetaStageID: stageID.String()},
			}, nil
		}
		res, err := f.svc.ConfirmStagePayment(ctx, services.SourceConfirmation, services.PaymentConfirmation{PaymentIntentID: "pi_1", StageID: stageID})
		require.NoError(t, err)
		assert.False(t, res.AlreadyProcessed)
		assert.Equal(t, models.PaymentReceived, f.store.Stage(stageID).PaymentStatus)
	})
}

func TestConfirmStagePayment_StripeErrorSurfaces(t *testing.T) {
	f := newFixture(t)
	f.processor.getPaymentIntent = func(id string) (*stripe.PaymentIntent, error) {
		return nil, errors.New("stripe down")
	}

	_, err := f.svc.ConfirmStagePayment(context.Background(), services.SourceConfirmation, services.PaymentConfirmation{PaymentIntentID: "pi_1", StageID: f.stages[0].ID})
	assert.EqualError(t, err, "stripe down")
	assert.Zero(t, f.store.Writes)
}

func TestConfirmExtensionPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stageID := f.stages[0].ID

	res, err := f.svc.ConfirmExtensionPayment(ctx, services.SourceWebhook, services.ExtensionConfirmation{SessionID: "cs_1", StageID: stageID})
	require.NoError(t, err)
	assert.False(t, res.AlreadyProcessed)
	assert.Equal(t, int64(15000), res.Extension.Amount)
	assert.Equal(t, []string{notify.TemplateExtensionPurchased}, f.notifier.types())
	assert.Equal(t, res.Extension.ReferenceCode, f.notifier.jobs[0].Data["reference_code"])

	again, err := f.svc.ConfirmExtensionPayment(ctx, services.SourceWebhook, services.ExtensionConfirmation{SessionID: "cs_1", StageID: stageID})
	require.NoError(t, err)
	assert.True(t, again.AlreadyProcessed)
	assert.Equal(t, res.Extension.ID, again.Extension.ID)
	assert.Len(t, f.store.Extensions(stageID), 1)
	assert.Len(t, f.notifier.types(), 1)
}

func TestConfirmExtensionPayment_ConfirmationRequiresPaidSession(t *testing.T) {
	f := newFixture(t)
	stageID := f.stages[0].ID
	f.processor.getCheckoutSession = func(id string) (*stripe.CheckoutSession, error) {
		return &stripe.CheckoutSession{
			ID:            id,
			PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid,
			Metadata:      map[string]string{payments.MetaStageID: stageID.String()},
		}, nil
	}

	_, err := f.svc.ConfirmExtensionPayment(context.Background(), services.SourceConfirmation, services.ExtensionConfirmation{SessionID: "cs_1", StageID: stageID})
	assert.ErrorIs(t, err, ledger.ErrValidation)
	assert.Empty(t, f.store.Extensions(stageID))
}

func TestRecordPaymentFailure(t *testing.T) {
	f := newFixture(t)

	err := f.svc.RecordPaymentFailure(context.Background(), services.PaymentFailure{
		PaymentIntentID: "pi_fail",
		StageID:         f.stages[0].ID,
		Reason:          "card_declined",
	})
	require.NoError(t, err)

	payment, ok := f.store.Payment("pi_fail")
	require.True(t, ok)
	assert.Equal(t, models.StagePaymentFailed, payment.Status)
	assert.Equal(t, models.PaymentPending, f.store.Stage(f.stages[0].ID).PaymentStatus)
}

func TestGetPortal(t *testing.T) {
	f := newFixture(t)

	portal, err := f.svc.GetPortal(context.Background(), "share-abc")
	require.NoError(t, err)

	assert.Equal(t, "Brand refresh", portal.Name)
	require.Len(t, portal.Stages, 2)
	assert.Equal(t, 1, portal.Stages[0].StageNumber)
	require.NotNil(t, portal.Stages[0].ExtensionPrice)
	assert.Equal(t, int64(15000), *portal.Stages[0].ExtensionPrice)
	assert.Nil(t, portal.Stages[1].ExtensionPrice)

	_, err = f.svc.GetPortal(context.Background(), "missing")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestCreateStagePaymentIntent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var got payments.PaymentIntentInput
	f.processor.createPaymentIntent = func(in payments.PaymentIntentInput) (*stripe.PaymentIntent, error) {
		got = in
		return &stripe.PaymentIntent{ID: "pi_new", ClientSecret: "pi_new_secret"}, nil
	}

	resp, err := f.svc.CreateStagePaymentIntent(ctx, "share-abc", f.stages[0].ID)
	require.NoError(t, err)

	assert.Equal(t, "pi_new_secret", resp.ClientSecret)
	assert.Equal(t, int64(50000), got.Amount)
	assert.Empty(t, got.DestinationAccount, "no connect account yet")
	assert.Zero(t, got.ApplicationFee)

	payment, ok := f.store.Payment("pi_new")
	require.True(t, ok)
	assert.Equal(t, models.StagePaymentPending, payment.Status)
}

func TestCreateStagePaymentIntent_DestinationCharge(t *testing.T) {
	f := newFixture(t)
	profile := f.store.Profile(f.userID)
	profile.StripeConnectAccountID = sql.NullString{String: "acct_123", Valid: true}
	profile.StripeChargesEnabled = true
	f.store.AddProfile(profile)

	var got payments.PaymentIntentInput
	f.processor.createPaymentIntent = func(in payments.PaymentIntentInput) (*stripe.PaymentIntent, error) {
		got = in
		return &stripe.PaymentIntent{ID: "pi_new"}, nil
	}

	_, err := f.svc.CreateStagePaymentIntent(context.Background(), "share-abc", f.stages[0].ID)
	require.NoError(t, err)

	assert.Equal(t, "acct_123", got.DestinationAccount)
	assert.Equal(t, int64(5000), got.ApplicationFee)
}

func TestCreateStagePaymentIntent_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("locked stage", func(t *testing.T) {
		_, err := f.svc.CreateStagePaymentIntent(ctx, "share-abc", f.stages[1].ID)
		assert.ErrorIs(t, err, ledger.ErrValidation)
	})

	t.Run("stage of another project", func(t *testing.T) {
		other := models.Stage{ID: uuid.New(), ProjectID: uuid.New(), StageNumber: 1, Status: models.StageActive, PaymentStatus: models.PaymentPending, Amount: 100}
		f.store.AddStage(other)
		_, err := f.svc.CreateStagePaymentIntent(ctx, "share-abc", other.ID)
		assert.ErrorIs(t, err, ledger.ErrNotFound)
	})

	t.Run("already paid", func(t *testing.T) {
		paid := f.stages[0]
		paid.PaymentStatus = models.PaymentReceived
		f.store.AddStage(paid)
		_, err := f.svc.CreateStagePaymentIntent(ctx, "share-abc", paid.ID)
		assert.ErrorIs(t, err, ledger.ErrValidation)
	})
}

func TestCreateExtensionCheckout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var got payments.ExtensionCheckoutInput
	f.processor.extensionCheckout = func(in payments.ExtensionCheckoutInput) (*stripe.CheckoutSession, error) {
		got = in
		return &stripe.CheckoutSession{ID: "cs_new", URL: "https://checkout.stripe.com/cs_new"}, nil
	}

	resp, err := f.svc.CreateExtensionCheckout(ctx, "share-abc", f.stages[0].ID, "https://ok", "https://cancel")
	require.NoError(t, err)
	assert.Equal(t, "cs_new", resp.SessionID)
	assert.Equal(t, int64(15000), got.Amount)
	assert.Equal(t, "Discovery", got.StageName)
	assert.Empty(t, got.DestinationAccount)
	assert.Zero(t, got.ApplicationFee)

	_, err = f.svc.CreateExtensionCheckout(ctx, "share-abc", f.stages[1].ID, "https://ok", "https://cancel")
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestCreateExtensionCheckout_DestinationCharge(t *testing.T) {
	f := newFixture(t)
	profile := f.store.Profile(f.userID)
	profile.StripeConnectAccountID = sql.NullString{String: "acct_123", Valid: true}
	profile.StripeChargesEnabled = true
	f.store.AddProfile(profile)

	var got payments.ExtensionCheckoutInput
	f.processor.extensionCheckout = func(in payments.ExtensionCheckoutInput) (*stripe.CheckoutSession, error) {
		got = in
		return &stripe.CheckoutSession{ID: "cs_new"}, nil
	}

	_, err := f.svc.CreateExtensionCheckout(context.Background(), "share-abc", f.stages[0].ID, "https://ok", "https://cancel")
	require.NoError(t, err)

	assert.Equal(t, "acct_123", got.DestinationAccount)
	assert.Equal(t, int64(1500), got.ApplicationFee)
}

func TestStartConnectOnboarding(t *testing.T) {
	f := newFixture(t)
	created := 0
	f.processor.connectAccount = func(userID uuid.UUID, email string) (*stripe.Account, error) {
		created++
		assert.Equal(t, "freelancer@example.com", email)
		return &stripe.Account{ID: "acct_new"}, nil
	}
	f.processor.accountLink = func(accountID, refreshURL, returnURL string) (*stripe.AccountLink, error) {
		return &stripe.AccountLink{URL: "https://connect.stripe.com/" + accountID}, nil
	}
	svc := services.NewAccountService(f.store, f.processor, nil, "price_default")

	resp, err := svc.StartConnectOnboarding(context.Background(), f.userID, "https://refresh", "https://return")
	require.NoError(t, err)
	assert.Equal(t, "acct_new", resp.AccountID)
	assert.Equal(t, "https://connect.stripe.com/acct_new", resp.URL)

	_, err = svc.StartConnectOnboarding(context.Background(), f.userID, "https://refresh", "https://return")
	require.NoError(t, err)
	assert.Equal(t, 1, created, "account is created once")
}

func TestStartSubscriptionCheckout(t *testing.T) {
	f := newFixture(t)
	var got payments.SubscriptionCheckoutInput
	f.processor.subscriptionCheck = func(in payments.SubscriptionCheckoutInput) (*stripe.CheckoutSession, error) {
		got = in
		return &stripe.CheckoutSession{ID: "cs_sub", URL: "https://checkout.stripe.com/cs_sub"}, nil
	}

	svc := services.NewAccountService(f.store, f.processor, nil, "price_default")
	resp, err := svc.StartSubscriptionCheckout(context.Background(), f.userID, "", "https://ok", "https://cancel")
	require.NoError(t, err)

	assert.Equal(t, "cs_sub", resp.SessionID)
	assert.Equal(t, "price_default", got.PriceID)
	assert.Equal(t, f.userID, got.UserID)

	bare := services.NewAccountService(f.store, f.processor, nil, "")
	_, err = bare.StartSubscriptionCheckout(context.Background(), f.userID, "", "https://ok", "https://cancel")
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestStorageService(t *testing.T) {
	archive := &memArchive{objects: map[string][]byte{}}
	svc := services.NewStorageService(archive, nil)

	svc.Archive("evt_1", []byte(`{"id":"evt_1"}`))
	require.NoError(t, svc.Wait(context.Background()))

	payload, err := svc.Fetch("evt_1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"evt_1"}`, string(payload))

	_, err = svc.Fetch("evt_missing")
	assert.Error(t, err)

	disabled := services.NewStorageService(nil, nil)
	disabled.Archive("evt_1", nil)
	_, err = disabled.Fetch("evt_1")
	assert.ErrorIs(t, err, services.ErrArchiveDisabled)
}

func TestStorageService_StalledStoreDoesNotBlockArchive(t *testing.T) {
	archive := &stalledArchive{release: make(chan struct{}), started: make(chan string, 4)}
	svc := services.NewStorageService(archive, nil, services.WithMaxUploads(1))

	returned := make(chan struct{})
	go func() {
		svc.Archive("evt_1", []byte(`{}`))
		svc.Archive("evt_2", []byte(`{}`))
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("Archive waited on a stalled store")
	}
	assert.Equal(t, "evt_1", <-archive.started)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, svc.Wait(ctx), context.DeadlineExceeded)

	close(archive.release)
	require.NoError(t, svc.Wait(context.Background()))
	assert.Len(t, archive.started, 0, "the second upload is skipped while the only slot is held")

	svc.Archive("evt_3", []byte(`{}`))
	require.NoError(t, svc.Wait(context.Background()))
	assert.Equal(t, "evt_3", <-archive.started)
}

type memArchive struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memArchive) ArchiveEvent(eventID string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[eventID] = payload
	return "events/" + eventID + ".json", nil
}

func (m *memArchive) FetchEvent(eventID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	payload, ok := m.objects[eventID]
	if !ok {
		return nil, errors.New("object not found")
	}
	return payload, nil
}

type stalledArchive struct {
	release chan struct{}
	started chan string
}

func (s *stalledArchive) ArchiveEvent(eventID string, payload []byte) (string, error) {
	s.started <- eventID
	<-s.release
	return "events/" + eventID + ".json", nil
}

func (s *stalledArchive) FetchEvent(eventID string) ([]byte, error) {
	return nil, errors.New("object not found")
}
