// Package ledgertest provides an in-memory ledger.Store for tests.
package ledgertest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"milestage-backend/internal/ledger"
	"milestage-backend/internal/models"
)

// MemStore mirrors the conditional semantics of the Postgres store.
// Writes counts every statement that changed a row.
type MemStore struct {
	mu         sync.Mutex
	projects   map[uuid.UUID]models.Project
	profiles   map[uuid.UUID]models.UserProfile
	stages     map[uuid.UUID]models.Stage
	extensions []models.Extension
	payments   map[string]models.StagePayment

	Writes int
	// FailWrites makes every write return this error.
	FailWrites error
}

func NewMemStore() *MemStore {
	return &MemStore{
		projects: make(map[uuid.UUID]models.Project),
		profiles: make(map[uuid.UUID]models.UserProfile),
		stages:   make(map[uuid.UUID]models.Stage),
		payments: make(map[string]models.StagePayment),
	}
}

func (m *MemStore) AddProfile(p models.UserProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.SubscriptionStatus == "" {
		p.SubscriptionStatus = models.SubscriptionTrialing
	}
	m.profiles[p.ID] = p
}

func (m *MemStore) AddProject(p models.Project) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[p.ID] = p
}

func (m *MemStore) AddStage(s models.Stage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages[s.ID] = s
}

func (m *MemStore) AddExtension(e models.Extension) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extensions = append(m.extensions, e)
}

// Stage returns a copy of the stored stage.
func (m *MemStore) Stage(id uuid.UUID) models.Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stages[id]
}

func (m *MemStore) Project(id uuid.UUID) models.Project {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.projects[id]
}

func (m *MemStore) Profile(id uuid.UUID) models.UserProfile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profiles[id]
}

func (m *MemStore) Payment(ref string) (models.StagePayment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[ref]
	return p, ok
}

func (m *MemStore) Extensions(stageID uuid.UUID) []models.Extension {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Extension
	for _, e := range m.extensions {
		if e.StageID == stageID {
			out = append(out, e)
		}
	}
	return out
}

func (m *MemStore) GetProject(_ context.Context, projectID uuid.UUID) (*models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[projectID]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", projectID, ledger.ErrNotFound)
	}
	return &p, nil
}

func (m *MemStore) GetProfile(_ context.Context, userID uuid.UUID) (*models.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", userID, ledger.ErrNotFound)
	}
	return &p, nil
}

func (m *MemStore) GetStage(_ context.Context, stageID uuid.UUID) (*models.Stage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stages[stageID]
	if !ok {
		return nil, fmt.Errorf("stage %s: %w", stageID, ledger.ErrNotFound)
	}
	return &s, nil
}

func (m *MemStore) MarkStagePaid(_ context.Context, stageID uuid.UUID, paidAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return false, m.FailWrites
	}
	s, ok := m.stages[stageID]
	if !ok || s.IsPaid() {
		return false, nil
	}
	s.PaymentStatus = models.PaymentReceived
	if !s.PaymentReceivedAt.Valid {
		s.PaymentReceivedAt.Time, s.PaymentReceivedAt.Valid = paidAt, true
	}
	s.UpdatedAt = paidAt
	m.stages[stageID] = s
	m.Writes++
	return true, nil
}

var paymentRank = map[string]int{
	models.StagePaymentPending:  0,
	models.StagePaymentFailed:   1,
	models.StagePaymentPaid:     2,
	models.StagePaymentVerified: 3,
}

func (m *MemStore) UpsertStagePayment(_ context.Context, payment *models.StagePayment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}
	existing, ok := m.payments[payment.StripePaymentIntentID]
	if !ok {
		m.payments[payment.StripePaymentIntentID] = *payment
		m.Writes++
		return nil
	}
	if paymentRank[payment.Status] <= paymentRank[existing.Status] {
		return nil
	}
	existing.Status = payment.Status
	if !existing.PaidAt.Valid && payment.PaidAt.Valid {
		existing.PaidAt = payment.PaidAt
	}
	existing.UpdatedAt = payment.UpdatedAt
	m.payments[payment.StripePaymentIntentID] = existing
	m.Writes++
	return nil
}

func (m *MemStore) StagesByNumber(_ context.Context, projectID uuid.UUID, stageNumber int) ([]models.Stage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Stage
	for _, s := range m.stages {
		if s.ProjectID == projectID && s.StageNumber == stageNumber {
			out = append(out, s)
		}
	}
	return out, nil
}

// StagesForProject returns the project's stages ordered by stage number.
func (m *MemStore) StagesForProject(projectID uuid.UUID) []models.Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Stage
	for _, s := range m.stages {
		if s.ProjectID == projectID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StageNumber < out[j].StageNumber })
	return out
}

func (m *MemStore) ActivateStage(_ context.Context, stageID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return false, m.FailWrites
	}
	s, ok := m.stages[stageID]
	if !ok || s.Status != models.StageLocked {
		return false, nil
	}
	s.Status = models.StageActive
	m.stages[stageID] = s
	m.Writes++
	return true, nil
}

func (m *MemStore) LatestPaidExtension(_ context.Context, stageID uuid.UUID) (*models.Extension, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latestPaidLocked(stageID), nil
}

func (m *MemStore) latestPaidLocked(stageID uuid.UUID) *models.Extension {
	var latest *models.Extension
	for i := range m.extensions {
		e := m.extensions[i]
		if e.StageID != stageID || e.Status != models.ExtensionPaid {
			continue
		}
		if latest == nil || e.CreatedAt.After(latest.CreatedAt) {
			latest = &e
		}
	}
	return latest
}

func (m *MemStore) InsertPaidExtension(_ context.Context, ext *models.Extension) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}
	if m.latestPaidLocked(ext.StageID) != nil {
		return ledger.ErrConflict
	}
	for _, e := range m.extensions {
		if ext.PaymentReference.Valid && e.PaymentReference == ext.PaymentReference {
			return ledger.ErrConflict
		}
		if e.ReferenceCode == ext.ReferenceCode {
			return ledger.ErrConflict
		}
	}
	m.extensions = append(m.extensions, *ext)
	if s, ok := m.stages[ext.StageID]; ok {
		s.AdditionalRevisions += ext.AdditionalRevisions
		m.stages[ext.StageID] = s
	}
	m.Writes++
	return nil
}

func (m *MemStore) GetProfileByConnectAccount(_ context.Context, accountID string) (*models.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.profiles {
		if p.StripeConnectAccountID.Valid && p.StripeConnectAccountID.String == accountID {
			return &p, nil
		}
	}
	return nil, fmt.Errorf("connect account %s: %w", accountID, ledger.ErrNotFound)
}

func (m *MemStore) GetProfileByCustomer(_ context.Context, customerID string) (*models.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.profiles {
		if p.StripeCustomerID.Valid && p.StripeCustomerID.String == customerID {
			return &p, nil
		}
	}
	return nil, fmt.Errorf("customer %s: %w", customerID, ledger.ErrNotFound)
}

func (m *MemStore) UpdateConnectCapabilities(_ context.Context, userID uuid.UUID, caps ledger.Capabilities, connectedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}
	p, ok := m.profiles[userID]
	if !ok {
		return nil
	}
	p.StripeChargesEnabled = caps.ChargesEnabled
	p.StripePayoutsEnabled = caps.PayoutsEnabled
	p.StripeOnboardingCompleted = caps.DetailsSubmitted
	if connectedAt != nil {
		p.StripeConnectedAt.Time, p.StripeConnectedAt.Valid = *connectedAt, true
	}
	m.profiles[userID] = p
	for id, project := range m.projects {
		if project.UserID == userID {
			project.ChargesEnabled = caps.ChargesEnabled
			project.PayoutsEnabled = caps.PayoutsEnabled
			m.projects[id] = project
		}
	}
	m.Writes++
	return nil
}

func (m *MemStore) UpdateSubscriptionStatus(_ context.Context, userID uuid.UUID, status string, updatedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return false, m.FailWrites
	}
	p, ok := m.profiles[userID]
	if !ok {
		return false, nil
	}
	p.SubscriptionStatus = status
	p.SubscriptionUpdatedAt.Time, p.SubscriptionUpdatedAt.Valid = updatedAt, true
	m.profiles[userID] = p
	m.Writes++
	return true, nil
}

func (m *MemStore) SetStripeCustomer(_ context.Context, userID uuid.UUID, customerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return false, m.FailWrites
	}
	p, ok := m.profiles[userID]
	if !ok {
		return false, nil
	}
	p.StripeCustomerID.String, p.StripeCustomerID.Valid = customerID, true
	m.profiles[userID] = p
	m.Writes++
	return true, nil
}

func (m *MemStore) SetConnectAccount(_ context.Context, userID uuid.UUID, accountID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return "", m.FailWrites
	}
	p, ok := m.profiles[userID]
	if !ok {
		return "", fmt.Errorf("profile %s: %w", userID, ledger.ErrNotFound)
	}
	if !p.StripeConnectAccountID.Valid {
		p.StripeConnectAccountID.String, p.StripeConnectAccountID.Valid = accountID, true
		m.profiles[userID] = p
		m.Writes++
	}
	return p.StripeConnectAccountID.String, nil
}

// ProjectByShareCode and StagesByProject serve the portal reads.
func (m *MemStore) ProjectByShareCode(_ context.Context, shareCode string) (*models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.projects {
		if p.ShareCode == shareCode {
			return &p, nil
		}
	}
	return nil, fmt.Errorf("project with share code %s: %w", shareCode, ledger.ErrNotFound)
}

func (m *MemStore) StagesByProject(_ context.Context, projectID uuid.UUID) ([]models.Stage, error) {
	return m.StagesForProject(projectID), nil
}

var _ ledger.Store = (*MemStore)(nil)
