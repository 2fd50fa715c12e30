package supabase

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	postgrest "github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"
	"milestage-backend/internal/ledger"
	"milestage-backend/internal/models"
)

// PortalClient reads the client portal view through PostgREST.
type PortalClient struct {
	client *supabase.Client
}

func NewPortalClient(client *supabase.Client) *PortalClient {
	return &PortalClient{client: client}
}

type projectRow struct {
	ID              uuid.UUID `json:"id"`
	UserID          uuid.UUID `json:"user_id"`
	Name            string    `json:"name"`
	ClientName      string    `json:"client_name"`
	ClientEmail     string    `json:"client_email"`
	Currency        string    `json:"currency"`
	ShareCode       string    `json:"share_code"`
	StripeAccountID *string   `json:"stripe_account_id"`
	ChargesEnabled  bool      `json:"charges_enabled"`
	PayoutsEnabled  bool      `json:"payouts_enabled"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type stageRow struct {
	ID                  uuid.UUID  `json:"id"`
	ProjectID           uuid.UUID  `json:"project_id"`
	StageNumber         int        `json:"stage_number"`
	Name                string     `json:"name"`
	Amount              float64    `json:"amount"`
	Currency            string     `json:"currency"`
	Status              string     `json:"status"`
	PaymentStatus       string     `json:"payment_status"`
	ExtensionPrice      *float64   `json:"extension_price"`
	AdditionalRevisions int        `json:"additional_revisions"`
	PaymentReceivedAt   *time.Time `json:"payment_received_at"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

func toMinor(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

func (r projectRow) model() *models.Project {
	p := &models.Project{
		ID:             r.ID,
		UserID:         r.UserID,
		Name:           r.Name,
		ClientName:     r.ClientName,
		ClientEmail:    r.ClientEmail,
		Currency:       r.Currency,
		ShareCode:      r.ShareCode,
		ChargesEnabled: r.ChargesEnabled,
		PayoutsEnabled: r.PayoutsEnabled,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.StripeAccountID != nil {
		p.StripeAccountID = sql.NullString{String: *r.StripeAccountID, Valid: true}
	}
	return p
}

func (r stageRow) model() models.Stage {
	s := models.Stage{
		ID:                  r.ID,
		ProjectID:           r.ProjectID,
		StageNumber:         r.StageNumber,
		Name:                r.Name,
		Amount:              toMinor(r.Amount),
		Currency:            r.Currency,
		Status:              r.Status,
		PaymentStatus:       r.PaymentStatus,
		AdditionalRevisions: r.AdditionalRevisions,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
	if r.ExtensionPrice != nil {
		s.ExtensionPrice = sql.NullInt64{Int64: toMinor(*r.ExtensionPrice), Valid: true}
	}
	if r.PaymentReceivedAt != nil {
		s.PaymentReceivedAt = sql.NullTime{Time: *r.PaymentReceivedAt, Valid: true}
	}
	return s
}

func (p *PortalClient) ProjectByShareCode(ctx context.Context, shareCode string) (*models.Project, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rows []projectRow
	_, err := p.client.From("projects").
		Select("*", "", false).
		Eq("share_code", shareCode).
		Limit(1, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to get project by share code: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("project with share code %s: %w", shareCode, ledger.ErrNotFound)
	}

	return rows[0].model(), nil
}

// StagesByProject returns the project's stages ordered by stage number.
func (p *PortalClient) StagesByProject(ctx context.Context, projectID uuid.UUID) ([]models.Stage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rows []stageRow
	_, err := p.client.From("stages").
		Select("*", "", false).
		Eq("project_id", projectID.String()).
		Order("stage_number", &postgrest.OrderOpts{Ascending: true}).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list stages: %w", err)
	}

	stages := make([]models.Stage, 0, len(rows))
	for _, r := range rows {
		stages = append(stages, r.model())
	}
	return stages, nil
}
