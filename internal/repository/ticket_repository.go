package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/approval-service/internal/domain"
)

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	Update(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id int64) (*domain.Ticket, error)
	// GetForUpdate locks the ticket row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id int64) (*domain.Ticket, error)
	ListByRequester(ctx context.Context, requesterID int64, limit, offset int) ([]domain.Ticket, error)
	// ListAwaitingApprover returns pending tickets holding a pending event for the
	// approver at the ticket's active step. Tickets of legacyTypes services match
	// at any step order.
	ListAwaitingApprover(ctx context.Context, approverID int64, legacyTypes []string, limit, offset int) ([]domain.Ticket, error)
}

type ticketRepository struct {
	db DBTX
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(db DBTX) TicketRepository {
	return &ticketRepository{db: db}
}

const ticketColumns = `t.id, t.external_key, t.service_id, t.status, t.requester_id, t.assigned_team_id, t.assignee_id,
               t.current_step, t.details, t.reject_reason, t.fulfillment_comment, t.created_at, t.updated_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	details, err := marshalDetails(ticket.Details)
	if err != nil {
		return err
	}
	const query = `
        INSERT INTO tickets (external_key, service_id, status, requester_id, assigned_team_id, assignee_id, current_step, details)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        RETURNING id, created_at, updated_at`
	return r.db.QueryRow(ctx, query,
		ticket.ExternalKey,
		ticket.ServiceID,
		ticket.Status,
		ticket.RequesterID,
		ticket.AssignedTeamID,
		ticket.AssigneeID,
		ticket.CurrentStep,
		details,
	).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt)
}

func (r *ticketRepository) Update(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        UPDATE tickets SET status=$1, assigned_team_id=$2, assignee_id=$3, current_step=$4,
            reject_reason=$5, fulfillment_comment=$6, updated_at=NOW()
        WHERE id=$7
        RETURNING updated_at`
	return r.db.QueryRow(ctx, query,
		ticket.Status,
		ticket.AssignedTeamID,
		ticket.AssigneeID,
		ticket.CurrentStep,
		ticket.RejectReason,
		ticket.FulfillmentComment,
		ticket.ID,
	).Scan(&ticket.UpdatedAt)
}

func (r *ticketRepository) GetByID(ctx context.Context, id int64) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets t WHERE t.id=$1`
	return scanTicket(r.db.QueryRow(ctx, query, id))
}

func (r *ticketRepository) GetForUpdate(ctx context.Context, id int64) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets t WHERE t.id=$1 FOR UPDATE`
	return scanTicket(r.db.QueryRow(ctx, query, id))
}

func (r *ticketRepository) ListByRequester(ctx context.Context, requesterID int64, limit, offset int) ([]domain.Ticket, error) {
	limit, offset = normalizePage(limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM tickets t WHERE t.requester_id=$1
             ORDER BY t.updated_at DESC LIMIT %d OFFSET %d`, ticketColumns, limit, offset)

	rows, err := r.db.Query(ctx, query, requesterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) ListAwaitingApprover(ctx context.Context, approverID int64, legacyTypes []string, limit, offset int) ([]domain.Ticket, error) {
	limit, offset = normalizePage(limit, offset)
	if legacyTypes == nil {
		legacyTypes = []string{}
	}
	query := fmt.Sprintf(`SELECT %s FROM tickets t
             JOIN services s ON s.id = t.service_id
             WHERE t.status = $2 AND EXISTS (
                 SELECT 1 FROM approval_events ae
                 WHERE ae.ticket_id = t.id AND ae.approver_id = $1 AND ae.status = $3
                   AND (ae.step_order = t.current_step OR LOWER(s.service_type) = ANY($4))
             )
             ORDER BY t.created_at ASC LIMIT %d OFFSET %d`, ticketColumns, limit, offset)

	rows, err := r.db.Query(ctx, query, approverID, domain.TicketStatusPending, domain.ApprovalStatusPending, legacyTypes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var (
		ticket  domain.Ticket
		details []byte
	)
	if err := row.Scan(
		&ticket.ID,
		&ticket.ExternalKey,
		&ticket.ServiceID,
		&ticket.Status,
		&ticket.RequesterID,
		&ticket.AssignedTeamID,
		&ticket.AssigneeID,
		&ticket.CurrentStep,
		&details,
		&ticket.RejectReason,
		&ticket.FulfillmentComment,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &ticket.Details); err != nil {
			return nil, fmt.Errorf("decode ticket details: %w", err)
		}
	}
	return &ticket, nil
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

func marshalDetails(details map[string]string) ([]byte, error) {
	if details == nil {
		return []byte("{}"), nil
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("encode ticket details: %w", err)
	}
	return raw, nil
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
