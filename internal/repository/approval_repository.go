package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/approval-service/internal/domain"
)

// ApprovalRepository persists the per-ticket approval ledger.
type ApprovalRepository interface {
	CreateBatch(ctx context.Context, events []domain.ApprovalEvent) error
	ListByTicket(ctx context.Context, ticketID int64) ([]domain.ApprovalEvent, error)
	// FindPendingForUpdate locks the approver's lowest pending event. A nil
	// stepOrder matches any order.
	FindPendingForUpdate(ctx context.Context, ticketID, approverID int64, stepOrder *int) (*domain.ApprovalEvent, error)
	// MarkApproved reports false when the event was no longer pending.
	MarkApproved(ctx context.Context, eventID int64, comment *string, at time.Time) (bool, error)
	ApproveSiblings(ctx context.Context, ticketID int64, stepOrder int, at time.Time) (int64, error)
	MarkRejected(ctx context.Context, eventID int64, remark string, at time.Time) (bool, error)
	LowestPendingStep(ctx context.Context, ticketID int64) (*int, error)
	Counts(ctx context.Context, ticketID int64) (approved, total int, err error)
}

type approvalRepository struct {
	db DBTX
}

// NewApprovalRepository builds repository.
func NewApprovalRepository(db DBTX) ApprovalRepository {
	return &approvalRepository{db: db}
}

const approvalColumns = `id, ticket_id, approver_id, step_order, status, approved_at, comment, reject_remark,
               step_type, step_value, created_at`

func (r *approvalRepository) CreateBatch(ctx context.Context, events []domain.ApprovalEvent) error {
	if len(events) == 0 {
		return nil
	}
	const query = `
        INSERT INTO approval_events (ticket_id, approver_id, step_order, status, step_type, step_value)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id, created_at`

	batch := &pgx.Batch{}
	for i := range events {
		ev := &events[i]
		batch.Queue(query, ev.TicketID, ev.ApproverID, ev.StepOrder, ev.Status, ev.StepType, ev.StepValue).
			QueryRow(func(row pgx.Row) error {
				return row.Scan(&ev.ID, &ev.CreatedAt)
			})
	}
	return r.db.SendBatch(ctx, batch).Close()
}

func (r *approvalRepository) ListByTicket(ctx context.Context, ticketID int64) ([]domain.ApprovalEvent, error) {
	const query = `SELECT ` + approvalColumns + `
        FROM approval_events WHERE ticket_id=$1 ORDER BY step_order ASC, id ASC`
	rows, err := r.db.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ApprovalEvent
	for rows.Next() {
		ev, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ev)
	}
	return result, rows.Err()
}

func (r *approvalRepository) FindPendingForUpdate(ctx context.Context, ticketID, approverID int64, stepOrder *int) (*domain.ApprovalEvent, error) {
	const query = `SELECT ` + approvalColumns + `
        FROM approval_events
        WHERE ticket_id=$1 AND approver_id=$2 AND status=$3 AND ($4::int IS NULL OR step_order=$4)
        ORDER BY step_order ASC, id ASC
        LIMIT 1
        FOR UPDATE`
	return scanApproval(r.db.QueryRow(ctx, query, ticketID, approverID, domain.ApprovalStatusPending, stepOrder))
}

func (r *approvalRepository) MarkApproved(ctx context.Context, eventID int64, comment *string, at time.Time) (bool, error) {
	const query = `
        UPDATE approval_events SET status=$1, approved_at=$2, comment=$3
        WHERE id=$4 AND status=$5`
	cmd, err := r.db.Exec(ctx, query, domain.ApprovalStatusApproved, at, comment, eventID, domain.ApprovalStatusPending)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *approvalRepository) ApproveSiblings(ctx context.Context, ticketID int64, stepOrder int, at time.Time) (int64, error) {
	const query = `
        UPDATE approval_events SET status=$1, approved_at=$2
        WHERE ticket_id=$3 AND step_order=$4 AND status=$5`
	cmd, err := r.db.Exec(ctx, query, domain.ApprovalStatusApproved, at, ticketID, stepOrder, domain.ApprovalStatusPending)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (r *approvalRepository) MarkRejected(ctx context.Context, eventID int64, remark string, at time.Time) (bool, error) {
	const query = `
        UPDATE approval_events SET status=$1, approved_at=$2, reject_remark=$3
        WHERE id=$4 AND status=$5`
	cmd, err := r.db.Exec(ctx, query, domain.ApprovalStatusRejected, at, remark, eventID, domain.ApprovalStatusPending)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *approvalRepository) LowestPendingStep(ctx context.Context, ticketID int64) (*int, error) {
	const query = `SELECT MIN(step_order) FROM approval_events WHERE ticket_id=$1 AND status=$2`
	var step *int
	if err := r.db.QueryRow(ctx, query, ticketID, domain.ApprovalStatusPending).Scan(&step); err != nil {
		return nil, err
	}
	return step, nil
}

func (r *approvalRepository) Counts(ctx context.Context, ticketID int64) (int, int, error) {
	const query = `
        SELECT COUNT(*) FILTER (WHERE status=$2), COUNT(*)
        FROM approval_events WHERE ticket_id=$1`
	var approved, total int
	if err := r.db.QueryRow(ctx, query, ticketID, domain.ApprovalStatusApproved).Scan(&approved, &total); err != nil {
		return 0, 0, err
	}
	return approved, total, nil
}

func scanApproval(row pgx.Row) (*domain.ApprovalEvent, error) {
	var ev domain.ApprovalEvent
	if err := row.Scan(
		&ev.ID,
		&ev.TicketID,
		&ev.ApproverID,
		&ev.StepOrder,
		&ev.Status,
		&ev.ApprovedAt,
		&ev.Comment,
		&ev.RejectRemark,
		&ev.StepType,
		&ev.StepValue,
		&ev.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &ev, nil
}
