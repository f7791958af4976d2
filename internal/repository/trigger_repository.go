package repository

import (
	"context"

	"github.com/spec-kit/approval-service/internal/domain"
)

// TriggerRepository reads bindings and appends execution logs.
type TriggerRepository interface {
	ListActiveBindings(ctx context.Context, serviceID int64, event domain.TriggerEvent) ([]domain.TriggerBinding, error)
	InsertExecutionLog(ctx context.Context, entry *domain.TriggerExecutionLog) error
	ListExecutionLogs(ctx context.Context, ticketID int64) ([]domain.TriggerExecutionLog, error)
}

type triggerRepository struct {
	db DBTX
}

// NewTriggerRepository constructs repository.
func NewTriggerRepository(db DBTX) TriggerRepository {
	return &triggerRepository{db: db}
}

func (r *triggerRepository) ListActiveBindings(ctx context.Context, serviceID int64, event domain.TriggerEvent) ([]domain.TriggerBinding, error) {
	const query = `
        SELECT id, service_id, handler_name, trigger_event, execution_order, config, is_active
        FROM trigger_bindings
        WHERE service_id=$1 AND trigger_event=$2 AND is_active
        ORDER BY execution_order ASC, id ASC`
	rows, err := r.db.Query(ctx, query, serviceID, event)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.TriggerBinding
	for rows.Next() {
		var (
			binding domain.TriggerBinding
			config  []byte
		)
		if err := rows.Scan(
			&binding.ID,
			&binding.ServiceID,
			&binding.HandlerName,
			&binding.TriggerEvent,
			&binding.ExecutionOrder,
			&config,
			&binding.IsActive,
		); err != nil {
			return nil, err
		}
		binding.Config = config
		result = append(result, binding)
	}
	return result, rows.Err()
}

func (r *triggerRepository) InsertExecutionLog(ctx context.Context, entry *domain.TriggerExecutionLog) error {
	const query = `
        INSERT INTO trigger_execution_logs (id, ticket_id, handler_name, trigger_event, status, input, output, error_detail, actor_id)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        RETURNING created_at`
	return r.db.QueryRow(ctx, query,
		entry.ID,
		entry.TicketID,
		entry.HandlerName,
		entry.TriggerEvent,
		entry.Status,
		nullableJSON(entry.Input),
		nullableJSON(entry.Output),
		entry.ErrorDetail,
		entry.ActorID,
	).Scan(&entry.CreatedAt)
}

func (r *triggerRepository) ListExecutionLogs(ctx context.Context, ticketID int64) ([]domain.TriggerExecutionLog, error) {
	const query = `
        SELECT id::text, ticket_id, handler_name, trigger_event, status, input, output, error_detail, actor_id, created_at
        FROM trigger_execution_logs WHERE ticket_id=$1 ORDER BY created_at ASC`
	rows, err := r.db.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.TriggerExecutionLog
	for rows.Next() {
		var (
			entry         domain.TriggerExecutionLog
			input, output []byte
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.TicketID,
			&entry.HandlerName,
			&entry.TriggerEvent,
			&entry.Status,
			&input,
			&output,
			&entry.ErrorDetail,
			&entry.ActorID,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		entry.Input = input
		entry.Output = output
		result = append(result, entry)
	}
	return result, rows.Err()
}

// nullableJSON keeps empty payloads as SQL NULL instead of invalid JSON.
func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
