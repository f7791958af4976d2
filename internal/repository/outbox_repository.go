package repository

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/approval-service/internal/domain"
)

// ClaimParams bounds one relay poll.
type ClaimParams struct {
	Now         time.Time
	Limit       int
	MaxAttempts int
	// Rows locked before LockExpiry are considered abandoned and reclaimed.
	LockExpiry time.Time
}

// OutboxRepository stores trigger dispatches until the relay publishes them.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg *domain.OutboxMessage) error
	// Claim locks due messages in sequence order and bumps their attempt count.
	// A message waits while an earlier message of the same ticket is being
	// retried or is in flight.
	Claim(ctx context.Context, params ClaimParams) ([]domain.OutboxMessage, error)
	Ack(ctx context.Context, id uuid.UUID, at time.Time) error
	Nack(ctx context.Context, id uuid.UUID, availableAt time.Time, lastError string) error
	// Release unlocks a claimed message without spending its attempt.
	Release(ctx context.Context, id uuid.UUID) error
}

type outboxRepository struct {
	db DBTX
}

// NewOutboxRepository constructs repository.
func NewOutboxRepository(db DBTX) OutboxRepository {
	return &outboxRepository{db: db}
}

func (r *outboxRepository) Enqueue(ctx context.Context, msg *domain.OutboxMessage) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.EventID == uuid.Nil {
		msg.EventID = uuid.New()
	}
	payload := msg.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	const query = `
        INSERT INTO trigger_outbox (id, event_id, ticket_id, service_id, trigger_event, payload)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING sequence, available_at, created_at`
	return r.db.QueryRow(ctx, query,
		msg.ID,
		msg.EventID,
		msg.TicketID,
		msg.ServiceID,
		msg.TriggerEvent,
		[]byte(payload),
	).Scan(&msg.Sequence, &msg.AvailableAt, &msg.CreatedAt)
}

func (r *outboxRepository) Claim(ctx context.Context, params ClaimParams) ([]domain.OutboxMessage, error) {
	const query = `
        WITH picked AS (
            SELECT id FROM trigger_outbox
            WHERE published_at IS NULL
              AND attempts < $2
              AND available_at <= $1
              AND (locked_at IS NULL OR locked_at < $3)
              AND NOT EXISTS (
                  SELECT 1 FROM trigger_outbox prior
                  WHERE prior.ticket_id = trigger_outbox.ticket_id
                    AND prior.sequence < trigger_outbox.sequence
                    AND prior.published_at IS NULL
                    AND prior.attempts > 0
                    AND prior.attempts < $2
              )
            ORDER BY sequence ASC
            LIMIT $4
            FOR UPDATE SKIP LOCKED
        )
        UPDATE trigger_outbox o SET locked_at=$1, attempts=o.attempts + 1
        FROM picked WHERE o.id = picked.id
        RETURNING o.id, o.event_id, o.ticket_id, o.service_id, o.trigger_event, o.payload,
                  o.sequence, o.attempts, o.available_at, o.last_error, o.created_at`
	rows, err := r.db.Query(ctx, query, params.Now, params.MaxAttempts, params.LockExpiry, params.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.OutboxMessage
	for rows.Next() {
		var (
			msg     domain.OutboxMessage
			payload []byte
		)
		if err := rows.Scan(
			&msg.ID,
			&msg.EventID,
			&msg.TicketID,
			&msg.ServiceID,
			&msg.TriggerEvent,
			&payload,
			&msg.Sequence,
			&msg.Attempts,
			&msg.AvailableAt,
			&msg.LastError,
			&msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		msg.Payload = payload
		result = append(result, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// UPDATE ... RETURNING does not keep the CTE order.
	sort.Slice(result, func(i, j int) bool { return result[i].Sequence < result[j].Sequence })
	return result, nil
}

func (r *outboxRepository) Ack(ctx context.Context, id uuid.UUID, at time.Time) error {
	const query = `UPDATE trigger_outbox SET published_at=$1, locked_at=NULL, last_error=NULL WHERE id=$2`
	_, err := r.db.Exec(ctx, query, at, id)
	return err
}

func (r *outboxRepository) Nack(ctx context.Context, id uuid.UUID, availableAt time.Time, lastError string) error {
	const query = `UPDATE trigger_outbox SET locked_at=NULL, available_at=$1, last_error=$2 WHERE id=$3`
	_, err := r.db.Exec(ctx, query, availableAt, lastError, id)
	return err
}

func (r *outboxRepository) Release(ctx context.Context, id uuid.UUID) error {
	const query = `UPDATE trigger_outbox SET locked_at=NULL, attempts=GREATEST(attempts - 1, 0) WHERE id=$1`
	_, err := r.db.Exec(ctx, query, id)
	return err
}
