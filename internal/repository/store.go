package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Store groups the repositories that share one connection or transaction.
type Store interface {
	Tickets() TicketRepository
	Approvals() ApprovalRepository
	Workflows() WorkflowRepository
	Directory() DirectoryRepository
	Triggers() TriggerRepository
	Outbox() OutboxRepository
	History() TicketHistoryRepository

	// WithinTx runs fn against a transactional Store. The transaction commits
	// only when fn returns nil. Nested calls join the outer transaction.
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}

type pgStore struct {
	pool *pgxpool.Pool
	db   DBTX
	inTx bool
}

// NewStore builds a Store backed by the pool.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool, db: pool}
}

func (s *pgStore) Tickets() TicketRepository { return NewTicketRepository(s.db) }
func (s *pgStore) Approvals() ApprovalRepository { return NewApprovalRepository(s.db) }
func (s *pgStore) Workflows() WorkflowRepository { return NewWorkflowRepository(s.db) }
func (s *pgStore) Directory() DirectoryRepository { return NewDirectoryRepository(s.db) }
func (s *pgStore) Triggers() TriggerRepository { return NewTriggerRepository(s.db) }
func (s *pgStore) Outbox() OutboxRepository { return NewOutboxRepository(s.db) }
func (s *pgStore) History() TicketHistoryRepository { return NewTicketHistoryRepository(s.db) }

func (s *pgStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if s.pool == nil {
		return fmt.Errorf("begin tx: postgres pool not configured")
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgStore{pool: s.pool, db: tx, inTx: true}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
