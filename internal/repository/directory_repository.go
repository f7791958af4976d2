package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/approval-service/internal/domain"
)

// DirectoryRepository reads accounts, departments and team membership.
type DirectoryRepository interface {
	GetAccount(ctx context.Context, id int64) (*domain.Account, error)
	GetDepartment(ctx context.Context, id int64) (*domain.Department, error)
	ListTeamMemberIDs(ctx context.Context, teamID int64) ([]int64, error)
	ListActiveAccountIDsByRole(ctx context.Context, roleID int64) ([]int64, error)
	IsTeamMember(ctx context.Context, teamID, accountID int64) (bool, error)
}

type directoryRepository struct {
	db DBTX
}

// NewDirectoryRepository constructs repository.
func NewDirectoryRepository(db DBTX) DirectoryRepository {
	return &directoryRepository{db: db}
}

func (r *directoryRepository) GetAccount(ctx context.Context, id int64) (*domain.Account, error) {
	const query = `
        SELECT id, name, email, department_id, role_id, superior_id, is_active
        FROM accounts WHERE id=$1`
	var acc domain.Account
	if err := r.db.QueryRow(ctx, query, id).Scan(
		&acc.ID,
		&acc.Name,
		&acc.Email,
		&acc.DepartmentID,
		&acc.RoleID,
		&acc.SuperiorID,
		&acc.IsActive,
	); err != nil {
		return nil, err
	}
	return &acc, nil
}

func (r *directoryRepository) GetDepartment(ctx context.Context, id int64) (*domain.Department, error) {
	const query = `SELECT id, name FROM departments WHERE id=$1`
	var dept domain.Department
	if err := r.db.QueryRow(ctx, query, id).Scan(&dept.ID, &dept.Name); err != nil {
		return nil, err
	}
	return &dept, nil
}

func (r *directoryRepository) ListTeamMemberIDs(ctx context.Context, teamID int64) ([]int64, error) {
	const query = `SELECT account_id FROM team_members WHERE team_id=$1 ORDER BY account_id ASC`
	return r.collectIDs(ctx, query, teamID)
}

func (r *directoryRepository) ListActiveAccountIDsByRole(ctx context.Context, roleID int64) ([]int64, error) {
	const query = `SELECT id FROM accounts WHERE role_id=$1 AND is_active ORDER BY id ASC`
	return r.collectIDs(ctx, query, roleID)
}

func (r *directoryRepository) IsTeamMember(ctx context.Context, teamID, accountID int64) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM team_members WHERE team_id=$1 AND account_id=$2)`
	var ok bool
	if err := r.db.QueryRow(ctx, query, teamID, accountID).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

func (r *directoryRepository) collectIDs(ctx context.Context, query string, arg any) ([]int64, error) {
	rows, err := r.db.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}
