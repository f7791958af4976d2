package domain

// Account is an identity that can request tickets or approve them.
type Account struct {
	ID           int64
	Name         string
	Email        string
	DepartmentID *int64
	RoleID       *int64
	SuperiorID   *int64
	IsActive     bool
}

// Department represents a high-level organizational unit.
type Department struct {
	ID   int64
	Name string
}
