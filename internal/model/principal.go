package model

import "github.com/google/uuid"

type UserRole string

const (
	UserRoleAdmin         UserRole = "ADMIN"
	UserRoleCustomerAdmin UserRole = "CUSTOMER_ADMIN"
	UserRoleEngineer      UserRole = "ENGINEER"
)

type Principal struct {
	UserID     uuid.UUID
	CustomerID *uuid.UUID
	Role       UserRole
	Token      string
}

func (p Principal) IsAdmin() bool {
	return p.Role == UserRoleAdmin
}
