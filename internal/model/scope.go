package model

import "github.com/google/uuid"

type ScopeType string

const (
	ScopeAll      ScopeType = "ALL"
	ScopeCustomer ScopeType = "CUSTOMER"
)

type Scope struct {
	Type       ScopeType
	CustomerID *uuid.UUID
}

func ScopeFor(principal Principal) Scope {
	if principal.IsAdmin() {
		return Scope{Type: ScopeAll}
	}
	return Scope{Type: ScopeCustomer, CustomerID: principal.CustomerID}
}

func (s Scope) AllowsCustomer(customerID string) bool {
	if s.Type == ScopeAll {
		return true
	}
	if s.CustomerID == nil || customerID == "" {
		return false
	}
	return s.CustomerID.String() == customerID
}

// AllowsDevice admits devices the platform returns without a customer tag;
// the platform already scopes them by the caller's token.
func (s Scope) AllowsDevice(device Device) bool {
	if device.CustomerID == "" {
		return true
	}
	return s.AllowsCustomer(device.CustomerID)
}
