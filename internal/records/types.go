// Package records defines the client-record domain model and the typed
// client for the upstream records API.
package records

import "time"

// Status is the lifecycle state of a client record.
type Status string

const (
	StatusInProgress            Status = "IN_PROGRESS"
	StatusAwaitingAdmin         Status = "AWAITING_ADMIN_VALIDATION"
	StatusAwaitingSuperAdmin    Status = "AWAITING_SUPERADMIN_VALIDATION"
	StatusBeingModified         Status = "BEING_MODIFIED"
	StatusRejected              Status = "REJECTED"
	StatusValidated             Status = "VALIDATED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusInProgress, StatusAwaitingAdmin, StatusAwaitingSuperAdmin,
		StatusBeingModified, StatusRejected, StatusValidated:
		return true
	}
	return false
}

// Terminal reports whether the record can transition no further.
// REJECTED and BEING_MODIFIED are re-enterable; only VALIDATED is final.
func (s Status) Terminal() bool {
	return s == StatusValidated
}

// Action is a requested workflow transition.
type Action string

const (
	ActionSubmit        Action = "submit"
	ActionValidateAdmin Action = "validateAsAdmin"
	ActionValidateSuper Action = "validateAsSuperAdmin"
	ActionReject        Action = "reject"
	ActionEdit          Action = "edit"
	ActionDelete        Action = "delete"
)

// Record is a client record as returned by the upstream API.
// CreatorID is immutable after creation; Status changes only through
// accepted workflow transitions.
type Record struct {
	ID                    string     `json:"id"`
	CreatorID             string     `json:"creator_id"`
	Status                Status     `json:"status"`
	AdminValidatedAt      *time.Time `json:"admin_validated_at,omitempty"`
	SuperAdminValidatedAt *time.Time `json:"super_admin_validated_at,omitempty"`
	RejectionReason       string     `json:"rejection_reason,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// Page is one page of a record listing.
type Page struct {
	Records  []Record `json:"records"`
	Total    int      `json:"total"`
	Page     int      `json:"page"`
	PageSize int      `json:"page_size"`
}
