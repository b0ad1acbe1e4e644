package model

import (
	"time"

	"github.com/google/uuid"
)

type AuditLog struct {
	ID         uuid.UUID `json:"id" db:"id"`
	UserID     string    `json:"user_id" db:"user_id"`
	Action     string    `json:"action" db:"action"`
	EntityType string    `json:"entity_type" db:"entity_type"`
	EntityID   string    `json:"entity_id" db:"entity_id"`
	Path       string    `json:"path" db:"path"`
	Status     int       `json:"status" db:"status"`
	IPAddress  string    `json:"ip_address" db:"ip_address"`
	UserAgent  string    `json:"user_agent" db:"user_agent"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

const (
	// Action types
	AuditActionCreate = "create"
	AuditActionRead   = "read"
	AuditActionUpdate = "update"
	AuditActionDelete = "delete"
	AuditActionLogin  = "login"
	AuditActionLogout = "logout"

	// Entity types
	AuditEntityPatient     = "patient"
	AuditEntityCondition   = "condition"
	AuditEntityEncounter   = "encounter"
	AuditEntityObservation = "observation"
	AuditEntityImage       = "image"
	AuditEntitySession     = "session"
)

type AuditFilter struct {
	UserID     string
	EntityType string
	EntityID   string
	Since      time.Time
	Limit      int
}
