package models

import "time"

// AuditStatus is the recorded outcome of an audited action.
type AuditStatus string

const (
	AuditSuccess      AuditStatus = "success"
	AuditFailure      AuditStatus = "failure"
	AuditUnauthorized AuditStatus = "unauthorized"
)

// AuditRecord is the immutable trail entry for one audited action. Details
// are sanitized before the record is constructed; raw credentials never
// reach storage.
type AuditRecord struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id"`
	UserEmail    string         `json:"user_email,omitempty"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	Status       AuditStatus    `json:"status"`
	ErrorMessage string         `json:"error_message,omitempty"`
	IPAddress    string         `json:"ip_address,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	Endpoint     string         `json:"endpoint,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}
