package audit

import (
	"context"
	"log/slog"

	"github.com/advisorlabs/clerk/internal/storage"
	"github.com/advisorlabs/clerk/pkg/models"
)

// RequestInfo carries request-level context onto trail entries when the
// action originated from an HTTP call.
type RequestInfo struct {
	IPAddress string
	UserAgent string
	Endpoint  string
}

// Recorder writes the audit trail. Every surface sanitizes its payload
// before the record is built, and a failed write is logged but never
// surfaced to the caller: auditing must not break the action it describes.
type Recorder struct {
	store  storage.AuditStore
	logger *slog.Logger
}

// NewRecorder creates a Recorder on the given store.
func NewRecorder(store storage.AuditStore, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger.With("component", "audit")}
}

// LogToolExecution records one tool invocation, successful or not.
func (r *Recorder) LogToolExecution(ctx context.Context, user models.UserRef, toolName string, input, result map[string]any, status models.AuditStatus, errMsg string, req *RequestInfo) {
	details := map[string]any{
		"tool_input": SanitizeMap(input),
	}
	if result != nil {
		details["result"] = SanitizeMap(result)
	}
	rec := &models.AuditRecord{
		UserID:       user.ID,
		UserEmail:    user.Email,
		Action:       "tool_execution:" + toolName,
		ResourceType: ResourceTypeFor(toolName),
		Details:      details,
		Status:       status,
		ErrorMessage: errMsg,
	}
	r.write(ctx, rec, req)
}

// LogProactiveAction records an autonomous action taken in response to an
// external event.
func (r *Recorder) LogProactiveAction(ctx context.Context, user models.UserRef, eventType, summary string, details map[string]any) {
	merged := SanitizeMap(details)
	if merged == nil {
		merged = make(map[string]any)
	}
	merged["summary"] = summary
	rec := &models.AuditRecord{
		UserID:       user.ID,
		UserEmail:    user.Email,
		Action:       "proactive:" + eventType,
		ResourceType: "agent",
		Details:      merged,
		Status:       models.AuditSuccess,
	}
	r.write(ctx, rec, nil)
}

// LogOAuthEvent records token lifecycle events for an external provider.
func (r *Recorder) LogOAuthEvent(ctx context.Context, user models.UserRef, provider, event string, details map[string]any) {
	rec := &models.AuditRecord{
		UserID:       user.ID,
		UserEmail:    user.Email,
		Action:       "oauth:" + provider + ":" + event,
		ResourceType: "oauth",
		Details:      SanitizeMap(details),
		Status:       models.AuditSuccess,
	}
	r.write(ctx, rec, nil)
}

// LogUnauthorizedAttempt records a blocked action, consent denials included.
func (r *Recorder) LogUnauthorizedAttempt(ctx context.Context, user models.UserRef, action string, input map[string]any, reason string, req *RequestInfo) {
	rec := &models.AuditRecord{
		UserID:       user.ID,
		UserEmail:    user.Email,
		Action:       "unauthorized:" + action,
		ResourceType: ResourceTypeFor(action),
		Details:      map[string]any{"tool_input": SanitizeMap(input)},
		Status:       models.AuditUnauthorized,
		ErrorMessage: reason,
	}
	r.write(ctx, rec, req)
}

func (r *Recorder) write(ctx context.Context, rec *models.AuditRecord, req *RequestInfo) {
	if req != nil {
		rec.IPAddress = req.IPAddress
		rec.UserAgent = req.UserAgent
		rec.Endpoint = req.Endpoint
	}
	if err := r.store.AppendAudit(ctx, rec); err != nil {
		r.logger.Error("audit write failed",
			"action", rec.Action,
			"user_id", rec.UserID,
			"error", err)
	}
}
