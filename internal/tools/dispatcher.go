package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/advisorlabs/clerk/internal/audit"
	"github.com/advisorlabs/clerk/internal/consent"
	"github.com/advisorlabs/clerk/internal/observability"
	"github.com/advisorlabs/clerk/pkg/models"
)

// SensitiveTools lists the actions that require explicit user consent
// before execution.
func SensitiveTools() map[string]bool {
	return map[string]bool{
		"send_email":            true,
		"create_calendar_event": true,
		"create_crm_contact":    true,
		"add_crm_note":          true,
		"create_task":           true,
	}
}

// Dispatcher is the single choke point for tool execution. Every invocation,
// regardless of origin, passes the consent gate for sensitive actions, runs
// the registered handler, and leaves exactly one audit record.
type Dispatcher struct {
	registry  *Registry
	gate      *consent.Gate
	recorder  *audit.Recorder
	sensitive map[string]bool
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// DispatcherConfig wires the dispatcher's collaborators.
type DispatcherConfig struct {
	Registry *Registry
	Gate     *consent.Gate
	Recorder *audit.Recorder
	// Sensitive overrides the default consent-gated tool set when non-nil.
	Sensitive map[string]bool
	Logger    *slog.Logger
	Metrics   *observability.Metrics
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	sensitive := cfg.Sensitive
	if sensitive == nil {
		sensitive = SensitiveTools()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry:  cfg.Registry,
		gate:      cfg.Gate,
		recorder:  cfg.Recorder,
		sensitive: sensitive,
		logger:    logger.With("component", "dispatcher"),
		metrics:   cfg.Metrics,
	}
}

// Execute runs one tool call on behalf of user. It never returns an error:
// every failure mode is reported as a structured Result the model can read.
func (d *Dispatcher) Execute(ctx context.Context, user models.UserRef, name string, input json.RawMessage, req *audit.RequestInfo) *Result {
	start := time.Now()
	inputMap := decodeInputMap(input)

	d.logger.Info("executing tool", "tool", name, "user_id", user.ID)

	if d.sensitive[name] {
		allowed, reason := d.gate.Check(ctx, user.ID, name)
		if !allowed {
			d.metrics.RecordConsentDenial(name)
			d.recorder.LogUnauthorizedAttempt(ctx, user, name, inputMap, reason, req)
			d.metrics.RecordToolExecution(name, "unauthorized", time.Since(start).Seconds())
			return &Result{
				Success:         false,
				Error:           "Consent required: " + reason,
				RequiresConsent: true,
				ActionType:      name,
			}
		}
	}

	result := d.run(ctx, user, name, input)

	status := models.AuditSuccess
	if !result.Success {
		status = models.AuditFailure
	}
	d.recorder.LogToolExecution(ctx, user, name, inputMap, result.ResultMap(), status, result.Error, req)
	d.metrics.RecordToolExecution(name, string(status), time.Since(start).Seconds())
	return result
}

// run resolves and executes the handler, converting every failure mode into
// a Result.
func (d *Dispatcher) run(ctx context.Context, user models.UserRef, name string, input json.RawMessage) (result *Result) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("tool panicked", "tool", name, "panic", r)
			result = Fail(fmt.Sprintf("tool %s failed unexpectedly", name))
		}
	}()

	tool, ok := d.registry.Get(name)
	if !ok {
		return Fail("Unknown tool: " + name)
	}
	if err := d.registry.Validate(name, input); err != nil {
		return Fail(err.Error())
	}

	res, err := tool.Execute(WithUser(ctx, user), input)
	if err != nil {
		d.logger.Error("tool execution failed", "tool", name, "error", err)
		return Fail(err.Error())
	}
	if res == nil {
		return Fail("tool returned no result")
	}
	return res
}

func decodeInputMap(input json.RawMessage) map[string]any {
	if len(input) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(input, &m); err != nil {
		return map[string]any{"_raw": string(input)}
	}
	return m
}
